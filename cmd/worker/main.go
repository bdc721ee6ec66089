package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/beyonder07/XenoCrm-sub001/internal/broker"
	"github.com/beyonder07/XenoCrm-sub001/internal/config"
	"github.com/beyonder07/XenoCrm-sub001/internal/pkg/logger"
	"github.com/beyonder07/XenoCrm-sub001/internal/repository/postgres"
	"github.com/beyonder07/XenoCrm-sub001/internal/segmentation"
	"github.com/beyonder07/XenoCrm-sub001/internal/template"
	"github.com/beyonder07/XenoCrm-sub001/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config YAML")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unavailable, falling back to advisory locks", "error", err.Error())
			redisClient = nil
		}
	}

	customers := postgres.NewCustomerRepo(db)
	var evalOpts []segmentation.EvaluatorOption
	if redisClient != nil {
		evalOpts = append(evalOpts, segmentation.WithCache(segmentation.NewRedisCache(redisClient), 5*time.Minute))
	}
	eval := segmentation.NewEvaluator(customers, evalOpts...)
	segments := segmentation.NewStore(postgres.NewSegmentRepo(db), eval)
	campaigns := postgres.NewCampaignRepo(db)
	deliveries := postgres.NewDeliveryRepo(db)

	var msgBroker broker.Broker
	if cfg.Broker.Mode == "redis" {
		if redisClient == nil {
			log.Fatal("broker mode is redis but redis is unavailable")
		}
		msgBroker = broker.NewRedisBroker(redisClient, cfg.Broker.SendTimeout())
	} else {
		logger.Info("using sandbox broker", "failure_rate", cfg.Broker.SandboxFailureRate)
		msgBroker = broker.NewSandboxBroker(cfg.Broker.SandboxFailureRate)
	}

	pool := worker.NewDispatchPool(msgBroker, campaigns, deliveries, customers, template.NewEngine())
	pool.SetWorkers(cfg.Dispatch.Workers)
	pool.SetBatchSize(cfg.Dispatch.BatchSize)
	pool.SetRetryPolicy(cfg.Dispatch.MaxRetries, cfg.Dispatch.RetryBackoff())

	scheduler := worker.NewCampaignScheduler(campaigns, segments, pool)
	scheduler.SetDB(db)
	scheduler.SetRedisClient(redisClient)
	scheduler.SetPollInterval(cfg.Scheduler.PollInterval())
	scheduler.SetBatchLimit(cfg.Scheduler.BatchLimit)
	scheduler.SetClaimTTL(cfg.Scheduler.ClaimTTL())

	bpCtx, cancelBP := context.WithCancel(context.Background())
	defer cancelBP()
	if rb, ok := msgBroker.(*broker.RedisBroker); ok {
		bp := worker.NewBackpressureMonitor(rb.OutboundLen, 0)
		scheduler.SetBackpressure(bp)
		go bp.Start(bpCtx)
	}

	reconciler := worker.NewReceiptReconciler(msgBroker, campaigns, deliveries)
	reconciler.SetWorkers(cfg.Reconciler.Workers)

	// Submission-time rejections settle records without receipts; routing the
	// dispatcher's stats refresh through the reconciler keeps both sides on
	// the same per-campaign lock.
	pool.SetStatsRefresher(reconciler.Recompute)

	if err := reconciler.Start(); err != nil {
		log.Fatalf("start reconciler: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	scheduler.Stop()
	reconciler.Stop()
}
