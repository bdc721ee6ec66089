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

	"github.com/beyonder07/XenoCrm-sub001/internal/api"
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
			logger.Warn("redis unavailable, evaluator cache disabled", "error", err.Error())
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

	// The reconciler is not started here; only its Apply path serves
	// receipts pushed over HTTP. Queue consumption runs in cmd/worker.
	var receiptSource broker.ReceiptSource
	if cfg.Broker.Mode == "redis" && redisClient != nil {
		receiptSource = broker.NewRedisBroker(redisClient, cfg.Broker.SendTimeout())
	} else {
		receiptSource = broker.NewSandboxBroker(cfg.Broker.SandboxFailureRate)
	}
	reconciler := worker.NewReceiptReconciler(receiptSource, campaigns, deliveries)

	server := api.NewServer(cfg.Server.Addr, campaigns, segments, template.NewEngine(), reconciler)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("shutdown: %v", err)
		}
	}
}
