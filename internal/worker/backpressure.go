package worker

import (
	"context"
	"sync"
	"time"

	"github.com/beyonder07/XenoCrm-sub001/internal/pkg/logger"
)

// QueueDepthFunc reports the current depth of the broker's outbound queue.
// broker.RedisBroker.OutboundLen satisfies it.
type QueueDepthFunc func(ctx context.Context) (int64, error)

// BackpressureMonitor checks outbound queue depth and signals when to pause
// claiming new campaigns. If the vendor API is down, the outbound queue can
// grow unbounded. The monitor pauses claiming when depth exceeds the
// threshold and resumes when it drains to 50% (hysteresis to avoid
// flapping).
type BackpressureMonitor struct {
	depth         QueueDepthFunc
	maxQueueDepth int64
	checkInterval time.Duration
	paused        bool
	log           *logger.Logger
	mu            sync.RWMutex
}

// NewBackpressureMonitor creates a monitor. maxDepth is the queue depth at
// which claiming is paused; if maxDepth <= 0 it defaults to 100,000.
func NewBackpressureMonitor(depth QueueDepthFunc, maxDepth int64) *BackpressureMonitor {
	if maxDepth <= 0 {
		maxDepth = 100000
	}
	return &BackpressureMonitor{
		depth:         depth,
		maxQueueDepth: maxDepth,
		checkInterval: 30 * time.Second,
		log:           logger.Component("Backpressure"),
	}
}

// Start runs the periodic depth check loop. It blocks until ctx is
// cancelled.
func (bp *BackpressureMonitor) Start(ctx context.Context) {
	bp.check(ctx)

	ticker := time.NewTicker(bp.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bp.check(ctx)
		}
	}
}

// IsPaused reports whether claiming should pause.
func (bp *BackpressureMonitor) IsPaused() bool {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.paused
}

func (bp *BackpressureMonitor) check(ctx context.Context) {
	depth, err := bp.depth(ctx)
	if err != nil {
		bp.log.Error("depth check", "error", err.Error())
		return
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()
	switch {
	case !bp.paused && depth > bp.maxQueueDepth:
		bp.paused = true
		bp.log.Warn("pausing claims, queue too deep",
			"depth", depth, "max", bp.maxQueueDepth)
	case bp.paused && depth < bp.maxQueueDepth/2:
		bp.paused = false
		bp.log.Info("resuming claims, queue drained", "depth", depth)
	}
}
