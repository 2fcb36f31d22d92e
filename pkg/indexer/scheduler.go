package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/index"
	"github.com/gatefs/gatefs/pkg/task"
)

// DefaultSchedulerInterval is how often the scheduler checks the dirty
// queue.
const DefaultSchedulerInterval = 30 * time.Second

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Engine *task.Engine
	Store  index.Store
	Mounts *fs.Registry

	// Interval between queue checks. Default DefaultSchedulerInterval.
	Interval time.Duration

	// Actor submits the jobs. Defaults to the system identity.
	Actor task.Actor

	// Metrics is optional.
	Metrics Metrics
}

// Scheduler keeps the dirty queue drained: each tick submits one
// system-triggered apply job when any mount has rows queued. The job
// type's single-flight create policy turns a still-running previous pass
// into a harmless Conflict.
type Scheduler struct {
	engine   *task.Engine
	store    index.Store
	mounts   *fs.Registry
	interval time.Duration
	actor    task.Actor
	metrics  Metrics

	mu        sync.Mutex
	started   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewScheduler builds a scheduler from the config.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Engine == nil {
		return nil, fault.Validation("task engine is required")
	}
	if cfg.Store == nil {
		return nil, fault.Validation("index store is required")
	}
	if cfg.Mounts == nil {
		return nil, fault.Validation("mount registry is required")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	actor := cfg.Actor
	if actor.UserID == "" {
		actor = task.Actor{UserID: "system", Admin: true}
	}

	return &Scheduler{
		engine:    cfg.Engine,
		store:     cfg.Store,
		mounts:    cfg.Mounts,
		interval:  interval,
		actor:     actor,
		metrics:   cfg.Metrics,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}, nil
}

// Start launches the check loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	logger.Info("starting index reconciliation scheduler", "interval", s.interval.String())

	go func() {
		defer close(s.stoppedCh)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if submitted, err := s.Sweep(ctx); err != nil {
					logger.Warn("index reconciliation check failed", logger.Err(err))
				} else if submitted {
					logger.Debug("submitted dirty index reconciliation job")
				}
			}
		}
	}()
}

// Stop shuts the loop down, waiting up to timeout.
func (s *Scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	select {
	case <-s.stoppedCh:
		logger.Info("index reconciliation scheduler stopped")
	case <-time.After(timeout):
		logger.Warn("index reconciliation scheduler stop timed out")
	}
}

// Sweep runs one check: when any mount has queued dirty rows, it submits
// an apply job over all mounts and reports true. Exposed for tests and for
// the CLI's manual trigger.
func (s *Scheduler) Sweep(ctx context.Context) (bool, error) {
	var depth int64
	for _, id := range s.mounts.IDs() {
		count, err := s.store.CountDirty(ctx, id)
		if err != nil {
			return false, err
		}
		depth += count
	}
	if s.metrics != nil {
		s.metrics.RecordDirtyDepth(depth)
	}
	if depth == 0 {
		return false, nil
	}

	_, err := s.engine.Submit(ctx, s.actor, TypeApplyDirty, nil, task.TriggerSystem)
	if fault.IsKind(err, fault.KindConflict) {
		// a previous pass is still running; its leftovers surface on the
		// next tick
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
