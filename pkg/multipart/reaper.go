package multipart

import (
	"context"
	"sync"
	"time"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/pkg/upload"
)

// Reaper defaults.
const (
	DefaultReapInterval = time.Minute
	DefaultReapBatch    = 100
)

// ReaperMetrics observes sweep outcomes. Nil disables collection.
type ReaperMetrics interface {
	RecordReaped(n int)
	RecordActiveSessions(n int)
}

// ReaperConfig configures a Reaper.
type ReaperConfig struct {
	Sessions upload.Store

	// Coordinator aborts the sessions the sweep finds.
	Coordinator *Coordinator

	// Interval between sweeps. Default DefaultReapInterval.
	Interval time.Duration

	// Batch bounds how many sessions one sweep takes. Default
	// DefaultReapBatch.
	Batch int

	// Metrics is optional.
	Metrics ReaperMetrics
}

// Reaper periodically aborts active sessions whose deadline passed. Each
// victim is stamped expired first, then aborted through the coordinator so
// the backend upload is dropped and the abort reason recorded.
type Reaper struct {
	sessions    upload.Store
	coordinator *Coordinator
	interval    time.Duration
	batch       int
	metrics     ReaperMetrics

	mu        sync.Mutex
	started   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewReaper builds a reaper from the config.
func NewReaper(cfg ReaperConfig) *Reaper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	batch := cfg.Batch
	if batch <= 0 {
		batch = DefaultReapBatch
	}
	return &Reaper{
		sessions:    cfg.Sessions,
		coordinator: cfg.Coordinator,
		interval:    interval,
		batch:       batch,
		metrics:     cfg.Metrics,
		stopCh:      make(chan struct{}),
		stoppedCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	logger.Info("starting upload session reaper", "interval", r.interval.String())

	go func() {
		defer close(r.stoppedCh)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if reaped, err := r.Sweep(ctx); err != nil {
					logger.Warn("session sweep failed", logger.Err(err))
				} else if reaped > 0 {
					logger.Info("reaped expired upload sessions", "count", reaped)
				}
			}
		}
	}()
}

// Stop shuts the loop down, waiting up to timeout.
func (r *Reaper) Stop(timeout time.Duration) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	close(r.stopCh)
	select {
	case <-r.stoppedCh:
		logger.Info("upload session reaper stopped")
	case <-time.After(timeout):
		logger.Warn("upload session reaper stop timed out")
	}
}

// Sweep runs one pass over expired sessions. Exposed for tests and for the
// CLI's manual sweep.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	expired, err := r.sessions.ListExpiredSessions(ctx, time.Now(), r.batch)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, sess := range expired {
		select {
		case <-ctx.Done():
			return reaped, ctx.Err()
		case <-r.stopCh:
			return reaped, nil
		default:
		}

		if err := r.reapSession(ctx, sess); err != nil {
			logger.Warn("failed to reap expired session",
				logger.UploadID(sess.ID),
				logger.Mount(sess.MountID),
				logger.Err(err))
			continue
		}
		reaped++
	}

	if r.metrics != nil {
		r.metrics.RecordReaped(reaped)
		if active, err := r.sessions.ListActiveSessions(ctx, upload.Filter{}); err == nil {
			r.metrics.RecordActiveSessions(len(active))
		}
	}
	return reaped, nil
}

// reapSession stamps the session expired, then finishes it as aborted. The
// intermediate stamp survives even when the backend abort fails, so a later
// sweep retries already-marked sessions.
func (r *Reaper) reapSession(ctx context.Context, sess *upload.Session) error {
	if !sess.Status.IsTerminal() && sess.Status != upload.StatusExpired {
		expiredStatus := upload.StatusExpired
		if err := r.sessions.UpdateSession(ctx, sess.ID, upload.Patch{Status: &expiredStatus}); err != nil {
			return err
		}
		sess.Status = expiredStatus
	}

	logger.Debug("reaping expired upload session",
		logger.UploadID(sess.ID),
		logger.Mount(sess.MountID),
		logger.Path(sess.FSPath))

	return r.coordinator.abortSession(ctx, sess, AbortReasonExpired)
}
