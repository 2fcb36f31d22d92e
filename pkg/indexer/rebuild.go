package indexer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/task"
)

// RebuildPayload selects the mounts a rebuild job covers. Empty MountIDs
// means every registered mount.
type RebuildPayload struct {
	MountIDs []string `json:"mountIds,omitempty"`

	// MaxDepth bounds the scan depth; 0 means unlimited.
	MaxDepth int `json:"maxDepth,omitempty"`

	// BatchSize overrides the configured flush threshold for this job.
	BatchSize int `json:"batchSize,omitempty"`
}

// RebuildMountStats is one mount's slice of the job stats.
type RebuildMountStats struct {
	MountID string `json:"mountId"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`

	ScannedDirs     int   `json:"scannedDirs"`
	DiscoveredCount int   `json:"discoveredCount"`
	UpsertedCount   int   `json:"upsertedCount"`
	PendingCount    int   `json:"pendingCount"`
	RemovedCount    int64 `json:"removedCount"`
}

// RebuildStats is the progress payload of a rebuild job. The bounded
// totals count mounts; the per-mount counters carry the fine-grained
// numbers.
type RebuildStats struct {
	TotalMounts     int                 `json:"totalMounts"`
	ProcessedMounts int                 `json:"processedMounts"`
	ScannedDirs     int                 `json:"scannedDirs"`
	DiscoveredCount int                 `json:"discoveredCount"`
	UpsertedCount   int                 `json:"upsertedCount"`
	PendingCount    int                 `json:"pendingCount"`
	Mounts          []RebuildMountStats `json:"mounts"`
}

func (s *RebuildStats) recomputeTotals() {
	s.ScannedDirs, s.DiscoveredCount, s.UpsertedCount, s.PendingCount = 0, 0, 0, 0
	for _, m := range s.Mounts {
		s.ScannedDirs += m.ScannedDirs
		s.DiscoveredCount += m.DiscoveredCount
		s.UpsertedCount += m.UpsertedCount
		s.PendingCount += m.PendingCount
	}
}

func (ix *Indexer) rebuildHandler() *task.Handler {
	return &task.Handler{
		Type:            TypeRebuild,
		ValidatePayload: parseRebuildPayload,
		NewStats: func(payload any) any {
			p, _ := payload.(RebuildPayload)
			return RebuildStats{TotalMounts: len(p.MountIDs), Mounts: []RebuildMountStats{}}
		},
		Execute: ix.executeRebuild,
	}
}

func parseRebuildPayload(raw json.RawMessage) (any, error) {
	var p RebuildPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fault.Validation("invalid rebuild payload: %v", err)
		}
	}
	if p.MaxDepth < 0 {
		return nil, fault.Validation("maxDepth cannot be negative")
	}
	if p.BatchSize < 0 {
		return nil, fault.Validation("batchSize cannot be negative")
	}
	return p, nil
}

func (ix *Indexer) executeRebuild(ctx context.Context, job *task.Job, payload any, rc task.RunContext) (res task.Result, err error) {
	start := time.Now()
	defer func() { ix.observeRun(TypeRebuild, start, err) }()

	p, _ := payload.(RebuildPayload)

	mounts, err := ix.selectMounts(p.MountIDs)
	if err != nil {
		return task.Result{}, err
	}
	batchSize := ix.batchSize(p.BatchSize)

	run := newRebuildRun(rc, mounts)
	run.update(true, nil)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(ix.mountConcurrency())
	for i, m := range mounts {
		eg.Go(func() error {
			return ix.rebuildMount(egCtx, rc, run, i, m, job.ID, batchSize, p.MaxDepth)
		})
	}
	groupErr := eg.Wait()

	stats := run.snapshot()
	var removed int64
	for _, m := range stats.Mounts {
		removed += m.RemovedCount
	}
	ix.recordEntries(int64(stats.UpsertedCount), removed)
	if groupErr != nil {
		return task.Result{Stats: stats}, groupErr
	}

	completed, failed := 0, 0
	for _, m := range stats.Mounts {
		switch m.Status {
		case outcomeCompleted:
			completed++
		case outcomeError:
			failed++
		}
	}
	switch {
	case failed == 0:
		return task.Result{Stats: stats}, nil
	case completed == 0:
		return task.Result{Stats: stats}, fault.Upstream("index rebuild failed on every mount", nil, false)
	default:
		return task.Result{Status: task.StatusPartial, Stats: stats}, nil
	}
}

// rebuildMount runs the full protocol for one mount: markIndexing, scan
// under a fresh run id, sweep the stale generation, drop the superseded
// dirty queue, markReady. Failures park the mount in the error state
// without stopping its siblings; only cancellation propagates. A mount
// whose turn comes after cancellation is skipped with its index state
// untouched.
func (ix *Indexer) rebuildMount(ctx context.Context, rc task.RunContext, run *rebuildRun, i int, m *fs.Mount, jobID string, batchSize, maxDepth int) error {
	if err := cancelCheck(ctx, rc, m.ID); err != nil {
		run.finishMount(i, outcomeSkipped, fault.MessageOf(err), 0)
		return err
	}

	run.markRunning(i)
	if err := ix.store.MarkIndexing(ctx, m.ID, jobID); err != nil {
		ix.parkMount(ctx, run, i, m.ID, err)
		return nil
	}

	runID := NewRunID()
	logger.InfoCtx(ctx, "index rebuild started",
		logger.Mount(m.ID),
		logger.RunID(runID),
		logger.JobID(jobID))

	w := &walker{
		store:      ix.store,
		driver:     m.Driver,
		mountID:    m.ID,
		runID:      runID,
		batchSize:  batchSize,
		maxDepth:   maxDepth,
		cancelled:  rc.IsCancelled,
		onProgress: run.progressFor(i),
	}

	if err := w.walk(ctx, "/"); err != nil {
		ix.parkMount(ctx, run, i, m.ID, err)
		if fault.IsKind(err, fault.KindCancelled) {
			return err
		}
		return nil
	}

	removed, err := ix.store.CleanupMountByRunID(ctx, m.ID, runID)
	if err == nil {
		err = ix.store.ClearDirtyByMount(ctx, m.ID)
	}
	if err == nil {
		err = ix.store.MarkReady(ctx, m.ID, runID, time.Now())
	}
	if err != nil {
		ix.parkMount(ctx, run, i, m.ID, err)
		if fault.IsKind(err, fault.KindCancelled) {
			return err
		}
		return nil
	}

	run.finishMount(i, outcomeCompleted, "", removed)
	logger.InfoCtx(ctx, "index rebuild finished",
		logger.Mount(m.ID),
		logger.RunID(runID),
		"upserted", w.upserted,
		"stale_removed", removed)
	return nil
}

// parkMount records a mount failure in the stats and the index state. The
// state write must survive job cancellation, so it runs on a detached
// context.
func (ix *Indexer) parkMount(ctx context.Context, run *rebuildRun, i int, mountID string, cause error) {
	msg := fault.MessageOf(cause)
	if err := ix.store.MarkError(context.WithoutCancel(ctx), mountID, msg); err != nil {
		logger.Warn("failed to record index error state",
			logger.Mount(mountID),
			logger.Err(err))
	}
	run.finishMount(i, outcomeError, msg, 0)
	logger.WarnCtx(ctx, "index rebuild failed",
		logger.Mount(mountID),
		logger.Err(cause))
}

// rebuildRun is the shared, locked stats of one rebuild job.
type rebuildRun struct {
	rc task.RunContext

	mu    sync.Mutex
	stats RebuildStats
	gate  progressGate
}

func newRebuildRun(rc task.RunContext, mounts []*fs.Mount) *rebuildRun {
	stats := RebuildStats{
		TotalMounts: len(mounts),
		Mounts:      make([]RebuildMountStats, len(mounts)),
	}
	for i, m := range mounts {
		stats.Mounts[i] = RebuildMountStats{MountID: m.ID, Status: outcomePending}
	}
	return &rebuildRun{rc: rc, stats: stats, gate: newProgressGate()}
}

// update applies fn under the lock; fn returns how many units of work the
// change represents for the report gate. force bypasses the gate.
func (r *rebuildRun) update(force bool, fn func(*RebuildStats) int) {
	r.mu.Lock()
	units := 0
	if fn != nil {
		units = fn(&r.stats)
	}
	due := r.gate.due(units, force)
	var snap RebuildStats
	if due {
		snap = r.snapshotLocked()
	}
	r.mu.Unlock()

	if due {
		r.rc.UpdateProgress(snap)
	}
}

func (r *rebuildRun) snapshot() RebuildStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *rebuildRun) snapshotLocked() RebuildStats {
	out := r.stats
	out.Mounts = append([]RebuildMountStats(nil), r.stats.Mounts...)
	return out
}

func (r *rebuildRun) markRunning(i int) {
	r.update(false, func(s *RebuildStats) int {
		s.Mounts[i].Status = outcomeRunning
		return 0
	})
}

// progressFor adapts the walker callback onto mount i. Scanned-directory
// deltas drive the report gate.
func (r *rebuildRun) progressFor(i int) walkProgress {
	return func(scanned, discovered, upserted, pending int) {
		r.update(false, func(s *RebuildStats) int {
			m := &s.Mounts[i]
			delta := scanned - m.ScannedDirs
			m.ScannedDirs = scanned
			m.DiscoveredCount = discovered
			m.UpsertedCount = upserted
			m.PendingCount = pending
			s.recomputeTotals()
			return delta
		})
	}
}

func (r *rebuildRun) finishMount(i int, status, errMsg string, removed int64) {
	r.update(true, func(s *RebuildStats) int {
		m := &s.Mounts[i]
		m.Status = status
		m.Error = errMsg
		m.PendingCount = 0
		m.RemovedCount = removed
		s.ProcessedMounts++
		s.recomputeTotals()
		return 1
	})
}
