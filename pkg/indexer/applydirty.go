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
	"github.com/gatefs/gatefs/pkg/index"
	"github.com/gatefs/gatefs/pkg/storage"
	"github.com/gatefs/gatefs/pkg/task"
)

// ApplyDirtyPayload tunes one reconciliation pass. Empty MountIDs means
// every registered mount.
type ApplyDirtyPayload struct {
	MountIDs []string `json:"mountIds,omitempty"`

	// Take bounds how many dirty rows one pass consumes per mount; 0
	// selects the configured default. Leftovers wait for the next pass.
	Take int `json:"take,omitempty"`

	// RebuildDirectorySubtree controls whether a dirty directory upsert
	// rescans its subtree. Nil means true.
	RebuildDirectorySubtree *bool `json:"rebuildDirectorySubtree,omitempty"`

	// MaxDepth bounds subtree rescans; 0 means unlimited.
	MaxDepth int `json:"maxDepth,omitempty"`

	// BatchSize overrides the configured flush threshold for subtree
	// rescans.
	BatchSize int `json:"batchSize,omitempty"`
}

// ApplyMountStats is one mount's slice of an apply job's stats.
type ApplyMountStats struct {
	MountID string `json:"mountId"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`

	Consumed int `json:"consumed"`
	Deleted  int `json:"deleted"`
	Upserted int `json:"upserted"`
	Failed   int `json:"failed"`

	// Remaining is the queue depth after the pass; -1 when unknown.
	Remaining int64 `json:"remaining"`
}

// ApplyDirtyStats is the progress payload of an apply job.
type ApplyDirtyStats struct {
	TotalMounts     int               `json:"totalMounts"`
	ProcessedMounts int               `json:"processedMounts"`
	Consumed        int               `json:"consumed"`
	Deleted         int               `json:"deleted"`
	Upserted        int               `json:"upserted"`
	Failed          int               `json:"failed"`
	Mounts          []ApplyMountStats `json:"mounts"`
}

func (s *ApplyDirtyStats) recomputeTotals() {
	s.Consumed, s.Deleted, s.Upserted, s.Failed = 0, 0, 0, 0
	for _, m := range s.Mounts {
		s.Consumed += m.Consumed
		s.Deleted += m.Deleted
		s.Upserted += m.Upserted
		s.Failed += m.Failed
	}
}

// applyOptions is the resolved per-job tuning.
type applyOptions struct {
	take           int
	batchSize      int
	maxDepth       int
	rebuildSubtree bool
}

// applyOutcome is what one applied row did to the index.
type applyOutcome struct {
	deleted  int
	upserted int
}

func (ix *Indexer) applyDirtyHandler() *task.Handler {
	return &task.Handler{
		Type:            TypeApplyDirty,
		ValidatePayload: parseApplyDirtyPayload,
		NewStats: func(payload any) any {
			p, _ := payload.(ApplyDirtyPayload)
			return ApplyDirtyStats{TotalMounts: len(p.MountIDs), Mounts: []ApplyMountStats{}}
		},
		Execute: ix.executeApplyDirty,
	}
}

func parseApplyDirtyPayload(raw json.RawMessage) (any, error) {
	var p ApplyDirtyPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fault.Validation("invalid apply-dirty payload: %v", err)
		}
	}
	if p.Take < 0 {
		return nil, fault.Validation("take cannot be negative")
	}
	if p.MaxDepth < 0 {
		return nil, fault.Validation("maxDepth cannot be negative")
	}
	if p.BatchSize < 0 {
		return nil, fault.Validation("batchSize cannot be negative")
	}
	return p, nil
}

func (ix *Indexer) executeApplyDirty(ctx context.Context, job *task.Job, payload any, rc task.RunContext) (res task.Result, err error) {
	start := time.Now()
	defer func() { ix.observeRun(TypeApplyDirty, start, err) }()

	p, _ := payload.(ApplyDirtyPayload)

	mounts, err := ix.selectMounts(p.MountIDs)
	if err != nil {
		return task.Result{}, err
	}

	ids := make([]string, len(mounts))
	for i, m := range mounts {
		ids[i] = m.ID
	}
	states, err := ix.store.GetIndexStates(ctx, ids)
	if err != nil {
		return task.Result{}, err
	}

	opts := applyOptions{
		take:           ix.dirtyTake(p.Take),
		batchSize:      ix.batchSize(p.BatchSize),
		maxDepth:       p.MaxDepth,
		rebuildSubtree: p.RebuildDirectorySubtree == nil || *p.RebuildDirectorySubtree,
	}

	run := newApplyRun(rc, mounts)
	run.update(true, nil)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(ix.mountConcurrency())
	for i, m := range mounts {
		eg.Go(func() error {
			// reconciliation trusts only a built index: applying deltas to
			// a missing or half-built one would fabricate state
			if states[m.ID].Status != index.IndexStatusReady {
				run.skipMount(i, SkipReasonNotReady)
				return nil
			}
			return ix.applyMount(egCtx, rc, run, i, m, opts)
		})
	}
	groupErr := eg.Wait()

	stats := run.snapshot()
	ix.recordEntries(int64(stats.Upserted), int64(stats.Deleted))
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
	case failed > 0 && completed == 0:
		return task.Result{Stats: stats}, fault.Upstream("dirty apply failed on every mount", nil, false)
	case failed > 0 || stats.Failed > 0:
		return task.Result{Status: task.StatusPartial, Stats: stats}, nil
	default:
		return task.Result{Stats: stats}, nil
	}
}

// applyMount consumes one batch of dirty rows, serially. Rows that fail
// stay queued for the next pass; rows that applied leave the queue in one
// batch even when the pass is interrupted partway. The mount's index state
// is never touched here: reconciliation failures are not rebuild failures.
func (ix *Indexer) applyMount(ctx context.Context, rc task.RunContext, run *applyRun, i int, m *fs.Mount, opts applyOptions) error {
	run.markRunning(i)

	items, err := ix.store.ListDirtyBatch(ctx, m.ID, opts.take)
	if err != nil {
		run.failMount(i, fault.MessageOf(err))
		return nil
	}
	if len(items) == 0 {
		run.completeMount(i, 0)
		return nil
	}

	logger.InfoCtx(ctx, "applying dirty index rows",
		logger.Mount(m.ID),
		"rows", len(items))

	consumed := make([]string, 0, len(items))
	var interrupted error
	for _, item := range items {
		if err := cancelCheck(ctx, rc, m.ID); err != nil {
			interrupted = err
			break
		}

		out, err := ix.applyItem(ctx, rc, m, item, opts)
		if err != nil {
			if fault.IsKind(err, fault.KindCancelled) {
				interrupted = err
				break
			}
			run.rowFailed(i)
			logger.WarnCtx(ctx, "dirty row apply failed, row stays queued",
				logger.Mount(m.ID),
				logger.Path(item.FSPath),
				"op", string(item.Op),
				logger.Err(err))
			continue
		}

		consumed = append(consumed, item.DedupeKey)
		run.rowApplied(i, out)
	}

	if len(consumed) > 0 {
		if err := ix.store.DeleteDirtyByKeys(context.WithoutCancel(ctx), consumed); err != nil {
			run.failMount(i, fault.MessageOf(err))
			return interrupted
		}
	}
	if interrupted != nil {
		run.failMount(i, fault.MessageOf(interrupted))
		return interrupted
	}

	remaining, err := ix.store.CountDirty(ctx, m.ID)
	if err != nil {
		remaining = -1
	}
	run.completeMount(i, remaining)
	return nil
}

// applyItem reconciles one dirty row against the backend and the index.
func (ix *Indexer) applyItem(ctx context.Context, rc task.RunContext, m *fs.Mount, item index.DirtyItem, opts applyOptions) (applyOutcome, error) {
	switch item.Op {
	case index.DirtyOpDelete:
		return ix.applyDelete(ctx, m.ID, item.FSPath)
	case index.DirtyOpUpsert:
		return ix.applyUpsert(ctx, rc, m, item.FSPath, opts)
	default:
		logger.Warn("consuming dirty row with unknown op",
			logger.Mount(m.ID),
			"op", string(item.Op))
		return applyOutcome{}, nil
	}
}

// applyDelete classifies the path from the index: directories take their
// subtree with them, files and unindexed paths fall back to a single-row
// delete.
func (ix *Indexer) applyDelete(ctx context.Context, mountID, fsPath string) (applyOutcome, error) {
	entry, err := ix.store.GetEntry(ctx, mountID, fsPath)
	switch {
	case err == nil && entry.IsDir:
		if err := ix.store.DeleteByPathPrefix(ctx, mountID, dirPrefix(fsPath)); err != nil {
			return applyOutcome{}, err
		}
	case err != nil && !fault.IsKind(err, fault.KindNotFound):
		return applyOutcome{}, err
	default:
		if err := ix.store.DeleteEntry(ctx, mountID, fsPath); err != nil {
			return applyOutcome{}, err
		}
	}
	return applyOutcome{deleted: 1}, nil
}

// applyUpsert refreshes one path from the backend. A vanished node turns
// the row into a delete; a directory triggers a subtree rescan when the
// payload allows it.
func (ix *Indexer) applyUpsert(ctx context.Context, rc task.RunContext, m *fs.Mount, fsPath string, opts applyOptions) (applyOutcome, error) {
	info, err := m.Driver.Stat(ctx, fsPath)
	if fault.IsKind(err, fault.KindNotFound) {
		return ix.applyDelete(ctx, m.ID, fsPath)
	}
	if err != nil {
		return applyOutcome{}, err
	}

	if !info.IsDir {
		err := ix.store.UpsertEntries(ctx, []index.Entry{entryFromItem(m.ID, *info)}, index.UpsertOptions{})
		if err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{upserted: 1}, nil
	}

	if !opts.rebuildSubtree {
		err := ix.store.UpsertEntries(ctx, []index.Entry{entryFromItem(m.ID, *info)}, index.UpsertOptions{})
		if err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{upserted: 1}, nil
	}

	return ix.rebuildSubtree(ctx, rc, m, *info, opts)
}

// rebuildSubtree rescans one directory under a fresh run id and sweeps the
// descendants the scan did not confirm. The directory row itself carries
// the run id too, or the sweep would take it.
func (ix *Indexer) rebuildSubtree(ctx context.Context, rc task.RunContext, m *fs.Mount, info storage.ItemInfo, opts applyOptions) (applyOutcome, error) {
	runID := NewRunID()
	out := applyOutcome{}

	// the mount root has no row of its own, matching full rebuilds
	if info.Path != "/" {
		err := ix.store.UpsertEntries(ctx, []index.Entry{entryFromItem(m.ID, info)}, index.UpsertOptions{RunID: runID})
		if err != nil {
			return applyOutcome{}, err
		}
		out.upserted++
	}

	w := &walker{
		store:     ix.store,
		driver:    m.Driver,
		mountID:   m.ID,
		runID:     runID,
		batchSize: opts.batchSize,
		maxDepth:  opts.maxDepth,
		cancelled: rc.IsCancelled,
	}
	if err := w.walk(ctx, info.Path); err != nil {
		return applyOutcome{}, err
	}
	out.upserted += w.upserted

	removed, err := ix.store.CleanupPrefixByRunID(ctx, m.ID, dirPrefix(info.Path), runID)
	if err != nil {
		return applyOutcome{}, err
	}
	out.deleted += int(removed)

	logger.DebugCtx(ctx, "dirty subtree rebuilt",
		logger.Mount(m.ID),
		logger.Path(info.Path),
		logger.RunID(runID),
		"upserted", w.upserted,
		"stale_removed", removed)
	return out, nil
}

// dirPrefix turns a directory path into the trailing-slash prefix the
// store's subtree operations expect.
func dirPrefix(fsPath string) string {
	if fsPath == "/" {
		return "/"
	}
	return fsPath + "/"
}

// applyRun is the shared, locked stats of one apply job.
type applyRun struct {
	rc task.RunContext

	mu    sync.Mutex
	stats ApplyDirtyStats
	gate  progressGate
}

func newApplyRun(rc task.RunContext, mounts []*fs.Mount) *applyRun {
	stats := ApplyDirtyStats{
		TotalMounts: len(mounts),
		Mounts:      make([]ApplyMountStats, len(mounts)),
	}
	for i, m := range mounts {
		stats.Mounts[i] = ApplyMountStats{MountID: m.ID, Status: outcomePending}
	}
	return &applyRun{rc: rc, stats: stats, gate: newProgressGate()}
}

func (r *applyRun) update(force bool, fn func(*ApplyDirtyStats) int) {
	r.mu.Lock()
	units := 0
	if fn != nil {
		units = fn(&r.stats)
	}
	due := r.gate.due(units, force)
	var snap ApplyDirtyStats
	if due {
		snap = r.snapshotLocked()
	}
	r.mu.Unlock()

	if due {
		r.rc.UpdateProgress(snap)
	}
}

func (r *applyRun) snapshot() ApplyDirtyStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *applyRun) snapshotLocked() ApplyDirtyStats {
	out := r.stats
	out.Mounts = append([]ApplyMountStats(nil), r.stats.Mounts...)
	return out
}

func (r *applyRun) markRunning(i int) {
	r.update(false, func(s *ApplyDirtyStats) int {
		s.Mounts[i].Status = outcomeRunning
		return 0
	})
}

func (r *applyRun) rowApplied(i int, out applyOutcome) {
	r.update(false, func(s *ApplyDirtyStats) int {
		m := &s.Mounts[i]
		m.Consumed++
		m.Deleted += out.deleted
		m.Upserted += out.upserted
		s.recomputeTotals()
		return 1
	})
}

func (r *applyRun) rowFailed(i int) {
	r.update(false, func(s *ApplyDirtyStats) int {
		s.Mounts[i].Failed++
		s.recomputeTotals()
		return 1
	})
}

func (r *applyRun) skipMount(i int, reason string) {
	r.update(true, func(s *ApplyDirtyStats) int {
		m := &s.Mounts[i]
		m.Status = outcomeSkipped
		m.Reason = reason
		s.ProcessedMounts++
		return 1
	})
}

func (r *applyRun) failMount(i int, msg string) {
	r.update(true, func(s *ApplyDirtyStats) int {
		m := &s.Mounts[i]
		m.Status = outcomeError
		m.Error = msg
		m.Remaining = -1
		s.ProcessedMounts++
		return 1
	})
}

func (r *applyRun) completeMount(i int, remaining int64) {
	r.update(true, func(s *ApplyDirtyStats) int {
		m := &s.Mounts[i]
		m.Status = outcomeCompleted
		m.Remaining = remaining
		s.ProcessedMounts++
		return 1
	})
}
