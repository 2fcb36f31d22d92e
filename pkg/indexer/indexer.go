// Package indexer owns the search-index background jobs: full mount
// rebuilds, dirty-queue reconciliation, and the scheduler that keeps the
// queue drained. Both handlers plug into the task engine and walk mounts
// through their storage drivers directly, so listing caches never feed a
// rebuild stale answers.
package indexer

import (
	"time"

	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/index"
	"github.com/gatefs/gatefs/pkg/task"
)

// Task types owned by this package.
const (
	TypeRebuild    = "fs_index_rebuild"
	TypeApplyDirty = "fs_index_apply_dirty"
)

// Upsert flush thresholds. Payload values outside the clamp are pulled
// back in, not rejected.
const (
	DefaultBatchSize = 200
	MinBatchSize     = 20
	MaxBatchSize     = 1000
)

// DefaultDirtyTake bounds how many dirty rows one apply pass consumes per
// mount. Leftovers wait for the next run.
const DefaultDirtyTake = 500

// DefaultMountConcurrency is how many mounts one job walks in parallel.
const DefaultMountConcurrency = 2

// Progress updates go out every progressUnits units of work or once
// progressInterval elapsed, whichever comes first.
const (
	progressUnits    = 25
	progressInterval = 1500 * time.Millisecond
)

// Per-mount statuses recorded in job stats.
const (
	outcomePending   = "pending"
	outcomeRunning   = "running"
	outcomeCompleted = "completed"
	outcomeError     = "error"
	outcomeSkipped   = "skipped"
)

// SkipReasonNotReady marks mounts the apply pass refused to touch because
// their index has not been built yet.
const SkipReasonNotReady = "index_not_ready"

// Metrics observes index maintenance. Nil disables collection.
type Metrics interface {
	ObserveRun(taskType string, duration time.Duration, err error)
	RecordEntries(op string, n int64)
	RecordDirtyDepth(n int64)
}

// Config tunes both handlers.
type Config struct {
	// BatchSize is the entry upsert flush threshold. 0 selects
	// DefaultBatchSize; other values clamp to [MinBatchSize, MaxBatchSize].
	BatchSize int

	// DirtyTake is the per-mount dirty row budget of one apply pass.
	// 0 selects DefaultDirtyTake.
	DirtyTake int

	// MountConcurrency bounds parallel mount processing within one job.
	// 0 selects DefaultMountConcurrency.
	MountConcurrency int

	// Metrics is optional.
	Metrics Metrics
}

// Indexer builds the index job handlers.
type Indexer struct {
	store  index.Store
	mounts *fs.Registry
	cfg    Config
}

// New validates the dependencies and returns the indexer.
func New(store index.Store, mounts *fs.Registry, cfg Config) (*Indexer, error) {
	if store == nil {
		return nil, fault.Validation("index store is required")
	}
	if mounts == nil {
		return nil, fault.Validation("mount registry is required")
	}
	return &Indexer{store: store, mounts: mounts, cfg: cfg}, nil
}

// Register wires both handlers and their catalog definitions. Index jobs
// are admin-only and single-flight: a second concurrent rebuild would race
// the first one's run-id sweep.
func (ix *Indexer) Register(registry *task.Registry, catalog *task.Catalog) error {
	if err := registry.Register(ix.rebuildHandler()); err != nil {
		return err
	}
	if err := registry.Register(ix.applyDirtyHandler()); err != nil {
		return err
	}

	if err := catalog.Define(task.Definition{
		Type:         TypeRebuild,
		Visibility:   task.VisibilityAdminOnly,
		CreatePolicy: task.CreateSingleFlight,
		TitleKey:     "jobs.fs_index_rebuild",
	}); err != nil {
		return err
	}
	return catalog.Define(task.Definition{
		Type:         TypeApplyDirty,
		Visibility:   task.VisibilityAdminOnly,
		CreatePolicy: task.CreateSingleFlight,
		TitleKey:     "jobs.fs_index_apply_dirty",
	})
}

// selectMounts resolves a payload mount selection. Empty means every
// registered mount; unknown ids fail the whole job up front rather than
// surfacing as per-mount errors mid-run.
func (ix *Indexer) selectMounts(ids []string) ([]*fs.Mount, error) {
	if len(ids) == 0 {
		mounts := ix.mounts.List()
		if len(mounts) == 0 {
			return nil, fault.Validation("no mounts are registered")
		}
		return mounts, nil
	}

	mounts := make([]*fs.Mount, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		m, err := ix.mounts.Get(id)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, m)
	}
	return mounts, nil
}

func (ix *Indexer) batchSize(requested int) int {
	if requested <= 0 {
		requested = ix.cfg.BatchSize
	}
	return clampBatchSize(requested)
}

func (ix *Indexer) dirtyTake(requested int) int {
	if requested > 0 {
		return requested
	}
	if ix.cfg.DirtyTake > 0 {
		return ix.cfg.DirtyTake
	}
	return DefaultDirtyTake
}

func (ix *Indexer) mountConcurrency() int {
	if ix.cfg.MountConcurrency > 0 {
		return ix.cfg.MountConcurrency
	}
	return DefaultMountConcurrency
}

func (ix *Indexer) observeRun(taskType string, start time.Time, err error) {
	if ix.cfg.Metrics != nil {
		ix.cfg.Metrics.ObserveRun(taskType, time.Since(start), err)
	}
}

func (ix *Indexer) recordEntries(upserted, deleted int64) {
	if ix.cfg.Metrics == nil {
		return
	}
	if upserted > 0 {
		ix.cfg.Metrics.RecordEntries("upserted", upserted)
	}
	if deleted > 0 {
		ix.cfg.Metrics.RecordEntries("deleted", deleted)
	}
}

// clampBatchSize pulls a flush threshold into the supported window; zero
// and negatives select the default.
func clampBatchSize(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n < MinBatchSize:
		return MinBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	default:
		return n
	}
}
