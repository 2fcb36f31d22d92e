package fs

import (
	"context"
	"sort"

	"github.com/gatefs/gatefs/pkg/index"
)

// DefaultMaxOpsPerEvent bounds how many dirty rows one event may produce
// before the mapper degrades to a single subtree upsert.
const DefaultMaxOpsPerEvent = 200

// IndexSink maps invalidation events into search-index dirty rows.
type IndexSink struct {
	store  index.Store
	maxOps int
}

// NewIndexSink builds the sink. maxOps <= 0 selects DefaultMaxOpsPerEvent.
func NewIndexSink(store index.Store, maxOps int) *IndexSink {
	if maxOps <= 0 {
		maxOps = DefaultMaxOpsPerEvent
	}
	return &IndexSink{store: store, maxOps: maxOps}
}

type dirtyOp struct {
	op   index.DirtyOp
	path string
}

// Apply implements EventSink.
func (s *IndexSink) Apply(ctx context.Context, ev Event) error {
	for _, op := range s.mapEvent(ev) {
		item := index.DirtyItem{
			MountID:   ev.MountID,
			FSPath:    op.path,
			Op:        op.op,
			DedupeKey: index.DedupeKey(ev.MountID, op.path, op.op),
		}
		if err := s.store.UpsertDirty(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// mapEvent turns one event into dirty rows. Renames split into delete of the
// old path plus upsert of the new one; batch removals delete row by row.
// Any event past maxOps paths collapses into one upsert of the common parent
// directory: the reconciler rebuilds that subtree instead of the queue
// absorbing thousands of rows.
func (s *IndexSink) mapEvent(ev Event) []dirtyOp {
	paths := normalizePaths(ev.Paths)

	switch {
	case len(paths) == 0:
		return nil

	case ev.Reason == ReasonRename && len(paths) == 2:
		return []dirtyOp{
			{op: index.DirtyOpDelete, path: paths[0]},
			{op: index.DirtyOpUpsert, path: paths[1]},
		}

	case len(paths) > s.maxOps:
		return []dirtyOp{{op: index.DirtyOpUpsert, path: CommonDirectoryPrefix(paths)}}

	case ev.Reason == ReasonBatchRemove:
		ops := make([]dirtyOp, 0, len(paths))
		for _, p := range paths {
			ops = append(ops, dirtyOp{op: index.DirtyOpDelete, path: p})
		}
		return ops

	default:
		ops := make([]dirtyOp, 0, len(paths))
		for _, p := range paths {
			ops = append(ops, dirtyOp{op: index.DirtyOpUpsert, path: p})
		}
		return ops
	}
}

// normalizePaths cleans every path and drops duplicates, preserving order.
// Directory hints (trailing slash) are erased: the reconciler classifies
// paths itself from the index and the backend.
func normalizePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		cleaned := CleanPath(p)
		if _, dup := seen[cleaned]; dup {
			continue
		}
		seen[cleaned] = struct{}{}
		out = append(out, cleaned)
	}
	return out
}

// DirCacheInvalidator drops cached directory listings. A nil or empty dirs
// slice means the whole mount.
type DirCacheInvalidator interface {
	Invalidate(ctx context.Context, mountID string, dirs []string) error
}

// DirCacheSink collapses event paths to their containing directories and
// hands the set to the invalidator. Past maxDirs distinct directories the
// collapse degrades to a mount-level drop.
type DirCacheSink struct {
	invalidator DirCacheInvalidator
	maxDirs     int
}

// NewDirCacheSink builds the sink. maxDirs <= 0 selects
// DefaultMaxOpsPerEvent.
func NewDirCacheSink(inv DirCacheInvalidator, maxDirs int) *DirCacheSink {
	if maxDirs <= 0 {
		maxDirs = DefaultMaxOpsPerEvent
	}
	return &DirCacheSink{invalidator: inv, maxDirs: maxDirs}
}

// Apply implements EventSink.
func (s *DirCacheSink) Apply(ctx context.Context, ev Event) error {
	set := make(map[string]struct{}, len(ev.Paths))
	for _, p := range ev.Paths {
		set[ContainingDirectory(p)] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	if len(set) > s.maxDirs {
		return s.invalidator.Invalidate(ctx, ev.MountID, nil)
	}

	dirs := make([]string, 0, len(set))
	for d := range set {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return s.invalidator.Invalidate(ctx, ev.MountID, dirs)
}
