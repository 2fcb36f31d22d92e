package indexer

import (
	"context"

	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/index"
	"github.com/gatefs/gatefs/pkg/storage"
)

// walkProgress is invoked after every directory listing and after the
// final flush, with the walker's absolute counters.
type walkProgress func(scannedDirs, discovered, upserted, pending int)

// walker BFS-scans one subtree of a mount and batches entry upserts tagged
// with a run id. The subtree root itself is never written; callers add a
// row for it when the protocol needs one.
type walker struct {
	store     index.Store
	driver    storage.Driver
	mountID   string
	runID     string
	batchSize int

	// maxDepth bounds descent below the root; 0 means unlimited. Children
	// of the root sit at depth 1, so maxDepth 1 lists the root only.
	maxDepth int

	// cancelled is polled at every loop iteration and before each flush.
	cancelled func() bool

	onProgress walkProgress

	scannedDirs int
	discovered  int
	upserted    int
	pending     []index.Entry
}

type frame struct {
	path  string
	depth int
}

// walk drains the subtree breadth-first. Revisits are deduplicated so a
// backend echoing a directory twice cannot loop the scan.
func (w *walker) walk(ctx context.Context, root string) error {
	w.pending = make([]index.Entry, 0, w.batchSize)
	queue := []frame{{path: root}}
	visited := map[string]struct{}{root: {}}

	for len(queue) > 0 {
		if err := w.checkCancelled(ctx); err != nil {
			return err
		}

		dir := queue[0]
		queue = queue[1:]

		items, err := w.driver.ListDirectory(ctx, dir.path)
		if err != nil {
			return err
		}
		w.scannedDirs++

		for _, item := range items {
			w.discovered++
			w.pending = append(w.pending, entryFromItem(w.mountID, item))

			if item.IsDir && w.withinDepth(dir.depth+1) {
				if _, seen := visited[item.Path]; !seen {
					visited[item.Path] = struct{}{}
					queue = append(queue, frame{path: item.Path, depth: dir.depth + 1})
				}
			}

			if len(w.pending) >= w.batchSize {
				if err := w.checkCancelled(ctx); err != nil {
					return err
				}
				if err := w.flush(ctx); err != nil {
					return err
				}
			}
		}

		w.report()
	}

	if err := w.flush(ctx); err != nil {
		return err
	}
	w.report()
	return nil
}

func (w *walker) withinDepth(depth int) bool {
	return w.maxDepth <= 0 || depth < w.maxDepth
}

func (w *walker) flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	if err := w.store.UpsertEntries(ctx, w.pending, index.UpsertOptions{RunID: w.runID}); err != nil {
		return err
	}
	w.upserted += len(w.pending)
	w.pending = w.pending[:0]
	return nil
}

func (w *walker) checkCancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return fault.Cancelled("scan of mount %s interrupted", w.mountID)
	}
	if w.cancelled != nil && w.cancelled() {
		return fault.Cancelled("scan of mount %s cancelled", w.mountID)
	}
	return nil
}

func (w *walker) report() {
	if w.onProgress != nil {
		w.onProgress(w.scannedDirs, w.discovered, w.upserted, len(w.pending))
	}
}

// entryFromItem maps a backend listing row to an index row. Zero modified
// times stay zero instead of turning into year-one milliseconds.
func entryFromItem(mountID string, item storage.ItemInfo) index.Entry {
	var modified int64
	if !item.ModifiedAt.IsZero() {
		modified = item.ModifiedAt.UnixMilli()
	}
	return index.Entry{
		MountID:    mountID,
		FSPath:     item.Path,
		Name:       item.Name,
		IsDir:      item.IsDir,
		Size:       item.Size,
		ModifiedMs: modified,
		Mimetype:   item.MimeType,
	}
}
