package fs

import (
	"context"
	"io"
	"time"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/internal/telemetry"
	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/storage"
)

// Metrics is the optional facade operation observer. Nil disables
// collection.
type Metrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)
}

// Config assembles a Facade.
type Config struct {
	Registry *Registry

	// Notifier receives an invalidation event after every successful
	// mutation. Optional.
	Notifier *Notifier

	// Listings memoizes ListDirectory answers. Optional; wire the same
	// cache as a DirCacheSink into the notifier so mutations drop it.
	Listings *ListingCache

	// Metrics is optional.
	Metrics Metrics
}

// Facade routes file operations to mount drivers, enforcing capabilities
// and emitting invalidation events. Paths are mount-rooted; the mount root
// is "/".
type Facade struct {
	registry *Registry
	notifier *Notifier
	listings *ListingCache
	metrics  Metrics
}

// New validates the config and returns the facade.
func New(cfg Config) (*Facade, error) {
	if cfg.Registry == nil {
		return nil, fault.Validation("mount registry is required")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewNotifier()
	}
	return &Facade{
		registry: cfg.Registry,
		notifier: notifier,
		listings: cfg.Listings,
		metrics:  cfg.Metrics,
	}, nil
}

// Registry exposes the mount table for listings and password checks.
func (f *Facade) Registry() *Registry {
	return f.registry
}

func (f *Facade) observe(operation string, start time.Time, err error) {
	if f.metrics != nil {
		f.metrics.ObserveOperation(operation, time.Since(start), err)
	}
}

// traced opens a span and returns a finish func that records the outcome on
// both the span and the metrics collector.
func (f *Facade) traced(ctx context.Context, operation, spanOp, mountID, fsPath string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := telemetry.StartFSSpan(ctx, spanOp, mountID, fsPath)
	return ctx, func(err error) {
		telemetry.RecordError(ctx, err)
		span.End()
		f.observe(operation, start, err)
	}
}

// reader resolves a mount whose driver can serve reads.
func (f *Facade) reader(mountID string) (*Mount, error) {
	m, err := f.registry.Get(mountID)
	if err != nil {
		return nil, err
	}
	if !m.Driver.Capabilities().Has(storage.CapReader) {
		return nil, fault.Validation("mount %s does not support reads", mountID)
	}
	return m, nil
}

// writer resolves a mount whose driver can serve mutations.
func (f *Facade) writer(mountID string) (*Mount, error) {
	m, err := f.registry.Get(mountID)
	if err != nil {
		return nil, err
	}
	if !m.Driver.Capabilities().Has(storage.CapWriter) {
		return nil, fault.Validation("mount %s is read-only", mountID)
	}
	return m, nil
}

// List returns the entries of a directory, serving from the listing cache
// when fresh.
func (f *Facade) List(ctx context.Context, mountID, dirPath string) (items []storage.ItemInfo, err error) {
	ctx, finish := f.traced(ctx, "List", "list", mountID, dirPath)
	defer func() { finish(err) }()

	m, err := f.reader(mountID)
	if err != nil {
		return nil, err
	}
	dir := CleanPath(dirPath)

	if f.listings != nil {
		if cached, ok := f.listings.Get(mountID, dir); ok {
			return cached, nil
		}
	}

	items, err = m.Driver.ListDirectory(ctx, dir)
	if err != nil {
		return nil, err
	}
	if f.listings != nil {
		f.listings.Put(mountID, dir, items)
	}
	return items, nil
}

// Stat describes one node.
func (f *Facade) Stat(ctx context.Context, mountID, fsPath string) (info *storage.ItemInfo, err error) {
	ctx, finish := f.traced(ctx, "Stat", "stat", mountID, fsPath)
	defer func() { finish(err) }()

	m, err := f.reader(mountID)
	if err != nil {
		return nil, err
	}
	return m.Driver.Stat(ctx, CleanPath(fsPath))
}

// Download opens a file for reading.
func (f *Facade) Download(ctx context.Context, mountID, fsPath string) (dl *storage.Download, err error) {
	ctx, finish := f.traced(ctx, "Download", "download", mountID, fsPath)
	defer func() { finish(err) }()

	m, err := f.reader(mountID)
	if err != nil {
		return nil, err
	}
	return m.Driver.Download(ctx, CleanPath(fsPath))
}

// Mkdir creates a directory.
func (f *Facade) Mkdir(ctx context.Context, mountID, fsPath string) (err error) {
	ctx, finish := f.traced(ctx, "Mkdir", "mkdir", mountID, fsPath)
	defer func() { finish(err) }()

	m, err := f.writer(mountID)
	if err != nil {
		return err
	}
	p := CleanPath(fsPath)
	if p == "/" {
		return fault.Validation("cannot create the mount root")
	}

	if err := m.Driver.CreateDirectory(ctx, p); err != nil {
		return err
	}

	f.emit(ctx, m, ReasonMkdir, p+"/")
	return nil
}

// Upload stores a file in one call. Multipart uploads go through the upload
// coordinator instead.
func (f *Facade) Upload(ctx context.Context, mountID, fsPath string, body io.Reader, size int64, mimeType string) (err error) {
	ctx, finish := f.traced(ctx, "Upload", "upload", mountID, fsPath)
	defer func() { finish(err) }()

	m, err := f.writer(mountID)
	if err != nil {
		return err
	}
	p := CleanPath(fsPath)
	if p == "/" {
		return fault.Validation("upload target must be a file path")
	}

	if err := m.Driver.Upload(ctx, p, body, size, mimeType); err != nil {
		return err
	}

	f.emit(ctx, m, ReasonUpload, p)
	return nil
}

// Rename moves a node, directories included.
func (f *Facade) Rename(ctx context.Context, mountID, oldPath, newPath string) (err error) {
	ctx, finish := f.traced(ctx, "Rename", "rename", mountID, oldPath)
	defer func() { finish(err) }()

	m, err := f.writer(mountID)
	if err != nil {
		return err
	}
	op, np := CleanPath(oldPath), CleanPath(newPath)
	if op == "/" || np == "/" {
		return fault.Validation("cannot rename the mount root")
	}
	if op == np {
		return fault.Validation("rename target equals the source")
	}

	info, err := m.Driver.Stat(ctx, op)
	if err != nil {
		return err
	}

	if err := m.Driver.Rename(ctx, op, np); err != nil {
		return err
	}

	if info.IsDir {
		f.emit(ctx, m, ReasonRename, op+"/", np+"/")
	} else {
		f.emit(ctx, m, ReasonRename, op, np)
	}
	return nil
}

// Copy duplicates a node, directories included.
func (f *Facade) Copy(ctx context.Context, mountID, srcPath, dstPath string) (err error) {
	ctx, finish := f.traced(ctx, "Copy", "copy", mountID, srcPath)
	defer func() { finish(err) }()

	m, err := f.writer(mountID)
	if err != nil {
		return err
	}
	sp, dp := CleanPath(srcPath), CleanPath(dstPath)
	if sp == "/" || dp == "/" {
		return fault.Validation("cannot copy the mount root")
	}
	if sp == dp {
		return fault.Validation("copy target equals the source")
	}

	info, err := m.Driver.Stat(ctx, sp)
	if err != nil {
		return err
	}

	if err := m.Driver.Copy(ctx, sp, dp); err != nil {
		return err
	}

	if info.IsDir {
		f.emit(ctx, m, ReasonCopy, dp+"/")
	} else {
		f.emit(ctx, m, ReasonCopy, dp)
	}
	return nil
}

// RemoveBatch deletes each path independently and reports per-path outcomes.
// Only paths that actually went away feed the invalidation event.
func (f *Facade) RemoveBatch(ctx context.Context, mountID string, paths []string) (results []storage.RemoveResult, err error) {
	ctx, finish := f.traced(ctx, "RemoveBatch", "remove", mountID, "")
	defer func() { finish(err) }()

	m, err := f.writer(mountID)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fault.Validation("no paths to remove")
	}

	cleaned := make([]string, len(paths))
	for i, p := range paths {
		cleaned[i] = CleanPath(p)
	}

	results, err = m.Driver.RemoveBatch(ctx, cleaned)
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(results))
	for _, res := range results {
		if res.Err == nil {
			removed = append(removed, res.Path)
		}
	}
	if len(removed) > 0 {
		f.emit(ctx, m, ReasonBatchRemove, removed...)
	}
	return results, nil
}

func (f *Facade) emit(ctx context.Context, m *Mount, reason Reason, paths ...string) {
	logger.DebugCtx(ctx, "fs mutation committed",
		logger.Mount(m.ID),
		"reason", string(reason),
		"paths", len(paths))

	f.notifier.Emit(ctx, Event{
		MountID:         m.ID,
		StorageConfigID: m.StorageConfigID,
		Paths:           paths,
		Reason:          reason,
	})
}
