// Package memory implements an in-memory storage driver. It backs unit
// tests and demo mounts; nothing survives a restart.
package memory

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/storage"
)

// DriverType identifies this backend in sessions and mount configs.
const DriverType = "memory"

type object struct {
	data       []byte
	mimeType   string
	modifiedAt time.Time
}

// Driver is an in-memory implementation of storage.Driver.
type Driver struct {
	mu    sync.RWMutex
	files map[string]*object
	dirs  map[string]bool
}

// New creates an empty in-memory driver.
func New() *Driver {
	return &Driver{
		files: make(map[string]*object),
		dirs:  map[string]bool{"/": true},
	}
}

// Type implements storage.Driver.
func (d *Driver) Type() string {
	return DriverType
}

// Capabilities implements storage.Driver.
func (d *Driver) Capabilities() storage.CapabilitySet {
	return storage.NewCapabilitySet(storage.CapReader, storage.CapWriter)
}

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	return p
}

// ensureParents records every ancestor directory of p.
func (d *Driver) ensureParents(p string) {
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		d.dirs[dir] = true
		if dir == "/" {
			return
		}
	}
}

// Exists implements storage.Driver.
func (d *Driver) Exists(_ context.Context, fsPath string) (bool, error) {
	p := normalize(fsPath)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.files[p]; ok {
		return true, nil
	}
	return d.dirs[p], nil
}

// Stat implements storage.Driver.
func (d *Driver) Stat(_ context.Context, fsPath string) (*storage.ItemInfo, error) {
	p := normalize(fsPath)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if obj, ok := d.files[p]; ok {
		return &storage.ItemInfo{
			Name:       path.Base(p),
			Path:       p,
			IsDir:      false,
			Size:       int64(len(obj.data)),
			MimeType:   obj.mimeType,
			ModifiedAt: obj.modifiedAt,
		}, nil
	}
	if d.dirs[p] {
		name := path.Base(p)
		if p == "/" {
			name = "/"
		}
		return &storage.ItemInfo{Name: name, Path: p, IsDir: true}, nil
	}
	return nil, fault.NotFound("path %s does not exist", p)
}

// ListDirectory implements storage.Driver.
func (d *Driver) ListDirectory(_ context.Context, fsPath string) ([]storage.ItemInfo, error) {
	p := normalize(fsPath)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.files[p]; ok {
		return nil, fault.Validation("path %s is not a directory", p)
	}
	if !d.dirs[p] {
		return nil, fault.NotFound("path %s does not exist", p)
	}

	entries := make([]storage.ItemInfo, 0, 8)
	for dir := range d.dirs {
		if dir != "/" && path.Dir(dir) == p && dir != p {
			entries = append(entries, storage.ItemInfo{
				Name:  path.Base(dir),
				Path:  dir,
				IsDir: true,
			})
		}
	}
	for fp, obj := range d.files {
		if path.Dir(fp) == p {
			entries = append(entries, storage.ItemInfo{
				Name:       path.Base(fp),
				Path:       fp,
				IsDir:      false,
				Size:       int64(len(obj.data)),
				MimeType:   obj.mimeType,
				ModifiedAt: obj.modifiedAt,
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Download implements storage.Driver.
func (d *Driver) Download(_ context.Context, fsPath string) (*storage.Download, error) {
	p := normalize(fsPath)

	d.mu.RLock()
	obj, ok := d.files[p]
	if !ok {
		isDir := d.dirs[p]
		d.mu.RUnlock()
		if isDir {
			return nil, fault.Validation("path %s is a directory", p)
		}
		return nil, fault.NotFound("path %s does not exist", p)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	mimeType := obj.mimeType
	modifiedAt := obj.modifiedAt
	d.mu.RUnlock()

	return &storage.Download{
		Size:          int64(len(data)),
		ContentType:   mimeType,
		LastModified:  modifiedAt,
		SupportsRange: true,
		Open: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
		OpenRange: func(_ context.Context, start, end int64) (io.ReadCloser, error) {
			if start < 0 || start >= int64(len(data)) || end < start {
				return nil, fault.Validation("requested range is not satisfiable")
			}
			if end >= int64(len(data)) {
				end = int64(len(data)) - 1
			}
			return io.NopCloser(bytes.NewReader(data[start : end+1])), nil
		},
	}, nil
}

// CreateDirectory implements storage.Driver.
func (d *Driver) CreateDirectory(_ context.Context, fsPath string) error {
	p := normalize(fsPath)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.files[p]; ok {
		return fault.Conflict("path %s is a file", p)
	}
	d.dirs[p] = true
	d.ensureParents(p)
	return nil
}

// Upload implements storage.Driver. Parent directories appear implicitly,
// matching object-store behavior.
func (d *Driver) Upload(_ context.Context, fsPath string, body io.Reader, _ int64, mimeType string) error {
	p := normalize(fsPath)

	data, err := io.ReadAll(body)
	if err != nil {
		return fault.Infrastructure("failed to read upload body", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dirs[p] {
		return fault.Conflict("path %s is a directory", p)
	}
	d.files[p] = &object{data: data, mimeType: mimeType, modifiedAt: time.Now()}
	d.ensureParents(p)
	return nil
}

// Update implements storage.Driver.
func (d *Driver) Update(ctx context.Context, fsPath string, body io.Reader, size int64, mimeType string) error {
	return d.Upload(ctx, fsPath, body, size, mimeType)
}

// Rename implements storage.Driver. Directory renames rewrite the whole
// subtree.
func (d *Driver) Rename(_ context.Context, oldPath, newPath string) error {
	src, dst := normalize(oldPath), normalize(newPath)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.copyLocked(src, dst); err != nil {
		return err
	}
	d.removeLocked(src)
	return nil
}

// Copy implements storage.Driver.
func (d *Driver) Copy(_ context.Context, srcPath, dstPath string) error {
	src, dst := normalize(srcPath), normalize(dstPath)

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.copyLocked(src, dst)
}

func (d *Driver) copyLocked(src, dst string) error {
	if obj, ok := d.files[src]; ok {
		data := make([]byte, len(obj.data))
		copy(data, obj.data)
		d.files[dst] = &object{data: data, mimeType: obj.mimeType, modifiedAt: time.Now()}
		d.ensureParents(dst)
		return nil
	}
	if !d.dirs[src] {
		return fault.NotFound("path %s does not exist", src)
	}

	prefix := src + "/"
	d.dirs[dst] = true
	d.ensureParents(dst)
	for dir := range d.dirs {
		if strings.HasPrefix(dir, prefix) {
			d.dirs[dst+"/"+strings.TrimPrefix(dir, prefix)] = true
		}
	}
	for fp, obj := range d.files {
		if strings.HasPrefix(fp, prefix) {
			data := make([]byte, len(obj.data))
			copy(data, obj.data)
			d.files[dst+"/"+strings.TrimPrefix(fp, prefix)] = &object{
				data:       data,
				mimeType:   obj.mimeType,
				modifiedAt: time.Now(),
			}
		}
	}
	return nil
}

func (d *Driver) removeLocked(p string) {
	delete(d.files, p)
	delete(d.dirs, p)
	prefix := p + "/"
	for dir := range d.dirs {
		if strings.HasPrefix(dir, prefix) {
			delete(d.dirs, dir)
		}
	}
	for fp := range d.files {
		if strings.HasPrefix(fp, prefix) {
			delete(d.files, fp)
		}
	}
}

// RemoveBatch implements storage.Driver.
func (d *Driver) RemoveBatch(_ context.Context, paths []string) ([]storage.RemoveResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	results := make([]storage.RemoveResult, 0, len(paths))
	for _, raw := range paths {
		p := normalize(raw)
		var err error
		switch {
		case p == "/":
			err = fault.Validation("cannot remove the mount root")
		case d.files[p] == nil && !d.dirs[p]:
			err = fault.NotFound("path %s does not exist", p)
		default:
			d.removeLocked(p)
		}
		results = append(results, storage.RemoveResult{Path: raw, Err: err})
	}
	return results, nil
}

// FileCount returns the number of stored files (for testing).
func (d *Driver) FileCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.files)
}

var _ storage.Driver = (*Driver)(nil)
