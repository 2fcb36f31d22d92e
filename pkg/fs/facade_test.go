package fs

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/storage/memory"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Apply(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) last(t *testing.T) Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.events)
	return r.events[len(r.events)-1]
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestFacade(t *testing.T) (*Facade, *recordingSink, *memory.Driver) {
	t.Helper()

	drv := memory.New()
	reg := NewRegistry()
	require.NoError(t, reg.Add(&Mount{ID: "m1", StorageConfigID: "cfg-1", Driver: drv}))

	sink := &recordingSink{}
	facade, err := New(Config{Registry: reg, Notifier: NewNotifier(sink)})
	require.NoError(t, err)
	return facade, sink, drv
}

func put(t *testing.T, f *Facade, p, content string) {
	t.Helper()
	err := f.Upload(context.Background(), "m1", p, strings.NewReader(content), int64(len(content)), "text/plain")
	require.NoError(t, err)
}

func TestFacadeRequiresRegistry(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestFacadeUploadEmitsEvent(t *testing.T) {
	f, sink, _ := newTestFacade(t)

	put(t, f, "/docs/report.pdf", "content")

	ev := sink.last(t)
	assert.Equal(t, "m1", ev.MountID)
	assert.Equal(t, "cfg-1", ev.StorageConfigID)
	assert.Equal(t, ReasonUpload, ev.Reason)
	assert.Equal(t, []string{"/docs/report.pdf"}, ev.Paths)
}

func TestFacadeMkdirEmitsDirectoryHint(t *testing.T) {
	f, sink, _ := newTestFacade(t)

	require.NoError(t, f.Mkdir(context.Background(), "m1", "/photos"))

	ev := sink.last(t)
	assert.Equal(t, ReasonMkdir, ev.Reason)
	assert.Equal(t, []string{"/photos/"}, ev.Paths)

	err := f.Mkdir(context.Background(), "m1", "/")
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestFacadeRenameEmitsOldAndNew(t *testing.T) {
	f, sink, _ := newTestFacade(t)
	put(t, f, "/docs/old.txt", "x")

	require.NoError(t, f.Rename(context.Background(), "m1", "/docs/old.txt", "/docs/new.txt"))

	ev := sink.last(t)
	assert.Equal(t, ReasonRename, ev.Reason)
	assert.Equal(t, []string{"/docs/old.txt", "/docs/new.txt"}, ev.Paths)
}

func TestFacadeRenameDirectoryHints(t *testing.T) {
	f, sink, _ := newTestFacade(t)
	put(t, f, "/olddir/file.txt", "x")

	require.NoError(t, f.Rename(context.Background(), "m1", "/olddir", "/newdir"))

	ev := sink.last(t)
	assert.Equal(t, []string{"/olddir/", "/newdir/"}, ev.Paths)
}

func TestFacadeCopyEmitsDestination(t *testing.T) {
	f, sink, _ := newTestFacade(t)
	put(t, f, "/src.txt", "x")

	require.NoError(t, f.Copy(context.Background(), "m1", "/src.txt", "/dst.txt"))

	ev := sink.last(t)
	assert.Equal(t, ReasonCopy, ev.Reason)
	assert.Equal(t, []string{"/dst.txt"}, ev.Paths)
}

func TestFacadeRemoveBatchEmitsOnlyRemoved(t *testing.T) {
	f, sink, _ := newTestFacade(t)
	put(t, f, "/a.txt", "x")
	put(t, f, "/b.txt", "x")

	results, err := f.RemoveBatch(context.Background(), "m1", []string{"/a.txt", "/missing.txt", "/b.txt"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	ev := sink.last(t)
	assert.Equal(t, ReasonBatchRemove, ev.Reason)
	assert.Equal(t, []string{"/a.txt", "/b.txt"}, ev.Paths)
}

func TestFacadeRemoveBatchRejectsEmpty(t *testing.T) {
	f, _, _ := newTestFacade(t)

	_, err := f.RemoveBatch(context.Background(), "m1", nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestFacadeStatAndDownload(t *testing.T) {
	f, _, _ := newTestFacade(t)
	put(t, f, "/docs/file.txt", "hello")

	info, err := f.Stat(context.Background(), "m1", "/docs/file.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.False(t, info.IsDir)

	dl, err := f.Download(context.Background(), "m1", "/docs/file.txt")
	require.NoError(t, err)
	rc, err := dl.Open(context.Background())
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFacadeListServesFromCache(t *testing.T) {
	drv := memory.New()
	reg := NewRegistry()
	require.NoError(t, reg.Add(&Mount{ID: "m1", StorageConfigID: "cfg-1", Driver: drv}))

	cache := NewListingCache(time.Minute, 8)
	sink := NewDirCacheSink(cache, 0)
	f, err := New(Config{Registry: reg, Notifier: NewNotifier(sink), Listings: cache})
	require.NoError(t, err)

	put(t, f, "/docs/a.txt", "x")

	first, err := f.List(context.Background(), "m1", "/docs")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// a second file lands through the facade; the mutation must drop the
	// cached listing so the next List sees it
	put(t, f, "/docs/b.txt", "x")

	second, err := f.List(context.Background(), "m1", "/docs")
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestFacadeUnknownMount(t *testing.T) {
	f, _, _ := newTestFacade(t)

	_, err := f.List(context.Background(), "ghost", "/")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestFacadeNoEventOnFailure(t *testing.T) {
	f, sink, _ := newTestFacade(t)

	err := f.Rename(context.Background(), "m1", "/missing.txt", "/new.txt")
	require.Error(t, err)
	assert.Zero(t, sink.count())
}
