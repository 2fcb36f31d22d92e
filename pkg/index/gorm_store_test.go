package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatefs/gatefs/pkg/database"
	"github.com/gatefs/gatefs/pkg/fault"
)

func newTestStore(t *testing.T) *GORMStore {
	t.Helper()

	db, err := database.Open(&database.Config{
		Type:   database.TypeSQLite,
		SQLite: database.SQLiteConfig{Path: database.MemoryPath},
	})
	require.NoError(t, err)

	store, err := NewGORMStore(db)
	require.NoError(t, err)
	return store
}

func fileEntry(mountID, fsPath string, size int64) Entry {
	return Entry{
		MountID:    mountID,
		FSPath:     fsPath,
		IsDir:      false,
		Size:       size,
		ModifiedMs: time.Now().UnixMilli(),
		Mimetype:   "application/octet-stream",
	}
}

func dirEntry(mountID, fsPath string) Entry {
	return Entry{
		MountID: mountID,
		FSPath:  fsPath,
		IsDir:   true,
	}
}

func listMountEntries(t *testing.T, store *GORMStore, mountID string) []Entry {
	t.Helper()

	var entries []Entry
	err := store.db.Where("mount_id = ?", mountID).Order("fs_path ASC").Find(&entries).Error
	require.NoError(t, err)
	return entries
}

func TestUpsertEntriesValidatesRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.UpsertEntries(ctx, []Entry{{FSPath: "/a.txt"}}, UpsertOptions{})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	err = store.UpsertEntries(ctx, []Entry{{MountID: "m1"}}, UpsertOptions{})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	require.NoError(t, store.UpsertEntries(ctx, nil, UpsertOptions{}))
}

func TestUpsertEntriesDerivesNameAndStampsRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.UpsertEntries(ctx, []Entry{
		fileEntry("m1", "/docs/report.pdf", 100),
		dirEntry("m1", "/docs"),
	}, UpsertOptions{RunID: "run-1"})
	require.NoError(t, err)

	entries := listMountEntries(t, store, "m1")
	require.Len(t, entries, 2)
	assert.Equal(t, "/docs", entries[0].FSPath)
	assert.Equal(t, "docs", entries[0].Name)
	assert.Equal(t, "run-1", entries[0].IndexRunID)
	assert.Equal(t, "report.pdf", entries[1].Name)
}

func TestUpsertEntriesReplacesOnConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		fileEntry("m1", "/docs/report.pdf", 100),
	}, UpsertOptions{RunID: "run-1"}))

	updated := fileEntry("m1", "/docs/report.pdf", 2048)
	updated.Mimetype = "application/pdf"
	require.NoError(t, store.UpsertEntries(ctx, []Entry{updated}, UpsertOptions{RunID: "run-2"}))

	entries := listMountEntries(t, store, "m1")
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2048), entries[0].Size)
	assert.Equal(t, "application/pdf", entries[0].Mimetype)
	assert.Equal(t, "run-2", entries[0].IndexRunID)
}

func TestGetEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		fileEntry("m1", "/docs/report.pdf", 100),
		dirEntry("m1", "/docs"),
	}, UpsertOptions{}))

	entry, err := store.GetEntry(ctx, "m1", "/docs/report.pdf")
	require.NoError(t, err)
	assert.False(t, entry.IsDir)
	assert.Equal(t, int64(100), entry.Size)

	dir, err := store.GetEntry(ctx, "m1", "/docs/")
	require.NoError(t, err)
	assert.True(t, dir.IsDir)

	_, err = store.GetEntry(ctx, "m1", "/missing.txt")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestDeleteEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		fileEntry("m1", "/docs/report.pdf", 100),
	}, UpsertOptions{}))

	require.NoError(t, store.DeleteEntry(ctx, "m1", "/docs/report.pdf"))
	assert.Empty(t, listMountEntries(t, store, "m1"))

	// missing rows are not an error
	require.NoError(t, store.DeleteEntry(ctx, "m1", "/docs/report.pdf"))
}

func TestDeleteByPathPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		dirEntry("m1", "/docs"),
		fileEntry("m1", "/docs/a.txt", 1),
		fileEntry("m1", "/docs/sub/b.txt", 2),
		fileEntry("m1", "/docs-old/c.txt", 3),
		fileEntry("m2", "/docs/d.txt", 4),
	}, UpsertOptions{}))

	err := store.DeleteByPathPrefix(ctx, "m1", "/docs")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	require.NoError(t, store.DeleteByPathPrefix(ctx, "m1", "/docs/"))

	remaining := listMountEntries(t, store, "m1")
	require.Len(t, remaining, 1)
	assert.Equal(t, "/docs-old/c.txt", remaining[0].FSPath)

	// other mounts untouched
	assert.Len(t, listMountEntries(t, store, "m2"), 1)
}

func TestCleanupMountByRunID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		fileEntry("m1", "/a.txt", 1),
		fileEntry("m1", "/b.txt", 2),
		fileEntry("m2", "/c.txt", 3),
	}, UpsertOptions{RunID: "run-1"}))

	// the new run re-sees only a.txt
	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		fileEntry("m1", "/a.txt", 1),
	}, UpsertOptions{RunID: "run-2"}))

	_, err := store.CleanupMountByRunID(ctx, "m1", "")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	removed, err := store.CleanupMountByRunID(ctx, "m1", "run-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	remaining := listMountEntries(t, store, "m1")
	require.Len(t, remaining, 1)
	assert.Equal(t, "/a.txt", remaining[0].FSPath)

	// other mounts keep their stale rows
	assert.Len(t, listMountEntries(t, store, "m2"), 1)
}

func TestCleanupMountByRunIDRemovesUntaggedRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// reconciliation writes carry no run tag
	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		fileEntry("m1", "/stale.txt", 1),
	}, UpsertOptions{}))
	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		fileEntry("m1", "/fresh.txt", 2),
	}, UpsertOptions{RunID: "run-1"}))

	removed, err := store.CleanupMountByRunID(ctx, "m1", "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	remaining := listMountEntries(t, store, "m1")
	require.Len(t, remaining, 1)
	assert.Equal(t, "/fresh.txt", remaining[0].FSPath)
}

func TestCleanupPrefixByRunID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		dirEntry("m1", "/docs"),
		fileEntry("m1", "/docs/a.txt", 1),
		fileEntry("m1", "/docs/b.txt", 2),
		fileEntry("m1", "/other/c.txt", 3),
	}, UpsertOptions{RunID: "run-1"}))

	// subtree rebuild re-sees the marker and a.txt only
	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		dirEntry("m1", "/docs"),
		fileEntry("m1", "/docs/a.txt", 1),
	}, UpsertOptions{RunID: "run-2"}))

	_, err := store.CleanupPrefixByRunID(ctx, "m1", "/docs", "run-2")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	removed, err := store.CleanupPrefixByRunID(ctx, "m1", "/docs/", "run-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries := listMountEntries(t, store, "m1")
	require.Len(t, entries, 3)
	assert.Equal(t, "/docs", entries[0].FSPath)
	assert.Equal(t, "/docs/a.txt", entries[1].FSPath)

	// out-of-prefix rows survive even with a stale tag
	assert.Equal(t, "/other/c.txt", entries[2].FSPath)
}

func TestIndexStateLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	states, err := store.GetIndexStates(ctx, []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Equal(t, IndexStatusNotReady, states["m1"].Status)
	assert.Equal(t, IndexStatusNotReady, states["m2"].Status)

	require.NoError(t, store.MarkIndexing(ctx, "m1", "job-1"))
	states, err = store.GetIndexStates(ctx, []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, IndexStatusIndexing, states["m1"].Status)
	assert.Equal(t, "job-1", states["m1"].JobID)

	indexedAt := time.Now().Truncate(time.Second)
	require.NoError(t, store.MarkReady(ctx, "m1", "run-1", indexedAt))
	states, err = store.GetIndexStates(ctx, []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, IndexStatusReady, states["m1"].Status)
	assert.Equal(t, "run-1", states["m1"].LastRunID)
	require.NotNil(t, states["m1"].LastIndexedAt)

	require.NoError(t, store.MarkError(ctx, "m1", "backend unreachable"))
	states, err = store.GetIndexStates(ctx, []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, IndexStatusError, states["m1"].Status)
	assert.Equal(t, "backend unreachable", states["m1"].ErrorMessage)

	// recovering clears the error message
	require.NoError(t, store.MarkReady(ctx, "m1", "run-2", time.Now()))
	states, err = store.GetIndexStates(ctx, []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, IndexStatusReady, states["m1"].Status)
	assert.Empty(t, states["m1"].ErrorMessage)
}

func TestUpsertDirtyCoalesces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := DirtyItem{MountID: "m1", FSPath: "/docs/a.txt", Op: DirtyOpUpsert}
	require.NoError(t, store.UpsertDirty(ctx, item))
	require.NoError(t, store.UpsertDirty(ctx, item))

	count, err := store.CountDirty(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// a different op on the same path is a distinct item
	require.NoError(t, store.UpsertDirty(ctx, DirtyItem{
		MountID: "m1", FSPath: "/docs/a.txt", Op: DirtyOpDelete,
	}))
	count, err = store.CountDirty(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestUpsertDirtyValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.UpsertDirty(ctx, DirtyItem{FSPath: "/a", Op: DirtyOpUpsert})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	err = store.UpsertDirty(ctx, DirtyItem{MountID: "m1", FSPath: "/a", Op: "rename"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestDirtyBatchConsumption(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	paths := []string{"/a.txt", "/b.txt", "/c.txt"}
	for _, p := range paths {
		require.NoError(t, store.UpsertDirty(ctx, DirtyItem{
			MountID: "m1", FSPath: p, Op: DirtyOpUpsert,
		}))
	}
	require.NoError(t, store.UpsertDirty(ctx, DirtyItem{
		MountID: "m2", FSPath: "/z.txt", Op: DirtyOpUpsert,
	}))

	batch, err := store.ListDirtyBatch(ctx, "m1", 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	// oldest first
	assert.Equal(t, "/a.txt", batch[0].FSPath)
	assert.Equal(t, "/b.txt", batch[1].FSPath)

	keys := []string{batch[0].DedupeKey, batch[1].DedupeKey}
	require.NoError(t, store.DeleteDirtyByKeys(ctx, keys))
	require.NoError(t, store.DeleteDirtyByKeys(ctx, nil))

	count, err := store.CountDirty(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	batch, err = store.ListDirtyBatch(ctx, "m1", 0)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "/c.txt", batch[0].FSPath)
}

func TestClearDirtyByMount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertDirty(ctx, DirtyItem{
		MountID: "m1", FSPath: "/a.txt", Op: DirtyOpUpsert,
	}))
	require.NoError(t, store.UpsertDirty(ctx, DirtyItem{
		MountID: "m2", FSPath: "/b.txt", Op: DirtyOpUpsert,
	}))

	require.NoError(t, store.ClearDirtyByMount(ctx, "m1"))

	count, err := store.CountDirty(ctx, "m1")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = store.CountDirty(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDedupeKeyIsStable(t *testing.T) {
	k1 := DedupeKey("m1", "/docs/a.txt", DirtyOpUpsert)
	k2 := DedupeKey("m1", "/docs/a.txt", DirtyOpUpsert)
	k3 := DedupeKey("m1", "/docs/a.txt", DirtyOpDelete)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 64)
}
