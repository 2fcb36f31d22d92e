package index

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatefs/gatefs/pkg/fault"
)

// seedSearchFixture loads two ready mounts with a small tree each.
func seedSearchFixture(t *testing.T, store *GORMStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		dirEntry("m1", "/projects"),
		dirEntry("m1", "/projects/reports"),
		fileEntry("m1", "/projects/reports/q3-summary.pdf", 100),
		fileEntry("m1", "/projects/reports/q4-summary.pdf", 200),
		fileEntry("m1", "/projects/notes.txt", 10),
		fileEntry("m1", "/archive/summary-2019.pdf", 50),
	}, UpsertOptions{RunID: "run-m1"}))

	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		dirEntry("m2", "/media"),
		fileEntry("m2", "/media/holiday-summary.mp4", 4000),
		fileEntry("m2", "/media/track01.mp3", 300),
	}, UpsertOptions{RunID: "run-m2"}))

	require.NoError(t, store.MarkReady(ctx, "m1", "run-m1", time.Now()))
	require.NoError(t, store.MarkReady(ctx, "m2", "run-m2", time.Now()))
}

func paths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.MountID + ":" + e.FSPath
	}
	return out
}

func TestSearchMatchesSubstringAcrossMounts(t *testing.T) {
	store := newTestStore(t)
	seedSearchFixture(t, store)

	result, err := store.Search(context.Background(), Query{
		Text:            "summary",
		AllowedMountIDs: []string{"m1", "m2"},
		Scope:           ScopeGlobal,
	})
	require.NoError(t, err)

	assert.True(t, result.IndexReady)
	assert.False(t, result.HasMore)
	assert.Equal(t, int64(4), result.Total)
	assert.ElementsMatch(t, []string{
		"m1:/projects/reports/q3-summary.pdf",
		"m1:/projects/reports/q4-summary.pdf",
		"m1:/archive/summary-2019.pdf",
		"m2:/media/holiday-summary.mp4",
	}, paths(result.Entries))
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	store := newTestStore(t)
	seedSearchFixture(t, store)

	result, err := store.Search(context.Background(), Query{
		Text:            "SUMMARY",
		AllowedMountIDs: []string{"m1"},
		Scope:           ScopeGlobal,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Total)
}

func TestSearchMatchesPathSegments(t *testing.T) {
	store := newTestStore(t)
	seedSearchFixture(t, store)

	// "reports" appears in fs_path of the q3/q4 files and is the name of
	// the directory itself
	result, err := store.Search(context.Background(), Query{
		Text:            "reports",
		AllowedMountIDs: []string{"m1"},
		Scope:           ScopeGlobal,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Total)
}

func TestSearchRejectsShortQueries(t *testing.T) {
	store := newTestStore(t)
	seedSearchFixture(t, store)
	ctx := context.Background()

	for _, text := range []string{"a", "ab", " ab "} {
		_, err := store.Search(ctx, Query{
			Text:            text,
			AllowedMountIDs: []string{"m1"},
			Scope:           ScopeGlobal,
		})
		require.Error(t, err, "query %q", text)
		assert.True(t, fault.IsKind(err, fault.KindValidation))
	}

	// three runes is the floor
	_, err := store.Search(ctx, Query{
		Text:            "sum",
		AllowedMountIDs: []string{"m1"},
		Scope:           ScopeGlobal,
	})
	require.NoError(t, err)
}

func TestSearchEmptyQueryBrowsesEverything(t *testing.T) {
	store := newTestStore(t)
	seedSearchFixture(t, store)

	result, err := store.Search(context.Background(), Query{
		Text:            "   ",
		AllowedMountIDs: []string{"m1", "m2"},
		Scope:           ScopeGlobal,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), result.Total)
}

func TestSearchOrdersDirectoriesFirst(t *testing.T) {
	store := newTestStore(t)
	seedSearchFixture(t, store)

	result, err := store.Search(context.Background(), Query{
		AllowedMountIDs: []string{"m1"},
		Scope:           ScopeGlobal,
	})
	require.NoError(t, err)
	require.Len(t, result.Entries, 6)

	assert.True(t, result.Entries[0].IsDir)
	assert.True(t, result.Entries[1].IsDir)
	for _, e := range result.Entries[2:] {
		assert.False(t, e.IsDir, "files must sort after directories: %s", e.FSPath)
	}
}

func TestSearchGlobalSkipsUnreadyMounts(t *testing.T) {
	store := newTestStore(t)
	seedSearchFixture(t, store)
	ctx := context.Background()

	// m3 exists but is still being built; m4 has no state row at all
	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		fileEntry("m3", "/pending-summary.txt", 1),
	}, UpsertOptions{}))
	require.NoError(t, store.MarkIndexing(ctx, "m3", "job-9"))

	result, err := store.Search(ctx, Query{
		Text:            "summary",
		AllowedMountIDs: []string{"m1", "m3", "m4"},
		Scope:           ScopeGlobal,
	})
	require.NoError(t, err)

	assert.True(t, result.IndexReady)
	assert.Equal(t, []string{"m3", "m4"}, result.SkippedMounts)
	assert.Equal(t, int64(3), result.Total)
	for _, e := range result.Entries {
		assert.Equal(t, "m1", e.MountID)
	}
}

func TestSearchMountScopeUnreadyFailsClosed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntries(ctx, []Entry{
		fileEntry("m3", "/pending-summary.txt", 1),
	}, UpsertOptions{}))
	require.NoError(t, store.MarkIndexing(ctx, "m3", "job-9"))

	result, err := store.Search(ctx, Query{
		Text:            "summary",
		AllowedMountIDs: []string{"m3"},
		Scope:           ScopeMount,
		MountID:         "m3",
	})
	require.NoError(t, err)

	assert.False(t, result.IndexReady)
	assert.Empty(t, result.Entries)
	assert.Zero(t, result.Total)
}

func TestSearchMountScopeRequiresVisibility(t *testing.T) {
	store := newTestStore(t)
	seedSearchFixture(t, store)

	_, err := store.Search(context.Background(), Query{
		Text:            "summary",
		AllowedMountIDs: []string{"m1"},
		Scope:           ScopeMount,
		MountID:         "m2",
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindAuthorization))
}

func TestSearchDirectoryScope(t *testing.T) {
	store := newTestStore(t)
	seedSearchFixture(t, store)

	result, err := store.Search(context.Background(), Query{
		Text:            "summary",
		AllowedMountIDs: []string{"m1"},
		Scope:           ScopeDirectory,
		MountID:         "m1",
		PathPrefix:      "/projects",
	})
	require.NoError(t, err)

	assert.True(t, result.PathRestricted)
	assert.Equal(t, int64(2), result.Total)
	assert.ElementsMatch(t, []string{
		"m1:/projects/reports/q3-summary.pdf",
		"m1:/projects/reports/q4-summary.pdf",
	}, paths(result.Entries))

	_, err = store.Search(context.Background(), Query{
		AllowedMountIDs: []string{"m1"},
		Scope:           ScopeDirectory,
		MountID:         "m1",
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestSearchPaginatesWithoutGapsOrDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var entries []Entry
	for i := 0; i < 7; i++ {
		entries = append(entries, fileEntry("m1", fmt.Sprintf("/bulk/file-%02d.dat", i), int64(i)))
	}
	entries = append(entries, dirEntry("m1", "/bulk"))
	require.NoError(t, store.UpsertEntries(ctx, entries, UpsertOptions{RunID: "run-1"}))
	require.NoError(t, store.MarkReady(ctx, "m1", "run-1", time.Now()))

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		result, err := store.Search(ctx, Query{
			AllowedMountIDs: []string{"m1"},
			Scope:           ScopeGlobal,
			Limit:           3,
			Cursor:          cursor,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(8), result.Total)

		for _, e := range result.Entries {
			require.False(t, seen[e.FSPath], "duplicate row %s", e.FSPath)
			seen[e.FSPath] = true
		}
		pages++
		if !result.HasMore {
			assert.Empty(t, result.NextCursor)
			break
		}
		require.NotEmpty(t, result.NextCursor)
		cursor = result.NextCursor
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, seen, 8)
}

func TestSearchRejectsMalformedCursor(t *testing.T) {
	store := newTestStore(t)
	seedSearchFixture(t, store)

	_, err := store.Search(context.Background(), Query{
		AllowedMountIDs: []string{"m1"},
		Scope:           ScopeGlobal,
		Cursor:          "not-a-cursor!!!",
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestSearchReflectsEntryDeletes(t *testing.T) {
	store := newTestStore(t)
	seedSearchFixture(t, store)
	ctx := context.Background()

	require.NoError(t, store.DeleteEntry(ctx, "m1", "/archive/summary-2019.pdf"))

	result, err := store.Search(ctx, Query{
		Text:            "summary",
		AllowedMountIDs: []string{"m1"},
		Scope:           ScopeGlobal,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Total)
}

func TestSearchReflectsEntryRenames(t *testing.T) {
	store := newTestStore(t)
	seedSearchFixture(t, store)
	ctx := context.Background()

	// a rename lands as an upsert of the new path plus a delete of the old
	moved := fileEntry("m1", "/projects/meeting-notes.txt", 10)
	require.NoError(t, store.UpsertEntries(ctx, []Entry{moved}, UpsertOptions{}))
	require.NoError(t, store.DeleteEntry(ctx, "m1", "/projects/notes.txt"))

	result, err := store.Search(ctx, Query{
		Text:            "notes",
		AllowedMountIDs: []string{"m1"},
		Scope:           ScopeGlobal,
	})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "/projects/meeting-notes.txt", result.Entries[0].FSPath)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultSearchLimit, clampLimit(0))
	assert.Equal(t, DefaultSearchLimit, clampLimit(-7))
	assert.Equal(t, 25, clampLimit(25))
	assert.Equal(t, MaxSearchLimit, clampLimit(MaxSearchLimit+1))
}

func TestCursorRoundTrip(t *testing.T) {
	c := cursor{MountID: "m1", IsDir: true, Name: "docs", FSPath: "/docs"}
	decoded, err := decodeCursor(encodeCursor(c))
	require.NoError(t, err)
	assert.Equal(t, c, decoded)
}
