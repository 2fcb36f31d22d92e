package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatefs/gatefs/pkg/fault"
)

var (
	adminActor = Actor{UserID: "root", Admin: true}
	ownerActor = Actor{UserID: "alice"}
	otherActor = Actor{UserID: "bob"}
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()

	catalog := NewCatalog()
	require.NoError(t, catalog.Define(Definition{
		Type:       "fs_index_rebuild",
		Visibility: VisibilityAdminOnly,
	}))
	require.NoError(t, catalog.Define(Definition{
		Type:       "copy",
		Visibility: VisibilityOwnerOnly,
		Retry:      RetryCopy,
	}))
	require.NoError(t, catalog.Define(Definition{
		Type:       "export",
		Visibility: VisibilityOwnerOnly,
		Permission: "fs.export",
	}))
	return catalog
}

func TestCatalogDefine(t *testing.T) {
	catalog := NewCatalog()

	require.NoError(t, catalog.Define(Definition{Type: "copy"}))

	err := catalog.Define(Definition{Type: "copy"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindConflict))

	err = catalog.Define(Definition{})
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	// zero fields default to the restrictive choices
	def, err := catalog.Get("copy")
	require.NoError(t, err)
	assert.Equal(t, VisibilityAdminOnly, def.Visibility)
	assert.Equal(t, CreateUnrestricted, def.CreatePolicy)
	assert.Equal(t, RetryNone, def.Retry)
}

func TestListVisibleTypes(t *testing.T) {
	catalog := newTestCatalog(t)

	assert.Equal(t, []string{"copy", "export", "fs_index_rebuild"}, catalog.ListVisibleTypes(adminActor))
	assert.Equal(t, []string{"copy"}, catalog.ListVisibleTypes(ownerActor))

	exporter := Actor{UserID: "carol", Permissions: []string{"fs.export"}}
	assert.Equal(t, []string{"copy", "export"}, catalog.ListVisibleTypes(exporter))
}

func TestCanView(t *testing.T) {
	catalog := newTestCatalog(t)

	job := &Job{ID: "j1", Type: "copy", UserID: "alice", Status: StatusRunning}
	assert.True(t, catalog.CanView(adminActor, job))
	assert.True(t, catalog.CanView(ownerActor, job))
	assert.False(t, catalog.CanView(otherActor, job))

	adminJob := &Job{ID: "j2", Type: "fs_index_rebuild", UserID: "alice", Status: StatusRunning}
	assert.True(t, catalog.CanView(adminActor, adminJob))
	// admin-only types stay hidden even from the submitting user
	assert.False(t, catalog.CanView(ownerActor, adminJob))
}

func TestAllowedActionsByStatus(t *testing.T) {
	catalog := newTestCatalog(t)

	cases := []struct {
		status    Status
		canCancel bool
		canDelete bool
		canRetry  bool
	}{
		{StatusPending, true, false, false},
		{StatusRunning, true, false, false},
		{StatusCompleted, false, true, false},
		{StatusPartial, false, true, true},
		{StatusFailed, false, true, true},
		{StatusCancelled, false, true, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			job := &Job{ID: "j1", Type: "copy", UserID: "alice", Status: tc.status}
			actions := catalog.AllowedActions(ownerActor, job)
			assert.Equal(t, tc.canCancel, actions.CanCancel)
			assert.Equal(t, tc.canDelete, actions.CanDelete)
			assert.Equal(t, tc.canRetry, actions.CanRetry)
		})
	}
}

func TestAllowedActionsRetryNeedsCopyRetry(t *testing.T) {
	catalog := newTestCatalog(t)

	job := &Job{ID: "j1", Type: "export", UserID: "carol", Status: StatusFailed}
	exporter := Actor{UserID: "carol", Permissions: []string{"fs.export"}}

	actions := catalog.AllowedActions(exporter, job)
	assert.True(t, actions.CanDelete)
	assert.False(t, actions.CanRetry)
}

func TestAllowedActionsForAdmin(t *testing.T) {
	catalog := newTestCatalog(t)

	for _, status := range []Status{StatusPending, StatusRunning} {
		job := &Job{ID: "j1", Type: "copy", UserID: "alice", Status: status}
		actions := catalog.AllowedActions(adminActor, job)
		assert.True(t, actions.CanCancel, "admin can cancel %s jobs of any user", status)
	}
}

func TestAllowedActionsInvisibleJob(t *testing.T) {
	catalog := newTestCatalog(t)

	job := &Job{ID: "j1", Type: "copy", UserID: "alice", Status: StatusFailed}
	assert.Equal(t, AllowedActions{}, catalog.AllowedActions(otherActor, job))
}
