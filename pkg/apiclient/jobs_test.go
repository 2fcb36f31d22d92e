package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/jobs", r.URL.Path)

		var req SubmitJobRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)
		assert.Equal(t, "fs_index_rebuild", req.Type)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Job{
			ID:             "job-1",
			Type:           "fs_index_rebuild",
			Status:         "pending",
			AllowedActions: AllowedActions{CanCancel: true},
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("token")
	job, err := client.SubmitJob("fs_index_rebuild", json.RawMessage(`{"mountIds":["docs"]}`))

	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "pending", job.Status)
	assert.True(t, job.AllowedActions.CanCancel)
	assert.False(t, job.Terminal())
}

func TestListJobs_Filter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs", r.URL.Path)
		assert.Equal(t, "fs_index_rebuild", r.URL.Query().Get("type"))
		assert.Equal(t, "failed", r.URL.Query().Get("status"))

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(listJobsResponse{
			Jobs: []Job{{ID: "job-2", Type: "fs_index_rebuild", Status: "failed"}},
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("token")
	jobs, err := client.ListJobs(JobFilter{Type: "fs_index_rebuild", Status: "failed"})

	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-2", jobs[0].ID)
	assert.True(t, jobs[0].Terminal())
}

func TestCancelJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/jobs/job-3/cancel", r.URL.Path)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(Job{ID: "job-3", Status: "cancelled"})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("token")
	job, err := client.CancelJob("job-3")

	require.NoError(t, err)
	assert.Equal(t, "cancelled", job.Status)
}

func TestDeleteJob_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(APIError{
			Title:  "Not Found",
			Status: http.StatusNotFound,
			Detail: "job not found",
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("token")
	err := client.DeleteJob("missing")

	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsNotFound())
}

func TestJobTypes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/types", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(jobTypesResponse{Types: []string{"fs_index_rebuild", "fs_index_apply_dirty"}})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("token")
	types, err := client.JobTypes()

	require.NoError(t, err)
	assert.Equal(t, []string{"fs_index_rebuild", "fs_index_apply_dirty"}, types)
}

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "report", q.Get("query"))
		assert.Equal(t, "mount", q.Get("scope"))
		assert.Equal(t, "docs", q.Get("mount_id"))
		assert.Equal(t, "25", q.Get("limit"))

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(SearchResult{
			Entries:    []SearchEntry{{MountID: "docs", FSPath: "/report.pdf", Name: "report.pdf"}},
			Total:      1,
			IndexReady: true,
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("token")
	result, err := client.Search(SearchQuery{
		Query:   "report",
		Scope:   "mount",
		MountID: "docs",
		Limit:   25,
	})

	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "report.pdf", result.Entries[0].Name)
	assert.True(t, result.IndexReady)
}
