package apiclient

import (
	"encoding/json"
	"net/url"
	"time"
)

// Job is a background job snapshot as reported by the server, including
// the actions the caller is allowed to take on it.
type Job struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`

	Payload json.RawMessage `json:"payload,omitempty"`
	Stats   json.RawMessage `json:"stats,omitempty"`

	UserID   string `json:"user_id"`
	UserType string `json:"user_type"`
	Trigger  string `json:"trigger"`

	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	AllowedActions AllowedActions `json:"allowedActions"`
}

// AllowedActions says what the caller may do with a job.
type AllowedActions struct {
	CanCancel bool `json:"canCancel"`
	CanDelete bool `json:"canDelete"`
	CanRetry  bool `json:"canRetry"`
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	switch j.Status {
	case "completed", "partial", "failed", "cancelled":
		return true
	}
	return false
}

// SubmitJobRequest is the body for submitting a job.
type SubmitJobRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	Type   string
	Status string
}

type listJobsResponse struct {
	Jobs []Job `json:"jobs"`
}

type jobTypesResponse struct {
	Types []string `json:"types"`
}

// SubmitJob enqueues a job of the given type.
func (c *Client) SubmitJob(jobType string, payload json.RawMessage) (*Job, error) {
	req := SubmitJobRequest{Type: jobType, Payload: payload}
	return createResource[Job](c, "/api/v1/jobs", req)
}

// ListJobs returns the jobs visible to the caller, newest first.
func (c *Client) ListJobs(filter JobFilter) ([]Job, error) {
	q := url.Values{}
	if filter.Type != "" {
		q.Set("type", filter.Type)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}

	path := "/api/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := getResource[listJobsResponse](c, path)
	if err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob returns one job by ID.
func (c *Client) GetJob(id string) (*Job, error) {
	return getResource[Job](c, resourcePath("/api/v1/jobs/%s", url.PathEscape(id)))
}

// CancelJob requests cancellation and returns the refreshed snapshot.
func (c *Client) CancelJob(id string) (*Job, error) {
	return createResource[Job](c, resourcePath("/api/v1/jobs/%s/cancel", url.PathEscape(id)), nil)
}

// RetryJob submits a fresh job carrying the failed job's payload.
func (c *Client) RetryJob(id string) (*Job, error) {
	return createResource[Job](c, resourcePath("/api/v1/jobs/%s/retry", url.PathEscape(id)), nil)
}

// DeleteJob removes a finished job's record.
func (c *Client) DeleteJob(id string) error {
	return deleteResource(c, resourcePath("/api/v1/jobs/%s", url.PathEscape(id)))
}

// JobTypes lists the job types the caller may submit or inspect.
func (c *Client) JobTypes() ([]string, error) {
	resp, err := getResource[jobTypesResponse](c, "/api/v1/jobs/types")
	if err != nil {
		return nil, err
	}
	return resp.Types, nil
}
