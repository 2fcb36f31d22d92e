package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatefs/gatefs/pkg/api/auth"
	"github.com/gatefs/gatefs/pkg/task"
)

// sseKeepalive is how often the events stream emits a comment line to
// keep idle proxies from cutting the connection.
const sseKeepalive = 15 * time.Second

// JobsHandler exposes the task engine over HTTP.
type JobsHandler struct {
	engine  *task.Engine
	catalog *task.Catalog
}

// NewJobsHandler creates a new JobsHandler.
func NewJobsHandler(engine *task.Engine, catalog *task.Catalog) *JobsHandler {
	return &JobsHandler{engine: engine, catalog: catalog}
}

func taskActorFrom(claims *auth.Claims) task.Actor {
	return task.Actor{UserID: claims.UserID, Admin: claims.IsAdmin()}
}

// JobResponse is a job snapshot plus what the caller may do with it.
type JobResponse struct {
	*task.Job
	AllowedActions task.AllowedActions `json:"allowedActions"`
}

func (h *JobsHandler) jobResponse(actor task.Actor, job *task.Job) JobResponse {
	return JobResponse{Job: job, AllowedActions: h.catalog.AllowedActions(actor, job)}
}

// SubmitJobRequest is the request body for POST /api/v1/jobs.
type SubmitJobRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Submit handles POST /api/v1/jobs.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req SubmitJobRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		BadRequest(w, "type is required")
		return
	}

	actor := taskActorFrom(claims)
	job, err := h.engine.Submit(r.Context(), actor, req.Type, req.Payload, task.TriggerManual)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONCreated(w, h.jobResponse(actor, job))
}

// ListJobsResponse is the response body for GET /api/v1/jobs.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// List handles GET /api/v1/jobs?type=…&status=…
// Non-admin callers only see their own jobs.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	actor := taskActorFrom(claims)
	jobs, err := h.engine.List(r.Context(), actor, task.Filter{
		Type:   q.Get("type"),
		Status: task.Status(q.Get("status")),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, h.jobResponse(actor, job))
	}
	WriteJSONOK(w, resp)
}

// Get handles GET /api/v1/jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	actor := taskActorFrom(claims)
	job, err := h.engine.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONOK(w, h.jobResponse(actor, job))
}

// Cancel handles POST /api/v1/jobs/{id}/cancel.
// Returns the refreshed snapshot so callers see the resulting status.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	actor := taskActorFrom(claims)
	id := chi.URLParam(r, "id")
	if err := h.engine.Cancel(r.Context(), actor, id); err != nil {
		WriteError(w, r, err)
		return
	}

	job, err := h.engine.Get(r.Context(), actor, id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSONOK(w, h.jobResponse(actor, job))
}

// Delete handles DELETE /api/v1/jobs/{id}.
func (h *JobsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	if err := h.engine.Delete(r.Context(), taskActorFrom(claims), chi.URLParam(r, "id")); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteNoContent(w)
}

// Retry handles POST /api/v1/jobs/{id}/retry.
// Submits a fresh job carrying the failed job's payload.
func (h *JobsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	actor := taskActorFrom(claims)
	job, err := h.engine.Retry(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONCreated(w, h.jobResponse(actor, job))
}

// JobTypesResponse is the response body for GET /api/v1/jobs/types.
type JobTypesResponse struct {
	Types []string `json:"types"`
}

// Types handles GET /api/v1/jobs/types.
// Lists the job types the caller may submit or inspect.
func (h *JobsHandler) Types(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	types := h.catalog.ListVisibleTypes(taskActorFrom(claims))
	if types == nil {
		types = []string{}
	}
	WriteJSONOK(w, JobTypesResponse{Types: types})
}

// Events handles GET /api/v1/jobs/{id}/events.
//
// Streams job snapshots as server-sent events: the current state
// immediately, then one event per progress update or status transition.
// The stream ends when the job reaches a terminal status or the client
// disconnects.
func (h *JobsHandler) Events(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalServerError(w, "streaming unsupported")
		return
	}

	actor := taskActorFrom(claims)
	updates, unsubscribe, err := h.engine.Subscribe(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()

		case job, open := <-updates:
			if !open {
				return
			}
			if !writeJobEvent(w, h.jobResponse(actor, job)) {
				return
			}
			flusher.Flush()
			if job.Status.IsTerminal() {
				return
			}
		}
	}
}

// writeJobEvent emits one SSE frame. A false return means the payload
// could not be serialized and the stream should end.
func writeJobEvent(w http.ResponseWriter, resp JobResponse) bool {
	data, err := json.Marshal(resp)
	if err != nil {
		return false
	}
	fmt.Fprintf(w, "event: job\ndata: %s\n\n", data)
	return true
}
