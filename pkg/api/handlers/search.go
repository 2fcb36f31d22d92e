package handlers

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gatefs/gatefs/internal/telemetry"
	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/index"
)

// SearchHandler serves index queries over the registered mounts.
type SearchHandler struct {
	store  index.Store
	mounts *fs.Registry
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(store index.Store, mounts *fs.Registry) *SearchHandler {
	return &SearchHandler{store: store, mounts: mounts}
}

// SearchResponse is an index result page plus the mounts a global
// search had to skip because their index was not ready.
type SearchResponse struct {
	*index.Result
	IndexNotReadyMountIDs []string `json:"indexNotReadyMountIds,omitempty"`
}

// Search handles GET /api/v1/search.
//
// Query parameters: query, scope (global|mount|directory, default global),
// mount_id, path, limit, cursor. Scope and target validation live in the
// index store; the handler only resolves which mounts the caller may see.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	if _, ok := claimsOrUnauthorized(w, r); !ok {
		return
	}

	q := r.URL.Query()
	query := index.Query{
		Text:            q.Get("query"),
		AllowedMountIDs: h.mounts.IDs(),
		Scope:           index.Scope(q.Get("scope")),
		MountID:         q.Get("mount_id"),
		PathPrefix:      q.Get("path"),
		Limit:           queryInt(r, "limit", 0),
		Cursor:          q.Get("cursor"),
	}

	ctx, span := telemetry.StartIndexSpan(r.Context(), "search",
		attribute.Int(telemetry.AttrQueryLen, len(query.Text)),
		attribute.String(telemetry.AttrScope, string(query.Scope)))
	result, err := h.store.Search(ctx, query)
	telemetry.RecordError(ctx, err)
	span.End()
	if err != nil {
		WriteError(w, r, err)
		return
	}

	// The only skip reason today is an unready index, so the two lists
	// coincide.
	WriteJSONOK(w, SearchResponse{
		Result:                result,
		IndexNotReadyMountIDs: result.SkippedMounts,
	})
}
