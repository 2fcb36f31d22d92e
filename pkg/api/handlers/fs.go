package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/storage"
)

// PathPasswordHeader carries the optional per-mount password. Mounts
// without a password hash ignore it.
const PathPasswordHeader = "X-Path-Password"

// FSHandler exposes direct file operations through the facade.
type FSHandler struct {
	facade *fs.Facade
}

// NewFSHandler creates a new FSHandler.
func NewFSHandler(facade *fs.Facade) *FSHandler {
	return &FSHandler{facade: facade}
}

// mount resolves the target mount and checks its path password. A false
// return means the response was already written.
func (h *FSHandler) mount(w http.ResponseWriter, r *http.Request, mountID string) (*fs.Mount, bool) {
	if mountID == "" {
		BadRequest(w, "mount_id is required")
		return nil, false
	}
	m, err := h.facade.Registry().Get(mountID)
	if err != nil {
		WriteError(w, r, err)
		return nil, false
	}
	if err := m.VerifyPathPassword(r.Header.Get(PathPasswordHeader)); err != nil {
		WriteError(w, r, err)
		return nil, false
	}
	return m, true
}

// ListFilesResponse is the response body for GET /api/v1/fs/list.
type ListFilesResponse struct {
	Items []storage.ItemInfo `json:"items"`
}

// List handles GET /api/v1/fs/list?mount_id=…&path=…
func (h *FSHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := claimsOrUnauthorized(w, r); !ok {
		return
	}

	q := r.URL.Query()
	if _, ok := h.mount(w, r, q.Get("mount_id")); !ok {
		return
	}

	items, err := h.facade.List(r.Context(), q.Get("mount_id"), q.Get("path"))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if items == nil {
		items = []storage.ItemInfo{}
	}
	WriteJSONOK(w, ListFilesResponse{Items: items})
}

// Stat handles GET /api/v1/fs/stat?mount_id=…&path=…
func (h *FSHandler) Stat(w http.ResponseWriter, r *http.Request) {
	if _, ok := claimsOrUnauthorized(w, r); !ok {
		return
	}

	q := r.URL.Query()
	if _, ok := h.mount(w, r, q.Get("mount_id")); !ok {
		return
	}

	info, err := h.facade.Stat(r.Context(), q.Get("mount_id"), q.Get("path"))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONOK(w, info)
}

// Download handles GET /api/v1/fs/download?mount_id=…&path=…
//
// Single-range requests are honored when the backend supports them;
// multi-range requests fall back to the full body, which RFC 7233
// permits.
func (h *FSHandler) Download(w http.ResponseWriter, r *http.Request) {
	if _, ok := claimsOrUnauthorized(w, r); !ok {
		return
	}

	q := r.URL.Query()
	if _, ok := h.mount(w, r, q.Get("mount_id")); !ok {
		return
	}

	dl, err := h.facade.Download(r.Context(), q.Get("mount_id"), q.Get("path"))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if dl.ContentType != "" {
		w.Header().Set("Content-Type", dl.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if dl.ETag != "" {
		w.Header().Set("ETag", dl.ETag)
	}
	if !dl.LastModified.IsZero() {
		w.Header().Set("Last-Modified", dl.LastModified.UTC().Format(http.TimeFormat))
	}
	if dl.SupportsRange {
		w.Header().Set("Accept-Ranges", "bytes")
	}

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" && dl.SupportsRange && dl.Size > 0 {
		start, end, ok, err := parseRangeHeader(rangeHeader, dl.Size)
		if err != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", dl.Size))
			WriteProblem(w, http.StatusRequestedRangeNotSatisfiable,
				"Requested Range Not Satisfiable", err.Error())
			return
		}
		if ok {
			h.serveRange(w, r, dl, start, end)
			return
		}
	}

	body, err := dl.Open(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	w.WriteHeader(http.StatusOK)
	streamBody(w, r, body)
}

func (h *FSHandler) serveRange(w http.ResponseWriter, r *http.Request, dl *storage.Download, start, end int64) {
	body, err := dl.OpenRange(r.Context(), start, end)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, dl.Size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	streamBody(w, r, body)
}

// streamBody copies the file to the client. The header is already out,
// so failures can only be logged.
func streamBody(w http.ResponseWriter, r *http.Request, body io.Reader) {
	if _, err := io.Copy(w, body); err != nil {
		logger.DebugCtx(r.Context(), "download stream interrupted",
			"path", r.URL.Path, logger.Err(err))
	}
}

// parseRangeHeader parses a single-range Range header against the file
// size. ok=false with a nil error means the header should be ignored
// and the full body served. End bounds are inclusive.
func parseRangeHeader(header string, size int64) (start, end int64, ok bool, err error) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return 0, 0, false, nil
	}
	if strings.Contains(spec, ",") {
		return 0, 0, false, nil
	}

	first, last, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return 0, 0, false, fmt.Errorf("malformed range %q", header)
	}

	if first == "" {
		// Suffix form: last N bytes.
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false, fmt.Errorf("malformed range %q", header)
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true, nil
	}

	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false, fmt.Errorf("malformed range %q", header)
	}
	if start >= size {
		return 0, 0, false, fmt.Errorf("range start %d beyond size %d", start, size)
	}

	if last == "" {
		return start, size - 1, true, nil
	}
	end, err = strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return 0, 0, false, fmt.Errorf("malformed range %q", header)
	}
	if end >= size {
		end = size - 1
	}
	return start, end, true, nil
}

// Upload handles POST /api/v1/fs/upload?mount_id=…&path=…
//
// Direct single-request ingestion for small files; large files go
// through the multipart flow. The body is the file content and a
// Content-Length is required because backends need the size up front.
func (h *FSHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if _, ok := claimsOrUnauthorized(w, r); !ok {
		return
	}

	q := r.URL.Query()
	if _, ok := h.mount(w, r, q.Get("mount_id")); !ok {
		return
	}
	path := q.Get("path")
	if path == "" {
		BadRequest(w, "path is required")
		return
	}
	if r.ContentLength < 0 {
		WriteProblem(w, http.StatusLengthRequired, "Length Required",
			"uploads require a Content-Length header")
		return
	}

	mimeType := r.Header.Get("Content-Type")
	err := h.facade.Upload(r.Context(), q.Get("mount_id"), path, r.Body, r.ContentLength, mimeType)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONCreated(w, map[string]any{"path": path, "size": r.ContentLength})
}

// MkdirRequest is the request body for POST /api/v1/fs/mkdir.
type MkdirRequest struct {
	MountID string `json:"mountId"`
	Path    string `json:"path"`
}

// Mkdir handles POST /api/v1/fs/mkdir.
func (h *FSHandler) Mkdir(w http.ResponseWriter, r *http.Request) {
	if _, ok := claimsOrUnauthorized(w, r); !ok {
		return
	}

	var req MkdirRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if _, ok := h.mount(w, r, req.MountID); !ok {
		return
	}
	if req.Path == "" {
		BadRequest(w, "path is required")
		return
	}

	if err := h.facade.Mkdir(r.Context(), req.MountID, req.Path); err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONCreated(w, map[string]any{"path": req.Path})
}

// RenameRequest is the request body for POST /api/v1/fs/rename.
type RenameRequest struct {
	MountID string `json:"mountId"`
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

// Rename handles POST /api/v1/fs/rename.
func (h *FSHandler) Rename(w http.ResponseWriter, r *http.Request) {
	if _, ok := claimsOrUnauthorized(w, r); !ok {
		return
	}

	var req RenameRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if _, ok := h.mount(w, r, req.MountID); !ok {
		return
	}
	if req.OldPath == "" || req.NewPath == "" {
		BadRequest(w, "oldPath and newPath are required")
		return
	}

	if err := h.facade.Rename(r.Context(), req.MountID, req.OldPath, req.NewPath); err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONOK(w, map[string]any{"success": true})
}

// CopyRequest is the request body for POST /api/v1/fs/copy.
type CopyRequest struct {
	MountID string `json:"mountId"`
	SrcPath string `json:"srcPath"`
	DstPath string `json:"dstPath"`
}

// Copy handles POST /api/v1/fs/copy.
func (h *FSHandler) Copy(w http.ResponseWriter, r *http.Request) {
	if _, ok := claimsOrUnauthorized(w, r); !ok {
		return
	}

	var req CopyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if _, ok := h.mount(w, r, req.MountID); !ok {
		return
	}
	if req.SrcPath == "" || req.DstPath == "" {
		BadRequest(w, "srcPath and dstPath are required")
		return
	}

	if err := h.facade.Copy(r.Context(), req.MountID, req.SrcPath, req.DstPath); err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONOK(w, map[string]any{"success": true})
}

// RemoveRequest is the request body for POST /api/v1/fs/remove.
type RemoveRequest struct {
	MountID string   `json:"mountId"`
	Paths   []string `json:"paths"`
}

// RemovedPath is the per-path outcome of a batch removal.
type RemovedPath struct {
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

// RemoveResponse is the response body for POST /api/v1/fs/remove.
type RemoveResponse struct {
	Results []RemovedPath `json:"results"`
}

// Remove handles POST /api/v1/fs/remove.
// The batch always answers 200; per-path failures ride in the results.
func (h *FSHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if _, ok := claimsOrUnauthorized(w, r); !ok {
		return
	}

	var req RemoveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if _, ok := h.mount(w, r, req.MountID); !ok {
		return
	}
	if len(req.Paths) == 0 {
		BadRequest(w, "paths is required")
		return
	}

	results, err := h.facade.RemoveBatch(r.Context(), req.MountID, req.Paths)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	resp := RemoveResponse{Results: make([]RemovedPath, 0, len(results))}
	for _, res := range results {
		rp := RemovedPath{Path: res.Path}
		if res.Err != nil {
			rp.Error = res.Err.Error()
		}
		resp.Results = append(resp.Results, rp)
	}
	WriteJSONOK(w, resp)
}
