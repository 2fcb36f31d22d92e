package handlers

import (
	"net/http"

	"github.com/gatefs/gatefs/pkg/api/auth"
	"github.com/gatefs/gatefs/pkg/multipart"
	"github.com/gatefs/gatefs/pkg/storage"
	"github.com/gatefs/gatefs/pkg/upload"
)

// MultipartHandler exposes the upload coordinator over HTTP.
type MultipartHandler struct {
	coordinator *multipart.Coordinator

	// maxChunkSize caps the request body of relayed chunks. 0 disables
	// the cap.
	maxChunkSize int64
}

// NewMultipartHandler creates a new MultipartHandler.
func NewMultipartHandler(coordinator *multipart.Coordinator, maxChunkSize int64) *MultipartHandler {
	return &MultipartHandler{coordinator: coordinator, maxChunkSize: maxChunkSize}
}

// actorFrom maps JWT claims onto a coordinator actor.
func actorFrom(claims *auth.Claims) multipart.Actor {
	return multipart.Actor{UserID: claims.UserID, Admin: claims.IsAdmin()}
}

// InitRequest is the request body for POST /api/v1/multipart/init.
type InitRequest struct {
	MountID     string `json:"mountId"`
	Path        string `json:"path"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType,omitempty"`
	PartSize    int64  `json:"partSize,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// SessionInfo carries the gateway ingestion URL of a single_session upload.
type SessionInfo struct {
	UploadURL string `json:"uploadUrl"`
}

// InitResponse is the response body for POST /api/v1/multipart/init.
type InitResponse struct {
	UploadID      string                  `json:"uploadId"`
	Strategy      upload.Strategy         `json:"strategy"`
	PartSize      int64                   `json:"partSize"`
	TotalParts    int                     `json:"totalParts"`
	PresignedURLs []storage.SignedPartURL `json:"presignedUrls,omitempty"`
	Session       *SessionInfo            `json:"session,omitempty"`
	Policy        storage.Policy          `json:"policy"`

	// Resumed flags that an existing active session was returned; the
	// progress fields tell the client where to pick up.
	Resumed           bool   `json:"resumed,omitempty"`
	BytesUploaded     int64  `json:"bytesUploaded,omitempty"`
	UploadedParts     int    `json:"uploadedParts,omitempty"`
	NextExpectedRange string `json:"nextExpectedRange,omitempty"`
}

// Init handles POST /api/v1/multipart/init.
// Starts a new upload session or resumes an existing one for the same target.
func (h *MultipartHandler) Init(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req InitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	out, err := h.coordinator.Initialize(r.Context(), actorFrom(claims), multipart.InitializeInput{
		MountID:     req.MountID,
		FSPath:      req.Path,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		MimeType:    req.MimeType,
		PartSize:    req.PartSize,
		Concurrency: req.Concurrency,
		Fingerprint: req.Fingerprint,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	resp := InitResponse{
		UploadID:      out.Session.ID,
		Strategy:      out.Session.Strategy,
		PartSize:      out.Session.PartSize,
		TotalParts:    out.Session.TotalParts,
		PresignedURLs: out.URLs,
		Policy:        out.Policy,
		Resumed:       out.Resumed,
	}
	if out.UploadChunkURL != "" {
		resp.Session = &SessionInfo{UploadURL: out.UploadChunkURL}
	}
	if out.Resumed {
		resp.BytesUploaded = out.Session.BytesUploaded
		resp.UploadedParts = out.Session.UploadedParts
		resp.NextExpectedRange = out.Session.NextExpectedRange
	}

	WriteJSONOK(w, resp)
}

// SignRequest is the request body for POST /api/v1/multipart/sign.
type SignRequest struct {
	UploadID string `json:"uploadId"`

	// PartNumbers selects parts to sign; empty lets the server decide.
	PartNumbers []int `json:"partNumbers,omitempty"`
}

// SignResponse is the response body for POST /api/v1/multipart/sign.
type SignResponse struct {
	PresignedURLs []storage.SignedPartURL `json:"presignedUrls"`
	ExpiresIn     int64                   `json:"expiresIn"`
	PartSize      int64                   `json:"partSize"`
	TotalParts    int                     `json:"totalParts"`
	Policy        storage.Policy          `json:"policy"`
}

// Sign handles POST /api/v1/multipart/sign.
// Issues a fresh window of presigned part URLs.
func (h *MultipartHandler) Sign(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req SignRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.UploadID == "" {
		BadRequest(w, "uploadId is required")
		return
	}

	out, err := h.coordinator.Sign(r.Context(), actorFrom(claims), req.UploadID, req.PartNumbers)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	urls := out.URLs
	if urls == nil {
		urls = []storage.SignedPartURL{}
	}
	WriteJSONOK(w, SignResponse{
		PresignedURLs: urls,
		ExpiresIn:     int64(out.ExpiresIn.Seconds()),
		PartSize:      out.PartSize,
		TotalParts:    out.TotalParts,
		Policy:        out.Policy,
	})
}

// PartsResponse is the response body for GET /api/v1/multipart/parts.
type PartsResponse struct {
	Parts  []storage.UploadedPart `json:"parts"`
	Policy storage.Policy         `json:"policy"`
}

// Parts handles GET /api/v1/multipart/parts?upload_id=…
// Returns the authoritative uploaded-parts ledger of a session.
func (h *MultipartHandler) Parts(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	uploadID := r.URL.Query().Get("upload_id")
	if uploadID == "" {
		BadRequest(w, "upload_id query parameter is required")
		return
	}

	out, err := h.coordinator.ListParts(r.Context(), actorFrom(claims), uploadID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	parts := out.Parts
	if parts == nil {
		parts = []storage.UploadedPart{}
	}
	WriteJSONOK(w, PartsResponse{Parts: parts, Policy: out.Policy})
}

// CompleteRequest is the request body for POST /api/v1/multipart/complete.
type CompleteRequest struct {
	UploadID string `json:"uploadId"`

	// Parts is the client's attested ledger; empty lets the server use
	// its own.
	Parts []storage.CompletedPart `json:"parts,omitempty"`
}

// CompleteResponse is the response body for POST /api/v1/multipart/complete.
type CompleteResponse struct {
	StoragePath string `json:"storagePath"`
	ETag        string `json:"etag,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Parts       int    `json:"parts"`
}

// Complete handles POST /api/v1/multipart/complete.
// Assembles the uploaded parts into the final object.
func (h *MultipartHandler) Complete(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req CompleteRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.UploadID == "" {
		BadRequest(w, "uploadId is required")
		return
	}

	out, err := h.coordinator.Complete(r.Context(), actorFrom(claims), req.UploadID, req.Parts)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONOK(w, CompleteResponse{
		StoragePath: out.StoragePath,
		ETag:        out.ETag,
		ContentType: out.ContentType,
		Parts:       out.Parts,
	})
}

// AbortRequest is the request body for POST /api/v1/multipart/abort.
type AbortRequest struct {
	UploadID string `json:"uploadId"`
	Reason   string `json:"reason,omitempty"`
}

// AbortResponse is the response body for POST /api/v1/multipart/abort.
type AbortResponse struct {
	Success bool `json:"success"`
}

// Abort handles POST /api/v1/multipart/abort.
// Cancels a session and releases backend resources best-effort.
func (h *MultipartHandler) Abort(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req AbortRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.UploadID == "" {
		BadRequest(w, "uploadId is required")
		return
	}

	if err := h.coordinator.Abort(r.Context(), actorFrom(claims), req.UploadID, req.Reason); err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONOK(w, AbortResponse{Success: true})
}

// UploadChunk handles PUT /api/v1/multipart/upload-chunk?upload_id=…
//
// The Content-Range header is required; its absence is a validation
// failure, not a server error. Chunk bytes stream through to the driver.
func (h *MultipartHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	uploadID := r.URL.Query().Get("upload_id")
	if uploadID == "" {
		BadRequest(w, "upload_id query parameter is required")
		return
	}

	contentRange := r.Header.Get("Content-Range")
	if contentRange == "" {
		BadRequest(w, "Content-Range header is required")
		return
	}

	body := r.Body
	if h.maxChunkSize > 0 {
		if r.ContentLength > h.maxChunkSize {
			WriteProblem(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large",
				"chunk exceeds the configured size limit")
			return
		}
		body = http.MaxBytesReader(w, r.Body, h.maxChunkSize)
	}

	res, err := h.coordinator.ProxyChunk(r.Context(), actorFrom(claims), uploadID, contentRange, body)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONOK(w, res)
}

// SessionsResponse is the response body for GET /api/v1/multipart/sessions.
type SessionsResponse struct {
	Sessions []*upload.Session `json:"sessions"`
}

// Sessions handles GET /api/v1/multipart/sessions.
// Lists the caller's active sessions; admins see everyone's.
func (h *MultipartHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := upload.Filter{
		StorageType: q.Get("storage_type"),
		MountID:     q.Get("mount_id"),
		PathPrefix:  q.Get("path_prefix"),
	}

	sessions, err := h.coordinator.ListActive(r.Context(), actorFrom(claims), filter)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if sessions == nil {
		sessions = []*upload.Session{}
	}
	WriteJSONOK(w, SessionsResponse{Sessions: sessions})
}
