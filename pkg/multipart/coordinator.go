// Package multipart coordinates resumable uploads across storage backends.
// The coordinator is driver-agnostic: drivers own part sizing, URL signing
// and assembly, the coordinator owns session lifecycle, fingerprint resume
// and the client-facing policy contract. A background reaper aborts
// sessions whose deadline passed.
package multipart

import (
	"context"
	"encoding/json"
	"io"
	"path"
	"time"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/internal/telemetry"
	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/storage"
	"github.com/gatefs/gatefs/pkg/upload"
)

// DefaultSessionTTL bounds how long an initiated session may sit idle
// before the reaper takes it. Signing and accepted chunks push the deadline.
const DefaultSessionTTL = 24 * time.Hour

// Abort reasons recorded in provider meta for observability.
const (
	AbortReasonClient       = "client"
	AbortReasonExpired      = "expired"
	AbortReasonUploadFailed = "upload_failed"
)

// Actor identifies the caller. Admins see and mutate every session.
type Actor struct {
	UserID string
	Admin  bool
}

// Metrics is the optional operation observer. Nil disables collection.
type Metrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	RecordBytes(operation string, n int64)
}

// Config assembles a Coordinator.
type Config struct {
	Sessions upload.Store
	Registry *fs.Registry

	// Notifier receives an invalidation event when a completed upload
	// lands in the tree. Optional.
	Notifier *fs.Notifier

	// SessionTTL overrides DefaultSessionTTL.
	SessionTTL time.Duration

	// Metrics is optional.
	Metrics Metrics
}

// Coordinator is the driver-agnostic upload façade.
type Coordinator struct {
	sessions   upload.Store
	registry   *fs.Registry
	notifier   *fs.Notifier
	sessionTTL time.Duration
	metrics    Metrics
}

// New validates the config and returns the coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Sessions == nil {
		return nil, fault.Validation("session store is required")
	}
	if cfg.Registry == nil {
		return nil, fault.Validation("mount registry is required")
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = fs.NewNotifier()
	}

	return &Coordinator{
		sessions:   cfg.Sessions,
		registry:   cfg.Registry,
		notifier:   notifier,
		sessionTTL: ttl,
		metrics:    cfg.Metrics,
	}, nil
}

func (c *Coordinator) observe(operation string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.ObserveOperation(operation, time.Since(start), err)
	}
}

// traced opens a span and returns a finish func that records the outcome on
// both the span and the metrics collector.
func (c *Coordinator) traced(ctx context.Context, operation, spanOp, uploadID string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := telemetry.StartUploadSpan(ctx, spanOp, uploadID)
	return ctx, func(err error) {
		telemetry.RecordError(ctx, err)
		span.End()
		c.observe(operation, start, err)
	}
}

// InitializeInput describes the upload target.
type InitializeInput struct {
	MountID  string
	FSPath   string
	FileName string
	FileSize int64
	MimeType string

	// PartSize is the client's preference; 0 lets the driver choose.
	PartSize int64

	// Concurrency is the client's declared parallelism.
	Concurrency int

	// Fingerprint overrides the server-computed resume key. Optional.
	Fingerprint string
}

// InitializeOutput reports the session and its upload contract.
type InitializeOutput struct {
	Session *upload.Session

	// Resumed flags that an existing active session was returned instead
	// of a new one.
	Resumed bool

	// URLs is the initial presigned window (batched signing).
	URLs []storage.SignedPartURL

	// UploadChunkURL is the gateway ingestion URL (single_session).
	UploadChunkURL string

	Policy storage.Policy
}

// Initialize starts or resumes an upload. Re-initializing an identical
// target returns the caller's existing active session; a fingerprint held
// by another user's active session is a conflict.
func (c *Coordinator) Initialize(ctx context.Context, actor Actor, in InitializeInput) (out *InitializeOutput, err error) {
	ctx, finish := c.traced(ctx, "Initialize", "init", "")
	defer func() { finish(err) }()

	if actor.UserID == "" {
		return nil, fault.Validation("upload sessions require an authenticated user")
	}
	if in.FileSize <= 0 {
		return nil, fault.Validation("cannot upload a zero-length file")
	}
	fsPath := fs.CleanPath(in.FSPath)
	if fsPath == "/" {
		return nil, fault.Validation("upload target must be a file path")
	}
	fileName := in.FileName
	if fileName == "" {
		fileName = path.Base(fsPath)
	}

	mount, mpd, err := c.mountDriver(in.MountID)
	if err != nil {
		return nil, err
	}

	fingerprint := in.Fingerprint
	if fingerprint == "" {
		fingerprint = upload.Fingerprint(
			actor.UserID, mount.StorageConfigID, mount.ID, fsPath, fileName, in.FileSize)
	}

	if existing, err := c.sessions.FindSessionByFingerprint(ctx, actor.UserID, fingerprint); err == nil {
		logger.InfoCtx(ctx, "resuming upload session",
			logger.UploadID(existing.ID),
			logger.Mount(existing.MountID),
			logger.Path(existing.FSPath),
			logger.UserID(actor.UserID))
		return c.resumeOutput(existing), nil
	} else if !fault.IsKind(err, fault.KindNotFound) {
		return nil, err
	}

	sess := &upload.Session{
		StorageType:     mount.StorageType,
		StorageConfigID: mount.StorageConfigID,
		MountID:         mount.ID,
		FSPath:          fsPath,
		FileName:        fileName,
		FileSize:        in.FileSize,
		MimeType:        in.MimeType,
		Fingerprint:     fingerprint,
		UserID:          actor.UserID,
		ExpiresAt:       time.Now().Add(c.sessionTTL),
	}

	initOut, err := mpd.InitMultipart(ctx, &storage.InitMultipartInput{
		Session:     sess,
		PartSize:    in.PartSize,
		Concurrency: in.Concurrency,
	})
	if err != nil {
		return nil, err
	}

	if _, err := c.sessions.CreateSession(ctx, sess); err != nil {
		// the backend upload is already open; close it so nothing leaks
		if abortErr := mpd.AbortMultipart(context.WithoutCancel(ctx), sess); abortErr != nil {
			logger.Warn("failed to abort orphaned backend upload",
				logger.UploadID(sess.ID), logger.Err(abortErr))
		}
		return nil, err
	}

	logger.InfoCtx(ctx, "initialized upload session",
		logger.UploadID(sess.ID),
		logger.Mount(sess.MountID),
		logger.Path(sess.FSPath),
		logger.UserID(actor.UserID),
		"strategy", string(sess.Strategy),
		"total_parts", sess.TotalParts)

	return &InitializeOutput{
		Session:        sess,
		URLs:           initOut.URLs,
		UploadChunkURL: initOut.UploadChunkURL,
		Policy:         initOut.Policy,
	}, nil
}

func (c *Coordinator) resumeOutput(sess *upload.Session) *InitializeOutput {
	out := &InitializeOutput{
		Session: sess,
		Resumed: true,
		Policy:  policyFromSession(sess),
	}
	if sess.Strategy == upload.StrategySingleSession {
		out.UploadChunkURL = storage.ChunkUploadURL(sess.ID)
	}
	return out
}

// SignOutput carries a window of presigned part URLs.
type SignOutput struct {
	URLs       []storage.SignedPartURL
	ExpiresIn  time.Duration
	PartSize   int64
	TotalParts int
	Policy     storage.Policy
}

// Sign issues presigned URLs for the given parts. An empty partNumbers
// slice means server_decides: the driver picks the window after the first
// gap in the backend ledger, and an exhausted scan yields an empty batch,
// not an error. Each sign pushes the session deadline.
func (c *Coordinator) Sign(ctx context.Context, actor Actor, uploadID string, partNumbers []int) (out *SignOutput, err error) {
	ctx, finish := c.traced(ctx, "Sign", "sign", uploadID)
	defer func() { finish(err) }()

	sess, mpd, err := c.loadForUpload(ctx, actor, uploadID)
	if err != nil {
		return nil, err
	}

	signed, err := mpd.SignParts(ctx, sess, partNumbers)
	if err != nil {
		return nil, err
	}

	policy := policyFromSession(sess)
	if err := c.extendSession(ctx, sess, policy); err != nil {
		return nil, err
	}

	return &SignOutput{
		URLs:       signed.URLs,
		ExpiresIn:  signed.ExpiresIn,
		PartSize:   sess.PartSize,
		TotalParts: sess.TotalParts,
		Policy:     policy,
	}, nil
}

// extendSession pushes expires_at by the policy URL TTL and flips a fresh
// session to in_progress.
func (c *Coordinator) extendSession(ctx context.Context, sess *upload.Session, policy storage.Policy) error {
	ttl := time.Duration(policy.URLTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = c.sessionTTL
	}
	expiresAt := time.Now().Add(ttl)
	patch := upload.Patch{ExpiresAt: &expiresAt}
	if sess.Status == upload.StatusInitiated {
		inProgress := upload.StatusInProgress
		patch.Status = &inProgress
	}
	if err := c.sessions.UpdateSession(ctx, sess.ID, patch); err != nil {
		return err
	}
	sess.ExpiresAt = expiresAt
	if patch.Status != nil {
		sess.Status = *patch.Status
	}
	return nil
}

// PartsOutput is the confirmed parts ledger of a session.
type PartsOutput struct {
	Parts  []storage.UploadedPart
	Policy storage.Policy
}

// ListParts returns the authoritative parts ledger: the backend's for
// server_can_list sessions, the gateway's for server_records. A backend
// that already dropped the upload yields an empty ledger.
func (c *Coordinator) ListParts(ctx context.Context, actor Actor, uploadID string) (out *PartsOutput, err error) {
	ctx, finish := c.traced(ctx, "ListParts", "parts", uploadID)
	defer func() { finish(err) }()

	sess, err := c.loadAuthorized(ctx, actor, uploadID)
	if err != nil {
		return nil, err
	}
	_, mpd, err := c.sessionDriver(sess)
	if err != nil {
		return nil, err
	}

	listed, err := mpd.ListUploadedParts(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &PartsOutput{Parts: listed.Parts, Policy: policyFromSession(sess)}, nil
}

// CompleteOutput reports the assembled file.
type CompleteOutput struct {
	StoragePath string
	ETag        string
	ContentType string
	Parts       int
}

// Complete assembles the upload. The driver verifies the ledger covers
// every part; a gap fails validation and the session stays resumable.
func (c *Coordinator) Complete(ctx context.Context, actor Actor, uploadID string, parts []storage.CompletedPart) (out *CompleteOutput, err error) {
	ctx, finish := c.traced(ctx, "Complete", "complete", uploadID)
	defer func() { finish(err) }()

	sess, err := c.loadAuthorized(ctx, actor, uploadID)
	if err != nil {
		return nil, err
	}
	switch {
	case sess.Status == upload.StatusCompleted:
		return nil, fault.Conflict("session %s is already completed", sess.ID)
	case sess.Status == upload.StatusAborted:
		return nil, fault.Validation("session %s was aborted", sess.ID)
	case sess.IsExpired(time.Now()):
		return nil, fault.Expired("session %s expired at %s", sess.ID, sess.ExpiresAt.Format(time.RFC3339))
	}

	_, mpd, err := c.sessionDriver(sess)
	if err != nil {
		return nil, err
	}

	completed, err := mpd.CompleteMultipart(ctx, sess, parts)
	if err != nil {
		return nil, err
	}

	done := upload.StatusCompleted
	bytesUploaded := sess.FileSize
	uploadedParts := sess.TotalParts
	patch := upload.Patch{Status: &done, BytesUploaded: &bytesUploaded, UploadedParts: &uploadedParts}
	if err := c.sessions.UpdateSession(ctx, sess.ID, patch); err != nil {
		return nil, err
	}

	c.notifier.Emit(ctx, fs.Event{
		MountID:         sess.MountID,
		StorageConfigID: sess.StorageConfigID,
		Paths:           []string{sess.FSPath},
		Reason:          fs.ReasonMultipartComplete,
	})

	logger.InfoCtx(ctx, "upload completed",
		logger.UploadID(sess.ID),
		logger.Mount(sess.MountID),
		logger.Path(sess.FSPath),
		logger.Size(sess.FileSize),
		"parts", completed.Parts)

	storagePath := completed.Location
	if storagePath == "" {
		storagePath = sess.FSPath
	}
	return &CompleteOutput{
		StoragePath: storagePath,
		ETag:        completed.ETag,
		ContentType: sess.MimeType,
		Parts:       completed.Parts,
	}, nil
}

// Abort terminates a session. Aborting twice is fine; aborting a completed
// session is not. The reason lands in provider meta.
func (c *Coordinator) Abort(ctx context.Context, actor Actor, uploadID, reason string) (err error) {
	ctx, finish := c.traced(ctx, "Abort", "abort", uploadID)
	defer func() { finish(err) }()

	sess, err := c.loadAuthorized(ctx, actor, uploadID)
	if err != nil {
		return err
	}
	if sess.Status == upload.StatusAborted {
		return nil
	}
	if sess.Status == upload.StatusCompleted {
		return fault.Validation("session %s is already completed", sess.ID)
	}
	if reason == "" {
		reason = AbortReasonClient
	}
	return c.abortSession(ctx, sess, reason)
}

// abortSession drops the backend upload and stamps the session aborted.
// A backend that already forgot the upload does not block the abort.
func (c *Coordinator) abortSession(ctx context.Context, sess *upload.Session, reason string) error {
	_, mpd, err := c.sessionDriver(sess)
	if err != nil {
		return err
	}

	if err := mpd.AbortMultipart(ctx, sess); err != nil {
		if !fault.IsKind(err, fault.KindNotFound) && !fault.IsKind(err, fault.KindExpired) {
			return err
		}
	}

	meta, err := stampAbortReason(sess, reason)
	if err != nil {
		return err
	}
	aborted := upload.StatusAborted
	patch := upload.Patch{Status: &aborted, ProviderMeta: &meta}
	if err := c.sessions.UpdateSession(ctx, sess.ID, patch); err != nil {
		return err
	}

	logger.InfoCtx(ctx, "upload aborted",
		logger.UploadID(sess.ID),
		logger.Mount(sess.MountID),
		logger.Path(sess.FSPath),
		"reason", reason)
	return nil
}

// ProxyChunk ingests one chunk of a single_session upload. The driver
// serializes duplicate deliveries per part, so retried chunks are safe.
func (c *Coordinator) ProxyChunk(ctx context.Context, actor Actor, uploadID, contentRange string, body io.Reader) (res *storage.ChunkResult, err error) {
	ctx, finish := c.traced(ctx, "ProxyChunk", "upload_chunk", uploadID)
	defer func() { finish(err) }()

	cr, err := upload.ParseContentRange(contentRange)
	if err != nil {
		return nil, fault.Validation("%v", err)
	}

	sess, err := c.loadAuthorized(ctx, actor, uploadID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, fault.Validation("session %s is %s", sess.ID, sess.Status)
	}
	if sess.IsExpired(time.Now()) {
		return nil, fault.Expired("session %s expired at %s", sess.ID, sess.ExpiresAt.Format(time.RFC3339))
	}
	if sess.Strategy != upload.StrategySingleSession {
		return nil, fault.Validation("session %s does not accept gateway chunks", sess.ID)
	}

	mount, _, err := c.sessionDriver(sess)
	if err != nil {
		return nil, err
	}
	proxy, ok := mount.Driver.(storage.ChunkProxy)
	if !ok || !mount.Driver.Capabilities().Has(storage.CapProxy) {
		return nil, fault.Validation("mount %s cannot proxy upload chunks", mount.ID)
	}

	res, err = proxy.ProxyChunk(ctx, sess, cr, body)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil && !res.Skipped {
		c.metrics.RecordBytes("ProxyChunk", cr.Size())
	}
	return res, nil
}

// ListActive returns the caller's active sessions, any user's for admins.
// Session counters are overlaid with the part ledger so per-part uploads
// report real progress.
func (c *Coordinator) ListActive(ctx context.Context, actor Actor, filter upload.Filter) (sessions []*upload.Session, err error) {
	start := time.Now()
	defer func() { c.observe("ListActive", start, err) }()

	if !actor.Admin {
		filter.UserID = actor.UserID
	}

	sessions, err = c.sessions.ListActiveSessions(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return sessions, nil
	}

	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	stats, err := c.sessions.UploadedStatsByUploadIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if st, ok := stats[sess.ID]; ok {
			if st.Bytes > sess.BytesUploaded {
				sess.BytesUploaded = st.Bytes
			}
			if st.Parts > sess.UploadedParts {
				sess.UploadedParts = st.Parts
			}
		}
	}
	return sessions, nil
}

// loadAuthorized loads a session the actor may touch.
func (c *Coordinator) loadAuthorized(ctx context.Context, actor Actor, uploadID string) (*upload.Session, error) {
	if uploadID == "" {
		return nil, fault.Validation("upload id is required")
	}
	sess, err := c.sessions.FindSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && sess.UserID != actor.UserID {
		return nil, fault.Authorization("session %s belongs to another user", sess.ID)
	}
	return sess, nil
}

// loadForUpload adds the liveness checks shared by Sign.
func (c *Coordinator) loadForUpload(ctx context.Context, actor Actor, uploadID string) (*upload.Session, storage.MultipartDriver, error) {
	sess, err := c.loadAuthorized(ctx, actor, uploadID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, nil, fault.Validation("session %s is %s", sess.ID, sess.Status)
	}
	if sess.IsExpired(time.Now()) {
		return nil, nil, fault.Expired("session %s expired at %s", sess.ID, sess.ExpiresAt.Format(time.RFC3339))
	}
	_, mpd, err := c.sessionDriver(sess)
	if err != nil {
		return nil, nil, err
	}
	return sess, mpd, nil
}

// mountDriver resolves a mount able to run multipart uploads.
func (c *Coordinator) mountDriver(mountID string) (*fs.Mount, storage.MultipartDriver, error) {
	mount, err := c.registry.Get(mountID)
	if err != nil {
		return nil, nil, err
	}
	mpd, ok := mount.Driver.(storage.MultipartDriver)
	if !ok || !mount.Driver.Capabilities().Has(storage.CapMultipart) {
		return nil, nil, fault.Validation("mount %s does not support multipart uploads", mount.ID)
	}
	return mount, mpd, nil
}

// sessionDriver resolves the driver of an existing session, refusing
// storage-type drift between the session row and the mount.
func (c *Coordinator) sessionDriver(sess *upload.Session) (*fs.Mount, storage.MultipartDriver, error) {
	mount, mpd, err := c.mountDriver(sess.MountID)
	if err != nil {
		return nil, nil, err
	}
	if mount.Driver.Type() != sess.StorageType {
		return nil, nil, fault.Validation("session %s was created for storage type %s, mount %s now serves %s",
			sess.ID, sess.StorageType, mount.ID, mount.Driver.Type())
	}
	return mount, mpd, nil
}

// policyFromSession rebuilds the client policy of an existing session from
// its strategy and provider meta.
func policyFromSession(sess *upload.Session) storage.Policy {
	policy := storage.Policy{
		RefreshPolicy: "server_decides",
		RetryPolicy:   storage.RetryPolicy{MaxAttempts: 3},
	}

	meta, err := sess.Meta()
	if err != nil {
		meta = map[string]any{}
	}

	switch sess.Strategy {
	case upload.StrategySingleSession:
		policy.SigningMode = storage.SigningModeSingleSession
		policy.PartsLedgerPolicy = storage.LedgerServerRecords
		policy.MaxPartsPerRequest = 1
	default:
		policy.SigningMode = storage.SigningModeBatched
		policy.PartsLedgerPolicy = storage.LedgerServerCanList
		policy.MaxPartsPerRequest = storage.DefaultMaxPartsPerRequest
		if v, ok := meta["maxPartsPerRequest"].(float64); ok && v > 0 {
			policy.MaxPartsPerRequest = int(v)
		}
	}

	if v, ok := meta["urlTtlSeconds"].(float64); ok && v > 0 {
		policy.URLTTLSeconds = int(v)
	} else if secs := int(time.Until(sess.ExpiresAt).Seconds()); secs > 0 {
		policy.URLTTLSeconds = secs
	}
	return policy
}

// stampAbortReason records why the session ended in its provider meta.
func stampAbortReason(sess *upload.Session, reason string) (string, error) {
	meta, err := sess.Meta()
	if err != nil {
		meta = map[string]any{}
	}
	meta["abort_reason"] = reason
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fault.Infrastructure("failed to encode session provider meta", err)
	}
	return string(data), nil
}
