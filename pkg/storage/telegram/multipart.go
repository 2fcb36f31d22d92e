package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/internal/retry"
	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/storage"
	"github.com/gatefs/gatefs/pkg/upload"
	"github.com/gatefs/gatefs/pkg/vindex"
)

func (d *Driver) policy() storage.Policy {
	return storage.Policy{
		SigningMode:        storage.SigningModeSingleSession,
		RefreshPolicy:      "server_decides",
		PartsLedgerPolicy:  storage.LedgerServerRecords,
		MaxPartsPerRequest: 1,
		URLTTLSeconds:      int(d.sessionTTL.Seconds()),
		RetryPolicy:        storage.RetryPolicy{MaxAttempts: 3},
	}
}

// InitMultipart implements storage.MultipartDriver. No backend call happens
// here: the chat knows nothing until the first chunk arrives.
func (d *Driver) InitMultipart(ctx context.Context, in *storage.InitMultipartInput) (out *storage.InitMultipartOutput, err error) {
	start := time.Now()
	defer func() { d.observe("InitMultipart", start, err) }()

	sess := in.Session

	if in.PartSize > 0 && in.PartSize < storage.MinPartSize {
		return nil, fault.Validation("part size must be at least %d bytes, got %d", storage.MinPartSize, in.PartSize)
	}
	partSize := storage.ClampPartSize(in.PartSize, storage.MinPartSize, storage.MaxPartSizeChat)

	if sess.FileSize > storage.MaxObjectSize(storage.MaxPartSizeChat) {
		return nil, fault.Validation("file size %d exceeds the backend object limit", sess.FileSize)
	}
	totalParts := storage.PartsFor(sess.FileSize, partSize)
	if totalParts > storage.MaxParts {
		return nil, fault.Validation("file needs %d parts at this part size, limit is %d", totalParts, storage.MaxParts)
	}

	sess.Strategy = upload.StrategySingleSession
	sess.PartSize = partSize
	sess.TotalParts = totalParts
	sess.NextExpectedRange = "0-"
	sess.ExpiresAt = time.Now().Add(d.sessionTTL)
	if err := sess.SetMeta(map[string]any{
		"chatId":   d.chatID,
		"partSize": partSize,
	}); err != nil {
		return nil, fault.Infrastructure("failed to encode session provider meta", err)
	}

	logger.Debug("initialized chat upload session",
		logger.UploadID(sess.ID),
		logger.Mount(sess.MountID),
		logger.Path(sess.FSPath),
		"total_parts", totalParts,
		"part_size", partSize)

	return &storage.InitMultipartOutput{
		UploadChunkURL: storage.ChunkUploadURL(sess.ID),
		Policy:         d.policy(),
	}, nil
}

// SignParts implements storage.MultipartDriver. There is nothing to sign:
// chunks flow through the gateway.
func (d *Driver) SignParts(_ context.Context, _ *upload.Session, _ []int) (*storage.SignPartsOutput, error) {
	return nil, fault.Validation("single_session uploads have no signable part URLs")
}

// ProxyChunk implements storage.ChunkProxy. Duplicate deliveries of the
// same chunk are collapsed: confirmed parts are skipped, in-flight twins are
// awaited, and only then does a chunk claim the part and send it.
func (d *Driver) ProxyChunk(ctx context.Context, sess *upload.Session, cr upload.ContentRange, body io.Reader) (res *storage.ChunkResult, err error) {
	start := time.Now()
	defer func() { d.observe("ProxyChunk", start, err) }()

	if sess.Strategy != upload.StrategySingleSession {
		return nil, fault.Validation("session %s does not accept proxied chunks", sess.ID)
	}
	if cr.Total != sess.FileSize {
		return nil, fault.Validation("content range total %d does not match the session file size %d", cr.Total, sess.FileSize)
	}

	partNo, err := cr.PartNo(sess.PartSize)
	if err != nil {
		return nil, fault.Validation("%v", err)
	}
	if partNo > sess.TotalParts {
		return nil, fault.Validation("part number %d is outside 1..%d", partNo, sess.TotalParts)
	}
	if want := d.expectedChunkSize(sess, partNo); cr.Size() != want {
		return nil, fault.Validation("part %d must cover %d bytes, range covers %d", partNo, want, cr.Size())
	}

	// Claim the part before touching the backend so concurrent duplicates
	// see the uploading row and wait instead of double-sending. The claim
	// is a conditional upsert; losing it means a twin delivery got there
	// first, so we go back to waiting on its outcome.
	for {
		skip, stale, err := d.awaitDuplicate(ctx, sess, partNo, cr)
		if err != nil {
			return nil, err
		}
		if skip {
			return d.chunkResult(ctx, sess, partNo, true)
		}

		claim := &upload.Part{
			UploadID:  sess.ID,
			PartNo:    partNo,
			ByteStart: cr.Start,
			ByteEnd:   cr.End,
			Size:      cr.Size(),
			Status:    upload.PartStatusUploading,
		}
		if stale {
			// the holder is presumed dead, seize the row unconditionally
			if err := d.parts.UpsertPart(ctx, claim); err != nil {
				return nil, err
			}
			break
		}
		claimed, err := d.parts.ClaimPart(ctx, claim)
		if err != nil {
			return nil, err
		}
		if claimed {
			break
		}
	}

	msg, err := d.sendChunk(ctx, sess, partNo, cr, body)
	if err != nil {
		d.recordPartError(ctx, sess.ID, partNo, cr, err)
		return nil, err
	}

	meta := partProviderMeta{ChatID: msg.Chat.ID, MessageID: msg.MessageID}
	if msg.Document != nil {
		meta.FileID = msg.Document.FileID
		meta.FileUniqueID = msg.Document.FileUniqueID
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fault.Infrastructure("failed to encode part provider meta", err)
	}

	uploaded := &upload.Part{
		UploadID:       sess.ID,
		PartNo:         partNo,
		ByteStart:      cr.Start,
		ByteEnd:        cr.End,
		Size:           cr.Size(),
		Status:         upload.PartStatusUploaded,
		ProviderPartID: meta.FileID,
		ProviderMeta:   string(metaJSON),
	}
	if err := d.parts.UpsertPart(ctx, uploaded); err != nil {
		return nil, err
	}

	if d.metrics != nil {
		d.metrics.RecordBytes("ProxyChunk", cr.Size())
	}

	return d.chunkResult(ctx, sess, partNo, false)
}

// expectedChunkSize is the byte count part partNo must carry: the part size,
// except the final part which takes the remainder.
func (d *Driver) expectedChunkSize(sess *upload.Session, partNo int) int64 {
	if partNo == sess.TotalParts {
		if rem := sess.FileSize - int64(sess.TotalParts-1)*sess.PartSize; rem > 0 {
			return rem
		}
	}
	return sess.PartSize
}

// awaitDuplicate resolves redeliveries of a chunk. skip means the part is
// already uploaded and the caller must not send again; stale means an
// in-flight twin exceeded the poll budget and the caller may force the
// takeover.
func (d *Driver) awaitDuplicate(ctx context.Context, sess *upload.Session, partNo int, cr upload.ContentRange) (skip, stale bool, err error) {
	existing, err := d.parts.GetPart(ctx, sess.ID, partNo)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return false, false, nil
		}
		return false, false, err
	}

	matches := existing.ByteStart == cr.Start && existing.ByteEnd == cr.End
	if !matches {
		return false, false, fault.Validation("part %d was recorded for bytes %d-%d, chunk carries %d-%d",
			partNo, existing.ByteStart, existing.ByteEnd, cr.Start, cr.End)
	}

	switch existing.Status {
	case upload.PartStatusUploaded:
		return true, false, nil
	case upload.PartStatusUploading:
		// a twin holds the part; wait for its verdict
	default:
		return false, false, nil // pending or errored, re-attempt
	}

	deadline := time.Now().Add(uploadingPollBudget)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, false, ctx.Err()
		case <-time.After(uploadingPollInterval):
		}

		part, err := d.parts.GetPart(ctx, sess.ID, partNo)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				return false, false, nil
			}
			return false, false, err
		}
		switch part.Status {
		case upload.PartStatusUploaded:
			return true, false, nil
		case upload.PartStatusUploading:
			continue
		default:
			return false, false, nil
		}
	}

	logger.Warn("in-flight twin never finished, taking over the part",
		logger.UploadID(sess.ID), logger.PartNo(partNo))
	return false, true, nil
}

// sendChunk spools the chunk and forwards it as one document. The spool
// makes the body re-readable for the 429 retry inside the bot client.
func (d *Driver) sendChunk(ctx context.Context, sess *upload.Session, partNo int, cr upload.ContentRange, body io.Reader) (*Message, error) {
	spool, err := os.CreateTemp(d.spoolDir, "gatefs-chunk-*")
	if err != nil {
		return nil, fault.Infrastructure("failed to create chunk spool", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	copied, err := io.Copy(spool, io.LimitReader(body, cr.Size()+1))
	if err != nil {
		return nil, fault.Infrastructure("failed to spool chunk body", err)
	}
	if copied != cr.Size() {
		return nil, fault.Validation("chunk body carries %d bytes, range says %d", copied, cr.Size())
	}

	filename := fmt.Sprintf("%s.part%05d", sess.FileName, partNo)
	return d.bot.SendDocument(ctx, d.chatID, filename, spool)
}

// recordPartError stamps the part row with the failure. Best effort: the
// original error is what the caller sees.
func (d *Driver) recordPartError(ctx context.Context, uploadID string, partNo int, cr upload.ContentRange, cause error) {
	errRow := &upload.Part{
		UploadID:     uploadID,
		PartNo:       partNo,
		ByteStart:    cr.Start,
		ByteEnd:      cr.End,
		Size:         cr.Size(),
		Status:       upload.PartStatusError,
		ErrorCode:    fault.KindOf(cause).String(),
		ErrorMessage: fault.MessageOf(cause),
	}
	if err := d.parts.UpsertPart(context.WithoutCancel(ctx), errRow); err != nil {
		logger.Warn("failed to record part error",
			logger.UploadID(uploadID), logger.PartNo(partNo), logger.Err(err))
	}
}

// chunkResult refreshes the session counters from the ledger and reports
// the chunk outcome.
func (d *Driver) chunkResult(ctx context.Context, sess *upload.Session, partNo int, skipped bool) (*storage.ChunkResult, error) {
	rows, err := d.parts.ListParts(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	var bytesUploaded int64
	uploadedParts := 0
	uploadedByNo := make(map[int]bool, len(rows))
	for _, row := range rows {
		if row.Status == upload.PartStatusUploaded {
			bytesUploaded += row.Size
			uploadedParts++
			uploadedByNo[row.PartNo] = true
		}
	}

	next := ""
	for n := 1; n <= sess.TotalParts; n++ {
		if !uploadedByNo[n] {
			next = fmt.Sprintf("%d-", int64(n-1)*sess.PartSize)
			break
		}
	}

	status := upload.StatusInProgress
	expiresAt := time.Now().Add(d.sessionTTL)
	patch := upload.Patch{
		Status:            &status,
		BytesUploaded:     &bytesUploaded,
		UploadedParts:     &uploadedParts,
		NextExpectedRange: &next,
		ExpiresAt:         &expiresAt,
	}
	if err := d.parts.UpdateSession(ctx, sess.ID, patch); err != nil {
		return nil, err
	}
	sess.Status = status
	sess.BytesUploaded = bytesUploaded
	sess.UploadedParts = uploadedParts
	sess.NextExpectedRange = next
	sess.ExpiresAt = expiresAt

	return &storage.ChunkResult{
		PartNo:            partNo,
		Skipped:           skipped,
		BytesUploaded:     bytesUploaded,
		UploadedParts:     uploadedParts,
		NextExpectedRange: next,
	}, nil
}

// ListUploadedParts implements storage.MultipartDriver. The gateway ledger
// is authoritative (server_records).
func (d *Driver) ListUploadedParts(ctx context.Context, sess *upload.Session) (out *storage.ListUploadedPartsOutput, err error) {
	start := time.Now()
	defer func() { d.observe("ListUploadedParts", start, err) }()

	rows, err := d.parts.ListParts(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	parts := make([]storage.UploadedPart, 0, len(rows))
	for _, row := range rows {
		if row.Status != upload.PartStatusUploaded {
			continue
		}
		parts = append(parts, storage.UploadedPart{
			PartNumber:   row.PartNo,
			Size:         row.Size,
			ETag:         row.ProviderPartID,
			LastModified: row.UpdatedAt,
		})
	}
	return &storage.ListUploadedPartsOutput{Parts: parts}, nil
}

// CompleteMultipart implements storage.MultipartDriver. Client-attested
// parts are ignored: the gateway saw every byte, its ledger decides. The
// bytes are already durable in the chat, so the node write gets retried
// hard before giving up.
func (d *Driver) CompleteMultipart(ctx context.Context, sess *upload.Session, _ []storage.CompletedPart) (out *storage.CompleteMultipartOutput, err error) {
	start := time.Now()
	defer func() { d.observe("CompleteMultipart", start, err) }()

	rows, err := d.parts.ListParts(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	uploaded := make([]*upload.Part, 0, len(rows))
	uploadedByNo := make(map[int]bool, len(rows))
	for _, row := range rows {
		if row.Status == upload.PartStatusUploaded {
			uploaded = append(uploaded, row)
			uploadedByNo[row.PartNo] = true
		}
	}
	for n := 1; n <= sess.TotalParts; n++ {
		if !uploadedByNo[n] {
			return nil, fault.Validation("missing part %d/%d, resume required", n, sess.TotalParts)
		}
	}

	manifest, err := buildManifest(d.chatID, uploaded)
	if err != nil {
		return nil, err
	}
	contentRef, err := manifest.Encode()
	if err != nil {
		return nil, err
	}

	node := &vindex.Node{
		StorageConfigID: d.configID,
		FSPath:          sess.FSPath,
		Size:            sess.FileSize,
		MimeType:        sess.MimeType,
		ModifiedAt:      time.Now(),
		ContentRef:      contentRef,
	}
	err = retry.Do(ctx, nodeWriteRetry, isTransientNodeWrite, func(ctx context.Context) error {
		return d.nodes.PutFile(ctx, node)
	})
	if err != nil {
		if fault.IsKind(err, fault.KindConflict) || fault.IsKind(err, fault.KindValidation) {
			return nil, err
		}
		return nil, fault.Upstream("upload is stored but the file node could not be written", err, false)
	}

	if err := d.parts.DeletePartsByUpload(ctx, sess.ID); err != nil {
		logger.Warn("failed to purge part ledger of completed upload",
			logger.UploadID(sess.ID), logger.Err(err))
	}

	logger.Info("chat upload completed",
		logger.UploadID(sess.ID),
		logger.Mount(sess.MountID),
		logger.Path(sess.FSPath),
		"parts", sess.TotalParts)

	return &storage.CompleteMultipartOutput{
		Location: sess.FSPath,
		Parts:    sess.TotalParts,
	}, nil
}

// isTransientNodeWrite approves retries of the complete-time node write.
// Contract violations stay final, infrastructure hiccups get another try.
func isTransientNodeWrite(err error) bool {
	switch fault.KindOf(err) {
	case fault.KindConflict, fault.KindValidation, fault.KindCancelled:
		return false
	default:
		return true
	}
}

// AbortMultipart implements storage.MultipartDriver. Already-sent parts are
// deleted from the chat best-effort; the ledger purge is what matters.
func (d *Driver) AbortMultipart(ctx context.Context, sess *upload.Session) (err error) {
	start := time.Now()
	defer func() { d.observe("AbortMultipart", start, err) }()

	rows, err := d.parts.ListParts(ctx, sess.ID)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if row.Status != upload.PartStatusUploaded || row.ProviderMeta == "" {
			continue
		}
		var meta partProviderMeta
		if err := json.Unmarshal([]byte(row.ProviderMeta), &meta); err != nil {
			continue
		}
		if err := d.bot.DeleteMessage(ctx, meta.ChatID, meta.MessageID); err != nil {
			logger.Debug("failed to delete aborted part message",
				logger.UploadID(sess.ID), logger.PartNo(row.PartNo), logger.Err(err))
		}
	}

	return d.parts.DeletePartsByUpload(ctx, sess.ID)
}
