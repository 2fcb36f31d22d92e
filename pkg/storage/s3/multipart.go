package s3

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/internal/retry"
	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/storage"
	"github.com/gatefs/gatefs/pkg/upload"
)

// sessionMeta is the provider metadata persisted at init and read back on
// every later multipart call. Missing fields fall back to driver defaults so
// sessions survive config edits.
type sessionMeta struct {
	bucket string
	key    string
	ttl    time.Duration
	maxPPR int
}

func (d *Driver) sessionMeta(sess *upload.Session) sessionMeta {
	out := sessionMeta{
		bucket: d.bucket,
		key:    d.objectKey(sess.FSPath),
		ttl:    d.urlTTL,
		maxPPR: min(d.concurrency, MaxPartsPerRequestCap),
	}

	meta, err := sess.Meta()
	if err != nil {
		logger.Warn("ignoring unreadable session provider meta",
			logger.UploadID(sess.ID), logger.Err(err))
		return out
	}
	if v, ok := meta["bucket"].(string); ok && v != "" {
		out.bucket = v
	}
	if v, ok := meta["key"].(string); ok && v != "" {
		out.key = v
	}
	if v, ok := meta["urlTtlSeconds"].(float64); ok && v > 0 {
		out.ttl = time.Duration(v) * time.Second
	}
	if v, ok := meta["maxPartsPerRequest"].(float64); ok && v > 0 {
		out.maxPPR = int(v)
	}
	return out
}

func (d *Driver) policy(maxPPR int, ttl time.Duration) storage.Policy {
	return storage.Policy{
		SigningMode:        storage.SigningModeBatched,
		RefreshPolicy:      "server_decides",
		PartsLedgerPolicy:  storage.LedgerServerCanList,
		MaxPartsPerRequest: maxPPR,
		URLTTLSeconds:      int(ttl.Seconds()),
		RetryPolicy:        storage.RetryPolicy{MaxAttempts: int(d.retry.MaxRetries)},
	}
}

// InitMultipart implements storage.MultipartDriver. It creates the backend
// upload and presigns the first URL window; the full window set is never
// signed up front since uploads may carry 10000 parts.
func (d *Driver) InitMultipart(ctx context.Context, in *storage.InitMultipartInput) (out *storage.InitMultipartOutput, err error) {
	start := time.Now()
	defer func() { d.observe("InitMultipart", start, err) }()

	sess := in.Session

	if in.PartSize > 0 && in.PartSize < storage.MinPartSize {
		return nil, fault.Validation("part size must be at least %d bytes, got %d", storage.MinPartSize, in.PartSize)
	}
	partSize := storage.ClampPartSize(in.PartSize, storage.MinPartSize, storage.MaxPartSizeS3)

	if sess.FileSize > storage.MaxObjectSizeS3 {
		return nil, fault.Validation("file size %d exceeds the backend object limit", sess.FileSize)
	}
	totalParts := storage.PartsFor(sess.FileSize, partSize)
	if totalParts > storage.MaxParts {
		return nil, fault.Validation("file needs %d parts at this part size, limit is %d", totalParts, storage.MaxParts)
	}

	concurrency := in.Concurrency
	if concurrency <= 0 {
		concurrency = d.concurrency
	}
	maxPPR := min(concurrency, MaxPartsPerRequestCap)

	ttl := in.URLTTL
	if ttl <= 0 {
		ttl = d.urlTTL
	}

	key := d.objectKey(sess.FSPath)

	createIn := &awss3.CreateMultipartUploadInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}
	if sess.MimeType != "" {
		createIn.ContentType = aws.String(sess.MimeType)
	}
	created, err := d.client.CreateMultipartUpload(ctx, createIn)
	if err != nil {
		return nil, classify("failed to create multipart upload", err)
	}

	meta := sessionMeta{bucket: d.bucket, key: key, ttl: ttl, maxPPR: maxPPR}
	window := rangeParts(1, min(totalParts, maxPPR))
	urls, err := d.presignParts(ctx, meta, aws.ToString(created.UploadId), window)
	if err != nil {
		return nil, err
	}

	sess.Strategy = upload.StrategyPerPartURL
	sess.PartSize = partSize
	sess.TotalParts = totalParts
	sess.ProviderUploadID = aws.ToString(created.UploadId)
	sess.ExpiresAt = time.Now().Add(ttl)
	if err := sess.SetMeta(map[string]any{
		"bucket":               d.bucket,
		"key":                  key,
		"urlTtlSeconds":        int(ttl.Seconds()),
		"maxPartsPerRequest":   maxPPR,
		"multipartConcurrency": concurrency,
	}); err != nil {
		return nil, fault.Infrastructure("failed to encode session provider meta", err)
	}

	logger.Debug("created multipart upload",
		logger.UploadID(sess.ID),
		logger.Mount(sess.MountID),
		logger.Path(sess.FSPath),
		"total_parts", totalParts,
		"part_size", partSize)

	return &storage.InitMultipartOutput{
		URLs:   urls,
		Policy: d.policy(maxPPR, ttl),
	}, nil
}

// SignParts implements storage.MultipartDriver. Empty partNumbers means
// server_decides: the window starts at the first part the backend has not
// confirmed. The session deadline is pushed out on every sign.
func (d *Driver) SignParts(ctx context.Context, sess *upload.Session, partNumbers []int) (out *storage.SignPartsOutput, err error) {
	start := time.Now()
	defer func() { d.observe("SignParts", start, err) }()

	meta := d.sessionMeta(sess)

	if len(partNumbers) == 0 {
		expected, uploaded, err := d.scanLedger(ctx, meta, sess.ProviderUploadID, meta.maxPPR)
		if err != nil {
			return nil, classify("failed to scan uploaded parts", err)
		}
		end := min(expected+meta.maxPPR-1, sess.TotalParts)
		for n := expected; n <= end; n++ {
			if !uploaded[n] {
				partNumbers = append(partNumbers, n)
			}
		}
	} else {
		if len(partNumbers) > meta.maxPPR {
			return nil, fault.Validation("at most %d parts may be signed per request, got %d", meta.maxPPR, len(partNumbers))
		}
		for _, n := range partNumbers {
			if n < 1 || n > sess.TotalParts {
				return nil, fault.Validation("part number %d is outside 1..%d", n, sess.TotalParts)
			}
		}
	}

	urls, err := d.presignParts(ctx, meta, sess.ProviderUploadID, partNumbers)
	if err != nil {
		return nil, err
	}

	sess.ExpiresAt = time.Now().Add(meta.ttl)

	return &storage.SignPartsOutput{URLs: urls, ExpiresIn: meta.ttl}, nil
}

// ListUploadedParts implements storage.MultipartDriver. The backend ledger
// is authoritative; a vanished upload is an empty success, not an error.
func (d *Driver) ListUploadedParts(ctx context.Context, sess *upload.Session) (out *storage.ListUploadedPartsOutput, err error) {
	start := time.Now()
	defer func() { d.observe("ListUploadedParts", start, err) }()

	meta := d.sessionMeta(sess)
	parts := make([]storage.UploadedPart, 0, sess.TotalParts)

	var marker *string
	for {
		page, err := d.listPartsPage(ctx, meta, sess.ProviderUploadID, marker)
		if err != nil {
			if isNoSuchUploadError(err) {
				return &storage.ListUploadedPartsOutput{
					Parts:          []storage.UploadedPart{},
					UploadNotFound: true,
				}, nil
			}
			return nil, classify("failed to list uploaded parts", err)
		}

		for _, p := range page.Parts {
			parts = append(parts, storage.UploadedPart{
				PartNumber:   int(aws.ToInt32(p.PartNumber)),
				Size:         aws.ToInt64(p.Size),
				ETag:         aws.ToString(p.ETag),
				LastModified: aws.ToTime(p.LastModified),
			})
		}

		if !aws.ToBool(page.IsTruncated) {
			break
		}
		marker = page.NextPartNumberMarker
	}

	return &storage.ListUploadedPartsOutput{Parts: parts}, nil
}

// CompleteMultipart implements storage.MultipartDriver. Client-attested
// parts win; without them the backend ledger is re-read. Parts are always
// submitted ascending.
func (d *Driver) CompleteMultipart(ctx context.Context, sess *upload.Session, parts []storage.CompletedPart) (out *storage.CompleteMultipartOutput, err error) {
	start := time.Now()
	defer func() { d.observe("CompleteMultipart", start, err) }()

	meta := d.sessionMeta(sess)

	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		})
	}

	if len(completed) == 0 {
		ledger, err := d.ListUploadedParts(ctx, sess)
		if err != nil {
			return nil, err
		}
		if ledger.UploadNotFound {
			return nil, fault.Expired("upload expired")
		}
		for _, p := range ledger.Parts {
			completed = append(completed, types.CompletedPart{
				PartNumber: aws.Int32(int32(p.PartNumber)),
				ETag:       aws.String(p.ETag),
			})
		}
	}

	if len(completed) == 0 {
		return nil, fault.Validation("no uploaded parts to assemble")
	}

	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})

	result, err := d.client.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:   aws.String(meta.bucket),
		Key:      aws.String(meta.key),
		UploadId: aws.String(sess.ProviderUploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return nil, classify("failed to complete multipart upload", err)
	}

	logger.Info("multipart upload completed",
		logger.UploadID(sess.ID),
		logger.Mount(sess.MountID),
		logger.Path(sess.FSPath),
		"parts", len(completed))

	return &storage.CompleteMultipartOutput{
		ETag:     aws.ToString(result.ETag),
		Location: aws.ToString(result.Location),
		Parts:    len(completed),
	}, nil
}

// AbortMultipart implements storage.MultipartDriver. Backend refusals are
// classified and surfaced; the coordinator decides how terminal they are.
func (d *Driver) AbortMultipart(ctx context.Context, sess *upload.Session) (err error) {
	start := time.Now()
	defer func() { d.observe("AbortMultipart", start, err) }()

	meta := d.sessionMeta(sess)

	_, err = d.client.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{
		Bucket:   aws.String(meta.bucket),
		Key:      aws.String(meta.key),
		UploadId: aws.String(sess.ProviderUploadID),
	})
	if err != nil {
		return classify("failed to abort multipart upload", err)
	}
	return nil
}

// scanLedger walks the ascending parts ledger for the smallest part number
// the backend has not confirmed, recording which parts inside the signing
// window starting there already exist. Paging stops once the ledger moves
// past the window; the page budget is a guard, 10000-part uploads fit in
// ten pages.
func (d *Driver) scanLedger(ctx context.Context, meta sessionMeta, uploadID string, window int) (int, map[int]bool, error) {
	expected := 1
	uploaded := make(map[int]bool)

	var marker *string
	for page := 0; page < maxGapScanPages; page++ {
		out, err := d.listPartsPage(ctx, meta, uploadID, marker)
		if err != nil {
			return 0, nil, err
		}

		for _, p := range out.Parts {
			n := int(aws.ToInt32(p.PartNumber))
			uploaded[n] = true
			if n == expected {
				expected++
			}
			if n >= expected+window-1 {
				return expected, uploaded, nil
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		marker = out.NextPartNumberMarker
	}

	return expected, uploaded, nil
}

func (d *Driver) listPartsPage(ctx context.Context, meta sessionMeta, uploadID string, marker *string) (*awss3.ListPartsOutput, error) {
	var out *awss3.ListPartsOutput
	err := retry.Do(ctx, d.retry, isRetryableError, func(ctx context.Context) error {
		var err error
		out, err = d.client.ListParts(ctx, &awss3.ListPartsInput{
			Bucket:           aws.String(meta.bucket),
			Key:              aws.String(meta.key),
			UploadId:         aws.String(uploadID),
			PartNumberMarker: marker,
			MaxParts:         aws.Int32(MaxPartsPerRequestCap),
		})
		return err
	})
	return out, err
}

func (d *Driver) presignParts(ctx context.Context, meta sessionMeta, uploadID string, partNumbers []int) ([]storage.SignedPartURL, error) {
	urls := make([]storage.SignedPartURL, 0, len(partNumbers))
	expiresAt := time.Now().Add(meta.ttl)

	for _, n := range partNumbers {
		req, err := d.presigner.PresignUploadPart(ctx, &awss3.UploadPartInput{
			Bucket:     aws.String(meta.bucket),
			Key:        aws.String(meta.key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(n)),
		}, awss3.WithPresignExpires(meta.ttl))
		if err != nil {
			return nil, classify("failed to presign part upload", err)
		}
		urls = append(urls, storage.SignedPartURL{
			PartNo:    n,
			URL:       req.URL,
			ExpiresAt: expiresAt,
		})
	}
	return urls, nil
}

func rangeParts(from, to int) []int {
	if to < from {
		return nil
	}
	parts := make([]int, 0, to-from+1)
	for n := from; n <= to; n++ {
		parts = append(parts, n)
	}
	return parts
}
