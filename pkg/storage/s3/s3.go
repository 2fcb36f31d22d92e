// Package s3 implements the S3-compatible storage driver: object CRUD for
// the FS facade and presigned-URL multipart uploads for the coordinator.
//
// The backend holds the authoritative parts ledger (server_can_list), so the
// driver keeps no per-part rows; resume questions are answered by ListParts.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/gatefs/gatefs/internal/retry"
	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/storage"
)

// DriverType identifies this backend in sessions and mount configs.
const DriverType = "s3"

const (
	// DefaultMultipartConcurrency is the presign window when the client
	// does not declare parallelism.
	DefaultMultipartConcurrency = 4

	// MaxPartsPerRequestCap bounds any single presign batch.
	MaxPartsPerRequestCap = 1000

	// DefaultURLTTL is the presigned URL lifetime when the caller does not
	// pick one.
	DefaultURLTTL = 15 * time.Minute

	// maxGapScanPages bounds the server_decides first-gap scan. 50 pages of
	// 1000 parts covers five full uploads worth of parts.
	maxGapScanPages = 50
)

// Client is the subset of the S3 API the driver calls. *s3.Client satisfies
// it; tests substitute fakes.
type Client interface {
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *awss3.CopyObjectInput, optFns ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, params *awss3.DeleteObjectsInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, params *awss3.CreateMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error)
	ListParts(ctx context.Context, params *awss3.ListPartsInput, optFns ...func(*awss3.Options)) (*awss3.ListPartsOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *awss3.CompleteMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *awss3.AbortMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error)
}

// Presigner issues part upload URLs. *s3.PresignClient satisfies it.
type Presigner interface {
	PresignUploadPart(ctx context.Context, params *awss3.UploadPartInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Metrics is the optional operation observer. Nil disables collection.
type Metrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	RecordBytes(operation string, n int64)
}

// Config configures a Driver.
type Config struct {
	Client    Client
	Presigner Presigner

	Bucket string

	// KeyPrefix is prepended to every object key, e.g. "gatefs/".
	KeyPrefix string

	// StorageConfigID ties the driver instance to its mount config.
	StorageConfigID string

	// MultipartConcurrency is the presign window used when the client does
	// not declare parallelism. Default 4.
	MultipartConcurrency int

	// URLTTL is the presigned URL lifetime. Default 15m.
	URLTTL time.Duration

	// Retry bounds transient-error retries on read paths.
	Retry retry.Config

	// Metrics is optional.
	Metrics Metrics
}

// Driver talks to one bucket of one S3-compatible endpoint.
type Driver struct {
	client    Client
	presigner Presigner
	bucket    string
	keyPrefix string
	configID  string

	concurrency int
	urlTTL      time.Duration
	retry       retry.Config
	metrics     Metrics
}

// New validates the config and returns the driver. The bucket must already
// exist; access is verified on first use, not here, so construction stays
// cheap for config reloads.
func New(cfg Config) (*Driver, error) {
	if cfg.Client == nil {
		return nil, fault.Validation("s3 client is required")
	}
	if cfg.Presigner == nil {
		return nil, fault.Validation("s3 presigner is required")
	}
	if cfg.Bucket == "" {
		return nil, fault.Validation("bucket name is required")
	}

	concurrency := cfg.MultipartConcurrency
	if concurrency <= 0 {
		concurrency = DefaultMultipartConcurrency
	}
	urlTTL := cfg.URLTTL
	if urlTTL <= 0 {
		urlTTL = DefaultURLTTL
	}
	retryCfg := cfg.Retry
	if retryCfg.InitialBackoff == 0 {
		retryCfg = retry.DefaultConfig()
	}

	return &Driver{
		client:      cfg.Client,
		presigner:   cfg.Presigner,
		bucket:      cfg.Bucket,
		keyPrefix:   cfg.KeyPrefix,
		configID:    cfg.StorageConfigID,
		concurrency: concurrency,
		urlTTL:      urlTTL,
		retry:       retryCfg,
		metrics:     cfg.Metrics,
	}, nil
}

// NewClientFromConfig builds an *s3.Client for an S3-compatible endpoint
// with static credentials, the shape mount configs carry.
func NewClientFromConfig(
	ctx context.Context,
	endpoint, region, accessKeyID, secretAccessKey string,
	forcePathStyle bool,
) (*awss3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = forcePathStyle
	})
	return client, nil
}

// Type implements storage.Driver.
func (d *Driver) Type() string {
	return DriverType
}

// Capabilities implements storage.Driver. Rename/Copy are copy+delete, not
// atomic.
func (d *Driver) Capabilities() storage.CapabilitySet {
	return storage.NewCapabilitySet(
		storage.CapReader,
		storage.CapWriter,
		storage.CapMultipart,
		storage.CapPresigned,
	)
}

// objectKey maps a backend-rooted path to a bucket key.
func (d *Driver) objectKey(path string) string {
	key := strings.TrimPrefix(path, "/")
	if d.keyPrefix != "" {
		return d.keyPrefix + key
	}
	return key
}

// directoryKey is objectKey with the trailing slash S3 folder listings use.
// The bucket root maps to the bare prefix.
func (d *Driver) directoryKey(path string) string {
	key := d.objectKey(path)
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

func (d *Driver) observe(operation string, start time.Time, err error) {
	if d.metrics != nil {
		d.metrics.ObserveOperation(operation, time.Since(start), err)
	}
}

// isRetryableError reports whether the S3 error is transient. Context
// cancellation and client mistakes are final.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown",
			"ProvisionedThroughputExceededException":
			return true
		case "InternalError", "ServiceUnavailable", "ServiceException",
			"InternalServiceException":
			return true
		case "NoSuchKey", "NotFound", "NoSuchUpload", "AccessDenied", "Forbidden",
			"InvalidRange", "InvalidRequest", "InvalidPart", "InvalidPartOrder":
			return false
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "500")
}

// isNotFoundError reports whether the error means the object is absent.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "StatusCode: 404") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "NoSuchKey")
}

// isNoSuchUploadError reports whether the backend dropped the multipart
// upload (expired lifecycle rule or concurrent abort).
func isNoSuchUploadError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchUpload *types.NoSuchUpload
	if errors.As(err, &noSuchUpload) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchUpload"
	}
	return strings.Contains(err.Error(), "NoSuchUpload")
}

// isAccessDeniedError reports bucket-policy rejections.
func isAccessDeniedError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "AccessDenied" || code == "Forbidden"
	}
	return false
}

// isInvalidRangeError reports byte ranges past the end of the object.
func isInvalidRangeError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "InvalidRange"
	}
	return strings.Contains(err.Error(), "InvalidRange")
}

// classify maps an S3 error to the gateway taxonomy.
func classify(message string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	case isNotFoundError(err):
		return fault.NotFound("%s: object not found", message)
	case isNoSuchUploadError(err):
		return fault.Expired("upload expired")
	case isAccessDeniedError(err):
		return fault.Upstream(message+": access denied by the backend", err, false)
	default:
		return fault.Upstream(message, err, isRetryableError(err))
	}
}

var (
	_ storage.Driver          = (*Driver)(nil)
	_ storage.MultipartDriver = (*Driver)(nil)
	_ Client                  = (*awss3.Client)(nil)
	_ Presigner               = (*awss3.PresignClient)(nil)
)
