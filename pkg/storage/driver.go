package storage

import (
	"context"
	"io"
	"time"

	"github.com/gatefs/gatefs/pkg/upload"
)

// ItemInfo describes one node as seen by a backend. Paths are
// backend-rooted, slash-separated and directory paths have no trailing
// slash; the facade translates to and from mount-prefixed VFS paths.
type ItemInfo struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	IsDir      bool      `json:"is_dir"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mime_type,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Download describes a downloadable file. Open and OpenRange are lazy so
// callers can inspect metadata without paying for the stream.
type Download struct {
	Size          int64
	ContentType   string
	ETag          string
	LastModified  time.Time
	SupportsRange bool

	Open      func(ctx context.Context) (io.ReadCloser, error)
	OpenRange func(ctx context.Context, start, end int64) (io.ReadCloser, error)
}

// RemoveResult is the per-path outcome of a batch removal.
type RemoveResult struct {
	Path string
	Err  error
}

// Driver is the base contract every backend implements. Operations beyond
// the advertised capabilities may return fault.Validation.
type Driver interface {
	// Type identifies the backend kind, e.g. "s3" or "telegram".
	Type() string

	// Capabilities reports what the backend supports.
	Capabilities() CapabilitySet

	Exists(ctx context.Context, path string) (bool, error)
	Stat(ctx context.Context, path string) (*ItemInfo, error)
	ListDirectory(ctx context.Context, path string) ([]ItemInfo, error)
	Download(ctx context.Context, path string) (*Download, error)

	CreateDirectory(ctx context.Context, path string) error
	Upload(ctx context.Context, path string, body io.Reader, size int64, mimeType string) error
	Update(ctx context.Context, path string, body io.Reader, size int64, mimeType string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Copy(ctx context.Context, srcPath, dstPath string) error

	// RemoveBatch deletes each path independently and reports per-path
	// outcomes. The error return is reserved for whole-call failures.
	RemoveBatch(ctx context.Context, paths []string) ([]RemoveResult, error)
}

// ChunkUploadPath is the gateway ingestion route single_session drivers
// embed in their upload URLs.
const ChunkUploadPath = "/api/v1/multipart/upload-chunk"

// ChunkUploadURL builds the gateway ingestion URL of a session.
func ChunkUploadURL(uploadID string) string {
	return ChunkUploadPath + "?upload_id=" + uploadID
}

// DefaultMaxPartsPerRequest is the presign window used when a session's
// provider meta does not record one.
const DefaultMaxPartsPerRequest = 4

// SigningMode tells the client how part URLs are issued.
type SigningMode string

const (
	// SigningModeBatched hands the client windows of presigned URLs.
	SigningModeBatched SigningMode = "batched"

	// SigningModeSingleSession hands the client one gateway chunk URL.
	SigningModeSingleSession SigningMode = "single_session"
)

// LedgerPolicy tells the coordinator where the parts ledger lives.
type LedgerPolicy string

const (
	// LedgerServerCanList means the backend is authoritative (ListParts).
	LedgerServerCanList LedgerPolicy = "server_can_list"

	// LedgerServerRecords means the gateway part rows are authoritative.
	LedgerServerRecords LedgerPolicy = "server_records"
)

// RetryPolicy is the client-facing retry advice.
type RetryPolicy struct {
	MaxAttempts int `json:"maxAttempts"`
}

// Policy is the upload contract returned to clients on initialize and sign.
type Policy struct {
	SigningMode        SigningMode  `json:"signingMode"`
	RefreshPolicy      string       `json:"refreshPolicy"`
	PartsLedgerPolicy  LedgerPolicy `json:"partsLedgerPolicy"`
	MaxPartsPerRequest int          `json:"maxPartsPerRequest"`
	URLTTLSeconds      int          `json:"urlTtlSeconds"`
	RetryPolicy        RetryPolicy  `json:"retryPolicy"`
}

// SignedPartURL is one presigned part upload URL.
type SignedPartURL struct {
	PartNo    int       `json:"partNo"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// InitMultipartInput carries the session a driver should initialize. The
// driver fills Strategy, PartSize, TotalParts, ProviderUploadID,
// ProviderMeta and NextExpectedRange on the session in place.
type InitMultipartInput struct {
	Session *upload.Session

	// PartSize is the client's requested part size; 0 lets the driver
	// choose. Drivers clamp to their own limits.
	PartSize int64

	// Concurrency is the client's declared parallelism.
	Concurrency int

	// URLTTL bounds the life of issued URLs and of the session itself.
	URLTTL time.Duration
}

// InitMultipartOutput is what the driver hands back from initialization.
type InitMultipartOutput struct {
	// URLs is the initial presigned window (per_part_url strategy).
	URLs []SignedPartURL

	// UploadChunkURL is the gateway ingestion URL (single_session).
	UploadChunkURL string

	Policy Policy
}

// SignPartsOutput carries a window of presigned URLs.
type SignPartsOutput struct {
	URLs      []SignedPartURL
	ExpiresIn time.Duration
}

// UploadedPart is one backend-confirmed part.
type UploadedPart struct {
	PartNumber   int       `json:"partNumber"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"lastModified,omitempty"`
}

// ListUploadedPartsOutput is the authoritative parts ledger of a session.
// UploadNotFound flags a backend that already dropped the upload; callers
// get an empty success instead of an error.
type ListUploadedPartsOutput struct {
	Parts          []UploadedPart
	UploadNotFound bool
}

// CompletedPart is a client-attested part used to finish an upload.
type CompletedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag,omitempty"`
}

// CompleteMultipartOutput reports the assembled object.
type CompleteMultipartOutput struct {
	ETag     string
	Location string
	Parts    int
}

// MultipartDriver is the multipart quintet. Session mutation beyond what
// InitMultipart documents stays with the coordinator.
type MultipartDriver interface {
	InitMultipart(ctx context.Context, in *InitMultipartInput) (*InitMultipartOutput, error)

	// SignParts issues URLs for the given part numbers; empty means
	// server_decides and the driver picks the window after the first gap.
	SignParts(ctx context.Context, session *upload.Session, partNumbers []int) (*SignPartsOutput, error)

	ListUploadedParts(ctx context.Context, session *upload.Session) (*ListUploadedPartsOutput, error)

	CompleteMultipart(ctx context.Context, session *upload.Session, parts []CompletedPart) (*CompleteMultipartOutput, error)

	AbortMultipart(ctx context.Context, session *upload.Session) error
}

// ChunkResult reports one ingested chunk of a single_session upload.
type ChunkResult struct {
	PartNo            int    `json:"partNo"`
	Skipped           bool   `json:"skipped"`
	BytesUploaded     int64  `json:"bytesUploaded"`
	UploadedParts     int    `json:"uploadedParts"`
	NextExpectedRange string `json:"nextExpectedRange,omitempty"`
}

// ChunkProxy ingests chunk bytes flowing through the gateway.
type ChunkProxy interface {
	ProxyChunk(ctx context.Context, session *upload.Session, contentRange upload.ContentRange, body io.Reader) (*ChunkResult, error)
}
