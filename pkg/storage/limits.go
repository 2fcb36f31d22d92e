package storage

// Hard multipart limits. Driver clamps reference these; they are not
// configurable because they mirror backend contracts.
const (
	// MaxParts is the most parts any multipart upload may have.
	MaxParts = 10_000

	// MinPartSize is the smallest allowed part (except the final one).
	MinPartSize int64 = 5 << 20 // 5 MiB

	// MaxPartSizeS3 is the S3 per-part ceiling.
	MaxPartSizeS3 int64 = 5 << 30 // 5 GiB

	// MaxPartSizeChat is the chat-backend per-part ceiling (one message
	// attachment).
	MaxPartSizeChat int64 = 100 << 20 // 100 MiB

	// MaxObjectSizeS3 is the S3 platform per-object ceiling. Tighter than
	// the part math allows (5 GiB x 10000), so it is checked separately.
	MaxObjectSizeS3 int64 = 5 << 40 // 5 TiB
)

// MaxObjectSize is the largest file a backend with the given part ceiling
// can take.
func MaxObjectSize(maxPartSize int64) int64 {
	return maxPartSize * MaxParts
}

// ClampPartSize forces the requested part size into [lo, hi]; a zero
// request takes the floor.
func ClampPartSize(requested, lo, hi int64) int64 {
	if requested <= 0 {
		return lo
	}
	if requested < lo {
		return lo
	}
	if requested > hi {
		return hi
	}
	return requested
}

// PartsFor returns how many parts of the given size a file needs.
func PartsFor(fileSize, partSize int64) int {
	if partSize <= 0 {
		return 0
	}
	return int((fileSize + partSize - 1) / partSize)
}
