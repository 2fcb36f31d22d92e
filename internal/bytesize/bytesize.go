// Package bytesize parses and prints human-readable byte sizes. Config
// fields and CLI flags use ByteSize so "100Mi" and "104857600" mean the same
// thing.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes that unmarshals from strings like "1Gi",
// "500MiB", "100MB" or plain numbers. Binary suffixes (Ki/Mi/Gi/Ti, with or
// without a trailing B) multiply by 1024; decimal ones (K/M/G/T) by 1000.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// byteSizePattern splits a size into its number and optional unit suffix.
var byteSizePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

var unitMultipliers = map[string]ByteSize{
	"": B, "b": B,
	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"t": TB, "tb": TB,
	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
	"ti": TiB, "tib": TiB,
}

// ParseByteSize parses a human-readable byte size.
func ParseByteSize(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	matches := byteSizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}
	numStr := matches[1]
	multiplier, ok := unitMultipliers[strings.ToLower(matches[2])]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", matches[2])
	}

	// Integer sizes parse exactly; fractional ones ("1.5Gi") go through
	// float64, which is precise well past any size a config would carry.
	if !strings.Contains(numStr, ".") {
		num, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in byte size: %q", numStr)
		}
		return ByteSize(num) * multiplier, nil
	}

	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte size: %q", numStr)
	}
	return ByteSize(num * float64(multiplier)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so ByteSize fields work
// with mapstructure decode hooks and YAML.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText emits the largest binary unit that divides the value evenly,
// falling back to raw bytes, so config templates stay readable and
// round-trip exactly.
func (b ByteSize) MarshalText() ([]byte, error) {
	switch {
	case b >= TiB && b%TiB == 0:
		return fmt.Appendf(nil, "%dTiB", b/TiB), nil
	case b >= GiB && b%GiB == 0:
		return fmt.Appendf(nil, "%dGiB", b/GiB), nil
	case b >= MiB && b%MiB == 0:
		return fmt.Appendf(nil, "%dMiB", b/MiB), nil
	case b >= KiB && b%KiB == 0:
		return fmt.Appendf(nil, "%dKiB", b/KiB), nil
	default:
		return fmt.Appendf(nil, "%d", uint64(b)), nil
	}
}

// String renders the size with two decimals in the largest binary unit.
func (b ByteSize) String() string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.2fTiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", b)
	}
}

// Uint64 returns the size as a uint64.
func (b ByteSize) Uint64() uint64 {
	return uint64(b)
}

// Int64 returns the size as an int64; sizes past 8EiB overflow.
func (b ByteSize) Int64() int64 {
	return int64(b)
}
