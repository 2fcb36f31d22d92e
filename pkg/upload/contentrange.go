package upload

import (
	"fmt"
	"strconv"
	"strings"
)

// ContentRange is a parsed Content-Range header of the form
// "bytes <start>-<end>/<total>". Single-session uploads carry one per chunk.
type ContentRange struct {
	Start int64
	End   int64
	Total int64
}

// ParseContentRange parses a Content-Range header value. The total is
// required ("bytes 0-1023/*" is rejected) because chunk placement depends
// on knowing the file size up front.
func ParseContentRange(header string) (ContentRange, error) {
	var cr ContentRange

	value := strings.TrimSpace(header)
	unit, rest, found := strings.Cut(value, " ")
	if !found || unit != "bytes" {
		return cr, fmt.Errorf("content range %q: expected unit \"bytes\"", header)
	}

	span, totalStr, found := strings.Cut(rest, "/")
	if !found {
		return cr, fmt.Errorf("content range %q: missing total", header)
	}
	if totalStr == "*" {
		return cr, fmt.Errorf("content range %q: unknown total is not supported", header)
	}

	startStr, endStr, found := strings.Cut(span, "-")
	if !found {
		return cr, fmt.Errorf("content range %q: malformed byte span", header)
	}

	var err error
	if cr.Start, err = strconv.ParseInt(startStr, 10, 64); err != nil {
		return cr, fmt.Errorf("content range %q: bad start: %w", header, err)
	}
	if cr.End, err = strconv.ParseInt(endStr, 10, 64); err != nil {
		return cr, fmt.Errorf("content range %q: bad end: %w", header, err)
	}
	if cr.Total, err = strconv.ParseInt(totalStr, 10, 64); err != nil {
		return cr, fmt.Errorf("content range %q: bad total: %w", header, err)
	}

	if cr.Start < 0 || cr.End < cr.Start {
		return cr, fmt.Errorf("content range %q: invalid byte span", header)
	}
	if cr.End >= cr.Total {
		return cr, fmt.Errorf("content range %q: span exceeds total", header)
	}

	return cr, nil
}

// Size returns the number of bytes the range covers.
func (cr ContentRange) Size() int64 {
	return cr.End - cr.Start + 1
}

// PartNo maps the range onto its 1-based part number for the given part
// size. The range must start on a part boundary.
func (cr ContentRange) PartNo(partSize int64) (int, error) {
	if partSize <= 0 {
		return 0, fmt.Errorf("part size must be positive, got %d", partSize)
	}
	if cr.Start%partSize != 0 {
		return 0, fmt.Errorf("chunk start %d is not aligned to part size %d", cr.Start, partSize)
	}
	return int(cr.Start/partSize) + 1, nil
}

// String renders the range back into header form.
func (cr ContentRange) String() string {
	return fmt.Sprintf("bytes %d-%d/%d", cr.Start, cr.End, cr.Total)
}

// NextRange returns the hint for the chunk that should follow this one, or
// "" when this range ends the file.
func (cr ContentRange) NextRange(partSize int64) string {
	nextStart := cr.End + 1
	if nextStart >= cr.Total {
		return ""
	}
	nextEnd := nextStart + partSize - 1
	if nextEnd >= cr.Total {
		nextEnd = cr.Total - 1
	}
	return fmt.Sprintf("bytes %d-%d/%d", nextStart, nextEnd, cr.Total)
}
