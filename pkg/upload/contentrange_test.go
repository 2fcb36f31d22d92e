package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentRange(t *testing.T) {
	cr, err := ParseContentRange("bytes 0-1048575/5242880")
	require.NoError(t, err)

	assert.Equal(t, int64(0), cr.Start)
	assert.Equal(t, int64(1048575), cr.End)
	assert.Equal(t, int64(5242880), cr.Total)
	assert.Equal(t, int64(1048576), cr.Size())
	assert.Equal(t, "bytes 0-1048575/5242880", cr.String())
}

func TestParseContentRangeErrors(t *testing.T) {
	invalid := []string{
		"",
		"0-100/200",
		"items 0-100/200",
		"bytes 0-100",
		"bytes 0-100/*",
		"bytes x-100/200",
		"bytes 0-y/200",
		"bytes 0-100/z",
		"bytes 100-50/200",
		"bytes -5-10/200",
		"bytes 0-200/200",
	}

	for _, header := range invalid {
		_, err := ParseContentRange(header)
		assert.Error(t, err, "header %q should be rejected", header)
	}
}

func TestContentRangePartNo(t *testing.T) {
	const partSize = 1 << 20

	first, err := ParseContentRange("bytes 0-1048575/5242880")
	require.NoError(t, err)
	no, err := first.PartNo(partSize)
	require.NoError(t, err)
	assert.Equal(t, 1, no)

	third, err := ParseContentRange("bytes 2097152-3145727/5242880")
	require.NoError(t, err)
	no, err = third.PartNo(partSize)
	require.NoError(t, err)
	assert.Equal(t, 3, no)

	misaligned, err := ParseContentRange("bytes 100-1048575/5242880")
	require.NoError(t, err)
	_, err = misaligned.PartNo(partSize)
	assert.Error(t, err)

	_, err = first.PartNo(0)
	assert.Error(t, err)
}

func TestContentRangeNextRange(t *testing.T) {
	const partSize = 1 << 20

	mid, err := ParseContentRange("bytes 0-1048575/5242880")
	require.NoError(t, err)
	assert.Equal(t, "bytes 1048576-2097151/5242880", mid.NextRange(partSize))

	// the final chunk is shorter than a full part
	tail, err := ParseContentRange("bytes 4194304-5242879/5242880")
	require.NoError(t, err)
	assert.Equal(t, "", tail.NextRange(partSize))

	// next span clamps to the end of the file
	nearEnd, err := ParseContentRange("bytes 3145728-4194303/4500000")
	require.NoError(t, err)
	assert.Equal(t, "bytes 4194304-4499999/4500000", nearEnd.NextRange(partSize))
}
