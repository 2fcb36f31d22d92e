package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatTime_Invalid(t *testing.T) {
	assert.Equal(t, "not-a-time", FormatTime("not-a-time"))
}

func TestFormat_Zero(t *testing.T) {
	assert.Equal(t, "-", Format(time.Time{}))
}

func TestAgo(t *testing.T) {
	assert.Equal(t, "-", Ago(time.Time{}))
	assert.Equal(t, "30s ago", Ago(time.Now().Add(-30*time.Second)))
	assert.Equal(t, "5m ago", Ago(time.Now().Add(-5*time.Minute)))
	assert.Equal(t, "3h ago", Ago(time.Now().Add(-3*time.Hour)))
	assert.Equal(t, "2d ago", Ago(time.Now().Add(-49*time.Hour)))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "15s", FormatDuration(15*time.Second))
	assert.Equal(t, "2m 5s", FormatDuration(2*time.Minute+5*time.Second))
	assert.Equal(t, "1h 0m 30s", FormatDuration(time.Hour+30*time.Second))
	assert.Equal(t, "3d 0h 30m 15s", FormatDuration(72*time.Hour+30*time.Minute+15*time.Second))
	assert.Equal(t, "0s", FormatDuration(-time.Second))
}
