package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatTimeDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatTimeDuration(45))
	assert.Equal(t, "15m 0s", FormatTimeDuration(900))
	assert.Equal(t, "1h 0m 0s", FormatTimeDuration(3600))
}

func TestFormatTimestamps(t *testing.T) {
	assert.Equal(t, "00:15:00", FormatTimestamp(900))
	assert.Equal(t, "00:00:00", FormatTimestamp(-3))
	assert.Equal(t, "00:30:01,500", FormatSRTTime(1801.5))
	assert.Equal(t, "01:00:00,000", FormatSRTTime(3600))
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512.00 B", FormatFileSize(512))
	assert.Equal(t, "1.00 MB", FormatFileSize(1024*1024))
	assert.Equal(t, 1500*time.Millisecond, SecondsToDuration(1.5))
}
