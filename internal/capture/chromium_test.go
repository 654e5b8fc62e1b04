package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easybook/internal/report"
)

var _ report.Rasterizer = (*Chromium)(nil)

func TestCaptureOptionsDefaults(t *testing.T) {
	o := CaptureOptions{}.withDefaults()
	assert.Equal(t, DefaultWidth, o.Width)
	assert.Equal(t, DefaultHeight, o.Height)
	assert.Equal(t, DefaultTimeoutSec*time.Second, o.Timeout)

	o = CaptureOptions{Width: 800, Height: 400, Timeout: time.Second}.withDefaults()
	assert.Equal(t, 800, o.Width)
	assert.Equal(t, 400, o.Height)
	assert.Equal(t, time.Second, o.Timeout)
}

func TestCapturePNGRequiresURL(t *testing.T) {
	_, err := CapturePNG(context.Background(), CaptureOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "URL is required")
}
