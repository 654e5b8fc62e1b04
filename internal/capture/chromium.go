package capture

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"

	appLog "easybook/internal/log"
)

// Default capture parameters. The width matches the weekly table layout.
const (
	DefaultWidth      = 1200
	DefaultHeight     = 600
	DefaultTimeoutSec = 30
)

// readySelector is present once a report page has finished rendering.
const readySelector = `[data-ready="true"]`

// CaptureOptions defines parameters for a Chromium-based screenshot capture.
type CaptureOptions struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/report/week/2024-06-02"
	// or a file:// URL.
	URL string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used. The screenshot covers the
	// full page, so Height is only the initial viewport.
	Width  int
	Height int

	// Timeout bounds the entire capture operation.
	Timeout time.Duration
}

func (o CaptureOptions) withDefaults() CaptureOptions {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return o
}

// CapturePNG launches a headless Chromium via chromedp, navigates to
// opts.URL, waits until `[data-ready="true"]` is visible and returns a
// full-page PNG screenshot.
func CapturePNG(parentCtx context.Context, opts CaptureOptions) ([]byte, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("capture: URL is required")
	}
	opts = opts.withDefaults()

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		// let web fonts settle
		chromedp.Sleep(300 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	}

	start := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	appLog.Debug("page captured", "url", opts.URL, "bytes", len(png), "elapsed", time.Since(start).String())
	return png, nil
}

// Chromium rasterises self-contained HTML pages through a headless browser.
// It satisfies report.Rasterizer.
type Chromium struct {
	Width   int
	Height  int
	Timeout time.Duration
}

// NewChromium returns a rasteriser with the given viewport and per-page
// timeout. Zero values use the defaults.
func NewChromium(width, height int, timeout time.Duration) *Chromium {
	return &Chromium{Width: width, Height: height, Timeout: timeout}
}

// Rasterize writes html to a temporary file and captures it.
func (c *Chromium) Rasterize(ctx context.Context, html []byte) ([]byte, error) {
	f, err := os.CreateTemp("", "easybook-page-*.html")
	if err != nil {
		return nil, fmt.Errorf("capture: temp page: %w", err)
	}
	name := f.Name()
	defer os.Remove(name)

	if _, err := f.Write(html); err != nil {
		f.Close()
		return nil, fmt.Errorf("capture: write temp page: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("capture: write temp page: %w", err)
	}

	return CapturePNG(ctx, CaptureOptions{
		URL:     "file://" + name,
		Width:   c.Width,
		Height:  c.Height,
		Timeout: c.Timeout,
	})
}
