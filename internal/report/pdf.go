package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/phpdave11/gofpdf"

	"easybook/internal/booking"
	"easybook/internal/convert"
	appLog "easybook/internal/log"
	"easybook/internal/model"
)

// A4 landscape placement, in millimetres.
const (
	pageMarginMM  = 10.0
	imageWidthMM  = 277.0
	imageHeightMM = 190.0
)

// ErrNoWeeks is returned by the weekly exports when there is nothing to
// put in them.
var ErrNoWeeks = errors.New("report: no bookings to export")

// Rasterizer turns a self-contained HTML page into a PNG screenshot.
type Rasterizer interface {
	Rasterize(ctx context.Context, html []byte) ([]byte, error)
}

// Options configures the weekly exports.
type Options struct {
	Mapping    booking.Mapping
	Colors     *booking.ColorTable
	MaxPerCell int
	// Width is the HTML layout width in CSS pixels.
	Width int
}

// PDFFilename is the download name for a weekly PDF produced at now.
func PDFFilename(now time.Time) string {
	return "施設予約表_" + now.Format("20060102") + ".pdf"
}

// XLSXFilename is the download name for a weekly workbook produced at now.
func XLSXFilename(now time.Time) string {
	return "施設予約表_" + now.Format("20060102") + ".xlsx"
}

// WeekHTML renders the weekly table page for w.
func WeekHTML(w model.Week, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	err := RenderWeek(&buf, WeekPage{
		Width: opts.Width,
		Grid:  WeekGrid(w, opts.Mapping, opts.Colors, opts.MaxPerCell),
	})
	if err != nil {
		return nil, fmt.Errorf("report: render week %s: %w", booking.FormatDate(w.Start), err)
	}
	return buf.Bytes(), nil
}

// WeeklyPDF writes one A4 landscape page per week. Each page is the weekly
// table rendered to HTML and rasterised by r.
func WeeklyPDF(ctx context.Context, out io.Writer, weeks []model.Week, opts Options, r Rasterizer) error {
	if len(weeks) == 0 {
		return ErrNoWeeks
	}
	if r == nil {
		return errors.New("report: no rasterizer")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	imgOpts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}

	for i, w := range weeks {
		if err := ctx.Err(); err != nil {
			return err
		}
		html, err := WeekHTML(w, opts)
		if err != nil {
			return err
		}
		shot, err := r.Rasterize(ctx, html)
		if err != nil {
			return fmt.Errorf("report: rasterize week %s: %w", booking.FormatDate(w.Start), err)
		}
		page, err := convert.FitPage(shot, imageWidthMM, imageHeightMM)
		if err != nil {
			return err
		}

		name := fmt.Sprintf("week-%d", i)
		pdf.RegisterImageOptionsReader(name, imgOpts, bytes.NewReader(page.PNG))
		pdf.AddPage()
		pdf.ImageOptions(name, pageMarginMM, pageMarginMM, imageWidthMM, imageWidthMM*page.AspectRatio(), false, imgOpts, 0, "")
		if err := pdf.Error(); err != nil {
			return fmt.Errorf("report: pdf page %d: %w", i+1, err)
		}
		appLog.Debug("weekly pdf page", "week", booking.FormatDate(w.Start), "events", len(w.Events),
			"width_px", page.Width, "height_px", page.Height)
	}

	if err := pdf.Output(out); err != nil {
		return fmt.Errorf("report: write pdf: %w", err)
	}
	return nil
}
