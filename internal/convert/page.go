package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// whiteCutoff is the channel value at or above which a pixel counts as
// background when trimming.
const whiteCutoff = 0xF0

// Page is a normalised report image ready to be placed on a PDF page.
type Page struct {
	PNG    []byte
	Width  int
	Height int
}

// AspectRatio returns height / width.
func (p Page) AspectRatio() float64 {
	if p.Width == 0 {
		return 0
	}
	return float64(p.Height) / float64(p.Width)
}

// Flatten composites img over an opaque white background.
func Flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// TrimBottom crops away trailing background rows, keeping margin pixels
// below the last row that has content.
func TrimBottom(img *image.NRGBA, margin int) *image.NRGBA {
	b := img.Bounds()
	last := -1
	for y := b.Max.Y - 1; y >= b.Min.Y && last < 0; y-- {
		row := (y - b.Min.Y) * img.Stride
		for x := 0; x < b.Dx(); x++ {
			i := row + x*4
			if img.Pix[i] < whiteCutoff || img.Pix[i+1] < whiteCutoff || img.Pix[i+2] < whiteCutoff {
				last = y
				break
			}
		}
	}
	if last < 0 {
		return img
	}
	bottom := last + 1 + margin
	if bottom > b.Max.Y {
		bottom = b.Max.Y
	}
	return imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y, b.Max.X, bottom))
}

// FitPage decodes a captured screenshot, flattens and trims it, and scales
// it down when it is taller than the pageHeight/pageWidth ratio allows.
func FitPage(data []byte, pageWidth, pageHeight float64) (Page, error) {
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Page{}, fmt.Errorf("convert: decode screenshot: %w", err)
	}

	img := TrimBottom(Flatten(src), 8)
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w == 0 || h == 0 {
		return Page{}, fmt.Errorf("convert: empty screenshot")
	}

	if pageWidth > 0 && pageHeight > 0 {
		maxH := int(float64(w) * pageHeight / pageWidth)
		if h > maxH && maxH > 0 {
			img = imaging.Fit(img, w, maxH, imaging.Lanczos)
			w, h = img.Bounds().Dx(), img.Bounds().Dy()
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return Page{}, fmt.Errorf("convert: encode page: %w", err)
	}
	return Page{PNG: buf.Bytes(), Width: w, Height: h}, nil
}
