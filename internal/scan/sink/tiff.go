package sink

import (
	"fmt"
	"image"
	"io"

	"golang.org/x/image/tiff"

	"github.com/banshee-data/linescan/internal/scan"
)

// TIFF collects the image and encodes it with deflate compression on Flush.
type TIFF struct {
	w       io.Writer
	hdr     Header
	started bool
	buf     []byte
}

// NewTIFF returns a TIFF writer on w.
func NewTIFF(w io.Writer) *TIFF {
	return &TIFF{w: w}
}

func (t *TIFF) WriteHeader(h Header) error {
	if t.started {
		return fmt.Errorf("tiff header already written: %w", scan.ErrInvalid)
	}
	if err := h.Validate(); err != nil {
		return err
	}
	t.hdr = h
	t.started = true
	t.buf = make([]byte, 0, h.Size())
	return nil
}

func (t *TIFF) Write(b []byte) (int, error) {
	if !t.started {
		return 0, fmt.Errorf("tiff data before header: %w", scan.ErrInvalid)
	}
	if err := checkSize(t.hdr, int64(len(t.buf)), len(b)); err != nil {
		return 0, err
	}
	t.buf = append(t.buf, b...)
	return len(b), nil
}

func (t *TIFF) Flush() error {
	if !t.started {
		return fmt.Errorf("tiff flushed before header: %w", scan.ErrInvalid)
	}
	if int64(len(t.buf)) != t.hdr.Size() {
		return fmt.Errorf("tiff image has %d of %d bytes: %w", len(t.buf), t.hdr.Size(), scan.ErrInvalid)
	}
	if t.hdr.Height == 0 {
		return fmt.Errorf("tiff cannot hold an empty image: %w", scan.ErrInvalid)
	}
	img := toImage(t.hdr, t.buf)
	t.buf = nil
	if err := tiff.Encode(t.w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		return fmt.Errorf("failed to encode tiff: %w", err)
	}
	return nil
}

// toImage wraps packed samples in an image.Image. Bilevel data is expanded
// to 8-bit gray with 1 bits as black.
func toImage(h Header, data []byte) image.Image {
	rect := image.Rect(0, 0, h.Width, h.Height)
	switch {
	case h.Color:
		img := image.NewRGBA(rect)
		for i, o := 0, 0; i+2 < len(data); i, o = i+3, o+4 {
			img.Pix[o] = data[i]
			img.Pix[o+1] = data[i+1]
			img.Pix[o+2] = data[i+2]
			img.Pix[o+3] = 0xff
		}
		return img
	case h.Depth == 1:
		img := image.NewGray(rect)
		rb := h.RowBytes()
		for y := 0; y < h.Height; y++ {
			row := data[y*rb : (y+1)*rb]
			for x := 0; x < h.Width; x++ {
				if row[x/8]&(0x80>>(x%8)) == 0 {
					img.Pix[y*img.Stride+x] = 0xff
				}
			}
		}
		return img
	}
	return &image.Gray{Pix: data, Stride: h.Width, Rect: rect}
}
