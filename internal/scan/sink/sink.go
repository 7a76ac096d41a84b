// Package sink writes finished rasters to image files. PNM is streamed as
// rows arrive; TIFF is buffered and encoded on Flush.
package sink

import (
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/linescan/internal/scan"
)

// Header describes the image handed to a Writer.
type Header struct {
	Width  int // pixels
	Height int // rows
	Depth  int // 1 or 8 bits per sample
	Color  bool
}

// RowBytes returns the size of one packed row.
func (h Header) RowBytes() int {
	samples := h.Width
	if h.Color {
		samples *= 3
	}
	if h.Depth == 1 {
		return (samples + 7) / 8
	}
	return samples
}

// Size returns the number of sample bytes following the header.
func (h Header) Size() int64 {
	return int64(h.RowBytes()) * int64(h.Height)
}

// Validate checks that the header can be written.
func (h Header) Validate() error {
	if h.Width <= 0 || h.Height < 0 {
		return fmt.Errorf("image %dx%d: %w", h.Width, h.Height, scan.ErrInvalid)
	}
	switch {
	case h.Depth == 8:
	case h.Depth == 1 && !h.Color:
	default:
		return fmt.Errorf("depth %d (color=%v): %w", h.Depth, h.Color, scan.ErrUnsupported)
	}
	return nil
}

// Writer receives one image: a header, exactly Header.Size sample bytes,
// then Flush.
type Writer interface {
	WriteHeader(h Header) error
	Write(p []byte) (int, error)
	Flush() error
}

// Formats lists the output formats accepted by New.
var Formats = []string{"pnm", "tiff"}

// New returns a Writer for the named format.
func New(format string, w io.Writer) (Writer, error) {
	switch strings.ToLower(format) {
	case "pnm", "":
		return NewPNM(w), nil
	case "tiff", "tif":
		return NewTIFF(w), nil
	}
	return nil, fmt.Errorf("output format %q (want one of %s): %w",
		format, strings.Join(Formats, ", "), scan.ErrInvalid)
}

// Extension returns the conventional file extension for an image in the
// named format.
func Extension(format string, h Header) string {
	switch strings.ToLower(format) {
	case "tiff", "tif":
		return ".tiff"
	}
	switch {
	case h.Depth == 1:
		return ".pbm"
	case h.Color:
		return ".ppm"
	}
	return ".pgm"
}

// checkSize guards the byte count a writer has accepted.
func checkSize(h Header, written int64, n int) error {
	if written+int64(n) > h.Size() {
		return fmt.Errorf("image data exceeds %d bytes declared by the header: %w", h.Size(), scan.ErrInvalid)
	}
	return nil
}
