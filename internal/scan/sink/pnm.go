package sink

import (
	"bufio"
	"fmt"
	"io"

	"github.com/banshee-data/linescan/internal/scan"
)

// PNM streams a portable anymap: P4 for bilevel, P5 for gray and P6 for
// colour. Bilevel rows use 1 for black, which is also the scanner's lineart
// convention, so bits are copied unchanged.
type PNM struct {
	w       *bufio.Writer
	hdr     Header
	started bool
	written int64
}

// NewPNM returns a PNM writer on w.
func NewPNM(w io.Writer) *PNM {
	return &PNM{w: bufio.NewWriter(w)}
}

// Magic returns the PNM magic number for h.
func Magic(h Header) string {
	switch {
	case h.Depth == 1:
		return "P4"
	case h.Color:
		return "P6"
	}
	return "P5"
}

func (p *PNM) WriteHeader(h Header) error {
	if p.started {
		return fmt.Errorf("pnm header already written: %w", scan.ErrInvalid)
	}
	if err := h.Validate(); err != nil {
		return err
	}
	p.hdr = h
	p.started = true
	magic := Magic(h)
	if _, err := fmt.Fprintf(p.w, "%s\n# linescan data follows\n%d %d\n", magic, h.Width, h.Height); err != nil {
		return fmt.Errorf("failed to write pnm header: %w", err)
	}
	if magic != "P4" {
		if _, err := io.WriteString(p.w, "255\n"); err != nil {
			return fmt.Errorf("failed to write pnm header: %w", err)
		}
	}
	return nil
}

func (p *PNM) Write(b []byte) (int, error) {
	if !p.started {
		return 0, fmt.Errorf("pnm data before header: %w", scan.ErrInvalid)
	}
	if err := checkSize(p.hdr, p.written, len(b)); err != nil {
		return 0, err
	}
	n, err := p.w.Write(b)
	p.written += int64(n)
	return n, err
}

// Flush writes out buffered data. It fails if fewer bytes than the header
// declared were written.
func (p *PNM) Flush() error {
	if !p.started {
		return fmt.Errorf("pnm flushed before header: %w", scan.ErrInvalid)
	}
	if p.written != p.hdr.Size() {
		return fmt.Errorf("pnm image has %d of %d bytes: %w", p.written, p.hdr.Size(), scan.ErrInvalid)
	}
	return p.w.Flush()
}
