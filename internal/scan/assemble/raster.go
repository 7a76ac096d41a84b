package assemble

import (
	"fmt"
	"math"

	"github.com/banshee-data/linescan/internal/scan"
)

// DefaultGrowRows is the row increment used when a Raster runs out of room.
const DefaultGrowRows = 256

// RasterConfig sizes a Raster.
type RasterConfig struct {
	Width         int // pixels
	RowBytes      int // bytes per row; Width*BytesPerPixel when zero
	BytesPerPixel int
	InitialRows   int
	GrowRows      int   // DefaultGrowRows when zero
	MaxBytes      int64 // growth limit; zero means unlimited
}

// Raster is the growable output image. It has a single writer. Sequential
// writes advance a byte cursor; plane writes place one channel at a fixed
// offset inside each pixel.
type Raster struct {
	width    int
	rowBytes int
	bpp      int
	rows     int // allocated
	growRows int
	maxBytes int64
	buf      []byte

	cursor   int // next sequential byte
	plane    int // channel offset for plane writes, -1 when none started
	planePix int // next pixel of the current plane
	extent   int // furthest byte reached by any write

	final  bool
	height int
}

// NewRaster allocates a zero-filled raster with cfg.InitialRows rows.
func NewRaster(cfg RasterConfig) (*Raster, error) {
	if cfg.Width <= 0 || cfg.BytesPerPixel <= 0 || cfg.InitialRows < 0 {
		return nil, fmt.Errorf("raster %d px x %d B/px x %d rows: %w",
			cfg.Width, cfg.BytesPerPixel, cfg.InitialRows, scan.ErrInvalid)
	}
	r := &Raster{
		width:    cfg.Width,
		rowBytes: cfg.RowBytes,
		bpp:      cfg.BytesPerPixel,
		growRows: cfg.GrowRows,
		maxBytes: cfg.MaxBytes,
		plane:    -1,
	}
	if r.rowBytes <= 0 {
		r.rowBytes = cfg.Width * cfg.BytesPerPixel
	}
	if r.growRows <= 0 {
		r.growRows = DefaultGrowRows
	}
	if err := r.resize(cfg.InitialRows); err != nil {
		return nil, err
	}
	return r, nil
}

// Width returns the image width in pixels.
func (r *Raster) Width() int { return r.width }

// RowBytes returns the size of one row.
func (r *Raster) RowBytes() int { return r.rowBytes }

// BytesPerPixel returns the number of bytes per pixel.
func (r *Raster) BytesPerPixel() int { return r.bpp }

// Rows returns the number of rows currently allocated.
func (r *Raster) Rows() int { return r.rows }

// Cap returns the allocated size in bytes.
func (r *Raster) Cap() int { return len(r.buf) }

// Extent returns the furthest byte written so far.
func (r *Raster) Extent() int { return r.extent }

// Cursor returns the sequential write position as a byte column and row.
func (r *Raster) Cursor() (col, row int) {
	return r.cursor % r.rowBytes, r.cursor / r.rowBytes
}

// EnsureRows makes room for at least n rows. Growth happens in whole
// increments of the configured row step and the new region is zero-filled.
// On failure the raster is left unchanged.
func (r *Raster) EnsureRows(n int) error {
	if r.final {
		return fmt.Errorf("raster grown after finalisation: %w", scan.ErrInvalid)
	}
	if n <= r.rows {
		return nil
	}
	steps := (n - r.rows + r.growRows - 1) / r.growRows
	return r.resize(r.rows + steps*r.growRows)
}

func (r *Raster) resize(rows int) error {
	size := int64(rows) * int64(r.rowBytes)
	if size > math.MaxInt || (r.maxBytes > 0 && size > r.maxBytes) {
		return fmt.Errorf("raster of %d rows needs %d bytes (limit %d): %w", rows, size, r.maxBytes, scan.ErrOutOfMemory)
	}
	buf := make([]byte, size)
	copy(buf, r.buf)
	r.buf = buf
	r.rows = rows
	return nil
}

// Write stores p at the sequential cursor.
func (r *Raster) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	end := r.cursor + len(p)
	if err := r.EnsureRows((end + r.rowBytes - 1) / r.rowBytes); err != nil {
		return 0, err
	}
	copy(r.buf[r.cursor:], p)
	r.cursor = end
	if end > r.extent {
		r.extent = end
	}
	return len(p), nil
}

// StartPlane begins a single-channel frame whose samples land at byte
// offset off of every pixel. The plane cursor restarts at pixel 0.
func (r *Raster) StartPlane(off int) error {
	if off < 0 || off >= r.bpp {
		return fmt.Errorf("plane offset %d outside %d-byte pixel: %w", off, r.bpp, scan.ErrInvalid)
	}
	r.plane = off
	r.planePix = 0
	return nil
}

// WritePlane stores one sample per pixel of the current plane.
func (r *Raster) WritePlane(p []byte) (int, error) {
	if r.plane < 0 {
		return 0, fmt.Errorf("plane write without StartPlane: %w", scan.ErrInvalid)
	}
	if len(p) == 0 {
		return 0, nil
	}
	last := r.planePix + len(p) - 1
	if err := r.EnsureRows(last/r.width + 1); err != nil {
		return 0, err
	}
	pos := r.planePix*r.bpp + r.plane
	for _, s := range p {
		r.buf[pos] = s
		pos += r.bpp
	}
	r.planePix += len(p)
	if end := r.planePix * r.bpp; end > r.extent {
		r.extent = end
	}
	return len(p), nil
}

// Finalize fixes the height to the rows actually reached. A partly written
// last row is kept with its zero fill; partial reports it.
func (r *Raster) Finalize() (height int, partial bool) {
	if r.final {
		return r.height, r.extent%r.rowBytes != 0
	}
	r.final = true
	r.height = (r.extent + r.rowBytes - 1) / r.rowBytes
	r.buf = r.buf[:r.height*r.rowBytes]
	return r.height, r.extent%r.rowBytes != 0
}

// Height returns the finalised height, or the rows reached so far.
func (r *Raster) Height() int {
	if r.final {
		return r.height
	}
	return (r.extent + r.rowBytes - 1) / r.rowBytes
}

// Bytes returns the image data: height x row bytes once finalised.
func (r *Raster) Bytes() []byte {
	if r.final {
		return r.buf
	}
	return r.buf[:r.Height()*r.rowBytes]
}

// Release drops the buffer.
func (r *Raster) Release() {
	r.buf = nil
	r.rows = 0
}
