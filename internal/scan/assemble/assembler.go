// Package assemble turns a stream of frames into one finished image. Whole
// known-height images stream straight through to the sink; everything else
// is accumulated in a growable Raster, with single-channel frames
// interleaved into RGB pixels.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/linescan/internal/monitoring"
	"github.com/banshee-data/linescan/internal/scan"
	"github.com/banshee-data/linescan/internal/scan/sink"
)

// Source is the frame stream of one acquisition. Start begins the next
// frame, Read returns io.EOF at the end of each frame and Close ends the
// acquisition once the last frame has been read.
type Source interface {
	Start(ctx context.Context) error
	Parameters() scan.Parameters
	Read(p []byte) (int, error)
	Cancel()
	Close() error
}

// Options tune the assembler.
type Options struct {
	GrowRows  int   // raster row increment; DefaultGrowRows when zero
	MaxBytes  int64 // raster size limit; zero means unlimited
	ChunkSize int   // bytes requested per Read; 32 KiB when zero
	// Progress, when set, is called after every read with the bytes read
	// for the current frame and the frame size (-1 if unknown).
	Progress func(frame int, read, expected int64)
}

// Result describes the finished image.
type Result struct {
	Width         int
	Height        int
	Depth         int
	BytesPerPixel int
	Color         bool
	Frames        int
	Bytes         int64 // sample bytes handed to the sink
	Buffered      bool
	PartialRow    bool  // last row was incomplete and zero-padded
	Padded        int64 // zero bytes added to a short pass-through frame
}

// Header returns the sink header for the result.
func (r Result) Header() sink.Header {
	return sink.Header{Width: r.Width, Height: r.Height, Depth: r.Depth, Color: r.Color}
}

// Assembler runs one acquisition into a sink. It is not reusable.
type Assembler struct {
	opts   Options
	raster *Raster
	first  scan.Parameters
	res    Result
	planes [3]bool // single-channel planes already received, by pixel offset
}

// New creates an Assembler.
func New(opts Options) *Assembler {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 32 << 10
	}
	return &Assembler{opts: opts}
}

// Raster returns the buffer in use, or nil when streaming or released.
func (a *Assembler) Raster() *Raster { return a.raster }

// Run pulls every frame from src into w. On any error the acquisition is
// cancelled, the raster is released and the sink is left unflushed; the
// caller should treat its output as invalid.
func (a *Assembler) Run(ctx context.Context, src Source, w sink.Writer) (Result, error) {
	res, err := a.run(ctx, src, w)
	if err != nil {
		src.Cancel()
		a.release()
		return res, err
	}
	return res, nil
}

func (a *Assembler) run(ctx context.Context, src Source, w sink.Writer) (Result, error) {
	for frame := 0; ; frame++ {
		if err := ctx.Err(); err != nil {
			return a.res, fmt.Errorf("before frame %d: %w", frame, scan.ErrCancelled)
		}
		if err := src.Start(ctx); err != nil {
			return a.res, fmt.Errorf("failed to start frame %d: %w", frame, err)
		}
		p := src.Parameters()
		if err := a.accept(frame, p); err != nil {
			return a.res, err
		}

		if frame == 0 && passThrough(p) {
			return a.stream(ctx, src, w, p)
		}
		if err := a.buffer(ctx, src, frame, p); err != nil {
			return a.res, err
		}
		a.res.Frames++
		if p.LastFrame {
			return a.finish(src, w)
		}
	}
}

// passThrough reports whether a first frame can go straight to the sink.
func passThrough(p scan.Parameters) bool {
	return p.HeightKnown() && p.LastFrame && (p.Format == scan.FormatGray || p.Format == scan.FormatRGB)
}

// accept checks a frame's geometry against the acquisition so far.
func (a *Assembler) accept(frame int, p scan.Parameters) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("frame %d: %w", frame, err)
	}
	if p.Format.Color() && p.Depth != 8 {
		return fmt.Errorf("%d-bit %s frames: %w", p.Depth, p.Format, scan.ErrUnsupported)
	}
	if frame == 0 {
		a.first = p
		a.res.Width = p.PixelsPerLine
		a.res.Depth = p.Depth
		a.res.Color = p.Format.Color()
		a.res.BytesPerPixel = 1
		if a.res.Color {
			a.res.BytesPerPixel = 3
		}
		return a.acceptPlane(frame, p)
	}
	if p.PixelsPerLine != a.first.PixelsPerLine || p.Depth != a.first.Depth {
		return fmt.Errorf("frame %d is %d px at %d bits, acquisition started at %d px %d bits: %w",
			frame, p.PixelsPerLine, p.Depth, a.first.PixelsPerLine, a.first.Depth, scan.ErrProtocol)
	}
	if p.Format.SingleChannel() != a.first.Format.SingleChannel() || p.Format.Color() != a.first.Format.Color() {
		return fmt.Errorf("%s frame after %s frame: %w", p.Format, a.first.Format, scan.ErrProtocol)
	}
	return a.acceptPlane(frame, p)
}

// acceptPlane records a single-channel frame. Each plane may arrive once and
// the last frame must complete the set.
func (a *Assembler) acceptPlane(frame int, p scan.Parameters) error {
	if !p.Format.SingleChannel() {
		return nil
	}
	off, _ := p.Format.Channel().Offset()
	if a.planes[off] {
		return fmt.Errorf("frame %d repeats the %s plane: %w", frame, p.Format, scan.ErrProtocol)
	}
	a.planes[off] = true
	if p.LastFrame {
		for i, ok := range a.planes {
			if !ok {
				return fmt.Errorf("last frame %d leaves the %s plane empty: %w",
					frame, scan.ColorChannels[i], scan.ErrProtocol)
			}
		}
	}
	return nil
}

// stream copies a whole known-height image to the sink, zero-padding a
// frame the device ended early.
func (a *Assembler) stream(ctx context.Context, src Source, w sink.Writer, p scan.Parameters) (Result, error) {
	a.res.Height = p.Lines
	total := p.TotalBytes()
	if err := w.WriteHeader(a.res.Header()); err != nil {
		return a.res, err
	}
	buf := make([]byte, a.opts.ChunkSize)
	var got int64
	for {
		if ctx.Err() != nil {
			return a.res, scan.ErrCancelled
		}
		n, err := src.Read(buf)
		if n > 0 {
			if got+int64(n) > total {
				return a.res, fmt.Errorf("frame delivered more than its declared %d bytes: %w", total, scan.ErrProtocol)
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return a.res, fmt.Errorf("failed to write image data: %w", werr)
			}
			got += int64(n)
			a.progress(0, got, total)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return a.res, err
		}
	}
	a.res.Frames = 1
	a.res.Bytes = got
	if got < total {
		a.res.Padded = total - got
		monitoring.Logf("[assemble] frame ended %d bytes short; padding with zeros", a.res.Padded)
		if err := writeZeros(w, a.res.Padded); err != nil {
			return a.res, err
		}
		a.res.Bytes = total
	}
	if err := w.Flush(); err != nil {
		return a.res, fmt.Errorf("failed to flush image: %w", err)
	}
	return a.res, src.Close()
}

func writeZeros(w io.Writer, n int64) error {
	zero := make([]byte, min(n, 32<<10))
	for n > 0 {
		k := min(n, int64(len(zero)))
		if _, err := w.Write(zero[:k]); err != nil {
			return fmt.Errorf("failed to pad image data: %w", err)
		}
		n -= k
	}
	return nil
}

// buffer reads one frame into the raster.
func (a *Assembler) buffer(ctx context.Context, src Source, frame int, p scan.Parameters) error {
	a.res.Buffered = true
	planeOff := -1
	if p.Format.SingleChannel() {
		planeOff, _ = p.Format.Channel().Offset()
		if a.raster != nil {
			if err := a.raster.StartPlane(planeOff); err != nil {
				return err
			}
		}
	}

	buf := make([]byte, a.opts.ChunkSize)
	var got int64
	for {
		if ctx.Err() != nil {
			return scan.ErrCancelled
		}
		n, err := src.Read(buf)
		if n > 0 {
			if a.raster == nil {
				if aerr := a.allocate(p, planeOff); aerr != nil {
					return aerr
				}
			}
			var werr error
			if planeOff >= 0 {
				_, werr = a.raster.WritePlane(buf[:n])
			} else {
				_, werr = a.raster.Write(buf[:n])
			}
			if werr != nil {
				monitoring.Logf("[assemble] frame %d: %v", frame, werr)
				return werr
			}
			got += int64(n)
			a.progress(frame, got, p.TotalBytes())
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// allocate creates the raster on the first buffered sample.
func (a *Assembler) allocate(p scan.Parameters, planeOff int) error {
	rowBytes := p.BytesPerLine
	if p.Format.SingleChannel() {
		rowBytes = 3 * p.PixelsPerLine
	}
	initial := 0
	if p.HeightKnown() {
		initial = p.Lines
	}
	r, err := NewRaster(RasterConfig{
		Width:         p.PixelsPerLine,
		RowBytes:      rowBytes,
		BytesPerPixel: a.res.BytesPerPixel,
		InitialRows:   initial,
		GrowRows:      a.opts.GrowRows,
		MaxBytes:      a.opts.MaxBytes,
	})
	if err != nil {
		return err
	}
	if planeOff >= 0 {
		if err := r.StartPlane(planeOff); err != nil {
			return err
		}
	}
	a.raster = r
	return nil
}

// finish finalises the raster and hands it to the sink.
func (a *Assembler) finish(src Source, w sink.Writer) (Result, error) {
	var data []byte
	if a.raster != nil {
		a.res.Height, a.res.PartialRow = a.raster.Finalize()
		data = a.raster.Bytes()
		if a.res.PartialRow {
			monitoring.Logf("[assemble] last row %d is incomplete; kept with zero fill", a.res.Height-1)
		}
	}
	if err := w.WriteHeader(a.res.Header()); err != nil {
		return a.res, err
	}
	if _, err := w.Write(data); err != nil {
		return a.res, fmt.Errorf("failed to write image data: %w", err)
	}
	a.res.Bytes = int64(len(data))
	if err := w.Flush(); err != nil {
		return a.res, fmt.Errorf("failed to flush image: %w", err)
	}
	a.release()
	return a.res, src.Close()
}

func (a *Assembler) progress(frame int, read, expected int64) {
	if a.opts.Progress != nil {
		a.opts.Progress(frame, read, expected)
	}
}

func (a *Assembler) release() {
	if a.raster != nil {
		a.raster.Release()
		a.raster = nil
	}
}
