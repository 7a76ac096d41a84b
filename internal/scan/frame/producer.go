// Package frame packages the corrector's aligned rows into frames with a
// declared shape and a pull-based Read, so the consumer never needs to know
// about channels or sensor timing.
package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/linescan/internal/monitoring"
	"github.com/banshee-data/linescan/internal/scan"
	"github.com/banshee-data/linescan/internal/scan/linedist"
)

// LineSource supplies the raw scanlines of one pass. It returns io.EOF when
// the device reports the end of the pass.
type LineSource interface {
	ReceiveLine(ctx context.Context) (scan.Scanline, error)
}

// Config contains the settings for one frame.
type Config struct {
	Params    scan.Parameters
	Source    LineSource
	Corrector *linedist.Corrector
	// Pipelined runs transport, corrector and row packaging in a worker
	// goroutine that feeds up to PipelineDepth rows ahead of the reader.
	Pipelined     bool
	PipelineDepth int
}

// Stats counts what a frame delivered.
type Stats struct {
	Rows       int
	Bytes      int64
	Drained    int // device lines discarded after the declared height
	Correction linedist.Stats
}

// Producer presents one frame behind Read. It is used by a single reader;
// Abort may be called from another goroutine.
type Producer struct {
	params scan.Parameters
	src    LineSource
	corr   *linedist.Corrector
	rows   *rowBuilder
	ctx    context.Context

	queue   []linedist.Line
	pending []byte
	done    bool
	err     error

	statsMu sync.Mutex
	stats   Stats

	cancel   context.CancelFunc
	stopOnce sync.Once
	aborted  atomic.Bool

	// pipelined mode
	chunks chan []byte
	group  *errgroup.Group
}

// New creates a Producer for one frame. The context bounds every transport
// read made on behalf of the frame.
func New(ctx context.Context, cfg Config) (*Producer, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Source == nil || cfg.Corrector == nil {
		return nil, fmt.Errorf("frame needs a line source and a corrector: %w", scan.ErrInvalid)
	}
	if cfg.Params.Format == scan.FormatRGB && cfg.Params.Depth == 1 {
		return nil, fmt.Errorf("1-bit colour frames: %w", scan.ErrUnsupported)
	}

	fctx, cancel := context.WithCancel(ctx)
	p := &Producer{
		params: cfg.Params,
		src:    cfg.Source,
		corr:   cfg.Corrector,
		rows:   newRowBuilder(cfg.Params),
		ctx:    fctx,
		cancel: cancel,
	}
	if cfg.Pipelined {
		depth := cfg.PipelineDepth
		if depth <= 0 {
			depth = 16
		}
		g, gctx := errgroup.WithContext(fctx)
		p.ctx = gctx
		p.group = g
		p.chunks = make(chan []byte, depth)
		g.Go(p.pump)
	}
	return p, nil
}

// Parameters returns the frame geometry.
func (p *Producer) Parameters() scan.Parameters { return p.params }

// Stats returns the counters for the frame so far.
func (p *Producer) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Read copies frame bytes into buf. A nil error means more data follows
// (n may be less than len(buf)); io.EOF marks the end of the frame and may
// come with n == 0; any other error aborts the acquisition.
func (p *Producer) Read(buf []byte) (int, error) {
	if p.aborted.Load() {
		return 0, scan.ErrCancelled
	}
	if p.err != nil {
		return 0, p.err
	}
	for len(p.pending) == 0 {
		if p.done {
			return 0, io.EOF
		}
		row, err := p.next()
		if errors.Is(err, io.EOF) {
			p.done = true
			return 0, io.EOF
		}
		if err != nil {
			p.err = err
			return 0, err
		}
		p.pending = row
	}
	n := copy(buf, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// next returns the next row, from the worker when pipelined.
func (p *Producer) next() ([]byte, error) {
	if p.chunks == nil {
		return p.nextRow()
	}
	row, ok := <-p.chunks
	if ok {
		return row, nil
	}
	// the worker closes the channel on every exit; Wait reports why
	if err := p.group.Wait(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// pump is the pipelined worker.
func (p *Producer) pump() error {
	defer close(p.chunks)
	for {
		row, err := p.nextRow()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case p.chunks <- row:
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	}
}

// nextRow pulls lines from the transport through the corrector until one
// row of the frame is complete.
func (p *Producer) nextRow() ([]byte, error) {
	if p.params.HeightKnown() && p.rowCount() >= p.params.Lines {
		return nil, p.drain()
	}
	for {
		for len(p.queue) > 0 {
			l := p.queue[0]
			p.queue = p.queue[1:]
			row, err := p.rows.add(l)
			if err != nil {
				return nil, err
			}
			if row != nil {
				p.statsMu.Lock()
				p.stats.Rows++
				p.stats.Bytes += int64(len(row))
				p.statsMu.Unlock()
				return row, nil
			}
		}

		line, err := p.src.ReceiveLine(p.ctx)
		if errors.Is(err, io.EOF) {
			p.endOfPass()
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		lines, err := p.corr.Push(line)
		if err != nil {
			return nil, err
		}
		p.queue = append(p.queue, lines...)
	}
}

func (p *Producer) rowCount() int {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats.Rows
}

// drain discards device lines past the declared height until the transport
// reports the end of the pass.
func (p *Producer) drain() error {
	for {
		_, err := p.src.ReceiveLine(p.ctx)
		if errors.Is(err, io.EOF) {
			p.endOfPass()
			return io.EOF
		}
		if err != nil {
			return err
		}
		p.statsMu.Lock()
		p.stats.Drained++
		p.statsMu.Unlock()
	}
}

func (p *Producer) endOfPass() {
	if p.rows.partial() {
		monitoring.Logf("[frame] end of pass inside a %s row; discarding its planes", p.params.Format)
	}
	cs := p.corr.Flush()
	p.statsMu.Lock()
	p.stats.Correction = cs
	rows := p.stats.Rows
	p.statsMu.Unlock()
	if p.params.HeightKnown() && rows < p.params.Lines {
		monitoring.Logf("[frame] device ended %s frame after %d of %d rows", p.params.Format, rows, p.params.Lines)
	}
}

// Abort stops the frame: blocked transport reads are cancelled and, in
// pipelined mode, the worker is joined before Abort returns. Every later
// Read returns scan.ErrCancelled. Abort may be called from any goroutine.
func (p *Producer) Abort() {
	p.aborted.Store(true)
	p.stop()
}

// Close releases the frame once it has been read, joining the worker in
// pipelined mode.
func (p *Producer) Close() error {
	p.stop()
	return nil
}

func (p *Producer) stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		if p.group == nil {
			return
		}
		// unblock a worker waiting to hand over a row
		go func() {
			for range p.chunks {
			}
		}()
		_ = p.group.Wait()
	})
}
