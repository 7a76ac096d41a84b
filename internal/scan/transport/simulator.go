package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/linescan/internal/scan"
	"github.com/banshee-data/linescan/internal/scan/linedist"
	"github.com/banshee-data/linescan/internal/timeutil"
)

// DefaultSimHeight is the document height used when the host leaves the
// height to the device.
const DefaultSimHeight = 64

// ErrDeviceFault is the device error injected by Faults.ErrorAfter.
var ErrDeviceFault = errors.New("simulated device fault")

// Faults injects device misbehaviour.
type Faults struct {
	ErrorAfter int // report a device error after this many lines
	StallAfter int // stop sending after this many lines until STOP
	ShortBy    int // end the pass this many rows before the requested height
	ExtraRows  int // keep sending this many rows past the requested height
}

// SimConfig describes the simulated scanner.
type SimConfig struct {
	// Geometry is the physical sensor layout. Planar colour passes are
	// delivered with these offsets, exactly as a real sensor bar would.
	Geometry    linedist.Geometry
	Pattern     Pattern
	Height      int  // document rows when the host asks for UnknownLines
	Interleaved bool // single-pass colour lines arrive pixel-interleaved
	LinePeriod  time.Duration
	Clock       timeutil.Clock
	Faults      Faults
}

// simPass is the line schedule of one simulated pass.
type simPass struct {
	cmd      PassCommand
	pattern  Pattern
	channels []scan.Channel
	dist     []int
	maxDist  int
	steps    int // lines per channel
	step     int
	ch       int
	sent     int
	faults   Faults
}

func newSimPass(cfg SimConfig, cmd PassCommand) (*simPass, error) {
	if cmd.Width <= 0 {
		return nil, fmt.Errorf("START width %d: %w", cmd.Width, scan.ErrProtocol)
	}
	if cmd.Depth != 1 && cmd.Depth != 8 {
		return nil, fmt.Errorf("START depth %d: %w", cmd.Depth, scan.ErrProtocol)
	}
	rows := cmd.Lines
	if rows < 0 {
		rows = cfg.Height
		if rows <= 0 {
			rows = DefaultSimHeight
		}
	}
	rows += cfg.Faults.ExtraRows - cfg.Faults.ShortBy
	if rows < 0 {
		rows = 0
	}

	p := &simPass{
		cmd:      cmd,
		pattern:  cfg.Pattern,
		channels: Channels(cmd.Format, cfg.Interleaved),
		faults:   cfg.Faults,
	}
	p.dist = make([]int, len(p.channels))
	if len(p.channels) > 1 {
		for i, ch := range p.channels {
			p.dist[i] = cfg.Geometry.Distance(ch, cmd.Resolution)
			p.maxDist = max(p.maxDist, p.dist[i])
		}
	}
	p.steps = rows + p.maxDist
	return p, nil
}

// next returns the next line of the pass, or false at its end.
func (p *simPass) next() (scan.Scanline, bool) {
	if p.step >= p.steps {
		return scan.Scanline{}, false
	}
	ch := p.channels[p.ch]
	row := p.step - (p.maxDist - p.dist[p.ch])
	line := scan.Scanline{
		Channel: ch,
		Index:   p.step,
		Depth:   p.cmd.Depth,
		Data:    p.pattern.Line(p.cmd.Format, ch, row, p.cmd.Width, p.cmd.Depth),
	}
	p.ch++
	if p.ch == len(p.channels) {
		p.ch = 0
		p.step++
	}
	p.sent++
	return line, true
}

// fault reports the injected condition due before the next line.
func (p *simPass) fault() (deviceErr, stall bool) {
	f := p.faults
	return f.ErrorAfter > 0 && p.sent >= f.ErrorAfter, f.StallAfter > 0 && p.sent >= f.StallAfter
}

// Simulator is an in-process Transport producing test patterns.
type Simulator struct {
	cfg SimConfig

	mu       sync.Mutex
	pass     *simPass
	stop     chan struct{}
	commands []string
	closed   bool
}

// NewSimulator creates a simulated device.
func NewSimulator(cfg SimConfig) *Simulator {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Simulator{cfg: cfg}
}

// Commands returns the commands received so far.
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Simulator) SendCommand(ctx context.Context, cmd []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("simulator closed: %w", scan.ErrProtocol)
	}
	s.commands = append(s.commands, string(cmd))

	pc, stop, err := ParseCommand(cmd)
	if err != nil {
		return err
	}
	if stop {
		s.pass = nil
		if s.stop != nil {
			close(s.stop)
			s.stop = nil
		}
		return nil
	}
	p, err := newSimPass(s.cfg, pc)
	if err != nil {
		return err
	}
	s.pass = p
	s.stop = make(chan struct{})
	return nil
}

func (s *Simulator) ReceiveLine(ctx context.Context) (scan.Scanline, error) {
	if err := ctx.Err(); err != nil {
		return scan.Scanline{}, err
	}
	if s.cfg.LinePeriod > 0 {
		s.cfg.Clock.Sleep(s.cfg.LinePeriod)
	}

	s.mu.Lock()
	p, stop := s.pass, s.stop
	if p == nil {
		s.mu.Unlock()
		return scan.Scanline{}, fmt.Errorf("line requested with no pass running: %w", scan.ErrProtocol)
	}
	deviceErr, stall := p.fault()
	if deviceErr {
		s.pass = nil
		s.mu.Unlock()
		return scan.Scanline{}, fmt.Errorf("device error after %d lines: %w: %w", p.sent, ErrDeviceFault, scan.ErrProtocol)
	}
	if stall {
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return scan.Scanline{}, ctx.Err()
		case <-stop:
			return scan.Scanline{}, io.EOF
		}
	}
	line, ok := p.next()
	if !ok {
		s.pass = nil
	}
	s.mu.Unlock()
	if !ok {
		return scan.Scanline{}, io.EOF
	}
	return line, nil
}

// Stop ends the running pass.
func (s *Simulator) Stop() error {
	return s.SendCommand(context.Background(), StopCommand)
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pass = nil
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	return nil
}
