// Package acquire runs scan sessions: it sequences device passes, wires a
// line-distance corrector and a frame producer to each pass and presents the
// frames through a pull API that the assembler consumes.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/linescan/internal/monitoring"
	"github.com/banshee-data/linescan/internal/scan"
	"github.com/banshee-data/linescan/internal/scan/frame"
	"github.com/banshee-data/linescan/internal/scan/linedist"
	"github.com/banshee-data/linescan/internal/scan/transport"
	"github.com/banshee-data/linescan/internal/timeutil"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StatePassActive
	StateFinalizing
	StateDone
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePassActive:
		return "pass_active"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// startable reports whether Start may begin a new acquisition from s.
// Cancelled and Failed acquisitions must be Reset first.
func (s State) startable() bool {
	return s == StateIdle || s == StateDone
}

// Config contains the settings for one session.
type Config struct {
	Transport transport.Transport
	Geometry  linedist.Geometry

	Mode       Mode
	Resolution int // dpi
	Width      int // pixels per line
	Lines      int // scan.UnknownLines lets the device decide
	ThreePass  bool
	MaxWidth   int // zero means unlimited

	// InterleavedColor is set for devices that send single-pass colour as
	// pixel-interleaved lines. Such lines need no correction.
	InterleavedColor bool
	Pipelined        bool
	PipelineDepth    int

	Clock timeutil.Clock
}

func (c *Config) validate() error {
	if c.Transport == nil {
		return fmt.Errorf("session needs a transport: %w", scan.ErrInvalid)
	}
	if c.Width <= 0 {
		return fmt.Errorf("width must be positive, got %d: %w", c.Width, scan.ErrInvalid)
	}
	if c.MaxWidth > 0 && c.Width > c.MaxWidth {
		return fmt.Errorf("width %d exceeds the device maximum of %d: %w", c.Width, c.MaxWidth, scan.ErrInvalid)
	}
	if c.Resolution < 0 {
		return fmt.Errorf("resolution must not be negative, got %d: %w", c.Resolution, scan.ErrInvalid)
	}
	if c.Lines < scan.UnknownLines {
		return fmt.Errorf("invalid line count %d: %w", c.Lines, scan.ErrInvalid)
	}
	return nil
}

// Stats are the counters of the current or most recent acquisition.
// Correction counters are folded in as each pass ends.
type Stats struct {
	ID            string        `json:"id"`
	State         string        `json:"state"`
	Pass          int           `json:"pass"`
	Passes        int           `json:"passes"`
	LinesReceived int           `json:"lines_received"`
	RowsEmitted   int           `json:"rows_emitted"`
	LeadIn        int           `json:"lead_in_dropped"`
	Incomplete    int           `json:"incomplete_dropped"`
	Drained       int           `json:"drained"`
	Bytes         int64         `json:"bytes"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

func (s *Stats) add(f frame.Stats) {
	s.LinesReceived += f.Correction.LinesIn
	s.RowsEmitted += f.Rows
	s.LeadIn += f.Correction.LeadIn
	s.Incomplete += f.Correction.Incomplete
	s.Drained += f.Drained
	s.Bytes += f.Bytes
}

// Session is one scanner handle. It is driven by a single reader; Cancel,
// State and Stats may be called from any goroutine.
type Session struct {
	cfg    Config
	passes []Pass
	clock  timeutil.Clock

	cancelled atomic.Bool

	mu        sync.Mutex
	id        string
	state     State
	next      int // index of the next pass to start
	prod      *frame.Producer
	frameDone bool
	cancel    context.CancelFunc
	err       error
	totals    Stats
	started   time.Time
	ended     time.Time
}

// New creates an idle session.
func New(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	passes, err := Plan(cfg.Mode, cfg.ThreePass)
	if err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Session{
		cfg:    cfg,
		passes: passes,
		clock:  cfg.Clock,
		id:     uuid.NewString(),
	}, nil
}

// ID returns the identifier of the current or most recent acquisition.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Passes returns the pass plan.
func (s *Session) Passes() []Pass { return append([]Pass(nil), s.passes...) }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) logf(format string, args ...interface{}) {
	monitoring.Logf("[acquire %.8s] "+format, append([]interface{}{s.id}, args...)...)
}

// Parameters returns the geometry of the current frame, or of the next one
// between passes.
func (s *Session) Parameters() scan.Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.next
	if s.prod != nil || (s.frameDone && i == len(s.passes)) {
		i--
	}
	if i < 0 || i >= len(s.passes) {
		i = 0
	}
	return s.cfg.parameters(s.passes, i)
}

// Start begins the next frame. From Idle or Done it starts a new
// acquisition at pass 0; during an acquisition it starts the next pass once
// the current frame has been read to its end. A cancelled or failed
// acquisition is not resumed: Start returns scan.ErrCancelled or the
// failure until Reset.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state.startable():
		s.reset()
	case s.state == StateCancelled:
		return fmt.Errorf("acquisition %s was cancelled: %w", s.id, scan.ErrCancelled)
	case s.state == StateFailed:
		return fmt.Errorf("acquisition %s failed: %w", s.id, s.err)
	case s.state == StatePassActive && s.frameDone && s.next < len(s.passes):
	case s.state == StatePassActive && !s.frameDone:
		return fmt.Errorf("pass %d is still being read: %w", s.next-1, scan.ErrInvalid)
	default:
		return fmt.Errorf("cannot start a pass in state %s: %w", s.state, scan.ErrInvalid)
	}

	if err := s.beginPass(ctx, s.next); err != nil {
		s.failLocked(err)
		return err
	}
	return nil
}

// Reset returns a finished, cancelled or failed session to Idle. The next
// Start begins a new acquisition with a new ID. Reset of a running
// acquisition is an error; Cancel it first.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateIdle:
		return nil
	case StatePassActive, StateFinalizing:
		return fmt.Errorf("cannot reset a session in state %s: %w", s.state, scan.ErrInvalid)
	case StateDone, StateCancelled, StateFailed:
	}
	s.release()
	s.reset()
	s.state = StateIdle
	return nil
}

// reset prepares a fresh acquisition. The caller holds s.mu.
func (s *Session) reset() {
	if s.state != StateIdle {
		s.id = uuid.NewString()
	}
	s.cancelled.Store(false)
	s.next = 0
	s.err = nil
	s.frameDone = false
	s.totals = Stats{}
	s.started = s.clock.Now()
	s.ended = time.Time{}
}

// beginPass sends the start command for pass i and sets up its corrector
// and producer. The caller holds s.mu.
func (s *Session) beginPass(ctx context.Context, i int) error {
	pass := s.passes[i]
	params := s.cfg.parameters(s.passes, i)

	corr, err := linedist.New(linedist.Config{
		Geometry:   s.cfg.Geometry,
		Resolution: s.cfg.Resolution,
		Channels:   transport.Channels(pass.Format, s.cfg.InterleavedColor),
		LineBytes:  s.cfg.lineBytes(pass),
	})
	if err != nil {
		return fmt.Errorf("failed to set up pass %d: %w", i, err)
	}

	pctx, cancel := context.WithCancel(ctx)
	cmd, err := transport.PassCommand{
		Pass:       i,
		Format:     pass.Format,
		Resolution: s.cfg.Resolution,
		Width:      s.cfg.Width,
		Lines:      s.cfg.Lines,
		Depth:      pass.Depth,
	}.MarshalText()
	if err == nil {
		err = s.cfg.Transport.SendCommand(pctx, cmd)
	}
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start pass %d: %w", i, err)
	}

	prod, err := frame.New(pctx, frame.Config{
		Params:        params,
		Source:        s.cfg.Transport,
		Corrector:     corr,
		Pipelined:     s.cfg.Pipelined,
		PipelineDepth: s.cfg.PipelineDepth,
	})
	if err != nil {
		cancel()
		if stopErr := s.cfg.Transport.Stop(); stopErr != nil {
			s.logf("stop after failed pass setup: %v", stopErr)
		}
		return fmt.Errorf("failed to set up pass %d: %w", i, err)
	}

	s.prod = prod
	s.cancel = cancel
	s.frameDone = false
	s.next = i + 1
	s.state = StatePassActive
	s.logf("pass %d/%d started: %s %dx%d at %d dpi, correction %v",
		i+1, len(s.passes), pass.Format, s.cfg.Width, s.cfg.Lines, s.cfg.Resolution, corr.Enabled())
	return nil
}

// Read copies frame bytes into p. It returns io.EOF at the end of each
// frame, scan.ErrCancelled after Cancel and the failure after any other
// error.
func (s *Session) Read(p []byte) (int, error) {
	if s.cancelled.Load() {
		return 0, scan.ErrCancelled
	}
	s.mu.Lock()
	prod := s.prod
	switch {
	case s.state == StateFailed:
		err := s.err
		s.mu.Unlock()
		return 0, err
	case s.state == StateCancelled:
		s.mu.Unlock()
		return 0, scan.ErrCancelled
	case prod == nil && s.frameDone:
		s.mu.Unlock()
		return 0, io.EOF
	case prod == nil:
		state := s.state
		s.mu.Unlock()
		return 0, fmt.Errorf("read in state %s: %w", state, scan.ErrInvalid)
	}
	s.mu.Unlock()

	n, err := prod.Read(p)
	if err == nil {
		return n, nil
	}
	if s.cancelled.Load() {
		return 0, scan.ErrCancelled
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prod != prod {
		// cancelled while the read was in flight
		return 0, scan.ErrCancelled
	}
	if errors.Is(err, io.EOF) {
		s.endPass()
		return n, io.EOF
	}
	s.failLocked(err)
	return n, err
}

// endPass folds the finished frame into the totals. The caller holds s.mu.
func (s *Session) endPass() {
	st := s.prod.Stats()
	_ = s.prod.Close()
	s.cancel()
	s.cancel = nil
	s.prod = nil
	s.frameDone = true
	s.totals.add(st)
	s.logf("pass %d/%d done: %d rows, %d lines, %d lead-in, %d incomplete",
		s.next, len(s.passes), st.Rows, st.Correction.LinesIn, st.Correction.LeadIn, st.Correction.Incomplete)
	if s.next == len(s.passes) {
		s.state = StateFinalizing
	}
}

// failLocked moves the session to Failed. The caller holds s.mu.
func (s *Session) failLocked(err error) {
	s.logf("acquisition failed: %v", err)
	s.release()
	if stopErr := s.cfg.Transport.Stop(); stopErr != nil {
		s.logf("failed to stop device: %v", stopErr)
	}
	s.err = err
	s.state = StateFailed
	s.ended = s.clock.Now()
}

// release aborts the running frame. The caller holds s.mu.
func (s *Session) release() {
	if s.prod != nil {
		s.prod.Abort()
		s.totals.add(s.prod.Stats())
		s.prod = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Cancel stops the acquisition. It is idempotent and safe at any point,
// including between passes and while another goroutine is blocked in Read.
// Later Reads and Starts return scan.ErrCancelled until Reset.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateDone, StateCancelled, StateFailed:
		return
	case StateIdle, StatePassActive, StateFinalizing:
	}
	s.cancelled.Store(true)
	s.release()
	if s.state == StatePassActive {
		if err := s.cfg.Transport.Stop(); err != nil {
			s.logf("failed to stop device: %v", err)
		}
	}
	s.state = StateCancelled
	s.ended = s.clock.Now()
	s.logf("acquisition cancelled")
}

// Close ends a finished acquisition. Closing an acquisition that is still
// running cancels it. The transport stays open for the next acquisition.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateFinalizing:
		s.release()
		s.state = StateDone
		s.ended = s.clock.Now()
		s.logf("acquisition done: %d rows, %d bytes in %v",
			s.totals.RowsEmitted, s.totals.Bytes, s.ended.Sub(s.started))
		s.mu.Unlock()
		return nil
	case StatePassActive:
		s.mu.Unlock()
		s.Cancel()
		return nil
	case StateIdle, StateDone, StateCancelled, StateFailed:
	}
	s.mu.Unlock()
	return nil
}

// Err returns the failure of a Failed session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns the session counters, including the frame in progress.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.totals
	if s.prod != nil {
		st.add(s.prod.Stats())
	}
	st.ID = s.id
	st.State = s.state.String()
	st.Pass = s.next
	st.Passes = len(s.passes)
	switch {
	case s.started.IsZero():
	case s.ended.IsZero():
		st.Elapsed = s.clock.Since(s.started)
	default:
		st.Elapsed = s.ended.Sub(s.started)
	}
	return st
}
