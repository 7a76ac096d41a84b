package linedist

import (
	"fmt"

	"github.com/banshee-data/linescan/internal/monitoring"
	"github.com/banshee-data/linescan/internal/scan"
)

// Config contains the per-pass settings for a Corrector.
type Config struct {
	Geometry   Geometry
	Resolution int            // scan resolution in dpi; 0 means native
	Channels   []scan.Channel // channels delivered during the pass, in composite order
	LineBytes  int            // bytes per channel line; 0 disables the length check
}

// Line is one aligned output line.
type Line struct {
	Seq     int // strictly increasing, gapless across the pass
	Row     int // image row the line belongs to
	Channel scan.Channel
	Data    []byte
}

// ChannelState is the correction state of one channel for the current pass.
type ChannelState struct {
	Channel  scan.Channel
	Distance int     // rows, after quantisation
	Quant    float64 // resolution ratio applied to the native distance
	Held     int     // lines waiting for the other channels; Distance+1 at most mid-step
	LeadIn   int     // lines dropped because they precede row 0
	next     int     // expected acquisition index
}

// Stats summarises a pass.
type Stats struct {
	LinesIn    int
	LinesOut   int
	RowsOut    int
	LeadIn     int
	Incomplete int // rows discarded at Flush because a channel never arrived
}

type slot struct {
	row    int
	mask   uint8
	planes [][]byte
}

// Corrector re-times channel-tagged scanlines so that the samples of one
// image row are emitted together. It is owned by a single pass and is not
// safe for concurrent use.
type Corrector struct {
	enabled  bool
	mismatch error
	states   []ChannelState
	maxDist  int
	full     uint8
	ring     []slot
	nextRow  int
	seq      int
	lineLen  int
	flushed  bool
	stats    Stats
}

// New creates a Corrector for one pass. Inconsistent distance settings are
// not an error: correction is disabled, the problem is logged and reported
// by Mismatch.
func New(cfg Config) (*Corrector, error) {
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("corrector needs at least one channel: %w", scan.ErrInvalid)
	}
	if len(cfg.Channels) > 8 {
		return nil, fmt.Errorf("too many channels (%d): %w", len(cfg.Channels), scan.ErrInvalid)
	}

	c := &Corrector{
		states:  make([]ChannelState, len(cfg.Channels)),
		lineLen: cfg.LineBytes,
	}
	seen := map[scan.Channel]bool{}
	for i, ch := range cfg.Channels {
		if seen[ch] {
			return nil, fmt.Errorf("duplicate channel %s: %w", ch, scan.ErrInvalid)
		}
		seen[ch] = true
		c.states[i] = ChannelState{Channel: ch, Quant: 1}
	}

	if err := cfg.Geometry.check(); err != nil {
		c.mismatch = err
		monitoring.Logf("[linedist] correction disabled: %v", err)
		return c, nil
	}
	// a single-channel pass has nothing to align against
	if cfg.Geometry.Model == ModelNone || len(cfg.Channels) == 1 {
		return c, nil
	}

	for i := range c.states {
		st := &c.states[i]
		native := cfg.Geometry.nativeDistance(st.Channel)
		st.Distance, st.Quant = Quantize(native, cfg.Geometry.NativeResolution, cfg.Resolution)
		if st.Distance > c.maxDist {
			c.maxDist = st.Distance
		}
	}
	c.enabled = true
	c.full = uint8(1<<len(c.states)) - 1
	c.ring = make([]slot, c.maxDist+1)
	for i := range c.ring {
		c.ring[i] = slot{row: -1, planes: make([][]byte, len(c.states))}
	}
	debugf("[linedist] enabled: channels=%d max_distance=%d", len(c.states), c.maxDist)
	return c, nil
}

// Enabled reports whether lines are being re-timed. A disabled corrector
// passes every line straight through.
func (c *Corrector) Enabled() bool { return c.enabled }

// Mismatch returns the configuration problem that disabled correction, if
// any. The returned error wraps scan.ErrConfigMismatch.
func (c *Corrector) Mismatch() error { return c.mismatch }

// MaxDistance returns the largest quantised distance in the pass, which is
// also the number of ring slots minus one.
func (c *Corrector) MaxDistance() int { return c.maxDist }

// RingSlots returns the number of composite-row slots held in memory.
func (c *Corrector) RingSlots() int { return len(c.ring) }

// State returns a copy of the correction state for ch.
func (c *Corrector) State(ch scan.Channel) (ChannelState, bool) {
	for _, st := range c.states {
		if st.Channel == ch {
			return st, true
		}
	}
	return ChannelState{}, false
}

// Stats returns the counters for the pass so far.
func (c *Corrector) Stats() Stats { return c.stats }

func (c *Corrector) stateIndex(ch scan.Channel) int {
	for i := range c.states {
		if c.states[i].Channel == ch {
			return i
		}
	}
	return -1
}

// Push accepts one raw scanline and returns the lines that became ready, in
// output order. The returned data is owned by the caller.
func (c *Corrector) Push(line scan.Scanline) ([]Line, error) {
	if c.flushed {
		return nil, fmt.Errorf("line pushed after the pass was flushed: %w", scan.ErrInvalid)
	}
	i := c.stateIndex(line.Channel)
	if i < 0 {
		return nil, fmt.Errorf("unexpected %s line in pass: %w", line.Channel, scan.ErrProtocol)
	}
	st := &c.states[i]
	if line.Index != st.next {
		return nil, fmt.Errorf("%s line index %d out of sequence (want %d): %w",
			line.Channel, line.Index, st.next, scan.ErrProtocol)
	}
	if c.lineLen > 0 && len(line.Data) != c.lineLen {
		return nil, fmt.Errorf("%s line %d has %d bytes, want %d: %w",
			line.Channel, line.Index, len(line.Data), c.lineLen, scan.ErrProtocol)
	}
	st.next++
	c.stats.LinesIn++

	if !c.enabled {
		out := Line{Seq: c.seq, Row: line.Index, Channel: line.Channel, Data: append([]byte(nil), line.Data...)}
		c.seq++
		c.stats.LinesOut++
		return []Line{out}, nil
	}

	row := line.Index - (c.maxDist - st.Distance)
	if row < 0 {
		st.LeadIn++
		c.stats.LeadIn++
		debugf("[linedist] %s line %d is lead-in (row %d)", line.Channel, line.Index, row)
		return nil, nil
	}
	if row >= c.nextRow+len(c.ring) {
		return nil, fmt.Errorf("%s line %d overruns the correction ring (row %d, oldest pending %d): %w",
			line.Channel, line.Index, row, c.nextRow, scan.ErrProtocol)
	}

	s := &c.ring[row%len(c.ring)]
	if s.row != row {
		s.row = row
		s.mask = 0
	}
	s.planes[i] = append(s.planes[i][:0], line.Data...)
	s.mask |= 1 << i
	st.Held++

	return c.drain(), nil
}

// drain emits every completed row at the head of the ring.
func (c *Corrector) drain() []Line {
	var out []Line
	for {
		s := &c.ring[c.nextRow%len(c.ring)]
		if s.row != c.nextRow || s.mask != c.full {
			return out
		}
		for i := range c.states {
			out = append(out, Line{Seq: c.seq, Row: s.row, Channel: c.states[i].Channel, Data: s.planes[i]})
			s.planes[i] = nil
			c.states[i].Held--
			c.seq++
		}
		c.stats.LinesOut += len(c.states)
		c.stats.RowsOut++
		debugf("[linedist] row %d complete", s.row)
		s.row = -1
		s.mask = 0
		c.nextRow++
	}
}

// Flush ends the pass. Rows still waiting for a channel are discarded and
// counted; the ring is released.
func (c *Corrector) Flush() Stats {
	for i := range c.ring {
		if c.ring[i].row >= 0 && c.ring[i].mask != 0 {
			c.stats.Incomplete++
		}
	}
	if c.stats.Incomplete > 0 {
		debugf("[linedist] flush discarded %d incomplete rows", c.stats.Incomplete)
	}
	for i := range c.states {
		c.states[i].Held = 0
	}
	c.ring = nil
	c.flushed = true
	return c.stats
}
