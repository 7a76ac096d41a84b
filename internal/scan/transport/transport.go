// Package transport connects an acquisition to a scanner: the real device
// over a serial link, or a simulator that produces test patterns with the
// sensor offsets of a configured geometry.
package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/linescan/internal/scan"
)

// Transport is the device side of an acquisition.
type Transport interface {
	// SendCommand writes one command to the device.
	SendCommand(ctx context.Context, cmd []byte) error
	// ReceiveLine blocks for the next scanline. It returns io.EOF when the
	// device reports the end of the pass.
	ReceiveLine(ctx context.Context) (scan.Scanline, error)
	// Stop asks the device to abandon the current pass. It is best effort.
	Stop() error
	Close() error
}

// StopCommand asks the device to abandon the current pass.
var StopCommand = []byte("STOP")

// PassCommand starts one pass. Its text form is
// "START <pass> <format> <resolution> <width> <lines> <depth>".
type PassCommand struct {
	Pass       int
	Format     scan.Format
	Resolution int // dpi
	Width      int // pixels
	Lines      int // scan.UnknownLines lets the device decide
	Depth      int
}

// MarshalText implements encoding.TextMarshaler.
func (c PassCommand) MarshalText() ([]byte, error) {
	return fmt.Appendf(nil, "START %d %s %d %d %d %d",
		c.Pass, c.Format, c.Resolution, c.Width, c.Lines, c.Depth), nil
}

// ParseCommand decodes a command written by the host. It reports stop for
// STOP and the pass settings for START.
func ParseCommand(b []byte) (cmd PassCommand, stop bool, err error) {
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return cmd, false, fmt.Errorf("empty command: %w", scan.ErrProtocol)
	}
	switch fields[0] {
	case "STOP":
		return cmd, true, nil
	case "START":
	default:
		return cmd, false, fmt.Errorf("unknown command %q: %w", fields[0], scan.ErrProtocol)
	}
	if len(fields) != 7 {
		return cmd, false, fmt.Errorf("START takes 6 arguments, got %d: %w", len(fields)-1, scan.ErrProtocol)
	}
	if cmd.Format, err = scan.ParseFormat(fields[2]); err != nil {
		return cmd, false, fmt.Errorf("%w: %w", scan.ErrProtocol, err)
	}
	ints := []*int{&cmd.Pass, nil, &cmd.Resolution, &cmd.Width, &cmd.Lines, &cmd.Depth}
	for i, dst := range ints {
		if dst == nil {
			continue
		}
		v, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return cmd, false, fmt.Errorf("START argument %d %q: %w", i+1, fields[i+1], scan.ErrProtocol)
		}
		*dst = v
	}
	return cmd, false, nil
}

// Channels returns the channel tags the device uses for a pass of format f.
// Interleaved colour lines are tagged ChannelNone.
func Channels(f scan.Format, interleaved bool) []scan.Channel {
	switch f {
	case scan.FormatRGB:
		if interleaved {
			return []scan.Channel{scan.ChannelNone}
		}
		return append([]scan.Channel(nil), scan.ColorChannels[:]...)
	case scan.FormatRed, scan.FormatGreen, scan.FormatBlue:
		return []scan.Channel{f.Channel()}
	case scan.FormatGray:
		return []scan.Channel{scan.ChannelNone}
	}
	return nil
}
