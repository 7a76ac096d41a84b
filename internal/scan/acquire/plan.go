package acquire

import (
	"fmt"

	"github.com/banshee-data/linescan/internal/scan"
)

// Mode is the user-facing scan mode.
type Mode string

const (
	ModeLineart Mode = "lineart"
	ModeGray    Mode = "gray"
	ModeColor   Mode = "color"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeLineart, ModeGray, ModeColor:
		return m, nil
	}
	return "", fmt.Errorf("unknown scan mode %q: %w", s, scan.ErrInvalid)
}

// Pass is one device pass of an acquisition.
type Pass struct {
	Format scan.Format
	Depth  int
}

// Plan returns the passes a scan in mode m takes. Colour is a single
// interleaved pass unless threePass asks for one pass per channel.
func Plan(m Mode, threePass bool) ([]Pass, error) {
	switch m {
	case ModeLineart:
		return []Pass{{scan.FormatGray, 1}}, nil
	case ModeGray:
		return []Pass{{scan.FormatGray, 8}}, nil
	case ModeColor:
		if !threePass {
			return []Pass{{scan.FormatRGB, 8}}, nil
		}
		passes := make([]Pass, 0, len(scan.ColorChannels))
		for _, ch := range scan.ColorChannels {
			passes = append(passes, Pass{scan.FormatForChannel(ch), 8})
		}
		return passes, nil
	}
	return nil, fmt.Errorf("unknown scan mode %q: %w", m, scan.ErrInvalid)
}

// parameters returns the frame geometry of pass i.
func (c *Config) parameters(passes []Pass, i int) scan.Parameters {
	p := passes[i]
	return scan.Parameters{
		Format:        p.Format,
		LastFrame:     i == len(passes)-1,
		BytesPerLine:  scan.BytesPerLineFor(p.Format, c.Width, p.Depth),
		PixelsPerLine: c.Width,
		Lines:         c.Lines,
		Depth:         p.Depth,
	}
}

// lineBytes returns the size of one device line in pass p. Planar colour
// passes deliver one channel per line.
func (c *Config) lineBytes(p Pass) int {
	if p.Format == scan.FormatRGB && !c.InterleavedColor {
		return scan.BytesPerLineFor(scan.FormatGray, c.Width, p.Depth)
	}
	return scan.BytesPerLineFor(p.Format, c.Width, p.Depth)
}
