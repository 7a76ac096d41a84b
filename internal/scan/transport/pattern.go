package transport

import (
	"fmt"

	"github.com/banshee-data/linescan/internal/scan"
)

// Pattern selects the simulated document.
type Pattern string

const (
	// PatternGradient varies red across the page, green down it and blue
	// along the diagonal.
	PatternGradient Pattern = "gradient"
	// PatternBars draws eight vertical colour bars.
	PatternBars Pattern = "bars"
)

// ParsePattern validates a pattern name; the empty name selects the gradient.
func ParsePattern(s string) (Pattern, error) {
	switch Pattern(s) {
	case "", PatternGradient:
		return PatternGradient, nil
	case PatternBars:
		return PatternBars, nil
	}
	return "", fmt.Errorf("unknown test pattern %q: %w", s, scan.ErrInvalid)
}

var bars = [8][3]byte{
	{255, 255, 255}, {255, 255, 0}, {0, 255, 255}, {0, 255, 0},
	{255, 0, 255}, {255, 0, 0}, {0, 0, 255}, {0, 0, 0},
}

// Sample returns the document value seen by channel ch at pixel x of row.
// ChannelNone is the luminance of the pixel.
func (p Pattern) Sample(x, row, width int, ch scan.Channel) byte {
	var rgb [3]byte
	switch p {
	case PatternBars:
		rgb = bars[x*len(bars)/max(width, 1)%len(bars)]
	default:
		rgb = [3]byte{byte(x * 255 / max(width-1, 1)), byte(row), byte(x + row)}
	}
	if off, ok := ch.Offset(); ok {
		return rgb[off]
	}
	return byte((299*int(rgb[0]) + 587*int(rgb[1]) + 114*int(rgb[2])) / 1000)
}

// Line renders one document row in the layout a device sends for a pass:
// one plane for a tagged channel, interleaved RGB or gray for ChannelNone,
// packed bits (1 = black) at depth 1.
func (p Pattern) Line(format scan.Format, ch scan.Channel, row, width, depth int) []byte {
	if ch == scan.ChannelNone && format == scan.FormatRGB {
		out := make([]byte, 0, 3*width)
		for x := 0; x < width; x++ {
			for _, c := range scan.ColorChannels {
				out = append(out, p.Sample(x, row, width, c))
			}
		}
		return out
	}
	if depth == 1 {
		out := make([]byte, (width+7)/8)
		for x := 0; x < width; x++ {
			if p.Sample(x, row, width, ch) < 128 {
				out[x/8] |= 0x80 >> (x % 8)
			}
		}
		return out
	}
	out := make([]byte, width)
	for x := range out {
		out[x] = p.Sample(x, row, width, ch)
	}
	return out
}
