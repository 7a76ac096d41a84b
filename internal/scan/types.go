package scan

import "fmt"

// UnknownLines is the Lines value of a frame whose height is determined only
// by the end of the stream.
const UnknownLines = -1

// Channel identifies the physical sensor a scanline came from.
type Channel int

const (
	ChannelNone Channel = iota
	ChannelRed
	ChannelGreen
	ChannelBlue
)

// ColorChannels lists the colour channels in composite order.
var ColorChannels = [3]Channel{ChannelRed, ChannelGreen, ChannelBlue}

func (c Channel) String() string {
	switch c {
	case ChannelNone:
		return "none"
	case ChannelRed:
		return "red"
	case ChannelGreen:
		return "green"
	case ChannelBlue:
		return "blue"
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

// Offset returns the byte offset of the channel within an RGB pixel.
func (c Channel) Offset() (int, bool) {
	switch c {
	case ChannelRed:
		return 0, true
	case ChannelGreen:
		return 1, true
	case ChannelBlue:
		return 2, true
	case ChannelNone:
		return 0, false
	}
	return 0, false
}

// ParseChannel maps a wire or command token to a Channel.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "none", "gray", "N":
		return ChannelNone, nil
	case "red", "R":
		return ChannelRed, nil
	case "green", "G":
		return ChannelGreen, nil
	case "blue", "B":
		return ChannelBlue, nil
	}
	return ChannelNone, fmt.Errorf("unknown channel %q: %w", s, ErrInvalid)
}

// Scanline is one physical sensor read.
type Scanline struct {
	Channel Channel
	Index   int // per-channel acquisition index within the pass
	Depth   int // bits per sample
	Data    []byte
}

// Format is the closed set of frame formats.
type Format int

const (
	FormatGray Format = iota
	FormatRGB
	FormatRed
	FormatGreen
	FormatBlue
)

func (f Format) String() string {
	switch f {
	case FormatGray:
		return "gray"
	case FormatRGB:
		return "rgb"
	case FormatRed:
		return "red"
	case FormatGreen:
		return "green"
	case FormatBlue:
		return "blue"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ParseFormat maps a format name, as printed by String, to a Format.
func ParseFormat(s string) (Format, error) {
	for _, f := range []Format{FormatGray, FormatRGB, FormatRed, FormatGreen, FormatBlue} {
		if f.String() == s {
			return f, nil
		}
	}
	return FormatGray, fmt.Errorf("unknown frame format %q: %w", s, ErrInvalid)
}

// Channel returns the channel carried by a single-channel format. Gray and
// RGB frames report ChannelNone.
func (f Format) Channel() Channel {
	switch f {
	case FormatRed:
		return ChannelRed
	case FormatGreen:
		return ChannelGreen
	case FormatBlue:
		return ChannelBlue
	case FormatGray, FormatRGB:
		return ChannelNone
	}
	return ChannelNone
}

// SingleChannel reports whether the format is one plane of a multi-pass
// colour image.
func (f Format) SingleChannel() bool {
	switch f {
	case FormatRed, FormatGreen, FormatBlue:
		return true
	case FormatGray, FormatRGB:
		return false
	}
	return false
}

// Color reports whether the finished image has three samples per pixel.
func (f Format) Color() bool {
	switch f {
	case FormatRGB, FormatRed, FormatGreen, FormatBlue:
		return true
	case FormatGray:
		return false
	}
	return false
}

// FormatForChannel returns the single-channel frame format for c.
func FormatForChannel(c Channel) Format {
	switch c {
	case ChannelRed:
		return FormatRed
	case ChannelGreen:
		return FormatGreen
	case ChannelBlue:
		return FormatBlue
	case ChannelNone:
		return FormatGray
	}
	return FormatGray
}

// Parameters describes the geometry of one frame. It is queried once per
// frame before the first read.
type Parameters struct {
	Format        Format
	LastFrame     bool
	BytesPerLine  int
	PixelsPerLine int
	Lines         int // UnknownLines when the height is not known up front
	Depth         int // 1 or 8
}

// HeightKnown reports whether Lines was declared.
func (p Parameters) HeightKnown() bool {
	return p.Lines >= 0
}

// TotalBytes returns the declared frame size, or -1 if the height is unknown.
func (p Parameters) TotalBytes() int64 {
	if !p.HeightKnown() {
		return -1
	}
	return int64(p.BytesPerLine) * int64(p.Lines)
}

// BytesPerLineFor returns the bytes a row of the given format occupies.
func BytesPerLineFor(f Format, pixels, depth int) int {
	samples := pixels
	if f == FormatRGB {
		samples = 3 * pixels
	}
	if depth == 1 {
		return (samples + 7) / 8
	}
	return samples * depth / 8
}

// Validate checks the parameters for internal consistency.
func (p Parameters) Validate() error {
	if p.PixelsPerLine <= 0 {
		return fmt.Errorf("pixels per line must be positive, got %d: %w", p.PixelsPerLine, ErrInvalid)
	}
	if p.Depth != 1 && p.Depth != 8 {
		return fmt.Errorf("unsupported depth %d: %w", p.Depth, ErrUnsupported)
	}
	if p.Lines < UnknownLines {
		return fmt.Errorf("invalid line count %d: %w", p.Lines, ErrInvalid)
	}
	if want := BytesPerLineFor(p.Format, p.PixelsPerLine, p.Depth); p.BytesPerLine != want {
		return fmt.Errorf("bytes per line %d does not match %s geometry (want %d): %w",
			p.BytesPerLine, p.Format, want, ErrInvalid)
	}
	return nil
}
