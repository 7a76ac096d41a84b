package frame

import (
	"fmt"

	"github.com/banshee-data/linescan/internal/scan"
	"github.com/banshee-data/linescan/internal/scan/linedist"
)

// rowBuilder turns aligned lines into rows in the frame's byte layout.
// Colour rows arrive as three planes and leave pixel-interleaved.
type rowBuilder struct {
	format scan.Format
	bpl    int
	planes [3][]byte
	have   uint8
}

func newRowBuilder(p scan.Parameters) *rowBuilder {
	return &rowBuilder{format: p.Format, bpl: p.BytesPerLine}
}

// partial reports whether some planes of a colour row are still missing.
func (b *rowBuilder) partial() bool { return b.have != 0 }

// add consumes one aligned line. It returns a complete row, or nil when more
// planes are needed.
func (b *rowBuilder) add(l linedist.Line) ([]byte, error) {
	switch b.format {
	case scan.FormatRGB:
		return b.addColor(l)
	case scan.FormatGray:
		return b.whole(l)
	case scan.FormatRed, scan.FormatGreen, scan.FormatBlue:
		if l.Channel != b.format.Channel() && l.Channel != scan.ChannelNone {
			return nil, fmt.Errorf("%s line in %s frame: %w", l.Channel, b.format, scan.ErrProtocol)
		}
		return b.whole(l)
	}
	return nil, fmt.Errorf("frame format %s: %w", b.format, scan.ErrUnsupported)
}

func (b *rowBuilder) whole(l linedist.Line) ([]byte, error) {
	if len(l.Data) != b.bpl {
		return nil, fmt.Errorf("row %d has %d bytes, want %d: %w", l.Row, len(l.Data), b.bpl, scan.ErrProtocol)
	}
	return l.Data, nil
}

func (b *rowBuilder) addColor(l linedist.Line) ([]byte, error) {
	off, ok := l.Channel.Offset()
	if !ok {
		// the device already delivered pixel-interleaved RGB
		if b.have != 0 {
			return nil, fmt.Errorf("interleaved row %d inside a planar row: %w", l.Row, scan.ErrProtocol)
		}
		return b.whole(l)
	}
	if b.have&(1<<off) != 0 {
		return nil, fmt.Errorf("duplicate %s plane for row %d: %w", l.Channel, l.Row, scan.ErrProtocol)
	}
	if len(l.Data)*3 != b.bpl {
		return nil, fmt.Errorf("%s plane of row %d has %d bytes, want %d: %w",
			l.Channel, l.Row, len(l.Data), b.bpl/3, scan.ErrProtocol)
	}
	b.planes[off] = l.Data
	b.have |= 1 << off
	if b.have != 0b111 {
		return nil, nil
	}

	row := make([]byte, b.bpl)
	for x := 0; x < b.bpl/3; x++ {
		row[3*x] = b.planes[0][x]
		row[3*x+1] = b.planes[1][x]
		row[3*x+2] = b.planes[2][x]
	}
	b.planes = [3][]byte{}
	b.have = 0
	return row, nil
}
