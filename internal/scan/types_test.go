package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestBytesPerLineFor(t *testing.T) {
	tests := []struct {
		format Format
		pixels int
		depth  int
		want   int
	}{
		{FormatGray, 10, 8, 10},
		{FormatRGB, 10, 8, 30},
		{FormatRed, 10, 8, 10},
		{FormatGray, 10, 1, 2},
		{FormatGray, 16, 1, 2},
		{FormatGray, 17, 1, 3},
	}
	for _, tt := range tests {
		if got := BytesPerLineFor(tt.format, tt.pixels, tt.depth); got != tt.want {
			t.Errorf("BytesPerLineFor(%s, %d, %d) = %d, want %d", tt.format, tt.pixels, tt.depth, got, tt.want)
		}
	}
}

func TestParameters_Validate(t *testing.T) {
	good := Parameters{Format: FormatRGB, PixelsPerLine: 4, BytesPerLine: 12, Lines: UnknownLines, Depth: 8}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	bad := good
	bad.BytesPerLine = 4
	if err := bad.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate() error = %v, want ErrInvalid", err)
	}

	bad = good
	bad.Depth = 16
	if err := bad.Validate(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Validate() error = %v, want ErrUnsupported", err)
	}

	bad = good
	bad.Lines = -3
	if err := bad.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate() error = %v, want ErrInvalid", err)
	}
}

func TestParameters_TotalBytes(t *testing.T) {
	p := Parameters{BytesPerLine: 12, Lines: 5}
	if got := p.TotalBytes(); got != 60 {
		t.Errorf("TotalBytes() = %d, want 60", got)
	}
	p.Lines = UnknownLines
	if got := p.TotalBytes(); got != -1 {
		t.Errorf("TotalBytes() = %d, want -1", got)
	}
}

func TestChannelOffsets(t *testing.T) {
	for i, c := range ColorChannels {
		off, ok := c.Offset()
		if !ok || off != i {
			t.Errorf("%s.Offset() = %d, %v; want %d, true", c, off, ok, i)
		}
		if f := FormatForChannel(c); f.Channel() != c || !f.SingleChannel() {
			t.Errorf("FormatForChannel(%s) = %s, round trip failed", c, f)
		}
	}
	if _, ok := ChannelNone.Offset(); ok {
		t.Error("ChannelNone should not have an RGB offset")
	}
}

func TestParseChannel(t *testing.T) {
	for _, s := range []string{"R", "red"} {
		if c, err := ParseChannel(s); err != nil || c != ChannelRed {
			t.Errorf("ParseChannel(%q) = %v, %v", s, c, err)
		}
	}
	if _, err := ParseChannel("purple"); !errors.Is(err, ErrInvalid) {
		t.Errorf("ParseChannel(purple) error = %v, want ErrInvalid", err)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusGood},
		{io.EOF, StatusEOF},
		{fmt.Errorf("read: %w", ErrCancelled), StatusCancelled},
		{context.Canceled, StatusCancelled},
		{fmt.Errorf("grow: %w", ErrOutOfMemory), StatusNoMem},
		{fmt.Errorf("decode: %w", ErrProtocol), StatusIOError},
		{ErrUnsupported, StatusUnsupported},
		{errors.New("boom"), StatusIOError},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range []Format{FormatGray, FormatRGB, FormatRed, FormatGreen, FormatBlue} {
		got, err := ParseFormat(f.String())
		if err != nil || got != f {
			t.Errorf("ParseFormat(%q) = %v, %v, want %v", f.String(), got, err, f)
		}
	}
	if _, err := ParseFormat("cmyk"); !errors.Is(err, ErrInvalid) {
		t.Errorf("ParseFormat(cmyk) error = %v, want ErrInvalid", err)
	}
}
