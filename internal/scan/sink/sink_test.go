package sink

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/banshee-data/linescan/internal/scan"
)

func TestPNM_Headers(t *testing.T) {
	tests := []struct {
		name string
		hdr  Header
		data []byte
		want string
	}{
		{
			name: "bilevel",
			hdr:  Header{Width: 10, Height: 1, Depth: 1},
			data: []byte{0xff, 0xc0},
			want: "P4\n# linescan data follows\n10 1\n\xff\xc0",
		},
		{
			name: "gray",
			hdr:  Header{Width: 2, Height: 3, Depth: 8},
			data: []byte{10, 20, 30, 40, 50, 0},
			want: "P5\n# linescan data follows\n2 3\n255\n\x0a\x14\x1e\x28\x32\x00",
		},
		{
			name: "color",
			hdr:  Header{Width: 1, Height: 1, Depth: 8, Color: true},
			data: []byte{1, 2, 3},
			want: "P6\n# linescan data follows\n1 1\n255\n\x01\x02\x03",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			w := NewPNM(&out)
			if err := w.WriteHeader(tt.hdr); err != nil {
				t.Fatalf("WriteHeader: %v", err)
			}
			if _, err := w.Write(tt.data); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := w.Flush(); err != nil {
				t.Fatalf("Flush: %v", err)
			}
			if got := out.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPNM_SizeChecks(t *testing.T) {
	w := NewPNM(&bytes.Buffer{})
	if _, err := w.Write([]byte{1}); !errors.Is(err, scan.ErrInvalid) {
		t.Errorf("Write before header: got %v, want ErrInvalid", err)
	}
	if err := w.WriteHeader(Header{Width: 2, Height: 1, Depth: 8}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte{1, 2, 3}); !errors.Is(err, scan.ErrInvalid) {
		t.Errorf("oversized Write: got %v, want ErrInvalid", err)
	}
	if _, err := w.Write([]byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); !errors.Is(err, scan.ErrInvalid) {
		t.Errorf("short Flush: got %v, want ErrInvalid", err)
	}
}

func TestHeader_Validate(t *testing.T) {
	tests := []struct {
		hdr     Header
		wantErr error
	}{
		{Header{Width: 1, Height: 0, Depth: 8}, nil},
		{Header{Width: 0, Height: 1, Depth: 8}, scan.ErrInvalid},
		{Header{Width: 1, Height: 1, Depth: 16}, scan.ErrUnsupported},
		{Header{Width: 1, Height: 1, Depth: 1, Color: true}, scan.ErrUnsupported},
	}
	for _, tt := range tests {
		err := tt.hdr.Validate()
		if tt.wantErr == nil && err != nil {
			t.Errorf("Validate(%+v) = %v, want nil", tt.hdr, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("Validate(%+v) = %v, want %v", tt.hdr, err, tt.wantErr)
		}
	}
}

func TestNew(t *testing.T) {
	if w, err := New("pnm", &bytes.Buffer{}); err != nil {
		t.Errorf("New(pnm) error: %v", err)
	} else if _, ok := w.(*PNM); !ok {
		t.Errorf("New(pnm) = %T, want *PNM", w)
	}
	if w, err := New("TIFF", &bytes.Buffer{}); err != nil {
		t.Errorf("New(TIFF) error: %v", err)
	} else if _, ok := w.(*TIFF); !ok {
		t.Errorf("New(TIFF) = %T, want *TIFF", w)
	}
	if _, err := New("jpeg", &bytes.Buffer{}); !errors.Is(err, scan.ErrInvalid) {
		t.Errorf("New(jpeg) = %v, want ErrInvalid", err)
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		format string
		hdr    Header
		want   string
	}{
		{"pnm", Header{Depth: 1}, ".pbm"},
		{"pnm", Header{Depth: 8}, ".pgm"},
		{"pnm", Header{Depth: 8, Color: true}, ".ppm"},
		{"tiff", Header{Depth: 8, Color: true}, ".tiff"},
	}
	for _, tt := range tests {
		if got := Extension(tt.format, tt.hdr); got != tt.want {
			t.Errorf("Extension(%q, %+v) = %q, want %q", tt.format, tt.hdr, got, tt.want)
		}
	}
}

func encodeTIFF(t *testing.T, h Header, data []byte) image.Image {
	t.Helper()
	var out bytes.Buffer
	w := NewTIFF(&out)
	if err := w.WriteHeader(h); err != nil {
		t.Fatal(err)
	}
	// two writes to exercise buffering
	half := len(data) / 2
	if _, err := w.Write(data[:half]); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data[half:]); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	img, err := tiff.Decode(&out)
	if err != nil {
		t.Fatalf("tiff.Decode: %v", err)
	}
	return img
}

func TestTIFF_RoundTrip(t *testing.T) {
	t.Run("color", func(t *testing.T) {
		data := []byte{255, 0, 0, 0, 255, 0, 0, 0, 255, 10, 20, 30}
		img := encodeTIFF(t, Header{Width: 2, Height: 2, Depth: 8, Color: true}, data)
		if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 2 {
			t.Fatalf("bounds = %v, want 2x2", b)
		}
		for i := 0; i < 4; i++ {
			x, y := i%2, i/2
			got := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			want := color.RGBA{data[3*i], data[3*i+1], data[3*i+2], 0xff}
			if got != want {
				t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	})

	t.Run("bilevel", func(t *testing.T) {
		img := encodeTIFF(t, Header{Width: 3, Height: 2, Depth: 1}, []byte{0xa0, 0x40})
		want := [][]uint8{{0, 255, 0}, {255, 0, 255}}
		for y, row := range want {
			for x, v := range row {
				if got := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y; got != v {
					t.Errorf("pixel (%d,%d) = %d, want %d", x, y, got, v)
				}
			}
		}
	})
}

func TestTIFF_RejectsEmptyImage(t *testing.T) {
	w := NewTIFF(&bytes.Buffer{})
	if err := w.WriteHeader(Header{Width: 4, Height: 0, Depth: 8}); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); !errors.Is(err, scan.ErrInvalid) {
		t.Errorf("Flush on empty image = %v, want ErrInvalid", err)
	}
}
