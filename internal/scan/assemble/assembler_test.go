package assemble

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/linescan/internal/scan"
	"github.com/banshee-data/linescan/internal/scan/sink"
)

type fakeFrame struct {
	params scan.Parameters
	data   []byte
}

// fakeSource serves scripted frames, at most chunk bytes per Read.
type fakeSource struct {
	frames    []fakeFrame
	chunk     int
	cur       int
	pos       int
	started   int
	cancelled bool
	closed    bool
}

func (f *fakeSource) Start(ctx context.Context) error {
	if f.cancelled {
		return scan.ErrCancelled
	}
	if f.started >= len(f.frames) {
		return fmt.Errorf("no more frames: %w", scan.ErrInvalid)
	}
	f.cur = f.started
	f.pos = 0
	f.started++
	return nil
}

func (f *fakeSource) Parameters() scan.Parameters { return f.frames[f.cur].params }

func (f *fakeSource) Read(p []byte) (int, error) {
	if f.cancelled {
		return 0, scan.ErrCancelled
	}
	data := f.frames[f.cur].data[f.pos:]
	if len(data) == 0 {
		return 0, io.EOF
	}
	n := len(p)
	if f.chunk > 0 && n > f.chunk {
		n = f.chunk
	}
	n = copy(p[:n], data)
	f.pos += n
	return n, nil
}

func (f *fakeSource) Cancel()      { f.cancelled = true }
func (f *fakeSource) Close() error { f.closed = true; return nil }

func grayFrame(width, lines int, data []byte) fakeFrame {
	return fakeFrame{
		params: scan.Parameters{Format: scan.FormatGray, LastFrame: true, BytesPerLine: width, PixelsPerLine: width, Lines: lines, Depth: 8},
		data:   data,
	}
}

func runPNM(t *testing.T, a *Assembler, src *fakeSource) (Result, []byte, error) {
	t.Helper()
	var out bytes.Buffer
	res, err := a.Run(context.Background(), src, sink.NewPNM(&out))
	return res, out.Bytes(), err
}

func TestAssembler_UnknownHeightScenario(t *testing.T) {
	src := &fakeSource{frames: []fakeFrame{grayFrame(2, scan.UnknownLines, []byte{10, 20, 30, 40, 50})}, chunk: 1}
	res, out, err := runPNM(t, New(Options{}), src)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Height)
	assert.True(t, res.PartialRow)
	assert.True(t, res.Buffered)
	assert.Equal(t, int64(6), res.Bytes)
	assert.Equal(t, "P5\n# linescan data follows\n2 3\n255\n\x0a\x14\x1e\x28\x32\x00", string(out))
	assert.True(t, src.closed)
}

func TestAssembler_UnknownHeightCeil(t *testing.T) {
	for _, n := range []int{0, 1, 4, 5, 300, 1023, 1024} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i%255 + 1)
		}
		src := &fakeSource{frames: []fakeFrame{grayFrame(4, scan.UnknownLines, data)}, chunk: 7}
		res, out, err := runPNM(t, New(Options{GrowRows: 16}), src)
		require.NoError(t, err, "n=%d", n)
		assert.Equal(t, (n+3)/4, res.Height, "n=%d", n)
		assert.Equal(t, n%4 != 0, res.PartialRow, "n=%d", n)
		body := out[len(out)-int(res.Bytes):]
		assert.Equal(t, data, body[:n])
		for _, b := range body[n:] {
			assert.Zero(t, b)
		}
	}
}

func TestAssembler_PassThrough(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6}
	src := &fakeSource{frames: []fakeFrame{grayFrame(3, 2, data)}, chunk: 4}
	a := New(Options{})
	res, out, err := runPNM(t, a, src)
	require.NoError(t, err)

	assert.False(t, res.Buffered)
	assert.Nil(t, a.Raster())
	assert.Equal(t, 2, res.Height)
	assert.Equal(t, int64(0), res.Padded)
	assert.Equal(t, "P5\n# linescan data follows\n3 2\n255\n\x01\x02\x03\x04\x05\x06", string(out))
}

func TestAssembler_PassThroughShortFrameIsPadded(t *testing.T) {
	src := &fakeSource{frames: []fakeFrame{grayFrame(3, 3, []byte{1, 2, 3, 4})}}
	res, out, err := runPNM(t, New(Options{}), src)
	require.NoError(t, err)

	assert.Equal(t, int64(5), res.Padded)
	assert.Equal(t, int64(9), res.Bytes)
	assert.True(t, bytes.HasSuffix(out, []byte{1, 2, 3, 4, 0, 0, 0, 0, 0}))
}

func TestAssembler_PassThroughOverrunIsProtocolError(t *testing.T) {
	src := &fakeSource{frames: []fakeFrame{grayFrame(2, 1, []byte{1, 2, 3})}}
	_, _, err := runPNM(t, New(Options{}), src)
	assert.ErrorIs(t, err, scan.ErrProtocol)
	assert.True(t, src.cancelled)
}

func planeFrames(width, height int, last scan.Format) []fakeFrame {
	var frames []fakeFrame
	for _, f := range []scan.Format{scan.FormatRed, scan.FormatGreen, scan.FormatBlue} {
		data := make([]byte, width*height)
		for i := range data {
			data[i] = byte(int(f)*50 + i)
		}
		frames = append(frames, fakeFrame{
			params: scan.Parameters{Format: f, LastFrame: f == last, BytesPerLine: width, PixelsPerLine: width, Lines: height, Depth: 8},
			data:   data,
		})
	}
	return frames
}

func TestAssembler_ThreeFrameInterleave(t *testing.T) {
	const w, h = 5, 4
	frames := planeFrames(w, h, scan.FormatBlue)
	src := &fakeSource{frames: frames, chunk: 3}
	res, out, err := runPNM(t, New(Options{GrowRows: 1}), src)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Frames)
	assert.Equal(t, h, res.Height)
	assert.Equal(t, 3, res.BytesPerPixel)
	assert.False(t, res.PartialRow)

	body := out[len(out)-w*h*3:]
	assert.True(t, bytes.HasPrefix(out, []byte("P6\n")))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for k := 0; k < 3; k++ {
				want := frames[k].data[y*w+x]
				assert.Equal(t, want, body[(y*w+x)*3+k], "pixel (%d,%d) byte %d", x, y, k)
			}
		}
	}
}

func TestAssembler_ThreeFrameUnknownHeight(t *testing.T) {
	frames := planeFrames(2, 3, scan.FormatBlue)
	for i := range frames {
		frames[i].params.Lines = scan.UnknownLines
	}
	// blue ends one sample early
	frames[2].data = frames[2].data[:5]
	res, out, err := runPNM(t, New(Options{}), &fakeSource{frames: frames})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Height)
	assert.False(t, res.PartialRow, "red and green reached the end of row 2")
	body := out[len(out)-18:]
	assert.Equal(t, byte(0), body[17], "missing blue sample stays zero")
	assert.Equal(t, frames[0].data[5], body[15])
}

func TestAssembler_OutOfMemoryAborts(t *testing.T) {
	src := &fakeSource{frames: []fakeFrame{grayFrame(4, scan.UnknownLines, make([]byte, 100))}, chunk: 10}
	a := New(Options{GrowRows: 4, MaxBytes: 32})
	_, _, err := runPNM(t, a, src)

	assert.ErrorIs(t, err, scan.ErrOutOfMemory)
	assert.Equal(t, scan.StatusNoMem, scan.StatusOf(err))
	assert.True(t, src.cancelled)
	assert.Nil(t, a.Raster())
}

func TestAssembler_CancelMidFrameReleasesRaster(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{frames: []fakeFrame{grayFrame(4, scan.UnknownLines, make([]byte, 64))}, chunk: 8}
	var sawRaster bool
	var a *Assembler
	a = New(Options{Progress: func(frame int, read, expected int64) {
		sawRaster = sawRaster || a.Raster() != nil
		assert.Equal(t, int64(-1), expected)
		if read >= 16 {
			cancel()
		}
	}})
	_, err := a.Run(ctx, src, sink.NewPNM(io.Discard))

	assert.ErrorIs(t, err, scan.ErrCancelled)
	assert.True(t, sawRaster)
	assert.Nil(t, a.Raster())
	assert.True(t, src.cancelled)
	n, rerr := src.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, rerr, scan.ErrCancelled)
}

func TestAssembler_RejectsInconsistentFrames(t *testing.T) {
	t.Run("width change", func(t *testing.T) {
		frames := planeFrames(2, 2, scan.FormatBlue)
		frames[1].params.PixelsPerLine = 3
		frames[1].params.BytesPerLine = 3
		_, _, err := runPNM(t, New(Options{}), &fakeSource{frames: frames})
		assert.ErrorIs(t, err, scan.ErrProtocol)
	})

	t.Run("bilevel plane", func(t *testing.T) {
		f := fakeFrame{params: scan.Parameters{Format: scan.FormatRed, BytesPerLine: 1, PixelsPerLine: 8, Lines: 1, Depth: 1}, data: []byte{0xff}}
		_, _, err := runPNM(t, New(Options{}), &fakeSource{frames: []fakeFrame{f}})
		assert.ErrorIs(t, err, scan.ErrUnsupported)
	})

	t.Run("gray after plane", func(t *testing.T) {
		frames := planeFrames(2, 2, scan.FormatBlue)
		frames[1] = grayFrame(2, 2, []byte{1, 2, 3, 4})
		_, _, err := runPNM(t, New(Options{}), &fakeSource{frames: frames})
		assert.ErrorIs(t, err, scan.ErrProtocol)
	})
}

func TestAssembler_RequiresEachPlaneOnce(t *testing.T) {
	t.Run("repeated plane", func(t *testing.T) {
		frames := planeFrames(2, 1, scan.FormatBlue)
		frames[1] = frames[0]
		src := &fakeSource{frames: frames}
		a := New(Options{})
		_, out, err := runPNM(t, a, src)
		assert.ErrorIs(t, err, scan.ErrProtocol)
		assert.Empty(t, out, "no image for a frame sequence without green")
		assert.True(t, src.cancelled)
		assert.Nil(t, a.Raster())
	})

	t.Run("last frame before all planes", func(t *testing.T) {
		frames := planeFrames(2, 1, scan.FormatGreen)[:2]
		_, out, err := runPNM(t, New(Options{}), &fakeSource{frames: frames})
		assert.ErrorIs(t, err, scan.ErrProtocol)
		assert.Contains(t, err.Error(), "blue")
		assert.Empty(t, out)
	})

	t.Run("any plane order", func(t *testing.T) {
		frames := planeFrames(2, 1, scan.FormatGreen)
		frames[1], frames[2] = frames[2], frames[1]
		res, _, err := runPNM(t, New(Options{}), &fakeSource{frames: frames})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Frames)
	})
}

func TestAssembler_LineartUnknownHeight(t *testing.T) {
	f := fakeFrame{
		params: scan.Parameters{Format: scan.FormatGray, LastFrame: true, BytesPerLine: 2, PixelsPerLine: 10, Lines: scan.UnknownLines, Depth: 1},
		data:   []byte{0xff, 0xc0, 0x80, 0x00, 0x01},
	}
	res, out, err := runPNM(t, New(Options{}), &fakeSource{frames: []fakeFrame{f}})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Height)
	assert.Equal(t, "P4\n# linescan data follows\n10 3\n\xff\xc0\x80\x00\x01\x00", string(out))
}

func TestAssembler_ProgressReportsFrames(t *testing.T) {
	type call struct {
		frame          int
		read, expected int64
	}
	var calls []call
	opts := Options{ChunkSize: 4, Progress: func(frame int, read, expected int64) {
		calls = append(calls, call{frame, read, expected})
	}}
	_, _, err := runPNM(t, New(opts), &fakeSource{frames: planeFrames(2, 2, scan.FormatBlue)})
	require.NoError(t, err)

	want := []call{{0, 4, 4}, {1, 4, 4}, {2, 4, 4}}
	assert.Equal(t, want, calls)
}
