package assemble

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/linescan/internal/scan"
)

func TestRaster_GrowsInIncrementsWithZeroFill(t *testing.T) {
	r, err := NewRaster(RasterConfig{Width: 4, BytesPerPixel: 1, GrowRows: 8})
	require.NoError(t, err)
	assert.Equal(t, 0, r.Rows())

	_, err = r.Write([]byte{1})
	require.NoError(t, err)
	assert.Equal(t, 8, r.Rows(), "first byte allocates one increment")
	assert.Equal(t, 32, r.Cap())

	_, err = r.Write(make([]byte, 32))
	require.NoError(t, err)
	assert.Equal(t, 16, r.Rows())

	for _, b := range r.buf[33:] {
		require.Zero(t, b, "new capacity must be zero-filled")
	}
	col, row := r.Cursor()
	assert.Equal(t, 1, col)
	assert.Equal(t, 8, row)
}

func TestRaster_GrowthIdempotence(t *testing.T) {
	for _, size := range []int{1, 7, 255 * 3, 256 * 3, 1000, 4096} {
		oneShot, err := NewRaster(RasterConfig{Width: 3, BytesPerPixel: 1})
		require.NoError(t, err)
		_, err = oneShot.Write(make([]byte, size))
		require.NoError(t, err)

		byteWise, err := NewRaster(RasterConfig{Width: 3, BytesPerPixel: 1})
		require.NoError(t, err)
		for i := 0; i < size; i++ {
			_, err := byteWise.Write([]byte{byte(i)})
			require.NoError(t, err)
		}

		assert.Equal(t, oneShot.Cap(), byteWise.Cap(), "size %d", size)
		assert.LessOrEqual(t, byteWise.Cap()-size, DefaultGrowRows*3, "slack within one increment for size %d", size)
	}
}

func TestRaster_OutOfMemoryKeepsData(t *testing.T) {
	r, err := NewRaster(RasterConfig{Width: 2, BytesPerPixel: 1, GrowRows: 2, MaxBytes: 4})
	require.NoError(t, err)

	_, err = r.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	n, err := r.Write([]byte{5})
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, scan.ErrOutOfMemory), "got %v", err)
	assert.Equal(t, []byte{1, 2, 3, 4}, r.Bytes())
	assert.Equal(t, 2, r.Rows())
}

func TestRaster_InitialAllocationLimit(t *testing.T) {
	_, err := NewRaster(RasterConfig{Width: 10, BytesPerPixel: 3, InitialRows: 100, MaxBytes: 1000})
	assert.ErrorIs(t, err, scan.ErrOutOfMemory)

	_, err = NewRaster(RasterConfig{Width: 0, BytesPerPixel: 1})
	assert.ErrorIs(t, err, scan.ErrInvalid)
}

func TestRaster_FinalizeTrimsToReachedRow(t *testing.T) {
	r, err := NewRaster(RasterConfig{Width: 2, BytesPerPixel: 1, InitialRows: 10})
	require.NoError(t, err)
	_, err = r.Write([]byte{10, 20, 30, 40, 50})
	require.NoError(t, err)

	h, partial := r.Finalize()
	assert.Equal(t, 3, h)
	assert.True(t, partial)
	assert.Equal(t, []byte{10, 20, 30, 40, 50, 0}, r.Bytes())

	assert.ErrorIs(t, r.EnsureRows(20), scan.ErrInvalid, "no growth after finalisation")
	h, _ = r.Finalize()
	assert.Equal(t, 3, h)
}

func TestRaster_Planes(t *testing.T) {
	r, err := NewRaster(RasterConfig{Width: 2, BytesPerPixel: 3, GrowRows: 1})
	require.NoError(t, err)

	_, err = r.WritePlane([]byte{1})
	assert.ErrorIs(t, err, scan.ErrInvalid, "plane write needs StartPlane")
	assert.ErrorIs(t, r.StartPlane(3), scan.ErrInvalid)

	require.NoError(t, r.StartPlane(2))
	_, err = r.WritePlane([]byte{3, 6, 9})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Rows())
	assert.Equal(t, 9, r.Extent())

	require.NoError(t, r.StartPlane(0))
	_, err = r.WritePlane([]byte{1, 4})
	require.NoError(t, err)
	_, err = r.WritePlane([]byte{7})
	require.NoError(t, err)

	h, partial := r.Finalize()
	assert.Equal(t, 2, h)
	assert.True(t, partial)
	assert.Equal(t, []byte{1, 0, 3, 4, 0, 6, 7, 0, 9, 0, 0, 0}, r.Bytes())
}
