package rle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskCodec(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"DenseRoundTrip", testMaskDenseRoundTrip},
		{"URLERoundTrip", testMaskURLERoundTrip},
		{"EmptyMask", testMaskEmpty},
		{"SizeMismatch", testMaskSizeMismatch},
		{"Bitmap", testMaskBitmap},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

// a 4x6 mask with an interior foreground block
func blockMask() ([]bool, uint32, uint32) {
	const h, w = 4, 6
	dense := make([]bool, h*w)
	for y := 1; y <= 2; y++ {
		for x := 2; x <= 4; x++ {
			dense[y*w+x] = true
		}
	}
	return dense, h, w
}

func testMaskDenseRoundTrip(t *testing.T) {
	dense, h, w := blockMask()
	m, err := FromDense(dense, h, w)
	require.NoError(t, err)
	assert.Equal(t, h, m.Height())
	assert.Equal(t, w, m.Width())
	assert.False(t, m.IsEmpty())

	back, err := m.Dense()
	require.NoError(t, err)
	assert.Equal(t, dense, back, "dense round trip should be lossless")

	// all-foreground mask starts with a zero-length background run
	full := []bool{true, true, true, true}
	fm, err := FromDense(full, 2, 2)
	require.NoError(t, err)
	u, err := fm.ToURLE()
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 4}, u.Counts)
}

func testMaskURLERoundTrip(t *testing.T) {
	dense, h, w := blockMask()
	m, err := FromDense(dense, h, w)
	require.NoError(t, err)

	u, err := m.ToURLE()
	require.NoError(t, err)
	assert.Equal(t, m.Size, u.Size)

	m2, err := FromURLE(u)
	require.NoError(t, err)
	assert.Equal(t, m.Size, m2.Size)
	assert.Equal(t, m.Counts, m2.Counts, "URLE conversion should be exact")
}

func testMaskEmpty(t *testing.T) {
	var nilMask *CompressedMask
	assert.True(t, nilMask.IsEmpty())
	assert.True(t, (&CompressedMask{}).IsEmpty())

	dense, h, w := blockMask()
	m, err := FromDense(dense, h, w)
	require.NoError(t, err)
	assert.False(t, m.IsEmpty())
}

func testMaskSizeMismatch(t *testing.T) {
	_, err := FromDense(make([]bool, 5), 2, 3)
	require.ErrorIs(t, err, ErrDecode)

	// runs covering more pixels than the declared size
	_, err = FromURLE(&UncompressedMask{Size: [2]uint32{2, 2}, Counts: []uint32{1, 4}})
	require.ErrorIs(t, err, ErrDecode)

	bad := &CompressedMask{Size: [2]uint32{2, 2}, Counts: packRuns([]uint32{1, 2})}
	_, err = bad.Dense()
	require.ErrorIs(t, err, ErrDecode)
}

func testMaskBitmap(t *testing.T) {
	dense, h, w := blockMask()
	m, err := FromDense(dense, h, w)
	require.NoError(t, err)

	bm, err := m.Bitmap()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), bm.GetCardinality())

	area, err := m.Area()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), area)

	m2, err := FromBitmap(bm, h, w)
	require.NoError(t, err)
	back, err := m2.Dense()
	require.NoError(t, err)
	assert.Equal(t, dense, back, "bitmap round trip should preserve pixels")
}
