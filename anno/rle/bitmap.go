package rle

import (
	roaring "github.com/RoaringBitmap/roaring"
)

// Bitmap returns the set of foreground pixel indices (row-major) as a roaring
// bitmap. Run pairs map directly onto bitmap ranges without materializing the
// dense mask.
func (m *CompressedMask) Bitmap() (*roaring.Bitmap, error) {
	runs, err := unpackRuns(m.Counts)
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	var pos uint64
	fg := false
	for _, r := range runs {
		if fg && r > 0 {
			bm.AddRange(pos, pos+uint64(r))
		}
		pos += uint64(r)
		fg = !fg
	}
	total := uint64(m.Size[0]) * uint64(m.Size[1])
	if pos != total {
		return nil, ErrDecode
	}
	return bm, nil
}

// FromBitmap builds a compressed mask from a foreground pixel bitmap.
func FromBitmap(bm *roaring.Bitmap, height, width uint32) (*CompressedMask, error) {
	total := height * width
	dense := make([]bool, total)
	it := bm.Iterator()
	for it.HasNext() {
		px := it.Next()
		if px >= total {
			return nil, ErrDecode
		}
		dense[px] = true
	}
	return FromDense(dense, height, width)
}

// Area returns the number of foreground pixels.
func (m *CompressedMask) Area() (uint64, error) {
	runs, err := unpackRuns(m.Counts)
	if err != nil {
		return 0, err
	}
	var area uint64
	fg := false
	for _, r := range runs {
		if fg {
			area += uint64(r)
		}
		fg = !fg
	}
	return area, nil
}
