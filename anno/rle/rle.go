// Package rle implements the compressed run-length mask codec used for
// segmentation masks. Masks are stored on disk in the compressed form and
// exchanged with UI-facing callers in the uncompressed (URLE) form.
package rle

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrDecode is returned when run counts disagree with the declared mask size.
	ErrDecode = errors.New("rle: counts do not decode to height*width pixels")
)

// CompressedMask is a binary run-length encoded boolean mask.
// Counts holds varint-packed alternating run lengths of a row-major scan,
// starting with the background run (0 if the mask starts with foreground).
type CompressedMask struct {
	Size   [2]uint32 // height, width
	Counts []byte
}

// UncompressedMask is the URLE interchange form: the same alternating run
// lengths as plain integers. It is a transport format, never stored.
type UncompressedMask struct {
	Size   [2]uint32
	Counts []uint32
}

// Height returns the mask height in pixels.
func (m *CompressedMask) Height() uint32 { return m.Size[0] }

// Width returns the mask width in pixels.
func (m *CompressedMask) Width() uint32 { return m.Size[1] }

// IsEmpty reports whether the mask has zero size or no encoded runs.
func (m *CompressedMask) IsEmpty() bool {
	return m == nil || (m.Size[0] == 0 && m.Size[1] == 0) || len(m.Counts) == 0
}

// FromDense encodes a row-major boolean mask of the given dimensions.
func FromDense(mask []bool, height, width uint32) (*CompressedMask, error) {
	if uint32(len(mask)) != height*width {
		return nil, fmt.Errorf("%w: got %d pixels for size %dx%d", ErrDecode, len(mask), height, width)
	}
	runs := denseToRuns(mask)
	return &CompressedMask{
		Size:   [2]uint32{height, width},
		Counts: packRuns(runs),
	}, nil
}

// Dense decodes the mask into a row-major boolean slice of height*width pixels.
func (m *CompressedMask) Dense() ([]bool, error) {
	runs, err := unpackRuns(m.Counts)
	if err != nil {
		return nil, err
	}
	total := uint64(m.Size[0]) * uint64(m.Size[1])
	var sum uint64
	for _, r := range runs {
		sum += uint64(r)
	}
	if sum != total {
		return nil, fmt.Errorf("%w: runs cover %d pixels, size %dx%d needs %d",
			ErrDecode, sum, m.Size[0], m.Size[1], total)
	}
	out := make([]bool, total)
	pos := 0
	fg := false
	for _, r := range runs {
		if fg {
			for i := 0; i < int(r); i++ {
				out[pos+i] = true
			}
		}
		pos += int(r)
		fg = !fg
	}
	return out, nil
}

// ToURLE converts to the uncompressed interchange form. The conversion is
// exact: same size, same run sequence.
func (m *CompressedMask) ToURLE() (*UncompressedMask, error) {
	runs, err := unpackRuns(m.Counts)
	if err != nil {
		return nil, err
	}
	return &UncompressedMask{Size: m.Size, Counts: runs}, nil
}

// FromURLE converts the interchange form back to a compressed mask.
func FromURLE(u *UncompressedMask) (*CompressedMask, error) {
	total := uint64(u.Size[0]) * uint64(u.Size[1])
	var sum uint64
	for _, r := range u.Counts {
		sum += uint64(r)
	}
	if sum != total {
		return nil, fmt.Errorf("%w: runs cover %d pixels, size %dx%d needs %d",
			ErrDecode, sum, u.Size[0], u.Size[1], total)
	}
	return &CompressedMask{Size: u.Size, Counts: packRuns(u.Counts)}, nil
}

func denseToRuns(mask []bool) []uint32 {
	runs := make([]uint32, 0, 16)
	cur := false // runs start with background by convention
	var n uint32
	for _, px := range mask {
		if px == cur {
			n++
			continue
		}
		runs = append(runs, n)
		cur = px
		n = 1
	}
	runs = append(runs, n)
	return runs
}

// packRuns packs run lengths as uvarints. The scheme is self-describing
// together with Size: unpacking yields the exact run sequence back.
func packRuns(runs []uint32) []byte {
	buf := make([]byte, 0, len(runs)*2)
	var tmp [binary.MaxVarintLen32]byte
	for _, r := range runs {
		n := binary.PutUvarint(tmp[:], uint64(r))
		buf = append(buf, tmp[:n]...)
	}
	return buf
}

func unpackRuns(counts []byte) ([]uint32, error) {
	runs := make([]uint32, 0, 16)
	for len(counts) > 0 {
		v, n := binary.Uvarint(counts)
		if n <= 0 || v > 0xFFFFFFFF {
			return nil, fmt.Errorf("%w: malformed varint run", ErrDecode)
		}
		runs = append(runs, uint32(v))
		counts = counts[n:]
	}
	return runs, nil
}
