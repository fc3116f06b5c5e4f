// Package geometry holds the bounding box value type and its format
// conversions.
package geometry

import (
	"errors"
	"fmt"

	"github.com/openlabel/annostore/anno/rle"
)

// Format identifies the coordinate layout of a bounding box.
type Format string

const (
	// FormatXYXY is [x1, y1, x2, y2] using top-left and bottom-right corners.
	FormatXYXY Format = "xyxy"
	// FormatXYWH is [x, y, w, h] using the top-left corner as reference.
	FormatXYWH Format = "xywh"
)

// ErrEmptyMask is returned when deriving a bounding box from a mask with no
// foreground pixel.
var ErrEmptyMask = errors.New("geometry: mask has no foreground pixel")

// BBox is a bounding box in xyxy or xywh format.
//
// IsNormalized means the coordinates are fractions of image width/height in
// [0,1]. Normalize is not idempotent and calling it twice is a caller error;
// the type does not guard against it. Confidence is set only for
// model-predicted boxes.
type BBox struct {
	Coords       [4]float32
	Format       Format
	IsNormalized bool
	Confidence   *float32
}

// FromXYXY creates a normalized bounding box from xyxy coordinates.
func FromXYXY(coords [4]float32) BBox {
	return BBox{Coords: coords, Format: FormatXYXY, IsNormalized: true}
}

// FromXYWH creates a normalized bounding box from xywh coordinates.
func FromXYWH(coords [4]float32) BBox {
	return BBox{Coords: coords, Format: FormatXYWH, IsNormalized: true}
}

// IsPredicted reports whether the box carries a model confidence.
func (b BBox) IsPredicted() bool { return b.Confidence != nil }

// IsZero reports whether the box is the all-zero placeholder, treated as
// "absent" by convention rather than a real detection.
func (b BBox) IsZero() bool {
	return b.Coords == [4]float32{}
}

// XYXYCoords returns the coordinates in xyxy form.
func (b BBox) XYXYCoords() [4]float32 {
	if b.Format == FormatXYXY {
		return b.Coords
	}
	x, y, w, h := b.Coords[0], b.Coords[1], b.Coords[2], b.Coords[3]
	return [4]float32{x, y, x + w, y + h}
}

// XYWHCoords returns the coordinates in xywh form.
func (b BBox) XYWHCoords() [4]float32 {
	if b.Format == FormatXYWH {
		return b.Coords
	}
	x1, y1, x2, y2 := b.Coords[0], b.Coords[1], b.Coords[2], b.Coords[3]
	return [4]float32{x1, y1, x2 - x1, y2 - y1}
}

// ToXYXY returns the box converted to xyxy format. The conversion is pure and
// lossless.
func (b BBox) ToXYXY() BBox {
	return BBox{Coords: b.XYXYCoords(), Format: FormatXYXY, IsNormalized: b.IsNormalized, Confidence: b.Confidence}
}

// ToXYWH returns the box converted to xywh format.
func (b BBox) ToXYWH() BBox {
	return BBox{Coords: b.XYWHCoords(), Format: FormatXYWH, IsNormalized: b.IsNormalized, Confidence: b.Confidence}
}

// Normalize returns the box with coordinates divided by the image dimensions.
func (b BBox) Normalize(height, width uint32) BBox {
	h, w := float32(height), float32(width)
	return BBox{
		Coords:       [4]float32{b.Coords[0] / w, b.Coords[1] / h, b.Coords[2] / w, b.Coords[3] / h},
		Format:       b.Format,
		IsNormalized: true,
		Confidence:   b.Confidence,
	}
}

// Denormalize returns the box with coordinates multiplied by the image
// dimensions.
func (b BBox) Denormalize(height, width uint32) BBox {
	h, w := float32(height), float32(width)
	return BBox{
		Coords:       [4]float32{b.Coords[0] * w, b.Coords[1] * h, b.Coords[2] * w, b.Coords[3] * h},
		Format:       b.Format,
		IsNormalized: false,
		Confidence:   b.Confidence,
	}
}

// FromMask computes the tight axis-aligned bounding rectangle of the mask's
// foreground pixels, returned in xywh format and unnormalized. Returns
// ErrEmptyMask when the mask has no foreground pixel.
func FromMask(m *rle.CompressedMask) (BBox, error) {
	bm, err := m.Bitmap()
	if err != nil {
		return BBox{}, fmt.Errorf("geometry: decode mask: %w", err)
	}
	if bm.IsEmpty() {
		return BBox{}, ErrEmptyMask
	}
	width := m.Width()
	var minX, minY, maxX, maxY uint32
	first := true
	it := bm.Iterator()
	for it.HasNext() {
		px := it.Next()
		x, y := px%width, px/width
		if first {
			minX, maxX, minY, maxY = x, x, y, y
			first = false
			continue
		}
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	box := BBox{
		Coords: [4]float32{
			float32(minX),
			float32(minY),
			float32(maxX - minX + 1),
			float32(maxY - minY + 1),
		},
		Format:       FormatXYWH,
		IsNormalized: false,
	}
	return box, nil
}
