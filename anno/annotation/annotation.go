// Package annotation defines the annotation aggregate stored in dataset
// shards and the extension-type registry binding its value types to their
// columnar storage layouts.
package annotation

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/openlabel/annostore/anno/geometry"
	"github.com/openlabel/annostore/anno/rle"
)

// GroundTruthSource is the provenance marker for human-made annotations.
const GroundTruthSource = "Ground truth"

// Pose is a rigid object pose: 3x3 orientation and 1x3 translation.
type Pose struct {
	CamRM2C [9]float64
	CamTM2C [3]float64
}

// Embedding is a precomputed model embedding stored as raw bytes.
type Embedding struct {
	Bytes []byte
}

// ImageRef references an image by URI, with optional inline bytes and a
// preview thumbnail.
type ImageRef struct {
	URI          string
	Bytes        []byte
	PreviewBytes []byte
}

// Data returns the image bytes, reading from the URI when they are not
// inlined.
func (r *ImageRef) Data() ([]byte, error) {
	if len(r.Bytes) > 0 {
		return r.Bytes, nil
	}
	if r.URI == "" {
		return nil, fmt.Errorf("annotation: image ref has neither bytes nor uri")
	}
	path := strings.TrimPrefix(r.URI, "file://")
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("annotation: read image %q: %w", r.URI, err)
	}
	return b, nil
}

// ObjectAnnotation composes geometry, mask, category, provenance and optional
// pose for one annotated object within an item.
//
// MaskURLE is the UI interchange form of the mask; it is converted to Mask on
// write and is never persisted itself.
type ObjectAnnotation struct {
	ID             string
	ViewID         string
	Bbox           *geometry.BBox
	BboxSource     string
	BboxConfidence *float32
	IsGroupOf      bool
	IsDifficult    bool
	IsTruncated    bool
	Mask           *rle.CompressedMask
	MaskURLE       *rle.UncompressedMask
	MaskSource     string
	Area           *float32
	Pose           *Pose
	CategoryID     *int32
	CategoryName   string
	Identity       string
}

// New returns an annotation for the given view with a fresh unique ID.
func New(viewID string) *ObjectAnnotation {
	return &ObjectAnnotation{ID: uuid.NewString(), ViewID: viewID}
}

// Source returns the displayed provenance: the mask source if present, else
// the bbox source, else the ground-truth marker.
func (a *ObjectAnnotation) Source() string {
	if a.MaskSource != "" {
		return a.MaskSource
	}
	if a.BboxSource != "" {
		return a.BboxSource
	}
	return GroundTruthSource
}
