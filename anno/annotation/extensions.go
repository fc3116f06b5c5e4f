package annotation

import (
	"fmt"

	"github.com/openlabel/annostore/anno/geometry"
	"github.com/openlabel/annostore/anno/rle"
	"github.com/openlabel/annostore/anno/schema"
)

// Extension type names as they appear in dataset schemas.
const (
	TypeBBox             = "BBox"
	TypeCompressedRLE    = "CompressedRLE"
	TypePose             = "Pose"
	TypeEmbedding        = "Embedding"
	TypeImage            = "Image"
	TypeObjectAnnotation = "ObjectAnnotation"
)

// NewRegistry builds the registry of all annotation extension types. The
// registry is plain data; callers pass it explicitly into converters and
// shard readers.
func NewRegistry() *schema.Registry {
	reg := schema.NewRegistry()
	reg.Register(bboxType())
	reg.Register(maskType())
	reg.Register(poseType())
	reg.Register(embeddingType())
	reg.Register(imageType())
	reg.Register(objectAnnotationType())
	return reg
}

func bboxType() schema.ExtensionType {
	return schema.ExtensionType{
		Name:    TypeBBox,
		Storage: schema.MustParse("{coords: [float:4], is_normalized: bool, format: str}"),
		Encode: func(v any) (any, error) {
			switch b := v.(type) {
			case map[string]any:
				return b, nil
			case geometry.BBox:
				return encodeBBox(b), nil
			case *geometry.BBox:
				return encodeBBox(*b), nil
			}
			return nil, fmt.Errorf("expected BBox, got %T", v)
		},
		Decode: func(v any) (any, error) {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected BBox storage struct, got %T", v)
			}
			coords, err := fixedF32(m["coords"], 4)
			if err != nil {
				return nil, err
			}
			b := geometry.BBox{
				Coords:       [4]float32{coords[0], coords[1], coords[2], coords[3]},
				Format:       geometry.Format(str(m["format"])),
				IsNormalized: boolean(m["is_normalized"]),
			}
			return b, nil
		},
	}
}

func encodeBBox(b geometry.BBox) map[string]any {
	return map[string]any{
		"coords":        b.Coords[:],
		"is_normalized": b.IsNormalized,
		"format":        string(b.Format),
	}
}

func maskType() schema.ExtensionType {
	return schema.ExtensionType{
		Name:    TypeCompressedRLE,
		Storage: schema.MustParse("{size: [int32:2], counts: bytes}"),
		Encode: func(v any) (any, error) {
			switch m := v.(type) {
			case map[string]any:
				return m, nil
			case *rle.CompressedMask:
				return map[string]any{
					"size":   []uint32{m.Size[0], m.Size[1]},
					"counts": m.Counts,
				}, nil
			}
			return nil, fmt.Errorf("expected CompressedRLE mask, got %T", v)
		},
		Decode: func(v any) (any, error) {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected CompressedRLE storage struct, got %T", v)
			}
			size, err := fixedI32(m["size"], 2)
			if err != nil {
				return nil, err
			}
			counts, _ := m["counts"].([]byte)
			return &rle.CompressedMask{
				Size:   [2]uint32{uint32(size[0]), uint32(size[1])},
				Counts: counts,
			}, nil
		},
	}
}

func poseType() schema.ExtensionType {
	return schema.ExtensionType{
		Name:    TypePose,
		Storage: schema.MustParse("{cam_R_m2c: [double:9], cam_t_m2c: [double:3]}"),
		Encode: func(v any) (any, error) {
			switch p := v.(type) {
			case map[string]any:
				return p, nil
			case *Pose:
				return map[string]any{
					"cam_R_m2c": p.CamRM2C[:],
					"cam_t_m2c": p.CamTM2C[:],
				}, nil
			case Pose:
				return map[string]any{
					"cam_R_m2c": p.CamRM2C[:],
					"cam_t_m2c": p.CamTM2C[:],
				}, nil
			}
			return nil, fmt.Errorf("expected Pose, got %T", v)
		},
		Decode: func(v any) (any, error) {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected Pose storage struct, got %T", v)
			}
			r, err := fixedF64(m["cam_R_m2c"], 9)
			if err != nil {
				return nil, err
			}
			t, err := fixedF64(m["cam_t_m2c"], 3)
			if err != nil {
				return nil, err
			}
			p := &Pose{}
			copy(p.CamRM2C[:], r)
			copy(p.CamTM2C[:], t)
			return p, nil
		},
	}
}

func embeddingType() schema.ExtensionType {
	return schema.ExtensionType{
		Name:    TypeEmbedding,
		Storage: schema.MustParse("{bytes: bytes}"),
		Encode: func(v any) (any, error) {
			switch e := v.(type) {
			case map[string]any:
				return e, nil
			case *Embedding:
				return map[string]any{"bytes": e.Bytes}, nil
			case Embedding:
				return map[string]any{"bytes": e.Bytes}, nil
			}
			return nil, fmt.Errorf("expected Embedding, got %T", v)
		},
		Decode: func(v any) (any, error) {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected Embedding storage struct, got %T", v)
			}
			b, _ := m["bytes"].([]byte)
			return &Embedding{Bytes: b}, nil
		},
	}
}

func imageType() schema.ExtensionType {
	return schema.ExtensionType{
		Name:    TypeImage,
		Storage: schema.MustParse("{uri: str, bytes: bytes, preview_bytes: bytes}"),
		Encode: func(v any) (any, error) {
			switch r := v.(type) {
			case map[string]any:
				return r, nil
			case *ImageRef:
				return map[string]any{
					"uri":           r.URI,
					"bytes":         r.Bytes,
					"preview_bytes": r.PreviewBytes,
				}, nil
			}
			return nil, fmt.Errorf("expected ImageRef, got %T", v)
		},
		Decode: func(v any) (any, error) {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected Image storage struct, got %T", v)
			}
			b, _ := m["bytes"].([]byte)
			pb, _ := m["preview_bytes"].([]byte)
			return &ImageRef{URI: str(m["uri"]), Bytes: b, PreviewBytes: pb}, nil
		},
	}
}

func objectAnnotationType() schema.ExtensionType {
	storage := schema.MustParse(
		"{id: str, view_id: str, bbox: BBox, bbox_source: str, bbox_confidence: float, " +
			"is_group_of: bool, is_difficult: bool, is_truncated: bool, " +
			"mask: CompressedRLE, mask_source: str, area: float, pose: Pose, " +
			"category_id: int32, category_name: str, identity: str}")
	return schema.ExtensionType{
		Name:    TypeObjectAnnotation,
		Storage: storage,
		Encode: func(v any) (any, error) {
			switch a := v.(type) {
			case map[string]any:
				return a, nil
			case *ObjectAnnotation:
				return encodeObjectAnnotation(a), nil
			case ObjectAnnotation:
				return encodeObjectAnnotation(&a), nil
			}
			return nil, fmt.Errorf("expected ObjectAnnotation, got %T", v)
		},
		Decode: func(v any) (any, error) {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected ObjectAnnotation storage struct, got %T", v)
			}
			return decodeObjectAnnotation(m)
		},
	}
}

func encodeObjectAnnotation(a *ObjectAnnotation) map[string]any {
	m := map[string]any{
		"id":            a.ID,
		"view_id":       a.ViewID,
		"bbox_source":   a.BboxSource,
		"is_group_of":   a.IsGroupOf,
		"is_difficult":  a.IsDifficult,
		"is_truncated":  a.IsTruncated,
		"mask_source":   a.MaskSource,
		"category_name": a.CategoryName,
		"identity":      a.Identity,
	}
	if a.Bbox != nil {
		m["bbox"] = *a.Bbox
	}
	if a.BboxConfidence != nil {
		m["bbox_confidence"] = *a.BboxConfidence
	}
	if a.Mask != nil {
		m["mask"] = a.Mask
	}
	if a.Area != nil {
		m["area"] = *a.Area
	}
	if a.Pose != nil {
		m["pose"] = a.Pose
	}
	if a.CategoryID != nil {
		m["category_id"] = *a.CategoryID
	}
	return m
}

func decodeObjectAnnotation(m map[string]any) (*ObjectAnnotation, error) {
	a := &ObjectAnnotation{
		ID:           str(m["id"]),
		ViewID:       str(m["view_id"]),
		BboxSource:   str(m["bbox_source"]),
		IsGroupOf:    boolean(m["is_group_of"]),
		IsDifficult:  boolean(m["is_difficult"]),
		IsTruncated:  boolean(m["is_truncated"]),
		MaskSource:   str(m["mask_source"]),
		CategoryName: str(m["category_name"]),
		Identity:     str(m["identity"]),
	}
	if bb, ok := m["bbox"].(geometry.BBox); ok {
		a.Bbox = &bb
	}
	if f, ok := m["bbox_confidence"].(float32); ok {
		a.BboxConfidence = &f
	}
	if mk, ok := m["mask"].(*rle.CompressedMask); ok {
		a.Mask = mk
	}
	if f, ok := m["area"].(float32); ok {
		a.Area = &f
	}
	if p, ok := m["pose"].(*Pose); ok {
		a.Pose = p
	}
	if n, ok := m["category_id"].(int32); ok {
		a.CategoryID = &n
	}
	return a, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

func fixedF32(v any, n int) ([]float32, error) {
	elems, ok := v.([]any)
	if !ok || len(elems) != n {
		return nil, fmt.Errorf("expected %d-element float list, got %T", n, v)
	}
	out := make([]float32, n)
	for i, e := range elems {
		f, ok := e.(float32)
		if !ok {
			return nil, fmt.Errorf("expected float element, got %T", e)
		}
		out[i] = f
	}
	return out, nil
}

func fixedF64(v any, n int) ([]float64, error) {
	elems, ok := v.([]any)
	if !ok || len(elems) != n {
		return nil, fmt.Errorf("expected %d-element double list, got %T", n, v)
	}
	out := make([]float64, n)
	for i, e := range elems {
		f, ok := e.(float64)
		if !ok {
			return nil, fmt.Errorf("expected double element, got %T", e)
		}
		out[i] = f
	}
	return out, nil
}

func fixedI32(v any, n int) ([]int32, error) {
	elems, ok := v.([]any)
	if !ok || len(elems) != n {
		return nil, fmt.Errorf("expected %d-element int32 list, got %T", n, v)
	}
	out := make([]int32, n)
	for i, e := range elems {
		f, ok := e.(int32)
		if !ok {
			return nil, fmt.Errorf("expected int32 element, got %T", e)
		}
		out[i] = f
	}
	return out, nil
}
