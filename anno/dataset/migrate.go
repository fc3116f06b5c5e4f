package dataset

import (
	"fmt"

	"github.com/openlabel/annostore/anno/annotation"
	"github.com/openlabel/annostore/anno/schema"
)

// Known legacy column shapes from version-1 shards. Detection is a
// structural comparison of the declared column type; a v1 column matching
// neither a legacy signature nor the current shape fails the migration
// instead of being silently skipped.
var (
	// annotation list with a flat [x,y,w,h] bbox and plain struct mask/pose
	legacyAnnotationsFlatBBox = schema.MustParse(
		"[{id: str, view_id: str, bbox: [float:4], bbox_source: str, bbox_confidence: float, " +
			"is_group_of: bool, is_difficult: bool, is_truncated: bool, " +
			"mask: {size: [int32:2], counts: bytes}, mask_source: str, area: float, " +
			"pose: {cam_R_m2c: [double:9], cam_t_m2c: [double:3]}, " +
			"category_id: int32, category_name: str, identity: str}]")

	// oldest shape: flat bbox and no provenance source fields
	legacyAnnotationsNoSources = schema.MustParse(
		"[{id: str, view_id: str, bbox: [float:4], bbox_confidence: float, " +
			"is_group_of: bool, is_difficult: bool, is_truncated: bool, " +
			"mask: {size: [int32:2], counts: bytes}, area: float, " +
			"pose: {cam_R_m2c: [double:9], cam_t_m2c: [double:3]}, " +
			"category_id: int32, category_name: str, identity: str}]")

	// image reference stored as a plain struct before the extension type
	legacyImageStruct = schema.MustParse("{uri: str, bytes: bytes, preview_bytes: bytes}")

	currentAnnotations = schema.MustParse("[" + annotation.TypeObjectAnnotation + "]")
	currentImage       = schema.MustParse(annotation.TypeImage)
)

// migrateShard upgrades every legacy column of a version-1 shard in memory.
// The upgrade is pure: running it on already-migrated columns is a no-op.
func migrateShard(sh *Shard) error {
	for i, f := range sh.Fields {
		switch {
		case schema.Equal(f.Node, currentAnnotations) || schema.Equal(f.Node, currentImage):
			// already current
		case schema.Equal(f.Node, legacyAnnotationsFlatBBox) || schema.Equal(f.Node, legacyAnnotationsNoSources):
			if err := migrateAnnotationColumn(sh, f.Name); err != nil {
				return fmt.Errorf("%w: column %q: %v", ErrSchemaMigration, f.Name, err)
			}
			sh.Fields[i].Node = currentAnnotations
		case schema.Equal(f.Node, legacyImageStruct):
			// rows already hold {uri, bytes, preview_bytes} structs, which is
			// the extension's storage shape; only the declared type changes
			sh.Fields[i].Node = currentImage
		case isStructural(f.Node):
			return fmt.Errorf("%w: column %q has unrecognized legacy shape %s",
				ErrSchemaMigration, f.Name, f.Node)
		}
	}
	return nil
}

// isStructural reports whether a node is a struct or list-of-struct shape,
// the only shapes legacy files used for composite columns.
func isStructural(n schema.Node) bool {
	switch v := n.(type) {
	case *schema.Struct:
		return true
	case *schema.List:
		return isStructural(v.Elem)
	}
	return false
}

func migrateAnnotationColumn(sh *Shard, name string) error {
	for _, row := range sh.Rows {
		v := row[name]
		if v == nil {
			continue
		}
		objs, ok := v.([]any)
		if !ok {
			return fmt.Errorf("row %v: expected annotation list, got %T", row["id"], v)
		}
		for oi, ov := range objs {
			if ov == nil {
				continue
			}
			obj, ok := ov.(map[string]any)
			if !ok {
				return fmt.Errorf("row %v: expected annotation struct, got %T", row["id"], ov)
			}
			objs[oi] = migrateAnnotation(obj)
		}
	}
	return nil
}

func migrateAnnotation(obj map[string]any) map[string]any {
	// flat [x,y,w,h] bbox arrays become {coords, format: "xywh"} structs
	if coords, ok := obj["bbox"].([]any); ok {
		obj["bbox"] = map[string]any{
			"coords": coords,
			"format": "xywh",
		}
	}
	// pre-source annotation structs gain empty-string source fields
	if _, ok := obj["bbox_source"]; !ok {
		obj["bbox_source"] = ""
	}
	if _, ok := obj["mask_source"]; !ok {
		obj["mask_source"] = ""
	}
	return obj
}
