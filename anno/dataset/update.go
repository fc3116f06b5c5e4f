package dataset

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/openlabel/annostore/anno/annotation"
	"github.com/openlabel/annostore/anno/geometry"
	"github.com/openlabel/annostore/anno/natsort"
	"github.com/openlabel/annostore/anno/rle"
	"github.com/openlabel/annostore/anno/schema"
)

// UpdateItemAnnotations replaces the annotation list of one item.
//
// Shards are scanned sequentially in natural filename order and the first
// shard holding the item is rewritten; item ids are unique across the shard
// set, so no other shard is touched. The returned bool reports whether the
// item was found: a miss is not an error, it leaves every shard untouched.
//
// Incoming annotations are normalized before the write: masks arriving in
// the URLE interchange form are compressed, and a missing or all-zero bbox
// is filled from the mask's tight bounding rectangle so every annotation has
// a usable bbox downstream.
//
// The rewrite is atomic (temp file + rename) and guarded by an optimistic
// concurrency token: if the shard changed on disk between read and rewrite,
// the call fails with ErrConcurrentModification instead of silently losing
// the other writer's update.
func (s *Store) UpdateItemAnnotations(ctx context.Context, itemID string, anns []*annotation.ObjectAnnotation) (bool, error) {
	if err := normalizeAnnotations(anns); err != nil {
		return false, err
	}
	files, err := s.ShardFiles()
	if err != nil {
		return false, err
	}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		sh, err := ReadShard(path, s.reg)
		if err != nil {
			return false, err
		}
		idx := sh.RowIndex(itemID)
		if idx < 0 {
			continue
		}
		if err := s.rewriteShard(ctx, sh, idx, anns); err != nil {
			return false, err
		}
		slog.Info("Updated item annotations",
			"item", itemID,
			"shard", path,
			"objects", len(anns))
		return true, nil
	}
	slog.Debug("Item not found in any shard", "item", itemID)
	return false, nil
}

func (s *Store) rewriteShard(ctx context.Context, sh *Shard, idx int, anns []*annotation.ObjectAnnotation) error {
	target, err := annotationsField(sh)
	if err != nil {
		return err
	}

	// remove the matched row, append it back with the replaced annotation
	// list, then restore the full natural order of the shard
	rowCount := len(sh.Rows)
	row := sh.Rows[idx]
	sh.Rows = append(sh.Rows[:idx], sh.Rows[idx+1:]...)
	objs := make([]any, len(anns))
	for i, a := range anns {
		objs[i] = a
	}
	row[target] = objs
	sh.Rows = append(sh.Rows, row)
	sortRows(sh.Rows)
	s.assertHandler.Assert(ctx, len(sh.Rows) == rowCount,
		"shard rewrite must preserve the row count", "shard", sh.Path)

	if err := s.checkUnchanged(sh); err != nil {
		return err
	}
	return WriteShard(sh.Path, sh, s.reg)
}

// checkUnchanged re-hashes the shard file and compares it against the
// checksum captured at read time, so a racing writer fails cleanly instead
// of being clobbered.
func (s *Store) checkUnchanged(sh *Shard) error {
	raw, err := os.ReadFile(sh.Path)
	if err != nil {
		return fmt.Errorf("dataset: recheck shard %s: %w", sh.Path, err)
	}
	if sha256.Sum256(raw) != sh.Checksum {
		return fmt.Errorf("%w: %s", ErrConcurrentModification, sh.Path)
	}
	return nil
}

// annotationsField picks the column receiving the replacement list: the
// "objects" column when present, otherwise the single list-of-annotation
// column.
func annotationsField(sh *Shard) (string, error) {
	var candidates []string
	for _, f := range sh.Fields {
		if isAnnotationList(f.Node) {
			if f.Name == "objects" {
				return f.Name, nil
			}
			candidates = append(candidates, f.Name)
		}
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	return "", fmt.Errorf("dataset: shard %s has no unambiguous annotation column", sh.Path)
}

func isAnnotationList(n schema.Node) bool {
	l, ok := n.(*schema.List)
	if !ok {
		return false
	}
	e, ok := l.Elem.(schema.Extension)
	return ok && e.Name == annotation.TypeObjectAnnotation
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, _ := rows[i]["id"].(string)
		b, _ := rows[j]["id"].(string)
		return natsort.Less(a, b)
	})
}

func normalizeAnnotations(anns []*annotation.ObjectAnnotation) error {
	for _, ann := range anns {
		if ann.MaskURLE != nil {
			m, err := rle.FromURLE(ann.MaskURLE)
			if err != nil {
				return fmt.Errorf("dataset: annotation %s: %w", ann.ID, err)
			}
			ann.Mask = m
			ann.MaskURLE = nil
		}
		if (ann.Bbox == nil || ann.Bbox.IsZero()) && ann.Mask != nil && !ann.Mask.IsEmpty() {
			bb, err := geometry.FromMask(ann.Mask)
			if err != nil {
				return fmt.Errorf("dataset: annotation %s: %w", ann.ID, err)
			}
			ann.Bbox = &bb
		}
	}
	return nil
}
