// Package column implements the recursive field converter that maps nested
// runtime value trees onto typed columnar arrays, and the binary block codec
// used to persist those arrays inside shard files.
package column

import (
	"errors"

	roaring "github.com/RoaringBitmap/roaring"

	"github.com/openlabel/annostore/anno/schema"
)

var (
	// ErrTypeMismatch is returned when a value's runtime shape disagrees with
	// the declared schema node.
	ErrTypeMismatch = errors.New("column: value does not match declared type")
	// ErrCorruptBlock is returned when a persisted column block cannot be
	// decoded.
	ErrCorruptBlock = errors.New("column: corrupt column block")
)

// Array is a typed columnar array tagged with its schema node. Null positions
// are tracked in Valid (set bit = non-null); a nil Valid means every row is
// valid. Exactly one payload group is populated, matching the node kind.
type Array struct {
	Node   schema.Node
	Length int
	Valid  *roaring.Bitmap

	// Primitive payloads (full Length, zero-valued at null rows)
	Bools    []bool
	Int32s   []int32
	Int64s   []int64
	Float32s []float32
	Float64s []float64
	Strings  []string
	Blobs    [][]byte

	// List payload: Length+1 offsets into Elem; null rows span zero elements.
	Offsets []uint32
	Elem    *Array

	// Struct payload: one child per field, each of Length rows.
	Children []*Array

	// Extension payload: the array in the extension's storage layout.
	Storage *Array
}

// IsValid reports whether row i is non-null.
func (a *Array) IsValid(i int) bool {
	if a.Valid == nil {
		return true
	}
	return a.Valid.ContainsInt(i)
}

func newValidity(length int, nulls []int) *roaring.Bitmap {
	if len(nulls) == 0 {
		return nil
	}
	bm := roaring.New()
	bm.AddRange(0, uint64(length))
	for _, i := range nulls {
		bm.Remove(uint32(i))
	}
	return bm
}
