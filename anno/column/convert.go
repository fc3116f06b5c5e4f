package column

import (
	"fmt"

	"github.com/openlabel/annostore/anno/schema"
)

// Convert maps a column of nested runtime values onto a typed Array for the
// declared schema node. It is the single recursive algorithm used by every
// write path: extension types are encoded through the registry against their
// storage layout, lists preserve the outer null-vs-empty distinction and
// element order, structs project each named field independently with absent
// fields mapping to null, and primitives coerce directly or fail with
// ErrTypeMismatch.
func Convert(values []any, node schema.Node, reg *schema.Registry) (*Array, error) {
	return convert(values, node, reg, "$")
}

func convert(values []any, node schema.Node, reg *schema.Registry, path string) (*Array, error) {
	switch n := node.(type) {
	case schema.Primitive:
		return convertPrimitive(values, n, path)
	case *schema.List:
		return convertList(values, n, reg, path)
	case *schema.Struct:
		return convertStruct(values, n, reg, path)
	case schema.Extension:
		return convertExtension(values, n, reg, path)
	}
	return nil, fmt.Errorf("%w: %s: unsupported node %T", ErrTypeMismatch, path, node)
}

func convertExtension(values []any, n schema.Extension, reg *schema.Registry, path string) (*Array, error) {
	ext, err := reg.Resolve(n.Name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	encoded := make([]any, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		ev, err := ext.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: encode %s: %v", ErrTypeMismatch, path, i, n.Name, err)
		}
		encoded[i] = ev
	}
	storage, err := convert(encoded, ext.Storage, reg, path+"<"+n.Name+">")
	if err != nil {
		return nil, err
	}
	return &Array{Node: n, Length: len(values), Valid: storage.Valid, Storage: storage}, nil
}

func convertList(values []any, n *schema.List, reg *schema.Registry, path string) (*Array, error) {
	offsets := make([]uint32, len(values)+1)
	flat := make([]any, 0, len(values))
	var nulls []int
	for i, v := range values {
		if v == nil {
			// an absent list is stored as null, not as an empty list
			nulls = append(nulls, i)
			offsets[i+1] = offsets[i]
			continue
		}
		elems, ok := asList(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d]: expected list, got %T", ErrTypeMismatch, path, i, v)
		}
		if n.FixedSize > 0 && len(elems) != n.FixedSize {
			return nil, fmt.Errorf("%w: %s[%d]: fixed list needs %d elements, got %d",
				ErrTypeMismatch, path, i, n.FixedSize, len(elems))
		}
		flat = append(flat, elems...)
		offsets[i+1] = offsets[i] + uint32(len(elems))
	}
	elem, err := convert(flat, n.Elem, reg, path+"[]")
	if err != nil {
		return nil, err
	}
	return &Array{
		Node:    n,
		Length:  len(values),
		Valid:   newValidity(len(values), nulls),
		Offsets: offsets,
		Elem:    elem,
	}, nil
}

func convertStruct(values []any, n *schema.Struct, reg *schema.Registry, path string) (*Array, error) {
	var nulls []int
	maps := make([]map[string]any, len(values))
	for i, v := range values {
		if v == nil {
			nulls = append(nulls, i)
			continue
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d]: expected struct value, got %T", ErrTypeMismatch, path, i, v)
		}
		maps[i] = m
	}
	children := make([]*Array, len(n.Fields))
	for fi, f := range n.Fields {
		proj := make([]any, len(values))
		for i, m := range maps {
			if m == nil {
				continue
			}
			proj[i] = m[f.Name] // fields not present map to null
		}
		child, err := convert(proj, f.Node, reg, path+"."+f.Name)
		if err != nil {
			return nil, err
		}
		children[fi] = child
	}
	return &Array{
		Node:     n,
		Length:   len(values),
		Valid:    newValidity(len(values), nulls),
		Children: children,
	}, nil
}

func convertPrimitive(values []any, n schema.Primitive, path string) (*Array, error) {
	a := &Array{Node: n, Length: len(values)}
	var nulls []int
	switch n.Kind {
	case schema.Bool:
		a.Bools = make([]bool, len(values))
	case schema.Int32:
		a.Int32s = make([]int32, len(values))
	case schema.Int64:
		a.Int64s = make([]int64, len(values))
	case schema.Float32:
		a.Float32s = make([]float32, len(values))
	case schema.Float64:
		a.Float64s = make([]float64, len(values))
	case schema.String:
		a.Strings = make([]string, len(values))
	case schema.Binary:
		a.Blobs = make([][]byte, len(values))
	}
	for i, v := range values {
		if v == nil {
			nulls = append(nulls, i)
			continue
		}
		if err := setScalar(a, n.Kind, i, v); err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", ErrTypeMismatch, path, i, err)
		}
	}
	a.Valid = newValidity(len(values), nulls)
	return a, nil
}

func setScalar(a *Array, kind schema.ScalarKind, i int, v any) error {
	switch kind {
	case schema.Bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		a.Bools[i] = b
	case schema.Int32:
		n, ok := asInt64(v)
		if !ok || n > 1<<31-1 || n < -(1<<31) {
			return fmt.Errorf("expected int32, got %T(%v)", v, v)
		}
		a.Int32s[i] = int32(n)
	case schema.Int64:
		n, ok := asInt64(v)
		if !ok {
			return fmt.Errorf("expected int, got %T", v)
		}
		a.Int64s[i] = n
	case schema.Float32:
		f, ok := asFloat64(v)
		if !ok {
			return fmt.Errorf("expected float, got %T", v)
		}
		a.Float32s[i] = float32(f)
	case schema.Float64:
		f, ok := asFloat64(v)
		if !ok {
			return fmt.Errorf("expected double, got %T", v)
		}
		a.Float64s[i] = f
	case schema.String:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected str, got %T", v)
		}
		a.Strings[i] = s
	case schema.Binary:
		b, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("expected bytes, got %T", v)
		}
		a.Blobs[i] = b
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		// JSON-decoded integers arrive as float64
		if n == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	case int:
		return float64(f), true
	case int32:
		return float64(f), true
	case int64:
		return float64(f), true
	}
	return 0, false
}

func asList(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []float32:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int32:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []uint32:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []bool:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, e := range s {
			if e == nil {
				continue
			}
			out[i] = e
		}
		return out, true
	}
	return nil, false
}

// Values decodes the array back into a column of runtime value trees,
// reproducing null positions at every nesting level. Extension values come
// back through the registry's Decode functions.
func (a *Array) Values(reg *schema.Registry) ([]any, error) {
	return a.values(reg, "$")
}

func (a *Array) values(reg *schema.Registry, path string) ([]any, error) {
	switch n := a.Node.(type) {
	case schema.Primitive:
		return a.primitiveValues(n), nil
	case *schema.List:
		elems, err := a.Elem.values(reg, path+"[]")
		if err != nil {
			return nil, err
		}
		out := make([]any, a.Length)
		for i := 0; i < a.Length; i++ {
			if !a.IsValid(i) {
				continue
			}
			out[i] = append([]any{}, elems[a.Offsets[i]:a.Offsets[i+1]]...)
		}
		return out, nil
	case *schema.Struct:
		cols := make([][]any, len(a.Children))
		for ci, child := range a.Children {
			vals, err := child.values(reg, path+"."+n.Fields[ci].Name)
			if err != nil {
				return nil, err
			}
			cols[ci] = vals
		}
		out := make([]any, a.Length)
		for i := 0; i < a.Length; i++ {
			if !a.IsValid(i) {
				continue
			}
			m := make(map[string]any, len(n.Fields))
			for ci, f := range n.Fields {
				m[f.Name] = cols[ci][i]
			}
			out[i] = m
		}
		return out, nil
	case schema.Extension:
		ext, err := reg.Resolve(n.Name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		raw, err := a.Storage.values(reg, path+"<"+n.Name+">")
		if err != nil {
			return nil, err
		}
		out := make([]any, a.Length)
		for i, v := range raw {
			if v == nil {
				continue
			}
			dv, err := ext.Decode(v)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: decode %s: %w", path, i, n.Name, err)
			}
			out[i] = dv
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s: unsupported node %T", ErrTypeMismatch, path, a.Node)
}

func (a *Array) primitiveValues(n schema.Primitive) []any {
	out := make([]any, a.Length)
	for i := 0; i < a.Length; i++ {
		if !a.IsValid(i) {
			continue
		}
		switch n.Kind {
		case schema.Bool:
			out[i] = a.Bools[i]
		case schema.Int32:
			out[i] = a.Int32s[i]
		case schema.Int64:
			out[i] = a.Int64s[i]
		case schema.Float32:
			out[i] = a.Float32s[i]
		case schema.Float64:
			out[i] = a.Float64s[i]
		case schema.String:
			out[i] = a.Strings[i]
		case schema.Binary:
			out[i] = a.Blobs[i]
		}
	}
	return out
}
