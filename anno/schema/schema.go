// Package schema models column types as a closed set of node kinds:
// primitives, lists, structs, and named extension (logical) types. Schemas are
// declared and persisted as compact type expressions such as "int",
// "[float:4]", "{id: str, coords: [float:4]}" or "[ObjectAnnotation]".
package schema

import (
	"fmt"
	"strings"
)

// ScalarKind enumerates the primitive column types.
type ScalarKind uint8

const (
	Bool ScalarKind = iota
	Int32
	Int64
	Float32
	Float64
	String
	Binary
)

var scalarNames = map[ScalarKind]string{
	Bool:    "bool",
	Int32:   "int32",
	Int64:   "int",
	Float32: "float",
	Float64: "double",
	String:  "str",
	Binary:  "bytes",
}

func (k ScalarKind) String() string {
	if s, ok := scalarNames[k]; ok {
		return s
	}
	return fmt.Sprintf("scalar(%d)", uint8(k))
}

// Node is a schema node: exactly one of Primitive, List, Struct or Extension.
type Node interface {
	isNode()
	String() string
}

// Primitive is a scalar column type.
type Primitive struct {
	Kind ScalarKind
}

// List is a sequence of Elem values. FixedSize > 0 declares a fixed-length
// list (e.g. bounding box coordinates).
type List struct {
	Elem      Node
	FixedSize int
}

// Field is a named struct member.
type Field struct {
	Name string
	Node Node
}

// Struct is a set of named fields.
type Struct struct {
	Fields []Field
}

// Extension is a named logical type whose storage layout and codec live in a
// Registry.
type Extension struct {
	Name string
}

func (Primitive) isNode() {}
func (*List) isNode()     {}
func (*Struct) isNode()   {}
func (Extension) isNode() {}

func (p Primitive) String() string { return p.Kind.String() }

func (l *List) String() string {
	if l.FixedSize > 0 {
		return fmt.Sprintf("[%s:%d]", l.Elem, l.FixedSize)
	}
	return fmt.Sprintf("[%s]", l.Elem)
}

func (s *Struct) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Node.String())
	}
	b.WriteByte('}')
	return b.String()
}

func (e Extension) String() string { return e.Name }

// FieldByName returns the named field and whether it exists.
func (s *Struct) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Equal reports structural equality of two nodes. Extensions compare by name,
// structs by field name, order and type.
func Equal(a, b Node) bool {
	switch av := a.(type) {
	case Primitive:
		bv, ok := b.(Primitive)
		return ok && av.Kind == bv.Kind
	case *List:
		bv, ok := b.(*List)
		return ok && av.FixedSize == bv.FixedSize && Equal(av.Elem, bv.Elem)
	case *Struct:
		bv, ok := b.(*Struct)
		if !ok || len(av.Fields) != len(bv.Fields) {
			return false
		}
		for i := range av.Fields {
			if av.Fields[i].Name != bv.Fields[i].Name || !Equal(av.Fields[i].Node, bv.Fields[i].Node) {
				return false
			}
		}
		return true
	case Extension:
		bv, ok := b.(Extension)
		return ok && av.Name == bv.Name
	}
	return false
}
