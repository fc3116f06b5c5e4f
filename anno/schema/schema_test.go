package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"ParseRoundTrip", testSchemaParseRoundTrip},
		{"ParseErrors", testSchemaParseErrors},
		{"Equal", testSchemaEqual},
		{"Registry", testSchemaRegistry},
		{"ParseFields", testSchemaParseFields},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func testSchemaParseRoundTrip(t *testing.T) {
	exprs := []string{
		"bool",
		"int32",
		"int",
		"float",
		"double",
		"str",
		"bytes",
		"[int]",
		"[float:4]",
		"[[str]]",
		"{id: str, coords: [float:4]}",
		"{size: [int32:2], counts: bytes}",
		"BBox",
		"[ObjectAnnotation]",
		"{bbox: BBox, mask: CompressedRLE}",
	}
	for _, expr := range exprs {
		n, err := Parse(expr)
		require.NoError(t, err, "expr %q should parse", expr)
		assert.Equal(t, expr, n.String(), "String should render the canonical expression")

		again, err := Parse(n.String())
		require.NoError(t, err)
		assert.True(t, Equal(n, again), "re-parsing the rendering should yield an equal node")
	}

	// whitespace is tolerated, rendering is canonical
	n, err := Parse("{ id : str , score : double }")
	require.NoError(t, err)
	assert.Equal(t, "{id: str, score: double}", n.String())

	// bare non-primitive identifiers parse as extensions
	ext, err := Parse("Embedding")
	require.NoError(t, err)
	assert.Equal(t, Extension{Name: "Embedding"}, ext)
}

func testSchemaParseErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"[int",
		"[float:0]",
		"[float:x]",
		"{id str}",
		"{id: str",
		"{: str}",
		"int]",
		"{a: int} junk",
	} {
		_, err := Parse(expr)
		require.ErrorIs(t, err, ErrParse, "expr %q should fail", expr)
	}
}

func testSchemaEqual(t *testing.T) {
	a := MustParse("{id: str, coords: [float:4]}")
	b := MustParse("{id: str, coords: [float:4]}")
	assert.True(t, Equal(a, b))

	// field order matters
	c := MustParse("{coords: [float:4], id: str}")
	assert.False(t, Equal(a, c))

	// fixed size matters
	assert.False(t, Equal(MustParse("[float:4]"), MustParse("[float]")))

	// extensions compare by name only
	assert.True(t, Equal(Extension{Name: "BBox"}, MustParse("BBox")))
	assert.False(t, Equal(Extension{Name: "BBox"}, Extension{Name: "Pose"}))

	assert.False(t, Equal(Primitive{Kind: Int64}, Primitive{Kind: Int32}))
	assert.False(t, Equal(Primitive{Kind: Int64}, Extension{Name: "int"}))
}

func testSchemaRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, 0, reg.Len())

	first := ExtensionType{Name: "Thing", Storage: MustParse("{v: int}")}
	reg.Register(first)
	require.Equal(t, 1, reg.Len())

	// second registration of the same name is ignored
	reg.Register(ExtensionType{Name: "Thing", Storage: MustParse("str")})
	assert.Equal(t, 1, reg.Len())
	got, ok := reg.Lookup("Thing")
	require.True(t, ok)
	assert.True(t, Equal(first.Storage, got.Storage), "first registration should win")

	_, err := reg.Resolve("Missing")
	require.ErrorIs(t, err, ErrUnknownExtension)

	resolved, err := reg.Resolve("Thing")
	require.NoError(t, err)
	assert.Equal(t, "Thing", resolved.Name)
}

func testSchemaParseFields(t *testing.T) {
	fields, err := ParseFields([][2]string{
		{"id", "str"},
		{"image", "Image"},
		{"objects", "[ObjectAnnotation]"},
	})
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, "id", fields[0].Name)
	assert.Equal(t, Extension{Name: "Image"}, fields[1].Node)

	_, err = ParseFields([][2]string{{"", "str"}})
	require.ErrorIs(t, err, ErrParse)

	_, err = ParseFields([][2]string{{"bad", "[int"}})
	require.ErrorIs(t, err, ErrParse)
}
