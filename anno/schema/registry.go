package schema

import (
	"errors"
	"fmt"
)

// ErrUnknownExtension is returned when a schema references an extension type
// the registry does not know.
var ErrUnknownExtension = errors.New("schema: unknown extension type")

// ExtensionType pairs a logical type name with its physical storage layout
// and the functions converting between runtime values and storage value
// trees.
type ExtensionType struct {
	Name    string
	Storage Node
	// Encode maps a runtime value (e.g. a *rle.CompressedMask) to a value
	// tree matching Storage. It is not called for nil values.
	Encode func(v any) (any, error)
	// Decode maps a storage value tree back to the runtime value.
	Decode func(v any) (any, error)
}

// Registry maps extension type names to their definitions. It is constructed
// once and passed explicitly to converters and readers; there is no implicit
// process-global table.
type Registry struct {
	types map[string]ExtensionType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]ExtensionType)}
}

// Register adds an extension type. Registering an already-known name is a
// no-op, not an error.
func (r *Registry) Register(t ExtensionType) {
	if _, ok := r.types[t.Name]; ok {
		return
	}
	r.types[t.Name] = t
}

// Lookup returns the extension type for name.
func (r *Registry) Lookup(name string) (ExtensionType, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Resolve returns the extension type for name or ErrUnknownExtension.
func (r *Registry) Resolve(name string) (ExtensionType, error) {
	t, ok := r.types[name]
	if !ok {
		return ExtensionType{}, fmt.Errorf("%w: %q", ErrUnknownExtension, name)
	}
	return t, nil
}

// Len returns the number of registered extension types.
func (r *Registry) Len() int { return len(r.types) }
