package embedding

import (
	"context"
	"strings"
)

// Provider produces fixed-dimension embeddings from encoded image bytes.
type Provider interface {
	Dimensions() int
	Embed(ctx context.Context, inputs [][]byte) ([][]float32, error)
}

// NewProvider selects an embedding provider by name (e.g., "hash", "onnx").
// modelPath is only consulted by the onnx provider.
// Unknown providers fall back to a deterministic hash-based embedder.
func NewProvider(providerName string, dims int, modelPath string) Provider {
	if dims <= 0 {
		dims = 384
	}
	name := strings.ToLower(strings.TrimSpace(providerName))
	switch name {
	case "hash", "", "dev":
		return NewHashProvider(dims)
	default:
		if strings.HasPrefix(name, "onnx") {
			return newONNXProvider(dims, modelPath)
		}
		return NewHashProvider(dims)
	}
}
