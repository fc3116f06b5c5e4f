package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabel/annostore/anno/annotation"
	"github.com/openlabel/annostore/anno/dataset"
	"github.com/openlabel/annostore/anno/schema"
)

func TestEmbedding(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"HashProvider", testHashProvider},
		{"ProviderSelection", testProviderSelection},
		{"AdjustToDims", testAdjustToDims},
		{"Precompute", testPrecompute},
		{"PrecomputeResumes", testPrecomputeResumes},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func testHashProvider(t *testing.T) {
	p := NewHashProvider(32)
	assert.Equal(t, 32, p.Dimensions())

	ctx := context.Background()
	a, err := p.Embed(ctx, [][]byte{[]byte("img-a"), []byte("img-b"), []byte("img-a")})
	require.NoError(t, err)
	require.Len(t, a, 3)
	for _, vec := range a {
		assert.Len(t, vec, 32)
	}
	assert.Equal(t, a[0], a[2], "same input embeds identically")
	assert.NotEqual(t, a[0], a[1], "different inputs embed differently")

	// values stay in a bounded range
	for _, v := range a[0] {
		assert.GreaterOrEqual(t, v, float32(-1))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func testProviderSelection(t *testing.T) {
	assert.Equal(t, 64, NewProvider("hash", 64, "").Dimensions())
	assert.Equal(t, 384, NewProvider("", 0, "").Dimensions(), "empty name and dims fall back to defaults")

	// unknown providers degrade to the hash embedder
	p := NewProvider("mystery", 16, "")
	_, err := p.Embed(context.Background(), [][]byte{[]byte("x")})
	require.NoError(t, err)
}

func testAdjustToDims(t *testing.T) {
	vec := []float32{1, 2, 3, 4}
	assert.Equal(t, vec, AdjustToDims(vec, 4))
	assert.Equal(t, vec, AdjustToDims(vec, 0))
	assert.Equal(t, []float32{1, 2}, AdjustToDims(vec, 2))
	assert.Equal(t, []float32{1, 2, 3, 4, 0, 0}, AdjustToDims(vec, 6))
}

// newImageDataset writes two single-row shards with inline image bytes under
// db/train and returns the opened store.
func newImageDataset(t *testing.T) *dataset.Store {
	t.Helper()
	dir := t.TempDir()
	reg := annotation.NewRegistry()
	trainDir := filepath.Join(dir, "db", "train")
	require.NoError(t, os.MkdirAll(trainDir, 0o755))
	fields := []schema.Field{
		{Name: "id", Node: schema.Primitive{Kind: schema.String}},
		{Name: "image", Node: schema.Extension{Name: annotation.TypeImage}},
	}
	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("img_%d", i)
		sh := &dataset.Shard{
			Version: dataset.ShardVersionCurrent,
			Fields:  fields,
			Rows: []dataset.Row{{
				"id":    id,
				"image": &annotation.ImageRef{URI: "file:///media/" + id + ".png", Bytes: []byte(id)},
			}},
		}
		path := filepath.Join(trainDir, fmt.Sprintf("shard_%d.shard", i))
		require.NoError(t, dataset.WriteShard(path, sh, reg))
	}
	s, err := dataset.Open(dir, reg)
	require.NoError(t, err)
	return s
}

func testPrecompute(t *testing.T) {
	s := newImageDataset(t)
	p := &Precomputer{
		Store:    s,
		Provider: NewHashProvider(8),
		Name:     "hash",
		View:     "image",
		Workers:  2,
	}
	require.NoError(t, p.ProcessDataset(context.Background()))

	outDir := filepath.Join(p.OutputDir(), "train")
	for i := 0; i < 2; i++ {
		path := filepath.Join(outDir, fmt.Sprintf("shard_%d.shard", i))
		sh, err := dataset.ReadShard(path, s.Registry())
		require.NoError(t, err)
		require.Len(t, sh.Rows, 1)
		assert.Equal(t, fmt.Sprintf("img_%d", i), sh.Rows[0]["id"])
		emb, ok := sh.Rows[0]["image_embedding"].(*annotation.Embedding)
		require.True(t, ok)
		assert.Len(t, emb.Bytes, 8*4, "8 float32 values per vector")
	}
}

func testPrecomputeResumes(t *testing.T) {
	s := newImageDataset(t)
	p := &Precomputer{
		Store:    s,
		Provider: NewHashProvider(8),
		Name:     "hash",
		View:     "image",
	}

	// a shard whose output already exists is skipped, not recomputed
	outDir := filepath.Join(p.OutputDir(), "train")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	sentinel := filepath.Join(outDir, "shard_0.shard")
	require.NoError(t, os.WriteFile(sentinel, []byte("already done"), 0o644))

	require.NoError(t, p.ProcessDataset(context.Background()))

	kept, err := os.ReadFile(sentinel)
	require.NoError(t, err)
	assert.Equal(t, []byte("already done"), kept, "existing output is left alone")

	// the missing shard was still produced
	sh, err := dataset.ReadShard(filepath.Join(outDir, "shard_1.shard"), s.Registry())
	require.NoError(t, err)
	require.Len(t, sh.Rows, 1)
	assert.Equal(t, "img_1", sh.Rows[0]["id"])
}
