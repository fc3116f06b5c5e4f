package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/sourcegraph/conc/pool"

	"github.com/openlabel/annostore/anno/annotation"
	"github.com/openlabel/annostore/anno/dataset"
	"github.com/openlabel/annostore/anno/schema"
)

// Precomputer runs a provider over every item image of a dataset and
// writes one embedding shard per source shard. Output shards live under
// db_embed_<name>/<split>/ next to the dataset's db directory, keyed by
// item id so they join back against the source shards.
//
// A run is resumable: shards whose output file already exists are
// skipped, so an interrupted run picks up where it left off.
type Precomputer struct {
	Store    *dataset.Store
	Provider Provider
	// Name tags the output directory, db_embed_<Name>.
	Name string
	// View is the image column embeddings are computed from.
	View string
	// Workers bounds concurrent shard processing. Zero means one.
	Workers int
}

// OutputDir returns the root directory of the precomputed shards.
func (p *Precomputer) OutputDir() string {
	return filepath.Join(p.Store.Dir(), "db_embed_"+p.Name)
}

func (p *Precomputer) embeddingField() string { return p.View + "_embedding" }

// ProcessDataset embeds every split of the dataset, skipping shards
// already present in the output directory.
func (p *Precomputer) ProcessDataset(ctx context.Context) error {
	splits, err := p.Store.Splits()
	if err != nil {
		return err
	}
	for _, split := range splits {
		if err := p.ProcessSplit(ctx, split); err != nil {
			return err
		}
	}
	return nil
}

// ProcessSplit embeds one split, shard by shard in natural order.
func (p *Precomputer) ProcessSplit(ctx context.Context, split string) error {
	files, err := p.Store.SplitShardFiles(split)
	if err != nil {
		return err
	}
	outDir := filepath.Join(p.OutputDir(), split)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("embedding: create %s: %w", outDir, err)
	}
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	wp := pool.New().WithMaxGoroutines(workers).WithContext(ctx).WithCancelOnError()
	for _, path := range files {
		outPath := filepath.Join(outDir, filepath.Base(path))
		wp.Go(func(ctx context.Context) error {
			if _, err := os.Stat(outPath); err == nil {
				slog.Debug("embedding shard exists, skipping", "path", outPath)
				return nil
			}
			return p.processShard(ctx, path, outPath)
		})
	}
	return wp.Wait()
}

func (p *Precomputer) processShard(ctx context.Context, path, outPath string) error {
	sh, err := dataset.ReadShard(path, p.Store.Registry())
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(sh.Rows))
	inputs := make([][]byte, 0, len(sh.Rows))
	for _, row := range sh.Rows {
		id, _ := row["id"].(string)
		ref, err := imageRef(row[p.View])
		if err != nil {
			return fmt.Errorf("embedding: shard %s item %s: %w", path, id, err)
		}
		data, err := ref.Data()
		if err != nil {
			return fmt.Errorf("embedding: shard %s item %s: %w", path, id, err)
		}
		ids = append(ids, id)
		inputs = append(inputs, data)
	}
	vecs, err := p.Provider.Embed(ctx, inputs)
	if err != nil {
		return err
	}
	if len(vecs) != len(ids) {
		return fmt.Errorf("embedding: provider returned %d vectors for %d inputs", len(vecs), len(ids))
	}
	out := &dataset.Shard{
		Path:    outPath,
		Version: dataset.ShardVersionCurrent,
		Fields: []schema.Field{
			{Name: "id", Node: schema.Primitive{Kind: schema.String}},
			{Name: p.embeddingField(), Node: schema.Extension{Name: annotation.TypeEmbedding}},
		},
		Rows: make([]dataset.Row, len(ids)),
	}
	for i, id := range ids {
		out.Rows[i] = dataset.Row{
			"id":               id,
			p.embeddingField(): &annotation.Embedding{Bytes: floatBytes(vecs[i])},
		}
	}
	if err := dataset.WriteShard(outPath, out, p.Store.Registry()); err != nil {
		return err
	}
	slog.Info("embedding shard written", "path", outPath, "rows", len(ids))
	return nil
}

func imageRef(v any) (*annotation.ImageRef, error) {
	switch r := v.(type) {
	case *annotation.ImageRef:
		return r, nil
	case annotation.ImageRef:
		return &r, nil
	default:
		return nil, fmt.Errorf("value %T is not an image", v)
	}
}

// floatBytes packs a vector as little-endian float32 bytes, the layout
// the Embedding storage type persists.
func floatBytes(vec []float32) []byte {
	buf := make([]byte, 0, len(vec)*4)
	for _, f := range vec {
		bits := math.Float32bits(f)
		buf = append(buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	return buf
}
