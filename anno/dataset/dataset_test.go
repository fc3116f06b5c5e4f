package dataset

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabel/annostore/anno/annotation"
	"github.com/openlabel/annostore/anno/column"
	"github.com/openlabel/annostore/anno/geometry"
	"github.com/openlabel/annostore/anno/rle"
	"github.com/openlabel/annostore/anno/schema"
)

func TestDataset(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"ShardRoundTrip", testShardRoundTrip},
		{"ShardFormatErrors", testShardFormatErrors},
		{"StoreListing", testStoreListing},
		{"ReadItem", testStoreReadItem},
		{"UpdateItemAnnotations", testUpdateItemAnnotations},
		{"UpdateNormalization", testUpdateNormalization},
		{"UpdateNotFound", testUpdateNotFound},
		{"UpdateIdempotent", testUpdateIdempotent},
		{"UpdateConcurrentModification", testUpdateConcurrentModification},
		{"LegacyMigration", testLegacyMigration},
		{"LegacyMigrationFailsLoudly", testLegacyMigrationFailsLoudly},
		{"Info", testDatasetInfo},
		{"Stats", testDatasetStats},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func itemFields() []schema.Field {
	return []schema.Field{
		{Name: "id", Node: schema.Primitive{Kind: schema.String}},
		{Name: "split", Node: schema.Primitive{Kind: schema.String}},
		{Name: "image", Node: schema.Extension{Name: annotation.TypeImage}},
		{Name: "objects", Node: schema.MustParse("[" + annotation.TypeObjectAnnotation + "]")},
	}
}

func itemRow(id, split string) Row {
	return Row{
		"id":    id,
		"split": split,
		"image": &annotation.ImageRef{URI: "file:///media/" + id + ".png"},
		"objects": []any{
			&annotation.ObjectAnnotation{ID: id + "_obj_0", ViewID: "image", CategoryName: "cat"},
		},
	}
}

// newTestStore writes two shards of five items each under db/train and
// returns the opened store.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	reg := annotation.NewRegistry()
	trainDir := filepath.Join(dir, "db", "train")
	require.NoError(t, os.MkdirAll(trainDir, 0o755))
	for shardIdx := 0; shardIdx < 2; shardIdx++ {
		sh := &Shard{Version: ShardVersionCurrent, Fields: itemFields()}
		for i := 0; i < 5; i++ {
			sh.Rows = append(sh.Rows, itemRow(fmt.Sprintf("img_%d", shardIdx*5+i), "train"))
		}
		path := filepath.Join(trainDir, fmt.Sprintf("shard_%d.shard", shardIdx))
		require.NoError(t, WriteShard(path, sh, reg))
	}
	s, err := Open(dir, reg)
	require.NoError(t, err)
	return s
}

func testShardRoundTrip(t *testing.T) {
	reg := annotation.NewRegistry()
	path := filepath.Join(t.TempDir(), "shard_0.shard")
	sh := &Shard{
		Version: ShardVersionCurrent,
		Fields:  itemFields(),
		Rows:    []Row{itemRow("img_0", "train"), itemRow("img_1", "train")},
	}
	require.NoError(t, WriteShard(path, sh, reg))

	back, err := ReadShard(path, reg)
	require.NoError(t, err)
	assert.Equal(t, uint32(ShardVersionCurrent), back.Version)
	require.Len(t, back.Fields, 4)
	assert.True(t, schema.Equal(sh.Fields[3].Node, back.Fields[3].Node))
	require.Len(t, back.Rows, 2)

	assert.Equal(t, "img_0", back.Rows[0]["id"])
	img, ok := back.Rows[0]["image"].(*annotation.ImageRef)
	require.True(t, ok)
	assert.Equal(t, "file:///media/img_0.png", img.URI)

	objs, ok := back.Rows[1]["objects"].([]any)
	require.True(t, ok)
	require.Len(t, objs, 1)
	ann, ok := objs[0].(*annotation.ObjectAnnotation)
	require.True(t, ok)
	assert.Equal(t, "img_1_obj_0", ann.ID)

	assert.Equal(t, 0, back.RowIndex("img_0"))
	assert.Equal(t, -1, back.RowIndex("img_9"))
	f, ok := back.Field("objects")
	require.True(t, ok)
	assert.Equal(t, "objects", f.Name)
}

func testShardFormatErrors(t *testing.T) {
	reg := annotation.NewRegistry()
	dir := t.TempDir()

	notShard := filepath.Join(dir, "not.shard")
	require.NoError(t, os.WriteFile(notShard, []byte("PNG\x00garbage"), 0o644))
	_, err := ReadShard(notShard, reg)
	require.ErrorIs(t, err, ErrShardFormat)

	// unknown future version fails loudly instead of guessing
	var buf bytes.Buffer
	buf.WriteString(shardMagic)
	writeU32(&buf, 99)
	future := filepath.Join(dir, "future.shard")
	require.NoError(t, os.WriteFile(future, buf.Bytes(), 0o644))
	_, err = ReadShard(future, reg)
	require.ErrorIs(t, err, ErrSchemaMigration)
}

func testStoreListing(t *testing.T) {
	s := newTestStore(t)

	splits, err := s.Splits()
	require.NoError(t, err)
	assert.Equal(t, []string{"train"}, splits)

	files, err := s.ShardFiles()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "shard_0.shard", filepath.Base(files[0]))
	assert.Equal(t, "shard_1.shard", filepath.Base(files[1]))

	split, err := s.SplitShardFiles("train")
	require.NoError(t, err)
	assert.Equal(t, files, split)

	_, err = s.SplitShardFiles("val")
	require.Error(t, err)
}

func testStoreReadItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row, found, err := s.ReadItem(ctx, "img_7")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "img_7", row["id"])

	_, found, err = s.ReadItem(ctx, "img_99")
	require.NoError(t, err)
	assert.False(t, found)
}

func testUpdateItemAnnotations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	files, err := s.ShardFiles()
	require.NoError(t, err)
	untouchedBefore, err := os.ReadFile(files[0])
	require.NoError(t, err)

	anns := []*annotation.ObjectAnnotation{
		{ID: "img_7_obj_0", ViewID: "image", CategoryName: "dog"},
		{ID: "img_7_obj_1", ViewID: "image", CategoryName: "cat"},
	}
	found, err := s.UpdateItemAnnotations(ctx, "img_7", anns)
	require.NoError(t, err)
	require.True(t, found)

	// the shard without the item is byte-identical
	untouchedAfter, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, untouchedBefore, untouchedAfter)

	// the rewritten shard keeps its row count and natural id order
	sh, err := ReadShard(files[1], s.Registry())
	require.NoError(t, err)
	require.Len(t, sh.Rows, 5)
	for i, want := range []string{"img_5", "img_6", "img_7", "img_8", "img_9"} {
		assert.Equal(t, want, sh.Rows[i]["id"])
	}
	objs := sh.Rows[2]["objects"].([]any)
	require.Len(t, objs, 2)
	assert.Equal(t, "dog", objs[0].(*annotation.ObjectAnnotation).CategoryName)
	assert.Equal(t, "cat", objs[1].(*annotation.ObjectAnnotation).CategoryName)
}

func testUpdateNormalization(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// a 4x6 mask with a foreground block, delivered in URLE interchange form
	const h, w = 4, 6
	dense := make([]bool, h*w)
	for y := 1; y <= 2; y++ {
		for x := 2; x <= 4; x++ {
			dense[y*w+x] = true
		}
	}
	mask, err := rle.FromDense(dense, h, w)
	require.NoError(t, err)
	urle, err := mask.ToURLE()
	require.NoError(t, err)

	ann := &annotation.ObjectAnnotation{ID: "img_3_obj_0", ViewID: "image", MaskURLE: urle}
	found, err := s.UpdateItemAnnotations(ctx, "img_3", []*annotation.ObjectAnnotation{ann})
	require.NoError(t, err)
	require.True(t, found)

	row, found, err := s.ReadItem(ctx, "img_3")
	require.NoError(t, err)
	require.True(t, found)
	got := row["objects"].([]any)[0].(*annotation.ObjectAnnotation)

	// the mask was compressed and the interchange form dropped
	require.NotNil(t, got.Mask)
	assert.Nil(t, got.MaskURLE)
	assert.Equal(t, mask.Counts, got.Mask.Counts)

	// the missing bbox was filled from the mask's tight rectangle
	require.NotNil(t, got.Bbox)
	assert.Equal(t, geometry.FormatXYWH, got.Bbox.Format)
	assert.False(t, got.Bbox.IsNormalized)
	assert.Equal(t, [4]float32{2, 1, 3, 2}, got.Bbox.Coords)
}

func testUpdateNotFound(t *testing.T) {
	s := newTestStore(t)
	files, err := s.ShardFiles()
	require.NoError(t, err)
	before := make([][]byte, len(files))
	for i, f := range files {
		before[i], err = os.ReadFile(f)
		require.NoError(t, err)
	}

	found, err := s.UpdateItemAnnotations(context.Background(), "img_404", []*annotation.ObjectAnnotation{
		{ID: "ghost", ViewID: "image"},
	})
	require.NoError(t, err)
	assert.False(t, found, "a miss is reported, not an error")

	for i, f := range files {
		after, err := os.ReadFile(f)
		require.NoError(t, err)
		assert.Equal(t, before[i], after, "a miss leaves every shard untouched")
	}
}

func testUpdateIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	anns := []*annotation.ObjectAnnotation{
		{ID: "img_2_obj_0", ViewID: "image", CategoryName: "bird"},
	}

	found, err := s.UpdateItemAnnotations(ctx, "img_2", anns)
	require.NoError(t, err)
	require.True(t, found)
	files, err := s.ShardFiles()
	require.NoError(t, err)
	first, err := os.ReadFile(files[0])
	require.NoError(t, err)

	found, err = s.UpdateItemAnnotations(ctx, "img_2", anns)
	require.NoError(t, err)
	require.True(t, found)
	second, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, first, second, "replaying the same update rewrites identical bytes")
}

func testUpdateConcurrentModification(t *testing.T) {
	s := newTestStore(t)
	files, err := s.ShardFiles()
	require.NoError(t, err)

	sh, err := ReadShard(files[0], s.Registry())
	require.NoError(t, err)

	// another writer rewrites the shard after our read
	other, err := ReadShard(files[0], s.Registry())
	require.NoError(t, err)
	other.Rows[0]["split"] = "train2"
	require.NoError(t, WriteShard(other.Path, other, s.Registry()))

	err = s.rewriteShard(context.Background(), sh, 1, []*annotation.ObjectAnnotation{
		{ID: "img_1_obj_0", ViewID: "image"},
	})
	require.ErrorIs(t, err, ErrConcurrentModification)
}

// writeLegacyShard hand-crafts a version-1 shard file with the given
// declared column shapes.
func writeLegacyShard(t *testing.T, path string, fields []schema.Field, rows []Row, reg *schema.Registry) {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(shardMagic)
	writeU32(&buf, ShardVersionLegacy)
	writeU32(&buf, uint32(len(fields)))
	for _, f := range fields {
		writeString(&buf, f.Name)
		writeString(&buf, f.Node.String())
	}
	writeU64(&buf, uint64(len(rows)))
	for _, f := range fields {
		vals := make([]any, len(rows))
		for i, row := range rows {
			vals[i] = row[f.Name]
		}
		arr, err := column.Convert(vals, f.Node, reg)
		require.NoError(t, err)
		block, err := column.EncodeColumn(arr)
		require.NoError(t, err)
		writeU32(&buf, uint32(len(block)))
		buf.Write(block)
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func testLegacyMigration(t *testing.T) {
	reg := annotation.NewRegistry()
	dir := t.TempDir()
	path := filepath.Join(dir, "shard_0.shard")

	fields := []schema.Field{
		{Name: "id", Node: schema.Primitive{Kind: schema.String}},
		{Name: "image", Node: legacyImageStruct},
		{Name: "objects", Node: legacyAnnotationsNoSources},
	}
	rows := []Row{{
		"id":    "img_0",
		"image": map[string]any{"uri": "file:///media/img_0.png", "bytes": []byte{}, "preview_bytes": []byte{}},
		"objects": []any{map[string]any{
			"id":      "img_0_obj_0",
			"view_id": "image",
			"bbox":    []any{float32(1), float32(2), float32(3), float32(4)},
		}},
	}}
	writeLegacyShard(t, path, fields, rows, reg)

	sh, err := ReadShard(path, reg)
	require.NoError(t, err)
	assert.Equal(t, uint32(ShardVersionCurrent), sh.Version, "legacy shards are retagged after migration")
	imgField, _ := sh.Field("image")
	assert.True(t, schema.Equal(currentImage, imgField.Node))
	objField, _ := sh.Field("objects")
	assert.True(t, schema.Equal(currentAnnotations, objField.Node))

	obj := sh.Rows[0]["objects"].([]any)[0].(map[string]any)
	bbox, ok := obj["bbox"].(map[string]any)
	require.True(t, ok, "flat bbox arrays become coords structs")
	assert.Equal(t, "xywh", bbox["format"])
	assert.Equal(t, []any{float32(1), float32(2), float32(3), float32(4)}, bbox["coords"])
	assert.Equal(t, "", obj["bbox_source"], "pre-source annotations gain empty source fields")
	assert.Equal(t, "", obj["mask_source"])

	// the migrated shard writes back in the current format and re-reads as
	// fully typed annotations
	require.NoError(t, WriteShard(path, sh, reg))
	back, err := ReadShard(path, reg)
	require.NoError(t, err)
	ann := back.Rows[0]["objects"].([]any)[0].(*annotation.ObjectAnnotation)
	assert.Equal(t, "img_0_obj_0", ann.ID)
	require.NotNil(t, ann.Bbox)
	assert.Equal(t, [4]float32{1, 2, 3, 4}, ann.Bbox.Coords)
	assert.Equal(t, geometry.FormatXYWH, ann.Bbox.Format)
}

func testLegacyMigrationFailsLoudly(t *testing.T) {
	reg := annotation.NewRegistry()
	dir := t.TempDir()
	path := filepath.Join(dir, "shard_0.shard")

	fields := []schema.Field{
		{Name: "id", Node: schema.Primitive{Kind: schema.String}},
		{Name: "meta", Node: schema.MustParse("{weird: str, shape: int}")},
	}
	rows := []Row{{
		"id":   "img_0",
		"meta": map[string]any{"weird": "x", "shape": int64(1)},
	}}
	writeLegacyShard(t, path, fields, rows, reg)

	_, err := ReadShard(path, reg)
	require.ErrorIs(t, err, ErrSchemaMigration, "unrecognized legacy shapes abort the read")
}

func testDatasetInfo(t *testing.T) {
	dir := t.TempDir()
	info := &Info{
		ID:          "ds_1",
		Name:        "segmentation-demo",
		Description: "demo dataset",
		NumElements: 10,
		Splits:      []string{"train"},
		Fields: []FieldSpec{
			{Name: "id", Type: "str"},
			{Name: "image", Type: "Image"},
			{Name: "objects", Type: "[ObjectAnnotation]"},
		},
		Categories: []Category{{ID: 1, Name: "cat"}, {ID: 2, Name: "dog"}},
	}
	require.NoError(t, SaveInfo(dir, info))

	back, err := LoadInfo(dir)
	require.NoError(t, err)
	assert.Equal(t, info, back)

	fields, err := back.SchemaFields()
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.True(t, schema.Equal(schema.Extension{Name: "Image"}, fields[1].Node),
		"declared field order survives the JSON round trip")

	_, err = LoadInfo(t.TempDir())
	require.Error(t, err, "missing descriptor is an error")
}

func testDatasetStats(t *testing.T) {
	dir := t.TempDir()

	// missing side-file reads as empty
	stats, err := LoadStats(dir)
	require.NoError(t, err)
	assert.Empty(t, stats)

	num := NumericalStat("area", []float64{1, 2, 2, 3, 10}, 3)
	assert.Equal(t, "numerical", num.Type)
	assert.Equal(t, []float64{1, 10}, num.Range)
	require.Len(t, num.Histogram, 3)
	total := 0
	for _, b := range num.Histogram {
		total += b["count"].(int)
	}
	assert.Equal(t, 5, total, "every observation lands in a bin")
	last := num.Histogram[2]
	assert.Equal(t, 1, last["count"], "the max observation counts in the last bin")
	assert.Equal(t, float64(10), last["bin_end"], "reported edges stay within the observed range")

	// degenerate single-value range still yields bins
	flat := NumericalStat("flat", []float64{4, 4, 4}, 2)
	assert.Equal(t, []float64{4, 5}, flat.Range)

	cat := CategoricalStat("label", []string{"dog", "cat", "dog"})
	assert.Equal(t, "categorical", cat.Type)
	require.Len(t, cat.Histogram, 2)
	assert.Equal(t, map[string]any{"value": "cat", "count": 1}, cat.Histogram[0])
	assert.Equal(t, map[string]any{"value": "dog", "count": 2}, cat.Histogram[1])

	require.NoError(t, SaveStat(dir, num))
	require.NoError(t, SaveStat(dir, cat))
	stats, err = LoadStats(dir)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	// upsert replaces by name instead of appending
	require.NoError(t, SaveStat(dir, NumericalStat("area", []float64{5, 6}, 2)))
	stats, err = LoadStats(dir)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	for _, st := range stats {
		if st.Name == "area" {
			assert.Equal(t, []float64{5, 6}, st.Range)
		}
	}
}
