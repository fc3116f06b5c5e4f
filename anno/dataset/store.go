package dataset

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	assert "github.com/ZanzyTHEbar/assert-lib"

	internal "github.com/openlabel/annostore/anno"
	"github.com/openlabel/annostore/anno/natsort"
	"github.com/openlabel/annostore/anno/schema"
)

// Store gives access to one dataset directory: shard files under db/<split>/,
// the spec.json info file and the stats.json side-file.
type Store struct {
	dir           string
	reg           *schema.Registry
	assertHandler *assert.AssertHandler
}

// Open opens the dataset rooted at dir.
func Open(dir string, reg *schema.Registry) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dataset: open %s: not a directory", dir)
	}
	return &Store{
		dir:           dir,
		reg:           reg,
		assertHandler: assert.NewAssertHandler(),
	}, nil
}

// Dir returns the dataset root directory.
func (s *Store) Dir() string { return s.dir }

// Registry returns the extension type registry the store decodes with.
func (s *Store) Registry() *schema.Registry { return s.reg }

// DBDir returns the directory holding the shard files.
func (s *Store) DBDir() string { return filepath.Join(s.dir, internal.DefaultDBDir) }

// ShardFiles lists every shard file of the dataset in natural filename
// order, the global shard order of the store.
func (s *Store) ShardFiles() ([]string, error) {
	var files []string
	root := s.DBDir()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), internal.DefaultShardExt) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dataset: list shards: %w", err)
	}
	natsort.Sort(files)
	return files, nil
}

// SplitShardFiles lists the shard files of one split in natural order.
func (s *Store) SplitShardFiles(split string) ([]string, error) {
	dir := filepath.Join(s.DBDir(), split)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("dataset: list split %s: %w", split, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), internal.DefaultShardExt) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	natsort.Sort(files)
	return files, nil
}

// Splits lists the dataset's split directories.
func (s *Store) Splits() ([]string, error) {
	entries, err := os.ReadDir(s.DBDir())
	if err != nil {
		return nil, fmt.Errorf("dataset: list splits: %w", err)
	}
	var splits []string
	for _, e := range entries {
		if e.IsDir() {
			splits = append(splits, e.Name())
		}
	}
	natsort.Sort(splits)
	return splits, nil
}

// ReadItem scans the shards in order and returns the row with the given id,
// or (nil, false, nil) when no shard holds it.
func (s *Store) ReadItem(ctx context.Context, itemID string) (Row, bool, error) {
	files, err := s.ShardFiles()
	if err != nil {
		return nil, false, err
	}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		sh, err := ReadShard(path, s.reg)
		if err != nil {
			return nil, false, err
		}
		if i := sh.RowIndex(itemID); i >= 0 {
			return sh.Rows[i], true, nil
		}
	}
	return nil, false, nil
}
