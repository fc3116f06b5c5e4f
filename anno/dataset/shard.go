// Package dataset implements the item store: sharded columnar files holding
// dataset rows, the read-modify-write update transaction over them, and the
// dataset info and stats side-files.
package dataset

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/openlabel/annostore/anno/column"
	"github.com/openlabel/annostore/anno/schema"
)

const (
	shardMagic = "ASHD"

	// ShardVersionLegacy files carry pre-refactor column shapes and are
	// migrated in memory on read.
	ShardVersionLegacy = 1
	// ShardVersionCurrent is the format written by this package.
	ShardVersionCurrent = 2
)

var (
	// ErrShardFormat is returned for files that are not shard files.
	ErrShardFormat = errors.New("dataset: not a shard file")
	// ErrSchemaMigration is returned when a legacy shard cannot be migrated
	// to the current shape. The original file is left untouched.
	ErrSchemaMigration = errors.New("dataset: schema migration failed")
	// ErrConcurrentModification is returned when a shard changed on disk
	// between the transaction's read and its rewrite.
	ErrConcurrentModification = errors.New("dataset: shard modified concurrently")
)

// Row is one dataset item: a value per named column.
type Row = map[string]any

// Shard is one shard file decoded into memory: an ordered slice of rows with
// their declared schema. Checksum is the content hash of the file as read,
// used as the optimistic-concurrency token on rewrite.
type Shard struct {
	Path     string
	Version  uint32
	Fields   []schema.Field
	Rows     []Row
	Checksum [sha256.Size]byte
}

// Field returns the named schema field and whether it exists.
func (sh *Shard) Field(name string) (schema.Field, bool) {
	for _, f := range sh.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return schema.Field{}, false
}

// RowIndex returns the index of the row with the given id, or -1.
func (sh *Shard) RowIndex(id string) int {
	for i, row := range sh.Rows {
		if rid, ok := row["id"].(string); ok && rid == id {
			return i
		}
	}
	return -1
}

// ReadShard reads and decodes a shard file. Legacy-versioned files are
// migrated to the current shape in memory; unknown versions fail with
// ErrSchemaMigration.
func ReadShard(path string, reg *schema.Registry) (*Shard, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read shard %s: %w", path, err)
	}
	sh, err := decodeShard(raw, reg)
	if err != nil {
		return nil, fmt.Errorf("dataset: shard %s: %w", path, err)
	}
	sh.Path = path
	sh.Checksum = sha256.Sum256(raw)
	if sh.Version == ShardVersionLegacy {
		if err := migrateShard(sh); err != nil {
			return nil, fmt.Errorf("dataset: shard %s: %w", path, err)
		}
		sh.Version = ShardVersionCurrent
	}
	return sh, nil
}

func decodeShard(raw []byte, reg *schema.Registry) (*Shard, error) {
	r := bytes.NewReader(raw)
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != shardMagic {
		return nil, ErrShardFormat
	}
	version, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if version != ShardVersionLegacy && version != ShardVersionCurrent {
		return nil, fmt.Errorf("%w: unknown shard format version %d", ErrSchemaMigration, version)
	}
	fieldCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	fields := make([]schema.Field, 0, fieldCount)
	for i := uint32(0); i < fieldCount; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		expr, err := readString(r)
		if err != nil {
			return nil, err
		}
		node, err := schema.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		fields = append(fields, schema.Field{Name: name, Node: node})
	}
	numRows, err := readU64(r)
	if err != nil {
		return nil, err
	}

	sh := &Shard{Version: version, Fields: fields}
	cols := make([][]any, len(fields))
	for i, f := range fields {
		block, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		arr, err := column.DecodeColumn(block, f.Node, int(numRows), reg)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		vals, err := arr.Values(reg)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		cols[i] = vals
	}
	sh.Rows = make([]Row, numRows)
	for ri := range sh.Rows {
		row := make(Row, len(fields))
		for ci, f := range fields {
			row[f.Name] = cols[ci][ri]
		}
		sh.Rows[ri] = row
	}
	return sh, nil
}

// WriteShard re-encodes every column through the field converter and
// atomically replaces the file (temp file + rename). A failed write leaves
// the original untouched.
func WriteShard(path string, sh *Shard, reg *schema.Registry) error {
	var buf bytes.Buffer
	buf.WriteString(shardMagic)
	writeU32(&buf, ShardVersionCurrent)
	writeU32(&buf, uint32(len(sh.Fields)))
	for _, f := range sh.Fields {
		writeString(&buf, f.Name)
		writeString(&buf, f.Node.String())
	}
	writeU64(&buf, uint64(len(sh.Rows)))
	for _, f := range sh.Fields {
		vals := make([]any, len(sh.Rows))
		for i, row := range sh.Rows {
			vals[i] = row[f.Name]
		}
		arr, err := column.Convert(vals, f.Node, reg)
		if err != nil {
			return fmt.Errorf("dataset: column %q: %w", f.Name, err)
		}
		block, err := column.EncodeColumn(arr)
		if err != nil {
			return fmt.Errorf("dataset: column %q: %w", f.Name, err)
		}
		writeU32(&buf, uint32(len(block)))
		buf.Write(block)
	}
	return atomicWriteFile(path, buf.Bytes())
}

// atomicWriteFile writes to a temp file in the target directory, syncs and
// renames it over path. Readers never observe a partial shard.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("dataset: create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("dataset: create temp file: %w", err)
	}
	defer func() {
		// best-effort cleanup when the rename never happened
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("dataset: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("dataset: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("dataset: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("dataset: rename temp file: %w", err)
	}
	return nil
}

func writeU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeU64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func writeString(w *bytes.Buffer, s string) {
	writeU32(w, uint32(len(s)))
	w.WriteString(s)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: truncated header", ErrShardFormat)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: truncated header", ErrShardFormat)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: truncated block", ErrShardFormat)
	}
	return b, nil
}
