package column

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	roaring "github.com/RoaringBitmap/roaring"
	"github.com/klauspost/compress/zstd"

	"github.com/openlabel/annostore/anno/schema"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// EncodeColumn serializes the array into a self-contained, zstd-compressed
// column block with a little-endian layout.
func EncodeColumn(a *Array) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeBlock(&buf, a); err != nil {
		return nil, err
	}
	return zstdEncoder.EncodeAll(buf.Bytes(), nil), nil
}

// DecodeColumn reverses EncodeColumn. The schema node and row count come from
// the shard header; the registry resolves extension storage layouts.
func DecodeColumn(data []byte, node schema.Node, length int, reg *schema.Registry) (*Array, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptBlock, err)
	}
	r := bytes.NewReader(raw)
	a, err := decodeBlock(r, node, length, reg)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptBlock, r.Len())
	}
	return a, nil
}

func encodeBlock(w *bytes.Buffer, a *Array) error {
	if err := encodeValidity(w, a.Valid); err != nil {
		return err
	}
	switch n := a.Node.(type) {
	case schema.Primitive:
		return encodePrimitive(w, a, n)
	case *schema.List:
		for _, off := range a.Offsets {
			putU32(w, off)
		}
		return encodeBlock(w, a.Elem)
	case *schema.Struct:
		for _, child := range a.Children {
			if err := encodeBlock(w, child); err != nil {
				return err
			}
		}
		return nil
	case schema.Extension:
		return encodeBlock(w, a.Storage)
	}
	return fmt.Errorf("%w: unsupported node %T", ErrCorruptBlock, a.Node)
}

func encodeValidity(w *bytes.Buffer, bm *roaring.Bitmap) error {
	if bm == nil {
		w.WriteByte(0)
		return nil
	}
	w.WriteByte(1)
	b, err := bm.ToBytes()
	if err != nil {
		return err
	}
	putU32(w, uint32(len(b)))
	w.Write(b)
	return nil
}

func encodePrimitive(w *bytes.Buffer, a *Array, n schema.Primitive) error {
	switch n.Kind {
	case schema.Bool:
		for _, v := range a.Bools {
			if v {
				w.WriteByte(1)
			} else {
				w.WriteByte(0)
			}
		}
	case schema.Int32:
		for _, v := range a.Int32s {
			putU32(w, uint32(v))
		}
	case schema.Int64:
		for _, v := range a.Int64s {
			putU64(w, uint64(v))
		}
	case schema.Float32:
		for _, v := range a.Float32s {
			putU32(w, math.Float32bits(v))
		}
	case schema.Float64:
		for _, v := range a.Float64s {
			putU64(w, math.Float64bits(v))
		}
	case schema.String:
		for _, v := range a.Strings {
			putU32(w, uint32(len(v)))
			w.WriteString(v)
		}
	case schema.Binary:
		for _, v := range a.Blobs {
			putU32(w, uint32(len(v)))
			w.Write(v)
		}
	}
	return nil
}

func decodeBlock(r *bytes.Reader, node schema.Node, length int, reg *schema.Registry) (*Array, error) {
	valid, err := decodeValidity(r)
	if err != nil {
		return nil, err
	}
	a := &Array{Node: node, Length: length, Valid: valid}
	switch n := node.(type) {
	case schema.Primitive:
		if err := decodePrimitive(r, a, n); err != nil {
			return nil, err
		}
		return a, nil
	case *schema.List:
		a.Offsets = make([]uint32, length+1)
		for i := range a.Offsets {
			v, err := getU32(r)
			if err != nil {
				return nil, err
			}
			a.Offsets[i] = v
		}
		elemLen := 0
		if length > 0 {
			elemLen = int(a.Offsets[length])
		}
		a.Elem, err = decodeBlock(r, n.Elem, elemLen, reg)
		if err != nil {
			return nil, err
		}
		return a, nil
	case *schema.Struct:
		a.Children = make([]*Array, len(n.Fields))
		for i, f := range n.Fields {
			a.Children[i], err = decodeBlock(r, f.Node, length, reg)
			if err != nil {
				return nil, err
			}
		}
		return a, nil
	case schema.Extension:
		ext, err := reg.Resolve(n.Name)
		if err != nil {
			return nil, err
		}
		a.Storage, err = decodeBlock(r, ext.Storage, length, reg)
		if err != nil {
			return nil, err
		}
		a.Valid = a.Storage.Valid
		return a, nil
	}
	return nil, fmt.Errorf("%w: unsupported node %T", ErrCorruptBlock, node)
}

func decodeValidity(r *bytes.Reader) (*roaring.Bitmap, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
	}
	if flag == 0 {
		return nil, nil
	}
	n, err := getU32(r)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: validity: %v", ErrCorruptBlock, err)
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: validity bitmap: %v", ErrCorruptBlock, err)
	}
	return bm, nil
}

func decodePrimitive(r *bytes.Reader, a *Array, n schema.Primitive) error {
	switch n.Kind {
	case schema.Bool:
		a.Bools = make([]bool, a.Length)
		for i := range a.Bools {
			b, err := r.ReadByte()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCorruptBlock, err)
			}
			a.Bools[i] = b == 1
		}
	case schema.Int32:
		a.Int32s = make([]int32, a.Length)
		for i := range a.Int32s {
			v, err := getU32(r)
			if err != nil {
				return err
			}
			a.Int32s[i] = int32(v)
		}
	case schema.Int64:
		a.Int64s = make([]int64, a.Length)
		for i := range a.Int64s {
			v, err := getU64(r)
			if err != nil {
				return err
			}
			a.Int64s[i] = int64(v)
		}
	case schema.Float32:
		a.Float32s = make([]float32, a.Length)
		for i := range a.Float32s {
			v, err := getU32(r)
			if err != nil {
				return err
			}
			a.Float32s[i] = math.Float32frombits(v)
		}
	case schema.Float64:
		a.Float64s = make([]float64, a.Length)
		for i := range a.Float64s {
			v, err := getU64(r)
			if err != nil {
				return err
			}
			a.Float64s[i] = math.Float64frombits(v)
		}
	case schema.String:
		a.Strings = make([]string, a.Length)
		for i := range a.Strings {
			b, err := readLenPrefixed(r)
			if err != nil {
				return err
			}
			a.Strings[i] = string(b)
		}
	case schema.Binary:
		a.Blobs = make([][]byte, a.Length)
		for i := range a.Blobs {
			b, err := readLenPrefixed(r)
			if err != nil {
				return err
			}
			a.Blobs[i] = b
		}
	}
	return nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	n, err := getU32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
	}
	return b, nil
}

func putU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func putU64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func getU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func getU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
