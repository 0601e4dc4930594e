package coltable

import (
	"fmt"
	"math"

	"github.com/dgryski/go-farm"
	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/msvis/table"
)

const (
	// IndexMagic is the first field of every table index.
	IndexMagic = uint64(0x9b3c2f1e07d4a6c5)
	// Version is the current on-disk format version.
	Version = "COL1"

	indexFileName = "table.index"
	columnSuffix  = ".col"

	flagSnappy = 1
)

// tableIndex is the content of <dir>/table.index.
type tableIndex struct {
	Magic        uint64
	Version      string
	Name         string
	NumRows      int
	RowsPerTile  int
	Snappy       bool
	Transformers []string
	Columns      []table.ColumnDesc
}

func encodeInts(b *proto.Buffer, v []int) {
	// A zero count marks a nil slice; otherwise the count is len(v)+1.
	if v == nil {
		_ = b.EncodeVarint(0)
		return
	}
	_ = b.EncodeVarint(uint64(len(v) + 1))
	for _, x := range v {
		_ = b.EncodeVarint(uint64(x))
	}
}

func decodeInts(b *proto.Buffer) ([]int, error) {
	n, err := b.DecodeVarint()
	if err != nil || n == 0 {
		return nil, err
	}
	v := make([]int, n-1)
	for i := range v {
		x, err := b.DecodeVarint()
		if err != nil {
			return nil, err
		}
		v[i] = int(x)
	}
	return v, nil
}

func (idx *tableIndex) marshal() []byte {
	b := proto.NewBuffer(nil)
	_ = b.EncodeFixed64(idx.Magic)
	_ = b.EncodeStringBytes(idx.Version)
	_ = b.EncodeStringBytes(idx.Name)
	_ = b.EncodeVarint(uint64(idx.NumRows))
	_ = b.EncodeVarint(uint64(idx.RowsPerTile))
	var snappyFlag uint64
	if idx.Snappy {
		snappyFlag = 1
	}
	_ = b.EncodeVarint(snappyFlag)
	_ = b.EncodeVarint(uint64(len(idx.Transformers)))
	for _, t := range idx.Transformers {
		_ = b.EncodeStringBytes(t)
	}
	_ = b.EncodeVarint(uint64(len(idx.Columns)))
	for _, c := range idx.Columns {
		_ = b.EncodeStringBytes(c.Name)
		_ = b.EncodeVarint(uint64(c.Type))
		encodeInts(b, c.Shape)
		encodeInts(b, c.Tile)
	}
	return b.Bytes()
}

func unmarshalIndex(data []byte) (idx tableIndex, err error) {
	b := proto.NewBuffer(data)
	defer func() {
		if err != nil {
			err = errors.E(errors.Integrity, "coltable: corrupt table index", err)
		}
	}()
	if idx.Magic, err = b.DecodeFixed64(); err != nil {
		return
	}
	if idx.Magic != IndexMagic {
		err = fmt.Errorf("wrong magic %x, want %x", idx.Magic, IndexMagic)
		return
	}
	if idx.Version, err = b.DecodeStringBytes(); err != nil {
		return
	}
	if idx.Version != Version {
		err = fmt.Errorf("unsupported version %q", idx.Version)
		return
	}
	if idx.Name, err = b.DecodeStringBytes(); err != nil {
		return
	}
	var v uint64
	if v, err = b.DecodeVarint(); err != nil {
		return
	}
	idx.NumRows = int(v)
	if v, err = b.DecodeVarint(); err != nil {
		return
	}
	idx.RowsPerTile = int(v)
	if v, err = b.DecodeVarint(); err != nil {
		return
	}
	idx.Snappy = v != 0
	if v, err = b.DecodeVarint(); err != nil {
		return
	}
	for i := 0; i < int(v); i++ {
		var s string
		if s, err = b.DecodeStringBytes(); err != nil {
			return
		}
		idx.Transformers = append(idx.Transformers, s)
	}
	if v, err = b.DecodeVarint(); err != nil {
		return
	}
	for i := 0; i < int(v); i++ {
		var (
			c table.ColumnDesc
			t uint64
		)
		if c.Name, err = b.DecodeStringBytes(); err != nil {
			return
		}
		if t, err = b.DecodeVarint(); err != nil {
			return
		}
		c.Type = table.DataType(t)
		if c.Shape, err = decodeInts(b); err != nil {
			return
		}
		if c.Tile, err = decodeInts(b); err != nil {
			return
		}
		idx.Columns = append(idx.Columns, c)
	}
	return
}

// tileEntry locates one tile in a column file. The list of entries is the
// recordio trailer of the file.
type tileEntry struct {
	StartRow   int
	NumRows    int
	FileOffset uint64
}

func marshalTileIndex(entries []tileEntry) []byte {
	b := proto.NewBuffer(nil)
	_ = b.EncodeVarint(uint64(len(entries)))
	for _, e := range entries {
		_ = b.EncodeVarint(uint64(e.StartRow))
		_ = b.EncodeVarint(uint64(e.NumRows))
		_ = b.EncodeVarint(e.FileOffset)
	}
	return b.Bytes()
}

func unmarshalTileIndex(data []byte) ([]tileEntry, error) {
	b := proto.NewBuffer(data)
	n, err := b.DecodeVarint()
	if err != nil {
		return nil, errors.E(errors.Integrity, "coltable: corrupt tile index", err)
	}
	entries := make([]tileEntry, n)
	for i := range entries {
		var v [3]uint64
		for j := range v {
			if v[j], err = b.DecodeVarint(); err != nil {
				return nil, errors.E(errors.Integrity, "coltable: corrupt tile index", err)
			}
		}
		entries[i] = tileEntry{StartRow: int(v[0]), NumRows: int(v[1]), FileOffset: v[2]}
	}
	return entries, nil
}

// tile is one decoded tile: the cells of rows [start, start+n), back to back.
type tile struct {
	start, n int
	// data is a []bool, []int32, []float32, []float64 or []complex64.
	data interface{}
}

func newTileData(typ table.DataType, n int) interface{} {
	switch typ {
	case table.TypeBool:
		return make([]bool, n)
	case table.TypeInt32:
		return make([]int32, n)
	case table.TypeFloat32:
		return make([]float32, n)
	case table.TypeFloat64:
		return make([]float64, n)
	case table.TypeComplex64:
		return make([]complex64, n)
	}
	panic(typ)
}

func encodeCells(data interface{}) []byte {
	var b byteBuffer
	switch v := data.(type) {
	case []bool:
		for _, x := range v {
			if x {
				b.PutUint8(1)
			} else {
				b.PutUint8(0)
			}
		}
	case []int32:
		for _, x := range v {
			b.PutUint32(uint32(x))
		}
	case []float32:
		for _, x := range v {
			b.putFloat32(x)
		}
	case []float64:
		for _, x := range v {
			b.PutUint64(math.Float64bits(x))
		}
	case []complex64:
		for _, x := range v {
			b.putFloat32(real(x))
			b.putFloat32(imag(x))
		}
	default:
		panic(data)
	}
	return b
}

func decodeCells(typ table.DataType, payload []byte, n int) (interface{}, error) {
	b := byteBuffer(payload)
	data := newTileData(typ, n)
	var err error
	switch v := data.(type) {
	case []bool:
		for i := range v {
			var x uint8
			x, err = b.Uint8()
			v[i] = x != 0
		}
	case []int32:
		for i := range v {
			var x uint32
			x, err = b.Uint32()
			v[i] = int32(x)
		}
	case []float32:
		for i := range v {
			v[i], err = b.float32()
		}
	case []float64:
		for i := range v {
			var x uint64
			x, err = b.Uint64()
			v[i] = math.Float64frombits(x)
		}
	case []complex64:
		for i := range v {
			var re, im float32
			re, _ = b.float32()
			im, err = b.float32()
			v[i] = complex(re, im)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(b) != 0 {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("coltable: %d trailing bytes in tile", len(b)))
	}
	return data, nil
}

// marshalTile serializes a tile into one recordio item:
//
//   varint startRow, varint numRows, fixed64 checksum, byte flags, payload
//
// The checksum covers the uncompressed payload.
func marshalTile(t *tile, useSnappy bool) []byte {
	payload := encodeCells(t.data)
	var flags uint8
	checksum := farm.Hash64(payload)
	if useSnappy {
		payload = snappy.Encode(nil, payload)
		flags |= flagSnappy
	}
	var b byteBuffer
	b.PutUvarint64(uint64(t.start))
	b.PutUvarint64(uint64(t.n))
	b.PutUint64(checksum)
	b.PutUint8(flags)
	b.PutBytes(payload)
	return b
}

func unmarshalTile(desc table.ColumnDesc, item []byte) (*tile, error) {
	b := byteBuffer(item)
	start, err := b.Uvarint64()
	if err != nil {
		return nil, err
	}
	n, err := b.Uvarint64()
	if err != nil {
		return nil, err
	}
	checksum, err := b.Uint64()
	if err != nil {
		return nil, err
	}
	flags, err := b.Uint8()
	if err != nil {
		return nil, err
	}
	payload := []byte(b)
	if flags&flagSnappy != 0 {
		if payload, err = snappy.Decode(nil, payload); err != nil {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("coltable: column %s: tile at row %d", desc.Name, start), err)
		}
	}
	if got := farm.Hash64(payload); got != checksum {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("coltable: column %s: tile at row %d: checksum %x, want %x", desc.Name, start, got, checksum))
	}
	data, err := decodeCells(desc.Type, payload, int(n)*desc.CellSize())
	if err != nil {
		return nil, err
	}
	return &tile{start: int(start), n: int(n), data: data}, nil
}
