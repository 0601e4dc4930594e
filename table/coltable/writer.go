package coltable

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/msvis/array"
	"github.com/grailbio/msvis/table"
	pkgerrors "github.com/pkg/errors"
)

// DefaultRowsPerTile is the default value of WriteOpts.RowsPerTile.
const DefaultRowsPerTile = 256

func init() {
	recordiozstd.Init()
}

// WriteOpts controls Write.
type WriteOpts struct {
	// RowsPerTile is the number of rows stored in one tile. Each tile holds
	// complete cells. Defaults to DefaultRowsPerTile.
	RowsPerTile int
	// Transformers is the list of recordio transformers applied to column
	// files. Defaults to {recordiozstd.Name}.
	Transformers []string
	// Snappy compresses each tile payload with snappy, in addition to the
	// recordio transformers.
	Snappy bool
}

func indexPath(dir string) string { return fmt.Sprintf("%s/%s", dir, indexFileName) }

func columnPath(dir, column string) string {
	return fmt.Sprintf("%s/%s%s", dir, column, columnSuffix)
}

// Write copies src into a new table directory. Columns are written in
// parallel.
func Write(ctx context.Context, dir string, src table.Table, opts WriteOpts) error {
	if opts.RowsPerTile <= 0 {
		opts.RowsPerTile = DefaultRowsPerTile
	}
	if opts.Transformers == nil {
		opts.Transformers = []string{recordiozstd.Name}
	}
	idx := tableIndex{
		Magic:        IndexMagic,
		Version:      Version,
		Name:         src.Name(),
		NumRows:      src.NumRows(),
		RowsPerTile:  opts.RowsPerTile,
		Snappy:       opts.Snappy,
		Transformers: opts.Transformers,
		Columns:      src.Columns(),
	}
	err := traverse.Each(len(idx.Columns), func(i int) error {
		desc := idx.Columns[i]
		col, err := src.Column(desc.Name)
		if err != nil {
			return err
		}
		return writeColumn(ctx, columnPath(dir, desc.Name), &idx, desc, func(start, n int) (*tile, error) {
			return readTile(col, desc, start, n)
		})
	})
	if err != nil {
		return err
	}
	log.Debug.Printf("coltable %s: wrote %d columns, %d rows", dir, len(idx.Columns), idx.NumRows)
	return writeIndex(ctx, dir, &idx)
}

func writeIndex(ctx context.Context, dir string, idx *tableIndex) error {
	path := indexPath(dir)
	out, err := file.Create(ctx, path)
	if err != nil {
		return pkgerrors.Wrapf(err, "coltable: create %s", path)
	}
	rio := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	rio.Append(idx.marshal())
	e := errors.Once{}
	e.Set(rio.Finish())
	e.Set(out.Close(ctx))
	return e.Err()
}

func readIndex(ctx context.Context, dir string) (tableIndex, error) {
	path := indexPath(dir)
	in, err := file.Open(ctx, path)
	if err != nil {
		return tableIndex{}, errors.E(errors.NotExist, fmt.Sprintf("coltable: open %s", path), err)
	}
	defer in.Close(ctx) // nolint: errcheck
	rio := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	if !rio.Scan() {
		err := rio.Err()
		if err == nil {
			err = errors.E(errors.Integrity, fmt.Sprintf("coltable: %s: empty index", path))
		}
		return tableIndex{}, err
	}
	idx, err := unmarshalIndex(rio.Get().([]byte))
	if err != nil {
		return tableIndex{}, err
	}
	return idx, rio.Finish()
}

// tileSource produces the cells of rows [start, start+n).
type tileSource func(start, n int) (*tile, error)

// writeColumnFile is the column writer used by flush. Tests replace it to
// inject write failures.
var writeColumnFile = writeColumn

// writeColumn writes one column file. Each tile is a separate recordio block
// so that it can be read with a single seek.
func writeColumn(ctx context.Context, path string, idx *tableIndex, desc table.ColumnDesc, src tileSource) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return pkgerrors.Wrapf(err, "coltable: create %s", path)
	}
	var (
		mu      sync.Mutex
		entries []tileEntry
	)
	rio := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: idx.Transformers,
		Marshal: func(scratch []byte, v interface{}) ([]byte, error) {
			return marshalTile(v.(*tile), idx.Snappy), nil
		},
		Index: func(loc recordio.ItemLocation, v interface{}) error {
			t := v.(*tile)
			if loc.Item != 0 {
				log.Panicf("coltable: tile %d of %s is not the first item of its block", t.start, path)
			}
			mu.Lock()
			entries = append(entries, tileEntry{StartRow: t.start, NumRows: t.n, FileOffset: loc.Block})
			mu.Unlock()
			return nil
		},
	})
	rio.AddHeader(recordio.KeyTrailer, true)
	e := errors.Once{}
	for start := 0; start < idx.NumRows; start += idx.RowsPerTile {
		n := idx.RowsPerTile
		if start+n > idx.NumRows {
			n = idx.NumRows - start
		}
		t, err := src(start, n)
		if err != nil {
			e.Set(err)
			break
		}
		rio.Append(t)
		rio.Flush()
	}
	rio.Wait()
	sort.Slice(entries, func(i, j int) bool { return entries[i].StartRow < entries[j].StartRow })
	rio.SetTrailer(marshalTileIndex(entries))
	e.Set(rio.Finish())
	if err := out.Close(ctx); err != nil {
		e.Set(pkgerrors.Wrapf(err, "coltable: close %s", path))
	}
	return e.Err()
}

func tileRows(start, n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = start + i
	}
	return rows
}

// readTile copies rows [start, start+n) of a column into a new tile.
func readTile(col table.Column, desc table.ColumnDesc, start, n int) (*tile, error) {
	rows := tileRows(start, n)
	t := &tile{start: start, n: n, data: newTileData(desc.Type, n*desc.CellSize())}
	var err error
	switch v := t.data.(type) {
	case []bool:
		err = col.GetBools(rows, array.Full(), v)
	case []int32:
		err = col.GetInt32s(rows, v)
	case []float32:
		err = col.GetFloat32s(rows, array.Full(), v)
	case []float64:
		err = col.GetFloat64s(rows, array.Full(), v)
	case []complex64:
		err = col.GetComplex64s(rows, array.Full(), v)
	}
	return t, err
}
