// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package coltable implements table.Table on top of recordio files. A table
// is a directory:
//
//   <dir>/table.index      table schema, one recordio item
//   <dir>/<COLUMN>.col     one recordio block per tile; trailer lists tiles
//
// Paths are opened through grailbio/base/file, so dir may be a local path or
// an S3 URL. Tiles hold complete cells for a contiguous range of rows.
// Decoded tiles are kept in a per-column LRU whose capacity is the storage
// manager's cache size.
package coltable

import (
	"context"
	"fmt"
	"sync"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/msvis/array"
	"github.com/grailbio/msvis/table"
	lru "github.com/hashicorp/golang-lru"
	pkgerrors "github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

// StorageManagerName is reported by StorageManager.Name.
const StorageManagerName = "TiledColumnStMan"

// DefaultCacheTiles is the default value of OpenOpts.CacheTiles.
const DefaultCacheTiles = 16

// OpenOpts controls Open.
type OpenOpts struct {
	// ReadOnly makes every Put* call fail with errors.NotAllowed.
	ReadOnly bool
	// CacheTiles is the initial per-column tile cache capacity.
	CacheTiles int
}

// Table is a table stored in a directory. Columns may be read and written
// concurrently. Writes are kept in memory until Flush or Close.
type Table struct {
	dir      string
	index    tableIndex
	readOnly bool
	cols     map[string]*column
}

// Open opens the table stored in dir. It fails with errors.NotExist if dir
// has no table index.
func Open(ctx context.Context, dir string, opts OpenOpts) (*Table, error) {
	if opts.CacheTiles <= 0 {
		opts.CacheTiles = DefaultCacheTiles
	}
	idx, err := readIndex(ctx, dir)
	if err != nil {
		return nil, err
	}
	t := &Table{dir: dir, index: idx, readOnly: opts.ReadOnly, cols: map[string]*column{}}
	for _, desc := range idx.Columns {
		c := &column{t: t, desc: desc, path: columnPath(dir, desc.Name), dirty: map[int]*tile{}}
		if c.cache, err = lru.New(opts.CacheTiles); err != nil {
			return nil, err
		}
		c.buckets = opts.CacheTiles
		if err := c.open(ctx); err != nil {
			t.closeFiles(ctx) // nolint: errcheck
			return nil, err
		}
		t.cols[desc.Name] = c
	}
	vlog.VI(1).Infof("coltable %s: opened %d columns, %d rows", dir, len(t.cols), idx.NumRows)
	return t, nil
}

// Name implements table.Table.
func (t *Table) Name() string { return t.index.Name }

// Dir returns the directory the table was opened from.
func (t *Table) Dir() string { return t.dir }

// NumRows implements table.Table.
func (t *Table) NumRows() int { return t.index.NumRows }

// Columns implements table.Table.
func (t *Table) Columns() []table.ColumnDesc { return t.index.Columns }

// HasColumn implements table.Table.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Column implements table.Table.
func (t *Table) Column(name string) (table.Column, error) {
	c, ok := t.cols[name]
	if !ok {
		return nil, table.MissingColumnError(t.Name(), name)
	}
	return c, nil
}

// StorageManager implements table.Table. Each column has its own storage
// manager with a single hypercube.
func (t *Table) StorageManager(name string) (table.StorageManager, error) {
	c, ok := t.cols[name]
	if !ok {
		return nil, table.MissingColumnError(t.Name(), name)
	}
	return (*storageManager)(c), nil
}

// Writable implements table.Table.
func (t *Table) Writable() bool { return !t.readOnly }

// TileReads returns the number of tiles decoded from the named column's
// file since Open.
func (t *Table) TileReads(name string) int {
	c, ok := t.cols[name]
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Flush rewrites every column file with pending writes. Columns are
// rewritten in parallel.
func (t *Table) Flush(ctx context.Context) error {
	var dirty []*column
	for _, desc := range t.index.Columns {
		c := t.cols[desc.Name]
		c.mu.Lock()
		if len(c.dirty) > 0 {
			dirty = append(dirty, c)
		}
		c.mu.Unlock()
	}
	if len(dirty) == 0 {
		return nil
	}
	log.Debug.Printf("coltable %s: flushing %d columns", t.dir, len(dirty))
	return traverse.Each(len(dirty), func(i int) error {
		return dirty[i].flush(ctx)
	})
}

// Close flushes pending writes and closes the column files.
func (t *Table) Close(ctx context.Context) error {
	e := errors.Once{}
	e.Set(t.Flush(ctx))
	e.Set(t.closeFiles(ctx))
	return e.Err()
}

func (t *Table) closeFiles(ctx context.Context) error {
	e := errors.Once{}
	for _, c := range t.cols {
		c.mu.Lock()
		e.Set(c.close(ctx))
		c.mu.Unlock()
	}
	return e.Err()
}

// tileKey orders tiles by start row in the column's llrb tree.
type tileKey struct {
	start int
	index int
}

// Compare implements llrb.Comparable.
func (k tileKey) Compare(c llrb.Comparable) int {
	return k.start - c.(tileKey).start
}

type column struct {
	t    *Table
	desc table.ColumnDesc
	path string

	mu      sync.Mutex
	in      file.File
	rio     recordio.Scanner
	entries []tileEntry
	tree    llrb.Tree
	cache   *lru.Cache
	buckets int
	// dirty holds modified tiles, keyed by tile index. They stay here until
	// flushed, regardless of cache evictions.
	dirty map[int]*tile
	reads int
}

func (c *column) open(ctx context.Context) error {
	in, err := file.Open(ctx, c.path)
	if err != nil {
		return errors.E(errors.NotExist, fmt.Sprintf("coltable: open %s", c.path), err)
	}
	rio := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	entries, err := unmarshalTileIndex(rio.Trailer())
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return errors.E(err, c.path)
	}
	c.in, c.rio, c.entries = in, rio, entries
	c.tree = llrb.Tree{}
	for i, e := range entries {
		c.tree.Insert(tileKey{start: e.StartRow, index: i})
	}
	return nil
}

func (c *column) close(ctx context.Context) error {
	if c.in == nil {
		return nil
	}
	e := errors.Once{}
	e.Set(c.rio.Finish())
	if err := c.in.Close(ctx); err != nil {
		e.Set(pkgerrors.Wrapf(err, "coltable: close %s", c.path))
	}
	c.in = nil
	return e.Err()
}

// tileFor returns the tile that stores the given row. REQUIRES: c.mu is held.
func (c *column) tileFor(row int) (int, *tile, error) {
	if row < 0 || row >= c.t.index.NumRows {
		log.Panicf("coltable %s: row %d out of range [0,%d)", c.path, row, c.t.index.NumRows)
	}
	k, ok := c.tree.Floor(tileKey{start: row}).(tileKey)
	if !ok {
		return 0, nil, errors.E(errors.Integrity, fmt.Sprintf("coltable %s: no tile for row %d", c.path, row))
	}
	e := c.entries[k.index]
	if row >= e.StartRow+e.NumRows {
		return 0, nil, errors.E(errors.Integrity, fmt.Sprintf("coltable %s: no tile for row %d", c.path, row))
	}
	if t, ok := c.dirty[k.index]; ok {
		return k.index, t, nil
	}
	if v, ok := c.cache.Get(k.index); ok {
		return k.index, v.(*tile), nil
	}
	t, err := c.load(e)
	if err != nil {
		return 0, nil, err
	}
	c.cache.Add(k.index, t)
	return k.index, t, nil
}

// load reads and decodes one tile. REQUIRES: c.mu is held.
func (c *column) load(e tileEntry) (*tile, error) {
	if c.in == nil {
		return nil, errors.E(errors.Precondition, fmt.Sprintf("coltable %s: column file is not open", c.path))
	}
	c.rio.Seek(recordio.ItemLocation{Block: e.FileOffset, Item: 0})
	if !c.rio.Scan() {
		err := c.rio.Err()
		if err == nil {
			err = errors.E(errors.Integrity, fmt.Sprintf("coltable %s: no tile at offset %d", c.path, e.FileOffset))
		}
		return nil, err
	}
	t, err := unmarshalTile(c.desc, c.rio.Get().([]byte))
	if err != nil {
		return nil, err
	}
	if t.start != e.StartRow || t.n != e.NumRows {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("coltable %s: tile at offset %d holds rows [%d,%d), index says [%d,%d)",
			c.path, e.FileOffset, t.start, t.start+t.n, e.StartRow, e.StartRow+e.NumRows))
	}
	c.reads++
	return t, nil
}

// flush rewrites the column file with the dirty tiles merged in.
func (c *column) flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tiles := make([]*tile, len(c.entries))
	for i, e := range c.entries {
		if t, ok := c.dirty[i]; ok {
			tiles[i] = t
			continue
		}
		if v, ok := c.cache.Peek(i); ok {
			tiles[i] = v.(*tile)
			continue
		}
		t, err := c.load(e)
		if err != nil {
			return err
		}
		tiles[i] = t
	}
	if err := c.close(ctx); err != nil {
		c.reopen(ctx)
		return err
	}
	next := 0
	err := writeColumnFile(ctx, c.path, &c.t.index, c.desc, func(start, n int) (*tile, error) {
		t := tiles[next]
		next++
		if t.start != start || t.n != n {
			log.Panicf("coltable %s: tile [%d,%d) rewritten as [%d,%d)", c.path, t.start, t.start+t.n, start, start+n)
		}
		return t, nil
	})
	if err != nil {
		c.reopen(ctx)
		return err
	}
	for i, t := range c.dirty {
		c.cache.Add(i, t)
	}
	c.dirty = map[int]*tile{}
	return c.open(ctx)
}

// reopen reattaches the column file after a failed flush. The dirty tiles
// stay pinned for the next Flush. REQUIRES: c.mu is held.
func (c *column) reopen(ctx context.Context) {
	if err := c.open(ctx); err != nil {
		log.Error.Printf("coltable %s: reopen after failed flush: %v", c.path, err)
	}
}

func (c *column) Desc() table.ColumnDesc { return c.desc }

// rowRuns calls fn once for every maximal run of consecutive entries of rows
// that live in the same tile, passing the tile-relative row ids.
func (c *column) rowRuns(rows []int, fn func(i int, t *tile, local []int) error) error {
	var local []int
	for i := 0; i < len(rows); {
		index, t, err := c.tileFor(rows[i])
		if err != nil {
			return err
		}
		local = local[:0]
		j := i
		for ; j < len(rows) && rows[j] >= t.start && rows[j] < t.start+t.n; j++ {
			local = append(local, rows[j]-t.start)
		}
		if err := fn(index, t, local); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func get[T any](c *column, want table.DataType, rows []int, sl array.Slicer, dst []T) error {
	if c.desc.Type != want {
		return table.TypeError(c.desc, want)
	}
	cc, err := table.NewCellCopier(c.desc, sl)
	if err != nil {
		return err
	}
	if err := cc.Check(len(rows), len(dst)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	return c.rowRuns(rows, func(_ int, t *tile, local []int) error {
		m := len(local) * cc.PerRow()
		err := table.Gather(cc, t.data.([]T), t.n, local, dst[n:n+m])
		n += m
		return err
	})
}

func put[T any](c *column, want table.DataType, rows []int, sl array.Slicer, src []T) error {
	if c.desc.Type != want {
		return table.TypeError(c.desc, want)
	}
	if c.t.readOnly {
		return table.ReadOnlyError(c.t.Name(), c.desc.Name)
	}
	cc, err := table.NewCellCopier(c.desc, sl)
	if err != nil {
		return err
	}
	if err := cc.Check(len(rows), len(src)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	return c.rowRuns(rows, func(index int, t *tile, local []int) error {
		m := len(local) * cc.PerRow()
		err := table.Scatter(cc, t.data.([]T), t.n, local, src[n:n+m])
		n += m
		c.dirty[index] = t
		return err
	})
}

func (c *column) GetBools(rows []int, sl array.Slicer, dst []bool) error {
	return get(c, table.TypeBool, rows, sl, dst)
}

func (c *column) GetInt32s(rows []int, dst []int32) error {
	return get(c, table.TypeInt32, rows, array.Full(), dst)
}

func (c *column) GetFloat32s(rows []int, sl array.Slicer, dst []float32) error {
	return get(c, table.TypeFloat32, rows, sl, dst)
}

func (c *column) GetFloat64s(rows []int, sl array.Slicer, dst []float64) error {
	return get(c, table.TypeFloat64, rows, sl, dst)
}

func (c *column) GetComplex64s(rows []int, sl array.Slicer, dst []complex64) error {
	return get(c, table.TypeComplex64, rows, sl, dst)
}

func (c *column) PutBools(rows []int, sl array.Slicer, src []bool) error {
	return put(c, table.TypeBool, rows, sl, src)
}

func (c *column) PutInt32s(rows []int, src []int32) error {
	return put(c, table.TypeInt32, rows, array.Full(), src)
}

func (c *column) PutFloat32s(rows []int, sl array.Slicer, src []float32) error {
	return put(c, table.TypeFloat32, rows, sl, src)
}

func (c *column) PutFloat64s(rows []int, sl array.Slicer, src []float64) error {
	return put(c, table.TypeFloat64, rows, sl, src)
}

func (c *column) PutComplex64s(rows []int, sl array.Slicer, src []complex64) error {
	return put(c, table.TypeComplex64, rows, sl, src)
}

// storageManager is the cache control view of a column.
type storageManager column

func (sm *storageManager) Name() string { return StorageManagerName }

func (sm *storageManager) IsTiled() bool { return true }

func (sm *storageManager) Hypercubes() []table.Hypercube {
	c := (*column)(sm)
	tileShape := append(append([]int{}, c.desc.Shape...), c.t.index.RowsPerTile)
	return []table.Hypercube{{CellShape: c.desc.Shape, TileShape: tileShape, NumRows: c.t.index.NumRows}}
}

func (sm *storageManager) SetCacheSize(hypercube, nBuckets int) error {
	if hypercube != 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("hypercube %d out of range [0,1)", hypercube))
	}
	if nBuckets < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("cache size %d", nBuckets))
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cache.Resize(nBuckets)
	sm.buckets = nBuckets
	return nil
}

func (sm *storageManager) CacheSize(hypercube int) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.buckets
}

func (sm *storageManager) ClearCaches() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cache.Purge()
}
