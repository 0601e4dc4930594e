// Package memtable implements table.Table in memory. It backs synthetic
// measurement sets and tests.
package memtable

import (
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/msvis/array"
	"github.com/grailbio/msvis/table"
)

const (
	// StandardStMan is the name of the untiled storage manager.
	StandardStMan = "StandardStMan"
	// TiledShapeStMan is the name of the tiled storage manager.
	TiledShapeStMan = "TiledShapeStMan"

	defaultCacheBuckets = 1024
)

// Table is an in-memory table. Thread compatible.
type Table struct {
	name     string
	nRows    int
	readOnly bool
	descs    []table.ColumnDesc
	cols     map[string]*column
}

// New creates an empty table with the given number of rows.
func New(name string, nRows int) *Table {
	return &Table{name: name, nRows: nRows, cols: map[string]*column{}}
}

// AddColumn adds a zero-filled column.
func (t *Table) AddColumn(desc table.ColumnDesc) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	if _, ok := t.cols[desc.Name]; ok {
		return errors.E(errors.Exists, fmt.Sprintf("table %s: column %s already exists", t.name, desc.Name))
	}
	n := t.nRows * desc.CellSize()
	c := &column{t: t, desc: desc, sm: newStorageManager(desc, t.nRows)}
	switch desc.Type {
	case table.TypeBool:
		c.data = make([]bool, n)
	case table.TypeInt32:
		c.data = make([]int32, n)
	case table.TypeFloat32:
		c.data = make([]float32, n)
	case table.TypeFloat64:
		c.data = make([]float64, n)
	case table.TypeComplex64:
		c.data = make([]complex64, n)
	}
	t.cols[desc.Name] = c
	t.descs = append(t.descs, desc)
	return nil
}

// MustAddColumn is AddColumn that panics on error.
func (t *Table) MustAddColumn(desc table.ColumnDesc) {
	if err := t.AddColumn(desc); err != nil {
		panic(err)
	}
}

// SetReadOnly makes every subsequent Put* call fail.
func (t *Table) SetReadOnly(v bool) { t.readOnly = v }

// Name implements table.Table.
func (t *Table) Name() string { return t.name }

// NumRows implements table.Table.
func (t *Table) NumRows() int { return t.nRows }

// Columns implements table.Table.
func (t *Table) Columns() []table.ColumnDesc { return t.descs }

// HasColumn implements table.Table.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Column implements table.Table.
func (t *Table) Column(name string) (table.Column, error) {
	c, ok := t.cols[name]
	if !ok {
		return nil, table.MissingColumnError(t.name, name)
	}
	return c, nil
}

// StorageManager implements table.Table.
func (t *Table) StorageManager(name string) (table.StorageManager, error) {
	c, ok := t.cols[name]
	if !ok {
		return nil, table.MissingColumnError(t.name, name)
	}
	return c.sm, nil
}

// Writable implements table.Table.
func (t *Table) Writable() bool { return !t.readOnly }

// Reads counts Get* calls made against the named column. Tests use it to
// verify caching.
func (t *Table) Reads(name string) int {
	c, ok := t.cols[name]
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

type column struct {
	t    *Table
	desc table.ColumnDesc
	sm   *storageManager
	data interface{}

	mu    sync.Mutex
	reads int
}

func (c *column) Desc() table.ColumnDesc { return c.desc }

func (c *column) countRead() {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
}

func (c *column) checkWritable() error {
	if c.t.readOnly {
		return table.ReadOnlyError(c.t.name, c.desc.Name)
	}
	return nil
}

func get[T any](c *column, want table.DataType, rows []int, sl array.Slicer, dst []T) error {
	data, ok := c.data.([]T)
	if !ok {
		return table.TypeError(c.desc, want)
	}
	cc, err := table.NewCellCopier(c.desc, sl)
	if err != nil {
		return err
	}
	c.countRead()
	return table.Gather(cc, data, c.t.nRows, rows, dst)
}

func put[T any](c *column, want table.DataType, rows []int, sl array.Slicer, src []T) error {
	data, ok := c.data.([]T)
	if !ok {
		return table.TypeError(c.desc, want)
	}
	if err := c.checkWritable(); err != nil {
		return err
	}
	cc, err := table.NewCellCopier(c.desc, sl)
	if err != nil {
		return err
	}
	return table.Scatter(cc, data, c.t.nRows, rows, src)
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

// storageManager records cache settings. Memory-resident cells need no real
// cache, but the settings are observable so that callers tuning tiled
// storage can be tested.
type storageManager struct {
	mu     sync.Mutex
	tiled  bool
	cubes  []table.Hypercube
	caches []int
	clears int
}

func newStorageManager(desc table.ColumnDesc, nRows int) *storageManager {
	sm := &storageManager{}
	if desc.Tile != nil {
		sm.tiled = true
		sm.cubes = []table.Hypercube{{CellShape: desc.Shape, TileShape: desc.Tile, NumRows: nRows}}
		sm.caches = []int{defaultCacheBuckets}
	}
	return sm
}

func (sm *storageManager) Name() string {
	if sm.tiled {
		return TiledShapeStMan
	}
	return StandardStMan
}

func (sm *storageManager) IsTiled() bool { return sm.tiled }

func (sm *storageManager) Hypercubes() []table.Hypercube { return sm.cubes }

func (sm *storageManager) SetCacheSize(hypercube, nBuckets int) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if hypercube < 0 || hypercube >= len(sm.caches) {
		return errors.E(errors.Invalid, fmt.Sprintf("hypercube %d out of range [0,%d)", hypercube, len(sm.caches)))
	}
	if nBuckets < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("cache size %d", nBuckets))
	}
	sm.caches[hypercube] = nBuckets
	return nil
}

func (sm *storageManager) CacheSize(hypercube int) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if hypercube < 0 || hypercube >= len(sm.caches) {
		return 0
	}
	return sm.caches[hypercube]
}

func (sm *storageManager) ClearCaches() {
	sm.mu.Lock()
	sm.clears++
	sm.mu.Unlock()
}
