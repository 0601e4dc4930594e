// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package table defines the storage-engine interfaces consumed by the
// visibility iterator: tables of typed columns, bulk cell access over a list
// of row ids through an array.Slicer, and storage-manager cache control.
//
// Two implementations live in subpackages: memtable (in-memory) and coltable
// (one recordio file per column).
package table

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/msvis/array"
)

// DataType is the element type of a column.
type DataType int

const (
	// TypeInvalid is a sentinel.
	TypeInvalid DataType = iota
	// TypeBool stores bool.
	TypeBool
	// TypeInt32 stores int32.
	TypeInt32
	// TypeFloat32 stores float32.
	TypeFloat32
	// TypeFloat64 stores float64.
	TypeFloat64
	// TypeComplex64 stores complex64.
	TypeComplex64
)

var typeNames = []string{"invalid", "bool", "int32", "float32", "float64", "complex64"}

func (t DataType) String() string {
	if int(t) < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("type%d", int(t))
	}
	return typeNames[t]
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(s string) (DataType, error) {
	for i, n := range typeNames {
		if i > 0 && n == s {
			return DataType(i), nil
		}
	}
	return TypeInvalid, errors.E(errors.Invalid, fmt.Sprintf("unknown data type %q", s))
}

// ColumnDesc describes one column.
type ColumnDesc struct {
	Name string
	Type DataType
	// Shape is the cell shape. Nil for scalar columns.
	Shape []int
	// Tile is the tile shape over the cell axes followed by the row axis. A
	// non-nil Tile asks for tiled storage.
	Tile []int
}

// CellSize returns the number of elements in one cell.
func (d ColumnDesc) CellSize() int {
	n := 1
	for _, v := range d.Shape {
		n *= v
	}
	return n
}

// IsScalar reports whether cells hold a single value.
func (d ColumnDesc) IsScalar() bool { return len(d.Shape) == 0 }

// Validate checks the descriptor for internal consistency.
func (d ColumnDesc) Validate() error {
	if d.Name == "" {
		return errors.E(errors.Invalid, "column without a name")
	}
	if d.Type <= TypeInvalid || d.Type > TypeComplex64 {
		return errors.E(errors.Invalid, fmt.Sprintf("column %s: invalid type %v", d.Name, d.Type))
	}
	for _, n := range d.Shape {
		if n < 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("column %s: negative cell shape %v", d.Name, d.Shape))
		}
	}
	if d.Tile != nil {
		if len(d.Tile) != len(d.Shape)+1 {
			return errors.E(errors.Invalid, fmt.Sprintf("column %s: tile %v does not match cell shape %v", d.Name, d.Tile, d.Shape))
		}
		for _, n := range d.Tile {
			if n <= 0 {
				return errors.E(errors.Invalid, fmt.Sprintf("column %s: bad tile shape %v", d.Name, d.Tile))
			}
		}
	}
	return nil
}

// Column gives bulk access to the cells of one column. Every method takes the
// table row ids to access, in output order. dst/src hold the selected window
// of each row's cell, column-major, rows concatenated; their length must be
// len(rows) * sl.NumElements(Desc().Shape).
//
// Accessing a column through a method of the wrong element type fails with
// errors.Invalid. Row ids outside [0, NumRows) are a programming error.
type Column interface {
	Desc() ColumnDesc

	GetBools(rows []int, sl array.Slicer, dst []bool) error
	GetInt32s(rows []int, dst []int32) error
	GetFloat32s(rows []int, sl array.Slicer, dst []float32) error
	GetFloat64s(rows []int, sl array.Slicer, dst []float64) error
	GetComplex64s(rows []int, sl array.Slicer, dst []complex64) error

	PutBools(rows []int, sl array.Slicer, src []bool) error
	PutInt32s(rows []int, src []int32) error
	PutFloat32s(rows []int, sl array.Slicer, src []float32) error
	PutFloat64s(rows []int, sl array.Slicer, src []float64) error
	PutComplex64s(rows []int, sl array.Slicer, src []complex64) error
}

// Hypercube describes one tiled region of a column.
type Hypercube struct {
	// CellShape is the cell shape of the rows in the hypercube.
	CellShape []int
	// TileShape is the tile shape over the cell axes followed by rows.
	TileShape []int
	// NumRows is the number of rows stored in the hypercube.
	NumRows int
}

// TilesPerRowSlab returns the number of tiles needed to cover all cell axes
// for one row-slab of tiles.
func (h Hypercube) TilesPerRowSlab() int {
	n := 1
	for axis, size := range h.CellShape {
		tile := h.TileShape[axis]
		n *= (size + tile - 1) / tile
	}
	return n
}

// StorageManager exposes the cache controls of the storage behind a column.
// Storage managers may be shared by several columns and readers; changing
// the cache size is a process-wide side effect.
type StorageManager interface {
	// Name identifies the storage manager type, e.g. "TiledShapeStMan".
	Name() string
	// IsTiled reports whether cells are stored in tiles.
	IsTiled() bool
	// Hypercubes lists the tiled regions. Empty unless IsTiled.
	Hypercubes() []Hypercube
	// SetCacheSize sets the cache size, in tiles ("buckets"), of the given
	// hypercube.
	SetCacheSize(hypercube, nBuckets int) error
	// CacheSize returns the current cache size of the given hypercube.
	CacheSize(hypercube int) int
	// ClearCaches drops all cached tiles.
	ClearCaches()
}

// Table is a set of columns over a common row space.
type Table interface {
	// Name identifies the table in log messages.
	Name() string
	NumRows() int
	// Columns lists the column descriptors, in schema order.
	Columns() []ColumnDesc
	HasColumn(name string) bool
	// Column returns the named column. It fails with errors.NotExist if the
	// column is absent.
	Column(name string) (Column, error)
	// StorageManager returns the storage manager of the named column.
	StorageManager(column string) (StorageManager, error)
	// Writable reports whether Put* methods may be called.
	Writable() bool
}

// Flusher is implemented by tables that buffer writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// MissingColumnError returns the error reported for an absent column.
func MissingColumnError(table, column string) error {
	return errors.E(errors.NotExist, fmt.Sprintf("table %s: no column %s", table, column))
}

// TypeError returns the error reported when a column is accessed as the wrong
// element type.
func TypeError(desc ColumnDesc, want DataType) error {
	return errors.E(errors.Invalid, fmt.Sprintf("column %s has type %v, accessed as %v", desc.Name, desc.Type, want))
}

// ReadOnlyError returns the error reported when a read-only table is written.
func ReadOnlyError(table, column string) error {
	return errors.E(errors.NotAllowed, fmt.Sprintf("table %s: column %s is read-only", table, column))
}
