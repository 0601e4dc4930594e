package table

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/msvis/array"
)

// CellCopier moves cells between a column-major backing store and a caller
// buffer through a slicer. It precomputes the element offsets so that the
// per-row loop only copies.
type CellCopier struct {
	cellSize int
	offsets  []int
}

// NewCellCopier creates a copier for cells of the given shape.
func NewCellCopier(desc ColumnDesc, sl array.Slicer) (CellCopier, error) {
	offsets, err := sl.Offsets(desc.Shape)
	if err != nil {
		return CellCopier{}, errors.E(err, fmt.Sprintf("column %s", desc.Name))
	}
	return CellCopier{cellSize: desc.CellSize(), offsets: offsets}, nil
}

// PerRow returns the number of elements copied per row.
func (c CellCopier) PerRow() int { return len(c.offsets) }

// Check verifies that a buffer of n elements matches nRows rows.
func (c CellCopier) Check(nRows, n int) error {
	if nRows*len(c.offsets) != n {
		return errors.E(errors.Invalid, fmt.Sprintf("buffer holds %d elements, want %d rows x %d", n, nRows, len(c.offsets)))
	}
	return nil
}

// Gather copies the selected window of each row in rows from data into dst.
// data holds numRows cells back to back.
func Gather[T any](c CellCopier, data []T, numRows int, rows []int, dst []T) error {
	if err := c.Check(len(rows), len(dst)); err != nil {
		return err
	}
	n := 0
	for _, row := range rows {
		if row < 0 || row >= numRows {
			log.Panicf("row %d out of range [0,%d)", row, numRows)
		}
		base := row * c.cellSize
		for _, off := range c.offsets {
			dst[n] = data[base+off]
			n++
		}
	}
	return nil
}

// Scatter is the inverse of Gather.
func Scatter[T any](c CellCopier, data []T, numRows int, rows []int, src []T) error {
	if err := c.Check(len(rows), len(src)); err != nil {
		return err
	}
	n := 0
	for _, row := range rows {
		if row < 0 || row >= numRows {
			log.Panicf("row %d out of range [0,%d)", row, numRows)
		}
		base := row * c.cellSize
		for _, off := range c.offsets {
			data[base+off] = src[n]
			n++
		}
	}
	return nil
}
