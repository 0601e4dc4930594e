package array

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Slicer selects a strided window along each axis of a table cell. The zero
// Slicer selects the whole cell. Otherwise Start, Length and Stride must each
// have one entry per cell axis.
type Slicer struct {
	Start  []int
	Length []int
	Stride []int
}

// Full returns the slicer that selects whole cells.
func Full() Slicer { return Slicer{} }

// IsFull reports whether s selects whole cells regardless of the cell shape.
func (s Slicer) IsFull() bool { return len(s.Start) == 0 }

// Validate checks that s fits inside a cell of the given shape.
func (s Slicer) Validate(cell []int) error {
	if s.IsFull() {
		return nil
	}
	if len(s.Start) != len(cell) || len(s.Length) != len(cell) || len(s.Stride) != len(cell) {
		return errors.E(errors.Invalid, fmt.Sprintf("slicer %+v does not match cell shape %v", s, cell))
	}
	for axis, n := range cell {
		start, length, stride := s.Start[axis], s.Length[axis], s.Stride[axis]
		if start < 0 || length < 0 || stride < 1 {
			return errors.E(errors.Invalid, fmt.Sprintf("slicer %+v: bad axis %d", s, axis))
		}
		if length > 0 && start+(length-1)*stride >= n {
			return errors.E(errors.Invalid, fmt.Sprintf("slicer %+v: axis %d exceeds length %d", s, axis, n))
		}
	}
	return nil
}

// Shape returns the shape of the selected window of a cell.
func (s Slicer) Shape(cell []int) ([]int, error) {
	if err := s.Validate(cell); err != nil {
		return nil, err
	}
	shape := make([]int, len(cell))
	if s.IsFull() {
		copy(shape, cell)
	} else {
		copy(shape, s.Length)
	}
	return shape, nil
}

// NumElements returns the number of elements selected from one cell.
func (s Slicer) NumElements(cell []int) int {
	n := 1
	if s.IsFull() {
		for _, v := range cell {
			n *= v
		}
		return n
	}
	for _, v := range s.Length {
		n *= v
	}
	return n
}

// Offsets returns, in column-major output order, the offset of every selected
// element from the start of a cell.
func (s Slicer) Offsets(cell []int) ([]int, error) {
	shape, err := s.Shape(cell)
	if err != nil {
		return nil, err
	}
	n := s.NumElements(cell)
	offsets := make([]int, 0, n)
	if n == 0 {
		return offsets, nil
	}
	idx := make([]int, len(shape))
	for {
		off, stride := 0, 1
		for axis := range shape {
			pos := idx[axis]
			if !s.IsFull() {
				pos = s.Start[axis] + idx[axis]*s.Stride[axis]
			}
			off += pos * stride
			stride *= cell[axis]
		}
		offsets = append(offsets, off)
		axis := 0
		for ; axis < len(shape); axis++ {
			idx[axis]++
			if idx[axis] < shape[axis] {
				break
			}
			idx[axis] = 0
		}
		if axis == len(shape) {
			return offsets, nil
		}
	}
}

// ChannelSlicer builds the slicer for a (correlation, channel) cell that keeps
// every correlation and selects length channels from start with the given
// stride.
func ChannelSlicer(nCorr, start, length, stride int) Slicer {
	return Slicer{
		Start:  []int{0, start},
		Length: []int{nCorr, length},
		Stride: []int{1, stride},
	}
}
