// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package array provides the column-major containers used to move cell data
// between tables and their readers. The first axis varies fastest: element
// (i, j, k) of a cube with shape (n0, n1, n2) lives at i + n0*(j + n1*k).
// Visibility cubes are laid out as (correlation, channel, row).
package array

// Matrix is a two-dimensional column-major array.
type Matrix[T any] struct {
	Shape [2]int
	Data  []T
}

// NewMatrix allocates a zero-filled n0 x n1 matrix.
func NewMatrix[T any](n0, n1 int) Matrix[T] {
	return Matrix[T]{Shape: [2]int{n0, n1}, Data: make([]T, n0*n1)}
}

// At returns element (i, j).
func (m Matrix[T]) At(i, j int) T { return m.Data[i+m.Shape[0]*j] }

// Set stores v at (i, j).
func (m Matrix[T]) Set(i, j int, v T) { m.Data[i+m.Shape[0]*j] = v }

// Column returns the j'th column. The result shares storage with m.
func (m Matrix[T]) Column(j int) []T {
	return m.Data[j*m.Shape[0] : (j+1)*m.Shape[0]]
}

// Len returns the number of elements.
func (m Matrix[T]) Len() int { return m.Shape[0] * m.Shape[1] }

// Empty reports whether the matrix has no elements.
func (m Matrix[T]) Empty() bool { return m.Len() == 0 }

// Fill sets every element to v.
func (m Matrix[T]) Fill(v T) {
	for i := range m.Data {
		m.Data[i] = v
	}
}

// Copy returns a deep copy of m.
func (m Matrix[T]) Copy() Matrix[T] {
	c := Matrix[T]{Shape: m.Shape, Data: make([]T, len(m.Data))}
	copy(c.Data, m.Data)
	return c
}

// Cube is a three-dimensional column-major array.
type Cube[T any] struct {
	Shape [3]int
	Data  []T
}

// NewCube allocates a zero-filled n0 x n1 x n2 cube.
func NewCube[T any](n0, n1, n2 int) Cube[T] {
	return Cube[T]{Shape: [3]int{n0, n1, n2}, Data: make([]T, n0*n1*n2)}
}

func (c Cube[T]) index(i, j, k int) int {
	return i + c.Shape[0]*(j+c.Shape[1]*k)
}

// At returns element (i, j, k).
func (c Cube[T]) At(i, j, k int) T { return c.Data[c.index(i, j, k)] }

// Set stores v at (i, j, k).
func (c Cube[T]) Set(i, j, k int, v T) { c.Data[c.index(i, j, k)] = v }

// Plane returns the k'th (n0 x n1) plane. The result shares storage with c.
func (c Cube[T]) Plane(k int) []T {
	n := c.Shape[0] * c.Shape[1]
	return c.Data[k*n : (k+1)*n]
}

// Len returns the number of elements.
func (c Cube[T]) Len() int { return c.Shape[0] * c.Shape[1] * c.Shape[2] }

// Empty reports whether the cube has no elements.
func (c Cube[T]) Empty() bool { return c.Len() == 0 }

// Fill sets every element to v.
func (c Cube[T]) Fill(v T) {
	for i := range c.Data {
		c.Data[i] = v
	}
}

// Copy returns a deep copy of c.
func (c Cube[T]) Copy() Cube[T] {
	d := Cube[T]{Shape: c.Shape, Data: make([]T, len(c.Data))}
	copy(d.Data, c.Data)
	return d
}

// Array4 is a column-major array with four axes. FLAG_CATEGORY sub-chunks
// are (correlation, channel, category, row).
type Array4[T any] struct {
	Shape [4]int
	Data  []T
}

// NewArray4 allocates a zero-filled Array4.
func NewArray4[T any](n0, n1, n2, n3 int) Array4[T] {
	return Array4[T]{Shape: [4]int{n0, n1, n2, n3}, Data: make([]T, n0*n1*n2*n3)}
}

func (a Array4[T]) index(i, j, k, l int) int {
	return i + a.Shape[0]*(j+a.Shape[1]*(k+a.Shape[2]*l))
}

// At returns element (i, j, k, l).
func (a Array4[T]) At(i, j, k, l int) T { return a.Data[a.index(i, j, k, l)] }

// Set sets element (i, j, k, l).
func (a Array4[T]) Set(i, j, k, l int, v T) { a.Data[a.index(i, j, k, l)] = v }

// Len returns the number of elements.
func (a Array4[T]) Len() int { return a.Shape[0] * a.Shape[1] * a.Shape[2] * a.Shape[3] }

// Empty reports whether the array has no elements.
func (a Array4[T]) Empty() bool { return a.Len() == 0 }

// EqualCubes reports whether a and b have the same shape and elements.
func EqualCubes[T comparable](a, b Cube[T]) bool {
	if a.Shape != b.Shape || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

// EqualMatrices reports whether a and b have the same shape and elements.
func EqualMatrices[T comparable](a, b Matrix[T]) bool {
	if a.Shape != b.Shape || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

// StokesVector holds the four correlation products of one channel of one
// row, in polarization order (e.g. XX, XY, YX, YY). Sub-chunks with fewer
// correlations fill the outer products and leave the cross terms zero.
type StokesVector [4]complex64
