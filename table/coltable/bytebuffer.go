// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package coltable

import (
	"encoding/binary"
	"math"

	"github.com/grailbio/base/errors"
)

// byteBuffer is a little-endian cell encoder and decoder with automatic
// buffer sizing. It can be used either for reading or writing, but not both
// at the same time.
type byteBuffer []byte

var errUnderflow = errors.E(errors.Integrity, "coltable: tile payload underflow")

// Reader functions. They return errUnderflow when the buffer is too short,
// which happens only for corrupt tiles.

func (b *byteBuffer) take(n int) ([]byte, error) {
	if len(*b) < n {
		return nil, errUnderflow
	}
	v := (*b)[:n]
	*b = (*b)[n:]
	return v, nil
}

// Uint8 reads one byte.
func (b *byteBuffer) Uint8() (uint8, error) {
	v, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// Uint32 reads a fixed32 value.
func (b *byteBuffer) Uint32() (uint32, error) {
	v, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(v), nil
}

// Uint64 reads a fixed64 value.
func (b *byteBuffer) Uint64() (uint64, error) {
	v, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(v), nil
}

// Uvarint64 reads an unsigned varint.
func (b *byteBuffer) Uvarint64() (uint64, error) {
	value, n := binary.Uvarint(*b)
	if n <= 0 {
		return 0, errUnderflow
	}
	*b = (*b)[n:]
	return value, nil
}

// Writer functions

// Ensure that b can store at least "bytes" more bytes.
func (b *byteBuffer) alloc(bytes int) []byte {
	blen := len(*b)
	newLen := blen + bytes
	if cap(*b) >= newLen {
		(*b) = (*b)[:newLen]
		return (*b)[blen:]
	}
	newCap := (newLen/16 + 1) * 16
	if newCap < cap(*b)*2 {
		newCap = cap(*b) * 2
	}
	newBuf := make([]byte, newLen, newCap)
	copy(newBuf, *b)
	*b = newBuf
	return (*b)[blen:]
}

// PutUint8 adds one byte to the buffer.
func (b *byteBuffer) PutUint8(value uint8) {
	(b.alloc(1))[0] = value
}

// PutBytes add bytes raw, w/o prefixing its length.
func (b *byteBuffer) PutBytes(data []byte) {
	copy(b.alloc(len(data)), data)
}

// PutUint32 adds the value as a fixed32.
func (b *byteBuffer) PutUint32(value uint32) {
	binary.LittleEndian.PutUint32(b.alloc(4), value)
}

// PutUint64 adds the value as a fixed64.
func (b *byteBuffer) PutUint64(value uint64) {
	binary.LittleEndian.PutUint64(b.alloc(8), value)
}

// PutUvarint64 adds the value as an unsigned varint.
func (b *byteBuffer) PutUvarint64(value uint64) {
	x := b.alloc(binary.MaxVarintLen64)
	n := binary.PutUvarint(x, value)
	if delta := binary.MaxVarintLen64 - n; delta != 0 {
		(*b) = (*b)[:len(*b)-delta]
	}
}

func (b *byteBuffer) putFloat32(v float32) { b.PutUint32(math.Float32bits(v)) }

func (b *byteBuffer) float32() (float32, error) {
	v, err := b.Uint32()
	return math.Float32frombits(v), err
}
