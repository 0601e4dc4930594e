package vi

import (
	"github.com/grailbio/msvis/array"
	"github.com/grailbio/msvis/frame"
)

// cached is one lazily computed quantity.
type cached[T any] struct {
	ok bool
	v  T
}

func (c *cached[T]) set(v T) T {
	c.v, c.ok = v, true
	return v
}

func (c *cached[T]) clear() {
	var zero T
	c.v, c.ok = zero, false
}

// subChunkCache holds the column material of the current sub-chunk. Every
// entry is cleared on a new sub-chunk or channel group.
type subChunkCache struct {
	flagCube     cached[array.Cube[bool]]
	flagChannels cached[array.Matrix[bool]]
	flagRow      cached[[]bool]
	flagCategory cached[array.Array4[bool]]
	vis          [numDataColumns]cached[array.Cube[complex64]]
	visStokes    [numDataColumns]cached[array.Matrix[array.StokesVector]]
	floatData    cached[array.Cube[float32]]
	weight       cached[array.Matrix[float32]]
	sigma        cached[array.Matrix[float32]]
	weightSpec   cached[array.Cube[float32]]
	uvw          cached[array.Matrix[float64]]
	frequency    cached[[]float64]
	imaging      cached[array.Matrix[float32]]

	int32s   map[string][]int32
	float64s map[string][]float64
}

func (c *subChunkCache) clear() {
	*c = subChunkCache{}
}

func (c *subChunkCache) clearFlags() {
	c.flagCube.clear()
	c.flagChannels.clear()
	c.imaging.clear()
}

func (c *subChunkCache) clearVis(col DataColumn) {
	c.vis[col].clear()
	c.visStokes[col].clear()
	if col == Observed {
		c.floatData.clear()
	}
}

func (c *subChunkCache) clearWeights() {
	c.weight.clear()
	c.weightSpec.clear()
	c.imaging.clear()
}

// memo is a value memoized on the last time argument.
type memo[T any] struct {
	ok bool
	t  float64
	v  T
}

func (m *memo[T]) get(t float64, compute func() T) T {
	if !m.ok || m.t != t {
		m.v, m.t, m.ok = compute(), t, true
	}
	return m.v
}

// frameCache memoizes the frame getters. It is cleared on every new chunk,
// since the antennas, field or spectral window may have changed.
type frameCache struct {
	feedPA  memo[[]float64]
	parang  memo[[]float64]
	parang0 memo[float64]
	azel    memo[[]frame.AzEl]
	azel0   memo[frame.AzEl]
	hourang memo[float64]
}

func (c *frameCache) clear() { *c = frameCache{} }
