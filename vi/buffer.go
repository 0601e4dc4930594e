package vi

import (
	"github.com/grailbio/msvis/array"
)

// DirtyComponent names one modified part of a VisBuffer. The set of
// components is closed; Writer.WriteBack dispatches on the concrete type.
type DirtyComponent interface {
	dirtyComponent()
}

type (
	// FlagCube marks VisBuffer.Flags.
	FlagCube struct{}
	// FlagMatrix marks VisBuffer.FlagChannels.
	FlagMatrix struct{}
	// FlagRowComponent marks VisBuffer.FlagRow.
	FlagRowComponent struct{}
	// FlagCategoryComponent marks VisBuffer.FlagCategory.
	FlagCategoryComponent struct{}
	// SigmaComponent marks VisBuffer.Sigma.
	SigmaComponent struct{}
	// SigmaMatComponent marks VisBuffer.SigmaMat.
	SigmaMatComponent struct{}
	// WeightComponent marks VisBuffer.Weight.
	WeightComponent struct{}
	// WeightMatComponent marks VisBuffer.WeightMat.
	WeightMatComponent struct{}
	// WeightSpectrumComponent marks VisBuffer.WeightSpectrum.
	WeightSpectrumComponent struct{}
	// VisCube marks VisBuffer.Vis[Column].
	VisCube struct{ Column DataColumn }
	// VisMatrix marks VisBuffer.VisStokes[Column].
	VisMatrix struct{ Column DataColumn }
)

func (FlagCube) dirtyComponent() {}
func (FlagMatrix) dirtyComponent() {}
func (FlagRowComponent) dirtyComponent() {}
func (FlagCategoryComponent) dirtyComponent() {}
func (SigmaComponent) dirtyComponent() {}
func (SigmaMatComponent) dirtyComponent() {}
func (WeightComponent) dirtyComponent() {}
func (WeightMatComponent) dirtyComponent() {}
func (WeightSpectrumComponent) dirtyComponent() {}
func (VisCube) dirtyComponent() {}
func (VisMatrix) dirtyComponent() {}

// VisBuffer is a mutable snapshot of one sub-chunk. Callers fill or edit
// fields, mark them with SetDirty, and hand the buffer to Writer.WriteBack
// while the cursor is still at the same sub-chunk.
type VisBuffer struct {
	ID SubChunkID

	// (correlation, channel, row)
	Flags array.Cube[bool]
	// (channel, row)
	FlagChannels array.Matrix[bool]
	FlagRow      []bool
	FlagCategory array.Array4[bool]
	// Per row, applied to every correlation.
	Sigma  []float32
	Weight []float32
	// (correlation, row)
	SigmaMat  array.Matrix[float32]
	WeightMat array.Matrix[float32]
	// (correlation, channel, row)
	WeightSpectrum array.Cube[float32]
	Vis            [numDataColumns]array.Cube[complex64]
	// (channel, row)
	VisStokes [numDataColumns]array.Matrix[array.StokesVector]

	generation uint64
	dirty      []DirtyComponent
}

// NewVisBuffer snapshots the current sub-chunk. The buffer holds copies of
// the flag cube, FLAG_ROW, WEIGHT, SIGMA and the observed visibilities;
// other fields are left for the caller to fill.
func (c *ReadCursor) NewVisBuffer() (*VisBuffer, error) {
	b := &VisBuffer{ID: c.subChunk, generation: c.generation}
	flags, err := c.Flag()
	if err != nil {
		return nil, err
	}
	b.Flags = flags.Copy()
	flagRow, err := c.FlagRow()
	if err != nil {
		return nil, err
	}
	b.FlagRow = append([]bool{}, flagRow...)
	weight, err := c.Weight()
	if err != nil {
		return nil, err
	}
	b.WeightMat = weight.Copy()
	sigma, err := c.Sigma()
	if err != nil {
		return nil, err
	}
	b.SigmaMat = sigma.Copy()
	vis, err := c.Visibility(Observed)
	if err != nil {
		return nil, err
	}
	b.Vis[Observed] = vis.Copy()
	return b, nil
}

// SetDirty marks a component as modified.
func (b *VisBuffer) SetDirty(d DirtyComponent) {
	if !b.IsDirty(d) {
		b.dirty = append(b.dirty, d)
	}
}

// IsDirty reports whether d is marked.
func (b *VisBuffer) IsDirty(d DirtyComponent) bool {
	for _, e := range b.dirty {
		if e == d {
			return true
		}
	}
	return false
}

// Dirty returns the marked components in the order they were marked.
func (b *VisBuffer) Dirty() []DirtyComponent { return append([]DirtyComponent{}, b.dirty...) }

// ClearDirty unmarks every component.
func (b *VisBuffer) ClearDirty() { b.dirty = nil }
