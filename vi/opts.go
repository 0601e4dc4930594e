package vi

import (
	"fmt"

	"github.com/grailbio/msvis/frame"
)

// DataColumn names one of the logical visibility columns.
type DataColumn int

const (
	// Observed is DATA, or FLOAT_DATA promoted to complex when DATA is
	// absent.
	Observed DataColumn = iota
	// Model is MODEL_DATA.
	Model
	// Corrected is CORRECTED_DATA.
	Corrected

	numDataColumns = 3
)

func (d DataColumn) String() string {
	switch d {
	case Observed:
		return "observed"
	case Model:
		return "model"
	case Corrected:
		return "corrected"
	}
	return fmt.Sprintf("datacolumn%d", int(d))
}

// SubChunkID identifies a sub-chunk: the chunk index over all measurement
// sets, and the sub-chunk index within the chunk.
type SubChunkID struct {
	Chunk, SubChunk int
}

func (id SubChunkID) String() string { return fmt.Sprintf("(%d,%d)", id.Chunk, id.SubChunk) }

// Opts configures a ReadCursor.
type Opts struct {
	// SortColumns and ChunkInterval configure the chunk iterator; see
	// msiter.Opts.
	SortColumns   []string
	ChunkInterval float64
	// RowBlocking > 0 makes every sub-chunk exactly RowBlocking rows long
	// (the last one of a chunk may be shorter), regardless of timestamps.
	RowBlocking int
	// ChannelSelections lists explicit channel windows.
	ChannelSelections []ChannelSelection
	// FrequencySelection, if set, selects channels by frequency and takes
	// precedence over ChannelSelections.
	FrequencySelection *FrequencySelection
	// WeightGenerator computes ImagingWeights.
	WeightGenerator ImagingWeightGenerator
	// Binder defaults to DefaultBinder.
	Binder ColumnBinder
	// Calculator defaults to frame.Helpers.
	Calculator frame.Calculator
}
