// Package msiter iterates over the chunks of one or more measurement sets.
// A chunk is a maximal run of rows, in sort order, that share every sort key
// except TIME, as well as ARRAY_ID, FIELD_ID and DATA_DESC_ID. A chunk
// interval cuts chunks further by elapsed time.
package msiter

import (
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/msvis/array"
	"github.com/grailbio/msvis/frame"
	"github.com/grailbio/msvis/ms"
	"github.com/grailbio/msvis/table"
	"v.io/x/lib/vlog"
)

// DefaultSortColumns is the default value of Opts.SortColumns.
var DefaultSortColumns = []string{ms.ArrayID, ms.FieldID, ms.DataDescID, ms.Time}

// Opts controls New.
type Opts struct {
	// SortColumns lists scalar MAIN columns, most significant first. Defaults
	// to DefaultSortColumns.
	SortColumns []string
	// Interval, in seconds, limits the time span of a chunk. A chunk ends
	// before the first row whose time is at least Interval past the chunk's
	// first time. Zero means no limit.
	Interval float64
}

type chunk struct {
	msIndex int
	arrayID int
	fieldID int
	ddID    int
	rows    []int
	times   []float64
}

// Iterator walks the chunks of a list of measurement sets in order. It is
// not safe for concurrent use.
type Iterator struct {
	mss    []*ms.MeasurementSet
	opts   Opts
	chunks []chunk
	pos    int
}

// New creates an iterator positioned at the first chunk.
func New(mss []*ms.MeasurementSet, opts Opts) (*Iterator, error) {
	if len(opts.SortColumns) == 0 {
		opts.SortColumns = DefaultSortColumns
	}
	if opts.Interval < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("negative chunk interval %v", opts.Interval))
	}
	it := &Iterator{mss: mss, opts: opts}
	for i, m := range mss {
		chunks, err := splitChunks(i, m, opts)
		if err != nil {
			return nil, err
		}
		vlog.VI(1).Infof("msiter: ms %d (%s): %d rows in %d chunks", i, m.Name, m.Main.NumRows(), len(chunks))
		it.chunks = append(it.chunks, chunks...)
	}
	return it, nil
}

// sortKey holds one sort column, widened to float64.
type sortKey struct {
	name   string
	values []float64
}

func readScalar(t table.Table, name string) ([]float64, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	desc := col.Desc()
	if !desc.IsScalar() {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sort column %s is not scalar", name))
	}
	n := t.NumRows()
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	values := make([]float64, n)
	switch desc.Type {
	case table.TypeInt32:
		v := make([]int32, n)
		if err := col.GetInt32s(rows, v); err != nil {
			return nil, err
		}
		for i, x := range v {
			values[i] = float64(x)
		}
	case table.TypeFloat64:
		if err := col.GetFloat64s(rows, array.Full(), values); err != nil {
			return nil, err
		}
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sort column %s has unsupported type %v", name, desc.Type))
	}
	return values, nil
}

func splitChunks(msIndex int, m *ms.MeasurementSet, opts Opts) ([]chunk, error) {
	need := map[string]bool{ms.ArrayID: true, ms.FieldID: true, ms.DataDescID: true, ms.Time: true}
	cols := map[string][]float64{}
	var keys []sortKey
	for _, name := range opts.SortColumns {
		values, err := readScalar(m.Main, name)
		if err != nil {
			return nil, err
		}
		cols[name] = values
		keys = append(keys, sortKey{name, values})
	}
	for name := range need {
		if _, ok := cols[name]; ok {
			continue
		}
		values, err := readScalar(m.Main, name)
		if err != nil {
			return nil, err
		}
		cols[name] = values
	}

	order := make([]int, m.Main.NumRows())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		for _, k := range keys {
			if k.values[a] != k.values[b] {
				return k.values[a] < k.values[b]
			}
		}
		return false
	})

	times := cols[ms.Time]
	sameChunk := func(a, b int) bool {
		for _, k := range keys {
			if k.name != ms.Time && k.values[a] != k.values[b] {
				return false
			}
		}
		for _, name := range []string{ms.ArrayID, ms.FieldID, ms.DataDescID} {
			if cols[name][a] != cols[name][b] {
				return false
			}
		}
		return true
	}
	var chunks []chunk
	for start := 0; start < len(order); {
		first := order[start]
		end := start + 1
		for ; end < len(order); end++ {
			row := order[end]
			if !sameChunk(first, row) {
				break
			}
			if opts.Interval > 0 && times[row]-times[first] >= opts.Interval {
				break
			}
		}
		c := chunk{
			msIndex: msIndex,
			arrayID: int(cols[ms.ArrayID][first]),
			fieldID: int(cols[ms.FieldID][first]),
			ddID:    int(cols[ms.DataDescID][first]),
			rows:    order[start:end],
		}
		for _, row := range c.rows {
			c.times = append(c.times, times[row])
		}
		if _, err := m.DataDescription(c.ddID); err != nil {
			return nil, err
		}
		if _, err := m.Field(c.fieldID); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
		start = end
	}
	return chunks, nil
}

// Origin rewinds to the first chunk.
func (it *Iterator) Origin() { it.pos = 0 }

// Next moves to the next chunk. REQUIRES: More().
func (it *Iterator) Next() { it.pos++ }

// More reports whether the iterator is positioned at a chunk.
func (it *Iterator) More() bool { return it.pos < len(it.chunks) }

// NumChunks returns the total number of chunks.
func (it *Iterator) NumChunks() int { return len(it.chunks) }

// ChunkIndex returns the index of the current chunk over all measurement
// sets.
func (it *Iterator) ChunkIndex() int { return it.pos }

func (it *Iterator) cur() *chunk { return &it.chunks[it.pos] }

func (it *Iterator) prev() *chunk {
	if it.pos == 0 {
		return nil
	}
	return &it.chunks[it.pos-1]
}

// NewMS reports whether the current chunk is the first one of its
// measurement set.
func (it *Iterator) NewMS() bool {
	p := it.prev()
	return p == nil || p.msIndex != it.cur().msIndex
}

// NewArray reports whether the array id changed with this chunk.
func (it *Iterator) NewArray() bool {
	p := it.prev()
	return it.NewMS() || p.arrayID != it.cur().arrayID
}

// NewField reports whether the field id changed with this chunk.
func (it *Iterator) NewField() bool {
	p := it.prev()
	return it.NewMS() || p.fieldID != it.cur().fieldID
}

// NewDataDescriptionID reports whether the data description changed with
// this chunk.
func (it *Iterator) NewDataDescriptionID() bool {
	p := it.prev()
	return it.NewMS() || p.ddID != it.cur().ddID
}

// NewSpectralWindow reports whether the spectral window changed with this
// chunk.
func (it *Iterator) NewSpectralWindow() bool {
	if it.NewMS() {
		return true
	}
	return it.spwOf(it.prev()) != it.SpectralWindowID()
}

// NewPolarizationID reports whether the polarization setup changed with this
// chunk.
func (it *Iterator) NewPolarizationID() bool {
	if it.NewMS() {
		return true
	}
	return it.polOf(it.prev()) != it.PolarizationID()
}

func (it *Iterator) spwOf(c *chunk) int {
	return it.mss[c.msIndex].DataDescriptions[c.ddID].SpectralWindowID
}

func (it *Iterator) polOf(c *chunk) int {
	return it.mss[c.msIndex].DataDescriptions[c.ddID].PolarizationID
}

// MSIndex returns the index of the current measurement set.
func (it *Iterator) MSIndex() int { return it.cur().msIndex }

// MS returns the current measurement set.
func (it *Iterator) MS() *ms.MeasurementSet { return it.mss[it.cur().msIndex] }

// NumMS returns the number of measurement sets.
func (it *Iterator) NumMS() int { return len(it.mss) }

// MeasurementSets returns the measurement sets being iterated.
func (it *Iterator) MeasurementSets() []*ms.MeasurementSet { return it.mss }

// ArrayID returns the array id of the current chunk.
func (it *Iterator) ArrayID() int { return it.cur().arrayID }

// FieldID returns the field id of the current chunk.
func (it *Iterator) FieldID() int { return it.cur().fieldID }

// DataDescriptionID returns the data description id of the current chunk.
func (it *Iterator) DataDescriptionID() int { return it.cur().ddID }

// SpectralWindowID returns the spectral window of the current chunk.
func (it *Iterator) SpectralWindowID() int { return it.spwOf(it.cur()) }

// PolarizationID returns the polarization setup of the current chunk.
func (it *Iterator) PolarizationID() int { return it.polOf(it.cur()) }

// SpectralWindow returns the SPECTRAL_WINDOW row of the current chunk.
func (it *Iterator) SpectralWindow() ms.SpectralWindow {
	return it.MS().SpectralWindows[it.SpectralWindowID()]
}

// Polarization returns the POLARIZATION row of the current chunk.
func (it *Iterator) Polarization() ms.Polarization {
	return it.MS().Polarizations[it.PolarizationID()]
}

// Rows returns the table row ids of the current chunk in sort order. The
// caller must not modify the slice.
func (it *Iterator) Rows() []int { return it.cur().rows }

// Times returns the TIME of each row of the current chunk.
func (it *Iterator) Times() []float64 { return it.cur().times }

// AntennaPositions returns the ITRF antenna positions of the current
// measurement set.
func (it *Iterator) AntennaPositions() [][3]float64 { return it.MS().AntennaPositions() }

// AntennaMounts returns the antenna mounts of the current measurement set.
func (it *Iterator) AntennaMounts() []frame.Mount {
	names := it.MS().AntennaMounts()
	mounts := make([]frame.Mount, len(names))
	for i, n := range names {
		mounts[i] = frame.ParseMount(n)
	}
	return mounts
}

// ReceptorAngles returns the receptor angles of every antenna in the current
// spectral window.
func (it *Iterator) ReceptorAngles() [][]float64 {
	return it.MS().ReceptorAngles(it.SpectralWindowID())
}

// PhaseCenter returns the phase center of the current field.
func (it *Iterator) PhaseCenter() frame.Direction {
	f := it.MS().Fields[it.FieldID()]
	return frame.Direction{RA: f.PhaseDir[0], Dec: f.PhaseDir[1]}
}
