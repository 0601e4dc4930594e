// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package vi implements the visibility iterator: a cursor over the chunks of
// one or more measurement sets that splits every chunk into sub-chunks of
// identical timestamp (or fixed row blocks), walks the configured channel
// groups, lazily reads and caches column data for the current sub-chunk, and
// writes modified data back through the same row range and channel window.
//
// Typical use:
//
//   c, err := vi.New(mss, vi.Opts{})
//   ...
//   for err = c.OriginChunks(); err == nil && c.MoreChunks(); err = c.NextChunk() {
//     for err = c.Origin(); err == nil && c.More(); err = c.Advance() {
//       vis, err := c.Visibility(vi.Observed)
//       ...
//     }
//   }
//
// A cursor is not safe for concurrent use.
package vi

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/msvis/array"
	"github.com/grailbio/msvis/frame"
	"github.com/grailbio/msvis/ms"
	"github.com/grailbio/msvis/msiter"
)

// ReadCursor is the read side of the visibility iterator.
type ReadCursor struct {
	mss    []*ms.MeasurementSet
	chunks *msiter.Iterator
	binder ColumnBinder
	calc   frame.Calculator

	sel         selectionState
	rowBlocking int
	weightGen   ImagingWeightGenerator

	// Per measurement set.
	msIndex              int
	cols                 *Columns
	derived              *frame.DerivedValues
	existsWeightSpectrum bool
	existsFlagCategory   bool
	tileCacheSet         map[string]bool
	tileCacheUpdates     int

	// Per chunk.
	chunkBound bool
	spw        ms.SpectralWindow
	nCorr      int
	window     ChannelWindow
	chanGroup  int
	slicer     array.Slicer
	sliceCell  []int
	corrSlicer array.Slicer
	corrCell   []int

	// Per sub-chunk.
	curStart, curEnd int
	subChunk         SubChunkID
	more             bool
	generation       uint64
	cache            subChunkCache
	frames           frameCache
}

// New creates a cursor over the given measurement sets, positioned at the
// first sub-chunk of the first chunk.
func New(mss []*ms.MeasurementSet, opts Opts) (*ReadCursor, error) {
	if len(mss) == 0 {
		return nil, errors.E(errors.Invalid, "vi: no measurement sets")
	}
	if opts.RowBlocking < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("vi: negative row blocking %d", opts.RowBlocking))
	}
	chunks, err := msiter.New(mss, msiter.Opts{SortColumns: opts.SortColumns, Interval: opts.ChunkInterval})
	if err != nil {
		return nil, err
	}
	c := &ReadCursor{
		mss:         mss,
		chunks:      chunks,
		binder:      opts.Binder,
		calc:        opts.Calculator,
		rowBlocking: opts.RowBlocking,
		weightGen:   opts.WeightGenerator,
		msIndex:     -1,
	}
	if c.binder == nil {
		c.binder = DefaultBinder{}
	}
	if c.calc == nil {
		c.calc = frame.Helpers{}
	}
	chanSel, err := c.newChannelSelection(opts.ChannelSelections)
	if err != nil {
		return nil, err
	}
	if opts.FrequencySelection != nil {
		if err := opts.FrequencySelection.validate(); err != nil {
			return nil, err
		}
	}
	c.sel.active = selectionConfig{channels: chanSel, frequencies: opts.FrequencySelection}
	if err := c.OriginChunks(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ReadCursor) newChannelSelection(sels []ChannelSelection) (*ChannelSelectionState, error) {
	s := NewChannelSelectionState()
	for _, sel := range sels {
		if sel.MSIndex < 0 || sel.MSIndex >= len(c.mss) {
			return nil, invalidSelection("ms index %d out of range [0,%d)", sel.MSIndex, len(c.mss))
		}
		spw, err := c.mss[sel.MSIndex].SpectralWindow(sel.SpectralWindow)
		if err != nil {
			return nil, invalidSelection("%v", err)
		}
		if err := s.Set(sel.MSIndex, sel.SpectralWindow, sel.Window, spw.NumChannels()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetChannelSelection stages a new list of channel windows, replacing the
// current one. It takes effect at the next OriginChunks; until then the
// cursor refuses to move. An invalid list is rejected and nothing is staged.
func (c *ReadCursor) SetChannelSelection(sels []ChannelSelection) error {
	s, err := c.newChannelSelection(sels)
	if err != nil {
		return err
	}
	cfg := c.sel.next()
	cfg.channels = s
	c.sel.stage(cfg)
	return nil
}

// SetFrequencySelection stages a frequency selection, or clears it if sel is
// nil. Like SetChannelSelection it takes effect at the next OriginChunks.
func (c *ReadCursor) SetFrequencySelection(sel *FrequencySelection) error {
	if sel != nil {
		if err := sel.validate(); err != nil {
			return err
		}
		copied := *sel
		copied.Ranges = append([]FrequencyRange{}, sel.Ranges...)
		sel = &copied
	}
	cfg := c.sel.next()
	cfg.frequencies = sel
	c.sel.stage(cfg)
	return nil
}

// SetRowBlocking sets the sub-chunk row count; zero restores timestamp
// grouping. The current sub-chunk keeps its rows; the sub-chunk started by
// the next Advance or Origin uses the new count.
func (c *ReadCursor) SetRowBlocking(n int) error {
	if n < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("vi: negative row blocking %d", n))
	}
	c.rowBlocking = n
	return nil
}

// RowBlocking returns the sub-chunk row count, zero if sub-chunks group
// rows by timestamp.
func (c *ReadCursor) RowBlocking() int { return c.rowBlocking }

// OriginChunks applies any staged selection change and rewinds to the first
// sub-chunk of the first selected chunk.
func (c *ReadCursor) OriginChunks() error {
	if c.sel.commit() {
		log.Debug.Printf("vi: applied staged selection")
		// Channel tables are resolved per measurement set; force a rebind.
		c.msIndex = -1
	}
	c.chunks.Origin()
	return c.bindSelectedChunk()
}

// MoreChunks reports whether the cursor is bound to a chunk.
func (c *ReadCursor) MoreChunks() bool { return c.chunks.More() }

// NextChunk moves to the first sub-chunk of the next selected chunk.
func (c *ReadCursor) NextChunk() error {
	if c.sel.isPending() {
		return pendingChangeError("NextChunk")
	}
	if !c.chunks.More() {
		return nil
	}
	c.chunks.Next()
	return c.bindSelectedChunk()
}

// bindSelectedChunk skips chunks that the frequency selection excludes and
// binds the first remaining one.
func (c *ReadCursor) bindSelectedChunk() error {
	c.chunkBound = false
	c.more = false
	for ; c.chunks.More(); c.chunks.Next() {
		ok, err := c.bindChunk()
		if err != nil {
			return err
		}
		if ok {
			return c.origin()
		}
	}
	return nil
}

// bindChunk attaches the current chunk. It reports false if the chunk has no
// selected channels.
func (c *ReadCursor) bindChunk() (bool, error) {
	newMS := c.chunks.MSIndex() != c.msIndex
	if newMS {
		if err := c.bindMS(); err != nil {
			return false, err
		}
	}
	spw := c.chunks.SpectralWindow()
	spwChanged := newMS || c.chunks.NewSpectralWindow()
	c.nCorr = len(c.chunks.Polarization().CorrType)
	c.spw = spw
	c.derived.SetDirection(c.chunks.PhaseCenter())
	c.frames.clear()

	w, ok, err := c.resolveWindow()
	if err != nil || !ok {
		return false, err
	}
	c.window = w
	c.chanGroup = 0
	if spwChanged {
		if err := c.setTileCache(); err != nil {
			return false, err
		}
	}
	if err := c.updateSlicer(); err != nil {
		return false, err
	}
	c.chunkBound = true
	return true, nil
}

// bindMS is called on entering a new measurement set. The channel tables
// are resolved before any chunk of the set is bound.
func (c *ReadCursor) bindMS() error {
	c.msIndex = c.chunks.MSIndex()
	m := c.chunks.MS()
	cols, err := c.binder.Bind(m)
	if err != nil {
		return err
	}
	c.cols = cols
	c.sel.active.channels.Resolve(c.msIndex)
	c.existsWeightSpectrum = cols.Has(ms.WeightSpectrum)
	c.existsFlagCategory = cols.Has(ms.FlagCategory)
	c.derived = frame.NewDerivedValues(c.chunks.AntennaPositions(), c.chunks.AntennaMounts(), c.chunks.PhaseCenter())
	c.tileCacheSet = map[string]bool{}
	log.Debug.Printf("vi: ms %d (%s): weight spectrum %v, flag category %v", c.msIndex, m.Name, c.existsWeightSpectrum, c.existsFlagCategory)
	return nil
}

// resolveWindow computes the channel window of the current chunk.
func (c *ReadCursor) resolveWindow() (ChannelWindow, bool, error) {
	nChan := c.spw.NumChannels()
	fsel := c.sel.active.frequencies
	if fsel == nil {
		w := c.sel.active.channels.Window(c.chunks.SpectralWindowID(), nChan)
		return w, true, w.Validate(nChan)
	}
	freqs, err := c.convertFrequencies(c.spw.ChanFreq, fsel.Frame, c.chunks.Times()[0])
	if err != nil {
		return ChannelWindow{}, false, err
	}
	w, ok := fsel.resolve(c.msIndex, c.chunks.SpectralWindowID(), c.spw, freqs)
	return w, ok, nil
}

func (c *ReadCursor) convertFrequencies(freqs []float64, to frame.FreqFrame, t float64) ([]float64, error) {
	from, err := frame.ParseFreqFrame(c.spw.MeasFreqRef)
	if err != nil {
		return nil, err
	}
	if from == to {
		return append([]float64{}, freqs...), nil
	}
	conv := frame.NewFrequencyConverter(from, to, t, c.derived.ReferencePosition(), c.derived.Direction())
	return conv.ConvertAll(freqs), nil
}

// updateSlicer computes the slicers of the current channel group.
// Visibility-shaped cells are (correlation, channel); weight cells are
// (correlation).
func (c *ReadCursor) updateSlicer() error {
	flag := c.cols.Get(ms.Flag).Desc()
	weight := c.cols.Get(ms.Weight).Desc()
	if len(flag.Shape) != 2 || len(weight.Shape) != 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("vi: unexpected cell shapes %v (FLAG), %v (WEIGHT)", flag.Shape, weight.Shape))
	}
	if c.nCorr > flag.Shape[0] || c.spw.NumChannels() > flag.Shape[1] {
		return errors.E(errors.Invalid, fmt.Sprintf("vi: %d correlations x %d channels do not fit FLAG cells %v",
			c.nCorr, c.spw.NumChannels(), flag.Shape))
	}
	c.sliceCell = flag.Shape
	c.slicer = c.channelSlicer(flag.Shape)
	c.corrCell = weight.Shape
	c.corrSlicer = array.Full()
	if c.nCorr != weight.Shape[0] {
		c.corrSlicer = array.Slicer{Start: []int{0}, Length: []int{c.nCorr}, Stride: []int{1}}
	}
	return nil
}

// channelSlicer returns the slicer of the current channel group for cells of
// the given shape, whose first two axes are correlation and channel. Trailing
// axes, such as the category axis of FLAG_CATEGORY, are selected whole.
func (c *ReadCursor) channelSlicer(cell []int) array.Slicer {
	start := c.window.GroupStart(c.chanGroup)
	if len(cell) == 2 && cell[0] == c.nCorr && cell[1] == c.window.Width && start == 0 && c.window.Inc == 1 {
		return array.Full()
	}
	sl := array.ChannelSlicer(c.nCorr, start, c.window.Width, c.window.Inc)
	for _, n := range cell[2:] {
		sl.Start = append(sl.Start, 0)
		sl.Length = append(sl.Length, n)
		sl.Stride = append(sl.Stride, 1)
	}
	return sl
}

// slicerFor returns the channel slicer for a column with the given cell
// shape.
func (c *ReadCursor) slicerFor(cell []int) array.Slicer {
	if equalInts(cell, c.sliceCell) {
		return c.slicer
	}
	return c.channelSlicer(cell)
}

// weightSlicerFor returns the correlation slicer for a column with the
// given cell shape.
func (c *ReadCursor) weightSlicerFor(cell []int) array.Slicer {
	if equalInts(cell, c.corrCell) {
		return c.corrSlicer
	}
	if len(cell) == 1 && cell[0] == c.nCorr {
		return array.Full()
	}
	return array.Slicer{Start: []int{0}, Length: []int{c.nCorr}, Stride: []int{1}}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Origin rewinds to the first sub-chunk, and first channel group, of the
// current chunk. Calling it repeatedly is harmless.
func (c *ReadCursor) Origin() error {
	if c.sel.isPending() {
		return pendingChangeError("Origin")
	}
	if !c.chunkBound {
		return nil
	}
	if c.chanGroup != 0 {
		c.chanGroup = 0
		if err := c.updateSlicer(); err != nil {
			return err
		}
	}
	return c.origin()
}

func (c *ReadCursor) origin() error {
	c.curStart = 0
	c.subChunk = SubChunkID{Chunk: c.chunks.ChunkIndex(), SubChunk: 0}
	c.setSelTable()
	c.newSubChunk()
	return nil
}

// Advance moves to the next sub-chunk. When the rows of the chunk are
// exhausted it starts over with the next channel group; More turns false
// once every channel group has been walked. REQUIRES: More().
func (c *ReadCursor) Advance() error {
	if c.sel.isPending() {
		return pendingChangeError("Advance")
	}
	if !c.more {
		log.Panicf("vi: Advance past the end of chunk %d", c.subChunk.Chunk)
	}
	c.curStart = c.curEnd
	c.subChunk.SubChunk++
	if c.curStart >= len(c.chunks.Rows()) {
		if c.chanGroup+1 >= c.window.NGroups {
			c.more = false
			c.cache.clear()
			c.generation++
			return nil
		}
		c.chanGroup++
		if err := c.updateSlicer(); err != nil {
			return err
		}
		c.curStart = 0
	}
	c.setSelTable()
	c.newSubChunk()
	return nil
}

// setSelTable computes the row range of the sub-chunk starting at
// curStart: every following row with the same TIME, or exactly rowBlocking
// rows clipped to the chunk end.
func (c *ReadCursor) setSelTable() {
	times := c.chunks.Times()
	n := len(times)
	if c.rowBlocking > 0 {
		c.curEnd = c.curStart + c.rowBlocking
		if c.curEnd > n {
			c.curEnd = n
		}
		return
	}
	c.curEnd = c.curStart
	for c.curEnd < n && times[c.curEnd] == times[c.curStart] {
		c.curEnd++
	}
}

func (c *ReadCursor) newSubChunk() {
	c.cache.clear()
	c.generation++
	c.more = c.curStart < c.curEnd
}

// More reports whether the cursor is positioned at a sub-chunk.
func (c *ReadCursor) More() bool { return c.more }

// SubChunk returns the position of the cursor.
func (c *ReadCursor) SubChunk() SubChunkID { return c.subChunk }

// ChannelGroup returns the current channel group.
func (c *ReadCursor) ChannelGroup() int { return c.chanGroup }

// ChannelWindow returns the channel window of the current chunk.
func (c *ReadCursor) ChannelWindow() ChannelWindow { return c.window }

// RowRange returns the chunk-relative row range [start, end) of the current
// sub-chunk.
func (c *ReadCursor) RowRange() (start, end int) { return c.curStart, c.curEnd }

// MSIndex returns the index of the current measurement set.
func (c *ReadCursor) MSIndex() int { return c.msIndex }

// MS returns the current measurement set.
func (c *ReadCursor) MS() *ms.MeasurementSet { return c.mss[c.msIndex] }

// ArrayID returns the ARRAY_ID of the current chunk.
func (c *ReadCursor) ArrayID() int { return c.chunks.ArrayID() }

// FieldID returns the FIELD_ID of the current chunk.
func (c *ReadCursor) FieldID() int { return c.chunks.FieldID() }

// DataDescriptionID returns the DATA_DESC_ID of the current chunk.
func (c *ReadCursor) DataDescriptionID() int { return c.chunks.DataDescriptionID() }

// SpectralWindow returns the spectral window id of the current chunk.
func (c *ReadCursor) SpectralWindow() int { return c.chunks.SpectralWindowID() }

// PolarizationID returns the polarization setup of the current chunk.
func (c *ReadCursor) PolarizationID() int { return c.chunks.PolarizationID() }

// CorrelationTypes returns the correlation types of the current chunk.
func (c *ReadCursor) CorrelationTypes() []ms.CorrType { return c.chunks.Polarization().CorrType }

// NumCorrelations returns the number of correlations of the current chunk.
func (c *ReadCursor) NumCorrelations() int { return c.nCorr }

// NumChannels returns the number of channels in the current channel group.
func (c *ReadCursor) NumChannels() int { return c.window.Width }

// NumRows returns the number of rows in the current sub-chunk.
func (c *ReadCursor) NumRows() int { return c.curEnd - c.curStart }

// RowIDs returns the table row ids of the current sub-chunk. The caller must
// not modify the slice.
func (c *ReadCursor) RowIDs() []int { return c.chunks.Rows()[c.curStart:c.curEnd] }

// ChannelIDs returns the channel ids of the current channel group.
func (c *ReadCursor) ChannelIDs() []int { return c.window.Channels(c.chanGroup) }

// ExistsWeightSpectrum reports whether the current MS has WEIGHT_SPECTRUM.
func (c *ReadCursor) ExistsWeightSpectrum() bool { return c.existsWeightSpectrum }

// ExistsFlagCategory reports whether the current MS has FLAG_CATEGORY.
func (c *ReadCursor) ExistsFlagCategory() bool { return c.existsFlagCategory }

// DerivedValues returns the geometry of the current MS, with the phase
// center of the current chunk as reference direction.
func (c *ReadCursor) DerivedValues() *frame.DerivedValues { return c.derived }

// Columns returns the columns attached for the current MS.
func (c *ReadCursor) Columns() *Columns { return c.cols }

// checkReadable returns an error if the cursor may not be read from.
func (c *ReadCursor) checkReadable(op string) error {
	if c.sel.isPending() {
		return pendingChangeError(op)
	}
	if !c.more {
		return noSubChunkError(op)
	}
	return nil
}
