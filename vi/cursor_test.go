package vi

import (
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/msvis/frame"
	"github.com/grailbio/msvis/ms"
	"github.com/grailbio/msvis/table/memtable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simulate(t *testing.T, opts ms.SimulateOpts) *ms.MeasurementSet {
	m, err := ms.Simulate(opts)
	require.NoError(t, err)
	return m
}

func newCursor(t *testing.T, opts Opts, mss ...*ms.MeasurementSet) *ReadCursor {
	c, err := New(mss, opts)
	require.NoError(t, err)
	return c
}

// walk visits every sub-chunk of every chunk.
func walk(t *testing.T, c *ReadCursor, fn func()) {
	require.NoError(t, c.OriginChunks())
	for c.MoreChunks() {
		require.NoError(t, c.Origin())
		for c.More() {
			fn()
			require.NoError(t, c.Advance())
		}
		require.NoError(t, c.NextChunk())
	}
}

func TestSubChunksByTime(t *testing.T) {
	c := newCursor(t, Opts{}, simulate(t, ms.SimulateOpts{}))
	require.True(t, c.MoreChunks())
	require.NoError(t, c.Origin())

	var (
		sizes []int
		ids   []SubChunkID
		times []float64
	)
	for c.More() {
		sizes = append(sizes, c.NumRows())
		ids = append(ids, c.SubChunk())
		tm, err := c.Time()
		require.NoError(t, err)
		for _, v := range tm {
			assert.Equal(t, tm[0], v)
		}
		times = append(times, tm[0])
		require.NoError(t, c.Advance())
	}
	assert.Equal(t, []int{3, 3}, sizes)
	assert.Equal(t, []SubChunkID{{0, 0}, {0, 1}}, ids)
	assert.Equal(t, []float64{4.9e9 + 5, 4.9e9 + 15}, times)
	assert.False(t, c.More())

	// Origin is idempotent.
	require.NoError(t, c.Origin())
	require.NoError(t, c.Origin())
	assert.True(t, c.More())
	assert.Equal(t, SubChunkID{0, 0}, c.SubChunk())
	assert.Equal(t, []int{0, 1, 2}, c.RowIDs())

	require.NoError(t, c.NextChunk())
	assert.False(t, c.MoreChunks())
	assert.False(t, c.More())
	_, err := c.Flag()
	assert.True(t, errors.Is(errors.Precondition, err), "%v", err)
}

func TestRowBlocking(t *testing.T) {
	c := newCursor(t, Opts{RowBlocking: 2}, simulate(t, ms.SimulateOpts{}))
	var (
		sizes    []int
		distinct []int
	)
	walk(t, c, func() {
		sizes = append(sizes, c.NumRows())
		tm, err := c.Time()
		require.NoError(t, err)
		n := map[float64]bool{}
		for _, v := range tm {
			n[v] = true
		}
		distinct = append(distinct, len(n))
	})
	assert.Equal(t, []int{2, 2, 2}, sizes)
	// Row blocks ignore timestamp boundaries.
	assert.Equal(t, []int{1, 2, 1}, distinct)

	require.NoError(t, c.SetRowBlocking(4))
	sizes = nil
	walk(t, c, func() { sizes = append(sizes, c.NumRows()) })
	assert.Equal(t, []int{4, 2}, sizes)

	// A change within a chunk applies from the next sub-chunk.
	require.NoError(t, c.SetRowBlocking(1))
	require.NoError(t, c.OriginChunks())
	require.NoError(t, c.Origin())
	assert.Equal(t, 1, c.NumRows())
	require.NoError(t, c.SetRowBlocking(3))
	assert.Equal(t, 1, c.NumRows())
	require.NoError(t, c.Advance())
	start, end := c.RowRange()
	assert.Equal(t, []int{1, 4}, []int{start, end})
	require.NoError(t, c.Origin())
	assert.Equal(t, 3, c.NumRows())

	assert.Error(t, c.SetRowBlocking(-1))
	_, err := New([]*ms.MeasurementSet{simulate(t, ms.SimulateOpts{})}, Opts{RowBlocking: -1})
	assert.Error(t, err)
}

func TestRowCoverage(t *testing.T) {
	m := simulate(t, ms.SimulateOpts{
		NumTimes:  4,
		NumFields: 2,
		Windows: []ms.SimulatedWindow{
			{NumChannels: 4, StartFreq: 1.4e9, ChanWidth: 1e6},
			{NumChannels: 8, StartFreq: 2e9, ChanWidth: 2e6},
		},
	})
	c := newCursor(t, Opts{}, m)
	seen := map[int]int{}
	nChunks := 0
	require.NoError(t, c.OriginChunks())
	for c.MoreChunks() {
		nChunks++
		var rows []int
		require.NoError(t, c.Origin())
		prev := -1.0
		for c.More() {
			rows = append(rows, c.RowIDs()...)
			tm, err := c.Time()
			require.NoError(t, err)
			assert.True(t, tm[0] > prev)
			prev = tm[0]
			require.NoError(t, c.Advance())
		}
		assert.Equal(t, c.chunks.Rows(), rows)
		for _, r := range rows {
			seen[r]++
		}
		require.NoError(t, c.NextChunk())
	}
	// 2 fields x 2 windows
	assert.Equal(t, 4, nChunks)
	assert.Len(t, seen, m.Main.NumRows())
	for r, n := range seen {
		assert.Equal(t, 1, n, "row %d", r)
	}
}

func TestVisibilityThroughSlicer(t *testing.T) {
	// The 4-channel window is stored in the leading corner of 8-channel
	// cells.
	m := simulate(t, ms.SimulateOpts{
		Windows: []ms.SimulatedWindow{
			{NumChannels: 4, StartFreq: 1.4e9, ChanWidth: 1e6},
			{NumChannels: 8, StartFreq: 2e9, ChanWidth: 2e6},
		},
		Model:     true,
		Corrected: true,
	})
	c := newCursor(t, Opts{}, m)
	var spws []int
	walk(t, c, func() {
		spws = append(spws, c.SpectralWindow())
		obs, err := c.Visibility(Observed)
		require.NoError(t, err)
		model, err := c.Visibility(Model)
		require.NoError(t, err)
		corr, err := c.Visibility(Corrected)
		require.NoError(t, err)
		nChan := m.SpectralWindows[c.SpectralWindow()].NumChannels()
		require.Equal(t, [3]int{2, nChan, c.NumRows()}, obs.Shape)
		for i, row := range c.RowIDs() {
			for ch, chanID := range c.ChannelIDs() {
				for p := 0; p < 2; p++ {
					want := ms.SimulatedVisibility(row, p, chanID)
					assert.Equal(t, want, obs.At(p, ch, i))
					assert.Equal(t, complex(real(want), -imag(want)), model.At(p, ch, i))
					assert.Equal(t, 2*want, corr.At(p, ch, i))
				}
			}
		}
	})
	assert.Equal(t, []int{0, 0, 1, 1}, spws)
}

func TestCacheCoherence(t *testing.T) {
	m := simulate(t, ms.SimulateOpts{WeightSpectrum: true})
	main := m.Main.(*memtable.Table)
	c := newCursor(t, Opts{}, m)

	v1, err := c.Visibility(Observed)
	require.NoError(t, err)
	f1, err := c.Flag()
	require.NoError(t, err)
	w1, err := c.WeightSpectrum()
	require.NoError(t, err)
	a1, err := c.Antenna1()
	require.NoError(t, err)
	reads := main.Reads(ms.Data)

	v2, err := c.Visibility(Observed)
	require.NoError(t, err)
	f2, err := c.Flag()
	require.NoError(t, err)
	w2, err := c.WeightSpectrum()
	require.NoError(t, err)
	a2, err := c.Antenna1()
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, f1, f2)
	assert.Equal(t, w1, w2)
	assert.Equal(t, a1, a2)
	assert.Equal(t, reads, main.Reads(ms.Data))

	require.NoError(t, c.Advance())
	_, err = c.Visibility(Observed)
	require.NoError(t, err)
	assert.Equal(t, reads+1, main.Reads(ms.Data))
}

func TestScalarGetters(t *testing.T) {
	c := newCursor(t, Opts{}, simulate(t, ms.SimulateOpts{}))
	a1, err := c.Antenna1()
	require.NoError(t, err)
	a2, err := c.Antenna2()
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 0, 1}, a1)
	assert.Equal(t, []int32{1, 2, 2}, a2)
	scan, err := c.Scan()
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 1, 1}, scan)
	iv, err := c.TimeInterval()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 10, 10}, iv)
	uvw, err := c.UVW()
	require.NoError(t, err)
	assert.Equal(t, [2]int{3, 3}, uvw.Shape)
	assert.Equal(t, 100.0, uvw.At(0, 0))
	assert.Equal(t, 50.0, uvw.At(1, 0))
	assert.Equal(t, 200.0, uvw.At(0, 1))
	w, err := c.Weight()
	require.NoError(t, err)
	assert.Equal(t, [2]int{2, 3}, w.Shape)
	assert.Equal(t, float32(1), w.At(1, 2))

	assert.Equal(t, 2, c.NumCorrelations())
	assert.Equal(t, 4, c.NumChannels())
	assert.Equal(t, []ms.CorrType{ms.CorrXX, ms.CorrYY}, c.CorrelationTypes())
	assert.Equal(t, 0, c.FieldID())
	assert.Equal(t, 0, c.DataDescriptionID())
	assert.Equal(t, 0, c.PolarizationID())
	assert.False(t, c.ExistsWeightSpectrum())
	assert.False(t, c.ExistsFlagCategory())

	spec, err := c.WeightSpectrum()
	require.NoError(t, err)
	assert.True(t, spec.Empty())
	cat, err := c.FlagCategory()
	require.NoError(t, err)
	assert.True(t, cat.Empty())
	model, err := c.Visibility(Model)
	require.NoError(t, err)
	assert.True(t, model.Empty())
}

func TestFloatDataPromotion(t *testing.T) {
	c := newCursor(t, Opts{}, simulate(t, ms.SimulateOpts{FloatData: true}))
	vis, err := c.Visibility(Observed)
	require.NoError(t, err)
	fd, err := c.FloatData()
	require.NoError(t, err)
	require.Equal(t, vis.Shape, fd.Shape)
	for i, row := range c.RowIDs() {
		for ch := 0; ch < 4; ch++ {
			for p := 0; p < 2; p++ {
				want := ms.SimulatedFloatData(row, p, ch)
				assert.Equal(t, want, fd.At(p, ch, i))
				assert.Equal(t, complex(want, 0), vis.At(p, ch, i))
			}
		}
	}
}

func TestFlagCategory(t *testing.T) {
	c := newCursor(t, Opts{
		ChannelSelections: []ChannelSelection{{Window: ChannelWindow{Start: 1, Width: 2, Inc: 1}}},
	}, simulate(t, ms.SimulateOpts{FlagCategories: 3}))
	assert.True(t, c.ExistsFlagCategory())
	cat, err := c.FlagCategory()
	require.NoError(t, err)
	assert.Equal(t, [4]int{2, 2, 3, 3}, cat.Shape)
}

func TestChannelSelection(t *testing.T) {
	c := newCursor(t, Opts{
		ChannelSelections: []ChannelSelection{{Window: ChannelWindow{Start: 1, Width: 2, Inc: 1}}},
	}, simulate(t, ms.SimulateOpts{}))
	f, err := c.Frequency()
	require.NoError(t, err)
	assert.Equal(t, []float64{1.401e9, 1.402e9}, f)
	assert.Equal(t, []int{1, 2}, c.ChannelIDs())
	assert.Equal(t, 2, c.NumChannels())

	vis, err := c.Visibility(Observed)
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 2, 3}, vis.Shape)
	assert.Equal(t, ms.SimulatedVisibility(1, 1, 2), vis.At(1, 1, 1))
	flags, err := c.FlagChannels()
	require.NoError(t, err)
	assert.Equal(t, [2]int{2, 3}, flags.Shape)
}

func TestChannelSelectionErrors(t *testing.T) {
	m := simulate(t, ms.SimulateOpts{})
	for _, sel := range []ChannelSelection{
		{Window: ChannelWindow{Start: 0, Width: 3, Inc: 2}},
		{Window: ChannelWindow{Start: 0, Width: 2, Inc: 0}},
		{SpectralWindow: 3, Window: ChannelWindow{Start: 0, Width: 1, Inc: 1}},
		{MSIndex: 1, Window: ChannelWindow{Start: 0, Width: 1, Inc: 1}},
	} {
		_, err := New([]*ms.MeasurementSet{m}, Opts{ChannelSelections: []ChannelSelection{sel}})
		assert.True(t, IsInvalidSelection(err), "%+v: %v", sel, err)
	}

	c := newCursor(t, Opts{}, m)
	err := c.SetChannelSelection([]ChannelSelection{{Window: ChannelWindow{Start: 0, Width: 5, Inc: 1}}})
	assert.True(t, IsInvalidSelection(err), "%v", err)
	// A rejected selection stages nothing.
	assert.NoError(t, c.Advance())
}

func TestChannelGroups(t *testing.T) {
	c := newCursor(t, Opts{
		ChannelSelections: []ChannelSelection{{Window: ChannelWindow{Start: 0, Width: 2, Inc: 1, NGroups: 2}}},
	}, simulate(t, ms.SimulateOpts{}))
	var (
		groups   [][]int
		freqs    [][]float64
		subChunk []int
	)
	walk(t, c, func() {
		groups = append(groups, c.ChannelIDs())
		f, err := c.Frequency()
		require.NoError(t, err)
		freqs = append(freqs, f)
		subChunk = append(subChunk, c.SubChunk().SubChunk)
	})
	assert.Equal(t, [][]int{{0, 1}, {0, 1}, {2, 3}, {2, 3}}, groups)
	assert.Equal(t, []float64{1.402e9, 1.403e9}, freqs[3])
	assert.Equal(t, []int{0, 1, 2, 3}, subChunk)

	// Strided selection.
	require.NoError(t, c.SetChannelSelection([]ChannelSelection{{Window: ChannelWindow{Start: 0, Width: 2, Inc: 2}}}))
	require.NoError(t, c.OriginChunks())
	assert.Equal(t, []int{0, 2}, c.ChannelIDs())
	vis, err := c.Visibility(Observed)
	require.NoError(t, err)
	assert.Equal(t, ms.SimulatedVisibility(0, 0, 2), vis.At(0, 1, 0))
}

func TestPendingSelection(t *testing.T) {
	c := newCursor(t, Opts{}, simulate(t, ms.SimulateOpts{}))
	require.NoError(t, c.SetChannelSelection([]ChannelSelection{{Window: ChannelWindow{Start: 2, Width: 2, Inc: 1}}}))
	assert.True(t, IsPendingChange(c.Advance()))
	assert.True(t, IsPendingChange(c.Origin()))
	assert.True(t, IsPendingChange(c.NextChunk()))
	_, err := c.Visibility(Observed)
	assert.True(t, IsPendingChange(err))
	// The old selection stays in effect until OriginChunks.
	assert.Equal(t, []int{0, 1, 2, 3}, c.ChannelIDs())

	require.NoError(t, c.OriginChunks())
	assert.Equal(t, []int{2, 3}, c.ChannelIDs())
	assert.NoError(t, c.Advance())
}

func TestFrequencySelection(t *testing.T) {
	c := newCursor(t, Opts{}, simulate(t, ms.SimulateOpts{
		Windows: []ms.SimulatedWindow{
			{NumChannels: 4, StartFreq: 1.4e9, ChanWidth: 1e6},
			{NumChannels: 4, StartFreq: 2e9, ChanWidth: 1e6},
		},
	}))
	require.NoError(t, c.SetFrequencySelection(&FrequencySelection{
		Frame:  frame.TOPO,
		Ranges: []FrequencyRange{{SpectralWindow: -1, Low: 1.4015e9, High: 1.4035e9}},
	}))
	assert.True(t, IsPendingChange(c.Advance()))
	require.NoError(t, c.OriginChunks())

	// Only the first window has matching channels.
	var spws []int
	walk(t, c, func() {
		spws = append(spws, c.SpectralWindow())
		assert.Equal(t, []int{2, 3}, c.ChannelIDs())
	})
	assert.Equal(t, []int{0, 0}, spws)

	// Tolerance widens the range to channel 1.
	require.NoError(t, c.SetFrequencySelection(&FrequencySelection{
		Frame:     frame.TOPO,
		Ranges:    []FrequencyRange{{SpectralWindow: 0, Low: 1.4015e9, High: 1.4035e9}},
		Tolerance: 0.6e6,
	}))
	require.NoError(t, c.OriginChunks())
	assert.Equal(t, []int{1, 2, 3}, c.ChannelIDs())

	// Auto-grouping by width.
	require.NoError(t, c.SetFrequencySelection(&FrequencySelection{
		Frame:      frame.TOPO,
		Ranges:     []FrequencyRange{{SpectralWindow: 1, Low: 2e9, High: 2.003e9}},
		GroupWidth: 2e6,
	}))
	require.NoError(t, c.OriginChunks())
	var groups [][]int
	walk(t, c, func() {
		assert.Equal(t, 1, c.SpectralWindow())
		groups = append(groups, c.ChannelIDs())
	})
	assert.Equal(t, [][]int{{0, 1}, {0, 1}, {2, 3}, {2, 3}}, groups)

	// Clearing the selection restores the full band.
	require.NoError(t, c.SetFrequencySelection(nil))
	require.NoError(t, c.OriginChunks())
	assert.Equal(t, []int{0, 1, 2, 3}, c.ChannelIDs())

	err := c.SetFrequencySelection(&FrequencySelection{Ranges: []FrequencyRange{{Low: 2, High: 1}}})
	assert.True(t, IsInvalidSelection(err))
}

func TestFrequencyIn(t *testing.T) {
	c := newCursor(t, Opts{}, simulate(t, ms.SimulateOpts{}))
	topo, err := c.FrequencyIn(frame.TOPO)
	require.NoError(t, err)
	f, err := c.Frequency()
	require.NoError(t, err)
	assert.Equal(t, f, topo)
	lsrk, err := c.FrequencyIn(frame.LSRK)
	require.NoError(t, err)
	require.Len(t, lsrk, 4)
	for i := range f {
		// The LSRK shift is at most a few parts in 1e4.
		assert.InDelta(t, f[i], lsrk[i], 1e-3*f[i])
		assert.NotEqual(t, f[i], lsrk[i])
	}
}

type countingCalculator struct {
	frame.Helpers
	parang, azel int
}

func (c *countingCalculator) Parang(t float64, d *frame.DerivedValues) []float64 {
	c.parang++
	return c.Helpers.Parang(t, d)
}

func (c *countingCalculator) Azel(t float64, d *frame.DerivedValues) []frame.AzEl {
	c.azel++
	return c.Helpers.Azel(t, d)
}

func TestFrameMemoization(t *testing.T) {
	calc := &countingCalculator{}
	c := newCursor(t, Opts{Calculator: calc}, simulate(t, ms.SimulateOpts{}))
	tm, err := c.Time()
	require.NoError(t, err)
	t0 := tm[0]

	p1 := c.Parang(t0)
	p2 := c.Parang(t0)
	assert.Equal(t, 1, calc.parang)
	assert.Equal(t, p1, p2)
	assert.Len(t, p1, 3)

	c.Parang(t0 + 10)
	assert.Equal(t, 2, calc.parang)
	c.Parang(t0 + 10)
	assert.Equal(t, 2, calc.parang)
	c.Parang(t0)
	assert.Equal(t, 3, calc.parang)

	// Editing a result leaves the memo intact.
	p3 := c.Parang(t0)
	p3[0] = 42
	assert.Equal(t, p1, c.Parang(t0))
	assert.Equal(t, 3, calc.parang)
	a := c.Azel(t0)
	a[0].El = 42
	assert.NotEqual(t, 42.0, c.Azel(t0)[0].El)
	f := c.FeedPA(t0)
	f[1] = 42
	assert.NotEqual(t, 42.0, c.FeedPA(t0)[1])

	// Memos are per getter and survive sub-chunk changes.
	assert.Equal(t, 1, calc.azel)
	require.NoError(t, c.Advance())
	c.Azel(t0)
	assert.Equal(t, 1, calc.azel)

	assert.Len(t, c.FeedPA(t0), 3)
	el := c.Azel0(t0).El
	assert.True(t, el > -1.6 && el < 1.6)
	assert.Equal(t, frame.HourangCalculate(t0, c.DerivedValues()), c.HourAngle(t0))
	assert.Equal(t, frame.Parang0Calculate(t0, c.DerivedValues()), c.Parang0(t0))
}

func TestTileCache(t *testing.T) {
	m := simulate(t, ms.SimulateOpts{
		TileChannels: 2,
		NumFields:    2,
		NumTimes:     4,
		Windows: []ms.SimulatedWindow{
			{NumChannels: 4, StartFreq: 1.4e9, ChanWidth: 1e6},
			{NumChannels: 2, StartFreq: 2e9, ChanWidth: 1e6},
		},
	})
	main := m.Main.(*memtable.Table)
	c := newCursor(t, Opts{}, m)
	// DATA, FLAG, WEIGHT, SIGMA and UVW are tiled.
	assert.Equal(t, 5, c.tileCacheUpdates)
	for name, want := range map[string]int{ms.Data: 2, ms.Flag: 2, ms.Weight: 1, ms.Sigma: 1, ms.UVW: 1} {
		sm, err := main.StorageManager(name)
		require.NoError(t, err)
		assert.Equal(t, want, sm.CacheSize(0), name)
	}
	// Untiled columns are left alone.
	sm, err := main.StorageManager(ms.Time)
	require.NoError(t, err)
	assert.False(t, sm.IsTiled())

	n := 0
	walk(t, c, func() { n++ })
	assert.Equal(t, 8, n)
	assert.Equal(t, 5, c.tileCacheUpdates)

	// A second MS gets its own settings.
	c = newCursor(t, Opts{}, m, simulate(t, ms.SimulateOpts{TileChannels: 2}))
	walk(t, c, func() {})
	assert.Equal(t, 10, c.tileCacheUpdates)
}

func TestMultipleMS(t *testing.T) {
	m0 := simulate(t, ms.SimulateOpts{Name: "a"})
	m1 := simulate(t, ms.SimulateOpts{Name: "b", Windows: []ms.SimulatedWindow{{NumChannels: 8, StartFreq: 1e9, ChanWidth: 1e6}}})
	c := newCursor(t, Opts{
		ChannelSelections: []ChannelSelection{{MSIndex: 1, Window: ChannelWindow{Start: 4, Width: 4, Inc: 1}}},
	}, m0, m1)
	var (
		names []string
		chans [][]int
	)
	require.NoError(t, c.OriginChunks())
	for c.MoreChunks() {
		names = append(names, c.MS().Name)
		chans = append(chans, c.ChannelIDs())
		require.NoError(t, c.NextChunk())
	}
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}}, chans)
}
