package vi

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/msvis/array"
	"github.com/grailbio/msvis/frame"
	"github.com/grailbio/msvis/ms"
	"github.com/grailbio/msvis/table/coltable"
	"github.com/grailbio/msvis/table/memtable"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWriter(t *testing.T, c *ReadCursor) *Writer {
	w, err := NewWriter(c, WriterOpts{Predictor: PointSourcePredictor{}})
	require.NoError(t, err)
	return w
}

func TestWriteFlagBroadcast(t *testing.T) {
	c := newCursor(t, Opts{RowBlocking: 2}, simulate(t, ms.SimulateOpts{
		Windows: []ms.SimulatedWindow{{NumChannels: 2, StartFreq: 1e9, ChanWidth: 1e6}},
	}))
	w := newWriter(t, c)
	_, err := c.Flag()
	require.NoError(t, err)

	m := array.NewMatrix[bool](2, 2)
	m.Set(0, 0, true)
	m.Set(1, 1, true)
	require.NoError(t, w.WriteFlag(m))

	cube, err := c.Flag()
	require.NoError(t, err)
	require.Equal(t, [3]int{2, 2, 2}, cube.Shape)
	for row := 0; row < 2; row++ {
		for ch := 0; ch < 2; ch++ {
			for corr := 0; corr < 2; corr++ {
				assert.Equal(t, m.At(ch, row), cube.At(corr, ch, row), "corr %d chan %d row %d", corr, ch, row)
			}
		}
	}
	flags, err := c.FlagChannels()
	require.NoError(t, err)
	assert.Equal(t, m, flags)

	// The next block is untouched.
	require.NoError(t, c.Advance())
	cube, err = c.Flag()
	require.NoError(t, err)
	for _, v := range cube.Data {
		assert.False(t, v)
	}
}

func TestFlagChannelsOr(t *testing.T) {
	c := newCursor(t, Opts{}, simulate(t, ms.SimulateOpts{}))
	w := newWriter(t, c)
	cube := array.NewCube[bool](2, 4, 3)
	cube.Set(1, 2, 0, true)
	cube.Set(0, 0, 1, true)
	cube.Set(1, 0, 1, true)
	cube.Set(0, 3, 2, true)
	require.NoError(t, w.WriteFlagCube(cube))

	got, err := c.Flag()
	require.NoError(t, err)
	assert.Equal(t, cube, got)
	flags, err := c.FlagChannels()
	require.NoError(t, err)
	for row := 0; row < 3; row++ {
		for ch := 0; ch < 4; ch++ {
			assert.Equal(t, cube.At(0, ch, row) || cube.At(1, ch, row), flags.At(ch, row))
		}
	}
}

func TestWriteRoundTrip(t *testing.T) {
	m := simulate(t, ms.SimulateOpts{Model: true, Corrected: true, WeightSpectrum: true, FlagCategories: 2})
	c := newCursor(t, Opts{
		ChannelSelections: []ChannelSelection{{Window: ChannelWindow{Start: 1, Width: 2, Inc: 1}}},
	}, m)
	w := newWriter(t, c)

	for _, col := range []DataColumn{Observed, Model, Corrected} {
		vis := array.NewCube[complex64](2, 2, 3)
		for i := range vis.Data {
			vis.Data[i] = complex(float32(i), float32(col))
		}
		require.NoError(t, w.WriteVis(vis, col))
		got, err := c.Visibility(col)
		require.NoError(t, err)
		assert.Equal(t, vis, got, col.String())
	}

	weight := array.NewMatrix[float32](2, 3)
	weight.Data = []float32{1, 2, 3, 4, 5, 6}
	require.NoError(t, w.WriteWeightMat(weight))
	got, err := c.Weight()
	require.NoError(t, err)
	assert.Equal(t, weight, got)

	require.NoError(t, w.WriteSigma([]float32{7, 8, 9}))
	sigma, err := c.Sigma()
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 7, 8, 8, 9, 9}, sigma.Data)

	spec := array.NewCube[float32](2, 2, 3)
	spec.Fill(0.5)
	require.NoError(t, w.WriteWeightSpectrum(spec))
	gotSpec, err := c.WeightSpectrum()
	require.NoError(t, err)
	assert.Equal(t, spec, gotSpec)

	require.NoError(t, w.WriteFlagRow([]bool{false, true, false}))
	flagRow, err := c.FlagRow()
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false}, flagRow)

	cat := array.NewArray4[bool](2, 2, 2, 3)
	cat.Set(1, 1, 1, 2, true)
	require.NoError(t, w.WriteFlagCategory(cat))
	gotCat, err := c.FlagCategory()
	require.NoError(t, err)
	assert.Equal(t, cat, gotCat)

	// Channels outside the selection keep their values.
	data, err := m.Main.Column(ms.Data)
	require.NoError(t, err)
	cell := make([]complex64, 8)
	require.NoError(t, data.GetComplex64s([]int{0}, array.Full(), cell))
	assert.Equal(t, ms.SimulatedVisibility(0, 0, 0), cell[0])
	assert.Equal(t, complex64(complex(0, 0)), cell[2])
	assert.Equal(t, ms.SimulatedVisibility(0, 1, 3), cell[7])
}

func TestWriteVisStokes(t *testing.T) {
	c := newCursor(t, Opts{}, simulate(t, ms.SimulateOpts{}))
	w := newWriter(t, c)
	stokes, err := c.VisibilityStokes(Observed)
	require.NoError(t, err)
	require.Equal(t, [2]int{4, 3}, stokes.Shape)
	s := stokes.At(2, 1)
	assert.Equal(t, ms.SimulatedVisibility(1, 0, 2), s[0])
	assert.Equal(t, ms.SimulatedVisibility(1, 1, 2), s[3])
	assert.Equal(t, complex64(0), s[1])

	next := stokes.Copy()
	for i := range next.Data {
		next.Data[i] = array.StokesVector{1, 0, 0, 2}
	}
	require.NoError(t, w.WriteVisStokes(next, Observed))
	vis, err := c.Visibility(Observed)
	require.NoError(t, err)
	assert.Equal(t, complex64(1), vis.At(0, 3, 2))
	assert.Equal(t, complex64(2), vis.At(1, 3, 2))
	got, err := c.VisibilityStokes(Observed)
	require.NoError(t, err)
	assert.Equal(t, next, got)

	err = w.WriteVisStokes(array.NewMatrix[array.StokesVector](3, 3), Observed)
	assert.True(t, IsInvalidSelection(err), "%v", err)
}

func TestWriteVisStokesSingleCorrelation(t *testing.T) {
	c := newCursor(t, Opts{}, simulate(t, ms.SimulateOpts{Polarizations: [][]ms.CorrType{{ms.StokesI}}}))
	w := newWriter(t, c)
	m := array.NewMatrix[array.StokesVector](4, 3)
	for i := range m.Data {
		m.Data[i] = array.StokesVector{2, 0, 0, 4}
	}
	require.NoError(t, w.WriteVisStokes(m, Observed))
	vis, err := c.Visibility(Observed)
	require.NoError(t, err)
	require.Equal(t, [3]int{1, 4, 3}, vis.Shape)
	for _, v := range vis.Data {
		assert.Equal(t, complex64(3), v)
	}
	stokes, err := c.VisibilityStokes(Observed)
	require.NoError(t, err)
	assert.Equal(t, array.StokesVector{3, 0, 0, 3}, stokes.At(0, 0))
}

func TestWriteFloatData(t *testing.T) {
	c := newCursor(t, Opts{}, simulate(t, ms.SimulateOpts{FloatData: true}))
	w := newWriter(t, c)
	vis := array.NewCube[complex64](2, 4, 3)
	vis.Fill(complex(5, 1))
	require.NoError(t, w.WriteVis(vis, Observed))
	fd, err := c.FloatData()
	require.NoError(t, err)
	for _, v := range fd.Data {
		assert.Equal(t, float32(5), v)
	}
	err = w.WriteVis(vis, Model)
	assert.True(t, IsSchemaMissing(err), "%v", err)
}

func TestWriteBack(t *testing.T) {
	m := simulate(t, ms.SimulateOpts{})
	main := m.Main.(*memtable.Table)
	c := newCursor(t, Opts{}, m)
	w := newWriter(t, c)

	b, err := c.NewVisBuffer()
	require.NoError(t, err)
	assert.Equal(t, SubChunkID{0, 0}, b.ID)
	b.Flags.Set(0, 1, 2, true)
	b.SetDirty(FlagCube{})
	b.SetDirty(FlagCube{})
	b.WeightMat.Fill(3)
	b.SetDirty(WeightMatComponent{})
	// Edited but not marked.
	b.Vis[Observed].Fill(0)
	assert.Equal(t, []DirtyComponent{FlagCube{}, WeightMatComponent{}}, b.Dirty())
	assert.True(t, b.IsDirty(WeightMatComponent{}))
	assert.False(t, b.IsDirty(VisCube{Observed}))

	dataReads := main.Reads(ms.Data)
	require.NoError(t, w.WriteBack(b))

	flags, err := c.Flag()
	require.NoError(t, err)
	assert.True(t, flags.At(0, 1, 2))
	weight, err := c.Weight()
	require.NoError(t, err)
	assert.Equal(t, float32(3), weight.At(1, 1))
	vis, err := c.Visibility(Observed)
	require.NoError(t, err)
	assert.Equal(t, ms.SimulatedVisibility(0, 1, 1), vis.At(1, 1, 0))
	// DATA was neither rewritten nor re-read.
	assert.Equal(t, dataReads, main.Reads(ms.Data))

	b.ClearDirty()
	b.Vis[Observed].Fill(1)
	b.SetDirty(VisCube{Observed})
	b.SetDirty(FlagRowComponent{})
	require.NoError(t, w.WriteBack(b))
	vis, err = c.Visibility(Observed)
	require.NoError(t, err)
	assert.Equal(t, complex64(1), vis.At(1, 1, 0))

	// A buffer of an earlier sub-chunk is rejected.
	require.NoError(t, c.Advance())
	err = w.WriteBack(b)
	assert.True(t, IsPendingChange(err), "%v", err)
	require.NoError(t, c.Origin())
	err = w.WriteBack(b)
	assert.True(t, IsPendingChange(err), "%v", err)
}

func TestWriteErrors(t *testing.T) {
	m := simulate(t, ms.SimulateOpts{})
	c := newCursor(t, Opts{}, m)
	w := newWriter(t, c)

	err := w.WriteWeightSpectrum(array.NewCube[float32](2, 4, 3))
	assert.True(t, IsSchemaMissing(err), "%v", err)
	err = w.WriteFlagCategory(array.NewArray4[bool](2, 4, 1, 3))
	assert.True(t, IsSchemaMissing(err), "%v", err)
	err = w.WriteVis(array.NewCube[complex64](2, 4, 3), Corrected)
	assert.True(t, IsSchemaMissing(err), "%v", err)

	err = w.WriteFlagCube(array.NewCube[bool](2, 3, 3))
	assert.True(t, IsInvalidSelection(err), "%v", err)
	err = w.WriteFlag(array.NewMatrix[bool](4, 2))
	assert.True(t, IsInvalidSelection(err), "%v", err)
	err = w.WriteWeight([]float32{1})
	assert.True(t, IsInvalidSelection(err), "%v", err)
	err = w.WriteSigmaMat(array.NewMatrix[float32](1, 3))
	assert.True(t, IsInvalidSelection(err), "%v", err)

	require.NoError(t, c.SetChannelSelection(nil))
	err = w.WriteFlagRow(make([]bool, 3))
	assert.True(t, IsPendingChange(err), "%v", err)

	m.Main.(*memtable.Table).SetReadOnly(true)
	_, err = NewWriter(c, WriterOpts{})
	assert.True(t, errors.Is(errors.NotAllowed, err), "%v", err)
}

func TestPutModel(t *testing.T) {
	m := simulate(t, ms.SimulateOpts{Model: true})
	c := newCursor(t, Opts{}, m)
	w := newWriter(t, c)
	center := c.chunks.PhaseCenter()
	rec := ModelRecord{Name: "point", Components: []PointSource{{Direction: center, Flux: [4]float64{1, 0, 0, 0}}}}
	require.NoError(t, w.PutModel(context.Background(), rec, true, false))
	model, err := c.Visibility(Model)
	require.NoError(t, err)
	for _, v := range model.Data {
		assert.InDelta(t, 1, real(v), 1e-6)
		assert.InDelta(t, 0, imag(v), 1e-6)
	}
	require.NoError(t, w.PutModel(context.Background(), rec, true, true))
	model, err = c.Visibility(Model)
	require.NoError(t, err)
	assert.InDelta(t, 2, real(model.At(1, 3, 2)), 1e-6)

	err = w.PutModel(context.Background(), ModelRecord{Image: "model.im"}, false, false)
	assert.True(t, errors.Is(errors.NotSupported, err), "%v", err)

	noPredictor, err := NewWriter(c, WriterOpts{})
	require.NoError(t, err)
	err = noPredictor.PutModel(context.Background(), rec, true, false)
	assert.True(t, errors.Is(errors.Precondition, err), "%v", err)

	// An offset source has unit amplitude and a baseline-dependent phase.
	off := rec
	off.Components = []PointSource{{Direction: frame.Direction{RA: center.RA + 1e-4, Dec: center.Dec}, Flux: [4]float64{1, 0, 0, 0}}}
	require.NoError(t, w.PutModel(context.Background(), off, true, false))
	model, err = c.Visibility(Model)
	require.NoError(t, err)
	for _, v := range model.Data {
		assert.InDelta(t, 1, real(v)*real(v)+imag(v)*imag(v), 1e-4)
	}
	assert.NotEqual(t, model.At(0, 0, 0), model.At(0, 0, 1))
}

func TestImagingWeights(t *testing.T) {
	c := newCursor(t, Opts{}, simulate(t, ms.SimulateOpts{}))
	_, err := c.ImagingWeights()
	assert.True(t, errors.Is(errors.Precondition, err), "%v", err)

	c.SetImagingWeightGenerator(NaturalWeights{})
	assert.Equal(t, NaturalWeighting, c.ImagingWeightGenerator().Scheme().Type)
	wt, err := c.ImagingWeights()
	require.NoError(t, err)
	assert.Equal(t, [2]int{4, 3}, wt.Shape)
	for _, v := range wt.Data {
		assert.Equal(t, float32(1), v)
	}

	w := newWriter(t, c)
	flags := array.NewMatrix[bool](4, 3)
	flags.Set(2, 1, true)
	require.NoError(t, w.WriteFlag(flags))
	wt, err = c.ImagingWeights()
	require.NoError(t, err)
	assert.Equal(t, float32(0), wt.At(2, 1))
	assert.Equal(t, float32(1), wt.At(1, 1))

	c.SetImagingWeightGenerator(RadialWeights{})
	wt, err = c.ImagingWeights()
	require.NoError(t, err)
	// Baseline 0 is 100 x 50 m; channel 0 is at 1.4 GHz.
	k := 1.4e9 / 299792458.0
	assert.InDelta(t, 111.803*k, float64(wt.At(0, 0)), 0.01)

	u, err := NewUniformWeights(0.01, nil)
	require.NoError(t, err)
	require.NoError(t, u.Accumulate(c))
	c.SetImagingWeightGenerator(u)
	wt, err = c.ImagingWeights()
	require.NoError(t, err)
	assert.InDelta(t, 1, float64(wt.At(0, 0)), 1e-6)

	_, err = NewUniformWeights(0, nil)
	assert.Error(t, err)
	typ, err := ParseWeightType("uniform")
	require.NoError(t, err)
	assert.Equal(t, UniformWeighting, typ)
}

func TestWriteFlushColtable(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	require.NoError(t, ms.Save(ctx, dir, simulate(t, ms.SimulateOpts{TileChannels: 2}), coltable.WriteOpts{RowsPerTile: 2}))

	m, err := ms.Open(ctx, dir, coltable.OpenOpts{})
	require.NoError(t, err)
	c := newCursor(t, Opts{}, m)
	w := newWriter(t, c)
	require.NoError(t, c.Advance())
	flags := array.NewMatrix[bool](4, 3)
	flags.Fill(true)
	require.NoError(t, w.WriteFlag(flags))
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, m.Close(ctx))

	m, err = ms.Open(ctx, dir, coltable.OpenOpts{ReadOnly: true})
	require.NoError(t, err)
	defer m.Close(ctx) // nolint: errcheck
	c = newCursor(t, Opts{}, m)
	var flagged []bool
	walk(t, c, func() {
		f, err := c.Flag()
		require.NoError(t, err)
		flagged = append(flagged, f.Data[0], f.Data[len(f.Data)-1])
	})
	assert.Equal(t, []bool{false, false, true, true}, flagged)
	_, err = NewWriter(c, WriterOpts{})
	assert.True(t, errors.Is(errors.NotAllowed, err), "%v", err)
}

func TestStorageError(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	require.NoError(t, ms.Save(ctx, dir, simulate(t, ms.SimulateOpts{}),
		coltable.WriteOpts{RowsPerTile: 2, Transformers: []string{}}))

	// Corrupt the first tile of FLAG. The recordio header block fills the
	// first 32KiB chunk; every chunk starts with a 28-byte header.
	path := filepath.Join(dir, "MAIN", ms.Flag+".col")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	const off = 32<<10 + 28
	require.True(t, len(data) > off+32)
	for i := off; i < off+32; i++ {
		data[i] ^= 0xff
	}
	require.NoError(t, os.WriteFile(path, data, 0644))

	m, err := ms.Open(ctx, dir, coltable.OpenOpts{ReadOnly: true})
	require.NoError(t, err)
	defer m.Close(ctx) // nolint: errcheck
	c := newCursor(t, Opts{}, m)
	_, flagErr := c.Flag()
	require.Error(t, flagErr)
	assert.False(t, IsPendingChange(flagErr))
	assert.False(t, IsSchemaMissing(flagErr))
	// The failure is not cached as a value.
	_, err = c.Flag()
	assert.Error(t, err)
	_, err = c.FlagChannels()
	assert.Error(t, err)

	// The cursor returns the storage error as the table reports it.
	mainTable, err := coltable.Open(ctx, filepath.Join(dir, "MAIN"), coltable.OpenOpts{ReadOnly: true})
	require.NoError(t, err)
	defer mainTable.Close(ctx) // nolint: errcheck
	col, err := mainTable.Column(ms.Flag)
	require.NoError(t, err)
	shape := col.Desc().Shape
	direct := col.GetBools(c.RowIDs(), array.Full(), make([]bool, shape[0]*shape[1]*c.NumRows()))
	require.Error(t, direct)
	assert.Equal(t, direct.Error(), flagErr.Error())

	// Other columns are unaffected.
	_, err = c.Weight()
	assert.NoError(t, err)
}
