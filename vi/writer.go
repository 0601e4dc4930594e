package vi

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/msvis/array"
	"github.com/grailbio/msvis/ms"
	"github.com/grailbio/msvis/table"
)

// WriterOpts configures a Writer.
type WriterOpts struct {
	// Predictor serves PutModel. Optional.
	Predictor ModelPredictor
}

// Writer writes data back through the row range and channel window of the
// current sub-chunk of a ReadCursor. Every write checks the shape of its
// argument against the current sub-chunk and never touches other columns.
type Writer struct {
	c         *ReadCursor
	predictor ModelPredictor
}

// NewWriter attaches a writer to c. Every MAIN table of the cursor must be
// writable.
func NewWriter(c *ReadCursor, opts WriterOpts) (*Writer, error) {
	for _, m := range c.mss {
		if !m.Main.Writable() {
			return nil, errors.E(errors.NotAllowed, fmt.Sprintf("vi: ms %s is read-only", m.Name))
		}
	}
	return &Writer{c: c, predictor: opts.Predictor}, nil
}

// Cursor returns the cursor the writer is attached to.
func (w *Writer) Cursor() *ReadCursor { return w.c }

// WriteBack writes every dirty component of b. The cursor must still be at
// the sub-chunk b was taken from. Components are written in the order they
// were marked; the first failure stops the write.
func (w *Writer) WriteBack(b *VisBuffer) error {
	c := w.c
	if err := c.checkReadable("WriteBack"); err != nil {
		return err
	}
	if b.ID != c.subChunk || b.generation != c.generation {
		return errors.E(errors.Precondition, fmt.Sprintf("vi: WriteBack: buffer of sub-chunk %v, cursor at %v", b.ID, c.subChunk))
	}
	for _, d := range b.dirty {
		var err error
		switch d := d.(type) {
		case FlagCube:
			err = w.WriteFlagCube(b.Flags)
		case FlagMatrix:
			err = w.WriteFlag(b.FlagChannels)
		case FlagRowComponent:
			err = w.WriteFlagRow(b.FlagRow)
		case FlagCategoryComponent:
			err = w.WriteFlagCategory(b.FlagCategory)
		case SigmaComponent:
			err = w.WriteSigma(b.Sigma)
		case SigmaMatComponent:
			err = w.WriteSigmaMat(b.SigmaMat)
		case WeightComponent:
			err = w.WriteWeight(b.Weight)
		case WeightMatComponent:
			err = w.WriteWeightMat(b.WeightMat)
		case WeightSpectrumComponent:
			err = w.WriteWeightSpectrum(b.WeightSpectrum)
		case VisCube:
			if err = checkDataColumn(d.Column); err == nil {
				err = w.WriteVis(b.Vis[d.Column], d.Column)
			}
		case VisMatrix:
			if err = checkDataColumn(d.Column); err == nil {
				err = w.WriteVisStokes(b.VisStokes[d.Column], d.Column)
			}
		default:
			log.Panicf("vi: unknown dirty component %T", d)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) column(op, name string) (table.Column, error) {
	if err := w.c.checkReadable(op); err != nil {
		return nil, err
	}
	col := w.c.cols.Get(name)
	if col == nil {
		return nil, schemaMissing(w.c.MS().Name, name)
	}
	return col, nil
}

func (w *Writer) checkCube(what string, shape [3]int) error {
	want := [3]int{w.c.nCorr, w.c.NumChannels(), w.c.NumRows()}
	if shape != want {
		return shapeError(what, shape, want)
	}
	return nil
}

func (w *Writer) checkCorrMatrix(what string, shape [2]int) error {
	want := [2]int{w.c.nCorr, w.c.NumRows()}
	if shape != want {
		return shapeError(what, shape, want)
	}
	return nil
}

func (w *Writer) checkRows(what string, n int) error {
	if n != w.c.NumRows() {
		return shapeError(what, n, w.c.NumRows())
	}
	return nil
}

// WriteFlagCube writes FLAG from a (correlation, channel, row) cube.
func (w *Writer) WriteFlagCube(flags array.Cube[bool]) error {
	col, err := w.column("WriteFlagCube", ms.Flag)
	if err != nil {
		return err
	}
	if err := w.checkCube("flag cube", flags.Shape); err != nil {
		return err
	}
	if err := col.PutBools(w.c.RowIDs(), w.c.slicerFor(col.Desc().Shape), flags.Data); err != nil {
		return err
	}
	w.c.cache.clearFlags()
	return nil
}

// WriteFlag writes FLAG from one flag per (channel, row). Every correlation
// of a channel gets the same value.
func (w *Writer) WriteFlag(flags array.Matrix[bool]) error {
	c := w.c
	if err := c.checkReadable("WriteFlag"); err != nil {
		return err
	}
	if want := [2]int{c.NumChannels(), c.NumRows()}; flags.Shape != want {
		return shapeError("flag matrix", flags.Shape, want)
	}
	cube := array.NewCube[bool](c.nCorr, flags.Shape[0], flags.Shape[1])
	for row := 0; row < flags.Shape[1]; row++ {
		for ch := 0; ch < flags.Shape[0]; ch++ {
			v := flags.At(ch, row)
			for corr := 0; corr < c.nCorr; corr++ {
				cube.Set(corr, ch, row, v)
			}
		}
	}
	return w.WriteFlagCube(cube)
}

// WriteFlagRow writes FLAG_ROW.
func (w *Writer) WriteFlagRow(flags []bool) error {
	col, err := w.column("WriteFlagRow", ms.FlagRow)
	if err != nil {
		return err
	}
	if err := w.checkRows("flag row", len(flags)); err != nil {
		return err
	}
	if err := col.PutBools(w.c.RowIDs(), array.Full(), flags); err != nil {
		return err
	}
	w.c.cache.flagRow.clear()
	w.c.cache.imaging.clear()
	return nil
}

// WriteFlagCategory writes FLAG_CATEGORY from a (correlation, channel,
// category, row) array.
func (w *Writer) WriteFlagCategory(flags array.Array4[bool]) error {
	col, err := w.column("WriteFlagCategory", ms.FlagCategory)
	if err != nil {
		return err
	}
	shape := col.Desc().Shape
	if len(shape) != 3 {
		return shapeError(ms.FlagCategory+" cell", shape, "[corr chan category]")
	}
	if want := [4]int{w.c.nCorr, w.c.NumChannels(), shape[2], w.c.NumRows()}; flags.Shape != want {
		return shapeError("flag category", flags.Shape, want)
	}
	if err := col.PutBools(w.c.RowIDs(), w.c.slicerFor(shape), flags.Data); err != nil {
		return err
	}
	w.c.cache.flagCategory.clear()
	return nil
}

// broadcast expands one value per row into a (correlation, row) matrix.
func broadcast(nCorr int, v []float32) array.Matrix[float32] {
	m := array.NewMatrix[float32](nCorr, len(v))
	for row, x := range v {
		col := m.Column(row)
		for i := range col {
			col[i] = x
		}
	}
	return m
}

func (w *Writer) writeCorr(op, name string, m array.Matrix[float32]) error {
	col, err := w.column(op, name)
	if err != nil {
		return err
	}
	if err := w.checkCorrMatrix(name, m.Shape); err != nil {
		return err
	}
	return col.PutFloat32s(w.c.RowIDs(), w.c.weightSlicerFor(col.Desc().Shape), m.Data)
}

// WriteSigma writes SIGMA from one value per row, applied to every
// correlation.
func (w *Writer) WriteSigma(sigma []float32) error {
	if err := w.checkRows("sigma", len(sigma)); err != nil {
		return err
	}
	return w.WriteSigmaMat(broadcast(w.c.nCorr, sigma))
}

// WriteSigmaMat writes SIGMA from a (correlation, row) matrix.
func (w *Writer) WriteSigmaMat(sigma array.Matrix[float32]) error {
	if err := w.writeCorr("WriteSigmaMat", ms.Sigma, sigma); err != nil {
		return err
	}
	w.c.cache.sigma.clear()
	return nil
}

// WriteWeight writes WEIGHT from one value per row, applied to every
// correlation.
func (w *Writer) WriteWeight(weight []float32) error {
	if err := w.checkRows("weight", len(weight)); err != nil {
		return err
	}
	return w.WriteWeightMat(broadcast(w.c.nCorr, weight))
}

// WriteWeightMat writes WEIGHT from a (correlation, row) matrix.
func (w *Writer) WriteWeightMat(weight array.Matrix[float32]) error {
	if err := w.writeCorr("WriteWeightMat", ms.Weight, weight); err != nil {
		return err
	}
	w.c.cache.clearWeights()
	return nil
}

// WriteWeightSpectrum writes WEIGHT_SPECTRUM from a (correlation, channel,
// row) cube.
func (w *Writer) WriteWeightSpectrum(spec array.Cube[float32]) error {
	col, err := w.column("WriteWeightSpectrum", ms.WeightSpectrum)
	if err != nil {
		return err
	}
	if err := w.checkCube("weight spectrum", spec.Shape); err != nil {
		return err
	}
	if err := col.PutFloat32s(w.c.RowIDs(), w.c.slicerFor(col.Desc().Shape), spec.Data); err != nil {
		return err
	}
	w.c.cache.clearWeights()
	return nil
}

// WriteVis writes one logical data column from a (correlation, channel,
// row) cube. Observed writes the real parts to FLOAT_DATA when the MS has
// no DATA column.
func (w *Writer) WriteVis(vis array.Cube[complex64], which DataColumn) error {
	c := w.c
	if err := checkDataColumn(which); err != nil {
		return err
	}
	if err := c.checkReadable("WriteVis"); err != nil {
		return err
	}
	name, ok := c.dataColumnName(which)
	if !ok {
		return schemaMissing(c.MS().Name, dataColumnNames[which])
	}
	if err := w.checkCube(name, vis.Shape); err != nil {
		return err
	}
	col := c.cols.Get(name)
	sl := c.slicerFor(col.Desc().Shape)
	var err error
	if name == ms.FloatData {
		re := make([]float32, len(vis.Data))
		for i, v := range vis.Data {
			re[i] = real(v)
		}
		err = col.PutFloat32s(c.RowIDs(), sl, re)
	} else {
		err = col.PutComplex64s(c.RowIDs(), sl, vis.Data)
	}
	if err != nil {
		return err
	}
	c.cache.clearVis(which)
	return nil
}

var dataColumnNames = [numDataColumns]string{ms.Data, ms.ModelData, ms.CorrectedData}

// WriteVisStokes writes one logical data column from one StokesVector per
// (channel, row). With two correlations elements 0 and 3 are written; a
// single correlation gets their mean.
func (w *Writer) WriteVisStokes(vis array.Matrix[array.StokesVector], which DataColumn) error {
	c := w.c
	if err := c.checkReadable("WriteVisStokes"); err != nil {
		return err
	}
	if want := [2]int{c.NumChannels(), c.NumRows()}; vis.Shape != want {
		return shapeError("stokes visibilities", vis.Shape, want)
	}
	nChan, nRows := vis.Shape[0], vis.Shape[1]
	cube := array.NewCube[complex64](c.nCorr, nChan, nRows)
	for row := 0; row < nRows; row++ {
		for ch := 0; ch < nChan; ch++ {
			s := vis.At(ch, row)
			switch c.nCorr {
			case 4:
				for corr := 0; corr < 4; corr++ {
					cube.Set(corr, ch, row, s[corr])
				}
			case 2:
				cube.Set(0, ch, row, s[0])
				cube.Set(1, ch, row, s[3])
			case 1:
				cube.Set(0, ch, row, (s[0]+s[3])/2)
			default:
				return shapeError("stokes visibilities", c.nCorr, "1, 2 or 4 correlations")
			}
		}
	}
	return w.WriteVis(cube, which)
}

// Flush flushes every MAIN table that buffers writes.
func (w *Writer) Flush(ctx context.Context) error {
	var once errors.Once
	for _, m := range w.c.mss {
		if f, ok := m.Main.(table.Flusher); ok {
			once.Set(f.Flush(ctx))
		}
	}
	return once.Err()
}
