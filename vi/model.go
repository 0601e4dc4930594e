package vi

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/msvis/array"
	"github.com/grailbio/msvis/frame"
	"github.com/grailbio/msvis/ms"
)

// PointSource is one component of a sky model.
type PointSource struct {
	Direction frame.Direction
	// Flux is the Stokes (I, Q, U, V) flux density in Jy at RefFrequency.
	Flux          [4]float64
	RefFrequency  float64
	SpectralIndex float64
}

// ModelRecord describes a sky model: a list of components, or the name of
// a model image that only an external predictor can interpret.
type ModelRecord struct {
	Name       string
	Components []PointSource
	Image      string
}

// ModelTarget is the part of the MS a model prediction writes: every row of
// the current chunk, over every channel of its channel selection.
type ModelTarget struct {
	MS             *ms.MeasurementSet
	MSIndex        int
	FieldID        int
	SpectralWindow int
	Window         ChannelWindow
	Rows           []int
	CorrTypes      []ms.CorrType
	PhaseCenter    frame.Direction
}

// Channels returns every channel of the target window, over all groups.
func (t ModelTarget) Channels() []int {
	var ch []int
	for g := 0; g < t.Window.NGroups; g++ {
		ch = append(ch, t.Window.Channels(g)...)
	}
	return ch
}

// ModelPredictor computes model visibilities into MODEL_DATA.
type ModelPredictor interface {
	PredictModel(ctx context.Context, target ModelTarget, rec ModelRecord, isComponentList, incremental bool) error
}

// PutModel predicts rec into MODEL_DATA for the current chunk using the
// writer's predictor. With incremental set the prediction is added to the
// existing model.
func (w *Writer) PutModel(ctx context.Context, rec ModelRecord, isComponentList, incremental bool) error {
	c := w.c
	if c.sel.isPending() {
		return pendingChangeError("PutModel")
	}
	if !c.chunkBound {
		return noSubChunkError("PutModel")
	}
	if w.predictor == nil {
		return errors.E(errors.Precondition, "vi: PutModel: no model predictor")
	}
	target := ModelTarget{
		MS:             c.MS(),
		MSIndex:        c.msIndex,
		FieldID:        c.FieldID(),
		SpectralWindow: c.SpectralWindow(),
		Window:         c.window,
		Rows:           c.chunks.Rows(),
		CorrTypes:      c.CorrelationTypes(),
		PhaseCenter:    c.chunks.PhaseCenter(),
	}
	if err := w.predictor.PredictModel(ctx, target, rec, isComponentList, incremental); err != nil {
		return err
	}
	c.cache.clearVis(Model)
	return nil
}

// PointSourcePredictor evaluates component lists of point sources directly
// into MODEL_DATA. It does not handle model images.
type PointSourcePredictor struct{}

// stokesToCorr returns the correlation product of corr for Stokes flux s.
func stokesToCorr(corr ms.CorrType, s [4]float64) complex128 {
	i, q, u, v := s[0], s[1], s[2], s[3]
	switch corr {
	case ms.StokesI:
		return complex(i, 0)
	case ms.StokesQ:
		return complex(q, 0)
	case ms.StokesU:
		return complex(u, 0)
	case ms.StokesV:
		return complex(v, 0)
	case ms.CorrRR:
		return complex(i+v, 0)
	case ms.CorrRL:
		return complex(q, u)
	case ms.CorrLR:
		return complex(q, -u)
	case ms.CorrLL:
		return complex(i-v, 0)
	case ms.CorrXX:
		return complex(i+q, 0)
	case ms.CorrXY:
		return complex(u, v)
	case ms.CorrYX:
		return complex(u, -v)
	case ms.CorrYY:
		return complex(i-q, 0)
	}
	return 0
}

// directionCosines returns (l, m, n-1) of d relative to the phase center.
func directionCosines(d, center frame.Direction) (l, m, n1 float64) {
	sd, cd := math.Sincos(d.Dec)
	s0, c0 := math.Sincos(center.Dec)
	sa, ca := math.Sincos(d.RA - center.RA)
	l = cd * sa
	m = sd*c0 - cd*s0*ca
	n1 = math.Sqrt(1-l*l-m*m) - 1
	return
}

// PredictModel implements ModelPredictor.
func (PointSourcePredictor) PredictModel(ctx context.Context, target ModelTarget, rec ModelRecord, isComponentList, incremental bool) error {
	if !isComponentList {
		return errors.E(errors.NotSupported, fmt.Sprintf("vi: model image %q", rec.Image))
	}
	main := target.MS.Main
	col, err := main.Column(ms.ModelData)
	if err != nil {
		return schemaMissing(target.MS.Name, ms.ModelData)
	}
	uvwCol, err := main.Column(ms.UVW)
	if err != nil {
		return err
	}
	spw, err := target.MS.SpectralWindow(target.SpectralWindow)
	if err != nil {
		return err
	}
	chans := target.Channels()
	nCorr, nChan, nRows := len(target.CorrTypes), len(chans), len(target.Rows)
	sl := array.ChannelSlicer(nCorr, target.Window.Start, nChan, target.Window.Inc)
	if shape := col.Desc().Shape; len(shape) == 2 && shape[0] == nCorr && shape[1] == nChan && target.Window.Start == 0 && target.Window.Inc == 1 {
		sl = array.Full()
	}
	uvw := array.NewMatrix[float64](3, nRows)
	if err := uvwCol.GetFloat64s(target.Rows, array.Full(), uvw.Data); err != nil {
		return err
	}
	model := array.NewCube[complex64](nCorr, nChan, nRows)
	if incremental {
		if err := col.GetComplex64s(target.Rows, sl, model.Data); err != nil {
			return err
		}
	}
	for _, src := range rec.Components {
		l, m, n1 := directionCosines(src.Direction, target.PhaseCenter)
		for ch, chanID := range chans {
			f := spw.ChanFreq[chanID]
			scale := 1.0
			if src.RefFrequency > 0 && src.SpectralIndex != 0 {
				scale = math.Pow(f/src.RefFrequency, src.SpectralIndex)
			}
			k := -2 * math.Pi * f / frame.SpeedOfLight
			for row := 0; row < nRows; row++ {
				phase := k * (uvw.At(0, row)*l + uvw.At(1, row)*m + uvw.At(2, row)*n1)
				sp, cp := math.Sincos(phase)
				for corr, ct := range target.CorrTypes {
					v := complex64(stokesToCorr(ct, src.Flux) * complex(scale*cp, scale*sp))
					model.Set(corr, ch, row, model.At(corr, ch, row)+v)
				}
			}
		}
	}
	log.Debug.Printf("vi: predicted %d components into %d rows x %d channels of %s", len(rec.Components), nRows, nChan, target.MS.Name)
	return col.PutComplex64s(target.Rows, sl, model.Data)
}
