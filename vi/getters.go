package vi

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/msvis/array"
	"github.com/grailbio/msvis/frame"
	"github.com/grailbio/msvis/ms"
	"github.com/grailbio/msvis/table"
)

// The getters below return data for the rows of the current sub-chunk and
// the channels of the current channel group. Results are cached until the
// cursor moves, and share storage with the cache: callers that modify a
// result must Copy it first.
//
// Getters of optional columns (MODEL_DATA, CORRECTED_DATA, FLOAT_DATA,
// WEIGHT_SPECTRUM, FLAG_CATEGORY) return an empty array when the column is
// absent.

// lazy returns the cached entry e, computing it first if needed.
func lazy[T any](c *ReadCursor, op string, e *cached[T], compute func() (T, error)) (T, error) {
	var zero T
	if err := c.checkReadable(op); err != nil {
		return zero, err
	}
	if !e.ok {
		v, err := compute()
		if err != nil {
			return zero, err
		}
		e.set(v)
	}
	return e.v, nil
}

// readCube reads a (correlation, channel) column through the channel slicer.
func readCube[T any](c *ReadCursor, name string, get func(table.Column, []int, array.Slicer, []T) error) (array.Cube[T], error) {
	col := c.cols.Get(name)
	if col == nil {
		return array.Cube[T]{}, nil
	}
	cube := array.NewCube[T](c.nCorr, c.NumChannels(), c.NumRows())
	if err := get(col, c.RowIDs(), c.slicerFor(col.Desc().Shape), cube.Data); err != nil {
		return array.Cube[T]{}, err
	}
	return cube, nil
}

// readCorr reads a per-correlation column through the weight slicer.
func readCorr(c *ReadCursor, name string) (array.Matrix[float32], error) {
	col := c.cols.Get(name)
	if col == nil {
		return array.Matrix[float32]{}, schemaMissing(c.MS().Name, name)
	}
	m := array.NewMatrix[float32](c.nCorr, c.NumRows())
	if err := col.GetFloat32s(c.RowIDs(), c.weightSlicerFor(col.Desc().Shape), m.Data); err != nil {
		return array.Matrix[float32]{}, err
	}
	return m, nil
}

func (c *ReadCursor) requiredColumn(name string) (table.Column, error) {
	col := c.cols.Get(name)
	if col == nil {
		return nil, schemaMissing(c.MS().Name, name)
	}
	return col, nil
}

// Flag returns the flag cube, shaped (correlation, channel, row).
func (c *ReadCursor) Flag() (array.Cube[bool], error) {
	return lazy(c, "Flag", &c.cache.flagCube, func() (array.Cube[bool], error) {
		if _, err := c.requiredColumn(ms.Flag); err != nil {
			return array.Cube[bool]{}, err
		}
		return readCube(c, ms.Flag, table.Column.GetBools)
	})
}

// FlagChannels returns one flag per (channel, row): a channel is flagged if
// any of its correlations is.
func (c *ReadCursor) FlagChannels() (array.Matrix[bool], error) {
	return lazy(c, "FlagChannels", &c.cache.flagChannels, func() (array.Matrix[bool], error) {
		cube, err := c.Flag()
		if err != nil {
			return array.Matrix[bool]{}, err
		}
		m := array.NewMatrix[bool](cube.Shape[1], cube.Shape[2])
		for row := 0; row < cube.Shape[2]; row++ {
			for ch := 0; ch < cube.Shape[1]; ch++ {
				for corr := 0; corr < cube.Shape[0]; corr++ {
					if cube.At(corr, ch, row) {
						m.Set(ch, row, true)
						break
					}
				}
			}
		}
		return m, nil
	})
}

// FlagRow returns FLAG_ROW.
func (c *ReadCursor) FlagRow() ([]bool, error) {
	return lazy(c, "FlagRow", &c.cache.flagRow, func() ([]bool, error) {
		col, err := c.requiredColumn(ms.FlagRow)
		if err != nil {
			return nil, err
		}
		v := make([]bool, c.NumRows())
		return v, col.GetBools(c.RowIDs(), array.Full(), v)
	})
}

// FlagCategory returns FLAG_CATEGORY, shaped (correlation, channel,
// category, row).
func (c *ReadCursor) FlagCategory() (array.Array4[bool], error) {
	return lazy(c, "FlagCategory", &c.cache.flagCategory, func() (array.Array4[bool], error) {
		col := c.cols.Get(ms.FlagCategory)
		if col == nil {
			return array.Array4[bool]{}, nil
		}
		shape := col.Desc().Shape
		if len(shape) != 3 {
			return array.Array4[bool]{}, shapeError(ms.FlagCategory+" cell", shape, "[corr chan category]")
		}
		a := array.NewArray4[bool](c.nCorr, c.NumChannels(), shape[2], c.NumRows())
		if err := col.GetBools(c.RowIDs(), c.slicerFor(shape), a.Data); err != nil {
			return array.Array4[bool]{}, err
		}
		return a, nil
	})
}

// dataColumnName returns the MS column backing a logical data column, and
// false if it does not exist in the current MS.
func (c *ReadCursor) dataColumnName(col DataColumn) (string, bool) {
	switch col {
	case Observed:
		if c.cols.Has(ms.Data) {
			return ms.Data, true
		}
		return ms.FloatData, c.cols.Has(ms.FloatData)
	case Model:
		return ms.ModelData, c.cols.Has(ms.ModelData)
	case Corrected:
		return ms.CorrectedData, c.cols.Has(ms.CorrectedData)
	}
	return "", false
}

func checkDataColumn(col DataColumn) error {
	if col < 0 || col >= numDataColumns {
		return errors.E(errors.Invalid, fmt.Sprintf("vi: unknown data column %v", col))
	}
	return nil
}

// Visibility returns the visibility cube of one logical data column, shaped
// (correlation, channel, row). Observed reads FLOAT_DATA, as complex values
// with zero imaginary part, when the MS has no DATA column.
func (c *ReadCursor) Visibility(which DataColumn) (array.Cube[complex64], error) {
	if err := checkDataColumn(which); err != nil {
		return array.Cube[complex64]{}, err
	}
	return lazy(c, "Visibility", &c.cache.vis[which], func() (array.Cube[complex64], error) {
		name, ok := c.dataColumnName(which)
		switch {
		case !ok:
			return array.Cube[complex64]{}, nil
		case name == ms.FloatData:
			f, err := c.FloatData()
			if err != nil {
				return array.Cube[complex64]{}, err
			}
			v := array.Cube[complex64]{Shape: f.Shape, Data: make([]complex64, len(f.Data))}
			for i, x := range f.Data {
				v.Data[i] = complex(x, 0)
			}
			return v, nil
		}
		return readCube(c, name, table.Column.GetComplex64s)
	})
}

// VisibilityStokes returns the visibilities of one data column as one
// StokesVector per (channel, row). With two correlations they fill elements
// 0 and 3; a single correlation fills both.
func (c *ReadCursor) VisibilityStokes(which DataColumn) (array.Matrix[array.StokesVector], error) {
	if err := checkDataColumn(which); err != nil {
		return array.Matrix[array.StokesVector]{}, err
	}
	return lazy(c, "VisibilityStokes", &c.cache.visStokes[which], func() (array.Matrix[array.StokesVector], error) {
		cube, err := c.Visibility(which)
		if err != nil || cube.Empty() {
			return array.Matrix[array.StokesVector]{}, err
		}
		nCorr, nChan, nRows := cube.Shape[0], cube.Shape[1], cube.Shape[2]
		m := array.NewMatrix[array.StokesVector](nChan, nRows)
		for row := 0; row < nRows; row++ {
			for ch := 0; ch < nChan; ch++ {
				var s array.StokesVector
				switch nCorr {
				case 4:
					for corr := 0; corr < 4; corr++ {
						s[corr] = cube.At(corr, ch, row)
					}
				case 2:
					s[0], s[3] = cube.At(0, ch, row), cube.At(1, ch, row)
				case 1:
					s[0] = cube.At(0, ch, row)
					s[3] = s[0]
				default:
					return array.Matrix[array.StokesVector]{}, shapeError("stokes visibilities", nCorr, "1, 2 or 4 correlations")
				}
				m.Set(ch, row, s)
			}
		}
		return m, nil
	})
}

// FloatData returns FLOAT_DATA, shaped (correlation, channel, row).
func (c *ReadCursor) FloatData() (array.Cube[float32], error) {
	return lazy(c, "FloatData", &c.cache.floatData, func() (array.Cube[float32], error) {
		return readCube(c, ms.FloatData, table.Column.GetFloat32s)
	})
}

// UVW returns the baseline coordinates in meters, shaped (3, row).
func (c *ReadCursor) UVW() (array.Matrix[float64], error) {
	return lazy(c, "UVW", &c.cache.uvw, func() (array.Matrix[float64], error) {
		col, err := c.requiredColumn(ms.UVW)
		if err != nil {
			return array.Matrix[float64]{}, err
		}
		m := array.NewMatrix[float64](3, c.NumRows())
		if err := col.GetFloat64s(c.RowIDs(), array.Full(), m.Data); err != nil {
			return array.Matrix[float64]{}, err
		}
		return m, nil
	})
}

// Weight returns WEIGHT, shaped (correlation, row).
func (c *ReadCursor) Weight() (array.Matrix[float32], error) {
	return lazy(c, "Weight", &c.cache.weight, func() (array.Matrix[float32], error) {
		return readCorr(c, ms.Weight)
	})
}

// Sigma returns SIGMA, shaped (correlation, row).
func (c *ReadCursor) Sigma() (array.Matrix[float32], error) {
	return lazy(c, "Sigma", &c.cache.sigma, func() (array.Matrix[float32], error) {
		return readCorr(c, ms.Sigma)
	})
}

// WeightSpectrum returns WEIGHT_SPECTRUM, shaped (correlation, channel,
// row).
func (c *ReadCursor) WeightSpectrum() (array.Cube[float32], error) {
	return lazy(c, "WeightSpectrum", &c.cache.weightSpec, func() (array.Cube[float32], error) {
		return readCube(c, ms.WeightSpectrum, table.Column.GetFloat32s)
	})
}

// Frequency returns the channel frequencies of the current channel group,
// in the frame of the spectral window.
func (c *ReadCursor) Frequency() ([]float64, error) {
	return lazy(c, "Frequency", &c.cache.frequency, func() ([]float64, error) {
		ids := c.ChannelIDs()
		f := make([]float64, len(ids))
		for i, ch := range ids {
			f[i] = c.spw.ChanFreq[ch]
		}
		return f, nil
	})
}

// FrequencyIn returns the channel frequencies converted to the given frame
// at the time of the first row of the sub-chunk, as seen from the array
// reference position toward the phase center.
func (c *ReadCursor) FrequencyIn(to frame.FreqFrame) ([]float64, error) {
	f, err := c.Frequency()
	if err != nil {
		return nil, err
	}
	t, err := c.Time()
	if err != nil {
		return nil, err
	}
	return c.convertFrequencies(f, to, t[0])
}

func (c *ReadCursor) int32Column(op, name string) ([]int32, error) {
	if err := c.checkReadable(op); err != nil {
		return nil, err
	}
	if v, ok := c.cache.int32s[name]; ok {
		return v, nil
	}
	col, err := c.requiredColumn(name)
	if err != nil {
		return nil, err
	}
	v := make([]int32, c.NumRows())
	if err := col.GetInt32s(c.RowIDs(), v); err != nil {
		return nil, err
	}
	if c.cache.int32s == nil {
		c.cache.int32s = map[string][]int32{}
	}
	c.cache.int32s[name] = v
	return v, nil
}

func (c *ReadCursor) float64Column(op, name string) ([]float64, error) {
	if err := c.checkReadable(op); err != nil {
		return nil, err
	}
	if v, ok := c.cache.float64s[name]; ok {
		return v, nil
	}
	col, err := c.requiredColumn(name)
	if err != nil {
		return nil, err
	}
	v := make([]float64, c.NumRows())
	if err := col.GetFloat64s(c.RowIDs(), array.Full(), v); err != nil {
		return nil, err
	}
	if c.cache.float64s == nil {
		c.cache.float64s = map[string][]float64{}
	}
	c.cache.float64s[name] = v
	return v, nil
}

// Time returns TIME, in MJD seconds.
func (c *ReadCursor) Time() ([]float64, error) { return c.float64Column("Time", ms.Time) }

// TimeCentroid returns TIME_CENTROID.
func (c *ReadCursor) TimeCentroid() ([]float64, error) {
	return c.float64Column("TimeCentroid", ms.TimeCentroid)
}

// TimeInterval returns INTERVAL, in seconds.
func (c *ReadCursor) TimeInterval() ([]float64, error) {
	return c.float64Column("TimeInterval", ms.Interval)
}

// Exposure returns EXPOSURE, in seconds.
func (c *ReadCursor) Exposure() ([]float64, error) { return c.float64Column("Exposure", ms.Exposure) }

// Antenna1 returns ANTENNA1.
func (c *ReadCursor) Antenna1() ([]int32, error) { return c.int32Column("Antenna1", ms.Antenna1) }

// Antenna2 returns ANTENNA2.
func (c *ReadCursor) Antenna2() ([]int32, error) { return c.int32Column("Antenna2", ms.Antenna2) }

// Feed1 returns FEED1.
func (c *ReadCursor) Feed1() ([]int32, error) { return c.int32Column("Feed1", ms.Feed1) }

// Feed2 returns FEED2.
func (c *ReadCursor) Feed2() ([]int32, error) { return c.int32Column("Feed2", ms.Feed2) }

// Scan returns SCAN_NUMBER.
func (c *ReadCursor) Scan() ([]int32, error) { return c.int32Column("Scan", ms.ScanNumber) }

// ObservationID returns OBSERVATION_ID.
func (c *ReadCursor) ObservationID() ([]int32, error) {
	return c.int32Column("ObservationID", ms.ObservationID)
}

// ProcessorID returns PROCESSOR_ID.
func (c *ReadCursor) ProcessorID() ([]int32, error) {
	return c.int32Column("ProcessorID", ms.ProcessorID)
}

// StateID returns STATE_ID.
func (c *ReadCursor) StateID() ([]int32, error) { return c.int32Column("StateID", ms.StateID) }
