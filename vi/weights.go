package vi

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/msvis/array"
	"github.com/grailbio/msvis/frame"
)

// WeightType is an imaging weight scheme.
type WeightType int

const (
	// NaturalWeighting uses the data weights unchanged.
	NaturalWeighting WeightType = iota
	// UniformWeighting divides the data weights by the local density of
	// samples in the uv plane.
	UniformWeighting
	// RadialWeighting scales the data weights by uv distance.
	RadialWeighting
)

func (t WeightType) String() string {
	switch t {
	case NaturalWeighting:
		return "natural"
	case UniformWeighting:
		return "uniform"
	case RadialWeighting:
		return "radial"
	}
	return fmt.Sprintf("weighttype%d", int(t))
}

// ParseWeightType is the inverse of WeightType.String.
func ParseWeightType(s string) (WeightType, error) {
	for _, t := range []WeightType{NaturalWeighting, UniformWeighting, RadialWeighting} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("vi: unknown weighting %q", s))
}

// Taper is a Gaussian uv-plane filter, specified by the FWHM of its image
// plane equivalent.
type Taper struct {
	// Major and Minor are FWHM on the sky, in radians.
	Major, Minor float64
	// PA is the position angle of the major axis, in radians.
	PA float64
}

// factor returns the taper at (u, v), in wavelengths.
func (t Taper) factor(u, v float64) float64 {
	s, c := math.Sincos(t.PA)
	// The major axis on the sky is the minor axis in the uv plane.
	ur := u*c - v*s
	vr := u*s + v*c
	k := math.Pi * math.Pi / (4 * math.Ln2)
	return math.Exp(-k * (t.Minor*t.Minor*ur*ur + t.Major*t.Major*vr*vr))
}

// WeightScheme describes how imaging weights are computed.
type WeightScheme struct {
	Type   WeightType
	Filter *Taper
}

// ImagingWeightGenerator computes imaging weights for the current sub-chunk.
type ImagingWeightGenerator interface {
	Scheme() WeightScheme
	// Weights returns one weight per (channel, row).
	Weights(c *ReadCursor) (array.Matrix[float32], error)
}

// SetImagingWeightGenerator replaces the generator behind ImagingWeights.
func (c *ReadCursor) SetImagingWeightGenerator(g ImagingWeightGenerator) {
	c.weightGen = g
	c.cache.imaging.clear()
}

// ImagingWeightGenerator returns the configured generator, nil if none.
func (c *ReadCursor) ImagingWeightGenerator() ImagingWeightGenerator { return c.weightGen }

// ImagingWeights returns one imaging weight per (channel, row), computed by
// the configured generator.
func (c *ReadCursor) ImagingWeights() (array.Matrix[float32], error) {
	if c.weightGen == nil {
		return array.Matrix[float32]{}, errors.E(errors.Precondition, "vi: ImagingWeights: no weight generator")
	}
	return lazy(c, "ImagingWeights", &c.cache.imaging, func() (array.Matrix[float32], error) {
		return c.weightGen.Weights(c)
	})
}

// dataWeights returns the mean unflagged data weight per (channel, row):
// WEIGHT_SPECTRUM if the MS has it, WEIGHT otherwise. Fully flagged samples
// and flagged rows get zero.
func dataWeights(c *ReadCursor) (array.Matrix[float32], error) {
	flags, err := c.Flag()
	if err != nil {
		return array.Matrix[float32]{}, err
	}
	flagRow, err := c.FlagRow()
	if err != nil {
		return array.Matrix[float32]{}, err
	}
	spec, err := c.WeightSpectrum()
	if err != nil {
		return array.Matrix[float32]{}, err
	}
	var weight array.Matrix[float32]
	if spec.Empty() {
		if weight, err = c.Weight(); err != nil {
			return array.Matrix[float32]{}, err
		}
	}
	nCorr, nChan, nRows := flags.Shape[0], flags.Shape[1], flags.Shape[2]
	m := array.NewMatrix[float32](nChan, nRows)
	for row := 0; row < nRows; row++ {
		if flagRow[row] {
			continue
		}
		for ch := 0; ch < nChan; ch++ {
			var sum float32
			n := 0
			for corr := 0; corr < nCorr; corr++ {
				if flags.At(corr, ch, row) {
					continue
				}
				if spec.Empty() {
					sum += weight.At(corr, row)
				} else {
					sum += spec.At(corr, ch, row)
				}
				n++
			}
			if n > 0 {
				m.Set(ch, row, sum/float32(n))
			}
		}
	}
	return m, nil
}

// uvWavelengths calls fn with the (u, v) coordinates of every (channel,
// row) sample, in wavelengths.
func uvWavelengths(c *ReadCursor, fn func(ch, row int, u, v float64)) error {
	uvw, err := c.UVW()
	if err != nil {
		return err
	}
	freqs, err := c.Frequency()
	if err != nil {
		return err
	}
	for row := 0; row < uvw.Shape[1]; row++ {
		for ch, f := range freqs {
			k := f / frame.SpeedOfLight
			fn(ch, row, uvw.At(0, row)*k, uvw.At(1, row)*k)
		}
	}
	return nil
}

func applyTaper(c *ReadCursor, t *Taper, m array.Matrix[float32]) error {
	if t == nil {
		return nil
	}
	return uvWavelengths(c, func(ch, row int, u, v float64) {
		m.Set(ch, row, m.At(ch, row)*float32(t.factor(u, v)))
	})
}

// NaturalWeights generates natural imaging weights.
type NaturalWeights struct {
	Filter *Taper
}

// Scheme implements ImagingWeightGenerator.
func (g NaturalWeights) Scheme() WeightScheme {
	return WeightScheme{Type: NaturalWeighting, Filter: g.Filter}
}

// Weights implements ImagingWeightGenerator.
func (g NaturalWeights) Weights(c *ReadCursor) (array.Matrix[float32], error) {
	m, err := dataWeights(c)
	if err != nil {
		return m, err
	}
	return m, applyTaper(c, g.Filter, m)
}

// RadialWeights scales natural weights by uv distance in wavelengths.
type RadialWeights struct {
	Filter *Taper
}

// Scheme implements ImagingWeightGenerator.
func (g RadialWeights) Scheme() WeightScheme {
	return WeightScheme{Type: RadialWeighting, Filter: g.Filter}
}

// Weights implements ImagingWeightGenerator.
func (g RadialWeights) Weights(c *ReadCursor) (array.Matrix[float32], error) {
	m, err := dataWeights(c)
	if err != nil {
		return m, err
	}
	if err := uvWavelengths(c, func(ch, row int, u, v float64) {
		m.Set(ch, row, m.At(ch, row)*float32(math.Hypot(u, v)))
	}); err != nil {
		return m, err
	}
	return m, applyTaper(c, g.Filter, m)
}

// UniformWeights divides natural weights by the summed weight of the uv
// cell each sample falls in. The density grid is built by a separate pass
// of Accumulate over every sub-chunk to be imaged.
type UniformWeights struct {
	// CellSize is the uv cell size, in wavelengths.
	CellSize float64
	Filter   *Taper

	density map[[2]int]float64
}

// NewUniformWeights creates a generator with an empty density grid.
func NewUniformWeights(cellSize float64, filter *Taper) (*UniformWeights, error) {
	if !(cellSize > 0) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("vi: uv cell size %v", cellSize))
	}
	return &UniformWeights{CellSize: cellSize, Filter: filter, density: map[[2]int]float64{}}, nil
}

// cell returns the uv cell of (u, v). Samples and their conjugates share a
// cell.
func (g *UniformWeights) cell(u, v float64) [2]int {
	if v < 0 || (v == 0 && u < 0) {
		u, v = -u, -v
	}
	return [2]int{int(math.Floor(u / g.CellSize)), int(math.Floor(v / g.CellSize))}
}

// Accumulate adds the natural weights of the current sub-chunk to the
// density grid.
func (g *UniformWeights) Accumulate(c *ReadCursor) error {
	m, err := dataWeights(c)
	if err != nil {
		return err
	}
	return uvWavelengths(c, func(ch, row int, u, v float64) {
		g.density[g.cell(u, v)] += float64(m.At(ch, row))
	})
}

// Scheme implements ImagingWeightGenerator.
func (g *UniformWeights) Scheme() WeightScheme {
	return WeightScheme{Type: UniformWeighting, Filter: g.Filter}
}

// Weights implements ImagingWeightGenerator.
func (g *UniformWeights) Weights(c *ReadCursor) (array.Matrix[float32], error) {
	m, err := dataWeights(c)
	if err != nil {
		return m, err
	}
	if err := uvWavelengths(c, func(ch, row int, u, v float64) {
		if d := g.density[g.cell(u, v)]; d > 0 {
			m.Set(ch, row, m.At(ch, row)/float32(d))
		}
	}); err != nil {
		return m, err
	}
	return m, applyTaper(c, g.Filter, m)
}
