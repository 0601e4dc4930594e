package ms

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/msvis/array"
	"github.com/grailbio/msvis/table"
	"github.com/grailbio/msvis/table/memtable"
)

// VLACenter is the ITRF position of the VLA array center, in meters.
var VLACenter = [3]float64{-1601185.4, -5041977.5, 3554875.9}

// SimulatedWindow describes one spectral window of a simulated MS.
type SimulatedWindow struct {
	NumChannels int
	// StartFreq is the center frequency of channel 0, in Hz.
	StartFreq float64
	ChanWidth float64
	// MeasFreqRef defaults to "TOPO".
	MeasFreqRef string
}

// SimulateOpts controls Simulate. The zero value produces the layout used
// throughout the tests: 3 antennas, 2 timestamps, one 4-channel window and
// XX/YY polarizations.
type SimulateOpts struct {
	Name string
	// NumAntennas defaults to 3.
	NumAntennas int
	// Autocorrelations adds the a1 == a2 baselines.
	Autocorrelations bool
	// NumTimes defaults to 2.
	NumTimes int
	// StartTime, in MJD seconds, defaults to 4.9e9 (2014-02-03).
	StartTime float64
	// IntegrationTime defaults to 10 seconds.
	IntegrationTime float64
	// Windows defaults to one window of 4 channels starting at 1.4 GHz, 1 MHz
	// wide.
	Windows []SimulatedWindow
	// Polarizations lists the polarization setups. Defaults to {{XX, YY}}.
	// Spectral window i uses polarization setup i % len(Polarizations).
	Polarizations [][]CorrType
	// NumFields defaults to 1. Timestamp t observes field t % NumFields.
	NumFields int
	// FloatData stores FLOAT_DATA instead of DATA.
	FloatData bool
	// Model and Corrected add MODEL_DATA and CORRECTED_DATA.
	Model, Corrected bool
	// WeightSpectrum adds WEIGHT_SPECTRUM.
	WeightSpectrum bool
	// FlagCategories > 0 adds FLAG_CATEGORY with that many categories.
	FlagCategories int
	// TileChannels > 0 declares tiled storage for bulk columns.
	TileChannels int
	// Site is the array center. Defaults to VLACenter.
	Site [3]float64
	// Mount defaults to "ALT-AZ".
	Mount string
}

// SimulatedVisibility is the value stored in DATA for the given row,
// correlation and channel of a simulated MS. MODEL_DATA holds its conjugate
// and CORRECTED_DATA twice its value.
func SimulatedVisibility(row, corr, ch int) complex64 {
	return complex(float32(row), float32(100*ch+corr))
}

// SimulatedFloatData is the value stored in FLOAT_DATA.
func SimulatedFloatData(row, corr, ch int) float32 {
	return float32(1000*row + 100*ch + corr)
}

func (o *SimulateOpts) setDefaults() {
	if o.Name == "" {
		o.Name = "sim"
	}
	if o.NumAntennas == 0 {
		o.NumAntennas = 3
	}
	if o.NumTimes == 0 {
		o.NumTimes = 2
	}
	if o.StartTime == 0 {
		o.StartTime = 4.9e9
	}
	if o.IntegrationTime == 0 {
		o.IntegrationTime = 10
	}
	if len(o.Windows) == 0 {
		o.Windows = []SimulatedWindow{{NumChannels: 4, StartFreq: 1.4e9, ChanWidth: 1e6}}
	}
	if len(o.Polarizations) == 0 {
		o.Polarizations = [][]CorrType{{CorrXX, CorrYY}}
	}
	if o.NumFields == 0 {
		o.NumFields = 1
	}
	if o.Site == ([3]float64{}) {
		o.Site = VLACenter
	}
	if o.Mount == "" {
		o.Mount = "ALT-AZ"
	}
}

type baseline struct{ a1, a2 int }

// Simulate builds an in-memory measurement set. Rows are written time-major:
// for each timestamp, for each data description, one row per baseline.
func Simulate(opts SimulateOpts) (*MeasurementSet, error) {
	opts.setDefaults()
	var sub SubTables
	for i := 0; i < opts.NumAntennas; i++ {
		pos := opts.Site
		pos[0] += 100 * float64(i)
		pos[1] += 50 * float64(i)
		sub.Antennas = append(sub.Antennas, Antenna{
			Name:         fmt.Sprintf("ea%02d", i+1),
			Station:      fmt.Sprintf("N%02d", i+1),
			Position:     pos,
			Mount:        opts.Mount,
			DishDiameter: 25,
		})
		sub.Feeds = append(sub.Feeds, Feed{
			AntennaID:        i,
			SpectralWindowID: -1,
			ReceptorAngle:    []float64{0, 1.5707963267948966},
			PolarizationType: []string{"X", "Y"},
		})
	}
	maxChan, maxCorr := 0, 0
	for _, w := range opts.Windows {
		if w.NumChannels <= 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("simulate: window with %d channels", w.NumChannels))
		}
		ref := w.MeasFreqRef
		if ref == "" {
			ref = "TOPO"
		}
		spw := SpectralWindow{
			Name:        fmt.Sprintf("spw%d", len(sub.SpectralWindows)),
			MeasFreqRef: ref,
		}
		for c := 0; c < w.NumChannels; c++ {
			spw.ChanFreq = append(spw.ChanFreq, w.StartFreq+float64(c)*w.ChanWidth)
			spw.ChanWidth = append(spw.ChanWidth, w.ChanWidth)
		}
		spw.RefFrequency = spw.ChanFreq[0]
		sub.SpectralWindows = append(sub.SpectralWindows, spw)
		if w.NumChannels > maxChan {
			maxChan = w.NumChannels
		}
	}
	for _, p := range opts.Polarizations {
		sub.Polarizations = append(sub.Polarizations, Polarization{CorrType: p})
		if len(p) > maxCorr {
			maxCorr = len(p)
		}
	}
	for i := range sub.SpectralWindows {
		sub.DataDescriptions = append(sub.DataDescriptions,
			DataDescription{SpectralWindowID: i, PolarizationID: i % len(sub.Polarizations)})
	}
	for i := 0; i < opts.NumFields; i++ {
		// Fields step through RA at Dec +34 degrees, which stays up at the VLA.
		sub.Fields = append(sub.Fields, Field{Name: fmt.Sprintf("field%d", i), PhaseDir: [2]float64{0.5 + 0.3*float64(i), 0.6}})
	}
	endTime := opts.StartTime + float64(opts.NumTimes)*opts.IntegrationTime
	sub.Observations = []Observation{{TelescopeName: "SIM", Observer: "msvis", TimeRange: [2]float64{opts.StartTime, endTime}}}

	var baselines []baseline
	for a1 := 0; a1 < opts.NumAntennas; a1++ {
		first := a1 + 1
		if opts.Autocorrelations {
			first = a1
		}
		for a2 := first; a2 < opts.NumAntennas; a2++ {
			baselines = append(baselines, baseline{a1, a2})
		}
	}
	nRows := opts.NumTimes * len(sub.DataDescriptions) * len(baselines)
	main := memtable.New(opts.Name, nRows)
	tileRows := len(baselines)
	if tileRows == 0 {
		tileRows = 1
	}
	for _, desc := range ColumnLayout(maxCorr, maxChan, opts.FlagCategories, opts.FloatData, opts.TileChannels, tileRows) {
		main.MustAddColumn(desc)
		if desc.Name == Data {
			if opts.Model {
				desc.Name = ModelData
				main.MustAddColumn(desc)
			}
			if opts.Corrected {
				desc.Name = CorrectedData
				main.MustAddColumn(desc)
			}
		}
	}
	if opts.WeightSpectrum {
		var tile []int
		if opts.TileChannels > 0 {
			tile = []int{maxCorr, min(maxChan, opts.TileChannels), tileRows}
		}
		main.MustAddColumn(table.ColumnDesc{Name: WeightSpectrum, Type: table.TypeFloat32, Shape: []int{maxCorr, maxChan}, Tile: tile})
	}

	f := newFiller(main, maxCorr, maxChan)
	row := 0
	for t := 0; t < opts.NumTimes; t++ {
		time := opts.StartTime + (float64(t)+0.5)*opts.IntegrationTime
		for dd := range sub.DataDescriptions {
			nCorr := len(sub.Polarizations[sub.DataDescriptions[dd].PolarizationID].CorrType)
			nChan := sub.SpectralWindows[sub.DataDescriptions[dd].SpectralWindowID].NumChannels()
			for _, bl := range baselines {
				f.ints[Antenna1][row] = int32(bl.a1)
				f.ints[Antenna2][row] = int32(bl.a2)
				f.ints[ScanNumber][row] = int32(1 + t/2)
				f.ints[FieldID][row] = int32(t % opts.NumFields)
				f.ints[DataDescID][row] = int32(dd)
				f.floats[Time][row] = time
				f.floats[TimeCentroid][row] = time
				f.floats[Interval][row] = opts.IntegrationTime
				f.floats[Exposure][row] = opts.IntegrationTime
				p1, p2 := sub.Antennas[bl.a1].Position, sub.Antennas[bl.a2].Position
				for k := 0; k < 3; k++ {
					f.uvw[3*row+k] = p2[k] - p1[k]
				}
				for c := 0; c < nCorr; c++ {
					f.weight[maxCorr*row+c] = 1
					f.sigma[maxCorr*row+c] = 1
					for ch := 0; ch < nChan; ch++ {
						i := maxCorr*(maxChan*row+ch) + c
						f.data[i] = SimulatedVisibility(row, c, ch)
						f.floatData[i] = SimulatedFloatData(row, c, ch)
						f.spectrum[i] = 1
					}
				}
				row++
			}
		}
	}
	if err := f.store(); err != nil {
		return nil, err
	}
	return New(opts.Name, main, sub)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// filler accumulates column contents before a bulk Put into a memtable.
type filler struct {
	t             *memtable.Table
	rows          []int
	ints          map[string][]int32
	floats        map[string][]float64
	uvw           []float64
	weight, sigma []float32
	data          []complex64
	floatData     []float32
	spectrum      []float32
}

func newFiller(t *memtable.Table, maxCorr, maxChan int) *filler {
	n := t.NumRows()
	f := &filler{
		t:         t,
		rows:      make([]int, n),
		ints:      map[string][]int32{},
		floats:    map[string][]float64{},
		uvw:       make([]float64, 3*n),
		weight:    make([]float32, maxCorr*n),
		sigma:     make([]float32, maxCorr*n),
		data:      make([]complex64, maxCorr*maxChan*n),
		floatData: make([]float32, maxCorr*maxChan*n),
		spectrum:  make([]float32, maxCorr*maxChan*n),
	}
	for i := range f.rows {
		f.rows[i] = i
	}
	for _, name := range ScalarInt32Columns {
		f.ints[name] = make([]int32, n)
	}
	for _, name := range ScalarFloat64Columns {
		f.floats[name] = make([]float64, n)
	}
	return f
}

func (f *filler) store() error {
	col := func(name string) table.Column {
		c, err := f.t.Column(name)
		if err != nil {
			panic(err)
		}
		return c
	}
	for name, v := range f.ints {
		if err := col(name).PutInt32s(f.rows, v); err != nil {
			return err
		}
	}
	for name, v := range f.floats {
		if err := col(name).PutFloat64s(f.rows, array.Full(), v); err != nil {
			return err
		}
	}
	if err := col(UVW).PutFloat64s(f.rows, array.Full(), f.uvw); err != nil {
		return err
	}
	if err := col(Weight).PutFloat32s(f.rows, array.Full(), f.weight); err != nil {
		return err
	}
	if err := col(Sigma).PutFloat32s(f.rows, array.Full(), f.sigma); err != nil {
		return err
	}
	for _, name := range []string{Data, ModelData, CorrectedData} {
		if !f.t.HasColumn(name) {
			continue
		}
		v := f.data
		switch name {
		case ModelData:
			v = make([]complex64, len(f.data))
			for i, x := range f.data {
				v[i] = complex(real(x), -imag(x))
			}
		case CorrectedData:
			v = make([]complex64, len(f.data))
			for i, x := range f.data {
				v[i] = 2 * x
			}
		}
		if err := col(name).PutComplex64s(f.rows, array.Full(), v); err != nil {
			return err
		}
	}
	if f.t.HasColumn(FloatData) {
		if err := col(FloatData).PutFloat32s(f.rows, array.Full(), f.floatData); err != nil {
			return err
		}
	}
	if f.t.HasColumn(WeightSpectrum) {
		if err := col(WeightSpectrum).PutFloat32s(f.rows, array.Full(), f.spectrum); err != nil {
			return err
		}
	}
	return nil
}
