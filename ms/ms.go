package ms

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/msvis/table"
)

// Antenna is a row of the ANTENNA sub-table.
type Antenna struct {
	Name    string
	Station string
	// Position is the ITRF position in meters.
	Position [3]float64
	// Mount is the mount type, e.g. "ALT-AZ", "EQUATORIAL", "NASMYTH-R".
	Mount        string
	DishDiameter float64
}

// Feed is a row of the FEED sub-table.
type Feed struct {
	AntennaID int
	// SpectralWindowID is -1 for feeds valid in all spectral windows.
	SpectralWindowID int
	// ReceptorAngle is the position angle offset of each receptor, in
	// radians.
	ReceptorAngle    []float64
	PolarizationType []string
}

// SpectralWindow is a row of the SPECTRAL_WINDOW sub-table.
type SpectralWindow struct {
	Name string
	// ChanFreq is the center frequency of each channel, in Hz, in the
	// MeasFreqRef frame.
	ChanFreq     []float64
	ChanWidth    []float64
	RefFrequency float64
	// MeasFreqRef is the frequency frame of ChanFreq, e.g. "TOPO" or "LSRK".
	MeasFreqRef string
}

// NumChannels returns the number of channels.
func (s SpectralWindow) NumChannels() int { return len(s.ChanFreq) }

// Polarization is a row of the POLARIZATION sub-table.
type Polarization struct {
	CorrType []CorrType
}

// DataDescription is a row of the DATA_DESCRIPTION sub-table.
type DataDescription struct {
	SpectralWindowID int
	PolarizationID   int
}

// Field is a row of the FIELD sub-table.
type Field struct {
	Name string
	// PhaseDir is the J2000 phase center (RA, Dec) in radians.
	PhaseDir [2]float64
}

// Observation is a row of the OBSERVATION sub-table.
type Observation struct {
	TelescopeName string
	Observer      string
	// TimeRange is [start, end] in MJD seconds.
	TimeRange [2]float64
}

// SubTables holds the sub-tables of a measurement set.
type SubTables struct {
	Antennas         []Antenna
	Feeds            []Feed
	SpectralWindows  []SpectralWindow
	Polarizations    []Polarization
	DataDescriptions []DataDescription
	Fields           []Field
	Observations     []Observation
}

// MeasurementSet is a MAIN table plus its sub-tables.
type MeasurementSet struct {
	// Name identifies the measurement set in log messages.
	Name string
	Main table.Table
	SubTables
}

// New creates a measurement set and validates its schema.
func New(name string, main table.Table, sub SubTables) (*MeasurementSet, error) {
	m := &MeasurementSet{Name: name, Main: main, SubTables: sub}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks that the MAIN table has every required column and that
// the sub-tables are consistent.
func (m *MeasurementSet) Validate() error {
	var required []string
	required = append(required, ScalarInt32Columns...)
	required = append(required, ScalarFloat64Columns...)
	required = append(required, FlagRow, UVW, Flag, Weight, Sigma)
	for _, name := range required {
		if !m.Main.HasColumn(name) {
			return errors.E(errors.Invalid, fmt.Sprintf("ms %s: missing required column %s", m.Name, name))
		}
	}
	if !m.Main.HasColumn(Data) && !m.Main.HasColumn(FloatData) {
		return errors.E(errors.Invalid, fmt.Sprintf("ms %s: neither %s nor %s present", m.Name, Data, FloatData))
	}
	for i, dd := range m.DataDescriptions {
		if dd.SpectralWindowID < 0 || dd.SpectralWindowID >= len(m.SpectralWindows) {
			return errors.E(errors.Invalid, fmt.Sprintf("ms %s: data description %d: bad spectral window %d", m.Name, i, dd.SpectralWindowID))
		}
		if dd.PolarizationID < 0 || dd.PolarizationID >= len(m.Polarizations) {
			return errors.E(errors.Invalid, fmt.Sprintf("ms %s: data description %d: bad polarization %d", m.Name, i, dd.PolarizationID))
		}
	}
	return nil
}

func outOfRange(ms, what string, id, n int) error {
	return errors.E(errors.Invalid, fmt.Sprintf("ms %s: %s id %d out of range [0,%d)", ms, what, id, n))
}

// DataDescription returns the given DATA_DESCRIPTION row.
func (m *MeasurementSet) DataDescription(id int) (DataDescription, error) {
	if id < 0 || id >= len(m.DataDescriptions) {
		return DataDescription{}, outOfRange(m.Name, "data description", id, len(m.DataDescriptions))
	}
	return m.DataDescriptions[id], nil
}

// SpectralWindow returns the given SPECTRAL_WINDOW row.
func (m *MeasurementSet) SpectralWindow(id int) (SpectralWindow, error) {
	if id < 0 || id >= len(m.SpectralWindows) {
		return SpectralWindow{}, outOfRange(m.Name, "spectral window", id, len(m.SpectralWindows))
	}
	return m.SpectralWindows[id], nil
}

// Polarization returns the given POLARIZATION row.
func (m *MeasurementSet) Polarization(id int) (Polarization, error) {
	if id < 0 || id >= len(m.Polarizations) {
		return Polarization{}, outOfRange(m.Name, "polarization", id, len(m.Polarizations))
	}
	return m.Polarizations[id], nil
}

// Field returns the given FIELD row.
func (m *MeasurementSet) Field(id int) (Field, error) {
	if id < 0 || id >= len(m.Fields) {
		return Field{}, outOfRange(m.Name, "field", id, len(m.Fields))
	}
	return m.Fields[id], nil
}

// AntennaPositions returns the ITRF position of every antenna.
func (m *MeasurementSet) AntennaPositions() [][3]float64 {
	pos := make([][3]float64, len(m.Antennas))
	for i, a := range m.Antennas {
		pos[i] = a.Position
	}
	return pos
}

// AntennaMounts returns the mount type of every antenna.
func (m *MeasurementSet) AntennaMounts() []string {
	mounts := make([]string, len(m.Antennas))
	for i, a := range m.Antennas {
		mounts[i] = a.Mount
	}
	return mounts
}

// ReceptorAngles returns, for every antenna, the receptor angles of its feed
// in the given spectral window. A feed with SpectralWindowID == -1 applies to
// all windows; a window-specific feed takes precedence. Antennas without a
// feed get two zero angles.
func (m *MeasurementSet) ReceptorAngles(spw int) [][]float64 {
	angles := make([][]float64, len(m.Antennas))
	specific := make([]bool, len(m.Antennas))
	for _, f := range m.Feeds {
		if f.AntennaID < 0 || f.AntennaID >= len(angles) {
			continue
		}
		switch {
		case f.SpectralWindowID == spw:
			angles[f.AntennaID] = f.ReceptorAngle
			specific[f.AntennaID] = true
		case f.SpectralWindowID == -1 && !specific[f.AntennaID]:
			angles[f.AntennaID] = f.ReceptorAngle
		}
	}
	for i := range angles {
		if angles[i] == nil {
			angles[i] = []float64{0, 0}
		}
	}
	return angles
}

// Close releases the MAIN table if it holds resources.
func (m *MeasurementSet) Close(ctx context.Context) error {
	if c, ok := m.Main.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}
