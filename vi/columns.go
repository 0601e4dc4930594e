package vi

import (
	"github.com/grailbio/msvis/ms"
	"github.com/grailbio/msvis/table"
)

// Columns holds the column handles attached for one measurement set. Absent
// optional columns have no handle.
type Columns struct {
	Table  table.Table
	byName map[string]table.Column
}

// Get returns the named column, or nil if it is not attached.
func (c *Columns) Get(name string) table.Column { return c.byName[name] }

// Has reports whether the named column is attached.
func (c *Columns) Has(name string) bool { return c.byName[name] != nil }

// ColumnBinder attaches the columns of a MAIN table.
type ColumnBinder interface {
	Bind(m *ms.MeasurementSet) (*Columns, error)
}

// optionalColumns may be absent from a MAIN table.
var optionalColumns = []string{ms.Data, ms.FloatData, ms.ModelData, ms.CorrectedData, ms.WeightSpectrum, ms.FlagCategory}

// DefaultBinder attaches every required MS column and whichever optional
// columns exist.
type DefaultBinder struct{}

// Bind implements ColumnBinder.
func (DefaultBinder) Bind(m *ms.MeasurementSet) (*Columns, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	c := &Columns{Table: m.Main, byName: map[string]table.Column{}}
	var names []string
	names = append(names, ms.ScalarInt32Columns...)
	names = append(names, ms.ScalarFloat64Columns...)
	names = append(names, ms.FlagRow, ms.UVW, ms.Flag, ms.Weight, ms.Sigma)
	for _, name := range names {
		col, err := m.Main.Column(name)
		if err != nil {
			return nil, err
		}
		c.byName[name] = col
	}
	for _, name := range optionalColumns {
		if !m.Main.HasColumn(name) {
			continue
		}
		col, err := m.Main.Column(name)
		if err != nil {
			return nil, err
		}
		c.byName[name] = col
	}
	return c, nil
}
