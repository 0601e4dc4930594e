package ms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/msvis/table/coltable"
)

const (
	mainDir       = "MAIN"
	subTablesFile = "SUBTABLES.json"
)

// Save writes m to dir: the MAIN table through coltable and the sub-tables
// as JSON.
func Save(ctx context.Context, dir string, m *MeasurementSet, opts coltable.WriteOpts) (err error) {
	if err := coltable.Write(ctx, fmt.Sprintf("%s/%s", dir, mainDir), m.Main, opts); err != nil {
		return err
	}
	path := fmt.Sprintf("%s/%s", dir, subTablesFile)
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	enc := json.NewEncoder(out.Writer(ctx))
	enc.SetIndent("", "  ")
	return enc.Encode(&m.SubTables)
}

// Open opens a measurement set written by Save. The caller must Close it.
func Open(ctx context.Context, dir string, opts coltable.OpenOpts) (*MeasurementSet, error) {
	path := fmt.Sprintf("%s/%s", dir, subTablesFile)
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("ms: open %s", path), err)
	}
	var sub SubTables
	err = json.NewDecoder(in.Reader(ctx)).Decode(&sub)
	if e := in.Close(ctx); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("ms: read %s", path), err)
	}
	main, err := coltable.Open(ctx, fmt.Sprintf("%s/%s", dir, mainDir), opts)
	if err != nil {
		return nil, err
	}
	m, err := New(dir, main, sub)
	if err != nil {
		if e := main.Close(ctx); e != nil {
			log.Error.Printf("ms %s: close: %v", dir, e)
		}
		return nil, err
	}
	return m, nil
}

// antennaRow is one line of an antenna TSV file.
type antennaRow struct {
	Name         string  `tsv:"NAME"`
	Station      string  `tsv:"STATION"`
	X            float64 `tsv:"X"`
	Y            float64 `tsv:"Y"`
	Z            float64 `tsv:"Z"`
	Mount        string  `tsv:"MOUNT"`
	DishDiameter float64 `tsv:"DISH_DIAMETER"`
}

// ReadAntennaTSV reads an ANTENNA sub-table from a TSV file with a header
// row naming the columns NAME, STATION, X, Y, Z (ITRF meters), MOUNT and
// DISH_DIAMETER. Lines starting with '#' are ignored.
func ReadAntennaTSV(r io.Reader) ([]Antenna, error) {
	reader := tsv.NewReader(r)
	reader.HasHeaderRow = true
	reader.UseHeaderNames = true
	reader.Comment = '#'
	var antennas []Antenna
	for {
		var row antennaRow
		if err := reader.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		antennas = append(antennas, Antenna{
			Name:         row.Name,
			Station:      row.Station,
			Position:     [3]float64{row.X, row.Y, row.Z},
			Mount:        row.Mount,
			DishDiameter: row.DishDiameter,
		})
	}
	return antennas, nil
}
