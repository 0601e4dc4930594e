// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ms defines the measurement-set schema used by the visibility
// iterator: the MAIN table column names and cell layouts, the sub-table
// records, and a synthetic measurement-set builder.
//
// A measurement set is stored as a directory holding the MAIN table (see
// table/coltable) and a JSON file with the sub-tables. Array cells are
// column-major with the correlation axis first, then channels, then (for
// FLAG_CATEGORY) categories. A column's cell shape is the maximum over all
// spectral windows and polarization setups; rows with fewer correlations or
// channels occupy the leading corner of the cell.
package ms

import (
	"fmt"

	"github.com/grailbio/msvis/table"
)

// MAIN table column names.
const (
	Antenna1      = "ANTENNA1"
	Antenna2      = "ANTENNA2"
	Feed1         = "FEED1"
	Feed2         = "FEED2"
	Time          = "TIME"
	TimeCentroid  = "TIME_CENTROID"
	Interval      = "INTERVAL"
	Exposure      = "EXPOSURE"
	ScanNumber    = "SCAN_NUMBER"
	ObservationID = "OBSERVATION_ID"
	ProcessorID   = "PROCESSOR_ID"
	StateID       = "STATE_ID"
	ArrayID       = "ARRAY_ID"
	FieldID       = "FIELD_ID"
	DataDescID    = "DATA_DESC_ID"
	FlagRow       = "FLAG_ROW"
	UVW           = "UVW"
	Flag          = "FLAG"
	FlagCategory  = "FLAG_CATEGORY"
	Data          = "DATA"
	ModelData     = "MODEL_DATA"
	CorrectedData = "CORRECTED_DATA"
	FloatData     = "FLOAT_DATA"
	Weight        = "WEIGHT"
	Sigma         = "SIGMA"
	// WeightSpectrum is optional.
	WeightSpectrum = "WEIGHT_SPECTRUM"
)

// ScalarInt32Columns lists the required int32 scalar columns.
var ScalarInt32Columns = []string{
	Antenna1, Antenna2, Feed1, Feed2, ScanNumber, ObservationID,
	ProcessorID, StateID, ArrayID, FieldID, DataDescID,
}

// ScalarFloat64Columns lists the required float64 scalar columns.
var ScalarFloat64Columns = []string{Time, TimeCentroid, Interval, Exposure}

// BulkColumns lists the columns whose storage-manager caches the iterator
// tunes.
var BulkColumns = []string{Data, CorrectedData, ModelData, Flag, WeightSpectrum, Weight, Sigma, UVW}

// CorrType is a correlation (or Stokes) product type, numbered as in the
// Stokes enumeration of the MS definition.
type CorrType int

const (
	CorrUndefined CorrType = 0
	StokesI       CorrType = 1
	StokesQ       CorrType = 2
	StokesU       CorrType = 3
	StokesV       CorrType = 4
	CorrRR        CorrType = 5
	CorrRL        CorrType = 6
	CorrLR        CorrType = 7
	CorrLL        CorrType = 8
	CorrXX        CorrType = 9
	CorrXY        CorrType = 10
	CorrYX        CorrType = 11
	CorrYY        CorrType = 12
)

var corrNames = map[CorrType]string{
	StokesI: "I", StokesQ: "Q", StokesU: "U", StokesV: "V",
	CorrRR: "RR", CorrRL: "RL", CorrLR: "LR", CorrLL: "LL",
	CorrXX: "XX", CorrXY: "XY", CorrYX: "YX", CorrYY: "YY",
}

func (c CorrType) String() string {
	if s, ok := corrNames[c]; ok {
		return s
	}
	return fmt.Sprintf("corr%d", int(c))
}

// ParseCorrType is the inverse of CorrType.String.
func ParseCorrType(s string) (CorrType, bool) {
	for c, n := range corrNames {
		if n == s {
			return c, true
		}
	}
	return CorrUndefined, false
}

// ColumnLayout gives the cell layout of the MAIN table columns for the given
// maximum number of correlations and channels. flagCategories > 0 adds a
// FLAG_CATEGORY column. tileChannels > 0 declares tiled storage for the
// visibility-sized columns, tileChannels channels and tileRows rows per tile.
func ColumnLayout(nCorr, nChan, flagCategories int, floatData bool, tileChannels, tileRows int) []table.ColumnDesc {
	var tiled = func(shape ...int) []int {
		if tileChannels <= 0 {
			return nil
		}
		t := append([]int{}, shape...)
		if len(t) > 1 && t[1] > tileChannels {
			t[1] = tileChannels
		}
		return append(t, tileRows)
	}
	var cols []table.ColumnDesc
	for _, name := range ScalarInt32Columns {
		cols = append(cols, table.ColumnDesc{Name: name, Type: table.TypeInt32})
	}
	for _, name := range ScalarFloat64Columns {
		cols = append(cols, table.ColumnDesc{Name: name, Type: table.TypeFloat64})
	}
	cols = append(cols,
		table.ColumnDesc{Name: FlagRow, Type: table.TypeBool},
		table.ColumnDesc{Name: UVW, Type: table.TypeFloat64, Shape: []int{3}, Tile: tiled(3)},
		table.ColumnDesc{Name: Flag, Type: table.TypeBool, Shape: []int{nCorr, nChan}, Tile: tiled(nCorr, nChan)},
		table.ColumnDesc{Name: Weight, Type: table.TypeFloat32, Shape: []int{nCorr}, Tile: tiled(nCorr)},
		table.ColumnDesc{Name: Sigma, Type: table.TypeFloat32, Shape: []int{nCorr}, Tile: tiled(nCorr)},
	)
	if floatData {
		cols = append(cols, table.ColumnDesc{Name: FloatData, Type: table.TypeFloat32, Shape: []int{nCorr, nChan}, Tile: tiled(nCorr, nChan)})
	} else {
		cols = append(cols, table.ColumnDesc{Name: Data, Type: table.TypeComplex64, Shape: []int{nCorr, nChan}, Tile: tiled(nCorr, nChan)})
	}
	if flagCategories > 0 {
		cols = append(cols, table.ColumnDesc{Name: FlagCategory, Type: table.TypeBool, Shape: []int{nCorr, nChan, flagCategories}})
	}
	return cols
}
