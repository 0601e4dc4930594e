package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/msvis/ms"
	"github.com/grailbio/msvis/table/coltable"
)

type simulateFlags struct {
	antennas, times, fields int
	windows, pols           string
	floatData               bool
	model, corrected        bool
	weightSpectrum          bool
	flagCategories          int
	tileChannels            int
	rowsPerTile             int
	snappy                  bool
	transformers            string
}

type windowSpec struct {
	nChan                int
	startFreq, chanWidth float64
}

func parsePolarizations(s string) ([][]ms.CorrType, error) {
	var setups [][]ms.CorrType
	for _, setup := range strings.Split(s, ";") {
		var corrs []ms.CorrType
		for _, name := range strings.Split(setup, ",") {
			ct, ok := ms.ParseCorrType(strings.TrimSpace(name))
			if !ok {
				return nil, fmt.Errorf("polarization setup %q: unknown correlation %q", setup, name)
			}
			corrs = append(corrs, ct)
		}
		setups = append(setups, corrs)
	}
	return setups, nil
}

func (f simulateFlags) simulateOpts(name string) (ms.SimulateOpts, error) {
	opts := ms.SimulateOpts{
		Name:           name,
		NumAntennas:    f.antennas,
		NumTimes:       f.times,
		NumFields:      f.fields,
		FloatData:      f.floatData,
		Model:          f.model,
		Corrected:      f.corrected,
		WeightSpectrum: f.weightSpectrum,
		FlagCategories: f.flagCategories,
		TileChannels:   f.tileChannels,
	}
	specs, err := parseWindows(f.windows)
	if err != nil {
		return opts, err
	}
	for _, s := range specs {
		opts.Windows = append(opts.Windows, ms.SimulatedWindow{
			NumChannels: s.nChan,
			StartFreq:   s.startFreq,
			ChanWidth:   s.chanWidth,
		})
	}
	if opts.Polarizations, err = parsePolarizations(f.pols); err != nil {
		return opts, err
	}
	return opts, nil
}

func simulate(ctx context.Context, f simulateFlags, dir string) error {
	opts, err := f.simulateOpts(dir)
	if err != nil {
		return err
	}
	m, err := ms.Simulate(opts)
	if err != nil {
		return err
	}
	wopts := coltable.WriteOpts{RowsPerTile: f.rowsPerTile, Snappy: f.snappy}
	if f.transformers != "" {
		wopts.Transformers = strings.Split(f.transformers, ",")
	}
	if err := ms.Save(ctx, dir, m, wopts); err != nil {
		return err
	}
	log.Printf("simulate: wrote %d rows, %d spectral windows to %s", m.Main.NumRows(), len(opts.Windows), dir)
	return nil
}
