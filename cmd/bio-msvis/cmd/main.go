// Package cmd implements the bio-msvis subcommands.
package cmd

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/msvis/frame"
	"github.com/grailbio/msvis/table/coltable"
	"github.com/grailbio/msvis/vi"
	"v.io/x/lib/cmdline"
)

func newCmdSimulate() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "simulate",
		Short:    "Write a synthetic measurement set",
		ArgsName: "dir",
	}
	var opts simulateFlags
	cmd.Flags.IntVar(&opts.antennas, "antennas", 3, "Number of antennas")
	cmd.Flags.IntVar(&opts.times, "times", 2, "Number of integrations")
	cmd.Flags.IntVar(&opts.fields, "fields", 1, "Number of fields; integrations cycle through them")
	cmd.Flags.StringVar(&opts.windows, "windows", "4", `Comma-separated list of spectral windows, each given as
nchan[:startfreq[:chanwidth]] with frequencies in Hz.
For example, "64:1.4e9:125e3,16:1.6e9:1e6".`)
	cmd.Flags.StringVar(&opts.pols, "pols", "XX,YY", `Semicolon-separated list of polarization setups. Window i uses
setup i modulo the number of setups. For example "XX,XY,YX,YY;RR,LL".`)
	cmd.Flags.BoolVar(&opts.floatData, "float-data", false, "Store FLOAT_DATA instead of DATA")
	cmd.Flags.BoolVar(&opts.model, "model", false, "Add MODEL_DATA")
	cmd.Flags.BoolVar(&opts.corrected, "corrected", false, "Add CORRECTED_DATA")
	cmd.Flags.BoolVar(&opts.weightSpectrum, "weight-spectrum", false, "Add WEIGHT_SPECTRUM")
	cmd.Flags.IntVar(&opts.flagCategories, "flag-categories", 0, "Add FLAG_CATEGORY with this many categories")
	cmd.Flags.IntVar(&opts.tileChannels, "tile-channels", 0, "Channels per tile of the bulk columns; 0 disables tiling")
	cmd.Flags.IntVar(&opts.rowsPerTile, "rows-per-tile", coltable.DefaultRowsPerTile, "Rows per stored tile")
	cmd.Flags.BoolVar(&opts.snappy, "snappy", false, "Snappy-compress tile payloads")
	cmd.Flags.StringVar(&opts.transformers, "transformers", "", `Comma-separated list of recordio transformers for the column files.
For example, "zstd 3". By default tiles are zstd-compressed.`)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("simulate takes one directory argument, but got %v", argv)
		}
		return simulate(vcontext.Background(), opts, argv[0])
	})
	return cmd
}

// selectionFlags holds the channel and frequency selection flags shared by
// the iterating subcommands.
type selectionFlags struct {
	spw                        int
	start, width, inc, ngroups int
	freqLow, freqHigh          float64
	freqFrame                  string
	rowBlocking                int
}

func (f *selectionFlags) register(cmd *cmdline.Command) {
	cmd.Flags.IntVar(&f.spw, "spw", 0, "Spectral window the channel flags apply to")
	cmd.Flags.IntVar(&f.start, "chan-start", 0, "First selected channel")
	cmd.Flags.IntVar(&f.width, "chan-width", 0, "Channels per channel group; 0 selects the full band")
	cmd.Flags.IntVar(&f.inc, "chan-inc", 1, "Channel increment")
	cmd.Flags.IntVar(&f.ngroups, "chan-groups", 1, "Number of channel groups")
	cmd.Flags.Float64Var(&f.freqLow, "freq-low", 0, "Lower end of a frequency selection, in Hz. Overrides the channel flags")
	cmd.Flags.Float64Var(&f.freqHigh, "freq-high", 0, "Upper end of a frequency selection, in Hz")
	cmd.Flags.StringVar(&f.freqFrame, "freq-frame", "TOPO", "Frame of -freq-low and -freq-high: TOPO, GEO, BARY or LSRK")
	cmd.Flags.IntVar(&f.rowBlocking, "row-blocking", 0, "Rows per sub-chunk; 0 groups rows by time")
}

func (f *selectionFlags) opts() (vi.Opts, error) {
	opts := vi.Opts{RowBlocking: f.rowBlocking}
	if f.width > 0 {
		opts.ChannelSelections = []vi.ChannelSelection{{
			SpectralWindow: f.spw,
			Window:         vi.ChannelWindow{Start: f.start, Width: f.width, Inc: f.inc, NGroups: f.ngroups},
		}}
	}
	if f.freqHigh > 0 {
		fr, err := frame.ParseFreqFrame(f.freqFrame)
		if err != nil {
			return opts, err
		}
		opts.FrequencySelection = &vi.FrequencySelection{
			Frame:  fr,
			Ranges: []vi.FrequencyRange{{SpectralWindow: -1, Low: f.freqLow, High: f.freqHigh}},
		}
	}
	return opts, nil
}

func newCmdSummary() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "summary",
		Short:    "Print one TSV line per sub-chunk of a measurement set",
		ArgsName: "dir",
	}
	var sel selectionFlags
	sel.register(cmd)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("summary takes one directory argument, but got %v", argv)
		}
		opts, err := sel.opts()
		if err != nil {
			return err
		}
		return summary(vcontext.Background(), argv[0], opts, os.Stdout)
	})
	return cmd
}

func newCmdFlagChan() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "flagchan",
		Short:    "Flag the selected channels of every row of a measurement set",
		ArgsName: "dir",
	}
	var sel selectionFlags
	sel.register(cmd)
	unflag := cmd.Flags.Bool("unflag", false, "Clear the flags instead of setting them")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("flagchan takes one directory argument, but got %v", argv)
		}
		opts, err := sel.opts()
		if err != nil {
			return err
		}
		n, err := flagChannels(vcontext.Background(), argv[0], opts, !*unflag)
		if err != nil {
			return err
		}
		log.Printf("flagchan: updated %d rows", n)
		return nil
	})
	return cmd
}

// parseWindows parses the -windows flag.
func parseWindows(s string) ([]windowSpec, error) {
	var specs []windowSpec
	for _, w := range strings.Split(s, ",") {
		parts := strings.Split(w, ":")
		if len(parts) > 3 {
			return nil, fmt.Errorf("window %q: want nchan[:startfreq[:chanwidth]]", w)
		}
		spec := windowSpec{startFreq: 1.4e9, chanWidth: 1e6}
		var err error
		if spec.nChan, err = strconv.Atoi(parts[0]); err != nil {
			return nil, fmt.Errorf("window %q: %v", w, err)
		}
		if len(parts) > 1 {
			if spec.startFreq, err = strconv.ParseFloat(parts[1], 64); err != nil {
				return nil, fmt.Errorf("window %q: %v", w, err)
			}
		}
		if len(parts) > 2 {
			if spec.chanWidth, err = strconv.ParseFloat(parts[2], 64); err != nil {
				return nil, fmt.Errorf("window %q: %v", w, err)
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func Run() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-msvis",
			Short:    "Tools for iterating over measurement sets",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdSimulate(),
				newCmdSummary(),
				newCmdFlagChan(),
			},
		})
}
