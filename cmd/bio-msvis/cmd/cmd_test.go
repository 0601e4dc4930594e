package cmd

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/msvis/frame"
	"github.com/grailbio/msvis/ms"
	"github.com/grailbio/msvis/vi"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultSimulateFlags() simulateFlags {
	return simulateFlags{
		antennas:    3,
		times:       2,
		fields:      1,
		windows:     "4,8:1.5e9:2e6",
		pols:        "XX,YY",
		rowsPerTile: 4,
	}
}

// readSummary runs summary and returns its rows keyed by column name.
func readSummary(t *testing.T, dir string, opts vi.Opts) []map[string]string {
	var out bytes.Buffer
	require.NoError(t, summary(vcontext.Background(), dir, opts, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.True(t, len(lines) > 1, out.String())
	header := strings.Split(lines[0], "\t")
	var rows []map[string]string
	for _, line := range lines[1:] {
		fields := strings.Split(line, "\t")
		require.Equal(t, len(header), len(fields), line)
		row := map[string]string{}
		for i, h := range header {
			row[h] = fields[i]
		}
		rows = append(rows, row)
	}
	return rows
}

func TestParseWindows(t *testing.T) {
	specs, err := parseWindows("64,16:1.6e9,8:1e9:5e5")
	require.NoError(t, err)
	assert.Equal(t, []windowSpec{
		{nChan: 64, startFreq: 1.4e9, chanWidth: 1e6},
		{nChan: 16, startFreq: 1.6e9, chanWidth: 1e6},
		{nChan: 8, startFreq: 1e9, chanWidth: 5e5},
	}, specs)

	for _, bad := range []string{"", "x", "4:y", "4:1e9:z", "4:1:2:3"} {
		_, err := parseWindows(bad)
		assert.Error(t, err, bad)
	}
}

func TestParsePolarizations(t *testing.T) {
	setups, err := parsePolarizations("XX,YY;RR, LL")
	require.NoError(t, err)
	assert.Equal(t, [][]ms.CorrType{{ms.CorrXX, ms.CorrYY}, {ms.CorrRR, ms.CorrLL}}, setups)
	_, err = parsePolarizations("XX,QQ")
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	ctx := vcontext.Background()
	tmp, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	dir := tmp + "/sim.ms"
	require.NoError(t, simulate(ctx, defaultSimulateFlags(), dir))

	rows := readSummary(t, dir, vi.Opts{})
	require.Equal(t, 4, len(rows))
	for i, row := range rows {
		assert.Equal(t, fmt.Sprint(i/2), row["CHUNK"])
		assert.Equal(t, fmt.Sprint(i%2), row["SUBCHUNK"])
		assert.Equal(t, fmt.Sprint(i/2), row["SPW"])
		assert.Equal(t, "3", row["ROWS"])
		assert.Equal(t, "0.0000", row["FLAGGED"])
	}
	assert.Equal(t, "4", rows[0]["CHANNELS"])
	assert.Equal(t, "8", rows[2]["CHANNELS"])
	assert.Equal(t, "1.4e+09", rows[0]["FREQ_LOW"])
	assert.Equal(t, "1.514e+09", rows[2]["FREQ_HIGH"])

	// Row blocking merges both timestamps of a chunk.
	rows = readSummary(t, dir, vi.Opts{RowBlocking: 6})
	require.Equal(t, 2, len(rows))
	assert.Equal(t, "6", rows[0]["ROWS"])
}

func TestSelectionFlags(t *testing.T) {
	sel := selectionFlags{spw: 1, start: 2, width: 2, inc: 1, ngroups: 2, freqFrame: "TOPO"}
	opts, err := sel.opts()
	require.NoError(t, err)
	assert.Equal(t, []vi.ChannelSelection{{
		SpectralWindow: 1,
		Window:         vi.ChannelWindow{Start: 2, Width: 2, Inc: 1, NGroups: 2},
	}}, opts.ChannelSelections)
	assert.Nil(t, opts.FrequencySelection)

	sel = selectionFlags{freqLow: 1.5e9, freqHigh: 1.51e9, freqFrame: "LSRK"}
	opts, err = sel.opts()
	require.NoError(t, err)
	require.NotNil(t, opts.FrequencySelection)
	assert.Equal(t, frame.LSRK, opts.FrequencySelection.Frame)
	assert.Equal(t, -1, opts.FrequencySelection.Ranges[0].SpectralWindow)

	sel.freqFrame = "NOPE"
	_, err = sel.opts()
	assert.Error(t, err)
}

func TestFlagChannels(t *testing.T) {
	ctx := vcontext.Background()
	tmp, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	dir := tmp + "/sim.ms"
	require.NoError(t, simulate(ctx, defaultSimulateFlags(), dir))

	sel := selectionFlags{spw: 1, start: 2, width: 4, inc: 1, ngroups: 1, freqFrame: "TOPO"}
	opts, err := sel.opts()
	require.NoError(t, err)
	n, err := flagChannels(ctx, dir, opts, true)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	rows := readSummary(t, dir, vi.Opts{})
	require.Equal(t, 4, len(rows))
	for i, row := range rows {
		want := "0.0000"
		if i >= 2 {
			want = "0.5000"
		}
		assert.Equal(t, want, row["FLAGGED"], "row %d", i)
	}

	// Through the same selection every channel reads as flagged.
	rows = readSummary(t, dir, opts)
	assert.Equal(t, "1.0000", rows[2]["FLAGGED"])
	assert.Equal(t, "4", rows[2]["CHANNELS"])

	n, err = flagChannels(ctx, dir, opts, false)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	rows = readSummary(t, dir, vi.Opts{})
	assert.Equal(t, "0.0000", rows[3]["FLAGGED"])
}
