package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/msvis/ms"
	"github.com/grailbio/msvis/table/coltable"
	"github.com/grailbio/msvis/vi"
)

// summaryRow is one line of the summary output.
type summaryRow struct {
	Chunk    int64  `tsv:"CHUNK"`
	SubChunk int64  `tsv:"SUBCHUNK"`
	Group    int64  `tsv:"GROUP"`
	MS       string `tsv:"MS"`
	Field    int64  `tsv:"FIELD"`
	Spw      int64  `tsv:"SPW"`
	Rows     int64  `tsv:"ROWS"`
	Time     string `tsv:"TIME"`
	Channels int64  `tsv:"CHANNELS"`
	FreqLow  string `tsv:"FREQ_LOW"`
	FreqHigh string `tsv:"FREQ_HIGH"`
	Flagged  string `tsv:"FLAGGED"`
}

// visit opens the measurement set in dir and calls fn once per sub-chunk.
// If done is not nil, it runs after the last sub-chunk, before the
// measurement set is closed.
func visit(ctx context.Context, dir string, opts vi.Opts, readOnly bool, fn func(c *vi.ReadCursor) error, done func() error) (err error) {
	m, err := ms.Open(ctx, dir, coltable.OpenOpts{ReadOnly: readOnly})
	if err != nil {
		return err
	}
	defer func() {
		if e := m.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	c, err := vi.New([]*ms.MeasurementSet{m}, opts)
	if err != nil {
		return err
	}
	if err = iterate(c, fn); err != nil || done == nil {
		return err
	}
	return done()
}

// iterate walks every sub-chunk of c from the first chunk.
func iterate(c *vi.ReadCursor, fn func(c *vi.ReadCursor) error) error {
	if err := c.OriginChunks(); err != nil {
		return err
	}
	for c.MoreChunks() {
		if err := c.Origin(); err != nil {
			return err
		}
		for c.More() {
			if err := fn(c); err != nil {
				return err
			}
			if err := c.Advance(); err != nil {
				return err
			}
		}
		if err := c.NextChunk(); err != nil {
			return err
		}
	}
	return nil
}

func summarize(c *vi.ReadCursor) (summaryRow, error) {
	row := summaryRow{
		Chunk:    int64(c.SubChunk().Chunk),
		SubChunk: int64(c.SubChunk().SubChunk),
		Group:    int64(c.ChannelGroup()),
		MS:       c.MS().Name,
		Field:    int64(c.FieldID()),
		Spw:      int64(c.SpectralWindow()),
		Rows:     int64(c.NumRows()),
		Channels: int64(c.NumChannels()),
	}
	times, err := c.Time()
	if err != nil {
		return row, err
	}
	row.Time = fmt.Sprintf("%.3f", times[0])
	freqs, err := c.Frequency()
	if err != nil {
		return row, err
	}
	lo, hi := freqs[0], freqs[0]
	for _, f := range freqs {
		if f < lo {
			lo = f
		}
		if f > hi {
			hi = f
		}
	}
	row.FreqLow = fmt.Sprintf("%.6g", lo)
	row.FreqHigh = fmt.Sprintf("%.6g", hi)
	flags, err := c.Flag()
	if err != nil {
		return row, err
	}
	n := 0
	for _, f := range flags.Data {
		if f {
			n++
		}
	}
	row.Flagged = fmt.Sprintf("%.4f", float64(n)/float64(len(flags.Data)))
	return row, nil
}

// summary writes one TSV row per sub-chunk of the measurement set in dir.
func summary(ctx context.Context, dir string, opts vi.Opts, out io.Writer) error {
	w := tsv.NewRowWriter(out)
	var n int
	err := visit(ctx, dir, opts, true, func(c *vi.ReadCursor) error {
		row, err := summarize(c)
		if err != nil {
			return errors.E(fmt.Sprintf("summary: sub-chunk %v", c.SubChunk()), err)
		}
		n++
		return w.Write(&row)
	}, nil)
	if err != nil {
		return err
	}
	log.Debug.Printf("summary %s: %d sub-chunks", dir, n)
	return w.Flush()
}
