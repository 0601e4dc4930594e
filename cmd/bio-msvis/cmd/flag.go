package cmd

import (
	"context"

	"github.com/grailbio/msvis/array"
	"github.com/grailbio/msvis/vi"
)

// flagChannels sets (or clears) FLAG for the selected channels of every row
// of the selected spectral window. It returns the number of rows written.
func flagChannels(ctx context.Context, dir string, opts vi.Opts, flag bool) (int, error) {
	spw := -1
	if len(opts.ChannelSelections) > 0 {
		spw = opts.ChannelSelections[0].SpectralWindow
	}
	var (
		w    *vi.Writer
		rows int
	)
	err := visit(ctx, dir, opts, false, func(c *vi.ReadCursor) error {
		if w == nil {
			var err error
			if w, err = vi.NewWriter(c, vi.WriterOpts{}); err != nil {
				return err
			}
		}
		if spw >= 0 && c.SpectralWindow() != spw {
			return nil
		}
		flags := array.NewMatrix[bool](c.NumChannels(), c.NumRows())
		flags.Fill(flag)
		if err := w.WriteFlag(flags); err != nil {
			return err
		}
		rows += c.NumRows()
		return nil
	}, func() error {
		if w == nil {
			return nil
		}
		return w.Flush(ctx)
	})
	return rows, err
}
