package vi

// ChannelWindow selects channels of a spectral window. Group g covers
// channels Start + g*Width*Inc + k*Inc for k in [0, Width); NGroups groups
// are walked one after the other over the same rows.
type ChannelWindow struct {
	Start, Width, Inc, NGroups int
}

// FullBand returns the window that selects all nChan channels in one group.
func FullBand(nChan int) ChannelWindow {
	return ChannelWindow{Start: 0, Width: nChan, Inc: 1, NGroups: 1}
}

// GroupStart returns the first channel of group g.
func (w ChannelWindow) GroupStart(g int) int { return w.Start + g*w.Width*w.Inc }

// Channels returns the channel ids of group g.
func (w ChannelWindow) Channels(g int) []int {
	ids := make([]int, w.Width)
	for k := range ids {
		ids[k] = w.GroupStart(g) + k*w.Inc
	}
	return ids
}

// normalize maps NGroups == 0 to one group.
func (w ChannelWindow) normalize() ChannelWindow {
	if w.NGroups == 0 {
		w.NGroups = 1
	}
	return w
}

// Validate checks that w fits in a window of nChan channels.
func (w ChannelWindow) Validate(nChan int) error {
	w = w.normalize()
	switch {
	case w.Inc < 1:
		return invalidSelection("increment %d < 1", w.Inc)
	case w.Width < 1:
		return invalidSelection("width %d < 1", w.Width)
	case w.Start < 0:
		return invalidSelection("negative start %d", w.Start)
	case w.NGroups < 0:
		return invalidSelection("negative group count %d", w.NGroups)
	case w.Width*w.Inc > nChan:
		return invalidSelection("width %d x increment %d exceeds %d channels", w.Width, w.Inc, nChan)
	}
	if last := w.GroupStart(w.NGroups-1) + (w.Width-1)*w.Inc; last >= nChan {
		return invalidSelection("window %+v reaches channel %d of %d", w, last, nChan)
	}
	return nil
}

// ChannelSelection is a ChannelWindow for one spectral window of one
// measurement set.
type ChannelSelection struct {
	MSIndex        int
	SpectralWindow int
	Window         ChannelWindow
}

type msSpw struct{ ms, spw int }

// ChannelSelectionState holds the configured channel windows, keyed by
// measurement set and spectral window, and the per-spectral-window tables
// resolved for the current measurement set. The tables only grow. A
// spectral window without an entry selects its full band in one group.
type ChannelSelectionState struct {
	configured map[msSpw]ChannelWindow

	start, width, inc, nGroups []int
}

// NewChannelSelectionState creates an empty selection.
func NewChannelSelectionState() *ChannelSelectionState {
	return &ChannelSelectionState{configured: map[msSpw]ChannelWindow{}}
}

// Set configures the window for one spectral window, which has nChan
// channels. An invalid window is rejected with errors.Invalid and leaves the
// state untouched.
func (s *ChannelSelectionState) Set(msIndex, spw int, w ChannelWindow, nChan int) error {
	if spw < 0 {
		return invalidSelection("spectral window %d", spw)
	}
	if err := w.Validate(nChan); err != nil {
		return err
	}
	s.configured[msSpw{msIndex, spw}] = w.normalize()
	return nil
}

// Resolve rebuilds the per-spectral-window tables for the given measurement
// set. It must be called whenever the iterator enters a new measurement set.
func (s *ChannelSelectionState) Resolve(msIndex int) {
	for i := range s.nGroups {
		s.start[i], s.width[i], s.inc[i], s.nGroups[i] = 0, 0, 0, 0
	}
	for key, w := range s.configured {
		if key.ms != msIndex {
			continue
		}
		if key.spw >= len(s.nGroups) {
			n := key.spw + 1
			s.start = grow(s.start, n)
			s.width = grow(s.width, n)
			s.inc = grow(s.inc, n)
			s.nGroups = grow(s.nGroups, n)
		}
		s.start[key.spw] = w.Start
		s.width[key.spw] = w.Width
		s.inc[key.spw] = w.Inc
		s.nGroups[key.spw] = w.NGroups
	}
}

func grow(v []int, n int) []int {
	if len(v) >= n {
		return v
	}
	return append(v, make([]int, n-len(v))...)
}

// Len returns the size of the resolved tables.
func (s *ChannelSelectionState) Len() int { return len(s.nGroups) }

// Window returns the resolved window of a spectral window with nChan
// channels.
func (s *ChannelSelectionState) Window(spw, nChan int) ChannelWindow {
	if spw < 0 || spw >= len(s.nGroups) || s.nGroups[spw] == 0 {
		return FullBand(nChan)
	}
	return ChannelWindow{Start: s.start[spw], Width: s.width[spw], Inc: s.inc[spw], NGroups: s.nGroups[spw]}
}

// Configured returns the configured window, if any.
func (s *ChannelSelectionState) Configured(msIndex, spw int) (ChannelWindow, bool) {
	w, ok := s.configured[msSpw{msIndex, spw}]
	return w, ok
}
