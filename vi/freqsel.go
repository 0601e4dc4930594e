package vi

import (
	"math"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/msvis/frame"
	"github.com/grailbio/msvis/ms"
)

// FrequencyRange selects the channels of one spectral window whose center
// frequencies fall in [Low, High] Hz.
type FrequencyRange struct {
	MSIndex int
	// SpectralWindow is -1 to apply the range to every window of the MS.
	SpectralWindow int
	Low, High      float64
}

// FrequencySelection selects channels by frequency rather than by channel
// number. Ranges are matched in Frame, converted per chunk at the chunk's
// first time. The selected channels of a window are the contiguous run from
// the lowest to the highest matching channel. Chunks of windows without a
// matching channel are skipped.
type FrequencySelection struct {
	Frame  frame.FreqFrame
	Ranges []FrequencyRange
	// Tolerance widens every range on both sides, in Hz.
	Tolerance float64
	// GroupWidth, if positive, splits the selected run into channel groups of
	// about GroupWidth Hz each. Zero selects one group.
	GroupWidth float64
}

func (f *FrequencySelection) validate() error {
	if f.Tolerance < 0 || f.GroupWidth < 0 {
		return invalidSelection("negative tolerance %v or group width %v", f.Tolerance, f.GroupWidth)
	}
	for _, r := range f.Ranges {
		if r.High < r.Low {
			return invalidSelection("frequency range [%v, %v]", r.Low, r.High)
		}
	}
	return nil
}

// freqKey orders channels by frequency.
type freqKey struct {
	freq    float64
	channel int
}

// Compare implements llrb.Comparable.
func (k freqKey) Compare(c llrb.Comparable) int {
	o := c.(freqKey)
	switch {
	case k.freq < o.freq:
		return -1
	case k.freq > o.freq:
		return 1
	}
	return k.channel - o.channel
}

// resolve computes the window this selection picks in a spectral window
// whose channel frequencies, in the selection frame, are freqs. ok is false
// if no channel matches.
func (f *FrequencySelection) resolve(msIndex, spwID int, spw ms.SpectralWindow, freqs []float64) (w ChannelWindow, ok bool) {
	var tree llrb.Tree
	for i, fr := range freqs {
		tree.Insert(freqKey{fr, i})
	}
	lo, hi := math.MaxInt32, -1
	for _, r := range f.Ranges {
		if r.MSIndex != msIndex || (r.SpectralWindow != -1 && r.SpectralWindow != spwID) {
			continue
		}
		first, ok1 := tree.Ceil(freqKey{r.Low - f.Tolerance, -1}).(freqKey)
		last, ok2 := tree.Floor(freqKey{r.High + f.Tolerance, math.MaxInt32}).(freqKey)
		if !ok1 || !ok2 || first.freq > last.freq {
			continue
		}
		for _, c := range []int{first.channel, last.channel} {
			if c < lo {
				lo = c
			}
			if c > hi {
				hi = c
			}
		}
	}
	if hi < 0 {
		return ChannelWindow{}, false
	}
	n := hi - lo + 1
	w = ChannelWindow{Start: lo, Width: n, Inc: 1, NGroups: 1}
	if f.GroupWidth > 0 && len(spw.ChanWidth) > lo {
		width := int(math.Round(f.GroupWidth / math.Abs(spw.ChanWidth[lo])))
		if width < 1 {
			width = 1
		}
		if width < n {
			w.Width = width
			w.NGroups = n / width
		}
	}
	return w, true
}

// selectionPhase is the state of a selectionState.
type selectionPhase int

const (
	// selectionActive means the active selection is in effect and nothing
	// is staged.
	selectionActive selectionPhase = iota
	// selectionPendingReplacement means a replacement is staged and the
	// iterator refuses to move until OriginChunks applies it.
	selectionPendingReplacement
)

// selectionConfig is an immutable channel and frequency selection.
type selectionConfig struct {
	channels    *ChannelSelectionState
	frequencies *FrequencySelection
}

// selectionState stages selection changes. OriginChunks is the only
// transition from selectionPendingReplacement to selectionActive.
type selectionState struct {
	phase   selectionPhase
	active  selectionConfig
	pending selectionConfig
}

// next returns the configuration that a new change should build on: the
// staged one if any, else the active one.
func (s *selectionState) next() selectionConfig {
	if s.phase == selectionPendingReplacement {
		return s.pending
	}
	return s.active
}

func (s *selectionState) stage(cfg selectionConfig) {
	s.pending = cfg
	s.phase = selectionPendingReplacement
}

// commit applies the staged configuration. It reports whether anything
// changed.
func (s *selectionState) commit() bool {
	if s.phase != selectionPendingReplacement {
		return false
	}
	s.active, s.pending = s.pending, selectionConfig{}
	s.phase = selectionActive
	return true
}

func (s *selectionState) isPending() bool { return s.phase == selectionPendingReplacement }
