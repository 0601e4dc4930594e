package vi

import "github.com/grailbio/msvis/frame"

// The frame getters are pure functions of the time argument and the
// geometry of the current chunk. Each is memoized on the last time it was
// called with; geometry changes with the chunk drop the memos. Slices are
// returned as copies of the memo.
//
// REQUIRES: MoreChunks().

// FeedPA returns the position angle of the first receptor of every
// antenna's feed at time t, in radians.
func (c *ReadCursor) FeedPA(t float64) []float64 {
	return clone(c.frames.feedPA.get(t, func() []float64 {
		return c.calc.FeedPA(t, c.derived, c.chunks.ReceptorAngles())
	}))
}

// Parang returns the parallactic angle of every antenna at time t.
func (c *ReadCursor) Parang(t float64) []float64 {
	return clone(c.frames.parang.get(t, func() []float64 { return c.calc.Parang(t, c.derived) }))
}

// Parang0 returns the parallactic angle at the array reference position.
func (c *ReadCursor) Parang0(t float64) float64 {
	return c.frames.parang0.get(t, func() float64 { return c.calc.Parang0(t, c.derived) })
}

// Azel returns the azimuth and elevation of the phase center for every
// antenna.
func (c *ReadCursor) Azel(t float64) []frame.AzEl {
	return clone(c.frames.azel.get(t, func() []frame.AzEl { return c.calc.Azel(t, c.derived) }))
}

// Azel0 returns the azimuth and elevation at the array reference position.
func (c *ReadCursor) Azel0(t float64) frame.AzEl {
	return c.frames.azel0.get(t, func() frame.AzEl { return c.calc.Azel0(t, c.derived) })
}

// HourAngle returns the hour angle of the phase center at the array
// reference position.
func (c *ReadCursor) HourAngle(t float64) float64 {
	return c.frames.hourang.get(t, func() float64 { return c.calc.HourAngle(t, c.derived) })
}

func clone[T any](s []T) []T { return append([]T(nil), s...) }
