package frame

import (
	"fmt"
	"math"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/soniakeys/meeus/v3/solar"
)

// SpeedOfLight in m/s.
const SpeedOfLight = 299792458.0

// FreqFrame is a frequency reference frame.
type FreqFrame int

const (
	// TOPO is the observatory frame.
	TOPO FreqFrame = iota
	// GEO is the geocentric frame.
	GEO
	// BARY is the solar-system barycentric frame. The barycenter is taken to
	// be the sun's center.
	BARY
	// LSRK is the kinematic local standard of rest.
	LSRK
)

var freqFrameNames = []string{"TOPO", "GEO", "BARY", "LSRK"}

func (f FreqFrame) String() string {
	if f < 0 || int(f) >= len(freqFrameNames) {
		return fmt.Sprintf("frame%d", int(f))
	}
	return freqFrameNames[f]
}

// ParseFreqFrame parses a MEAS_FREQ_REF name. An empty string is TOPO.
func ParseFreqFrame(s string) (FreqFrame, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return TOPO, nil
	}
	for i, n := range freqFrameNames {
		if n == s {
			return FreqFrame(i), nil
		}
	}
	return TOPO, errors.E(errors.Invalid, fmt.Sprintf("unsupported frequency frame %q", s))
}

const (
	earthRotation = 7.2921150e-5 // rad/s
	// obliquity is the mean obliquity of the ecliptic at J2000.0.
	obliquity = 23.4392911 * deg
	lsrkSpeed = 20000.0 // m/s
	au        = 1.495978707e11
	// orbitStep is the half-width, in seconds, of the central difference
	// used for the orbital velocity.
	orbitStep = 3600.0
)

// Solar apex of the LSRK definition: 20 km/s toward RA 18h03m50.29s,
// Dec +30d00m16.8s (J2000).
var lsrkApex = Direction{
	RA:  (18 + 3/60.0 + 50.29/3600) * 15 * deg,
	Dec: (30 + 0/60.0 + 16.8/3600) * deg,
}

func unitVector(dir Direction) [3]float64 {
	sinRA, cosRA := math.Sincos(dir.RA)
	sinDec, cosDec := math.Sincos(dir.Dec)
	return [3]float64{cosDec * cosRA, cosDec * sinRA, sinDec}
}

func dot(a, b [3]float64) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

// diurnalVelocity is the velocity of an ITRF position due to earth rotation,
// in equatorial coordinates.
func diurnalVelocity(t float64, pos [3]float64) [3]float64 {
	vx, vy := -earthRotation*pos[1], earthRotation*pos[0]
	sin, cos := math.Sincos(GAST(t))
	return [3]float64{vx*cos - vy*sin, vx*sin + vy*cos, 0}
}

// sunPosition is the geocentric ecliptic position of the sun in meters,
// referred to the J2000 equinox.
func sunPosition(t float64) (x, y float64) {
	c := julianCentury(t)
	lon, _ := solar.True2000(c)
	r := solar.Radius(c) * au
	sin, cos := math.Sincos(float64(lon))
	return r * cos, r * sin
}

// orbitalVelocity is the heliocentric velocity of the earth, in equatorial
// coordinates.
func orbitalVelocity(t float64) [3]float64 {
	x0, y0 := sunPosition(t - orbitStep)
	x1, y1 := sunPosition(t + orbitStep)
	// The earth's heliocentric position is the negated solar position.
	x, y := -(x1-x0)/(2*orbitStep), -(y1-y0)/(2*orbitStep)
	sinE, cosE := math.Sincos(obliquity)
	return [3]float64{x, y * cosE, y * sinE}
}

// ObserverVelocity returns the velocity, in m/s in equatorial coordinates, of
// an observer at ITRF position pos relative to the given frame.
func ObserverVelocity(frame FreqFrame, t float64, pos [3]float64) [3]float64 {
	var v [3]float64
	add := func(w [3]float64) {
		for k := range v {
			v[k] += w[k]
		}
	}
	if frame == TOPO {
		return v
	}
	add(diurnalVelocity(t, pos))
	if frame == GEO {
		return v
	}
	add(orbitalVelocity(t))
	if frame == BARY {
		return v
	}
	apex := unitVector(lsrkApex)
	add([3]float64{lsrkSpeed * apex[0], lsrkSpeed * apex[1], lsrkSpeed * apex[2]})
	return v
}

// RadialVelocity returns the observer velocity relative to frame projected
// on dir. It is positive when the observer approaches the source.
func RadialVelocity(frame FreqFrame, t float64, pos [3]float64, dir Direction) float64 {
	return dot(ObserverVelocity(frame, t, pos), unitVector(dir))
}

// dopplerFactor is f_topo / f_frame.
func dopplerFactor(frame FreqFrame, t float64, pos [3]float64, dir Direction) float64 {
	beta := RadialVelocity(frame, t, pos, dir) / SpeedOfLight
	return (1 + beta) / math.Sqrt(1-beta*beta)
}

// FrequencyConverter converts frequencies between frames for one observer,
// direction and time.
type FrequencyConverter struct {
	From, To FreqFrame
	factor   float64
}

// NewFrequencyConverter creates a converter from one frame to another.
func NewFrequencyConverter(from, to FreqFrame, t float64, pos [3]float64, dir Direction) FrequencyConverter {
	return FrequencyConverter{
		From:   from,
		To:     to,
		factor: dopplerFactor(from, t, pos, dir) / dopplerFactor(to, t, pos, dir),
	}
}

// Convert converts one frequency.
func (c FrequencyConverter) Convert(f float64) float64 { return f * c.factor }

// ConvertAll converts freqs into a new slice.
func (c FrequencyConverter) ConvertAll(freqs []float64) []float64 {
	out := make([]float64, len(freqs))
	for i, f := range freqs {
		out[i] = f * c.factor
	}
	return out
}

// Doppler is a velocity definition.
type Doppler int

const (
	// Radio velocity c(1 - f/f0).
	Radio Doppler = iota
	// Optical velocity c(f0/f - 1).
	Optical
	// Relativistic velocity c(f0² - f²)/(f0² + f²).
	Relativistic
)

// FrequencyToVelocity converts an observed frequency to a velocity relative
// to the rest frequency f0, in m/s.
func FrequencyToVelocity(f, f0 float64, def Doppler) float64 {
	switch def {
	case Optical:
		return SpeedOfLight * (f0/f - 1)
	case Relativistic:
		return SpeedOfLight * (f0*f0 - f*f) / (f0*f0 + f*f)
	default:
		return SpeedOfLight * (1 - f/f0)
	}
}

// VelocityToFrequency is the inverse of FrequencyToVelocity.
func VelocityToFrequency(v, f0 float64, def Doppler) float64 {
	switch def {
	case Optical:
		return f0 / (1 + v/SpeedOfLight)
	case Relativistic:
		return f0 * math.Sqrt((SpeedOfLight-v)/(SpeedOfLight+v))
	default:
		return f0 * (1 - v/SpeedOfLight)
	}
}
