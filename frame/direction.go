package frame

import (
	"math"
	"strings"

	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/parallactic"
	"github.com/soniakeys/unit"
)

// Mount is an antenna mount type.
type Mount int

const (
	// MountAltAz is an alt-azimuth mount. Unknown mount strings map to it.
	MountAltAz Mount = iota
	// MountEquatorial mounts track the sky without rotating the feed.
	MountEquatorial
	// MountNasmythR is alt-az with a right Nasmyth focus.
	MountNasmythR
	// MountNasmythL is alt-az with a left Nasmyth focus.
	MountNasmythL
)

// ParseMount parses an ANTENNA MOUNT value such as "ALT-AZ", "EQUATORIAL"
// or "ALT-AZ+NASMYTH-R".
func ParseMount(s string) Mount {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "EQUATORIAL"):
		return MountEquatorial
	case strings.HasSuffix(s, "NASMYTH-R"):
		return MountNasmythR
	case strings.HasSuffix(s, "NASMYTH-L"):
		return MountNasmythL
	}
	return MountAltAz
}

// Direction is a J2000 direction in radians.
type Direction struct {
	RA, Dec float64
}

// AzEl is a horizontal direction in radians. Az is measured from north
// through east, in [0, 2π).
type AzEl struct {
	Az, El float64
}

// observer is a geodetic position.
type observer struct {
	lon, lat float64
	itrf     [3]float64
}

// DerivedValues binds the antenna geometry of an array and a reference
// direction. It is immutable once built, except through SetDirection, and
// may be shared by concurrent readers that do not call SetDirection.
type DerivedValues struct {
	antennas []observer
	mounts   []Mount
	ref      observer
	dir      Direction
}

// NewDerivedValues creates the derived values for antennas at the given ITRF
// positions. mounts may be shorter than positions; missing entries are
// alt-az. The array reference position is the mean antenna position.
func NewDerivedValues(positions [][3]float64, mounts []Mount, dir Direction) *DerivedValues {
	d := &DerivedValues{dir: dir, mounts: make([]Mount, len(positions))}
	copy(d.mounts, mounts)
	var mean [3]float64
	for _, p := range positions {
		lon, lat, _ := Geodetic(p)
		d.antennas = append(d.antennas, observer{lon: lon, lat: lat, itrf: p})
		for k := range mean {
			mean[k] += p[k] / float64(len(positions))
		}
	}
	if len(positions) > 0 {
		lon, lat, _ := Geodetic(mean)
		d.ref = observer{lon: lon, lat: lat, itrf: mean}
	}
	return d
}

// NumAntennas returns the number of antennas.
func (d *DerivedValues) NumAntennas() int { return len(d.antennas) }

// Direction returns the reference direction.
func (d *DerivedValues) Direction() Direction { return d.dir }

// SetDirection changes the reference direction.
func (d *DerivedValues) SetDirection(dir Direction) { d.dir = dir }

// ReferencePosition returns the ITRF array reference position.
func (d *DerivedValues) ReferencePosition() [3]float64 { return d.ref.itrf }

// hourAngle returns the hour angle of dir seen from o at Greenwich sidereal
// time st, in (-π, π].
func hourAngle(st unit.Time, o observer, dir Direction) float64 {
	return wrap(siderealRad(st) + o.lon - dir.RA)
}

// azel converts dir to horizontal coordinates at o. meeus measures azimuth
// westward from south and longitude positive west.
func azel(st unit.Time, o observer, dir Direction) AzEl {
	a, h := coord.EqToHz(unit.RA(dir.RA), unit.Angle(dir.Dec), unit.Angle(o.lat), unit.Angle(-o.lon), st)
	return AzEl{Az: normalize(float64(a) + math.Pi), El: float64(h)}
}

func parallacticAngle(o observer, dir Direction, ha float64) float64 {
	return float64(parallactic.ParallacticAngle(unit.Angle(o.lat), unit.Angle(dir.Dec), unit.HourAngle(ha)))
}

// HourangCalculate returns the hour angle of the reference direction at the
// array reference position, in (-π, π].
func HourangCalculate(t float64, d *DerivedValues) float64 {
	return hourAngle(gast(t), d.ref, d.dir)
}

// AzelCalculate returns the azimuth and elevation of the reference direction
// at each antenna.
func AzelCalculate(t float64, d *DerivedValues) []AzEl {
	st := gast(t)
	out := make([]AzEl, len(d.antennas))
	for i, o := range d.antennas {
		out[i] = azel(st, o, d.dir)
	}
	return out
}

// Azel0Calculate returns the azimuth and elevation of the reference direction
// at the array reference position.
func Azel0Calculate(t float64, d *DerivedValues) AzEl {
	return azel(gast(t), d.ref, d.dir)
}

// ParangCalculate returns the parallactic angle of every antenna, corrected
// for its mount: zero for equatorial mounts, plus or minus the elevation for
// Nasmyth foci.
func ParangCalculate(t float64, d *DerivedValues) []float64 {
	st := gast(t)
	out := make([]float64, len(d.antennas))
	for i, o := range d.antennas {
		if d.mounts[i] == MountEquatorial {
			continue
		}
		out[i] = parallacticAngle(o, d.dir, hourAngle(st, o, d.dir))
		switch d.mounts[i] {
		case MountNasmythR:
			out[i] += azel(st, o, d.dir).El
		case MountNasmythL:
			out[i] -= azel(st, o, d.dir).El
		}
	}
	return out
}

// Parang0Calculate returns the parallactic angle at the array reference
// position, assuming an alt-az mount.
func Parang0Calculate(t float64, d *DerivedValues) float64 {
	return parallacticAngle(d.ref, d.dir, HourangCalculate(t, d))
}

// FeedPACalculate returns the position angle of the first receptor of every
// antenna's feed: its parallactic angle plus its receptor angle.
// receptorAngles is indexed by antenna; a missing or empty entry counts as
// zero.
func FeedPACalculate(t float64, d *DerivedValues, receptorAngles [][]float64) []float64 {
	pa := ParangCalculate(t, d)
	for i := range pa {
		if i < len(receptorAngles) && len(receptorAngles[i]) > 0 {
			pa[i] += receptorAngles[i][0]
		}
	}
	return pa
}
