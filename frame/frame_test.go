package frame

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vla = [3]float64{-1601185.4, -5041977.5, 3554875.9}

func TestGMST(t *testing.T) {
	j2000 := MJDJ2000 * SecondsPerDay
	assert.InDelta(t, 280.46061837*deg, GMST(j2000), 1e-7)
	// One sidereal day later GMST is back to the same value.
	sidereal := SecondsPerDay * 360 / 360.98564736629
	assert.InDelta(t, GMST(j2000), GMST(j2000+sidereal), 1e-6)
	// Six hours of UT advance GMST by a bit more than 90 degrees.
	assert.InDelta(t, 90.2464*deg, normalize(GMST(j2000+6*3600)-GMST(j2000)), 1e-4)
	// The equation of the equinoxes stays below 1.2 seconds of time.
	assert.InDelta(t, 0, wrap(GAST(j2000)-GMST(j2000)), 1.2*twoPi/SecondsPerDay)
}

// venus1987 is 1987 April 10, 19:21:00 UT.
const venus1987 = (2446896.30625 - 2400000.5) * SecondsPerDay

func TestSiderealTime(t *testing.T) {
	hms := func(h, m, s float64) float64 { return (h + m/60 + s/3600) * 15 * deg }
	assert.InDelta(t, hms(8, 34, 57.0896), GMST(venus1987), 1e-6)
	assert.InDelta(t, hms(8, 34, 56.853), GAST(venus1987), 1e-5)
}

func TestHorizontal(t *testing.T) {
	// Venus seen from the US Naval Observatory, with apparent coordinates.
	o := observer{
		lon: -(77 + 3/60.0 + 56/3600.0) * deg,
		lat: (38 + 55/60.0 + 17/3600.0) * deg,
	}
	dir := Direction{
		RA:  (23 + 9/60.0 + 16.641/3600) * 15 * deg,
		Dec: -(6 + 43/60.0 + 11.61/3600) * deg,
	}
	ae := azel(gast(venus1987), o, dir)
	assert.InDelta(t, 68.0337+180, ae.Az/deg, 2e-3)
	assert.InDelta(t, 15.1249, ae.El/deg, 2e-3)
}

func TestGeodetic(t *testing.T) {
	lon, lat, h := Geodetic(vla)
	assert.InDelta(t, -107.618, lon/deg, 0.01)
	assert.InDelta(t, 34.079, lat/deg, 0.01)
	assert.InDelta(t, 2115, h, 60)

	_, lat, _ = Geodetic([3]float64{0, 0, 6356752.3})
	assert.InDelta(t, math.Pi/2, lat, 1e-12)
}

func TestAngles(t *testing.T) {
	const t0 = 4.9e9
	lon, lat, _ := Geodetic(vla)
	// A source transiting south of the zenith at t0.
	dir := Direction{RA: LAST(t0, lon), Dec: lat - 0.3}
	d := NewDerivedValues([][3]float64{vla}, []Mount{MountAltAz}, dir)

	assert.InDelta(t, 0, HourangCalculate(t0, d), 1e-9)
	ae := Azel0Calculate(t0, d)
	assert.InDelta(t, math.Pi, ae.Az, 1e-6)
	assert.InDelta(t, math.Pi/2-0.3, ae.El, 1e-9)
	assert.InDelta(t, 0, Parang0Calculate(t0, d), 1e-9)

	// An hour later the source has moved west: positive hour angle, and the
	// parallactic angle has turned positive.
	t1 := t0 + 3600
	assert.InDelta(t, 15.041*deg, HourangCalculate(t1, d), 1e-3)
	assert.True(t, Parang0Calculate(t1, d) > 0)
	assert.True(t, AzelCalculate(t1, d)[0].Az > math.Pi)

	parang := ParangCalculate(t1, d)[0]
	el := AzelCalculate(t1, d)[0].El
	for _, test := range []struct {
		mount Mount
		want  float64
	}{
		{MountAltAz, parang},
		{MountEquatorial, 0},
		{MountNasmythR, parang + el},
		{MountNasmythL, parang - el},
	} {
		d := NewDerivedValues([][3]float64{vla}, []Mount{test.mount}, dir)
		assert.InDelta(t, test.want, ParangCalculate(t1, d)[0], 1e-12, "mount %v", test.mount)
	}

	feed := FeedPACalculate(t1, d, [][]float64{{0.25, 1.8}})
	assert.InDelta(t, parang+0.25, feed[0], 1e-12)
	assert.Equal(t, parang, FeedPACalculate(t1, d, nil)[0])
}

func TestParseMount(t *testing.T) {
	assert.Equal(t, MountAltAz, ParseMount("ALT-AZ"))
	assert.Equal(t, MountEquatorial, ParseMount("equatorial"))
	assert.Equal(t, MountNasmythR, ParseMount("ALT-AZ+NASMYTH-R"))
	assert.Equal(t, MountNasmythL, ParseMount("NASMYTH-L"))
	assert.Equal(t, MountAltAz, ParseMount("X-Y"))
}

func TestObserverVelocity(t *testing.T) {
	const t0 = 4.9e9
	norm := func(v [3]float64) float64 { return math.Sqrt(dot(v, v)) }
	assert.Equal(t, 0.0, norm(ObserverVelocity(TOPO, t0, vla)))

	geo := ObserverVelocity(GEO, t0, vla)
	assert.InDelta(t, earthRotation*math.Hypot(vla[0], vla[1]), norm(geo), 1e-6)
	assert.InDelta(t, 0, geo[2], 1e-9)

	// The orbital speed stays within 29.29 and 30.29 km/s.
	orbit := orbitalVelocity(t0)
	assert.InDelta(t, 29790, norm(orbit), 550)
	// It lies in the ecliptic, nearly perpendicular to the sun direction.
	pole := [3]float64{0, -math.Sin(obliquity), math.Cos(obliquity)}
	assert.InDelta(t, 0, dot(orbit, pole), 1e-6)
	x, y := sunPosition(t0)
	sun := [3]float64{x, y * math.Cos(obliquity), y * math.Sin(obliquity)}
	assert.InDelta(t, 0, dot(orbit, sun)/(norm(orbit)*norm(sun)), 0.02)

	bary := ObserverVelocity(BARY, t0, vla)
	assert.InDelta(t, norm(orbit), norm(bary), norm(geo)+1e-6)

	lsrk := ObserverVelocity(LSRK, t0, vla)
	assert.InDelta(t, 0, norm(lsrk), norm(bary)+lsrkSpeed+1)
}

func TestFrequencyConverter(t *testing.T) {
	const t0 = 4.9e9
	dir := Direction{RA: 1.2, Dec: 0.4}
	id := NewFrequencyConverter(TOPO, TOPO, t0, vla, dir)
	assert.Equal(t, 1.4e9, id.Convert(1.4e9))

	for _, f := range []FreqFrame{GEO, BARY, LSRK} {
		to := NewFrequencyConverter(TOPO, f, t0, vla, dir)
		back := NewFrequencyConverter(f, TOPO, t0, vla, dir)
		freqs := to.ConvertAll([]float64{1.4e9, 1.5e9})
		assert.InDelta(t, 1.4e9, back.Convert(freqs[0]), 1e-3)
		// |v| < 60 km/s bounds the relative shift.
		assert.InDelta(t, 1.4e9, freqs[0], 1.4e9*60e3/SpeedOfLight)

		v := RadialVelocity(f, t0, vla, dir)
		want := 1.4e9 / ((1 + v/SpeedOfLight) / math.Sqrt(1-v*v/(SpeedOfLight*SpeedOfLight)))
		assert.InDelta(t, want, freqs[0], 1e-3)
	}
}

func TestParseFreqFrame(t *testing.T) {
	for _, name := range []string{"TOPO", "GEO", "BARY", "LSRK"} {
		f, err := ParseFreqFrame(name)
		require.NoError(t, err)
		assert.Equal(t, name, f.String())
	}
	f, err := ParseFreqFrame("")
	require.NoError(t, err)
	assert.Equal(t, TOPO, f)
	_, err = ParseFreqFrame("LSRD")
	assert.Error(t, err)
}

func TestDoppler(t *testing.T) {
	const f0 = 1420.405751786e6
	f := f0 * (1 - 1e-3)
	assert.InDelta(t, SpeedOfLight*1e-3, FrequencyToVelocity(f, f0, Radio), 1e-6)
	assert.InDelta(t, SpeedOfLight*(1/(1-1e-3)-1), FrequencyToVelocity(f, f0, Optical), 1e-6)
	for _, def := range []Doppler{Radio, Optical, Relativistic} {
		v := FrequencyToVelocity(f, f0, def)
		assert.InDelta(t, f, VelocityToFrequency(v, f0, def), 1e-3, "doppler %v", def)
	}
	assert.Equal(t, 0.0, FrequencyToVelocity(f0, f0, Relativistic))
}
