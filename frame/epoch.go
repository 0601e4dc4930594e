// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package frame implements the geometry and frame conversions used by the
// visibility iterator: sidereal time, ITRF to geodetic coordinates, hour
// angle, azimuth/elevation and parallactic angle per antenna, and frequency
// conversion between the TOPO, GEO, BARY and LSRK frames.
//
// Times are UTC seconds since MJD 0 (the MS TIME convention); UT1-UTC and
// TT-UT are ignored. Directions are J2000 (RA, Dec) in radians and are not
// precessed to the date, which limits the accuracy of derived angles to a few
// arcminutes over recent decades. Sidereal time, horizontal coordinates,
// parallactic angles and the solar position come from
// github.com/soniakeys/meeus.
package frame

import (
	"math"

	"github.com/soniakeys/meeus/v3/base"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/unit"
)

const (
	// SecondsPerDay is the number of seconds in one day.
	SecondsPerDay = 86400.0
	// MJDJ2000 is the MJD of the J2000.0 epoch.
	MJDJ2000 = 51544.5

	twoPi = 2 * math.Pi
	deg   = math.Pi / 180

	// WGS84 ellipsoid.
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
)

// DaysSinceJ2000 converts MS time to days since J2000.0.
func DaysSinceJ2000(t float64) float64 { return t/SecondsPerDay - MJDJ2000 }

// JulianDay converts MS time to a Julian day number.
func JulianDay(t float64) float64 { return t/SecondsPerDay + base.JMod }

// julianCentury is the number of Julian centuries since J2000.0.
func julianCentury(t float64) float64 { return base.J2000Century(JulianDay(t)) }

// siderealRad converts sidereal time to an angle in [0, 2π).
func siderealRad(st unit.Time) float64 { return normalize(float64(st) * twoPi / SecondsPerDay) }

// GMST returns the Greenwich mean sidereal time at t, in radians in [0, 2π).
func GMST(t float64) float64 { return siderealRad(sidereal.Mean(JulianDay(t))) }

// gast is the Greenwich apparent sidereal time.
func gast(t float64) unit.Time { return sidereal.Apparent(JulianDay(t)) }

// GAST returns the Greenwich apparent sidereal time at t, in radians in
// [0, 2π).
func GAST(t float64) float64 { return siderealRad(gast(t)) }

// LAST returns the local apparent sidereal time at east longitude lon.
func LAST(t, lon float64) float64 { return normalize(GAST(t) + lon) }

// normalize maps an angle to [0, 2π).
func normalize(a float64) float64 {
	a = math.Mod(a, twoPi)
	if a < 0 {
		a += twoPi
	}
	return a
}

// wrap maps an angle to (-π, π].
func wrap(a float64) float64 {
	a = normalize(a)
	if a > math.Pi {
		a -= twoPi
	}
	return a
}

// Geodetic converts an ITRF position in meters to WGS84 east longitude,
// latitude (radians) and height (meters).
func Geodetic(pos [3]float64) (lon, lat, height float64) {
	x, y, z := pos[0], pos[1], pos[2]
	e2 := wgs84F * (2 - wgs84F)
	lon = math.Atan2(y, x)
	p := math.Hypot(x, y)
	if p == 0 {
		lat = math.Copysign(math.Pi/2, z)
		return lon, lat, math.Abs(z) - wgs84A*(1-wgs84F)
	}
	lat = math.Atan2(z, p*(1-e2))
	for i := 0; i < 8; i++ {
		sin := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-e2*sin*sin)
		height = p/math.Cos(lat) - n
		lat = math.Atan2(z, p*(1-e2*n/(n+height)))
	}
	return lon, lat, height
}
