// Package coord implements the Projector: pure, stateless conversions
// between (lat, lon) and the 32-bit world-pixel grid used throughout the
// pipeline, plus tile-index and tile-bound helpers built on top of it.
//
// World coordinates follow spec.md §3: an unsigned 32-bit integer pair
// (X, Y) covering the Mercator world at zoom 32. Shifting right by
// (32 - z) yields the tile index at zoom z.
package coord

import "math"

// World is a position on the 2^32 x 2^32 Mercator pixel grid.
type World struct {
	X, Y uint32
}

// Bound is a geographic bounding box in (lon, lat) degrees.
type Bound struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// LatLonToWorld projects (lat, lon) to the 32-bit world grid using
// spherical Web Mercator, matching original_source/geojson.c's
// latlon2tile(lat, lon, 32, &x, &y). Out-of-range latitudes saturate
// rather than error: latitudes beyond +-85.0511 (the Mercator limit) are
// clamped to it before projecting, so they land on the grid's top or
// bottom edge.
func LatLonToWorld(lat, lon float64) World {
	x, y := latLonToTile(lat, lon, 32)
	return World{X: uint32(x), Y: uint32(y)}
}

// WorldToLatLon is the inverse of LatLonToWorld.
func WorldToLatLon(w World) (lat, lon float64) {
	return tileToLatLon(float64(w.X), float64(w.Y), 32)
}

// TileAt returns the tile index containing world coordinate w at zoom z.
// z must be in [0, 32].
func TileAt(w World, z uint8) (x, y uint32) {
	shift := 32 - uint(z)
	if shift >= 32 {
		return 0, 0
	}
	return w.X >> shift, w.Y >> shift
}

// TileCenterWorld returns the world-grid coordinate at the center of tile
// (z, x, y). z must be less than 32.
func TileCenterWorld(z uint8, x, y uint32) World {
	shift := uint(32 - z)
	half := uint32(1) << (shift - 1)
	return World{X: x<<shift + half, Y: y<<shift + half}
}

// TileBound returns the geographic extent of tile (z, x, y).
func TileBound(z uint8, x, y uint32) Bound {
	maxLat, minLon := tileToLatLon(float64(x), float64(y), float64(z))
	minLat, maxLon := tileToLatLon(float64(x+1), float64(y+1), float64(z))
	return Bound{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat}
}

// latLonToTile returns fractional tile coordinates at zoom z. LatLonToWorld
// calls it with z=32 for the full-precision world grid; tile indices at
// smaller zooms come from bit-shifting that 32-bit form (TileAt), not from
// calling this with a smaller z.
func latLonToTile(lat, lon, z float64) (x, y float64) {
	n := math.Exp2(z)

	lon = wrapLon(lon)
	x = (lon + 180.0) / 360.0 * n

	latRad := lat * math.Pi / 180.0
	// Clamp to the Mercator-valid range to avoid NaN/Inf from log(tan(...)).
	const maxLat = 85.0511287798
	if lat > maxLat {
		latRad = maxLat * math.Pi / 180.0
	} else if lat < -maxLat {
		latRad = -maxLat * math.Pi / 180.0
	}
	y = (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n

	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	max := n - 1
	if max < 0 {
		max = 0
	}
	if x > max {
		x = max
	}
	if y > max {
		y = max
	}
	return x, y
}

func tileToLatLon(x, y, z float64) (lat, lon float64) {
	n := math.Exp2(z)
	lon = x/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*y/n)))
	lat = latRad * 180.0 / math.Pi
	return lat, lon
}

func wrapLon(lon float64) float64 {
	for lon < -180 {
		lon += 360
	}
	for lon >= 180 {
		lon -= 360
	}
	return lon
}
