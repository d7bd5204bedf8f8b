package coord

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatLonToWorldRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		lat, lon float64
	}{
		{"null island", 0, 0},
		{"greenwich", 51.5, 0},
		{"antimeridian east", 10, 179.9},
		{"antimeridian west", 10, -179.9},
		{"near north pole", 85, 120},
		{"near south pole", -85, -120},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := LatLonToWorld(c.lat, c.lon)
			lat, lon := WorldToLatLon(w)
			assert.InDelta(t, c.lat, lat, 0.01)
			assert.InDelta(t, c.lon, lon, 0.01)
		})
	}
}

func TestLatLonToWorldSaturatesAtPoles(t *testing.T) {
	north := LatLonToWorld(90, 0)
	farNorth := LatLonToWorld(89.9999, 0)
	assert.Equal(t, farNorth.Y, north.Y, "both saturate to the same top row")

	south := LatLonToWorld(-90, 0)
	assert.Greater(t, south.Y, north.Y)
}

func TestTileAt(t *testing.T) {
	w := LatLonToWorld(0, 0)
	x, y := TileAt(w, 0)
	assert.Equal(t, uint32(0), x)
	assert.Equal(t, uint32(0), y)

	x, y = TileAt(w, 1)
	assert.LessOrEqual(t, x, uint32(1))
	assert.LessOrEqual(t, y, uint32(1))
}

func TestTileAtShiftOverflow(t *testing.T) {
	w := World{X: 1, Y: 1}
	x, y := TileAt(w, 33)
	assert.Equal(t, uint32(0), x)
	assert.Equal(t, uint32(0), y)
}

func TestTileCenterWorld(t *testing.T) {
	center := TileCenterWorld(0, 0, 0)
	require.Equal(t, uint32(1)<<31, center.X)
	require.Equal(t, uint32(1)<<31, center.Y)

	lat, lon := WorldToLatLon(center)
	assert.InDelta(t, 0, lon, 0.001)
	assert.InDelta(t, 0, lat, 0.001)
}

func TestTileBoundContainsCenter(t *testing.T) {
	b := TileBound(3, 4, 3)
	assert.Less(t, b.MinLon, b.MaxLon)
	assert.Less(t, b.MinLat, b.MaxLat)

	lat, lon := WorldToLatLon(TileCenterWorld(3, 4, 3))
	assert.Greater(t, lon, b.MinLon)
	assert.Less(t, lon, b.MaxLon)
	assert.Greater(t, lat, b.MinLat)
	assert.Less(t, lat, b.MaxLat)
}

func TestWrapLon(t *testing.T) {
	assert.InDelta(t, 179.0, wrapLon(179), 1e-9)
	assert.InDelta(t, -179.0, wrapLon(181), 1e-9)
	assert.InDelta(t, 179.0, wrapLon(-181), 1e-9)
}

func TestLatLonToTileMonotonic(t *testing.T) {
	x1, _ := latLonToTile(0, -10, 4)
	x2, _ := latLonToTile(0, 10, 4)
	assert.Less(t, x1, x2)

	_, y1 := latLonToTile(10, 0, 4)
	_, y2 := latLonToTile(-10, 0, 4)
	assert.Less(t, y1, y2)
}

func TestTileToLatLonAtOrigin(t *testing.T) {
	lat, lon := tileToLatLon(0, 0, 0)
	assert.InDelta(t, 85.0511287798, lat, 1e-6)
	assert.InDelta(t, -180.0, lon, 1e-9)
}

func TestLatLonToWorldNaNGuard(t *testing.T) {
	w := LatLonToWorld(math.NaN(), 0)
	// NaN must not panic; result is unspecified but must be representable.
	_ = w
}
