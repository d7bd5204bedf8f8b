package vtencode

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEmptyFeaturesReturnsNil(t *testing.T) {
	data, err := Encode(0, 0, 0, 10, "layer", nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestEncodeProducesValidGzippedMVT(t *testing.T) {
	features := []Feature{
		{Geometry: orb.Point{0.01, 0.01}, Properties: map[string]interface{}{"name": "test"}},
	}
	data, err := Encode(0, 0, 0, 12, "layer", features)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	gr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	raw, err := io.ReadAll(gr)
	require.NoError(t, err)

	layers, err := mvt.Unmarshal(raw)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, "layer", layers[0].Name)
	assert.Equal(t, uint32(1<<12), layers[0].Extent)
}

func TestEncodeExtentMatchesDetail(t *testing.T) {
	features := []Feature{{Geometry: orb.Point{0, 0}}}
	for _, detail := range []int{8, 10, 14} {
		data, err := Encode(0, 0, 0, detail, "layer", features)
		require.NoError(t, err)
		require.NotEmpty(t, data)

		gr, err := gzip.NewReader(bytes.NewReader(data))
		require.NoError(t, err)
		raw, err := io.ReadAll(gr)
		require.NoError(t, err)
		layers, err := mvt.Unmarshal(raw)
		require.NoError(t, err)
		assert.Equal(t, uint32(1)<<uint(detail), layers[0].Extent)
	}
}

func TestEncodeFeatureOutsideTileClippedAway(t *testing.T) {
	// tile (z=4,x=0,y=0) covers roughly lon [-180,-157.5], lat near north pole;
	// a feature at (0,0) lon/lat is far outside it and should clip away to nothing.
	features := []Feature{{Geometry: orb.Point{0, 0}}}
	data, err := Encode(4, 0, 0, 12, "layer", features)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSimplifyEpsilonMonotonicByZoom(t *testing.T) {
	assert.Equal(t, 0.0, simplifyEpsilon(14))
	assert.Equal(t, 0.0, simplifyEpsilon(20))
	assert.Greater(t, simplifyEpsilon(10), simplifyEpsilon(14))
	assert.Greater(t, simplifyEpsilon(6), simplifyEpsilon(10))
	assert.Greater(t, simplifyEpsilon(4), simplifyEpsilon(6))
	assert.Greater(t, simplifyEpsilon(0), simplifyEpsilon(4))
}

func TestCloneGeometryIndependentOfSource(t *testing.T) {
	ls := orb.LineString{{0, 0}, {1, 1}}
	clone := cloneGeometry(ls).(orb.LineString)
	clone[0] = orb.Point{99, 99}
	assert.Equal(t, orb.Point{0, 0}, ls[0], "mutating the clone must not affect the source")
}

func TestClonePolygonIndependentOfSource(t *testing.T) {
	p := orb.Polygon{orb.Ring{{0, 0}, {0, 1}, {1, 1}, {0, 0}}}
	clone := clonePolygon(p)
	clone[0][0] = orb.Point{99, 99}
	assert.Equal(t, orb.Point{0, 0}, p[0][0])
}

func TestCloneGeometryMultiPolygon(t *testing.T) {
	mp := orb.MultiPolygon{
		{orb.Ring{{0, 0}, {0, 1}, {1, 1}, {0, 0}}},
	}
	clone := cloneGeometry(mp).(orb.MultiPolygon)
	clone[0][0][0] = orb.Point{99, 99}
	assert.Equal(t, orb.Point{0, 0}, mp[0][0][0])
}
