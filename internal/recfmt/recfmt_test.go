package recfmt

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vtpyramid/vtpyramid/internal/opstream"
)

func TestTileHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteTileHeader(w, TileHeader{Z: 3, X: 4, Y: 5}))
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	rec, err := r.Next()
	require.NoError(t, err)
	assert.True(t, rec.IsTileHeader)
	assert.Equal(t, TileHeader{Z: 3, X: 4, Y: 5}, rec.Tile)
}

func TestEndOfLevelReturnsEOF(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteEndOfLevel(w))
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestGenuineEOFAlsoReturnsEOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFeatureRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteFeatureHeader(w, FeatureHeader{Kind: opstream.PrimLine, MetaOffset: 123}))
	require.NoError(t, opstream.WriteEnd(w))
	require.NoError(t, WriteMinzoom(w, 7))
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	rec, err := r.Next()
	require.NoError(t, err)
	assert.False(t, rec.IsTileHeader)
	assert.Equal(t, opstream.PrimLine, rec.Feature.Kind)
	assert.Equal(t, int64(123), rec.Feature.MetaOffset)
	assert.Equal(t, int8(7), rec.MinZoom)
	assert.Empty(t, rec.Ops)
}

func TestUnrecognizedTagErrors(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, writeInt32(w, -99))
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	_, err := r.Next()
	assert.Error(t, err)
}

func TestMixedStreamOrdering(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteTileHeader(w, TileHeader{Z: 0, X: 0, Y: 0}))
	require.NoError(t, WriteFeatureHeader(w, FeatureHeader{Kind: opstream.PrimPoint, MetaOffset: 0}))
	require.NoError(t, opstream.WriteEnd(w))
	require.NoError(t, WriteMinzoom(w, 0))
	require.NoError(t, WriteEndOfLevel(w))
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	first, err := r.Next()
	require.NoError(t, err)
	assert.True(t, first.IsTileHeader)

	second, err := r.Next()
	require.NoError(t, err)
	assert.False(t, second.IsTileHeader)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
