package archive

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZxyToIDRootTileIsZero(t *testing.T) {
	assert.Equal(t, uint64(0), ZxyToID(0, 0, 0))
}

func TestZxyToIDUniquePerTile(t *testing.T) {
	seen := make(map[uint64]bool)
	for z := uint8(0); z <= 4; z++ {
		n := uint32(1) << uint(z)
		for x := uint32(0); x < n; x++ {
			for y := uint32(0); y < n; y++ {
				id := ZxyToID(z, x, y)
				require.False(t, seen[id], "collision at z=%d x=%d y=%d id=%d", z, x, y, id)
				seen[id] = true
			}
		}
	}
}

func TestPutDeduplicatesSameTile(t *testing.T) {
	w := &Writer{seen: make(map[uint64]bool)}
	w.Put(1, 0, 0, []byte("aaa"))
	w.Put(1, 0, 0, []byte("bbb"))
	assert.Equal(t, 1, w.Len())
}

func TestPutSkipsEmptyData(t *testing.T) {
	w := &Writer{seen: make(map[uint64]bool)}
	w.Put(1, 0, 0, nil)
	assert.Equal(t, 0, w.Len())
}

func TestFinalizeRequiresAtLeastOneTile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "out.pmtiles"), false)
	require.NoError(t, err)
	err = w.Finalize(Meta{})
	assert.Error(t, err)
}

func TestFinalizeWritesPMTilesMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pmtiles")
	w, err := NewWriter(path, false)
	require.NoError(t, err)
	w.Put(0, 0, 0, []byte{0x1f, 0x8b, 0x01, 0x02})

	err = w.Finalize(Meta{Name: "test", LayerName: "layer", MinZoom: 0, MaxZoom: 0, Fields: []string{"name"}})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), HeaderV3LenBytes)
	assert.Equal(t, "PMTiles", string(data[0:7]))
	assert.Equal(t, uint8(3), data[7])
}

func TestNewWriterForceRemovesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pmtiles")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	_, err := NewWriter(path, true)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestNewWriterWithoutForceLeavesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pmtiles")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	_, err := NewWriter(path, false)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "stale", string(data))
}

func TestSerializeMetadataGzipRoundTrip(t *testing.T) {
	data, err := SerializeMetadata(map[string]interface{}{"name": "x"}, Gzip)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	gr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	raw, err := io.ReadAll(gr)
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "x", got["name"])
}

func TestSerializeMetadataUnsupportedCompression(t *testing.T) {
	_, err := SerializeMetadata(map[string]interface{}{}, Brotli)
	assert.Error(t, err)
}

func TestFieldsMapCoversEveryField(t *testing.T) {
	m := fieldsMap([]string{"name", "population"})
	assert.Equal(t, "String", m["name"])
	assert.Equal(t, "String", m["population"])
	assert.Len(t, m, 2)
}
