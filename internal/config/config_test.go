package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	o := Defaults()
	assert.Equal(t, uint8(14), o.MaxZoom)
	assert.Equal(t, uint8(0), o.MinZoom)
	assert.Equal(t, 10, o.LowDetail)
	assert.Equal(t, 2.5, o.DropRate)
	assert.Equal(t, 5.0, o.Buffer)
	assert.NotEmpty(t, o.TmpDir)
}

func TestNormalizeFullDetailDefault(t *testing.T) {
	o := Options{MaxZoom: 14}
	o.Normalize(func(string) string { return "layer" })
	assert.Equal(t, 12, o.FullDetail)
}

func TestNormalizeFullDetailExplicitNotOverwritten(t *testing.T) {
	o := Options{MaxZoom: 14, FullDetail: 8}
	o.Normalize(func(string) string { return "layer" })
	assert.Equal(t, 8, o.FullDetail)
}

func TestNormalizeDerivesLayerNameFromInput(t *testing.T) {
	o := Options{Input: "roads.json"}
	called := ""
	o.Normalize(func(fname string) string {
		called = fname
		return "roads"
	})
	assert.Equal(t, "roads.json", called)
	assert.Equal(t, "roads", o.LayerName)
}

func TestNormalizeLeavesExplicitLayerName(t *testing.T) {
	o := Options{Input: "roads.json", LayerName: "custom"}
	o.Normalize(func(string) string { return "should-not-be-used" })
	assert.Equal(t, "custom", o.LayerName)
}

func TestNormalizeIncludeImpliesExcludeAll(t *testing.T) {
	o := Options{Include: []string{"name"}}
	o.Normalize(func(string) string { return "layer" })
	assert.True(t, o.ExcludeAll)
}

func TestNormalizeNoIncludeLeavesExcludeAllUnset(t *testing.T) {
	o := Options{}
	o.Normalize(func(string) string { return "layer" })
	assert.False(t, o.ExcludeAll)
}

func TestFileValuesReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vtpyramid.yaml")
	content := "maxzoom: 10\nname: test-archive\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v, err := FileValues(path)
	require.NoError(t, err)
	assert.Equal(t, 10, v.GetInt("maxzoom"))
	assert.Equal(t, "test-archive", v.GetString("name"))
	assert.False(t, v.IsSet("minzoom"))
}

func TestFileValuesMissingFileErrors(t *testing.T) {
	_, err := FileValues(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	assert.Error(t, err)
}
