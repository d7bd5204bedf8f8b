package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsDeterministicPerSeed(t *testing.T) {
	a := New(42, false)
	b := New(42, false)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := New(1, false)
	b := New(2, false)
	assert.NotEqual(t, a.Float64(), b.Float64())
}

func TestWarnExtraDimensionsOnlyOnce(t *testing.T) {
	c := New(1, false)
	assert.False(t, c.warnedExtraDims)
	c.WarnExtraDimensions("f.json", 1)
	assert.True(t, c.warnedExtraDims)
	c.WarnExtraDimensions("f.json", 2)
	assert.True(t, c.warnedExtraDims)
}

func TestWarnNullGeometryOnlyOnce(t *testing.T) {
	c := New(1, false)
	c.WarnNullGeometry("f.json", 1)
	assert.True(t, c.warnedNullGeometry)
}

func TestVerboseSetsDebugLevel(t *testing.T) {
	c := New(1, true)
	assert.Equal(t, "debug", c.Log.GetLevel().String())
}

func TestSkipDoesNotPanic(t *testing.T) {
	c := New(1, false)
	c.Skip("f.json", 10, "malformed point")
}
