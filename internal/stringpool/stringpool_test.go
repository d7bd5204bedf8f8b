package stringpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInternAssignsStableFirstSeenIDs(t *testing.T) {
	p := New()
	assert.Equal(t, 0, p.Intern("name"))
	assert.Equal(t, 1, p.Intern("population"))
	assert.Equal(t, 0, p.Intern("name"), "re-interning returns the original id")
	assert.Equal(t, 2, p.Intern("area"))
}

func TestHas(t *testing.T) {
	p := New()
	assert.False(t, p.Has("name"))
	p.Intern("name")
	assert.True(t, p.Has("name"))
}

func TestStringsPreservesOrder(t *testing.T) {
	p := New()
	p.Intern("b")
	p.Intern("a")
	p.Intern("c")
	assert.Equal(t, []string{"b", "a", "c"}, p.Strings())
}

func TestStringsReturnsCopy(t *testing.T) {
	p := New()
	p.Intern("a")
	out := p.Strings()
	out[0] = "mutated"
	assert.Equal(t, "a", p.Strings()[0])
}

func TestLen(t *testing.T) {
	p := New()
	assert.Equal(t, 0, p.Len())
	p.Intern("a")
	p.Intern("b")
	p.Intern("a")
	assert.Equal(t, 2, p.Len())
}
