package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffIdentity(t *testing.T) {
	changed, diff := Diff("same text\nline two", "same text\nline two")
	assert.False(t, changed)
	assert.Empty(t, diff)

	changed, diff = Diff("", "")
	assert.False(t, changed)
	assert.Empty(t, diff)
}

func TestDiffDetectsChange(t *testing.T) {
	changed, diff := Diff("price: 10 EUR\nin stock", "price: 12 EUR\nin stock")
	assert.True(t, changed)
	assert.Contains(t, diff, "-price: 10 EUR")
	assert.Contains(t, diff, "+price: 12 EUR")
}

func TestDiffAdditionOnly(t *testing.T) {
	changed, diff := Diff("headline", "headline\nbreaking news")
	assert.True(t, changed)
	assert.Contains(t, diff, "+breaking news")
	assert.NotContains(t, diff, "-headline")
}

func TestTruncateDiff(t *testing.T) {
	long := strings.Repeat("+added line\n", 10000)
	out := TruncateDiff(long, 1000)
	assert.LessOrEqual(t, len(out), 1000+len("\n... (diff truncated)"))
	assert.Contains(t, out, "truncated")

	assert.Equal(t, "short", TruncateDiff("short", 1000))
}
