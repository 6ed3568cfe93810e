package tokencount

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	t.Parallel()

	counter := NewCounter()

	tests := []struct {
		name     string
		text     string
		minCount int
		maxCount int
	}{
		{name: "empty", text: "", minCount: 0, maxCount: 0},
		{name: "simple text", text: "Hello, world!", minCount: 3, maxCount: 5},
		{name: "longer text", text: "The quick brown fox jumps over the lazy dog.", minCount: 8, maxCount: 12},
		{name: "vietnamese", text: "Giờ làm việc của công ty", minCount: 5, maxCount: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := counter.CountTokens(tt.text)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, count, tt.minCount)
			assert.LessOrEqual(t, count, tt.maxCount)
		})
	}
}

func TestEstimate_MatchesCount(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("policy document line. ", 50)
	n, err := DefaultCounter.CountTokens(text)
	require.NoError(t, err)
	assert.Equal(t, n, DefaultCounter.Estimate(text))
}

func TestExceeds(t *testing.T) {
	t.Parallel()

	c := NewCounter()
	long := strings.Repeat("word ", 400)

	_, over := c.Exceeds(long, 0)
	assert.False(t, over, "zero limit disables the check")

	_, over = c.Exceeds("short", 100)
	assert.False(t, over)

	n, over := c.Exceeds(long, 50)
	assert.True(t, over)
	assert.Greater(t, n, 50)

	_, over = c.Exceeds(long, 100000)
	assert.False(t, over)
}

func TestEstimateBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, EstimateBytes(""))
	assert.Equal(t, 2, EstimateBytes("12345678"))
}
