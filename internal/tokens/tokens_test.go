package tokens

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristic(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcdefgh", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Heuristic(tt.in), "input %q", tt.in)
	}
}

func TestTiktoken_Estimate(t *testing.T) {
	est := NewTiktoken()
	assert.Equal(t, 0, est.Estimate(""))
	short := est.Estimate("hello world")
	assert.Greater(t, short, 0)
	long := est.Estimate(strings.Repeat("hello world ", 100))
	assert.Greater(t, long, short)
}

func TestEstimateBatch(t *testing.T) {
	total, err := EstimateBatch(context.Background(), HeuristicEstimator{}, []string{"abcd", "abcdefgh", ""})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	total, err = EstimateBatch(context.Background(), nil, []string{"x"})
	require.NoError(t, err)
	assert.Zero(t, total)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EstimateBatch(ctx, HeuristicEstimator{}, []string{"abcd"})
	assert.ErrorIs(t, err, context.Canceled)
}
