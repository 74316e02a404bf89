package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNoisySleepBounds checks the jitter contract: between n and n+1000 ms.
// A small scheduling allowance is tolerated on the upper bound.
func TestNoisySleepBounds(t *testing.T) {
	start := time.Now()
	require.NoError(t, NoisySleep(context.Background(), 50))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 1300*time.Millisecond)
}

func TestNoisySleepCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := NoisySleep(ctx, 10_000)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExponentialBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	assert.Equal(t, base, ExponentialBackoff(0, base, max))
	assert.Equal(t, 200*time.Millisecond, ExponentialBackoff(1, base, max))
	assert.Equal(t, 400*time.Millisecond, ExponentialBackoff(2, base, max))
	assert.Equal(t, 800*time.Millisecond, ExponentialBackoff(3, base, max))
	assert.Equal(t, max, ExponentialBackoff(4, base, max))
	assert.Equal(t, max, ExponentialBackoff(30, base, max))
}
