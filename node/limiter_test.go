package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterChargesFirstOpenBucket(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(15*time.Minute, 2, clock.Now)

	require.True(t, l.Allow([]string{"a"}))
	require.True(t, l.Allow([]string{"a"}))
	require.False(t, l.Allow([]string{"a"}))

	// A second bucket keeps a multi-sender operation admissible.
	require.True(t, l.Allow([]string{"a", "b"}))
	require.True(t, l.Allow([]string{"a", "b"}))
	require.False(t, l.Allow([]string{"a", "b"}))
}

func TestLimiterWindowReset(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(15*time.Minute, 1, clock.Now)

	require.True(t, l.Allow([]string{"a"}))
	require.False(t, l.Allow([]string{"a"}))

	clock.Advance(15 * time.Minute)
	require.True(t, l.Allow([]string{"a"}))
}

func TestLimiterBucketsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(time.Minute, 1, clock.Now)

	require.True(t, l.Allow([]string{"a"}))
	require.True(t, l.Allow([]string{"b"}))
	require.False(t, l.Allow([]string{"a"}))
	require.False(t, l.Allow([]string{"b"}))
}
