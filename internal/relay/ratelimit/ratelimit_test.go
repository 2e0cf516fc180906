package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBurstThenLimited(t *testing.T) {
	l := New()

	allowed := 0
	for i := 0; i < 12; i++ {
		if l.Allow("ven-1") {
			allowed++
		}
	}
	require.Equal(t, burst, allowed)
}

func TestRefill(t *testing.T) {
	l := New()
	for i := 0; i < burst; i++ {
		require.True(t, l.Allow("ven-1"))
	}
	require.False(t, l.Allow("ven-1"))

	time.Sleep(150 * time.Millisecond) // ≥1 token refilled at 10/s
	require.True(t, l.Allow("ven-1"))
}

func TestBucketsAreIndependent(t *testing.T) {
	l := New()
	for i := 0; i < burst; i++ {
		require.True(t, l.Allow("ven-1"))
	}
	require.False(t, l.Allow("ven-1"))
	require.True(t, l.Allow("ven-2"))
}
