package mem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLStoreDedup(t *testing.T) {
	s := NewTTLStore()
	now := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	seen, err := s.Seen(ctx, "k")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, s.Remember(ctx, "k", time.Minute))
	seen, _ = s.Seen(ctx, "k")
	require.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = s.Seen(ctx, "k")
	require.False(t, seen)

	s.sweep()
	require.Equal(t, 0, s.Len())
}

func TestTTLStoreLease(t *testing.T) {
	s := NewTTLStore()
	now := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	token, ok, err := s.Acquire(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = s.Acquire(ctx, "sweeper", time.Minute)
	require.False(t, ok)

	// a stale token must not drop someone else's lease
	require.NoError(t, s.Release(ctx, "sweeper", "other"))
	_, ok, _ = s.Acquire(ctx, "sweeper", time.Minute)
	require.False(t, ok)

	require.NoError(t, s.Release(ctx, "sweeper", token))
	_, ok, _ = s.Acquire(ctx, "sweeper", time.Minute)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = s.Acquire(ctx, "sweeper", time.Minute)
	require.True(t, ok)
}

func TestTTLStoreJanitorStops(t *testing.T) {
	s := NewTTLStore()
	s.Start(5 * time.Millisecond)
	require.NoError(t, s.Remember(context.Background(), "k", time.Nanosecond))
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}
