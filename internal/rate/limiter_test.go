package rate

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(2, time.Minute)
	base := time.Date(2026, 1, 1, 10, 0, 5, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 1; i <= 2; i++ {
		d, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		require.True(t, d.Allowed, "send %d", i)
		require.Equal(t, int64(2-i), d.Remaining)
	}

	d, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 55*time.Second, d.RetryAfter)

	d, _ = l.Allow(ctx, "u2")
	require.True(t, d.Allowed, "users have independent windows")

	l.now = func() time.Time { return base.Add(time.Minute) }
	d, _ = l.Allow(ctx, "u1")
	require.True(t, d.Allowed, "next window starts over")
	require.Equal(t, int64(1), d.Hits)
}

func TestPolicy_Decide(t *testing.T) {
	p := Policy{Limit: 3, Window: 30 * time.Second}

	d := p.decide(5, -1)
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)
	require.Equal(t, 30*time.Second, d.RetryAfter, "missing ttl falls back to the window")

	d = p.decide(3, 10*time.Second)
	require.True(t, d.Allowed)
	require.Zero(t, d.RetryAfter)
	require.Equal(t, 10*time.Second, d.ResetIn)
}

// Requiere un Redis real: REDIS_ADDR=localhost:6379 go test ./...
func TestRedisLimiter_FixedWindow(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := rdb.NewClient(&rdb.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	l := NewRedisLimiter(client, "quotamail-test:"+uuid.NewString()+":", 1, time.Minute)
	d, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Greater(t, d.ResetIn, time.Duration(0))

	d, err = l.Allow(ctx, "u1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
}
