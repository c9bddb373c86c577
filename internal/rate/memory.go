package rate

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter guarda las ventanas en proceso (una sola réplica).
type MemoryLimiter struct {
	c      *gocache.Cache
	policy Policy
	now    func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		c:      gocache.New(window, 2*window),
		policy: Policy{Limit: int64(limit), Window: window},
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now().UTC()
	start := l.policy.windowStart(now)
	k := fmt.Sprintf("%s:%d", key, start.Unix())
	resetIn := start.Add(l.policy.Window).Sub(now)

	// Add falla si la clave existe: primer hit de la ventana
	if err := l.c.Add(k, int64(1), resetIn); err == nil {
		return l.policy.decide(1, resetIn), nil
	}
	hits, err := l.c.IncrementInt64(k, 1)
	if err != nil {
		// expiró entre Add e Increment
		l.c.Set(k, int64(1), resetIn)
		hits = 1
	}
	return l.policy.decide(hits, resetIn), nil
}
