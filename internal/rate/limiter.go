// Package rate acota ráfagas de envíos por usuario con una ventana fija.
// Es independiente de la cuota: la cuota es el total, esto es la frecuencia.
package rate

import (
	"context"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// DefaultPrefix es el prefijo de las claves de ventana.
const DefaultPrefix = "rl:send:"

// Decision es el resultado de contar un envío en la ventana actual.
type Decision struct {
	Allowed    bool
	Hits       int64         // envíos contados en la ventana, incluido este
	Remaining  int64         // envíos que quedan en la ventana
	ResetIn    time.Duration // hasta que la ventana se reinicia
	RetryAfter time.Duration // > 0 sólo si !Allowed
}

// Limiter cuenta un envío para key y decide si pasa.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Policy es el límite: Limit envíos cada Window.
type Policy struct {
	Limit  int64
	Window time.Duration
}

func (p Policy) windowStart(now time.Time) time.Time { return now.UTC().Truncate(p.Window) }

func (p Policy) decide(hits int64, resetIn time.Duration) Decision {
	if resetIn <= 0 || resetIn > p.Window {
		resetIn = p.Window
	}
	d := Decision{
		Allowed: hits <= p.Limit,
		Hits:    hits,
		ResetIn: resetIn,
	}
	if d.Remaining = p.Limit - hits; d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = resetIn
	}
	return d
}

// hitScript incrementa el contador de la ventana y le pone TTL en el primer
// hit. Devuelve {hits, pttl}.
var hitScript = rdb.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// RedisLimiter comparte las ventanas entre réplicas.
// Clave: <prefix><key>:<inicio de ventana unix>.
type RedisLimiter struct {
	client rdb.UniversalClient
	prefix string
	policy Policy
	now    func() time.Time
}

func NewRedisLimiter(client rdb.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		policy: Policy{Limit: int64(limit), Window: window},
		now:    time.Now,
	}
}

func (l *RedisLimiter) windowKey(key string, start time.Time) string {
	return fmt.Sprintf("%s%s:%d", l.prefix, key, start.Unix())
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.windowKey(key, l.policy.windowStart(l.now()))
	vals, err := hitScript.Run(ctx, l.client, []string{k}, l.policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate: redis: %w", err)
	}
	if len(vals) != 2 {
		return Decision{}, fmt.Errorf("rate: redis: unexpected reply %v", vals)
	}
	return l.policy.decide(vals[0], time.Duration(vals[1])*time.Millisecond), nil
}
