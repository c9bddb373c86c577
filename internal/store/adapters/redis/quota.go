// Package redis implementa el QuotaRepository sobre Redis.
//
// Se usa cuando la cuota vive fuera de la base relacional (ej: varias
// réplicas del servicio compartiendo un Redis). Las credenciales siguen en el
// store SQL. El decremento condicional corre como script Lua, que Redis
// ejecuta de forma atómica.
package redis

import (
	"context"
	"errors"
	"fmt"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/quotamail/internal/domain/repository"
)

var decrementIfPositive = rdb.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
if v > 0 then
  redis.call('DECR', KEYS[1])
  return 1
end
return 0
`)

// QuotaRepo implementa repository.QuotaRepository.
type QuotaRepo struct {
	client rdb.UniversalClient
	prefix string
}

var _ repository.QuotaRepository = (*QuotaRepo)(nil)

// NewQuotaRepo crea el repo. prefix default "quotamail:".
func NewQuotaRepo(client rdb.UniversalClient, prefix string) *QuotaRepo {
	if prefix == "" {
		prefix = "quotamail:"
	}
	return &QuotaRepo{client: client, prefix: prefix}
}

// Las dos claves de un usuario comparten hash tag para que el pipeline de
// Snapshot funcione en Redis Cluster.
func (r *QuotaRepo) quotaKey(userID string) string {
	return fmt.Sprintf("%squota:{%s}", r.prefix, userID)
}

func (r *QuotaRepo) sentKey(userID string) string {
	return fmt.Sprintf("%ssent:{%s}", r.prefix, userID)
}

func (r *QuotaRepo) DecrementIfPositive(ctx context.Context, userID string) (bool, error) {
	n, err := decrementIfPositive.Run(ctx, r.client, []string{r.quotaKey(userID)}).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: decrement quota: %w", err)
	}
	return n == 1, nil
}

func (r *QuotaRepo) AddQuota(ctx context.Context, userID string, n int64) error {
	if n <= 0 {
		return repository.ErrInvalidInput
	}
	if err := r.client.IncrBy(ctx, r.quotaKey(userID), n).Err(); err != nil {
		return fmt.Errorf("redis: add quota: %w", err)
	}
	return nil
}

func (r *QuotaRepo) IncrementUsage(ctx context.Context, userID string) error {
	if err := r.client.Incr(ctx, r.sentKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis: increment usage: %w", err)
	}
	return nil
}

func (r *QuotaRepo) Snapshot(ctx context.Context, userID string) (repository.QuotaSnapshot, error) {
	snap := repository.QuotaSnapshot{UserID: userID}

	pipe := r.client.Pipeline()
	q := pipe.Get(ctx, r.quotaKey(userID))
	s := pipe.Get(ctx, r.sentKey(userID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, rdb.Nil) {
		return snap, fmt.Errorf("redis: snapshot: %w", err)
	}
	if v, err := q.Int64(); err == nil {
		snap.EmailQuota = v
	}
	if v, err := s.Int64(); err == nil {
		snap.EmailsSent = v
	}
	return snap, nil
}
