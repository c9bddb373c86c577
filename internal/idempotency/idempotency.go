// Package idempotency guarda la primera respuesta de un request con
// Idempotency-Key para reproducirla en los reintentos del cliente.
//
// Begin reclama la clave; mientras el primer request está en curso los
// duplicados reciben ErrInFlight. Complete guarda la respuesta final.
// Si el primer request no llega a Complete, Abort libera la clave.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	rdb "github.com/redis/go-redis/v9"
)

const DefaultTTL = 24 * time.Hour

var ErrInFlight = errors.New("idempotency: request with this key is still in progress")

// Response es la respuesta HTTP almacenada.
type Response struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

type entry struct {
	Done     bool     `json:"done"`
	Response Response `json:"response"`
}

// Store persiste las claves. Begin devuelve (nil, nil) si la clave quedó
// reclamada por este llamador, o la respuesta previa si ya existía.
type Store interface {
	Begin(ctx context.Context, key string) (*Response, error)
	Complete(ctx context.Context, key string, resp Response) error
	Abort(ctx context.Context, key string) error
}

// ─── memoria (go-cache) ───

type MemoryStore struct {
	c   *gocache.Cache
	ttl time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{c: gocache.New(ttl, 10*time.Minute), ttl: ttl}
}

func (s *MemoryStore) Begin(ctx context.Context, key string) (*Response, error) {
	if err := s.c.Add(key, entry{}, s.ttl); err == nil {
		return nil, nil
	}
	v, ok := s.c.Get(key)
	if !ok {
		// expiró entre Add y Get: reintentar una vez
		if err := s.c.Add(key, entry{}, s.ttl); err == nil {
			return nil, nil
		}
		return nil, ErrInFlight
	}
	e := v.(entry)
	if !e.Done {
		return nil, ErrInFlight
	}
	resp := e.Response
	return &resp, nil
}

func (s *MemoryStore) Complete(ctx context.Context, key string, resp Response) error {
	s.c.Set(key, entry{Done: true, Response: resp}, s.ttl)
	return nil
}

func (s *MemoryStore) Abort(ctx context.Context, key string) error {
	s.c.Delete(key)
	return nil
}

// ─── redis ───

type RedisStore struct {
	client rdb.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client rdb.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "idem:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Begin(ctx context.Context, key string) (*Response, error) {
	k := s.prefix + key
	pending, _ := json.Marshal(entry{})
	ok, err := s.client.SetNX(ctx, k, pending, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency: setnx: %w", err)
	}
	if ok {
		return nil, nil
	}

	raw, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, rdb.Nil) {
		return nil, ErrInFlight
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: get: %w", err)
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("idempotency: decode: %w", err)
	}
	if !e.Done {
		return nil, ErrInFlight
	}
	return &e.Response, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, resp Response) error {
	raw, err := json.Marshal(entry{Done: true, Response: resp})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err()
}

func (s *RedisStore) Abort(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
