// Package memory implementa el store en memoria (desarrollo y tests).
//
// La cuota no vive en un storage atómico, así que cada usuario tiene su propio
// mutex que protege el check-and-decrement. No hay locks entre usuarios salvo
// el acceso al mapa.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	store "github.com/dropDatabas3/quotamail/internal/store"
)

func init() {
	store.RegisterAdapter(&memoryAdapter{})
}

type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return "memory" }

func (a *memoryAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	return New(), nil
}

// Store implementa store.AdapterConnection en memoria.
type Store struct {
	creds  *credentialRepo
	quotas *quotaRepo
}

// New crea un store vacío.
func New() *Store {
	return &Store{
		creds:  &credentialRepo{data: make(map[string]repository.Credential)},
		quotas: &quotaRepo{rows: make(map[string]*quotaRow)},
	}
}

func (s *Store) Name() string                   { return "memory" }
func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

func (s *Store) Credentials() repository.CredentialRepository { return s.creds }
func (s *Store) Quotas() repository.QuotaRepository           { return s.quotas }

// ─── CredentialRepository ───

type credentialRepo struct {
	mu   sync.RWMutex
	data map[string]repository.Credential
}

var _ repository.CredentialRepository = (*credentialRepo)(nil)

func (r *credentialRepo) Get(ctx context.Context, userID string) (*repository.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.data[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if c.AccessTokenExpiry != nil {
		exp := *c.AccessTokenExpiry
		c.AccessTokenExpiry = &exp
	}
	return &c, nil
}

func (r *credentialRepo) Upsert(ctx context.Context, cred repository.Credential) error {
	if cred.UserID == "" {
		return repository.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.data[cred.UserID]; ok && cred.RefreshToken == "" {
		cred.RefreshToken = prev.RefreshToken
	}
	cred.UpdatedAt = time.Now().UTC()
	r.data[cred.UserID] = cred
	return nil
}

func (r *credentialRepo) UpdateTokens(ctx context.Context, userID, accessToken string, expiry *time.Time, refreshToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data[userID]
	if !ok {
		return repository.ErrNotFound
	}
	c.AccessToken = accessToken
	c.AccessTokenExpiry = expiry
	if refreshToken != "" {
		c.RefreshToken = refreshToken
	}
	c.UpdatedAt = time.Now().UTC()
	r.data[userID] = c
	return nil
}

// ─── QuotaRepository ───

type quotaRow struct {
	mu         sync.Mutex
	emailQuota int64
	emailsSent int64
}

type quotaRepo struct {
	mu   sync.RWMutex
	rows map[string]*quotaRow
}

var _ repository.QuotaRepository = (*quotaRepo)(nil)

func (r *quotaRepo) row(userID string, create bool) *quotaRow {
	r.mu.RLock()
	row, ok := r.rows[userID]
	r.mu.RUnlock()
	if ok || !create {
		return row
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok = r.rows[userID]; !ok {
		row = &quotaRow{}
		r.rows[userID] = row
	}
	return row
}

func (r *quotaRepo) DecrementIfPositive(ctx context.Context, userID string) (bool, error) {
	row := r.row(userID, false)
	if row == nil {
		return false, nil
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.emailQuota <= 0 {
		return false, nil
	}
	row.emailQuota--
	return true, nil
}

func (r *quotaRepo) AddQuota(ctx context.Context, userID string, n int64) error {
	if n <= 0 {
		return repository.ErrInvalidInput
	}
	row := r.row(userID, true)
	row.mu.Lock()
	row.emailQuota += n
	row.mu.Unlock()
	return nil
}

func (r *quotaRepo) IncrementUsage(ctx context.Context, userID string) error {
	row := r.row(userID, true)
	row.mu.Lock()
	row.emailsSent++
	row.mu.Unlock()
	return nil
}

func (r *quotaRepo) Snapshot(ctx context.Context, userID string) (repository.QuotaSnapshot, error) {
	snap := repository.QuotaSnapshot{UserID: userID}
	row := r.row(userID, false)
	if row == nil {
		return snap, nil
	}
	row.mu.Lock()
	snap.EmailQuota = row.emailQuota
	snap.EmailsSent = row.emailsSent
	row.mu.Unlock()
	return snap, nil
}
