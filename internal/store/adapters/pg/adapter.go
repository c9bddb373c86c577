// Package pg implementa el adapter PostgreSQL del store con pgx.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	"github.com/dropDatabas3/quotamail/internal/security/secretbox"
	store "github.com/dropDatabas3/quotamail/internal/store"
	migrations "github.com/dropDatabas3/quotamail/migrations/postgres"
)

func init() {
	store.RegisterAdapter(&postgresAdapter{})
}

type postgresAdapter struct{}

func (a *postgresAdapter) Name() string { return "postgres" }

func (a *postgresAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	if cfg.DSN == "" {
		return nil, errors.New("pg: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	} else {
		poolCfg.MaxConns = 10
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	} else {
		poolCfg.MinConns = 2
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping failed: %w", err)
	}
	return &pgConnection{pool: pool, box: cfg.SecretBox}, nil
}

// pgConnection representa una conexión activa a PostgreSQL.
type pgConnection struct {
	pool *pgxpool.Pool
	box  *secretbox.Box
}

func (c *pgConnection) Name() string { return "postgres" }

func (c *pgConnection) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }

func (c *pgConnection) Close() error {
	c.pool.Close()
	return nil
}

func (c *pgConnection) Credentials() repository.CredentialRepository {
	return &credentialRepo{pool: c.pool, box: c.box}
}

func (c *pgConnection) Quotas() repository.QuotaRepository { return &quotaRepo{pool: c.pool} }

// Migrate aplica las migraciones embebidas usando el pool vía database/sql.
func (c *pgConnection) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(c.pool)
	defer db.Close()
	_, err := store.NewMigrator(migrations.FS, migrations.Dir, "postgres").Run(ctx, db)
	return err
}

// ─── CredentialRepository ───

type credentialRepo struct {
	pool *pgxpool.Pool
	box  *secretbox.Box
}

func (r *credentialRepo) Get(ctx context.Context, userID string) (*repository.Credential, error) {
	const query = `
		SELECT user_id, email, access_token, refresh_token, access_token_expiry, updated_at
		FROM user_credential WHERE user_id = $1
	`
	var c repository.Credential
	var access, refresh string
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&c.UserID, &c.Email, &access, &refresh, &c.AccessTokenExpiry, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get credential: %w", err)
	}
	if c.AccessToken, err = r.box.Open(access); err != nil {
		return nil, fmt.Errorf("pg: decrypt access token: %w", err)
	}
	if c.RefreshToken, err = r.box.Open(refresh); err != nil {
		return nil, fmt.Errorf("pg: decrypt refresh token: %w", err)
	}
	return &c, nil
}

func (r *credentialRepo) Upsert(ctx context.Context, cred repository.Credential) error {
	if cred.UserID == "" {
		return repository.ErrInvalidInput
	}
	access, refresh, err := r.seal(cred.AccessToken, cred.RefreshToken)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO user_credential (user_id, email, access_token, refresh_token, access_token_expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			access_token = EXCLUDED.access_token,
			access_token_expiry = EXCLUDED.access_token_expiry,
			refresh_token = CASE WHEN EXCLUDED.refresh_token = '' THEN user_credential.refresh_token ELSE EXCLUDED.refresh_token END,
			updated_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, query, cred.UserID, cred.Email, access, refresh, cred.AccessTokenExpiry); err != nil {
		return fmt.Errorf("pg: upsert credential: %w", err)
	}
	return nil
}

func (r *credentialRepo) UpdateTokens(ctx context.Context, userID, accessToken string, expiry *time.Time, refreshToken string) error {
	access, refresh, err := r.seal(accessToken, refreshToken)
	if err != nil {
		return err
	}
	const query = `
		UPDATE user_credential
		SET access_token = $2,
			access_token_expiry = $3,
			refresh_token = CASE WHEN $4::text = '' THEN refresh_token ELSE $4::text END,
			updated_at = NOW()
		WHERE user_id = $1
	`
	tag, err := r.pool.Exec(ctx, query, userID, access, expiry, refresh)
	if err != nil {
		return fmt.Errorf("pg: update tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *credentialRepo) seal(access, refresh string) (string, string, error) {
	a, err := r.box.Seal(access)
	if err != nil {
		return "", "", fmt.Errorf("pg: encrypt access token: %w", err)
	}
	rt, err := r.box.Seal(refresh)
	if err != nil {
		return "", "", fmt.Errorf("pg: encrypt refresh token: %w", err)
	}
	return a, rt, nil
}

// ─── QuotaRepository ───

type quotaRepo struct{ pool *pgxpool.Pool }

func (r *quotaRepo) DecrementIfPositive(ctx context.Context, userID string) (bool, error) {
	const query = `UPDATE subscriptions SET email_quota = email_quota - 1 WHERE user_id = $1 AND email_quota > 0`
	tag, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("pg: decrement quota: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *quotaRepo) AddQuota(ctx context.Context, userID string, n int64) error {
	if n <= 0 {
		return repository.ErrInvalidInput
	}
	const query = `
		INSERT INTO subscriptions (user_id, email_quota) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET email_quota = subscriptions.email_quota + EXCLUDED.email_quota
	`
	if _, err := r.pool.Exec(ctx, query, userID, n); err != nil {
		return fmt.Errorf("pg: add quota: %w", err)
	}
	return nil
}

func (r *quotaRepo) IncrementUsage(ctx context.Context, userID string) error {
	const query = `
		INSERT INTO email_usage (user_id, emails_sent) VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET emails_sent = email_usage.emails_sent + 1
	`
	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("pg: increment usage: %w", err)
	}
	return nil
}

func (r *quotaRepo) Snapshot(ctx context.Context, userID string) (repository.QuotaSnapshot, error) {
	const query = `
		SELECT
			COALESCE((SELECT email_quota FROM subscriptions WHERE user_id = $1), 0),
			COALESCE((SELECT emails_sent FROM email_usage WHERE user_id = $1), 0)
	`
	snap := repository.QuotaSnapshot{UserID: userID}
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&snap.EmailQuota, &snap.EmailsSent); err != nil {
		return snap, fmt.Errorf("pg: snapshot: %w", err)
	}
	return snap, nil
}
