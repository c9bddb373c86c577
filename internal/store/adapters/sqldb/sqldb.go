// Package sqldb implementa los repositorios sobre database/sql para los
// drivers que comparten esquema (mysql, sqlite). Cada driver aporta su
// Dialect con las sentencias propias (upsert, placeholders).
//
// Los instantes se guardan como epoch en milisegundos.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	store "github.com/dropDatabas3/quotamail/internal/store"
	"github.com/dropDatabas3/quotamail/internal/security/secretbox"
)

// Dialect son las sentencias específicas del driver. Todas usan "?" y los
// argumentos se pasan en el orden documentado en cada campo.
type Dialect struct {
	Name string

	// user_id, email, access_token, refresh_token, expiry_ms, updated_ms
	// refresh_token vacío conserva el almacenado.
	UpsertCredential string

	// access_token, expiry_ms, refresh_token, refresh_token, updated_ms, user_id
	UpdateTokens string

	// user_id, n
	AddQuota string

	// user_id
	IncrementUsage string

	MigrationsFS  fs.FS
	MigrationsDir string
}

// Conn implementa store.AdapterConnection sobre *sql.DB.
type Conn struct {
	db      *sql.DB
	dialect Dialect
	box     *secretbox.Box
}

var (
	_ store.AdapterConnection    = (*Conn)(nil)
	_ store.MigratableConnection = (*Conn)(nil)
)

// NewConn envuelve db. box puede ser nil (tokens en claro).
func NewConn(db *sql.DB, d Dialect, box *secretbox.Box) *Conn {
	return &Conn{db: db, dialect: d, box: box}
}

// DB expone la conexión subyacente (tests, herramientas).
func (c *Conn) DB() *sql.DB { return c.db }

func (c *Conn) Name() string                   { return c.dialect.Name }
func (c *Conn) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }
func (c *Conn) Close() error                   { return c.db.Close() }

func (c *Conn) Credentials() repository.CredentialRepository {
	return &credentialRepo{db: c.db, d: c.dialect, box: c.box}
}

func (c *Conn) Quotas() repository.QuotaRepository {
	return &quotaRepo{db: c.db, d: c.dialect}
}

// Migrate aplica las migraciones embebidas del dialecto.
func (c *Conn) Migrate(ctx context.Context) error {
	_, err := store.NewMigrator(c.dialect.MigrationsFS, c.dialect.MigrationsDir, c.dialect.Name).Run(ctx, c.db)
	return err
}

// ─── CredentialRepository ───

type credentialRepo struct {
	db  *sql.DB
	d   Dialect
	box *secretbox.Box
}

func (r *credentialRepo) Get(ctx context.Context, userID string) (*repository.Credential, error) {
	const query = `
		SELECT user_id, email, access_token, refresh_token, access_token_expiry, updated_at
		FROM user_credential WHERE user_id = ?`

	var (
		c         repository.Credential
		access    string
		refresh   string
		expiryMS  sql.NullInt64
		updatedMS int64
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&c.UserID, &c.Email, &access, &refresh, &expiryMS, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: get credential: %w", r.d.Name, err)
	}

	if c.AccessToken, err = r.box.Open(access); err != nil {
		return nil, fmt.Errorf("%s: decrypt access token: %w", r.d.Name, err)
	}
	if c.RefreshToken, err = r.box.Open(refresh); err != nil {
		return nil, fmt.Errorf("%s: decrypt refresh token: %w", r.d.Name, err)
	}
	c.AccessTokenExpiry = msToTime(expiryMS)
	c.UpdatedAt = time.UnixMilli(updatedMS).UTC()
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
	_, err = r.db.ExecContext(ctx, r.d.UpsertCredential,
		cred.UserID, cred.Email, access, refresh, timeToMS(cred.AccessTokenExpiry), nowMS())
	if err != nil {
		return fmt.Errorf("%s: upsert credential: %w", r.d.Name, err)
	}
	return nil
}

func (r *credentialRepo) UpdateTokens(ctx context.Context, userID, accessToken string, expiry *time.Time, refreshToken string) error {
	access, refresh, err := r.seal(accessToken, refreshToken)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, r.d.UpdateTokens,
		access, timeToMS(expiry), refresh, refresh, nowMS(), userID)
	if err != nil {
		return fmt.Errorf("%s: update tokens: %w", r.d.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL informa filas cambiadas, no encontradas: confirmar existencia
		var one int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM user_credential WHERE user_id = ?`, userID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	return nil
}

func (r *credentialRepo) seal(access, refresh string) (string, string, error) {
	a, err := r.box.Seal(access)
	if err != nil {
		return "", "", fmt.Errorf("%s: encrypt access token: %w", r.d.Name, err)
	}
	rt, err := r.box.Seal(refresh)
	if err != nil {
		return "", "", fmt.Errorf("%s: encrypt refresh token: %w", r.d.Name, err)
	}
	return a, rt, nil
}

// ─── QuotaRepository ───

type quotaRepo struct {
	db *sql.DB
	d  Dialect
}

// DecrementIfPositive es una sola sentencia condicional: el motor serializa
// los UPDATE concurrentes sobre la misma fila.
func (r *quotaRepo) DecrementIfPositive(ctx context.Context, userID string) (bool, error) {
	const query = `UPDATE subscriptions SET email_quota = email_quota - 1 WHERE user_id = ? AND email_quota > 0`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("%s: decrement quota: %w", r.d.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *quotaRepo) AddQuota(ctx context.Context, userID string, n int64) error {
	if n <= 0 {
		return repository.ErrInvalidInput
	}
	if _, err := r.db.ExecContext(ctx, r.d.AddQuota, userID, n); err != nil {
		return fmt.Errorf("%s: add quota: %w", r.d.Name, err)
	}
	return nil
}

func (r *quotaRepo) IncrementUsage(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, r.d.IncrementUsage, userID); err != nil {
		return fmt.Errorf("%s: increment usage: %w", r.d.Name, err)
	}
	return nil
}

func (r *quotaRepo) Snapshot(ctx context.Context, userID string) (repository.QuotaSnapshot, error) {
	const query = `
		SELECT
			COALESCE((SELECT email_quota FROM subscriptions WHERE user_id = ?), 0),
			COALESCE((SELECT emails_sent FROM email_usage WHERE user_id = ?), 0)`

	snap := repository.QuotaSnapshot{UserID: userID}
	if err := r.db.QueryRowContext(ctx, query, userID, userID).Scan(&snap.EmailQuota, &snap.EmailsSent); err != nil {
		return snap, fmt.Errorf("%s: snapshot: %w", r.d.Name, err)
	}
	return snap, nil
}

// ─── helpers ───

func nowMS() int64 { return time.Now().UnixMilli() }

func timeToMS(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func msToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
