// Package sqlite implementa el adapter SQLite (modernc.org/sqlite, sin cgo).
// Pensado para desarrollo, la CLI y tests.
//
// DSN: ruta de archivo ("quotamail.db") o ":memory:".
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	migrations "github.com/dropDatabas3/quotamail/migrations/sqlite"
	store "github.com/dropDatabas3/quotamail/internal/store"
	"github.com/dropDatabas3/quotamail/internal/store/adapters/sqldb"
)

func init() {
	store.RegisterAdapter(&sqliteAdapter{})
}

// Dialect son las sentencias SQLite (ON CONFLICT ... DO UPDATE).
var Dialect = sqldb.Dialect{
	Name: "sqlite",
	UpsertCredential: `
		INSERT INTO user_credential (user_id, email, access_token, refresh_token, access_token_expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			email = excluded.email,
			access_token = excluded.access_token,
			access_token_expiry = excluded.access_token_expiry,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN user_credential.refresh_token ELSE excluded.refresh_token END,
			updated_at = excluded.updated_at`,
	UpdateTokens: `
		UPDATE user_credential
		SET access_token = ?, access_token_expiry = ?,
			refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END,
			updated_at = ?
		WHERE user_id = ?`,
	AddQuota: `
		INSERT INTO subscriptions (user_id, email_quota) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET email_quota = email_quota + excluded.email_quota`,
	IncrementUsage: `
		INSERT INTO email_usage (user_id, emails_sent) VALUES (?, 1)
		ON CONFLICT (user_id) DO UPDATE SET emails_sent = emails_sent + 1`,
	MigrationsFS:  migrations.FS,
	MigrationsDir: migrations.Dir,
}

type sqliteAdapter struct{}

func (a *sqliteAdapter) Name() string { return "sqlite" }

func (a *sqliteAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return sqldb.NewConn(db, Dialect, cfg.SecretBox), nil
}

// Open abre la base con busy_timeout y WAL.
//
// SQLite tiene un único escritor; con ":memory:" cada conexión es una base
// distinta, así que el pool se limita a una conexión.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if dsn != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	return db, nil
}
