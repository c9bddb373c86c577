// Package mysql implementa el adapter MySQL del store.
// Usa database/sql con github.com/go-sql-driver/mysql.
//
// Requisitos:
//   - MySQL 8.0+
//   - DSN format: user:password@tcp(host:port)/database
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	migrations "github.com/dropDatabas3/quotamail/migrations/mysql"
	store "github.com/dropDatabas3/quotamail/internal/store"
	"github.com/dropDatabas3/quotamail/internal/store/adapters/sqldb"
)

func init() {
	store.RegisterAdapter(&mysqlAdapter{})
}

// Dialect son las sentencias MySQL (ON DUPLICATE KEY UPDATE).
var Dialect = sqldb.Dialect{
	Name: "mysql",
	UpsertCredential: `
		INSERT INTO user_credential (user_id, email, access_token, refresh_token, access_token_expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			email = VALUES(email),
			access_token = VALUES(access_token),
			access_token_expiry = VALUES(access_token_expiry),
			refresh_token = IF(VALUES(refresh_token) = '', refresh_token, VALUES(refresh_token)),
			updated_at = VALUES(updated_at)`,
	UpdateTokens: `
		UPDATE user_credential
		SET access_token = ?, access_token_expiry = ?,
			refresh_token = IF(? = '', refresh_token, ?),
			updated_at = ?
		WHERE user_id = ?`,
	AddQuota: `
		INSERT INTO subscriptions (user_id, email_quota) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE email_quota = email_quota + VALUES(email_quota)`,
	IncrementUsage: `
		INSERT INTO email_usage (user_id, emails_sent) VALUES (?, 1)
		ON DUPLICATE KEY UPDATE emails_sent = emails_sent + 1`,
	MigrationsFS:  migrations.FS,
	MigrationsDir: migrations.Dir,
}

type mysqlAdapter struct{}

func (a *mysqlAdapter) Name() string { return "mysql" }

func (a *mysqlAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	if cfg.DSN == "" {
		return nil, errors.New("mysql: dsn is required")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: ping failed: %w", err)
	}
	return sqldb.NewConn(db, Dialect, cfg.SecretBox), nil
}
