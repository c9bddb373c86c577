package sqlite_test

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/quotamail/internal/domain/repository"
	"github.com/dropDatabas3/quotamail/internal/security/secretbox"
	"github.com/dropDatabas3/quotamail/internal/store"
	"github.com/dropDatabas3/quotamail/internal/store/adapters/sqldb"
	_ "github.com/dropDatabas3/quotamail/internal/store/adapters/sqlite"
)

func openStore(t *testing.T, box *secretbox.Box) store.AdapterConnection {
	t.Helper()
	ctx := context.Background()
	conn, err := store.Open(ctx, "sqlite", store.AdapterConfig{DSN: ":memory:", SecretBox: box})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	m, ok := conn.(store.MigratableConnection)
	require.True(t, ok)
	require.NoError(t, m.Migrate(ctx))
	require.NoError(t, m.Migrate(ctx), "migrations must be idempotent")
	return conn
}

func TestCredentials_RefreshTokenNeverBlanked(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t, nil).Credentials()

	exp := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, repo.Upsert(ctx, repository.Credential{
		UserID: "u1", Email: "u1@example.com", AccessToken: "a1", RefreshToken: "r1", AccessTokenExpiry: &exp,
	}))

	// sign-in sin refresh token
	require.NoError(t, repo.Upsert(ctx, repository.Credential{UserID: "u1", Email: "u1@example.com", AccessToken: "a2"}))
	c, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "a2", c.AccessToken)
	require.Equal(t, "r1", c.RefreshToken)
	require.Nil(t, c.AccessTokenExpiry)

	// refresh sin rotación
	require.NoError(t, repo.UpdateTokens(ctx, "u1", "a3", &exp, ""))
	c, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "a3", c.AccessToken)
	require.Equal(t, "r1", c.RefreshToken)
	require.NotNil(t, c.AccessTokenExpiry)
	require.True(t, exp.Equal(*c.AccessTokenExpiry))

	// refresh con rotación
	require.NoError(t, repo.UpdateTokens(ctx, "u1", "a4", nil, "r2"))
	c, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "r2", c.RefreshToken)

	require.ErrorIs(t, repo.UpdateTokens(ctx, "ghost", "a", nil, ""), repository.ErrNotFound)
	_, err = repo.Get(ctx, "ghost")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCredentials_EncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 7)
	}
	box, err := secretbox.New(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	conn := openStore(t, box)
	require.NoError(t, conn.Credentials().Upsert(ctx, repository.Credential{
		UserID: "u1", Email: "u1@example.com", AccessToken: "plain-access", RefreshToken: "plain-refresh",
	}))

	var rawRefresh string
	db := conn.(*sqldb.Conn).DB()
	require.NoError(t, db.QueryRowContext(ctx, `SELECT refresh_token FROM user_credential WHERE user_id = ?`, "u1").Scan(&rawRefresh))
	require.NotEqual(t, "plain-refresh", rawRefresh)

	// sin rotación el refresh token cifrado se conserva
	require.NoError(t, conn.Credentials().UpdateTokens(ctx, "u1", "new-access", nil, ""))
	c, err := conn.Credentials().Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "new-access", c.AccessToken)
	require.Equal(t, "plain-refresh", c.RefreshToken)
}

func TestQuotas_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t, nil).Quotas()

	snap, err := repo.Snapshot(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, snap.EmailQuota)

	ok, err := repo.DecrementIfPositive(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, repo.AddQuota(ctx, "u1", 3))
	ok, err = repo.DecrementIfPositive(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.IncrementUsage(ctx, "u1"))

	snap, err = repo.Snapshot(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(2), snap.EmailQuota)
	require.Equal(t, int64(1), snap.EmailsSent)
}

func TestQuotas_ConcurrentDecrementSingleUnit(t *testing.T) {
	ctx := context.Background()
	repo := openStore(t, nil).Quotas()
	require.NoError(t, repo.AddQuota(ctx, "u1", 1))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.DecrementIfPositive(ctx, "u1")
			if err != nil {
				t.Errorf("decrement: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	snap, err := repo.Snapshot(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, snap.EmailQuota)
}
