//go:build integration

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "ledger_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "starting postgres container")
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/ledger_test?sslmode=disable", host, port.Port())

	m, err := migrate.New("file://../../migrations", dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("running migrations: %v", err)
	}
	m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresStore(t *testing.T) {
	pool := setupPostgres(t)
	store := NewPostgresStore(pool)
	l := New(store, DefaultCostTable())
	ctx := context.Background()

	t.Run("provision and resolve", func(t *testing.T) {
		rec, err := l.Provision(ctx, "pg-1")
		require.NoError(t, err)
		assert.Equal(t, DefaultCredits, rec.MaxRequests)

		again, err := l.Provision(ctx, "pg-1")
		require.NoError(t, err)
		assert.Equal(t, rec.SecretKey, again.SecretKey)

		owner, err := l.ResolveKey(ctx, rec.SecretKey)
		require.NoError(t, err)
		assert.Equal(t, "pg-1", owner)
	})

	t.Run("deduct refund clamp", func(t *testing.T) {
		_, err := l.Provision(ctx, "pg-2")
		require.NoError(t, err)

		res, err := l.Deduct(ctx, "pg-2", KindPDFAnalysis)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 8, res.Remaining)

		require.NoError(t, l.Refund(ctx, "pg-2", KindPDFAnalysis))
		require.NoError(t, l.Refund(ctx, "pg-2", KindPDFAnalysis))

		rec, err := store.Get(ctx, "pg-2")
		require.NoError(t, err)
		assert.Equal(t, 0, rec.RequestsUsed)
	})

	t.Run("insufficient vs missing", func(t *testing.T) {
		_, err := store.Create(ctx, &Record{UserID: "pg-3", MaxRequests: 1, ResetDate: time.Now(), SecretKey: SecretKeyPrefix + "pg3"})
		require.NoError(t, err)

		res, err := l.Deduct(ctx, "pg-3", KindLiveDetection)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, 1, res.Remaining)

		_, err = l.Deduct(ctx, "pg-missing", KindLiveDetection)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("grant modes", func(t *testing.T) {
		_, err := store.Create(ctx, &Record{UserID: "pg-4", MaxRequests: 30, RequestsUsed: 10, ResetDate: time.Now(), SecretKey: SecretKeyPrefix + "pg4"})
		require.NoError(t, err)

		rec, err := l.Grant(ctx, "pg-4", 50, GrantStack)
		require.NoError(t, err)
		assert.Equal(t, 80, rec.MaxRequests)
		assert.Equal(t, 10, rec.RequestsUsed)
		assert.Equal(t, SecretKeyPrefix+"pg4", rec.SecretKey)

		rec, err = l.Grant(ctx, "pg-4", 50, GrantReplace)
		require.NoError(t, err)
		assert.Equal(t, 50, rec.MaxRequests)
		assert.Equal(t, 0, rec.RequestsUsed)

		fresh, err := l.Grant(ctx, "pg-5", 100, GrantStack)
		require.NoError(t, err)
		assert.Equal(t, 100, fresh.MaxRequests)
		assert.True(t, LooksLikeSecretKey(fresh.SecretKey))
	})

	t.Run("no double spend", func(t *testing.T) {
		_, err := store.Create(ctx, &Record{UserID: "pg-6", MaxRequests: 11, ResetDate: time.Now(), SecretKey: SecretKeyPrefix + "pg6"})
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := l.Deduct(ctx, "pg-6", KindSentimentAnalysis)
				if assert.NoError(t, err) && res.Success {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(5), wins.Load())
		rec, err := store.Get(ctx, "pg-6")
		require.NoError(t, err)
		assert.Equal(t, 10, rec.RequestsUsed)
	})
}
