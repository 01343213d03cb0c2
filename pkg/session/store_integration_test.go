//go:build integration

package session

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/turnstile/pkg/cache"
	"github.com/platinummonkey/turnstile/pkg/storage/postgres"
)

func openPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("turnstile_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = container.Terminate(ctx)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	require.NoError(t, postgres.RunMigrations(ctx, db, logger))
	return db
}

func TestIntegration_SaveKeepsNewestWrite(t *testing.T) {
	db := openPostgres(t)
	store := NewStore(db, cache.Nop{}, cache.Nop{})
	ctx := context.Background()

	base := Timestamp(time.Now().Add(-time.Hour))
	s := &Session{Token: "pgtoken", Payload: map[string]interface{}{"v": "first"}, CreatedAt: base, UpdatedAt: base}
	require.NoError(t, store.Save(ctx, s))
	require.NotZero(t, s.ID)

	newer := s.Clone()
	newer.Payload["v"] = "newer"
	newer.UpdatedAt = base.Add(2 * time.Second)
	require.NoError(t, store.Save(ctx, newer))

	stale := s.Clone()
	stale.Payload["v"] = "stale"
	stale.UpdatedAt = base.Add(time.Second)
	require.NoError(t, store.Save(ctx, stale), "a stale write is silently dropped")

	got, err := store.FindByToken(ctx, "pgtoken")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "newer", got.Payload["v"])
	assert.True(t, got.UpdatedAt.Equal(newer.UpdatedAt))

	// a swept row comes back under the same id
	n, err := store.DeleteExpired(ctx, time.Nanosecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	again := newer.Clone()
	again.UpdatedAt = time.Now().Add(time.Second)
	require.NoError(t, store.Save(ctx, again))

	got, err = store.FindByID(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pgtoken", got.Token)
}
