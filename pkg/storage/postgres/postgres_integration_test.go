//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T) (string, func()) {
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
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cleanup := func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	}

	return connStr, cleanup
}

func TestIntegration_MigrateAndRollback(t *testing.T) {
	connStr, cleanup := setupPostgresContainer(t)
	defer cleanup()

	ctx := context.Background()
	cm, err := NewConnectionManager(ctx, ConnectionConfig{
		PrimaryURL:  connStr,
		ReplicaURLs: []string{"postgres://nobody@127.0.0.1:1/none?sslmode=disable"},
		MaxConns:    4,
		MinConns:    1,
		Timeout:     2 * time.Second,
	}, quietLogger())
	require.NoError(t, err)
	defer cm.Close()

	// the bogus replica is skipped, so reads fall back to primary
	assert.Same(t, cm.Primary(), cm.Replica())
	require.NoError(t, cm.HealthCheck(ctx))

	db := cm.Primary()
	require.NoError(t, RunMigrations(ctx, db, quietLogger()))
	require.NoError(t, RunMigrations(ctx, db, quietLogger()), "second run is a no-op")

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(Migrations()), count)

	_, err = db.ExecContext(ctx,
		`INSERT INTO sessions (token, payload, info, created_at, updated_at) VALUES ($1, '{}', '{}', NOW(), NOW())`,
		"abc")
	require.NoError(t, err)

	require.NoError(t, Rollback(ctx, db, 3, quietLogger()))
	_, err = db.ExecContext(ctx, "SELECT 1 FROM sessions")
	assert.Error(t, err, "sessions table should be gone")

	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 3, count)
}
