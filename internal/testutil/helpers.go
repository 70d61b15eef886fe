package testutil

import (
	"SaleLedger/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RequireIntegration skips the test if not running integration tests.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("skipping integration test (set INTEGRATION_TEST=1 to run)")
	}
}

// TestNATSURL returns the NATS URL for integration tests.
func TestNATSURL() string {
	if url := os.Getenv("TEST_NATS_URL"); url != "" {
		return url
	}
	return "nats://localhost:4222"
}

// StartPostgres runs a throwaway Postgres container and returns its DSN.
// TEST_POSTGRES_DSN short-circuits the container for an existing server.
// The container is terminated when the test finishes.
func StartPostgres(t *testing.T) string {
	t.Helper()
	RequireIntegration(t)

	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("saleledger_test"),
		postgres.WithUsername("sale_test"),
		postgres.WithPassword("sale_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")
	return dsn
}

// SetupTestDB starts Postgres, applies the embedded migrations and returns
// a lib/pq handle. Tables are truncated on cleanup so a shared
// TEST_POSTGRES_DSN stays reusable.
func SetupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dsn := StartPostgres(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persistence.Open(ctx, dsn)
	require.NoError(t, err, "open test db")

	_, err = persistence.NewMigrator(db, persistence.EmbeddedMigrations()).Up(ctx)
	require.NoError(t, err, "migrate test db")

	t.Cleanup(func() {
		tables := []string{
			"event_log.events",
			"event_log.journal",
			"event_log.snapshots",
			"projections.participants",
			"projections.treasury",
			"projections.claim_history",
			"projections.watermark",
		}
		for _, table := range tables {
			db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table))
		}
		db.Close()
	})
	return db, dsn
}

// NewPool opens a pgx pool on dsn, closed when the test finishes.
func NewPool(t *testing.T, dsn string) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err, "open pgx pool")
	t.Cleanup(pool.Close)
	return pool
}
