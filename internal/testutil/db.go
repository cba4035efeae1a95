// Package testutil opens migrated test databases
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Ramsey-B/sage/migrations"
	"github.com/Ramsey-B/sage/pkg/database"
)

// Logger discards everything
func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// SQLite opens a migrated database file in a temp directory
func SQLite(t *testing.T) database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Options{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "sage.db"),
	}, Logger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrate(t, db)
	return db
}

// Postgres starts a disposable Postgres container. Skipped in short mode since it needs Docker.
func Postgres(t *testing.T) database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Postgres test in short mode (requires Docker)")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "sage",
				"POSTGRES_USER":     "sage",
				"POSTGRES_PASSWORD": "sage",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := database.Open(ctx, database.Options{
		Driver:       database.DriverPostgres,
		DSN:          fmt.Sprintf("host=%s port=%s user=sage password=sage dbname=sage sslmode=disable", host, port.Port()),
		MaxOpenConns: 5,
	}, Logger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrate(t, db)
	return db
}

func migrate(t *testing.T, db database.DB) {
	t.Helper()
	svc := database.NewMigrationService(Logger(), &database.MigrationConfig{
		Source: migrations.FS,
		Dir:    db.DriverName(),
	})
	require.NoError(t, svc.Migrate(db))
}
