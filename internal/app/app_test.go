package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gobusters/ectoinject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/internal/testutil"
	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/reconcile"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		AppName:                       "sage-test",
		DatabaseDriver:                "sqlite",
		DatabaseSQLitePath:            filepath.Join(dir, "sage.db"),
		DatabaseMaxOpenConns:          1,
		DatabaseMigrationAutoRollback: true,
		DatasetKey:                    "donors",
		LockBackend:                   LockBackendFile,
		LockDir:                       filepath.Join(dir, "locks"),
		LockTTL:                       time.Minute,
		ScoringWorkers:                2,
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("should resolve and look up through the sqlite store", func(t *testing.T) {
		a, err := New(ctx, testConfig(t), testutil.Logger())
		require.NoError(t, err)
		defer a.Close()

		require.NoError(t, a.Ping(ctx))

		result, err := a.Reconciler.Run(ctx, []models.SourceRecord{{
			SourceID:       "crm",
			SourceRecordID: "1",
			GivenName:      "Grace",
			FamilyName:     "Hopper",
			Email:          "grace@example.org",
		}})
		require.NoError(t, err)
		assert.Equal(t, models.RunSucceeded, result.Run.Status)

		entity, err := a.Lookup.EntityForRecord(ctx, "crm", "1")
		require.NoError(t, err)
		assert.Equal(t, []models.RecordID{"crm:1"}, entity.MemberSourceIDs)

		runs, err := a.RunLog.List(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, result.Run.RunID, runs[0].RunID)
	})

	t.Run("should reject an unknown lock backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.LockBackend = "zookeeper"

		_, err := New(ctx, cfg, testutil.Logger())
		var configErr *models.ConfigurationError
		require.ErrorAs(t, err, &configErr)
	})

	t.Run("should reject a missing policy file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.PolicyPath = filepath.Join(t.TempDir(), "missing.yaml")

		_, err := New(ctx, cfg, testutil.Logger())
		assert.Error(t, err)
	})
}

func TestNew_Container(t *testing.T) {
	ctx := context.Background()

	t.Run("should serve the app's services from its container", func(t *testing.T) {
		a, err := New(ctx, testConfig(t), testutil.Logger())
		require.NoError(t, err)
		defer a.Close()

		reqCtx, err := ectoinject.SetActiveContainer(ctx, a.Container.GetContainerID())
		require.NoError(t, err)

		reqCtx, cfg, err := ectoinject.GetContext[*config.Config](reqCtx)
		require.NoError(t, err)
		assert.Equal(t, "donors", cfg.DatasetKey)

		reqCtx, lookup, err := ectoinject.GetContext[*identity.Lookup](reqCtx)
		require.NoError(t, err)
		assert.Same(t, a.Lookup, lookup)

		reqCtx, store, err := ectoinject.GetContext[identity.Store](reqCtx)
		require.NoError(t, err)
		assert.NotNil(t, store)

		_, runner, err := ectoinject.GetContext[reconcile.Runner](reqCtx)
		require.NoError(t, err)
		assert.Same(t, a.Reconciler, runner)
	})

	t.Run("should leave the runner out when read-only", func(t *testing.T) {
		a, err := New(ctx, testConfig(t), testutil.Logger(), ReadOnly())
		require.NoError(t, err)
		defer a.Close()

		reqCtx, err := ectoinject.SetActiveContainer(ctx, a.Container.GetContainerID())
		require.NoError(t, err)

		_, _, err = ectoinject.GetContext[reconcile.Runner](reqCtx)
		assert.Error(t, err)

		_, _, err = ectoinject.GetContext[identity.RunLog](reqCtx)
		assert.NoError(t, err)
	})
}
