package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/reconcile"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Redis test in short mode (requires Docker)")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewClient(Config{Host: host, Port: port.Int()}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedis(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	t.Run("should grant the lock to one holder at a time", func(t *testing.T) {
		locker := NewLocker(client, "")

		lock, err := locker.Acquire(ctx, "donors", time.Minute)
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, "donors", time.Minute)
		assert.ErrorIs(t, err, identity.ErrLockHeld)

		require.NoError(t, lock.Release(ctx))
		again, err := locker.Acquire(ctx, "donors", time.Minute)
		require.NoError(t, err)
		require.NoError(t, again.Release(ctx))
	})

	t.Run("should not release a lock taken over after expiry", func(t *testing.T) {
		locker := NewLocker(client, "")

		lock, err := locker.Acquire(ctx, "expiring", 50*time.Millisecond)
		require.NoError(t, err)
		time.Sleep(100 * time.Millisecond)

		other, err := locker.Acquire(ctx, "expiring", time.Minute)
		require.NoError(t, err)

		assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)
		require.NoError(t, other.Release(ctx))
	})

	t.Run("should cache assignments of committed runs", func(t *testing.T) {
		cache := NewEntityCache(client, fmt.Sprintf("donors-%d", time.Now().UnixNano()), time.Minute)

		_, ok, err := cache.GetEntityID(ctx, "crm:1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, cache.Publish(ctx, &reconcile.RunResult{
			Run:         &models.ResolutionRun{RunID: "run-1"},
			Committed:   true,
			Assignments: map[models.RecordID]string{"crm:1": "e-1", "events:2": "e-1"},
		}))

		entityID, ok, err := cache.GetEntityID(ctx, "events:2")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "e-1", entityID)
	})
}
