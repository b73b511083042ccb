package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

// setupTestRedis starts a throwaway Redis container and returns a client
// with a unique key prefix.
func setupTestRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{Addr: endpoint, KeyPrefix: "polysnap-test:"})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	return client
}

func TestRedis(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	t.Run("lock", func(t *testing.T) {
		locks := NewLockManager(client)

		unlock, err := locks.Acquire(ctx, "snapshot:0xabc", time.Minute)
		require.NoError(t, err)

		_, err = locks.Acquire(ctx, "snapshot:0xabc", time.Minute)
		require.ErrorIs(t, err, domain.ErrLockHeld)

		unlock()
		unlock()

		again, err := locks.Acquire(ctx, "snapshot:0xabc", time.Minute)
		require.NoError(t, err)
		again()
	})

	t.Run("rate limiter", func(t *testing.T) {
		limiter := NewRateLimiter(client)
		key := fmt.Sprintf("test-%d", time.Now().UnixNano())

		for i := 0; i < 3; i++ {
			ok, err := limiter.Allow(ctx, key, 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "request %d", i)
		}
		ok, err := limiter.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, limiter.Wait(waitCtx, key, 3, time.Minute), context.DeadlineExceeded)

		short := key + "-short"
		require.NoError(t, limiter.Wait(ctx, short, 1, 100*time.Millisecond))
		require.NoError(t, limiter.Wait(ctx, short, 1, 100*time.Millisecond))
	})

	t.Run("signal bus stream", func(t *testing.T) {
		bus := NewSignalBus(client)
		stream := "wallet_events:0xabc"

		msgs, err := bus.StreamRead(ctx, stream, "0", 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		require.NoError(t, bus.StreamAppend(ctx, stream, []byte(`{"n":1}`)))
		require.NoError(t, bus.StreamAppend(ctx, stream, []byte(`{"n":2}`)))
		require.NoError(t, bus.Publish(ctx, "wallet_events", []byte(`{}`)))

		msgs, err = bus.StreamRead(ctx, stream, "0", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, `{"n":1}`, string(msgs[0].Payload))

		rest, err := bus.StreamRead(ctx, stream, msgs[0].ID, 10)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, `{"n":2}`, string(rest[0].Payload))
	})
}
