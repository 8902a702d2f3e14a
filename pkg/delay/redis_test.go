package delay_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/delay"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *delay.RedisTimer {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := delay.NewRedisClient(ctx, "redis://"+endpoint+"/0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	return delay.NewRedisTimer(client, "test:wakeups")
}

func TestRedisTimer(t *testing.T) {
	timer := setupRedis(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	soon := models.NewWakeup("exec-1", 1, "qualify", models.WakeupReasonDelay, now.Add(time.Minute), now)
	later := models.NewWakeup("exec-2", 3, "nudge", models.WakeupReasonRetry, now.Add(time.Hour), now)
	other := models.NewWakeup("exec-3", 1, "won", models.WakeupReasonRecheck, now.Add(time.Minute), now)

	for _, w := range []*models.Wakeup{soon, later, other, soon} {
		require.NoError(t, timer.Schedule(ctx, w))
	}

	due, err := timer.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, timer.Cancel(ctx, "exec-3", now))

	due, err = timer.Due(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, soon.ID, due[0].ID)
	assert.Equal(t, "qualify", due[0].ResumeNodeID)
	assert.Equal(t, 1, due[0].Generation)
	assert.True(t, due[0].WakeAt.Equal(soon.WakeAt))

	// claimed, so a second manager sees nothing
	due, err = timer.Due(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, timer.Fired(ctx, soon, now.Add(time.Minute)))

	due, err = timer.Due(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, later.ID, due[0].ID)
	assert.Equal(t, models.WakeupReasonRetry, due[0].Reason)
}
