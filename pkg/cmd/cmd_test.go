package cmd_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.DiscardHandler)

func TestNewPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, url := range []string{"file://" + dir, dir} {
		p, err := cmd.NewPersistence(ctx, testLogger, url)
		require.NoError(t, err, url)
		require.NoError(t, p.HealthCheck(ctx))
		require.NoError(t, p.Close(ctx))
	}

	_, err := cmd.NewPersistence(ctx, testLogger, "mongodb://localhost")
	require.ErrorContains(t, err, "unsupported persistence provider")

	_, err = cmd.NewPersistence(ctx, testLogger, "file://")
	require.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	bus, err := cmd.NewEventBus("gochannel", "", "crmflow-test", testLogger)
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus("kafka", "", "crmflow-test", testLogger)
	require.Error(t, err)

	_, err = cmd.NewEventBus("rabbitmq", "", "crmflow-test", testLogger)
	require.ErrorContains(t, err, "unsupported event bus provider")
}

func TestNewRegistryIsSealed(t *testing.T) {
	reg, err := cmd.NewRegistry(testLogger, cmd.NewCollaborators("", testLogger))
	require.NoError(t, err)

	assert.True(t, reg.Sealed())
	assert.NotEmpty(t, reg.NodeTypes())
}

func TestEngineMapping(t *testing.T) {
	engine := config.DefaultEngine()
	engine.Workers = 8
	engine.NodeTimeout = 3 * time.Second
	engine.RetryBackoff = time.Second
	engine.ScanBatch = 50

	executor := cmd.ExecutorConfig(engine)
	assert.Equal(t, 3*time.Second, executor.NodeTimeout)
	assert.Equal(t, engine.MaxAttempts, executor.MaxAttempts)
	assert.Equal(t, time.Second, executor.RetryBackoff)
	assert.Positive(t, executor.MaxRetryBackoff)
	assert.Equal(t, 20*time.Second, executor.MaxNodeTimeout)
	assert.Less(t, executor.MaxNodeTimeout, engine.LeaseTTL)

	scheduler := cmd.SchedulerConfig(engine)
	assert.Equal(t, 8, scheduler.Workers)
	assert.Equal(t, engine.LeaseTTL, scheduler.LeaseTTL)

	delayCfg := cmd.DelayConfig(engine)
	assert.Equal(t, engine.PollInterval, delayCfg.ScanInterval)
	assert.Equal(t, 50, delayCfg.BatchSize)
}
