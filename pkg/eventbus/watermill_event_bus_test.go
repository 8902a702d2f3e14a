package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/crmflow/pkg/channels/gochannel"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_RoutesByType(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus := newTestBus(t)

	var (
		mu        sync.Mutex
		lifecycle []*events.ExecutionLifecycle
		domain    []*events.DomainEvent
	)

	received := make(chan struct{}, 10)

	require.NoError(t, bus.Handle(events.ExecutionCompletedEvent, func(_ context.Context, event any) error {
		mu.Lock()
		lifecycle = append(lifecycle, event.(*events.ExecutionLifecycle))
		mu.Unlock()
		received <- struct{}{}

		return nil
	}))

	require.NoError(t, bus.Handle(events.DomainEventType, func(_ context.Context, event any) error {
		mu.Lock()
		domain = append(domain, event.(*events.DomainEvent))
		mu.Unlock()
		received <- struct{}{}

		return nil
	}))

	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "exec-1", events.ExecutionLifecycle{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.ExecutionCompletedEvent, ExecutionID: "exec-1"},
		Status:    models.ExecutionStatusCompleted,
	}))

	// No handler for paused events, the message is acked and dropped
	require.NoError(t, bus.Publish(ctx, "exec-1", events.ExecutionLifecycle{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.ExecutionPausedEvent, ExecutionID: "exec-1"},
	}))

	require.NoError(t, bus.Publish(ctx, "L1", events.DomainEvent{
		ID: "evt-1", Type: "lead.created", EntityID: "L1", Payload: map[string]any{"lead_id": "L1"},
	}))

	for range 2 {
		select {
		case <-received:
		case <-ctx.Done():
			t.Fatal("timed out waiting for events")
		}
	}

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, lifecycle, 1)
	assert.Equal(t, "exec-1", lifecycle[0].ExecutionID)
	assert.Equal(t, models.ExecutionStatusCompleted, lifecycle[0].Status)

	require.Len(t, domain, 1)
	assert.Equal(t, "lead.created", domain[0].Type)
	assert.Equal(t, "L1", domain[0].Payload["lead_id"])
}

func TestWatermillEventBus_RedeliversOnHandlerError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus := newTestBus(t)

	attempts := make(chan int, 5)
	count := 0

	require.NoError(t, bus.Handle(events.DomainEventType, func(_ context.Context, _ any) error {
		count++
		attempts <- count

		if count == 1 {
			return errors.New("database unavailable")
		}

		return nil
	}))

	require.NoError(t, bus.Subscribe(ctx))
	require.NoError(t, bus.Publish(ctx, "L1", events.DomainEvent{ID: "evt-1", Type: "lead.created"}))

	for want := 1; want <= 2; want++ {
		select {
		case got := <-attempts:
			assert.Equal(t, want, got)
		case <-ctx.Done():
			t.Fatal("timed out waiting for redelivery")
		}
	}
}
