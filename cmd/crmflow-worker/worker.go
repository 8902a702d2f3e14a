package main

import (
	"context"
	"log/slog"

	"github.com/dukex/crmflow/pkg/activator"
	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/config"
	"github.com/dukex/crmflow/pkg/delay"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/dukex/crmflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// WorkerManager runs the execution scheduler, the delay manager and the event activator
// of one worker process.
type WorkerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	timer       delay.Timer
	engine      config.Engine
	tracer      trace.Tracer
}

func NewWorkerManager(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	timer delay.Timer,
	engine config.Engine,
	tracer trace.Tracer,
	logger *slog.Logger,
	registry *registry.Registry,
) *WorkerManager {
	return &WorkerManager{
		id:          id,
		logger:      logger.With("module", "crmflow-worker", "worker_id", id),
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		timer:       timer,
		engine:      engine,
		tracer:      tracer,
	}
}

// Start blocks until ctx is done or one of the loops fails.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager",
		"workers", w.engine.Workers,
		"lease_ttl", w.engine.LeaseTTL,
	)

	clock := clockwork.NewRealClock()

	executor := workflow.NewExecutor(w.registry, cmd.ExecutorConfig(w.engine), clock, w.tracer, w.logger)

	scheduler := workflow.NewScheduler(w.id, w.persistence, executor, cmd.SchedulerConfig(w.engine), w.logger,
		workflow.WithPublisher(w.eventBus),
		workflow.WithWakeupScheduler(w.timer),
		workflow.WithClock(clock),
		workflow.WithTracer(w.tracer),
	)

	wakeups := delay.NewManager(w.persistence, w.timer, scheduler, cmd.DelayConfig(w.engine), clock, w.logger)

	executions := services.NewExecution(w.persistence, w.logger,
		services.WithNotifier(scheduler),
		services.WithWakeupCanceller(wakeups),
		services.WithClock(clock),
	)

	events := activator.NewActivator(w.id, w.eventBus, w.persistence.WorkflowRepository(), w.registry, executions, w.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Run(ctx)
	})

	g.Go(func() error {
		return wakeups.Start(ctx)
	})

	g.Go(func() error {
		if err := events.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return nil
	})

	w.logger.InfoContext(ctx, "Worker started successfully")

	err := g.Wait()

	w.logger.Info("Worker stopped")

	return err
}
