package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type SchedulerConfig struct {
	Workers      int
	LeaseTTL     time.Duration
	PollInterval time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Workers:      4,
		LeaseTTL:     30 * time.Second,
		PollInterval: time.Second,
	}
}

// WakeupScheduler hands the wakeup of a parked execution to a delay timer.
type WakeupScheduler interface {
	Schedule(ctx context.Context, wakeup *models.Wakeup) error
}

type SchedulerOption func(*Scheduler)

// WithPublisher publishes execution lifecycle and step events.
func WithPublisher(publisher eventbus.EventPublisher) SchedulerOption {
	return func(s *Scheduler) { s.publisher = publisher }
}

// WithWakeupScheduler forwards committed wakeups to timer.
func WithWakeupScheduler(timer WakeupScheduler) SchedulerOption {
	return func(s *Scheduler) { s.timer = timer }
}

func WithClock(clock clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = clock }
}

func WithTracer(tracer trace.Tracer) SchedulerOption {
	return func(s *Scheduler) { s.tracer = tracer }
}

// Scheduler claims runnable executions and drives them through the Executor until they
// pause or finish. Every write goes through CommitStep under the claimed lease.
type Scheduler struct {
	workerID    string
	persistence persistence.Persistence
	executor    *Executor
	config      SchedulerConfig
	publisher   eventbus.EventPublisher
	timer       WakeupScheduler
	clock       clockwork.Clock
	tracer      trace.Tracer
	logger      *slog.Logger
	wake        chan struct{}

	graphsMu sync.RWMutex
	graphs   map[string]*models.Graph
}

func NewScheduler(
	workerID string,
	store persistence.Persistence,
	executor *Executor,
	config SchedulerConfig,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	defaults := DefaultSchedulerConfig()

	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}

	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaults.LeaseTTL
	}

	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}

	s := &Scheduler{
		workerID:    workerID,
		persistence: store,
		executor:    executor,
		config:      config,
		clock:       clockwork.NewRealClock(),
		tracer:      otelhelper.NoopTracer(),
		logger:      logger.With("module", "scheduler", "worker_id", workerID),
		wake:        make(chan struct{}, config.Workers),
		graphs:      make(map[string]*models.Graph),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Notify wakes idle workers, e.g. after an execution was created or made runnable.
func (s *Scheduler) Notify() {
	for range cap(s.wake) {
		select {
		case s.wake <- struct{}{}:
		default:
			return
		}
	}
}

// Run starts the worker pool and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting scheduler", "workers", s.config.Workers)

	g, ctx := errgroup.WithContext(ctx)

	for i := range s.config.Workers {
		owner := s.workerID + "-" + strconv.Itoa(i)

		g.Go(func() error {
			return s.work(ctx, owner)
		})
	}

	return g.Wait()
}

func (s *Scheduler) work(ctx context.Context, owner string) error {
	for {
		claimed, err := s.runOnce(ctx, owner)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			s.logger.ErrorContext(ctx, "Scheduler run failed", "owner", owner, "error", err)
		}

		if claimed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-s.clock.After(s.config.PollInterval):
		}
	}
}

// RunOnce claims one runnable execution and drives it until it pauses or finishes.
// It reports false when nothing was runnable.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	return s.runOnce(ctx, s.workerID)
}

// Drain runs executions until none is runnable and returns how many runs it made.
func (s *Scheduler) Drain(ctx context.Context) (int, error) {
	runs := 0

	for {
		claimed, err := s.RunOnce(ctx)
		if err != nil {
			return runs, err
		}

		if !claimed {
			return runs, nil
		}

		runs++
	}
}

type run struct {
	owner   string
	lease   models.Lease
	current *models.WorkflowExecution
	logger  *slog.Logger
}

func (s *Scheduler) runOnce(ctx context.Context, owner string) (bool, error) {
	executions := s.persistence.ExecutionRepository()

	exec, err := executions.ClaimRunnable(ctx, owner, s.clock.Now(), s.config.LeaseTTL)
	if err != nil {
		return false, fmt.Errorf("failed to claim runnable execution: %w", err)
	}

	if exec == nil {
		return false, nil
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "workflow.run",
		attribute.String(otelhelper.WorkflowIDKey, exec.WorkflowID),
		attribute.Int(otelhelper.WorkflowVersionKey, exec.WorkflowVersion),
		attribute.String(otelhelper.UnitIDKey, exec.UnitID),
		attribute.String(otelhelper.ExecutionIDKey, exec.ID),
		attribute.String(otelhelper.WorkerIDKey, owner),
	)
	defer span.End()

	r := &run{
		owner:   owner,
		lease:   exec.Lease(),
		current: exec,
		logger: s.logger.With(
			"owner", owner,
			"execution_id", exec.ID,
			"workflow_id", exec.WorkflowID,
		),
	}

	err = s.drive(ctx, r)

	switch {
	case err == nil:
		return true, nil
	case persistence.IsLeaseLost(err):
		r.logger.WarnContext(ctx, "Lease lost, abandoning execution")

		return true, nil
	default:
		otelhelper.SetError(span, err)

		if releaseErr := executions.ReleaseLease(ctx, r.lease); releaseErr != nil && !persistence.IsLeaseLost(releaseErr) {
			r.logger.ErrorContext(ctx, "Failed to release lease", "error", releaseErr)
		}

		return true, fmt.Errorf("execution %s: %w", exec.ID, err)
	}
}

func (s *Scheduler) drive(ctx context.Context, r *run) error {
	graph, graphErr := s.graph(ctx, r.current)
	if graphErr != nil && !persistence.IsWorkflowVersionNotFound(graphErr) && !persistence.IsWorkflowNotFound(graphErr) {
		return graphErr
	}

	if r.current.CancelRequested {
		return s.commit(ctx, r, s.executor.Cancel(r.current, graph))
	}

	if r.current.Status == models.ExecutionStatusPending || r.current.Status == models.ExecutionStatusPaused {
		started := *r.current
		started.Status = models.ExecutionStatusRunning
		started.WakeAt = nil

		if err := s.commit(ctx, r, &Outcome{Execution: &started}); err != nil {
			return err
		}
	}

	if graphErr != nil {
		return s.commit(ctx, r, s.executor.Fail(r.current, graphErr))
	}

	executions := s.persistence.ExecutionRepository()

	for {
		stored, err := executions.RenewLease(ctx, r.lease, s.clock.Now(), s.config.LeaseTTL)
		if err != nil {
			return err
		}

		if stored.CancelRequested {
			r.logger.InfoContext(ctx, "Cancellation requested, stopping execution")

			return s.commit(ctx, r, s.executor.Cancel(stored, graph))
		}

		outcome, err := s.step(ctx, r, stored, graph)
		if err != nil {
			return err
		}

		if err := s.commit(ctx, r, outcome); err != nil {
			return err
		}

		if !outcome.Continue() {
			r.logger.InfoContext(ctx, "Execution left the worker",
				"status", outcome.Execution.Status,
				"step_count", outcome.Execution.StepCount)

			return nil
		}
	}
}

// step runs one executor step while a heartbeat renews the lease every third of its TTL.
// If the lease is lost meanwhile, the step context is cancelled and the outcome dropped.
func (s *Scheduler) step(
	ctx context.Context,
	r *run,
	exec *models.WorkflowExecution,
	graph *models.Graph,
) (*Outcome, error) {
	stepCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var lost error

	done := make(chan struct{})

	go func() {
		defer close(done)

		lost = s.heartbeat(stepCtx, r)
		if lost != nil {
			cancel(lost)
		}
	}()

	outcome, err := s.executor.Step(stepCtx, exec, graph)

	cancel(nil)
	<-done

	if lost != nil {
		return nil, lost
	}

	return outcome, err
}

// heartbeat renews the lease of r until ctx is done. It returns the error once the lease is lost.
func (s *Scheduler) heartbeat(ctx context.Context, r *run) error {
	ticker := s.clock.NewTicker(max(s.config.LeaseTTL/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			_, err := s.persistence.ExecutionRepository().RenewLease(ctx, r.lease, s.clock.Now(), s.config.LeaseTTL)

			switch {
			case err == nil:
			case persistence.IsLeaseLost(err):
				r.logger.WarnContext(ctx, "Lease lost while a node was running")

				return err
			case ctx.Err() != nil:
				return nil
			default:
				r.logger.ErrorContext(ctx, "Failed to renew lease", "error", err)
			}
		}
	}
}

func (s *Scheduler) commit(ctx context.Context, r *run, outcome *Outcome) error {
	lease, err := s.persistence.ExecutionRepository().CommitStep(
		ctx, r.lease, outcome.Commit(), s.clock.Now(), s.config.LeaseTTL)
	if err != nil {
		return err
	}

	previous := r.current
	r.lease = lease
	r.current = outcome.Execution

	if outcome.Wakeup != nil && s.timer != nil {
		// The wakeup row is already committed, a timer failure is repaired by the manager's recovery.
		if err := s.timer.Schedule(ctx, outcome.Wakeup); err != nil {
			r.logger.ErrorContext(ctx, "Failed to schedule wakeup", "wakeup_id", outcome.Wakeup.ID, "error", err)
		}
	}

	if outcome.Step != nil {
		s.publishStep(ctx, r, outcome.Step)
	}

	if previous.Status != outcome.Execution.Status {
		s.publishLifecycle(ctx, r, previous.Status, outcome.Execution)
	}

	return nil
}

func (s *Scheduler) publishStep(ctx context.Context, r *run, step *models.ExecutionStep) {
	if s.publisher == nil {
		return
	}

	event := events.StepRecorded{
		BaseEvent: s.baseEvent(events.StepRecordedEvent, r),
		StepOrder: step.StepOrder,
		NodeID:    step.NodeID,
		NodeKind:  step.NodeKind,
		Subtype:   step.Subtype,
		Attempt:   step.Attempt,
		Status:    step.Status,
		Handle:    step.Handle,
		Error:     step.Error,
	}

	s.publish(ctx, r, event)
}

func (s *Scheduler) publishLifecycle(
	ctx context.Context,
	r *run,
	previous models.ExecutionStatus,
	exec *models.WorkflowExecution,
) {
	if s.publisher == nil {
		return
	}

	eventType, ok := events.LifecycleEventType(exec.Status, previous == models.ExecutionStatusPaused)
	if !ok {
		return
	}

	event := events.ExecutionLifecycle{
		BaseEvent:       s.baseEvent(eventType, r),
		WorkflowVersion: exec.WorkflowVersion,
		UnitID:          exec.UnitID,
		Status:          exec.Status,
		NodeID:          exec.CurrentNodeID,
		Error:           exec.Error,
		WakeAt:          exec.WakeAt,
	}

	s.publish(ctx, r, event)
}

func (s *Scheduler) baseEvent(eventType events.EventType, r *run) events.BaseEvent {
	return events.BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   s.clock.Now().UTC(),
		WorkflowID:  r.current.WorkflowID,
		ExecutionID: r.current.ID,
		WorkerID:    r.owner,
	}
}

func (s *Scheduler) publish(ctx context.Context, r *run, event eventbus.Event) {
	if err := s.publisher.Publish(ctx, r.current.ID, event); err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// graph returns the pinned version graph of exec. Versions are immutable, so they are cached.
func (s *Scheduler) graph(ctx context.Context, exec *models.WorkflowExecution) (*models.Graph, error) {
	key := exec.WorkflowID + "@" + strconv.Itoa(exec.WorkflowVersion)

	s.graphsMu.RLock()
	graph, ok := s.graphs[key]
	s.graphsMu.RUnlock()

	if ok {
		return graph, nil
	}

	version, err := s.persistence.WorkflowRepository().GetVersion(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		return nil, err
	}

	if version == nil {
		return nil, persistence.NewWorkflowError("GetVersion", exec.WorkflowID, persistence.ErrWorkflowVersionNotFound)
	}

	graph = version.Graph()

	s.graphsMu.Lock()
	s.graphs[key] = graph
	s.graphsMu.Unlock()

	return graph, nil
}
