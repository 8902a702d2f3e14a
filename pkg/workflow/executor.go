package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/protocol"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HandleFiltered is recorded on a trigger step whose filter rejected the payload.
const HandleFiltered = "filtered"

// Error kinds recorded on failed and retried steps.
const (
	ErrorKindRetryable = "retryable"
	ErrorKindPermanent = "permanent"
	ErrorKindTimeout   = "timeout"
	ErrorKindRouting   = "routing"
)

type Config struct {
	NodeTimeout     time.Duration // Handler budget unless the node sets timeout_seconds
	MaxAttempts     int           // Attempts per node visit, the first one included
	RetryBackoff    time.Duration // First retry delay, 0 retries in place
	MaxRetryBackoff time.Duration
	MaxNodeTimeout  time.Duration // Caps timeout_seconds, 0 leaves node budgets as set
}

func DefaultConfig() Config {
	return Config{
		NodeTimeout:     10 * time.Second,
		MaxAttempts:     3,
		MaxRetryBackoff: 5 * time.Minute,
	}
}

// Nodes builds node handlers from a subtype and its config.
type Nodes interface {
	CreateAction(subtype string, config map[string]any) (protocol.Action, error)
	CreateCondition(subtype string, config map[string]any) (protocol.Condition, error)
	CreateDelay(subtype string, config map[string]any) (protocol.Delay, error)
	CreateTrigger(subtype string, config map[string]any) (protocol.Trigger, error)
}

// Outcome is the result of one executor step: the next execution state, the step to
// append and the wakeup to schedule. Step and Wakeup may be nil.
type Outcome struct {
	Execution *models.WorkflowExecution
	Step      *models.ExecutionStep
	Wakeup    *models.Wakeup
}

func newOutcome(next *models.WorkflowExecution, step *models.ExecutionStep, wakeup *models.Wakeup) *Outcome {
	if step != nil {
		next.StepCount = step.StepOrder
	}

	return &Outcome{Execution: next, Step: step, Wakeup: wakeup}
}

// Commit packs the outcome for ExecutionRepository.CommitStep.
func (o *Outcome) Commit() models.ExecutionCommit {
	return models.ExecutionCommit{Execution: o.Execution, Step: o.Step, Wakeup: o.Wakeup}
}

// Continue reports whether the execution can be stepped again right away.
func (o *Outcome) Continue() bool {
	return o.Execution.Status == models.ExecutionStatusRunning
}

// Executor runs exactly one node of an execution per call. It never writes to storage:
// the caller commits the returned Outcome under its lease.
type Executor struct {
	nodes  Nodes
	config Config
	clock  clockwork.Clock
	tracer trace.Tracer
	logger *slog.Logger
}

func NewExecutor(nodes Nodes, config Config, clock clockwork.Clock, tracer trace.Tracer, logger *slog.Logger) *Executor {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	if config.NodeTimeout <= 0 {
		config.NodeTimeout = DefaultConfig().NodeTimeout
	}

	if config.MaxRetryBackoff < config.RetryBackoff {
		config.MaxRetryBackoff = config.RetryBackoff
	}

	return &Executor{
		nodes:  nodes,
		config: config,
		clock:  clock,
		tracer: tracer,
		logger: logger.With("module", "executor"),
	}
}

// Step executes the current node of exec against graph.
func (e *Executor) Step(ctx context.Context, exec *models.WorkflowExecution, graph *models.Graph) (*Outcome, error) {
	if exec.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrExecutionTerminal, exec.ID, exec.Status)
	}

	next := working(exec)

	if next.CurrentNodeID == "" {
		return e.advance(next, nil, ""), nil
	}

	node, ok := graph.Node(next.CurrentNodeID)
	if !ok {
		step := e.newStep(next, &models.WorkflowNode{ID: next.CurrentNodeID})

		return e.fail(next, step, fmt.Errorf("node %s not found in workflow %s version %d: %w",
			next.CurrentNodeID, graph.WorkflowID, graph.Version, &RoutingError{NodeID: next.CurrentNodeID})), nil
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
		attribute.String(otelhelper.WorkflowIDKey, exec.WorkflowID),
		attribute.Int(otelhelper.WorkflowVersionKey, exec.WorkflowVersion),
		attribute.String(otelhelper.ExecutionIDKey, exec.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type()),
		attribute.Int(otelhelper.StepOrderKey, exec.StepCount+1),
		attribute.Int(otelhelper.AttemptKey, exec.RetryCount+1),
	)
	defer span.End()

	logger := e.logger.With(
		"execution_id", exec.ID,
		"workflow_id", exec.WorkflowID,
		"node_id", node.ID,
		"node_type", node.Type(),
	)

	var outcome *Outcome

	switch node.Kind {
	case models.NodeKindTrigger:
		outcome = e.runTrigger(next, node, graph)
	case models.NodeKindAction:
		outcome = e.runAction(ctx, next, node, graph, logger)
	case models.NodeKindCondition:
		outcome = e.runCondition(ctx, next, node, graph)
	case models.NodeKindDelay:
		outcome = e.runDelay(next, node, graph)
	default:
		outcome = e.fail(next, e.newStep(next, node),
			protocol.Permanent(fmt.Errorf("unsupported node kind %q", node.Kind)))
	}

	if step := outcome.Step; step != nil && step.Error != "" {
		span.SetAttributes(attribute.String("crmflow.step.status", string(step.Status)))
		otelhelper.SetError(span, errors.New(step.Error))
	}

	logger.DebugContext(ctx, "Node visited",
		"status", outcome.Execution.Status,
		"next_node_id", outcome.Execution.CurrentNodeID)

	return outcome, nil
}

// Cancel finishes exec as cancelled, recording a cancelled step for the node it was at.
func (e *Executor) Cancel(exec *models.WorkflowExecution, graph *models.Graph) *Outcome {
	next := working(exec)
	next.Status = models.ExecutionStatusCancelled
	next.Error = "execution cancelled"
	next.WakeAt = nil

	var step *models.ExecutionStep

	if graph != nil {
		if node, ok := graph.Node(next.CurrentNodeID); ok {
			step = e.newStep(next, node)
			step.Status = models.StepStatusCancelled
			step.CompletedAt = e.clock.Now().UTC()
		}
	}

	return newOutcome(next, step, nil)
}

// Fail finishes exec as failed without a step, for errors raised outside a node visit.
func (e *Executor) Fail(exec *models.WorkflowExecution, err error) *Outcome {
	next := working(exec)
	next.Status = models.ExecutionStatusFailed
	next.Error = err.Error()
	next.WakeAt = nil

	return &Outcome{Execution: next}
}

func (e *Executor) runTrigger(next *models.WorkflowExecution, node *models.WorkflowNode, graph *models.Graph) *Outcome {
	step := e.newStep(next, node)
	step.Input = next.TriggerPayload

	if next.StepCount != 0 {
		return e.fail(next, step, protocol.Permanent(ErrTriggerNotFirst))
	}

	trigger, err := e.nodes.CreateTrigger(node.Subtype, node.Config)
	if err != nil {
		return e.fail(next, step, err)
	}

	next.Context = models.NewContext(next.TriggerPayload)

	accepted, err := trigger.Accept(next.Context)
	if err != nil {
		return e.fail(next, step, protocol.Permanent(err))
	}

	if !accepted {
		step.Handle = HandleFiltered

		return e.advance(next, step, "")
	}

	target, err := route(graph, node, next.Context)
	if err != nil {
		return e.fail(next, step, err)
	}

	return e.advance(next, step, target)
}

func (e *Executor) runAction(
	ctx context.Context,
	next *models.WorkflowExecution,
	node *models.WorkflowNode,
	graph *models.Graph,
	logger *slog.Logger,
) *Outcome {
	step := e.newStep(next, node)
	step.Input = node.Config

	action, err := e.nodes.CreateAction(node.Subtype, node.Config)
	if err != nil {
		return e.retryOrFail(next, node, step, err)
	}

	output, err := e.invoke(ctx, node, action, next.Context.Clone(), logger)
	if err != nil {
		logger.WarnContext(ctx, "Action failed", "attempt", step.Attempt, "error", err)

		return e.retryOrFail(next, node, step, err)
	}

	next.Context.Merge(output)
	next.Context.SetNodeOutput(node.ID, output)
	next.RetryCount = 0
	step.Output = output

	target, err := route(graph, node, next.Context)
	if err != nil {
		return e.fail(next, step, err)
	}

	return e.advance(next, step, target)
}

// timeout is the handler budget of node.
func (e *Executor) timeout(node *models.WorkflowNode) time.Duration {
	timeout := node.Timeout(e.config.NodeTimeout)

	if limit := e.config.MaxNodeTimeout; limit > 0 && timeout > limit {
		return limit
	}

	return timeout
}

func (e *Executor) invoke(
	ctx context.Context,
	node *models.WorkflowNode,
	action protocol.Action,
	execCtx models.Context,
	logger *slog.Logger,
) (map[string]any, error) {
	timeout := e.timeout(node)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		output map[string]any
		err    error
	}

	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: protocol.Permanent(fmt.Errorf("action panicked: %v", r))}
			}
		}()

		output, err := action.Execute(callCtx, execCtx, logger)
		done <- result{output: output, err: err}
	}()

	expired := func() error {
		if ctx.Err() != nil {
			return protocol.Retryable(ctx.Err())
		}

		return protocol.Retryable(&TimeoutExpired{NodeID: node.ID, Timeout: timeout})
	}

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && callCtx.Err() != nil {
			return nil, expired()
		}

		return r.output, r.err
	case <-callCtx.Done():
		return nil, expired()
	}
}

func (e *Executor) runCondition(
	ctx context.Context,
	next *models.WorkflowExecution,
	node *models.WorkflowNode,
	graph *models.Graph,
) *Outcome {
	step := e.newStep(next, node)

	condition, err := e.nodes.CreateCondition(node.Subtype, node.Config)
	if err != nil {
		return e.fail(next, step, err)
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout(node))
	defer cancel()

	handle, err := condition.Evaluate(evalCtx, next.Context)
	if err != nil {
		return e.fail(next, step, err)
	}

	step.Handle = handle
	step.Output = map[string]any{"handle": handle}
	next.Context.SetNodeOutput(node.ID, step.Output)

	target, err := routeHandle(graph, node, handle, next.Context)
	if err != nil {
		return e.fail(next, step, err)
	}

	return e.advance(next, step, target)
}

func (e *Executor) runDelay(next *models.WorkflowExecution, node *models.WorkflowNode, graph *models.Graph) *Outcome {
	now := e.clock.Now()

	delay, err := e.nodes.CreateDelay(node.Subtype, node.Config)
	if err != nil {
		return e.fail(next, e.newStep(next, node), err)
	}

	since := now
	if next.WaitingSince != nil {
		since = *next.WaitingSince
	}

	decision, err := delay.Next(now, since, next.Context)
	if err != nil {
		return e.fail(next, e.newStep(next, node), err)
	}

	if decision.Recheck && !decision.Ready {
		next.WaitingSince = &since

		return e.park(next, nil, node.ID, models.WakeupReasonRecheck, decision.WakeAt)
	}

	next.WaitingSince = nil

	target, err := route(graph, node, next.Context)
	if err != nil {
		return e.fail(next, e.newStep(next, node), err)
	}

	if decision.Ready || !decision.WakeAt.After(now) {
		return e.advance(next, nil, target)
	}

	return e.park(next, nil, target, models.WakeupReasonDelay, decision.WakeAt)
}

func (e *Executor) retryOrFail(
	next *models.WorkflowExecution,
	node *models.WorkflowNode,
	step *models.ExecutionStep,
	err error,
) *Outcome {
	attempt := next.RetryCount + 1

	if protocol.IsPermanent(err) || errors.Is(err, protocol.ErrInvalidConfig) || attempt >= e.config.MaxAttempts {
		return e.fail(next, step, err)
	}

	step.Status = models.StepStatusRetrying
	step.Error = err.Error()
	step.ErrorKind = errorKind(err)
	step.CompletedAt = e.clock.Now().UTC()
	next.RetryCount = attempt

	wait := e.retryDelay(attempt)
	if wait <= 0 {
		return newOutcome(next, step, nil)
	}

	return e.park(next, step, node.ID, models.WakeupReasonRetry, e.clock.Now().Add(wait))
}

// retryDelay returns the exponential backoff before the retry following attempt.
func (e *Executor) retryDelay(attempt int) time.Duration {
	if e.config.RetryBackoff <= 0 {
		return 0
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     e.config.RetryBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         e.config.MaxRetryBackoff,
	}
	b.Reset()

	var wait time.Duration
	for range attempt {
		wait = b.NextBackOff()
	}

	return wait
}

func (e *Executor) park(
	next *models.WorkflowExecution,
	step *models.ExecutionStep,
	resumeNodeID string,
	reason models.WakeupReason,
	wakeAt time.Time,
) *Outcome {
	now := e.clock.Now()
	at := wakeAt.UTC()

	next.Generation++
	next.Status = models.ExecutionStatusPaused
	next.CurrentNodeID = resumeNodeID
	next.WakeAt = &at
	next.RunnableAt = nil

	return newOutcome(next, step, models.NewWakeup(next.ID, next.Generation, resumeNodeID, reason, at, now))
}

// advance moves to target, or completes the execution when target is empty.
func (e *Executor) advance(next *models.WorkflowExecution, step *models.ExecutionStep, target string) *Outcome {
	if step != nil {
		step.Status = models.StepStatusCompleted
		step.CompletedAt = e.clock.Now().UTC()
	}

	next.CurrentNodeID = target
	next.WakeAt = nil
	next.Status = models.ExecutionStatusRunning

	if target == "" {
		next.Status = models.ExecutionStatusCompleted
	}

	return newOutcome(next, step, nil)
}

func (e *Executor) fail(next *models.WorkflowExecution, step *models.ExecutionStep, err error) *Outcome {
	step.Status = models.StepStatusFailed
	step.Error = err.Error()
	step.ErrorKind = errorKind(err)
	step.CompletedAt = e.clock.Now().UTC()

	next.Status = models.ExecutionStatusFailed
	next.Error = err.Error()
	next.WakeAt = nil

	return newOutcome(next, step, nil)
}

func (e *Executor) newStep(exec *models.WorkflowExecution, node *models.WorkflowNode) *models.ExecutionStep {
	return &models.ExecutionStep{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		NodeID:      node.ID,
		NodeKind:    node.Kind,
		Subtype:     node.Subtype,
		StepOrder:   exec.StepCount + 1,
		Attempt:     exec.RetryCount + 1,
		StartedAt:   e.clock.Now().UTC(),
	}
}

// working returns a copy of exec that a step may mutate.
func working(exec *models.WorkflowExecution) *models.WorkflowExecution {
	next := *exec
	next.Context = exec.Context.Clone()
	next.Error = ""

	return &next
}

// route picks the successor of a non condition node: the first conditional edge whose
// predicate holds, then the unconditional edge. Empty means the execution is done.
func route(graph *models.Graph, node *models.WorkflowNode, execCtx models.Context) (string, error) {
	fallback := ""

	for _, conn := range graph.Outgoing(node.ID) {
		if !conn.IsConditional() {
			if fallback == "" {
				fallback = conn.TargetNodeID
			}

			continue
		}

		ok, err := conn.Condition.Evaluate(execCtx)
		if err != nil {
			return "", protocol.Permanent(fmt.Errorf("connection %s: %w", conn.ID, err))
		}

		if ok {
			return conn.TargetNodeID, nil
		}
	}

	return fallback, nil
}

// routeHandle picks the edge leaving a condition on handle, falling back to the
// default and else branches.
func routeHandle(graph *models.Graph, node *models.WorkflowNode, handle string, execCtx models.Context) (string, error) {
	out := graph.Outgoing(node.ID)

	for _, candidate := range []string{handle, models.HandleDefault, models.HandleElse} {
		for _, conn := range out {
			if conn.SourceHandle != candidate {
				continue
			}

			if conn.IsConditional() {
				ok, err := conn.Condition.Evaluate(execCtx)
				if err != nil {
					return "", protocol.Permanent(fmt.Errorf("connection %s: %w", conn.ID, err))
				}

				if !ok {
					continue
				}
			}

			return conn.TargetNodeID, nil
		}
	}

	return "", &RoutingError{NodeID: node.ID, Handle: handle}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrTimeoutExpired):
		return ErrorKindTimeout
	case errors.Is(err, ErrRouting):
		return ErrorKindRouting
	case protocol.IsPermanent(err), errors.Is(err, protocol.ErrInvalidConfig):
		return ErrorKindPermanent
	default:
		return ErrorKindRetryable
	}
}
