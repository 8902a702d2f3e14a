package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrValidation tags every graph validation failure.
	ErrValidation = errors.New("workflow graph is invalid")

	// ErrRouting tags a node that produced no matching outgoing edge.
	ErrRouting = errors.New("no matching outgoing edge")

	// ErrTimeoutExpired tags a handler that outlived its node timeout.
	ErrTimeoutExpired = errors.New("handler timeout expired")

	// ErrTriggerNotFirst is returned when a trigger node is visited after the first step.
	ErrTriggerNotFirst = errors.New("trigger node can only run as the first step")

	// ErrExecutionTerminal is returned when asked to step an execution that already finished.
	ErrExecutionTerminal = errors.New("execution is terminal")
)

// Issue codes reported by Validate.
const (
	IssueTriggerCount     = "trigger_count"
	IssueUnknownEndpoint  = "unknown_endpoint"
	IssueEdgeIntoTrigger  = "edge_into_trigger"
	IssueUnreachable      = "unreachable"
	IssueMissingHandle    = "missing_handle"
	IssueDuplicateHandle  = "duplicate_handle"
	IssueInvalidNode      = "invalid_node"
	IssueAmbiguousRoute   = "ambiguous_route"
	IssueTriggerFanOut    = "trigger_fan_out"
	IssueInvalidPredicate = "invalid_predicate"
	IssueUndelayedCycle   = "undelayed_cycle"
)

// Issue is one problem found in a graph.
type Issue struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
	Message string `json:"message"`
}

// ValidationError lists every issue that keeps a graph from being published.
type ValidationError struct {
	WorkflowID string
	Issues     []Issue
}

func (e *ValidationError) Error() string {
	messages := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		messages[i] = issue.Message
	}

	return fmt.Sprintf("workflow %s is invalid: %s", e.WorkflowID, strings.Join(messages, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// RoutingError reports a node whose outcome matched no outgoing edge.
type RoutingError struct {
	NodeID string
	Handle string
}

func (e *RoutingError) Error() string {
	if e.Handle == "" {
		return fmt.Sprintf("node %s: %v", e.NodeID, ErrRouting)
	}

	return fmt.Sprintf("node %s: %v for handle %q", e.NodeID, ErrRouting, e.Handle)
}

func (e *RoutingError) Unwrap() error {
	return ErrRouting
}

// TimeoutExpired reports a handler call cut off by the node timeout. It is retryable.
type TimeoutExpired struct {
	NodeID  string
	Timeout time.Duration
}

func (e *TimeoutExpired) Error() string {
	return fmt.Sprintf("node %s: %v after %s", e.NodeID, ErrTimeoutExpired, e.Timeout)
}

func (e *TimeoutExpired) Unwrap() error {
	return ErrTimeoutExpired
}
