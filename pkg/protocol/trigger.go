package protocol

import (
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

// Trigger decides whether a payload starts the workflow past its entry node.
type Trigger interface {
	// Accept reports whether the payload passes the trigger filter
	Accept(payload models.Context) (bool, error)
}

type TriggerFactory interface {
	NodeFactory
	Create(config map[string]any) (Trigger, error)

	// EventType returns the domain event that fires this trigger, empty for manual triggers
	EventType() string
}

// DelayDecision is what a delay node resolves to at a point in time.
type DelayDecision struct {
	// Ready means execution continues immediately
	Ready bool

	// WakeAt is when the execution should be reconsidered
	WakeAt time.Time

	// Recheck means the node must be evaluated again on wake instead of advancing
	Recheck bool
}

// Delay computes wake times for a delay node.
type Delay interface {
	// Next resolves the delay at now. since is when the execution first reached the node.
	Next(now, since time.Time, execCtx models.Context) (DelayDecision, error)
}

type DelayFactory interface {
	NodeFactory
	Create(config map[string]any) (Delay, error)
}
