package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/crmflow/pkg/models"
)

// Action performs a side effect. The returned output is merged into the execution context.
// Errors should be wrapped with Retryable or Permanent; unclassified errors are retried.
type Action interface {
	Execute(ctx context.Context, execCtx models.Context, logger *slog.Logger) (map[string]any, error)
}

type ActionFactory interface {
	NodeFactory
	Create(config map[string]any) (Action, error)
}

// Condition selects the source handle execution continues on.
type Condition interface {
	Evaluate(ctx context.Context, execCtx models.Context) (string, error)
}

type ConditionFactory interface {
	NodeFactory
	Create(config map[string]any) (Condition, error)
}
