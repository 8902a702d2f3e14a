package registry

import (
	"log/slog"

	"github.com/dukex/crmflow/pkg/collaborators"
	"github.com/dukex/crmflow/pkg/nodes/action"
	"github.com/dukex/crmflow/pkg/nodes/condition"
	"github.com/dukex/crmflow/pkg/nodes/trigger"
	"github.com/dukex/crmflow/pkg/nodes/wait"
	"github.com/dukex/crmflow/pkg/protocol"
)

// RegisterDefaultNodes registers every built-in node factory.
func (r *Registry) RegisterDefaultNodes(deps collaborators.Set) error {
	factories := []protocol.NodeFactory{
		action.NewSetStatusFactory(deps.Statuses),
		action.NewSendMessageFactory(deps.Messages),
		action.NewAddTagFactory(deps.Tags),
		action.NewRemoveTagFactory(deps.Tags),
		action.NewUpdateFieldFactory(deps.Fields),
		action.NewSetVariableFactory(),

		condition.NewHasRepliedFactory(),
		condition.NewPositiveResponseFactory(),
		condition.NewFieldCompareFactory(),
		condition.NewSwitchFactory(),

		wait.NewFactory(),
	}

	for _, factory := range trigger.Factories() {
		factories = append(factories, factory)
	}

	for _, factory := range factories {
		if err := r.Register(factory); err != nil {
			return err
		}
	}

	return nil
}

// NewDefault builds and seals a registry holding the built-in nodes.
func NewDefault(logger *slog.Logger, deps collaborators.Set) (*Registry, error) {
	r := NewRegistry(logger)

	if err := r.RegisterDefaultNodes(deps); err != nil {
		return nil, err
	}

	r.Seal()

	return r, nil
}
