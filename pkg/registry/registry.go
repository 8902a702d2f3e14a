// Package registry maps (kind, subtype) pairs to node factories.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrUnknownNodeSubtype = errors.New("unknown node subtype")
	ErrDuplicateNodeType  = errors.New("node type already registered")
	ErrRegistrySealed     = errors.New("registry is sealed")
	ErrKindMismatch       = errors.New("factory does not implement its kind")
	ErrInvalidSchema      = errors.New("invalid node schema")
)

type entry struct {
	factory protocol.NodeFactory
	schema  *gojsonschema.Schema
}

// Registry is filled at process start and sealed before use. A sealed registry is
// immutable, so it is safe to share between goroutines.
type Registry struct {
	logger  *slog.Logger
	entries map[string]entry
	sealed  bool
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger.With("module", "registry"),
		entries: make(map[string]entry),
	}
}

// Register adds a factory. Its JSON schema is compiled once here.
func (r *Registry) Register(factory protocol.NodeFactory) error {
	if r.sealed {
		return ErrRegistrySealed
	}

	key := models.NodeType(factory.Kind(), factory.ID())

	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNodeType, key)
	}

	if !implementsKind(factory) {
		return fmt.Errorf("%w: %s", ErrKindMismatch, key)
	}

	var compiled *gojsonschema.Schema

	if schema := factory.Schema(); schema != nil {
		var err error

		compiled, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidSchema, key, err)
		}
	}

	r.entries[key] = entry{factory: factory, schema: compiled}
	r.logger.Debug("registered node type", "type", key)

	return nil
}

// Seal freezes the registry.
func (r *Registry) Seal() {
	r.sealed = true
}

func (r *Registry) Sealed() bool {
	return r.sealed
}

func implementsKind(factory protocol.NodeFactory) bool {
	switch factory.Kind() {
	case models.NodeKindAction:
		_, ok := factory.(protocol.ActionFactory)

		return ok
	case models.NodeKindCondition:
		_, ok := factory.(protocol.ConditionFactory)

		return ok
	case models.NodeKindDelay:
		_, ok := factory.(protocol.DelayFactory)

		return ok
	case models.NodeKindTrigger:
		_, ok := factory.(protocol.TriggerFactory)

		return ok
	default:
		return false
	}
}

// NodeTypes lists every registered type ordered by kind then subtype.
func (r *Registry) NodeTypes() []protocol.NodeType {
	types := make([]protocol.NodeType, 0, len(r.entries))
	for _, e := range r.entries {
		types = append(types, protocol.Describe(e.factory))
	}

	sort.Slice(types, func(i, j int) bool {
		return types[i].Type < types[j].Type
	})

	return types
}

// Has reports whether (kind, subtype) is registered.
func (r *Registry) Has(kind models.NodeKind, subtype string) bool {
	_, ok := r.entries[models.NodeType(kind, subtype)]

	return ok
}

func (r *Registry) lookup(kind models.NodeKind, subtype string) (entry, error) {
	e, ok := r.entries[models.NodeType(kind, subtype)]
	if !ok {
		return entry{}, protocol.Permanent(fmt.Errorf("%w: %s", ErrUnknownNodeSubtype, models.NodeType(kind, subtype)))
	}

	return e, nil
}

// ValidateConfig checks a node config against the subtype's JSON schema, then against
// its typed form by building the handler.
func (r *Registry) ValidateConfig(kind models.NodeKind, subtype string, config map[string]any) error {
	e, err := r.lookup(kind, subtype)
	if err != nil {
		return err
	}

	if config == nil {
		config = map[string]any{}
	}

	if e.schema != nil {
		result, err := e.schema.Validate(gojsonschema.NewGoLoader(config))
		if err != nil {
			return fmt.Errorf("%w: %w", protocol.ErrInvalidConfig, err)
		}

		if !result.Valid() {
			var problems []string
			for _, desc := range result.Errors() {
				problems = append(problems, desc.String())
			}

			return fmt.Errorf("%w: %s", protocol.ErrInvalidConfig, strings.Join(problems, "; "))
		}
	}

	switch factory := e.factory.(type) {
	case protocol.ActionFactory:
		_, err = factory.Create(config)
	case protocol.ConditionFactory:
		_, err = factory.Create(config)
	case protocol.DelayFactory:
		_, err = factory.Create(config)
	case protocol.TriggerFactory:
		_, err = factory.Create(config)
	}

	return err
}

func (r *Registry) CreateAction(subtype string, config map[string]any) (protocol.Action, error) {
	e, err := r.lookup(models.NodeKindAction, subtype)
	if err != nil {
		return nil, err
	}

	return e.factory.(protocol.ActionFactory).Create(config)
}

func (r *Registry) CreateCondition(subtype string, config map[string]any) (protocol.Condition, error) {
	e, err := r.lookup(models.NodeKindCondition, subtype)
	if err != nil {
		return nil, err
	}

	return e.factory.(protocol.ConditionFactory).Create(config)
}

func (r *Registry) CreateDelay(subtype string, config map[string]any) (protocol.Delay, error) {
	e, err := r.lookup(models.NodeKindDelay, subtype)
	if err != nil {
		return nil, err
	}

	return e.factory.(protocol.DelayFactory).Create(config)
}

func (r *Registry) CreateTrigger(subtype string, config map[string]any) (protocol.Trigger, error) {
	e, err := r.lookup(models.NodeKindTrigger, subtype)
	if err != nil {
		return nil, err
	}

	return e.factory.(protocol.TriggerFactory).Create(config)
}

// TriggerSubtypes returns the trigger subtypes fired by a domain event type.
func (r *Registry) TriggerSubtypes(eventType string) []string {
	subtypes := make([]string, 0)

	if eventType == "" {
		return subtypes
	}

	for _, e := range r.entries {
		if factory, ok := e.factory.(protocol.TriggerFactory); ok && factory.EventType() == eventType {
			subtypes = append(subtypes, factory.ID())
		}
	}

	sort.Strings(subtypes)

	return subtypes
}
