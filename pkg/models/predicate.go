// Package models provides conditional expression evaluation for workflow edges and nodes
package models

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Operator is a comparison applied by a Predicate leaf.
type Operator string

const (
	OpEq        Operator = "eq"
	OpNeq       Operator = "neq"
	OpGt        Operator = "gt"
	OpGte       Operator = "gte"
	OpLt        Operator = "lt"
	OpLte       Operator = "lte"
	OpContains  Operator = "contains"
	OpIn        Operator = "in"
	OpExists    Operator = "exists"
	OpNotExists Operator = "not_exists"
	OpTruthy    Operator = "truthy"
	OpFalsy     Operator = "falsy"
)

var ErrInvalidPredicate = errors.New("invalid predicate")

// Predicate is a boolean expression over the execution context.
// Exactly one of the leaf form (Field + Operator), All, Any or Not is set.
type Predicate struct {
	Field    string       `json:"field,omitempty"`
	Operator Operator     `json:"operator,omitempty"`
	Value    any          `json:"value,omitempty"`
	All      []*Predicate `json:"all,omitempty"`
	Any      []*Predicate `json:"any,omitempty"`
	Not      *Predicate   `json:"not,omitempty"`
}

// Validate checks the predicate structure without evaluating it.
func (p *Predicate) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: empty predicate", ErrInvalidPredicate)
	}

	forms := 0
	if p.Field != "" || p.Operator != "" {
		forms++
	}

	if len(p.All) > 0 {
		forms++
	}

	if len(p.Any) > 0 {
		forms++
	}

	if p.Not != nil {
		forms++
	}

	if forms != 1 {
		return fmt.Errorf("%w: exactly one of field/operator, all, any or not must be set", ErrInvalidPredicate)
	}

	switch {
	case len(p.All) > 0:
		return validateAll(p.All)
	case len(p.Any) > 0:
		return validateAll(p.Any)
	case p.Not != nil:
		return p.Not.Validate()
	}

	if p.Field == "" {
		return fmt.Errorf("%w: field is required", ErrInvalidPredicate)
	}

	switch p.Operator {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains:
		return nil
	case OpIn:
		if _, ok := p.Value.([]any); !ok {
			return fmt.Errorf("%w: operator in requires a list value", ErrInvalidPredicate)
		}

		return nil
	case OpExists, OpNotExists, OpTruthy, OpFalsy:
		return nil
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidPredicate, p.Operator)
	}
}

func validateAll(predicates []*Predicate) error {
	for _, child := range predicates {
		if err := child.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Evaluate runs the predicate against ctx.
func (p *Predicate) Evaluate(ctx Context) (bool, error) {
	if p == nil {
		return true, nil
	}

	switch {
	case len(p.All) > 0:
		for _, child := range p.All {
			ok, err := child.Evaluate(ctx)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil
	case len(p.Any) > 0:
		for _, child := range p.Any {
			ok, err := child.Evaluate(ctx)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return false, nil
	case p.Not != nil:
		ok, err := p.Not.Evaluate(ctx)

		return !ok, err
	}

	actual, found := ctx.Lookup(p.Field)

	switch p.Operator {
	case OpExists:
		return found && actual != nil, nil
	case OpNotExists:
		return !found || actual == nil, nil
	case OpTruthy:
		return found && Truthy(actual), nil
	case OpFalsy:
		return !found || !Truthy(actual), nil
	case OpEq:
		return found && equalValues(actual, p.Value), nil
	case OpNeq:
		return !found || !equalValues(actual, p.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		if !found {
			return false, nil
		}

		return compareOrdered(p.Operator, actual, p.Value)
	case OpContains:
		return found && containsValue(actual, p.Value), nil
	case OpIn:
		list, ok := p.Value.([]any)
		if !ok {
			return false, fmt.Errorf("%w: operator in requires a list value", ErrInvalidPredicate)
		}

		return found && containsValue(list, actual), nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidPredicate, p.Operator)
	}
}

// Truthy converts a context value to a boolean.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		if v == "" {
			return false
		}

		result, err := strconv.ParseBool(v)
		if err != nil {
			return true
		}

		return result
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}

func equalValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}

	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}

	return reflect.DeepEqual(a, b)
}

func compareOrdered(op Operator, actual, expected any) (bool, error) {
	af, aok := toFloat(actual)
	ef, eok := toFloat(expected)

	var cmp int

	switch {
	case aok && eok:
		switch {
		case af < ef:
			cmp = -1
		case af > ef:
			cmp = 1
		}
	default:
		as, sok := actual.(string)
		es, esok := expected.(string)

		if !sok || !esok {
			return false, fmt.Errorf("%w: cannot compare %T with %T", ErrInvalidPredicate, actual, expected)
		}

		cmp = strings.Compare(as, es)
	}

	switch op {
	case OpGt:
		return cmp > 0, nil
	case OpGte:
		return cmp >= 0, nil
	case OpLt:
		return cmp < 0, nil
	default:
		return cmp <= 0, nil
	}
}

func containsValue(container, needle any) bool {
	switch c := container.(type) {
	case string:
		n, ok := needle.(string)

		return ok && strings.Contains(strings.ToLower(c), strings.ToLower(n))
	case []any:
		for _, item := range c {
			if equalValues(item, needle) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range c {
			if equalValues(item, needle) {
				return true
			}
		}

		return false
	default:
		return false
	}
}
