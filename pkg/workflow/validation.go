// Package workflow validates workflow graphs and drives their executions node by node.
package workflow

import (
	"fmt"

	"github.com/dukex/crmflow/pkg/models"
)

// ConfigValidator checks that a (kind, subtype) is registered and its config is valid.
type ConfigValidator interface {
	ValidateConfig(kind models.NodeKind, subtype string, config map[string]any) error
}

// Validate checks that graph can be published. Every issue found is reported at once.
// nodes may be nil to skip the per node config check.
func Validate(graph *models.Graph, nodes ConfigValidator) error {
	v := &graphValidator{graph: graph}

	trigger := v.checkTrigger()
	v.checkEdges(trigger)
	v.checkHandles()
	v.checkCycles()

	if trigger != nil {
		v.checkReachable(trigger)
	}

	if nodes != nil {
		for _, node := range graph.Nodes {
			if err := nodes.ValidateConfig(node.Kind, node.Subtype, node.Config); err != nil {
				v.add(Issue{Code: IssueInvalidNode, NodeID: node.ID,
					Message: fmt.Sprintf("node %s (%s): %v", node.ID, node.Type(), err)})
			}
		}
	}

	if len(v.issues) == 0 {
		return nil
	}

	return &ValidationError{WorkflowID: graph.WorkflowID, Issues: v.issues}
}

type graphValidator struct {
	graph  *models.Graph
	issues []Issue
}

func (v *graphValidator) add(issue Issue) {
	v.issues = append(v.issues, issue)
}

func (v *graphValidator) checkTrigger() *models.WorkflowNode {
	var triggers []*models.WorkflowNode

	for _, node := range v.graph.Nodes {
		if node.Kind == models.NodeKindTrigger {
			triggers = append(triggers, node)
		}
	}

	switch len(triggers) {
	case 0:
		v.add(Issue{Code: IssueTriggerCount, Message: "workflow has no trigger node"})

		return nil
	case 1:
		return triggers[0]
	default:
		for _, node := range triggers[1:] {
			v.add(Issue{Code: IssueTriggerCount, NodeID: node.ID,
				Message: fmt.Sprintf("node %s is an extra trigger, only one is allowed", node.ID)})
		}

		return triggers[0]
	}
}

func (v *graphValidator) checkEdges(trigger *models.WorkflowNode) {
	for _, conn := range v.graph.Connections {
		for _, endpoint := range []string{conn.SourceNodeID, conn.TargetNodeID} {
			if _, ok := v.graph.Node(endpoint); !ok {
				v.add(Issue{Code: IssueUnknownEndpoint, EdgeID: conn.ID, NodeID: endpoint,
					Message: fmt.Sprintf("connection %s references unknown node %q", conn.ID, endpoint)})
			}
		}

		if target, ok := v.graph.Node(conn.TargetNodeID); ok && target.Kind == models.NodeKindTrigger {
			v.add(Issue{Code: IssueEdgeIntoTrigger, EdgeID: conn.ID, NodeID: target.ID,
				Message: fmt.Sprintf("connection %s targets trigger node %s", conn.ID, target.ID)})
		}

		if conn.Condition != nil {
			if err := conn.Condition.Validate(); err != nil {
				v.add(Issue{Code: IssueInvalidPredicate, EdgeID: conn.ID,
					Message: fmt.Sprintf("connection %s: %v", conn.ID, err)})
			}
		}
	}

	if trigger != nil {
		if out := v.graph.Outgoing(trigger.ID); len(out) > 1 {
			v.add(Issue{Code: IssueTriggerFanOut, NodeID: trigger.ID,
				Message: fmt.Sprintf("trigger %s has %d outgoing connections, at most one is allowed", trigger.ID, len(out))})
		}
	}
}

func (v *graphValidator) checkHandles() {
	for _, node := range v.graph.Nodes {
		out := v.graph.Outgoing(node.ID)

		if node.Kind != models.NodeKindCondition {
			if node.Kind == models.NodeKindTrigger {
				continue
			}

			unconditional := 0

			for _, conn := range out {
				if !conn.IsConditional() {
					unconditional++
				}
			}

			if unconditional > 1 {
				v.add(Issue{Code: IssueAmbiguousRoute, NodeID: node.ID,
					Message: fmt.Sprintf("node %s has %d unconditional outgoing connections", node.ID, unconditional)})
			}

			continue
		}

		seen := make(map[string]string, len(out))

		for _, conn := range out {
			if conn.SourceHandle == "" {
				v.add(Issue{Code: IssueMissingHandle, NodeID: node.ID, EdgeID: conn.ID,
					Message: fmt.Sprintf("connection %s leaves condition %s without a source handle", conn.ID, node.ID)})

				continue
			}

			if first, dup := seen[conn.SourceHandle]; dup {
				v.add(Issue{Code: IssueDuplicateHandle, NodeID: node.ID, EdgeID: conn.ID,
					Message: fmt.Sprintf("connections %s and %s share handle %q on condition %s",
						first, conn.ID, conn.SourceHandle, node.ID)})

				continue
			}

			seen[conn.SourceHandle] = conn.ID
		}
	}
}

func (v *graphValidator) checkReachable(trigger *models.WorkflowNode) {
	visited := map[string]bool{trigger.ID: true}
	queue := []string{trigger.ID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, conn := range v.graph.Outgoing(current) {
			if !visited[conn.TargetNodeID] {
				visited[conn.TargetNodeID] = true
				queue = append(queue, conn.TargetNodeID)
			}
		}
	}

	for _, node := range v.graph.Nodes {
		if node.Kind != models.NodeKindTrigger && !visited[node.ID] {
			v.add(Issue{Code: IssueUnreachable, NodeID: node.ID,
				Message: fmt.Sprintf("node %s is not reachable from trigger %s", node.ID, trigger.ID)})
		}
	}
}

// checkCycles reports loops that would run forever under one lease: every cycle must pass
// through a delay node. Delay nodes are left out of the walk, so any cycle found lacks one.
func (v *graphValidator) checkCycles() {
	const (
		unvisited = iota
		inProgress
		done
	)

	state := make(map[string]int, len(v.graph.Nodes))
	reported := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		state[id] = inProgress

		for _, conn := range v.graph.Outgoing(id) {
			target, ok := v.graph.Node(conn.TargetNodeID)
			if !ok || target.Kind == models.NodeKindDelay {
				continue
			}

			switch state[target.ID] {
			case unvisited:
				visit(target.ID)
			case inProgress:
				if !reported[target.ID] {
					reported[target.ID] = true
					v.add(Issue{Code: IssueUndelayedCycle, NodeID: target.ID, EdgeID: conn.ID,
						Message: fmt.Sprintf("connection %s closes a loop through %s without a delay node", conn.ID, target.ID)})
				}
			}
		}

		state[id] = done
	}

	for _, node := range v.graph.Nodes {
		if node.Kind != models.NodeKindDelay && state[node.ID] == unvisited {
			visit(node.ID)
		}
	}
}
