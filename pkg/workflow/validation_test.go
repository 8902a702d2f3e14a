package workflow

import (
	"errors"
	"testing"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueCodes(t *testing.T, err error) []string {
	t.Helper()

	require.ErrorIs(t, err, ErrValidation)

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))

	codes := make([]string, len(validationErr.Issues))
	for i, issue := range validationErr.Issues {
		codes[i] = issue.Code
	}

	return codes
}

func validGraph() ([]*models.WorkflowNode, []*models.Connection) {
	return []*models.WorkflowNode{
			node("trigger", models.NodeKindTrigger, "lead_created", nil),
			node("replied", models.NodeKindCondition, "has_replied", nil),
			node("won", models.NodeKindAction, "set_status", map[string]any{"status": "won"}),
			node("wait", models.NodeKindDelay, "wait", map[string]any{"duration": "1h"}),
			node("nudge", models.NodeKindAction, "send_message", map[string]any{"text": "Still interested?"}),
		}, []*models.Connection{
			edge("e1", "trigger", "replied", ""),
			edge("e2", "replied", "won", models.HandleTrue),
			edge("e3", "replied", "wait", models.HandleFalse),
			edge("e4", "wait", "nudge", ""),
		}
}

func TestValidate_ValidGraph(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	nodes, conns := validGraph()
	require.NoError(t, Validate(&models.Graph{WorkflowID: "wf", Nodes: nodes, Connections: conns}, h.registry))
}

func TestValidate_Issues(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	tests := []struct {
		name   string
		mutate func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection)
		codes  []string
		nodeID string
	}{
		{
			name: "no trigger",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				return nodes[1:], conns[1:]
			},
			codes: []string{IssueTriggerCount},
		},
		{
			name: "second trigger",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				return append(nodes, node("manual", models.NodeKindTrigger, "manual", nil)), conns
			},
			codes:  []string{IssueTriggerCount},
			nodeID: "manual",
		},
		{
			name: "unreachable node",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				return append(nodes, node("orphan", models.NodeKindAction, "add_tag", map[string]any{"tag": "x"})), conns
			},
			codes:  []string{IssueUnreachable},
			nodeID: "orphan",
		},
		{
			name: "edge into trigger",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				return nodes, append(conns, edge("loop", "nudge", "trigger", ""))
			},
			codes:  []string{IssueEdgeIntoTrigger},
			nodeID: "trigger",
		},
		{
			name: "duplicate condition handle",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				conns[2].SourceHandle = models.HandleTrue

				return nodes, conns
			},
			codes:  []string{IssueDuplicateHandle},
			nodeID: "replied",
		},
		{
			name: "condition edge without handle",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				conns[1].SourceHandle = ""

				return nodes, conns
			},
			codes:  []string{IssueMissingHandle},
			nodeID: "replied",
		},
		{
			name: "unregistered subtype",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				nodes[2].Subtype = "launch_rocket"

				return nodes, conns
			},
			codes:  []string{IssueInvalidNode},
			nodeID: "won",
		},
		{
			name: "invalid config",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				nodes[3].Config = map[string]any{"duration": "soon"}

				return nodes, conns
			},
			codes:  []string{IssueInvalidNode},
			nodeID: "wait",
		},
		{
			name: "trigger fan out",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				return nodes, append(conns, edge("e5", "trigger", "won", ""))
			},
			codes:  []string{IssueTriggerFanOut},
			nodeID: "trigger",
		},
		{
			name: "two unconditional routes",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				return nodes, append(conns, edge("e5", "wait", "won", ""))
			},
			codes:  []string{IssueAmbiguousRoute},
			nodeID: "wait",
		},
		{
			name: "loop without delay",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				return nodes, append(conns, edge("back", "won", "replied", ""))
			},
			codes:  []string{IssueUndelayedCycle},
			nodeID: "replied",
		},
		{
			name: "self loop",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				return nodes, append(conns, edge("again", "nudge", "nudge", ""))
			},
			codes:  []string{IssueUndelayedCycle},
			nodeID: "nudge",
		},
		{
			name: "unknown endpoint",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				return nodes, append(conns, &models.Connection{
					ID: "e5", SourceNodeID: "nudge", TargetNodeID: "ghost",
					Condition: &models.Predicate{Field: "x", Operator: models.OpTruthy},
				})
			},
			codes:  []string{IssueUnknownEndpoint},
			nodeID: "ghost",
		},
		{
			name: "invalid edge predicate",
			mutate: func(nodes []*models.WorkflowNode, conns []*models.Connection) ([]*models.WorkflowNode, []*models.Connection) {
				conns[3].Condition = &models.Predicate{Field: "x", Operator: "between"}

				return nodes, conns
			},
			codes: []string{IssueInvalidPredicate},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, conns := tt.mutate(validGraph())

			err := Validate(&models.Graph{WorkflowID: "wf", Nodes: nodes, Connections: conns}, h.registry)

			assert.ElementsMatch(t, tt.codes, issueCodes(t, err))

			if tt.nodeID != "" {
				var validationErr *ValidationError
				require.ErrorAs(t, err, &validationErr)
				assert.Equal(t, tt.nodeID, validationErr.Issues[0].NodeID)
			}
		})
	}
}

func TestValidate_LoopThroughDelayIsValid(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	nodes, conns := validGraph()
	conns = append(conns, edge("again", "nudge", "replied", ""))

	require.NoError(t, Validate(&models.Graph{WorkflowID: "wf", Nodes: nodes, Connections: conns}, h.registry))
}

func TestValidate_CollectsEveryIssue(t *testing.T) {
	nodes, conns := validGraph()
	nodes = append(nodes, node("orphan", models.NodeKindAction, "add_tag", nil))
	conns[2].SourceHandle = models.HandleTrue

	err := Validate(&models.Graph{WorkflowID: "wf", Nodes: nodes, Connections: conns}, nil)

	codes := issueCodes(t, err)
	assert.Contains(t, codes, IssueDuplicateHandle)
	assert.Contains(t, codes, IssueUnreachable)
	assert.Contains(t, err.Error(), "orphan")
}
