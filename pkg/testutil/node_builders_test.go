package testutil_test

import (
	"testing"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCreateTestVersion(t *testing.T) {
	wf := testutil.CreateTestWorkflow("wf", "unit-1")
	trigger := testutil.CreateTestNode(testutil.WithTrigger("lead_created"), testutil.WithID("trigger"))
	tag := testutil.CreateTestNode(testutil.WithName("Tag"))

	wf.Nodes = []*models.WorkflowNode{trigger, tag}
	wf.Connections = []*models.Connection{testutil.CreateTestConnection(wf.ID, trigger.ID, tag.ID)}

	version := testutil.CreateTestVersion(wf)

	assert.Equal(t, 1, version.Version)
	assert.Equal(t, "unit-1", version.UnitID)
	assert.Equal(t, "lead_created", version.TriggerSubtype)
	assert.Equal(t, "wf", version.Nodes[1].WorkflowID)
	assert.Equal(t, models.NodeKindAction, tag.Kind)
	assert.Equal(t, "add_tag", tag.Subtype)
}
