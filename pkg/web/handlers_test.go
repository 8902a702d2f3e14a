package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/crmflow/pkg/collaborators"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/registry"
	"github.com/dukex/crmflow/pkg/services"
	"github.com/dukex/crmflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.DiscardHandler)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	reg, err := registry.NewDefault(testLogger, collaborators.NewSet(collaborators.NewRecorder()))
	require.NoError(t, err)

	store := file.NewPersistence(t.TempDir())

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(store),
		services.NewNode(store, reg),
		services.NewConnection(store),
		services.NewPublishing(store, reg),
		services.NewExecution(store, testLogger),
		validator.New(validator.WithRequiredStructEnabled()),
		reg,
	)

	return web.NewApp(handlers, otelhelper.NoopTracer())
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))

	return out
}

func createWorkflow(t *testing.T, app *fiber.App, name, unitID string) models.Workflow {
	t.Helper()

	status, body := do(t, app, http.MethodPost, "/workflows", web.CreateWorkflowRequest{Name: name, UnitID: unitID})
	require.Equal(t, http.StatusCreated, status, string(body))

	return decode[models.Workflow](t, body)
}

func createNode(t *testing.T, app *fiber.App, workflowID, kind, subtype string, config map[string]any) web.NodeResponse {
	t.Helper()

	status, body := do(t, app, http.MethodPost, "/workflows/"+workflowID+"/nodes", web.CreateNodeRequest{
		Kind:    kind,
		Subtype: subtype,
		Name:    subtype,
		Config:  config,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	return decode[web.NodeResponse](t, body)
}

func connect(t *testing.T, app *fiber.App, workflowID, source, target string) models.Connection {
	t.Helper()

	status, body := do(t, app, http.MethodPost, "/workflows/"+workflowID+"/connections", web.CreateConnectionRequest{
		SourceNodeID: source,
		TargetNodeID: target,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	return decode[models.Connection](t, body)
}

// publishedWelcome creates and publishes lead_created -> set_status qualified.
func publishedWelcome(t *testing.T, app *fiber.App) models.Workflow {
	t.Helper()

	wf := createWorkflow(t, app, "Welcome", "unit-1")
	trigger := createNode(t, app, wf.ID, "trigger", "lead_created", nil)
	qualify := createNode(t, app, wf.ID, "action", "set_status", map[string]any{"status": "qualified"})
	connect(t, app, wf.ID, trigger.ID, qualify.ID)

	status, body := do(t, app, http.MethodPost, "/workflows/"+wf.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	return decode[models.Workflow](t, body)
}

func TestAPI_WorkflowLifecycle(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	wf := publishedWelcome(t, app)

	assert.Equal(t, models.WorkflowStatusPublished, wf.Status)
	assert.Equal(t, 1, wf.Version)

	status, body := do(t, app, http.MethodGet, "/workflows/"+wf.ID, nil)
	require.Equal(t, http.StatusOK, status)

	fetched := decode[models.Workflow](t, body)
	assert.Len(t, fetched.Nodes, 2)
	assert.Len(t, fetched.Connections, 1)

	status, body = do(t, app, http.MethodPost, "/workflows/"+wf.ID+"/execute", web.ExecuteWorkflowRequest{
		TriggerPayload: map[string]any{"entity_id": "L1"},
	})
	require.Equal(t, http.StatusAccepted, status, string(body))

	accepted := decode[web.ExecuteWorkflowResponse](t, body)
	assert.NotEmpty(t, accepted.ExecutionID)
	assert.Equal(t, 1, accepted.WorkflowVersion)
	assert.Equal(t, models.ExecutionStatusPending, accepted.Status)

	status, body = do(t, app, http.MethodGet, "/workflows/"+wf.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, status)

	history := decode[map[string]any](t, body)
	assert.InDelta(t, 1, history["total_count"], 0)

	status, body = do(t, app, http.MethodGet, "/executions/"+accepted.ExecutionID, nil)
	require.Equal(t, http.StatusOK, status)

	detail := decode[services.ExecutionDetail](t, body)
	assert.Equal(t, accepted.ExecutionID, detail.ID)
	assert.Equal(t, "L1", detail.TriggerPayload["entity_id"])
	assert.Empty(t, detail.Steps)

	status, body = do(t, app, http.MethodPost, "/executions/"+accepted.ExecutionID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.ExecutionStatusCancelled, decode[models.WorkflowExecution](t, body).Status)

	status, _ = do(t, app, http.MethodDelete, "/workflows/"+wf.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, app, http.MethodGet, "/workflows/"+wf.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_CreateWorkflowValidation(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "missing name", body: web.CreateWorkflowRequest{Description: "no name"}},
		{name: "name too short", body: web.CreateWorkflowRequest{Name: "ab"}},
		{name: "malformed json", body: json.RawMessage(`{"name": `)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var status int

			if raw, ok := tt.body.(json.RawMessage); ok {
				req := httptest.NewRequest(http.MethodPost, "/workflows", bytes.NewReader(raw))
				req.Header.Set("Content-Type", "application/json")

				resp, err := app.Test(req)
				require.NoError(t, err)

				_ = resp.Body.Close()
				status = resp.StatusCode
			} else {
				status, _ = do(t, app, http.MethodPost, "/workflows", tt.body)
			}

			assert.Equal(t, http.StatusBadRequest, status)
		})
	}
}

func TestAPI_UpdateWorkflow(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	wf := createWorkflow(t, app, "Old name", "")

	name := "New name"
	status, body := do(t, app, http.MethodPatch, "/workflows/"+wf.ID, web.UpdateWorkflowRequest{Name: &name})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "New name", decode[models.Workflow](t, body).Name)

	status, _ = do(t, app, http.MethodPatch, "/workflows/missing", web.UpdateWorkflowRequest{Name: &name})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_ListWorkflows(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	createWorkflow(t, app, "First", "unit-1")
	createWorkflow(t, app, "Second", "unit-2")

	status, body := do(t, app, http.MethodGet, "/workflows?unit_id=unit-1", nil)
	require.Equal(t, http.StatusOK, status)

	list := decode[services.ListWorkflowsResponse](t, body)
	require.Len(t, list.Workflows, 1)
	assert.Equal(t, "First", list.Workflows[0].Name)

	status, _ = do(t, app, http.MethodGet, "/workflows?sort_by=owner", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodGet, "/workflows?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_PublishInvalidGraph(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	wf := createWorkflow(t, app, "Broken", "")
	createNode(t, app, wf.ID, "trigger", "lead_created", nil)
	orphan := createNode(t, app, wf.ID, "action", "add_tag", map[string]any{"tag": "x"})

	status, body := do(t, app, http.MethodPost, "/workflows/"+wf.ID+"/publish", nil)
	require.Equal(t, http.StatusUnprocessableEntity, status, string(body))

	problem := decode[struct {
		Type   string `json:"type"`
		Issues []struct {
			Code   string `json:"code"`
			NodeID string `json:"node_id"`
		} `json:"issues"`
	}](t, body)

	assert.Equal(t, "invalid_workflow", problem.Type)
	require.NotEmpty(t, problem.Issues)

	found := false

	for _, issue := range problem.Issues {
		if issue.NodeID == orphan.ID && issue.Code == "unreachable" {
			found = true
		}
	}

	assert.True(t, found, "orphan node reported unreachable")
}

func TestAPI_Nodes(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	wf := createWorkflow(t, app, "Nodes", "")

	node := createNode(t, app, wf.ID, "action", "set_status", map[string]any{"status": "won"})
	assert.Equal(t, "set_status", node.Subtype)
	assert.Equal(t, "action", node.Kind)

	status, body := do(t, app, http.MethodPatch, "/workflows/"+wf.ID+"/nodes/"+node.ID, web.UpdateNodeRequest{
		Name:   "Mark won",
		Config: map[string]any{"status": "lost"},
	})
	require.Equal(t, http.StatusOK, status, string(body))

	updated := decode[web.NodeResponse](t, body)
	assert.Equal(t, "Mark won", updated.Name)
	assert.Equal(t, "lost", updated.Config["status"])

	status, _ = do(t, app, http.MethodPost, "/workflows/"+wf.ID+"/nodes", web.CreateNodeRequest{
		Kind: "action", Subtype: "launch_rocket", Name: "rocket",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/workflows/"+wf.ID+"/nodes", web.CreateNodeRequest{
		Kind: "loop", Subtype: "forever", Name: "loop",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodDelete, "/workflows/"+wf.ID+"/nodes/"+node.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, app, http.MethodGet, "/workflows/"+wf.ID+"/nodes/"+node.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_Connections(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	wf := createWorkflow(t, app, "Connections", "")
	trigger := createNode(t, app, wf.ID, "trigger", "manual", nil)
	tag := createNode(t, app, wf.ID, "action", "add_tag", map[string]any{"tag": "vip"})

	conn := connect(t, app, wf.ID, trigger.ID, tag.ID)

	status, body := do(t, app, http.MethodGet, "/workflows/"+wf.ID+"/connections", nil)
	require.Equal(t, http.StatusOK, status)

	list := decode[struct {
		Connections []models.Connection `json:"connections"`
	}](t, body)
	require.Len(t, list.Connections, 1)
	assert.Equal(t, conn.ID, list.Connections[0].ID)

	status, _ = do(t, app, http.MethodPost, "/workflows/"+wf.ID+"/connections", web.CreateConnectionRequest{
		SourceNodeID: trigger.ID,
		TargetNodeID: "elsewhere",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodDelete, "/workflows/"+wf.ID+"/connections/"+conn.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, app, http.MethodDelete, "/workflows/"+wf.ID+"/connections/"+conn.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_ExecuteUnpublished(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	wf := createWorkflow(t, app, "Draft only", "")

	status, body := do(t, app, http.MethodPost, "/workflows/"+wf.ID+"/execute", nil)
	assert.Equal(t, http.StatusConflict, status, string(body))

	status, _ = do(t, app, http.MethodPost, "/workflows/missing/execute", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_DeleteWithLiveExecutions(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	wf := publishedWelcome(t, app)

	status, _ := do(t, app, http.MethodPost, "/workflows/"+wf.ID+"/execute", web.ExecuteWorkflowRequest{})
	require.Equal(t, http.StatusAccepted, status)

	status, body := do(t, app, http.MethodDelete, "/workflows/"+wf.ID, nil)
	assert.Equal(t, http.StatusConflict, status, string(body))
}

func TestAPI_NotFound(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	tests := []struct {
		method      string
		path        string
		problemType string
	}{
		{http.MethodGet, "/workflows/missing", "workflow_not_found"},
		{http.MethodDelete, "/workflows/missing", "workflow_not_found"},
		{http.MethodGet, "/workflows/missing/executions", "workflow_not_found"},
		{http.MethodGet, "/executions/missing", "execution_not_found"},
		{http.MethodPost, "/executions/missing/cancel", "execution_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			status, body := do(t, app, tt.method, tt.path, nil)
			require.Equal(t, http.StatusNotFound, status, string(body))
			assert.Equal(t, tt.problemType, decode[map[string]any](t, body)["type"])
		})
	}
}

func TestAPI_NodeTypes(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := do(t, app, http.MethodGet, "/node-types", nil)
	require.Equal(t, http.StatusOK, status)

	listing := decode[struct {
		NodeTypes []struct {
			Kind    string         `json:"kind"`
			Subtype string         `json:"subtype"`
			Schema  map[string]any `json:"schema"`
		} `json:"node_types"`
	}](t, body)

	subtypes := make(map[string]string)
	for _, nodeType := range listing.NodeTypes {
		subtypes[nodeType.Subtype] = nodeType.Kind
	}

	assert.Equal(t, "action", subtypes["set_status"])
	assert.Equal(t, "condition", subtypes["has_replied"])
	assert.Equal(t, "trigger", subtypes["lead_created"])
}

func TestAPI_Health(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := do(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", decode[map[string]any](t, body)["status"])

	status, _ = do(t, app, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, app, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, status)
}
