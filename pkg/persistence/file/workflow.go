package file

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
// Workflows are stored with their nodes and connections in workflows/<id>.json,
// published snapshots in versions/<workflow_id>/<version>.json.
type WorkflowRepository struct {
	store *store
}

func (wr *WorkflowRepository) workflowPath(id string) string {
	return wr.store.path("workflows", id+".json")
}

func (wr *WorkflowRepository) versionPath(workflowID string, version int) string {
	return wr.store.path("versions", workflowID, strconv.Itoa(version)+".json")
}

// load reads a workflow without locking. It returns ErrWorkflowNotFound when missing.
func (wr *WorkflowRepository) load(id string) (*models.Workflow, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	var workflow models.Workflow

	found, err := wr.store.read(wr.workflowPath(id), &workflow)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	if workflow.Nodes == nil {
		workflow.Nodes = make([]*models.WorkflowNode, 0)
	}

	if workflow.Connections == nil {
		workflow.Connections = make([]*models.Connection, 0)
	}

	return &workflow, nil
}

func (wr *WorkflowRepository) put(workflow *models.Workflow) error {
	return wr.store.write(wr.workflowPath(workflow.ID), workflow)
}

// ListWorkflows returns paginated and filtered workflows with in-memory operations.
func (wr *WorkflowRepository) ListWorkflows(_ context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	opts.Limit, opts.Offset = persistence.NormalizePage(opts.Limit, opts.Offset)

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if opts.SortOrder == "" {
		opts.SortOrder = "desc"
	}

	allowedSorts := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"name":       true,
	}
	if !allowedSorts[opts.SortBy] {
		return nil, fmt.Errorf("invalid sort field: %s", opts.SortBy)
	}

	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	ids, err := wr.store.list(wr.store.path("workflows"))
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.load(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
		}

		if opts.UnitID != "" && workflow.UnitID != opts.UnitID {
			continue
		}

		if opts.Status != nil && workflow.Status != *opts.Status {
			continue
		}

		filtered = append(filtered, workflow)
	}

	sortWorkflows(filtered, opts.SortBy, opts.SortOrder)

	totalCount := int64(len(filtered))

	if opts.Offset >= len(filtered) {
		return &persistence.WorkflowListResult{
			Workflows:   make([]*models.Workflow, 0),
			TotalCount:  totalCount,
			HasNextPage: false,
		}, nil
	}

	endIdx := min(opts.Offset+opts.Limit, len(filtered))

	return &persistence.WorkflowListResult{
		Workflows:   filtered[opts.Offset:endIdx],
		TotalCount:  totalCount,
		HasNextPage: endIdx < len(filtered),
	}, nil
}

// sortWorkflows sorts workflows in-place based on the specified field and order.
func sortWorkflows(workflows []*models.Workflow, sortBy, sortOrder string) {
	sort.SliceStable(workflows, func(i, j int) bool {
		var less bool

		switch sortBy {
		case "updated_at":
			less = workflows[i].UpdatedAt.Before(workflows[j].UpdatedAt)
		case "name":
			less = workflows[i].Name < workflows[j].Name
		default:
			less = workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
		}

		if sortOrder == "desc" {
			return !less
		}

		return less
	})
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	return wr.load(id)
}

// Save saves workflow attributes, keeping the stored nodes and connections.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	if err := validateID(workflow.ID); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	stored := *workflow

	existing, err := wr.load(workflow.ID)

	switch {
	case err == nil:
		stored.Nodes = existing.Nodes
		stored.Connections = existing.Connections
	case persistence.IsWorkflowNotFound(err):
		if stored.Nodes == nil {
			stored.Nodes = make([]*models.WorkflowNode, 0)
		}

		if stored.Connections == nil {
			stored.Connections = make([]*models.Connection, 0)
		}
	default:
		return err
	}

	return wr.put(&stored)
}

// Delete removes a workflow, its versions and its graph. Executions are kept.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	if _, err := wr.load(id); err != nil {
		return err
	}

	live, err := countLive(wr.store, id)
	if err != nil {
		return err
	}

	if live > 0 {
		return &persistence.IntegrityError{Op: "Delete", Entity: "workflow", ID: id, Err: persistence.ErrLiveExecutions}
	}

	if err := wr.store.remove(wr.store.path("versions", id)); err != nil {
		return err
	}

	return wr.store.remove(wr.workflowPath(id))
}

// Publish stores the snapshot and flips the workflow to published.
func (wr *WorkflowRepository) Publish(_ context.Context, snapshot *models.WorkflowVersion) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	workflow, err := wr.load(snapshot.WorkflowID)
	if err != nil {
		return err
	}

	if err := wr.store.write(wr.versionPath(snapshot.WorkflowID, snapshot.Version), snapshot); err != nil {
		return err
	}

	publishedAt := snapshot.PublishedAt
	workflow.Status = models.WorkflowStatusPublished
	workflow.Version = snapshot.Version
	workflow.PublishedAt = &publishedAt
	workflow.UpdatedAt = time.Now().UTC()

	return wr.put(workflow)
}

// GetVersion returns one published snapshot.
func (wr *WorkflowRepository) GetVersion(_ context.Context, workflowID string, version int) (*models.WorkflowVersion, error) {
	if err := validateID(workflowID); err != nil {
		return nil, persistence.NewWorkflowError("GetVersion", workflowID, err)
	}

	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	return wr.loadVersion(workflowID, version)
}

func (wr *WorkflowRepository) loadVersion(workflowID string, version int) (*models.WorkflowVersion, error) {
	var snapshot models.WorkflowVersion

	found, err := wr.store.read(wr.versionPath(workflowID, version), &snapshot)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewWorkflowError("GetVersion", workflowID, persistence.ErrWorkflowVersionNotFound)
	}

	return &snapshot, nil
}

// LatestVersion returns the snapshot the workflow currently publishes.
func (wr *WorkflowRepository) LatestVersion(_ context.Context, workflowID string) (*models.WorkflowVersion, error) {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	workflow, err := wr.load(workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Version == 0 {
		return nil, persistence.NewWorkflowError("LatestVersion", workflowID, persistence.ErrWorkflowVersionNotFound)
	}

	return wr.loadVersion(workflowID, workflow.Version)
}

// PublishedByTrigger scans published workflows for a matching trigger subtype and unit.
func (wr *WorkflowRepository) PublishedByTrigger(_ context.Context, triggerSubtype, unitID string) ([]*models.WorkflowVersion, error) {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	ids, err := wr.store.list(wr.store.path("workflows"))
	if err != nil {
		return nil, err
	}

	result := make([]*models.WorkflowVersion, 0)

	for _, id := range ids {
		workflow, err := wr.load(id)
		if err != nil {
			return nil, err
		}

		if !workflow.IsPublished() {
			continue
		}

		if workflow.UnitID != "" && workflow.UnitID != unitID {
			continue
		}

		snapshot, err := wr.loadVersion(id, workflow.Version)
		if err != nil {
			return nil, err
		}

		if snapshot.TriggerSubtype == triggerSubtype {
			result = append(result, snapshot)
		}
	}

	return result, nil
}
