// Package persistence provides data storage abstraction layer for workflows and executions.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	NodeRepository() NodeRepository
	ConnectionRepository() ConnectionRepository
	ExecutionRepository() ExecutionRepository
	StepRepository() StepRepository
	WakeupRepository() WakeupRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters and paginates workflow listings.
type ListWorkflowsOptions struct {
	UnitID    string
	Status    *models.WorkflowStatus
	Limit     int
	Offset    int
	SortBy    string // created_at, updated_at, name
	SortOrder string // asc, desc
}

// WorkflowListResult is a page of workflows.
type WorkflowListResult struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// WorkflowRepository stores workflows and their published versions.
type WorkflowRepository interface {
	ListWorkflows(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)

	// GetByID returns the workflow with its nodes and connections.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)

	// Save upserts workflow attributes. Nodes and connections are owned by their repositories.
	Save(ctx context.Context, workflow *models.Workflow) error

	// Delete removes the workflow with its nodes, connections and versions.
	// It fails with an IntegrityError while the workflow has live executions.
	Delete(ctx context.Context, id string) error

	// Publish stores the snapshot and marks the workflow published at snapshot.Version.
	Publish(ctx context.Context, snapshot *models.WorkflowVersion) error

	GetVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowVersion, error)
	LatestVersion(ctx context.Context, workflowID string) (*models.WorkflowVersion, error)

	// PublishedByTrigger returns the latest version of every published workflow whose
	// trigger subtype matches and whose unit is unitID or unscoped.
	PublishedByTrigger(ctx context.Context, triggerSubtype, unitID string) ([]*models.WorkflowVersion, error)
}

type NodeRepository interface {
	GetNodesByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowNode, error)
	GetNodeByWorkflow(ctx context.Context, workflowID, nodeID string) (*models.WorkflowNode, error)
	SaveNode(ctx context.Context, workflowID string, node *models.WorkflowNode) error
	UpdateNode(ctx context.Context, workflowID string, node *models.WorkflowNode) error

	// DeleteNode removes the node and every connection touching it.
	DeleteNode(ctx context.Context, workflowID, nodeID string) error
}

type ConnectionRepository interface {
	GetConnectionsByWorkflow(ctx context.Context, workflowID string) ([]*models.Connection, error)
	GetConnection(ctx context.Context, workflowID, connectionID string) (*models.Connection, error)

	// SaveConnection fails with ErrInvalidConnection when an endpoint is not a node of the workflow.
	SaveConnection(ctx context.Context, workflowID string, connection *models.Connection) error
	DeleteConnection(ctx context.Context, workflowID, connectionID string) error
}

// ListExecutionsOptions filters and paginates execution history.
type ListExecutionsOptions struct {
	Status *models.ExecutionStatus
	Limit  int
	Offset int
}

// ExecutionListResult is a page of executions, newest first.
type ExecutionListResult struct {
	Executions  []*models.WorkflowExecution `json:"executions"`
	TotalCount  int64                       `json:"total_count"`
	HasNextPage bool                        `json:"has_next_page"`
}

// ExecutionRepository owns execution state, the runnable set and leases.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListByWorkflow(ctx context.Context, workflowID string, opts ListExecutionsOptions) (*ExecutionListResult, error)
	CountLive(ctx context.Context, workflowID string) (int, error)

	// ClaimRunnable leases the oldest runnable execution to owner. It returns nil when none is runnable.
	ClaimRunnable(ctx context.Context, owner string, now time.Time, ttl time.Duration) (*models.WorkflowExecution, error)

	// RenewLease extends a held lease and returns the stored execution. ErrLeaseLost when not held.
	RenewLease(ctx context.Context, lease models.Lease, now time.Time, ttl time.Duration) (*models.WorkflowExecution, error)

	// CommitStep atomically checks the lease, inserts the step and wakeup, and updates the execution.
	// Running executions keep a renewed lease, which is returned; paused and terminal ones are released.
	CommitStep(ctx context.Context, lease models.Lease, commit models.ExecutionCommit, now time.Time, ttl time.Duration) (models.Lease, error)

	// ReleaseLease drops a held lease, leaving the execution runnable.
	ReleaseLease(ctx context.Context, lease models.Lease) error

	// MakeRunnable enqueues a paused execution if generation still matches.
	// It reports false when the wakeup is stale or was already applied.
	MakeRunnable(ctx context.Context, executionID string, generation int, now time.Time) (bool, error)

	// RequestCancel cancels an unleased pending or paused execution at once and flags any other live one.
	RequestCancel(ctx context.Context, executionID string, now time.Time) (*models.WorkflowExecution, error)
}

type StepRepository interface {
	// ListByExecution returns the steps ordered by step_order.
	ListByExecution(ctx context.Context, executionID string) ([]*models.ExecutionStep, error)
}

type WakeupRepository interface {
	// Save inserts the wakeup unless one with the same id exists.
	Save(ctx context.Context, wakeup *models.Wakeup) error
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Wakeup, error)
	Pending(ctx context.Context, limit int) ([]*models.Wakeup, error)
	MarkFired(ctx context.Context, id string, at time.Time) error
	CancelByExecution(ctx context.Context, executionID string, at time.Time) error
	ListByExecution(ctx context.Context, executionID string) ([]*models.Wakeup, error)
}

// Pagination defaults shared by implementations.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePage applies pagination defaults.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}
