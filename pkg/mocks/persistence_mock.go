// Package mocks provides testify mocks of the persistence and event bus interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
// Every repository accessor returns the matching mock field.
type MockPersistence struct {
	mock.Mock

	Workflows   *MockWorkflowRepository
	Nodes       *MockNodeRepository
	Connections *MockConnectionRepository
	Executions  *MockExecutionRepository
	Steps       *MockStepRepository
	Wakeups     *MockWakeupRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Workflows:   &MockWorkflowRepository{},
		Nodes:       &MockNodeRepository{},
		Connections: &MockConnectionRepository{},
		Executions:  &MockExecutionRepository{},
		Steps:       &MockStepRepository{},
		Wakeups:     &MockWakeupRepository{},
	}
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository { return m.Workflows }

func (m *MockPersistence) NodeRepository() persistence.NodeRepository { return m.Nodes }

func (m *MockPersistence) ConnectionRepository() persistence.ConnectionRepository {
	return m.Connections
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository { return m.Executions }

func (m *MockPersistence) StepRepository() persistence.StepRepository { return m.Steps }

func (m *MockPersistence) WakeupRepository() persistence.WakeupRepository { return m.Wakeups }

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.WorkflowListResult), args.Error(1)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Publish(ctx context.Context, snapshot *models.WorkflowVersion) error {
	args := m.Called(ctx, snapshot)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowVersion, error) {
	args := m.Called(ctx, workflowID, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowVersion), args.Error(1)
}

func (m *MockWorkflowRepository) LatestVersion(ctx context.Context, workflowID string) (*models.WorkflowVersion, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowVersion), args.Error(1)
}

func (m *MockWorkflowRepository) PublishedByTrigger(ctx context.Context, triggerSubtype, unitID string) ([]*models.WorkflowVersion, error) {
	args := m.Called(ctx, triggerSubtype, unitID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowVersion), args.Error(1)
}

// MockNodeRepository is a mock implementation of persistence.NodeRepository interface.
type MockNodeRepository struct {
	mock.Mock
}

func (m *MockNodeRepository) GetNodesByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowNode, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowNode), args.Error(1)
}

func (m *MockNodeRepository) GetNodeByWorkflow(ctx context.Context, workflowID, nodeID string) (*models.WorkflowNode, error) {
	args := m.Called(ctx, workflowID, nodeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowNode), args.Error(1)
}

func (m *MockNodeRepository) SaveNode(ctx context.Context, workflowID string, node *models.WorkflowNode) error {
	args := m.Called(ctx, workflowID, node)

	return args.Error(0)
}

func (m *MockNodeRepository) UpdateNode(ctx context.Context, workflowID string, node *models.WorkflowNode) error {
	args := m.Called(ctx, workflowID, node)

	return args.Error(0)
}

func (m *MockNodeRepository) DeleteNode(ctx context.Context, workflowID, nodeID string) error {
	args := m.Called(ctx, workflowID, nodeID)

	return args.Error(0)
}

// MockConnectionRepository is a mock implementation of persistence.ConnectionRepository interface.
type MockConnectionRepository struct {
	mock.Mock
}

func (m *MockConnectionRepository) GetConnectionsByWorkflow(ctx context.Context, workflowID string) ([]*models.Connection, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Connection), args.Error(1)
}

func (m *MockConnectionRepository) GetConnection(ctx context.Context, workflowID, connectionID string) (*models.Connection, error) {
	args := m.Called(ctx, workflowID, connectionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Connection), args.Error(1)
}

func (m *MockConnectionRepository) SaveConnection(ctx context.Context, workflowID string, connection *models.Connection) error {
	args := m.Called(ctx, workflowID, connection)

	return args.Error(0)
}

func (m *MockConnectionRepository) DeleteConnection(ctx context.Context, workflowID, connectionID string) error {
	args := m.Called(ctx, workflowID, connectionID)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	args := m.Called(ctx, workflowID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.ExecutionListResult), args.Error(1)
}

func (m *MockExecutionRepository) CountLive(ctx context.Context, workflowID string) (int, error) {
	args := m.Called(ctx, workflowID)

	return args.Int(0), args.Error(1)
}

func (m *MockExecutionRepository) ClaimRunnable(ctx context.Context, owner string, now time.Time, ttl time.Duration) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, owner, now, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) RenewLease(ctx context.Context, lease models.Lease, now time.Time, ttl time.Duration) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, lease, now, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) CommitStep(ctx context.Context, lease models.Lease, commit models.ExecutionCommit, now time.Time, ttl time.Duration) (models.Lease, error) {
	args := m.Called(ctx, lease, commit, now, ttl)

	return args.Get(0).(models.Lease), args.Error(1)
}

func (m *MockExecutionRepository) ReleaseLease(ctx context.Context, lease models.Lease) error {
	args := m.Called(ctx, lease)

	return args.Error(0)
}

func (m *MockExecutionRepository) MakeRunnable(ctx context.Context, executionID string, generation int, now time.Time) (bool, error) {
	args := m.Called(ctx, executionID, generation, now)

	return args.Bool(0), args.Error(1)
}

func (m *MockExecutionRepository) RequestCancel(ctx context.Context, executionID string, now time.Time) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, executionID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

// MockStepRepository is a mock implementation of persistence.StepRepository interface.
type MockStepRepository struct {
	mock.Mock
}

func (m *MockStepRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.ExecutionStep, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionStep), args.Error(1)
}

// MockWakeupRepository is a mock implementation of persistence.WakeupRepository interface.
type MockWakeupRepository struct {
	mock.Mock
}

func (m *MockWakeupRepository) Save(ctx context.Context, wakeup *models.Wakeup) error {
	args := m.Called(ctx, wakeup)

	return args.Error(0)
}

func (m *MockWakeupRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Wakeup, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Wakeup), args.Error(1)
}

func (m *MockWakeupRepository) Pending(ctx context.Context, limit int) ([]*models.Wakeup, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Wakeup), args.Error(1)
}

func (m *MockWakeupRepository) MarkFired(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)

	return args.Error(0)
}

func (m *MockWakeupRepository) CancelByExecution(ctx context.Context, executionID string, at time.Time) error {
	args := m.Called(ctx, executionID, at)

	return args.Error(0)
}

func (m *MockWakeupRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.Wakeup, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Wakeup), args.Error(1)
}
