package file

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// NodeRepository reads and writes nodes inside their workflow document.
type NodeRepository struct {
	store *store
}

func (nr *NodeRepository) workflows() *WorkflowRepository {
	return &WorkflowRepository{store: nr.store}
}

func (nr *NodeRepository) GetNodesByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowNode, error) {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	workflow, err := nr.workflows().load(workflowID)
	if err != nil {
		return nil, err
	}

	return workflow.Nodes, nil
}

func (nr *NodeRepository) GetNodeByWorkflow(_ context.Context, workflowID, nodeID string) (*models.WorkflowNode, error) {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	workflow, err := nr.workflows().load(workflowID)
	if err != nil {
		return nil, err
	}

	for _, node := range workflow.Nodes {
		if node.ID == nodeID {
			return node, nil
		}
	}

	return nil, &persistence.NodeError{Op: "GetNodeByWorkflow", WorkflowID: workflowID, NodeID: nodeID, Err: persistence.ErrNodeNotFound}
}

// SaveNode inserts the node or replaces the node with the same id.
func (nr *NodeRepository) SaveNode(_ context.Context, workflowID string, node *models.WorkflowNode) error {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	return nr.save(workflowID, node, false)
}

// UpdateNode replaces an existing node.
func (nr *NodeRepository) UpdateNode(_ context.Context, workflowID string, node *models.WorkflowNode) error {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	return nr.save(workflowID, node, true)
}

func (nr *NodeRepository) save(workflowID string, node *models.WorkflowNode, mustExist bool) error {
	repo := nr.workflows()

	workflow, err := repo.load(workflowID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	node.WorkflowID = workflowID
	node.UpdatedAt = now

	for i, existing := range workflow.Nodes {
		if existing.ID == node.ID {
			node.CreatedAt = existing.CreatedAt
			workflow.Nodes[i] = node
			workflow.UpdatedAt = now

			return repo.put(workflow)
		}
	}

	if mustExist {
		return &persistence.NodeError{Op: "UpdateNode", WorkflowID: workflowID, NodeID: node.ID, Err: persistence.ErrNodeNotFound}
	}

	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}

	workflow.Nodes = append(workflow.Nodes, node)
	workflow.UpdatedAt = now

	return repo.put(workflow)
}

// DeleteNode removes the node and its connections.
func (nr *NodeRepository) DeleteNode(_ context.Context, workflowID, nodeID string) error {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	repo := nr.workflows()

	workflow, err := repo.load(workflowID)
	if err != nil {
		return err
	}

	nodes := make([]*models.WorkflowNode, 0, len(workflow.Nodes))
	found := false

	for _, node := range workflow.Nodes {
		if node.ID == nodeID {
			found = true

			continue
		}

		nodes = append(nodes, node)
	}

	if !found {
		return &persistence.NodeError{Op: "DeleteNode", WorkflowID: workflowID, NodeID: nodeID, Err: persistence.ErrNodeNotFound}
	}

	connections := make([]*models.Connection, 0, len(workflow.Connections))

	for _, conn := range workflow.Connections {
		if conn.SourceNodeID == nodeID || conn.TargetNodeID == nodeID {
			continue
		}

		connections = append(connections, conn)
	}

	workflow.Nodes = nodes
	workflow.Connections = connections
	workflow.UpdatedAt = time.Now().UTC()

	return repo.put(workflow)
}

// ConnectionRepository reads and writes connections inside their workflow document.
type ConnectionRepository struct {
	store *store
}

func (cr *ConnectionRepository) workflows() *WorkflowRepository {
	return &WorkflowRepository{store: cr.store}
}

func (cr *ConnectionRepository) GetConnectionsByWorkflow(_ context.Context, workflowID string) ([]*models.Connection, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	workflow, err := cr.workflows().load(workflowID)
	if err != nil {
		return nil, err
	}

	return workflow.Connections, nil
}

func (cr *ConnectionRepository) GetConnection(_ context.Context, workflowID, connectionID string) (*models.Connection, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	workflow, err := cr.workflows().load(workflowID)
	if err != nil {
		return nil, err
	}

	for _, conn := range workflow.Connections {
		if conn.ID == connectionID {
			return conn, nil
		}
	}

	return nil, &persistence.ConnectionError{Op: "GetConnection", WorkflowID: workflowID, ConnectionID: connectionID, Err: persistence.ErrConnectionNotFound}
}

// SaveConnection inserts or replaces a connection after checking both endpoints exist.
func (cr *ConnectionRepository) SaveConnection(_ context.Context, workflowID string, connection *models.Connection) error {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	repo := cr.workflows()

	workflow, err := repo.load(workflowID)
	if err != nil {
		return err
	}

	graph := workflow.Graph()
	_, sourceOK := graph.Node(connection.SourceNodeID)
	_, targetOK := graph.Node(connection.TargetNodeID)

	if !sourceOK || !targetOK {
		return &persistence.ConnectionError{Op: "SaveConnection", WorkflowID: workflowID, ConnectionID: connection.ID, Err: persistence.ErrInvalidConnection}
	}

	connection.WorkflowID = workflowID
	if connection.CreatedAt.IsZero() {
		connection.CreatedAt = time.Now().UTC()
	}

	replaced := false

	for i, existing := range workflow.Connections {
		if existing.ID == connection.ID {
			workflow.Connections[i] = connection
			replaced = true

			break
		}
	}

	if !replaced {
		workflow.Connections = append(workflow.Connections, connection)
	}

	workflow.UpdatedAt = time.Now().UTC()

	return repo.put(workflow)
}

func (cr *ConnectionRepository) DeleteConnection(_ context.Context, workflowID, connectionID string) error {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	repo := cr.workflows()

	workflow, err := repo.load(workflowID)
	if err != nil {
		return err
	}

	connections := make([]*models.Connection, 0, len(workflow.Connections))
	found := false

	for _, conn := range workflow.Connections {
		if conn.ID == connectionID {
			found = true

			continue
		}

		connections = append(connections, conn)
	}

	if !found {
		return &persistence.ConnectionError{Op: "DeleteConnection", WorkflowID: workflowID, ConnectionID: connectionID, Err: persistence.ErrConnectionNotFound}
	}

	workflow.Connections = connections
	workflow.UpdatedAt = time.Now().UTC()

	return repo.put(workflow)
}
