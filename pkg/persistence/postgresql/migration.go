package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflows and their editable graph
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				unit_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'published')),
				version INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_unit_id ON workflows(unit_id);
			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE workflow_nodes (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL CHECK (kind IN ('trigger', 'action', 'condition', 'delay')),
				subtype VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				config JSONB NOT NULL DEFAULT '{}',
				timeout_seconds INT NOT NULL DEFAULT 0,
				position_x INT NOT NULL DEFAULT 0,
				position_y INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workflow_id, id)
			);

			CREATE TABLE workflow_connections (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				source_node_id VARCHAR(255) NOT NULL,
				target_node_id VARCHAR(255) NOT NULL,
				source_handle VARCHAR(255) NOT NULL DEFAULT '',
				target_handle VARCHAR(255) NOT NULL DEFAULT '',
				condition JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workflow_id, id),
				FOREIGN KEY (workflow_id, source_node_id) REFERENCES workflow_nodes(workflow_id, id) ON DELETE CASCADE,
				FOREIGN KEY (workflow_id, target_node_id) REFERENCES workflow_nodes(workflow_id, id) ON DELETE CASCADE
			);

			CREATE INDEX idx_workflow_connections_source ON workflow_connections(workflow_id, source_node_id);

			-- Immutable snapshots taken at publish time
			CREATE TABLE workflow_versions (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				version INT NOT NULL,
				unit_id VARCHAR(255) NOT NULL DEFAULT '',
				trigger_subtype VARCHAR(255) NOT NULL,
				nodes JSONB NOT NULL,
				connections JSONB NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (workflow_id, version)
			);

			CREATE INDEX idx_workflow_versions_trigger ON workflow_versions(trigger_subtype);
		`,
		2: `
			-- Executions outlive their workflow, so there is no foreign key to workflows
			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				workflow_version INT NOT NULL,
				unit_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				current_node_id VARCHAR(255) NOT NULL DEFAULT '',
				context JSONB NOT NULL DEFAULT '{}',
				trigger_payload JSONB NOT NULL DEFAULT '{}',
				error_message TEXT NOT NULL DEFAULT '',
				retry_count INT NOT NULL DEFAULT 0,
				step_count INT NOT NULL DEFAULT 0,
				cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
				generation INT NOT NULL DEFAULT 0,
				wake_at TIMESTAMP WITH TIME ZONE,
				waiting_since TIMESTAMP WITH TIME ZONE,
				runnable_at TIMESTAMP WITH TIME ZONE,
				lease_owner VARCHAR(255) NOT NULL DEFAULT '',
				lease_token VARCHAR(255) NOT NULL DEFAULT '',
				lease_expires_at TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_executions_workflow ON workflow_executions(workflow_id, created_at DESC);
			CREATE INDEX idx_workflow_executions_runnable ON workflow_executions(runnable_at, created_at)
				WHERE runnable_at IS NOT NULL;

			CREATE TABLE execution_steps (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				node_kind VARCHAR(50) NOT NULL DEFAULT '',
				subtype VARCHAR(255) NOT NULL DEFAULT '',
				step_order INT NOT NULL,
				attempt INT NOT NULL DEFAULT 1,
				status VARCHAR(50) NOT NULL,
				handle VARCHAR(255) NOT NULL DEFAULT '',
				input JSONB,
				output JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				error_kind VARCHAR(100) NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (execution_id, step_order)
			);

			CREATE TABLE execution_wakeups (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL,
				generation INT NOT NULL,
				resume_node_id VARCHAR(255) NOT NULL DEFAULT '',
				reason VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				wake_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				fired_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_execution_wakeups_due ON execution_wakeups(wake_at) WHERE status = 'pending';
			CREATE INDEX idx_execution_wakeups_execution ON execution_wakeups(execution_id);
		`,
	}
}
