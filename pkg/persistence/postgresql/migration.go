package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				start_action VARCHAR(255) NOT NULL,
				definition JSONB NOT NULL,
				is_valid BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_name ON workflows(name);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			CREATE TABLE workflow_status (
				execution_id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL
					CHECK (status IN ('pending', 'running', 'paused', 'awaiting_data', 'completed', 'aborted')),
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_status_workflow_id ON workflow_status(workflow_id);
			CREATE INDEX idx_workflow_status_status ON workflow_status(status);

			CREATE TABLE action_status (
				execution_id VARCHAR(255) NOT NULL REFERENCES workflow_status(execution_id) ON DELETE CASCADE,
				action_id VARCHAR(255) NOT NULL,
				attempt INTEGER NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				app_name VARCHAR(255) NOT NULL,
				action_name VARCHAR(255) NOT NULL,
				arguments JSONB,
				result JSONB,
				status VARCHAR(50) NOT NULL
					CHECK (status IN ('executing', 'awaiting_data', 'success', 'failure', 'aborted')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (execution_id, action_id, attempt)
			);

			CREATE INDEX idx_action_status_started_at ON action_status(execution_id, started_at);

			CREATE TABLE workflow_status_transitions (
				id BIGSERIAL PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL,
				action_id VARCHAR(255) NOT NULL DEFAULT '',
				attempt INTEGER NOT NULL DEFAULT 0,
				from_status VARCHAR(50) NOT NULL DEFAULT '',
				to_status VARCHAR(50) NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_transitions_execution_id ON workflow_status_transitions(execution_id, id);

			CREATE TABLE saved_workflow (
				execution_id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				checkpoint BYTEA NOT NULL,
				saved_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
	}
}
