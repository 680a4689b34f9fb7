package postgres

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version INT NOT NULL DEFAULT 1,
				status VARCHAR(20) NOT NULL CHECK (status IN ('draft', 'active', 'archived')),
				steps JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				archived_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_wf_definitions_org_name ON workflow_definitions(organization_id, name);
			CREATE INDEX idx_wf_definitions_status ON workflow_definitions(status);
			CREATE INDEX idx_wf_definitions_created_at ON workflow_definitions(created_at);

			-- At most one active version per organization and name.
			CREATE UNIQUE INDEX idx_wf_definitions_one_active
				ON workflow_definitions(organization_id, name)
				WHERE status = 'active';

			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL DEFAULT '',
				wf_definition_id UUID NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				current_step_slug VARCHAR(255) NOT NULL DEFAULT '',
				current_step_order INT NOT NULL DEFAULT 0,
				triggered_by VARCHAR(20) NOT NULL,
				trigger_data JSONB,
				input JSONB,
				metadata JSONB,
				waiting_for VARCHAR(255) NOT NULL DEFAULT ''
			);

			-- Compound indexes backing the paginated list queries.
			CREATE INDEX idx_wf_executions_by_definition
				ON workflow_executions(wf_definition_id, started_at DESC, id DESC);
			CREATE INDEX idx_wf_executions_by_definition_triggered_by
				ON workflow_executions(wf_definition_id, triggered_by, started_at DESC, id DESC);

			-- Staleness sweeps scan one status at a time.
			CREATE INDEX idx_wf_executions_by_status
				ON workflow_executions(status, updated_at);

			CREATE TABLE processing_records (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL DEFAULT '',
				table_name VARCHAR(255) NOT NULL,
				record_id VARCHAR(255) NOT NULL,
				wf_definition_id VARCHAR(255) NOT NULL,
				record_created_at TIMESTAMP WITH TIME ZONE,
				processed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('in_progress', 'completed')),
				metadata JSONB,
				UNIQUE (table_name, record_id, wf_definition_id)
			);
		`,
	}
}
