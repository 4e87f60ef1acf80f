package postgresql

import "github.com/leadpilot/automation/pkg/persistence/sqlbase"

// migrationLockID keys the advisory lock taken while migrating.
const migrationLockID int64 = 0x6c656164

var migrations = []sqlbase.Migration{
	{
		Version: 1,
		Name:    "workflows",
		SQL: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				owner VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused', 'archived')),
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_owner ON workflows(owner);
		`,
	},
	{
		Version: 2,
		Name:    "workflow_executions",
		SQL: `
			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255),
				status VARCHAR(50) NOT NULL,
				resume_at TIMESTAMP WITH TIME ZONE,
				version BIGINT NOT NULL,
				record JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_executions_workflow ON workflow_executions(workflow_id, created_at DESC);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_due ON workflow_executions(resume_at) WHERE status = 'suspended';
			CREATE INDEX idx_workflow_executions_user ON workflow_executions(user_id, status);
		`,
	},
	{
		Version: 3,
		Name:    "workflow_execution_leases",
		SQL: `
			ALTER TABLE workflow_executions ADD COLUMN lease_until TIMESTAMP WITH TIME ZONE;

			CREATE INDEX idx_workflow_executions_lease ON workflow_executions(lease_until) WHERE status = 'running';
			CREATE INDEX idx_workflow_executions_pending ON workflow_executions(updated_at) WHERE status = 'pending';
		`,
	},
}
