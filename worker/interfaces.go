package worker

import (
	"context"

	"operandi.gwdg.de/broker/db"
	"operandi.gwdg.de/broker/states"
)

// Datastore is the slice of the state store the workers need. *db.Store
// implements it; tests inject an in-memory fake.
type Datastore interface {
	GetWorkspace(ctx context.Context, workspaceID string) (*db.Workspace, error)
	UpdateWorkspace(ctx context.Context, workspaceID string, fields map[string]interface{}) (*db.Workspace, error)
	GetWorkflow(ctx context.Context, workflowID string) (*db.Workflow, error)
	GetWorkflowJob(ctx context.Context, jobID string) (*db.WorkflowJob, error)
	UpdateWorkflowJob(ctx context.Context, jobID string, fields map[string]interface{}) (*db.WorkflowJob, error)
	GetHPCSlurmJob(ctx context.Context, workflowJobID string) (*db.HPCSlurmJob, error)
	UpdateHPCSlurmJob(ctx context.Context, workflowJobID string, fields map[string]interface{}) (*db.HPCSlurmJob, error)
	CreateHPCSlurmJob(ctx context.Context, workflowJobID, slurmJobID string, slurmJobState states.StateSlurm) (*db.HPCSlurmJob, error)
}

// Executor is the SLURM command surface of the HPC gateway. *hpc.Executor
// implements it.
type Executor interface {
	SubmitBatchScript(ctx context.Context, batchScriptPath, workflowJobID string, scriptArgs []string) (string, error)
	CheckJobState(ctx context.Context, slurmJobID string) (states.StateSlurm, error)
	Close() error
}

// Transfer is the SFTP surface of the HPC gateway. *hpc.Transfer implements
// it.
type Transfer interface {
	PutSlurmWorkspace(ctx context.Context, localWorkspaceDir, workflowJobID string) (string, error)
	PutBatchScript(ctx context.Context, localScriptPath string) (string, error)
	GetAndUnpackSlurmWorkspace(ctx context.Context, remoteJobDir, localWorkspaceDir string) error
	RemoveSlurmWorkspace(ctx context.Context, workflowJobID string) error
	RemoteJobDir(workflowJobID string) string
	Close() error
}

// Handler processes the payload of one delivery. Handle must be safe to
// call again after an error: every classification ends with the delivery
// acked, so a handler never sees the same payload twice except through
// broker-side redelivery after a connection loss.
type Handler interface {
	// Handle processes one message body. A returned error means the
	// message is spent (poison or failed); the loop acks it regardless.
	Handle(ctx context.Context, body []byte) error

	// CurrentJobID reports the job the most recent Handle call touched,
	// or "" if decoding never got that far. Used by the interruption path
	// to mark the in-flight job as failed.
	CurrentJobID() string
}
