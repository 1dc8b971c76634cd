package db

import (
	"time"

	"operandi.gwdg.de/broker/states"
)

// Workspace is a unit of OCR input/output on disk, shared between the local
// server storage and the HPC scratch space. A workspace is in exactly one
// transfer state at any time; a deleted workspace is never READY.
type Workspace struct {
	WorkspaceID  string                `bson:"workspace_id" json:"workspace_id"`
	WorkspaceDir string                `bson:"workspace_dir" json:"workspace_dir"`
	State        states.StateWorkspace `bson:"state" json:"state"`
	Deleted      bool                  `bson:"deleted" json:"deleted"`
	CreatedAt    time.Time             `bson:"datetime,omitempty" json:"datetime,omitempty"`
}

// Workflow is a nextflow script plus metadata describing where it lives on
// the server's storage.
type Workflow struct {
	WorkflowID         string    `bson:"workflow_id" json:"workflow_id"`
	WorkflowDir        string    `bson:"workflow_dir" json:"workflow_dir"`
	WorkflowScriptBase string    `bson:"workflow_script_base" json:"workflow_script_base"`
	WorkflowScriptPath string    `bson:"workflow_script_path" json:"workflow_script_path"`
	Deleted            bool      `bson:"deleted" json:"deleted"`
	CreatedAt          time.Time `bson:"datetime,omitempty" json:"datetime,omitempty"`
}

// WorkflowJob is one execution of a Workflow against a Workspace. It is the
// domain-level state machine: job_state advances from UNSET through the
// transfer and scheduler states to one of the terminal states.
type WorkflowJob struct {
	JobID         string          `bson:"job_id" json:"job_id"`
	JobDir        string          `bson:"job_dir" json:"job_dir"`
	JobState      states.StateJob `bson:"job_state" json:"job_state"`
	WorkflowID    string          `bson:"workflow_id" json:"workflow_id"`
	WorkspaceID   string          `bson:"workspace_id" json:"workspace_id"`
	WorkflowDir   string          `bson:"workflow_dir,omitempty" json:"workflow_dir,omitempty"`
	WorkspaceDir  string          `bson:"workspace_dir,omitempty" json:"workspace_dir,omitempty"`
	HPCSlurmJobID string          `bson:"hpc_slurm_job_id,omitempty" json:"hpc_slurm_job_id,omitempty"`
	Deleted       bool            `bson:"deleted" json:"deleted"`
	CreatedAt     time.Time       `bson:"datetime,omitempty" json:"datetime,omitempty"`
}

// HPCSlurmJob is the shadow record of a remote SLURM batch job. Exactly one
// exists per WorkflowJob once the job has been submitted to the cluster;
// the back-reference workflow_job_id is unique.
type HPCSlurmJob struct {
	HPCSlurmJobID    string            `bson:"hpc_slurm_job_id" json:"hpc_slurm_job_id"`
	WorkflowJobID    string            `bson:"workflow_job_id" json:"workflow_job_id"`
	HPCSlurmJobState states.StateSlurm `bson:"hpc_slurm_job_state" json:"hpc_slurm_job_state"`
	CreatedAt        time.Time         `bson:"datetime,omitempty" json:"datetime,omitempty"`
}

// User is an account allowed to enqueue workflow jobs. The broker only
// bootstraps the default server and harvester accounts; everything else is
// the REST layer's business.
type User struct {
	Email         string    `bson:"email" json:"email"`
	Username      string    `bson:"username" json:"username"`
	EncryptedPass string    `bson:"encrypted_pass" json:"-"`
	Salt          string    `bson:"salt" json:"-"`
	AccountType   string    `bson:"account_type" json:"account_type"`
	Approved      bool      `bson:"approved_registration" json:"approved_registration"`
	CreatedAt     time.Time `bson:"datetime,omitempty" json:"datetime,omitempty"`
}
