package worker

import (
	"context"
	"fmt"
	"sync"

	"operandi.gwdg.de/broker/common"
	"operandi.gwdg.de/broker/db"
	"operandi.gwdg.de/broker/states"
)

// fakeStore is an in-memory Datastore recording every mutation, so tests
// can assert both final state and the observable intermediate transitions.
type fakeStore struct {
	mu         sync.Mutex
	workspaces map[string]*db.Workspace
	workflows  map[string]*db.Workflow
	jobs       map[string]*db.WorkflowJob
	slurmJobs  map[string]*db.HPCSlurmJob // keyed by workflow job id

	workspaceStates []states.StateWorkspace
	jobStates       []states.StateJob
	updateCount     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workspaces: map[string]*db.Workspace{},
		workflows:  map[string]*db.Workflow{},
		jobs:       map[string]*db.WorkflowJob{},
		slurmJobs:  map[string]*db.HPCSlurmJob{},
	}
}

func (f *fakeStore) GetWorkspace(_ context.Context, id string) (*db.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if workspace, ok := f.workspaces[id]; ok {
		copied := *workspace
		return &copied, nil
	}
	return nil, fmt.Errorf("%w for workspace_id: %s", db.ErrNotFound, id)
}

func (f *fakeStore) UpdateWorkspace(_ context.Context, id string, fields map[string]interface{}) (*db.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	workspace, ok := f.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("%w for workspace_id: %s", db.ErrNotFound, id)
	}
	for key, value := range fields {
		switch key {
		case "state":
			workspace.State = value.(states.StateWorkspace)
			f.workspaceStates = append(f.workspaceStates, workspace.State)
		case "workspace_dir":
			workspace.WorkspaceDir = value.(string)
		case "deleted":
			workspace.Deleted = value.(bool)
		default:
			return nil, fmt.Errorf("%w: %s", db.ErrUnknownField, key)
		}
	}
	f.updateCount++
	copied := *workspace
	return &copied, nil
}

func (f *fakeStore) GetWorkflow(_ context.Context, id string) (*db.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if workflow, ok := f.workflows[id]; ok {
		copied := *workflow
		return &copied, nil
	}
	return nil, fmt.Errorf("%w for workflow_id: %s", db.ErrNotFound, id)
}

func (f *fakeStore) GetWorkflowJob(_ context.Context, id string) (*db.WorkflowJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		copied := *job
		return &copied, nil
	}
	return nil, fmt.Errorf("%w for job_id: %s", db.ErrNotFound, id)
}

func (f *fakeStore) UpdateWorkflowJob(_ context.Context, id string, fields map[string]interface{}) (*db.WorkflowJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w for job_id: %s", db.ErrNotFound, id)
	}
	for key, value := range fields {
		switch key {
		case "job_state":
			job.JobState = value.(states.StateJob)
			f.jobStates = append(f.jobStates, job.JobState)
		case "hpc_slurm_job_id":
			job.HPCSlurmJobID = value.(string)
		default:
			return nil, fmt.Errorf("%w: %s", db.ErrUnknownField, key)
		}
	}
	f.updateCount++
	copied := *job
	return &copied, nil
}

func (f *fakeStore) GetHPCSlurmJob(_ context.Context, workflowJobID string) (*db.HPCSlurmJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slurmJob, ok := f.slurmJobs[workflowJobID]; ok {
		copied := *slurmJob
		return &copied, nil
	}
	return nil, fmt.Errorf("%w for workflow_job_id: %s", db.ErrNotFound, workflowJobID)
}

func (f *fakeStore) UpdateHPCSlurmJob(_ context.Context, workflowJobID string, fields map[string]interface{}) (*db.HPCSlurmJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slurmJob, ok := f.slurmJobs[workflowJobID]
	if !ok {
		return nil, fmt.Errorf("%w for workflow_job_id: %s", db.ErrNotFound, workflowJobID)
	}
	for key, value := range fields {
		switch key {
		case "hpc_slurm_job_state":
			slurmJob.HPCSlurmJobState = value.(states.StateSlurm)
		default:
			return nil, fmt.Errorf("%w: %s", db.ErrUnknownField, key)
		}
	}
	f.updateCount++
	copied := *slurmJob
	return &copied, nil
}

func (f *fakeStore) CreateHPCSlurmJob(_ context.Context, workflowJobID, slurmJobID string, slurmJobState states.StateSlurm) (*db.HPCSlurmJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slurmJob := &db.HPCSlurmJob{
		HPCSlurmJobID:    slurmJobID,
		WorkflowJobID:    workflowJobID,
		HPCSlurmJobState: slurmJobState,
	}
	f.slurmJobs[workflowJobID] = slurmJob
	f.updateCount++
	copied := *slurmJob
	return &copied, nil
}

// fakeExecutor serves scripted scheduler responses.
type fakeExecutor struct {
	slurmState   states.StateSlurm
	stateErr     error
	submitID     string
	submitErr    error
	stateQueries int
	submissions  int
}

func (f *fakeExecutor) SubmitBatchScript(_ context.Context, _, _ string, _ []string) (string, error) {
	f.submissions++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}

func (f *fakeExecutor) CheckJobState(_ context.Context, _ string) (states.StateSlurm, error) {
	f.stateQueries++
	if f.stateErr != nil {
		return states.StateSlurmUnknown, f.stateErr
	}
	return f.slurmState, nil
}

func (f *fakeExecutor) Close() error { return nil }

// fakeTransfer records transfer calls and can fail a scripted number of
// downloads before succeeding.
type fakeTransfer struct {
	downloadFailures int
	downloads        int
	uploads          int
	scriptUploads    int
	removed          []string
	uploadErr        error
	scriptUploadErr  error
}

func (f *fakeTransfer) PutSlurmWorkspace(_ context.Context, _, _ string) (string, error) {
	f.uploads++
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "/scratch1/users/mm/operandi/slurm_workspaces/job", nil
}

func (f *fakeTransfer) PutBatchScript(_ context.Context, localScriptPath string) (string, error) {
	f.scriptUploads++
	if f.scriptUploadErr != nil {
		return "", f.scriptUploadErr
	}
	return "/scratch1/users/mm/operandi/batch_scripts/" + localScriptPath, nil
}

func (f *fakeTransfer) GetAndUnpackSlurmWorkspace(_ context.Context, _, _ string) error {
	f.downloads++
	if f.downloadFailures > 0 {
		f.downloadFailures--
		return fmt.Errorf("sftp session torn down")
	}
	return nil
}

func (f *fakeTransfer) RemoveSlurmWorkspace(_ context.Context, workflowJobID string) error {
	f.removed = append(f.removed, workflowJobID)
	return nil
}

func (f *fakeTransfer) RemoteJobDir(workflowJobID string) string {
	return "/scratch1/users/mm/operandi/slurm_workspaces/" + workflowJobID
}

func (f *fakeTransfer) Close() error { return nil }

func testSubmissionMessage() common.WorkflowJobMessage {
	return common.WorkflowJobMessage{
		WorkflowID:   "F1",
		WorkspaceID:  "W1",
		JobID:        "J1",
		InputFileGrp: "OCR-D-IMG",
		RemoveFile:   []string{"OCR-D-GT-SEG", "OCR-D-OCR"},
		CPUs:         8,
		RAM:          32,
	}
}

func minimalSubmissionMessage() common.WorkflowJobMessage {
	return common.WorkflowJobMessage{
		WorkflowID:  "F1",
		WorkspaceID: "W1",
		JobID:       "J1",
	}
}
