package db

import (
	"context"
	"time"

	"operandi.gwdg.de/broker/common"
	"operandi.gwdg.de/broker/states"
)

// GetWorkflowJob loads a workflow job by id. Returns ErrNotFound when no
// job document exists for the id.
func (s *Store) GetWorkflowJob(ctx context.Context, jobID string) (*WorkflowJob, error) {
	var job WorkflowJob
	if err := s.getOne(ctx, common.CollectionWorkflowJobs, "job_id", jobID, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateWorkflowJob applies a field map to a workflow job document and
// returns the updated entity. Unknown fields and the primary id are
// rejected with ErrUnknownField.
func (s *Store) UpdateWorkflowJob(ctx context.Context, jobID string, fields map[string]interface{}) (*WorkflowJob, error) {
	var job WorkflowJob
	if err := s.updateOne(ctx, common.CollectionWorkflowJobs, "job_id", jobID, workflowJobFields, fields, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateWorkflowJob inserts a new workflow job document.
func (s *Store) CreateWorkflowJob(ctx context.Context, jobID, jobDir string, jobState states.StateJob, workflowID, workspaceID string) (*WorkflowJob, error) {
	job := WorkflowJob{
		JobID:       jobID,
		JobDir:      jobDir,
		JobState:    jobState,
		WorkflowID:  workflowID,
		WorkspaceID: workspaceID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.insertOne(ctx, common.CollectionWorkflowJobs, job); err != nil {
		return nil, err
	}
	return &job, nil
}
