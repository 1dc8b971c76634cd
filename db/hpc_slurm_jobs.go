package db

import (
	"context"
	"time"

	"operandi.gwdg.de/broker/common"
	"operandi.gwdg.de/broker/states"
)

// GetHPCSlurmJob loads the slurm job shadow record for a workflow job.
// The lookup is by the unique back-reference workflow_job_id, which is the
// id the status probe messages carry.
func (s *Store) GetHPCSlurmJob(ctx context.Context, workflowJobID string) (*HPCSlurmJob, error) {
	var slurmJob HPCSlurmJob
	if err := s.getOne(ctx, common.CollectionHPCSlurmJobs, "workflow_job_id", workflowJobID, &slurmJob); err != nil {
		return nil, err
	}
	return &slurmJob, nil
}

// UpdateHPCSlurmJob applies a field map to the slurm job record of a
// workflow job and returns the updated entity.
func (s *Store) UpdateHPCSlurmJob(ctx context.Context, workflowJobID string, fields map[string]interface{}) (*HPCSlurmJob, error) {
	var slurmJob HPCSlurmJob
	if err := s.updateOne(ctx, common.CollectionHPCSlurmJobs, "workflow_job_id", workflowJobID, hpcSlurmJobFields, fields, &slurmJob); err != nil {
		return nil, err
	}
	return &slurmJob, nil
}

// CreateHPCSlurmJob inserts the shadow record for a freshly submitted slurm
// job. At most one record exists per workflow job (1:1), so creation is an
// upsert keyed by the workflow job id.
func (s *Store) CreateHPCSlurmJob(ctx context.Context, workflowJobID, slurmJobID string, slurmJobState states.StateSlurm) (*HPCSlurmJob, error) {
	slurmJob := HPCSlurmJob{
		HPCSlurmJobID:    slurmJobID,
		WorkflowJobID:    workflowJobID,
		HPCSlurmJobState: slurmJobState,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.replaceOne(ctx, common.CollectionHPCSlurmJobs, "workflow_job_id", workflowJobID, slurmJob); err != nil {
		return nil, err
	}
	return &slurmJob, nil
}
