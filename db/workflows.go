package db

import (
	"context"
	"time"

	"operandi.gwdg.de/broker/common"
)

// GetWorkflow loads a workflow by id. Returns ErrNotFound when no workflow
// document exists for the id.
func (s *Store) GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error) {
	var workflow Workflow
	if err := s.getOne(ctx, common.CollectionWorkflows, "workflow_id", workflowID, &workflow); err != nil {
		return nil, err
	}
	return &workflow, nil
}

// SaveWorkflow creates or replaces a workflow document, idempotent by
// workflow id. The PUT path of the workflow manager reuses the same call,
// which is why this is an upsert rather than a plain insert.
func (s *Store) SaveWorkflow(ctx context.Context, workflowID, workflowDir, scriptBase, scriptPath string) (*Workflow, error) {
	workflow := Workflow{
		WorkflowID:         workflowID,
		WorkflowDir:        workflowDir,
		WorkflowScriptBase: scriptBase,
		WorkflowScriptPath: scriptPath,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.replaceOne(ctx, common.CollectionWorkflows, "workflow_id", workflowID, workflow); err != nil {
		return nil, err
	}
	return &workflow, nil
}

// UpdateWorkflow applies a field map to a workflow document and returns the
// updated entity.
func (s *Store) UpdateWorkflow(ctx context.Context, workflowID string, fields map[string]interface{}) (*Workflow, error) {
	var workflow Workflow
	if err := s.updateOne(ctx, common.CollectionWorkflows, "workflow_id", workflowID, workflowFields, fields, &workflow); err != nil {
		return nil, err
	}
	return &workflow, nil
}
