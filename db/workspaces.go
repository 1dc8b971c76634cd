package db

import (
	"context"
	"time"

	"operandi.gwdg.de/broker/common"
	"operandi.gwdg.de/broker/states"
)

// GetWorkspace loads a workspace by id. Returns ErrNotFound when no
// workspace document exists for the id.
func (s *Store) GetWorkspace(ctx context.Context, workspaceID string) (*Workspace, error) {
	var workspace Workspace
	if err := s.getOne(ctx, common.CollectionWorkspaces, "workspace_id", workspaceID, &workspace); err != nil {
		return nil, err
	}
	return &workspace, nil
}

// UpdateWorkspace applies a field map to a workspace document and returns
// the updated entity. Unknown fields and the primary id are rejected with
// ErrUnknownField.
func (s *Store) UpdateWorkspace(ctx context.Context, workspaceID string, fields map[string]interface{}) (*Workspace, error) {
	var workspace Workspace
	if err := s.updateOne(ctx, common.CollectionWorkspaces, "workspace_id", workspaceID, workspaceFields, fields, &workspace); err != nil {
		return nil, err
	}
	return &workspace, nil
}

// CreateWorkspace inserts a new workspace document in READY state.
func (s *Store) CreateWorkspace(ctx context.Context, workspaceID, workspaceDir string) (*Workspace, error) {
	workspace := Workspace{
		WorkspaceID:  workspaceID,
		WorkspaceDir: workspaceDir,
		State:        states.StateWorkspaceReady,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.insertOne(ctx, common.CollectionWorkspaces, workspace); err != nil {
		return nil, err
	}
	return &workspace, nil
}
