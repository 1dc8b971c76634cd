package db

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Per-entity update schemas. The primary id of each entity is deliberately
// absent: an update may never mutate the key a document is found by.
var (
	workspaceFields = map[string]bool{
		"workspace_dir": true,
		"state":         true,
		"deleted":       true,
	}
	workflowFields = map[string]bool{
		"workflow_dir":         true,
		"workflow_script_base": true,
		"workflow_script_path": true,
		"deleted":              true,
	}
	workflowJobFields = map[string]bool{
		"job_dir":          true,
		"job_state":        true,
		"workflow_id":      true,
		"workspace_id":     true,
		"workflow_dir":     true,
		"workspace_dir":    true,
		"hpc_slurm_job_id": true,
		"deleted":          true,
	}
	hpcSlurmJobFields = map[string]bool{
		"hpc_slurm_job_state": true,
	}
	userFields = map[string]bool{
		"username":              true,
		"encrypted_pass":        true,
		"salt":                  true,
		"account_type":          true,
		"approved_registration": true,
	}
)

// buildUpdateDocument validates a field map against an entity schema and
// returns the $set document for it. Unknown keys (including the primary id)
// fail with ErrUnknownField; an empty map is rejected as well since a
// no-field update is always a caller bug.
func buildUpdateDocument(allowed map[string]bool, fields map[string]interface{}) (bson.M, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty field map: %w", ErrUnknownField)
	}
	set := bson.M{}
	for key, value := range fields {
		if !allowed[key] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, key)
		}
		set[key] = value
	}
	return bson.M{"$set": set}, nil
}
