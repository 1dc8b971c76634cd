package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"operandi.gwdg.de/broker/states"
)

func TestBuildUpdateDocumentAcceptsSchemaFields(t *testing.T) {
	update, err := buildUpdateDocument(workflowJobFields, map[string]interface{}{
		"job_state":        states.StateJobQueued,
		"hpc_slurm_job_id": "1234567",
	})
	require.NoError(t, err)

	set, ok := update["$set"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, states.StateJobQueued, set["job_state"])
	assert.Equal(t, "1234567", set["hpc_slurm_job_id"])
}

func TestBuildUpdateDocumentRejectsUnknownField(t *testing.T) {
	_, err := buildUpdateDocument(workspaceFields, map[string]interface{}{
		"no_such_field": 42,
	})
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestBuildUpdateDocumentRejectsPrimaryID(t *testing.T) {
	// The primary id is absent from every schema, so trying to mutate it
	// must fail the same way as any unknown field.
	tests := []struct {
		allowed map[string]bool
		primary string
	}{
		{workspaceFields, "workspace_id"},
		{workflowFields, "workflow_id"},
		{workflowJobFields, "job_id"},
		{hpcSlurmJobFields, "workflow_job_id"},
		{userFields, "email"},
	}
	for _, tt := range tests {
		_, err := buildUpdateDocument(tt.allowed, map[string]interface{}{tt.primary: "other"})
		assert.ErrorIs(t, err, ErrUnknownField, "primary id %s", tt.primary)
	}
}

func TestBuildUpdateDocumentRejectsEmptyMap(t *testing.T) {
	_, err := buildUpdateDocument(workflowFields, nil)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestHashPasswordIsDeterministicAndSalted(t *testing.T) {
	first := HashPassword("secret", "salt-a")
	second := HashPassword("secret", "salt-a")
	assert.Equal(t, first, second)

	other := HashPassword("secret", "salt-b")
	assert.NotEqual(t, first, other)
	assert.Len(t, first, 128) // hex-encoded sha512
}
