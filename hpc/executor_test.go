package hpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"operandi.gwdg.de/broker/states"
)

func TestParseSbatchOutput(t *testing.T) {
	jobID, err := ParseSbatchOutput("Submitted batch job 4823771\n")
	require.NoError(t, err)
	assert.Equal(t, "4823771", jobID)
}

func TestParseSbatchOutputWithModuleNoise(t *testing.T) {
	output := "Loading module slurm/23.02\nSubmitted batch job 99\n"
	jobID, err := ParseSbatchOutput(output)
	require.NoError(t, err)
	assert.Equal(t, "99", jobID)
}

func TestParseSbatchOutputFailure(t *testing.T) {
	_, err := ParseSbatchOutput("sbatch: error: Batch job submission failed")
	assert.Error(t, err)

	_, err = ParseSbatchOutput("")
	assert.Error(t, err)

	_, err = ParseSbatchOutput("Submitted batch job")
	assert.Error(t, err)
}

func TestParseSacctOutput(t *testing.T) {
	tests := []struct {
		output string
		want   states.StateSlurm
	}{
		{"COMPLETED\nCOMPLETED\nCOMPLETED\n", states.StateSlurmCompleted},
		{"RUNNING\n", states.StateSlurmRunning},
		{"CANCELLED by 4711\n", states.StateSlurmCancelled},
		{"\n\nPENDING\n", states.StateSlurmPending},
		{"", states.StateSlurmUnknown},
		{"\n", states.StateSlurmUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseSacctOutput(tt.output), "output %q", tt.output)
	}
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'plain'", shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestLoginShell(t *testing.T) {
	assert.Equal(t, "bash -lc 'sacct -j 1'", loginShell("sacct -j 1"))
}
