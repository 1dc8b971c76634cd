package states

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestConvertSlurmToJobIsTotal verifies that the conversion table covers the
// complete scheduler state set and returns a deterministic result for every
// member, with StateSlurmUnknown mapping to the "unchanged" sentinel.
func TestConvertSlurmToJobIsTotal(t *testing.T) {
	for _, slurmState := range AllSlurmStates() {
		first := ConvertSlurmToJob(slurmState)
		second := ConvertSlurmToJob(slurmState)
		assert.Equal(t, first, second, "conversion must be deterministic for %s", slurmState)

		if slurmState == StateSlurmUnknown {
			assert.Equal(t, StateJobUnset, first)
			continue
		}
		assert.NotEqual(t, StateJobUnset, first, "state %s must have a mapping", slurmState)
	}
}

func TestConvertSlurmToJobMapping(t *testing.T) {
	tests := []struct {
		slurm StateSlurm
		job   StateJob
	}{
		{StateSlurmPending, StateJobPending},
		{StateSlurmConfiguring, StateJobPending},
		{StateSlurmRunning, StateJobRunning},
		{StateSlurmCompleting, StateJobRunning},
		{StateSlurmCompleted, StateJobSuccess},
		{StateSlurmFailed, StateJobFailed},
		{StateSlurmNodeFail, StateJobFailed},
		{StateSlurmBootFail, StateJobFailed},
		{StateSlurmDeadline, StateJobFailed},
		{StateSlurmOutOfMemory, StateJobFailed},
		{StateSlurmTimeout, StateJobFailed},
		{StateSlurmCancelled, StateJobCancelled},
		{StateSlurmPreempted, StateJobCancelled},
		{StateSlurmRevoked, StateJobCancelled},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.job, ConvertSlurmToJob(tt.slurm), "slurm state %s", tt.slurm)
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []StateJob{StateJobSuccess, StateJobFailed, StateJobCancelled}
	for _, state := range terminal {
		assert.True(t, state.IsTerminal(), "%s must be terminal", state)
	}

	nonTerminal := []StateJob{
		StateJobUnset,
		StateJobQueued,
		StateJobPending,
		StateJobRunning,
		StateJobTransferringToHPC,
		StateJobTransferringFromHPC,
	}
	for _, state := range nonTerminal {
		assert.False(t, state.IsTerminal(), "%s must not be terminal", state)
	}
}

func TestParseSlurmState(t *testing.T) {
	tests := []struct {
		raw  string
		want StateSlurm
	}{
		{"COMPLETED", StateSlurmCompleted},
		{"completed", StateSlurmCompleted},
		{" RUNNING \n", StateSlurmRunning},
		{"CANCELLED by 4711", StateSlurmCancelled},
		{"FAILED+", StateSlurmFailed},
		{"OUT_OF_MEMORY", StateSlurmOutOfMemory},
		{"", StateSlurmUnknown},
		{"REQUEUED", StateSlurmUnknown},
		{"garbage", StateSlurmUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseSlurmState(tt.raw), "raw %q", tt.raw)
	}
}
