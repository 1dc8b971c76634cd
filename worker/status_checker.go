package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"operandi.gwdg.de/broker/common"
	"operandi.gwdg.de/broker/db"
	"operandi.gwdg.de/broker/states"
)

// StatusChecker advances the workflow job state machine. For every probe
// message it reconciles three stores: the probe itself (message bus), the
// job and workspace rows (database) and the remote scheduler state (HPC).
//
// Reconciliation per probe:
//  1. Load WorkflowJob, its Workspace and its HPCSlurmJob. Any missing row
//     classifies the probe as poison.
//  2. Query the scheduler; persist the slurm state if it changed.
//  3. Convert the slurm state to a job state via the static mapping table.
//  4. On a change to SUCCESS, download the results (workspace goes
//     TRANSFERRING_FROM_HPC -> READY around the transfer); on any other
//     change, persist the new job state.
//
// Terminal job states are sticky: probes for jobs already in SUCCESS,
// FAILED or CANCELLED are acknowledged and ignored, which makes replayed
// probes no-ops.
type StatusChecker struct {
	log           *logrus.Entry
	store         Datastore
	executor      Executor
	transfer      Transfer
	cleanupRemote bool

	currentJobID string
}

// NewStatusChecker creates the status checker handler. With cleanupRemote
// set, the staged workspace on the cluster is removed after a successful
// download.
func NewStatusChecker(store Datastore, executor Executor, transfer Transfer, cleanupRemote bool) *StatusChecker {
	return &StatusChecker{
		log:           common.Logger.WithField("handler", "status_checker"),
		store:         store,
		executor:      executor,
		transfer:      transfer,
		cleanupRemote: cleanupRemote,
	}
}

// CurrentJobID reports the job id of the probe currently being handled.
func (c *StatusChecker) CurrentJobID() string {
	return c.currentJobID
}

// Handle processes one status probe message.
func (c *StatusChecker) Handle(ctx context.Context, body []byte) error {
	c.currentJobID = ""

	var probe common.JobStatusMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return fmt.Errorf("failed to parse status probe: %w", err)
	}
	if probe.JobID == "" {
		return fmt.Errorf("status probe carries no job_id: %s", string(body))
	}
	c.currentJobID = probe.JobID
	log := c.log.WithField("job_id", probe.JobID)

	job, err := c.store.GetWorkflowJob(ctx, probe.JobID)
	if err != nil {
		return err
	}
	if job.JobState.IsTerminal() {
		log.Debugf("Job already terminal (%s), ignoring probe", job.JobState)
		return nil
	}
	workspace, err := c.store.GetWorkspace(ctx, job.WorkspaceID)
	if err != nil {
		return err
	}
	slurmJob, err := c.store.GetHPCSlurmJob(ctx, job.JobID)
	if err != nil {
		return err
	}

	newSlurmState, err := c.executor.CheckJobState(ctx, slurmJob.HPCSlurmJobID)
	if err != nil {
		c.markJobFailed(job.JobID)
		return fmt.Errorf("scheduler query failed for job %s: %w", job.JobID, err)
	}

	if slurmJob.HPCSlurmJobState != newSlurmState {
		log.Debugf("Slurm job %s state: %s -> %s", slurmJob.HPCSlurmJobID, slurmJob.HPCSlurmJobState, newSlurmState)
		if _, err := c.store.UpdateHPCSlurmJob(ctx, job.JobID, map[string]interface{}{
			"hpc_slurm_job_state": newSlurmState,
		}); err != nil {
			return err
		}
	}

	newJobState := states.ConvertSlurmToJob(newSlurmState)
	if newJobState == states.StateJobUnset {
		log.Debugf("Scheduler does not know job %s, leaving state %s", slurmJob.HPCSlurmJobID, job.JobState)
		return nil
	}

	if job.JobState != newJobState {
		log.Debugf("Workflow job state: %s -> %s", job.JobState, newJobState)
		if newJobState == states.StateJobSuccess {
			if err := c.downloadResults(ctx, job, workspace); err != nil {
				return err
			}
		} else {
			if _, err := c.store.UpdateWorkflowJob(ctx, job.JobID, map[string]interface{}{
				"job_state": newJobState,
			}); err != nil {
				return err
			}
		}
	}

	log.Infof("Latest slurm job state: %s", newSlurmState)
	log.Infof("Latest workflow job state: %s", newJobState)
	return nil
}

// downloadResults moves workspace and job through the from-HPC transfer
// states, fetches the result tarball and finalizes both rows. A failed
// download leaves both rows in TRANSFERRING_FROM_HPC; the next probe for
// the still-COMPLETED slurm job retries the transfer.
func (c *StatusChecker) downloadResults(ctx context.Context, job *db.WorkflowJob, workspace *db.Workspace) error {
	if _, err := c.store.UpdateWorkspace(ctx, workspace.WorkspaceID, map[string]interface{}{
		"state": states.StateWorkspaceTransferringFromHPC,
	}); err != nil {
		return err
	}
	if _, err := c.store.UpdateWorkflowJob(ctx, job.JobID, map[string]interface{}{
		"job_state": states.StateJobTransferringFromHPC,
	}); err != nil {
		return err
	}

	remoteJobDir := c.transfer.RemoteJobDir(job.JobID)
	if err := c.transfer.GetAndUnpackSlurmWorkspace(ctx, remoteJobDir, workspace.WorkspaceDir); err != nil {
		return fmt.Errorf("result download failed for job %s: %w", job.JobID, err)
	}
	c.log.WithField("job_id", job.JobID).Info("Transferred slurm workspace from HPC")

	if _, err := c.store.UpdateWorkspace(ctx, workspace.WorkspaceID, map[string]interface{}{
		"state": states.StateWorkspaceReady,
	}); err != nil {
		return err
	}
	if _, err := c.store.UpdateWorkflowJob(ctx, job.JobID, map[string]interface{}{
		"job_state": states.StateJobSuccess,
	}); err != nil {
		return err
	}

	if c.cleanupRemote {
		if err := c.transfer.RemoveSlurmWorkspace(ctx, job.JobID); err != nil {
			c.log.WithField("job_id", job.JobID).Warnf("Failed to clean up remote workspace: %v", err)
		}
	}
	return nil
}

// markJobFailed records a FAILED state for a job whose scheduler query gave
// up. Best effort; the write uses a fresh context so it also works while
// the worker is shutting down.
func (c *StatusChecker) markJobFailed(jobID string) {
	ctx := context.Background()
	if _, err := c.store.UpdateWorkflowJob(ctx, jobID, map[string]interface{}{
		"job_state": states.StateJobFailed,
	}); err != nil {
		c.log.WithField("job_id", jobID).Errorf("Failed to mark job as failed: %v", err)
	}
}
