package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"operandi.gwdg.de/broker/common"
	"operandi.gwdg.de/broker/states"
)

// SubmissionHandler drives one workflow job submission: staging the
// workspace on the cluster, submitting the batch job and recording the
// scheduler handle in the database. It holds no state between messages
// beyond the live HPC sessions.
//
// Per message:
//  1. Decode and validate the submission payload; undecodable or
//     incomplete payloads are poison.
//  2. Load workspace, workflow and job rows; missing rows are poison.
//  3. Move workspace and job to TRANSFERRING_TO_HPC.
//  4. Upload the batch script and the tarred workspace.
//  5. Submit the batch job, create the slurm shadow row, move the job to
//     QUEUED.
//
// Any failure after step 2 marks the job FAILED before the message is
// acknowledged, so the REST layer observes the outcome through the job row.
type SubmissionHandler struct {
	log      *logrus.Entry
	store    Datastore
	executor Executor
	transfer Transfer

	currentJobID string
}

// NewSubmissionHandler creates the consumer-side message handler.
func NewSubmissionHandler(store Datastore, executor Executor, transfer Transfer) *SubmissionHandler {
	return &SubmissionHandler{
		log:      common.Logger.WithField("handler", "consumer"),
		store:    store,
		executor: executor,
		transfer: transfer,
	}
}

// CurrentJobID reports the job id of the submission currently being handled.
func (h *SubmissionHandler) CurrentJobID() string {
	return h.currentJobID
}

// Handle processes one workflow job submission message.
func (h *SubmissionHandler) Handle(ctx context.Context, body []byte) error {
	h.currentJobID = ""

	var msg common.WorkflowJobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to parse submission message: %w", err)
	}
	if msg.JobID == "" || msg.WorkflowID == "" || msg.WorkspaceID == "" {
		return fmt.Errorf("submission message misses required ids: %s", string(body))
	}
	h.currentJobID = msg.JobID
	log := h.log.WithField("job_id", msg.JobID)

	workspace, err := h.store.GetWorkspace(ctx, msg.WorkspaceID)
	if err != nil {
		return err
	}
	workflow, err := h.store.GetWorkflow(ctx, msg.WorkflowID)
	if err != nil {
		return err
	}
	if _, err := h.store.GetWorkflowJob(ctx, msg.JobID); err != nil {
		return err
	}

	if _, err := h.store.UpdateWorkspace(ctx, workspace.WorkspaceID, map[string]interface{}{
		"state": states.StateWorkspaceTransferringToHPC,
	}); err != nil {
		h.markJobFailed(msg.JobID)
		return err
	}
	if _, err := h.store.UpdateWorkflowJob(ctx, msg.JobID, map[string]interface{}{
		"job_state": states.StateJobTransferringToHPC,
	}); err != nil {
		h.markJobFailed(msg.JobID)
		return err
	}

	remoteScriptPath, err := h.transfer.PutBatchScript(ctx, workflow.WorkflowScriptPath)
	if err != nil {
		h.markJobFailed(msg.JobID)
		return fmt.Errorf("batch script upload failed for job %s: %w", msg.JobID, err)
	}

	remoteWorkspaceDir, err := h.transfer.PutSlurmWorkspace(ctx, workspace.WorkspaceDir, msg.JobID)
	if err != nil {
		h.markJobFailed(msg.JobID)
		return fmt.Errorf("workspace upload failed for job %s: %w", msg.JobID, err)
	}
	log.Infof("Staged workspace %s on the HPC", workspace.WorkspaceID)

	slurmJobID, err := h.executor.SubmitBatchScript(ctx, remoteScriptPath, msg.JobID, buildScriptArgs(msg, remoteWorkspaceDir))
	if err != nil {
		h.markJobFailed(msg.JobID)
		return fmt.Errorf("slurm submission failed for job %s: %w", msg.JobID, err)
	}

	if _, err := h.store.CreateHPCSlurmJob(ctx, msg.JobID, slurmJobID, states.StateSlurmPending); err != nil {
		h.markJobFailed(msg.JobID)
		return err
	}
	if _, err := h.store.UpdateWorkflowJob(ctx, msg.JobID, map[string]interface{}{
		"hpc_slurm_job_id": slurmJobID,
		"job_state":        states.StateJobQueued,
	}); err != nil {
		h.markJobFailed(msg.JobID)
		return err
	}

	log.WithField("slurm_job_id", slurmJobID).Info("Workflow job queued on the HPC")
	return nil
}

// markJobFailed records a FAILED state for a submission that ran aground.
// Best effort with a fresh context so it also works during shutdown.
func (h *SubmissionHandler) markJobFailed(jobID string) {
	ctx := context.Background()
	if _, err := h.store.UpdateWorkflowJob(ctx, jobID, map[string]interface{}{
		"job_state": states.StateJobFailed,
	}); err != nil {
		h.log.WithField("job_id", jobID).Errorf("Failed to mark job as failed: %v", err)
	}
}

// buildScriptArgs assembles the positional arguments the batch script
// receives after the workflow job id.
func buildScriptArgs(msg common.WorkflowJobMessage, remoteWorkspaceDir string) []string {
	args := []string{remoteWorkspaceDir}
	if msg.InputFileGrp != "" {
		args = append(args, msg.InputFileGrp)
	}
	if len(msg.RemoveFile) > 0 {
		args = append(args, strings.Join(msg.RemoveFile, ","))
	}
	if msg.CPUs > 0 {
		args = append(args, strconv.Itoa(msg.CPUs))
	}
	if msg.RAM > 0 {
		args = append(args, strconv.Itoa(msg.RAM))
	}
	return args
}
