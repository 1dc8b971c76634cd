package hpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"operandi.gwdg.de/broker/common"
	"operandi.gwdg.de/broker/states"
)

// Executor runs SLURM commands on the cluster frontend over an SSH exec
// session per command. One executor is owned by exactly one worker process.
type Executor struct {
	config      Config
	client      *ssh.Client
	proxyClient *ssh.Client
}

// NewExecutor opens the executor session through the proxy jump.
func NewExecutor(cfg Config) (*Executor, error) {
	client, proxyClient, err := dialThroughProxy(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect HPC executor: %w", err)
	}
	return &Executor{
		config:      cfg,
		client:      client,
		proxyClient: proxyClient,
	}, nil
}

// Close tears down the target and proxy connections.
func (e *Executor) Close() error {
	if e.client != nil {
		e.client.Close()
	}
	if e.proxyClient != nil {
		return e.proxyClient.Close()
	}
	return nil
}

// runCommand executes one remote command over the executor's connection.
func (e *Executor) runCommand(ctx context.Context, command string) (string, error) {
	return runRemoteCommand(ctx, e.client, e.config.CommandTimeout, command)
}

// runRemoteCommand executes one remote command as a login shell, bounded by
// the given hard timeout. On timeout the session is torn down so the remote
// side sees the channel close.
func runRemoteCommand(ctx context.Context, client *ssh.Client, timeout time.Duration, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	type commandResult struct {
		output []byte
		err    error
	}
	done := make(chan commandResult, 1)
	go func() {
		output, err := session.CombinedOutput(loginShell(command))
		done <- commandResult{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return "", fmt.Errorf("remote command timed out: %w", ctx.Err())
	case result := <-done:
		if result.err != nil {
			return string(result.output), fmt.Errorf("remote command failed: %w, output: %s",
				result.err, strings.TrimSpace(string(result.output)))
		}
		return string(result.output), nil
	}
}

// SubmitBatchScript submits the batch script with sbatch and returns the
// new slurm job id. The script receives the workflow job id and the staged
// workspace directory as positional arguments.
func (e *Executor) SubmitBatchScript(ctx context.Context, batchScriptPath, workflowJobID string, scriptArgs []string) (string, error) {
	args := append([]string{workflowJobID}, scriptArgs...)
	command := fmt.Sprintf("sbatch %s %s", batchScriptPath, strings.Join(args, " "))

	var slurmJobID string
	operation := func() error {
		output, err := e.runCommand(ctx, command)
		if err != nil {
			return err
		}
		slurmJobID, err = ParseSbatchOutput(output)
		return err
	}
	if err := withRetry(ctx, "sbatch", operation); err != nil {
		return "", fmt.Errorf("%w: %s", ErrSubmitFailed, err)
	}

	common.Logger.WithField("slurm_job_id", slurmJobID).Info("Submitted slurm batch job")
	return slurmJobID, nil
}

// CheckJobState queries the accounting database for the state of a slurm
// job. An id the scheduler does not know about yields StateSlurmUnknown,
// which is a regular value rather than an error.
func (e *Executor) CheckJobState(ctx context.Context, slurmJobID string) (states.StateSlurm, error) {
	command := fmt.Sprintf("sacct -j %s --format=State --parsable2 --noheader", slurmJobID)

	var output string
	operation := func() error {
		var err error
		output, err = e.runCommand(ctx, command)
		return err
	}
	if err := withRetry(ctx, "sacct", operation); err != nil {
		return states.StateSlurmUnknown, fmt.Errorf("failed to query slurm job %s: %w", slurmJobID, err)
	}

	return ParseSacctOutput(output), nil
}

// ParseSbatchOutput extracts the job id from sbatch's confirmation line,
// "Submitted batch job <id>".
func ParseSbatchOutput(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Submitted batch job") {
			continue
		}
		fields := strings.Fields(line)
		jobID := fields[len(fields)-1]
		if jobID == "job" {
			break
		}
		return jobID, nil
	}
	return "", fmt.Errorf("no job id in sbatch output: %q", strings.TrimSpace(output))
}

// ParseSacctOutput reads the first state line of sacct's parsable output.
// Batch and extern steps repeat the state on extra lines; only the first
// line (the job allocation itself) matters.
func ParseSacctOutput(output string) states.StateSlurm {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return states.ParseSlurmState(line)
	}
	return states.StateSlurmUnknown
}

// loginShell wraps a command so it runs under bash as a login shell.
func loginShell(command string) string {
	return fmt.Sprintf("bash -lc %s", shellQuote(command))
}

// shellQuote single-quotes a string for safe interpolation into a shell
// command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
