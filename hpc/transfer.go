package hpc

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"operandi.gwdg.de/broker/common"
)

// Tarball names inside a staged slurm workspace directory. The batch script
// unpacks workspaceTarball before the run and packs its results into
// resultTarball afterwards.
const (
	workspaceTarball = "workspace.tar.gz"
	resultTarball    = "workspace_result.tar.gz"
)

// Transfer moves tarred workspace directories between the local storage and
// the cluster scratch space over SFTP. Like the executor it owns its own
// proxy-jumped connection, so a crashed transfer never poisons the exec
// session.
type Transfer struct {
	config      Config
	client      *ssh.Client
	proxyClient *ssh.Client
	sftpClient  *sftp.Client
}

// NewTransfer opens the io-transfer session through the proxy jump.
func NewTransfer(cfg Config) (*Transfer, error) {
	client, proxyClient, err := dialThroughProxy(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect HPC transfer: %w", err)
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		proxyClient.Close()
		return nil, fmt.Errorf("failed to open SFTP session: %w", err)
	}
	return &Transfer{
		config:      cfg,
		client:      client,
		proxyClient: proxyClient,
		sftpClient:  sftpClient,
	}, nil
}

// Close tears down the SFTP session and both SSH connections.
func (t *Transfer) Close() error {
	if t.sftpClient != nil {
		t.sftpClient.Close()
	}
	if t.client != nil {
		t.client.Close()
	}
	if t.proxyClient != nil {
		return t.proxyClient.Close()
	}
	return nil
}

// PutSlurmWorkspace packs the local workspace directory into a tarball,
// uploads it into the job's staged workspace directory on the cluster and
// unpacks it there. It returns the remote workspace directory.
func (t *Transfer) PutSlurmWorkspace(ctx context.Context, localWorkspaceDir, workflowJobID string) (string, error) {
	remoteDir := SlurmWorkspaceDir(t.config.Username, t.config.ProjectDir, workflowJobID)
	remoteTarball := path.Join(remoteDir, workspaceTarball)

	tarballPath, err := packToTempFile(localWorkspaceDir)
	if err != nil {
		return "", err
	}
	defer os.Remove(tarballPath)

	operation := func() error {
		if err := t.sftpClient.MkdirAll(remoteDir); err != nil {
			return fmt.Errorf("failed to create remote dir %s: %w", remoteDir, err)
		}
		uploaded, err := t.uploadFile(tarballPath, remoteTarball)
		if err != nil {
			return err
		}
		common.Logger.WithField("remote_dir", remoteDir).
			Infof("Uploaded workspace tarball (%s)", humanize.Bytes(uint64(uploaded)))

		unpack := fmt.Sprintf("cd %s && tar -xzf %s", shellQuote(remoteDir), shellQuote(workspaceTarball))
		_, err = runRemoteCommand(ctx, t.client, t.config.CommandTimeout, unpack)
		return err
	}
	if err := withRetry(ctx, "put-slurm-workspace", operation); err != nil {
		return "", fmt.Errorf("failed to transfer workspace to HPC: %w", err)
	}
	return remoteDir, nil
}

// PutBatchScript uploads a batch script into the project's batch_scripts
// directory and returns its remote path.
func (t *Transfer) PutBatchScript(ctx context.Context, localScriptPath string) (string, error) {
	remoteDir := BatchScriptsDir(t.config.Username, t.config.ProjectDir)
	remotePath := path.Join(remoteDir, filepath.Base(localScriptPath))

	operation := func() error {
		if err := t.sftpClient.MkdirAll(remoteDir); err != nil {
			return fmt.Errorf("failed to create remote dir %s: %w", remoteDir, err)
		}
		_, err := t.uploadFile(localScriptPath, remotePath)
		return err
	}
	if err := withRetry(ctx, "put-batch-script", operation); err != nil {
		return "", fmt.Errorf("failed to upload batch script: %w", err)
	}
	return remotePath, nil
}

// GetAndUnpackSlurmWorkspace downloads the result tarball of a finished job
// and unpacks it over the local workspace directory. The extraction is
// staged into <dir>.partial and atomically renamed, so a crashed download
// never leaves a half-written workspace behind.
func (t *Transfer) GetAndUnpackSlurmWorkspace(ctx context.Context, remoteJobDir, localWorkspaceDir string) error {
	remoteTarball := path.Join(remoteJobDir, resultTarball)
	stagingDir := localWorkspaceDir + ".partial"

	operation := func() error {
		if err := os.RemoveAll(stagingDir); err != nil {
			return fmt.Errorf("failed to clear staging dir %s: %w", stagingDir, err)
		}
		if err := os.MkdirAll(stagingDir, 0o755); err != nil {
			return fmt.Errorf("failed to create staging dir %s: %w", stagingDir, err)
		}

		remoteFile, err := t.sftpClient.Open(remoteTarball)
		if err != nil {
			return fmt.Errorf("failed to open remote tarball %s: %w", remoteTarball, err)
		}
		defer remoteFile.Close()

		if err := UnpackArchive(remoteFile, stagingDir); err != nil {
			return err
		}

		if err := os.RemoveAll(localWorkspaceDir); err != nil {
			return fmt.Errorf("failed to remove old workspace %s: %w", localWorkspaceDir, err)
		}
		if err := os.Rename(stagingDir, localWorkspaceDir); err != nil {
			return fmt.Errorf("failed to move workspace into place: %w", err)
		}
		return nil
	}
	if err := withRetry(ctx, "get-slurm-workspace", operation); err != nil {
		return fmt.Errorf("failed to transfer results from HPC: %w", err)
	}

	common.Logger.WithField("workspace_dir", localWorkspaceDir).Info("Unpacked slurm workspace results")
	return nil
}

// RemoteJobDir returns the staged workspace directory of a workflow job on
// the cluster.
func (t *Transfer) RemoteJobDir(workflowJobID string) string {
	return SlurmWorkspaceDir(t.config.Username, t.config.ProjectDir, workflowJobID)
}

// RemoveSlurmWorkspace deletes a job's staged workspace directory on the
// cluster. Used by the optional post-download cleanup.
func (t *Transfer) RemoveSlurmWorkspace(ctx context.Context, workflowJobID string) error {
	remoteDir := SlurmWorkspaceDir(t.config.Username, t.config.ProjectDir, workflowJobID)
	command := fmt.Sprintf("rm -rf %s", shellQuote(remoteDir))
	_, err := runRemoteCommand(ctx, t.client, t.config.CommandTimeout, command)
	return err
}

// uploadFile copies one local file to a remote path and reports its size.
func (t *Transfer) uploadFile(localPath, remotePath string) (int64, error) {
	localFile, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer localFile.Close()

	remoteFile, err := t.sftpClient.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer remoteFile.Close()

	written, err := io.Copy(remoteFile, localFile)
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", remotePath, err)
	}
	return written, nil
}

// packToTempFile packs a directory into a temporary tarball and returns the
// tarball path. The caller removes the file.
func packToTempFile(dir string) (string, error) {
	tarball, err := os.CreateTemp("", "operandi_workspace_*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create temp tarball: %w", err)
	}
	if err := PackDir(dir, tarball); err != nil {
		tarball.Close()
		os.Remove(tarball.Name())
		return "", err
	}
	if err := tarball.Close(); err != nil {
		os.Remove(tarball.Name())
		return "", fmt.Errorf("failed to close temp tarball: %w", err)
	}
	return tarball.Name(), nil
}
