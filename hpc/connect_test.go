package hpc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckKeyfile(t *testing.T) {
	dir := t.TempDir()

	keyPath := filepath.Join(dir, "id_rsa")
	require.NoError(t, os.WriteFile(keyPath, []byte("not really a key"), 0o600))
	assert.NoError(t, CheckKeyfile(keyPath))
}

func TestCheckKeyfileMissing(t *testing.T) {
	err := CheckKeyfile(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, ErrKeyfileMissing)
}

func TestCheckKeyfileDirectory(t *testing.T) {
	err := CheckKeyfile(t.TempDir())
	assert.ErrorIs(t, err, ErrKeyfileMissing)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/home/users/mm", UserHomeDir("mm"))
	assert.Equal(t, "/scratch1/users/mm", UserScratchDir("mm"))
	assert.Equal(t, "/scratch1/users/mm/operandi", ProjectRootDir("mm", "operandi"))
	assert.Equal(t, "/scratch1/users/mm/operandi/batch_scripts", BatchScriptsDir("mm", "operandi"))
	assert.Equal(t, "/scratch1/users/mm/operandi/slurm_workspaces/job42",
		SlurmWorkspaceDir("mm", "operandi", "job42"))
}
