package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casapps/casbackup/src/internal/metadata"
)

func TestRestoreRecreatesWorkingCopy(t *testing.T) {
	env := newTestEnv(t)
	env.mustBackup(t, "octo", "widgets", "")

	target := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, env.manager.Restore(context.Background(), "octo", "widgets", target))

	_, err := os.Stat(target)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(target, MetadataRestoreDir, metadata.IssuesFile))
	assert.NoError(t, err)
}

func TestRestoreRefusesExistingTarget(t *testing.T) {
	env := newTestEnv(t)
	env.mustBackup(t, "octo", "widgets", "")

	target := t.TempDir()
	err := env.manager.Restore(context.Background(), "octo", "widgets", target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestRestoreRefusesTargetInsideBackupRoot(t *testing.T) {
	env := newTestEnv(t)
	env.mustBackup(t, "octo", "widgets", "")

	err := env.manager.Restore(context.Background(), "octo", "widgets", filepath.Join(env.root, "octo", "copy"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRestoreRefusesReservedPath(t *testing.T) {
	env := newTestEnv(t)
	env.mustBackup(t, "octo", "widgets", "")

	err := env.manager.Restore(context.Background(), "octo", "widgets", "/etc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRestoreWithoutBackupFails(t *testing.T) {
	env := newTestEnv(t)

	err := env.manager.Restore(context.Background(), "octo", "nothing", filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backup found")
}

func TestRestoreCleansUpOnCloneFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mustBackup(t, "octo", "widgets", "")

	t.Setenv("GIT_LOCAL_CLONE_FAIL", "1")
	target := filepath.Join(t.TempDir(), "restored")
	err := env.manager.Restore(context.Background(), "octo", "widgets", target)
	require.Error(t, err)

	// The shim created the target before failing; Restore removed it.
	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}
