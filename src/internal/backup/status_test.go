package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadStatusMissingIsNil(t *testing.T) {
	status, err := ReadStatus(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestReadStatusRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, statusFile), []byte("{not json"), 0o644))

	_, err := ReadStatus(dir)
	assert.Error(t, err)
}

func TestListStatusSkipsOperationalClutter(t *testing.T) {
	env := newTestEnv(t)
	env.mustBackup(t, "octo", "widgets", "")
	env.mustBackup(t, "octo", "gadgets", "")
	env.mustBackup(t, "acme", "anvil", "")

	// Clutter the tree the way an interrupted run or the history store would.
	require.NoError(t, os.MkdirAll(filepath.Join(env.root, ".staging-octo-widgets-leftover"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(env.root, "octo", "widgets.bak"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "history.db"), nil, 0o644))

	// A repo directory without a status file is listed with a nil status.
	require.NoError(t, os.MkdirAll(filepath.Join(env.root, "acme", "pending"), 0o755))

	results, err := ListStatus(env.root)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "acme", results[0].Account)
	assert.Equal(t, "anvil", results[0].Repo)
	require.NotNil(t, results[0].Status)

	assert.Equal(t, "pending", results[1].Repo)
	assert.Nil(t, results[1].Status)

	assert.Equal(t, "gadgets", results[2].Repo)
	assert.Equal(t, "widgets", results[3].Repo)
}

func TestListStatusEmptyRoot(t *testing.T) {
	results, err := ListStatus(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Nil(t, results)
}
