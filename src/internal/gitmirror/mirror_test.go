package gitmirror

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casapps/casbackup/src/internal/logging"
)

func fakeGit(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "git")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func testSynchronizer(t *testing.T, gitPath string) *Synchronizer {
	t.Helper()
	logger, err := logging.New(t.TempDir(), 10)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })

	return New(Options{GitPath: gitPath, Timeout: 5 * time.Second, Logger: logger})
}

func TestRemoteURL(t *testing.T) {
	https := Remote{Account: "octo", Repo: "widgets"}
	assert.Equal(t, "https://github.com/octo/widgets.git", https.URL(""))

	ssh := Remote{Account: "octo", Repo: "widgets", UseSSH: true}
	assert.Equal(t, "git@github.com:octo/widgets.git", ssh.URL(""))

	assert.Equal(t, "https://git.example.com/octo/widgets.git", https.URL("git.example.com"))
}

func TestCloneUsesMirrorAndAskpass(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "capture")
	t.Setenv("CAPTURE_FILE", capture)

	script := `
echo "$@" > "$CAPTURE_FILE"
if [ -n "$GIT_ASKPASS" ]; then
  "$GIT_ASKPASS" "Password for host" >> "$CAPTURE_FILE"
fi
`
	s := testSynchronizer(t, fakeGit(t, script))

	remote := Remote{Account: "octo", Repo: "widgets", Token: "ghp_secret"}
	dest := filepath.Join(t.TempDir(), "repo.git")
	require.NoError(t, s.Clone(context.Background(), remote, dest))

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, "clone --mirror https://github.com/octo/widgets.git "+dest)
	// The askpass helper hands the token to git...
	assert.Contains(t, out, "ghp_secret")
	// ...but the token never rides in the URL or argument vector.
	assert.NotContains(t, out, "ghp_secret@")
}

func TestCloneCleansUpAskpassHelper(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "capture")
	t.Setenv("CAPTURE_FILE", capture)

	s := testSynchronizer(t, fakeGit(t, `echo "$GIT_ASKPASS" > "$CAPTURE_FILE"`))

	remote := Remote{Account: "octo", Repo: "widgets", Token: "tok"}
	require.NoError(t, s.Clone(context.Background(), remote, filepath.Join(t.TempDir(), "repo.git")))

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	helper := strings.TrimSpace(string(data))
	require.NotEmpty(t, helper)

	_, err = os.Stat(helper)
	assert.True(t, os.IsNotExist(err), "askpass helper should be removed after use")
}

func TestUpdateRunsInMirrorDir(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "capture")
	t.Setenv("CAPTURE_FILE", capture)

	s := testSynchronizer(t, fakeGit(t, `{ echo "$@"; pwd; } > "$CAPTURE_FILE"`))

	mirror := t.TempDir()
	require.NoError(t, s.Update(context.Background(), Remote{Account: "octo", Repo: "widgets"}, mirror))

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "fetch --all --prune", lines[0])

	// The fake shell may report a resolved path; compare resolved forms.
	wantDir, err := filepath.EvalSymlinks(mirror)
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(lines[1])
	require.NoError(t, err)
	assert.Equal(t, wantDir, gotDir)
}

func TestFailureSurfacesStderr(t *testing.T) {
	s := testSynchronizer(t, fakeGit(t, `echo "fatal: repository not found" >&2; exit 128`))

	err := s.Clone(context.Background(), Remote{Account: "octo", Repo: "widgets"}, filepath.Join(t.TempDir(), "repo.git"))
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Contains(t, toolErr.Stderr, "repository not found")
}

func TestTimeoutAborts(t *testing.T) {
	s := testSynchronizer(t, fakeGit(t, "sleep 5"))
	s.timeout = 50 * time.Millisecond

	err := s.Update(context.Background(), Remote{Account: "octo", Repo: "widgets"}, t.TempDir())
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Contains(t, toolErr.Error(), "timed out")
}

func TestVerify(t *testing.T) {
	t.Run("valid bare repository", func(t *testing.T) {
		dir := t.TempDir()
		_, err := git.PlainInit(dir, true)
		require.NoError(t, err)

		assert.NoError(t, Verify(dir))
	})

	t.Run("not a repository", func(t *testing.T) {
		assert.Error(t, Verify(t.TempDir()))
	})
}

func TestSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 50), 0o644))

	size, err := Size(dir)
	require.NoError(t, err)
	assert.EqualValues(t, 150, size)
}
