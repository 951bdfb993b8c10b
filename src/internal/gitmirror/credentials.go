package gitmirror

import (
	"fmt"
	"os"
	"path/filepath"
)

// askpassScript answers git's credential prompts from the environment, so
// the token is visible only to the helper process and never to `ps` or the
// shell history.
const askpassScript = `#!/bin/sh
case "$1" in
  Username*) echo "x-access-token" ;;
  Password*) echo "${CASBACKUP_GIT_TOKEN}" ;;
esac
`

// credentialEnv prepares the environment for one git invocation. For
// token-authenticated HTTPS it writes a transient askpass helper (0700,
// removed by the returned cleanup) and points GIT_ASKPASS at it. SSH and
// tokenless remotes need no extra environment.
func (s *Synchronizer) credentialEnv(remote Remote) ([]string, func(), error) {
	if remote.UseSSH || remote.Token == "" {
		return nil, func() {}, nil
	}

	dir, err := os.MkdirTemp("", "casbackup-askpass-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create credential helper dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		os.RemoveAll(dir)
		return nil, nil, fmt.Errorf("failed to restrict credential helper dir: %w", err)
	}

	helper := filepath.Join(dir, "askpass.sh")
	if err := os.WriteFile(helper, []byte(askpassScript), 0o700); err != nil {
		os.RemoveAll(dir)
		return nil, nil, fmt.Errorf("failed to write credential helper: %w", err)
	}

	env := []string{
		"GIT_ASKPASS=" + helper,
		"CASBACKUP_GIT_TOKEN=" + remote.Token,
		// Never fall back to an interactive prompt on a headless host.
		"GIT_TERMINAL_PROMPT=0",
	}
	return env, func() { os.RemoveAll(dir) }, nil
}
