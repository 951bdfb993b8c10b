// Package gitmirror keeps full mirror clones in sync by driving the external
// git client. Commands always run with argument vectors and explicit
// timeouts; HTTPS credentials travel through a short-lived askpass helper so
// tokens never appear in a URL, an argument list, or a log line.
package gitmirror

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/casapps/casbackup/src/internal/logging"
)

const defaultHost = "github.com"

// Remote identifies the upstream repository and how to authenticate to it.
type Remote struct {
	Account string
	Repo    string
	Token   string
	UseSSH  bool
}

// URL builds the remote reference for the configured transport.
func (r Remote) URL(host string) string {
	if host == "" {
		host = defaultHost
	}
	if r.UseSSH {
		return fmt.Sprintf("git@%s:%s/%s.git", host, r.Account, r.Repo)
	}
	return fmt.Sprintf("https://%s/%s/%s.git", host, r.Account, r.Repo)
}

// ToolError reports a failed or timed-out git invocation with its captured
// stderr. It is fatal to the repository's transaction.
type ToolError struct {
	Cmd    string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", e.Cmd, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Synchronizer creates and refreshes mirror clones.
type Synchronizer struct {
	gitPath string
	host    string
	timeout time.Duration
	log     *logging.Logger
}

// Options configures a Synchronizer.
type Options struct {
	GitPath string        // git binary, defaults to "git"
	Host    string        // remote host, defaults to github.com
	Timeout time.Duration // standard operation timeout; initial clones get 2x
	Logger  *logging.Logger
}

// New returns a Synchronizer.
func New(opts Options) *Synchronizer {
	gitPath := opts.GitPath
	if gitPath == "" {
		gitPath = "git"
	}
	host := opts.Host
	if host == "" {
		host = defaultHost
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Synchronizer{
		gitPath: gitPath,
		host:    host,
		timeout: timeout,
		log:     opts.Logger,
	}
}

// Clone performs the initial full mirror clone of remote into destPath.
// First clones transfer the whole history, so they get double the standard
// timeout.
func (s *Synchronizer) Clone(ctx context.Context, remote Remote, destPath string) error {
	env, cleanup, err := s.credentialEnv(remote)
	if err != nil {
		return err
	}
	defer cleanup()

	return s.run(ctx, "", env, 2*s.timeout, "clone", "--mirror", remote.URL(s.host), destPath)
}

// Update refreshes an existing mirror at mirrorPath, pruning refs deleted
// upstream.
func (s *Synchronizer) Update(ctx context.Context, remote Remote, mirrorPath string) error {
	env, cleanup, err := s.credentialEnv(remote)
	if err != nil {
		return err
	}
	defer cleanup()

	return s.run(ctx, mirrorPath, env, s.timeout, "fetch", "--all", "--prune")
}

// CloneFrom clones a local mirror into dest with a working tree, which is
// how restores rebuild a usable checkout from the committed backup.
func (s *Synchronizer) CloneFrom(ctx context.Context, srcMirror, dest string) error {
	return s.run(ctx, "", nil, s.timeout, "clone", srcMirror, dest)
}

// run executes one git command bounded by timeout. Non-zero exit and
// timeouts both surface as ToolError with captured stderr.
func (s *Synchronizer) run(ctx context.Context, dir string, env []string, timeout time.Duration, args ...string) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, s.gitPath, args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		name := s.gitPath + " " + args[0]
		if cctx.Err() == context.DeadlineExceeded {
			return &ToolError{Cmd: name, Err: fmt.Errorf("timed out after %s", timeout)}
		}
		return &ToolError{Cmd: name, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return nil
}
