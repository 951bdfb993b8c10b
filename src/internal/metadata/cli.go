package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/casapps/casbackup/src/internal/logging"
)

const (
	issueFields   = "number,title,body,state,author,assignees,labels,createdAt,updatedAt,comments"
	prFields      = "number,title,body,state,author,assignees,labels,createdAt,updatedAt,reviews,comments"
	releaseFields = "tagName,name,isDraft,isPrerelease,createdAt,publishedAt"

	repoListLimit = "1000"
)

// cliFetcher delegates metadata retrieval to the authenticated gh CLI when
// no token is configured for the account.
type cliFetcher struct {
	account string
	binary  string
	timeout time.Duration
	log     *logging.Logger
}

func newCLIFetcher(opts Options) *cliFetcher {
	binary := opts.CLIPath
	if binary == "" {
		binary = "gh"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &cliFetcher{
		account: opts.Account,
		binary:  binary,
		timeout: timeout,
		log:     opts.Logger,
	}
}

func (f *cliFetcher) Fetch(ctx context.Context, repo, destDir string) (*Result, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}

	full := f.account + "/" + repo
	result := &Result{}

	commands := []struct {
		file string
		args []string
		// emptyOnError holds for the release listing, where a non-zero
		// exit means "no releases", not a failure. A timeout is still a
		// failure: nothing was learned about the releases.
		emptyOnError bool
	}{
		{RepositoryFile, []string{"api", "repos/" + full}, false},
		{IssuesFile, []string{"issue", "list", "--repo", full, "--state", "all", "--json", issueFields}, false},
		{PullsFile, []string{"pr", "list", "--repo", full, "--state", "all", "--json", prFields}, false},
		{ReleasesFile, []string{"release", "list", "--repo", full, "--json", releaseFields}, true},
	}

	for _, c := range commands {
		out, err := f.run(ctx, c.args)
		if err != nil {
			if c.emptyOnError && !IsTransient(err) {
				if writeErr := writeDocument(destDir, c.file, []json.RawMessage{}); writeErr != nil {
					return nil, writeErr
				}
				continue
			}
			// One command failing does not abort the others.
			f.log.Error("failed to fetch %s for %s: %v", c.file, full, err)
			result.Partial = true
			continue
		}
		if !json.Valid(out) {
			f.log.Error("discarding non-JSON output for %s of %s", c.file, full)
			result.Partial = true
			continue
		}
		if err := writeDocument(destDir, c.file, json.RawMessage(out)); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (f *cliFetcher) ListRepos(ctx context.Context) ([]string, error) {
	out, err := f.run(ctx, []string{"repo", "list", f.account, "--json", "name", "--limit", repoListLimit})
	if err != nil {
		return nil, fmt.Errorf("listing repositories for %s: %w", f.account, err)
	}

	var records []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(out, &records); err != nil {
		return nil, fmt.Errorf("parsing repository listing for %s: %w", f.account, err)
	}

	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.Name)
	}
	return names, nil
}

// run executes one delegated command under the fetcher's timeout, returning
// stdout. Arguments are always passed as a vector, never through a shell.
func (f *cliFetcher) run(ctx context.Context, args []string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, f.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return nil, &TransientError{Err: fmt.Errorf("%s %s timed out after %s", f.binary, args[0], f.timeout)}
		}
		return nil, fmt.Errorf("%s %s: %w: %s", f.binary, args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
