// Package metadata captures a repository's hosting metadata (repository
// descriptor, issues, pull requests, releases) as JSON documents on disk.
// Two backends share one contract: a paginated API fetcher used when the
// account has a token, and a delegated gh CLI fetcher used when it does not.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/casapps/casbackup/src/internal/logging"
	"github.com/casapps/casbackup/src/internal/retry"
)

// Document filenames inside a repository's metadata directory.
const (
	RepositoryFile = "repository.json"
	IssuesFile     = "issues.json"
	PullsFile      = "pulls.json"
	ReleasesFile   = "releases.json"
)

// Result reports how a metadata capture went. Partial means pagination of at
// least one resource stopped early (or a delegated command failed) and the
// documents on disk cover only what was retrieved; the backup still commits.
type Result struct {
	Partial bool
}

// Fetcher produces the metadata bundle for repositories of one account.
type Fetcher interface {
	// Fetch writes the four metadata documents for repo into destDir. Each
	// document is written atomically and only after its fetch completed.
	Fetch(ctx context.Context, repo, destDir string) (*Result, error)

	// ListRepos enumerates the account's repository names.
	ListRepos(ctx context.Context) ([]string, error)
}

// Options configures a Fetcher for one account.
type Options struct {
	Account           string
	Token             string
	BaseURL           string
	Timeout           time.Duration
	Retry             retry.Policy
	RequestsPerSecond float64
	CLIPath           string
	Logger            *logging.Logger
}

// New selects the backend for the account: the paginated API when a token is
// configured, the gh CLI otherwise.
func New(opts Options) Fetcher {
	if opts.Token != "" {
		return newAPIFetcher(opts)
	}
	return newCLIFetcher(opts)
}

// TransientError marks a network failure worth retrying: timeouts and
// connection errors, as opposed to malformed identifiers or tool failures.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient network error: %v", e.Err) }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// writeDocument writes v as indented JSON to dir/name via a temp file and
// rename, so readers never observe a half-written document.
func writeDocument(dir, name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp document: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to place %s: %w", name, err)
	}
	return nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		rps = 5
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}
