package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/casapps/casbackup/src/internal/logging"
	"github.com/casapps/casbackup/src/internal/retry"
)

const (
	pageSize = 100

	// rateLimitFloor is the remaining-requests threshold below which the
	// fetcher pauses before the next page.
	rateLimitFloor = 10
	rateLimitPause = 60 * time.Second
)

// apiFetcher talks to the hosting provider's REST API with a bearer token.
type apiFetcher struct {
	account string
	token   string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	retry   retry.Policy
	log     *logging.Logger

	// sleep is swapped out in tests so the rate-limit pause is observable.
	sleep func(time.Duration)
}

func newAPIFetcher(opts Options) *apiFetcher {
	policy := opts.Retry
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}
	return &apiFetcher{
		account: opts.Account,
		token:   opts.Token,
		baseURL: opts.BaseURL,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: newLimiter(opts.RequestsPerSecond),
		retry:   policy,
		log:     opts.Logger,
		sleep:   time.Sleep,
	}
}

func (f *apiFetcher) Fetch(ctx context.Context, repo, destDir string) (*Result, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}

	descriptor, err := f.fetchRepository(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("repository descriptor for %s/%s: %w", f.account, repo, err)
	}
	if err := writeDocument(destDir, RepositoryFile, descriptor); err != nil {
		return nil, err
	}

	result := &Result{}
	resources := []struct {
		file     string
		resource string
		query    string
	}{
		{IssuesFile, "issues", "state=all"},
		{PullsFile, "pulls", "state=all"},
		{ReleasesFile, "releases", ""},
	}
	for _, r := range resources {
		items, partial, err := f.fetchPaginated(ctx, repo, r.resource, r.query)
		if err != nil {
			return nil, fmt.Errorf("fetching %s for %s/%s: %w", r.resource, f.account, repo, err)
		}
		if partial {
			result.Partial = true
			f.log.Warn("partial capture of %s for %s/%s, persisting %d items", r.resource, f.account, repo, len(items))
		}
		if items == nil {
			items = []json.RawMessage{}
		}
		if err := writeDocument(destDir, r.file, items); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// fetchRepository retrieves the single-request repository descriptor.
func (f *apiFetcher) fetchRepository(ctx context.Context, repo string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/repos/%s/%s", f.baseURL, f.account, repo)

	var doc json.RawMessage
	err := f.retry.Do(ctx, func() error {
		body, status, _, err := f.get(ctx, url)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("unexpected status %d", status)
		}
		doc = body
		return nil
	})
	return doc, err
}

// fetchPaginated walks a paginated resource. A transient failure on the
// first page (after retries) is an error; on a later page it stops the walk
// and reports partial=true with the pages already collected.
func (f *apiFetcher) fetchPaginated(ctx context.Context, repo, resource, query string) ([]json.RawMessage, bool, error) {
	var items []json.RawMessage

	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/%s/%s?page=%d&per_page=%d", f.baseURL, f.account, repo, resource, page, pageSize)
		if query != "" {
			url += "&" + query
		}

		var pageItems []json.RawMessage
		var remaining = -1
		stop := false

		err := f.retry.Do(ctx, func() error {
			body, status, headers, err := f.get(ctx, url)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				// A non-success page terminates pagination.
				stop = true
				return nil
			}
			var parsed []json.RawMessage
			if err := json.Unmarshal(body, &parsed); err != nil {
				return &TransientError{Err: fmt.Errorf("truncated page body: %w", err)}
			}
			pageItems = parsed
			if h := headers.Get("X-RateLimit-Remaining"); h != "" {
				if n, convErr := strconv.Atoi(h); convErr == nil {
					remaining = n
				}
			}
			return nil
		})
		if err != nil {
			if page == 1 {
				return nil, false, err
			}
			return items, true, nil
		}

		if stop || len(pageItems) == 0 {
			return items, false, nil
		}
		items = append(items, pageItems...)

		if remaining >= 0 && remaining < rateLimitFloor {
			f.log.Warn("approaching API rate limit (%d remaining), pausing", remaining)
			f.sleep(rateLimitPause)
		}
	}
}

func (f *apiFetcher) ListRepos(ctx context.Context) ([]string, error) {
	type repoRecord struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	}

	var names []string
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/users/%s/repos?type=all&page=%d&per_page=%d", f.baseURL, f.account, page, pageSize)

		var records []repoRecord
		err := f.retry.Do(ctx, func() error {
			body, status, _, err := f.get(ctx, url)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("unexpected status %d listing repositories", status)
			}
			records = nil
			return json.Unmarshal(body, &records)
		})
		if err != nil {
			return nil, fmt.Errorf("listing repositories for %s: %w", f.account, err)
		}
		if len(records) == 0 {
			return names, nil
		}
		for _, r := range records {
			// Listings can include repos the account merely collaborates on.
			if r.Owner.Login == f.account {
				names = append(names, r.Name)
			}
		}
	}
}

// get performs one authenticated GET. Network-level failures come back as
// TransientError so the retry policy can distinguish them.
func (f *apiFetcher) get(ctx context.Context, url string) ([]byte, int, http.Header, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "token "+f.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, &TransientError{Err: err}
	}
	return body, resp.StatusCode, resp.Header, nil
}
