package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ReadStatus loads a committed repository's status record. It returns
// (nil, nil) when no backup has completed yet.
func ReadStatus(repoDir string) (*Status, error) {
	data, err := os.ReadFile(filepath.Join(repoDir, statusFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read status: %w", err)
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &status, nil
}

// ListStatus scans the backup root and returns every committed repository
// backup, sorted by account then repository. Staging leftovers, .bak
// directories and loose files (like the history database) are skipped.
func ListStatus(root string) ([]RepoStatus, error) {
	accounts, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan backup root: %w", err)
	}

	var results []RepoStatus
	for _, acc := range accounts {
		if !acc.IsDir() || skipEntry(acc.Name()) {
			continue
		}
		repos, err := os.ReadDir(filepath.Join(root, acc.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to scan account %s: %w", acc.Name(), err)
		}
		for _, repo := range repos {
			if !repo.IsDir() || skipEntry(repo.Name()) {
				continue
			}
			status, err := ReadStatus(filepath.Join(root, acc.Name(), repo.Name()))
			if err != nil {
				return nil, err
			}
			results = append(results, RepoStatus{
				Account: acc.Name(),
				Repo:    repo.Name(),
				Status:  status,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Account != results[j].Account {
			return results[i].Account < results[j].Account
		}
		return results[i].Repo < results[j].Repo
	})
	return results, nil
}

func skipEntry(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".bak")
}
