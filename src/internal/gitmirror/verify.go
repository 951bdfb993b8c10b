package gitmirror

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// Verify checks that path holds an openable bare repository with readable
// references. It runs after every sync so a mirror that git exited 0 on but
// left unreadable is caught before the transaction commits.
func Verify(path string) error {
	fs := osfs.New(path)
	storage := filesystem.NewStorage(fs, nil)

	repo, err := git.Open(storage, fs)
	if err != nil {
		return fmt.Errorf("mirror at %s is not a valid repository: %w", path, err)
	}

	refs, err := repo.References()
	if err != nil {
		return fmt.Errorf("mirror at %s has unreadable references: %w", path, err)
	}
	defer refs.Close()

	// An empty upstream yields a mirror with no refs; that is still valid.
	return nil
}

// Size walks the mirror and returns its total size in bytes. Size is
// advisory telemetry, so callers treat errors as "unknown", never as a
// failed backup.
func Size(path string) (int64, error) {
	var total int64
	err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure mirror size: %w", err)
	}
	return total, nil
}
