// Package snapshot preserves a repository backup's committed state before
// destructive provider events and enforces the retention window on the
// snapshots it keeps.
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/casapps/casbackup/src/internal/logging"
)

// On-disk layout of a repository backup. Snapshots copy the first two into a
// timestamped directory under the third.
const (
	MirrorDirName    = "repo.git"
	MetadataDirName  = "metadata"
	SnapshotsDirName = "snapshots"
)

// triggerEvents is the fixed set of destructive provider events that warrant
// preserving the prior state.
var triggerEvents = map[string]bool{
	"force-push":    true,
	"branch-delete": true,
	"tag-delete":    true,
}

// Triggers reports whether event is destructive enough to snapshot first.
func Triggers(event string) bool {
	return triggerEvents[event]
}

// Manager creates and prunes snapshots.
type Manager struct {
	retention time.Duration
	log       *logging.Logger

	now func() time.Time
}

// New returns a Manager keeping snapshots for retentionDays days.
func New(retentionDays int, logger *logging.Logger) *Manager {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Manager{
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		log:       logger,
		now:       time.Now,
	}
}

// Create copies the committed mirror and metadata under repoDir into a new
// `<UTC timestamp>_<event>` snapshot and then prunes expired snapshots. The
// copy must come from committed state, never from a staging area, so a
// snapshot only ever reflects confirmed prior backups. A failed copy removes
// the half-written snapshot before returning.
func (m *Manager) Create(repoDir, event string) (string, error) {
	name := m.now().UTC().Format("2006-01-02_15-04-05") + "_" + event
	snapDir := filepath.Join(repoDir, SnapshotsDirName, name)

	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	for _, sub := range []string{MirrorDirName, MetadataDirName} {
		src := filepath.Join(repoDir, sub)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyDir(src, filepath.Join(snapDir, sub)); err != nil {
			os.RemoveAll(snapDir)
			return "", fmt.Errorf("failed to copy %s into snapshot: %w", sub, err)
		}
	}

	if err := m.Prune(filepath.Join(repoDir, SnapshotsDirName)); err != nil {
		m.log.Warn("snapshot retention pass failed: %v", err)
	}

	return name, nil
}

// Prune removes snapshots whose modification time predates the retention
// window.
func (m *Manager) Prune(snapshotsDir string) error {
	entries, err := os.ReadDir(snapshotsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to scan snapshots: %w", err)
	}

	cutoff := m.now().Add(-m.retention)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(snapshotsDir, entry.Name())); err != nil {
				return fmt.Errorf("failed to remove snapshot %s: %w", entry.Name(), err)
			}
			m.log.Info("removed old snapshot: %s", entry.Name())
		}
	}
	return nil
}

// copyDir recursively copies src into dst, preserving file modes.
func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, relPath)

		if info.IsDir() {
			return os.MkdirAll(dstPath, info.Mode())
		}
		return copyFile(path, dstPath, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}

// CopyTree is the directory copy used elsewhere in the backup pipeline; it
// shares the snapshot copy implementation.
func CopyTree(src, dst string) error {
	return copyDir(src, dst)
}
