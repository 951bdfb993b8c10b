// Package backup implements the backup transaction engine. Every backup
// stages a fresh mirror and metadata bundle in an ephemeral sibling
// directory, then swaps it into place with atomic renames, so a crash or a
// failing provider call can never corrupt the last good copy.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/casapps/casbackup/src/internal/config"
	"github.com/casapps/casbackup/src/internal/gitmirror"
	"github.com/casapps/casbackup/src/internal/history"
	"github.com/casapps/casbackup/src/internal/logging"
	"github.com/casapps/casbackup/src/internal/metadata"
	"github.com/casapps/casbackup/src/internal/snapshot"
	"github.com/casapps/casbackup/src/internal/validate"
)

// Manager coordinates backup transactions for one backup root.
type Manager struct {
	root       string
	sync       *gitmirror.Synchronizer
	snapshots  *snapshot.Manager
	history    *history.Store
	notifier   Notifier
	log        *logging.Logger
	newFetcher func(acc config.Account) metadata.Fetcher

	now func() time.Time
	// commitHook, when set, runs between the two commit renames to let
	// tests inject a fault at the transaction's most delicate point.
	commitHook func(staging string) error
}

// Options configures a Manager. History and Notifier are optional.
type Options struct {
	Root       string
	Sync       *gitmirror.Synchronizer
	Snapshots  *snapshot.Manager
	History    *history.Store
	Notifier   Notifier
	Logger     *logging.Logger
	NewFetcher func(acc config.Account) metadata.Fetcher
}

// NewManager creates a backup transaction manager.
func NewManager(opts Options) *Manager {
	return &Manager{
		root:       opts.Root,
		sync:       opts.Sync,
		snapshots:  opts.Snapshots,
		history:    opts.History,
		notifier:   opts.Notifier,
		log:        opts.Logger,
		newFetcher: opts.NewFetcher,
		now:        time.Now,
	}
}

// Backup runs one transaction for acc/repo. An empty event means a manual
// run. The outcome is logged, recorded in the history store, and reported
// to the notifier on failure; the returned error is the causal one.
func (m *Manager) Backup(ctx context.Context, acc config.Account, repo, event string) error {
	if event == "" {
		event = DefaultEvent
	}

	started := m.now()
	run := &history.BackupRun{
		Account:   acc.Name,
		Repo:      repo,
		Event:     event,
		StartedAt: started.UTC(),
	}

	err := m.transact(ctx, acc, repo, event, run)
	run.DurationMS = m.now().Sub(started).Milliseconds()

	if err != nil {
		run.Error = err.Error()
		if run.State == "" {
			run.State = StateRolledBack
		}
		m.log.Error("ERROR %s/%s event=%s: %v", acc.Name, repo, event, err)
		if m.notifier != nil {
			m.notifier.BackupFailed(acc.Name, repo, event, err)
		}
	} else {
		run.State = StateDone
		m.log.Info("SUCCESS %s/%s (%s)", acc.Name, repo, run.Size)
	}

	if m.history != nil {
		if recErr := m.history.Record(run); recErr != nil {
			m.log.Warn("failed to record backup run: %v", recErr)
		}
	}
	return err
}

// transact walks the VALIDATING -> STAGING -> COMMITTING states, filling in
// run as it learns the outcome.
func (m *Manager) transact(ctx context.Context, acc config.Account, repo, event string, run *history.BackupRun) error {
	// VALIDATING: nothing touches the filesystem until all identifiers pass.
	if !validate.Account(acc.Name) {
		run.State = StateValidationFailed
		return fmt.Errorf("%w: account name %q", ErrValidation, acc.Name)
	}
	if !validate.Repo(repo) {
		run.State = StateValidationFailed
		return fmt.Errorf("%w: repository name %q", ErrValidation, repo)
	}
	if !validate.Event(event) {
		run.State = StateValidationFailed
		return fmt.Errorf("%w: event tag %q", ErrValidation, event)
	}
	repoDir, err := validate.SafeJoin(m.root, acc.Name, repo)
	if err != nil {
		run.State = StateValidationFailed
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	accountDir := filepath.Dir(repoDir)

	m.log.Info("START backup %s/%s event=%s", acc.Name, repo, event)

	if err := os.MkdirAll(accountDir, 0o755); err != nil {
		return fmt.Errorf("failed to create account directory: %w", err)
	}

	committed := false
	if _, err := os.Stat(repoDir); err == nil {
		committed = true
	}

	// A destructive event preserves the committed state before anything
	// new is staged.
	if snapshot.Triggers(event) && committed {
		name, err := m.snapshots.Create(repoDir, event)
		if err != nil {
			return fmt.Errorf("snapshot before %s: %w", event, err)
		}
		m.log.Info("SNAPSHOT %s/%s %s", acc.Name, repo, name)
	}

	// STAGING: an ephemeral sibling of the account directory, so the final
	// rename stays on one filesystem.
	staging := filepath.Join(m.root, ".staging-"+acc.Name+"-"+repo+"-"+uuid.New().String())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			m.log.Warn("failed to remove staging directory %s: %v", staging, err)
		}
	}()

	remote := gitmirror.Remote{Account: acc.Name, Repo: repo, Token: acc.Token, UseSSH: acc.UseSSH}
	stagedMirror := filepath.Join(staging, snapshot.MirrorDirName)
	committedMirror := filepath.Join(repoDir, snapshot.MirrorDirName)

	if _, err := os.Stat(committedMirror); err == nil {
		// Refresh: copy the committed mirror into staging, fetch there.
		if err := snapshot.CopyTree(committedMirror, stagedMirror); err != nil {
			return fmt.Errorf("failed to stage existing mirror: %w", err)
		}
		if err := m.sync.Update(ctx, remote, stagedMirror); err != nil {
			return err
		}
	} else {
		if err := m.sync.Clone(ctx, remote, stagedMirror); err != nil {
			return err
		}
	}
	if err := gitmirror.Verify(stagedMirror); err != nil {
		return err
	}

	result, err := m.newFetcher(acc).Fetch(ctx, repo, filepath.Join(staging, snapshot.MetadataDirName))
	if err != nil {
		return fmt.Errorf("metadata fetch: %w", err)
	}
	run.Partial = result.Partial

	size := m.mirrorSize(stagedMirror)
	run.Size = size

	status := Status{
		LastBackup: m.now().UTC(),
		Size:       size,
		Event:      event,
		Partial:    result.Partial,
	}
	if err := writeStatus(staging, status); err != nil {
		return err
	}

	// COMMITTING
	return m.commit(repoDir, staging, committed)
}

// commit swaps staging into place. The previously committed directory is
// set aside as .bak first; if the final rename fails the .bak is restored,
// so the prior state is always recoverable.
func (m *Manager) commit(repoDir, staging string, committed bool) error {
	bak := repoDir + ".bak"

	// A .bak left behind by an interrupted earlier run would block the
	// rename aside forever; salvage its snapshots and clear it first.
	if _, err := os.Stat(bak); err == nil {
		salvageInto := repoDir
		if !committed {
			salvageInto = staging
		}
		if err := m.reclaimStaleBak(bak, salvageInto); err != nil {
			return err
		}
	}

	if committed {
		if err := os.Rename(repoDir, bak); err != nil {
			return fmt.Errorf("failed to set aside previous backup: %w", err)
		}
	}

	var renameErr error
	if m.commitHook != nil {
		renameErr = m.commitHook(staging)
	}
	if renameErr == nil {
		renameErr = os.Rename(staging, repoDir)
	}
	if renameErr != nil {
		if committed {
			if restoreErr := os.Rename(bak, repoDir); restoreErr != nil {
				m.log.Error("failed to restore previous backup from %s: %v", bak, restoreErr)
			}
		}
		return fmt.Errorf("failed to commit staged backup: %w", renameErr)
	}

	if committed {
		// Snapshots are not staged; carry them over from the old tree.
		oldSnaps := filepath.Join(bak, snapshot.SnapshotsDirName)
		if _, err := os.Stat(oldSnaps); err == nil {
			if err := os.Rename(oldSnaps, filepath.Join(repoDir, snapshot.SnapshotsDirName)); err != nil {
				// Keep the .bak so the snapshots stay recoverable on disk.
				m.log.Error("failed to carry snapshots forward, keeping %s: %v", bak, err)
				return nil
			}
		}
		if err := os.RemoveAll(bak); err != nil {
			m.log.Warn("failed to remove %s: %v", bak, err)
		}
	}
	return nil
}

// reclaimStaleBak moves any snapshots out of a leftover .bak into dest and
// then removes the .bak, so the prior run's remnant never blocks a commit.
func (m *Manager) reclaimStaleBak(bak, dest string) error {
	oldSnaps := filepath.Join(bak, snapshot.SnapshotsDirName)
	destSnaps := filepath.Join(dest, snapshot.SnapshotsDirName)
	if _, err := os.Stat(oldSnaps); err == nil {
		if _, err := os.Stat(destSnaps); os.IsNotExist(err) {
			if err := os.Rename(oldSnaps, destSnaps); err != nil {
				return fmt.Errorf("failed to salvage snapshots from %s: %w", bak, err)
			}
		}
	}
	if err := os.RemoveAll(bak); err != nil {
		return fmt.Errorf("failed to clear stale %s: %w", bak, err)
	}
	m.log.Warn("cleared stale %s left by an interrupted run", bak)
	return nil
}

// BackupAccount backs up every repository the account owns. Individual
// failures are isolated; the error summarizes how many repositories failed.
func (m *Manager) BackupAccount(ctx context.Context, acc config.Account) error {
	repos, err := m.newFetcher(acc).ListRepos(ctx)
	if err != nil {
		return err
	}

	failures := 0
	for _, repo := range repos {
		if !validate.Repo(repo) {
			m.log.Error("skipping invalid repository name %q from listing", repo)
			failures++
			continue
		}
		if err := m.Backup(ctx, acc, repo, ""); err != nil {
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d repositories failed", failures, len(repos))
	}
	return nil
}

// mirrorSize formats the staged mirror's size for the status record. Size
// is advisory; any probe failure degrades to "unknown".
func (m *Manager) mirrorSize(mirrorPath string) string {
	size, err := gitmirror.Size(mirrorPath)
	if err != nil {
		m.log.Warn("failed to probe mirror size: %v", err)
		return "unknown"
	}
	return humanize.Bytes(uint64(size))
}

func writeStatus(dir string, status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, statusFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	return nil
}
