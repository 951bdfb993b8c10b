package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/casapps/casbackup/src/internal/snapshot"
	"github.com/casapps/casbackup/src/internal/validate"
)

// MetadataRestoreDir is where restored metadata lands inside the target
// checkout; issues and pull requests cannot be pushed back to the provider
// automatically.
const MetadataRestoreDir = ".casbackup-metadata"

// reservedTargets are paths a restore must never be pointed at.
var reservedTargets = []string{
	"/", "/bin", "/boot", "/dev", "/etc", "/lib", "/proc", "/root", "/sbin", "/sys", "/usr", "/var",
}

// Restore clones the committed mirror of account/repo into target and
// copies the captured metadata alongside. The target must be a fresh path
// outside the backup root; any failure removes the partially created
// target. Restore deliberately skips the staging protocol: it writes to a
// brand-new external path, so there is no prior state to protect.
func (m *Manager) Restore(ctx context.Context, account, repo, target string) error {
	if !validate.Account(account) {
		return fmt.Errorf("%w: account name %q", ErrValidation, account)
	}
	if !validate.Repo(repo) {
		return fmt.Errorf("%w: repository name %q", ErrValidation, repo)
	}

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("%w: target %q: %v", ErrValidation, target, err)
	}
	if validate.Within(m.root, absTarget) {
		return fmt.Errorf("%w: target %q is inside the backup root", ErrValidation, target)
	}
	for _, reserved := range reservedTargets {
		if absTarget == reserved {
			return fmt.Errorf("%w: target %q is a reserved system path", ErrValidation, target)
		}
	}
	if _, err := os.Stat(absTarget); err == nil {
		return fmt.Errorf("target path already exists: %s", absTarget)
	}

	repoDir, err := validate.SafeJoin(m.root, account, repo)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	mirror := filepath.Join(repoDir, snapshot.MirrorDirName)
	if _, err := os.Stat(mirror); err != nil {
		return fmt.Errorf("no backup found for %s/%s", account, repo)
	}

	m.log.Info("RESTORE %s/%s to %s", account, repo, absTarget)

	if err := m.sync.CloneFrom(ctx, mirror, absTarget); err != nil {
		os.RemoveAll(absTarget)
		return fmt.Errorf("failed to restore mirror: %w", err)
	}

	metadataSrc := filepath.Join(repoDir, snapshot.MetadataDirName)
	if _, err := os.Stat(metadataSrc); err == nil {
		if err := snapshot.CopyTree(metadataSrc, filepath.Join(absTarget, MetadataRestoreDir)); err != nil {
			os.RemoveAll(absTarget)
			return fmt.Errorf("failed to restore metadata: %w", err)
		}
	}

	m.log.Info("RESTORED %s/%s", account, repo)
	return nil
}
