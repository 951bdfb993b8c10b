package backup

import (
	"errors"
	"time"
)

// Transaction states recorded in the history store.
const (
	StateDone             = "DONE"
	StateRolledBack       = "ROLLED_BACK"
	StateValidationFailed = "VALIDATION_FAILED"
)

// DefaultEvent tags backups not triggered by a provider event.
const DefaultEvent = "manual"

// ErrValidation marks a malformed or unsafe identifier. It aborts the
// operation before any I/O and is never retried.
var ErrValidation = errors.New("validation failed")

// Status is the per-repository status.json, written inside staging and made
// visible atomically with the rest of the transaction. Its presence signals
// that a first successful backup exists.
type Status struct {
	LastBackup time.Time `json:"last_backup"`
	Size       string    `json:"size"`
	Event      string    `json:"event"`
	Partial    bool      `json:"partial,omitempty"`
}

// RepoStatus pairs a committed repository backup with its status record.
// Status is nil when the directory exists but no backup ever completed.
type RepoStatus struct {
	Account string
	Repo    string
	Status  *Status
}

// Notifier is told about failed transactions. Implementations must not
// block the backup run for long.
type Notifier interface {
	BackupFailed(account, repo, event string, err error)
}

const statusFile = "status.json"
