// Package history persists one record per backup transaction so operators
// can answer "when did this repo last back up, and how did it go" without
// crawling the directory tree. sqlite is the default; mysql and postgres are
// available for hosts that already run one.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/viper"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// BackupRun records the outcome of one backup transaction.
type BackupRun struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Account    string    `gorm:"index" json:"account"`
	Repo       string    `gorm:"index" json:"repo"`
	Event      string    `json:"event"`
	State      string    `gorm:"index" json:"state"` // DONE, ROLLED_BACK, VALIDATION_FAILED
	Size       string    `json:"size"`
	Partial    bool      `json:"partial"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store wraps the history database.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured history database and migrates the schema.
func Open(cfg *viper.Viper) (*Store, error) {
	dbType := cfg.GetString("database.type")
	dsn := cfg.GetString("database.dsn")

	var dialector gorm.Dialector
	switch dbType {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite", "":
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create history directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	maxConns := cfg.GetInt("database.max_connections")
	if maxConns <= 0 {
		maxConns = 5
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns / 2)

	return New(db)
}

// New wraps an existing gorm connection, migrating the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&BackupRun{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends one run.
func (s *Store) Record(run *BackupRun) error {
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("failed to record backup run: %w", err)
	}
	return nil
}

// Recent returns the newest runs for one repository, most recent first.
func (s *Store) Recent(account, repo string, limit int) ([]BackupRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []BackupRun
	err := s.db.
		Where("account = ? AND repo = ?", account, repo).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query backup runs: %w", err)
	}
	return runs, nil
}

// LastSuccess returns the newest DONE run for one repository, or nil when
// the repository has never completed a backup.
func (s *Store) LastSuccess(account, repo string) (*BackupRun, error) {
	var run BackupRun
	err := s.db.
		Where("account = ? AND repo = ? AND state = ?", account, repo, "DONE").
		Order("started_at DESC").
		First(&run).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	return &run, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
