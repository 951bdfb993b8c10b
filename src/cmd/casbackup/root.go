package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/casapps/casbackup/src/internal/backup"
	"github.com/casapps/casbackup/src/internal/config"
	"github.com/casapps/casbackup/src/internal/gitmirror"
	"github.com/casapps/casbackup/src/internal/history"
	"github.com/casapps/casbackup/src/internal/logging"
	"github.com/casapps/casbackup/src/internal/metadata"
	"github.com/casapps/casbackup/src/internal/notify"
	"github.com/casapps/casbackup/src/internal/retry"
	"github.com/casapps/casbackup/src/internal/snapshot"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "casbackup",
		Short:         "Transactional backups of hosted git repositories",
		Long:          "casbackup keeps full mirror clones and API metadata of hosted git repositories,\nupdating them transactionally so an interrupted run never damages the last good copy.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./config.yaml, /etc/casbackup/config.yaml)")

	root.AddCommand(
		newBackupCmd(&cfgPath),
		newBackupAllCmd(&cfgPath),
		newStatusCmd(&cfgPath),
		newRestoreCmd(&cfgPath),
		newServeCmd(&cfgPath),
		newVersionCmd(),
	)
	return root
}

// app holds the wired-up services a command needs. Commands build it lazily
// so `version` and flag errors never touch the filesystem.
type app struct {
	cfg     *viper.Viper
	log     *logging.Logger
	store   *history.Store
	manager *backup.Manager
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.GetString("settings.log_dir"), cfg.GetInt("settings.log_max_size_mb"))
	if err != nil {
		return nil, err
	}

	// A broken history database degrades to unrecorded runs, it never
	// blocks a backup.
	store, err := history.Open(cfg)
	if err != nil {
		log.Warn("history database unavailable: %v", err)
		store = nil
	}

	a := &app{cfg: cfg, log: log, store: store}
	a.manager = backup.NewManager(backup.Options{
		Root: cfg.GetString("settings.backup_dir"),
		Sync: gitmirror.New(gitmirror.Options{
			GitPath: cfg.GetString("settings.git_path"),
			Timeout: cfg.GetDuration("settings.git_timeout"),
			Logger:  log,
		}),
		Snapshots:  snapshot.New(cfg.GetInt("settings.keep_snapshots_days"), log),
		History:    store,
		Notifier:   notify.NewMailer(cfg, log),
		Logger:     log,
		NewFetcher: a.newFetcher,
	})
	return a, nil
}

func (a *app) newFetcher(acc config.Account) metadata.Fetcher {
	return metadata.New(metadata.Options{
		Account: acc.Name,
		Token:   acc.Token,
		BaseURL: a.cfg.GetString("settings.api_base_url"),
		Timeout: a.cfg.GetDuration("settings.api_timeout"),
		Retry: retry.Policy{
			MaxAttempts: a.cfg.GetInt("settings.retry_attempts"),
			BaseDelay:   a.cfg.GetDuration("settings.retry_base_delay"),
			Retryable:   metadata.IsTransient,
		},
		RequestsPerSecond: a.cfg.GetFloat64("settings.api_requests_per_second"),
		CLIPath:           a.cfg.GetString("settings.gh_path"),
		Logger:            a.log,
	})
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	a.log.Close()
}

func (a *app) backupRoot() string {
	return a.cfg.GetString("settings.backup_dir")
}

// staleAfter is how old a backup may get before status flags it.
const staleAfter = 7 * 24 * time.Hour
