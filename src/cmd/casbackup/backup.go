package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/casapps/casbackup/src/internal/config"
)

func newBackupCmd(cfgPath *string) *cobra.Command {
	var (
		event string
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "backup <account> [repo]",
		Short: "Back up one repository, or every repository of an account",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && len(args) == 2 {
				return fmt.Errorf("--all cannot be combined with a repository argument")
			}

			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			acc, err := config.FindAccount(a.cfg, args[0])
			if err != nil {
				return err
			}

			if len(args) == 2 {
				return a.manager.Backup(ctx, acc, args[1], event)
			}
			return a.manager.BackupAccount(ctx, acc)
		},
	}
	cmd.Flags().StringVarP(&event, "event", "e", "", "event tag driving snapshot policy (default \"manual\")")
	cmd.Flags().BoolVar(&all, "all", false, "back up every repository of the account (same as omitting repo)")
	return cmd
}

func newBackupAllCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backup-all",
		Short: "Back up every configured account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			accounts, err := config.Accounts(a.cfg)
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				return fmt.Errorf("no accounts configured")
			}

			failed := 0
			for _, acc := range accounts {
				if err := a.manager.BackupAccount(ctx, acc); err != nil {
					a.log.Error("account %s: %v", acc.Name, err)
					failed++
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d accounts had failures", failed, len(accounts))
			}
			return nil
		},
	}
}
