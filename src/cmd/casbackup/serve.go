package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/casapps/casbackup/src/internal/config"
	"github.com/casapps/casbackup/src/internal/webhook"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook listener so pushes trigger backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			srv, err := webhook.NewServer(webhook.Options{
				Runner: a.manager,
				Secret: a.cfg.GetString("webhook.secret"),
				Lookup: func(name string) (config.Account, bool) {
					acc, err := config.FindAccount(a.cfg, name)
					return acc, err == nil
				},
				Logger:  a.log,
				Workers: a.cfg.GetInt("webhook.workers"),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			addr := a.cfg.GetString("webhook.listen")
			a.log.Info("webhook listener starting on %s", addr)
			if err := srv.Start(ctx, addr); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("webhook listener: %w", err)
			}
			return nil
		},
	}
}
