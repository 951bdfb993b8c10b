package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRestoreCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <account> <repo> <target>",
		Short: "Restore a backup into a fresh working copy",
		Long:  "Restore clones the committed mirror into <target> and places the captured\nmetadata under " + "`.casbackup-metadata`" + " inside it. The target must not exist yet.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.manager.Restore(ctx, args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s/%s to %s\n", args[0], args[1], args[2])
			return nil
		},
	}
}
