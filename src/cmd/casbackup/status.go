package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/casapps/casbackup/src/internal/backup"
)

func newStatusCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status [account]",
		Short: "Show the state of every committed backup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			results, err := backup.ListStatus(a.backupRoot())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				results = filterAccount(results, args[0])
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups found.")
				return nil
			}

			a.printStatusTree(cmd, results)
			return nil
		},
	}
}

func filterAccount(results []backup.RepoStatus, account string) []backup.RepoStatus {
	var out []backup.RepoStatus
	for _, r := range results {
		if r.Account == account {
			out = append(out, r)
		}
	}
	return out
}

func (a *app) printStatusTree(cmd *cobra.Command, results []backup.RepoStatus) {
	out := cmd.OutOrStdout()
	current := ""
	for _, r := range results {
		if r.Account != current {
			current = r.Account
			fmt.Fprintf(out, "%s/\n", current)
		}
		fmt.Fprintf(out, "  %s %-30s %s%s\n",
			statusMarker(r.Status), r.Repo, statusDetail(r.Status), a.lastRunNote(r))
	}
}

// statusMarker summarizes one repo's backup health: done, degraded, or
// absent.
func statusMarker(s *backup.Status) string {
	switch {
	case s == nil:
		return "✗"
	case s.Partial, time.Since(s.LastBackup) > staleAfter:
		return "⚠"
	default:
		return "✓"
	}
}

func statusDetail(s *backup.Status) string {
	if s == nil {
		return "no completed backup"
	}
	detail := fmt.Sprintf("%s, %s", s.Size, humanize.Time(s.LastBackup))
	if s.Partial {
		detail += " (partial metadata)"
	}
	return detail
}

// lastRunNote surfaces a failed latest attempt from the history database,
// which status.json alone cannot show.
func (a *app) lastRunNote(r backup.RepoStatus) string {
	if a.store == nil {
		return ""
	}
	runs, err := a.store.Recent(r.Account, r.Repo, 1)
	if err != nil || len(runs) == 0 {
		return ""
	}
	if runs[0].State == backup.StateDone {
		return ""
	}
	return fmt.Sprintf("  [last attempt %s %s]", runs[0].State, relativeTime(runs[0].StartedAt))
}

func relativeTime(t time.Time) string {
	if t.IsZero() {
		return "at unknown time"
	}
	return humanize.Time(t)
}
