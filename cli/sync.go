package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/taskspace/apperr"
	"github.com/zhubert/taskspace/reconcile"
)

func newSyncCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one status reconciliation cycle against GitHub",
		Long: `Look up the pull request of every project branch in every active task,
record its state, review and CI status, and send notifications for changes.

Without a GitHub token the cycle does nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := state.services()
			if err != nil {
				return err
			}
			report, err := a.engine(state.provider).RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func printReport(w io.Writer, r *reconcile.Report) {
	g := glyphsFor(w)
	if r.Skipped {
		fmt.Fprintf(w, "%s Sync skipped: %s\n", g.skip, r.SkipReason)
		return
	}

	for _, res := range r.Results {
		name := res.TaskID + "/" + res.Project
		switch {
		case res.Err != nil:
			fmt.Fprintf(w, "  %s %s: %v\n", g.fail, name, res.Err)
		case res.Skipped:
			fmt.Fprintf(w, "  %s %s: pull request closed\n", g.skip, name)
		case res.Status == nil:
			fmt.Fprintf(w, "  %s %s: no pull request\n", g.skip, name)
		default:
			fmt.Fprintf(w, "  %s %s: #%d %s, review %s, ci %s\n", g.ok, name,
				res.Status.Number, res.Status.Status, res.Status.ReviewStatus, res.Status.CIStatus)
		}
	}
	fmt.Fprintf(w, "Synced %d tasks in %s: %d updated, %d failed, %d notifications\n",
		r.Tasks, r.Duration.Round(time.Millisecond), len(r.Updated), len(r.Failures()), r.Notifications)
}

func newWatchCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Reconcile continuously until interrupted",
		Long: `Run a reconciliation cycle every poll.interval, and shortly after the task
file changes. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := state.services()
			if err != nil {
				return err
			}
			// The watcher needs the store's directory even before the first task.
			if err := os.MkdirAll(filepath.Dir(a.store.Path()), 0o755); err != nil {
				return apperr.NewFileSystem("cli.watch", "create store directory", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s every %s (Ctrl-C to stop)\n", a.store.Path(), a.cfg.Poll.Interval)
			err = a.engine(state.provider).Watch(ctx, a.cfg.Poll.Interval, a.cfg.Poll.Debounce)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
