package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/vaultsync/internal/cli"
	"github.com/forest6511/vaultsync/pkg/netstate"
	"github.com/forest6511/vaultsync/pkg/queue"
)

// Queue command flags
var (
	queueListJSON bool
)

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueDrainCmd)
	queueCmd.AddCommand(queuePruneCmd)

	queueListCmd.Flags().BoolVar(&queueListJSON, "json", false, "Output as JSON")
}

// queueCmd is the parent command for offline queue operations
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Offline write queue operations",
}

// queueListCmd lists saved requests in replay order
var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List requests waiting to sync, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := a.queue.List(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()

		if queueListJSON {
			if items == nil {
				items = []*queue.Mutation{}
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		if len(items) == 0 {
			fmt.Fprintln(w, "No requests waiting to sync")
			return nil
		}
		now := time.Now()
		for _, m := range items {
			// Format: ID METHOD URL AGE [ATTEMPTS]
			line := fmt.Sprintf("%d %s %s %s", m.ID, m.Method, m.URL, now.Sub(m.EnqueuedAt).Truncate(time.Second))
			if m.Attempts > 0 {
				line += fmt.Sprintf(" attempts:%d", m.Attempts)
			}
			if m.Expired(now) {
				line += " (expired)"
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "\nTotal: %d requests\n", len(items))
		return nil
	},
}

// queueDrainCmd replays the queue once
var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay saved requests now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := cli.NewSpinner(cmd.ErrOrStderr(), "Syncing saved requests...")
		s.Start()
		report, err := a.client.Drain(cmd.Context())
		s.Stop()

		printDrain(cmd.OutOrStdout(), report, err)
		var de *queue.DrainError
		if errors.As(err, &de) {
			// Still offline: the queue is intact, nothing to report as a failure.
			return nil
		}
		return err
	},
}

// queuePruneCmd drops requests past the retention window
var queuePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop saved requests older than 24 hours",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dropped, err := a.queue.PruneExpired(cmd.Context())
		if err != nil {
			return err
		}
		if len(dropped) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No expired requests")
			return nil
		}
		for _, f := range dropped {
			fmt.Fprintln(cmd.OutOrStdout(), cli.Warning("Dropped %s %s (saved %s)",
				f.Mutation.Method, f.Mutation.URL, f.Mutation.EnqueuedAt.Format(time.RFC3339)))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nDropped %d expired requests\n", len(dropped))
		return nil
	},
}

// printDrain writes a human summary of a drain.
func printDrain(w io.Writer, r *queue.DrainReport, err error) {
	if r == nil {
		return
	}
	if r.Coalesced {
		fmt.Fprintln(w, cli.Hint("A sync is already running", ""))
		return
	}
	if r.Delivered > 0 {
		fmt.Fprintln(w, cli.Success("Synced %d saved %s", r.Delivered, pluralize(r.Delivered, "request", "requests")))
	}
	for _, f := range r.Rejected {
		fmt.Fprintln(w, cli.Failure("Server rejected %s %s (%d); it will not be retried",
			f.Mutation.Method, f.Mutation.URL, f.StatusCode))
	}
	for _, f := range r.Expired {
		fmt.Fprintln(w, cli.Warning("Dropped %s %s: not delivered within 24 hours", f.Mutation.Method, f.Mutation.URL))
	}
	var de *queue.DrainError
	if errors.As(err, &de) {
		waiting := pluralize(r.Remaining, "request", "requests")
		var rej *netstate.RejectionError
		if errors.As(de.Err, &rej) {
			fmt.Fprintln(w, cli.Warning("Server is not accepting requests yet (%s): %d %s waiting to sync",
				rej.Status, r.Remaining, waiting))
			return
		}
		fmt.Fprintln(w, cli.Warning("Still offline: %d %s waiting to sync", r.Remaining, waiting))
		return
	}
	if err == nil && r.Remaining == 0 && r.Delivered == 0 && len(r.Rejected) == 0 && len(r.Expired) == 0 {
		fmt.Fprintln(w, "Nothing to sync")
	}
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
