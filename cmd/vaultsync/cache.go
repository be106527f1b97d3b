package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/forest6511/vaultsync/internal/cli"
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

// cacheCmd is the parent command for cache operations
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Response cache operations",
}

// cacheStatsCmd shows per-partition usage
var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache usage per partition",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := a.router.Stats(cmd.Context())
		if err != nil {
			return err
		}
		used := make(map[string]int, len(stats))
		bytes := make(map[string]int64, len(stats))
		for _, ps := range stats {
			used[ps.Partition] = ps.Entries
			bytes[ps.Partition] = ps.Bytes
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-12s %-24s %9s %10s %8s\n", "PARTITION", "STRATEGY", "ENTRIES", "BYTES", "MAX AGE")
		for _, r := range a.router.Routes() {
			fmt.Fprintf(w, "%-12s %-24s %4d/%-4d %10d %8s\n",
				r.Name, r.Strategy, used[r.Name], r.MaxEntries, bytes[r.Name], formatAge(r.MaxAge.Hours()))
		}
		return nil
	},
}

// cacheClearCmd removes cached entries
var cacheClearCmd = &cobra.Command{
	Use:   "clear [partition-pattern]",
	Short: "Remove cached responses (all partitions, or those matching a glob)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(args) == 0 {
			n, err := a.router.Clear(ctx, "")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.Success("Removed %d cached responses", n))
			return nil
		}

		names := make([]string, 0, len(a.router.Routes()))
		for _, r := range a.router.Routes() {
			names = append(names, r.Name)
		}
		sort.Strings(names)
		partitions, err := cli.ExpandPattern(args[0], names)
		if err != nil {
			return fmt.Errorf("%w (partitions: %v)", err, names)
		}

		total := 0
		for _, p := range partitions {
			n, err := a.router.Clear(ctx, p)
			if err != nil {
				return err
			}
			total += n
			fmt.Fprintln(cmd.OutOrStdout(), cli.Success("%s: removed %d", p, n))
		}
		if len(partitions) > 1 {
			fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d cached responses removed\n", total)
		}
		return nil
	},
}

// formatAge renders a max-age in days when it is a whole number of days.
func formatAge(hours float64) string {
	switch {
	case hours == 0:
		return "-"
	case int(hours)%24 == 0 && hours == float64(int(hours)):
		return fmt.Sprintf("%dd", int(hours)/24)
	default:
		return fmt.Sprintf("%gh", hours)
	}
}
