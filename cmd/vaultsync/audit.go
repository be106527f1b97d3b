package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/vaultsync/internal/cli"
	"github.com/forest6511/vaultsync/pkg/cache"
)

// Audit flags
var (
	auditLimit int
	auditSince string
)

// Audit export flags
var (
	auditExportFormat string
	auditExportSince  string
	auditExportUntil  string
	auditExportOutput string
)

// Audit prune flags
var (
	auditPruneOlderThan string
	auditPruneDryRun    bool
	auditPruneForce     bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditPruneCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g., 24h, 7d)")

	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "json", "Output format: json, csv")
	auditExportCmd.Flags().StringVar(&auditExportSince, "since", "", "Export events since duration (e.g., 30d)")
	auditExportCmd.Flags().StringVar(&auditExportUntil, "until", "", "Export events until date (RFC 3339)")
	auditExportCmd.Flags().StringVarP(&auditExportOutput, "output", "o", "", "Output file path (default: stdout)")

	auditPruneCmd.Flags().StringVar(&auditPruneOlderThan, "older-than", "", "Delete events older than duration (e.g., 90d)")
	auditPruneCmd.Flags().BoolVar(&auditPruneDryRun, "dry-run", false, "Show what would be deleted without deleting")
	auditPruneCmd.Flags().BoolVarP(&auditPruneForce, "force", "f", false, "Skip confirmation prompt")
}

// auditCmd is the parent command for audit operations
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail operations",
}

// auditListCmd lists audit trail events
var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit trail events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if auditSince != "" {
			d, err := cache.ParseDuration(auditSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-d)
		}

		events, err := a.audit.ListEvents(auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}
		w := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(w, "No audit events found")
			return nil
		}

		for _, e := range events {
			// Format: TIMESTAMP OPERATION RESULT SOURCE [SUBJECT] [ERROR]
			line := fmt.Sprintf("%s %s %s %s", e.Timestamp, e.Operation, e.Result, e.Actor.Source)
			if e.Subject != "" {
				subject := e.Subject
				if len(subject) > 16 {
					subject = subject[:16] + "..."
				}
				line += " subject:" + subject
			}
			if e.Error != nil {
				line += " error:" + e.Error.Code
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "\nTotal: %d events\n", len(events))
		return nil
	},
}

// auditVerifyCmd verifies audit trail integrity
var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit trail HMAC chain integrity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := a.audit.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit trail: %w", err)
		}

		w := cmd.OutOrStdout()
		if !result.Valid {
			fmt.Fprintln(w, cli.Failure("Audit trail verification FAILED"))
			fmt.Fprintf(w, "  Records total: %d\n", result.RecordsTotal)
			fmt.Fprintf(w, "  Records verified: %d\n", result.RecordsVerified)
			fmt.Fprintln(w, "  Errors:")
			for _, e := range result.Errors {
				fmt.Fprintf(w, "    - %s\n", e)
			}
			return fmt.Errorf("audit trail integrity check failed")
		}

		fmt.Fprintln(w, cli.Success("Audit trail verified: %d records, chain intact", result.RecordsTotal))
		jsonResult, _ := json.Marshal(result)
		fmt.Fprintf(w, "\nJSON: %s\n", jsonResult)
		return nil
	},
}

// auditExportCmd exports the audit trail
var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the audit trail as JSON or CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var since, until time.Time
		if auditExportSince != "" {
			d, err := cache.ParseDuration(auditExportSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-d)
		}
		if auditExportUntil != "" {
			var err error
			until, err = time.Parse(time.RFC3339, auditExportUntil)
			if err != nil {
				return fmt.Errorf("invalid until format (use RFC 3339): %w", err)
			}
		}

		data, err := a.audit.Export(auditExportFormat, since, until)
		if err != nil {
			return fmt.Errorf("failed to export audit trail: %w", err)
		}

		if auditExportOutput == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		absPath, err := filepath.Abs(auditExportOutput)
		if err != nil {
			return fmt.Errorf("invalid output path: %w", err)
		}
		if err := os.WriteFile(absPath, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), cli.Success("Audit trail exported to %s", absPath))
		return nil
	},
}

// auditPruneCmd deletes old audit events
var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old audit trail events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditPruneOlderThan == "" {
			return fmt.Errorf("--older-than flag is required")
		}
		d, err := cache.ParseDuration(auditPruneOlderThan)
		if err != nil {
			return fmt.Errorf("invalid older-than format: %w", err)
		}

		w := cmd.OutOrStdout()
		count, err := a.audit.PrunePreview(d)
		if err != nil {
			return fmt.Errorf("failed to preview prune: %w", err)
		}
		if auditPruneDryRun {
			fmt.Fprintf(w, "Would delete %d audit events older than %s\n", count, auditPruneOlderThan)
			return nil
		}
		if count == 0 {
			fmt.Fprintln(w, "No audit events to delete")
			return nil
		}
		if !auditPruneForce && !confirm(cmd, fmt.Sprintf("This will delete %d audit events older than %s. Are you sure?", count, auditPruneOlderThan)) {
			fmt.Fprintln(w, "Aborted")
			return nil
		}

		deleted, err := a.audit.Prune(d)
		if err != nil {
			return fmt.Errorf("failed to prune audit trail: %w", err)
		}
		fmt.Fprintf(w, "Deleted %d audit events\n", deleted)
		return nil
	},
}
