package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/vaultsync/internal/cli"
	"github.com/forest6511/vaultsync/pkg/governor"
)

// Vault command flags
var (
	initForce  bool
	unlockShow bool
	resetForce bool
	statusJSON bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(changePINCmd)
	rootCmd.AddCommand(resetCmd)

	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Replace an existing vault without asking")
	unlockCmd.Flags().BoolVar(&unlockShow, "show", false, "Print the secret instead of a masked preview")
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

// initCmd stores a new secret behind a PIN
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Store a secret on this device behind a PIN",
	Long: `Store a secret on this device behind a 4 to 12 digit PIN.

Common PINs such as 1234, 0000 or repeated digits are refused. Running init
again replaces the stored secret and resets the attempt counters.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if a.vault.Exists() && !initForce {
			if !confirm(cmd, "A secret is already stored. Replace it?") {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
				return nil
			}
		}

		pin, err := readConfirmed(cmd, "Choose a PIN: ", "Confirm PIN: ")
		if err != nil {
			return fmt.Errorf("PIN entry failed: %w", err)
		}
		secret, err := readHidden(cmd, "Secret to store: ")
		if err != nil {
			return err
		}

		if err := a.vault.Create(secret, pin); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.Success("Secret stored. Unlock it with your PIN."))
		return nil
	},
}

// unlockCmd verifies the PIN and reveals the secret
var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Verify the PIN and reveal the stored secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pin, err := readHidden(cmd, "PIN: ")
		if err != nil {
			return err
		}
		secret, err := a.vault.Unlock(pin)
		if err != nil {
			return err
		}

		if unlockShow {
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.Success("Unlocked: %s (%d characters)",
			cli.MaskSecret(secret), cli.SecretLength(secret)))
		fmt.Fprintln(cmd.OutOrStdout(), cli.Hint("Print it with", "vaultsync unlock --show"))
		return nil
	},
}

// statusOutput is the JSON form of the status command.
type statusOutput struct {
	Vault struct {
		Exists                  bool   `json:"exists"`
		FailedAttempts          int    `json:"failed_attempts"`
		RemainingAttempts       int    `json:"remaining_attempts"`
		LockedOut               bool   `json:"locked_out"`
		LockoutRemainingSeconds int    `json:"lockout_remaining_seconds,omitempty"`
		CreatedAt               string `json:"created_at,omitempty"`
	} `json:"vault"`
	Queue struct {
		Length int    `json:"length"`
		Oldest string `json:"oldest,omitempty"`
	} `json:"queue"`
	CacheEntries int `json:"cache_entries"`
}

// statusCmd reports vault, queue and cache state without a PIN
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault, offline queue and cache status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := a.vault.Status()
		if err != nil {
			return err
		}
		items, err := a.queue.List(ctx)
		if err != nil {
			return err
		}
		stats, err := a.router.Stats(ctx)
		if err != nil {
			return err
		}

		var out statusOutput
		out.Vault.Exists = st.Exists
		out.Vault.FailedAttempts = st.FailedAttempts
		out.Vault.RemainingAttempts = st.RemainingAttempts
		out.Vault.LockedOut = st.LockedOut
		if st.LockedOut {
			out.Vault.LockoutRemainingSeconds = governor.CeilSeconds(st.LockoutRemaining)
		}
		if st.Exists {
			out.Vault.CreatedAt = st.CreatedAt.Format(time.RFC3339)
		}
		out.Queue.Length = len(items)
		if len(items) > 0 {
			out.Queue.Oldest = items[0].EnqueuedAt.Format(time.RFC3339)
		}
		for _, ps := range stats {
			out.CacheEntries += ps.Entries
		}

		w := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		switch {
		case !st.Exists:
			fmt.Fprintln(w, cli.Warning("Vault: no secret stored"))
		case st.LockedOut:
			fmt.Fprintln(w, cli.Failure("Vault: locked for %d more seconds", out.Vault.LockoutRemainingSeconds))
		case st.FailedAttempts > 0:
			fmt.Fprintln(w, cli.Warning("Vault: %d failed attempts, %d remaining", st.FailedAttempts, st.RemainingAttempts))
		default:
			fmt.Fprintln(w, cli.Success("Vault: ready (created %s)", out.Vault.CreatedAt))
		}
		if out.Queue.Length == 0 {
			fmt.Fprintln(w, cli.Success("Offline queue: empty"))
		} else {
			fmt.Fprintln(w, cli.Warning("Offline queue: %d waiting to sync (oldest %s)", out.Queue.Length, out.Queue.Oldest))
		}
		fmt.Fprintln(w, cli.Hint(fmt.Sprintf("Cache: %d entries", out.CacheEntries), ""))
		return nil
	},
}

// changePINCmd re-encrypts the secret under a new PIN
var changePINCmd = &cobra.Command{
	Use:   "change-pin",
	Short: "Change the PIN",
	Long: `Change the PIN. The current PIN is verified first and a wrong entry counts
as a failed attempt.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := readHidden(cmd, "Current PIN: ")
		if err != nil {
			return err
		}
		next, err := readConfirmed(cmd, "New PIN: ", "Confirm new PIN: ")
		if err != nil {
			return fmt.Errorf("PIN entry failed: %w", err)
		}
		if err := a.vault.ChangePIN(current, next); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.Success("PIN changed"))
		return nil
	},
}

// resetCmd erases the stored secret
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Erase the stored secret and attempt counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !a.vault.Exists() {
			return errors.New("nothing to reset: no secret is stored")
		}
		if !resetForce && !confirm(cmd, "This permanently erases the stored secret. Continue?") {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
		if err := a.vault.Wipe(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.Success("Stored secret erased"))
		return nil
	},
}
