package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/vaultsync/internal/config"
	"github.com/forest6511/vaultsync/pkg/cache"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(vaultsync completion bash)

  # To load for each session (Linux):
  $ vaultsync completion bash > ~/.local/share/bash-completion/completions/vaultsync

Zsh:
  $ vaultsync completion zsh > ~/.zsh/completions/_vaultsync
  # (create ~/.zsh/completions if needed, add to fpath in .zshrc)

Fish:
  $ vaultsync completion fish > ~/.config/fish/completions/vaultsync.fish

PowerShell:
  PS> vaultsync completion powershell >> $PROFILE
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Annotations:           map[string]string{annotationNoApp: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(out)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(completionCmd)
	cacheClearCmd.ValidArgsFunction = completePartitions
}

// completePartitions completes cache partition names from the configured
// routes file without opening the store.
func completePartitions(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	routes := cache.DefaultRoutes()
	if cfg, err := config.Load(config.Options{ConfigFile: cfgFile, DataDir: dataDir}); err == nil {
		if r, err := cache.LoadRoutesOrDefault(cfg.RoutesFile); err == nil {
			routes = r
		}
	}
	var names []string
	for _, r := range routes {
		if strings.HasPrefix(r.Name, toComplete) {
			names = append(names, r.Name)
		}
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
