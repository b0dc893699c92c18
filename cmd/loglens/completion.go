package main

import (
	"github.com/spf13/cobra"
)

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for loglens.

To load completions:

Bash:
  $ source <(loglens completion bash)
  # To load completions for each session, execute once:
  # Linux:
  $ loglens completion bash > /etc/bash_completion.d/loglens
  # macOS:
  $ loglens completion bash > $(brew --prefix)/etc/bash_completion.d/loglens

Zsh:
  $ source <(loglens completion zsh)
  # To load completions for each session, execute once:
  $ loglens completion zsh > "${fpath[1]}/_loglens"

Fish:
  $ loglens completion fish | source
  # To load completions for each session, execute once:
  $ loglens completion fish > ~/.config/fish/completions/loglens.fish
`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				return cmd.Root().GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				return cmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
			}
			return nil
		},
	}

	return cmd
}
