package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "devmux",
		Short: "Terminal multiplexer for development processes",
		Long: `devmux supervises the long-running commands of a development
workflow (servers, watchers, queue workers) declared in devmux.yaml,
renders each one in a tab, and lets you toggle processes or interact
with the focused one.`,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
