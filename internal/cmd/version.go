package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"devmux/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the devmux version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.DisplayVersion())
		},
	}
}
