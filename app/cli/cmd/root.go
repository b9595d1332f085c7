package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand returns a new instance of a nereus command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nereus",
		Short: "nereus runs command pipelines over dependency graphs",
	}

	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewGraphCommand())
	return rootCmd
}
