package main

import (
	"github.com/jonathan/compligator/internal/observability"
	"github.com/jonathan/compligator/internal/types"
	"github.com/spf13/cobra"
)

var frameworksCmd = &cobra.Command{
	Use:   "frameworks",
	Short: "List known compliance frameworks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		entries := current.reg.Entries()
		frameworks := make([]types.Framework, 0, len(entries))
		for _, e := range entries {
			frameworks = append(frameworks, e.Framework)
		}
		observability.NewPrinter(cmd.OutOrStdout()).PrintFrameworks(frameworks)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(frameworksCmd)
}
