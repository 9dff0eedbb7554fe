package main

import (
	"context"
	"errors"
	"io"

	"github.com/jonathan/compligator/internal/observability"
	"github.com/jonathan/compligator/internal/state"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [framework...]",
	Short: "Show synced files per framework",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printStatus(cmd.Context(), current, args, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printStatus(ctx context.Context, a *app, keys []string, out io.Writer) error {
	entries, err := a.reg.Select(keys)
	if err != nil {
		return err
	}

	store, err := state.Load(a.cfg.ContentRoot)
	if err != nil {
		var corrupt *state.CorruptStateError
		if !errors.As(err, &corrupt) {
			return err
		}
		a.logger.WarnContext(ctx, "state file unreadable", "error", err)
	}

	printer := observability.NewPrinter(out)
	for _, e := range entries {
		printer.PrintStatus(e.Framework, store.Framework(e.Key))
	}
	return nil
}
