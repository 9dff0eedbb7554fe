package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jonathan/compligator/internal/normalize"
	"github.com/jonathan/compligator/internal/observability"
	"github.com/jonathan/compligator/internal/state"
	"github.com/spf13/cobra"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [framework...]",
	Short: "Convert synced documents to Markdown and JSON",
	Long: "Classifies each synced file as PDF, HTML, OSCAL catalog, or OSCAL profile and writes a Markdown " +
		"and a JSON document of its sections. Inputs unchanged since their last conversion are skipped.",
	RunE: runNormalize,
}

var normalizeForce bool

func init() {
	normalizeCmd.Flags().BoolVar(&normalizeForce, "force", false, "Re-normalize every file even if unchanged")

	rootCmd.AddCommand(normalizeCmd)
}

func runNormalize(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptible(cmd.Context())
	defer stop()

	return normalizeFrameworks(ctx, current, args, normalizeForce, cmd.OutOrStdout())
}

func normalizeFrameworks(ctx context.Context, a *app, keys []string, force bool, out io.Writer) error {
	entries, err := a.reg.Select(keys)
	if err != nil {
		return err
	}

	cfg := a.cfg
	if err := os.MkdirAll(cfg.OutputRoot, 0750); err != nil {
		return fmt.Errorf("output root %s is not writable: %w", cfg.OutputRoot, err)
	}

	ledger, err := state.LoadFile(filepath.Join(cfg.OutputRoot, state.NormalizedFileName))
	if err != nil {
		var corrupt *state.CorruptStateError
		if !errors.As(err, &corrupt) {
			return err
		}
		a.logger.WarnContext(ctx, "normalization ledger unreadable, every file will be converted", "error", err)
	}

	n := normalize.NewNormalizer(cfg.OutputRoot, ledger, a.logger)
	n.Force = force

	printer := observability.NewPrinter(out)
	for _, e := range entries {
		summary, err := n.NormalizeFramework(ctx, e.Framework, filepath.Join(cfg.ContentRoot, e.Subdir))
		printer.PrintNormalizeSummary(summary)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("normalize interrupted")
			}
			return err
		}
	}
	return nil
}
