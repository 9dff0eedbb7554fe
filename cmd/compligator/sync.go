package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jonathan/compligator/internal/discovery"
	"github.com/jonathan/compligator/internal/fetch"
	"github.com/jonathan/compligator/internal/observability"
	"github.com/jonathan/compligator/internal/state"
	"github.com/jonathan/compligator/internal/syncer"
	"github.com/spf13/cobra"
)

// stagingDirName holds in-flight downloads inside the content root so that
// committing a file is a same-filesystem rename.
const stagingDirName = ".staging"

var syncCmd = &cobra.Command{
	Use:   "sync [framework...]",
	Short: "Download new or changed framework documents",
	Long: "Discovers each framework's files and fetches them, trying a direct request, then a headless " +
		"browser, then curated fallback links. Files whose content digest is unchanged are left alone.",
	RunE: runSync,
}

var (
	syncDryRun   bool
	syncNoRender bool
	syncWorkers  int
)

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "List files that would be fetched without downloading")
	syncCmd.Flags().BoolVar(&syncNoRender, "no-render", false, "Disable the headless browser tier")
	syncCmd.Flags().IntVar(&syncWorkers, "workers", 0, "Concurrent downloads per framework (default from config)")

	rootCmd.AddCommand(syncCmd)
}

type syncOptions struct {
	frameworks []string
	dryRun     bool
	noRender   bool
	workers    int
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptible(cmd.Context())
	defer stop()

	return syncFrameworks(ctx, current, syncOptions{
		frameworks: args,
		dryRun:     syncDryRun,
		noRender:   syncNoRender,
		workers:    syncWorkers,
	}, cmd.OutOrStdout())
}

func syncFrameworks(ctx context.Context, a *app, opts syncOptions, out io.Writer) error {
	entries, err := a.reg.Select(opts.frameworks)
	if err != nil {
		return err
	}

	cfg := a.cfg
	if err := os.MkdirAll(cfg.ContentRoot, 0750); err != nil {
		return fmt.Errorf("content root %s is not writable: %w", cfg.ContentRoot, err)
	}

	store, err := state.Load(cfg.ContentRoot)
	if err != nil {
		var corrupt *state.CorruptStateError
		if !errors.As(err, &corrupt) {
			return err
		}
		a.logger.WarnContext(ctx, "state file unreadable, treating every file as new", "error", err)
	}

	fetchOpts := fetch.DefaultOptions()
	fetchOpts.Timeout = cfg.Timeout()
	fetchOpts.Token = cfg.GitHubToken

	var renderer fetch.Renderer
	if !opts.noRender && !cfg.NoRender {
		renderer = fetch.NewBrowserRenderer(cfg.RenderTimeoutDuration(), a.logger)
	}

	staging := filepath.Join(cfg.ContentRoot, stagingDirName)
	defer func() { _ = os.RemoveAll(staging) }()

	engine := fetch.NewEngine(fetch.EngineConfig{
		Options:           fetchOpts,
		Renderer:          renderer,
		Curated:           a.reg,
		StagingDir:        staging,
		Retries:           cfg.Retries,
		RenderConcurrency: int64(cfg.RenderConcurrency),
		RatePerSecond:     cfg.RatePerSecond,
		Logger:            a.logger,
	})

	jobs := make([]syncer.Job, 0, len(entries))
	for _, e := range entries {
		source := discovery.ForEntry(e, discovery.Config{Options: fetchOpts, Renderer: renderer, Logger: a.logger})
		jobs = append(jobs, syncer.Job{Framework: e.Framework, Source: source})
	}

	orch := syncer.NewOrchestrator(engine, store, cfg.ContentRoot, a.logger)
	orch.Workers = cfg.Workers
	if opts.workers > 0 {
		orch.Workers = opts.workers
	}
	orch.DryRun = opts.dryRun

	a.logger.InfoContext(ctx, "sync started", "frameworks", len(jobs), "dry_run", opts.dryRun, "render", renderer != nil)
	summaries, err := orch.SyncAll(ctx, jobs)

	printer := observability.NewPrinter(out)
	for _, s := range summaries {
		printer.PrintSyncSummary(s)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("sync interrupted; completed frameworks were saved")
		}
		return err
	}
	a.logger.InfoContext(ctx, "sync finished", "state", store.String())
	return nil
}
