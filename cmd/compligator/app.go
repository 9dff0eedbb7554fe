package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jonathan/compligator/internal/config"
	"github.com/jonathan/compligator/internal/registry"
	"github.com/spf13/cobra"
)

// app is the state shared by every subcommand, built once in setup.
type app struct {
	cfg    config.Config
	reg    *registry.Registry
	logger *slog.Logger
	runID  string
}

var current *app

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(configPath, os.Getenv)
	if err != nil {
		return err
	}

	// Flags win over the config file and environment.
	if contentRoot != "" {
		cfg.ContentRoot = contentRoot
	}
	if outputRoot != "" {
		cfg.OutputRoot = outputRoot
	}
	if verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	reg, err := registry.Load()
	if err != nil {
		return fmt.Errorf("failed to load framework registry: %w", err)
	}

	runID := uuid.NewString()
	current = &app{
		cfg:    cfg,
		reg:    reg,
		logger: newLogger(cmd.ErrOrStderr(), cfg.Verbose).With("run_id", runID, "command", cmd.Name()),
		runID:  runID,
	}
	return nil
}

// resolveConfig layers the config file, then the environment, then built-in defaults.
func resolveConfig(path string, getenv func(string) string) (config.Config, error) {
	cfg := &config.Config{}
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return config.Config{}, err
		}
		if err := loaded.Validate(); err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv(getenv)
	return cfg.MergeWithDefaults(config.Defaults()), nil
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// interruptible returns a context cancelled on SIGINT or SIGTERM. Work in progress
// on the current file finishes; nothing new is started.
func interruptible(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
