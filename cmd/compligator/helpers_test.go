package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonathan/compligator/internal/config"
	"github.com/jonathan/compligator/internal/registry"
	"github.com/stretchr/testify/require"
)

// getBinaryPath returns the path to the compligator binary for testing
func getBinaryPath(t *testing.T) string {
	if testing.Short() {
		t.Skip("Skipping CLI tests in short mode")
	}

	binaryPath := filepath.Join("..", "..", "bin", "compligator")
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		t.Skipf("Binary not found at %s, build it first with 'go build -o bin/compligator ./cmd/compligator'", binaryPath)
	}

	return binaryPath
}

// newTestApp builds an app over temp content and output roots.
func newTestApp(t *testing.T) *app {
	t.Helper()
	reg, err := registry.Load()
	require.NoError(t, err)

	root := t.TempDir()
	cfg := config.Defaults()
	cfg.ContentRoot = filepath.Join(root, "content")
	cfg.OutputRoot = filepath.Join(root, "normalized")
	cfg.NoRender = true

	return &app{
		cfg:    cfg,
		reg:    reg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		runID:  "test",
	}
}

func writeContent(t *testing.T, a *app, framework, name, content string) string {
	t.Helper()
	e, ok := a.reg.Lookup(framework)
	require.True(t, ok)
	path := filepath.Join(a.cfg.ContentRoot, e.Subdir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
