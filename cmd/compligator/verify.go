package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonathan/compligator/internal/schemas"
	"github.com/jonathan/compligator/internal/state"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [path...]",
	Short: "Validate normalized JSON documents and state files",
	Long: "Checks normalized JSON documents against the document schema and state files against the state " +
		"schema. With no arguments, every JSON file under the output root is checked, along with the " +
		"content root's state file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return verifyPaths(current, args, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

// schemaFor picks the schema for a JSON file by name.
func schemaFor(path string) string {
	switch filepath.Base(path) {
	case state.DefaultFileName, state.NormalizedFileName:
		return schemas.State
	default:
		return schemas.NormalizedDocument
	}
}

func verifyPaths(a *app, paths []string, out io.Writer) error {
	if len(paths) == 0 {
		found, err := collectJSON(a.cfg.OutputRoot)
		if err != nil {
			return err
		}
		paths = found
		if stateFile := filepath.Join(a.cfg.ContentRoot, state.DefaultFileName); fileExists(stateFile) {
			paths = append(paths, stateFile)
		}
	}

	var invalid int
	for _, p := range paths {
		err := schemas.ValidateFile(schemaFor(p), p)
		if err == nil {
			continue
		}
		invalid++

		var validationErr *schemas.ValidationError
		if errors.As(err, &validationErr) {
			_, _ = fmt.Fprint(out, validationErr.Error())
			continue
		}
		_, _ = fmt.Fprintf(out, "%s: %v\n", p, err)
	}

	_, _ = fmt.Fprintf(out, "Checked %d files, %d invalid\n", len(paths), invalid)
	if invalid > 0 {
		return fmt.Errorf("%d of %d files failed validation", invalid, len(paths))
	}
	return nil
}

func collectJSON(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".json") {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return paths, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
