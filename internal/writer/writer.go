// Package writer renders normalized documents to Markdown and JSON.
package writer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonathan/compligator/internal/types"
	"gopkg.in/yaml.v3"
)

// PersistError means a document's outputs could not be written. When it is returned,
// neither output has been replaced.
type PersistError struct {
	Path    string
	Message string
	Cause   error
}

func (e *PersistError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("persist error for %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("persist error for %s: %s", e.Path, e.Message)
}

func (e *PersistError) Unwrap() error {
	return e.Cause
}

// Paths are the two outputs for one document.
type Paths struct {
	Markdown string
	JSON     string
}

// PathsFor returns the output paths for stem in dir.
func PathsFor(dir, stem string) Paths {
	return Paths{
		Markdown: filepath.Join(dir, stem+".md"),
		JSON:     filepath.Join(dir, stem+".json"),
	}
}

// Exist reports whether both outputs are present.
func (p Paths) Exist() bool {
	_, errMD := os.Stat(p.Markdown)
	_, errJSON := os.Stat(p.JSON)
	return errMD == nil && errJSON == nil
}

type frontmatter struct {
	SourceFile  string `yaml:"source_file"`
	Framework   string `yaml:"framework"`
	ExtractedAt string `yaml:"extracted_at"`
}

// RenderMarkdown returns the human-readable form: YAML frontmatter, a title, and one
// block per section with heading depth level+1 (capped at 6).
func RenderMarkdown(doc types.NormalizedDocument) ([]byte, error) {
	fm, err := yaml.Marshal(frontmatter{
		SourceFile:  doc.SourceFile,
		Framework:   doc.Framework,
		ExtractedAt: doc.ExtractedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode frontmatter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n\n")
	b.WriteString("# " + strings.TrimSuffix(doc.SourceFile, filepath.Ext(doc.SourceFile)) + "\n\n")

	for _, s := range doc.Sections {
		depth := s.Level + 1
		if depth < 2 {
			depth = 2
		}
		if depth > 6 {
			depth = 6
		}
		b.WriteString(strings.Repeat("#", depth) + " " + s.Heading + "\n\n")
		if s.Content != "" {
			b.WriteString(s.Content + "\n\n")
		}
	}
	return b.Bytes(), nil
}

// RenderJSON returns the structured form with full_text derived from the sections.
func RenderJSON(doc types.NormalizedDocument) ([]byte, error) {
	doc.FullText = types.JoinSections(doc.Sections)
	if doc.Sections == nil {
		doc.Sections = []types.Section{}
	}

	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return b.Bytes(), nil
}

// rename is swapped in tests to inject failures.
var rename = os.Rename

// Write renders doc and replaces dir/stem.md and dir/stem.json as a pair.
func Write(dir, stem string, doc types.NormalizedDocument) (Paths, error) {
	paths := PathsFor(dir, stem)

	md, err := RenderMarkdown(doc)
	if err != nil {
		return paths, &PersistError{Path: paths.Markdown, Message: "render failed", Cause: err}
	}
	js, err := RenderJSON(doc)
	if err != nil {
		return paths, &PersistError{Path: paths.JSON, Message: "render failed", Cause: err}
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return paths, &PersistError{Path: dir, Message: "failed to create output directory", Cause: err}
	}

	mdTmp, err := writeTemp(dir, stem+".md", md)
	if err != nil {
		return paths, &PersistError{Path: paths.Markdown, Message: "failed to write temp file", Cause: err}
	}
	defer func() { _ = os.Remove(mdTmp) }()

	jsTmp, err := writeTemp(dir, stem+".json", js)
	if err != nil {
		return paths, &PersistError{Path: paths.JSON, Message: "failed to write temp file", Cause: err}
	}
	defer func() { _ = os.Remove(jsTmp) }()

	// Keep the previous markdown until the JSON is committed so a failure can roll back.
	backup := ""
	if _, err := os.Stat(paths.Markdown); err == nil {
		backup = paths.Markdown + ".bak"
		if err := rename(paths.Markdown, backup); err != nil {
			return paths, &PersistError{Path: paths.Markdown, Message: "failed to back up previous output", Cause: err}
		}
	}
	restore := func() {
		if backup != "" {
			_ = os.Rename(backup, paths.Markdown)
		}
	}

	if err := rename(mdTmp, paths.Markdown); err != nil {
		restore()
		return paths, &PersistError{Path: paths.Markdown, Message: "failed to commit output", Cause: err}
	}
	if err := rename(jsTmp, paths.JSON); err != nil {
		rmErr := os.Remove(paths.Markdown)
		restore()
		return paths, &PersistError{Path: paths.JSON, Message: "failed to commit output", Cause: errors.Join(err, rmErr)}
	}

	if backup != "" {
		_ = os.Remove(backup)
	}
	return paths, nil
}

func writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
