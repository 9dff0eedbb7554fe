package normalize

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/compligator/internal/hashing"
	"github.com/jonathan/compligator/internal/state"
	"github.com/jonathan/compligator/internal/types"
	"github.com/jonathan/compligator/internal/writer"
	"golang.org/x/sync/errgroup"
)

// ignoredNames are never treated as source documents.
var ignoredNames = map[string]bool{
	state.DefaultFileName:    true,
	state.NormalizedFileName: true,
	"README.md":              true,
}

// Skip is a file that was not normalized, with the reason.
type Skip struct {
	File   string
	Reason string
}

// Failure is a file whose normalization failed at some stage.
type Failure struct {
	File  string
	Stage string // "hash", "extract", "write"
	Err   error
}

// Summary reports one framework's normalization pass.
type Summary struct {
	Framework   string
	Normalized  []string
	Skipped     []string // already normalized, input unchanged
	Unsupported []Skip
	Failed      []Failure
	Excluded    string // set when the whole framework is excluded

	mu sync.Mutex
}

func (s *Summary) add(fn func(*Summary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *Summary) sort() {
	sort.Strings(s.Normalized)
	sort.Strings(s.Skipped)
	sort.Slice(s.Unsupported, func(i, j int) bool { return s.Unsupported[i].File < s.Unsupported[j].File })
	sort.Slice(s.Failed, func(i, j int) bool { return s.Failed[i].File < s.Failed[j].File })
}

// ExtractFunc extracts sections from a classified file.
type ExtractFunc func(Format, string) ([]types.Section, error)

// Normalizer converts a framework's downloaded files into normalized outputs.
type Normalizer struct {
	OutputRoot string
	// Ledger records the source digest each output pair was produced from.
	Ledger  *state.Store
	Workers int
	Force   bool
	Logger  *slog.Logger

	now     func() time.Time
	extract ExtractFunc
}

// NewNormalizer creates a normalizer with a worker pool bounded by available cores.
func NewNormalizer(outputRoot string, ledger *state.Store, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		OutputRoot: outputRoot,
		Ledger:     ledger,
		Workers:    runtime.NumCPU(),
		Logger:     logger,
		now:        time.Now,
		extract:    Extract,
	}
}

// NormalizeFramework processes every file under sourceDir. Per-file problems are
// recorded in the summary; the returned error is only for context cancellation or
// an unreadable source tree.
func (n *Normalizer) NormalizeFramework(ctx context.Context, fw types.Framework, sourceDir string) (*Summary, error) {
	summary := &Summary{Framework: fw.Key}
	if fw.SkipNormalize {
		summary.Excluded = "excluded from normalization"
		return summary, nil
	}

	files, err := listSources(sourceDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			summary.Excluded = "no downloaded content"
			return summary, nil
		}
		return summary, fmt.Errorf("failed to list %s: %w", sourceDir, err)
	}

	workers := n.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	stems := outputStems(files)
	for _, rel := range files {
		// Cancellation is honored between files only.
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n.normalizeFile(gctx, fw, sourceDir, rel, stems[rel], summary)
			return nil
		})
	}
	_ = g.Wait()
	summary.sort()

	if n.Ledger != nil && n.Ledger.Dirty() {
		if err := n.Ledger.Flush(); err != nil {
			n.Logger.ErrorContext(ctx, "failed to persist normalization ledger", "framework", fw.Key, "error", err)
			summary.Failed = append(summary.Failed, Failure{File: n.Ledger.Path(), Stage: "write", Err: err})
		}
	}

	return summary, ctx.Err()
}

func (n *Normalizer) normalizeFile(ctx context.Context, fw types.Framework, sourceDir, rel, stem string, summary *Summary) {
	path := filepath.Join(sourceDir, filepath.FromSlash(rel))
	log := n.Logger.With("framework", fw.Key, "file", rel)

	format, err := Classify(path)
	if err != nil {
		reason := err.Error()
		var unsupported *UnsupportedFormatError
		if errors.As(err, &unsupported) {
			reason = unsupported.Reason
		}
		log.DebugContext(ctx, "skipping unsupported file", "reason", reason)
		summary.add(func(s *Summary) { s.Unsupported = append(s.Unsupported, Skip{File: rel, Reason: reason}) })
		return
	}

	digest, size, err := hashing.DigestFile(path)
	if err != nil {
		log.WarnContext(ctx, "failed to hash source", "error", err)
		summary.add(func(s *Summary) { s.Failed = append(s.Failed, Failure{File: rel, Stage: "hash", Err: err}) })
		return
	}

	relDir := filepath.Dir(filepath.FromSlash(rel))
	outDir := filepath.Join(n.OutputRoot, fw.Subdir, relDir)
	paths := writer.PathsFor(outDir, stem)
	stemPath := filepath.ToSlash(filepath.Join(fw.Subdir, relDir, stem))

	if !n.Force && n.Ledger != nil && paths.Exist() {
		if rec, ok := n.Ledger.Get(fw.Key, rel); ok && rec.Hash == digest {
			summary.add(func(s *Summary) { s.Skipped = append(s.Skipped, rel) })
			return
		}
	}

	sections, err := n.extract(format, path)
	if err == nil && len(sections) == 0 {
		err = &ExtractionError{Path: path, Format: format, Message: "no text content extracted"}
	}
	if err != nil {
		log.WarnContext(ctx, "extraction failed", "format", format.String(), "error", err)
		summary.add(func(s *Summary) { s.Failed = append(s.Failed, Failure{File: rel, Stage: "extract", Err: err}) })
		return
	}

	now := n.now().UTC()
	doc := types.NormalizedDocument{
		SourceFile:  filepath.Base(rel),
		Framework:   fw.Key,
		ExtractedAt: now.Format("2006-01-02T15:04:05"),
		Sections:    sections,
		FullText:    types.JoinSections(sections),
	}
	if _, err := writer.Write(outDir, stem, doc); err != nil {
		log.ErrorContext(ctx, "failed to write outputs", "error", err)
		summary.add(func(s *Summary) { s.Failed = append(s.Failed, Failure{File: rel, Stage: "write", Err: err}) })
		return
	}

	if n.Ledger != nil {
		n.Ledger.Put(fw.Key, rel, types.FileRecord{Hash: digest, Size: size, SyncedAt: now, URL: stemPath})
	}
	log.DebugContext(ctx, "normalized", "format", format.String(), "sections", len(sections))
	summary.add(func(s *Summary) { s.Normalized = append(s.Normalized, rel) })
}

// listSources returns slash-separated relative paths of candidate files, sorted.
// Hidden files and directories (including the sync staging area) are skipped.
func listSources(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || ignoredNames[name] || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// outputStems maps each file to its output stem. Files sharing a stem in the same
// directory (guide.pdf, guide.html) keep their extension in the stem to stay distinct.
func outputStems(files []string) map[string]string {
	count := make(map[string]int, len(files))
	plain := func(rel string) string { return strings.TrimSuffix(rel, path.Ext(rel)) }
	for _, rel := range files {
		count[plain(rel)]++
	}

	stems := make(map[string]string, len(files))
	for _, rel := range files {
		base := path.Base(rel)
		stem := strings.TrimSuffix(base, path.Ext(base))
		if count[plain(rel)] > 1 && path.Ext(base) != "" {
			stem += "_" + strings.TrimPrefix(path.Ext(base), ".")
		}
		stems[rel] = stem
	}
	return stems
}
