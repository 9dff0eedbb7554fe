// Package syncer keeps a framework's local content in step with its remote sources.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jonathan/compligator/internal/discovery"
	"github.com/jonathan/compligator/internal/fetch"
	"github.com/jonathan/compligator/internal/state"
	"github.com/jonathan/compligator/internal/types"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the per-framework fetch concurrency.
const DefaultWorkers = 4

// Fetcher acquires one file. *fetch.Engine is the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Outcome, error)
}

// Failure is a file that could not be synced.
type Failure struct {
	FileID string
	Stage  string // "discover", "fetch", "commit"
	Err    error
}

func (f Failure) String() string {
	if f.FileID == "" {
		return fmt.Sprintf("%s: %v", f.Stage, f.Err)
	}
	return fmt.Sprintf("%s (%s): %v", f.FileID, f.Stage, f.Err)
}

// Summary reports one framework's sync pass.
type Summary struct {
	Framework string
	Fetched   []string // new or changed, written to disk
	Unchanged []string // fetched but identical to the stored digest
	Planned   []string // dry run: files with no usable record
	Failures  []Failure
	Notices   []string

	mu sync.Mutex
}

// Failed is the number of files that could not be synced.
func (s *Summary) Failed() int {
	n := 0
	for _, f := range s.Failures {
		if f.FileID != "" {
			n++
		}
	}
	return n
}

func (s *Summary) add(fn func(*Summary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *Summary) sort() {
	sort.Strings(s.Fetched)
	sort.Strings(s.Unchanged)
	sort.Strings(s.Planned)
	sort.Strings(s.Notices)
	sort.SliceStable(s.Failures, func(i, j int) bool { return s.Failures[i].FileID < s.Failures[j].FileID })
}

// Job pairs a framework with the discoverer that lists its files.
type Job struct {
	Framework types.Framework
	Source    discovery.Discoverer
}

// Orchestrator fetches new or changed files and records them in the state store.
type Orchestrator struct {
	Engine      Fetcher
	Store       *state.Store
	ContentRoot string
	Workers     int
	// DryRun reports what would be fetched without downloading anything.
	DryRun bool
	Logger *slog.Logger

	now func() time.Time
}

// NewOrchestrator creates an orchestrator with default concurrency.
func NewOrchestrator(engine Fetcher, store *state.Store, contentRoot string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Engine:      engine,
		Store:       store,
		ContentRoot: contentRoot,
		Workers:     DefaultWorkers,
		Logger:      logger,
		now:         time.Now,
	}
}

// SyncAll syncs each job in order, flushing state after every framework so that an
// interrupted run keeps everything completed before it.
func (o *Orchestrator) SyncAll(ctx context.Context, jobs []Job) ([]*Summary, error) {
	summaries := make([]*Summary, 0, len(jobs))
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}

		files, discoverErr := job.Source.Discover(ctx)
		if discoverErr != nil && ctx.Err() != nil {
			return summaries, ctx.Err()
		}

		summary, err := o.SyncFramework(ctx, job.Framework, files)
		if discoverErr != nil {
			o.Logger.WarnContext(ctx, "discovery incomplete", "framework", job.Framework.Key, "error", discoverErr)
			summary.Failures = append([]Failure{{Stage: "discover", Err: discoverErr}}, summary.Failures...)
		}
		summaries = append(summaries, summary)
		if err != nil {
			return summaries, err
		}
	}
	return summaries, nil
}

// SyncFramework fetches files concurrently and flushes the state store once all of
// them have finished. Per-file failures are recorded in the summary; the returned
// error is reserved for cancellation and an unwritable content root or state file.
func (o *Orchestrator) SyncFramework(ctx context.Context, fw types.Framework, files []types.SourceFile) (*Summary, error) {
	summary := &Summary{Framework: fw.Key}
	dir := filepath.Join(o.ContentRoot, fw.Subdir)
	if !o.DryRun {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return summary, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	workers := o.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, file := range files {
		// Cancellation is honored between files. A started file runs to completion
		// under its own request timeouts so it is committed and recorded.
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			o.syncFile(context.WithoutCancel(gctx), fw, dir, file, summary)
			return nil
		})
	}
	_ = g.Wait()
	summary.sort()

	if o.Store.Dirty() {
		if err := o.Store.Flush(); err != nil {
			return summary, err
		}
		o.Logger.DebugContext(ctx, "state flushed", "framework", fw.Key, "state", o.Store.String())
	}

	return summary, ctx.Err()
}

func (o *Orchestrator) syncFile(ctx context.Context, fw types.Framework, dir string, file types.SourceFile, summary *Summary) {
	log := o.Logger.With("framework", fw.Key, "file", file.ID)
	dest := filepath.Join(dir, filepath.FromSlash(localName(file)))

	prev, tracked := o.Store.Get(fw.Key, file.ID)
	if tracked {
		if _, err := os.Stat(dest); err != nil {
			log.InfoContext(ctx, "tracked file missing locally, fetching again", "path", dest)
			tracked = false
		}
	}

	if o.DryRun {
		if !tracked {
			summary.add(func(s *Summary) { s.Planned = append(s.Planned, file.ID) })
		}
		return
	}

	outcome, err := o.Engine.Fetch(ctx, fetch.Request{
		Framework: fw.Key,
		FileID:    file.ID,
		URL:       file.URL,
		Render:    fw.Render,
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return
		}
		log.WarnContext(ctx, "fetch failed", "error", err)
		summary.add(func(s *Summary) {
			s.Failures = append(s.Failures, Failure{FileID: file.ID, Stage: "fetch", Err: err})
			if file.Manual {
				s.Notices = append(s.Notices, fmt.Sprintf("%s: download manually from %s and save it as %s", file.ID, file.URL, dest))
			}
		})
		return
	}
	payload := outcome.Payload
	defer payload.Discard()

	if notice := tierNotice(file, outcome); notice != "" {
		summary.add(func(s *Summary) { s.Notices = append(s.Notices, notice) })
	}

	if tracked && prev.Hash == payload.Hash {
		log.DebugContext(ctx, "unchanged", "hash", payload.Hash)
		summary.add(func(s *Summary) { s.Unchanged = append(s.Unchanged, file.ID) })
		return
	}

	if err := commit(payload.Path, dest); err != nil {
		log.ErrorContext(ctx, "failed to store file", "path", dest, "error", err)
		summary.add(func(s *Summary) { s.Failures = append(s.Failures, Failure{FileID: file.ID, Stage: "commit", Err: err}) })
		return
	}

	o.Store.Put(fw.Key, file.ID, types.FileRecord{
		Hash:     payload.Hash,
		Size:     payload.Size,
		SyncedAt: o.now().UTC(),
		URL:      outcome.URL,
	})
	log.InfoContext(ctx, "fetched", "tier", outcome.Tier.String(), "size", payload.Size)
	summary.add(func(s *Summary) { s.Fetched = append(s.Fetched, file.ID) })
}

func localName(file types.SourceFile) string {
	if file.ExpectedFilename != "" {
		return file.ExpectedFilename
	}
	return discovery.SanitizePath(file.ID)
}

func tierNotice(file types.SourceFile, outcome *fetch.Outcome) string {
	switch outcome.Tier {
	case fetch.TierRendered:
		return fmt.Sprintf("%s: retrieved with the headless browser after direct access was refused", file.ID)
	case fetch.TierCurated:
		return fmt.Sprintf("%s: retrieved from curated link %s (last verified %s); newer versions may exist", file.ID, outcome.URL, outcome.LastVerified)
	default:
		return ""
	}
}

// commit moves a staged payload over dest. The payload and dest normally share a
// filesystem; otherwise the bytes are copied to a temp file beside dest first.
func commit(staged, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Rename(staged, dest); err == nil {
		return nil
	}

	//nolint:gosec // G304: staged is our own temp file
	src, err := os.Open(staged)
	if err != nil {
		return fmt.Errorf("failed to open staged file: %w", err)
	}
	defer func() { _ = src.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to copy staged file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", dest, err)
	}
	return nil
}
