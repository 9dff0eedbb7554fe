package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonathan/compligator/internal/fetch"
	"github.com/jonathan/compligator/internal/state"
	"github.com/jonathan/compligator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upstream serves documents from a mutable map; unknown paths are 404.
type upstream struct {
	mu    sync.Mutex
	docs  map[string]string
	hits  atomic.Int32
	serve *httptest.Server
}

func newUpstream(t *testing.T, docs map[string]string) *upstream {
	t.Helper()
	u := &upstream{docs: docs}
	u.serve = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.mu.Lock()
		body, ok := u.docs[r.URL.Path]
		u.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(u.serve.Close)
	return u
}

func (u *upstream) set(path, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.docs[path] = body
}

func (u *upstream) file(id string) types.SourceFile {
	return types.SourceFile{ID: id, URL: u.serve.URL + "/" + id, ExpectedFilename: id}
}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var nist = types.Framework{Key: "nist", Label: "NIST", Subdir: "nist"}

func newTestOrchestrator(t *testing.T, fetcher Fetcher) (*Orchestrator, string) {
	t.Helper()
	root := t.TempDir()
	if fetcher == nil {
		fetcher = fetch.NewEngine(fetch.EngineConfig{
			StagingDir: filepath.Join(root, ".staging"),
			Retries:    1,
			Logger:     quietLogger,
		})
	}
	store := state.New(filepath.Join(root, state.DefaultFileName))
	o := NewOrchestrator(fetcher, store, root, quietLogger)
	o.now = func() time.Time { return time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC) }
	return o, root
}

func TestSyncFramework_Idempotent(t *testing.T) {
	u := newUpstream(t, map[string]string{
		"/a.pdf": "%PDF-1.4 first",
		"/b.pdf": "%PDF-1.4 second",
	})
	o, root := newTestOrchestrator(t, nil)
	files := []types.SourceFile{u.file("a.pdf"), u.file("b.pdf")}

	first, err := o.SyncFramework(context.Background(), nist, files)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, first.Fetched)
	assert.Empty(t, first.Failures)

	stateBytes, err := os.ReadFile(o.Store.Path())
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(root, "nist", "a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 first", string(content))

	second, err := o.SyncFramework(context.Background(), nist, files)
	require.NoError(t, err)
	assert.Empty(t, second.Fetched)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, second.Unchanged)
	assert.False(t, o.Store.Dirty())

	after, err := os.ReadFile(o.Store.Path())
	require.NoError(t, err)
	assert.Equal(t, string(stateBytes), string(after))

	staged, err := filepath.Glob(filepath.Join(root, ".staging", "*"))
	require.NoError(t, err)
	assert.Empty(t, staged, "staged payloads must be committed or discarded")
}

func TestSyncFramework_ChangedDigestReplacesFile(t *testing.T) {
	u := newUpstream(t, map[string]string{"/a.pdf": "%PDF-1.4 v1", "/b.pdf": "%PDF-1.4 stable"})
	o, root := newTestOrchestrator(t, nil)
	files := []types.SourceFile{u.file("a.pdf"), u.file("b.pdf")}

	_, err := o.SyncFramework(context.Background(), nist, files)
	require.NoError(t, err)
	before, _ := o.Store.Get("nist", "a.pdf")
	stable, _ := o.Store.Get("nist", "b.pdf")

	u.set("/a.pdf", "%PDF-1.4 v2 with more bytes")
	o.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }

	summary, err := o.SyncFramework(context.Background(), nist, files)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf"}, summary.Fetched)
	assert.Equal(t, []string{"b.pdf"}, summary.Unchanged)

	after, ok := o.Store.Get("nist", "a.pdf")
	require.True(t, ok)
	assert.NotEqual(t, before.Hash, after.Hash)
	assert.Equal(t, int64(len("%PDF-1.4 v2 with more bytes")), after.Size)
	assert.Equal(t, 2026, after.SyncedAt.Year())
	assert.Equal(t, time.March, after.SyncedAt.Month())

	untouched, _ := o.Store.Get("nist", "b.pdf")
	assert.Equal(t, stable, untouched)

	content, err := os.ReadFile(filepath.Join(root, "nist", "a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 v2 with more bytes", string(content))

	reloaded, err := state.LoadFile(o.Store.Path())
	require.NoError(t, err)
	rec, _ := reloaded.Get("nist", "a.pdf")
	assert.Equal(t, after.Hash, rec.Hash)
}

func TestSyncFramework_ExhaustionIsolated(t *testing.T) {
	u := newUpstream(t, map[string]string{"/ok.pdf": "%PDF-1.4 ok"})
	o, root := newTestOrchestrator(t, nil)

	missing := u.file("gone.pdf")
	missing.Manual = true
	files := []types.SourceFile{missing, u.file("ok.pdf")}

	summary, err := o.SyncFramework(context.Background(), nist, files)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.pdf"}, summary.Fetched)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 1, summary.Failed())
	assert.Equal(t, "gone.pdf", summary.Failures[0].FileID)
	assert.Equal(t, "fetch", summary.Failures[0].Stage)

	var exhausted *fetch.AcquisitionExhaustedError
	require.True(t, errors.As(summary.Failures[0].Err, &exhausted))

	require.Len(t, summary.Notices, 1)
	assert.Contains(t, summary.Notices[0], "download manually")
	assert.Contains(t, summary.Notices[0], filepath.Join(root, "nist", "gone.pdf"))

	_, ok := o.Store.Get("nist", "gone.pdf")
	assert.False(t, ok, "no record without a local file")
}

func TestSyncFramework_MissingLocalFileRefetched(t *testing.T) {
	u := newUpstream(t, map[string]string{"/a.pdf": "%PDF-1.4 body"})
	o, root := newTestOrchestrator(t, nil)
	files := []types.SourceFile{u.file("a.pdf")}

	_, err := o.SyncFramework(context.Background(), nist, files)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "nist", "a.pdf")))

	summary, err := o.SyncFramework(context.Background(), nist, files)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf"}, summary.Fetched)
	assert.FileExists(t, filepath.Join(root, "nist", "a.pdf"))
}

// scriptedFetcher returns a fixed outcome tier for every request.
type scriptedFetcher struct {
	dir   string
	tier  fetch.Tier
	calls atomic.Int32
}

func (f *scriptedFetcher) Fetch(_ context.Context, req fetch.Request) (*fetch.Outcome, error) {
	f.calls.Add(1)
	payload, err := fetch.StageBytes(f.dir, []byte("content of "+req.FileID), "application/pdf")
	if err != nil {
		return nil, err
	}
	out := &fetch.Outcome{Tier: f.tier, URL: req.URL, Payload: payload}
	if f.tier == fetch.TierCurated {
		out.URL = "https://curated.example.com/" + req.FileID
		out.LastVerified = "2026-02-10"
	}
	return out, nil
}

func TestSyncFramework_TierNotices(t *testing.T) {
	tests := []struct {
		name     string
		tier     fetch.Tier
		contains []string
	}{
		{"direct has no notice", fetch.TierDirect, nil},
		{"rendered", fetch.TierRendered, []string{"headless browser"}},
		{"curated", fetch.TierCurated, []string{"curated link https://curated.example.com/faq.pdf", "last verified 2026-02-10"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &scriptedFetcher{dir: t.TempDir(), tier: tt.tier}
			o, _ := newTestOrchestrator(t, f)

			cmmc := types.Framework{Key: "cmmc", Label: "CMMC", Subdir: "cmmc", Render: true}
			file := types.SourceFile{ID: "faq.pdf", URL: "https://dodcio.example.mil/faq.pdf", ExpectedFilename: "faq.pdf"}

			summary, err := o.SyncFramework(context.Background(), cmmc, []types.SourceFile{file})
			require.NoError(t, err)
			assert.Equal(t, []string{"faq.pdf"}, summary.Fetched)

			if tt.contains == nil {
				assert.Empty(t, summary.Notices)
				return
			}
			require.Len(t, summary.Notices, 1)
			for _, s := range tt.contains {
				assert.Contains(t, summary.Notices[0], s)
			}
			if tt.tier == fetch.TierCurated {
				rec, _ := o.Store.Get("cmmc", "faq.pdf")
				assert.Equal(t, "https://curated.example.com/faq.pdf", rec.URL)
			}
		})
	}
}

func TestSyncFramework_DryRun(t *testing.T) {
	f := &scriptedFetcher{dir: t.TempDir(), tier: fetch.TierDirect}
	o, root := newTestOrchestrator(t, f)

	files := []types.SourceFile{
		{ID: "new.pdf", URL: "https://example.com/new.pdf", ExpectedFilename: "new.pdf"},
		{ID: "have.pdf", URL: "https://example.com/have.pdf", ExpectedFilename: "have.pdf"},
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nist"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "nist", "have.pdf"), []byte("x"), 0644))
	o.Store.Put("nist", "have.pdf", types.FileRecord{Hash: "abc", Size: 1})
	require.NoError(t, o.Store.Flush())

	o.DryRun = true
	summary, err := o.SyncFramework(context.Background(), nist, files)
	require.NoError(t, err)
	assert.Equal(t, []string{"new.pdf"}, summary.Planned)
	assert.Empty(t, summary.Fetched)
	assert.Zero(t, f.calls.Load())
	assert.NoFileExists(t, filepath.Join(root, "nist", "new.pdf"))
}

func TestSyncFramework_Cancelled(t *testing.T) {
	f := &scriptedFetcher{dir: t.TempDir(), tier: fetch.TierDirect}
	o, _ := newTestOrchestrator(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := o.SyncFramework(ctx, nist, []types.SourceFile{{ID: "a.pdf", URL: "https://example.com/a.pdf"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Fetched)
	assert.Zero(t, f.calls.Load())
}

func TestSyncFramework_InterruptFinishesInFlightFile(t *testing.T) {
	started := make(chan struct{})
	var laterHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/slow.pdf" {
			laterHits.Add(1)
			_, _ = w.Write([]byte("%PDF-1.4 later"))
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 "))
		w.(http.Flusher).Flush()
		close(started)
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte("rest of a slow download"))
	}))
	t.Cleanup(server.Close)

	o, root := newTestOrchestrator(t, nil)
	o.Workers = 1
	files := []types.SourceFile{
		{ID: "slow.pdf", URL: server.URL + "/slow.pdf", ExpectedFilename: "slow.pdf"},
		{ID: "later.pdf", URL: server.URL + "/later.pdf", ExpectedFilename: "later.pdf"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	summary, err := o.SyncFramework(ctx, nist, files)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"slow.pdf"}, summary.Fetched)
	assert.Empty(t, summary.Failures)
	assert.Zero(t, laterHits.Load(), "nothing new starts after the interrupt")

	content, err := os.ReadFile(filepath.Join(root, "nist", "slow.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 rest of a slow download", string(content))

	reloaded, err := state.LoadFile(o.Store.Path())
	require.NoError(t, err)
	rec, ok := reloaded.Get("nist", "slow.pdf")
	require.True(t, ok)
	assert.Equal(t, int64(len(content)), rec.Size)
}

type staticDiscoverer struct {
	files []types.SourceFile
	err   error
}

func (d staticDiscoverer) Discover(context.Context) ([]types.SourceFile, error) {
	return d.files, d.err
}

func TestSyncAll_FlushesPerFrameworkAndKeepsPartialDiscovery(t *testing.T) {
	u := newUpstream(t, map[string]string{"/a.pdf": "%PDF-1.4 a", "/c.pdf": "%PDF-1.4 c"})
	o, _ := newTestOrchestrator(t, nil)

	fedramp := types.Framework{Key: "fedramp", Label: "FedRAMP", Subdir: "fedramp"}
	jobs := []Job{
		{Framework: nist, Source: staticDiscoverer{files: []types.SourceFile{u.file("a.pdf")}}},
		{Framework: fedramp, Source: staticDiscoverer{
			files: []types.SourceFile{u.file("c.pdf")},
			err:   errors.New("github: rate limit exceeded"),
		}},
	}

	summaries, err := o.SyncAll(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, []string{"a.pdf"}, summaries[0].Fetched)
	assert.Equal(t, []string{"c.pdf"}, summaries[1].Fetched)
	require.Len(t, summaries[1].Failures, 1)
	assert.Equal(t, "discover", summaries[1].Failures[0].Stage)
	assert.Zero(t, summaries[1].Failed())

	reloaded, err := state.LoadFile(o.Store.Path())
	require.NoError(t, err)
	assert.Equal(t, []string{"fedramp", "nist"}, reloaded.Frameworks())
}

func TestCommit_ReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "staged.part")
	dest := filepath.Join(dir, "out", "doc.pdf")
	require.NoError(t, os.WriteFile(staged, []byte("new"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0750))
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0644))

	require.NoError(t, commit(staged, dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.NoFileExists(t, staged)
}
