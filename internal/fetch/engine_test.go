package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonathan/compligator/internal/hashing"
	"github.com/jonathan/compligator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	calls       atomic.Int32
	body        []byte
	contentType string // application/pdf when empty
	err         error
	active atomic.Int32
	peak   atomic.Int32
	delay  time.Duration
}

func (f *fakeRenderer) Render(_ context.Context, _ string, _ bool) (*Rendered, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	ct := f.contentType
	if ct == "" {
		ct = "application/pdf"
	}
	return &Rendered{Body: f.body, ContentType: ct}, nil
}

type fakeCurated struct {
	calls   atomic.Int32
	entries map[string]types.CuratedEntry
}

func (f *fakeCurated) Curated(_, fileID string) (types.CuratedEntry, bool) {
	f.calls.Add(1)
	e, ok := f.entries[fileID]
	return e, ok
}

func newTestEngine(t *testing.T, r Renderer, c CuratedSource) *Engine {
	t.Helper()
	e := NewEngine(EngineConfig{
		Renderer:   r,
		Curated:    c,
		StagingDir: t.TempDir(),
		Retries:    2,
		Backoff:    time.Millisecond,
	})
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func blockedServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(cloudflarePage))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestEngine_DirectSucceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF direct"))
	}))
	defer server.Close()

	renderer := &fakeRenderer{body: []byte("unused")}
	e := newTestEngine(t, renderer, nil)

	out, err := e.Fetch(context.Background(), Request{Framework: "nist", FileID: "a.pdf", URL: server.URL + "/a.pdf", Render: true})
	require.NoError(t, err)
	defer out.Payload.Discard()

	assert.Equal(t, TierDirect, out.Tier)
	assert.Equal(t, hashing.Digest([]byte("%PDF direct")), out.Payload.Hash)
	assert.Equal(t, int32(0), renderer.calls.Load())
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, StatusSucceeded, out.Attempts[0].Status)
}

func TestEngine_BlockedFallsToRenderedNeverCurated(t *testing.T) {
	var hits atomic.Int32
	server := blockedServer(t, &hits)

	renderer := &fakeRenderer{body: []byte("%PDF rendered")}
	curated := &fakeCurated{entries: map[string]types.CuratedEntry{
		"a.pdf": {ID: "a.pdf", URL: server.URL + "/curated.pdf", LastVerified: "2026-01-01"},
	}}
	e := newTestEngine(t, renderer, curated)

	out, err := e.Fetch(context.Background(), Request{Framework: "cmmc", FileID: "a.pdf", URL: server.URL + "/a.pdf", Render: true})
	require.NoError(t, err)
	defer out.Payload.Discard()

	assert.Equal(t, TierRendered, out.Tier)
	assert.Equal(t, int32(1), hits.Load(), "blocked responses are not retried")
	assert.Equal(t, int32(1), renderer.calls.Load())
	assert.Equal(t, int32(0), curated.calls.Load(), "tier 3 never attempted")
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, StatusFailed, out.Attempts[0].Status)
	assert.Error(t, out.Attempts[0].Err)
	assert.Equal(t, hashing.Digest([]byte("%PDF rendered")), out.Payload.Hash)
}

func TestEngine_RenderDisabledUsesCurated(t *testing.T) {
	blocked := blockedServer(t, nil)
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF curated"))
	}))
	defer good.Close()

	renderer := &fakeRenderer{body: []byte("unused")}
	curated := &fakeCurated{entries: map[string]types.CuratedEntry{
		"a.pdf": {ID: "a.pdf", URL: good.URL + "/a-2026.pdf", LastVerified: "2026-02-10"},
	}}
	e := newTestEngine(t, renderer, curated)

	out, err := e.Fetch(context.Background(), Request{Framework: "cmmc", FileID: "a.pdf", URL: blocked.URL + "/a.pdf", Render: false})
	require.NoError(t, err)
	defer out.Payload.Discard()

	assert.Equal(t, TierCurated, out.Tier)
	assert.Equal(t, "2026-02-10", out.LastVerified)
	assert.Equal(t, good.URL+"/a-2026.pdf", out.URL)
	assert.Equal(t, int32(0), renderer.calls.Load())
	require.Len(t, out.Attempts, 3)
	assert.Equal(t, StatusSkipped, out.Attempts[1].Status)
}

func TestEngine_AllTiersFail(t *testing.T) {
	server := blockedServer(t, nil)
	renderer := &fakeRenderer{err: errors.New("chrome not installed")}
	e := newTestEngine(t, renderer, &fakeCurated{})

	_, err := e.Fetch(context.Background(), Request{Framework: "cmmc", FileID: "a.pdf", URL: server.URL + "/a.pdf", Render: true})
	require.Error(t, err)

	var exhausted *AcquisitionExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 3)
	assert.Equal(t, StatusFailed, exhausted.Attempts[0].Status)
	assert.Equal(t, StatusFailed, exhausted.Attempts[1].Status)
	assert.Equal(t, 2, exhausted.Attempts[1].Tries, "renderer errors are retried")
	assert.Equal(t, StatusSkipped, exhausted.Attempts[2].Status)
	assert.Contains(t, err.Error(), "chrome not installed")
	assert.Contains(t, err.Error(), "no curated entry")
}

func TestEngine_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"catalog":{}}`))
	}))
	defer server.Close()

	e := newTestEngine(t, nil, nil)
	out, err := e.Fetch(context.Background(), Request{URL: server.URL + "/c.json"})
	require.NoError(t, err)
	defer out.Payload.Discard()

	assert.Equal(t, TierDirect, out.Tier)
	assert.Equal(t, 2, out.Attempts[0].Tries)
	assert.Equal(t, int32(2), hits.Load())
}

func TestEngine_RenderedChallengeIsFailure(t *testing.T) {
	server := blockedServer(t, nil)
	renderer := &fakeRenderer{body: []byte(cloudflarePage)}
	e := newTestEngine(t, renderer, nil)

	_, err := e.Fetch(context.Background(), Request{URL: server.URL + "/index.html", Render: true})
	var exhausted *AcquisitionExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, StatusFailed, exhausted.Attempts[1].Status)
	assert.Equal(t, 1, exhausted.Attempts[1].Tries, "challenge is not retried")
}

func TestEngine_RenderedDocumentRejectsHTML(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		wantErr     string
	}{
		{"challenge page", cloudflarePage, "text/html", "blocked by cloudflare"},
		{"error page", "<html><body><h1>Not Found</h1></body></html>", "text/html; charset=utf-8", "expected a document"},
		{"sniffed without content type", "<!DOCTYPE html><html><body>Login</body></html>", "", "expected a document"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := blockedServer(t, nil)
			renderer := &fakeRenderer{body: []byte(tt.body), contentType: tt.contentType}
			e := newTestEngine(t, renderer, nil)

			_, err := e.Fetch(context.Background(), Request{FileID: "a.pdf", URL: server.URL + "/a.pdf", Render: true})
			var exhausted *AcquisitionExhaustedError
			require.ErrorAs(t, err, &exhausted)
			assert.Equal(t, StatusFailed, exhausted.Attempts[1].Status)
			assert.Equal(t, 1, exhausted.Attempts[1].Tries, "HTML in place of a document is not retried")
			assert.Contains(t, exhausted.Attempts[1].Err.Error(), tt.wantErr)

			staged, err := os.ReadDir(e.stagingDir)
			require.NoError(t, err)
			assert.Empty(t, staged)
		})
	}
}

func TestEngine_RenderConcurrencyCap(t *testing.T) {
	server := blockedServer(t, nil)
	renderer := &fakeRenderer{body: []byte("%PDF"), delay: 20 * time.Millisecond}
	e := NewEngine(EngineConfig{
		Renderer:          renderer,
		StagingDir:        t.TempDir(),
		RenderConcurrency: 2,
	})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Fetch(context.Background(), Request{URL: server.URL + "/a.pdf", Render: true})
			if assert.NoError(t, err) {
				out.Payload.Discard()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(6), renderer.calls.Load())
	assert.LessOrEqual(t, renderer.peak.Load(), int32(2))
}

func TestEngine_CancelledContext(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Fetch(ctx, Request{URL: "https://example.com/a.pdf"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "direct", TierDirect.String())
	assert.Equal(t, "rendered", TierRendered.String())
	assert.Equal(t, "curated", TierCurated.String())
	assert.Equal(t, "none", TierNone.String())
}
