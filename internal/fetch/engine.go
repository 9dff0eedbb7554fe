// Package fetch - engine.go runs the ordered acquisition tiers for one resource.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path"
	"strings"
	"time"

	"github.com/jonathan/compligator/internal/types"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Tier is one acquisition method in the fallback chain.
type Tier int

const (
	// TierNone means no tier has produced a result
	TierNone Tier = iota
	// TierDirect is a plain HTTP request
	TierDirect
	// TierRendered loads the resource in a headless browser
	TierRendered
	// TierCurated retrieves a statically maintained direct link
	TierCurated
)

func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierRendered:
		return "rendered"
	case TierCurated:
		return "curated"
	default:
		return "none"
	}
}

// TierStatus is the result of one tier in the chain.
type TierStatus string

const (
	// StatusSucceeded means the tier produced the payload
	StatusSucceeded TierStatus = "succeeded"
	// StatusFailed means every try of the tier failed
	StatusFailed TierStatus = "failed"
	// StatusSkipped means the tier was not applicable
	StatusSkipped TierStatus = "skipped"
)

// TierAttempt records what happened at one tier.
type TierAttempt struct {
	Tier   Tier
	Status TierStatus
	Tries  int
	URL    string
	Err    error
}

func (a TierAttempt) String() string {
	if a.Err == nil {
		return fmt.Sprintf("%s: %s", a.Tier, a.Status)
	}
	return fmt.Sprintf("%s: %s (%v)", a.Tier, a.Status, a.Err)
}

// AcquisitionExhaustedError is returned when every tier failed for a resource.
type AcquisitionExhaustedError struct {
	URL      string
	Attempts []TierAttempt
}

func (e *AcquisitionExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return fmt.Sprintf("all acquisition tiers failed for %s: %s", e.URL, strings.Join(parts, "; "))
}

// Unwrap exposes the per-tier causes to errors.Is / errors.As.
func (e *AcquisitionExhaustedError) Unwrap() []error {
	var errs []error
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}

// Request describes one resource to acquire.
type Request struct {
	Framework string
	FileID    string
	URL       string
	// Render permits the browser tier for this resource.
	Render bool
}

// Outcome is a successful acquisition.
type Outcome struct {
	Tier         Tier
	URL          string // locator that produced the payload
	Payload      *Payload
	Attempts     []TierAttempt
	LastVerified string // set for TierCurated
}

// CuratedSource looks up curated fallback links.
type CuratedSource interface {
	Curated(framework, fileID string) (types.CuratedEntry, bool)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Options           *Options
	Renderer          Renderer // nil disables the rendered tier
	Curated           CuratedSource
	StagingDir        string
	Retries           int           // tries per tier, minimum 1
	Backoff           time.Duration // base delay, doubled per retry
	RenderConcurrency int64
	RatePerSecond     float64 // 0 disables limiting
	Logger            *slog.Logger
}

// Engine executes the tier chain. It is safe for concurrent use.
type Engine struct {
	opts       *Options
	renderer   Renderer
	curated    CuratedSource
	stagingDir string
	retries    int
	backoff    time.Duration
	renderSem  *semaphore.Weighted
	limiter    *rate.Limiter
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine from cfg, filling defaults for zero values.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Options == nil {
		cfg.Options = DefaultOptions()
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.RenderConcurrency < 1 {
		cfg.RenderConcurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Engine{
		opts:       cfg.Options,
		renderer:   cfg.Renderer,
		curated:    cfg.Curated,
		stagingDir: cfg.StagingDir,
		retries:    cfg.Retries,
		backoff:    cfg.Backoff,
		renderSem:  semaphore.NewWeighted(cfg.RenderConcurrency),
		limiter:    rate.NewLimiter(limit, 1),
		logger:     cfg.Logger,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// errSkipped marks a tier that does not apply to the request.
var errSkipped = errors.New("tier not applicable")

// Fetch tries direct, rendered, then curated retrieval and returns the first success.
// The caller owns the returned payload and must commit or Discard it.
func (e *Engine) Fetch(ctx context.Context, req Request) (*Outcome, error) {
	document := isDocument(req.URL)
	attempts := make([]TierAttempt, 0, 3)

	tiers := []struct {
		tier Tier
		run  func(context.Context) (*Payload, string, string, error)
	}{
		{TierDirect, func(ctx context.Context) (*Payload, string, string, error) {
			p, err := e.direct(ctx, req.URL, document)
			return p, req.URL, "", err
		}},
		{TierRendered, func(ctx context.Context) (*Payload, string, string, error) {
			if !req.Render || e.renderer == nil {
				return nil, req.URL, "", fmt.Errorf("%w: rendering disabled", errSkipped)
			}
			p, err := e.rendered(ctx, req.URL, document)
			return p, req.URL, "", err
		}},
		{TierCurated, func(ctx context.Context) (*Payload, string, string, error) {
			if e.curated == nil {
				return nil, "", "", fmt.Errorf("%w: no curated source", errSkipped)
			}
			entry, ok := e.curated.Curated(req.Framework, req.FileID)
			if !ok {
				return nil, "", "", fmt.Errorf("%w: no curated entry", errSkipped)
			}
			p, err := e.direct(ctx, entry.URL, isDocument(entry.URL))
			return p, entry.URL, entry.LastVerified, err
		}},
	}

	for _, t := range tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempt := TierAttempt{Tier: t.tier}
		var (
			payload      *Payload
			locator      string
			lastVerified string
			err          error
		)

		for try := 1; try <= e.retries; try++ {
			attempt.Tries = try
			payload, locator, lastVerified, err = t.run(ctx)
			if err == nil || errors.Is(err, errSkipped) || !retryable(err) || ctx.Err() != nil || try == e.retries {
				break
			}
			delay := e.backoffFor(try)
			e.logger.DebugContext(ctx, "tier attempt failed, retrying",
				"tier", t.tier.String(), "url", locator, "try", try, "delay", delay, "error", err)
			if serr := e.sleep(ctx, delay); serr != nil {
				err = serr
				break
			}
		}
		attempt.URL = locator

		switch {
		case err == nil:
			attempt.Status = StatusSucceeded
			attempts = append(attempts, attempt)
			return &Outcome{
				Tier:         t.tier,
				URL:          locator,
				Payload:      payload,
				Attempts:     attempts,
				LastVerified: lastVerified,
			}, nil
		case errors.Is(err, errSkipped):
			attempt.Status = StatusSkipped
			attempt.Tries = 0
		default:
			attempt.Status = StatusFailed
		}
		attempt.Err = err
		attempts = append(attempts, attempt)

		if attempt.Status == StatusFailed {
			e.logger.DebugContext(ctx, "tier failed", "tier", t.tier.String(), "url", locator, "error", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, &AcquisitionExhaustedError{URL: req.URL, Attempts: attempts}
}

func (e *Engine) direct(ctx context.Context, urlStr string, document bool) (*Payload, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return Download(ctx, urlStr, e.stagingDir, document, e.opts)
}

func (e *Engine) rendered(ctx context.Context, urlStr string, document bool) (*Payload, error) {
	if err := e.renderSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.renderSem.Release(1)

	r, err := e.renderer.Render(ctx, urlStr, document)
	if err != nil {
		return nil, err
	}
	head := r.Body
	if len(head) > sniffLength {
		head = head[:sniffLength]
	}
	// A browser download can still land on a challenge or an HTML error page.
	if !document || looksHTML(r.ContentType, head) {
		if c, ok := DetectChallenge(head, nil); ok {
			return nil, &Error{URL: urlStr, Message: c.String(), Blocked: true}
		}
		if document {
			return nil, &Error{URL: urlStr, Message: "expected a document but received an HTML page", Blocked: true}
		}
	}
	return StageBytes(e.stagingDir, r.Body, r.ContentType)
}

func (e *Engine) backoffFor(try int) time.Duration {
	d := e.backoff << (try - 1)
	jitter := time.Duration(rand.Int64N(int64(e.backoff)/2 + 1))
	return d + jitter
}

// retryable reports whether another try of the same tier could succeed.
// Blocks and client errors are deterministic; timeouts and 5xx are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fetchErr *Error
	if errors.As(err, &fetchErr) {
		return fetchErr.Retryable && !fetchErr.Blocked
	}
	return true
}

// documentExts are extensions that name a file rather than an HTML page.
var documentExts = map[string]bool{
	".pdf": true, ".json": true, ".zip": true, ".xml": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
}

func isDocument(urlStr string) bool {
	p := urlStr
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return documentExts[strings.ToLower(path.Ext(p))]
}
