// Package fetch - browser.go provides headless browser retrieval for WAF-protected sources.
package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// DefaultSettleDelay is how long a rendered page is given to finish client-side work.
const DefaultSettleDelay = 3 * time.Second

// Rendered is the payload produced by a Renderer.
type Rendered struct {
	Body        []byte
	ContentType string
}

// Renderer retrieves a resource through a browsing engine.
type Renderer interface {
	Render(ctx context.Context, url string, document bool) (*Rendered, error)
}

// BrowserRenderer renders pages with headless Chrome via chromedp.
// Requires Chrome/Chromium to be installed on the system.
type BrowserRenderer struct {
	Timeout     time.Duration
	SettleDelay time.Duration
	UserAgent   string
	Logger      *slog.Logger
}

// NewBrowserRenderer returns a renderer with default delays.
func NewBrowserRenderer(timeout time.Duration, logger *slog.Logger) *BrowserRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserRenderer{
		Timeout:     timeout,
		SettleDelay: DefaultSettleDelay,
		UserAgent:   DefaultUserAgent,
		Logger:      logger,
	}
}

// fetchScript downloads a URL from inside the page so the browser's session cookies
// (set while passing the challenge) are used, and returns the bytes base64-encoded.
const fetchScript = `(async () => {
	const r = await fetch(%q, {credentials: "include"});
	if (!r.ok) { throw new Error("HTTP " + r.status); }
	const b = new Uint8Array(await r.arrayBuffer());
	let s = "";
	for (let i = 0; i < b.length; i += 0x8000) {
		s += String.fromCharCode.apply(null, b.subarray(i, i + 0x8000));
	}
	return [r.headers.get("content-type") || "", btoa(s)];
})()`

// Render loads target in a fresh headless browser. HTML targets are returned as the
// rendered DOM. For documents the origin page is loaded first so any challenge is
// solved, then the file is fetched from within the page.
func (b *BrowserRenderer) Render(ctx context.Context, target string, document bool) (*Rendered, error) {
	b.Logger.DebugContext(ctx, "starting headless browser", "url", target, "document", document)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(b.UserAgent),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, b.Timeout)
	defer cancel()

	if !document {
		var html string
		err := chromedp.Run(browserCtx,
			chromedp.Navigate(target),
			chromedp.WaitReady("body"),
			chromedp.Sleep(b.SettleDelay),
			chromedp.OuterHTML("html", &html),
		)
		if err != nil {
			return nil, fmt.Errorf("browser rendering failed: %w", err)
		}
		b.Logger.DebugContext(ctx, "rendered page", "url", target, "bytes", len(html))
		return &Rendered{Body: []byte(html), ContentType: "text/html; charset=utf-8"}, nil
	}

	origin, err := originOf(target)
	if err != nil {
		return nil, err
	}

	var out []string
	err = chromedp.Run(browserCtx,
		chromedp.Navigate(origin),
		chromedp.WaitReady("body"),
		chromedp.Sleep(b.SettleDelay),
		chromedp.Evaluate(fmt.Sprintf(fetchScript, target), &out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("browser download failed: %w", err)
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("browser download returned unexpected result")
	}

	body, err := base64.StdEncoding.DecodeString(out[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode browser payload: %w", err)
	}
	b.Logger.DebugContext(ctx, "browser download complete", "url", target, "bytes", len(body))

	return &Rendered{Body: body, ContentType: out[0]}, nil
}

func originOf(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", &Error{URL: target, Message: "invalid URL", Cause: err}
	}
	return u.Scheme + "://" + u.Host + "/", nil
}
