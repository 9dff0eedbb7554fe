package discovery

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonathan/compligator/internal/fetch"
	"github.com/jonathan/compligator/internal/registry"
	"github.com/jonathan/compligator/internal/types"
)

// Scrape collects document links from an HTML index page.
type Scrape struct {
	Source  registry.ScrapeSource
	Options *fetch.Options
	// Renderer, when set, is used if the index page blocks direct access.
	Renderer fetch.Renderer
	Logger   *slog.Logger // slog.Default() when nil

	manual func(string) bool
}

// Discover implements Discoverer.
func (s *Scrape) Discover(ctx context.Context) ([]types.SourceFile, error) {
	html, err := s.page(ctx)
	if err != nil {
		return nil, err
	}
	return ParseLinks(html, s.Source, s.manual)
}

func (s *Scrape) page(ctx context.Context) ([]byte, error) {
	result, err := fetch.URL(ctx, s.Source.URL, s.Options)
	if err == nil {
		if _, blocked := fetch.DetectChallenge(result.Body, result.Header); !blocked {
			return result.Body, nil
		}
		err = &fetch.Error{URL: s.Source.URL, Message: "index page returned a challenge", Blocked: true}
	}

	var fetchErr *fetch.Error
	blocked := errors.As(err, &fetchErr) && fetchErr.Blocked
	if !blocked || s.Renderer == nil {
		return nil, &Error{Source: s.Source.URL, Message: "failed to fetch index page", Cause: err}
	}

	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "index page blocked, rendering in headless browser", "url", s.Source.URL)
	rendered, rerr := s.Renderer.Render(ctx, s.Source.URL, false)
	if rerr != nil {
		return nil, &Error{Source: s.Source.URL, Message: "failed to render index page", Cause: errors.Join(err, rerr)}
	}
	return rendered.Body, nil
}

// ParseLinks extracts downloadable links inside the source selector, resolved
// against the page URL, de-duplicated and filtered by extension, in page order.
func ParseLinks(html []byte, src registry.ScrapeSource, manual func(string) bool) ([]types.SourceFile, error) {
	base, err := url.Parse(src.URL)
	if err != nil {
		return nil, &Error{Source: src.URL, Message: "invalid page URL", Cause: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, &Error{Source: src.URL, Message: "failed to parse index page", Cause: err}
	}

	selector := src.Selector
	if selector == "" {
		selector = "a[href]"
	}

	var (
		out  []types.SourceFile
		seen = make(map[string]bool)
	)
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		anchors := sel
		if goquery.NodeName(sel) != "a" {
			anchors = sel.Find("a[href]")
		}
		anchors.Each(func(_ int, a *goquery.Selection) {
			href, ok := a.Attr("href")
			href = strings.TrimSpace(href)
			if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
				return
			}
			ref, err := url.Parse(href)
			if err != nil {
				return
			}
			abs := base.ResolveReference(ref)
			abs.Fragment = ""
			if seen[abs.String()] || !hasExtension(abs.Path, src.Extensions) {
				return
			}
			seen[abs.String()] = true

			name := SanitizeFilename(abs.Path)
			sf := types.SourceFile{ID: name, URL: abs.String(), ExpectedFilename: name}
			if manual != nil {
				sf.Manual = manual(name)
			}
			out = append(out, sf)
		})
	})

	return out, nil
}
