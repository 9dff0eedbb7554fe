// Package discovery enumerates the candidate files of a framework.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/jonathan/compligator/internal/fetch"
	"github.com/jonathan/compligator/internal/registry"
	"github.com/jonathan/compligator/internal/types"
)

// Discoverer returns the ordered candidate files for one framework.
type Discoverer interface {
	Discover(ctx context.Context) ([]types.SourceFile, error)
}

// Config carries shared discovery settings.
type Config struct {
	Options  *fetch.Options
	Renderer fetch.Renderer // used when an index page blocks direct access
	Logger   *slog.Logger
	// GitHubAPI overrides the API base URL (tests).
	GitHubAPI string
}

// Chain concatenates discoverers, de-duplicating by file id. Failures of one member
// do not discard the results of the others.
type Chain []Discoverer

// Discover implements Discoverer.
func (c Chain) Discover(ctx context.Context) ([]types.SourceFile, error) {
	var (
		out  []types.SourceFile
		errs []error
		seen = make(map[string]bool)
	)
	for _, d := range c {
		files, err := d.Discover(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		for _, f := range files {
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			out = append(out, f)
		}
	}
	return out, errors.Join(errs...)
}

// ForEntry builds the discovery chain configured for a registry entry:
// static files first, then GitHub listings, then scraped links.
func ForEntry(e registry.Entry, cfg Config) Discoverer {
	var chain Chain
	if len(e.Files) > 0 {
		chain = append(chain, Static{Entry: e})
	}
	if e.GitHub != nil {
		chain = append(chain, &GitHub{
			Source:  *e.GitHub,
			Options: cfg.Options,
			APIBase: cfg.GitHubAPI,
			manual:  e.IsManual,
		})
	}
	if e.Scrape != nil {
		s := &Scrape{
			Source:  *e.Scrape,
			Options: cfg.Options,
			Logger:  cfg.Logger,
			manual:  e.IsManual,
		}
		if e.Render {
			s.Renderer = cfg.Renderer
		}
		chain = append(chain, s)
	}
	return chain
}

// Static returns the files listed directly in the registry.
type Static struct {
	Entry registry.Entry
}

// Discover implements Discoverer.
func (s Static) Discover(_ context.Context) ([]types.SourceFile, error) {
	out := make([]types.SourceFile, 0, len(s.Entry.Files))
	for _, f := range s.Entry.Files {
		name := f.ExpectedFilename
		if name == "" {
			name = SanitizeFilename(f.ID)
		}
		out = append(out, types.SourceFile{
			ID:               f.ID,
			URL:              f.URL,
			ExpectedFilename: name,
			Manual:           s.Entry.IsManual(f.ID),
		})
	}
	return out, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename reduces a name or URL path to a safe single path element.
func SanitizeFilename(name string) string {
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "unnamed"
	}
	return name
}

// SanitizePath sanitizes each element of a relative path, dropping traversal.
func SanitizePath(p string) string {
	var parts []string
	for _, seg := range strings.Split(strings.ReplaceAll(p, `\`, "/"), "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		parts = append(parts, SanitizeFilename(seg))
	}
	if len(parts) == 0 {
		return "unnamed"
	}
	return strings.Join(parts, "/")
}

func hasExtension(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(name))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Error represents a discovery failure for one source.
type Error struct {
	Source  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("discovery error for %s: %s: %v", e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("discovery error for %s: %s", e.Source, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
