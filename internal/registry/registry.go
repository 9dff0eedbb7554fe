// Package registry loads the static framework registry embedded in the binary.
package registry

import (
	_ "embed"
	"fmt"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jonathan/compligator/internal/types"
	"gopkg.in/yaml.v3"
)

//go:embed frameworks.yaml
var embeddedRegistry []byte

// FileEntry is a statically listed file.
type FileEntry struct {
	ID               string `yaml:"id" validate:"required"`
	URL              string `yaml:"url" validate:"required,url"`
	ExpectedFilename string `yaml:"expected_filename,omitempty"`
}

// GitHubSource lists a directory of a GitHub repository through the contents API.
type GitHubSource struct {
	Owner      string   `yaml:"owner" validate:"required"`
	Repo       string   `yaml:"repo" validate:"required"`
	Path       string   `yaml:"path"`
	Ref        string   `yaml:"ref"`
	Extensions []string `yaml:"extensions"`
}

// ScrapeSource collects document links from an HTML index page.
type ScrapeSource struct {
	URL        string   `yaml:"url" validate:"required,url"`
	Selector   string   `yaml:"selector"`
	Extensions []string `yaml:"extensions"`
}

// Entry is one framework with its discovery configuration.
type Entry struct {
	types.Framework `yaml:",inline"`

	Files   []FileEntry          `yaml:"files,omitempty" validate:"dive"`
	GitHub  *GitHubSource        `yaml:"github,omitempty" validate:"omitempty"`
	Scrape  *ScrapeSource        `yaml:"scrape,omitempty" validate:"omitempty"`
	Manual  []string             `yaml:"manual,omitempty"`
	Curated []types.CuratedEntry `yaml:"curated,omitempty" validate:"dive"`
}

// IsManual reports whether fileID is known to require manual download.
func (e *Entry) IsManual(fileID string) bool {
	base := path.Base(fileID)
	for _, m := range e.Manual {
		if m == fileID || m == base {
			return true
		}
	}
	return false
}

type document struct {
	Frameworks []Entry `yaml:"frameworks" validate:"required,min=1,dive"`
}

// Registry is the immutable set of known frameworks in declaration order.
type Registry struct {
	entries []Entry
	byKey   map[string]int
}

// Load parses the embedded registry.
func Load() (*Registry, error) {
	return Parse(embeddedRegistry)
}

// Parse decodes and validates a registry document.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse framework registry: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid framework registry: %w", err)
	}

	r := &Registry{
		entries: doc.Frameworks,
		byKey:   make(map[string]int, len(doc.Frameworks)),
	}
	subdirs := make(map[string]string, len(doc.Frameworks))
	for i, e := range doc.Frameworks {
		if _, dup := r.byKey[e.Key]; dup {
			return nil, fmt.Errorf("invalid framework registry: duplicate key %q", e.Key)
		}
		if other, dup := subdirs[e.Subdir]; dup {
			return nil, fmt.Errorf("invalid framework registry: %q and %q share subdir %q", other, e.Key, e.Subdir)
		}
		if strings.ContainsAny(e.Subdir, `/\`) || e.Subdir == "." || e.Subdir == ".." {
			return nil, fmt.Errorf("invalid framework registry: subdir %q for %q must be a single path element", e.Subdir, e.Key)
		}
		r.byKey[e.Key] = i
		subdirs[e.Subdir] = e.Key
	}

	return r, nil
}

// Entries returns all frameworks in registry order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Keys returns the framework keys in registry order.
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.entries))
	for i, e := range r.entries {
		keys[i] = e.Key
	}
	return keys
}

// Lookup returns the framework with the given key.
func (r *Registry) Lookup(key string) (Entry, bool) {
	i, ok := r.byKey[key]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Select resolves keys to entries, preserving registry order. An empty list selects all.
func (r *Registry) Select(keys []string) ([]Entry, error) {
	if len(keys) == 0 {
		return r.Entries(), nil
	}

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := r.byKey[k]; !ok {
			return nil, fmt.Errorf("unknown framework %q (known: %s)", k, strings.Join(r.Keys(), ", "))
		}
		want[k] = true
	}

	var out []Entry
	for _, e := range r.entries {
		if want[e.Key] {
			out = append(out, e)
		}
	}
	return out, nil
}

// Curated returns the curated fallback for a file. Matching is by exact id first,
// then by base name so that discovered paths still find their entry.
func (r *Registry) Curated(framework, fileID string) (types.CuratedEntry, bool) {
	e, ok := r.Lookup(framework)
	if !ok {
		return types.CuratedEntry{}, false
	}
	for _, c := range e.Curated {
		if c.ID == fileID {
			return c, true
		}
	}
	base := path.Base(fileID)
	for _, c := range e.Curated {
		if c.ID == base {
			return c, true
		}
	}
	return types.CuratedEntry{}, false
}
