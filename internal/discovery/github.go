package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/jonathan/compligator/internal/fetch"
	"github.com/jonathan/compligator/internal/registry"
	"github.com/jonathan/compligator/internal/types"
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

// maxDepth bounds directory recursion.
const maxDepth = 5

type contentItem struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"` // "file" or "dir"
	DownloadURL string `json:"download_url"`
}

// GitHub lists files from a repository directory via the contents API.
// A token in Options raises the rate limit; without one listing still works.
type GitHub struct {
	Source  registry.GitHubSource
	Options *fetch.Options
	APIBase string

	manual func(string) bool
}

// Discover implements Discoverer.
func (g *GitHub) Discover(ctx context.Context) ([]types.SourceFile, error) {
	var out []types.SourceFile
	if err := g.walk(ctx, strings.Trim(g.Source.Path, "/"), 0, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (g *GitHub) walk(ctx context.Context, dir string, depth int, out *[]types.SourceFile) error {
	items, err := g.list(ctx, dir)
	if err != nil {
		return err
	}

	for _, item := range items {
		switch item.Type {
		case "dir":
			if depth+1 > maxDepth {
				continue
			}
			if err := g.walk(ctx, item.Path, depth+1, out); err != nil {
				return err
			}
		case "file":
			if item.DownloadURL == "" || !hasExtension(item.Name, g.Source.Extensions) {
				continue
			}
			id := strings.TrimPrefix(strings.TrimPrefix(item.Path, strings.Trim(g.Source.Path, "/")), "/")
			if id == "" {
				id = item.Name
			}
			sf := types.SourceFile{
				ID:               id,
				URL:              item.DownloadURL,
				ExpectedFilename: SanitizePath(id),
			}
			if g.manual != nil {
				sf.Manual = g.manual(id)
			}
			*out = append(*out, sf)
		}
	}
	return nil
}

func (g *GitHub) list(ctx context.Context, dir string) ([]contentItem, error) {
	base := g.APIBase
	if base == "" {
		base = DefaultGitHubAPI
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		strings.TrimRight(base, "/"), url.PathEscape(g.Source.Owner), url.PathEscape(g.Source.Repo), escapePath(dir))
	if g.Source.Ref != "" {
		endpoint += "?ref=" + url.QueryEscape(g.Source.Ref)
	}

	opts := g.Options
	if opts == nil {
		opts = fetch.DefaultOptions()
	}
	withAccept := *opts
	withAccept.Headers = map[string]string{"Accept": "application/vnd.github+json", "X-GitHub-Api-Version": "2022-11-28"}
	for k, v := range opts.Headers {
		withAccept.Headers[k] = v
	}

	source := g.Source.Owner + "/" + g.Source.Repo + "/" + dir
	result, err := fetch.URL(ctx, endpoint, &withAccept)
	if err != nil {
		if result != nil && result.StatusCode == 403 && result.Header.Get("X-RateLimit-Remaining") == "0" {
			return nil, &Error{Source: source, Message: "GitHub API rate limit exceeded (set GITHUB_TOKEN to raise it)", Cause: err}
		}
		return nil, &Error{Source: source, Message: "failed to list contents", Cause: err}
	}

	var items []contentItem
	if err := json.Unmarshal(result.Body, &items); err != nil {
		// A path naming a single file returns an object instead of an array.
		var single contentItem
		if err2 := json.Unmarshal(result.Body, &single); err2 != nil || single.Type == "" {
			return nil, &Error{Source: source, Message: "unexpected contents response", Cause: err}
		}
		items = []contentItem{single}
	}
	return items, nil
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
