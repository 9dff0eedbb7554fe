// Package fetch provides document acquisition over HTTP, a headless browser, and curated
// fallback links. This package centralizes all network access used by sync and discovery.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jonathan/compligator/internal/hashing"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 60 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; CompliGator/1.0; +https://github.com/jonathan/compligator)"

// sniffLength is how much of a response is inspected for challenge pages.
const sniffLength = 64 * 1024

// Result holds the raw content from a URL fetch.
type Result struct {
	URL         string
	Body        []byte
	ContentType string
	StatusCode  int
	Header      http.Header
}

// Error represents an error during URL fetching.
type Error struct {
	URL        string
	Message    string
	StatusCode int
	Blocked    bool // WAF challenge or access denial
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Options configures the fetch behavior.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
	// Token is sent as a bearer token to GitHub hosts only.
	Token  string
	Client *http.Client
}

// DefaultOptions returns sensible defaults for fetching.
func DefaultOptions() *Options {
	return &Options{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}

func (o *Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return &http.Client{Timeout: o.Timeout}
}

// isGitHubHost reports whether the bearer token may be sent to host.
func isGitHubHost(host string) bool {
	host = strings.ToLower(host)
	return host == "api.github.com" || host == "github.com" || host == "raw.githubusercontent.com"
}

func newRequest(ctx context.Context, urlStr string, opts *Options) (*http.Request, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, &Error{URL: urlStr, Message: "invalid URL", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to create request", Cause: err}
	}

	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "*/*")
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if opts.Token != "" && isGitHubHost(parsedURL.Host) {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}
	return req, nil
}

func statusError(urlStr string, code int) *Error {
	return &Error{
		URL:        urlStr,
		Message:    fmt.Sprintf("HTTP status %d", code),
		StatusCode: code,
		Blocked:    code == http.StatusForbidden || code == http.StatusUnauthorized,
		Retryable:  code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500,
	}
}

// URL retrieves a small resource (API responses, index pages) fully into memory.
func URL(ctx context.Context, urlStr string, opts *Options) (*Result, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	req, err := newRequest(ctx, urlStr, opts)
	if err != nil {
		return nil, err
	}

	resp, err := opts.client().Do(req)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "HTTP request failed", Retryable: true, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to read response body", Retryable: true, Cause: err}
	}

	result := &Result{
		URL:         urlStr,
		Body:        bodyBytes,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, statusError(urlStr, resp.StatusCode)
	}

	return result, nil
}

// Payload is fetched content staged on disk, already hashed.
type Payload struct {
	Path        string // temp file inside the staging directory
	Hash        string
	Size        int64
	ContentType string
}

// Discard removes the staged file.
func (p *Payload) Discard() {
	if p != nil && p.Path != "" {
		_ = os.Remove(p.Path)
	}
}

// Download streams a resource into a temp file under dir while hashing it.
// HTML responses are checked for WAF challenges; when expectDocument is set an
// HTML response is treated as a block, since the server substituted a page for the file.
func Download(ctx context.Context, urlStr, dir string, expectDocument bool, opts *Options) (*Payload, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	req, err := newRequest(ctx, urlStr, opts)
	if err != nil {
		return nil, err
	}

	resp, err := opts.client().Do(req)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "HTTP request failed", Retryable: true, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, &Error{URL: urlStr, Message: "failed to read response body", Retryable: true, Cause: err}
	}
	head = head[:n]

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fetchErr := statusError(urlStr, resp.StatusCode)
		if c, ok := DetectChallenge(head, resp.Header); ok {
			fetchErr.Blocked = true
			fetchErr.Message = fmt.Sprintf("HTTP status %d (%s)", resp.StatusCode, c)
		}
		return nil, fetchErr
	}

	contentType := resp.Header.Get("Content-Type")
	if looksHTML(contentType, head) {
		if c, ok := DetectChallenge(head, resp.Header); ok {
			return nil, &Error{URL: urlStr, Message: c.String(), StatusCode: resp.StatusCode, Blocked: true}
		}
		if expectDocument {
			return nil, &Error{URL: urlStr, Message: "expected a document but received an HTML page", StatusCode: resp.StatusCode, Blocked: true}
		}
	}

	return stage(dir, io.MultiReader(bytes.NewReader(head), resp.Body), contentType, urlStr)
}

// StageBytes writes an in-memory payload (e.g. rendered HTML) to the staging directory.
func StageBytes(dir string, data []byte, contentType string) (*Payload, error) {
	return stage(dir, bytes.NewReader(data), contentType, "")
}

func stage(dir string, r io.Reader, contentType, urlStr string) (*Payload, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "fetch-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	digest, size, err := hashing.DigestReader(io.TeeReader(r, tmp))
	closeErr := tmp.Close()
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, &Error{URL: urlStr, Message: "failed to stream response body", Retryable: true, Cause: err}
	}
	if closeErr != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to close staging file: %w", closeErr)
	}

	return &Payload{Path: tmp.Name(), Hash: digest, Size: size, ContentType: contentType}, nil
}

func looksHTML(contentType string, head []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml") {
		return true
	}
	if ct == "" || strings.HasPrefix(ct, "text/plain") || strings.HasPrefix(ct, "application/octet-stream") {
		return strings.HasPrefix(http.DetectContentType(head), "text/html")
	}
	return false
}
