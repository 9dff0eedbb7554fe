// Package types provides type definitions for structured data used throughout compligator.
//
//nolint:revive // types is a standard Go package name pattern
package types

import "time"

// Framework is one compliance-document source collection (FedRAMP, NIST, ...).
type Framework struct {
	Key    string `json:"key" yaml:"key" validate:"required"`
	Label  string `json:"label" yaml:"label" validate:"required"`
	Subdir string `json:"subdir" yaml:"subdir" validate:"required"`

	// Render allows the headless browser tier for this framework's files.
	Render bool `json:"render,omitempty" yaml:"render,omitempty"`
	// SkipNormalize excludes the framework from normalization (e.g. STIG XCCDF archives).
	SkipNormalize bool `json:"skip_normalize,omitempty" yaml:"skip_normalize,omitempty"`

	// Display-only hints shown by the frameworks listing.
	FileCount int    `json:"file_count,omitempty" yaml:"file_count,omitempty"`
	SizeHint  string `json:"size_hint,omitempty" yaml:"size_hint,omitempty"`
}

// SourceFile is a logical file within a framework as produced by discovery.
type SourceFile struct {
	ID               string `json:"id"`  // Stable path/name, unique within the framework
	URL              string `json:"url"` // Remote locator
	ExpectedFilename string `json:"expected_filename"`
	// Manual marks files known to be blocked for automated clients.
	Manual bool `json:"manual,omitempty"`
}

// FileRecord is the persisted fingerprint of one downloaded file.
type FileRecord struct {
	Hash     string    `json:"hash"` // SHA256 hex digest
	Size     int64     `json:"size"`
	SyncedAt time.Time `json:"synced_at"`
	URL      string    `json:"url"`
}

// CuratedEntry is a statically maintained direct link used when a source blocks automated access.
type CuratedEntry struct {
	ID           string `json:"id" yaml:"id" validate:"required"`
	URL          string `json:"url" yaml:"url" validate:"required,url"`
	LastVerified string `json:"last_verified" yaml:"last_verified" validate:"required,datetime=2006-01-02"`
}
