package types

import "strings"

// Section is one heading-scoped unit of extracted document content.
type Section struct {
	Heading string `json:"heading"`
	Level   int    `json:"level"` // 1 for top-level headings
	Content string `json:"content"`
}

// NormalizedDocument is the uniform representation of one source file.
type NormalizedDocument struct {
	SourceFile  string    `json:"source_file"`
	Framework   string    `json:"framework"`
	ExtractedAt string    `json:"extracted_at"` // UTC, 2006-01-02T15:04:05
	Sections    []Section `json:"sections"`
	FullText    string    `json:"full_text"`
}

// JoinSections concatenates non-empty section contents in order, separated by
// a blank line.
func JoinSections(sections []Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if s.Content != "" {
			parts = append(parts, s.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
