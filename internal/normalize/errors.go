// Package normalize converts downloaded compliance documents into ordered sections.
package normalize

import "fmt"

// UnsupportedFormatError means a file could not be classified into a supported format.
// It is recorded and skipped, never fatal.
type UnsupportedFormatError struct {
	Path   string
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format for %s: %s", e.Path, e.Reason)
}

// ExtractionError means a document could not be parsed into any sections.
type ExtractionError struct {
	Path    string
	Format  Format
	Message string
	Cause   error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction error for %s (%s): %s: %v", e.Path, e.Format, e.Message, e.Cause)
	}
	return fmt.Sprintf("extraction error for %s (%s): %s", e.Path, e.Format, e.Message)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}
