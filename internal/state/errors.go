// Package state persists per-framework file fingerprints for change detection.
package state

import "fmt"

// CorruptStateError is returned by Load when the state file exists but cannot be parsed.
// The accompanying store is empty and usable; callers treat every file as new.
type CorruptStateError struct {
	Path  string
	Cause error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt state file %s: %v", e.Path, e.Cause)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Cause
}

// PersistError represents a failure writing the state file.
type PersistError struct {
	Path    string
	Message string
	Cause   error
}

func (e *PersistError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("state persist error for %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("state persist error for %s: %s", e.Path, e.Message)
}

func (e *PersistError) Unwrap() error {
	return e.Cause
}
