// Package schemas validates compligator's JSON artifacts against embedded JSON Schemas.
package schemas

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names, as embedded.
const (
	NormalizedDocument = "normalized_document.schema.json"
	State              = "state.schema.json"
)

//go:embed *.schema.json
var files embed.FS

var (
	compiledMu sync.Mutex
	compiled   = map[string]*gojsonschema.Schema{}
)

// ValidationError represents a schema validation error with field paths
type ValidationError struct {
	Path   string
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

// SchemaLoadError represents errors loading or parsing the schema itself
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	if ve.Path != "" {
		sb.WriteString(fmt.Sprintf("validation failed for %s:\n", ve.Path))
	} else {
		sb.WriteString("validation failed:\n")
	}
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

func schema(name string) (*gojsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()

	if s, ok := compiled[name]; ok {
		return s, nil
	}
	data, err := files.ReadFile(name)
	if err != nil {
		return nil, &SchemaLoadError{Path: name, Message: "unknown schema", Cause: err}
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &SchemaLoadError{Path: name, Message: "invalid schema", Cause: err}
	}
	compiled[name] = s
	return s, nil
}

// ValidateBytes validates a JSON document against the named embedded schema.
func ValidateBytes(name string, data []byte) error {
	return validate(name, "", data)
}

// ValidateFile validates the JSON file at path against the named embedded schema.
func ValidateFile(name, path string) error {
	//nolint:gosec // G304: path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("JSON file not found: %s", path)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return validate(name, path, data)
}

func validate(name, path string, data []byte) error {
	s, err := schema(name)
	if err != nil {
		return err
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return &ValidationError{
			Path:   path,
			Errors: []FieldError{{Field: "(root)", Message: fmt.Sprintf("invalid JSON: %v", err)}},
		}
	}

	if result.Valid() {
		return nil
	}

	// Build structured error
	validationErr := &ValidationError{
		Path:   path,
		Errors: make([]FieldError, 0, len(result.Errors())),
	}

	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}

	return validationErr
}
