package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Format is the closed set of document formats the normalizer understands.
type Format int

const (
	// FormatUnsupported is anything that cannot be normalized
	FormatUnsupported Format = iota
	// FormatPDF is a PDF document
	FormatPDF
	// FormatHTML is a saved HTML page
	FormatHTML
	// FormatOSCALCatalog is an OSCAL JSON catalog
	FormatOSCALCatalog
	// FormatOSCALProfile is an OSCAL JSON profile (baseline)
	FormatOSCALProfile
)

func (f Format) String() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatHTML:
		return "html"
	case FormatOSCALCatalog:
		return "oscal-catalog"
	case FormatOSCALProfile:
		return "oscal-profile"
	default:
		return "unsupported"
	}
}

// knownUnsupported are extensions present in source dirs that are intentionally skipped.
var knownUnsupported = map[string]string{
	".zip":  "archive",
	".doc":  "word document",
	".docx": "word document",
	".xlsx": "spreadsheet",
	".xls":  "spreadsheet",
	".xml":  "XML (XCCDF/STIG parsing not supported)",
}

// Classify determines the format of the file at path. OSCAL documents are told apart
// by their top-level key because catalogs and profiles share the .json extension.
func Classify(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if reason, ok := knownUnsupported[ext]; ok {
		return FormatUnsupported, &UnsupportedFormatError{Path: path, Reason: reason}
	}

	switch ext {
	case ".pdf":
		return FormatPDF, nil
	case ".html", ".htm":
		return FormatHTML, nil
	case ".json":
		return classifyJSON(path)
	}

	head, err := readHead(path, 512)
	if err != nil {
		return FormatUnsupported, &UnsupportedFormatError{Path: path, Reason: err.Error()}
	}
	if bytes.HasPrefix(head, []byte("%PDF-")) {
		return FormatPDF, nil
	}
	if strings.HasPrefix(http.DetectContentType(head), "text/html") {
		return FormatHTML, nil
	}
	if ext == "" {
		ext = "no extension"
	}
	return FormatUnsupported, &UnsupportedFormatError{Path: path, Reason: "unrecognized file type (" + ext + ")"}
}

func classifyJSON(path string) (Format, error) {
	//nolint:gosec // G304: path is a managed content file
	f, err := os.Open(path)
	if err != nil {
		return FormatUnsupported, &UnsupportedFormatError{Path: path, Reason: err.Error()}
	}
	defer func() { _ = f.Close() }()

	var top map[string]json.RawMessage
	if err := json.NewDecoder(f).Decode(&top); err != nil {
		return FormatUnsupported, &UnsupportedFormatError{Path: path, Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}

	_, isCatalog := top["catalog"]
	_, isProfile := top["profile"]
	switch {
	case isCatalog && isProfile:
		return FormatUnsupported, &UnsupportedFormatError{Path: path, Reason: "ambiguous OSCAL document (both catalog and profile)"}
	case isCatalog:
		return FormatOSCALCatalog, nil
	case isProfile:
		return FormatOSCALProfile, nil
	default:
		return FormatUnsupported, &UnsupportedFormatError{Path: path, Reason: "JSON is not an OSCAL catalog or profile"}
	}
}

func readHead(path string, n int) ([]byte, error) {
	//nolint:gosec // G304: path is a managed content file
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}
