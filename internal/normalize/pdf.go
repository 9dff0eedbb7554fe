package normalize

import (
	"fmt"
	"strings"

	"github.com/jonathan/compligator/internal/types"
	"github.com/ledongthuc/pdf"
)

// ExtractPDF returns one level-1 section per page, in page order. Pages without
// extractable text (scans, figures) are kept with empty content so the page count
// survives normalization.
func ExtractPDF(path string) (sections []types.Section, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExtractionError{Path: path, Format: FormatPDF, Message: "pdf reader panicked", Cause: fmt.Errorf("%v", r)}
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Format: FormatPDF, Message: "failed to open PDF", Cause: err}
	}
	defer func() { _ = f.Close() }()

	n := r.NumPage()
	sections = make([]types.Section, 0, n)
	for i := 1; i <= n; i++ {
		sections = append(sections, types.Section{
			Heading: fmt.Sprintf("Page %d", i),
			Level:   1,
			Content: pageText(r, i),
		})
	}
	return sections, nil
}

// pageText extracts one page, returning "" for pages the reader cannot handle.
func pageText(r *pdf.Reader, i int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	p := r.Page(i)
	if p.V.IsNull() {
		return ""
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
