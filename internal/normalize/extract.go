package normalize

import (
	"fmt"

	"github.com/jonathan/compligator/internal/types"
)

// Extract routes a classified file to its extractor.
func Extract(format Format, path string) ([]types.Section, error) {
	switch format {
	case FormatPDF:
		return ExtractPDF(path)
	case FormatHTML:
		return ExtractHTML(path)
	case FormatOSCALCatalog:
		return ExtractCatalog(path)
	case FormatOSCALProfile:
		return ExtractProfile(path)
	default:
		return nil, &UnsupportedFormatError{Path: path, Reason: fmt.Sprintf("no extractor for %s", format)}
	}
}
