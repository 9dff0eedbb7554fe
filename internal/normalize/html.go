package normalize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonathan/compligator/internal/types"
)

const (
	headingTags = "h1, h2, h3, h4, h5, h6"
	contentTags = "p, li, td, th, figcaption, blockquote, pre"
)

// containerSelectors are tried in order to find the main content area.
var containerSelectors = []string{"main", "[role=main]", "article", "body"}

// ExtractHTML partitions the main content area into sections at each heading.
// Level is the heading rank. Text before the first heading becomes a level-1
// section titled with the file stem.
func ExtractHTML(path string) ([]types.Section, error) {
	//nolint:gosec // G304: path is a managed content file
	f, err := os.Open(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Format: FormatHTML, Message: "failed to read file", Cause: err}
	}
	defer func() { _ = f.Close() }()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, &ExtractionError{Path: path, Format: FormatHTML, Message: "failed to parse HTML", Cause: err}
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return sectionsFromDocument(doc, stem), nil
}

func sectionsFromDocument(doc *goquery.Document, stem string) []types.Section {
	doc.Find("script, style, noscript, template").Remove()

	var container *goquery.Selection
	for _, sel := range containerSelectors {
		if s := doc.Find(sel); s.Length() > 0 {
			container = s.First()
			break
		}
	}
	if container == nil {
		raw := cleanText(doc.Text())
		if raw == "" {
			return nil
		}
		return []types.Section{{Heading: stem, Level: 1, Content: raw}}
	}

	var (
		sections []types.Section
		current  = types.Section{Heading: stem, Level: 1}
		lines    []string
		started  bool // a real heading has been seen
	)
	flush := func() {
		current.Content = strings.Join(lines, "\n")
		if started || current.Content != "" {
			sections = append(sections, current)
		}
		lines = nil
	}

	container.Find(headingTags + ", " + contentTags).Each(func(_ int, s *goquery.Selection) {
		if s.Is(headingTags) {
			flush()
			current = types.Section{
				Heading: inlineText(s),
				Level:   headingLevel(goquery.NodeName(s)),
			}
			started = true
			return
		}
		// A content element holding a heading is split at it: its own nested
		// content is visited instead. Otherwise nested content elements (a <p>
		// inside an <li>) are covered by their ancestor.
		if s.Find(headingTags).Length() > 0 || coveredByAncestor(s, container) {
			return
		}
		if text := inlineText(s); text != "" {
			lines = append(lines, text)
		}
	})
	flush()

	if len(sections) == 0 {
		if raw := cleanText(container.Text()); raw != "" {
			sections = append(sections, types.Section{Heading: stem, Level: 1, Content: raw})
		}
	}
	return sections
}

func headingLevel(tag string) int {
	var n int
	if _, err := fmt.Sscanf(tag, "h%d", &n); err != nil || n < 1 {
		return 1
	}
	return n
}

func coveredByAncestor(s, container *goquery.Selection) bool {
	return s.ParentsUntilSelection(container).Filter(contentTags).FilterFunction(func(_ int, p *goquery.Selection) bool {
		return p.Find(headingTags).Length() == 0
	}).Length() > 0
}

// inlineElements run into the surrounding text; any other child element is a
// word boundary.
var inlineElements = map[string]bool{
	"a": true, "abbr": true, "b": true, "cite": true, "code": true, "em": true, "i": true,
	"kbd": true, "mark": true, "q": true, "s": true, "small": true, "span": true,
	"strong": true, "sub": true, "sup": true, "time": true, "u": true, "var": true,
}

// inlineText joins an element's text with single spaces. Block children such
// as <p>a</p><p>b</p> are kept apart as separate words.
func inlineText(s *goquery.Selection) string {
	var b strings.Builder
	var collect func(*goquery.Selection)
	collect = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			name := goquery.NodeName(c)
			switch {
			case name == "#text":
				b.WriteString(c.Text())
			case inlineElements[name]:
				collect(c)
			default:
				b.WriteByte(' ')
				collect(c)
				b.WriteByte(' ')
			}
		})
	}
	collect(s)
	return strings.Join(strings.Fields(b.String()), " ")
}

// cleanText normalizes whitespace while keeping one line per non-blank line.
func cleanText(text string) string {
	var cleaned []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
