package normalize

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jonathan/compligator/internal/types"
)

// OSCAL documents are walked as generic JSON so that one malformed control or part
// degrades to an empty section instead of failing the whole document.

func loadOSCAL(path string, format Format, key string) (map[string]any, error) {
	//nolint:gosec // G304: path is a managed content file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Format: format, Message: "failed to read file", Cause: err}
	}

	var top map[string]any
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &ExtractionError{Path: path, Format: format, Message: "JSON parse failed", Cause: err}
	}

	root, ok := top[key].(map[string]any)
	if !ok {
		return nil, &ExtractionError{Path: path, Format: format, Message: fmt.Sprintf("%q is not an object", key)}
	}
	return root, nil
}

// ExtractCatalog returns one section per control, in document order. Controls inside
// groups are level 2, enhancements one level deeper than their parent, and controls
// declared directly on the catalog level 1.
func ExtractCatalog(path string) ([]types.Section, error) {
	catalog, err := loadOSCAL(path, FormatOSCALCatalog, "catalog")
	if err != nil {
		return nil, err
	}

	var sections []types.Section
	for _, c := range asSlice(catalog["controls"]) {
		sections = appendControl(sections, c, 1)
	}
	for _, g := range asSlice(catalog["groups"]) {
		sections = appendGroup(sections, g)
	}
	return sections, nil
}

func appendGroup(sections []types.Section, g any) []types.Section {
	group := asMap(g)
	for _, c := range asSlice(group["controls"]) {
		sections = appendControl(sections, c, 2)
	}
	for _, sub := range asSlice(group["groups"]) {
		sections = appendGroup(sections, sub)
	}
	return sections
}

func appendControl(sections []types.Section, c any, level int) []types.Section {
	control := asMap(c)
	sections = append(sections, types.Section{
		Heading: controlHeading(control),
		Level:   level,
		Content: controlContent(control),
	})
	for _, enhancement := range asSlice(control["controls"]) {
		sections = appendControl(sections, enhancement, level+1)
	}
	return sections
}

func controlHeading(control map[string]any) string {
	id := strings.ToUpper(asString(control["id"]))
	title := asString(control["title"])
	switch {
	case id != "" && title != "":
		return id + ": " + title
	case id != "":
		return id
	case title != "":
		return title
	default:
		return "(untitled control)"
	}
}

// controlContent renders statement prose then guidance prose; assessment parts are ignored.
func controlContent(control map[string]any) string {
	var statement, guidance []string
	for _, p := range asSlice(control["parts"]) {
		part := asMap(p)
		prose := collectProse(part)
		if prose == "" {
			continue
		}
		switch asString(part["name"]) {
		case "statement":
			statement = append(statement, prose)
		case "guidance":
			guidance = append(guidance, prose)
		}
	}

	var blocks []string
	if len(statement) > 0 {
		blocks = append(blocks, "**Statement**\n"+strings.Join(statement, "\n"))
	}
	if len(guidance) > 0 {
		blocks = append(blocks, "**Guidance**\n"+strings.Join(guidance, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

// collectProse gathers prose from a part and its sub-parts depth first.
func collectProse(part map[string]any) string {
	var lines []string
	if prose := strings.TrimSpace(asString(part["prose"])); prose != "" {
		lines = append(lines, prose)
	}
	for _, sub := range asSlice(part["parts"]) {
		if text := collectProse(asMap(sub)); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

// ExtractProfile returns a summary section followed by one section per control family.
// Families appear in the order their first control is imported; ids keep import order.
func ExtractProfile(path string) ([]types.Section, error) {
	profile, err := loadOSCAL(path, FormatOSCALProfile, "profile")
	if err != nil {
		return nil, err
	}

	title := asString(asMap(profile["metadata"])["title"])
	if title == "" {
		title = "Unknown Profile"
	}

	var (
		ids      []string
		seen     = make(map[string]bool)
		families []string
		byFamily = make(map[string][]string)
	)
	for _, imp := range asSlice(profile["imports"]) {
		for _, ic := range asSlice(asMap(imp)["include-controls"]) {
			for _, raw := range asSlice(asMap(ic)["with-ids"]) {
				id := asString(raw)
				if id == "" || seen[id] {
					continue
				}
				seen[id] = true
				ids = append(ids, id)

				family := strings.ToUpper(strings.SplitN(id, "-", 2)[0])
				if _, ok := byFamily[family]; !ok {
					families = append(families, family)
				}
				byFamily[family] = append(byFamily[family], id)
			}
		}
	}

	if len(ids) == 0 {
		return []types.Section{{Heading: title, Level: 1, Content: "No control IDs found in profile."}}, nil
	}

	sections := []types.Section{{
		Heading: title,
		Level:   1,
		Content: fmt.Sprintf("Total controls: %d\nFamilies: %s", len(ids), strings.Join(families, ", ")),
	}}
	for _, family := range families {
		sections = append(sections, types.Section{
			Heading: family + " Controls",
			Level:   2,
			Content: strings.Join(byFamily[family], ", "),
		})
	}
	return sections, nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
