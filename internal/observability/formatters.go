// Package observability provides formatted summaries for CLI output.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonathan/compligator/internal/normalize"
	"github.com/jonathan/compligator/internal/syncer"
	"github.com/jonathan/compligator/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 72
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for command summaries
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %s │\n", pad(title, boxWidth-4))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %s │\n", pad(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// pad truncates or right-pads s to exactly width runes.
func pad(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n > width {
		runes := []rune(s)
		return string(runes[:width-3]) + "..."
	}
	return s + strings.Repeat(" ", width-n)
}

// writeList writes up to maxItemsToShow items with a trailing "and N more".
func writeList(sb *strings.Builder, items []string) {
	count := min(len(items), maxItemsToShow)
	for i := 0; i < count; i++ {
		sb.WriteString(fmt.Sprintf("  • %s\n", items[i]))
	}
	if len(items) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(items)-maxItemsToShow))
	}
}

// PrintSyncSummary outputs one framework's sync counts, failures, and notices.
func (p *Printer) PrintSyncSummary(s *syncer.Summary) {
	if s == nil {
		return
	}

	var sb strings.Builder
	if len(s.Planned) > 0 {
		sb.WriteString(fmt.Sprintf("Would fetch: %d\n", len(s.Planned)))
		writeList(&sb, s.Planned)
	} else {
		sb.WriteString(fmt.Sprintf("Fetched:    %d\n", len(s.Fetched)))
		sb.WriteString(fmt.Sprintf("Unchanged:  %d\n", len(s.Unchanged)))
		sb.WriteString(fmt.Sprintf("Failed:     %d\n", s.Failed()))
	}

	if len(s.Failures) > 0 {
		sb.WriteString("\nFailures:\n")
		failures := make([]string, 0, len(s.Failures))
		for _, f := range s.Failures {
			failures = append(failures, f.String())
		}
		writeList(&sb, failures)
	}

	if len(s.Notices) > 0 {
		sb.WriteString("\nNotices:\n")
		// Notices are never truncated; each one asks the operator to do something.
		for _, n := range s.Notices {
			sb.WriteString(fmt.Sprintf("  ! %s\n", n))
		}
	}

	p.printBox("SYNC "+strings.ToUpper(s.Framework), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintNormalizeSummary outputs one framework's normalization counts.
func (p *Printer) PrintNormalizeSummary(s *normalize.Summary) {
	if s == nil {
		return
	}

	var sb strings.Builder
	if s.Excluded != "" {
		sb.WriteString(fmt.Sprintf("Skipped: %s", s.Excluded))
		p.printBox("NORMALIZE "+strings.ToUpper(s.Framework), sb.String())
		return
	}

	sb.WriteString(fmt.Sprintf("Normalized:          %d\n", len(s.Normalized)))
	sb.WriteString(fmt.Sprintf("Already normalized:  %d\n", len(s.Skipped)))
	sb.WriteString(fmt.Sprintf("Unsupported:         %d\n", len(s.Unsupported)))
	sb.WriteString(fmt.Sprintf("Failed:              %d\n", len(s.Failed)))

	if len(s.Unsupported) > 0 {
		sb.WriteString("\nUnsupported:\n")
		items := make([]string, 0, len(s.Unsupported))
		for _, u := range s.Unsupported {
			items = append(items, fmt.Sprintf("%s (%s)", u.File, u.Reason))
		}
		writeList(&sb, items)
	}
	if len(s.Failed) > 0 {
		sb.WriteString("\nFailures:\n")
		items := make([]string, 0, len(s.Failed))
		for _, f := range s.Failed {
			items = append(items, fmt.Sprintf("%s (%s): %v", f.File, f.Stage, f.Err))
		}
		writeList(&sb, items)
	}

	p.printBox("NORMALIZE "+strings.ToUpper(s.Framework), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintStatus outputs the tracked files of one framework with size and sync time.
func (p *Printer) PrintStatus(fw types.Framework, records map[string]types.FileRecord) {
	var sb strings.Builder
	if len(records) == 0 {
		sb.WriteString("No files synced yet")
		p.printBox(fw.Label, sb.String())
		return
	}

	ids := make([]string, 0, len(records))
	var total int64
	for id, rec := range records {
		ids = append(ids, id)
		total += rec.Size
	}
	sort.Strings(ids)

	sb.WriteString(fmt.Sprintf("%d files, %s\n\n", len(ids), HumanSize(total)))
	for _, id := range ids {
		rec := records[id]
		sb.WriteString(fmt.Sprintf("%-40s %9s  %s\n", truncate(id, 40), HumanSize(rec.Size), syncedAt(rec.SyncedAt)))
	}

	p.printBox(fw.Label, strings.TrimSuffix(sb.String(), "\n"))
}

// PrintFrameworks outputs the framework catalog.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintFrameworks(frameworks []types.Framework) {
	for _, fw := range frameworks {
		var flags []string
		if fw.Render {
			flags = append(flags, "render")
		}
		if fw.SkipNormalize {
			flags = append(flags, "no-normalize")
		}
		line := fmt.Sprintf("%-12s %-40s", fw.Key, fw.Label)
		if fw.FileCount > 0 || fw.SizeHint != "" {
			line += fmt.Sprintf(" %3d files %8s", fw.FileCount, fw.SizeHint)
		}
		if len(flags) > 0 {
			line += " [" + strings.Join(flags, ", ") + "]"
		}
		fmt.Fprintln(p.out, strings.TrimRight(line, " "))
	}
}

// HumanSize formats a byte count with binary units.
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	return string([]rune(s)[:width-3]) + "..."
}

func syncedAt(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
