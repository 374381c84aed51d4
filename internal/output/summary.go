// Package output renders CLI-facing summaries of a finished audit run.
// It is a pure presentation package — no pipeline logic, no store access.
package output

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"cloudaudit/internal/artifact"
	"cloudaudit/internal/models"
	"cloudaudit/internal/pipeline"
)

// ANSI color codes for severity output (used when colored=true).
const (
	ansiReset   = "\033[0m"
	ansiBoldRed = "\033[1;31m"
	ansiRed     = "\033[0;31m"
	ansiYellow  = "\033[0;33m"
	ansiBlue    = "\033[0;34m"
)

// severityOrder lists severities worst first for breakdown output.
var severityOrder = []models.Severity{
	models.SeverityCritical,
	models.SeverityHigh,
	models.SeverityMedium,
	models.SeverityLow,
	models.SeverityInfo,
}

// ColorSeverity wraps a severity label with ANSI codes when colored is true.
// When colored is false the label is returned unchanged (CI-safe default).
func ColorSeverity(sev models.Severity, colored bool) string {
	s := string(sev)
	if !colored {
		return s
	}
	switch sev {
	case models.SeverityCritical:
		return ansiBoldRed + s + ansiReset
	case models.SeverityHigh:
		return ansiRed + s + ansiReset
	case models.SeverityMedium:
		return ansiYellow + s + ansiReset
	case models.SeverityLow:
		return ansiBlue + s + ansiReset
	default:
		return s
	}
}

// severityCell pads the severity to width characters. ANSI codes wrap only
// the text so subsequent columns stay aligned on terminals without ANSI
// support.
func severityCell(sev models.Severity, width int, colored bool) string {
	text := string(sev)
	if !colored {
		return fmt.Sprintf("%-*s", width, text)
	}
	label := ColorSeverity(sev, true)
	spaces := width - len(text)
	if spaces < 0 {
		spaces = 0
	}
	return label + strings.Repeat(" ", spaces)
}

// truncateField shortens s to at most max bytes for ID/label columns.
func truncateField(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// RenderFindingsTable writes a findings table to w, worst severity first.
//
// Column order:
//
//	SEVERITY  RESOURCE ID  TITLE  RECOMMENDATION
func RenderFindingsTable(w io.Writer, findings []models.Finding, colored bool) {
	if len(findings) == 0 {
		fmt.Fprintln(w, "No findings.")
		return
	}

	sorted := make([]models.Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := models.SeverityRank(sorted[i].Severity), models.SeverityRank(sorted[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return sorted[i].Title < sorted[j].Title
	})

	const (
		wSeverity = 10
		wResource = 40
		wTitle    = 44
		wRec      = 50
	)

	header := fmt.Sprintf("%-*s  %-*s  %-*s  %-*s",
		wSeverity, "SEVERITY", wResource, "RESOURCE ID", wTitle, "TITLE", wRec, "RECOMMENDATION")
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len(header)))

	for _, f := range sorted {
		fmt.Fprintf(w, "%s  %-*s  %-*s  %-*s\n",
			severityCell(f.Severity, wSeverity, colored),
			wResource, truncateField(f.ResourceID, wResource),
			wTitle, truncateField(f.Title, wTitle),
			wRec, truncateField(f.Recommendation, wRec))
	}
}

// RenderBreakdown writes the per-severity tally, worst first, zero rows
// skipped.
func RenderBreakdown(w io.Writer, findings []models.Finding, colored bool) {
	counts := models.SeverityCounts(findings)
	fmt.Fprintf(w, "Findings: %d\n", len(findings))
	for _, sev := range severityOrder {
		if n := counts[sev]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", ColorSeverity(sev, colored), n)
		}
	}
}

// RenderRunSummary writes the stage outcomes and artifact locations of a
// terminal run.
func RenderRunSummary(w io.Writer, result *pipeline.RunResult) {
	fmt.Fprintf(w, "Run %s (%s): %s\n", result.Run.ID, result.Run.Mode, result.Run.State)
	for _, sr := range result.Stages {
		if sr.Status == pipeline.StatusFailed {
			fmt.Fprintf(w, "  %-8s %s: %s\n", sr.Stage, sr.Status, sr.Error)
			continue
		}
		fmt.Fprintf(w, "  %-8s %s\n", sr.Stage, sr.Status)
	}

	if len(result.Artifacts) == 0 {
		return
	}
	fmt.Fprintln(w, "Artifacts:")
	slots := make([]string, 0, len(result.Artifacts))
	for slot := range result.Artifacts {
		slots = append(slots, string(slot))
	}
	sort.Strings(slots)
	for _, slot := range slots {
		fmt.Fprintf(w, "  %-16s %s\n", slot, result.Artifacts[artifact.Slot(slot)])
	}
}
