// Package reporter implements the Report stage: render the explained
// findings as a human-readable Markdown audit report plus an HTML
// rendering of the same content.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"sort"
	texttemplate "text/template"
	"time"

	"cloudaudit/internal/artifact"
	"cloudaudit/internal/mode"
	"cloudaudit/internal/models"
	"cloudaudit/internal/pipeline"
)

// Stage renders the explained artifact. The Markdown report is the primary
// output; the HTML rendering is derived from the same data.
type Stage struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Stage {
	if log == nil {
		log = slog.Default()
	}
	return &Stage{log: log}
}

func (s *Stage) Name() string              { return "report" }
func (s *Stage) InputSlot() artifact.Slot  { return artifact.SlotExplained }
func (s *Stage) OutputSlot() artifact.Slot { return artifact.SlotReportMD }

func (s *Stage) Execute(ctx context.Context, input []byte, strategy mode.Strategy) (pipeline.Payloads, error) {
	var explained models.ExplainedArtifact
	if err := json.Unmarshal(input, &explained); err != nil {
		return nil, fmt.Errorf("decode explained artifact: %w", err)
	}

	data := buildReportData(explained, strategy.Now())

	md, err := render(mdTemplate, data)
	if err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	html, err := renderHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	s.log.Info("report rendered", "project_id", explained.ProjectID, "findings", len(explained.Findings))

	return pipeline.Payloads{
		artifact.SlotReportMD:   md,
		artifact.SlotReportHTML: html,
	}, nil
}

// severityOrder fixes the section and summary ordering, worst first.
var severityOrder = []models.Severity{
	models.SeverityCritical,
	models.SeverityHigh,
	models.SeverityMedium,
	models.SeverityLow,
	models.SeverityInfo,
}

type severityCount struct {
	Severity models.Severity
	Count    int
}

type reportData struct {
	ProjectID   string
	AnalyzedAt  time.Time
	GeneratedAt time.Time
	Total       int
	Breakdown   []severityCount
	Findings    []models.Finding
	Worst       models.Severity
}

// buildReportData sorts findings worst-first (title breaks ties, so the
// report is stable for a given artifact) and tallies the breakdown.
func buildReportData(explained models.ExplainedArtifact, now time.Time) reportData {
	findings := make([]models.Finding, len(explained.Findings))
	copy(findings, explained.Findings)
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := models.SeverityRank(findings[i].Severity), models.SeverityRank(findings[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return findings[i].Title < findings[j].Title
	})

	counts := models.SeverityCounts(findings)
	breakdown := make([]severityCount, 0, len(severityOrder))
	for _, sev := range severityOrder {
		if n := counts[sev]; n > 0 {
			breakdown = append(breakdown, severityCount{Severity: sev, Count: n})
		}
	}

	worst := models.SeverityInfo
	if len(findings) > 0 {
		worst = findings[0].Severity
	}

	return reportData{
		ProjectID:   explained.ProjectID,
		AnalyzedAt:  explained.AnalyzedAt,
		GeneratedAt: now,
		Total:       len(findings),
		Breakdown:   breakdown,
		Findings:    findings,
		Worst:       worst,
	}
}

const mdSource = `# Security Audit Report

**Project:** {{.ProjectID}}
**Analyzed:** {{.AnalyzedAt.Format "2006-01-02 15:04:05 MST"}}
**Generated:** {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}

## Executive Summary

{{if eq .Total 0 -}}
No security findings were identified in the audited configuration.
{{- else -}}
The audit identified **{{.Total}} finding{{if ne .Total 1}}s{{end}}**. The most severe is rated **{{.Worst}}**.

| Severity | Count |
|----------|-------|
{{range .Breakdown}}| {{.Severity}} | {{.Count}} |
{{end}}
{{- end}}

## Findings
{{if eq .Total 0}}
None.
{{end}}
{{- range $i, $f := .Findings}}
### {{inc $i}}. {{$f.Title}}

- **Severity:** {{$f.Severity}}
{{- if $f.ResourceID}}
- **Resource:** ` + "`{{$f.ResourceID}}`" + `
{{- end}}

{{$f.Explanation}}

**Recommendation:** {{$f.Recommendation}}
{{end}}`

var mdTemplate = texttemplate.Must(texttemplate.New("report.md").
	Funcs(texttemplate.FuncMap{"inc": func(i int) int { return i + 1 }}).
	Parse(mdSource))

const htmlSource = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Security Audit Report - {{.ProjectID}}</title>
<style>
body { font-family: sans-serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; color: #1a1a1a; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.8rem; text-align: left; }
.severity { font-weight: bold; }
.severity-CRITICAL { color: #8b0000; }
.severity-HIGH { color: #c0392b; }
.severity-MEDIUM { color: #b8860b; }
.severity-LOW { color: #2c6e9e; }
.severity-INFO { color: #555; }
.finding { border-left: 4px solid #ccc; padding-left: 1rem; margin: 1.5rem 0; }
code { background: #f4f4f4; padding: 0.1rem 0.3rem; }
</style>
</head>
<body>
<h1>Security Audit Report</h1>
<p><strong>Project:</strong> {{.ProjectID}}<br>
<strong>Analyzed:</strong> {{.AnalyzedAt.Format "2006-01-02 15:04:05 MST"}}<br>
<strong>Generated:</strong> {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>
<h2>Executive Summary</h2>
{{if eq .Total 0}}
<p>No security findings were identified in the audited configuration.</p>
{{else}}
<p>The audit identified <strong>{{.Total}} finding{{if ne .Total 1}}s{{end}}</strong>. The most severe is rated <span class="severity severity-{{.Worst}}">{{.Worst}}</span>.</p>
<table>
<tr><th>Severity</th><th>Count</th></tr>
{{range .Breakdown}}<tr><td class="severity severity-{{.Severity}}">{{.Severity}}</td><td>{{.Count}}</td></tr>
{{end}}</table>
{{end}}
<h2>Findings</h2>
{{if eq .Total 0}}<p>None.</p>{{end}}
{{range $i, $f := .Findings}}
<div class="finding">
<h3>{{inc $i}}. {{$f.Title}}</h3>
<p><span class="severity severity-{{$f.Severity}}">{{$f.Severity}}</span>{{if $f.ResourceID}} &mdash; <code>{{$f.ResourceID}}</code>{{end}}</p>
<p>{{$f.Explanation}}</p>
<p><strong>Recommendation:</strong> {{$f.Recommendation}}</p>
</div>
{{end}}
</body>
</html>
`

var htmlTemplate = htmltemplate.Must(htmltemplate.New("report.html").
	Funcs(htmltemplate.FuncMap{"inc": func(i int) int { return i + 1 }}).
	Parse(htmlSource))

func render(t *texttemplate.Template, data reportData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderHTML(data reportData) (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
