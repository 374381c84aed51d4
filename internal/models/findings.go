package models

import "time"

// Severity represents the impact level of a finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// severityRank maps Severity values to sort keys (lower = higher priority).
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// ValidSeverity reports whether s is one of the fixed severity values.
// The explained artifact must never contain anything else.
func ValidSeverity(s Severity) bool {
	_, ok := severityRank[s]
	return ok
}

// SeverityRank returns the sort key for s (CRITICAL first). Unknown
// severities sort last.
func SeverityRank(s Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// Finding is a single security observation produced by the Explain stage
// and consumed only by the Report stage.
type Finding struct {
	Title          string         `json:"title"`
	Severity       Severity       `json:"severity"`
	ResourceID     string         `json:"resource_id,omitempty"`
	Explanation    string         `json:"explanation"`
	Recommendation string         `json:"recommendation"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ExplainedArtifact is the schema-versioned payload of the "explained" slot.
type ExplainedArtifact struct {
	SchemaVersion string    `json:"schema_version"`
	ProjectID     string    `json:"project_id"`
	AnalyzedAt    time.Time `json:"analyzed_at"`
	Findings      []Finding `json:"findings"`
}

// ExplainedSchemaVersion is embedded in every explained artifact.
const ExplainedSchemaVersion = "explained/v1"

// SeverityCounts tallies findings per severity level.
func SeverityCounts(findings []Finding) map[Severity]int {
	counts := make(map[Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}
