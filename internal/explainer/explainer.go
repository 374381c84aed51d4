// Package explainer implements the Explain stage: hand the collected
// inventory to the run's analysis model and commit the normalized findings.
package explainer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloudaudit/internal/artifact"
	"cloudaudit/internal/mode"
	"cloudaudit/internal/models"
	"cloudaudit/internal/pipeline"
)

// Stage turns a collected artifact into an explained artifact.
type Stage struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Stage {
	if log == nil {
		log = slog.Default()
	}
	return &Stage{log: log}
}

func (s *Stage) Name() string              { return "explain" }
func (s *Stage) InputSlot() artifact.Slot  { return artifact.SlotCollected }
func (s *Stage) OutputSlot() artifact.Slot { return artifact.SlotExplained }

func (s *Stage) Execute(ctx context.Context, input []byte, strategy mode.Strategy) (pipeline.Payloads, error) {
	var collected models.CollectedArtifact
	if err := json.Unmarshal(input, &collected); err != nil {
		return nil, fmt.Errorf("decode collected artifact: %w", err)
	}

	model := strategy.Model()
	findings, err := model.Analyze(ctx, collected.ProjectID, collected.Resources)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", model.Name(), err)
	}

	normalized, err := normalizeFindings(findings)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", model.Name(), err)
	}
	s.log.Info("analysis finished", "model", model.Name(), "findings", len(normalized))

	return pipeline.Payloads{
		artifact.SlotExplained: models.ExplainedArtifact{
			SchemaVersion: models.ExplainedSchemaVersion,
			ProjectID:     collected.ProjectID,
			AnalyzedAt:    strategy.Now(),
			Findings:      normalized,
		},
	}, nil
}

// normalizeFindings uppercases severities and rejects findings the schema
// would not accept, so a misbehaving model fails the stage rather than
// corrupting the artifact store.
func normalizeFindings(findings []models.Finding) ([]models.Finding, error) {
	out := make([]models.Finding, 0, len(findings))
	for i, f := range findings {
		f.Severity = models.Severity(strings.ToUpper(strings.TrimSpace(string(f.Severity))))
		if !models.ValidSeverity(f.Severity) {
			return nil, fmt.Errorf("finding %d (%q): unknown severity %q", i, f.Title, f.Severity)
		}
		if strings.TrimSpace(f.Title) == "" {
			return nil, fmt.Errorf("finding %d: empty title", i)
		}
		out = append(out, f)
	}
	return out, nil
}
