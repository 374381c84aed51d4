package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"cloudaudit/internal/models"
)

// Slot names one versioned artifact position in a run's output directory.
// A slot holds at most one value per run.
type Slot string

const (
	SlotCollected  Slot = "collected"
	SlotExplained  Slot = "explained"
	SlotReportMD   Slot = "report-markdown"
	SlotReportHTML Slot = "report-html"
)

// Schema describes how one slot is persisted and validated.
type Schema struct {
	// Version is the schema tag for this slot (e.g. "collected/v1").
	Version string

	// Filename is the name of the file under the output directory.
	Filename string

	// Validate checks a serialised payload. It runs on every write before
	// the atomic commit and on every read, so a stage can never consume a
	// document that drifted from its declared schema.
	Validate func(data []byte) error
}

// registry maps each known slot to its schema. Slots not listed here are
// rejected by the store.
var registry = map[Slot]Schema{
	SlotCollected: {
		Version:  models.CollectedSchemaVersion,
		Filename: "collected.json",
		Validate: validateCollected,
	},
	SlotExplained: {
		Version:  models.ExplainedSchemaVersion,
		Filename: "explained.json",
		Validate: validateExplained,
	},
	SlotReportMD: {
		Version:  "report-markdown/v1",
		Filename: "audit.md",
		Validate: validateNonEmptyText,
	},
	SlotReportHTML: {
		Version:  "report-html/v1",
		Filename: "audit.html",
		Validate: validateNonEmptyText,
	},
}

// SchemaFor returns the registered schema for slot.
func SchemaFor(slot Slot) (Schema, bool) {
	s, ok := registry[slot]
	return s, ok
}

func validateCollected(data []byte) error {
	var a models.CollectedArtifact
	if err := strictUnmarshal(data, &a); err != nil {
		return err
	}
	if a.SchemaVersion != models.CollectedSchemaVersion {
		return fmt.Errorf("schema version %q, want %q", a.SchemaVersion, models.CollectedSchemaVersion)
	}
	if a.ProjectID == "" {
		return fmt.Errorf("missing project_id")
	}
	for i, r := range a.Resources {
		if r.ID == "" {
			return fmt.Errorf("resource %d: missing id", i)
		}
		if r.Type == "" {
			return fmt.Errorf("resource %q: missing type", r.ID)
		}
	}
	return nil
}

func validateExplained(data []byte) error {
	var a models.ExplainedArtifact
	if err := strictUnmarshal(data, &a); err != nil {
		return err
	}
	if a.SchemaVersion != models.ExplainedSchemaVersion {
		return fmt.Errorf("schema version %q, want %q", a.SchemaVersion, models.ExplainedSchemaVersion)
	}
	if a.ProjectID == "" {
		return fmt.Errorf("missing project_id")
	}
	for i, f := range a.Findings {
		if !models.ValidSeverity(f.Severity) {
			return fmt.Errorf("finding %d (%q): unknown severity %q", i, f.Title, f.Severity)
		}
		if f.Title == "" {
			return fmt.Errorf("finding %d: missing title", i)
		}
	}
	return nil
}

func validateNonEmptyText(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("empty document")
	}
	return nil
}

// strictUnmarshal decodes JSON rejecting unknown top-level shapes
// (non-object documents, trailing garbage).
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("trailing data after document")
	}
	return nil
}
