// Package pipeline sequences the audit stages, enforces the data contracts
// between them, and drives the run state machine. It never interprets the
// domain content of an artifact; that is the stages' job.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cloudaudit/internal/artifact"
	"cloudaudit/internal/mode"
)

// State is the run's position in the fixed state machine
// Pending → Collecting → Explaining → Reporting → Complete, with any
// in-progress state able to transition to Failed. Failed and Complete are
// terminal.
type State string

const (
	StatePending    State = "PENDING"
	StateCollecting State = "COLLECTING"
	StateExplaining State = "EXPLAINING"
	StateReporting  State = "REPORTING"
	StateComplete   State = "COMPLETE"
	StateFailed     State = "FAILED"
)

// Run is one pipeline invocation. Owned exclusively by the Controller.
type Run struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Mode        mode.Mode `json:"mode"`
	CreatedAt   time.Time `json:"created_at"`
	State       State     `json:"state"`
	FailedStage string    `json:"failed_stage,omitempty"`
}

func newRun(projectID string, m mode.Mode, now time.Time) *Run {
	return &Run{
		ID:        "run-" + uuid.NewString(),
		ProjectID: projectID,
		Mode:      m,
		CreatedAt: now,
		State:     StatePending,
	}
}

// Status of one executed stage.
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// StageResult records one stage execution. Appended to the run history and
// never mutated afterwards.
type StageResult struct {
	Stage  string        `json:"stage"`
	Status Status        `json:"status"`
	Input  artifact.Slot `json:"input,omitempty"`
	Output artifact.Slot `json:"output,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// RunResult is returned to the CLI after a run reaches a terminal state.
type RunResult struct {
	Run       Run                      `json:"run"`
	Stages    []StageResult            `json:"stages"`
	Artifacts map[artifact.Slot]string `json:"artifacts"`
}

// Payloads maps output slots to the values a stage produced. Every stage
// has exactly one primary output (its OutputSlot); a stage may emit derived
// renderings for additional slots.
type Payloads map[artifact.Slot]any

// Stage is the uniform unit of pipeline work. The Controller is agnostic to
// what a stage does; it only wires input and output artifacts in order.
type Stage interface {
	// Name identifies the stage in results, logs, and error wrapping.
	Name() string

	// InputSlot names the artifact the stage consumes, or "" for none.
	InputSlot() artifact.Slot

	// OutputSlot names the stage's primary output artifact.
	OutputSlot() artifact.Slot

	// Execute performs the stage's work. input is the validated payload of
	// InputSlot (nil when the stage takes no input). The returned Payloads
	// must include OutputSlot.
	Execute(ctx context.Context, input []byte, strategy mode.Strategy) (Payloads, error)
}
