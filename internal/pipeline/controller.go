package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"cloudaudit/internal/artifact"
	"cloudaudit/internal/config"
	"cloudaudit/internal/mode"
)

// progressState maps a stage name to the in-progress run state it drives.
var progressState = map[string]State{
	"collect": StateCollecting,
	"explain": StateExplaining,
	"report":  StateReporting,
}

// Controller executes stages in fixed order against one artifact store.
// It retries nothing itself — retry is an adapter-internal concern — and
// halts on the first failed stage.
type Controller struct {
	store  *artifact.Store
	stages []Stage
	log    *slog.Logger
}

// NewController wires a controller over store and the ordered stage list.
func NewController(store *artifact.Store, stages []Stage, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{store: store, stages: stages, log: log}
}

// Run executes all configured stages for projectID under the resolved
// strategy. On success the result lists every StageResult and artifact
// location. On failure the result ends with the fatal StageResult, the run
// is in StateFailed, and the causing error is returned; no later stage
// executes.
func (c *Controller) Run(ctx context.Context, projectID string, strategy mode.Strategy) (*RunResult, error) {
	if projectID == "" {
		return nil, &config.Error{Field: "project-id", Reason: "must not be empty"}
	}

	run := newRun(projectID, strategy.Mode(), strategy.Now())
	result := &RunResult{
		Run:       *run,
		Artifacts: make(map[artifact.Slot]string),
	}

	c.log.Info("pipeline run started",
		"run_id", run.ID, "project_id", projectID, "mode", string(strategy.Mode()))

	for _, stage := range c.stages {
		// Cancellation is honored at stage boundaries.
		if err := ctx.Err(); err != nil {
			return c.fail(run, result, stage, fmt.Errorf("run cancelled before stage %s: %w", stage.Name(), err))
		}

		if state, ok := progressState[stage.Name()]; ok {
			run.State = state
		}
		result.Run = *run

		var input []byte
		if slot := stage.InputSlot(); slot != "" {
			data, err := c.store.Read(slot)
			if err != nil {
				return c.fail(run, result, stage, fmt.Errorf("stage %s: input: %w", stage.Name(), err))
			}
			input = data
		}

		payloads, err := stage.Execute(ctx, input, strategy)
		if err != nil {
			return c.fail(run, result, stage, fmt.Errorf("stage %s: %w", stage.Name(), err))
		}
		if _, ok := payloads[stage.OutputSlot()]; !ok {
			return c.fail(run, result, stage,
				fmt.Errorf("stage %s: produced no payload for its output slot %q", stage.Name(), stage.OutputSlot()))
		}

		// Commit derived outputs first and the primary output last, so the
		// primary artifact's presence implies the full set was committed.
		for slot, payload := range payloads {
			if slot == stage.OutputSlot() {
				continue
			}
			path, err := c.store.Write(ctx, slot, payload)
			if err != nil {
				return c.fail(run, result, stage, fmt.Errorf("stage %s: commit %q: %w", stage.Name(), slot, err))
			}
			result.Artifacts[slot] = path
		}
		path, err := c.store.Write(ctx, stage.OutputSlot(), payloads[stage.OutputSlot()])
		if err != nil {
			return c.fail(run, result, stage, fmt.Errorf("stage %s: commit %q: %w", stage.Name(), stage.OutputSlot(), err))
		}
		result.Artifacts[stage.OutputSlot()] = path

		result.Stages = append(result.Stages, StageResult{
			Stage:  stage.Name(),
			Status: StatusSucceeded,
			Input:  stage.InputSlot(),
			Output: stage.OutputSlot(),
		})
		c.log.Info("stage succeeded", "run_id", run.ID, "stage", stage.Name(), "artifact", path)
	}

	run.State = StateComplete
	result.Run = *run
	c.log.Info("pipeline run complete", "run_id", run.ID, "stages", len(result.Stages))
	return result, nil
}

// fail records the fatal StageResult, moves the run to its terminal Failed
// state, and returns the result alongside the causing error.
func (c *Controller) fail(run *Run, result *RunResult, stage Stage, err error) (*RunResult, error) {
	run.State = StateFailed
	run.FailedStage = stage.Name()
	result.Run = *run
	result.Stages = append(result.Stages, StageResult{
		Stage:  stage.Name(),
		Status: StatusFailed,
		Input:  stage.InputSlot(),
		Error:  err.Error(),
	})
	c.log.Error("stage failed", "run_id", run.ID, "stage", stage.Name(), "error", err)
	return result, err
}
