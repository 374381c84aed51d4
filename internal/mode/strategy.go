// Package mode resolves, once per run, whether external calls are mock or
// live. The resolved Strategy is threaded explicitly into every stage; no
// stage consults ambient state to decide mode.
package mode

import (
	"context"
	"fmt"
	"time"

	"cloudaudit/internal/models"
)

// Mode selects between fixture-backed and real external calls.
type Mode string

const (
	Mock Mode = "mock"
	Live Mode = "live"
)

// Source is one independent sub-collector (e.g. project IAM policy, storage
// buckets). Sources run concurrently inside the Collect stage.
type Source interface {
	Name() string
	Collect(ctx context.Context) ([]models.Resource, error)
}

// Model analyzes collected resources and returns security findings.
type Model interface {
	Name() string
	Analyze(ctx context.Context, project string, resources []models.Resource) ([]models.Finding, error)
}

// Strategy supplies every external collaborator a run needs. Exactly one
// Strategy exists per run.
type Strategy interface {
	Mode() Mode
	// Now is the run's clock. The mock strategy returns a fixed instant so
	// repeated mock runs produce byte-identical artifacts.
	Now() time.Time
	Sources() []Source
	Model() Model
}

// LiveDeps carries the already-wired live collaborators into Resolve.
// Construction happens at the CLI wiring layer so this package stays free
// of cloud SDK imports.
type LiveDeps struct {
	Sources []Source
	Model   Model
}

// Resolve returns the Strategy for m. Mock ignores live entirely and
// performs no network access; live requires at least one source and a model.
func Resolve(m Mode, project string, live LiveDeps) (Strategy, error) {
	switch m {
	case Mock:
		return newMockStrategy(project), nil
	case Live:
		if len(live.Sources) == 0 {
			return nil, fmt.Errorf("live mode: no collectors wired")
		}
		if live.Model == nil {
			return nil, fmt.Errorf("live mode: no analysis model wired")
		}
		return &liveStrategy{deps: live}, nil
	default:
		return nil, fmt.Errorf("unknown execution mode %q", m)
	}
}

// ForMock maps the CLI's --use-mock boolean onto a Mode.
func ForMock(useMock bool) Mode {
	if useMock {
		return Mock
	}
	return Live
}

type liveStrategy struct {
	deps LiveDeps
}

func (s *liveStrategy) Mode() Mode        { return Live }
func (s *liveStrategy) Now() time.Time    { return time.Now().UTC() }
func (s *liveStrategy) Sources() []Source { return s.deps.Sources }
func (s *liveStrategy) Model() Model      { return s.deps.Model }
