// Package collector implements the Collect stage: fan out over the run's
// configured sources in parallel, then merge the results into a single
// deterministic resource inventory.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"cloudaudit/internal/artifact"
	"cloudaudit/internal/mode"
	"cloudaudit/internal/models"
	"cloudaudit/internal/pipeline"
)

// defaultWorkers bounds concurrent sub-collectors when none is configured.
const defaultWorkers = 4

// Stage runs every source the strategy supplies and commits the merged
// inventory as the collected artifact.
type Stage struct {
	project string
	workers int
	log     *slog.Logger
}

// New returns the Collect stage for project. workers <= 0 falls back to the
// default bound.
func New(project string, workers int, log *slog.Logger) *Stage {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	return &Stage{project: project, workers: workers, log: log}
}

func (s *Stage) Name() string              { return "collect" }
func (s *Stage) InputSlot() artifact.Slot  { return "" }
func (s *Stage) OutputSlot() artifact.Slot { return artifact.SlotCollected }

// Execute collects from all sources concurrently. Sources are independent;
// the semaphore channel bounds how many run at once. A single source failure
// fails the whole stage and cancels the remaining sources.
func (s *Stage) Execute(ctx context.Context, _ []byte, strategy mode.Strategy) (pipeline.Payloads, error) {
	sources := strategy.Sources()
	if len(sources) == 0 {
		return nil, fmt.Errorf("no collection sources configured")
	}

	sem := make(chan struct{}, s.workers)

	// Each goroutine writes its own slot, so no lock is needed and the
	// batch order never reflects completion order.
	batches := make([]sourceBatch, len(sources))

	g, gctx := errgroup.WithContext(ctx)

SOURCES:
	for i, src := range sources {
		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			break SOURCES
		}

		g.Go(func() error {
			defer func() { <-sem }()

			rs, err := src.Collect(gctx)
			if err != nil {
				return fmt.Errorf("source %s: %w", src.Name(), err)
			}
			s.log.Debug("source collected", "source", src.Name(), "resources", len(rs))

			batches[i] = sourceBatch{source: src.Name(), resources: rs}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Cancellation can skip queued sources; a partial inventory must not
	// be committed.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resources := mergeResources(batches)
	s.log.Info("collection finished", "sources", len(sources), "resources", len(resources))

	return pipeline.Payloads{
		artifact.SlotCollected: models.CollectedArtifact{
			SchemaVersion: models.CollectedSchemaVersion,
			ProjectID:     s.project,
			CollectedAt:   strategy.Now(),
			Resources:     resources,
		},
	}, nil
}

// sourceBatch is one source's collected resources, tagged for merging.
type sourceBatch struct {
	source    string
	resources []models.Resource
}

// mergeResources unions the per-source batches keyed by resource ID and
// sorts by ID. Batches merge in source-name order, never in completion
// order, so the same sightings always produce the same inventory.
func mergeResources(batches []sourceBatch) []models.Resource {
	ordered := make([]sourceBatch, len(batches))
	copy(ordered, batches)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].source < ordered[j].source })

	byID := make(map[string]models.Resource)
	for _, batch := range ordered {
		for _, r := range batch.resources {
			prev, ok := byID[r.ID]
			if !ok {
				byID[r.ID] = r
				continue
			}
			byID[r.ID] = mergeResource(prev, r)
		}
	}

	out := make([]models.Resource, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// mergeResource combines two sightings of the same resource. The sighting
// from the earlier source name wins on conflicts; the other only fills gaps.
// Neither input's metadata map is mutated.
func mergeResource(a, b models.Resource) models.Resource {
	if len(a.IAMBindings) == 0 {
		a.IAMBindings = b.IAMBindings
	}
	if len(b.Metadata) > 0 {
		merged := make(map[string]any, len(a.Metadata)+len(b.Metadata))
		for k, v := range b.Metadata {
			merged[k] = v
		}
		for k, v := range a.Metadata {
			merged[k] = v
		}
		a.Metadata = merged
	}
	return a
}
