package collector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"cloudaudit/internal/artifact"
	"cloudaudit/internal/mode"
	"cloudaudit/internal/models"
)

var testClock = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubSource struct {
	name      string
	resources []models.Resource
	err       error
	block     bool          // wait for cancellation instead of returning
	after     chan struct{} // if set, wait for the signal before returning
	done      chan struct{} // if set, closed on return
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Collect(ctx context.Context) ([]models.Resource, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.after != nil {
		<-s.after
	}
	if s.done != nil {
		defer close(s.done)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.resources, nil
}

type stubStrategy struct {
	sources []mode.Source
}

func (s *stubStrategy) Mode() mode.Mode        { return mode.Live }
func (s *stubStrategy) Now() time.Time         { return testClock }
func (s *stubStrategy) Sources() []mode.Source { return s.sources }
func (s *stubStrategy) Model() mode.Model      { return nil }

func resource(id string) models.Resource {
	return models.Resource{ID: id, Type: models.ResourceGCSBucket, Provider: "gcp"}
}

func TestExecuteMergesAndSorts(t *testing.T) {
	strategy := &stubStrategy{sources: []mode.Source{
		&stubSource{name: "b", resources: []models.Resource{resource("buckets/zeta"), resource("buckets/alpha")}},
		&stubSource{name: "a", resources: []models.Resource{resource("buckets/mid")}},
	}}

	payloads, err := New("demo-1", 2, nil).Execute(context.Background(), nil, strategy)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	art := payloads[artifact.SlotCollected].(models.CollectedArtifact)
	if art.SchemaVersion != models.CollectedSchemaVersion || art.ProjectID != "demo-1" {
		t.Errorf("artifact header = %q %q", art.SchemaVersion, art.ProjectID)
	}
	if !art.CollectedAt.Equal(testClock) {
		t.Errorf("CollectedAt = %v; want strategy clock", art.CollectedAt)
	}

	var ids []string
	for _, r := range art.Resources {
		ids = append(ids, r.ID)
	}
	want := []string{"buckets/alpha", "buckets/mid", "buckets/zeta"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("resource order mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteDuplicateIDsUnioned(t *testing.T) {
	withBindings := resource("projects/demo-1")
	withBindings.Type = models.ResourceGCPProject
	withBindings.IAMBindings = []models.IAMBinding{{Role: "roles/viewer", Members: []string{"user:a@example.com"}}}

	withMetadata := resource("projects/demo-1")
	withMetadata.Type = models.ResourceGCPProject
	withMetadata.Metadata = map[string]any{"etag": "abc"}

	strategy := &stubStrategy{sources: []mode.Source{
		&stubSource{name: "one", resources: []models.Resource{withBindings}},
		&stubSource{name: "two", resources: []models.Resource{withMetadata}},
	}}

	payloads, err := New("demo-1", 2, nil).Execute(context.Background(), nil, strategy)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	art := payloads[artifact.SlotCollected].(models.CollectedArtifact)
	if len(art.Resources) != 1 {
		t.Fatalf("want 1 merged resource, got %d", len(art.Resources))
	}
	merged := art.Resources[0]
	if len(merged.IAMBindings) != 1 {
		t.Errorf("bindings lost in merge: %+v", merged)
	}
	if merged.Metadata["etag"] != "abc" {
		t.Errorf("metadata lost in merge: %+v", merged.Metadata)
	}
}

func TestExecuteFailFast(t *testing.T) {
	boom := errors.New("permission denied")
	strategy := &stubStrategy{sources: []mode.Source{
		&stubSource{name: "slow", block: true},
		&stubSource{name: "broken", err: boom},
	}}

	_, err := New("demo-1", 2, nil).Execute(context.Background(), nil, strategy)
	if !errors.Is(err, boom) {
		t.Fatalf("want the source error, got %v", err)
	}
	if !strings.Contains(err.Error(), "source broken") {
		t.Errorf("error should name the failing source: %v", err)
	}
}

func TestExecuteDeterministic(t *testing.T) {
	build := func() *stubStrategy {
		return &stubStrategy{sources: []mode.Source{
			&stubSource{name: "one", resources: []models.Resource{resource("buckets/b"), resource("buckets/a")}},
			&stubSource{name: "two", resources: []models.Resource{resource("buckets/c")}},
		}}
	}

	stage := New("demo-1", 3, nil)
	first, err := stage.Execute(context.Background(), nil, build())
	if err != nil {
		t.Fatal(err)
	}
	second, err := stage.Execute(context.Background(), nil, build())
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(first[artifact.SlotCollected], second[artifact.SlotCollected]); diff != "" {
		t.Errorf("repeated runs differ (-first +second):\n%s", diff)
	}
}

func TestExecuteNoSources(t *testing.T) {
	_, err := New("demo-1", 2, nil).Execute(context.Background(), nil, &stubStrategy{})
	if err == nil {
		t.Fatal("want error when no sources are configured")
	}
}

// Conflicting sightings of the same resource must resolve the same way no
// matter which order the batches arrive in.
func TestMergeResourcesCommutative(t *testing.T) {
	batches := func() []sourceBatch {
		a := resource("buckets/x")
		a.Metadata = map[string]any{"location": "US"}
		b := resource("buckets/x")
		b.Metadata = map[string]any{"location": "EU", "extra": true}
		return []sourceBatch{
			{source: "alpha", resources: []models.Resource{a}},
			{source: "beta", resources: []models.Resource{b}},
		}
	}

	forward := mergeResources(batches())
	bs := batches()
	reversed := mergeResources([]sourceBatch{bs[1], bs[0]})

	if diff := cmp.Diff(forward, reversed); diff != "" {
		t.Fatalf("merge depends on batch order (-forward +reversed):\n%s", diff)
	}
	if len(forward) != 1 {
		t.Fatalf("want 1, got %d", len(forward))
	}
	if forward[0].Metadata["location"] != "US" {
		t.Errorf("conflicting key must keep the earlier source name's sighting: %+v", forward[0].Metadata)
	}
	if forward[0].Metadata["extra"] != true {
		t.Errorf("gap-filling key lost: %+v", forward[0].Metadata)
	}
}

// Two sources report the same resource with conflicting metadata; whichever
// finishes first, the committed inventory is identical.
func TestExecuteMergeIndependentOfCompletionOrder(t *testing.T) {
	run := func(first string) models.CollectedArtifact {
		us := resource("buckets/x")
		us.Metadata = map[string]any{"location": "US"}
		eu := resource("buckets/x")
		eu.Metadata = map[string]any{"location": "EU"}

		a := &stubSource{name: "a", resources: []models.Resource{us}}
		b := &stubSource{name: "b", resources: []models.Resource{eu}}
		gate := make(chan struct{})
		if first == "a" {
			a.done, b.after = gate, gate
		} else {
			b.done, a.after = gate, gate
		}

		strategy := &stubStrategy{sources: []mode.Source{a, b}}
		payloads, err := New("demo-1", 2, nil).Execute(context.Background(), nil, strategy)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		return payloads[artifact.SlotCollected].(models.CollectedArtifact)
	}

	aFirst := run("a")
	bFirst := run("b")

	if diff := cmp.Diff(aFirst, bFirst); diff != "" {
		t.Errorf("inventory depends on completion order (-a-first +b-first):\n%s", diff)
	}
	if got := aFirst.Resources[0].Metadata["location"]; got != "US" {
		t.Errorf("location = %v; want the a source's sighting regardless of timing", got)
	}
}
