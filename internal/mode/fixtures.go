package mode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloudaudit/internal/models"
)

// fixtureClock is the instant stamped into every mock artifact. A fixed
// clock keeps repeated mock runs byte-identical.
var fixtureClock = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

type mockStrategy struct {
	project string
}

func newMockStrategy(project string) *mockStrategy {
	return &mockStrategy{project: project}
}

func (s *mockStrategy) Mode() Mode     { return Mock }
func (s *mockStrategy) Now() time.Time { return fixtureClock }

func (s *mockStrategy) Sources() []Source {
	return []Source{
		&fixtureSource{name: "iam-policy", resources: fixtureIAMResources(s.project)},
		&fixtureSource{name: "service-accounts", resources: fixtureServiceAccounts(s.project)},
		&fixtureSource{name: "storage-buckets", resources: fixtureBuckets(s.project)},
	}
}

func (s *mockStrategy) Model() Model { return &fixtureModel{} }

// fixtureSource yields a fixed resource set and performs no network access.
type fixtureSource struct {
	name      string
	resources []models.Resource
}

func (f *fixtureSource) Name() string { return f.name }

func (f *fixtureSource) Collect(ctx context.Context) ([]models.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.Resource, len(f.resources))
	copy(out, f.resources)
	return out, nil
}

func fixtureIAMResources(project string) []models.Resource {
	return []models.Resource{
		{
			ID:       "projects/" + project,
			Type:     models.ResourceGCPProject,
			Provider: "gcp",
			IAMBindings: []models.IAMBinding{
				{Role: "roles/owner", Members: []string{"user:admin@example.com", "user:developer@example.com"}},
				{Role: "roles/editor", Members: []string{"serviceAccount:app-sa@" + project + ".iam.gserviceaccount.com"}},
				{Role: "roles/viewer", Members: []string{"user:auditor@example.com"}},
			},
			Metadata: map[string]any{"etag": "BwXqWz123456"},
		},
	}
}

func fixtureServiceAccounts(project string) []models.Resource {
	return []models.Resource{
		{
			ID:       fmt.Sprintf("projects/%s/serviceAccounts/app-sa@%s.iam.gserviceaccount.com", project, project),
			Type:     models.ResourceGCPServiceAccount,
			Provider: "gcp",
			Metadata: map[string]any{"display_name": "Application service account", "disabled": false},
		},
		{
			ID:       fmt.Sprintf("projects/%s/serviceAccounts/ci-sa@%s.iam.gserviceaccount.com", project, project),
			Type:     models.ResourceGCPServiceAccount,
			Provider: "gcp",
			Metadata: map[string]any{"display_name": "CI deployer", "disabled": false},
		},
	}
}

func fixtureBuckets(project string) []models.Resource {
	return []models.Resource{
		{
			ID:       fmt.Sprintf("buckets/%s-public-assets", project),
			Type:     models.ResourceGCSBucket,
			Provider: "gcp",
			IAMBindings: []models.IAMBinding{
				{Role: "roles/storage.objectViewer", Members: []string{"allUsers"}},
			},
			Metadata: map[string]any{"location": "US", "uniform_bucket_level_access": false},
		},
		{
			ID:       fmt.Sprintf("buckets/%s-backups", project),
			Type:     models.ResourceGCSBucket,
			Provider: "gcp",
			Metadata: map[string]any{"location": "US", "uniform_bucket_level_access": true},
		},
	}
}

// fixtureModel derives findings from the collected resources with fixed
// wording. Deterministic: same input, same output, no network.
type fixtureModel struct{}

func (m *fixtureModel) Name() string { return "fixture" }

func (m *fixtureModel) Analyze(ctx context.Context, project string, resources []models.Resource) ([]models.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var findings []models.Finding
	for _, r := range resources {
		for _, b := range r.IAMBindings {
			switch {
			case b.Role == "roles/owner" && len(b.Members) > 1:
				findings = append(findings, models.Finding{
					Title:      "Overly Permissive Owner Role Assignment",
					Severity:   models.SeverityHigh,
					ResourceID: r.ID,
					Explanation: fmt.Sprintf(
						"%d principals hold roles/owner on %s, granting full administrative access to every resource in the project. This violates the principle of least privilege.",
						len(b.Members), r.ID),
					Recommendation: "Remove roles/owner from non-essential principals and grant narrowly scoped predefined or custom roles instead.",
				})
			case b.Role == "roles/editor" && hasServiceAccountMember(b.Members):
				findings = append(findings, models.Finding{
					Title:      "Service Account with Editor Role",
					Severity:   models.SeverityMedium,
					ResourceID: r.ID,
					Explanation: fmt.Sprintf(
						"A service account holds roles/editor on %s, which includes broad modification permissions across the project.",
						r.ID),
					Recommendation: "Replace roles/editor with roles matching the service account's actual needs, e.g. roles/storage.objectAdmin or a minimal custom role.",
				})
			case memberListContains(b.Members, "allUsers") || memberListContains(b.Members, "allAuthenticatedUsers"):
				findings = append(findings, models.Finding{
					Title:          "Publicly Accessible Storage Bucket",
					Severity:       models.SeverityMedium,
					ResourceID:     r.ID,
					Explanation:    fmt.Sprintf("%s grants %s to all users, exposing its contents to the public internet.", r.ID, b.Role),
					Recommendation: "Remove the allUsers/allAuthenticatedUsers grant and serve public content through a CDN or signed URLs.",
				})
			}
		}
	}

	if len(findings) == 0 {
		findings = append(findings, models.Finding{
			Title:          "No High-Risk IAM Configuration Detected",
			Severity:       models.SeverityInfo,
			Explanation:    fmt.Sprintf("The collected configuration for %s contains no bindings matching the fixture risk patterns.", project),
			Recommendation: "Continue periodic audits.",
		})
	}
	return findings, nil
}

func hasServiceAccountMember(members []string) bool {
	for _, m := range members {
		if strings.HasPrefix(m, "serviceAccount:") {
			return true
		}
	}
	return false
}

func memberListContains(members []string, want string) bool {
	for _, m := range members {
		if m == want {
			return true
		}
	}
	return false
}
