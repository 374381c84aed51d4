package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2/google"

	"cloudaudit/internal/invoke"
	"cloudaudit/internal/mode"
	"cloudaudit/internal/models"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// gcpClient issues authenticated REST calls against the Google Cloud APIs.
// All calls go through the invoker, which owns timeouts and retries.
type gcpClient struct {
	http    *http.Client
	invoker invoke.Invoker
	project string
}

// NewGCPSources builds the live GCP sub-collectors for project using
// Application Default Credentials.
func NewGCPSources(ctx context.Context, project string, invoker invoke.Invoker) ([]mode.Source, error) {
	hc, err := google.DefaultClient(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("google application default credentials: %w", err)
	}
	c := &gcpClient{http: hc, invoker: invoker, project: project}
	return []mode.Source{
		&gcpIAMPolicySource{c: c},
		&gcpServiceAccountSource{c: c},
		&gcpBucketSource{c: c},
	}, nil
}

// getJSON performs one retried REST call and decodes the response body into
// out.
func (c *gcpClient) getJSON(ctx context.Context, op, method, url string, reqBody, out any) error {
	resp, err := c.invoker.Invoke(ctx, invoke.Request{
		Service:   "gcp",
		Operation: op,
		Call: func(ctx context.Context) (any, error) {
			return c.do(ctx, method, url, reqBody)
		},
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(resp.([]byte), out)
}

func (c *gcpClient) do(ctx context.Context, method, url string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &invoke.StatusError{Code: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// gcpIAMPolicySource fetches the project-level IAM policy from Cloud
// Resource Manager.
type gcpIAMPolicySource struct {
	c *gcpClient
}

func (s *gcpIAMPolicySource) Name() string { return "gcp/iam-policy" }

func (s *gcpIAMPolicySource) Collect(ctx context.Context) ([]models.Resource, error) {
	url := fmt.Sprintf("https://cloudresourcemanager.googleapis.com/v1/projects/%s:getIamPolicy", s.c.project)

	var policy struct {
		Bindings []struct {
			Role    string   `json:"role"`
			Members []string `json:"members"`
		} `json:"bindings"`
		Etag string `json:"etag"`
	}
	if err := s.c.getJSON(ctx, "getIamPolicy", http.MethodPost, url, struct{}{}, &policy); err != nil {
		return nil, err
	}

	bindings := make([]models.IAMBinding, 0, len(policy.Bindings))
	for _, b := range policy.Bindings {
		bindings = append(bindings, models.IAMBinding{Role: b.Role, Members: b.Members})
	}

	return []models.Resource{{
		ID:          "projects/" + s.c.project,
		Type:        models.ResourceGCPProject,
		Provider:    "gcp",
		IAMBindings: bindings,
		Metadata:    map[string]any{"etag": policy.Etag},
	}}, nil
}

// gcpServiceAccountSource lists the project's service accounts.
type gcpServiceAccountSource struct {
	c *gcpClient
}

func (s *gcpServiceAccountSource) Name() string { return "gcp/service-accounts" }

func (s *gcpServiceAccountSource) Collect(ctx context.Context) ([]models.Resource, error) {
	var out []models.Resource
	pageToken := ""
	for {
		url := fmt.Sprintf("https://iam.googleapis.com/v1/projects/%s/serviceAccounts", s.c.project)
		if pageToken != "" {
			url += "?pageToken=" + pageToken
		}

		var page struct {
			Accounts []struct {
				Name        string `json:"name"`
				Email       string `json:"email"`
				DisplayName string `json:"displayName"`
				Disabled    bool   `json:"disabled"`
			} `json:"accounts"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := s.c.getJSON(ctx, "serviceAccounts.list", http.MethodGet, url, nil, &page); err != nil {
			return nil, err
		}

		for _, a := range page.Accounts {
			out = append(out, models.Resource{
				ID:       a.Name,
				Type:     models.ResourceGCPServiceAccount,
				Provider: "gcp",
				Metadata: map[string]any{
					"email":        a.Email,
					"display_name": a.DisplayName,
					"disabled":     a.Disabled,
				},
			})
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			return out, nil
		}
	}
}

// gcpBucketSource lists the project's storage buckets and fetches each
// bucket's IAM policy, so public grants surface in the inventory.
type gcpBucketSource struct {
	c *gcpClient
}

func (s *gcpBucketSource) Name() string { return "gcp/storage-buckets" }

func (s *gcpBucketSource) Collect(ctx context.Context) ([]models.Resource, error) {
	url := "https://storage.googleapis.com/storage/v1/b?project=" + s.c.project

	var list struct {
		Items []struct {
			Name             string `json:"name"`
			Location         string `json:"location"`
			IAMConfiguration struct {
				UniformBucketLevelAccess struct {
					Enabled bool `json:"enabled"`
				} `json:"uniformBucketLevelAccess"`
			} `json:"iamConfiguration"`
		} `json:"items"`
	}
	if err := s.c.getJSON(ctx, "buckets.list", http.MethodGet, url, nil, &list); err != nil {
		return nil, err
	}

	out := make([]models.Resource, 0, len(list.Items))
	for _, b := range list.Items {
		bindings, err := s.bucketIAM(ctx, b.Name)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", b.Name, err)
		}
		out = append(out, models.Resource{
			ID:          "buckets/" + b.Name,
			Type:        models.ResourceGCSBucket,
			Provider:    "gcp",
			IAMBindings: bindings,
			Metadata: map[string]any{
				"location":                    b.Location,
				"uniform_bucket_level_access": b.IAMConfiguration.UniformBucketLevelAccess.Enabled,
			},
		})
	}
	return out, nil
}

func (s *gcpBucketSource) bucketIAM(ctx context.Context, bucket string) ([]models.IAMBinding, error) {
	url := fmt.Sprintf("https://storage.googleapis.com/storage/v1/b/%s/iam", bucket)

	var policy struct {
		Bindings []struct {
			Role    string   `json:"role"`
			Members []string `json:"members"`
		} `json:"bindings"`
	}
	if err := s.c.getJSON(ctx, "buckets.getIamPolicy", http.MethodGet, url, nil, &policy); err != nil {
		return nil, err
	}

	bindings := make([]models.IAMBinding, 0, len(policy.Bindings))
	for _, b := range policy.Bindings {
		bindings = append(bindings, models.IAMBinding{Role: b.Role, Members: b.Members})
	}
	return bindings, nil
}
