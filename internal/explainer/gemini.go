package explainer

import (
	"context"
	"fmt"

	genai "google.golang.org/genai"

	"cloudaudit/internal/config"
	"cloudaudit/internal/invoke"
	"cloudaudit/internal/models"
)

// GeminiModel is the live analysis model, served by Vertex AI. Calls go
// through the invoker so they share the run's timeout and retry policy.
type GeminiModel struct {
	client  *genai.Client
	model   string
	invoker invoke.Invoker
}

// NewGeminiModel builds the Vertex AI client for cfg. Authentication uses
// Application Default Credentials.
func NewGeminiModel(ctx context.Context, cfg config.ModelConfig, invoker invoke.Invoker) (*GeminiModel, error) {
	if cfg.Project == "" {
		return nil, &config.Error{
			Field:  "model.project",
			Reason: "required for live analysis; set model.project or $GOOGLE_CLOUD_PROJECT",
		}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:  genai.BackendVertexAI,
		Project:  cfg.Project,
		Location: cfg.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex ai client: %w", err)
	}
	return &GeminiModel{client: client, model: cfg.Name, invoker: invoker}, nil
}

func (m *GeminiModel) Name() string { return "gemini:" + m.model }

// Analyze sends the inventory to the model and parses the JSON findings
// array from its response.
func (m *GeminiModel) Analyze(ctx context.Context, project string, resources []models.Resource) ([]models.Finding, error) {
	prompt := buildPrompt(project, resources)

	resp, err := m.invoker.Invoke(ctx, invoke.Request{
		Service:   "vertex.gemini",
		Operation: "generateContent",
		Call: func(ctx context.Context) (any, error) {
			return m.client.Models.GenerateContent(ctx, m.model,
				[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
				&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
			)
		},
	})
	if err != nil {
		return nil, err
	}

	out := resp.(*genai.GenerateContentResponse)
	if len(out.Candidates) == 0 || out.Candidates[0].Content == nil || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("model returned an empty response")
	}
	return parseFindings(out.Candidates[0].Content.Parts[0].Text)
}
