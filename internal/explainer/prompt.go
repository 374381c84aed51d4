package explainer

import (
	"encoding/json"
	"fmt"
	"strings"

	"cloudaudit/internal/models"
)

// promptHeader instructs the model to answer with a bare JSON array so the
// response parses without post-processing. Models still occasionally wrap
// the array in a Markdown code fence; parseFindings strips it.
const promptHeader = `You are a cloud security auditor reviewing the configuration of project %q.

Analyze the resources below for security risks. Focus on:
- overly permissive IAM role assignments (owner/editor held broadly)
- service accounts holding primitive roles
- storage buckets readable by allUsers or allAuthenticatedUsers
- security groups with ingress open to the internet
- unused or stale identities

Respond with a JSON array only. Each element must have exactly these fields:
  "title": short name of the issue
  "severity": one of "CRITICAL", "HIGH", "MEDIUM", "LOW", "INFO"
  "resource_id": the id of the affected resource
  "explanation": why this is a risk, two sentences at most
  "recommendation": the concrete remediation step

Return [] if nothing is wrong. Do not add any text outside the JSON array.

Resources:
`

// buildPrompt renders the analysis prompt for one collected inventory.
func buildPrompt(project string, resources []models.Resource) string {
	var b strings.Builder
	fmt.Fprintf(&b, promptHeader, project)

	body, err := json.MarshalIndent(resources, "", "  ")
	if err != nil {
		// Resources came out of a validated artifact; marshalling them back
		// cannot fail on real data.
		body = []byte("[]")
	}
	b.Write(body)
	b.WriteString("\n")
	return b.String()
}

// parseFindings decodes the model's response into findings. A surrounding
// Markdown code fence is tolerated and removed.
func parseFindings(text string) ([]models.Finding, error) {
	cleaned := stripFence(strings.TrimSpace(text))

	var findings []models.Finding
	if err := json.Unmarshal([]byte(cleaned), &findings); err != nil {
		return nil, fmt.Errorf("response is not a JSON findings array: %w", err)
	}
	return findings, nil
}

// stripFence removes a wrapping ``` or ```json fence, if present.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
