package models

import "time"

// ResourceType identifies the kind of cloud resource a collected entry refers to.
type ResourceType string

const (
	// GCP resource types
	ResourceGCPProject        ResourceType = "GCP_PROJECT"
	ResourceGCPServiceAccount ResourceType = "GCP_SERVICE_ACCOUNT"
	ResourceGCSBucket         ResourceType = "GCS_BUCKET"

	// AWS resource types
	ResourceAWSAccount       ResourceType = "AWS_ACCOUNT"
	ResourceAWSIAMUser       ResourceType = "AWS_IAM_USER"
	ResourceAWSIAMRole       ResourceType = "AWS_IAM_ROLE"
	ResourceAWSS3Bucket      ResourceType = "AWS_S3_BUCKET"
	ResourceAWSSecurityGroup ResourceType = "AWS_SECURITY_GROUP"
)

// IAMBinding is one role-to-members grant attached to a resource.
type IAMBinding struct {
	Role    string   `json:"role"`
	Members []string `json:"members"`
}

// Resource is a single collected cloud entity. It is the atomic element of
// the collected artifact and is produced only by the Collect stage.
type Resource struct {
	ID          string         `json:"id"`
	Type        ResourceType   `json:"type"`
	Provider    string         `json:"provider"`
	IAMBindings []IAMBinding   `json:"iam_bindings,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CollectedArtifact is the schema-versioned payload of the "collected" slot.
type CollectedArtifact struct {
	SchemaVersion string     `json:"schema_version"`
	ProjectID     string     `json:"project_id"`
	CollectedAt   time.Time  `json:"collected_at"`
	Resources     []Resource `json:"resources"`
}

// CollectedSchemaVersion is embedded in every collected artifact so later
// pipeline invocations can detect stale or incompatible inputs.
const CollectedSchemaVersion = "collected/v1"
