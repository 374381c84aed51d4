package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2/google"

	"cloudaudit/internal/artifact"
	"cloudaudit/internal/config"
)

// DoctorResult is the structured output of cloudaudit doctor. It can be
// serialised to JSON via --format=json or rendered as a human-readable
// listing (default).
type DoctorResult struct {
	Config struct {
		Loaded bool   `json:"loaded"`
		Error  string `json:"error,omitempty"`
	} `json:"config"`

	ArtifactStore struct {
		Dir      string `json:"dir"`
		Writable bool   `json:"writable"`
		Error    string `json:"error,omitempty"`
	} `json:"artifact_store"`

	GCP struct {
		Credentials bool   `json:"credentials_ok"`
		Project     string `json:"project,omitempty"`
		Error       string `json:"error,omitempty"`
	} `json:"gcp"`

	AWS struct {
		Credentials bool   `json:"credentials_ok"`
		Error       string `json:"error,omitempty"`
	} `json:"aws"`

	Model struct {
		Name       string `json:"name"`
		ProjectSet bool   `json:"project_set"`
	} `json:"model"`

	OverallHealthy bool `json:"overall_healthy"`
}

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "doctor",
		Short:         "Run environment diagnostics",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			configPath, _ := cmd.Flags().GetString("config")
			result, err := runDoctor(cmd.Context(), cmd.OutOrStdout(), format, configPath)
			if err != nil {
				// Rendering failure — let Cobra/main handle it.
				return err
			}
			if !result.OverallHealthy {
				// Exit directly so no error text reaches main's stderr path.
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().String("format", "table", `Output format: "table" or "json"`)
	cmd.Flags().String("config", "", "Path to a YAML config file")
	return cmd
}

// runDoctor collects the diagnostic results, renders them to w in the
// requested format, and returns the result. The returned error covers only
// rendering failures; callers inspect result.OverallHealthy.
func runDoctor(ctx context.Context, w io.Writer, format, configPath string) (DoctorResult, error) {
	result := collectDoctorResult(ctx, configPath)

	switch format {
	case "json":
		if err := json.NewEncoder(w).Encode(result); err != nil {
			return result, fmt.Errorf("encode doctor result: %w", err)
		}
	default:
		renderDoctorTable(result, w)
	}

	return result, nil
}

// collectDoctorResult runs all environment checks. Healthy means: config
// loads, the artifact directory is writable, and at least one cloud
// credential chain resolves. The model project is informational only; mock
// runs never need it.
func collectDoctorResult(ctx context.Context, configPath string) DoctorResult {
	var result DoctorResult

	cfg, err := config.Load(configPath)
	if err != nil {
		result.Config.Error = err.Error()
	} else {
		result.Config.Loaded = true
	}

	result.ArtifactStore.Dir = cfg.OutputDir
	if _, err := artifact.NewStore(cfg.OutputDir, nil); err != nil {
		result.ArtifactStore.Error = err.Error()
	} else {
		result.ArtifactStore.Writable = true
	}

	if creds, err := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/cloud-platform"); err != nil {
		result.GCP.Error = err.Error()
	} else {
		result.GCP.Credentials = true
		result.GCP.Project = creds.ProjectID
	}

	if awsCfg, err := awsconfig.LoadDefaultConfig(ctx); err != nil {
		result.AWS.Error = err.Error()
	} else if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		result.AWS.Error = err.Error()
	} else {
		result.AWS.Credentials = true
	}

	result.Model.Name = cfg.Model.Name
	result.Model.ProjectSet = cfg.Model.Project != ""

	result.OverallHealthy = result.Config.Loaded &&
		result.ArtifactStore.Writable &&
		(result.GCP.Credentials || result.AWS.Credentials)

	return result
}

// renderDoctorTable writes the human-readable diagnostic output to w.
func renderDoctorTable(result DoctorResult, w io.Writer) {
	fmt.Fprintln(w, "Environment Diagnostics")

	fmt.Fprintln(w, "\nConfig:")
	if result.Config.Loaded {
		doctorPrint(w, "Loadable", "OK", "")
	} else {
		doctorPrint(w, "Loadable", "FAIL", result.Config.Error)
	}

	fmt.Fprintln(w, "\nArtifact store:")
	if result.ArtifactStore.Writable {
		doctorPrint(w, "Directory writable", "OK", result.ArtifactStore.Dir)
	} else {
		doctorPrint(w, "Directory writable", "FAIL", result.ArtifactStore.Error)
	}

	fmt.Fprintln(w, "\nGCP:")
	if result.GCP.Credentials {
		detail := ""
		if result.GCP.Project != "" {
			detail = "Project: " + result.GCP.Project
		}
		doctorPrint(w, "Application Default Credentials", "OK", detail)
	} else {
		doctorPrint(w, "Application Default Credentials", "FAIL", result.GCP.Error)
	}

	fmt.Fprintln(w, "\nAWS:")
	if result.AWS.Credentials {
		doctorPrint(w, "Credentials", "OK", "")
	} else {
		doctorPrint(w, "Credentials", "FAIL", result.AWS.Error)
	}

	fmt.Fprintln(w, "\nModel:")
	doctorPrint(w, "Name", result.Model.Name, "")
	if result.Model.ProjectSet {
		doctorPrint(w, "Project", "set", "")
	} else {
		doctorPrint(w, "Project", "not set", "live explain will fall back to --project-id")
	}
}

// doctorPrint writes a single diagnostic check line to w. When detail is
// non-empty it is appended in parentheses.
func doctorPrint(w io.Writer, label, status, detail string) {
	if detail != "" {
		fmt.Fprintf(w, "  %s: %s (%s)\n", label, status, detail)
	} else {
		fmt.Fprintf(w, "  %s: %s\n", label, status)
	}
}
