package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"cloudaudit/internal/artifact"
	"cloudaudit/internal/collector"
	"cloudaudit/internal/config"
	"cloudaudit/internal/explainer"
	"cloudaudit/internal/invoke"
	"cloudaudit/internal/mode"
	"cloudaudit/internal/models"
	"cloudaudit/internal/output"
	"cloudaudit/internal/pipeline"
	"cloudaudit/internal/reporter"
	"cloudaudit/internal/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cloudaudit",
		Short:         "cloudaudit — collect, explain, and report on cloud security posture",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newAuditCmd(),
		newCollectCmd(),
		newExplainCmd(),
		newReportCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)
	return root
}

// runFlags are the flags shared by the pipeline commands.
type runFlags struct {
	projectID  string
	useMock    bool
	outputDir  string
	providers  []string
	configPath string
	colored    bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.projectID, "project-id", "", "Project to audit (required)")
	cmd.Flags().BoolVar(&f.useMock, "use-mock", false, "Run against built-in fixtures instead of live cloud APIs")
	cmd.Flags().StringVar(&f.outputDir, "output-dir", "", "Artifact directory (default: config output_dir)")
	cmd.Flags().StringSliceVar(&f.providers, "providers", nil, "Cloud providers to collect from: gcp, aws (default: config providers)")
	cmd.Flags().StringVar(&f.configPath, "config", "", "Path to a YAML config file")
	cmd.Flags().BoolVar(&f.colored, "color", false, "Colorize severity output")
	_ = cmd.MarkFlagRequired("project-id")
}

func newAuditCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run the full pipeline: collect, explain, report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, flags, "collect", "explain", "report")
		},
	}
	flags.register(cmd)
	return cmd
}

func newCollectCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect the cloud configuration into the collected artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, flags, "collect")
		},
	}
	flags.register(cmd)
	return cmd
}

func newExplainCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Analyze a previously collected artifact into findings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, flags, "explain")
		},
	}
	flags.register(cmd)
	return cmd
}

func newReportCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the audit report from previously explained findings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, flags, "report")
		},
	}
	flags.register(cmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.Info())
		},
	}
}

// runStages wires the store, adapter, and strategy from config and flags,
// then executes the named stages in order.
func runStages(cmd *cobra.Command, flags runFlags, stageNames ...string) error {
	ctx := cmd.Context()
	log := slog.Default()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.outputDir != "" {
		cfg.OutputDir = flags.outputDir
	}
	if len(flags.providers) > 0 {
		cfg.Providers = flags.providers
	}
	if cfg.Model.Project == "" {
		cfg.Model.Project = flags.projectID
	}

	store, err := artifact.NewStore(cfg.OutputDir, log)
	if err != nil {
		return err
	}
	if cfg.Mirror.Enabled() {
		m, err := artifact.NewObjectMirror(cfg.Mirror)
		if err != nil {
			return fmt.Errorf("artifact mirror: %w", err)
		}
		store = store.WithMirror(m)
	}

	adapter := invoke.NewAdapter(invoke.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Timeout:     cfg.Retry.Timeout.Std(),
		BackoffBase: cfg.Retry.BackoffBase.Std(),
		BackoffCap:  cfg.Retry.BackoffCap.Std(),
		Jitter:      !cfg.Retry.DisableJitter,
	}, log)

	m := mode.ForMock(flags.useMock)
	deps, err := liveDeps(ctx, m, cfg, flags.projectID, adapter, stageNames)
	if err != nil {
		return err
	}
	strategy, err := mode.Resolve(m, flags.projectID, deps)
	if err != nil {
		return err
	}

	var stages []pipeline.Stage
	for _, name := range stageNames {
		switch name {
		case "collect":
			stages = append(stages, collector.New(flags.projectID, cfg.Workers, log))
		case "explain":
			stages = append(stages, explainer.New(log))
		case "report":
			stages = append(stages, reporter.New(log))
		}
	}

	result, err := pipeline.NewController(store, stages, log).Run(ctx, flags.projectID, strategy)
	if result != nil {
		printResult(cmd, store, result, flags.colored)
	}
	return err
}

// liveDeps builds the live sources and model, but only those the requested
// stages actually use. Mock runs get empty deps; Resolve ignores them.
func liveDeps(ctx context.Context, m mode.Mode, cfg config.Config, projectID string, adapter invoke.Invoker, stageNames []string) (mode.LiveDeps, error) {
	var deps mode.LiveDeps
	if m != mode.Live {
		return deps, nil
	}

	for _, name := range stageNames {
		switch name {
		case "collect":
			for _, provider := range cfg.Providers {
				switch provider {
				case "gcp":
					sources, err := collector.NewGCPSources(ctx, projectID, adapter)
					if err != nil {
						return deps, err
					}
					deps.Sources = append(deps.Sources, sources...)
				case "aws":
					sources, err := collector.NewAWSSources(ctx, adapter)
					if err != nil {
						return deps, err
					}
					deps.Sources = append(deps.Sources, sources...)
				}
			}
		case "explain":
			model, err := explainer.NewGeminiModel(ctx, cfg.Model, adapter)
			if err != nil {
				return deps, err
			}
			deps.Model = model
		}
	}

	// Partial runs leave gaps: report-only needs no external service at
	// all, collect-only needs no model. Fill the gaps with collaborators
	// that fail loudly if a stage ever reaches them.
	if len(deps.Sources) == 0 {
		deps.Sources = []mode.Source{noopSource{}}
	}
	if deps.Model == nil {
		deps.Model = noopModel{}
	}
	return deps, nil
}

type noopSource struct{}

func (noopSource) Name() string { return "none" }
func (noopSource) Collect(context.Context) ([]models.Resource, error) {
	return nil, fmt.Errorf("no collection source wired for this run")
}

type noopModel struct{}

func (noopModel) Name() string { return "none" }
func (noopModel) Analyze(context.Context, string, []models.Resource) ([]models.Finding, error) {
	return nil, fmt.Errorf("no analysis model wired for this run")
}

// printResult renders the run summary and, when findings are available, the
// severity breakdown and findings table.
func printResult(cmd *cobra.Command, store *artifact.Store, result *pipeline.RunResult, colored bool) {
	w := cmd.OutOrStdout()
	output.RenderRunSummary(w, result)

	if _, ok := result.Artifacts[artifact.SlotExplained]; !ok {
		return
	}
	data, err := store.Read(artifact.SlotExplained)
	if err != nil {
		return
	}
	var explained models.ExplainedArtifact
	if err := json.Unmarshal(data, &explained); err != nil {
		return
	}
	fmt.Fprintln(w)
	output.RenderBreakdown(w, explained.Findings, colored)
	fmt.Fprintln(w)
	output.RenderFindingsTable(w, explained.Findings, colored)
}
