package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/topichub/internal/app"
	"github.com/3leaps/topichub/internal/config"
	"github.com/3leaps/topichub/internal/observability"
	"github.com/3leaps/topichub/pkg/labeler"
	"github.com/3leaps/topichub/pkg/manifest"
	"github.com/3leaps/topichub/pkg/output"
	"github.com/3leaps/topichub/pkg/pipeline"
	"github.com/3leaps/topichub/pkg/topics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one clustering job from a manifest",
	Long: `Run a clustering job in the foreground as defined in a YAML or JSON
manifest file. Progress, topics, suggestions and a summary are written as
JSONL records.

Example:
  topichub run --job feedback.yaml
  topichub run --job feedback.yaml --output file:topics.jsonl
  topichub run --job feedback.yaml --quiet
  topichub run --job feedback.yaml --dry-run`,
	RunE: runRun,
}

var (
	runJobPath    string
	runOutput     string
	runResultFile string
	runQuiet      bool
	runDryRun     bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runJobPath, "job", "j", "", "Path to job manifest (required)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Override output destination")
	runCmd.Flags().StringVar(&runResultFile, "result-file", "", "Write the full result as JSON to this path")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress progress records")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate manifest, list inputs and exit")

	_ = runCmd.MarkFlagRequired("job")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	m, err := manifest.Load(runJobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", runJobPath),
			zap.Error(err))
		return exitError(ExitUsage, "Invalid manifest", err)
	}
	if runOutput != "" {
		m.Output.Destination = runOutput
	}
	if runResultFile != "" {
		m.Output.ResultFile = runResultFile
	}
	if runQuiet {
		enabled := false
		m.Output.Progress = &enabled
	}

	texts, files, err := m.Inputs.Texts(ctx)
	if err != nil {
		return exitError(ExitDataError, "Failed to read inputs", err)
	}
	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", runJobPath),
		zap.Int("files", len(files)),
		zap.Int("texts", len(texts)),
		zap.String("algorithm", string(m.Clustering.Algorithm)))

	if runDryRun {
		return showRunPlan(m, files, texts)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return executeRun(ctx, cfg, m, files, texts)
}

func showRunPlan(m *manifest.Manifest, files, texts []string) error {
	fmt.Println("=== Run Plan (dry-run) ===")
	fmt.Println()
	fmt.Printf("Base dir:     %s\n", m.Inputs.BaseDir)
	fmt.Printf("Includes:     %s\n", strings.Join(m.Inputs.Includes, ", "))
	if len(m.Inputs.Excludes) > 0 {
		fmt.Printf("Excludes:     %s\n", strings.Join(m.Inputs.Excludes, ", "))
	}
	fmt.Printf("Files:        %d\n", len(files))
	fmt.Printf("Texts:        %d\n", len(texts))
	fmt.Printf("Clustering:   %s\n", m.Clustering.String())
	fmt.Printf("Output:       %s\n", m.Output.Destination)
	if m.Output.ResultFile != "" {
		fmt.Printf("Result file:  %s\n", m.Output.ResultFile)
	}
	return nil
}

func executeRun(ctx context.Context, cfg *config.Config, m *manifest.Manifest, files, texts []string) error {
	w, cleanup, err := createWriter(m)
	if err != nil {
		return exitError(ExitUsage, "Invalid output destination", err)
	}
	defer cleanup()

	var onProgress func(pipeline.Event)
	if m.Output.ProgressEnabled() {
		onProgress = func(e pipeline.Event) {
			if e.Status == topics.StatusCompleted || e.Status == topics.StatusFailed {
				return
			}
			w.SetJobID(e.JobID)
			if err := w.WriteProgress(ctx, &output.ProgressRecord{
				Status:   string(e.Status),
				Progress: e.Progress,
				Step:     e.Step,
			}); err != nil {
				observability.CLILogger.Debug("Failed to write progress record", zap.Error(err))
			}
		}
	}

	a, err := app.New(ctx, cfg, app.Options{Logger: observability.CLILogger, OnProgress: onProgress})
	if err != nil {
		return exitError(ExitServiceUnavailable, "Failed to start services", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			observability.CLILogger.Warn("Shutdown incomplete", zap.Error(err))
		}
	}()

	start := time.Now()
	jobID, err := a.Orchestrator.Submit(ctx, texts, m.Clustering, m.Iteration)
	if err != nil {
		writeErrorRecord(ctx, w, err)
		return exitError(ExitDataError, "Job rejected", err)
	}
	w.SetJobID(jobID)
	_ = w.WriteJob(ctx, &output.JobRecord{
		Manifest:  runJobPath,
		Sources:   files,
		TextCount: len(texts),
		Iteration: m.Iteration,
	})
	observability.CLILogger.Info("Starting run", zap.String("job_id", jobID), zap.Int("texts", len(texts)))

	a.Orchestrator.Wait()

	job, err := a.Registry.Get(ctx, jobID)
	if err != nil {
		return exitError(ExitFailure, "Job record missing", err)
	}
	if job.Status != topics.StatusCompleted {
		jobErr := fmt.Errorf("%s", job.Error)
		writeErrorRecord(ctx, w, jobErr)
		return exitError(ExitFailure, "Job failed", jobErr)
	}

	result, err := a.Registry.Result(ctx, jobID)
	if err != nil {
		return exitError(ExitFailure, "Job result missing", err)
	}
	if err := output.WriteResult(ctx, w, result); err != nil {
		return exitError(ExitFailure, "Failed to write topics", err)
	}
	if m.Output.ResultFile != "" {
		if err := writeResultFile(m.Output.ResultFile, result); err != nil {
			return exitError(ExitFailure, "Failed to write result file", err)
		}
	}

	elapsed := time.Since(start)
	summary := &output.SummaryRecord{
		Status:           string(job.Status),
		TotalDocuments:   result.TotalDocuments,
		Topics:           len(result.Topics),
		Noise:            result.Noise,
		Suggestions:      len(result.Suggestions),
		OverallCoherence: labeler.Analyze(result.Topics, nil).OverallCoherence,
		Duration:         elapsed,
		DurationHuman:    elapsed.Round(time.Millisecond).String(),
		ResultFile:       m.Output.ResultFile,
	}
	if err := w.WriteSummary(ctx, summary); err != nil {
		return exitError(ExitFailure, "Failed to write summary", err)
	}
	observability.CLILogger.Info("Run completed",
		zap.String("job_id", jobID),
		zap.Int("topics", summary.Topics),
		zap.Int("noise", summary.Noise),
		zap.Duration("duration", elapsed))
	return nil
}

func writeErrorRecord(ctx context.Context, w output.Writer, err error) {
	code := output.ErrCodeInternal
	switch topics.KindOf(err) {
	case topics.KindInvalidInput:
		code = output.ErrCodeInvalidInput
	case topics.KindNotFound, topics.KindSourceNotFound:
		code = output.ErrCodeNotFound
	case topics.KindCapacityExceeded:
		code = output.ErrCodeQueueFull
	case topics.KindUpstreamUnavailable:
		code = output.ErrCodeUpstream
	case topics.KindTimeout:
		code = output.ErrCodeTimeout
	}
	if werr := w.WriteError(ctx, &output.ErrorRecord{Code: code, Message: err.Error()}); werr != nil {
		observability.CLILogger.Debug("Failed to emit error record", zap.Error(werr))
	}
}

func writeResultFile(path string, r *topics.Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// createWriter creates an output writer from manifest configuration.
// Returns the writer, a cleanup function, and any error.
func createWriter(m *manifest.Manifest) (*output.JSONLWriter, func(), error) {
	dest := m.Output.Destination
	encoderName := m.Clustering.EncoderModel

	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, "", encoderName)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, "", encoderName)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
