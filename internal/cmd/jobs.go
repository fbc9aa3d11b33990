package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/topichub/internal/app"
	"github.com/3leaps/topichub/internal/observability"
	"github.com/3leaps/topichub/pkg/jobregistry"
	"github.com/3leaps/topichub/pkg/output"
	"github.com/3leaps/topichub/pkg/topics"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage stored jobs",
	Long: `Inspect and manage jobs kept in the artifact store.

These commands need a persistent store (sqlite or s3); the memory store
only lives as long as a serve process.

Examples:
  topichub jobs list --store sqlite
  topichub jobs status <job-id>
  topichub jobs result <job-id> --jsonl
  topichub jobs delete <job-id>
  topichub jobs gc`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job's status",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsResultCmd = &cobra.Command{
	Use:   "result <job-id>",
	Short: "Print a completed job's result",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsResult,
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job and all of its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDelete,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Drop expired artifacts from the store",
	Args:  cobra.NoArgs,
	RunE:  runJobsGC,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsStatusCmd, jobsResultCmd, jobsDeleteCmd, jobsGCCmd)

	for _, c := range []*cobra.Command{jobsListCmd, jobsStatusCmd, jobsResultCmd, jobsDeleteCmd, jobsGCCmd} {
		c.Flags().Bool("json", false, "Output as JSON")
	}
	jobsResultCmd.Flags().Bool("jsonl", false, "Output topic and suggestion records as JSONL")
}

// openRegistry opens the configured persistent store and a registry over it.
func openRegistry(cmd *cobra.Command) (*jobregistry.Registry, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := requirePersistentStore(cfg); err != nil {
		return nil, nil, err
	}
	store, err := app.OpenStore(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, nil, exitError(ExitServiceUnavailable, "Failed to open store", err)
	}
	reg, err := app.NewRegistry(store, cfg, observability.CLILogger)
	if err != nil {
		_ = store.Close()
		return nil, nil, exitError(ExitConfigError, "Invalid job settings", err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			observability.CLILogger.Warn("Failed to close store", zap.Error(err))
		}
	}
	return reg, cleanup, nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	reg, cleanup, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	jobs, err := reg.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		if jobs == nil {
			jobs = []jobregistry.Job{}
		}
		return printJSON(map[string]any{"jobs": jobs})
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No jobs found")
		return nil
	}
	return printJobsTable(jobs)
}

func printJobsTable(jobs []jobregistry.Job) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tSTATUS\tPROGRESS\tTEXTS\tALGORITHM\tITER\tCREATED\tSTEP")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%d\t%s\t%d\t%s\t%s\n",
			j.ID,
			j.Status,
			j.Progress,
			j.TextCount,
			j.Config.Algorithm,
			j.Iteration,
			formatRelativeTime(j.CreatedAt),
			truncate(j.CurrentStep, 40),
		)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	reg, cleanup, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	job, err := reg.Get(cmd.Context(), args[0])
	if err != nil {
		return jobLookupError(err)
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(job)
	}

	printf("Job:        %s\n", job.ID)
	printf("Status:     %s\n", job.Status)
	printf("Progress:   %.0f%%\n", job.Progress)
	printf("Step:       %s\n", job.CurrentStep)
	printf("Texts:      %d\n", job.TextCount)
	printf("Iteration:  %d\n", job.Iteration)
	printf("Config:     %s\n", job.Config.String())
	printf("Created:    %s\n", job.CreatedAt.Format(time.RFC3339))
	printf("Updated:    %s\n", job.UpdatedAt.Format(time.RFC3339))
	if job.Error != "" {
		printf("Error:      %s\n", job.Error)
	}
	return nil
}

func runJobsResult(cmd *cobra.Command, args []string) error {
	reg, cleanup, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	result, err := reg.Result(ctx, args[0])
	if err != nil {
		return jobLookupError(err)
	}

	if jsonl, _ := cmd.Flags().GetBool("jsonl"); jsonl {
		w := output.NewJSONLWriter(os.Stdout, args[0], "")
		defer func() { _ = w.Close() }()
		return output.WriteResult(ctx, w, result)
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(result)
	}
	return printTopicsTable(result)
}

func printTopicsTable(r *topics.Result) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tLABEL\tDOCS\tCOHERENCE\tKEYWORDS")
	for _, t := range r.Topics {
		keywords := t.Keywords
		if len(keywords) > 5 {
			keywords = keywords[:5]
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%.2f\t%v\n", t.ID, truncate(t.Label, 40), t.DocumentCount, t.CoherenceScore, keywords)
	}
	_, _ = fmt.Fprintf(w, "\nnoise=%d total=%d suggestions=%d\n", r.Noise, r.TotalDocuments, len(r.Suggestions))
	return nil
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	reg, cleanup, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	deleted, err := reg.Delete(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if !deleted {
		return exitError(ExitDataError, "Job not found", fmt.Errorf("no job %s", args[0]))
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(map[string]any{"jobId": args[0], "deleted": true})
	}
	printf("deleted=%s\n", args[0])
	return nil
}

type jobsGCResult struct {
	Purged int64 `json:"purged"`
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	reg, cleanup, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := reg.Purge(cmd.Context())
	if err != nil {
		return fmt.Errorf("purge expired artifacts: %w", err)
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return printJSON(jobsGCResult{Purged: n})
	}
	printf("purged=%d\n", n)
	return nil
}

func jobLookupError(err error) error {
	if topics.IsNotFound(err) {
		return exitError(ExitDataError, "Job not found", err)
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatRelativeTime formats a time as relative to now.
func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
