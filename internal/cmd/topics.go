package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/topichub/internal/app"
	"github.com/3leaps/topichub/internal/observability"
	"github.com/3leaps/topichub/pkg/labeler"
	"github.com/3leaps/topichub/pkg/topics"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Edit the topics of a stored job",
	Long: `Edit the stored result of a completed job. Every edit is validated and
written back; a failed edit leaves the stored result unchanged.

Examples:
  topichub topics rename <job-id> 3 "Shipping delays"
  topichub topics merge <job-id> 2,5 "Battery"
  topichub topics split <job-id> 4 --parts 3
  topichub topics reclassify <job-id> 1,2,6 --clusters 4
  topichub topics label <job-id> 1,2
  topichub topics refine <job-id> --focus naming`,
}

var topicsRenameCmd = &cobra.Command{
	Use:   "rename <job-id> <topic-id> <label>",
	Short: "Rename one topic",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[1])
		if err != nil {
			return exitError(ExitUsage, "Invalid topic id", err)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) (any, error) {
			_, rec, err := a.Mutator.RenameJob(ctx, args[0], id, args[2])
			return rec, err
		})
	},
}

var topicsMergeCmd = &cobra.Command{
	Use:   "merge <job-id> <ids> <label>",
	Short: "Merge two or more topics into one",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) (any, error) {
			r, err := a.Mutator.MergeJob(ctx, args[0], ids, args[2])
			if err != nil {
				return nil, err
			}
			return r.MergeInfo, nil
		})
	},
}

var topicsSplitCmd = &cobra.Command{
	Use:   "split <job-id> <topic-id>",
	Short: "Split one topic into subgroups",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[1])
		if err != nil {
			return exitError(ExitUsage, "Invalid topic id", err)
		}
		parts, _ := cmd.Flags().GetInt("parts")
		return withApp(cmd, func(ctx context.Context, a *app.App) (any, error) {
			r, err := a.Mutator.SplitJob(ctx, args[0], id, parts)
			if err != nil {
				return nil, err
			}
			return r.SplitInfo, nil
		})
	},
}

var topicsReclassifyCmd = &cobra.Command{
	Use:   "reclassify <job-id> <ids>",
	Short: "Regroup the documents of several topics",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args[1])
		if err != nil {
			return err
		}
		k, _ := cmd.Flags().GetInt("clusters")
		return withApp(cmd, func(ctx context.Context, a *app.App) (any, error) {
			r, err := a.Mutator.ReclassifyJob(ctx, args[0], ids, k)
			if err != nil {
				return nil, err
			}
			return r.ReclassifyInfo, nil
		})
	},
}

var topicsLabelCmd = &cobra.Command{
	Use:   "label <job-id> <ids>",
	Short: "Regenerate labels for topics",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) (any, error) {
			r, err := a.Mutator.GenerateLabelsJob(ctx, args[0], ids)
			if err != nil {
				return nil, err
			}
			updated := make([]topics.Topic, 0, len(ids))
			for _, id := range ids {
				if t, ok := r.TopicByID(id); ok {
					updated = append(updated, *t)
				}
			}
			return map[string]any{"updatedTopics": updated, "timestamp": time.Now().UTC()}, nil
		})
	},
}

var topicsRefineCmd = &cobra.Command{
	Use:   "refine <job-id>",
	Short: "Review a job's topics and store improvement suggestions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		focus, _ := cmd.Flags().GetStringSlice("focus")
		return withApp(cmd, func(ctx context.Context, a *app.App) (any, error) {
			r, err := a.Mutator.RefineJob(ctx, args[0], labeler.Stats{FocusAreas: focus})
			if err != nil {
				return nil, err
			}
			return topics.Refinement{Suggestions: r.Suggestions, Analysis: *r.Analysis}, nil
		})
	},
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.AddCommand(topicsRenameCmd, topicsMergeCmd, topicsSplitCmd, topicsReclassifyCmd, topicsLabelCmd, topicsRefineCmd)

	topicsSplitCmd.Flags().Int("parts", 2, "Number of subgroups")
	topicsReclassifyCmd.Flags().Int("clusters", 2, "Number of groups to form")
	topicsRefineCmd.Flags().StringSlice("focus", nil, "Focus areas for the review (default coherence,granularity,naming)")
}

// withApp wires the services over the persistent store, runs fn and prints
// its outcome as JSON.
func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) (any, error)) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := requirePersistentStore(cfg); err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, app.Options{Logger: observability.CLILogger})
	if err != nil {
		return exitError(ExitServiceUnavailable, "Failed to start services", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			observability.CLILogger.Warn("Shutdown incomplete", zap.Error(err))
		}
	}()

	out, err := fn(ctx, a)
	if err != nil {
		switch topics.KindOf(err) {
		case topics.KindInvalidInput:
			return exitError(ExitUsage, "Edit rejected", err)
		case topics.KindNotFound:
			return exitError(ExitDataError, "Not found", err)
		}
		return err
	}
	return printJSON(out)
}

// parseIDs parses a comma-separated list of topic ids.
func parseIDs(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, exitError(ExitUsage, "Invalid topic id list", fmt.Errorf("%q is not an integer", part))
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, exitError(ExitUsage, "Invalid topic id list", fmt.Errorf("no ids in %q", s))
	}
	return ids, nil
}
