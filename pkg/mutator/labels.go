package mutator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/3leaps/topichub/pkg/labeler"
	"github.com/3leaps/topichub/pkg/topics"
)

// DefaultLabelConcurrency bounds concurrent Labeler calls in GenerateLabels.
const DefaultLabelConcurrency = 4

// GenerateLabels relabels the topics in topicIDs (every topic when empty)
// through the Labeler. Labeler failures fall back to keyword labels.
func (m *Mutator) GenerateLabels(ctx context.Context, r *topics.Result, topicIDs []int) (*topics.Result, error) {
	const op = "GenerateLabels"

	if r == nil {
		return nil, invalid(op, "result is required")
	}
	out := r.Clone()

	var targets []int
	if len(topicIDs) == 0 {
		for i := range out.Topics {
			targets = append(targets, i)
		}
	} else {
		pos := make(map[int]int, len(out.Topics))
		for i, t := range out.Topics {
			pos[t.ID] = i
		}
		for _, id := range distinct(topicIDs) {
			i, ok := pos[id]
			if !ok {
				return nil, invalid(op, "topic %d does not exist", id)
			}
			targets = append(targets, i)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultLabelConcurrency)
	for _, i := range targets {
		g.Go(func() error {
			l := labeler.LabelOrFallback(gctx, m.labeler, labeler.SummaryOf(out.Topics[i]), m.log)
			out.Topics[i].Label = l.Label
			out.Topics[i].Description = l.Description
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := finish(op, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateLabelsJob relabels topics in the stored result of jobID.
func (m *Mutator) GenerateLabelsJob(ctx context.Context, jobID string, topicIDs []int) (*topics.Result, error) {
	const op = "GenerateLabels"

	r, err := m.load(ctx, op, jobID)
	if err != nil {
		return nil, err
	}
	out, err := m.GenerateLabels(ctx, r, topicIDs)
	if err != nil {
		return nil, err
	}
	if err := m.save(ctx, op, jobID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Refine asks the Labeler for improvement suggestions on topicSet. A failing
// Labeler yields no suggestions and a locally computed analysis.
func (m *Mutator) Refine(ctx context.Context, topicSet []topics.Topic, stats labeler.Stats) *topics.Refinement {
	if len(stats.FocusAreas) == 0 {
		stats.FocusAreas = labeler.DefaultFocusAreas
	}
	if stats.TotalDocuments == 0 {
		for _, t := range topicSet {
			stats.TotalDocuments += t.DocumentCount
		}
		stats.TotalDocuments += stats.Noise
	}
	ref := labeler.Refine(ctx, m.labeler, topicSet, stats, m.log)
	ref.Suggestions = labeler.SanitizeSuggestions(ref.Suggestions)
	return ref
}

// RefineJob reviews the stored result of jobID and records the suggestions
// and analysis on it.
func (m *Mutator) RefineJob(ctx context.Context, jobID string, stats labeler.Stats) (*topics.Result, error) {
	const op = "Refine"

	r, err := m.load(ctx, op, jobID)
	if err != nil {
		return nil, err
	}
	out := r.Clone()
	stats.Noise = out.Noise
	stats.TotalDocuments = out.TotalDocuments
	if stats.Previous == nil {
		stats.Previous = out.Suggestions
	}
	ref := m.Refine(ctx, out.Topics, stats)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out.Suggestions = ref.Suggestions
	out.Analysis = &ref.Analysis
	if err := m.save(ctx, op, jobID, out); err != nil {
		return nil, err
	}
	return out, nil
}
