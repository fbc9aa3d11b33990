package labeler

import (
	"context"
	"fmt"
	"sort"

	"github.com/3leaps/topichub/pkg/topics"
)

// KeywordsName is the model name Keywords reports.
const KeywordsName = "keywords"

// sharedKeywordsForMerge is how many keywords two topics must share before
// Keywords proposes merging them.
const sharedKeywordsForMerge = 3

// Keywords is the offline Labeler. Labels come from cluster keywords and
// suggestions from simple coherence and keyword-overlap heuristics.
type Keywords struct{}

var _ Labeler = Keywords{}

func (Keywords) Name() string { return KeywordsName }

func (Keywords) Label(_ context.Context, s ClusterSummary) (Label, error) {
	return FallbackLabel(s), nil
}

func (Keywords) SuggestImprovements(_ context.Context, topicSet []topics.Topic, stats Stats) (*topics.Refinement, error) {
	var out []topics.Suggestion

	for i := 0; i < len(topicSet); i++ {
		for j := i + 1; j < len(topicSet); j++ {
			shared := overlap(topicSet[i].Keywords, topicSet[j].Keywords)
			if shared < sharedKeywordsForMerge {
				continue
			}
			a, b := topicSet[i], topicSet[j]
			out = append(out, topics.Suggestion{
				Type:             topics.SuggestMerge,
				Description:      fmt.Sprintf("Topics %q and %q share %d keywords", a.Label, b.Label, shared),
				TargetClusterIDs: []int{a.ID, b.ID},
				Confidence:       topics.Round(min(1, float64(shared)/float64(max(1, min(len(a.Keywords), len(b.Keywords))))), 2),
			})
		}
	}

	low := append([]topics.Topic(nil), topicSet...)
	sort.SliceStable(low, func(i, j int) bool { return low[i].CoherenceScore < low[j].CoherenceScore })
	for _, t := range low {
		if t.CoherenceScore >= ProblematicCoherence || t.DocumentCount < 6 {
			continue
		}
		out = append(out, topics.Suggestion{
			Type:             topics.SuggestSplit,
			Description:      fmt.Sprintf("Topic %q has low coherence (%.0f%%)", t.Label, t.CoherenceScore*100),
			TargetClusterIDs: []int{t.ID},
			Confidence:       topics.Round(1-t.CoherenceScore, 2),
		})
	}

	return &topics.Refinement{
		Suggestions: SanitizeSuggestions(dropPrevious(out, stats.Previous)),
		Analysis:    Analyze(topicSet, stats.FocusAreas),
	}, nil
}

func overlap(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, k := range a {
		set[k] = struct{}{}
	}
	n := 0
	for _, k := range b {
		if _, ok := set[k]; ok {
			n++
			delete(set, k)
		}
	}
	return n
}

func dropPrevious(in, previous []topics.Suggestion) []topics.Suggestion {
	if len(previous) == 0 {
		return in
	}
	key := func(s topics.Suggestion) string {
		return fmt.Sprintf("%s:%v", s.Type, s.TargetClusterIDs)
	}
	seen := make(map[string]struct{}, len(previous))
	for _, p := range previous {
		seen[key(p)] = struct{}{}
	}
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[key(s)]; !ok {
			out = append(out, s)
		}
	}
	return out
}
