// Package labeler names clusters and reviews topic sets.
//
// Two implementations exist: Keywords, which derives labels locally from
// cluster keywords, and Chat, which asks an OpenAI-compatible chat model.
// Callers use LabelOrFallback and Refine so a failing Labeler degrades a
// result instead of failing it.
package labeler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/3leaps/topichub/pkg/topics"
)

// Limits on Labeler output.
const (
	MaxSuggestions          = 5
	ProblematicCoherence    = 0.5
	DefaultCoherence        = 0.5
	DefaultSuggestionWeight = 0.5
)

// DefaultFocusAreas guide a review when the caller names none.
var DefaultFocusAreas = []string{"coherence", "granularity", "naming"}

// Labeler produces human-readable labels and refinement suggestions.
type Labeler interface {
	// Name identifies the model (recorded in result metadata).
	Name() string

	// Label names one cluster.
	Label(ctx context.Context, summary ClusterSummary) (Label, error)

	// SuggestImprovements reviews a whole topic set.
	SuggestImprovements(ctx context.Context, topicSet []topics.Topic, stats Stats) (*topics.Refinement, error)
}

// ClusterSummary is what a Labeler sees of one cluster.
type ClusterSummary struct {
	ID            int
	DocumentCount int
	Coherence     float64
	SampleTexts   []string
	Keywords      []string
}

// SummaryOf builds the summary of t.
func SummaryOf(t topics.Topic) ClusterSummary {
	return ClusterSummary{
		ID:            t.ID,
		DocumentCount: t.DocumentCount,
		Coherence:     t.CoherenceScore,
		SampleTexts:   t.SampleTexts,
		Keywords:      t.Keywords,
	}
}

// Label is a cluster name and one-sentence description.
type Label struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Stats carries the context of a review.
type Stats struct {
	TotalDocuments int
	Noise          int

	// FocusAreas narrows the review ("coherence", "granularity", "naming",
	// "outliers").
	FocusAreas []string

	// Previous lists suggestions already made, which should not repeat.
	Previous []topics.Suggestion
}

// FallbackLabel derives a label from the first three keywords, or the
// placeholder label when there are none.
func FallbackLabel(s ClusterSummary) Label {
	label := topics.PlaceholderLabel(s.ID)
	if len(s.Keywords) > 0 {
		label = capitalize(strings.Join(s.Keywords[:min(3, len(s.Keywords))], ", "))
	}
	return Label{
		Label:       label,
		Description: fmt.Sprintf("Automatically detected category (%d documents)", s.DocumentCount),
	}
}

// LabelOrFallback calls l and degrades to FallbackLabel on error or an empty
// label.
func LabelOrFallback(ctx context.Context, l Labeler, s ClusterSummary, log *zap.Logger) Label {
	got, err := l.Label(ctx, s)
	if err != nil {
		if log != nil {
			log.Warn("labeling failed, using keyword label",
				zap.Int("cluster_id", s.ID),
				zap.String("labeler", l.Name()),
				zap.Error(err),
			)
		}
		return FallbackLabel(s)
	}
	got.Label = strings.TrimSpace(got.Label)
	got.Description = strings.TrimSpace(got.Description)
	if got.Label == "" {
		fb := FallbackLabel(s)
		got.Label = fb.Label
		if got.Description == "" {
			got.Description = fb.Description
		}
	}
	return got
}

// Refine calls l and degrades to empty suggestions with a locally computed
// analysis on error.
func Refine(ctx context.Context, l Labeler, topicSet []topics.Topic, stats Stats, log *zap.Logger) *topics.Refinement {
	ref, err := l.SuggestImprovements(ctx, topicSet, stats)
	if err == nil && ref != nil {
		return ref
	}
	if log != nil && err != nil {
		log.Warn("refinement failed, returning analysis only",
			zap.String("labeler", l.Name()),
			zap.Error(err),
		)
	}
	return &topics.Refinement{
		Suggestions: []topics.Suggestion{},
		Analysis:    Analyze(topicSet, stats.FocusAreas),
	}
}

// Analyze computes the quality summary of a topic set.
func Analyze(topicSet []topics.Topic, focus []string) topics.Analysis {
	problematic := []int{}
	sum := 0.0
	for _, t := range topicSet {
		sum += t.CoherenceScore
		if t.CoherenceScore < ProblematicCoherence {
			problematic = append(problematic, t.ID)
		}
	}
	overall := 0.0
	if len(topicSet) > 0 {
		overall = topics.Round(sum/float64(len(topicSet)), 3)
	}
	if focus == nil {
		focus = []string{}
	}
	return topics.Analysis{
		OverallCoherence:    overall,
		ProblematicClusters: problematic,
		SuggestedOptimalK:   max(2, len(topicSet)),
		FocusAreasAnalyzed:  append([]string(nil), focus...),
	}
}

// SanitizeSuggestions keeps at most MaxSuggestions entries, drops unknown
// types and clamps confidence to [0, 1].
func SanitizeSuggestions(in []topics.Suggestion) []topics.Suggestion {
	out := make([]topics.Suggestion, 0, min(len(in), MaxSuggestions))
	for i, s := range in {
		if i >= MaxSuggestions {
			break
		}
		if !s.Type.Valid() {
			continue
		}
		if math.IsNaN(s.Confidence) {
			s.Confidence = DefaultSuggestionWeight
		}
		s.Confidence = math.Max(0, math.Min(1, s.Confidence))
		if s.TargetClusterIDs == nil {
			s.TargetClusterIDs = []int{}
		}
		s.Applied = false
		out = append(out, s)
	}
	return out
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
