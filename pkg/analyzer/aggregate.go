package analyzer

import (
	"sort"
	"strconv"

	"github.com/3leaps/topichub/pkg/topics"
)

// Documents positions texts in display space. coords holds one raw 2-D
// projection per text; missing components count as 0.
func Documents(texts []string, labels []int, coords [][]float32) []topics.Document {
	points := make([]topics.Point, len(texts))
	for i := range points {
		if i < len(coords) {
			if len(coords[i]) > 0 {
				points[i].X = float64(coords[i][0])
			}
			if len(coords[i]) > 1 {
				points[i].Y = float64(coords[i][1])
			}
		}
	}
	norm := topics.Normalize(points)

	docs := make([]topics.Document, len(texts))
	for i, t := range texts {
		docs[i] = topics.Document{
			ID:        "doc-" + strconv.Itoa(i),
			Text:      t,
			ClusterID: labels[i],
			X:         norm[i].X,
			Y:         norm[i].Y,
		}
	}
	return docs
}

// ClusterIDs returns the distinct non-noise labels in ascending order.
func ClusterIDs(labels []int) []int {
	seen := make(map[int]struct{})
	for _, l := range labels {
		if l != topics.NoiseClusterID {
			seen[l] = struct{}{}
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// BuildTopic aggregates one cluster: keywords, exemplars, centroid over
// docs and the coherence score (DefaultCoherence when unscored). Labels are
// placeholders.
func BuildTopic(an Analyzer, id int, vectors [][]float32, labels []int, texts []string, docs []topics.Document, coherence map[int]float64) topics.Topic {
	clusterTexts := make([]string, 0)
	for i, l := range labels {
		if l == id {
			clusterTexts = append(clusterTexts, texts[i])
		}
	}

	var samples []string
	if vectors != nil {
		samples = an.Exemplars(vectors, labels, texts, id, DefaultExemplars)
	} else {
		samples = clusterTexts[:min(DefaultExemplars, len(clusterTexts))]
	}

	score, ok := coherence[id]
	if !ok {
		score = DefaultCoherence
	}
	cx, cy, n := topics.Centroid(docs, id)

	keywords := an.Keywords(clusterTexts, DefaultKeywords)
	if keywords == nil {
		keywords = []string{}
	}
	return topics.Topic{
		ID:             id,
		Label:          topics.PlaceholderLabel(id),
		Description:    "",
		DocumentCount:  n,
		SampleTexts:    append([]string{}, samples...),
		Color:          topics.Color(id),
		CentroidX:      cx,
		CentroidY:      cy,
		CoherenceScore: topics.Round(score, 3),
		Keywords:       keywords,
	}
}

// DefaultCoherence is used for clusters ScoreCoherence could not score.
const DefaultCoherence = 0.5

// BuildTopics aggregates every non-noise cluster in labels, ordered by id.
func BuildTopics(an Analyzer, vectors [][]float32, labels []int, texts []string, docs []topics.Document) []topics.Topic {
	var coherence map[int]float64
	if vectors != nil {
		coherence = an.ScoreCoherence(vectors, labels)
	}
	ids := ClusterIDs(labels)
	out := make([]topics.Topic, 0, len(ids))
	for _, id := range ids {
		out = append(out, BuildTopic(an, id, vectors, labels, texts, docs, coherence))
	}
	return out
}
