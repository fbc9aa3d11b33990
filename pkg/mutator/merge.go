package mutator

import (
	"context"
	"sort"
	"strings"

	"github.com/3leaps/topichub/pkg/topics"
)

// Merge folds the topics in clusterIDs into the one with the smallest id.
//
// Documents are reassigned to the survivor, keywords and sample texts are
// unioned in first-appearance order (capped), the centroid is recomputed
// from the merged documents and the coherence is the document-weighted mean
// of the merged topics.
func (m *Mutator) Merge(r *topics.Result, clusterIDs []int, newLabel string) (*topics.Result, error) {
	const op = "Merge"

	ids := distinct(clusterIDs)
	if len(ids) < 2 {
		return nil, invalid(op, "merge needs at least 2 distinct cluster ids, got %d", len(ids))
	}
	label := strings.TrimSpace(newLabel)
	if label == "" {
		return nil, invalid(op, "new label is empty")
	}
	if r == nil {
		return nil, invalid(op, "result is required")
	}

	out := r.Clone()
	byID := make(map[int]topics.Topic, len(ids))
	for _, id := range ids {
		t, ok := out.TopicByID(id)
		if !ok {
			return nil, invalid(op, "cluster %d does not exist", id)
		}
		byID[id] = *t
	}
	sort.Ints(ids)
	survivor := ids[0]

	merging := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		merging[id] = struct{}{}
	}
	affected := 0
	for i := range out.Documents {
		if _, ok := merging[out.Documents[i].ClusterID]; ok {
			out.Documents[i].ClusterID = survivor
			affected++
		}
	}

	var keywords, samples []string
	weighted, weight := 0.0, 0
	for _, id := range ids {
		t := byID[id]
		keywords = appendUnique(keywords, t.Keywords, MaxMergedKeywords)
		samples = appendUnique(samples, t.SampleTexts, MaxSampleTexts)
		weighted += t.CoherenceScore * float64(t.DocumentCount)
		weight += t.DocumentCount
	}
	coherence := byID[survivor].CoherenceScore
	if weight > 0 {
		coherence = topics.Round(weighted/float64(weight), 3)
	}

	merged := byID[survivor]
	merged.Label = label
	merged.Description = "Merged clusters " + formatIDs(ids)
	merged.Keywords = nonNil(keywords)
	merged.SampleTexts = nonNil(samples)
	merged.CoherenceScore = coherence
	merged.CentroidX, merged.CentroidY, merged.DocumentCount = topics.Centroid(out.Documents, survivor)

	kept := out.Topics[:0]
	for _, t := range out.Topics {
		if t.ID == survivor {
			kept = append(kept, merged)
			continue
		}
		if _, ok := merging[t.ID]; !ok {
			kept = append(kept, t)
		}
	}
	out.Topics = kept

	out.MergeInfo = &topics.MergeInfo{
		MergedClusterIDs:  ids,
		NewClusterID:      survivor,
		NewLabel:          label,
		DocumentsAffected: affected,
	}
	if err := finish(op, out); err != nil {
		return nil, err
	}
	return out, nil
}

// MergeJob merges topics in the stored result of jobID.
func (m *Mutator) MergeJob(ctx context.Context, jobID string, clusterIDs []int, newLabel string) (*topics.Result, error) {
	const op = "Merge"

	r, err := m.load(ctx, op, jobID)
	if err != nil {
		return nil, err
	}
	out, err := m.Merge(r, clusterIDs, newLabel)
	if err != nil {
		return nil, err
	}
	if err := m.save(ctx, op, jobID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// appendUnique appends the entries of add missing from dst until dst holds
// limit entries.
func appendUnique(dst, add []string, limit int) []string {
	for _, s := range add {
		if len(dst) >= limit {
			break
		}
		dup := false
		for _, have := range dst {
			if have == s {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, s)
		}
	}
	return dst
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
