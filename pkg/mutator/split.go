package mutator

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/topichub/pkg/analyzer"
	"github.com/3leaps/topichub/pkg/topics"
)

// Split partitions the documents of clusterID into k subgroups with fresh
// ids. Grouping runs on vectors when they are given (one per document) and
// on display positions otherwise. The cluster needs at least 3k documents.
func (m *Mutator) Split(ctx context.Context, r *topics.Result, clusterID, k int, vectors [][]float32) (*topics.Result, error) {
	const op = "Split"

	if k < 2 {
		return nil, invalid(op, "numSubclusters must be >= 2, got %d", k)
	}
	if r == nil {
		return nil, invalid(op, "result is required")
	}
	orig, ok := r.TopicByID(clusterID)
	if !ok {
		return nil, invalid(op, "cluster %d does not exist", clusterID)
	}
	idx := memberIndices(r.Documents, map[int]struct{}{clusterID: {}})
	if len(idx) < MinDocsPerGroup*k {
		return nil, invalid(op, "cluster %d has %d documents; splitting into %d needs at least %d",
			clusterID, len(idx), k, MinDocsPerGroup*k)
	}
	if vectors != nil && len(vectors) != len(r.Documents) {
		vectors = nil
	}

	labels, err := m.group(ctx, op, r.Documents, idx, k, vectors)
	if err != nil {
		return nil, err
	}

	out := r.Clone()
	newIDs := assignFresh(out, idx, labels)

	kept := out.Topics[:0]
	for _, t := range out.Topics {
		if t.ID != clusterID {
			kept = append(kept, t)
		}
	}
	out.Topics = kept

	baseKeywords := orig.Keywords[:min(SplitKeywords, len(orig.Keywords))]
	for n, id := range newIDs {
		texts := topics.TextsOf(out.Documents, id)
		cx, cy, count := topics.Centroid(out.Documents, id)
		out.Topics = append(out.Topics, topics.Topic{
			ID:             id,
			Label:          fmt.Sprintf("%s (subgroup %d)", orig.Label, n+1),
			Description:    fmt.Sprintf("Subgroup %d of %s", n+1, orig.Label),
			DocumentCount:  count,
			SampleTexts:    append([]string{}, texts[:min(MaxSampleTexts, len(texts))]...),
			Color:          topics.Color(id),
			CentroidX:      cx,
			CentroidY:      cy,
			CoherenceScore: SplitCoherence,
			Keywords:       append([]string{}, baseKeywords...),
		})
	}

	out.SplitInfo = &topics.SplitInfo{
		OriginalClusterID: clusterID,
		NewClusterIDs:     newIDs,
		NumSubclusters:    len(newIDs),
		DocumentsAffected: len(idx),
	}
	if err := finish(op, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SplitJob splits a topic in the stored result of jobID, grouping on the
// job's cached vectors when they exist.
func (m *Mutator) SplitJob(ctx context.Context, jobID string, clusterID, k int) (*topics.Result, error) {
	const op = "Split"

	r, err := m.load(ctx, op, jobID)
	if err != nil {
		return nil, err
	}
	out, err := m.Split(ctx, r, clusterID, k, m.vectors(ctx, jobID, r.Documents))
	if err != nil {
		return nil, err
	}
	if err := m.save(ctx, op, jobID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// group runs k-means over the documents at idx and returns one label per
// entry of idx.
func (m *Mutator) group(ctx context.Context, op string, docs []topics.Document, idx []int, k int, vectors [][]float32) ([]int, error) {
	pts := make([][]float32, len(idx))
	for j, i := range idx {
		if vectors != nil {
			pts[j] = vectors[i]
			continue
		}
		pts[j] = []float32{float32(docs[i].X), float32(docs[i].Y)}
	}
	asg, err := m.analyzer.Cluster(ctx, pts, topics.KMeansConfig{K: k}, topics.Seed(0))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var te *topics.Error
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, topics.Wrap(op, topics.KindUpstreamUnavailable, err)
	}
	return asg.Labels, nil
}

// assignFresh moves the documents at idx to new cluster ids above every id
// in r, one per distinct label, and returns the new ids in ascending order.
func assignFresh(r *topics.Result, idx []int, labels []int) []int {
	base := r.MaxTopicID() + 1
	distinctLabels := analyzer.ClusterIDs(labels)
	ids := make(map[int]int, len(distinctLabels))
	newIDs := make([]int, len(distinctLabels))
	for j, l := range distinctLabels {
		ids[l] = base + j
		newIDs[j] = base + j
	}
	for j, i := range idx {
		if id, ok := ids[labels[j]]; ok {
			r.Documents[i].ClusterID = id
		} else {
			r.Documents[i].ClusterID = topics.NoiseClusterID
		}
	}
	return newIDs
}

// memberIndices returns the indices of docs assigned to any id in set.
func memberIndices(docs []topics.Document, set map[int]struct{}) []int {
	var idx []int
	for i, d := range docs {
		if _, ok := set[d.ClusterID]; ok {
			idx = append(idx, i)
		}
	}
	return idx
}
