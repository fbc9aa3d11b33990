package mutator

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/3leaps/topichub/pkg/analyzer"
	"github.com/3leaps/topichub/pkg/labeler"
	"github.com/3leaps/topichub/pkg/topics"
)

// Reclassify pools the documents of fromIDs and regroups them into k new
// topics with fresh ids. The source topics are removed. Grouping and
// coherence use vectors when given (one per document); otherwise grouping
// runs on display positions and coherence falls back to the default.
// New topics carry placeholder labels.
func (m *Mutator) Reclassify(ctx context.Context, r *topics.Result, fromIDs []int, k int, vectors [][]float32) (*topics.Result, error) {
	const op = "Reclassify"

	ids := distinct(fromIDs)
	if len(ids) == 0 {
		return nil, invalid(op, "at least one source cluster id is required")
	}
	if k < 1 {
		return nil, invalid(op, "numClusters must be >= 1, got %d", k)
	}
	if r == nil {
		return nil, invalid(op, "result is required")
	}
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if id == topics.NoiseClusterID {
			return nil, invalid(op, "cannot reclassify from the noise cluster")
		}
		if _, ok := r.TopicByID(id); !ok {
			return nil, invalid(op, "cluster %d does not exist", id)
		}
		set[id] = struct{}{}
	}
	idx := memberIndices(r.Documents, set)
	if len(idx) < MinDocsPerGroup*k {
		return nil, invalid(op, "%d pooled documents; %d clusters need at least %d",
			len(idx), k, MinDocsPerGroup*k)
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
		if _, ok := set[t.ID]; !ok {
			kept = append(kept, t)
		}
	}
	out.Topics = kept

	all := make([]int, len(out.Documents))
	texts := make([]string, len(out.Documents))
	for i, d := range out.Documents {
		all[i] = d.ClusterID
		texts[i] = d.Text
	}
	var coherence map[int]float64
	if vectors != nil {
		coherence = m.analyzer.ScoreCoherence(vectors, all)
	}
	for _, id := range newIDs {
		out.Topics = append(out.Topics, analyzer.BuildTopic(m.analyzer, id, vectors, all, texts, out.Documents, coherence))
	}

	sort.Ints(ids)
	out.ReclassifyInfo = &topics.ReclassifyInfo{
		FromClusterIDs:    ids,
		NewClusterIDs:     newIDs,
		NumClusters:       len(newIDs),
		DocumentsAffected: len(idx),
		UsedVectors:       vectors != nil,
	}
	if err := finish(op, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReclassifyJob reclassifies topics in the stored result of jobID. The new
// topics are labeled by the Labeler (degrading to keyword labels) and, when
// cached vectors exist, every document's display position is recomputed.
func (m *Mutator) ReclassifyJob(ctx context.Context, jobID string, fromIDs []int, k int) (*topics.Result, error) {
	const op = "Reclassify"

	r, err := m.load(ctx, op, jobID)
	if err != nil {
		return nil, err
	}
	vectors := m.vectors(ctx, jobID, r.Documents)
	out, err := m.Reclassify(ctx, r, fromIDs, k, vectors)
	if err != nil {
		return nil, err
	}

	for _, id := range out.ReclassifyInfo.NewClusterIDs {
		t, ok := out.TopicByID(id)
		if !ok {
			continue
		}
		l := labeler.LabelOrFallback(ctx, m.labeler, labeler.SummaryOf(*t), m.log)
		t.Label = l.Label
		t.Description = l.Description
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if vectors != nil {
		if err := m.reproject(ctx, op, out, vectors); err != nil {
			return nil, err
		}
	}

	if err := m.save(ctx, op, jobID, out); err != nil {
		return nil, err
	}
	m.log.Info("topics reclassified", zap.String("job_id", jobID),
		zap.Ints("from", out.ReclassifyInfo.FromClusterIDs),
		zap.Ints("new", out.ReclassifyInfo.NewClusterIDs),
		zap.Bool("used_vectors", out.ReclassifyInfo.UsedVectors))
	return out, nil
}

// reproject recomputes the display position of every document from vectors
// and refreshes all topic centroids.
func (m *Mutator) reproject(ctx context.Context, op string, r *topics.Result, vectors [][]float32) error {
	iteration := 0
	if r.Meta != nil {
		iteration = r.Meta.Iteration
	}
	coords, err := m.analyzer.Reduce(ctx, vectors, topics.ReductionPCA, 2, topics.Seed(iteration))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return topics.Wrap(op, topics.KindUpstreamUnavailable, err)
	}

	points := make([]topics.Point, len(coords))
	for i, c := range coords {
		if len(c) > 0 {
			points[i].X = float64(c[0])
		}
		if len(c) > 1 {
			points[i].Y = float64(c[1])
		}
	}
	for i, p := range topics.Normalize(points) {
		r.Documents[i].X = p.X
		r.Documents[i].Y = p.Y
	}
	for i := range r.Topics {
		r.Topics[i].CentroidX, r.Topics[i].CentroidY, _ = topics.Centroid(r.Documents, r.Topics[i].ID)
	}
	return nil
}
