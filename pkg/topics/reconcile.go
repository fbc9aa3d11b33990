package topics

import "sort"

// Reconcile restores the structural invariants of r in place: topic document
// counts match the live documents, topics without documents are dropped,
// topics are ordered by id, and the noise and total counts are recomputed.
func Reconcile(r *Result) {
	counts := make(map[int]int, len(r.Topics))
	noise := 0
	for _, d := range r.Documents {
		if d.ClusterID == NoiseClusterID {
			noise++
			continue
		}
		counts[d.ClusterID]++
	}

	kept := r.Topics[:0]
	for _, t := range r.Topics {
		n := counts[t.ID]
		if n == 0 {
			continue
		}
		t.DocumentCount = n
		kept = append(kept, t)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })

	r.Topics = kept
	r.Noise = noise
	r.TotalDocuments = len(r.Documents)
}

// Validate reports the first structural invariant r violates.
func Validate(r *Result) error {
	const op = "ValidateResult"

	ids := make(map[int]int, len(r.Topics))
	for _, t := range r.Topics {
		if t.ID == NoiseClusterID {
			return Errorf(op, KindInternal, "topic uses the noise id %d", NoiseClusterID)
		}
		if _, dup := ids[t.ID]; dup {
			return Errorf(op, KindInternal, "duplicate topic id %d", t.ID)
		}
		ids[t.ID] = 0
	}

	noise := 0
	for _, d := range r.Documents {
		if d.ClusterID == NoiseClusterID {
			noise++
			continue
		}
		if _, ok := ids[d.ClusterID]; !ok {
			return Errorf(op, KindInternal, "document %s references unknown cluster %d", d.ID, d.ClusterID)
		}
		ids[d.ClusterID]++
	}

	sum := 0
	for _, t := range r.Topics {
		if ids[t.ID] == 0 {
			return Errorf(op, KindInternal, "topic %d has no documents", t.ID)
		}
		if t.DocumentCount != ids[t.ID] {
			return Errorf(op, KindInternal, "topic %d documentCount %d != live count %d", t.ID, t.DocumentCount, ids[t.ID])
		}
		sum += t.DocumentCount
	}
	if r.Noise != noise {
		return Errorf(op, KindInternal, "noise %d != live noise count %d", r.Noise, noise)
	}
	if r.TotalDocuments != len(r.Documents) {
		return Errorf(op, KindInternal, "totalDocuments %d != %d documents", r.TotalDocuments, len(r.Documents))
	}
	if sum+noise != r.TotalDocuments {
		return Errorf(op, KindInternal, "topic counts %d + noise %d != total %d", sum, noise, r.TotalDocuments)
	}
	return nil
}

// Centroid returns the mean position of the documents assigned to clusterID,
// rounded to two decimals, and how many there were.
func Centroid(docs []Document, clusterID int) (x, y float64, n int) {
	for _, d := range docs {
		if d.ClusterID != clusterID {
			continue
		}
		x += d.X
		y += d.Y
		n++
	}
	if n == 0 {
		return 0, 0, 0
	}
	return Round(x/float64(n), 2), Round(y/float64(n), 2), n
}

// TextsOf returns the texts of the documents assigned to clusterID, in
// document order.
func TextsOf(docs []Document, clusterID int) []string {
	var out []string
	for _, d := range docs {
		if d.ClusterID == clusterID {
			out = append(out, d.Text)
		}
	}
	return out
}
