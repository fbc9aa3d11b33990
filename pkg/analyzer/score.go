package analyzer

import (
	"math"
	"math/rand"
	"sort"

	"github.com/3leaps/topichub/pkg/textproc"
	"github.com/3leaps/topichub/pkg/topics"
)

// ScoreCoherence maps the mean cosine silhouette of each cluster from
// [-1, 1] onto [0, 1]. A single cluster scores SingleClusterCoherence; fewer
// than two clustered points yields an empty map.
func (a *Native) ScoreCoherence(vectors [][]float32, labels []int) map[int]float64 {
	byCluster := make(map[int][]int)
	clustered := 0
	for i, l := range labels {
		if l == topics.NoiseClusterID || i >= len(vectors) {
			continue
		}
		byCluster[l] = append(byCluster[l], i)
		clustered++
	}
	if clustered < 2 {
		return map[int]float64{}
	}
	if len(byCluster) == 1 {
		out := make(map[int]float64, 1)
		for id := range byCluster {
			out[id] = SingleClusterCoherence
		}
		return out
	}

	ids := make([]int, 0, len(byCluster))
	for id := range byCluster {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	// Stratified sample: every cluster keeps at least two points.
	rng := rand.New(rand.NewSource(topics.BaseSeed))
	for _, id := range ids {
		idx := byCluster[id]
		keep := max(2, a.cfg.MaxExactPoints*len(idx)/clustered)
		if keep < len(idx) {
			pick := sampleIndices(len(idx), keep, rng)
			sub := make([]int, len(pick))
			for i, p := range pick {
				sub[i] = idx[p]
			}
			byCluster[id] = sub
		}
	}

	norms := make(map[int]float64)
	for _, id := range ids {
		for _, i := range byCluster[id] {
			norms[i] = norm(vectors[i])
		}
	}
	cosDist := func(i, j int) float64 {
		ni, nj := norms[i], norms[j]
		if ni == 0 || nj == 0 {
			return 1
		}
		return 1 - dotf(vectors[i], vectors[j])/(ni*nj)
	}

	out := make(map[int]float64, len(ids))
	for _, id := range ids {
		own := byCluster[id]
		sum := 0.0
		for _, i := range own {
			sum += silhouette(i, id, own, ids, byCluster, cosDist)
		}
		raw := sum / float64(len(own))
		out[id] = math.Max(0, math.Min(1, (raw+1)/2))
	}
	return out
}

func silhouette(i, id int, own []int, ids []int, byCluster map[int][]int, dist func(int, int) float64) float64 {
	if len(own) < 2 {
		return 0
	}
	a := 0.0
	for _, j := range own {
		if j != i {
			a += dist(i, j)
		}
	}
	a /= float64(len(own) - 1)

	b := math.Inf(1)
	for _, other := range ids {
		if other == id {
			continue
		}
		s := 0.0
		for _, j := range byCluster[other] {
			s += dist(i, j)
		}
		b = math.Min(b, s/float64(len(byCluster[other])))
	}

	den := math.Max(a, b)
	if den == 0 {
		return 0
	}
	return (b - a) / den
}

// Keywords ranks unigrams and bigrams by summed L2-normalised TF-IDF across
// texts. Terms present in nearly every text are dropped; a single text, or a
// set where nothing survives, falls back to raw token counts.
func (a *Native) Keywords(texts []string, n int) []string {
	if len(texts) == 0 || n <= 0 {
		return nil
	}
	if len(texts) == 1 {
		return topCounts(texts, n)
	}

	docs := make([]map[string]float64, len(texts))
	df := make(map[string]int)
	for i, t := range texts {
		tf := make(map[string]float64)
		for _, term := range textproc.Terms(textproc.Tokenize(t)) {
			tf[term]++
		}
		for term := range tf {
			df[term]++
		}
		docs[i] = tf
	}

	nd := float64(len(texts))
	maxDF := math.Min(0.95, math.Max(0.5, 1-1/nd)) * nd
	scores := make(map[string]float64)
	for _, tf := range docs {
		w := make(map[string]float64, len(tf))
		sq := 0.0
		for term, c := range tf {
			if float64(df[term]) > maxDF {
				continue
			}
			v := c * (math.Log((1+nd)/(1+float64(df[term]))) + 1)
			w[term] = v
			sq += v * v
		}
		if sq == 0 {
			continue
		}
		l2 := math.Sqrt(sq)
		for term, v := range w {
			scores[term] += v / l2
		}
	}
	if len(scores) == 0 {
		return topCounts(texts, n)
	}
	return topTerms(scores, n)
}

func topCounts(texts []string, n int) []string {
	counts := make(map[string]float64)
	order := make(map[string]int)
	for _, t := range texts {
		for _, tok := range textproc.Tokenize(t) {
			if _, ok := order[tok]; !ok {
				order[tok] = len(order)
			}
			counts[tok]++
		}
	}
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return order[terms[i]] < order[terms[j]]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

func topTerms(scores map[string]float64, n int) []string {
	terms := make([]string, 0, len(scores))
	for t, s := range scores {
		if s > 0 {
			terms = append(terms, t)
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if scores[terms[i]] != scores[terms[j]] {
			return scores[terms[i]] > scores[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

// Exemplars returns the texts of clusterID nearest (euclidean) to the
// cluster centroid, closest first.
func (a *Native) Exemplars(vectors [][]float32, labels []int, texts []string, clusterID, n int) []string {
	idx := members(labels, clusterID)
	if len(idx) == 0 || n <= 0 {
		return nil
	}
	centroid := mean(vectors, idx)
	d := make(map[int]float64, len(idx))
	for _, i := range idx {
		d[i] = sqDist64(vectors[i], centroid)
	}
	sort.SliceStable(idx, func(x, y int) bool { return d[idx[x]] < d[idx[y]] })
	if len(idx) > n {
		idx = idx[:n]
	}
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = texts[j]
	}
	return out
}
