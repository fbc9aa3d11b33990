package analyzer

import (
	"math"
	"math/rand"
	"sort"
)

func sqDist(a, b []float32) float64 {
	s := 0.0
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return s
}

func sqDist64(a []float32, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := float64(a[i]) - b[i]
		s += d * d
	}
	return s
}

func norm(v []float32) float64 {
	s := 0.0
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dotf(a, b []float32) float64 {
	s := 0.0
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// mean returns the component-wise mean of the rows of vectors selected by idx.
func mean(vectors [][]float32, idx []int) []float64 {
	if len(idx) == 0 {
		return nil
	}
	out := make([]float64, len(vectors[idx[0]]))
	for _, i := range idx {
		for j, x := range vectors[i] {
			out[j] += float64(x)
		}
	}
	for j := range out {
		out[j] /= float64(len(idx))
	}
	return out
}

// members returns the indices of labels equal to id.
func members(labels []int, id int) []int {
	var out []int
	for i, l := range labels {
		if l == id {
			out = append(out, i)
		}
	}
	return out
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// sampleIndices returns a sorted seeded sample of size m from [0, n), or all
// indices when m >= n.
func sampleIndices(n, m int, rng *rand.Rand) []int {
	if m >= n {
		return allIndices(n)
	}
	out := rng.Perm(n)[:m]
	sort.Ints(out)
	return out
}

// subset returns the rows of vectors at idx (shared, not copied).
func subset(vectors [][]float32, idx []int) [][]float32 {
	out := make([][]float32, len(idx))
	for i, j := range idx {
		out[i] = vectors[j]
	}
	return out
}

// extendLabels labels every point with the label of its nearest sampled
// point. sampleLabels[i] belongs to vectors[sample[i]].
func extendLabels(vectors [][]float32, sample []int, sampleLabels []int, sampleProbs []float64) ([]int, []float64) {
	labels := make([]int, len(vectors))
	probs := make([]float64, len(vectors))
	inSample := make(map[int]int, len(sample))
	for i, j := range sample {
		inSample[j] = i
	}
	for p, v := range vectors {
		if i, ok := inSample[p]; ok {
			labels[p] = sampleLabels[i]
			probs[p] = sampleProbs[i]
			continue
		}
		best, bestD := 0, math.Inf(1)
		for i, j := range sample {
			if d := sqDist(v, vectors[j]); d < bestD {
				best, bestD = i, d
			}
		}
		labels[p] = sampleLabels[best]
		probs[p] = sampleProbs[best]
	}
	return labels, probs
}
