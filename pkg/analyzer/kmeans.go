package analyzer

import (
	"context"
	"math"
	"math/rand"
)

// kmeans partitions vectors into k clusters with seeded k-means++ restarts
// and returns the labelling with the lowest inertia.
func (a *Native) kmeans(ctx context.Context, vectors [][]float32, k int, seed int64) ([]int, error) {
	rng := rand.New(rand.NewSource(seed))

	var (
		best        []int
		bestInertia = math.Inf(1)
	)
	for r := 0; r < a.cfg.KMeansRestarts; r++ {
		labels, inertia, err := lloyd(ctx, vectors, k, a.cfg.KMeansMaxIter, rng)
		if err != nil {
			return nil, err
		}
		if inertia < bestInertia {
			best, bestInertia = labels, inertia
		}
	}
	return best, nil
}

func lloyd(ctx context.Context, vectors [][]float32, k, maxIter int, rng *rand.Rand) ([]int, float64, error) {
	n := len(vectors)
	centers := seedCenters(vectors, k, rng)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	inertia := 0.0
	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		changed := false
		inertia = 0
		for i, v := range vectors {
			c, d := nearestCenter(v, centers)
			if labels[i] != c {
				labels[i] = c
				changed = true
			}
			inertia += d
		}
		if !changed && iter > 0 {
			break
		}

		sizes := recomputeCenters(vectors, labels, centers)
		repairEmpty(vectors, labels, centers, sizes)
	}
	return labels, inertia, nil
}

// seedCenters picks k initial centers with the k-means++ rule.
func seedCenters(vectors [][]float32, k int, rng *rand.Rand) [][]float64 {
	n := len(vectors)
	centers := make([][]float64, 0, k)
	centers = append(centers, toF64(vectors[rng.Intn(n)]))

	d2 := make([]float64, n)
	for i, v := range vectors {
		d2[i] = sqDist64(v, centers[0])
	}
	for len(centers) < k {
		total := 0.0
		for _, d := range d2 {
			total += d
		}
		next := rng.Intn(n)
		if total > 0 {
			target := rng.Float64() * total
			acc := 0.0
			for i, d := range d2 {
				acc += d
				if acc >= target {
					next = i
					break
				}
			}
		}
		c := toF64(vectors[next])
		centers = append(centers, c)
		for i, v := range vectors {
			if d := sqDist64(v, c); d < d2[i] {
				d2[i] = d
			}
		}
	}
	return centers
}

func nearestCenter(v []float32, centers [][]float64) (int, float64) {
	best, bestD := 0, math.Inf(1)
	for c, center := range centers {
		if d := sqDist64(v, center); d < bestD {
			best, bestD = c, d
		}
	}
	return best, bestD
}

func recomputeCenters(vectors [][]float32, labels []int, centers [][]float64) []int {
	sizes := make([]int, len(centers))
	for c := range centers {
		for j := range centers[c] {
			centers[c][j] = 0
		}
	}
	for i, v := range vectors {
		c := labels[i]
		sizes[c]++
		for j, x := range v {
			centers[c][j] += float64(x)
		}
	}
	for c := range centers {
		if sizes[c] == 0 {
			continue
		}
		for j := range centers[c] {
			centers[c][j] /= float64(sizes[c])
		}
	}
	return sizes
}

// repairEmpty moves the point farthest from its center into each empty
// cluster, taking only from clusters with more than one member.
func repairEmpty(vectors [][]float32, labels []int, centers [][]float64, sizes []int) {
	for c := range centers {
		if sizes[c] > 0 {
			continue
		}
		far, farD := -1, -1.0
		for i, v := range vectors {
			if sizes[labels[i]] <= 1 {
				continue
			}
			if d := sqDist64(v, centers[labels[i]]); d > farD {
				far, farD = i, d
			}
		}
		if far < 0 {
			return
		}
		sizes[labels[far]]--
		labels[far] = c
		sizes[c] = 1
		centers[c] = toF64(vectors[far])
	}
}

// kmeansProbabilities scores each point by closeness to its own center
// relative to the worst-fitting point.
func kmeansProbabilities(vectors [][]float32, labels []int, k int) []float64 {
	if len(labels) == 0 {
		return nil
	}
	centers := make([][]float64, k)
	for c := range centers {
		centers[c] = mean(vectors, members(labels, c))
	}
	dist := make([]float64, len(vectors))
	maxD := 0.0
	for i, v := range vectors {
		if centers[labels[i]] == nil {
			continue
		}
		dist[i] = math.Sqrt(sqDist64(v, centers[labels[i]]))
		maxD = math.Max(maxD, dist[i])
	}
	if maxD == 0 {
		maxD = 1
	}
	out := make([]float64, len(vectors))
	for i := range out {
		out[i] = 1 - dist[i]/maxD
	}
	return out
}

func toF64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
