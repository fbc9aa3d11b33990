package analyzer

import (
	"context"
	"math"
	"math/rand"
	"sort"
)

type merge struct {
	a, b int
	d    float64
}

// agglomerative cuts an average-linkage dendrogram at k clusters. The
// dendrogram is built with the nearest-neighbour chain algorithm over a
// condensed distance matrix.
func (a *Native) agglomerative(ctx context.Context, vectors [][]float32, k int, seed int64) ([]int, error) {
	rng := rand.New(rand.NewSource(seed))
	sample := sampleIndices(len(vectors), a.cfg.MaxExactPoints, rng)
	pts := subset(vectors, sample)

	labels, err := averageLinkage(ctx, pts, k)
	if err != nil {
		return nil, err
	}
	if len(sample) < len(vectors) {
		labels, _ = extendLabels(vectors, sample, labels, ones(len(labels)))
	}
	return labels, nil
}

func averageLinkage(ctx context.Context, pts [][]float32, k int) ([]int, error) {
	n := len(pts)
	if n == 1 || k >= n {
		labels := make([]int, n)
		for i := range labels {
			labels[i] = i
		}
		return labels, nil
	}

	dm := newCondensed(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dm.set(i, j, math.Sqrt(sqDist(pts[i], pts[j])))
		}
	}

	size := make([]int, n)
	active := make([]bool, n)
	for i := range size {
		size[i] = 1
		active[i] = true
	}

	merges := make([]merge, 0, n-1)
	chain := make([]int, 0, n)
	for len(merges) < n-1 {
		if len(merges)%128 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(chain) == 0 {
			for i := range active {
				if active[i] {
					chain = append(chain, i)
					break
				}
			}
		}

		var x, y int
		var dxy float64
		for {
			x = chain[len(chain)-1]
			y, dxy = -1, math.Inf(1)
			if len(chain) > 1 {
				y = chain[len(chain)-2]
				dxy = dm.get(x, y)
			}
			for i := range active {
				if !active[i] || i == x {
					continue
				}
				if d := dm.get(x, i); d < dxy {
					y, dxy = i, d
				}
			}
			if len(chain) > 1 && y == chain[len(chain)-2] {
				break
			}
			chain = append(chain, y)
		}
		chain = chain[:len(chain)-2]

		// Merge x into y and update average distances (Lance-Williams).
		if x > y {
			x, y = y, x
		}
		merges = append(merges, merge{a: x, b: y, d: dxy})
		nx, ny := float64(size[x]), float64(size[y])
		active[x] = false
		for i := range active {
			if !active[i] || i == y {
				continue
			}
			dm.set(i, y, (nx*dm.get(i, x)+ny*dm.get(i, y))/(nx+ny))
		}
		size[y] += size[x]
	}

	sort.SliceStable(merges, func(i, j int) bool { return merges[i].d < merges[j].d })
	uf := newUnionFind(n)
	for _, m := range merges[:n-k] {
		uf.union(m.a, m.b)
	}
	return denseLabels(n, uf.find), nil
}

// denseLabels numbers the groups of root in order of first appearance.
func denseLabels(n int, root func(int) int) []int {
	ids := make(map[int]int)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		r := root(i)
		id, ok := ids[r]
		if !ok {
			id = len(ids)
			ids[r] = id
		}
		labels[i] = id
	}
	return labels
}

// condensed is an upper-triangular distance matrix without the diagonal.
type condensed struct {
	n int
	d []float32
}

func newCondensed(n int) *condensed {
	return &condensed{n: n, d: make([]float32, n*(n-1)/2)}
}

func (c *condensed) idx(i, j int) int {
	if i > j {
		i, j = j, i
	}
	return c.n*i - i*(i+1)/2 + (j - i - 1)
}

func (c *condensed) get(i, j int) float64 { return float64(c.d[c.idx(i, j)]) }

func (c *condensed) set(i, j int, v float64) { c.d[c.idx(i, j)] = float32(v) }
