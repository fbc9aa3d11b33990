package analyzer

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/3leaps/topichub/pkg/topics"
)

// maxLambda caps 1/distance for coincident points.
const maxLambda = 1e12

// density runs hierarchical density clustering: a minimum spanning tree over
// mutual reachability distances, condensed with MinClusterSize and cut by
// excess of mass. Clusters born below SelectionEpsilon merge into their
// parent.
func (a *Native) density(ctx context.Context, vectors [][]float32, cfg topics.DensityConfig, seed int64) (Assignment, error) {
	rng := rand.New(rand.NewSource(seed))
	sample := sampleIndices(len(vectors), a.cfg.MaxExactPoints, rng)
	pts := subset(vectors, sample)

	labels, probs, err := densityExact(ctx, pts, cfg)
	if err != nil {
		return Assignment{}, err
	}
	if len(sample) < len(vectors) {
		labels, probs = extendLabels(vectors, sample, labels, probs)
	}
	return Assignment{Labels: labels, Probabilities: probs}, nil
}

type mstEdge struct {
	a, b int
	w    float64
}

type condensedCluster struct {
	parent    int
	birth     float64
	stability float64
	children  []int
}

func densityExact(ctx context.Context, pts [][]float32, cfg topics.DensityConfig) ([]int, []float64, error) {
	n := len(pts)
	labels := make([]int, n)
	probs := make([]float64, n)
	for i := range labels {
		labels[i] = topics.NoiseClusterID
	}
	mcs := max(2, cfg.MinClusterSize)
	if n < mcs || n < 2 {
		return labels, probs, nil
	}

	core, err := coreDistances(ctx, pts, max(1, cfg.MinSamples))
	if err != nil {
		return nil, nil, err
	}
	edges, err := primMST(ctx, pts, core)
	if err != nil {
		return nil, nil, err
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].w < edges[j].w })

	// Single linkage dendrogram: leaves 0..n-1, merges n..2n-2.
	left := make([]int, n-1)
	right := make([]int, n-1)
	height := make([]float64, n-1)
	size := make([]int, 2*n-1)
	for i := 0; i < n; i++ {
		size[i] = 1
	}
	uf := newUnionFind(2*n - 1)
	for i, e := range edges {
		ra, rb := uf.find(e.a), uf.find(e.b)
		node := n + i
		left[i], right[i], height[i] = ra, rb, e.w
		size[node] = size[ra] + size[rb]
		uf.union(ra, node)
		uf.union(rb, node)
	}

	leaves := func(node int, visit func(int)) {
		stack := []int{node}
		for len(stack) > 0 {
			x := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if x < n {
				visit(x)
				continue
			}
			stack = append(stack, left[x-n], right[x-n])
		}
	}

	// Condense the dendrogram top-down.
	clusters := []condensedCluster{{parent: -1}}
	pointCluster := make([]int, n)
	pointLambda := make([]float64, n)

	type frame struct{ node, cluster int }
	stack := []frame{{node: 2*n - 2, cluster: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c := f.cluster

		if f.node < n {
			pointCluster[f.node] = c
			pointLambda[f.node] = maxLambda
			clusters[c].stability += maxLambda - clusters[c].birth
			continue
		}

		m := f.node - n
		lambda := toLambda(height[m])
		l, r := left[m], right[m]
		bigL, bigR := size[l] >= mcs, size[r] >= mcs

		fallOut := func(node int) {
			leaves(node, func(p int) {
				pointCluster[p] = c
				pointLambda[p] = lambda
			})
			clusters[c].stability += float64(size[node]) * (lambda - clusters[c].birth)
		}

		switch {
		case bigL && bigR:
			clusters[c].stability += float64(size[l]+size[r]) * (lambda - clusters[c].birth)
			for _, child := range []int{l, r} {
				clusters = append(clusters, condensedCluster{parent: c, birth: lambda})
				id := len(clusters) - 1
				clusters[c].children = append(clusters[c].children, id)
				stack = append(stack, frame{node: child, cluster: id})
			}
		case bigL:
			fallOut(r)
			stack = append(stack, frame{node: l, cluster: c})
		case bigR:
			fallOut(l)
			stack = append(stack, frame{node: r, cluster: c})
		default:
			fallOut(l)
			fallOut(r)
		}
	}

	selected := selectClusters(clusters, cfg.SelectionEpsilon)
	if len(selected) == 0 {
		return labels, probs, nil
	}

	labelOf := make(map[int]int, len(selected))
	for i, c := range selected {
		labelOf[c] = i
	}
	for p := 0; p < n; p++ {
		for c := pointCluster[p]; c > 0; c = clusters[c].parent {
			if l, ok := labelOf[c]; ok {
				labels[p] = l
				break
			}
		}
	}

	top := make([]float64, len(selected))
	for p, l := range labels {
		if l >= 0 {
			top[l] = math.Max(top[l], pointLambda[p])
		}
	}
	for p, l := range labels {
		if l >= 0 && top[l] > 0 {
			probs[p] = math.Min(pointLambda[p], top[l]) / top[l]
		}
	}
	return labels, probs, nil
}

// selectClusters applies excess-of-mass selection. The root is never
// selected, so data without density structure yields no clusters.
func selectClusters(clusters []condensedCluster, epsilon float64) []int {
	chosen := make([]bool, len(clusters))
	stab := make([]float64, len(clusters))
	for i := range clusters {
		stab[i] = clusters[i].stability
	}
	// Children always have larger ids than their parent.
	for i := len(clusters) - 1; i >= 1; i-- {
		if len(clusters[i].children) == 0 {
			chosen[i] = true
			continue
		}
		sum := 0.0
		for _, ch := range clusters[i].children {
			sum += stab[ch]
		}
		if stab[i] >= sum {
			chosen[i] = true
		} else {
			stab[i] = sum
		}
	}

	if epsilon > 0 {
		for i := 1; i < len(clusters); i++ {
			if !chosen[i] {
				continue
			}
			c := i
			for clusters[c].parent > 0 && 1/clusters[c].birth < epsilon {
				c = clusters[c].parent
			}
			if c != i {
				chosen[i] = false
				chosen[c] = true
			}
		}
	}

	var out []int
	covered := make([]bool, len(clusters))
	for i := 1; i < len(clusters); i++ {
		p := clusters[i].parent
		if p > 0 && (chosen[p] || covered[p]) {
			covered[i] = true
			continue
		}
		if chosen[i] {
			out = append(out, i)
		}
	}
	return out
}

func toLambda(d float64) float64 {
	if d <= 1/maxLambda {
		return maxLambda
	}
	return 1 / d
}

// coreDistances returns the distance of each point to its k-th nearest
// neighbour (the point itself counts as the first).
func coreDistances(ctx context.Context, pts [][]float32, k int) ([]float64, error) {
	n := len(pts)
	k = min(k, n)
	core := make([]float64, n)
	buf := make([]float64, n)
	for i := range pts {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for j := range pts {
			buf[j] = sqDist(pts[i], pts[j])
		}
		core[i] = math.Sqrt(kthSmallest(buf, k-1))
	}
	return core, nil
}

// kthSmallest returns the k-th smallest value (0-based) and reorders xs.
func kthSmallest(xs []float64, k int) float64 {
	lo, hi := 0, len(xs)-1
	for lo < hi {
		pivot := xs[(lo+hi)/2]
		i, j := lo, hi
		for i <= j {
			for xs[i] < pivot {
				i++
			}
			for xs[j] > pivot {
				j--
			}
			if i <= j {
				xs[i], xs[j] = xs[j], xs[i]
				i++
				j--
			}
		}
		switch {
		case k <= j:
			hi = j
		case k >= i:
			lo = i
		default:
			return xs[k]
		}
	}
	return xs[k]
}

// primMST builds the minimum spanning tree of the mutual reachability graph.
func primMST(ctx context.Context, pts [][]float32, core []float64) ([]mstEdge, error) {
	n := len(pts)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]mstEdge, 0, n-1)
	cur := 0
	inTree[0] = true
	for len(edges) < n-1 {
		if len(edges)%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		next, nextW := -1, math.Inf(1)
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			d := math.Sqrt(sqDist(pts[cur], pts[j]))
			w := math.Max(d, math.Max(core[cur], core[j]))
			if w < best[j] {
				best[j] = w
				from[j] = cur
			}
			if best[j] < nextW {
				next, nextW = j, best[j]
			}
		}
		inTree[next] = true
		edges = append(edges, mstEdge{a: from[next], b: next, w: nextW})
		cur = next
	}
	return edges, nil
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union attaches the root of a under b.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}
