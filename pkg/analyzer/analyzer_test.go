package analyzer

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/topichub/pkg/topics"
)

// blobs returns count points around each center with small deterministic
// offsets, grouped by center.
func blobs(centers [][2]float32, count int) [][]float32 {
	var out [][]float32
	for _, c := range centers {
		for i := 0; i < count; i++ {
			dx := float32(i%5) * 0.05
			dy := float32(i/5) * 0.05
			out = append(out, []float32{c[0] + dx, c[1] + dy})
		}
	}
	return out
}

func assertGrouped(t *testing.T, labels []int, groups, size int) {
	t.Helper()
	seen := make(map[int]int)
	for g := 0; g < groups; g++ {
		first := labels[g*size]
		for i := g * size; i < (g+1)*size; i++ {
			assert.Equal(t, first, labels[i], "point %d", i)
		}
		_, dup := seen[first]
		assert.False(t, dup, "group %d shares label %d", g, first)
		seen[first] = g
	}
}

func TestCluster_KMeans(t *testing.T) {
	a := New(Config{})
	vecs := blobs([][2]float32{{0, 0}, {10, 10}, {-10, 10}}, 10)

	asg, err := a.Cluster(context.Background(), vecs, topics.KMeansConfig{K: 3}, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, asg.NumClusters())
	assert.Equal(t, 0, asg.Noise())
	assertGrouped(t, asg.Labels, 3, 10)
	for _, p := range asg.Probabilities {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestCluster_KMeansClampsK(t *testing.T) {
	a := New(Config{})
	vecs := [][]float32{{0, 0}, {1, 1}, {5, 5}}

	asg, err := a.Cluster(context.Background(), vecs, topics.KMeansConfig{K: 7}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, asg.NumClusters())
}

func TestCluster_KMeansIdenticalPoints(t *testing.T) {
	a := New(Config{})
	vecs := make([][]float32, 6)
	for i := range vecs {
		vecs[i] = []float32{1, 1}
	}

	asg, err := a.Cluster(context.Background(), vecs, topics.KMeansConfig{K: 3}, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, asg.NumClusters())
}

func TestCluster_KMeansDeterministic(t *testing.T) {
	a := New(Config{})
	vecs := blobs([][2]float32{{0, 0}, {3, 0}, {0, 3}, {3, 3}}, 10)

	first, err := a.Cluster(context.Background(), vecs, topics.KMeansConfig{K: 4}, 7)
	require.NoError(t, err)
	second, err := a.Cluster(context.Background(), vecs, topics.KMeansConfig{K: 4}, 7)
	require.NoError(t, err)
	assert.Equal(t, first.Labels, second.Labels)
}

func TestCluster_Density(t *testing.T) {
	a := New(Config{})
	vecs := blobs([][2]float32{{0, 0}, {50, 50}}, 20)

	asg, err := a.Cluster(context.Background(), vecs, topics.DensityConfig{MinClusterSize: 5, MinSamples: 3}, 42)
	require.NoError(t, err)
	require.GreaterOrEqual(t, asg.NumClusters(), 2)

	// No cluster spans both blobs.
	left := make(map[int]bool)
	for _, l := range asg.Labels[:20] {
		if l >= 0 {
			left[l] = true
		}
	}
	for _, l := range asg.Labels[20:] {
		if l >= 0 {
			assert.False(t, left[l], "label %d spans both blobs", l)
		}
	}
}

func TestCluster_DensityTooSmallIsAllNoise(t *testing.T) {
	a := New(Config{})
	vecs := blobs([][2]float32{{0, 0}}, 10)

	asg, err := a.Cluster(context.Background(), vecs, topics.DensityConfig{MinClusterSize: 50, MinSamples: 15}, 42)
	require.NoError(t, err)
	assert.Equal(t, 0, asg.NumClusters())
	assert.Equal(t, 10, asg.Noise())
}

func TestCluster_DensitySampled(t *testing.T) {
	a := New(Config{MaxExactPoints: 30})
	vecs := blobs([][2]float32{{0, 0}, {50, 50}}, 25)

	asg, err := a.Cluster(context.Background(), vecs, topics.DensityConfig{MinClusterSize: 5, MinSamples: 2}, 42)
	require.NoError(t, err)
	assert.Len(t, asg.Labels, 50)
	assert.Len(t, asg.Probabilities, 50)
}

func TestCluster_Agglomerative(t *testing.T) {
	a := New(Config{})
	vecs := blobs([][2]float32{{0, 0}, {10, 0}, {0, 10}}, 10)

	asg, err := a.Cluster(context.Background(), vecs, topics.AgglomerativeConfig{K: 3}, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, asg.NumClusters())
	assertGrouped(t, asg.Labels, 3, 10)
}

func TestCluster_Errors(t *testing.T) {
	a := New(Config{})

	_, err := a.Cluster(context.Background(), nil, topics.KMeansConfig{K: 2}, 1)
	assert.True(t, topics.IsInvalidInput(err))

	_, err = a.Cluster(context.Background(), [][]float32{{1, 2}, {1}}, topics.KMeansConfig{K: 2}, 1)
	assert.True(t, topics.IsInvalidInput(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Cluster(ctx, blobs([][2]float32{{0, 0}}, 10), topics.KMeansConfig{K: 2}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReduce(t *testing.T) {
	a := New(Config{})
	ctx := context.Background()

	// Points on a line in 5-D: (t, 2t, 0, 0, 0).
	var vecs [][]float32
	for i := 0; i < 10; i++ {
		vecs = append(vecs, []float32{float32(i), float32(2 * i), 0, 0, 0})
	}

	out, err := a.Reduce(ctx, vecs, topics.ReductionPCA, 2, 42)
	require.NoError(t, err)
	require.Len(t, out, 10)
	want := 4.5 * math.Sqrt(5)
	assert.InDelta(t, want, math.Abs(float64(out[0][0])), 1e-3)
	assert.InDelta(t, want, math.Abs(float64(out[9][0])), 1e-3)
	for _, p := range out {
		require.Len(t, p, 2)
		assert.InDelta(t, 0, p[1], 1e-3)
	}

	same, err := a.Reduce(ctx, vecs, topics.ReductionNone, 2, 42)
	require.NoError(t, err)
	assert.Equal(t, vecs, same)
	same[0][0] = 99
	assert.Equal(t, float32(0), vecs[0][0])

	wide, err := a.Reduce(ctx, vecs, topics.ReductionPCA, 8, 42)
	require.NoError(t, err)
	assert.Len(t, wide[0], 5)

	rp, err := a.Reduce(ctx, vecs, topics.ReductionRandom, 3, 42)
	require.NoError(t, err)
	assert.Len(t, rp[0], 3)

	_, err = a.Reduce(ctx, vecs, topics.ReductionPCA, 0, 42)
	assert.True(t, topics.IsInvalidInput(err))
}

func TestScoreCoherence(t *testing.T) {
	a := New(Config{})

	vecs := [][]float32{{1, 0}, {0.99, 0.05}, {0.98, 0.1}, {0, 1}, {0.05, 0.99}, {0.1, 0.98}}
	labels := []int{0, 0, 0, 1, 1, 1}
	scores := a.ScoreCoherence(vecs, labels)
	require.Len(t, scores, 2)
	assert.Greater(t, scores[0], 0.9)
	assert.Greater(t, scores[1], 0.9)

	single := a.ScoreCoherence(vecs, []int{0, 0, 0, -1, -1, -1})
	assert.Equal(t, map[int]float64{0: SingleClusterCoherence}, single)

	none := a.ScoreCoherence(vecs, []int{0, -1, -1, -1, -1, -1})
	assert.Empty(t, none)
}

func TestKeywords(t *testing.T) {
	a := New(Config{})

	texts := []string{
		"refund for broken headphones",
		"refund request broken charger",
		"need refund for damaged headphones",
		"shipping was slow",
	}
	kw := a.Keywords(texts, 7)
	require.NotEmpty(t, kw)
	assert.LessOrEqual(t, len(kw), 7)
	assert.Contains(t, kw[:3], "headphones")

	single := a.Keywords([]string{"apple banana apple cherry"}, 2)
	assert.Equal(t, []string{"apple", "banana"}, single)

	assert.Nil(t, a.Keywords(nil, 7))
}

func TestExemplars(t *testing.T) {
	a := New(Config{})
	vecs := [][]float32{{0}, {10}, {4}, {6}, {100}}
	labels := []int{0, 0, 0, 0, 1}
	texts := []string{"far-left", "far-right", "near-left", "near-right", "other"}

	got := a.Exemplars(vecs, labels, texts, 0, 2)
	assert.ElementsMatch(t, []string{"near-left", "near-right"}, got)
	assert.Equal(t, []string{"other"}, a.Exemplars(vecs, labels, texts, 1, 5))
	assert.Nil(t, a.Exemplars(vecs, labels, texts, 7, 5))
}
