// Package analyzer implements the numeric side of topic discovery:
// dimensionality reduction, clustering, coherence scoring, keyword
// extraction and exemplar selection.
//
// The Native analyzer is pure Go. Quadratic algorithms (density and
// agglomerative clustering, silhouette scoring) run on a seeded sample when
// the input exceeds Config.MaxExactPoints and the remaining points inherit
// the label of their nearest sampled neighbour.
package analyzer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/topichub/pkg/topics"
)

// Analyzer groups vectors into clusters and describes the clusters.
type Analyzer interface {
	// Cluster assigns every vector a cluster id or topics.NoiseClusterID.
	Cluster(ctx context.Context, vectors [][]float32, cfg topics.AlgorithmConfig, seed int64) (Assignment, error)

	// Reduce projects vectors to dims dimensions.
	Reduce(ctx context.Context, vectors [][]float32, method topics.ReductionMethod, dims int, seed int64) ([][]float32, error)

	// ScoreCoherence returns a 0..1 score per non-noise cluster. Clusters
	// missing from the map could not be scored.
	ScoreCoherence(vectors [][]float32, labels []int) map[int]float64

	// Keywords returns up to n characteristic terms of texts.
	Keywords(texts []string, n int) []string

	// Exemplars returns up to n texts of clusterID closest to its centroid.
	Exemplars(vectors [][]float32, labels []int, texts []string, clusterID, n int) []string
}

// Assignment is the outcome of a clustering run.
type Assignment struct {
	// Labels holds one cluster id per input vector; ids are dense from 0.
	Labels []int

	// Probabilities holds a 0..1 membership strength per vector (0 for noise).
	Probabilities []float64
}

// NumClusters returns the number of distinct non-noise labels.
func (a Assignment) NumClusters() int {
	seen := make(map[int]struct{})
	for _, l := range a.Labels {
		if l != topics.NoiseClusterID {
			seen[l] = struct{}{}
		}
	}
	return len(seen)
}

// Noise returns how many vectors were labelled as noise.
func (a Assignment) Noise() int {
	n := 0
	for _, l := range a.Labels {
		if l == topics.NoiseClusterID {
			n++
		}
	}
	return n
}

// DefaultMaxExactPoints bounds the inputs of quadratic algorithms.
const DefaultMaxExactPoints = 4000

// Default scoring constants.
const (
	DefaultKeywords  = 7
	DefaultExemplars = 5

	// SingleClusterCoherence is reported when only one cluster exists and a
	// silhouette cannot be computed.
	SingleClusterCoherence = 0.75
)

// Config configures the Native analyzer.
type Config struct {
	// MaxExactPoints caps the points fed to quadratic algorithms.
	// Default: 4000.
	MaxExactPoints int

	// KMeansRestarts is the number of seeded k-means++ restarts; the run
	// with the lowest inertia wins. Default: 10.
	KMeansRestarts int

	// KMeansMaxIter bounds Lloyd iterations per restart. Default: 300.
	KMeansMaxIter int

	// Logger receives debug timings. Default: no-op.
	Logger *zap.Logger
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		MaxExactPoints: DefaultMaxExactPoints,
		KMeansRestarts: 10,
		KMeansMaxIter:  300,
	}
}

// Native is the pure Go Analyzer.
type Native struct {
	cfg Config
	log *zap.Logger
}

var _ Analyzer = (*Native)(nil)

// New returns a Native analyzer. Zero config fields take defaults.
func New(cfg Config) *Native {
	def := DefaultConfig()
	if cfg.MaxExactPoints <= 0 {
		cfg.MaxExactPoints = def.MaxExactPoints
	}
	if cfg.KMeansRestarts <= 0 {
		cfg.KMeansRestarts = def.KMeansRestarts
	}
	if cfg.KMeansMaxIter <= 0 {
		cfg.KMeansMaxIter = def.KMeansMaxIter
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Native{cfg: cfg, log: log}
}

// Cluster dispatches on the algorithm of cfg.
func (a *Native) Cluster(ctx context.Context, vectors [][]float32, cfg topics.AlgorithmConfig, seed int64) (Assignment, error) {
	const op = "Cluster"
	if len(vectors) == 0 {
		return Assignment{}, topics.Errorf(op, topics.KindInvalidInput, "no vectors to cluster")
	}
	if err := checkDims(vectors); err != nil {
		return Assignment{}, topics.Wrap(op, topics.KindInvalidInput, err)
	}

	var (
		asg Assignment
		err error
	)
	switch c := cfg.(type) {
	case topics.KMeansConfig:
		k := clampK(c.K, len(vectors))
		var labels []int
		labels, err = a.kmeans(ctx, vectors, k, seed)
		asg = Assignment{Labels: labels, Probabilities: kmeansProbabilities(vectors, labels, k)}
	case topics.DensityConfig:
		asg, err = a.density(ctx, vectors, c, seed)
	case topics.AgglomerativeConfig:
		k := clampK(c.K, len(vectors))
		var labels []int
		labels, err = a.agglomerative(ctx, vectors, k, seed)
		asg = Assignment{Labels: labels, Probabilities: ones(len(labels))}
	default:
		return Assignment{}, topics.Errorf(op, topics.KindInvalidInput, "unsupported algorithm config %T", cfg)
	}
	if err != nil {
		if ctx.Err() != nil {
			return Assignment{}, ctx.Err()
		}
		return Assignment{}, topics.Wrap(op, topics.KindUpstreamUnavailable, err)
	}

	a.log.Debug("clustered",
		zap.String("algorithm", string(cfg.Algorithm())),
		zap.Int("points", len(vectors)),
		zap.Int("clusters", asg.NumClusters()),
		zap.Int("noise", asg.Noise()),
	)
	return asg, nil
}

// clampK keeps 1 <= k < n so k-means never produces singleton-only
// partitions of tiny inputs.
func clampK(k, n int) int {
	if n <= 1 {
		return 1
	}
	return max(1, min(k, n-1))
}

func checkDims(vectors [][]float32) error {
	d := len(vectors[0])
	if d == 0 {
		return fmt.Errorf("vectors have zero dimensions")
	}
	for i, v := range vectors {
		if len(v) != d {
			return fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(v), d)
		}
	}
	return nil
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
