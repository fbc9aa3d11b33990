package topics

import (
	"fmt"
	"strings"
)

// Granularity selects how coarse the discovered clusters should be.
type Granularity string

const (
	GranularityLow    Granularity = "low"
	GranularityMedium Granularity = "medium"
	GranularityHigh   Granularity = "high"
)

// Algorithm selects the clustering family.
type Algorithm string

const (
	// AlgorithmDensity groups dense regions and leaves sparse points as noise.
	AlgorithmDensity       Algorithm = "density"
	AlgorithmKMeans        Algorithm = "kmeans"
	AlgorithmAgglomerative Algorithm = "agglomerative"
)

// ReductionMethod selects the pre-clustering dimensionality reduction.
type ReductionMethod string

const (
	ReductionPCA    ReductionMethod = "pca"
	ReductionRandom ReductionMethod = "random"
	ReductionNone   ReductionMethod = "none"
)

// Defaults applied by ClusteringConfig.Normalize.
const (
	DefaultDimReductionTarget = 50
	DefaultMinClusterSize     = 5
	BaseSeed                  = 42
)

// DensityPreset holds the density parameters for one granularity level.
type DensityPreset struct {
	MinClusterSize   int
	MinSamples       int
	SelectionEpsilon float64
}

var densityPresets = map[Granularity]DensityPreset{
	GranularityLow:    {MinClusterSize: 50, MinSamples: 15, SelectionEpsilon: 0.5},
	GranularityMedium: {MinClusterSize: 20, MinSamples: 8, SelectionEpsilon: 0.3},
	GranularityHigh:   {MinClusterSize: 8, MinSamples: 3, SelectionEpsilon: 0.1},
}

var defaultK = map[Granularity]int{
	GranularityLow:    4,
	GranularityMedium: 7,
	GranularityHigh:   12,
}

// ClusteringConfig is the submission-time configuration of a job.
//
// It is the loosely typed wire shape; Resolve turns it into a validated
// AlgorithmConfig carrying only the parameters of the chosen algorithm.
type ClusteringConfig struct {
	Granularity         Granularity     `json:"granularity" yaml:"granularity" mapstructure:"granularity"`
	Algorithm           Algorithm       `json:"algorithm" yaml:"algorithm" mapstructure:"algorithm"`
	DimReduction        ReductionMethod `json:"dimReduction" yaml:"dimReduction" mapstructure:"dimReduction"`
	DimReductionTarget  int             `json:"dimReductionTarget" yaml:"dimReductionTarget" mapstructure:"dimReductionTarget"`
	NumClusters         *int            `json:"numClusters,omitempty" yaml:"numClusters,omitempty" mapstructure:"numClusters"`
	MinClusterSize      int             `json:"minClusterSize" yaml:"minClusterSize" mapstructure:"minClusterSize"`
	UseCachedEmbeddings bool            `json:"useCachedEmbeddings" yaml:"useCachedEmbeddings" mapstructure:"useCachedEmbeddings"`
	CachedJobID         string          `json:"cachedJobId,omitempty" yaml:"cachedJobId,omitempty" mapstructure:"cachedJobId"`
	EncoderModel        string          `json:"encoderModel,omitempty" yaml:"encoderModel,omitempty" mapstructure:"encoderModel"`
}

// Normalize fills defaults and canonicalises aliases in place.
func (c *ClusteringConfig) Normalize() {
	c.Granularity = Granularity(strings.ToLower(strings.TrimSpace(string(c.Granularity))))
	if c.Granularity == "" {
		c.Granularity = GranularityMedium
	}

	switch a := Algorithm(strings.ToLower(strings.TrimSpace(string(c.Algorithm)))); a {
	case "", "hdbscan", "dbscan":
		c.Algorithm = AlgorithmDensity
	default:
		c.Algorithm = a
	}

	switch m := ReductionMethod(strings.ToLower(strings.TrimSpace(string(c.DimReduction)))); m {
	case "", "umap", "tsne":
		// Manifold learners are not available natively; PCA is the closest
		// linear stand-in and is what gets recorded in result metadata.
		c.DimReduction = ReductionPCA
	default:
		c.DimReduction = m
	}

	if c.DimReductionTarget == 0 {
		c.DimReductionTarget = DefaultDimReductionTarget
	}
	if c.MinClusterSize == 0 {
		c.MinClusterSize = DefaultMinClusterSize
	}
	c.CachedJobID = strings.TrimSpace(c.CachedJobID)
	c.EncoderModel = strings.TrimSpace(c.EncoderModel)
}

// Validate checks the configuration after Normalize.
func (c ClusteringConfig) Validate() error {
	if _, ok := densityPresets[c.Granularity]; !ok {
		return Errorf("ValidateConfig", KindInvalidInput, "granularity must be low, medium or high, got %q", c.Granularity)
	}
	switch c.Algorithm {
	case AlgorithmDensity, AlgorithmKMeans, AlgorithmAgglomerative:
	default:
		return Errorf("ValidateConfig", KindInvalidInput, "unknown algorithm %q", c.Algorithm)
	}
	switch c.DimReduction {
	case ReductionPCA, ReductionRandom, ReductionNone:
	default:
		return Errorf("ValidateConfig", KindInvalidInput, "unknown dimReduction %q", c.DimReduction)
	}
	if c.DimReductionTarget < 2 {
		return Errorf("ValidateConfig", KindInvalidInput, "dimReductionTarget must be >= 2, got %d", c.DimReductionTarget)
	}
	if c.MinClusterSize < 2 {
		return Errorf("ValidateConfig", KindInvalidInput, "minClusterSize must be >= 2, got %d", c.MinClusterSize)
	}
	if c.NumClusters != nil && *c.NumClusters < 1 {
		return Errorf("ValidateConfig", KindInvalidInput, "numClusters must be >= 1, got %d", *c.NumClusters)
	}
	if c.UseCachedEmbeddings && c.CachedJobID == "" {
		return Errorf("ValidateConfig", KindInvalidInput, "useCachedEmbeddings requires cachedJobId")
	}
	return nil
}

// Resolve validates c and returns the tagged algorithm configuration for it.
func (c ClusteringConfig) Resolve() (AlgorithmConfig, error) {
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.Algorithm {
	case AlgorithmKMeans:
		return KMeansConfig{K: c.k()}, nil
	case AlgorithmAgglomerative:
		return AgglomerativeConfig{K: c.k()}, nil
	default:
		preset := densityPresets[c.Granularity]
		if c.MinClusterSize > preset.MinClusterSize {
			preset.MinClusterSize = c.MinClusterSize
		}
		return DensityConfig(preset), nil
	}
}

func (c ClusteringConfig) k() int {
	if c.NumClusters != nil {
		return *c.NumClusters
	}
	return defaultK[c.Granularity]
}

// Seed returns the randomisation seed for a run; iteration deliberately
// perturbs it so repeated runs on the same input can differ.
func Seed(iteration int) int64 {
	return int64(BaseSeed + iteration)
}

// AlgorithmConfig is the validated, algorithm-specific configuration.
type AlgorithmConfig interface {
	// Algorithm returns the algorithm family.
	Algorithm() Algorithm

	// Relaxed returns looser parameters for a retry after a degenerate
	// (zero cluster) result. The bool is false when no relaxation exists.
	Relaxed() (AlgorithmConfig, bool)

	// Params returns the parameters for result metadata.
	Params() map[string]any
}

// DensityConfig parameterises density clustering.
type DensityConfig struct {
	MinClusterSize   int
	MinSamples       int
	SelectionEpsilon float64
}

func (DensityConfig) Algorithm() Algorithm { return AlgorithmDensity }

func (d DensityConfig) Relaxed() (AlgorithmConfig, bool) {
	return DensityConfig{
		MinClusterSize:   max(3, d.MinClusterSize/3),
		MinSamples:       max(2, d.MinSamples/3),
		SelectionEpsilon: d.SelectionEpsilon / 3,
	}, true
}

func (d DensityConfig) Params() map[string]any {
	return map[string]any{
		"minClusterSize":          d.MinClusterSize,
		"minSamples":              d.MinSamples,
		"clusterSelectionEpsilon": d.SelectionEpsilon,
	}
}

// KMeansConfig parameterises k-means partitioning.
type KMeansConfig struct {
	K int
}

func (KMeansConfig) Algorithm() Algorithm { return AlgorithmKMeans }

// Relaxed returns false: k-means always yields at least one cluster.
func (KMeansConfig) Relaxed() (AlgorithmConfig, bool) { return nil, false }

func (k KMeansConfig) Params() map[string]any {
	return map[string]any{"numClusters": k.K}
}

// AgglomerativeConfig parameterises average-linkage agglomerative clustering.
type AgglomerativeConfig struct {
	K int
}

func (AgglomerativeConfig) Algorithm() Algorithm { return AlgorithmAgglomerative }

func (AgglomerativeConfig) Relaxed() (AlgorithmConfig, bool) { return nil, false }

func (a AgglomerativeConfig) Params() map[string]any {
	return map[string]any{"numClusters": a.K, "linkage": "average"}
}

// String implements fmt.Stringer for log fields.
func (c ClusteringConfig) String() string {
	return fmt.Sprintf("algorithm=%s granularity=%s dim=%s/%d", c.Algorithm, c.Granularity, c.DimReduction, c.DimReductionTarget)
}
