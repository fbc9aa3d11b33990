// Package topics defines the shared domain model for topic discovery jobs:
// documents, topics, clustering results, job configuration and the error
// taxonomy used by every other package.
//
// JSON field names follow the camelCase contract consumed by existing
// HTTP clients, so the types here are part of the stable wire format.
package topics

import "time"

// NoiseClusterID is the cluster id assigned to documents that do not belong
// to any discovered cluster.
const NoiseClusterID = -1

// JobStatus is the lifecycle state of a pipeline job.
//
// NOTE: These values are persisted in job records and returned over HTTP.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusEmbedding  JobStatus = "embedding"
	StatusReducing   JobStatus = "reducing"
	StatusClustering JobStatus = "clustering"
	StatusLabeling   JobStatus = "labeling"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Document is one input text positioned in the 2-D display space.
type Document struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	ClusterID int     `json:"clusterId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// Topic aggregates the documents assigned to one cluster.
type Topic struct {
	ID             int      `json:"id"`
	Label          string   `json:"label"`
	Description    string   `json:"description"`
	DocumentCount  int      `json:"documentCount"`
	SampleTexts    []string `json:"sampleTexts"`
	Color          string   `json:"color"`
	CentroidX      float64  `json:"centroidX"`
	CentroidY      float64  `json:"centroidY"`
	CoherenceScore float64  `json:"coherenceScore"`
	Keywords       []string `json:"keywords"`
}

// SuggestionType enumerates the refinement actions a Labeler may propose.
type SuggestionType string

const (
	SuggestMerge      SuggestionType = "merge"
	SuggestSplit      SuggestionType = "split"
	SuggestRename     SuggestionType = "rename"
	SuggestReclassify SuggestionType = "reclassify"
)

// Valid reports whether t is one of the known suggestion types.
func (t SuggestionType) Valid() bool {
	switch t {
	case SuggestMerge, SuggestSplit, SuggestRename, SuggestReclassify:
		return true
	}
	return false
}

// Suggestion is a proposed edit to the cluster graph.
type Suggestion struct {
	Type             SuggestionType `json:"type"`
	Description      string         `json:"description"`
	TargetClusterIDs []int          `json:"targetClusterIds"`
	SuggestedLabel   string         `json:"suggestedLabel,omitempty"`
	Confidence       float64        `json:"confidence"`
	Applied          bool           `json:"applied"`
}

// Analysis summarises cluster quality next to a set of suggestions.
type Analysis struct {
	OverallCoherence    float64  `json:"overallCoherence"`
	ProblematicClusters []int    `json:"problematicClusters"`
	SuggestedOptimalK   int      `json:"suggestedOptimalK"`
	FocusAreasAnalyzed  []string `json:"focusAreasAnalyzed"`
}

// Refinement is the outcome of a holistic review of a topic set.
type Refinement struct {
	Suggestions []Suggestion `json:"suggestions"`
	Analysis    Analysis     `json:"analysis"`
}

// Meta records how a result was produced.
type Meta struct {
	PipelineDurationMs   int64          `json:"pipelineDurationMs"`
	EncoderModel         string         `json:"encoderModel"`
	Algorithm            string         `json:"algorithm"`
	DimReduction         string         `json:"dimReduction"`
	DimReductionTarget   int            `json:"dimReductionTarget"`
	ClusteringParams     map[string]any `json:"clusteringParams"`
	LabelerModel         string         `json:"llmModel"`
	Iteration            int            `json:"iteration"`
	UsedCachedEmbeddings bool           `json:"usedCachedEmbeddings"`
	RetriedRelaxed       bool           `json:"retriedRelaxed,omitempty"`
}

// MergeInfo describes the last merge applied to a result.
type MergeInfo struct {
	MergedClusterIDs  []int  `json:"mergedClusterIds"`
	NewClusterID      int    `json:"newClusterId"`
	NewLabel          string `json:"newLabel"`
	DocumentsAffected int    `json:"documentsAffected"`
}

// SplitInfo describes the last split applied to a result.
type SplitInfo struct {
	OriginalClusterID int   `json:"originalClusterId"`
	NewClusterIDs     []int `json:"newClusterIds"`
	NumSubclusters    int   `json:"numSubclusters"`
	DocumentsAffected int   `json:"documentsAffected"`
}

// ReclassifyInfo describes the last reclassify applied to a result.
type ReclassifyInfo struct {
	FromClusterIDs    []int `json:"fromClusterIds"`
	NewClusterIDs     []int `json:"newClusterIds"`
	NumClusters       int   `json:"numClusters"`
	DocumentsAffected int   `json:"documentsAffected"`
	UsedVectors       bool  `json:"usedCachedEmbeddings"`
}

// Result is the stored, addressable state of a completed job.
//
// Every mutation reads a whole Result, computes a new one and writes it back.
type Result struct {
	Documents      []Document      `json:"documents"`
	Topics         []Topic         `json:"topics"`
	Suggestions    []Suggestion    `json:"llmSuggestions"`
	TotalDocuments int             `json:"totalDocuments"`
	Noise          int             `json:"noise"`
	JobID          string          `json:"jobId,omitempty"`
	Meta           *Meta           `json:"meta,omitempty"`
	Analysis       *Analysis       `json:"analysis,omitempty"`
	MergeInfo      *MergeInfo      `json:"mergeInfo,omitempty"`
	SplitInfo      *SplitInfo      `json:"splitInfo,omitempty"`
	ReclassifyInfo *ReclassifyInfo `json:"reclassifyInfo,omitempty"`
}

// RenameRecord is returned by a rename operation.
type RenameRecord struct {
	TopicID   int       `json:"topicId"`
	OldLabel  string    `json:"oldLabel"`
	NewLabel  string    `json:"newLabel"`
	Updated   bool      `json:"updated"`
	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a deep copy of r so callers can mutate it without touching
// the original.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Documents = append([]Document(nil), r.Documents...)
	out.Topics = make([]Topic, len(r.Topics))
	for i, t := range r.Topics {
		t.SampleTexts = append([]string(nil), t.SampleTexts...)
		t.Keywords = append([]string(nil), t.Keywords...)
		out.Topics[i] = t
	}
	out.Suggestions = append([]Suggestion(nil), r.Suggestions...)
	if r.Meta != nil {
		m := *r.Meta
		if r.Meta.ClusteringParams != nil {
			m.ClusteringParams = make(map[string]any, len(r.Meta.ClusteringParams))
			for k, v := range r.Meta.ClusteringParams {
				m.ClusteringParams[k] = v
			}
		}
		out.Meta = &m
	}
	if r.Analysis != nil {
		a := *r.Analysis
		out.Analysis = &a
	}
	// Per-operation info describes a single mutation and is not carried over.
	out.MergeInfo = nil
	out.SplitInfo = nil
	out.ReclassifyInfo = nil
	return &out
}

// TopicByID returns the topic with the given id.
func (r *Result) TopicByID(id int) (*Topic, bool) {
	for i := range r.Topics {
		if r.Topics[i].ID == id {
			return &r.Topics[i], true
		}
	}
	return nil, false
}

// MaxTopicID returns the largest topic id in r, or NoiseClusterID when r has
// no topics.
func (r *Result) MaxTopicID() int {
	max := NoiseClusterID
	for _, t := range r.Topics {
		if t.ID > max {
			max = t.ID
		}
	}
	for _, d := range r.Documents {
		if d.ClusterID > max {
			max = d.ClusterID
		}
	}
	return max
}
