// Package output provides JSONL output for foreground pipeline runs.
//
// Output is structured as typed record envelopes containing job
// progress, topics, suggestions, summaries and errors. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: topichub.<type>.v<version>
const (
	// TypeJob identifies job submission records.
	TypeJob = "topichub.job.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "topichub.progress.v1"

	// TypeTopic identifies one discovered topic.
	TypeTopic = "topichub.topic.v1"

	// TypeSuggestion identifies refinement suggestions.
	TypeSuggestion = "topichub.suggestion.v1"

	// TypeError identifies error records.
	TypeError = "topichub.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "topichub.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// The type field determines how to interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "topichub.topic.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the pipeline job the record belongs to.
	JobID string `json:"job_id"`

	// Encoder is the encoder model used for the job.
	Encoder string `json:"encoder,omitempty"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobRecord is emitted once a job has been admitted.
type JobRecord struct {
	Manifest  string         `json:"manifest,omitempty"`
	Sources   []string       `json:"sources,omitempty"`
	TextCount int            `json:"text_count"`
	Iteration int            `json:"iteration"`
	Config    map[string]any `json:"config,omitempty"`
}

// ProgressRecord is the data payload for progress updates.
type ProgressRecord struct {
	// Status is the job status at the time of the update.
	Status string `json:"status"`

	// Progress is the 0..100 completion estimate.
	Progress float64 `json:"progress"`

	// Step describes the current pipeline step.
	Step string `json:"step"`
}

// TopicRecord is the data payload for one topic.
type TopicRecord struct {
	ID             int      `json:"id"`
	Label          string   `json:"label"`
	Description    string   `json:"description,omitempty"`
	DocumentCount  int      `json:"document_count"`
	CoherenceScore float64  `json:"coherence_score"`
	Keywords       []string `json:"keywords"`
	SampleTexts    []string `json:"sample_texts,omitempty"`
}

// SuggestionRecord is the data payload for one refinement suggestion.
type SuggestionRecord struct {
	Type             string  `json:"suggestion_type"`
	Description      string  `json:"description"`
	TargetClusterIDs []int   `json:"target_cluster_ids"`
	SuggestedLabel   string  `json:"suggested_label,omitempty"`
	Confidence       float64 `json:"confidence"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Source is the input file related to this error, if applicable.
	Source string `json:"source,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeQueueFull    = "QUEUE_FULL"
	ErrCodeUpstream     = "UPSTREAM_UNAVAILABLE"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeInternal     = "INTERNAL"
)

// SummaryRecord is emitted at the end of a run.
type SummaryRecord struct {
	// Status is the terminal job status.
	Status string `json:"status"`

	TotalDocuments int `json:"total_documents"`
	Topics         int `json:"topics"`
	Noise          int `json:"noise"`
	Suggestions    int `json:"suggestions"`

	// OverallCoherence is the mean topic coherence.
	OverallCoherence float64 `json:"overall_coherence"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// ResultFile is where the full result was written, if anywhere.
	ResultFile string `json:"result_file,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
