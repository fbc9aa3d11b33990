package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/3leaps/topichub/pkg/topics"
)

// Writer outputs JSONL records for a pipeline run.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a
// single line of JSON followed by a newline.
type Writer interface {
	WriteJob(ctx context.Context, job *JobRecord) error
	WriteProgress(ctx context.Context, prog *ProgressRecord) error
	WriteTopic(ctx context.Context, topic *TopicRecord) error
	WriteSuggestion(ctx context.Context, s *SuggestionRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// Writes are serialized using a mutex so lines never interleave.
type JSONLWriter struct {
	w       io.Writer
	jobID   string
	encoder string
	mu      sync.Mutex

	closed bool
}

// NewJSONLWriter creates a new JSONL writer. jobID may be empty until the
// job is admitted; see SetJobID.
func NewJSONLWriter(w io.Writer, jobID, encoder string) *JSONLWriter {
	return &JSONLWriter{
		w:       w,
		jobID:   jobID,
		encoder: encoder,
	}
}

// SetJobID sets the job id stamped on subsequent records.
func (jw *JSONLWriter) SetJobID(id string) {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.jobID = id
}

func (jw *JSONLWriter) WriteJob(ctx context.Context, job *JobRecord) error {
	return jw.writeRecord(ctx, TypeJob, job)
}

func (jw *JSONLWriter) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return jw.writeRecord(ctx, TypeProgress, prog)
}

func (jw *JSONLWriter) WriteTopic(ctx context.Context, topic *TopicRecord) error {
	return jw.writeRecord(ctx, TypeTopic, topic)
}

func (jw *JSONLWriter) WriteSuggestion(ctx context.Context, s *SuggestionRecord) error {
	return jw.writeRecord(ctx, TypeSuggestion, s)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// Close marks the writer as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// WriteResult emits one topic record per topic and one suggestion record
// per suggestion of r.
func WriteResult(ctx context.Context, w Writer, r *topics.Result) error {
	for _, t := range r.Topics {
		if err := w.WriteTopic(ctx, TopicRecordOf(t)); err != nil {
			return err
		}
	}
	for _, s := range r.Suggestions {
		rec := &SuggestionRecord{
			Type:             string(s.Type),
			Description:      s.Description,
			TargetClusterIDs: s.TargetClusterIDs,
			SuggestedLabel:   s.SuggestedLabel,
			Confidence:       s.Confidence,
		}
		if err := w.WriteSuggestion(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// TopicRecordOf converts a topic to its output record.
func TopicRecordOf(t topics.Topic) *TopicRecord {
	return &TopicRecord{
		ID:             t.ID,
		Label:          t.Label,
		Description:    t.Description,
		DocumentCount:  t.DocumentCount,
		CoherenceScore: t.CoherenceScore,
		Keywords:       t.Keywords,
		SampleTexts:    t.SampleTexts,
	}
}

// writeRecord marshals data and writes a complete record line.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Marshal the payload outside the lock.
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type:    recordType,
		TS:      time.Now().UTC(),
		JobID:   jw.jobID,
		Encoder: jw.encoder,
		Data:    dataBytes,
	}
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may report a short write with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
