// Package mutator edits stored clustering results: rename, merge, split,
// reclassify and relabel topics.
//
// Every operation has a stateless form that takes a *topics.Result and a
// stateful form that loads a job's result, applies the same edit and writes
// the new result back. The input result is never modified and nothing is
// written when an operation fails.
package mutator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/topichub/pkg/analyzer"
	"github.com/3leaps/topichub/pkg/jobregistry"
	"github.com/3leaps/topichub/pkg/labeler"
	"github.com/3leaps/topichub/pkg/topics"
)

// Constants for derived topics.
const (
	// MaxMergedKeywords caps the keyword union of a merge.
	MaxMergedKeywords = analyzer.DefaultKeywords

	// MaxSampleTexts caps sample texts of merged and split topics.
	MaxSampleTexts = analyzer.DefaultExemplars

	// SplitKeywords is how many of the original keywords each subgroup keeps.
	SplitKeywords = 5

	// SplitCoherence is the placeholder coherence of split subgroups.
	SplitCoherence = 0.7

	// MinDocsPerGroup is the minimum documents per requested group for split
	// and reclassify.
	MinDocsPerGroup = 3
)

// Config configures a Mutator.
type Config struct {
	// Logger for mutation events. Default: no-op.
	Logger *zap.Logger

	// Now is the clock used for rename records. Default: time.Now.
	Now func() time.Time
}

// Mutator applies edits to clustering results.
type Mutator struct {
	reg      *jobregistry.Registry
	analyzer analyzer.Analyzer
	labeler  labeler.Labeler
	log      *zap.Logger
	now      func() time.Time
}

// New returns a Mutator. reg may be nil when only stateless operations are
// used.
func New(reg *jobregistry.Registry, an analyzer.Analyzer, lb labeler.Labeler, cfg Config) *Mutator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if lb == nil {
		lb = labeler.Keywords{}
	}
	return &Mutator{
		reg:      reg,
		analyzer: an,
		labeler:  lb,
		log:      cfg.Logger,
		now:      cfg.Now,
	}
}

// load returns the stored result of jobID.
func (m *Mutator) load(ctx context.Context, op, jobID string) (*topics.Result, error) {
	if m.reg == nil {
		return nil, &topics.Error{Op: op, Kind: topics.KindInternal, JobID: jobID, Err: fmt.Errorf("no job registry configured")}
	}
	r, err := m.reg.Result(ctx, jobID)
	if err != nil {
		if topics.IsNotFound(err) {
			return nil, &topics.Error{Op: op, Kind: topics.KindNotFound, JobID: jobID, Err: fmt.Errorf("no result for job: %w", err)}
		}
		return nil, err
	}
	return r, nil
}

// vectors returns the cached vectors of jobID when they exist and line up
// with docs; otherwise nil.
func (m *Mutator) vectors(ctx context.Context, jobID string, docs []topics.Document) [][]float32 {
	if m.reg == nil || jobID == "" {
		return nil
	}
	vecs, err := m.reg.Vectors(ctx, jobID)
	if err != nil {
		if !topics.IsNotFound(err) {
			m.log.Warn("cached vectors unreadable; using display positions",
				zap.String("job_id", jobID), zap.Error(err))
		}
		return nil
	}
	if len(vecs) != len(docs) {
		m.log.Warn("cached vectors do not match documents; using display positions",
			zap.String("job_id", jobID), zap.Int("vectors", len(vecs)), zap.Int("documents", len(docs)))
		return nil
	}
	return vecs
}

// save reconciles, validates and persists r under jobID.
func (m *Mutator) save(ctx context.Context, op, jobID string, r *topics.Result) error {
	if err := finish(op, r); err != nil {
		return err
	}
	if err := m.reg.PutResult(ctx, jobID, r); err != nil {
		return err
	}
	m.log.Info("result updated", zap.String("op", op), zap.String("job_id", jobID),
		zap.Int("topics", len(r.Topics)), zap.Int("noise", r.Noise))
	return nil
}

func finish(op string, r *topics.Result) error {
	topics.Reconcile(r)
	if err := topics.Validate(r); err != nil {
		return topics.Wrap(op, topics.KindInternal, err)
	}
	return nil
}

func invalid(op, format string, args ...any) error {
	return topics.Errorf(op, topics.KindInvalidInput, format, args...)
}

// distinct returns ids without duplicates, in first-appearance order.
func distinct(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// formatIDs renders ids as "[a, b, c]".
func formatIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
