package mutator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/topichub/pkg/topics"
)

// Rename relabels topicID in a copy of r. An unknown topic is not an error
// here: the record comes back with Updated false and r is returned unchanged.
func (m *Mutator) Rename(r *topics.Result, topicID int, newLabel string) (*topics.Result, topics.RenameRecord, error) {
	const op = "Rename"

	label := strings.TrimSpace(newLabel)
	rec := topics.RenameRecord{TopicID: topicID, NewLabel: label, Timestamp: m.now().UTC()}
	if label == "" {
		return nil, rec, invalid(op, "new label is empty")
	}
	if r == nil {
		return nil, rec, nil
	}

	out := r.Clone()
	t, ok := out.TopicByID(topicID)
	if !ok {
		return out, rec, nil
	}
	rec.OldLabel = t.Label
	t.Label = label
	rec.Updated = true
	return out, rec, nil
}

// RenameJob relabels topicID in the stored result of jobID.
func (m *Mutator) RenameJob(ctx context.Context, jobID string, topicID int, newLabel string) (*topics.Result, topics.RenameRecord, error) {
	const op = "Rename"

	r, err := m.load(ctx, op, jobID)
	if err != nil {
		return nil, topics.RenameRecord{}, err
	}
	out, rec, err := m.Rename(r, topicID, newLabel)
	if err != nil {
		return nil, rec, err
	}
	if !rec.Updated {
		return nil, rec, &topics.Error{Op: op, Kind: topics.KindNotFound, JobID: jobID,
			Err: fmt.Errorf("topic %d does not exist", topicID)}
	}
	if err := m.save(ctx, op, jobID, out); err != nil {
		return nil, rec, err
	}
	m.log.Debug("topic renamed", zap.String("job_id", jobID), zap.Int("topic_id", topicID),
		zap.String("old", rec.OldLabel), zap.String("new", rec.NewLabel))
	return out, rec, nil
}
