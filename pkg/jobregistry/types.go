package jobregistry

import (
	"time"

	"github.com/3leaps/topichub/pkg/topics"
)

// Job is the persistent status record of one pipeline run.
//
// NOTE: The JSON shape is returned verbatim by the HTTP API and is part of
// the stable client contract (additive fields only).
type Job struct {
	ID          string                  `json:"jobId"`
	Status      topics.JobStatus        `json:"status"`
	Progress    float64                 `json:"progress"`
	CurrentStep string                  `json:"currentStep"`
	CreatedAt   time.Time               `json:"createdAt"`
	UpdatedAt   time.Time               `json:"updatedAt"`
	TextCount   int                     `json:"textCount"`
	Config      topics.ClusteringConfig `json:"config"`
	Error       string                  `json:"error,omitempty"`
	Iteration   int                     `json:"iteration"`
}

// Terminal reports whether the job has finished.
func (j *Job) Terminal() bool {
	return isTerminal(j.Status)
}

// JobUpdate is a partial update; nil fields are left unchanged.
type JobUpdate struct {
	Status   *topics.JobStatus
	Progress *float64
	Step     *string
	Error    *string
}

// Stage builds the common update that moves a job into status at progress
// with a human-readable step.
func Stage(status topics.JobStatus, progress float64, step string) JobUpdate {
	return JobUpdate{Status: &status, Progress: &progress, Step: &step}
}

// Progress builds an update that only moves the progress bar.
func Progress(progress float64, step string) JobUpdate {
	return JobUpdate{Progress: &progress, Step: &step}
}

// stageOrder ranks the non-failed statuses; transitions may only move
// forward (or stay put) along it.
var stageOrder = map[topics.JobStatus]int{
	topics.StatusQueued:     0,
	topics.StatusEmbedding:  1,
	topics.StatusReducing:   2,
	topics.StatusClustering: 3,
	topics.StatusLabeling:   4,
	topics.StatusCompleted:  5,
}

func isTerminal(s topics.JobStatus) bool {
	return s == topics.StatusCompleted || s == topics.StatusFailed
}

// CanTransition reports whether a job in status from may move to status to.
//
// Forward skips are allowed (a job reusing cached vectors goes straight from
// queued to reducing). Nothing leaves completed or failed, and failed is
// reachable from every other status.
func CanTransition(from, to topics.JobStatus) bool {
	if isTerminal(from) {
		return false
	}
	if to == topics.StatusFailed {
		return true
	}
	fromRank, ok := stageOrder[from]
	if !ok {
		return false
	}
	toRank, ok := stageOrder[to]
	if !ok {
		return false
	}
	return toRank >= fromRank
}
