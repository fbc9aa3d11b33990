// Package jobregistry manages the lifecycle of pipeline jobs: admission,
// status records, progress, and the per-job artifacts (texts, vectors,
// result) kept in an artifact.Store.
package jobregistry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/3leaps/topichub/pkg/admission"
	"github.com/3leaps/topichub/pkg/artifact"
	"github.com/3leaps/topichub/pkg/topics"
)

// Retention defaults.
const (
	DefaultJobTTL    = 24 * time.Hour
	DefaultVectorTTL = 7 * 24 * time.Hour
	DefaultResultTTL = 7 * 24 * time.Hour
)

// Config configures a Registry.
type Config struct {
	// Namespace prefixes every artifact key. Default: artifact.DefaultNamespace.
	Namespace string

	// JobTTL bounds job records and input texts. Default: 24h.
	JobTTL time.Duration

	// VectorTTL bounds cached vectors. Default: 7 days.
	VectorTTL time.Duration

	// ResultTTL bounds results; must be >= VectorTTL. Default: 7 days.
	ResultTTL time.Duration

	// Logger receives lifecycle events. Default: no-op.
	Logger *zap.Logger

	// Now is the clock. Default: time.Now.
	Now func() time.Time

	// NewID generates job ids. Default: uuid v4.
	NewID func() string
}

// DefaultConfig returns the standard retention windows.
func DefaultConfig() Config {
	return Config{
		Namespace: artifact.DefaultNamespace,
		JobTTL:    DefaultJobTTL,
		VectorTTL: DefaultVectorTTL,
		ResultTTL: DefaultResultTTL,
	}
}

// Registry creates, updates and finalizes jobs.
//
// Status writes (Update, Complete, Fail) and Delete on one job id are
// serialized in-process, so a delete is never undone by a concurrent status
// write. Result writes from mutations stay last-writer-wins.
type Registry struct {
	store     artifact.Store
	admission *admission.Controller
	keys      artifact.Keys
	cfg       Config
	log       *zap.Logger
	locks     *idLocks
}

// idLocks hands out one mutex per job id, dropped when unused.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	sync.Mutex
	refs int
}

func (l *idLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &idLock{}
		l.locks[id] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// New returns a Registry over store, admitting jobs through adm.
func New(store artifact.Store, adm *admission.Controller, cfg Config) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if adm == nil {
		adm = admission.New(admission.DefaultCeiling)
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = DefaultJobTTL
	}
	if cfg.VectorTTL <= 0 {
		cfg.VectorTTL = DefaultVectorTTL
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	if cfg.ResultTTL < cfg.VectorTTL {
		return nil, fmt.Errorf("result ttl %s must be at least the vector ttl %s", cfg.ResultTTL, cfg.VectorTTL)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}

	return &Registry{
		store:     store,
		admission: adm,
		keys:      artifact.NewKeys(cfg.Namespace),
		cfg:       cfg,
		log:       cfg.Logger,
		locks:     &idLocks{locks: make(map[string]*idLock)},
	}, nil
}

// Admission exposes the controller for health reporting.
func (r *Registry) Admission() *admission.Controller {
	return r.admission
}

// Keys exposes the key layout.
func (r *Registry) Keys() artifact.Keys {
	return r.keys
}

// Store exposes the underlying artifact store.
func (r *Registry) Store() artifact.Store {
	return r.store
}

// Create admits a new job and persists its record and texts in the queued
// state. The caller is responsible for starting the run; the slot is
// released by Complete or Fail.
func (r *Registry) Create(ctx context.Context, texts []string, cfg topics.ClusteringConfig, iteration int) (*Job, error) {
	const op = "Create"

	id := r.cfg.NewID()
	if !r.admission.TryAcquire(id) {
		return nil, topics.Errorf(op, topics.KindCapacityExceeded,
			"%d jobs already running; retry later", r.admission.Ceiling())
	}

	now := r.cfg.Now().UTC()
	job := &Job{
		ID:          id,
		Status:      topics.StatusQueued,
		Progress:    0,
		CurrentStep: "Queued",
		CreatedAt:   now,
		UpdatedAt:   now,
		TextCount:   len(texts),
		Config:      cfg,
		Iteration:   iteration,
	}

	err := artifact.PutJSON(ctx, r.store, r.keys.Texts(id), texts, r.cfg.JobTTL)
	if err == nil {
		err = r.putJob(ctx, job)
	}
	if err != nil {
		_ = r.store.Delete(ctx, r.keys.Job(id), r.keys.Texts(id))
		r.admission.Release(id)
		return nil, &topics.Error{Op: op, Kind: topics.KindInternal, JobID: id, Err: err}
	}

	r.log.Info("job created",
		zap.String("job_id", id),
		zap.Int("texts", len(texts)),
		zap.String("config", cfg.String()),
		zap.Int("iteration", iteration),
	)
	return job, nil
}

// Get returns the job record or a NotFound error.
func (r *Registry) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := artifact.GetJSON(ctx, r.store, r.keys.Job(id), &job); err != nil {
		return nil, r.wrapStoreError("Get", id, err)
	}
	return &job, nil
}

// Update applies a partial update, enforcing the transition table.
// UpdatedAt is always refreshed.
func (r *Registry) Update(ctx context.Context, id string, u JobUpdate) (*Job, error) {
	unlock := r.locks.lock(id)
	defer unlock()
	return r.update(ctx, id, u)
}

func (r *Registry) update(ctx context.Context, id string, u JobUpdate) (*Job, error) {
	const op = "Update"

	job, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status != nil && *u.Status != job.Status {
		if !CanTransition(job.Status, *u.Status) {
			return nil, &topics.Error{Op: op, Kind: topics.KindInvalidInput, JobID: id,
				Err: fmt.Errorf("illegal transition %s -> %s", job.Status, *u.Status)}
		}
		job.Status = *u.Status
	} else if job.Terminal() && (u.Progress != nil || u.Step != nil) {
		return nil, &topics.Error{Op: op, Kind: topics.KindInvalidInput, JobID: id,
			Err: fmt.Errorf("job is %s", job.Status)}
	}
	if u.Progress != nil {
		job.Progress = clampProgress(*u.Progress)
	}
	if u.Step != nil {
		job.CurrentStep = *u.Step
	}
	if u.Error != nil {
		job.Error = *u.Error
	}
	job.UpdatedAt = r.cfg.Now().UTC()

	if err := r.putJob(ctx, job); err != nil {
		return nil, r.wrapStoreError(op, id, err)
	}
	return job, nil
}

// Complete stores result, marks the job completed at 100% and releases its
// slot. The slot is released even when the record is already gone.
func (r *Registry) Complete(ctx context.Context, id string, result *topics.Result) error {
	defer r.release(id)
	unlock := r.locks.lock(id)
	defer unlock()

	if _, err := r.Get(ctx, id); err != nil {
		// Deleted while running: leave nothing behind under this id.
		return err
	}

	result.JobID = id
	if err := r.PutResult(ctx, id, result); err != nil {
		return err
	}

	status := topics.StatusCompleted
	progress := 100.0
	step := "Completed"
	if _, err := r.update(ctx, id, JobUpdate{Status: &status, Progress: &progress, Step: &step}); err != nil {
		return err
	}

	r.log.Info("job completed",
		zap.String("job_id", id),
		zap.Int("topics", len(result.Topics)),
		zap.Int("noise", result.Noise),
	)
	return nil
}

// Fail marks the job failed with cause and releases its slot.
func (r *Registry) Fail(ctx context.Context, id string, cause error) error {
	defer r.release(id)
	unlock := r.locks.lock(id)
	defer unlock()

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	r.log.Error("job failed", zap.String("job_id", id), zap.Error(cause))

	status := topics.StatusFailed
	step := "Failed"
	_, err := r.update(ctx, id, JobUpdate{Status: &status, Step: &step, Error: &msg})
	return err
}

func (r *Registry) release(id string) {
	if r.admission.Release(id) {
		r.log.Debug("admission slot released", zap.String("job_id", id), zap.Int("active", r.admission.Active()))
	}
}

// List returns every live job, newest first. Active ids whose record has
// not been written yet (or was deleted) are skipped.
func (r *Registry) List(ctx context.Context) ([]Job, error) {
	ids := make(map[string]struct{})
	for _, id := range r.admission.ActiveIDs() {
		ids[id] = struct{}{}
	}

	keys, err := r.store.Keys(ctx, r.keys.JobPrefix())
	if err != nil {
		return nil, &topics.Error{Op: "List", Kind: topics.KindInternal, Err: err}
	}
	for _, k := range keys {
		if id, ok := r.keys.JobID(k); ok {
			ids[id] = struct{}{}
		}
	}

	out := make([]Job, 0, len(ids))
	for id := range ids {
		job, err := r.Get(ctx, id)
		if topics.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes the job record, texts, vectors and result. It returns false
// when no job record exists. An in-flight run is not stopped.
func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	unlock := r.locks.lock(id)
	defer unlock()

	ok, err := r.store.Exists(ctx, r.keys.Job(id))
	if err != nil {
		return false, &topics.Error{Op: "Delete", Kind: topics.KindInternal, JobID: id, Err: err}
	}
	if !ok {
		return false, nil
	}

	var errs error
	for _, key := range r.keys.All(id) {
		errs = multierr.Append(errs, r.store.Delete(ctx, key))
	}
	if errs != nil {
		return true, &topics.Error{Op: "Delete", Kind: topics.KindInternal, JobID: id, Err: errs}
	}

	r.log.Info("job deleted", zap.String("job_id", id))
	return true, nil
}

// Texts returns the job's input texts.
func (r *Registry) Texts(ctx context.Context, id string) ([]string, error) {
	var texts []string
	if err := artifact.GetJSON(ctx, r.store, r.keys.Texts(id), &texts); err != nil {
		return nil, r.wrapStoreError("Texts", id, err)
	}
	return texts, nil
}

// HasVectors reports whether cached vectors exist for the job.
func (r *Registry) HasVectors(ctx context.Context, id string) (bool, error) {
	ok, err := r.store.Exists(ctx, r.keys.Vectors(id))
	if err != nil {
		return false, r.wrapStoreError("HasVectors", id, err)
	}
	return ok, nil
}

// Vectors returns the job's cached vectors.
func (r *Registry) Vectors(ctx context.Context, id string) ([][]float32, error) {
	data, err := r.store.Get(ctx, r.keys.Vectors(id))
	if err != nil {
		return nil, r.wrapStoreError("Vectors", id, err)
	}
	m, err := artifact.DecodeMatrix(data)
	if err != nil {
		return nil, &topics.Error{Op: "Vectors", Kind: topics.KindInternal, JobID: id, Err: err}
	}
	return m, nil
}

// PutVectors caches vectors under the job id with the vector TTL.
func (r *Registry) PutVectors(ctx context.Context, id string, vectors [][]float32) error {
	data, err := artifact.EncodeMatrix(vectors)
	if err != nil {
		return &topics.Error{Op: "PutVectors", Kind: topics.KindInternal, JobID: id, Err: err}
	}
	if err := r.store.Put(ctx, r.keys.Vectors(id), data, r.cfg.VectorTTL); err != nil {
		return &topics.Error{Op: "PutVectors", Kind: topics.KindInternal, JobID: id, Err: err}
	}
	return nil
}

// Result returns the stored clustering result.
func (r *Registry) Result(ctx context.Context, id string) (*topics.Result, error) {
	var res topics.Result
	if err := artifact.GetJSON(ctx, r.store, r.keys.Result(id), &res); err != nil {
		return nil, r.wrapStoreError("Result", id, err)
	}
	return &res, nil
}

// PutResult writes result as a whole, refreshing the result TTL.
func (r *Registry) PutResult(ctx context.Context, id string, result *topics.Result) error {
	if err := artifact.PutJSON(ctx, r.store, r.keys.Result(id), result, r.cfg.ResultTTL); err != nil {
		return &topics.Error{Op: "PutResult", Kind: topics.KindInternal, JobID: id, Err: err}
	}
	return nil
}

// Purge drops expired artifacts when the store supports it.
func (r *Registry) Purge(ctx context.Context) (int64, error) {
	p, ok := r.store.(artifact.Purger)
	if !ok {
		return 0, nil
	}
	return p.PurgeExpired(ctx)
}

// putJob writes the record with the time left in its retention window,
// which runs from CreatedAt. A record past its window is removed and
// reported as not found.
func (r *Registry) putJob(ctx context.Context, job *Job) error {
	ttl := job.CreatedAt.Add(r.cfg.JobTTL).Sub(r.cfg.Now())
	if ttl <= 0 {
		_ = r.store.Delete(ctx, r.keys.Job(job.ID))
		return artifact.ErrNotFound
	}
	return artifact.PutJSON(ctx, r.store, r.keys.Job(job.ID), job, ttl)
}

func (r *Registry) wrapStoreError(op, id string, err error) error {
	if artifact.IsNotFound(err) {
		return &topics.Error{Op: op, Kind: topics.KindNotFound, JobID: id, Err: err}
	}
	return &topics.Error{Op: op, Kind: topics.KindInternal, JobID: id, Err: err}
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
