package jobregistry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/topichub/pkg/admission"
	"github.com/3leaps/topichub/pkg/artifact"
	"github.com/3leaps/topichub/pkg/topics"
)

// failingStore wraps a MemoryStore and fails writes to keys containing
// failOn.
type failingStore struct {
	*artifact.MemoryStore
	mu     sync.Mutex
	failOn string
}

func (f *failingStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	failOn := f.failOn
	f.mu.Unlock()
	if failOn != "" && strings.Contains(key, failOn) {
		return errors.New("disk full")
	}
	return f.MemoryStore.Put(ctx, key, value, ttl)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, ceiling int) (*Registry, *failingStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := &failingStore{MemoryStore: artifact.NewMemoryStore().WithClock(clock.Now)}

	n := 0
	var mu sync.Mutex
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.NewID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("job-%d", n)
	}

	r, err := New(store, admission.New(ceiling), cfg)
	require.NoError(t, err)
	return r, store, clock
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("text %d", i)
	}
	return out
}

func TestRegistry_CreatePersistsQueuedJobAndTexts(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t, 3)

	job, err := r.Create(ctx, texts(12), topics.ClusteringConfig{Granularity: topics.GranularityHigh}, 2)
	require.NoError(t, err)

	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, topics.StatusQueued, job.Status)
	assert.Equal(t, 12, job.TextCount)
	assert.Equal(t, 2, job.Iteration)

	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.CreatedAt, got.CreatedAt)
	assert.Equal(t, topics.GranularityHigh, got.Config.Granularity)

	stored, err := r.Texts(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, texts(12), stored)
	assert.Equal(t, 1, r.Admission().Active())
}

func TestRegistry_CapacityCeilingAndRelease(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t, 2)

	a, err := r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.NoError(t, err)
	_, err = r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.NoError(t, err)

	_, err = r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.Error(t, err)
	assert.True(t, topics.IsCapacityExceeded(err))

	require.NoError(t, r.Fail(ctx, a.ID, errors.New("encoder down")))

	_, err = r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	assert.NoError(t, err)
}

func TestRegistry_CreateReleasesSlotWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newTestRegistry(t, 1)
	store.failOn = "texts:"

	_, err := r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.Error(t, err)
	assert.Equal(t, topics.KindInternal, topics.KindOf(err))
	assert.Equal(t, 0, r.Admission().Active())

	store.failOn = ""
	_, err = r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	assert.NoError(t, err)
}

func TestRegistry_UpdateEnforcesTransitions(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newTestRegistry(t, 3)

	job, err := r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.NoError(t, err)

	clock.Advance(time.Second)
	updated, err := r.Update(ctx, job.ID, Stage(topics.StatusReducing, 45, "Reducing"))
	require.NoError(t, err)
	assert.Equal(t, topics.StatusReducing, updated.Status)
	assert.Equal(t, 45.0, updated.Progress)
	assert.True(t, updated.UpdatedAt.After(job.UpdatedAt))

	_, err = r.Update(ctx, job.ID, Stage(topics.StatusEmbedding, 10, "back"))
	require.Error(t, err)
	assert.True(t, topics.IsInvalidInput(err))

	updated, err = r.Update(ctx, job.ID, Progress(50, "still reducing"))
	require.NoError(t, err)
	assert.Equal(t, topics.StatusReducing, updated.Status)
	assert.Equal(t, "still reducing", updated.CurrentStep)
}

func TestRegistry_UpdateMissing(t *testing.T) {
	r, _, _ := newTestRegistry(t, 3)

	_, err := r.Update(context.Background(), "nope", Progress(5, "x"))
	require.Error(t, err)
	assert.True(t, topics.IsNotFound(err))
}

func TestRegistry_CompleteStoresResultAndReleases(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t, 1)

	job, err := r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.NoError(t, err)

	res := &topics.Result{
		Documents:      []topics.Document{{ID: "doc-0", ClusterID: 0}},
		Topics:         []topics.Topic{{ID: 0, DocumentCount: 1}},
		TotalDocuments: 1,
	}
	require.NoError(t, r.Complete(ctx, job.ID, res))

	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, topics.StatusCompleted, got.Status)
	assert.Equal(t, 100.0, got.Progress)

	stored, err := r.Result(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.JobID)
	assert.Len(t, stored.Topics, 1)

	assert.Equal(t, 0, r.Admission().Active())

	_, err = r.Update(ctx, job.ID, Stage(topics.StatusFailed, 0, "late"))
	assert.True(t, topics.IsInvalidInput(err), "nothing leaves completed")
}

func TestRegistry_FailRecordsError(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t, 1)

	job, err := r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.NoError(t, err)

	require.NoError(t, r.Fail(ctx, job.ID, topics.Errorf("run", topics.KindTimeout, "pipeline exceeded 600s")))

	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, topics.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "pipeline exceeded 600s")
	assert.Equal(t, 0, r.Admission().Active())

	// A second terminal write is rejected but never double-releases.
	assert.Error(t, r.Fail(ctx, job.ID, errors.New("again")))
	assert.Equal(t, 0, r.Admission().Active())
}

func TestRegistry_CompleteAfterDeleteReleasesWithoutWriting(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t, 1)

	job, err := r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.NoError(t, err)

	ok, err := r.Delete(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	err = r.Complete(ctx, job.ID, &topics.Result{})
	assert.True(t, topics.IsNotFound(err))
	assert.Equal(t, 0, r.Admission().Active())

	_, err = r.Result(ctx, job.ID)
	assert.True(t, topics.IsNotFound(err))
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newTestRegistry(t, 3)

	first, err := r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.NoError(t, err)
	require.NoError(t, r.Complete(ctx, first.ID, &topics.Result{}))

	jobs, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}

func TestRegistry_ListSkipsExpired(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newTestRegistry(t, 3)

	job, err := r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.NoError(t, err)
	require.NoError(t, r.Complete(ctx, job.ID, &topics.Result{}))

	clock.Advance(DefaultJobTTL + time.Minute)

	jobs, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	// The result outlives the job record.
	_, err = r.Result(ctx, job.ID)
	assert.NoError(t, err)
}

func TestRegistry_DeleteRemovesAllArtifacts(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newTestRegistry(t, 3)

	job, err := r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.NoError(t, err)
	require.NoError(t, r.PutVectors(ctx, job.ID, [][]float32{{1, 2}, {3, 4}}))
	require.NoError(t, r.PutResult(ctx, job.ID, &topics.Result{}))

	ok, err := r.Delete(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	for _, key := range r.Keys().All(job.ID) {
		exists, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists, key)
	}

	_, err = r.Get(ctx, job.ID)
	assert.True(t, topics.IsNotFound(err))
	has, err := r.HasVectors(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, has)

	ok, err = r.Delete(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_VectorsRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t, 3)

	_, err := r.Vectors(ctx, "missing")
	assert.True(t, topics.IsNotFound(err))

	require.NoError(t, r.PutVectors(ctx, "j", [][]float32{{0.5, -1}}))
	got, err := r.Vectors(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, -1}}, got)
}

func TestNew_RejectsShortResultTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResultTTL = time.Hour

	_, err := New(artifact.NewMemoryStore(), nil, cfg)
	assert.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to topics.JobStatus
		want     bool
	}{
		{topics.StatusQueued, topics.StatusEmbedding, true},
		{topics.StatusQueued, topics.StatusReducing, true},
		{topics.StatusLabeling, topics.StatusCompleted, true},
		{topics.StatusClustering, topics.StatusFailed, true},
		{topics.StatusReducing, topics.StatusReducing, true},
		{topics.StatusClustering, topics.StatusEmbedding, false},
		{topics.StatusCompleted, topics.StatusFailed, false},
		{topics.StatusFailed, topics.StatusQueued, false},
		{topics.StatusQueued, "bogus", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

// hookStore runs onGet before every read of a key containing match.
type hookStore struct {
	*artifact.MemoryStore
	match string
	onGet func()
}

func (h *hookStore) Get(ctx context.Context, key string) ([]byte, error) {
	if h.onGet != nil && strings.Contains(key, h.match) {
		h.onGet()
	}
	return h.MemoryStore.Get(ctx, key)
}

func TestRegistry_DeleteDuringUpdateIsNotUndone(t *testing.T) {
	ctx := context.Background()
	store := &hookStore{MemoryStore: artifact.NewMemoryStore()}
	r, err := New(store, admission.New(1), Config{NewID: func() string { return "job-1" }})
	require.NoError(t, err)

	job, err := r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var once sync.Once
	store.match = r.Keys().Job(job.ID)
	store.onGet = func() {
		once.Do(func() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := r.Delete(ctx, job.ID)
				assert.NoError(t, err)
				assert.True(t, ok)
			}()
			time.Sleep(20 * time.Millisecond)
		})
	}

	progress := 40.0
	status := topics.StatusEmbedding
	_, err = r.Update(ctx, job.ID, JobUpdate{Status: &status, Progress: &progress})
	require.NoError(t, err)
	wg.Wait()
	store.onGet = nil

	_, err = r.Get(ctx, job.ID)
	assert.True(t, topics.IsNotFound(err))

	err = r.Complete(ctx, job.ID, &topics.Result{})
	assert.True(t, topics.IsNotFound(err))
	_, err = r.Result(ctx, job.ID)
	assert.True(t, topics.IsNotFound(err))
	_, err = r.Texts(ctx, job.ID)
	assert.True(t, topics.IsNotFound(err))
	assert.Equal(t, 0, r.Admission().Active())
}

func TestRegistry_RetentionRunsFromCreation(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newTestRegistry(t, 1)

	job, err := r.Create(ctx, texts(10), topics.ClusteringConfig{}, 0)
	require.NoError(t, err)

	clock.Advance(DefaultJobTTL - time.Hour)
	progress := 10.0
	_, err = r.Update(ctx, job.ID, JobUpdate{Progress: &progress})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = r.Get(ctx, job.ID)
	assert.True(t, topics.IsNotFound(err))

	_, err = r.Update(ctx, job.ID, JobUpdate{Progress: &progress})
	assert.True(t, topics.IsNotFound(err))
}
