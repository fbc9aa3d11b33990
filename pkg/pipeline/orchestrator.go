// Package pipeline runs topic discovery jobs in the background.
//
// Submission validates input, admits the job through the registry and
// returns its id immediately. Each admitted job gets one goroutine that runs
// the stages in order (vectorize, project, cluster, score, label, finalize)
// and ends with exactly one Complete or Fail.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/topichub/pkg/analyzer"
	"github.com/3leaps/topichub/pkg/encoder"
	"github.com/3leaps/topichub/pkg/jobregistry"
	"github.com/3leaps/topichub/pkg/labeler"
	"github.com/3leaps/topichub/pkg/topics"
)

// Defaults applied by New.
const (
	DefaultTimeout          = 600 * time.Second
	DefaultLabelConcurrency = 4
	finalizeTimeout         = 30 * time.Second
)

// Event is a progress notification.
type Event struct {
	JobID    string           `json:"jobId"`
	Status   topics.JobStatus `json:"status"`
	Progress float64          `json:"progress"`
	Step     string           `json:"step"`
}

// Config configures an Orchestrator.
type Config struct {
	// Limits bounds submitted texts.
	Limits topics.Limits

	// BatchSize is passed to Encoder.Encode. Default: encoder.DefaultBatchSize.
	BatchSize int

	// Timeout bounds a whole run. Default: 600s.
	Timeout time.Duration

	// LabelConcurrency bounds concurrent Labeler calls per job. Default: 4.
	LabelConcurrency int

	// LabelRateLimit caps Labeler calls per second across all jobs
	// (0 = unlimited).
	LabelRateLimit float64

	// FocusAreas passed to the final review. Default: labeler.DefaultFocusAreas.
	FocusAreas []string

	// Logger for run diagnostics. Default: no-op.
	Logger *zap.Logger

	// OnProgress, when set, observes every progress write. It is called
	// from job goroutines and must not block.
	OnProgress func(Event)
}

// Orchestrator submits and runs pipeline jobs.
type Orchestrator struct {
	reg      *jobregistry.Registry
	encoders *encoder.Registry
	analyzer analyzer.Analyzer
	labeler  labeler.Labeler
	pool     *Pool
	cfg      Config
	log      *zap.Logger
	limiter  *rate.Limiter

	wg sync.WaitGroup
}

// New builds an Orchestrator. A nil pool gets one slot per CPU.
func New(reg *jobregistry.Registry, encoders *encoder.Registry, an analyzer.Analyzer, lb labeler.Labeler, pool *Pool, cfg Config) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = encoder.DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LabelConcurrency <= 0 {
		cfg.LabelConcurrency = DefaultLabelConcurrency
	}
	if cfg.FocusAreas == nil {
		cfg.FocusAreas = labeler.DefaultFocusAreas
	}
	if pool == nil {
		pool = NewPool(0)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	o := &Orchestrator{
		reg:      reg,
		encoders: encoders,
		analyzer: an,
		labeler:  lb,
		pool:     pool,
		cfg:      cfg,
		log:      log,
	}
	if cfg.LabelRateLimit > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.LabelRateLimit), 1)
	}
	return o
}

// Registry returns the job registry the orchestrator writes to.
func (o *Orchestrator) Registry() *jobregistry.Registry {
	return o.reg
}

// Submit validates texts and cfg, admits a job and starts it in the
// background. It returns CapacityExceeded when the admission ceiling is
// reached and InvalidInput for bad texts, config or encoder model.
func (o *Orchestrator) Submit(ctx context.Context, texts []string, cfg topics.ClusteringConfig, iteration int) (string, error) {
	prepared, err := topics.PrepareTexts(texts, o.cfg.Limits)
	if err != nil {
		return "", err
	}
	return o.submit(ctx, prepared, cfg, iteration)
}

// SubmitDerived starts a job over the texts of sourceJobID, preferring the
// source's cached vectors. It returns SourceNotFound when the source texts
// are gone.
func (o *Orchestrator) SubmitDerived(ctx context.Context, sourceJobID string, cfg topics.ClusteringConfig, iteration int) (string, error) {
	const op = "SubmitDerived"

	texts, err := o.reg.Texts(ctx, sourceJobID)
	if err != nil {
		if topics.IsNotFound(err) {
			return "", &topics.Error{Op: op, Kind: topics.KindSourceNotFound, JobID: sourceJobID, Err: err}
		}
		return "", err
	}
	if _, err := topics.PrepareTexts(texts, o.cfg.Limits); err != nil {
		return "", err
	}

	cfg.CachedJobID = sourceJobID
	cfg.UseCachedEmbeddings = true
	return o.submit(ctx, texts, cfg, iteration)
}

func (o *Orchestrator) submit(ctx context.Context, texts []string, cfg topics.ClusteringConfig, iteration int) (string, error) {
	cfg.Normalize()
	algo, err := cfg.Resolve()
	if err != nil {
		return "", err
	}
	enc, err := o.encoders.Resolve(cfg.EncoderModel)
	if err != nil {
		return "", err
	}

	job, err := o.reg.Create(ctx, texts, cfg, iteration)
	if err != nil {
		return "", err
	}

	spec := runSpec{
		jobID:     job.ID,
		texts:     texts,
		cfg:       cfg,
		algo:      algo,
		encoder:   enc,
		iteration: iteration,
	}
	o.wg.Add(1)
	go o.run(spec)
	return job.ID, nil
}

// Wait blocks until every started run has called Complete or Fail.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
