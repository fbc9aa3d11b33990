package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/topichub/pkg/analyzer"
	"github.com/3leaps/topichub/pkg/encoder"
	"github.com/3leaps/topichub/pkg/jobregistry"
	"github.com/3leaps/topichub/pkg/labeler"
	"github.com/3leaps/topichub/pkg/topics"
)

// Progress bands per stage.
const (
	progressEmbedStart = 5.0
	progressEmbedEnd   = 40.0
	progressReduce     = 45.0
	progressReduceEnd  = 55.0
	progressCluster    = 60.0
	progressRetry      = 65.0
	progressScore      = 70.0
	progressScoreEnd   = 75.0
	progressLabel      = 80.0
	progressReview     = 90.0
	progressFinalize   = 95.0

	// progressBuffer bounds queued encoder progress events; extra events
	// are dropped since only the latest matters.
	progressBuffer = 16
)

type runSpec struct {
	jobID     string
	texts     []string
	cfg       topics.ClusteringConfig
	algo      topics.AlgorithmConfig
	encoder   encoder.Encoder
	iteration int
}

// runOutcome is what a run hands to Complete or Fail.
type runOutcome struct {
	result *topics.Result
	err    error
}

func (o *Orchestrator) run(spec runSpec) {
	defer o.wg.Done()

	log := o.log.With(zap.String("job_id", spec.jobID))
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
	out := o.execute(ctx, spec, log, start)
	cancel()

	if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
		out.err = &topics.Error{Op: "Run", Kind: topics.KindTimeout, JobID: spec.jobID,
			Err: fmt.Errorf("pipeline exceeded %s", o.cfg.Timeout)}
	}

	fctx, fcancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer fcancel()
	if out.err != nil {
		o.fail(fctx, log, spec.jobID, out.err)
		return
	}
	if err := o.reg.Complete(fctx, spec.jobID, out.result); err != nil {
		if topics.IsNotFound(err) {
			log.Info("job deleted while running; result discarded")
			o.dropVectors(fctx, log, spec.jobID)
			return
		}
		log.Error("failed to store job result", zap.Error(err))
		o.fail(fctx, log, spec.jobID, err)
		return
	}
	o.notify(Event{JobID: spec.jobID, Status: topics.StatusCompleted, Progress: 100, Step: "Completed"})
	log.Info("pipeline finished", zap.Duration("duration", time.Since(start)))
}

// fail records err on the job. A job deleted while running gets its
// re-cached vectors dropped instead.
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, jobID string, cause error) {
	if err := o.reg.Fail(ctx, jobID, cause); err != nil {
		if topics.IsNotFound(err) {
			log.Info("job deleted while running; failure discarded")
			o.dropVectors(ctx, log, jobID)
		} else {
			log.Error("failed to record job failure", zap.Error(err))
		}
	}
	o.notify(Event{JobID: jobID, Status: topics.StatusFailed, Step: cause.Error()})
}

func (o *Orchestrator) dropVectors(ctx context.Context, log *zap.Logger, jobID string) {
	if err := o.reg.Store().Delete(ctx, o.reg.Keys().Vectors(jobID)); err != nil {
		log.Warn("failed to drop vectors of deleted job", zap.Error(err))
	}
}

func (o *Orchestrator) execute(ctx context.Context, spec runSpec, log *zap.Logger, start time.Time) (out runOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = runOutcome{err: &topics.Error{Op: "Run", Kind: topics.KindInternal, JobID: spec.jobID,
				Err: fmt.Errorf("panic: %v", r)}}
		}
	}()

	seed := topics.Seed(spec.iteration)

	// 1. Vectorize.
	vectors, cached, err := o.vectorize(ctx, spec, log)
	if err != nil {
		return runOutcome{err: err}
	}

	// 2. Project.
	o.progress(ctx, log, spec.jobID, topics.StatusReducing, progressReduce, "Reducing dimensions")
	var reduced, coords [][]float32
	err = o.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		reduced, err = o.analyzer.Reduce(ctx, vectors, spec.cfg.DimReduction, spec.cfg.DimReductionTarget, seed)
		if err != nil {
			return err
		}
		coords, err = o.analyzer.Reduce(ctx, vectors, topics.ReductionPCA, 2, seed)
		return err
	})
	if err != nil {
		return runOutcome{err: stageError("Reduce", spec.jobID, err)}
	}
	o.progress(ctx, log, spec.jobID, topics.StatusReducing, progressReduceEnd, "Dimensions reduced")

	// 3. Cluster.
	o.progress(ctx, log, spec.jobID, topics.StatusClustering, progressCluster, "Clustering")
	algo := spec.algo
	var asg analyzer.Assignment
	err = o.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		asg, err = o.analyzer.Cluster(ctx, reduced, algo, seed)
		return err
	})
	if err != nil {
		return runOutcome{err: stageError("Cluster", spec.jobID, err)}
	}
	retried := false
	if asg.NumClusters() == 0 {
		if relaxed, ok := algo.Relaxed(); ok {
			log.Warn("no clusters found, retrying with relaxed parameters",
				zap.Any("params", relaxed.Params()))
			o.progress(ctx, log, spec.jobID, topics.StatusClustering, progressRetry, "Retrying with relaxed parameters")
			algo, retried = relaxed, true
			err = o.pool.Do(ctx, func(ctx context.Context) error {
				var err error
				asg, err = o.analyzer.Cluster(ctx, reduced, algo, seed)
				return err
			})
			if err != nil {
				return runOutcome{err: stageError("Cluster", spec.jobID, err)}
			}
		}
	}

	// 4. Score and aggregate.
	o.progress(ctx, log, spec.jobID, topics.StatusClustering, progressScore, "Scoring clusters")
	var docs []topics.Document
	var topicSet []topics.Topic
	err = o.pool.Do(ctx, func(context.Context) error {
		docs = analyzer.Documents(spec.texts, asg.Labels, coords)
		topicSet = analyzer.BuildTopics(o.analyzer, vectors, asg.Labels, spec.texts, docs)
		return nil
	})
	if err != nil {
		return runOutcome{err: stageError("Score", spec.jobID, err)}
	}
	o.progress(ctx, log, spec.jobID, topics.StatusClustering, progressScoreEnd, "Clusters scored")

	// 5. Label.
	o.progress(ctx, log, spec.jobID, topics.StatusLabeling, progressLabel, "Generating labels")
	if err := o.labelTopics(ctx, topicSet, log); err != nil {
		return runOutcome{err: stageError("Label", spec.jobID, err)}
	}
	noise := asg.Noise()
	o.progress(ctx, log, spec.jobID, topics.StatusLabeling, progressReview, "Reviewing topics")
	ref := labeler.Refine(ctx, o.labeler, topicSet, labeler.Stats{
		TotalDocuments: len(spec.texts),
		Noise:          noise,
		FocusAreas:     o.cfg.FocusAreas,
	}, log)
	if err := ctx.Err(); err != nil {
		return runOutcome{err: err}
	}

	// 6. Finalize.
	o.progress(ctx, log, spec.jobID, topics.StatusLabeling, progressFinalize, "Finalizing")
	result := &topics.Result{
		Documents:   docs,
		Topics:      topicSet,
		Suggestions: ref.Suggestions,
		Analysis:    &ref.Analysis,
		Meta: &topics.Meta{
			PipelineDurationMs:   time.Since(start).Milliseconds(),
			EncoderModel:         spec.encoder.Name(),
			Algorithm:            string(algo.Algorithm()),
			DimReduction:         string(spec.cfg.DimReduction),
			DimReductionTarget:   spec.cfg.DimReductionTarget,
			ClusteringParams:     algo.Params(),
			LabelerModel:         o.labeler.Name(),
			Iteration:            spec.iteration,
			UsedCachedEmbeddings: cached,
			RetriedRelaxed:       retried,
		},
	}
	topics.Reconcile(result)
	if err := topics.Validate(result); err != nil {
		return runOutcome{err: err}
	}

	log.Info("pipeline stages done",
		zap.Int("topics", len(result.Topics)),
		zap.Int("noise", result.Noise),
		zap.Int("suggestions", len(result.Suggestions)),
		zap.Bool("cached_vectors", cached),
		zap.Bool("relaxed_retry", retried),
	)
	return runOutcome{result: result}
}

// vectorize returns vectors for spec.texts, from the referenced job's cache
// when possible, and always stores them under spec.jobID.
func (o *Orchestrator) vectorize(ctx context.Context, spec runSpec, log *zap.Logger) ([][]float32, bool, error) {
	o.progress(ctx, log, spec.jobID, topics.StatusEmbedding, progressEmbedStart, "Encoding texts")

	if src := spec.cfg.CachedJobID; src != "" && spec.cfg.UseCachedEmbeddings {
		vecs, err := o.reg.Vectors(ctx, src)
		switch {
		case err == nil && len(vecs) == len(spec.texts):
			o.progress(ctx, log, spec.jobID, topics.StatusEmbedding, progressEmbedEnd, "Loaded cached vectors")
			if err := o.reg.PutVectors(ctx, spec.jobID, vecs); err != nil {
				return nil, false, err
			}
			return vecs, true, nil
		case err == nil:
			log.Warn("cached vectors do not match texts; encoding instead",
				zap.String("source_job_id", src),
				zap.Int("vectors", len(vecs)),
				zap.Int("texts", len(spec.texts)))
		default:
			log.Warn("cached vectors unavailable; encoding instead",
				zap.String("source_job_id", src), zap.Error(err))
		}
	}

	events := make(chan float64, progressBuffer)
	progress := func(_, _, done, total int) {
		if total <= 0 {
			return
		}
		p := progressEmbedStart + (progressEmbedEnd-progressEmbedStart)*float64(done)/float64(total)
		select {
		case events <- p:
		default:
		}
	}

	var vecs [][]float32
	done := o.pool.Go(ctx, func(ctx context.Context) error {
		var err error
		vecs, err = spec.encoder.Encode(ctx, spec.texts, o.cfg.BatchSize, progress)
		return err
	})

	last := progressEmbedStart
	var err error
wait:
	for {
		select {
		case p := <-events:
			if p >= last+1 {
				last = p
				o.progress(ctx, log, spec.jobID, topics.StatusEmbedding, p, "Encoding texts")
			}
		case err = <-done:
			break wait
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, &topics.Error{Op: "Encode", Kind: topics.KindUpstreamUnavailable, JobID: spec.jobID, Err: err}
	}
	if len(vecs) != len(spec.texts) {
		return nil, false, topics.Errorf("Encode", topics.KindUpstreamUnavailable,
			"encoder %s returned %d vectors for %d texts", spec.encoder.Name(), len(vecs), len(spec.texts))
	}

	if err := o.reg.PutVectors(ctx, spec.jobID, vecs); err != nil {
		return nil, false, err
	}
	o.progress(ctx, log, spec.jobID, topics.StatusEmbedding, progressEmbedEnd, "Texts encoded")
	return vecs, false, nil
}

// labelTopics labels every topic with bounded fan-out. Labeler failures
// degrade to keyword labels; only cancellation is an error.
func (o *Orchestrator) labelTopics(ctx context.Context, topicSet []topics.Topic, log *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.LabelConcurrency)
	for i := range topicSet {
		g.Go(func() error {
			if o.limiter != nil {
				if err := o.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			l := labeler.LabelOrFallback(gctx, o.labeler, labeler.SummaryOf(topicSet[i]), log)
			topicSet[i].Label = l.Label
			topicSet[i].Description = l.Description
			return nil
		})
	}
	err := g.Wait()
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

// progress records a stage update. Write failures are logged and do not
// stop the run; a deleted job simply stops receiving updates.
func (o *Orchestrator) progress(ctx context.Context, log *zap.Logger, jobID string, status topics.JobStatus, p float64, step string) {
	if _, err := o.reg.Update(ctx, jobID, jobregistry.Stage(status, p, step)); err != nil {
		if topics.IsNotFound(err) {
			log.Debug("progress skipped; job record gone", zap.String("step", step))
		} else {
			log.Warn("progress update failed", zap.String("step", step), zap.Error(err))
		}
	}
	o.notify(Event{JobID: jobID, Status: status, Progress: p, Step: step})
}

func (o *Orchestrator) notify(e Event) {
	if o.cfg.OnProgress != nil {
		o.cfg.OnProgress(e)
	}
}

func stageError(op, jobID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var te *topics.Error
	if errors.As(err, &te) {
		return err
	}
	return &topics.Error{Op: op, Kind: topics.KindUpstreamUnavailable, JobID: jobID, Err: err}
}
