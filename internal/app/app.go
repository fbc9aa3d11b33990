// Package app assembles topichub's services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/3leaps/topichub/internal/config"
	"github.com/3leaps/topichub/pkg/admission"
	"github.com/3leaps/topichub/pkg/analyzer"
	"github.com/3leaps/topichub/pkg/artifact"
	"github.com/3leaps/topichub/pkg/artifact/s3store"
	"github.com/3leaps/topichub/pkg/artifact/sqlstore"
	"github.com/3leaps/topichub/pkg/encoder"
	"github.com/3leaps/topichub/pkg/jobregistry"
	"github.com/3leaps/topichub/pkg/labeler"
	"github.com/3leaps/topichub/pkg/mutator"
	"github.com/3leaps/topichub/pkg/openaicompat"
	"github.com/3leaps/topichub/pkg/pipeline"
	"github.com/3leaps/topichub/pkg/topics"
)

// App holds the wired services.
type App struct {
	Config       *config.Config
	Store        artifact.Store
	Registry     *jobregistry.Registry
	Encoders     *encoder.Registry
	Analyzer     analyzer.Analyzer
	Labeler      labeler.Labeler
	Orchestrator *pipeline.Orchestrator
	Mutator      *mutator.Mutator

	log *zap.Logger
}

// Options adjust assembly.
type Options struct {
	// Logger for every service. Default: no-op.
	Logger *zap.Logger

	// Store replaces the configured artifact store.
	Store artifact.Store

	// OnProgress observes pipeline progress.
	OnProgress func(pipeline.Event)
}

// New opens the artifact store and encoders and wires the pipeline and
// mutation engine. Close releases everything New opened.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = OpenStore(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
	}

	reg, err := NewRegistry(store, cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	encoders, err := BuildEncoders(cfg.Encoder)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := encoders.Open(ctx); err != nil {
		_ = encoders.Close()
		_ = store.Close()
		return nil, err
	}

	lb, err := BuildLabeler(cfg.Labeler)
	if err != nil {
		_ = encoders.Close()
		_ = store.Close()
		return nil, err
	}
	log.Info("Labeler configured", zap.String("labeler", lb.Name()))

	an := analyzer.New(analyzer.Config{Logger: log.Named("analyzer")})
	orch := pipeline.New(reg, encoders, an, lb, pipeline.NewPool(cfg.Workers), pipeline.Config{
		Limits: topics.Limits{
			MinTexts:      cfg.Jobs.MinTexts,
			MaxTexts:      cfg.Jobs.MaxTexts,
			MaxTextLength: cfg.Jobs.MaxTextLength,
		},
		BatchSize:        cfg.Jobs.BatchSize,
		Timeout:          cfg.Jobs.Timeout,
		LabelConcurrency: cfg.Jobs.LabelConcurrency,
		LabelRateLimit:   cfg.Labeler.RateLimit,
		Logger:           log.Named("pipeline"),
		OnProgress:       opts.OnProgress,
	})
	mut := mutator.New(reg, an, lb, mutator.Config{Logger: log.Named("mutator")})

	return &App{
		Config:       cfg,
		Store:        store,
		Registry:     reg,
		Encoders:     encoders,
		Analyzer:     an,
		Labeler:      lb,
		Orchestrator: orch,
		Mutator:      mut,
		log:          log,
	}, nil
}

// NewRegistry builds the job registry over store from the jobs and store
// settings.
func NewRegistry(store artifact.Store, cfg *config.Config, log *zap.Logger) (*jobregistry.Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	return jobregistry.New(store, admission.New(cfg.Jobs.MaxConcurrent), jobregistry.Config{
		Namespace: cfg.Store.Namespace,
		JobTTL:    cfg.Jobs.JobTTL,
		VectorTTL: cfg.Jobs.VectorTTL,
		ResultTTL: cfg.Jobs.ResultTTL,
		Logger:    log.Named("jobs"),
	})
}

// Close waits for in-flight runs (bounded by ctx), then closes encoders and
// the store.
func (a *App) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.Orchestrator.Wait()
		close(done)
	}()
	var errs error
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("Shutdown deadline reached with jobs still running",
			zap.Int("active_jobs", a.Registry.Admission().Active()))
		errs = multierr.Append(errs, ctx.Err())
	}
	errs = multierr.Append(errs, a.Encoders.Close())
	errs = multierr.Append(errs, a.Store.Close())
	return errs
}

// OpenStore opens the configured artifact store backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (artifact.Store, error) {
	switch cfg.Backend {
	case "", config.StoreMemory:
		return artifact.NewMemoryStore(), nil
	case config.StoreSQLite:
		s, err := sqlstore.Open(ctx, sqlstore.Config{
			Path:      cfg.SQLite.Path,
			URL:       cfg.SQLite.URL,
			AuthToken: cfg.SQLite.AuthToken,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.StoreS3:
		s, err := s3store.New(ctx, s3store.Config{
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			Profile:        cfg.S3.Profile,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// BuildEncoders registers one encoder per configured model.
func BuildEncoders(cfg config.EncoderConfig) (*encoder.Registry, error) {
	reg := encoder.NewRegistry()
	for _, m := range cfg.Models {
		var enc encoder.Encoder
		switch cfg.Backend {
		case "", "tfidf":
			enc = encoder.NewTFIDF(m.Name, cfg.Dimension)
		case "openai":
			enc = encoder.NewOpenAI(encoder.OpenAIConfig{
				Model: m.Name,
				Client: openaicompat.Config{
					BaseURL:   cfg.BaseURL,
					APIKeyEnv: cfg.APIKeyEnv,
					Timeout:   cfg.Timeout,
					RateLimit: cfg.RateLimit,
				},
			})
		default:
			return nil, fmt.Errorf("unknown encoder backend %q", cfg.Backend)
		}
		if err := reg.Register(m, enc); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// BuildLabeler returns the configured labeler. auto degrades to keywords
// when no API key is available.
func BuildLabeler(cfg config.LabelerConfig) (labeler.Labeler, error) {
	if cfg.Backend == "keywords" {
		return labeler.Keywords{}, nil
	}

	chat, err := labeler.NewChat(labeler.ChatConfig{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Client: openaicompat.Config{
			BaseURL:    cfg.BaseURL,
			APIKeyEnv:  cfg.APIKeyEnv,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.Retries,
		},
	})
	if err == nil {
		return chat, nil
	}
	if cfg.Backend == "auto" && errors.Is(err, openaicompat.ErrNoAPIKey) {
		return labeler.Keywords{}, nil
	}
	if errors.Is(err, openaicompat.ErrNoAPIKey) {
		return nil, fmt.Errorf("labeler backend openai: set %s: %w", keyEnvName(cfg.APIKeyEnv), err)
	}
	return nil, err
}

func keyEnvName(name string) string {
	if name == "" {
		return "an API key"
	}
	if _, ok := os.LookupEnv(name); ok {
		return name + " (currently empty)"
	}
	return name
}
