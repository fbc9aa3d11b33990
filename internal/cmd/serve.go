package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/topichub/internal/app"
	"github.com/3leaps/topichub/internal/observability"
	"github.com/3leaps/topichub/internal/server"
	"github.com/3leaps/topichub/internal/server/handlers"
	"github.com/3leaps/topichub/pkg/artifact"
	"github.com/3leaps/topichub/pkg/encoder"
	"github.com/3leaps/topichub/pkg/jobregistry"
	"github.com/3leaps/topichub/pkg/labeler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP server exposing health, version and the clustering API
under /api/v1/cluster.

Examples:
  topichub serve
  topichub serve --port 9000 --store sqlite
  TOPICHUB_LABELER_BACKEND=openai topichub serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (default from config)")
	serveCmd.Flags().Int("port", 0, "Listen port (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	if err := observability.InitServerLogger(appIdentity.BinaryName, cfg.Logging.Profile, cfg.Logging.Level); err != nil {
		return exitError(ExitConfigError, "Invalid logging configuration", err)
	}
	log := observability.ServerLogger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{Logger: log})
	if err != nil {
		return exitError(ExitServiceUnavailable, "Failed to start services", err)
	}

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("store", storeHealthChecker{store: a.Store, namespace: cfg.Store.Namespace})
	hm.RegisterChecker("encoder", encoderHealthChecker{encoders: a.Encoders})
	hm.RegisterChecker("labeler", labelerHealthChecker{labeler: a.Labeler})
	hm.RegisterChecker("jobs", jobsHealthChecker{registry: a.Registry})
	hm.RegisterChecker("identity", identityHealthChecker{
		binaryName: appIdentity.BinaryName,
		envPrefix:  appIdentity.EnvPrefix,
		configName: appIdentity.ConfigName,
	})

	api := handlers.NewClusterAPI(a.Orchestrator, a.Mutator, a.Encoders, log.Named("api"))
	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithAPI(api),
		server.WithLogger(log),
		server.WithPprof(cfg.Debug.PprofEnabled),
		server.WithTimeouts(server.Timeouts{
			Read:  cfg.Server.ReadTimeout,
			Write: cfg.Server.WriteTimeout,
			Idle:  cfg.Server.IdleTimeout,
		}),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	log.Info("Server started",
		zap.String("addr", srv.Addr()),
		zap.String("version", versionInfo.Version),
		zap.String("store", cfg.Store.Backend),
		zap.Strings("encoders", a.Encoders.Models()),
		zap.String("labeler", a.Labeler.Name()))

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		log.Warn("Service shutdown incomplete", zap.Error(err))
	}
	log.Info("Server stopped")

	if serveErr != nil {
		return exitError(ExitServiceUnavailable, "Server failed", serveErr)
	}
	return nil
}

// storeHealthChecker writes, reads and deletes a probe key.
type storeHealthChecker struct {
	store     artifact.Store
	namespace string
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	if c.store == nil {
		return errors.New("artifact store not configured")
	}
	key := c.namespace + "health:probe"
	want := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := c.store.Put(ctx, key, want, time.Minute); err != nil {
		return fmt.Errorf("store write: %w", err)
	}
	got, err := c.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("store read: %w", err)
	}
	if string(got) != string(want) {
		return errors.New("store read back a different value")
	}
	return c.store.Delete(ctx, key)
}

// encoderHealthChecker confirms the default model resolves.
type encoderHealthChecker struct {
	encoders *encoder.Registry
}

func (c encoderHealthChecker) CheckHealth(context.Context) error {
	if c.encoders == nil {
		return errors.New("encoder registry not configured")
	}
	_, err := c.encoders.Resolve("")
	return err
}

// labelerHealthChecker reports which labeler is active.
type labelerHealthChecker struct {
	labeler labeler.Labeler
}

func (c labelerHealthChecker) CheckHealth(context.Context) error {
	if c.labeler == nil {
		return errors.New("labeler not configured")
	}
	return nil
}

func (c labelerHealthChecker) HealthDetails() map[string]any {
	if c.labeler == nil {
		return nil
	}
	return map[string]any{"labeler": c.labeler.Name()}
}

// jobsHealthChecker reports admission occupancy.
type jobsHealthChecker struct {
	registry *jobregistry.Registry
}

func (c jobsHealthChecker) CheckHealth(context.Context) error {
	if c.registry == nil {
		return errors.New("job registry not configured")
	}
	return nil
}

func (c jobsHealthChecker) HealthDetails() map[string]any {
	if c.registry == nil {
		return nil
	}
	adm := c.registry.Admission()
	return map[string]any{"activeJobs": adm.Active(), "maxConcurrentJobs": adm.Ceiling()}
}

// identityHealthChecker verifies the CLI identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("identity missing binary name")
	case c.envPrefix == "":
		return errors.New("identity missing env prefix")
	case c.configName == "":
		return errors.New("identity missing config name")
	}
	return nil
}
