// Package cmd implements the topichub command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/topichub/internal/config"
	"github.com/3leaps/topichub/internal/observability"
	"github.com/3leaps/topichub/internal/server/handlers"
)

var (
	appIdentity *config.Identity

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{
		Version:   "dev",
		Commit:    "unknown",
		BuildDate: "unknown",
	}

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "topichub",
	Short: "Topic discovery over free-text collections",
	Long: `topichub clusters short texts into labelled topics.

It embeds texts, reduces and clusters the vectors, names each cluster and
keeps the result for interactive refinement (rename, merge, split,
reclassify). Run it as an HTTP service or one job at a time from a manifest.

Examples:
  topichub serve
  topichub run --job feedback.yaml
  topichub jobs list --json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		name := config.DefaultIdentity.BinaryName
		if id := GetAppIdentity(); id != nil {
			name = id.BinaryName
		}
		observability.InitCLILogger(name, verbose)
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	defer observability.Sync()
	if err := rootCmd.Execute(); err != nil {
		observability.CLILogger.Error("Command failed", zap.Error(err))
		os.Exit(exitCodeOf(err))
	}
}

// SetVersionInfo records build metadata for `version` and /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the CLI identity, or nil before init.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

func init() {
	id := config.DefaultIdentity
	appIdentity = &id

	setDefaults()

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug output")
	flags.String("log-level", "", "Log level for services (debug, info, warn, error)")
	flags.String("store", "", "Artifact store backend (memory, sqlite, s3)")
	flags.String("store-path", "", "SQLite database path")
	flags.String("encoder", "", "Encoder backend (tfidf, openai)")
	flags.String("labeler", "", "Labeler backend (auto, keywords, openai)")
}

// setDefaults registers configuration defaults on the global viper instance.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

// loadConfig loads configuration with persistent flag overrides applied.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flagOverrides := map[string]any{}
	for flag, key := range map[string]string{
		"log-level":  "logging.level",
		"store":      "store.backend",
		"store-path": "store.sqlite.path",
		"encoder":    "encoder.backend",
		"labeler":    "labeler.backend",
	} {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		flagOverrides[key] = f.Value.String()
	}

	cfg, err := config.Load(cmd.Context(), flagOverrides)
	if err != nil {
		return nil, exitError(ExitConfigError, "Invalid configuration", err)
	}
	return cfg, nil
}

func requirePersistentStore(cfg *config.Config) error {
	if cfg.Store.Backend == config.StoreMemory {
		return exitError(ExitUsage, "Persistent store required",
			errors.New("store.backend is memory; set --store sqlite or TOPICHUB_STORE_BACKEND"))
	}
	return nil
}

func printf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stdout, format, args...)
}
