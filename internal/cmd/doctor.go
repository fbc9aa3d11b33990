package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/topichub/internal/app"
	"github.com/3leaps/topichub/internal/config"
	"github.com/3leaps/topichub/internal/observability"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the configuration and the services it points at.

Examples:
  topichub doctor
  topichub doctor --store s3`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type doctorCheck struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	bannerName := "doctor"
	if identity := GetAppIdentity(); identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log := observability.CLILogger
	log.Info("=== " + bannerName + " ===")
	log.Info("Running diagnostic checks...")

	cfg, cfgErr := loadConfig(cmd)

	checks := []doctorCheck{
		{"Go runtime", func(context.Context) (string, error) {
			return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH), nil
		}},
		{"configuration", func(context.Context) (string, error) {
			if cfgErr != nil {
				return "", cfgErr
			}
			return fmt.Sprintf("store=%s encoder=%s labeler=%s", cfg.Store.Backend, cfg.Encoder.Backend, cfg.Labeler.Backend), nil
		}},
		{"config directory", func(context.Context) (string, error) {
			return os.UserConfigDir()
		}},
	}
	if cfgErr == nil {
		checks = append(checks,
			doctorCheck{"artifact store", func(ctx context.Context) (string, error) {
				return checkStore(ctx, cfg)
			}},
			doctorCheck{"encoders", func(context.Context) (string, error) {
				reg, err := app.BuildEncoders(cfg.Encoder)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%v", reg.Models()), nil
			}},
			doctorCheck{"labeler", func(context.Context) (string, error) {
				lb, err := app.BuildLabeler(cfg.Labeler)
				if err != nil {
					return "", err
				}
				return lb.Name(), nil
			}},
		)
		if cfg.Store.Backend == config.StoreS3 {
			checks = append(checks, doctorCheck{"AWS credentials", func(ctx context.Context) (string, error) {
				return checkAWSCredentials(ctx, cfg.Store.S3.Profile)
			}})
		}
	}

	failed := 0
	for i, c := range checks {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		detail, err := c.run(ctx)
		cancel()
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		if err != nil {
			failed++
			log.Error(prefix+" FAILED", zap.Error(err))
			if c.name == "AWS credentials" {
				printAWSCredentialsHelp()
			}
			continue
		}
		log.Info(prefix+" ok "+detail, zap.String("check", c.name))
	}

	if failed > 0 {
		log.Warn("Some checks failed. Review the output above for details.")
		return exitError(ExitServiceUnavailable, "Diagnostics failed", fmt.Errorf("%d of %d checks failed", failed, len(checks)))
	}
	log.Info(fmt.Sprintf("All checks passed! Your %s installation is healthy.", bannerName))
	return nil
}

func checkStore(ctx context.Context, cfg *config.Config) (string, error) {
	store, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()
	if err := (storeHealthChecker{store: store, namespace: cfg.Store.Namespace}).CheckHealth(ctx); err != nil {
		return "", err
	}
	return cfg.Store.Backend + " round trip", nil
}

func checkAWSCredentials(ctx context.Context, profile string) (string, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("load AWS config: %w", err)
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("retrieve credentials: %w", err)
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s via %s", maskAccessKey(creds.AccessKeyID), source), nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Run 'aws configure' to set up a profile, or")
	log.Info("  3. Use an IAM role when running on AWS infrastructure")
	log.Info("For S3-compatible storage (MinIO, R2, etc.) also set store.s3.endpoint")
	log.Info("and store.s3.force_path_style.")
}
