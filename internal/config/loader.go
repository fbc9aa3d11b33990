package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity names the application for config discovery.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is topichub's identity.
var DefaultIdentity = Identity{
	BinaryName: "topichub",
	EnvPrefix:  "TOPICHUB_",
	ConfigName: "topichub",
}

// EnvSpec maps one environment variable onto a config path.
type EnvSpec struct {
	Name string
	Path string
	Type string
}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
)

// Load builds the configuration and makes it the one GetConfig returns.
// Each overrides map is nested like the YAML file.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	_ = ctx

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	configMu.Unlock()

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}
	if err := bindEnv(v); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil before Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func readConfigFile(v *viper.Viper) error {
	configMu.RLock()
	name := appIdentity.ConfigName
	configMu.RUnlock()

	v.SetConfigName(name)
	v.SetConfigType("yaml")
	if root, err := findProjectRoot(); err == nil {
		v.AddConfigPath(root)
	}
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

func bindEnv(v *viper.Viper) error {
	for _, spec := range getEnvSpecs() {
		if spec.Type == "json" {
			raw, ok := os.LookupEnv(spec.Name)
			if !ok || strings.TrimSpace(raw) == "" {
				continue
			}
			var val any
			if err := json.Unmarshal([]byte(raw), &val); err != nil {
				return fmt.Errorf("%s: invalid JSON: %w", spec.Name, err)
			}
			v.Set(spec.Path, val)
			continue
		}
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}
	return nil
}

// flatten turns a nested map into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []EnvSpec{}
	}

	p := id.EnvPrefix
	return []EnvSpec{
		{Name: p + "HOST", Path: "server.host", Type: "string"},
		{Name: p + "PORT", Path: "server.port", Type: "int"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout", Type: "duration"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout", Type: "duration"},
		{Name: p + "IDLE_TIMEOUT", Path: "server.idle_timeout", Type: "duration"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout", Type: "duration"},
		{Name: p + "LOG_LEVEL", Path: "logging.level", Type: "string"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile", Type: "string"},
		{Name: p + "HEALTH_ENABLED", Path: "health.enabled", Type: "bool"},
		{Name: p + "DEBUG", Path: "debug.enabled", Type: "bool"},
		{Name: p + "PPROF_ENABLED", Path: "debug.pprof_enabled", Type: "bool"},
		{Name: p + "WORKERS", Path: "workers", Type: "int"},
		{Name: p + "MAX_CONCURRENT_JOBS", Path: "jobs.max_concurrent", Type: "int"},
		{Name: p + "JOB_TTL", Path: "jobs.job_ttl", Type: "duration"},
		{Name: p + "VECTOR_TTL", Path: "jobs.vector_ttl", Type: "duration"},
		{Name: p + "RESULT_TTL", Path: "jobs.result_ttl", Type: "duration"},
		{Name: p + "PIPELINE_TIMEOUT", Path: "jobs.timeout", Type: "duration"},
		{Name: p + "MIN_TEXTS", Path: "jobs.min_texts", Type: "int"},
		{Name: p + "MAX_TEXTS", Path: "jobs.max_texts", Type: "int"},
		{Name: p + "MAX_TEXT_LENGTH", Path: "jobs.max_text_length", Type: "int"},
		{Name: p + "BATCH_SIZE", Path: "jobs.batch_size", Type: "int"},
		{Name: p + "LABEL_CONCURRENCY", Path: "jobs.label_concurrency", Type: "int"},
		{Name: p + "STORE_BACKEND", Path: "store.backend", Type: "string"},
		{Name: p + "STORE_NAMESPACE", Path: "store.namespace", Type: "string"},
		{Name: p + "STORE_PATH", Path: "store.sqlite.path", Type: "string"},
		{Name: p + "STORE_URL", Path: "store.sqlite.url", Type: "string"},
		{Name: p + "STORE_AUTH_TOKEN", Path: "store.sqlite.auth_token", Type: "string"},
		{Name: p + "S3_BUCKET", Path: "store.s3.bucket", Type: "string"},
		{Name: p + "S3_PREFIX", Path: "store.s3.prefix", Type: "string"},
		{Name: p + "S3_REGION", Path: "store.s3.region", Type: "string"},
		{Name: p + "S3_ENDPOINT", Path: "store.s3.endpoint", Type: "string"},
		{Name: p + "S3_PROFILE", Path: "store.s3.profile", Type: "string"},
		{Name: p + "S3_FORCE_PATH_STYLE", Path: "store.s3.force_path_style", Type: "bool"},
		{Name: p + "ENCODER_BACKEND", Path: "encoder.backend", Type: "string"},
		{Name: p + "ENCODER_MODELS", Path: "encoder.models", Type: "json"},
		{Name: p + "ENCODER_BASE_URL", Path: "encoder.base_url", Type: "string"},
		{Name: p + "ENCODER_API_KEY_ENV", Path: "encoder.api_key_env", Type: "string"},
		{Name: p + "LABELER_BACKEND", Path: "labeler.backend", Type: "string"},
		{Name: p + "LABELER_MODEL", Path: "labeler.model", Type: "string"},
		{Name: p + "LABELER_BASE_URL", Path: "labeler.base_url", Type: "string"},
		{Name: p + "LABELER_API_KEY_ENV", Path: "labeler.api_key_env", Type: "string"},
	}
}

// getUserConfigPaths lists per-user config directories, most specific first.
func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}

	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, id.ConfigName))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, id.ConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", id.ConfigName))
	}
	return dedupe(paths)
}

var ciBoundaryVars = []string{
	"TOPICHUB_WORKSPACE_ROOT",
	"GITHUB_WORKSPACE",
	"CI_PROJECT_DIR",
	"WORKSPACE",
}

// findProjectRoot walks up from the working directory to the nearest
// directory holding go.mod or a topichub config file. In CI the walk stops
// at the workspace root named by the usual CI variables, when that root is
// absolute, exists and contains the working directory. Without a marker the
// working directory itself is returned.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	boundary := ""
	if isCI() {
		boundary = ciBoundary(cwd)
	}

	dir := cwd
	for {
		if hasRootMarker(dir) {
			return dir, nil
		}
		if boundary != "" && dir == boundary {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd, nil
}

func isCI() bool {
	return strings.EqualFold(os.Getenv("CI"), "true") || strings.EqualFold(os.Getenv("GITHUB_ACTIONS"), "true")
}

func ciBoundary(cwd string) string {
	for _, name := range ciBoundaryVars {
		val := strings.TrimSpace(os.Getenv(name))
		if val == "" || !filepath.IsAbs(val) {
			continue
		}
		info, err := os.Stat(val)
		if err != nil || !info.IsDir() {
			continue
		}
		clean := filepath.Clean(val)
		rel, err := filepath.Rel(clean, cwd)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return clean
	}
	return ""
}

func hasRootMarker(dir string) bool {
	for _, name := range []string{"go.mod", "topichub.yaml", "topichub.yml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
