// Package config defines environment configuration structs and loaders.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type AppConfig struct {
	Environment string `env:"ENVIRONMENT, default=prod"`

	Evaluation EvaluationEnvConfig
	Oracle     OracleEnvConfig
	Annotation AnnotationEnvConfig
	Redis      RedisEnvConfig
	Metrics    MetricsEnvConfig
}

// EvaluationEnvConfig controls the window scan.
type EvaluationEnvConfig struct {
	DatasetPath string  `env:"BLACKBOX_DATASET"`
	ModelDir    string  `env:"BLACKBOX_MODEL_DIR"`
	OutputDir   string  `env:"BLACKBOX_OUTPUT_DIR"`
	Budget      int     `env:"BLACKBOX_BUDGET, default=100"`
	WindowWidth int     `env:"BLACKBOX_WINDOW, default=8"`
	Workers     int     `env:"BLACKBOX_WORKERS, default=0"`
	Sentinel    float64 `env:"BLACKBOX_SENTINEL, default=-9999"`
}

// OracleEnvConfig points at the model server. ListenAddr is only read by
// the server itself.
type OracleEnvConfig struct {
	URL        string        `env:"ORACLE_URL"`
	Timeout    time.Duration `env:"ORACLE_TIMEOUT, default=60s"`
	ListenAddr string        `env:"ORACLE_LISTEN_ADDR, default=:8090"`
}

// AnnotationEnvConfig configures the reference mask source.
type AnnotationEnvConfig struct {
	BaseURL  string        `env:"ANNOTATION_BASE_URL"`
	Timeout  time.Duration `env:"ANNOTATION_TIMEOUT, default=10s"`
	Disabled bool          `env:"ANNOTATION_DISABLED, default=false"`
	CacheTTL time.Duration `env:"ANNOTATION_CACHE_TTL, default=24h"`
}

// RedisEnvConfig configures the optional annotation cache.
type RedisEnvConfig struct {
	Enabled       bool   `env:"REDIS_ENABLED, default=false"`
	RedisHost     string `env:"REDIS_HOST, default=127.0.0.1"`
	RedisPort     int    `env:"REDIS_PORT, default=6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB, default=0"`
}

// MetricsEnvConfig exposes Prometheus metrics when Addr is set.
type MetricsEnvConfig struct {
	Addr string `env:"METRICS_ADDR"`
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig(ctx context.Context) (*AppConfig, error) {
	return LoadConfigFrom(ctx, envconfig.OsLookuper())
}

// LoadConfigFrom reads the configuration through an arbitrary lookuper.
func LoadConfigFrom(ctx context.Context, l envconfig.Lookuper) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if cfg.Evaluation.OutputDir == "" {
		cfg.Evaluation.OutputDir = cfg.Evaluation.ModelDir
	}
	return cfg, nil
}

// Validate checks the fields a run cannot start without.
func (c *AppConfig) Validate() error {
	var missing []string
	if c.Evaluation.DatasetPath == "" {
		missing = append(missing, "BLACKBOX_DATASET")
	}
	if c.Evaluation.ModelDir == "" {
		missing = append(missing, "BLACKBOX_MODEL_DIR")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Evaluation.WindowWidth <= 0 {
		return fmt.Errorf("BLACKBOX_WINDOW must be positive, got %d", c.Evaluation.WindowWidth)
	}
	return nil
}
