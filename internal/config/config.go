// Package config loads beadwal settings.
//
// Values are layered in order of increasing priority: built-in defaults, an
// optional YAML file, then BEADWAL_* environment variables. Command-line flags
// are applied by the caller on top of the loaded Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "BEADWAL_"

// PathEnvVar names the environment variable that selects the config file
// when no explicit path is given.
const PathEnvVar = EnvPrefix + "CONFIG"

// Backend names accepted in wal.backend.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendPebble = "pebble"
)

// Config is the complete beadwal configuration.
type Config struct {
	WAL      WALConfig      `koanf:"wal"`
	Recovery RecoveryConfig `koanf:"recovery"`
	Logging  LoggingConfig  `koanf:"logging"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// WALConfig selects and locates the write-ahead log.
type WALConfig struct {
	Backend   string `koanf:"backend" validate:"required,oneof=sqlite badger pebble"`
	Path      string `koanf:"path" validate:"required"`
	Namespace string `koanf:"namespace" validate:"required,excludes=/"`
}

// RecoveryConfig controls how recorded transitions are replayed.
type RecoveryConfig struct {
	Tool        string          `koanf:"tool" validate:"required"`
	WorkDir     string          `koanf:"workdir"`
	Timeout     time.Duration   `koanf:"timeout" validate:"gte=0"`
	SkipSync    bool            `koanf:"skip_sync"`
	Concurrency int             `koanf:"concurrency" validate:"min=1,max=64"`
	Shell       bool            `koanf:"shell"`
	Breaker     BreakerConfig   `koanf:"breaker"`
	RateLimit   RateLimitConfig `koanf:"rate_limit"`
}

// BreakerConfig configures the circuit breaker around the tool.
type BreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"required_if=Enabled true"`
	Timeout          time.Duration `koanf:"timeout" validate:"gte=0"`
}

// RateLimitConfig bounds how fast commands are started. Zero disables it.
type RateLimitConfig struct {
	PerSecond float64 `koanf:"per_second" validate:"gte=0"`
	Burst     int     `koanf:"burst" validate:"gte=0"`
}

// LoggingConfig mirrors logging.Config without the output writer.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// MetricsConfig controls metric export after a CLI run.
type MetricsConfig struct {
	// Textfile, when set, receives the collected metrics in Prometheus
	// text format for the node-exporter textfile collector.
	Textfile string `koanf:"textfile"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WAL: WALConfig{
			Backend:   BackendSQLite,
			Path:      ".beads/wal.db",
			Namespace: "beads",
		},
		Recovery: RecoveryConfig{
			Tool:        "br",
			Timeout:     30 * time.Second,
			Concurrency: 1,
			Breaker: BreakerConfig{
				Enabled:          false,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (or the file
// named by BEADWAL_CONFIG when path is empty), and the environment.
// A missing file is an error only when it was named explicitly.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps BEADWAL_RECOVERY__RATE_LIMIT__BURST to recovery.rate_limit.burst.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fieldPath(fe), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// fieldPath renders a validator namespace as the koanf key, e.g.
// recovery.rate_limit.burst.
func fieldPath(fe validator.FieldError) string {
	return strings.TrimPrefix(fe.Namespace(), "Config.")
}
