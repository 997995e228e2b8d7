// Package config provides configuration management for the sharing service.
// It loads an optional YAML file, then .env files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/ledger-share/engine"
	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/policy"
	"github.com/warp/ledger-share/split"
)

// Environment variables read by Load. They override the YAML file.
const (
	EnvPort           = "SHARE_PORT"
	EnvDB             = "SHARE_DB"
	EnvReceivableRoot = "SHARE_RECEIVABLE_ROOT"
	EnvTolerance      = "SHARE_TOLERANCE"
	EnvLedgerDir      = "SHARE_LEDGER_DIR"
	EnvLogLevel       = "SHARE_LOG_LEVEL"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Log      LogConfig      `yaml:"log"`
	Policies []PolicyConfig `yaml:"policies"`
}

// ServerConfig configures the HTTP server and its store.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	DBPath      string   `yaml:"db"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// LedgerConfig configures how ledgers are read and split.
type LedgerConfig struct {
	Dir            string `yaml:"dir"`
	ReceivableRoot string `yaml:"receivable_root"`
	Tolerance      string `yaml:"tolerance"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// PolicyConfig is a seed policy, written with the same share-* keys a
// policy directive carries:
//
//	policies:
//	  - key: household
//	    meta: {share-Alice: 1, share-Bob: 1}
//	  - key: "Expenses:*"
//	    meta: {share_policy: household}
type PolicyConfig struct {
	Key  string         `yaml:"key"`
	Meta map[string]any `yaml:"meta"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			DBPath:      "./data/share.db",
			CORSOrigins: []string{"*"},
		},
		Ledger: LedgerConfig{
			Dir:            ".",
			ReceivableRoot: split.DefaultReceivableRoot,
			Tolerance:      split.DefaultConfig().DefaultTolerance.String(),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// path is not empty), then the environment. A .env file in the current
// directory is loaded if present; envPath names another one.
func Load(path string, envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	port, err := parseIntEnv(EnvPort, c.Server.Port)
	if err != nil {
		return err
	}
	c.Server.Port = port
	c.Server.DBPath = getEnvOrDefault(EnvDB, c.Server.DBPath)
	c.Ledger.ReceivableRoot = getEnvOrDefault(EnvReceivableRoot, c.Ledger.ReceivableRoot)
	c.Ledger.Tolerance = getEnvOrDefault(EnvTolerance, c.Ledger.Tolerance)
	c.Ledger.Dir = getEnvOrDefault(EnvLedgerDir, c.Ledger.Dir)
	c.Log.Level = getEnvOrDefault(EnvLogLevel, c.Log.Level)
	return nil
}

// Validate checks every value and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d is not a valid port", c.Server.Port))
	}
	if root := c.Ledger.ReceivableRoot; root == "" || strings.ContainsAny(root, "* \t") {
		errs = append(errs, fmt.Errorf("ledger.receivable_root: %q is not an account name", root))
	}
	if _, err := c.tolerance(); err != nil {
		errs = append(errs, err)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := c.Seeds(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Seeds converts the configured policies. Seeds are added in file order, so
// a named parent must come before the policies inheriting from it.
func (c *Config) Seeds() ([]engine.Seed, error) {
	seeds := make([]engine.Seed, 0, len(c.Policies))
	for i, pc := range c.Policies {
		if _, _, err := policy.ClassifyKey(pc.Key); err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		def, err := policy.ParseDefinition(ledger.Metadata(pc.Meta))
		if err != nil {
			return nil, fmt.Errorf("policies[%d] %s: %w", i, pc.Key, err)
		}
		seeds = append(seeds, engine.Seed{Key: pc.Key, Definition: def})
	}
	return seeds, nil
}

// EngineConfig is the engine configuration these settings describe.
func (c *Config) EngineConfig() (engine.Config, error) {
	tol, err := c.tolerance()
	if err != nil {
		return engine.Config{}, err
	}
	seeds, err := c.Seeds()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Split: split.Config{
			ReceivableRoot:   c.Ledger.ReceivableRoot,
			DefaultTolerance: tol,
		},
		Seeds: seeds,
	}, nil
}

func (c *Config) tolerance() (decimal.Decimal, error) {
	tol, err := decimal.NewFromString(strings.TrimSpace(c.Ledger.Tolerance))
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.tolerance: %q is not a number", c.Ledger.Tolerance)
	}
	if !tol.IsPositive() {
		return decimal.Zero, fmt.Errorf("ledger.tolerance: must be positive, got %s", tol)
	}
	return tol, nil
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value for %s: %s", key, value)
	}
	return parsed, nil
}
