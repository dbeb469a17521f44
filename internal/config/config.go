// Package config loads rubrica's settings.
//
// Precedence, lowest first: built-in defaults, a JSON config file, the
// environment (RUBRICA_ prefix, plus ANTHROPIC_API_KEY for the key), and
// finally command-line flags, which the CLI applies on top. A .env file in
// the working directory is loaded into the environment first.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"

	"github.com/rubrica-app/rubrica/internal/orchestrator"
	"github.com/rubrica-app/rubrica/internal/scorer"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. RUBRICA_WORKERS.
	EnvPrefix = "RUBRICA"

	// DefaultFile is read when no config file is named. It may be absent.
	DefaultFile = "rubrica.json"

	// DotenvFile is loaded into the environment before parsing. It may be
	// absent.
	DotenvFile = ".env"

	// APIKeyEnv is honoured when no rubrica-specific key is set.
	APIKeyEnv = "ANTHROPIC_API_KEY"
)

// Config holds every setting.
type Config struct {
	DB             string        `json:"db"`
	APIKey         string        `json:"-"`
	APIBaseURL     string        `json:"api_base_url"`
	Model          string        `json:"model"`
	MaxTokens      int           `json:"max_tokens"`
	RequestTimeout time.Duration `json:"request_timeout"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	Workers        int           `json:"workers"`
	ListenAddr     string        `json:"listen_addr"`
	LogFile        string        `json:"log_file"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		DB:             "rubrica.db",
		APIBaseURL:     scorer.DefaultBaseURL,
		Model:          scorer.DefaultModel,
		MaxTokens:      scorer.DefaultMaxTokens,
		RequestTimeout: scorer.MaxRequestTimeout,
		ConnectTimeout: scorer.DefaultConnectTimeout,
		Workers:        orchestrator.DefaultWorkers,
		ListenAddr:     "127.0.0.1:8420",
	}
}

func (c *Config) register(fs *flag.FlagSet) {
	fs.StringVar(&c.DB, "db", c.DB, "SQLite database path")
	fs.StringVar(&c.APIKey, "api_key", c.APIKey, "model API key")
	fs.StringVar(&c.APIBaseURL, "api_base_url", c.APIBaseURL, "model API base URL")
	fs.StringVar(&c.Model, "model", c.Model, "grading model")
	fs.IntVar(&c.MaxTokens, "max_tokens", c.MaxTokens, "max tokens per grading reply")
	fs.DurationVar(&c.RequestTimeout, "request_timeout", c.RequestTimeout, "model request timeout")
	fs.DurationVar(&c.ConnectTimeout, "connect_timeout", c.ConnectTimeout, "model connect timeout")
	fs.IntVar(&c.Workers, "workers", c.Workers, "concurrent grading workers")
	fs.StringVar(&c.ListenAddr, "listen_addr", c.ListenAddr, "progress server address")
	fs.StringVar(&c.LogFile, "log_file", c.LogFile, "append logs to this file")
}

// Load reads the configuration. An empty path reads DefaultFile if present;
// a named file must exist.
func Load(path string) (Config, error) {
	if err := godotenv.Load(DotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", DotenvFile, err)
	}

	cfg := Default()
	flags := flag.NewFlagSet("rubrica", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	cfg.register(flags)

	opts := []ff.Option{
		ff.WithEnvVarPrefix(EnvPrefix),
		ff.WithConfigFileParser(ff.JSONParser),
	}
	if path == "" {
		opts = append(opts, ff.WithConfigFile(DefaultFile), ff.WithAllowMissingConfigFile(true))
	} else {
		opts = append(opts, ff.WithConfigFile(path))
	}
	if err := ff.Parse(flags, nil, opts...); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(APIKeyEnv)
	}
	if cfg.RequestTimeout > scorer.MaxRequestTimeout {
		cfg.RequestTimeout = scorer.MaxRequestTimeout
	}
	return cfg, nil
}

// Validate checks settings that would make grading impossible. A missing
// API key is not checked here; only commands that call the model need one.
func (c Config) Validate() error {
	switch {
	case c.DB == "":
		return errors.New("config: db is required")
	case c.Model == "":
		return errors.New("config: model is required")
	case c.MaxTokens <= 0:
		return fmt.Errorf("config: max_tokens must be positive, got %d", c.MaxTokens)
	case c.Workers < 1:
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	case c.RequestTimeout <= 0 || c.ConnectTimeout <= 0:
		return errors.New("config: timeouts must be positive")
	case c.ConnectTimeout > c.RequestTimeout:
		return fmt.Errorf("config: connect_timeout %s exceeds request_timeout %s", c.ConnectTimeout, c.RequestTimeout)
	}
	return nil
}

// Scorer returns the model client settings.
func (c Config) Scorer(logger *slog.Logger) scorer.Config {
	return scorer.Config{
		BaseURL:        c.APIBaseURL,
		APIKey:         c.APIKey,
		Model:          c.Model,
		MaxTokens:      c.MaxTokens,
		RequestTimeout: c.RequestTimeout,
		ConnectTimeout: c.ConnectTimeout,
		Logger:         logger,
	}
}
