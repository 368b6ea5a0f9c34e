// Package config loads broker configuration from an optional YAML file
// with BROKER_* environment overrides on top of the defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/personachat/broker/internal/engine"
)

type EngineConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Token   string `yaml:"token"`
}

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`

	// MaxContextTokens is the truncation budget in estimated tokens.
	MaxContextTokens int `yaml:"max_context_tokens"`

	// TimeoutSeconds bounds the end-to-end wait for a result. Keep it
	// under the client's own timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// QueueSize caps how many requests may wait for the worker.
	QueueSize int `yaml:"queue_size"`

	// Permits sizes the concurrency gate. The engine holds a single
	// model context, so anything above 1 is unsupported.
	Permits int64 `yaml:"permits"`

	Engine   EngineConfig          `yaml:"engine"`
	Sampling engine.SamplingParams `yaml:"sampling"`
}

func Default() Config {
	return Config{
		ListenAddr:       ":8100",
		DBPath:           "broker.db",
		MaxContextTokens: 1024,
		TimeoutSeconds:   25,
		QueueSize:        5,
		Permits:          1,
		Engine: EngineConfig{
			BaseURL: "http://localhost:8080/v1/",
			Model:   "llama3.1:8b",
		},
		Sampling: engine.DefaultSamplingParams(),
	}
}

// Timeout is TimeoutSeconds as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load builds the configuration: defaults, then the YAML file at path
// (when non-empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("BROKER_LISTEN_ADDR", &cfg.ListenAddr)
	setString("BROKER_DB_PATH", &cfg.DBPath)
	setInt("BROKER_MAX_CONTEXT_TOKENS", &cfg.MaxContextTokens)
	setInt("BROKER_TIMEOUT_SECONDS", &cfg.TimeoutSeconds)
	setInt("BROKER_QUEUE_SIZE", &cfg.QueueSize)
	setString("BROKER_ENGINE_BASE_URL", &cfg.Engine.BaseURL)
	setString("BROKER_ENGINE_MODEL", &cfg.Engine.Model)
	setString("OPENAI_API_KEY", &cfg.Engine.Token)
	setString("BROKER_ENGINE_TOKEN", &cfg.Engine.Token)
}

func (c Config) validate() error {
	if c.MaxContextTokens < 1 {
		return fmt.Errorf("max_context_tokens must be positive, got %d", c.MaxContextTokens)
	}
	if c.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.Permits != 1 {
		return fmt.Errorf("permits must be 1, got %d", c.Permits)
	}
	return nil
}
