package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides.
// Nested keys use a double underscore: CAMPAIGN_SERVER__PORT -> server.port.
const EnvPrefix = "CAMPAIGN_"

// DefaultPath is the config file loaded when no path is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	LLM       LLMConfig       `koanf:"llm"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Callback  CallbackConfig  `koanf:"callback"`
	Response  ResponseConfig  `koanf:"response"`
	Storage   StorageConfig   `koanf:"storage"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// RequestTimeout bounds each HTTP request. Zero disables it, which leaves
	// synchronous generation bounded only by the upstream client timeout.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// LLMConfig describes the OpenAI-compatible chat completion endpoint every
// pipeline stage talks to.
type LLMConfig struct {
	BaseURL         string        `koanf:"base_url"`
	APIKey          string        `koanf:"api_key"`
	Model           string        `koanf:"model"`
	Timeout         time.Duration `koanf:"timeout"`
	MaxTokens       int           `koanf:"max_tokens"`
	Temperature     float32       `koanf:"temperature"`
	TopP            float32       `koanf:"top_p"`
	PresencePenalty float32       `koanf:"presence_penalty"`
	TopK            int           `koanf:"top_k"`
	EnableThinking  bool          `koanf:"enable_thinking"`
	GuidedJSON      bool          `koanf:"guided_json"` // send stage schemas as guided_json
}

type PipelineConfig struct {
	// ValidateOutputs decodes every stage output against its schema type
	// before the next stage runs and aborts the run on mismatch.
	ValidateOutputs bool `koanf:"validate_outputs"`
}

type RateLimitConfig struct {
	RequestsPerMinute int  `koanf:"requests_per_minute"`
	TrustForwarded    bool `koanf:"trust_forwarded"` // key clients by X-Forwarded-For
}

type CallbackConfig struct {
	Timeout       time.Duration `koanf:"timeout"`
	MaxConcurrent int           `koanf:"max_concurrent"`
	BlockPrivate  bool          `koanf:"block_private"` // refuse loopback/private callback targets
}

type ResponseConfig struct {
	// ParseResult embeds the presenter output as JSON instead of a string.
	ParseResult bool `koanf:"parse_result"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Exporter    string `koanf:"exporter"` // none, stdout
	ServiceName string `koanf:"service_name"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

var defaults = map[string]any{
	"server.port":                   8000,
	"server.request_timeout":        time.Duration(0),
	"llm.base_url":                  "http://localhost:8000/v1",
	"llm.api_key":                   "EMPTY",
	"llm.model":                     "marketeam/Qwen-Marketing",
	"llm.timeout":                   120 * time.Second,
	"llm.max_tokens":                2048,
	"llm.temperature":               0.7,
	"llm.top_p":                     0.8,
	"llm.presence_penalty":          1.5,
	"llm.top_k":                     20,
	"llm.enable_thinking":           false,
	"llm.guided_json":               true,
	"pipeline.validate_outputs":     false,
	"ratelimit.requests_per_minute": 10,
	"ratelimit.trust_forwarded":     false,
	"callback.timeout":              30 * time.Second,
	"callback.max_concurrent":       16,
	"callback.block_private":        false,
	"response.parse_result":         false,
	"storage.type":                  "memory",
	"storage.sqlite.path":           "./data/campaigns.db",
	"telemetry.exporter":            "none",
	"telemetry.service_name":        "campaign-gateway",
	"log.level":                     "info",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from the yaml file at path (optional) and then
// applies CAMPAIGN_* environment overrides. An empty path means DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Variables understood by the OpenAI SDKs take effect when the gateway's
	// own keys are unset.
	if !k.Exists("llm.api_key") {
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			k.Set("llm.api_key", v)
		}
	}
	if !k.Exists("llm.base_url") {
		if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
			k.Set("llm.base_url", v)
		}
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.LLM.APIKey = substituteEnvVars(cfg.LLM.APIKey)
	cfg.LLM.BaseURL = substituteEnvVars(cfg.LLM.BaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports configuration values the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("server.request_timeout must not be negative")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("llm.timeout must not be negative")
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("ratelimit.requests_per_minute must be positive, got %d", c.RateLimit.RequestsPerMinute)
	}
	if c.Callback.MaxConcurrent <= 0 {
		return fmt.Errorf("callback.max_concurrent must be positive, got %d", c.Callback.MaxConcurrent)
	}
	if c.Callback.Timeout < 0 {
		return fmt.Errorf("callback.timeout must not be negative")
	}

	switch c.Storage.Type {
	case "memory", "none":
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("unknown storage.type %q (must be memory, sqlite or none)", c.Storage.Type)
	}

	switch c.Telemetry.Exporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("unknown telemetry.exporter %q (must be none or stdout)", c.Telemetry.Exporter)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// ParseLevel maps a log.level value onto a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log.level %q", level)
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
