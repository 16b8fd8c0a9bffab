package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider names accepted by the embedding_provider option.
const (
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderTogether = "together"
	ProviderBedrock  = "bedrock"
)

// RedisConfig holds the optional second-level embedding cache settings.
// The cache stays in-process only while Addr is empty.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TelemetryConfig holds OTLP trace export settings.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Config is the full pipeline configuration.
type Config struct {
	DBURL       string `yaml:"db_url"`
	DBUser      string `yaml:"db_user"`
	DBPass      string `yaml:"db_pass"`
	DBNamespace string `yaml:"db_namespace"`
	DBDatabase  string `yaml:"db_database"`

	EmbeddingProvider string `yaml:"embedding_provider"`
	OllamaURL         string `yaml:"ollama_url"`
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	TogetherAPIKey    string `yaml:"together_api_key"`
	BedrockRegion     string `yaml:"bedrock_region"`
	EmbeddingModel    string `yaml:"embedding_model"`

	BatchSize       int `yaml:"batch_size"`
	BatchDelayMS    int `yaml:"batch_delay_ms"`
	ParallelWorkers int `yaml:"parallel_workers"`
	TokenLimit      int `yaml:"token_limit"`

	RetryAttempts int `yaml:"retry_attempts"`
	RetryDelayMS  int `yaml:"retry_delay_ms"`

	PoolSize               int `yaml:"pool_size"`
	PoolMaxSize            int `yaml:"pool_max_size"`
	PoolWaitTimeoutSecs    int `yaml:"pool_wait_timeout_secs"`
	PoolCreateTimeoutSecs  int `yaml:"pool_create_timeout_secs"`
	PoolRecycleTimeoutSecs int `yaml:"pool_recycle_timeout_secs"`

	MonitoringPort int    `yaml:"monitoring_port"`
	LogLevel       string `yaml:"log_level"`

	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DefaultConfig returns a Config with the stock defaults.
func DefaultConfig() *Config {
	return &Config{
		DBURL:       "ws://localhost:8000",
		DBUser:      "root",
		DBPass:      "root",
		DBNamespace: "gitstars",
		DBDatabase:  "stars",

		EmbeddingProvider: ProviderOllama,
		OllamaURL:         "http://localhost:11434",
		EmbeddingModel:    "nomic-embed-text",

		BatchSize:       10,
		BatchDelayMS:    100,
		ParallelWorkers: 4,
		TokenLimit:      8000,

		RetryAttempts: 3,
		RetryDelayMS:  1000,

		PoolSize:               10,
		PoolMaxSize:            20,
		PoolWaitTimeoutSecs:    10,
		PoolCreateTimeoutSecs:  30,
		PoolRecycleTimeoutSecs: 30,

		MonitoringPort: 9090,
		LogLevel:       "info",

		Telemetry: TelemetryConfig{
			ServiceName: "embedstar",
			SampleRate:  1.0,
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) error {
	for _, s := range []struct {
		name string
		dst  *string
	}{
		{"DB_URL", &cfg.DBURL},
		{"DB_USER", &cfg.DBUser},
		{"DB_PASS", &cfg.DBPass},
		{"DB_NAMESPACE", &cfg.DBNamespace},
		{"DB_DATABASE", &cfg.DBDatabase},
		{"EMBEDDING_PROVIDER", &cfg.EmbeddingProvider},
		{"OLLAMA_URL", &cfg.OllamaURL},
		{"OPENAI_API_KEY", &cfg.OpenAIAPIKey},
		{"TOGETHER_API_KEY", &cfg.TogetherAPIKey},
		{"BEDROCK_REGION", &cfg.BedrockRegion},
		{"EMBEDDING_MODEL", &cfg.EmbeddingModel},
		{"LOG_LEVEL", &cfg.LogLevel},
		{"REDIS_ADDR", &cfg.Redis.Addr},
		{"REDIS_PASSWORD", &cfg.Redis.Password},
		{"OTEL_ENDPOINT", &cfg.Telemetry.Endpoint},
	} {
		if v := os.Getenv(s.name); v != "" {
			*s.dst = v
		}
	}

	for _, n := range []struct {
		name string
		dst  *int
	}{
		{"BATCH_SIZE", &cfg.BatchSize},
		{"BATCH_DELAY_MS", &cfg.BatchDelayMS},
		{"PARALLEL_WORKERS", &cfg.ParallelWorkers},
		{"TOKEN_LIMIT", &cfg.TokenLimit},
		{"RETRY_ATTEMPTS", &cfg.RetryAttempts},
		{"RETRY_DELAY_MS", &cfg.RetryDelayMS},
		{"POOL_SIZE", &cfg.PoolSize},
		{"POOL_MAX_SIZE", &cfg.PoolMaxSize},
		{"POOL_WAIT_TIMEOUT_SECS", &cfg.PoolWaitTimeoutSecs},
		{"POOL_CREATE_TIMEOUT_SECS", &cfg.PoolCreateTimeoutSecs},
		{"POOL_RECYCLE_TIMEOUT_SECS", &cfg.PoolRecycleTimeoutSecs},
		{"MONITORING_PORT", &cfg.MonitoringPort},
		{"REDIS_DB", &cfg.Redis.DB},
	} {
		v := os.Getenv(n.name)
		if v == "" {
			continue
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", n.name, err)
		}
		*n.dst = i
	}

	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("env OTEL_ENABLED: %w", err)
		}
		cfg.Telemetry.Enabled = b
	}

	return nil
}

// Validate checks cross-field constraints before the pipeline starts.
func (c *Config) Validate() error {
	switch c.EmbeddingProvider {
	case ProviderOllama:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when embedding_provider is %q", ProviderOpenAI)
		}
	case ProviderTogether, "togetherai":
		if c.TogetherAPIKey == "" {
			return fmt.Errorf("TOGETHER_API_KEY is required when embedding_provider is %q", c.EmbeddingProvider)
		}
	case ProviderBedrock:
		if c.BedrockRegion == "" && os.Getenv("AWS_REGION") == "" {
			return fmt.Errorf("bedrock_region or AWS_REGION is required when embedding_provider is %q", ProviderBedrock)
		}
	default:
		return fmt.Errorf("unknown embedding provider %q", c.EmbeddingProvider)
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.BatchDelayMS < 0 {
		return fmt.Errorf("batch_delay_ms must not be negative, got %d", c.BatchDelayMS)
	}
	if c.ParallelWorkers < 1 {
		return fmt.Errorf("parallel_workers must be at least 1, got %d", c.ParallelWorkers)
	}
	if c.TokenLimit < 1 {
		return fmt.Errorf("token_limit must be at least 1, got %d", c.TokenLimit)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1, got %d", c.PoolSize)
	}
	if c.PoolMaxSize < c.PoolSize {
		return fmt.Errorf("pool_max_size (%d) must be at least pool_size (%d)", c.PoolMaxSize, c.PoolSize)
	}
	return nil
}

// String renders a startup summary. Credentials are never printed.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Configuration:\n")
	fmt.Fprintf(&b, "  Database URL: %s\n", c.DBURL)
	fmt.Fprintf(&b, "  Database: %s/%s\n", c.DBNamespace, c.DBDatabase)
	fmt.Fprintf(&b, "  Embedding Provider: %s\n", c.EmbeddingProvider)
	fmt.Fprintf(&b, "  Embedding Model: %s\n", c.EmbeddingModel)
	fmt.Fprintf(&b, "  Batch Size: %d\n", c.BatchSize)
	fmt.Fprintf(&b, "  Parallel Workers: %d\n", c.ParallelWorkers)
	fmt.Fprintf(&b, "  Pool Size: %d (max %d)\n", c.PoolSize, c.PoolMaxSize)
	return b.String()
}
