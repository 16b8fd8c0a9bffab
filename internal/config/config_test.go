package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.DBURL != "ws://localhost:8000" {
		t.Errorf("DBURL = %q", cfg.DBURL)
	}
	if cfg.EmbeddingProvider != ProviderOllama {
		t.Errorf("EmbeddingProvider = %q", cfg.EmbeddingProvider)
	}
	if cfg.EmbeddingModel != "nomic-embed-text" {
		t.Errorf("EmbeddingModel = %q", cfg.EmbeddingModel)
	}
	if cfg.BatchSize != 10 || cfg.BatchDelayMS != 100 {
		t.Errorf("batch defaults = %d/%d", cfg.BatchSize, cfg.BatchDelayMS)
	}
	if cfg.RetryAttempts != 3 || cfg.RetryDelayMS != 1000 {
		t.Errorf("retry defaults = %d/%d", cfg.RetryAttempts, cfg.RetryDelayMS)
	}
	if cfg.TokenLimit != 8000 {
		t.Errorf("TokenLimit = %d", cfg.TokenLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateProviderKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmbeddingProvider = ProviderOpenAI
	if err := cfg.Validate(); err == nil {
		t.Fatal("openai without key should fail validation")
	}
	cfg.OpenAIAPIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("openai with key: %v", err)
	}

	cfg = DefaultConfig()
	cfg.EmbeddingProvider = "togetherai"
	if err := cfg.Validate(); err == nil {
		t.Fatal("together alias without key should fail validation")
	}
	cfg.TogetherAPIKey = "tok"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("together alias with key: %v", err)
	}

	cfg = DefaultConfig()
	cfg.EmbeddingProvider = "anthropic"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown provider should fail validation")
	}
}

func TestValidateRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"negative delay", func(c *Config) { c.BatchDelayMS = -1 }},
		{"zero workers", func(c *Config) { c.ParallelWorkers = 0 }},
		{"zero token limit", func(c *Config) { c.TokenLimit = 0 }},
		{"zero pool", func(c *Config) { c.PoolSize = 0 }},
		{"max below size", func(c *Config) { c.PoolMaxSize = c.PoolSize - 1 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "embedstar.yaml")
	body := `
db_url: ws://db.internal:8000
embedding_provider: openai
openai_api_key: sk-test
batch_size: 25
pool_size: 4
pool_max_size: 8
redis:
  addr: localhost:6379
  db: 2
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBURL != "ws://db.internal:8000" {
		t.Errorf("DBURL = %q", cfg.DBURL)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize = %d", cfg.BatchSize)
	}
	// Untouched keys keep their defaults.
	if cfg.EmbeddingModel != "nomic-embed-text" {
		t.Errorf("EmbeddingModel = %q", cfg.EmbeddingModel)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_URL", "ws://other:8000")
	t.Setenv("BATCH_SIZE", "42")
	t.Setenv("EMBEDDING_PROVIDER", "together")
	t.Setenv("TOGETHER_API_KEY", "tok")

	cfg := DefaultConfig()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.DBURL != "ws://other:8000" {
		t.Errorf("DBURL = %q", cfg.DBURL)
	}
	if cfg.BatchSize != 42 {
		t.Errorf("BatchSize = %d", cfg.BatchSize)
	}
	if cfg.EmbeddingProvider != ProviderTogether {
		t.Errorf("EmbeddingProvider = %q", cfg.EmbeddingProvider)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("env config should validate: %v", err)
	}
}

func TestLoadFromEnvBadNumber(t *testing.T) {
	t.Setenv("BATCH_SIZE", "ten")
	cfg := DefaultConfig()
	if err := LoadFromEnv(cfg); err == nil {
		t.Fatal("expected error for non-numeric BATCH_SIZE")
	}
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OpenAIAPIKey = "sk-secret-value"
	cfg.DBPass = "hunter2"
	out := cfg.String()
	if strings.Contains(out, "sk-secret-value") || strings.Contains(out, "hunter2") {
		t.Fatalf("String() leaked credentials: %s", out)
	}
}
