package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AIConfig struct {
	OpenAIKey      string        `yaml:"openai_key"`
	OpenAIBaseURL  string        `yaml:"openai_base_url"` // for OpenAI-compatible providers
	GeminiKey      string        `yaml:"gemini_key"`
	GeminiURL      string        `yaml:"gemini_url"`
	Model          string        `yaml:"model"`
	MaxOutTokens   int           `yaml:"max_out_tokens"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	ConcurrentLimit  int           `yaml:"concurrent_limit"`  // max concurrent AI calls per worker
	RateLimit        int           `yaml:"rate_limit"`        // calls per window across all workers
	RateWindow       time.Duration `yaml:"rate_window"`
	BreakerThreshold int           `yaml:"breaker_threshold"` // consecutive failures before opening
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

type WorkerConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	BatchSize          int           `yaml:"batch_size"`
	PoolSize           int           `yaml:"pool_size"`
	MaxAttempts        int           `yaml:"max_attempts"`
	ValidationRetries  int           `yaml:"validation_retries"`
	ReclaimInterval    time.Duration `yaml:"reclaim_interval"`
	ProcessingLease    time.Duration `yaml:"processing_lease"`
}

type OpsConfig struct {
	Port       int    `yaml:"port"`
	AdminToken string `yaml:"admin_token"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Worker   WorkerConfig   `yaml:"worker"`
	Ops      OpsConfig      `yaml:"ops"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "gpt-4o-mini"
	}
	if cfg.AI.MaxOutTokens <= 0 {
		cfg.AI.MaxOutTokens = 2048
	}
	if cfg.AI.RequestTimeout <= 0 {
		cfg.AI.RequestTimeout = 60 * time.Second
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 8
	}
	if cfg.AI.RateLimit <= 0 {
		cfg.AI.RateLimit = 60
	}
	if cfg.AI.RateWindow <= 0 {
		cfg.AI.RateWindow = time.Minute
	}
	if cfg.AI.BreakerThreshold <= 0 {
		cfg.AI.BreakerThreshold = 5
	}
	if cfg.AI.BreakerCooldown <= 0 {
		cfg.AI.BreakerCooldown = 30 * time.Second
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = 2 * time.Second
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 5
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 4
	}
	if cfg.Worker.MaxAttempts <= 0 {
		cfg.Worker.MaxAttempts = 3
	}
	if cfg.Worker.ValidationRetries <= 0 {
		cfg.Worker.ValidationRetries = 2
	}
	if cfg.Worker.ReclaimInterval <= 0 {
		cfg.Worker.ReclaimInterval = time.Minute
	}
	if cfg.Worker.ProcessingLease <= 0 {
		cfg.Worker.ProcessingLease = 10 * time.Minute
	}
	if cfg.Ops.Port == 0 {
		cfg.Ops.Port = 8090
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if !dev && cfg.AI.OpenAIKey == "" && cfg.AI.GeminiKey == "" {
		return nil, errors.New("ai.openai_key or ai.gemini_key is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
