package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Extract   ExtractConfig   `yaml:"extract"`
	Polling   PollingConfig   `yaml:"polling"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Batch     BatchConfig     `yaml:"batch"`
	Session   SessionConfig   `yaml:"session"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Store     StoreConfig     `yaml:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ExtractConfig points at the remote document-extraction service.
type ExtractConfig struct {
	APIURL         string `yaml:"api_url"`
	APIToken       string `yaml:"api_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// PollingConfig bounds the status-check loop. The interval and attempt
// budget are deliberately explicit configuration: near-duplicate upload
// flows have historically drifted between 1s and 5s intervals, so nothing
// is hard-coded here.
type PollingConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	MaxAttempts     int `yaml:"max_attempts"`
}

type EncoderConfig struct {
	MaxFileBytes    int64 `yaml:"max_file_bytes"`
	DownscaleImages bool  `yaml:"downscale_images"`
}

type ReconcileConfig struct {
	// ReviewThreshold is the confidence below which a lowest-trust field
	// is flagged for review.
	ReviewThreshold float64 `yaml:"review_threshold"`
}

type BatchConfig struct {
	// Mode is "fanout" (one job per file, polled concurrently) or
	// "remote" (single batch submission, aggregate status poll).
	Mode        string `yaml:"mode"`
	Concurrency int    `yaml:"concurrency"`
}

// SessionConfig configures anonymous session tokens. The client id claim
// scopes job history; requests without a valid token get a fresh id.
type SessionConfig struct {
	Secret           string `yaml:"secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// ArchiveConfig configures optional object-storage archival of uploaded
// originals. Disabled unless enabled is set.
type ArchiveConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

type StoreConfig struct {
	MaxJobs    int `yaml:"max_jobs"`
	MaxBatches int `yaml:"max_batches"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Extract.TimeoutSeconds == 0 {
		cfg.Extract.TimeoutSeconds = 60
	}
	if cfg.Polling.IntervalSeconds == 0 {
		cfg.Polling.IntervalSeconds = 2
	}
	if cfg.Polling.MaxAttempts == 0 {
		cfg.Polling.MaxAttempts = 30
	}
	if cfg.Encoder.MaxFileBytes == 0 {
		cfg.Encoder.MaxFileBytes = 10 << 20
	}
	if cfg.Reconcile.ReviewThreshold == 0 {
		cfg.Reconcile.ReviewThreshold = 0.8
	}
	if cfg.Batch.Mode == "" {
		cfg.Batch.Mode = "fanout"
	}
	if cfg.Batch.Concurrency == 0 {
		cfg.Batch.Concurrency = 4
	}
	if cfg.Session.TokenExpireHours == 0 {
		cfg.Session.TokenExpireHours = 24
	}
	if cfg.Archive.ExpireDays == 0 {
		cfg.Archive.ExpireDays = 7
	}
	if cfg.Store.MaxJobs == 0 {
		cfg.Store.MaxJobs = 500
	}
	if cfg.Store.MaxBatches == 0 {
		cfg.Store.MaxBatches = 100
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 100
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Extract.APIURL == "" {
		return fmt.Errorf("extract api_url is required")
	}
	if c.Polling.MaxAttempts < 1 {
		return fmt.Errorf("polling max_attempts must be at least 1")
	}
	if c.Batch.Mode != "fanout" && c.Batch.Mode != "remote" {
		return fmt.Errorf("invalid batch mode: %s", c.Batch.Mode)
	}
	if c.Archive.Enabled && c.Archive.Endpoint == "" {
		return fmt.Errorf("archive endpoint is required when archive is enabled")
	}
	return nil
}
