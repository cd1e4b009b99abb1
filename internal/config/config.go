package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	SES        SESConfig        `yaml:"ses"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	PublicURL  string           `yaml:"public_url"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// StorageConfig selects and configures the storage backend.
// Type is one of "dynamo", "postgres", or "memory".
type StorageConfig struct {
	Type        string `yaml:"type"`
	DatabaseURL string `yaml:"database_url"`
	TableName   string `yaml:"table_name"`
	Region      string `yaml:"region"`
	AWSProfile  string `yaml:"aws_profile"`
}

// RedisConfig holds the optional Redis connection for distributed locks.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// SESConfig holds AWS SES credentials for the SES transport.
// When AccessKey is empty, delivery goes through each sender account's
// own SMTP host instead.
type SESConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// DispatchConfig tunes the dispatch engine pacing.
type DispatchConfig struct {
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryPauseSeconds   int           `yaml:"retry_pause_seconds"`
	MessagePauseSeconds int           `yaml:"message_pause_seconds"`
	SMTPTimeoutSeconds  int           `yaml:"smtp_timeout_seconds"`
}

// SchedulerConfig tunes the campaign poller.
type SchedulerConfig struct {
	Enabled                bool `yaml:"enabled"`
	PollIntervalSeconds    int  `yaml:"poll_interval_seconds"`
	StaleProcessingMinutes int  `yaml:"stale_processing_minutes"`
	LockTTLMinutes         int  `yaml:"lock_ttl_minutes"`
}

// SecretsConfig holds the key used to encrypt sender passwords at rest.
type SecretsConfig struct {
	Key string `yaml:"key"`
}

// RetryPause returns the pause between delivery attempts to one recipient.
func (d DispatchConfig) RetryPause() time.Duration {
	return time.Duration(d.RetryPauseSeconds) * time.Second
}

// MessagePause returns the pause between consecutive recipients.
func (d DispatchConfig) MessagePause() time.Duration {
	return time.Duration(d.MessagePauseSeconds) * time.Second
}

// PollInterval returns how often the scheduler scans for due campaigns.
func (s SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// StaleProcessingWindow returns how long a campaign may sit in
// processing before the scheduler considers it abandoned.
func (s SchedulerConfig) StaleProcessingWindow() time.Duration {
	return time.Duration(s.StaleProcessingMinutes) * time.Minute
}

// LockTTL returns the distributed lock TTL for a dispatch run.
func (s SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(s.LockTTLMinutes) * time.Minute
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Storage.TableName == "" {
		cfg.Storage.TableName = "MailSpace"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Dispatch.RetryAttempts == 0 {
		cfg.Dispatch.RetryAttempts = 3
	}
	if cfg.Dispatch.RetryPauseSeconds == 0 {
		cfg.Dispatch.RetryPauseSeconds = 2
	}
	if cfg.Dispatch.MessagePauseSeconds == 0 {
		cfg.Dispatch.MessagePauseSeconds = 300
	}
	if cfg.Dispatch.SMTPTimeoutSeconds == 0 {
		cfg.Dispatch.SMTPTimeoutSeconds = 30
	}
	if cfg.Scheduler.PollIntervalSeconds == 0 {
		cfg.Scheduler.PollIntervalSeconds = 60
	}
	if cfg.Scheduler.StaleProcessingMinutes == 0 {
		cfg.Scheduler.StaleProcessingMinutes = 30
	}
	if cfg.Scheduler.LockTTLMinutes == 0 {
		cfg.Scheduler.LockTTLMinutes = 10
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://localhost:8080"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env
// vars, so secrets can live in .env locally and in real env vars in
// production. A missing config file is not an error; env-only setups
// get the defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	var cfg *Config
	if _, err := os.Stat(path); err == nil {
		cfg, err = Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = &Config{}
		applyDefaults(cfg)
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if typ := os.Getenv("STORAGE_TYPE"); typ != "" {
		cfg.Storage.Type = typ
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Storage.DatabaseURL = dbURL
	}
	if table := os.Getenv("DYNAMO_TABLE"); table != "" {
		cfg.Storage.TableName = table
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Storage.Region = region
	}
	if profile := os.Getenv("AWS_PROFILE_OVERRIDE"); profile != "" {
		cfg.Storage.AWSProfile = profile
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
		cfg.SES.Enabled = true
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if key := os.Getenv("SMTP_SECRET_KEY"); key != "" {
		cfg.Secrets.Key = key
	}
	if url := os.Getenv("PUBLIC_URL"); url != "" {
		cfg.PublicURL = url
	}

	return cfg, nil
}
