// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Relay publishes notifications through redis so every instance can
	// reach its own websocket clients.
	Relay bool `yaml:"relay"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type PipelineConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	StartTimeout   time.Duration `yaml:"start_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	WebhookSecret  string        `yaml:"webhook_secret"`
}

type EventsConfig struct {
	AMQPURL string `yaml:"amqp_url"`
	Queue   string `yaml:"queue"`
	Shards  int    `yaml:"shards"`
}

type QuotaConfig struct {
	Timezone     string        `yaml:"timezone"`
	BatchCeiling int           `yaml:"batch_ceiling"`
	Cooldown     time.Duration `yaml:"cooldown"`
	SitesPerLead int           `yaml:"sites_per_lead"`
	MaxSitesCap  int           `yaml:"max_sites_cap"`
}

type WorkerConfig struct {
	Count        int           `yaml:"count"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type AdmissionConfig struct {
	// ActiveJobLease > 0 enables the reaper that fails jobs stuck longer than the lease.
	ActiveJobLease  time.Duration `yaml:"active_job_lease"`
	ReapInterval    time.Duration `yaml:"reap_interval"`
	RequestsPerMin  int           `yaml:"requests_per_min"`
	// RequiredContext lists business context keys that must be non-empty before a run.
	RequiredContext []string      `yaml:"required_context"`
	ContextCacheTTL time.Duration `yaml:"context_cache_ttl"`
}

type WSConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	SendBuffer   int           `yaml:"send_buffer"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Events    EventsConfig    `yaml:"events"`
	Quota     QuotaConfig     `yaml:"quota"`
	Worker    WorkerConfig    `yaml:"worker"`
	Admission AdmissionConfig `yaml:"admission"`
	WS        WSConfig        `yaml:"ws"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, overlays secrets from the
// environment (and an optional .env file), applies defaults and validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (c *Config) applyEnv() {
	overlay := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	overlay(&c.Database.URL, "DATABASE_URL")
	overlay(&c.Redis.URL, "REDIS_URL")
	overlay(&c.Redis.Password, "REDIS_PASSWORD")
	overlay(&c.Auth.JWTSecret, "JWT_SECRET")
	overlay(&c.Pipeline.APIKey, "PIPELINE_API_KEY")
	overlay(&c.Pipeline.WebhookSecret, "PIPELINE_WEBHOOK_SECRET")
	overlay(&c.Events.AMQPURL, "AMQP_URL")
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 15 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Pipeline.StartTimeout <= 0 {
		c.Pipeline.StartTimeout = 5 * time.Minute
	}
	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.InitialBackoff <= 0 {
		c.Pipeline.InitialBackoff = time.Second
	}
	if c.Pipeline.RatePerSecond <= 0 {
		c.Pipeline.RatePerSecond = 5
	}
	if c.Events.Queue == "" {
		c.Events.Queue = "q.pipeline.events"
	}
	if c.Events.Shards <= 0 {
		c.Events.Shards = 16
	}
	if c.Quota.Timezone == "" {
		c.Quota.Timezone = "UTC"
	}
	if c.Quota.BatchCeiling <= 0 {
		c.Quota.BatchCeiling = 50
	}
	if c.Quota.Cooldown <= 0 {
		c.Quota.Cooldown = 24 * time.Hour
	}
	if c.Quota.SitesPerLead <= 0 {
		c.Quota.SitesPerLead = 2
	}
	if c.Quota.MaxSitesCap <= 0 {
		c.Quota.MaxSitesCap = 100
	}
	if c.Worker.Count <= 0 {
		c.Worker.Count = 4
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 500 * time.Millisecond
	}
	if c.Admission.ReapInterval <= 0 {
		c.Admission.ReapInterval = time.Minute
	}
	if c.Admission.RequestsPerMin <= 0 {
		c.Admission.RequestsPerMin = 20
	}
	if c.Admission.ContextCacheTTL <= 0 {
		c.Admission.ContextCacheTTL = 30 * time.Second
	}
	if c.WS.PingInterval <= 0 {
		c.WS.PingInterval = 30 * time.Second
	}
	if c.WS.SendBuffer <= 0 {
		c.WS.SendBuffer = 64
	}
}

// Validate performs minimal checks of required settings.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Pipeline.BaseURL == "" {
		return errors.New("pipeline.base_url is required")
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		return fmt.Errorf("quota.timezone: %w", err)
	}
	return nil
}

// Location resolves the quota timezone; Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
