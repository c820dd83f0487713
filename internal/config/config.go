package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// leaseMargin is added to the derived poll lease so a lease outlives a slow poll
const leaseMargin = 10 * time.Second

// Store backends
const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port string

	// Logging configuration
	LogLevel string

	// Record store configuration
	StoreBackend      string
	AWSRegion         string
	ServicesTableName string
	DynamoDBEndpoint  string
	DatabaseURL       string

	// Redis configuration (optional, enables poll leases across replicas)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Render configuration. The API key is checked by the operations that need it.
	RenderAPIKey  string
	RenderBaseURL string
	RenderOwnerID string

	// Reconciliation scheduler configuration
	PollInterval    time.Duration
	PollMaxBackoff  time.Duration
	PollMaxAttempts int
	ProviderTimeout time.Duration
	// PollLeaseTTL bounds how long a replica owns a record while polling it
	PollLeaseTTL time.Duration

	// Tool discovery configuration
	DiscoveryTimeout     time.Duration
	DiscoveryConcurrency int
	DiscoveryWorkers     int
	DiscoveryPrivateKey  string

	// Bearer token secret; empty disables authentication
	AuthJWTSecret string
}

// fileConfig is the optional YAML tuning file
type fileConfig struct {
	Server struct {
		Port     string `yaml:"port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	Store struct {
		Backend       string `yaml:"backend"`
		AWSRegion     string `yaml:"aws_region"`
		DynamoDBTable string `yaml:"dynamodb_table"`
	} `yaml:"store"`
	Redis struct {
		Addr string `yaml:"addr"`
		DB   string `yaml:"db"`
	} `yaml:"redis"`
	Render struct {
		BaseURL string `yaml:"base_url"`
		OwnerID string `yaml:"owner_id"`
	} `yaml:"render"`
	Scheduler struct {
		PollInterval    string `yaml:"poll_interval"`
		MaxBackoff      string `yaml:"max_backoff"`
		MaxAttempts     string `yaml:"max_attempts"`
		ProviderTimeout string `yaml:"provider_timeout"`
		LeaseTTL        string `yaml:"lease_ttl"`
	} `yaml:"scheduler"`
	Discovery struct {
		Timeout     string `yaml:"timeout"`
		Concurrency string `yaml:"concurrency"`
		Workers     string `yaml:"workers"`
	} `yaml:"discovery"`
}

// New creates a new Config instance from, in increasing precedence, built-in
// defaults, the YAML file named by CONFIG_FILE, the .env file and the OS
// environment. Panics if required configuration values are missing or invalid.
func New() *Config {
	// Load .env file from the working directory (silently ignore if not found).
	// godotenv never overrides variables already set in the OS environment.
	_ = godotenv.Load(filepath.Join(".", ".env"))

	cfg, err := Load()
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Load builds the configuration from the environment without touching .env
func Load() (*Config, error) {
	var file fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	p := &parser{}
	cfg := &Config{
		Port:     lookup("PORT", file.Server.Port, "3001"),
		LogLevel: lookup("LOG_LEVEL", file.Server.LogLevel, "INFO"),

		StoreBackend:      strings.ToLower(lookup("STORE_BACKEND", file.Store.Backend, BackendDynamoDB)),
		AWSRegion:         lookup("AWS_REGION", file.Store.AWSRegion, "us-east-1"),
		ServicesTableName: lookup("DYNAMODB_SERVICES_TABLE", file.Store.DynamoDBTable, "McpServices"),
		DynamoDBEndpoint:  os.Getenv("DYNAMODB_ENDPOINT"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),

		RedisAddr:     lookup("REDIS_ADDR", file.Redis.Addr, ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       p.integer("REDIS_DB", lookup("REDIS_DB", file.Redis.DB, "0")),

		RenderAPIKey:  os.Getenv("RENDER_API_KEY"),
		RenderBaseURL: lookup("RENDER_API_BASE_URL", file.Render.BaseURL, "https://api.render.com/v1"),
		RenderOwnerID: lookup("RENDER_OWNER_ID", file.Render.OwnerID, ""),

		PollInterval:    p.duration("POLL_INTERVAL", lookup("POLL_INTERVAL", file.Scheduler.PollInterval, "5s")),
		PollMaxBackoff:  p.duration("POLL_MAX_BACKOFF", lookup("POLL_MAX_BACKOFF", file.Scheduler.MaxBackoff, "5m")),
		PollMaxAttempts: p.integer("POLL_MAX_ATTEMPTS", lookup("POLL_MAX_ATTEMPTS", file.Scheduler.MaxAttempts, "0")),
		ProviderTimeout: p.duration("PROVIDER_TIMEOUT", lookup("PROVIDER_TIMEOUT", file.Scheduler.ProviderTimeout, "8s")),
		PollLeaseTTL:    p.duration("POLL_LEASE_TTL", lookup("POLL_LEASE_TTL", file.Scheduler.LeaseTTL, "0s")),

		DiscoveryTimeout:     p.duration("DISCOVERY_TIMEOUT", lookup("DISCOVERY_TIMEOUT", file.Discovery.Timeout, "15s")),
		DiscoveryConcurrency: p.integer("DISCOVERY_CONCURRENCY", lookup("DISCOVERY_CONCURRENCY", file.Discovery.Concurrency, "8")),
		DiscoveryWorkers:     p.integer("DISCOVERY_WORKERS", lookup("DISCOVERY_WORKERS", file.Discovery.Workers, "2")),
		DiscoveryPrivateKey:  os.Getenv("DISCOVERY_PRIVATE_KEY"),

		AuthJWTSecret: os.Getenv("AUTH_JWT_SECRET"),
	}

	if len(p.invalid) > 0 {
		return nil, fmt.Errorf("Invalid configuration values: %v", p.invalid)
	}
	if cfg.PollLeaseTTL == 0 {
		cfg.PollLeaseTTL = cfg.minLeaseTTL() + leaseMargin
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks that all required configuration values are present and valid
func (c *Config) validate() error {
	var missing []string

	switch c.StoreBackend {
	case BackendDynamoDB:
		if c.ServicesTableName == "" {
			missing = append(missing, "DYNAMODB_SERVICES_TABLE")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of %s, %s, %s (got '%s')", BackendDynamoDB, BackendPostgres, BackendMemory, c.StoreBackend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("Missing required configuration values: %v", missing)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive (got %s)", c.PollInterval)
	}
	if c.DiscoveryWorkers < 1 {
		return fmt.Errorf("DISCOVERY_WORKERS must be at least 1 (got %d)", c.DiscoveryWorkers)
	}
	if c.PollMaxAttempts < 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must not be negative (got %d)", c.PollMaxAttempts)
	}
	if c.PollLeaseTTL < c.minLeaseTTL() {
		return fmt.Errorf("POLL_LEASE_TTL must cover PROVIDER_TIMEOUT plus DISCOVERY_TIMEOUT (got %s, need at least %s)", c.PollLeaseTTL, c.minLeaseTTL())
	}

	return nil
}

// lookup returns the environment value of key, else the file value, else the default
func lookup(key, fileValue, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if fileValue != "" {
		return fileValue
	}
	return defaultValue
}

// parser collects every malformed value so they are reported together
type parser struct {
	invalid []string
}

func (p *parser) duration(key, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		p.invalid = append(p.invalid, fmt.Sprintf("%s=%q", key, value))
		return 0
	}
	return d
}

func (p *parser) integer(key, value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		p.invalid = append(p.invalid, fmt.Sprintf("%s=%q", key, value))
		return 0
	}
	return n
}

// minLeaseTTL is the longest a single poll can run: one provider call plus discovery on a live transition
func (c *Config) minLeaseTTL() time.Duration {
	return c.ProviderTimeout + c.DiscoveryTimeout
}

// HasRedis reports whether poll leases should be coordinated through Redis
func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}
