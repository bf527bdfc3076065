// Package config provides client and mock API configuration loading.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session persistence backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds configuration values loaded from file or environment variables.
type Config struct {
	APIBaseURL      string        `mapstructure:"API_BASE_URL"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SessionBackend  string        `mapstructure:"SESSION_BACKEND"`
	SessionKey      string        `mapstructure:"SESSION_KEY"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	SessionDSN      string        `mapstructure:"SESSION_DSN"`
	PageSize        int           `mapstructure:"PAGE_SIZE"`
	RealtimeURL     string        `mapstructure:"REALTIME_URL"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	Env             string        `mapstructure:"APP_ENV"`
	TracingEnabled  bool          `mapstructure:"TRACING_ENABLED"`
	TracingExporter string        `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string        `mapstructure:"OTLP_ENDPOINT"`
	TracingSampler  float64       `mapstructure:"TRACING_SAMPLER_RATIO"`

	MockPort      string        `mapstructure:"MOCK_PORT"`
	MockJWTSecret string        `mapstructure:"MOCK_JWT_SECRET"`
	MockFaults    string        `mapstructure:"MOCK_FAULTS"`
	MockLatency   time.Duration `mapstructure:"MOCK_LATENCY"`
	MockFixtures  string        `mapstructure:"MOCK_FIXTURES"`
	MockSeedPosts int           `mapstructure:"MOCK_SEED_POSTS"`
}

const defaultMockSecret = "areahood-mock-secret-change-me"

// LoadConfig loads configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("API_BASE_URL", "http://localhost:8375/api")
	viper.SetDefault("REQUEST_TIMEOUT", "15s")
	viper.SetDefault("SESSION_BACKEND", BackendMemory)
	viper.SetDefault("SESSION_KEY", "areahood:session")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("SESSION_DSN", "areahood_session.db")
	viper.SetDefault("PAGE_SIZE", 20)
	viper.SetDefault("REALTIME_URL", "")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	viper.SetDefault("MOCK_PORT", "8375")
	viper.SetDefault("MOCK_JWT_SECRET", defaultMockSecret)
	viper.SetDefault("MOCK_FAULTS", "")
	viper.SetDefault("MOCK_LATENCY", "0s")
	viper.SetDefault("MOCK_FIXTURES", "")
	viper.SetDefault("MOCK_SEED_POSTS", 30)
}

func (c *Config) normalize() {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	c.SessionBackend = strings.ToLower(strings.TrimSpace(c.SessionBackend))
	c.TracingExporter = strings.ToLower(strings.TrimSpace(c.TracingExporter))
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
}

// IsProduction reports whether the production profile is active.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that configuration values are usable.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("API_BASE_URL is required")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL, got %q", c.APIBaseURL)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	if c.PageSize <= 0 || c.PageSize > 100 {
		return fmt.Errorf("PAGE_SIZE must be between 1 and 100, got %d", c.PageSize)
	}

	switch c.SessionBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis session backend")
		}
	case BackendSQLite, BackendPostgres:
		if c.SessionDSN == "" {
			return fmt.Errorf("SESSION_DSN is required for the %s session backend", c.SessionBackend)
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.SessionBackend != BackendMemory && c.SessionKey == "" {
		return errors.New("SESSION_KEY is required")
	}

	if c.TracingEnabled && c.TracingExporter != "stdout" && c.TracingExporter != "otlp" {
		return fmt.Errorf("unknown TRACING_EXPORTER %q", c.TracingExporter)
	}
	if c.TracingSampler < 0 || c.TracingSampler > 1 {
		return errors.New("TRACING_SAMPLER_RATIO must be between 0 and 1")
	}
	if c.MockLatency < 0 {
		return errors.New("MOCK_LATENCY must not be negative")
	}

	if c.IsProduction() {
		if strings.HasPrefix(c.APIBaseURL, "http://") {
			log.Println("WARNING: API_BASE_URL uses plain http in production. Tokens will travel unencrypted.")
		}
		if c.MockFaults != "" {
			return errors.New("MOCK_FAULTS must be empty in production")
		}
	} else if c.MockJWTSecret == defaultMockSecret {
		log.Println("WARNING: MOCK_JWT_SECRET is the default value. Do not expose the mock API.")
	}

	return nil
}
