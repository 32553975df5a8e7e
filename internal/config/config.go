package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfiguration wraps every validation failure returned by Load.
var ErrConfiguration = errors.New("invalid configuration")

// Config holds all configuration for the viralspy server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Workflow  WorkflowConfig
	Callback  CallbackConfig
	Assistant AssistantConfig
	Chat      ChatConfig
}

type ServerConfig struct {
	Port                int
	Env                 string
	RateLimitPerMinute  int
	DefaultResultsLimit int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// WorkflowConfig points at the external workflow engine that performs scraping.
type WorkflowConfig struct {
	DispatchURL string
	Timeout     time.Duration
}

// CallbackConfig controls the capability tokens handed to the workflow engine.
// An empty Secret leaves the callback endpoint open.
type CallbackConfig struct {
	Secret   string
	TokenTTL time.Duration
	BaseURL  string
}

// AssistantConfig holds the pre-shared credential and endpoint of the assistant engine.
type AssistantConfig struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond int
}

// ChatConfig bounds the run polling loop.
type ChatConfig struct {
	PollInterval    time.Duration
	PollMaxAttempts int
	LockTTL         time.Duration
}

// TurnTimeout is the longest a chat turn polls its run.
func (c ChatConfig) TurnTimeout() time.Duration {
	return c.PollInterval * time.Duration(c.PollMaxAttempts)
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error wrapping ErrConfiguration if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:                envInt("VIRALSPY_PORT", 8080),
			Env:                 envString("VIRALSPY_ENV", "development"),
			RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 60),
			DefaultResultsLimit: envInt("DEFAULT_RESULTS_LIMIT", 200),
		},
		Database: databaseFromEnv(),
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Workflow: WorkflowConfig{
			DispatchURL: os.Getenv("WORKFLOW_DISPATCH_URL"),
			Timeout:     envDuration("WORKFLOW_TIMEOUT", 15*time.Second),
		},
		Callback: CallbackConfig{
			Secret:   os.Getenv("CALLBACK_SECRET"),
			TokenTTL: envDuration("CALLBACK_TOKEN_TTL", 24*time.Hour),
			BaseURL:  strings.TrimRight(os.Getenv("CALLBACK_BASE_URL"), "/"),
		},
		Assistant: AssistantConfig{
			APIKey:            os.Getenv("OPENAI_API_KEY"),
			BaseURL:           strings.TrimRight(envString("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
			Timeout:           envDuration("OPENAI_TIMEOUT", 30*time.Second),
			RequestsPerSecond: envInt("OPENAI_REQUESTS_PER_SECOND", 5),
		},
		Chat: ChatConfig{
			PollInterval:    envDuration("CHAT_POLL_INTERVAL", time.Second),
			PollMaxAttempts: envInt("CHAT_POLL_MAX_ATTEMPTS", 30),
			LockTTL:         envDuration("CHAT_LOCK_TTL", 2*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

// LoadDatabase reads only the database section. Admin tooling uses it to
// reach the store without the server's remote endpoints configured.
func LoadDatabase() (DatabaseConfig, error) {
	db := databaseFromEnv()
	if db.URL == "" {
		return DatabaseConfig{}, fmt.Errorf("%w: DATABASE_URL is required", ErrConfiguration)
	}
	return db, nil
}

func databaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		URL:             os.Getenv("DATABASE_URL"),
		MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Workflow.DispatchURL == "" {
		return fmt.Errorf("WORKFLOW_DISPATCH_URL is required")
	}
	if !isHTTPURL(c.Workflow.DispatchURL) {
		return fmt.Errorf("WORKFLOW_DISPATCH_URL must start with http:// or https://, got %q", c.Workflow.DispatchURL)
	}

	if c.Callback.BaseURL != "" && !isHTTPURL(c.Callback.BaseURL) {
		return fmt.Errorf("CALLBACK_BASE_URL must start with http:// or https://, got %q", c.Callback.BaseURL)
	}
	if c.Callback.Secret != "" && c.Callback.TokenTTL <= 0 {
		return fmt.Errorf("CALLBACK_TOKEN_TTL must be positive")
	}

	if c.Assistant.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if !isHTTPURL(c.Assistant.BaseURL) {
		return fmt.Errorf("OPENAI_BASE_URL must start with http:// or https://, got %q", c.Assistant.BaseURL)
	}

	if c.Chat.PollInterval <= 0 {
		return fmt.Errorf("CHAT_POLL_INTERVAL must be positive")
	}
	if c.Chat.PollMaxAttempts <= 0 {
		return fmt.Errorf("CHAT_POLL_MAX_ATTEMPTS must be positive")
	}

	if c.Server.DefaultResultsLimit <= 0 {
		return fmt.Errorf("DEFAULT_RESULTS_LIMIT must be positive")
	}

	return nil
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
