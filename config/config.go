package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research engine.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Research  ResearchConfig  `mapstructure:"research"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Watchlist WatchlistConfig `mapstructure:"watchlist"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address            string `mapstructure:"address"`
	JWTSecret          string `mapstructure:"jwt_secret"`
	EventStreamEnabled bool   `mapstructure:"event_stream_enabled"`
	// AgentSigningSecret signs and verifies agent cards at startup. Empty
	// disables integrity checks.
	AgentSigningSecret string `mapstructure:"agent_signing_secret"`
}

// LLMConfig contains generation provider configuration
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// Cost per 1K tokens, used by the telemetry cost tracker.
	CostPer1KInput  float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// SearchConfig contains web search provider settings
type SearchConfig struct {
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FetchContent bool          `mapstructure:"fetch_content"`
}

// ResearchConfig contains pipeline and supervisor settings
type ResearchConfig struct {
	MaxRunningTasks     int           `mapstructure:"max_running_tasks"`
	MaxConcurrentAgents int           `mapstructure:"max_concurrent_agents"`
	AgentTimeout        time.Duration `mapstructure:"agent_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	QualityThreshold    int           `mapstructure:"quality_threshold"`
}

// ScoringConfig contains quality scorer settings
type ScoringConfig struct {
	// Per-section weights for the aggregate score; sections absent from the
	// map weigh 1.
	SectionWeights map[string]float64 `mapstructure:"section_weights"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // postgres, redis, memory
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	host := p.Host
	port := p.Port
	ssl := p.SSLMode
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Namespace    string `mapstructure:"namespace"`
	CostTracking bool   `mapstructure:"cost_tracking"`
}

// WatchlistConfig configures recurring research of tracked subjects.
type WatchlistConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Entries  []WatchEntry  `mapstructure:"entries"`
}

// WatchEntry is one tracked subject with its refresh schedule.
type WatchEntry struct {
	Subject  string   `mapstructure:"subject"`
	Depth    string   `mapstructure:"depth"`
	Sections []string `mapstructure:"sections"`
	Cron     string   `mapstructure:"cron"` // @daily, @hourly or 5-field cron
}

// Normalize applies defaults for unset research values.
func (r ResearchConfig) Normalize() ResearchConfig {
	if r.MaxRunningTasks <= 0 {
		r.MaxRunningTasks = 4
	}
	if r.MaxConcurrentAgents <= 0 {
		r.MaxConcurrentAgents = 4
	}
	if r.AgentTimeout <= 0 {
		r.AgentTimeout = 60 * time.Second
	}
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
	if r.RetryBackoff <= 0 {
		r.RetryBackoff = 500 * time.Millisecond
	}
	if r.QualityThreshold <= 0 || r.QualityThreshold > 100 {
		r.QualityThreshold = 85
	}
	return r
}

// Validate checks the research configuration.
func (r ResearchConfig) Validate() error {
	if r.QualityThreshold < 0 || r.QualityThreshold > 100 {
		return fmt.Errorf("research.quality_threshold must be in [0,100]")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("server.address", ":10020")
	viper.SetDefault("server.event_stream_enabled", true)
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("search.max_results", 10)
	viper.SetDefault("search.timeout", "15s")
	viper.SetDefault("research.max_running_tasks", 4)
	viper.SetDefault("research.max_concurrent_agents", 4)
	viper.SetDefault("research.agent_timeout", "60s")
	viper.SetDefault("research.max_retries", 2)
	viper.SetDefault("research.retry_backoff", "500ms")
	viper.SetDefault("research.quality_threshold", 85)
	viper.SetDefault("storage.backend", "memory")
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.namespace", "dossier")
	viper.SetDefault("telemetry.cost_tracking", true)
	viper.SetDefault("watchlist.interval", "1m")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DOSSIER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// a config file is optional when env vars and defaults suffice
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Research = config.Research.Normalize()

	if err := config.Research.Validate(); err != nil {
		panic(err)
	}
	switch config.Storage.Backend {
	case "postgres":
		if err := config.Storage.Postgres.Validate(); err != nil {
			panic(err)
		}
	case "redis":
		if err := config.Storage.Redis.Validate(); err != nil {
			panic(err)
		}
	}
	return &config
}
