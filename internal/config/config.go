// Package config loads the engine's runtime configuration from a file plus
// environment variable overrides, grounded on the teacher's viper-based
// Load/setDefaults shape (explicit defaults for everything a vendor library
// would otherwise leave dangerous or unset).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every top-level configuration section.
type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	Repository  RepositoryConfig  `mapstructure:"repository"`
	Features    FeaturesConfig    `mapstructure:"features"`
	Lists       ListsConfig       `mapstructure:"lists"`
	VM          VMConfig          `mapstructure:"vm"`
	Score       ScoreConfig       `mapstructure:"score"`
	ResultStore ResultStoreConfig `mapstructure:"result_store"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Services    map[string]ServiceEndpointConfig `mapstructure:"services"`
}

// HTTPConfig contains HTTP server settings for cmd/ruleflow-engine's serve
// subcommand. Mirrors the teacher's explicit-timeouts-over-stdlib-zero-value
// posture: net/http's Server leaves ReadTimeout/WriteTimeout/IdleTimeout at
// zero (no limit) unless set.
type HTTPConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`     // seconds
	WriteTimeout    int `mapstructure:"write_timeout"`    // seconds
	IdleTimeout     int `mapstructure:"idle_timeout"`     // seconds
	MaxHeaderBytes  int `mapstructure:"max_header_bytes"` // bytes
	MaxBodyBytes    int `mapstructure:"max_body_bytes"`   // bytes, stdlib has NO limit
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // seconds
}

// RepositoryConfig selects and configures the artifact Repository backend
// (spec.md §4.3). Backend is one of "memory", "filesystem", "relational",
// "http"; the remaining fields are backend-specific and ignored otherwise.
type RepositoryConfig struct {
	Backend string `mapstructure:"backend"`

	FilesystemRoot string `mapstructure:"filesystem_root"`

	// DatabaseURL is a sqlite DSN. Falls back to the DATABASE_URL
	// environment variable when unset, matching spec.md §6's note that the
	// database location is conventionally named that way regardless of
	// which component reads it.
	DatabaseURL string `mapstructure:"database_url"`

	HTTPBaseURL string `mapstructure:"http_base_url"`
	HTTPToken   string `mapstructure:"http_token"`

	CacheEnabled  bool `mapstructure:"cache_enabled"`
	CacheTTL      int  `mapstructure:"cache_ttl"`      // seconds
	CacheMaxItems int  `mapstructure:"cache_max_items"`
	CacheMaxBytes int64 `mapstructure:"cache_max_bytes"`
}

// CacheTTLDuration converts CacheTTL to a time.Duration for
// repository.NewCachingRepository.
func (r RepositoryConfig) CacheTTLDuration() time.Duration {
	return time.Duration(r.CacheTTL) * time.Second
}

// FeaturesConfig configures the feature engine's (spec.md §4.7) default TTL,
// optional L2 (badger) cache tier, where its Definitions are loaded from, and
// which sqlite DSN backs each named OLAP/SQL datasource a Definition can
// reference.
type FeaturesConfig struct {
	DefaultTTL      int               `mapstructure:"default_ttl"` // seconds
	L2Enabled       bool              `mapstructure:"l2_enabled"`
	L2BadgerPath    string            `mapstructure:"l2_badger_path"`
	DefinitionsPath string            `mapstructure:"definitions_path"`
	SQLDatasources  map[string]string `mapstructure:"sql_datasources"` // datasource name -> sqlite DSN
}

func (f FeaturesConfig) DefaultTTLDuration() time.Duration {
	return time.Duration(f.DefaultTTL) * time.Second
}

// ListsConfig selects the list service backend (spec.md §4.8): "memory",
// "file", "relational" or "http".
type ListsConfig struct {
	Backend     string `mapstructure:"backend"`
	FileDir     string `mapstructure:"file_dir"`
	DatabaseURL string `mapstructure:"database_url"`
	HTTPBaseURL string `mapstructure:"http_base_url"`
	HTTPToken   string `mapstructure:"http_token"`
}

// VMConfig bounds a single Execute call (spec.md §4.6 "Upper bounds").
type VMConfig struct {
	MaxInstructions int `mapstructure:"max_instructions"`
	MaxStackDepth   int `mapstructure:"max_stack_depth"`
	TimeoutMillis   int `mapstructure:"timeout_millis"`
}

func (v VMConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutMillis) * time.Millisecond
}

// ScoreConfig is the logistic normalization curve (spec.md §4.11).
type ScoreConfig struct {
	X0 float64 `mapstructure:"x0"`
	K  float64 `mapstructure:"k"`
}

// ResultStoreConfig configures the optional durable decision record sink
// (spec.md §4.14).
type ResultStoreConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	DatabaseURL string `mapstructure:"database_url"`
}

// LLMConfig holds provider API keys for internal/llmclient.
type LLMConfig struct {
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	TimeoutMillis   int    `mapstructure:"timeout_millis"`
}

func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutMillis) * time.Millisecond
}

// ServiceEndpointConfig is one named external service for internal/svcclient.
type ServiceEndpointConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// Load reads configuration from file and environment variables. Priority:
// env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override everything, e.g. RULEFLOW_HTTP_PORT,
	// RULEFLOW_REPOSITORY_BACKEND. DATABASE_URL (no prefix) is bound
	// separately below since it's a conventional name shared across
	// deployment tooling, not a ruleflow-specific knob.
	v.SetEnvPrefix("RULEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Repository.DatabaseURL == "" {
		if dsn := databaseURLFallback(v); dsn != "" {
			cfg.Repository.DatabaseURL = dsn
		}
	}
	if cfg.ResultStore.Enabled && cfg.ResultStore.DatabaseURL == "" {
		cfg.ResultStore.DatabaseURL = cfg.Repository.DatabaseURL
	}

	return &cfg, nil
}

func databaseURLFallback(v *viper.Viper) string {
	fallback := viper.New()
	fallback.AutomaticEnv()
	return fallback.GetString("database_url")
}

// setDefaults configures default values, explicit about every limit a
// vendor library would otherwise leave unset or unlimited.
func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8088)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)
	v.SetDefault("http.idle_timeout", 120)
	v.SetDefault("http.max_header_bytes", 32768)
	v.SetDefault("http.max_body_bytes", 10485760) // 10MB - stdlib has NO limit
	v.SetDefault("http.shutdown_timeout", 10)

	v.SetDefault("repository.backend", "filesystem")
	v.SetDefault("repository.filesystem_root", "./rules")
	v.SetDefault("repository.cache_enabled", true)
	v.SetDefault("repository.cache_ttl", 60)
	v.SetDefault("repository.cache_max_items", 1000)
	v.SetDefault("repository.cache_max_bytes", 67108864) // 64MB

	v.SetDefault("features.default_ttl", 300)
	v.SetDefault("features.l2_enabled", false)
	v.SetDefault("features.l2_badger_path", "./data/features-l2")

	v.SetDefault("lists.backend", "memory")
	v.SetDefault("lists.file_dir", "./lists")

	v.SetDefault("vm.max_instructions", 1000000)
	v.SetDefault("vm.max_stack_depth", 1024)
	v.SetDefault("vm.timeout_millis", 5000)

	v.SetDefault("score.x0", 500.0)
	v.SetDefault("score.k", 0.01)

	v.SetDefault("result_store.enabled", false)

	v.SetDefault("llm.timeout_millis", 5000)
}
