package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. DIGITWIN_AGENT_MAX_STEPS
const EnvPrefix = "DIGITWIN"

// Config holds the full application configuration
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Planner  PlannerConfig  `mapstructure:"planner" yaml:"planner"`
	Search   SearchConfig   `mapstructure:"search" yaml:"search"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// LoggerConfig configures the zap logger built by the observability package
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // console | json
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig configures the rod-driven browser used by the agent command
type BrowserConfig struct {
	Width       int           `mapstructure:"width" yaml:"width"`
	Height      int           `mapstructure:"height" yaml:"height"`
	Headless    bool          `mapstructure:"headless" yaml:"headless"`
	ProfileDir  string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	LoadTimeout time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
}

// AgentConfig configures the control loop
type AgentConfig struct {
	MaxSteps          int               `mapstructure:"max_steps" yaml:"max_steps"`
	StepDelay         time.Duration     `mapstructure:"step_delay" yaml:"step_delay"`
	SettleInterval    time.Duration     `mapstructure:"settle_interval" yaml:"settle_interval"`
	SettleMaxWait     time.Duration     `mapstructure:"settle_max_wait" yaml:"settle_max_wait"`
	PlannerTimeout    time.Duration     `mapstructure:"planner_timeout" yaml:"planner_timeout"`
	PlannerRetries    int               `mapstructure:"planner_retries" yaml:"planner_retries"`
	PlannerBackoff    time.Duration     `mapstructure:"planner_backoff" yaml:"planner_backoff"`
	ConfirmSensitive  bool              `mapstructure:"confirm_sensitive" yaml:"confirm_sensitive"`
	SensitiveKeywords []string          `mapstructure:"sensitive_keywords" yaml:"sensitive_keywords"`
	Routes            map[string]string `mapstructure:"routes" yaml:"routes"` // screen -> path, keys are lower-cased by viper
}

// PlannerProvider names a planning backend
type PlannerProvider string

const (
	ProviderClaude PlannerProvider = "claude"
	ProviderOpenAI PlannerProvider = "openai"
	ProviderRemote PlannerProvider = "remote"
)

// PlannerConfig selects and configures the planning service
type PlannerConfig struct {
	Provider  PlannerProvider `mapstructure:"provider" yaml:"provider"`
	Model     string          `mapstructure:"model" yaml:"model"`
	Endpoint  string          `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey    string          `mapstructure:"api_key" yaml:"api_key"`
	MaxTokens int             `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// SearchConfig configures the similarity search service
type SearchConfig struct {
	DefaultTopK    int    `mapstructure:"default_top_k" yaml:"default_top_k"`
	EmbeddingModel string `mapstructure:"embedding_model" yaml:"embedding_model"`
	Store          string `mapstructure:"store" yaml:"store"` // memory | postgres
	SeedFile       string `mapstructure:"seed_file" yaml:"seed_file"`
}

// DatabaseConfig holds the postgres connection settings
type DatabaseConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr      string  `mapstructure:"addr" yaml:"addr"`
	JWTSecret string  `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// SetDefaults registers default values for every configuration key
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "digitwin")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.width", 1280)
	v.SetDefault("browser.height", 720)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.profile_dir", "")
	v.SetDefault("browser.load_timeout", "30s")

	// -- Agent --
	v.SetDefault("agent.max_steps", 10)
	v.SetDefault("agent.step_delay", "1s")
	v.SetDefault("agent.settle_interval", "50ms")
	v.SetDefault("agent.settle_max_wait", "500ms")
	v.SetDefault("agent.planner_timeout", "60s")
	v.SetDefault("agent.planner_retries", 2)
	v.SetDefault("agent.planner_backoff", "250ms")
	v.SetDefault("agent.confirm_sensitive", true)
	v.SetDefault("agent.sensitive_keywords", []string{"delete", "remove", "send", "pay", "purchase"})

	// -- Planner --
	v.SetDefault("planner.provider", string(ProviderClaude))
	v.SetDefault("planner.model", "")
	v.SetDefault("planner.endpoint", "")
	v.SetDefault("planner.max_tokens", 1024)

	// -- Search --
	v.SetDefault("search.default_top_k", 5)
	v.SetDefault("search.embedding_model", "text-embedding-3-small")
	v.SetDefault("search.store", "memory")
	v.SetDefault("search.seed_file", "")

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 4)

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
}

// NewDefaultConfig returns a configuration populated only with defaults
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Load reads configuration from path (optional), the environment and defaults.
// An empty path looks for digitwin.yaml in the working directory and tolerates its absence.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("digitwin")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	return NewConfigFromViper(v)
}

// NewConfigFromViper unmarshals and validates a configuration from v
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Sensitive values are read from the environment only.
	_ = v.BindEnv("server.jwt_secret", EnvPrefix+"_JWT_SECRET")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Planner.APIKey == "" {
		cfg.Planner.APIKey = plannerKeyFromEnv(cfg.Planner.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// OpenAIKey returns the OpenAI key used for embeddings
func OpenAIKey() string {
	return firstEnv(EnvPrefix+"_OPENAI_KEY", "OPENAI_API_KEY")
}

// PlannerKey returns the environment credential for provider p
func PlannerKey(p PlannerProvider) string {
	return plannerKeyFromEnv(p)
}

func plannerKeyFromEnv(p PlannerProvider) string {
	switch p {
	case ProviderClaude:
		return firstEnv(EnvPrefix+"_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		return OpenAIKey()
	case ProviderRemote:
		return os.Getenv(EnvPrefix + "_PLANNER_TOKEN")
	}
	return ""
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.StepDelay < 0 || c.Agent.SettleInterval < 0 || c.Agent.SettleMaxWait < 0 {
		return fmt.Errorf("agent delays must not be negative")
	}
	if c.Agent.PlannerRetries < 0 {
		return fmt.Errorf("agent.planner_retries must not be negative")
	}

	switch c.Planner.Provider {
	case ProviderClaude, ProviderOpenAI:
	case ProviderRemote:
		if c.Planner.Endpoint == "" {
			return fmt.Errorf("planner.endpoint is required for the remote planner")
		}
	default:
		return fmt.Errorf("unknown planner.provider %q (supported: claude, openai, remote)", c.Planner.Provider)
	}

	if c.Search.DefaultTopK <= 0 {
		return fmt.Errorf("search.default_top_k must be a positive integer")
	}
	switch c.Search.Store {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres search store")
		}
	default:
		return fmt.Errorf("unknown search.store %q (supported: memory, postgres)", c.Search.Store)
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	return nil
}
