package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sqldesk/sqldesk/pkg/models"
)

// Config holds all sqldesk configuration.
type Config struct {
	Listen      string            `yaml:"listen"`
	Environment string            `yaml:"environment"`
	Debug       bool              `yaml:"debug"`
	DBPath      string            `yaml:"db_path"`
	AllowSee    bool              `yaml:"allow_llm_to_see_data"`
	Cache       CacheConfig       `yaml:"cache"`
	Auth        AuthConfig        `yaml:"auth"`
	History     HistoryConfig     `yaml:"history"`
	DataSource  DataSourceConfig  `yaml:"data_source"`
	LLM         LLMConfig         `yaml:"llm"`
	PromptCache PromptCacheConfig `yaml:"prompt_cache"`
	Budget      BudgetConfig      `yaml:"budget"`
	UI          models.UIConfig   `yaml:"ui"`
	CORS        CORSConfig        `yaml:"cors"`
}

// CacheConfig controls the conversation cache.
// Backend is "memory" (default) or "redis".
type CacheConfig struct {
	Backend  string        `yaml:"backend"`
	Capacity int           `yaml:"capacity"`
	IdleTTL  time.Duration `yaml:"idle_ttl"`
	Redis    RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the redis cache backend.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
}

// AuthConfig selects and configures the auth strategy.
// Strategy is "none", "cookie" or "session".
type AuthConfig struct {
	Strategy     string        `yaml:"strategy"`
	Secret       string        `yaml:"secret"`
	Users        []UserConfig  `yaml:"users"`
	RedirectURL  string        `yaml:"redirect_url"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

// UserConfig is one login. Password may be plain text or a bcrypt hash.
type UserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HistoryConfig controls question history persistence.
// Driver is "sqlite" (default, uses db_path when DSN is empty) or "postgres".
type HistoryConfig struct {
	Driver        string        `yaml:"driver"`
	DSN           string        `yaml:"dsn"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// DataSourceConfig is the database questions are asked about.
type DataSourceConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LLMConfig configures the chat completion providers, tried in order.
type LLMConfig struct {
	Providers       []ProviderConfig `yaml:"providers"`
	Model           string           `yaml:"model"`
	Temperature     float64          `yaml:"temperature"`
	Timeout         time.Duration    `yaml:"timeout"`
	MaxContextItems int              `yaml:"max_context_items"`
	Dialect         string           `yaml:"dialect"`
}

// ProviderConfig defines an OpenAI-compatible upstream.
// Model overrides LLMConfig.Model for this provider when set.
type ProviderConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// PromptCacheConfig controls the LLM reply cache. TTL applies to every
// operation not listed in Operations; a zero duration disables caching for
// that operation.
type PromptCacheConfig struct {
	Enabled    bool                     `yaml:"enabled"`
	TTL        time.Duration            `yaml:"ttl"`
	Operations map[string]time.Duration `yaml:"operations"`
}

// BudgetConfig controls per-user token budgets.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// CORSConfig lists allowed browser origins. Credentials are always allowed
// for listed origins so the auth cookie travels.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// Overrides are read from SQLDESK_* environment variables after the file is parsed.
type Overrides struct {
	Listen      string `envconfig:"LISTEN"`
	Environment string `envconfig:"ENVIRONMENT"`
	DBPath      string `envconfig:"DB_PATH"`
	AuthSecret  string `envconfig:"AUTH_SECRET"`
	LLMAPIKey   string `envconfig:"LLM_API_KEY"`
	RedisURL    string `envconfig:"REDIS_URL"`
	DataDSN     string `envconfig:"DATA_SOURCE_DSN"`
	HistoryDSN  string `envconfig:"HISTORY_DSN"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:      ":8084",
		Environment: "development",
		DBPath:      "sqldesk.db",
		AllowSee:    true,
		Cache: CacheConfig{
			Backend:  "memory",
			Capacity: 10000,
			IdleTTL:  24 * time.Hour,
			Redis: RedisConfig{
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
				DialTimeout:  5 * time.Second,
			},
		},
		Auth: AuthConfig{
			Strategy:   "none",
			SessionTTL: 7 * 24 * time.Hour,
		},
		History: HistoryConfig{
			Driver:        "sqlite",
			RetryAttempts: 3,
			RetryBackoff:  200 * time.Millisecond,
		},
		DataSource: DataSourceConfig{
			Driver: "sqlite",
		},
		LLM: LLMConfig{
			Model:           "gpt-4o-mini",
			Temperature:     0.2,
			Timeout:         60 * time.Second,
			MaxContextItems: 10,
		},
		PromptCache: PromptCacheConfig{
			Enabled: true,
			TTL:     time.Hour,
			Operations: map[string]time.Duration{
				"generate_sql":    24 * time.Hour,
				"create_function": 0,
			},
		},
		UI: models.UIConfig{
			Title:              "Welcome to sqldesk",
			Subtitle:           "Your AI-powered copilot for SQL queries.",
			ShowTrainingData:   true,
			SuggestedQuestions: true,
			SQL:                true,
			Table:              true,
			CSVDownload:        true,
			Chart:              true,
			AutoFixSQL:         true,
			AskResultsCorrect:  true,
			FollowupQuestions:  true,
			Summarization:      true,
		},
	}
}

// Load reads a YAML config file, expands environment variables and applies
// SQLDESK_* overrides. A .env file next to the process is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.applyOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyOverrides() error {
	var o Overrides
	if err := envconfig.Process("sqldesk", &o); err != nil {
		return fmt.Errorf("process env overrides: %w", err)
	}
	if o.Listen != "" {
		c.Listen = o.Listen
	}
	if o.Environment != "" {
		c.Environment = o.Environment
	}
	if o.DBPath != "" {
		c.DBPath = o.DBPath
	}
	if o.AuthSecret != "" {
		c.Auth.Secret = o.AuthSecret
	}
	if o.LLMAPIKey != "" {
		for i := range c.LLM.Providers {
			if c.LLM.Providers[i].APIKey == "" {
				c.LLM.Providers[i].APIKey = o.LLMAPIKey
			}
		}
	}
	if o.RedisURL != "" {
		c.Cache.Redis.URL = o.RedisURL
	}
	if o.DataDSN != "" {
		c.DataSource.DSN = o.DataDSN
	}
	if o.HistoryDSN != "" {
		c.History.DSN = o.HistoryDSN
	}
	return nil
}

// Validate rejects unknown backends and incomplete auth settings.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.URL == "" {
			return fmt.Errorf("cache.redis.url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	switch c.Auth.Strategy {
	case "none":
	case "cookie":
		if c.Auth.Secret == "" {
			return fmt.Errorf("auth.secret is required for the cookie strategy")
		}
		fallthrough
	case "session":
		if len(c.Auth.Users) == 0 {
			return fmt.Errorf("auth.users must not be empty for the %s strategy", c.Auth.Strategy)
		}
	default:
		return fmt.Errorf("unknown auth strategy %q", c.Auth.Strategy)
	}

	for _, d := range []string{c.History.Driver, c.DataSource.Driver} {
		if d != "sqlite" && d != "postgres" {
			return fmt.Errorf("unknown database driver %q", d)
		}
	}
	if c.History.Driver == "postgres" && c.History.DSN == "" {
		return fmt.Errorf("history.dsn is required for the postgres driver")
	}
	return nil
}

// HistoryDSN returns the DSN of the history database.
func (c *Config) HistoryDSN() string {
	if c.History.DSN != "" {
		return c.History.DSN
	}
	return c.DBPath
}
