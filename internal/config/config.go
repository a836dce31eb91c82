package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CONFEED_HTTP_PORT.
const EnvPrefix = "CONFEED"

// Config is the full service configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Auth      AuthConfig      `mapstructure:"auth"`
	AI        AIConfig        `mapstructure:"ai"`
	LogLevel  string          `mapstructure:"log_level"`
}

type DatabaseConfig struct {
	Path           string        `mapstructure:"path"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigin   string        `mapstructure:"cors_origin"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BufferSize   int           `mapstructure:"buffer_size"`
}

type ChatConfig struct {
	TypingTimeout      time.Duration `mapstructure:"typing_timeout"`
	MaxMessageLength   int           `mapstructure:"max_message_length"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	ContextWindow      int           `mapstructure:"context_window"`
	HistoryLimit       int           `mapstructure:"history_limit"`
}

type AuthConfig struct {
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type AIConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Provider         string        `mapstructure:"provider"`
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	Model            string        `mapstructure:"model"`
	Temperature      float64       `mapstructure:"temperature"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ReuseCooldown    time.Duration `mapstructure:"reuse_cooldown"`
	IdleEviction     time.Duration `mapstructure:"idle_eviction"`
	SweepSchedule    string        `mapstructure:"sweep_schedule"`
	ResponseCooldown time.Duration `mapstructure:"response_cooldown"`
	TypingDelayMin   time.Duration `mapstructure:"typing_delay_min"`
	TypingDelayMax   time.Duration `mapstructure:"typing_delay_max"`
	MaxContextTokens int           `mapstructure:"max_context_tokens"`
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// DefaultConfig returns the defaults every layer starts from.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:           "./data/confeed.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			CORSOrigin:   "*",
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			BufferSize:   100,
		},
		Chat: ChatConfig{
			TypingTimeout:      3 * time.Second,
			MaxMessageLength:   2000,
			RateLimitPerMinute: 100,
			ContextWindow:      20,
			HistoryLimit:       100,
		},
		Auth: AuthConfig{
			TokenTTL: 720 * time.Hour,
		},
		AI: AIConfig{
			Enabled:          true,
			Provider:         ProviderGemini,
			Model:            "gemini-2.5-flash",
			Temperature:      0.9,
			MaxTokens:        256,
			RequestTimeout:   30 * time.Second,
			ReuseCooldown:    10 * time.Second,
			IdleEviction:     30 * time.Minute,
			SweepSchedule:    "@every 5m",
			ResponseCooldown: 15 * time.Second,
			TypingDelayMin:   2 * time.Second,
			TypingDelayMax:   4 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load layers defaults, the optional file at path and CONFEED_* environment
// variables, then validates the result. With an empty path a confeed.* file
// in the working directory is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range flatten(DefaultConfig(), false) {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("confeed")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyKeyFallback()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyKeyFallback() {
	if c.AI.APIKey != "" {
		return
	}
	switch c.AI.Provider {
	case ProviderGemini:
		c.AI.APIKey = os.Getenv("GEMINI_API_KEY")
	case ProviderOpenAI:
		c.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}

	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}

	if c.Chat.TypingTimeout <= 0 {
		return errors.New("chat typing timeout must be positive")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return errors.New("chat max message length must be positive")
	}
	if c.Chat.RateLimitPerMinute < 0 {
		return errors.New("chat rate limit cannot be negative")
	}
	if c.Chat.ContextWindow <= 0 {
		return errors.New("chat context window must be positive")
	}
	if c.Chat.HistoryLimit <= 0 || c.Chat.HistoryLimit > 100 {
		return errors.New("chat history limit must be between 1 and 100")
	}

	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	if !c.AI.Enabled {
		return nil
	}
	switch c.AI.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown AI provider %q", c.AI.Provider)
	}
	if c.AI.Model == "" {
		return errors.New("AI model cannot be empty")
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return errors.New("AI temperature must be between 0 and 2")
	}
	if c.AI.RequestTimeout <= 0 {
		return errors.New("AI request timeout must be positive")
	}
	if c.AI.TypingDelayMin < 0 || c.AI.TypingDelayMax < c.AI.TypingDelayMin {
		return errors.New("AI typing delay range is invalid")
	}
	if c.AI.ReuseCooldown < 0 || c.AI.ResponseCooldown < 0 || c.AI.IdleEviction <= 0 {
		return errors.New("AI cooldowns must not be negative and idle eviction must be positive")
	}
	if c.AI.SweepSchedule == "" {
		return errors.New("AI sweep schedule cannot be empty")
	}
	if c.AI.MaxContextTokens < 0 {
		return errors.New("AI max context tokens cannot be negative")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// TOML renders the effective configuration with durations as strings and
// secrets masked.
func (c *Config) TOML() ([]byte, error) {
	return toml.Marshal(unflatten(maskSecrets(flatten(c, true))))
}
