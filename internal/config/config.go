package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingAPIURL is returned when no agent endpoint is configured.
var ErrMissingAPIURL = errors.New("session.api_url is required")

// Config holds the application configuration
type Config struct {
	Session  SessionConfig `mapstructure:"session"`
	LLM      LLMConfig     `mapstructure:"llm"`
	Server   ServerConfig  `mapstructure:"server"`
	History  HistoryConfig `mapstructure:"history"`
	LogLevel string        `mapstructure:"log_level"`
}

// SessionConfig describes the agent endpoint a session talks to.
type SessionConfig struct {
	APIURL             string        `mapstructure:"api_url"`
	APIKey             string        `mapstructure:"api_key"`
	AssistantID        string        `mapstructure:"assistant_id"`
	StreamURL          string        `mapstructure:"stream_url"`
	ThreadRefreshDelay time.Duration `mapstructure:"thread_refresh_delay"`
	ProbeTimeout       time.Duration `mapstructure:"probe_timeout"`
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	Provider     string `mapstructure:"provider"`
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// HistoryConfig points at the thread history database.
type HistoryConfig struct {
	DBPath string `mapstructure:"db_path"`
}

const envPrefix = "JARVIS"

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.api_url", "")
	v.SetDefault("session.api_key", "")
	v.SetDefault("session.assistant_id", "agent")
	v.SetDefault("session.stream_url", "")
	v.SetDefault("session.thread_refresh_delay", 500*time.Millisecond)
	v.SetDefault("session.probe_timeout", 5*time.Second)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("history.db_path", "history.db")
	v.SetDefault("log_level", "info")
}

// Load loads the configuration from config.yaml (or the file named by
// CONFIG_PATH), then applies JARVIS_* environment overrides. A .env file in
// the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &config, nil
}

// Validate checks the settings a session cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Session.APIURL) == "" {
		return ErrMissingAPIURL
	}
	if c.Session.ThreadRefreshDelay < 0 {
		return fmt.Errorf("session.thread_refresh_delay must not be negative, got %s", c.Session.ThreadRefreshDelay)
	}
	return nil
}
