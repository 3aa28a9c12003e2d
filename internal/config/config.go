package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultJWTExpiresIn   = "24h"
	DefaultPGHost         = "127.0.0.1"
	DefaultPGPort         = 5432
	DefaultPGUser         = "postgres"
	DefaultPGDatabase     = "moodlens"
	DefaultPGSSLMode      = "disable"
	DefaultAnalyzerModel  = "gpt-4o-mini"
	DefaultFetchBaseDelay = 300 * time.Millisecond
	DefaultFetchAttempts  = 5
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Analyzer AnalyzerConfig `toml:"analyzer"`
	Panel    PanelConfig    `toml:"panel"`
	History  HistoryConfig  `toml:"history"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// AnalyzerConfig configures the sentiment analysis backend.
type AnalyzerConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (c AnalyzerConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PanelConfig holds default trigger settings used when a session has no
// stored panel configuration.
type PanelConfig struct {
	CalculateEveryMessage  bool `toml:"calculate_every_message"`
	CalculateOnSessionEnd  bool `toml:"calculate_on_session_end"`
	ShowCalculateButton    bool `toml:"show_calculate_button"`
	SubscribeRetrySeconds  int  `toml:"subscribe_retry_seconds"`
	SubscribeRetryAttempts int  `toml:"subscribe_retry_attempts"`
}

func (c PanelConfig) SubscribeRetryInterval() time.Duration {
	if c.SubscribeRetrySeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.SubscribeRetrySeconds) * time.Second
}

// HistoryConfig tunes the full-history fetch retry schedule.
type HistoryConfig struct {
	BaseDelayMillis int `toml:"base_delay_millis"`
	MaxAttempts     int `toml:"max_attempts"`
}

func (c HistoryConfig) BaseDelay() time.Duration {
	if c.BaseDelayMillis <= 0 {
		return DefaultFetchBaseDelay
	}
	return time.Duration(c.BaseDelayMillis) * time.Millisecond
}

func (c HistoryConfig) Attempts() int {
	if c.MaxAttempts <= 0 {
		return DefaultFetchAttempts
	}
	return c.MaxAttempts
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Analyzer: AnalyzerConfig{
			Model: DefaultAnalyzerModel,
		},
		Panel: PanelConfig{
			CalculateOnSessionEnd:  true,
			ShowCalculateButton:    true,
			SubscribeRetryAttempts: 10,
		},
		History: HistoryConfig{
			BaseDelayMillis: int(DefaultFetchBaseDelay / time.Millisecond),
			MaxAttempts:     DefaultFetchAttempts,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
