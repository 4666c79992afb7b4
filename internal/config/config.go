package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"go.uber.org/zap/zapcore"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Analysis AnalysisConfig `json:"analysis"`
	Database DatabaseConfig `json:"database"`
	Notify   NotifyConfig   `json:"notify"`
	DocIndex DocIndexConfig `json:"doc_index"`
	Uploads  UploadsConfig  `json:"uploads"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// ZapLevel parses the configured log level, falling back to info when the
// value is unknown.
func (c ServerConfig) ZapLevel() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// AnalysisConfig selects and tunes the analysis backend. Mode "gemini" runs
// against the Gemini API; "heuristic" runs the offline analyzers and needs
// no credentials.
type AnalysisConfig struct {
	Mode           string `json:"mode"`
	Endpoint       string `json:"endpoint"`
	APIKey         string `json:"api_key"`
	Model          string `json:"model"`
	TaskTimeoutSec int    `json:"task_timeout_sec"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

type NotifyConfig struct {
	Slack   SlackNotifyConfig   `json:"slack"`
	Discord DiscordNotifyConfig `json:"discord"`
}

type SlackNotifyConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordNotifyConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

// DocIndexConfig wires the vector-backed documentation search. Disabled by
// default; the offline doc retriever serves searches instead.
type DocIndexConfig struct {
	Enabled    bool            `json:"enabled"`
	Collection string          `json:"collection"`
	Embedding  EmbeddingConfig `json:"embedding"`
}

type EmbeddingConfig struct {
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type UploadsConfig struct {
	Dir       string `json:"dir"`
	MaxSizeMB int    `json:"max_size_mb"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Analysis.Mode == "" {
		c.Analysis.Mode = "heuristic"
	}
	if c.Analysis.TaskTimeoutSec == 0 {
		c.Analysis.TaskTimeoutSec = 30
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "uploads"
	}
	if c.Uploads.MaxSizeMB == 0 {
		c.Uploads.MaxSizeMB = 10
	}
}
