package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"loopz/internal/logging"
)

const FileName = "loopz.yml"

// Config models loopz.yml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "pgx".
	Driver string `yaml:"driver"`
	// DSN is required for pgx; sqlite uses Path when DSN is empty.
	DSN  string `yaml:"dsn"`
	Path string `yaml:"path"`
}

type LLMConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxInputTokens int           `yaml:"max_input_tokens"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a config usable for local development.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: "127.0.0.1:8080", BasePath: "/api"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "loopz.db"},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o",
			Timeout:        60 * time.Second,
			MaxInputTokens: 4000,
		},
		Auth: AuthConfig{SessionTTL: 7 * 24 * time.Hour, BcryptCost: 10},
		Log:  LogConfig{Level: "info", Format: "json"},
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses raw YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.DSN == "" && c.Database.Path == "" {
			return fmt.Errorf("config.database.path or dsn is required for sqlite")
		}
	case "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("config.database.dsn is required for pgx")
		}
	default:
		return fmt.Errorf("config.database.driver must be 'sqlite' or 'pgx'")
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("config.llm.timeout must not be negative")
	}
	if c.LLM.MaxInputTokens < 0 {
		return fmt.Errorf("config.llm.max_input_tokens must not be negative")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("config.auth.session_ttl must be positive")
	}
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31) {
		return fmt.Errorf("config.auth.bcrypt_cost must be between 4 and 31")
	}
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if f := c.Log.Format; f != "" && f != "json" && f != "text" {
		return fmt.Errorf("config.log.format must be 'json' or 'text'")
	}
	return nil
}

// Write validates cfg and replaces path atomically.
func Write(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return atomic.WriteFile(path, &buf)
}
