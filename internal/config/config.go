package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DiscordToken        string `toml:"discord_token" env:"DISCORD_TOKEN"`
	SpotifyClientID     string `toml:"spotify_client_id" env:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret string `toml:"spotify_client_secret" env:"SPOTIFY_CLIENT_SECRET"`
	DataDir             string `toml:"data_dir" env:"DATA_DIR"`
	BotActivity         string `toml:"bot_activity" env:"BOT_ACTIVITY"`
	LogLevel            string `toml:"log_level" env:"LOG_LEVEL"`
	LivenessAddr        string `toml:"liveness_addr" env:"LIVENESS_ADDR"`

	// RegisterCommandsOnBot registers slash commands globally instead of per guild.
	RegisterCommandsOnBot bool `toml:"register_commands_on_bot" env:"REGISTER_COMMANDS_ON_BOT"`

	// yt-dlp
	CookiesPath       string        `toml:"cookies_path" env:"COOKIES_PATH"`
	SourceAddress     string        `toml:"source_address" env:"SOURCE_ADDRESS"`
	CheckCertificates bool          `toml:"check_certificates" env:"CHECK_CERTIFICATES"`
	ResolveTimeout    time.Duration `toml:"resolve_timeout" env:"RESOLVE_TIMEOUT"`
	ResolveRate       float64       `toml:"resolve_rate" env:"RESOLVE_RATE"`
	ResolveCacheTTL   time.Duration `toml:"resolve_cache_ttl" env:"RESOLVE_CACHE_TTL"`

	IdleTimeout time.Duration `toml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }

func Default() *Config {
	return &Config{
		DataDir:         "./data",
		BotActivity:     "music",
		LogLevel:        "info",
		LivenessAddr:    ":8080",
		SourceAddress:   "0.0.0.0",
		ResolveTimeout:  30 * time.Second,
		ResolveRate:     2,
		ResolveCacheTTL: 10 * time.Minute,
		IdleTimeout:     5 * time.Minute,
	}
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// LoadConfig builds the config from defaults, then the optional TOML file at
// path, then environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DiscordToken) == "" {
		return ErrConfig("DISCORD_TOKEN required")
	}
	if c.ResolveRate <= 0 {
		return ErrConfig("RESOLVE_RATE must be positive")
	}
	if c.IdleTimeout <= 0 {
		return ErrConfig("IDLE_TIMEOUT must be positive")
	}
	return nil
}

// CookieFile returns the configured cookie file if it exists on disk.
func (c *Config) CookieFile() string {
	if c.CookiesPath == "" {
		return ""
	}
	info, err := os.Stat(c.CookiesPath)
	if err != nil || info.IsDir() {
		return ""
	}
	return c.CookiesPath
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "kumaplay.db")
}

func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}
