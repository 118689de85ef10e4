// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ProxyMode controls which connections are routed through the proxy.
type ProxyMode int

// Proxy routing modes.
const (
	ProxyOff ProxyMode = iota
	// ProxyFeedsOnly routes only feed fetches through the proxy; every other
	// connection type goes direct regardless of per-type flags.
	ProxyFeedsOnly
	// ProxyPerConn consults the per-connection-type flags.
	ProxyPerConn
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/feedhub.db"`
	LogLevel     string `env:"LOG_LEVEL"     envDefault:"info"`

	PollInterval  time.Duration `env:"POLL_INTERVAL"  envDefault:"300s"`
	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT"  envDefault:"10s"`
	MaxConcurrent int           `env:"MAX_CONCURRENT" envDefault:"10"`

	// Registry snapshots older than this are reloaded at the top of a cycle.
	RegistryMaxAge time.Duration `env:"REGISTRY_MAX_AGE" envDefault:"5m"`

	EnableProxy    bool     `env:"ENABLE_PROXY"     envDefault:"false"`
	FeedsOnlyProxy bool     `env:"FEEDS_ONLY_PROXY" envDefault:"false"`
	ProxyType      string   `env:"PROXY_TYPE"       envDefault:"socks5"`
	ProxyHost      string   `env:"PROXY_HOST"`
	ProxyPort      int      `env:"PROXY_PORT"       envDefault:"1080"`
	ProxyUsername  string   `env:"PROXY_USERNAME"`
	ProxyPassword  string   `env:"PROXY_PASSWORD"`
	ProxyIRC       bool     `env:"PROXY_IRC"        envDefault:"false"`
	ProxyHTTP      bool     `env:"PROXY_HTTP"       envDefault:"true"`
	ProxyMatrix    bool     `env:"PROXY_MATRIX"     envDefault:"false"`
	ProxyDiscord   bool     `env:"PROXY_DISCORD"    envDefault:"false"`
	ProxyWhitelist []string `env:"PROXY_WHITELIST"  envSeparator:","`

	// LinkCachePath is the snapshot file for the legacy posted-links cache.
	LinkCachePath string `env:"LINK_CACHE_PATH" envDefault:"./data/posted_links.json"`

	// LegacyKeyMap maps plain destination keys to composite ones, applied once
	// at startup. Format: "#chan=net1|#chan;#other=net2|#other".
	LegacyKeyMap string `env:"LEGACY_KEY_MAP"`

	// AdminDestKey receives the daily broken/stale feed report. Empty disables it.
	AdminDestKey string `env:"ADMIN_DEST_KEY"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MaxConcurrent < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT must be at least 1, got %d", cfg.MaxConcurrent)
	}
	if _, err := cfg.ParseLegacyKeyMap(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Mode resolves the effective proxy routing mode.
func (c *Config) Mode() ProxyMode {
	switch {
	case !c.EnableProxy:
		return ProxyOff
	case c.FeedsOnlyProxy:
		return ProxyFeedsOnly
	default:
		return ProxyPerConn
	}
}

// ParseLegacyKeyMap parses LegacyKeyMap into an old-key to new-key mapping.
func (c *Config) ParseLegacyKeyMap() (map[string]string, error) {
	mapping := make(map[string]string)
	if c.LegacyKeyMap == "" {
		return mapping, nil
	}
	for _, pair := range strings.Split(c.LegacyKeyMap, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		old, composite, ok := strings.Cut(pair, "=")
		if !ok || old == "" || composite == "" {
			return nil, fmt.Errorf("invalid LEGACY_KEY_MAP entry %q", pair)
		}
		mapping[strings.TrimSpace(old)] = strings.TrimSpace(composite)
	}
	return mapping, nil
}
