/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package config loads the settings of the callctl tool and of a fully wired
// gatewaycall.Client from a YAML file and GATEWAYCALL_ environment variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"

	"github.com/tejzpr/gateway-calling-go/callrecord"
	"github.com/tejzpr/gateway-calling-go/callsdk"
	"github.com/tejzpr/gateway-calling-go/janus"
	"github.com/tejzpr/gateway-calling-go/lifecycle"
	"github.com/tejzpr/gateway-calling-go/media"
)

// EnvPrefix prefixes every environment override, e.g. GATEWAYCALL_GATEWAY_URL.
const EnvPrefix = "GATEWAYCALL"

// Config is the top-level configuration.
type Config struct {
	Gateway   GatewayConfig     `mapstructure:"gateway" yaml:"gateway"`
	API       APIConfig         `mapstructure:"api" yaml:"api"`
	Log       callsdk.LogConfig `mapstructure:"log" yaml:"log"`
	Lifecycle LifecycleConfig   `mapstructure:"lifecycle" yaml:"lifecycle"`
	Media     MediaConfig       `mapstructure:"media" yaml:"media"`
	Store     StoreConfig       `mapstructure:"store" yaml:"store"`
	Metrics   MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// GatewayConfig describes the Janus WebSocket endpoint.
type GatewayConfig struct {
	URL               string        `mapstructure:"url" yaml:"url"`
	Secret            string        `mapstructure:"secret" yaml:"secret"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	// SignRequests adds the signed user token to every gateway request.
	SignRequests bool `mapstructure:"sign_requests" yaml:"sign_requests"`
}

// APIConfig describes the calling backend and the local user.
type APIConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	UserID      string `mapstructure:"user_id" yaml:"user_id"`
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`

	// Token is a pre-issued bearer. SigningKey, when set, is used instead to
	// sign short-lived tokens for UserID.
	Token       string        `mapstructure:"token" yaml:"token"`
	SigningKey  string        `mapstructure:"signing_key" yaml:"signing_key"`
	TokenIssuer string        `mapstructure:"token_issuer" yaml:"token_issuer"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`

	ProfileCacheTTL time.Duration `mapstructure:"profile_cache_ttl" yaml:"profile_cache_ttl"`
}

// LifecycleConfig tunes the call controller.
type LifecycleConfig struct {
	StaleThreshold  time.Duration `mapstructure:"stale_threshold" yaml:"stale_threshold"`
	RingTimeout     time.Duration `mapstructure:"ring_timeout" yaml:"ring_timeout"`
	MediaGrace      time.Duration `mapstructure:"media_grace" yaml:"media_grace"`
	LookupTimeout   time.Duration `mapstructure:"lookup_timeout" yaml:"lookup_timeout"`
	TeardownTimeout time.Duration `mapstructure:"teardown_timeout" yaml:"teardown_timeout"`
	DurationTick    time.Duration `mapstructure:"duration_tick" yaml:"duration_tick"`
}

// ICEServer is one STUN or TURN server.
type ICEServer struct {
	URLs       []string `mapstructure:"urls" yaml:"urls"`
	Username   string   `mapstructure:"username" yaml:"username,omitempty"`
	Credential string   `mapstructure:"credential" yaml:"credential,omitempty"`
}

// MediaConfig configures the WebRTC engine.
type MediaConfig struct {
	ICEServers []ICEServer `mapstructure:"ice_servers" yaml:"ice_servers"`
	TrickleICE bool        `mapstructure:"trickle_ice" yaml:"trickle_ice"`
}

// StoreConfig selects the call record channel.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // memory or sqlite
	Path   string `mapstructure:"path" yaml:"path"`
	// PollInterval is how often sqlite watchers look for writes made by
	// other processes sharing the file; zero disables polling.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// RetentionSchedule is a cron spec; empty disables pruning.
	RetentionSchedule string        `mapstructure:"retention_schedule" yaml:"retention_schedule"`
	RetentionMaxAge   time.Duration `mapstructure:"retention_max_age" yaml:"retention_max_age"`
}

// MetricsConfig controls the Prometheus endpoint of `callctl listen`.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Load reads the file at path, applies environment overrides and defaults,
// and validates the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration Load produces with no file and no
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults registers every key so that environment overrides apply even
// when the file omits them.
func setDefaults(v *viper.Viper) {
	janusDefaults := janus.DefaultConfig()
	v.SetDefault("gateway.url", "ws://localhost:8188")
	v.SetDefault("gateway.secret", "")
	v.SetDefault("gateway.request_timeout", janusDefaults.RequestTimeout)
	v.SetDefault("gateway.keepalive_interval", janusDefaults.KeepaliveInterval)
	v.SetDefault("gateway.handshake_timeout", janusDefaults.Transport.HandshakeTimeout)
	v.SetDefault("gateway.ping_interval", janusDefaults.Transport.PingInterval)
	v.SetDefault("gateway.sign_requests", false)

	apiDefaults := callsdk.DefaultConfig()
	v.SetDefault("api.base_url", apiDefaults.BaseURL)
	v.SetDefault("api.timeout", apiDefaults.Timeout)
	v.SetDefault("api.max_retries", apiDefaults.MaxRetries)
	v.SetDefault("api.retry_base_delay", apiDefaults.RetryBaseDelay)
	v.SetDefault("api.requests_per_second", 0)
	v.SetDefault("api.user_id", "")
	v.SetDefault("api.display_name", "")
	v.SetDefault("api.token", "")
	v.SetDefault("api.signing_key", "")
	v.SetDefault("api.token_issuer", "gateway-calling")
	v.SetDefault("api.token_ttl", time.Hour)
	v.SetDefault("api.profile_cache_ttl", 10*time.Minute)

	logDefaults := callsdk.DefaultLogConfig()
	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.format", logDefaults.Format)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logDefaults.MaxSizeMB)
	v.SetDefault("log.max_backups", logDefaults.MaxBackups)
	v.SetDefault("log.max_age_days", logDefaults.MaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.quiet", false)

	lc := lifecycle.DefaultConfig()
	v.SetDefault("lifecycle.stale_threshold", lc.StaleThreshold)
	v.SetDefault("lifecycle.ring_timeout", lc.RingTimeout)
	v.SetDefault("lifecycle.media_grace", lc.MediaGrace)
	v.SetDefault("lifecycle.lookup_timeout", lc.LookupTimeout)
	v.SetDefault("lifecycle.teardown_timeout", lc.TeardownTimeout)
	v.SetDefault("lifecycle.duration_tick", lc.DurationTick)

	v.SetDefault("media.ice_servers", []map[string]interface{}{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("media.trickle_ice", true)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "calls.db")
	v.SetDefault("store.poll_interval", callrecord.DefaultPollInterval)
	v.SetDefault("store.retention_schedule", "@hourly")
	v.SetDefault("store.retention_max_age", 30*24*time.Hour)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9091")
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", c.Log.Format)
	}

	u, err := url.Parse(c.Gateway.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("gateway.url must be a ws:// or wss:// URL, got %q", c.Gateway.URL)
	}
	if c.Gateway.SignRequests && c.API.SigningKey == "" && c.API.Token == "" {
		return fmt.Errorf("gateway.sign_requests needs api.token or api.signing_key")
	}

	u, err = url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.SigningKey != "" {
		if len(c.API.SigningKey) < 32 {
			return fmt.Errorf("api.signing_key must be at least 32 bytes")
		}
		if c.API.UserID == "" {
			return fmt.Errorf("api.signing_key requires api.user_id")
		}
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must not be negative")
	}

	for name, d := range map[string]time.Duration{
		"lifecycle.stale_threshold":  c.Lifecycle.StaleThreshold,
		"lifecycle.ring_timeout":     c.Lifecycle.RingTimeout,
		"lifecycle.media_grace":      c.Lifecycle.MediaGrace,
		"lifecycle.lookup_timeout":   c.Lifecycle.LookupTimeout,
		"lifecycle.teardown_timeout": c.Lifecycle.TeardownTimeout,
		"lifecycle.duration_tick":    c.Lifecycle.DurationTick,
		"gateway.request_timeout":    c.Gateway.RequestTimeout,
		"gateway.keepalive_interval": c.Gateway.KeepaliveInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	for i, s := range c.Media.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("media.ice_servers[%d] has no urls", i)
		}
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required when store.driver=sqlite")
		}
	default:
		return fmt.Errorf("unsupported store.driver: %s (must be memory/sqlite)", c.Store.Driver)
	}
	if c.Store.PollInterval < 0 {
		return fmt.Errorf("store.poll_interval must not be negative")
	}
	if c.Store.RetentionSchedule != "" && c.Store.RetentionMaxAge <= 0 {
		return fmt.Errorf("store.retention_max_age must be positive when a retention schedule is set")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Gateway.Secret = mask(c.Gateway.Secret)
	out.API.Token = mask(c.API.Token)
	out.API.SigningKey = mask(c.API.SigningKey)
	out.Media.ICEServers = make([]ICEServer, len(c.Media.ICEServers))
	for i, s := range c.Media.ICEServers {
		s.Credential = mask(s.Credential)
		out.Media.ICEServers[i] = s
	}
	return &out
}

// CoreConfig returns the REST client configuration.
func (c *Config) CoreConfig() *callsdk.Config {
	cfg := callsdk.DefaultConfig()
	cfg.BaseURL = c.API.BaseURL
	cfg.Timeout = c.API.Timeout
	cfg.MaxRetries = c.API.MaxRetries
	cfg.RetryBaseDelay = c.API.RetryBaseDelay
	cfg.RequestsPerSecond = c.API.RequestsPerSecond
	return cfg
}

// JanusConfig returns the signaling client configuration.
func (c *Config) JanusConfig() *janus.Config {
	cfg := janus.DefaultConfig()
	cfg.RequestTimeout = c.Gateway.RequestTimeout
	cfg.KeepaliveInterval = c.Gateway.KeepaliveInterval
	if c.Gateway.HandshakeTimeout > 0 {
		cfg.Transport.HandshakeTimeout = c.Gateway.HandshakeTimeout
	}
	if c.Gateway.PingInterval > 0 {
		cfg.Transport.PingInterval = c.Gateway.PingInterval
	}
	return cfg
}

// MediaEngineConfig returns the WebRTC engine configuration.
func (c *Config) MediaEngineConfig() *media.Config {
	cfg := media.DefaultConfig()
	cfg.TrickleICE = c.Media.TrickleICE
	cfg.ICEServers = make([]webrtc.ICEServer, 0, len(c.Media.ICEServers))
	for _, s := range c.Media.ICEServers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return cfg
}

// LifecycleControllerConfig returns the call controller configuration.
func (c *Config) LifecycleControllerConfig() *lifecycle.Config {
	cfg := lifecycle.DefaultConfig()
	cfg.UserID = c.API.UserID
	cfg.DisplayName = c.API.DisplayName
	cfg.GatewayURL = c.Gateway.URL
	cfg.GatewaySecret = c.Gateway.Secret
	cfg.StaleThreshold = c.Lifecycle.StaleThreshold
	cfg.RingTimeout = c.Lifecycle.RingTimeout
	cfg.MediaGrace = c.Lifecycle.MediaGrace
	cfg.LookupTimeout = c.Lifecycle.LookupTimeout
	cfg.TeardownTimeout = c.Lifecycle.TeardownTimeout
	cfg.DurationTick = c.Lifecycle.DurationTick
	return cfg
}
