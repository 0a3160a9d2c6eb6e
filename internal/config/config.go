package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the control-plane configuration, read from config.yaml and
// KUBENTLY_* environment variables.
//
// APIKeysPath names the YAML key table; empty disables API keys. JWTSecret
// enables HS256 dev-mode bearers and is ignored when OIDCIssuerURL is set,
// which switches bearer verification to OIDC discovery with JWKS.
// ExecutorTokens maps cluster_id to that cluster's static executor bearer
// token. RateLimitPerMin of 0 disables the per-IP dispatch limit. The OAuth*
// endpoints only feed the discovery document; the control plane never mints
// tokens. A2ADefaultCluster is assumed when a question names no cluster.
type Config struct {
	Port               int               `mapstructure:"port"`
	RedisURL           string            `mapstructure:"redis_url"`
	LogLevel           string            `mapstructure:"log_level"`
	AllowedOrigins     []string          `mapstructure:"allowed_origins"`
	APIKeysPath        string            `mapstructure:"api_keys_path"`
	JWTSecret          string            `mapstructure:"jwt_secret"`
	OIDCIssuerURL      string            `mapstructure:"oidc_issuer_url"`
	OIDCAudience       string            `mapstructure:"oidc_audience"`
	ExecutorTokens     map[string]string `mapstructure:"executor_tokens"`
	SessionTTLSec      int               `mapstructure:"session_ttl_sec"`
	DispatchTimeoutSec int               `mapstructure:"dispatch_timeout_sec"`
	StreamTimeoutSec   int               `mapstructure:"stream_timeout_sec"`
	QueueMaxDepth      int               `mapstructure:"queue_max_depth"`
	InflightWindow     int               `mapstructure:"inflight_window"`
	KeepaliveSec       int               `mapstructure:"keepalive_sec"`
	ShutdownTimeoutSec int               `mapstructure:"shutdown_timeout_sec"`
	RateLimitPerMin    int               `mapstructure:"rate_limit_per_min"`
	OAuthDeviceURL     string            `mapstructure:"oauth_device_url"`
	OAuthTokenURL      string            `mapstructure:"oauth_token_url"`
	OAuthClientID      string            `mapstructure:"oauth_client_id"`
	A2ADefaultCluster  string            `mapstructure:"a2a_default_cluster"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/kubently/")
	viper.AddConfigPath("$HOME/.kubently")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 8080)
	viper.SetDefault("redis_url", "redis://localhost:6379/0")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("api_keys_path", "")
	viper.SetDefault("session_ttl_sec", 300)
	viper.SetDefault("dispatch_timeout_sec", 30)
	viper.SetDefault("stream_timeout_sec", 300)
	viper.SetDefault("queue_max_depth", 1024)
	viper.SetDefault("inflight_window", 8)
	viper.SetDefault("keepalive_sec", 15)
	viper.SetDefault("shutdown_timeout_sec", 15)
	viper.SetDefault("rate_limit_per_min", 0)

	// Environment variables (KUBENTLY_REDIS_URL, KUBENTLY_OIDC_ISSUER_URL, ...)
	viper.SetEnvPrefix("KUBENTLY")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// SessionTTL returns the configured session TTL as a duration.
func (c *Config) SessionTTL() time.Duration {
	if c.SessionTTLSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.SessionTTLSec) * time.Second
}

// DispatchTimeout returns the default execute deadline.
func (c *Config) DispatchTimeout() time.Duration {
	if c.DispatchTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.DispatchTimeoutSec) * time.Second
}

// StreamTimeout returns the streaming session deadline.
func (c *Config) StreamTimeout() time.Duration {
	if c.StreamTimeoutSec <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.StreamTimeoutSec) * time.Second
}

// Keepalive returns the executor stream keepalive period.
func (c *Config) Keepalive() time.Duration {
	if c.KeepaliveSec <= 0 || c.KeepaliveSec > 30 {
		return 15 * time.Second
	}
	return time.Duration(c.KeepaliveSec) * time.Second
}
