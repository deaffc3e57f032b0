// Package config loads process-level configuration: the pieces spec.md §1
// explicitly treats as an external collaborator (HTTP parsing, config
// loading) but that a runnable cmd/pricingcached still needs to assemble.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every knob enumerated in the design's configuration table,
// plus the server's own listen address, the upstream rate limit and the L1
// memo settings.
type Config struct {
	ListenAddr string

	APIToken  string
	RedisURL  string
	RateAPIURL string

	FreshTTL        time.Duration
	StaleTTL        time.Duration
	FollowerTimeout time.Duration
	MaxFollowerRetries int
	FollowerBackoffBase time.Duration

	LockTTL          time.Duration
	LockExtendEvery  time.Duration

	UpstreamTimeout time.Duration

	BreakerThreshold int
	BreakerTimeout   time.Duration

	UpstreamRPS   float64
	UpstreamBurst int

	L1Enabled  bool
	L1MaxEntries int
}

// Load reads configuration from environment variables (and, if present, a
// config file named "pricingcached" on the usual viper search path),
// applying the defaults from the design's configuration table.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("pricingcached")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/pricingcached")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("fresh_ttl", 300*time.Second)
	v.SetDefault("stale_ttl", 900*time.Second)
	v.SetDefault("follower_timeout", 15*time.Second)
	v.SetDefault("max_follower_retries", 2)
	v.SetDefault("follower_backoff_base", 500*time.Millisecond)
	v.SetDefault("lock_ttl", 60*time.Second)
	v.SetDefault("lock_extend_every", 2*time.Second)
	v.SetDefault("upstream_timeout", 30*time.Second)
	v.SetDefault("breaker_threshold", 5)
	v.SetDefault("breaker_timeout", 60*time.Second)
	v.SetDefault("upstream_rps", 0.0)
	v.SetDefault("upstream_burst", 1)
	v.SetDefault("l1_enabled", true)
	v.SetDefault("l1_max_entries", 10000)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := &Config{
		ListenAddr:          v.GetString("listen_addr"),
		APIToken:            v.GetString("api_token"),
		RedisURL:            v.GetString("redis_url"),
		RateAPIURL:          v.GetString("rate_api_url"),
		FreshTTL:            v.GetDuration("fresh_ttl"),
		StaleTTL:            v.GetDuration("stale_ttl"),
		FollowerTimeout:     v.GetDuration("follower_timeout"),
		MaxFollowerRetries:  v.GetInt("max_follower_retries"),
		FollowerBackoffBase: v.GetDuration("follower_backoff_base"),
		LockTTL:             v.GetDuration("lock_ttl"),
		LockExtendEvery:     v.GetDuration("lock_extend_every"),
		UpstreamTimeout:     v.GetDuration("upstream_timeout"),
		BreakerThreshold:    v.GetInt("breaker_threshold"),
		BreakerTimeout:      v.GetDuration("breaker_timeout"),
		UpstreamRPS:         v.GetFloat64("upstream_rps"),
		UpstreamBurst:       v.GetInt("upstream_burst"),
		L1Enabled:           v.GetBool("l1_enabled"),
		L1MaxEntries:        v.GetInt("l1_max_entries"),
	}

	if cfg.APIToken == "" {
		return nil, fmt.Errorf("config: API_TOKEN is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("config: REDIS_URL is required")
	}
	if cfg.RateAPIURL == "" {
		return nil, fmt.Errorf("config: RATE_API_URL is required")
	}

	return cfg, nil
}
