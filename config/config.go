// Package config loads server settings from the environment. Every knob has
// a default suitable for local development, so a bare start always works.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything tunable about the server.
type Config struct {
	Addr string

	// Session timing
	QueueWait      time.Duration // how long a player waits before a bot steps in
	ReconnectGrace time.Duration // how long a disconnected player may come back
	Inactivity     time.Duration // no valid action in a live game for this long ends it
	ChatTTL        time.Duration // how long after game over the room chat stays open
	MatchTick      time.Duration // matchmaker sweep interval
	BotThinkMin    time.Duration // lower bound of the bot's artificial think delay
	BotThinkMax    time.Duration // upper bound of the bot's artificial think delay

	// Stores. Empty URLs select the in-process fallbacks.
	RedisURL         string
	RedisPrefix      string
	RedisRequired    bool
	PostgresURL      string
	PostgresRequired bool
	StorePing        time.Duration

	LogLevel string
}

// Load reads configuration from BATTLESHIP_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("battleship")
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("queue_wait_ms", 60000)
	v.SetDefault("reconnect_grace_ms", 30000)
	v.SetDefault("inactivity_ms", 120000)
	v.SetDefault("chat_ttl_ms", 60000)
	v.SetDefault("match_tick_ms", 250)
	v.SetDefault("bot_think_min_ms", 250)
	v.SetDefault("bot_think_max_ms", 500)
	v.SetDefault("redis_url", "")
	v.SetDefault("redis_prefix", "battleship")
	v.SetDefault("redis_required", false)
	v.SetDefault("postgres_url", "")
	v.SetDefault("postgres_required", false)
	v.SetDefault("store_ping_ms", 800)
	v.SetDefault("log_level", "info")

	cfg := &Config{
		Addr:             v.GetString("addr"),
		QueueWait:        time.Duration(v.GetInt("queue_wait_ms")) * time.Millisecond,
		ReconnectGrace:   time.Duration(v.GetInt("reconnect_grace_ms")) * time.Millisecond,
		Inactivity:       time.Duration(v.GetInt("inactivity_ms")) * time.Millisecond,
		ChatTTL:          time.Duration(v.GetInt("chat_ttl_ms")) * time.Millisecond,
		MatchTick:        time.Duration(v.GetInt("match_tick_ms")) * time.Millisecond,
		BotThinkMin:      time.Duration(v.GetInt("bot_think_min_ms")) * time.Millisecond,
		BotThinkMax:      time.Duration(v.GetInt("bot_think_max_ms")) * time.Millisecond,
		RedisURL:         v.GetString("redis_url"),
		RedisPrefix:      v.GetString("redis_prefix"),
		RedisRequired:    v.GetBool("redis_required"),
		PostgresURL:      v.GetString("postgres_url"),
		PostgresRequired: v.GetBool("postgres_required"),
		StorePing:        time.Duration(v.GetInt("store_ping_ms")) * time.Millisecond,
		LogLevel:         v.GetString("log_level"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"queue_wait_ms":      c.QueueWait,
		"reconnect_grace_ms": c.ReconnectGrace,
		"inactivity_ms":      c.Inactivity,
		"chat_ttl_ms":        c.ChatTTL,
		"match_tick_ms":      c.MatchTick,
		"bot_think_min_ms":   c.BotThinkMin,
		"store_ping_ms":      c.StorePing,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.BotThinkMax < c.BotThinkMin {
		return fmt.Errorf("bot_think_max_ms (%v) must be at least bot_think_min_ms (%v)", c.BotThinkMax, c.BotThinkMin)
	}
	if c.RedisRequired && c.RedisURL == "" {
		return fmt.Errorf("redis_required is set but redis_url is empty")
	}
	if c.PostgresRequired && c.PostgresURL == "" {
		return fmt.Errorf("postgres_required is set but postgres_url is empty")
	}
	return nil
}
