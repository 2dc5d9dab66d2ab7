// Package config loads bot settings from a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DiscordToken string `mapstructure:"discord_bot_token"`
	// DiscordGuildID limits slash command registration to one guild; empty registers globally.
	DiscordGuildID string `mapstructure:"discord_guild_id"`
	BotOwnerID     string `mapstructure:"bot_owner_id"`
	HTTPAddr       string `mapstructure:"http_addr"`

	DatabaseType string `mapstructure:"database_type"`
	DatabaseURL  string `mapstructure:"database_url"`

	StatusRefreshInterval time.Duration `mapstructure:"status_refresh_interval"`
	PresenceInterval      time.Duration `mapstructure:"presence_interval"`
	PresenceStatuses      string        `mapstructure:"presence_statuses"`

	VerificationTimeout time.Duration `mapstructure:"verification_timeout"`
	VerifiedRoleID      string        `mapstructure:"verified_role_id"`

	TicketCategoryID string   `mapstructure:"ticket_category_id"`
	StaffRoleIDs     []string `mapstructure:"staff_role_ids"`

	TransportRateLimit float64 `mapstructure:"transport_rate_limit"`
	TransportRateBurst int     `mapstructure:"transport_rate_burst"`
	DispatchWorkers    int     `mapstructure:"dispatch_workers"`

	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	HealthFlushInterval time.Duration `mapstructure:"health_flush_interval"`
}

var defaults = map[string]any{
	"discord_bot_token":       "",
	"discord_guild_id":        "",
	"bot_owner_id":            "",
	"http_addr":               ":5000",
	"database_type":           "sqlite",
	"database_url":            ":memory:",
	"status_refresh_interval": 30 * time.Second,
	"presence_interval":       5 * time.Minute,
	"presence_statuses":       "",
	"verification_timeout":    60 * time.Second,
	"verified_role_id":        "",
	"ticket_category_id":      "",
	"staff_role_ids":          []string{},
	"transport_rate_limit":    5.0,
	"transport_rate_burst":    10,
	"dispatch_workers":        8,
	"heartbeat_interval":      2 * time.Minute,
	"health_flush_interval":   30 * time.Second,
}

// Load reads envFile if it exists, then the process environment. Values
// already set in the environment take precedence over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
			}
			log.Printf("No %s file found, using environment variables only", envFile)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_BOT_TOKEN is required")
	}
	if c.DispatchWorkers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive, got %d", c.DispatchWorkers)
	}
	if c.TransportRateLimit <= 0 || c.TransportRateBurst <= 0 {
		return errors.New("TRANSPORT_RATE_LIMIT and TRANSPORT_RATE_BURST must be positive")
	}
	for name, d := range map[string]time.Duration{
		"STATUS_REFRESH_INTERVAL": c.StatusRefreshInterval,
		"PRESENCE_INTERVAL":       c.PresenceInterval,
		"VERIFICATION_TIMEOUT":    c.VerificationTimeout,
		"HEARTBEAT_INTERVAL":      c.HeartbeatInterval,
		"HEALTH_FLUSH_INTERVAL":   c.HealthFlushInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}
