package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for afkd.
type Config struct {
	ChatBotToken string
	ChatID       int64

	HookSocketPath    string
	ControlSocketPath string
	ResponseDir       string

	MultiplexerBin      string
	DeviceInjectScript  string
	MaxConsecutivePolls int
	PollBackoffCap      time.Duration

	PermCacheDBPath string
}

// Load reads configuration from viper, which merges flag values, env vars
// (AFKD_ prefixed, see cmd/afkd), and defaults.
func Load() Config {
	return Config{
		ChatBotToken: viper.GetString("chat_bot_token"),
		ChatID:       viper.GetInt64("chat_id"),

		HookSocketPath:    viper.GetString("hook_socket_path"),
		ControlSocketPath: viper.GetString("control_socket_path"),
		ResponseDir:       viper.GetString("response_dir"),

		MultiplexerBin:      viper.GetString("multiplexer_bin"),
		DeviceInjectScript:  viper.GetString("device_inject_script"),
		MaxConsecutivePolls: viper.GetInt("max_consecutive_poll_errors"),
		PollBackoffCap:      viper.GetDuration("poll_backoff_cap"),

		PermCacheDBPath: viper.GetString("permcache_db_path"),
	}
}
