package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Discord    DiscordConfig    `json:"discord"`
	Commands   CommandsConfig   `json:"commands"`
	Timeouts   TimeoutsConfig   `json:"timeouts"`
	Retry      RetryConfig      `json:"retry"`
	Classifier ClassifierConfig `json:"classifier"`
	Reconnect  ReconnectConfig  `json:"reconnect"`
	Progress   ProgressConfig   `json:"progress"`
	Logging    LoggingConfig    `json:"logging"`
	mu         sync.RWMutex
}

type DiscordConfig struct {
	Token         string `json:"token" env:"MJBRIDGE_DISCORD_TOKEN"`
	BotID         string `json:"bot_id" env:"MJBRIDGE_DISCORD_BOT_ID"`
	ApplicationID string `json:"application_id" env:"MJBRIDGE_DISCORD_APPLICATION_ID"`
	GuildID       string `json:"guild_id" env:"MJBRIDGE_DISCORD_GUILD_ID"`
	ChannelID     string `json:"channel_id" env:"MJBRIDGE_DISCORD_CHANNEL_ID"`
	APIBase       string `json:"api_base" env:"MJBRIDGE_DISCORD_API_BASE"`
	HTTPTimeout   int    `json:"http_timeout" env:"MJBRIDGE_DISCORD_HTTP_TIMEOUT"` // seconds
}

// SlashCommand pins the id/version pair the bot expects for a slash command.
type SlashCommand struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

type CommandsConfig struct {
	Imagine SlashCommand `json:"imagine"`
	Info    SlashCommand `json:"info"`
	Show    SlashCommand `json:"show"`
}

type TimeoutsConfig struct {
	DefaultSeconds   int `json:"default_seconds" env:"MJBRIDGE_TIMEOUTS_DEFAULT_SECONDS"`
	Upscale4xSeconds int `json:"upscale_4x_seconds" env:"MJBRIDGE_TIMEOUTS_UPSCALE_4X_SECONDS"`
	InfoSeconds      int `json:"info_seconds" env:"MJBRIDGE_TIMEOUTS_INFO_SECONDS"`
}

type RetryConfig struct {
	MaxAttempts int `json:"max_attempts" env:"MJBRIDGE_RETRY_MAX_ATTEMPTS"`
	Steps       int `json:"steps" env:"MJBRIDGE_RETRY_STEPS"`
	MinDelayMS  int `json:"min_delay_ms" env:"MJBRIDGE_RETRY_MIN_DELAY_MS"`
	MaxDelayMS  int `json:"max_delay_ms" env:"MJBRIDGE_RETRY_MAX_DELAY_MS"`
}

type ClassifierConfig struct {
	ErrorPhrases   []string `json:"error_phrases" env:"MJBRIDGE_CLASSIFIER_ERROR_PHRASES"`
	ErrorTolerance int      `json:"error_tolerance" env:"MJBRIDGE_CLASSIFIER_ERROR_TOLERANCE"`
	WaitingPhrase  string   `json:"waiting_phrase" env:"MJBRIDGE_CLASSIFIER_WAITING_PHRASE"`
	QueuedPhrase   string   `json:"queued_phrase" env:"MJBRIDGE_CLASSIFIER_QUEUED_PHRASE"`
}

type ReconnectConfig struct {
	InitialIntervalMS int `json:"initial_interval_ms" env:"MJBRIDGE_RECONNECT_INITIAL_INTERVAL_MS"`
	MaxIntervalMS     int `json:"max_interval_ms" env:"MJBRIDGE_RECONNECT_MAX_INTERVAL_MS"`
}

type ProgressConfig struct {
	IntervalMS int `json:"interval_ms" env:"MJBRIDGE_PROGRESS_INTERVAL_MS"`
}

type LoggingConfig struct {
	Level       string `json:"level" env:"MJBRIDGE_LOGGING_LEVEL"`
	FileEnabled bool   `json:"file_enabled" env:"MJBRIDGE_LOGGING_FILE_ENABLED"`
	FilePath    string `json:"file_path" env:"MJBRIDGE_LOGGING_FILE_PATH"`
	MaxSizeMB   int    `json:"max_size_mb" env:"MJBRIDGE_LOGGING_MAX_SIZE_MB"`
}

func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			Token:         "",
			BotID:         "936929561302675456",
			ApplicationID: "936929561302675456",
			GuildID:       "",
			ChannelID:     "",
			APIBase:       "https://discord.com/api/v9",
			HTTPTimeout:   30,
		},
		Commands: CommandsConfig{
			Imagine: SlashCommand{ID: "938956540159881230", Version: "1237876415471554623"},
			Info:    SlashCommand{ID: "972289487818334209", Version: "1237876415471554625"},
			Show:    SlashCommand{ID: "1169435442328911902", Version: "1237876415471554628"},
		},
		Timeouts: TimeoutsConfig{
			DefaultSeconds:   600,
			Upscale4xSeconds: 1200,
			InfoSeconds:      30,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Steps:       3,
			MinDelayMS:  1000,
			MaxDelayMS:  4000,
		},
		Classifier: ClassifierConfig{
			ErrorPhrases: []string{
				"Internal Error",
				"There was an error processing your request",
				"Failed to process your command",
				"We're currently experiencing a high load",
				"Your job queue is full",
			},
			ErrorTolerance: 3,
			WaitingPhrase:  "Waiting to start",
			QueuedPhrase:   "Queued",
		},
		Reconnect: ReconnectConfig{
			InitialIntervalMS: 1000,
			MaxIntervalMS:     60000,
		},
		Progress: ProgressConfig{
			IntervalMS: 1000,
		},
		Logging: LoggingConfig{
			Level:       "info",
			FileEnabled: false,
			FilePath:    "~/.mjbridge/mjbridge.log",
			MaxSizeMB:   50,
		},
	}
}

// LoadConfig reads path over the defaults, then applies MJBRIDGE_* env overrides.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	cfg.Discord.Token = resolveEnvRef(cfg.Discord.Token)

	return cfg, nil
}

// Validate reports the first setting that prevents the bridge from talking to the bot.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case strings.TrimSpace(c.Discord.Token) == "":
		return fmt.Errorf("discord.token is required")
	case c.Discord.ChannelID == "":
		return fmt.Errorf("discord.channel_id is required")
	case c.Discord.BotID == "" || c.Discord.ApplicationID == "":
		return fmt.Errorf("discord.bot_id and discord.application_id are required")
	case c.Commands.Imagine.ID == "":
		return fmt.Errorf("commands.imagine.id is required")
	case c.Retry.MinDelayMS > c.Retry.MaxDelayMS:
		return fmt.Errorf("retry.min_delay_ms (%d) exceeds retry.max_delay_ms (%d)", c.Retry.MinDelayMS, c.Retry.MaxDelayMS)
	}
	return nil
}

func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		key := strings.TrimSpace(s[2 : len(s)-1])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return v
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		if val, ok := os.LookupEnv(strings.TrimSpace(s[1:])); ok {
			return val
		}
	}
	return v
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(expandHome(path)), 0755); err != nil {
		return err
	}

	return os.WriteFile(expandHome(path), data, 0600)
}

func (c *Config) DefaultTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return seconds(c.Timeouts.DefaultSeconds, 600)
}

// Upscale4xTimeout never undercuts the default timeout.
func (c *Config) Upscale4xTimeout() time.Duration {
	c.mu.RLock()
	x4 := seconds(c.Timeouts.Upscale4xSeconds, 1200)
	c.mu.RUnlock()
	if def := c.DefaultTimeout(); def > x4 {
		return def
	}
	return x4
}

func (c *Config) InfoTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return seconds(c.Timeouts.InfoSeconds, 30)
}

func (c *Config) LogFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Logging.FilePath)
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
