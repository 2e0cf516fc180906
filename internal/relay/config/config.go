package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the relay's runtime configuration.
type Config struct {
	Addr          string // Listen address (e.g. ":4810")
	DataDir       string // Data directory for the SQLite DB
	APIKey        string // Admin API key
	SigningKey    string // Venue token signing secret (>= 32 bytes)
	TelegramToken string // Default bot credential (empty disables the bot)
	AdminChatID   int64  // Telegram chat copied on escalations
}

// DefineFlags registers command-line flags for relay configuration.
// Call flag.Parse() separately after defining all flags.
func DefineFlags(fs *flag.FlagSet) *Config {
	c := &Config{}
	fs.StringVar(&c.Addr, "addr", ":4810", "listen address")
	fs.StringVar(&c.DataDir, "data-dir", defaultDataDir(), "data directory")
	fs.StringVar(&c.APIKey, "api-key", os.Getenv("STEEPLECAST_API_KEY"), "admin API key")
	fs.StringVar(&c.SigningKey, "signing-key", os.Getenv("STEEPLECAST_SIGNING_KEY"), "venue token signing secret")
	fs.StringVar(&c.TelegramToken, "telegram-token", os.Getenv("STEEPLECAST_TELEGRAM_TOKEN"), "Telegram bot token")
	fs.Int64Var(&c.AdminChatID, "admin-chat", 0, "Telegram admin chat id")
	return c
}

// Validate checks the configuration values and ensures required
// directories exist.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api key is required (flag -api-key or STEEPLECAST_API_KEY)")
	}
	if len(c.SigningKey) < 32 {
		return fmt.Errorf("signing key must be at least 32 bytes")
	}

	if err := os.MkdirAll(c.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "steeplecast", "relay")
	}
	return filepath.Join(home, ".config", "steeplecast", "relay")
}

// DBPath returns the path to the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "relay.db")
}
