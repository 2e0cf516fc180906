// Package config loads the agent's layered configuration: the JSON
// file at ~/.church-av/config.json, STEEPLECAST_* environment
// overrides, and command-line flags, merged in that order.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// RouterConfig is one video router connection.
type RouterConfig struct {
	Host string `koanf:"host" json:"host"`
	Port int    `koanf:"port" json:"port"`
	Name string `koanf:"name" json:"name,omitempty"`
}

// MixerConfig selects the audio mixer family and address.
type MixerConfig struct {
	Type string `koanf:"type" json:"type"` // behringer | allenheath | yamaha
	Host string `koanf:"host" json:"host"`
	Port int    `koanf:"port" json:"port,omitempty"`
}

// Config is the agent's full configuration.
type Config struct {
	Token            string `koanf:"token" json:"token"`
	Relay            string `koanf:"relay" json:"relay"`
	Name             string `koanf:"name" json:"name"`
	SwitcherIP       string `koanf:"switcherIp" json:"switcherIp,omitempty"`
	StreamerURL      string `koanf:"streamerUrl" json:"streamerUrl,omitempty"`
	StreamerPassword string `koanf:"streamerPassword" json:"streamerPassword,omitempty"`
	MacrohostURL     string `koanf:"macrohostUrl" json:"macrohostUrl,omitempty"`
	SlidesHost       string `koanf:"slidesHost" json:"slidesHost,omitempty"`
	SlidesPort       int    `koanf:"slidesPort" json:"slidesPort,omitempty"`
	VisualServerHost string `koanf:"visualServerHost" json:"visualServerHost,omitempty"`
	VisualServerPort int    `koanf:"visualServerPort" json:"visualServerPort,omitempty"`

	VideoRouters []RouterConfig `koanf:"videoRouters" json:"videoRouters,omitempty"`
	Mixer        *MixerConfig   `koanf:"mixer" json:"mixer,omitempty"`

	Watchdog bool `koanf:"watchdog" json:"watchdog"`

	PreviewSource     string `koanf:"previewSource" json:"previewSource,omitempty"`
	PreviewIntervalMS int    `koanf:"previewIntervalMs" json:"previewIntervalMs,omitempty"`

	// Optional platform probes for the stream-health monitor.
	YouTubeAPIKey     string `koanf:"youtubeApiKey" json:"youtubeApiKey,omitempty"`
	FacebookPageToken string `koanf:"facebookPageToken" json:"facebookPageToken,omitempty"`
}

// sensitiveKeys are stored as enc: envelopes on save and unsealed on
// load.
var sensitiveKeys = []string{"token", "streamerPassword", "youtubeApiKey", "facebookPageToken"}

// DefaultPath returns the canonical config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".church-av", "config.json")
	}
	return filepath.Join(home, ".church-av", "config.json")
}

// Load reads the config file (if present), applies STEEPLECAST_*
// environment variables and then the non-empty overrides, and
// unseals sensitive values.
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = DefaultPath()
	}
	if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// STEEPLECAST_SWITCHER_IP -> switcherIp style mapping.
	if err := k.Load(env.Provider("STEEPLECAST_", ".", func(key string) string {
		key = strings.TrimPrefix(key, "STEEPLECAST_")
		parts := strings.Split(strings.ToLower(key), "_")
		for i := 1; i < len(parts); i++ {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
		return strings.Join(parts, "")
	}), nil); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.unsealSecrets(); err != nil {
		return nil, err
	}
	if cfg.PreviewIntervalMS == 0 {
		cfg.PreviewIntervalMS = 5000
	}
	// The watchdog is on unless something explicitly turned it off.
	if !k.Exists("watchdog") {
		cfg.Watchdog = true
	}
	return &cfg, nil
}

func (c *Config) unsealSecrets() error {
	var err error
	if c.Token, err = Unseal(c.Token); err != nil {
		return fmt.Errorf("unseal token: %w", err)
	}
	if c.StreamerPassword, err = Unseal(c.StreamerPassword); err != nil {
		return fmt.Errorf("unseal streamer password: %w", err)
	}
	if c.YouTubeAPIKey, err = Unseal(c.YouTubeAPIKey); err != nil {
		return fmt.Errorf("unseal youtube key: %w", err)
	}
	if c.FacebookPageToken, err = Unseal(c.FacebookPageToken); err != nil {
		return fmt.Errorf("unseal facebook token: %w", err)
	}
	return nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("token is required (run `steeplecast agent setup` first)")
	}
	if c.Relay == "" {
		return fmt.Errorf("relay URL is required")
	}
	return nil
}

// Save writes the config to path, sealing sensitive values first.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	sealed := *c
	var err error
	if sealed.Token != "" && !IsSealed(sealed.Token) {
		if sealed.Token, err = Seal(sealed.Token); err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
	}
	if sealed.StreamerPassword != "" && !IsSealed(sealed.StreamerPassword) {
		if sealed.StreamerPassword, err = Seal(sealed.StreamerPassword); err != nil {
			return fmt.Errorf("seal streamer password: %w", err)
		}
	}
	if sealed.YouTubeAPIKey != "" && !IsSealed(sealed.YouTubeAPIKey) {
		if sealed.YouTubeAPIKey, err = Seal(sealed.YouTubeAPIKey); err != nil {
			return fmt.Errorf("seal youtube key: %w", err)
		}
	}
	if sealed.FacebookPageToken != "" && !IsSealed(sealed.FacebookPageToken) {
		if sealed.FacebookPageToken, err = Seal(sealed.FacebookPageToken); err != nil {
			return fmt.Errorf("seal facebook token: %w", err)
		}
	}

	data, err := json.MarshalIndent(sealed, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
