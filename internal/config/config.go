// Package config loads the server configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/omochice/linechat/pkg/protocol"
)

// Config represents the structure of the server config file
type Config struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	// Address serves both raw TCP and WebSocket clients.
	Address string `toml:"address"`
	// MetricsAddress serves /metrics. Empty disables it.
	MetricsAddress string `toml:"metrics_address"`
}

type LimitsSection struct {
	MaxFrameBytes       int `toml:"max_frame_bytes"`
	MaxMessageChars     int `toml:"max_message_chars"`
	OutboundQueue       int `toml:"outbound_queue"`
	ReadTimeoutSeconds  int `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int `toml:"write_timeout_seconds"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Server: ServerSection{
			Address:        ":8000",
			MetricsAddress: "localhost:9100",
		},
		Limits: LimitsSection{
			MaxFrameBytes:       protocol.DefaultMaxFrameBytes,
			MaxMessageChars:     protocol.DefaultMaxMessageChars,
			OutboundQueue:       64,
			ReadTimeoutSeconds:  0, // no idle timeout
			WriteTimeoutSeconds: 10,
		},
	}
}

// Load loads configuration from a TOML file, creating a default one if it
// does not exist. Values missing from the file keep their defaults.
func Load(path string) (Config, error) {
	path, err := expandHome(path)
	if err != nil {
		return Config{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		// Not being able to write the file is not fatal, we still run on
		// defaults.
		_ = writeDefault(path, cfg)
		return cfg, nil
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg.sanitize(), nil
}

// Decode parses configuration from TOML text on top of the defaults.
func Decode(data string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg.sanitize(), nil
}

// sanitize replaces non-positive limits with defaults.
func (c Config) sanitize() Config {
	def := Default()
	if strings.TrimSpace(c.Server.Address) == "" {
		c.Server.Address = def.Server.Address
	}
	if c.Limits.MaxFrameBytes <= 0 {
		c.Limits.MaxFrameBytes = def.Limits.MaxFrameBytes
	}
	if c.Limits.MaxMessageChars <= 0 {
		c.Limits.MaxMessageChars = def.Limits.MaxMessageChars
	}
	if c.Limits.OutboundQueue <= 0 {
		c.Limits.OutboundQueue = def.Limits.OutboundQueue
	}
	if c.Limits.ReadTimeoutSeconds < 0 {
		c.Limits.ReadTimeoutSeconds = 0
	}
	if c.Limits.WriteTimeoutSeconds < 0 {
		c.Limits.WriteTimeoutSeconds = 0
	}
	return c
}

// ReadTimeout is the idle timeout for a single read, zero when disabled.
func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.Limits.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout bounds a single socket write, zero when disabled.
func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.Limits.WriteTimeoutSeconds) * time.Second
}

func writeDefault(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# linechat server configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
