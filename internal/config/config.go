package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gion86/SmartLamp/internal/ble"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig `yaml:"device"`
	Link     LinkConfig   `yaml:"link"`
	Relay    RelayConfig  `yaml:"relay"`
	LogLevel string       `yaml:"log_level"`
}

// DeviceConfig selects the lamp and how the connection to it is kept.
type DeviceConfig struct {
	Address        string        `yaml:"address"` // MAC on Linux/Windows, CoreBluetooth UUID on macOS
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	AutoReconnect  bool          `yaml:"auto_reconnect"`
	ReconnectMax   int           `yaml:"reconnect_max"` // seconds
}

// LinkConfig tunes the serial link to the HM-10 bridge.
type LinkConfig struct {
	FrameSize   int           `yaml:"frame_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	RecvTimeout time.Duration `yaml:"recv_timeout"`
	QueueSize   int           `yaml:"queue_size"`
	RxBuffer    int           `yaml:"rx_buffer"`
}

// RelayConfig holds the local event relay settings.
type RelayConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty disables the relay
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "smartlamp")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	opts := ble.DefaultClientOptions()
	return &Config{
		Device: DeviceConfig{
			ConnectTimeout: opts.ConnectTimeout,
			ReconnectMax:   opts.ReconnectMax,
		},
		Link: LinkConfig{
			FrameSize:   opts.FrameSize,
			SendTimeout: opts.SendTimeout,
			RecvTimeout: opts.RecvTimeout,
			QueueSize:   opts.QueueSize,
			RxBuffer:    opts.RxBuffer,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing config file: %w", err)
	}
	cfg.Device.Address = strings.TrimSpace(cfg.Device.Address)

	return cfg, nil
}

// Validate checks the config for invalid values. An empty device address
// is allowed; commands that need a lamp take it from the command line.
func (c *Config) Validate() error {
	if c.Device.ConnectTimeout <= 0 {
		return fmt.Errorf("device.connect_timeout must be > 0")
	}
	if c.Device.ReconnectMax <= 0 {
		return fmt.Errorf("device.reconnect_max must be > 0")
	}

	// The HM-10 default MTU leaves 20 bytes of payload per write.
	if c.Link.FrameSize <= 0 || c.Link.FrameSize > 512 {
		return fmt.Errorf("link.frame_size must be in [1, 512], got %d", c.Link.FrameSize)
	}
	if c.Link.SendTimeout <= 0 {
		return fmt.Errorf("link.send_timeout must be > 0")
	}
	if c.Link.RecvTimeout <= 0 {
		return fmt.Errorf("link.recv_timeout must be > 0")
	}
	if c.Link.QueueSize <= 0 {
		return fmt.Errorf("link.queue_size must be > 0")
	}
	if c.Link.RxBuffer < 64 {
		return fmt.Errorf("link.rx_buffer must be >= 64, got %d", c.Link.RxBuffer)
	}

	if c.Relay.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.Relay.ListenAddr); err != nil {
			return fmt.Errorf("relay.listen_addr %q: %w", c.Relay.ListenAddr, err)
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ClientOptions returns the BLE client options described by the config.
func (c *Config) ClientOptions() ble.ClientOptions {
	return ble.ClientOptions{
		FrameSize:      c.Link.FrameSize,
		SendTimeout:    c.Link.SendTimeout,
		RecvTimeout:    c.Link.RecvTimeout,
		QueueSize:      c.Link.QueueSize,
		RxBuffer:       c.Link.RxBuffer,
		ConnectTimeout: c.Device.ConnectTimeout,
		AutoReconnect:  c.Device.AutoReconnect,
		ReconnectMax:   c.Device.ReconnectMax,
	}
}

// ParseLogLevel maps a log_level value to a slog level. Unknown values
// yield info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# smartlamp configuration
#
# device.address is the lamp's MAC address (Linux, Windows) or the
# CoreBluetooth peripheral UUID (macOS). Run "smartlamp scan" to list
# nearby lamps. relay.listen_addr enables the local WebSocket relay,
# e.g. 127.0.0.1:8686.

`

// WriteDefault writes the default config to DefaultConfigPath and returns
// the path written. If a file already exists it is left untouched and
// WriteDefault returns ("", nil).
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("config: checking %s: %w", path, err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("config: encoding defaults: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("config: creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("config: writing %s: %w", path, err)
	}
	return path, nil
}
