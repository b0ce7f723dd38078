package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.Address != "" {
		t.Errorf("Device.Address = %q, want empty", cfg.Device.Address)
	}
	if cfg.Device.ConnectTimeout != 10*time.Second {
		t.Errorf("Device.ConnectTimeout = %v, want 10s", cfg.Device.ConnectTimeout)
	}
	if cfg.Device.AutoReconnect {
		t.Error("Device.AutoReconnect = true, want false")
	}
	if cfg.Device.ReconnectMax != 30 {
		t.Errorf("Device.ReconnectMax = %d, want 30", cfg.Device.ReconnectMax)
	}
	if cfg.Link.FrameSize != 20 {
		t.Errorf("Link.FrameSize = %d, want 20", cfg.Link.FrameSize)
	}
	if cfg.Link.SendTimeout != time.Second || cfg.Link.RecvTimeout != time.Second {
		t.Errorf("Link timeouts = %v/%v, want 1s/1s", cfg.Link.SendTimeout, cfg.Link.RecvTimeout)
	}
	if cfg.Link.QueueSize != 64 {
		t.Errorf("Link.QueueSize = %d, want 64", cfg.Link.QueueSize)
	}
	if cfg.Link.RxBuffer != 1024 {
		t.Errorf("Link.RxBuffer = %d, want 1024", cfg.Link.RxBuffer)
	}
	if cfg.Relay.ListenAddr != "" {
		t.Errorf("Relay.ListenAddr = %q, want empty", cfg.Relay.ListenAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
device:
  address: " AA:BB:CC:DD:EE:FF "
  connect_timeout: 5s
  auto_reconnect: true
  reconnect_max: 15
link:
  frame_size: 64
  send_timeout: 500ms
  recv_timeout: 2s
  queue_size: 8
  rx_buffer: 256
relay:
  listen_addr: 127.0.0.1:8686
log_level: debug
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Device.Address = %q, want %q", cfg.Device.Address, "AA:BB:CC:DD:EE:FF")
	}
	if cfg.Device.ConnectTimeout != 5*time.Second {
		t.Errorf("Device.ConnectTimeout = %v, want 5s", cfg.Device.ConnectTimeout)
	}
	if !cfg.Device.AutoReconnect {
		t.Error("Device.AutoReconnect = false, want true")
	}
	if cfg.Device.ReconnectMax != 15 {
		t.Errorf("Device.ReconnectMax = %d, want 15", cfg.Device.ReconnectMax)
	}
	if cfg.Link.FrameSize != 64 {
		t.Errorf("Link.FrameSize = %d, want 64", cfg.Link.FrameSize)
	}
	if cfg.Link.SendTimeout != 500*time.Millisecond {
		t.Errorf("Link.SendTimeout = %v, want 500ms", cfg.Link.SendTimeout)
	}
	if cfg.Link.RecvTimeout != 2*time.Second {
		t.Errorf("Link.RecvTimeout = %v, want 2s", cfg.Link.RecvTimeout)
	}
	if cfg.Link.QueueSize != 8 || cfg.Link.RxBuffer != 256 {
		t.Errorf("Link queue/rx = %d/%d, want 8/256", cfg.Link.QueueSize, cfg.Link.RxBuffer)
	}
	if cfg.Relay.ListenAddr != "127.0.0.1:8686" {
		t.Errorf("Relay.ListenAddr = %q", cfg.Relay.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	cfgPath := writeConfig(t, `
device:
  address: AA:BB:CC:DD:EE:FF
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Link.FrameSize != 20 {
		t.Errorf("Link.FrameSize = %d, want default 20", cfg.Link.FrameSize)
	}
	if cfg.Device.ConnectTimeout != 10*time.Second {
		t.Errorf("Device.ConnectTimeout = %v, want default 10s", cfg.Device.ConnectTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", cfg.LogLevel)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "link:\n  send_timeout: [1, 2]\n")
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for malformed config")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero connect timeout",
			modify:  func(c *Config) { c.Device.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero reconnect max",
			modify:  func(c *Config) { c.Device.ReconnectMax = 0 },
			wantErr: true,
		},
		{
			name:    "zero frame size",
			modify:  func(c *Config) { c.Link.FrameSize = 0 },
			wantErr: true,
		},
		{
			name:    "oversized frame",
			modify:  func(c *Config) { c.Link.FrameSize = 513 },
			wantErr: true,
		},
		{
			name:    "negative send timeout",
			modify:  func(c *Config) { c.Link.SendTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero recv timeout",
			modify:  func(c *Config) { c.Link.RecvTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero queue size",
			modify:  func(c *Config) { c.Link.QueueSize = 0 },
			wantErr: true,
		},
		{
			name:    "tiny rx buffer",
			modify:  func(c *Config) { c.Link.RxBuffer = 16 },
			wantErr: true,
		},
		{
			name:    "relay address without port",
			modify:  func(c *Config) { c.Relay.ListenAddr = "localhost" },
			wantErr: true,
		},
		{
			name:    "relay address",
			modify:  func(c *Config) { c.Relay.ListenAddr = ":8686" },
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientOptions(t *testing.T) {
	cfg := Default()
	cfg.Device.AutoReconnect = true
	cfg.Link.FrameSize = 40
	cfg.Link.RecvTimeout = 3 * time.Second

	opts := cfg.ClientOptions()
	if opts.FrameSize != 40 {
		t.Errorf("FrameSize = %d, want 40", opts.FrameSize)
	}
	if opts.RecvTimeout != 3*time.Second {
		t.Errorf("RecvTimeout = %v, want 3s", opts.RecvTimeout)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.ConnectTimeout != cfg.Device.ConnectTimeout || opts.ReconnectMax != cfg.Device.ReconnectMax {
		t.Errorf("device options not carried over: %+v", opts)
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "smartlamp", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# smartlamp") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Link.SendTimeout != time.Second {
		t.Errorf("written config Link.SendTimeout = %v, want 1s", cfg.Link.SendTimeout)
	}
	if cfg.Link.FrameSize != 20 {
		t.Errorf("written config Link.FrameSize = %d, want 20", cfg.Link.FrameSize)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "smartlamp")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("device:\n  address: AA:BB:CC:DD:EE:FF\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
