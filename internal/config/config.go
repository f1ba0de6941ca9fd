// Package config loads the loom daemon configuration from TOML.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds loom configuration.
type Config struct {
	Canvas   CanvasConfig   `toml:"canvas"`
	Viewport ViewportConfig `toml:"viewport"`
	Events   EventsConfig   `toml:"events"`
	Limits   LimitsConfig   `toml:"limits"`
	Surface  SurfaceConfig  `toml:"surface"`
	Render   RenderConfig   `toml:"render"`
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Log      LogConfig      `toml:"log"`
	Outputs  []OutputConfig `toml:"outputs"`
}

// CanvasConfig sizes the canvas instance.
type CanvasConfig struct {
	ID             string  `toml:"id"`
	MaxNodes       int     `toml:"max_nodes"`
	MaxConnections int     `toml:"max_connections"`
	CoordLimit     float64 `toml:"coord_limit"`
}

// ViewportConfig bounds zoom and tunes pointer gestures.
type ViewportConfig struct {
	MinZoom         float64 `toml:"min_zoom"`
	MaxZoom         float64 `toml:"max_zoom"`
	InitialZoom     float64 `toml:"initial_zoom"`
	ZoomSensitivity float64 `toml:"zoom_sensitivity"`
	PanSensitivity  float64 `toml:"pan_sensitivity"`
}

type EventsConfig struct {
	QueueSize int `toml:"queue_size"`
}

// LimitsConfig holds per-client protocol limits.
type LimitsConfig struct {
	MaxClients                int `toml:"max_clients"`
	MaxNodesPerClient         int `toml:"max_nodes_per_client"`
	MaxConnectionsPerClient   int `toml:"max_connections_per_client"`
	MaxSubscriptionsPerClient int `toml:"max_subscriptions_per_client"`
}

type SurfaceConfig struct {
	MaxPerClient int `toml:"max_per_client"`
}

type RenderConfig struct {
	FPS int `toml:"fps"`
}

// ServerConfig controls the protocol transports.
type ServerConfig struct {
	Addr      string `toml:"addr"`
	AuthToken string `toml:"auth_token"`
	// MCP enables the AI command tools over stdio.
	MCP bool `toml:"mcp"`
	// MCPAddr serves the AI command tools over SSE when set.
	MCPAddr string `toml:"mcp_addr"`
	// IdleTimeout disconnects HTTP clients that stay silent that long with no
	// event stream open. Zero disables it.
	IdleTimeout Duration `toml:"idle_timeout"`
}

// StorageConfig selects the snapshot backend: "memory", "file" or "redis".
type StorageConfig struct {
	Backend          string   `toml:"backend"`
	Path             string   `toml:"path"`
	RedisAddr        string   `toml:"redis_addr"`
	RedisPrefix      string   `toml:"redis_prefix"`
	SnapshotInterval Duration `toml:"snapshot_interval"`
	LockTTL          Duration `toml:"lock_ttl"`
	// EncryptionKey is a base64 AES-256 key. When set, snapshots are sealed
	// at rest; FallbackKeys still open snapshots sealed with older keys.
	EncryptionKey string   `toml:"encryption_key,omitempty"`
	FallbackKeys  []string `toml:"fallback_keys,omitempty"`
}

// Keys decodes the encryption keys. It returns nil keys when encryption is off.
func (s StorageConfig) Keys() (active []byte, fallback [][]byte, err error) {
	if s.EncryptionKey == "" {
		return nil, nil, nil
	}
	decode := func(name, v string) ([]byte, error) {
		k, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%s is not base64: %w", name, err)
		}
		if len(k) != 32 {
			return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", name, len(k))
		}
		return k, nil
	}
	if active, err = decode("storage.encryption_key", s.EncryptionKey); err != nil {
		return nil, nil, err
	}
	for i, v := range s.FallbackKeys {
		k, err := decode(fmt.Sprintf("storage.fallback_keys[%d]", i), v)
		if err != nil {
			return nil, nil, err
		}
		fallback = append(fallback, k)
	}
	return active, fallback, nil
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// OutputConfig declares a display output created at startup.
type OutputConfig struct {
	Name   string  `toml:"name"`
	Width  float64 `toml:"width"`
	Height float64 `toml:"height"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Canvas: CanvasConfig{
			ID:             "default",
			MaxNodes:       10_000,
			MaxConnections: 100_000,
			CoordLimit:     1e6,
		},
		Viewport: ViewportConfig{
			MinZoom:         0.1,
			MaxZoom:         10,
			InitialZoom:     1,
			ZoomSensitivity: 0.1,
			PanSensitivity:  1,
		},
		Events: EventsConfig{QueueSize: 256},
		Limits: LimitsConfig{
			MaxClients:                256,
			MaxNodesPerClient:         1000,
			MaxConnectionsPerClient:   10_000,
			MaxSubscriptionsPerClient: 16,
		},
		Surface: SurfaceConfig{MaxPerClient: 100},
		Render:  RenderConfig{FPS: 60},
		Server:  ServerConfig{Addr: "127.0.0.1:7420", IdleTimeout: Duration{5 * time.Minute}},
		Storage: StorageConfig{
			Backend:          "file",
			Path:             filepath.Join(DataDir(), "snapshots"),
			RedisPrefix:      "loom:",
			SnapshotInterval: Duration{30 * time.Second},
			LockTTL:          Duration{10 * time.Second},
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Outputs: []OutputConfig{{Name: "default", Width: 1920, Height: 1080}},
	}
}

// ConfigDir returns the loom config directory path.
func ConfigDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "loom")
}

// DataDir returns the loom state directory path.
func DataDir() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "loom")
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and deployment-specific values from the
// environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LOOM_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("LOOM_REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
		c.Storage.Backend = "redis"
	}
	if v := os.Getenv("LOOM_SNAPSHOT_KEY"); v != "" {
		c.Storage.EncryptionKey = v
	}
	if v := os.Getenv("LOOM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.Canvas.MaxNodes <= 0:
		return errors.New("canvas.max_nodes must be positive")
	case c.Canvas.MaxConnections <= 0:
		return errors.New("canvas.max_connections must be positive")
	case c.Canvas.CoordLimit <= 0:
		return errors.New("canvas.coord_limit must be positive")
	case c.Viewport.MinZoom <= 0 || c.Viewport.MaxZoom < c.Viewport.MinZoom:
		return fmt.Errorf("viewport zoom range [%g, %g] is invalid", c.Viewport.MinZoom, c.Viewport.MaxZoom)
	case c.Events.QueueSize <= 0:
		return errors.New("events.queue_size must be positive")
	case c.Limits.MaxClients <= 0:
		return errors.New("limits.max_clients must be positive")
	case c.Render.FPS <= 0:
		return errors.New("render.fps must be positive")
	case c.Server.IdleTimeout.Duration < 0:
		return errors.New("server.idle_timeout must not be negative")
	}
	switch c.Storage.Backend {
	case "memory":
	case "file":
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the file backend")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if _, _, err := c.Storage.Keys(); err != nil {
		return err
	}
	for _, o := range c.Outputs {
		if o.Name == "" || o.Width <= 0 || o.Height <= 0 {
			return fmt.Errorf("output %q needs a name and a positive size", o.Name)
		}
	}
	return nil
}

// Save writes the config to path.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
