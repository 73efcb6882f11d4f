// Package config handles dashboard client configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (HEALTHDASH_*)
// 3. Config file (YAML)
// 4. Defaults
//
// # Example Config File
//
//	server:
//	  origin: https://dash.example.net
//	  api_port: 3001
//	  ws_port: 3002
//
//	connection:
//	  reconnect_interval: 3s
//	  max_reconnect_delay: 30s
//	  max_reconnect_attempts: 10
//	  heartbeat_interval: 30s
//
//	notifications:
//	  sound: true
//	  desktop: true
//	  redis_url: redis://localhost:6379/0
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete dashboard client configuration.
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Connection    ConnectionConfig   `yaml:"connection"`
	API           APIConfig          `yaml:"api"`
	Refresh       RefreshConfig      `yaml:"refresh"`
	Alerts        AlertsConfig       `yaml:"alerts"`
	Notifications NotificationConfig `yaml:"notifications"`
	Settings      SettingsConfig     `yaml:"settings"`
}

// ServerConfig locates the dashboard server. Origin plays the role a browser's
// page location plays for the web dashboard; the port overrides replace its port.
type ServerConfig struct {
	Origin  string `yaml:"origin"`             // e.g., http://localhost:3000
	APIPort int    `yaml:"api_port,omitempty"` // Overrides the origin port for REST
	WSPort  int    `yaml:"ws_port,omitempty"`  // Overrides the origin port for WebSocket
	APIPath string `yaml:"api_path"`           // REST base path, default /api
	WSPath  string `yaml:"ws_path"`            // WebSocket path, default /ws
	Source  string `yaml:"source"`             // Source stamped on outgoing frames
}

// ConnectionConfig controls the WebSocket connection manager.
type ConnectionConfig struct {
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout,omitempty"`
}

// APIConfig controls the REST client.
type APIConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit int           `yaml:"rate_limit,omitempty"` // Requests per minute, 0 = unlimited
	Token     string        `yaml:"token,omitempty"`
}

// RefreshConfig controls the auto-refresh loop.
type RefreshConfig struct {
	Interval            time.Duration `yaml:"interval"` // 0 disables auto-refresh
	DiagnosticsInterval time.Duration `yaml:"diagnostics_interval"`
}

// AlertsConfig controls the alert store.
type AlertsConfig struct {
	PageSize      int `yaml:"page_size"`
	TimelineLimit int `yaml:"timeline_limit"`
	FetchLimit    int `yaml:"fetch_limit"`
}

// NotificationConfig controls client-side alert notification effects.
type NotificationConfig struct {
	Sound        bool   `yaml:"sound"`
	Desktop      bool   `yaml:"desktop"`
	RedisURL     string `yaml:"redis_url,omitempty"`
	RedisChannel string `yaml:"redis_channel,omitempty"`
}

// SettingsConfig controls where notification toggles persist.
type SettingsConfig struct {
	Path string `yaml:"path"` // SQLite file; empty keeps settings in memory
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Origin:  "http://localhost:3000",
			APIPath: "/api",
			WSPath:  "/ws",
			Source:  "healthdash",
		},
		Connection: ConnectionConfig{
			ReconnectInterval:    3 * time.Second,
			MaxReconnectDelay:    30 * time.Second,
			MaxReconnectAttempts: 10,
			HeartbeatInterval:    30 * time.Second,
			HandshakeTimeout:     10 * time.Second,
		},
		API: APIConfig{
			Timeout: 10 * time.Second,
		},
		Refresh: RefreshConfig{
			Interval:            30 * time.Second,
			DiagnosticsInterval: time.Minute,
		},
		Alerts: AlertsConfig{
			PageSize:      10,
			TimelineLimit: 100,
			FetchLimit:    100,
		},
		Notifications: NotificationConfig{
			Sound:        true,
			Desktop:      true,
			RedisChannel: "healthdash:notifications",
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	u, err := url.Parse(c.Server.Origin)
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.origin must be http or https, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("server.origin has no host")
	}
	if c.Connection.ReconnectInterval <= 0 {
		return fmt.Errorf("connection.reconnect_interval must be positive")
	}
	if c.Connection.MaxReconnectDelay < c.Connection.ReconnectInterval {
		return fmt.Errorf("connection.max_reconnect_delay must be at least reconnect_interval")
	}
	if c.Connection.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("connection.max_reconnect_attempts must be positive")
	}
	if c.Connection.HeartbeatInterval <= 0 {
		return fmt.Errorf("connection.heartbeat_interval must be positive")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.Alerts.PageSize <= 0 {
		return fmt.Errorf("alerts.page_size must be positive")
	}
	if c.Alerts.TimelineLimit <= 0 {
		return fmt.Errorf("alerts.timeline_limit must be positive")
	}
	return nil
}

// APIBaseURL returns the REST base URL, e.g. http://host:3001/api.
func (c *Config) APIBaseURL() string {
	return c.httpBase(c.Server.APIPort) + c.Server.APIPath
}

// HealthURL returns the liveness probe URL. It is not under the API path.
func (c *Config) HealthURL() string {
	return c.httpBase(c.Server.APIPort) + "/health"
}

// WebSocketURL returns the ws:// or wss:// URL matching the origin scheme.
func (c *Config) WebSocketURL() string {
	u, err := url.Parse(c.Server.Origin)
	if err != nil {
		return ""
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return scheme + "://" + hostWithPort(u, c.Server.WSPort) + c.Server.WSPath
}

func (c *Config) httpBase(port int) string {
	u, err := url.Parse(c.Server.Origin)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + hostWithPort(u, port)
}

func hostWithPort(u *url.URL, override int) string {
	if override > 0 {
		return net.JoinHostPort(u.Hostname(), strconv.Itoa(override))
	}
	return u.Host
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use HEALTHDASH_ prefix:
// - HEALTHDASH_ORIGIN
// - HEALTHDASH_API_PORT
// - HEALTHDASH_WS_PORT
// - HEALTHDASH_API_TOKEN
// - HEALTHDASH_REDIS_URL
// - HEALTHDASH_SETTINGS_PATH
// - HEALTHDASH_MAX_RECONNECT_ATTEMPTS
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("HEALTHDASH_ORIGIN"); v != "" {
		c.Server.Origin = v
	}
	if v := os.Getenv("HEALTHDASH_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.APIPort = port
		}
	}
	if v := os.Getenv("HEALTHDASH_WS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.WSPort = port
		}
	}
	if v := os.Getenv("HEALTHDASH_API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("HEALTHDASH_REDIS_URL"); v != "" {
		c.Notifications.RedisURL = v
	}
	if v := os.Getenv("HEALTHDASH_SETTINGS_PATH"); v != "" {
		c.Settings.Path = v
	}
	if v := os.Getenv("HEALTHDASH_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Connection.MaxReconnectAttempts = n
		}
	}
}
