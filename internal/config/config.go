package config

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// Config is the root configuration for a sender instance.
type Config struct {
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Sender    SenderConfig    `yaml:"sender"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Log       LogConfig       `yaml:"log"`
	Health    HealthConfig    `yaml:"health"`
	Console   ConsoleConfig   `yaml:"console"`
}

// EndpointConfig locates the relay server.
type EndpointConfig struct {
	URL              string        `yaml:"url"` // Overrides host/port/client_id when set
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ClientID         string        `yaml:"client_id"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingTimeout      time.Duration `yaml:"ping_timeout"` // Max silence before the connection is considered stale
}

// SenderConfig holds the canned message lists and the send cadence.
type SenderConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Contents  []string      `yaml:"contents"`
	Receivers []string      `yaml:"receivers"`
}

// ReconnectConfig holds the fixed reconnect delay.
type ReconnectConfig struct {
	Delay time.Duration `yaml:"delay"`
}

// LogConfig selects slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// HealthConfig holds the health/metrics HTTP server settings.
type HealthConfig struct {
	Enabled     *bool  `yaml:"enabled"`
	Port        int    `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
}

// ConsoleConfig controls console rendering of received messages.
type ConsoleConfig struct {
	Enabled *bool `yaml:"enabled"` // Print received messages to stdout
	Color   *bool `yaml:"color"`   // Plain text when false
}

// WSURL returns the WebSocket URL to dial: ws://<host>:<port>/ws/<client_id>,
// or the explicit override.
func (e EndpointConfig) WSURL() string {
	if e.URL != "" {
		return e.URL
	}
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
		Path:   "/ws/" + e.ClientID,
	}
	return u.String()
}

// HTTPAddress returns the server's plain HTTP origin, used in operator hints.
func (e EndpointConfig) HTTPAddress() string {
	u, err := url.Parse(e.WSURL())
	if err != nil || u.Host == "" {
		return e.WSURL()
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

// HealthEnabled reports whether the health server should run.
func (c *Config) HealthEnabled() bool {
	return c.Health.Enabled == nil || *c.Health.Enabled
}

// ConsoleEnabled reports whether received messages are printed to the console.
func (c *Config) ConsoleEnabled() bool {
	return c.Console.Enabled == nil || *c.Console.Enabled
}

// ConsoleColor reports whether received messages are rendered in colour.
func (c *Config) ConsoleColor() bool {
	return c.Console.Color == nil || *c.Console.Color
}
