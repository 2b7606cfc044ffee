package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := c.Endpoint.validate("endpoint"); err != nil {
		return err
	}

	if c.Sender.Interval <= 0 {
		return errors.New("sender.interval must be > 0")
	}
	if len(c.Sender.Contents) == 0 {
		return errors.New("sender.contents must not be empty")
	}
	if len(c.Sender.Receivers) == 0 {
		return errors.New("sender.receivers must not be empty")
	}

	if c.Reconnect.Delay <= 0 {
		return errors.New("reconnect.delay must be > 0")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.HealthEnabled() {
		if c.Health.Port < 1 || c.Health.Port > 65535 {
			return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
		}
		if !strings.HasPrefix(c.Health.MetricsPath, "/") {
			return fmt.Errorf("health.metrics_path must start with /, got %q", c.Health.MetricsPath)
		}
		if c.Health.MetricsPath == HealthPath {
			return fmt.Errorf("health.metrics_path must not be %s", HealthPath)
		}
	}

	return nil
}

func (e *EndpointConfig) validate(prefix string) error {
	if e.URL != "" {
		u, err := url.Parse(e.URL)
		if err != nil {
			return fmt.Errorf("%s.url: %w", prefix, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("%s.url scheme must be ws or wss, got %q", prefix, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("%s.url host is required", prefix)
		}
	} else {
		if e.Host == "" {
			return fmt.Errorf("%s.host is required", prefix)
		}
		if e.Port < 1 || e.Port > 65535 {
			return fmt.Errorf("%s.port must be between 1 and 65535, got %d", prefix, e.Port)
		}
		if e.ClientID == "" {
			return fmt.Errorf("%s.client_id is required", prefix)
		}
	}
	if e.HandshakeTimeout <= 0 {
		return fmt.Errorf("%s.handshake_timeout must be > 0", prefix)
	}
	if e.WriteTimeout <= 0 {
		return fmt.Errorf("%s.write_timeout must be > 0", prefix)
	}
	if e.PingTimeout < 0 {
		return fmt.Errorf("%s.ping_timeout must be >= 0", prefix)
	}
	return nil
}
