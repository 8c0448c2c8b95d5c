package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePulse(); err != nil {
		return err
	}
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateCompanion(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePulse() error {
	if c.Pulse.CommandTimeoutMS <= 0 {
		return errors.New("pulse.command_timeout_ms must be positive")
	}
	if c.Pulse.LoopbackLatencyMS <= 0 {
		return errors.New("pulse.loopback_latency_ms must be positive")
	}
	if strings.ContainsAny(c.Pulse.ManagedPrefix, " \t=") {
		return fmt.Errorf("pulse.managed_prefix %q must not contain whitespace or '='", c.Pulse.ManagedPrefix)
	}
	switch c.Pulse.FlatpakSpawn {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("pulse.flatpak_spawn must be auto, always or never (got %q)", c.Pulse.FlatpakSpawn)
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if err := ensurePositiveMap(map[string]int{
		"daemon.debounce_ms":          c.Daemon.DebounceMS,
		"daemon.startup_wait_seconds": c.Daemon.StartupWaitSeconds,
		"daemon.reconnect_initial_ms": c.Daemon.ReconnectInitialMS,
		"daemon.reconnect_max_ms":     c.Daemon.ReconnectMaxMS,
		"daemon.history_limit":        c.Daemon.HistoryLimit,
	}); err != nil {
		return err
	}
	if c.Daemon.ReconnectMaxMS < c.Daemon.ReconnectInitialMS {
		return errors.New("daemon.reconnect_max_ms must be >= daemon.reconnect_initial_ms")
	}
	if c.Daemon.MaxPassesPerSecond <= 0 {
		return errors.New("daemon.max_passes_per_second must be positive")
	}
	return nil
}

func (c *Config) validateCompanion() error {
	if !c.Companion.Enabled {
		return nil
	}
	parsed, err := url.Parse(c.Companion.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("companion.url %q must be an absolute http(s) URL", c.Companion.URL)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "trace", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
