package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePulse()
	c.normalizeCompanion()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = Default().Paths.StateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RoutingFile) == "" {
		c.Paths.RoutingFile = Default().Paths.RoutingFile
	}
	if c.Paths.RoutingFile, err = expandPath(c.Paths.RoutingFile); err != nil {
		return fmt.Errorf("paths.routing_file: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.StateDir, "audiorouter.sock")
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizePulse() {
	c.Pulse.Binary = strings.TrimSpace(c.Pulse.Binary)
	if c.Pulse.Binary == "" {
		c.Pulse.Binary = defaultPulseBinary
	}
	c.Pulse.ManagedPrefix = strings.TrimSpace(c.Pulse.ManagedPrefix)
	if c.Pulse.ManagedPrefix == "" {
		c.Pulse.ManagedPrefix = defaultManagedPrefix
	}
	c.Pulse.FlatpakSpawn = strings.ToLower(strings.TrimSpace(c.Pulse.FlatpakSpawn))
	if c.Pulse.FlatpakSpawn == "" {
		c.Pulse.FlatpakSpawn = defaultFlatpakSpawn
	}
}

func (c *Config) normalizeCompanion() {
	c.Companion.URL = strings.TrimRight(strings.TrimSpace(c.Companion.URL), "/")
	if c.Companion.URL == "" {
		c.Companion.URL = defaultCompanionURL
	}
	if strings.TrimSpace(c.Companion.VolumeSuffix) == "" {
		c.Companion.VolumeSuffix = defaultCompanionVolSuffix
	}
	if strings.TrimSpace(c.Companion.MuteSuffix) == "" {
		c.Companion.MuteSuffix = defaultCompanionMuteSuffix
	}
	if c.Companion.TimeoutSeconds <= 0 {
		c.Companion.TimeoutSeconds = defaultCompanionTimeoutSecs
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	if value, ok := os.LookupEnv("AUDIOROUTER_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
