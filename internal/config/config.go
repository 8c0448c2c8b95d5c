package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"audiorouter/internal/fileutil"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains file and directory locations.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	RoutingFile string `toml:"routing_file"`
	SocketPath  string `toml:"socket_path"`
	LogDir      string `toml:"log_dir"`
}

// Pulse contains settings for the pactl adapter.
type Pulse struct {
	Binary            string `toml:"binary"`
	CommandTimeoutMS  int    `toml:"command_timeout_ms"`
	ManagedPrefix     string `toml:"managed_prefix"`
	LoopbackLatencyMS int    `toml:"loopback_latency_ms"`
	// FlatpakSpawn is one of "auto", "always" or "never".
	FlatpakSpawn string `toml:"flatpak_spawn"`
}

// Daemon contains timing knobs for the event loop.
type Daemon struct {
	DebounceMS         int     `toml:"debounce_ms"`
	StartupWaitSeconds int     `toml:"startup_wait_seconds"`
	ReconnectInitialMS int     `toml:"reconnect_initial_ms"`
	ReconnectMaxMS     int     `toml:"reconnect_max_ms"`
	MaxPassesPerSecond float64 `toml:"max_passes_per_second"`
	WatchRoutingFile   bool    `toml:"watch_routing_file"`
	UdevMonitor        bool    `toml:"udev_monitor"`
	HistoryLimit       int     `toml:"history_limit"`
}

// Companion contains settings for the Bitfocus Companion custom-variable webhook.
type Companion struct {
	Enabled        bool   `toml:"enabled"`
	URL            string `toml:"url"`
	VolumeSuffix   string `toml:"volume_suffix"`
	MuteSuffix     string `toml:"mute_suffix"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for audiorouter.
//
// Configuration sections by subsystem:
//   - Paths: state directory, routing document, control socket
//   - Pulse: pactl binary, command timeout, managed sink prefix
//   - Daemon: debounce, startup wait, reconnect backoff, pass rate
//   - Companion: optional Stream Deck variable webhook
//   - Logging: log format, level, and retention
//
// Buses and rules live in the routing document referenced by
// Paths.RoutingFile, not here.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Pulse     Pulse     `toml:"pulse"`
	Daemon    Daemon    `toml:"daemon"`
	Companion Companion `toml:"companion"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(filepath.Join(configHome(), "audiorouter", "config.toml"))
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A missing file is not an error; defaults are used.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, filepath.Dir(c.Paths.SocketPath)} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "audiorouter.lock")
}

// PIDPath returns the file the lock holder writes its PID into.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "audiorouter.pid")
}

// StatePath returns the sqlite database holding the applied-state snapshot.
func (c *Config) StatePath() string {
	return filepath.Join(c.Paths.StateDir, "state.db")
}

// LogPath returns the stable pointer to the current daemon log.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "audiorouter.log")
}

// CommandTimeout bounds every pactl invocation.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Pulse.CommandTimeoutMS) * time.Millisecond
}

// DebounceInterval is the quiescence window before a pass runs.
func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.Daemon.DebounceMS) * time.Millisecond
}

// StartupWait bounds how long the daemon waits for the audio server at startup.
func (c *Config) StartupWait() time.Duration {
	return time.Duration(c.Daemon.StartupWaitSeconds) * time.Second
}

// ReconnectInitial is the first backoff delay after losing the subscription.
func (c *Config) ReconnectInitial() time.Duration {
	return time.Duration(c.Daemon.ReconnectInitialMS) * time.Millisecond
}

// ReconnectMax caps the reconnect backoff delay.
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.Daemon.ReconnectMaxMS) * time.Millisecond
}

// CompanionTimeout bounds each webhook request.
func (c *Config) CompanionTimeout() time.Duration {
	return time.Duration(c.Companion.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func configHome() string {
	if base, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && strings.TrimSpace(base) != "" {
		return base
	}
	return "~/.config"
}

func stateHome() string {
	if base, ok := os.LookupEnv("XDG_STATE_HOME"); ok && strings.TrimSpace(base) != "" {
		return base
	}
	return "~/.local/state"
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := fileutil.WriteFileAtomic(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
