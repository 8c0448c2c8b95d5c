package config

import "path/filepath"

const (
	defaultPulseBinary          = "pactl"
	defaultCommandTimeoutMS     = 5000
	defaultManagedPrefix        = "vsink."
	defaultLoopbackLatencyMS    = 30
	defaultFlatpakSpawn         = "auto"
	defaultDebounceMS           = 100
	defaultStartupWaitSeconds   = 15
	defaultReconnectInitialMS   = 500
	defaultReconnectMaxMS       = 30000
	defaultMaxPassesPerSecond   = 2
	defaultHistoryLimit         = 200
	defaultCompanionURL         = "http://127.0.0.1:8000"
	defaultCompanionVolSuffix   = "Vol"
	defaultCompanionMuteSuffix  = "Mute"
	defaultCompanionTimeoutSecs = 2
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 14
)

// Default returns a Config populated with repository defaults. Paths are
// unexpanded; Load expands them.
func Default() Config {
	stateDir := filepath.Join(stateHome(), "audiorouter")
	return Config{
		Paths: Paths{
			StateDir:    stateDir,
			RoutingFile: filepath.Join(configHome(), "audiorouter", "routing.toml"),
		},
		Pulse: Pulse{
			Binary:            defaultPulseBinary,
			CommandTimeoutMS:  defaultCommandTimeoutMS,
			ManagedPrefix:     defaultManagedPrefix,
			LoopbackLatencyMS: defaultLoopbackLatencyMS,
			FlatpakSpawn:      defaultFlatpakSpawn,
		},
		Daemon: Daemon{
			DebounceMS:         defaultDebounceMS,
			StartupWaitSeconds: defaultStartupWaitSeconds,
			ReconnectInitialMS: defaultReconnectInitialMS,
			ReconnectMaxMS:     defaultReconnectMaxMS,
			MaxPassesPerSecond: defaultMaxPassesPerSecond,
			WatchRoutingFile:   true,
			UdevMonitor:        true,
			HistoryLimit:       defaultHistoryLimit,
		},
		Companion: Companion{
			URL:            defaultCompanionURL,
			VolumeSuffix:   defaultCompanionVolSuffix,
			MuteSuffix:     defaultCompanionMuteSuffix,
			TimeoutSeconds: defaultCompanionTimeoutSecs,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
