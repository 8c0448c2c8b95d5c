package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"audiorouter/internal/config"
	"audiorouter/internal/daemon"
	"audiorouter/internal/ipc"
	"audiorouter/internal/logging"
	"audiorouter/internal/pulse"
	"audiorouter/internal/pulse/pulsetest"
	"audiorouter/internal/testsupport"
)

const gameDoc = `
[[buses]]
key = "vsink.game"
device = "default"
volume = 70

[[rules]]
binary = "wine*"
bus = "vsink.game"
`

type cliTestEnv struct {
	cfg        *config.Config
	srv        *pulsetest.Server
	daemon     *daemon.Daemon
	socketPath string
	configPath string
	gameID     uint32
	chatID     uint32
}

// newCLIConfig writes a config file for cfg and routes every direct
// audio-server call through srv.
func newCLIConfig(t *testing.T, doc string) (*config.Config, string, *pulsetest.Server) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithRoutingDocument(doc))
	cfg.Daemon.WatchRoutingFile = false

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	srv := pulsetest.New()
	srv.AddDevice("alsa_output.usb-headset")

	previous := newAudioServer
	newAudioServer = func(*config.Config) pulse.Server { return srv }
	t.Cleanup(func() { newAudioServer = previous })
	return cfg, configPath, srv
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg, configPath, srv := newCLIConfig(t, gameDoc)
	env := &cliTestEnv{
		cfg:        cfg,
		srv:        srv,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
	}
	env.gameID = srv.AddStream(pulse.Stream{App: "Elden Ring", Binary: "wine64-preloader"})
	env.chatID = srv.AddStream(pulse.Stream{App: "Discord", Binary: "Discord"})

	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	d, err := daemon.New(cfg, srv, logger, daemon.WithStore(store))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	env.daemon = d

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	server, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	server.Serve()

	t.Cleanup(func() {
		cancel()
		server.Close()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	waitFor(t, 3*time.Second, func() bool {
		status := d.Status()
		return status.LastPass != nil && status.State == daemon.StateIdle
	})
	return env
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
