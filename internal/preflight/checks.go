package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"audiorouter/internal/config"
	"audiorouter/internal/deps"
	"audiorouter/internal/pulse"
	"audiorouter/internal/routing"
)

// CheckCompanion verifies that the Companion HTTP API answers. Any response
// below 500 counts as reachable; variable endpoints need no authentication.
func CheckCompanion(ctx context.Context, baseURL string) Result {
	const name = "Companion"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("request failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%v)", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckRouting loads and validates the routing document.
func CheckRouting(path, managedPrefix string) Result {
	const name = "Routing document"

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (not found; no buses managed)", path)}
	}
	desired, err := routing.Load(path, managedPrefix)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{
		Name:   name,
		Passed: true,
		Detail: fmt.Sprintf("%d buses, %d rules", len(desired.Buses()), len(desired.Rules())),
	}
}

// CheckAudioServer pings the server and reports its default sink.
func CheckAudioServer(ctx context.Context, server pulse.Server) Result {
	const name = "Audio server"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	def, err := server.DefaultSink(checkCtx)
	if err != nil || def == "" {
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable (default sink " + def + ")"}
}

// CheckSystemDeps evaluates the external programs audiorouter invokes. Both
// the daemon and the CLI status command use this list.
func CheckSystemDeps(_ context.Context, cfg *config.Config) []deps.Status {
	return deps.Check(deps.AudioRequirements(deps.AudioSetup{
		Binary:          cfg.Pulse.Binary,
		Forward:         usesFlatpakSpawn(cfg),
		ForwardOptional: cfg.Pulse.FlatpakSpawn != "always",
	}))
}

func usesFlatpakSpawn(cfg *config.Config) bool {
	switch cfg.Pulse.FlatpakSpawn {
	case "always":
		return true
	case "never":
		return false
	default:
		return pulse.InFlatpak()
	}
}
