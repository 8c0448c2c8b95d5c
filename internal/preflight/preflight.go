package preflight

import (
	"context"

	"audiorouter/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// The Companion check only runs when the webhook is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckRouting(cfg.Paths.RoutingFile, cfg.Pulse.ManagedPrefix),
	}

	if cfg.Companion.Enabled {
		results = append(results, CheckCompanion(ctx, cfg.Companion.URL))
	}

	return results
}
