package preflight

import (
	"context"
	"strings"

	"audiorouter/internal/config"
)

// CheckCompanionFromConfig evaluates Companion status from config and connectivity.
func CheckCompanionFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "Companion"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Companion.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if strings.TrimSpace(cfg.Companion.URL) == "" {
		return Result{Name: name, Detail: "Missing URL"}
	}
	return CheckCompanion(ctx, cfg.Companion.URL)
}
