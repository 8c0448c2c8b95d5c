// Package logging assembles structured slog loggers and formatting helpers used
// across audiorouter.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context helpers so reconciliation code can tag every
// line of a pass with its pass identifier. Warnings go through
// WarnWithContext so each one carries a cause, an impact, and a next step.
//
// Prefer these constructors over hand-rolled slog setup.
package logging
