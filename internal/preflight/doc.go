// Package preflight provides readiness checks for the programs, services and
// paths audiorouter depends on.
//
// The daemon runs RunAll at startup and logs failures without refusing to
// start; `audiorouter status` and `audiorouter config validate` render the
// same results. Each check is gated by its config toggle.
package preflight
