// Package routing models the desired state audiorouter converges to: the
// managed buses, the physical device each bus plays through, and the ordered
// rules that pin application streams to buses.
//
// Documents are read from TOML, YAML, or JSON (comments allowed), plus the
// split vsinks.json/routing-rules.json layout older installs still carry.
// Loading is all-or-nothing: a document that fails validation yields
// ErrConfigInvalid and no DesiredState.
package routing
