// Package config loads, normalizes, and validates audiorouter configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts and XDG base directories), reads TOML files, and honours the
// AUDIOROUTER_LOG_LEVEL environment override. The Config type carries daemon
// knobs only; the buses and rules the engine applies live in the routing
// document loaded by package routing.
package config
