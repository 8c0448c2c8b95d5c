// Package main implements the audiorouter CLI.
//
// Most subcommands talk to the running daemon over its unix socket. The
// hidden `daemon` subcommand is the daemon itself; `start` launches it
// detached. `apply` falls back to a one-shot pass under the instance lock
// when no daemon answers.
package main
