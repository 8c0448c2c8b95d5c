// Package logs reads the daemon log for the `audiorouter logs` command.
//
// The daemon writes one file per run and points audiorouter.log at the
// newest. Follow tracks that pointer, so a daemon restart switches the
// reader to the new run's file.
package logs
