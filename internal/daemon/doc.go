// Package daemon runs the long-lived routing loop.
//
// A single loop goroutine owns every reconciliation pass. Producers feed it
// triggers: the audio server's change subscription, the udev sound-card
// monitor, the routing-file watcher, and control requests arriving over IPC.
// Triggers are debounced so a burst (an application opening several streams,
// a USB headset exposing several nodes) yields one pass per quiet window, and
// a rate limiter spaces passes during sustained storms.
//
// Losing the subscription moves the daemon to Reconnecting. It resubscribes
// with exponential backoff and runs a fresh pass on success, since a server
// restart invalidates every module and stream index.
//
// The daemon holds the single-instance guard for its whole lifetime and
// releases it on shutdown.
package daemon
