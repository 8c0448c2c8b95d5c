// Package pulse adapts the PulseAudio-compatible sound server (PulseAudio or
// PipeWire's pulse shim) to the capability interface the reconciliation engine
// consumes.
//
// The Pactl client shells out to pactl, reading machine-readable JSON for
// queries and issuing load-module/unload-module/move-sink-input for
// mutations. Every invocation runs under a bounded timeout so a hung server
// cannot wedge the daemon. Inside a Flatpak sandbox commands are forwarded to
// the host with flatpak-spawn.
//
// Managed buses are null sinks whose name carries the managed prefix; their
// audio reaches a physical device through a module-loopback reading the bus
// monitor source. Sink inputs owned by those loopbacks are internal plumbing
// and never surface as Streams.
package pulse
