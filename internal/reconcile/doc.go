// Package reconcile converges the live sound-server graph to a routing.DesiredState.
//
// Engine.Apply runs one pass in three ordered phases: bus materialization
// (create, remove, and fix attribute drift on managed null sinks), device
// routing (one loopback from each bus monitor to its physical device), and
// stream assignment (first matching rule wins). Live state is re-queried at
// each phase; nothing volatile survives the pass.
//
// A rejected command is recorded in the Result and the phase moves on. Only a
// lost server connection aborts the pass. Running Apply twice against the same
// inputs issues no commands the second time.
package reconcile
