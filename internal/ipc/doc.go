// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Responses reuse the domain result types, which already carry JSON tags, so
// the CLI renders exactly what the daemon computed. Control failures travel
// as RPC errors; an aborted pass is returned with its partial result and the
// abort reason in the response body.
package ipc
