// Package state persists what the daemon last applied in SQLite.
//
// Two tables back the store: bus_snapshot holds the live view of every
// managed bus after the most recent successful pass, and pass_history keeps
// a bounded log of pass summaries for the `history` command. The snapshot is
// what change notifications diff against, so a restart does not re-announce
// values that were already published.
//
// The database is transient. Schema changes bump schemaVersion; users delete
// state.db to adopt the new schema.
package state
