// Package store persists the session index in SQLite.
//
// Only bookkeeping lives here: id, last known state, retry count, timestamps
// and the last error. Credentials stay in the per-session auth directory.
// The gateway reads the index on startup to restore sessions and writes it on
// every state change.
package store
