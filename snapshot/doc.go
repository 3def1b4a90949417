// Package snapshot persists point-in-time copies of the engine state:
// pool configurations, every order record and every balance, tagged with
// the journal sequence they include. Amounts are stored as decimal strings.
//
// Two stores are provided: FileStore writes a gob file atomically, and
// RedisStore keeps the latest snapshot under one key.
package snapshot
