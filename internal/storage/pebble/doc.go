// Package pebblestore wraps Pebble behind the narrow surface the queue needs:
// point reads, atomic batch commits with a process-wide fsync policy, bounded
// iterators, and a one-key existence probe.
//
// The lease protocol treats this package as its transactional store: each
// protocol operation builds exactly one batch and commits it, so a crash
// between operations never leaves a row half-patched.
package pebblestore
