// Package queue implements the lease protocol: publish, claim, ack, nack
// and visibility-timeout reclaim over a Pebble-backed keyspace.
//
// Every claim carries a single-use token that fences late acks and nacks
// from stale lease holders. Messages that fail their last attempt are
// deleted and surfaced as Exhausted records so callers can dead-letter
// them.
package queue
