// Package id provides time-ordered message identifiers and random lease
// tokens.
//
// IDs embed a millisecond timestamp in their high bytes so that byte-wise
// key ordering in the store equals insertion ordering; the queue relies on
// this for FIFO claim scans. Lease tokens are plain random values and carry
// no ordering at all.
package id
