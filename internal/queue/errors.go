package queue

import "errors"

var (
	// ErrNotFound is returned when the referenced message does not exist.
	// Given at-most-once deletion this usually means the message was
	// already acked or exhausted.
	ErrNotFound = errors.New("message not found")

	// ErrInvalidState is returned when an operation requires a claimed
	// message but the message is pending.
	ErrInvalidState = errors.New("message not claimed")

	// ErrLeaseExpired is returned when the presented claim token does not
	// match the message's current claim. The caller's lease was superseded
	// by a visibility-timeout reclaim and a later re-claim.
	ErrLeaseExpired = errors.New("claim token superseded")

	// ErrInvalidName is returned by Open for queue names that cannot be
	// embedded in the keyspace.
	ErrInvalidName = errors.New("invalid queue name")
)
