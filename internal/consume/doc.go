// Package consume drives handlers over a queue: a reactive mode that wakes
// on the queue's pending signal, a polling mode that claims one bounded
// batch per interval, and a filtered mode that claims by id from a filtered
// view of pending messages.
package consume
