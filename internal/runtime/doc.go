// Package runtime assembles storage, the reclaim scheduler and the queue
// registry into a single-node instance.
package runtime
