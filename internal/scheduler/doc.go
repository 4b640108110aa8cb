// Package scheduler implements the delayed-execution primitive behind lease
// visibility timeouts: a callback scheduled once, fired after a delay,
// cancelable until it starts. Callbacks perform their own store transaction;
// the scheduler guarantees only single execution and clean shutdown.
package scheduler
