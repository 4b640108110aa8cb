// Package serverrun boots the node: config, logging, metrics, lease
// restore and the HTTP listener, with signal-driven shutdown.
package serverrun
