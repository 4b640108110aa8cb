// Package log provides the structured logger used across convex-mq.
//
// Components receive a Logger over dependency injection and tag their
// entries with Component(...) fields; there is no package-level default
// logger. The Field-based API keeps call sites allocation-light and the
// formatter pluggable (text for terminals, JSON for collection).
package log
