// Package sinks implements event consumers: structured logs, Prometheus
// counters and human-readable terminal lines.
package sinks
