// Package events carries user-facing client events (search phases, toasts,
// crawl notices, notifications, saved-list changes and channel state) from
// the coordinators to pluggable sinks. Emit never blocks; a background
// goroutine batches events and fans them out.
package events
