package sinks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/marketmaster/internal/events"
)

// WriterSink prints toasts, crawl notices and notifications as plain lines,
// the terminal stand-in for on-screen toasts. Other kinds are ignored.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink writes to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Consume renders the batch.
func (s *WriterSink) Consume(_ context.Context, batch []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		line := Format(evt)
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintln(s.w, line); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *WriterSink) Close(context.Context) error {
	return nil
}

// Format renders evt as a terminal line, or "" when the kind is not shown.
func Format(evt events.Event) string {
	switch evt.Kind {
	case events.KindToast:
		if evt.Level == events.LevelError {
			return "error: " + evt.Message
		}
		return evt.Message
	case events.KindCrawlNotice:
		return "notice: " + evt.Message
	case events.KindNotification:
		if evt.Keyword != "" {
			return fmt.Sprintf("notification [%s]: %s", evt.Keyword, evt.Message)
		}
		return "notification: " + evt.Message
	default:
		return ""
	}
}
