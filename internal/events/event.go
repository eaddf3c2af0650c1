package events

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies what an Event reports.
type Kind string

// Supported event kinds.
const (
	KindSearchPhase  Kind = "SEARCH_PHASE"
	KindToast        Kind = "TOAST"
	KindCrawlNotice  Kind = "CRAWL_NOTICE"
	KindNotification Kind = "NOTIFICATION"
	KindSavedChanged Kind = "SAVED_CHANGED"
	KindChannelState Kind = "CHANNEL_STATE"
)

// Level grades a toast.
type Level string

// Toast levels.
const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Channel states reported with KindChannelState.
const (
	ChannelOpen         = "open"
	ChannelReconnecting = "reconnecting"
	ChannelClosed       = "closed"
)

// Event is one user-visible occurrence.
type Event struct {
	Kind Kind
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Phase is the search phase for KindSearchPhase.
	Phase string
	// Keyword scopes search, crawl and notification events.
	Keyword string
	// Message is the human-readable text of toasts, notices and notifications.
	Message string
	Level   Level
	// Count is the saved-list size for KindSavedChanged and the attempt number
	// for KindChannelState.
	Count int
	// State is the channel state for KindChannelState.
	State string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindSearchPhase:
		if e.Phase == "" {
			return errors.New("search phase event requires phase")
		}
	case KindToast, KindCrawlNotice:
		if e.Message == "" {
			return fmt.Errorf("%s event requires message", e.Kind)
		}
	case KindNotification:
	case KindSavedChanged:
		if e.Count < 0 {
			return errors.New("saved count must be >= 0")
		}
	case KindChannelState:
		if e.State == "" {
			return errors.New("channel state event requires state")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}
