package search

import (
	"context"
	"errors"

	"github.com/JakeFAU/marketmaster/internal/market"
)

var (
	// ErrInvalidKeyword reports a blank keyword or one the backend rejected.
	ErrInvalidKeyword = errors.New("invalid keyword")
	// ErrTranslation reports a failed translation step.
	ErrTranslation = errors.New("translation failed")
)

// Phase is the coordinator's position in the search state machine.
type Phase string

// Search phases.
const (
	PhaseIdle          Phase = "idle"
	PhaseValidating    Phase = "validating"
	PhaseTranslating   Phase = "translating"
	PhaseFetching      Phase = "fetching"
	PhaseDisplaying    Phase = "displaying"
	PhaseAwaitingCrawl Phase = "awaiting-crawl"
	PhaseFailed        Phase = "failed"
)

// Settled reports whether no search is running. A settled coordinator
// accepts new searches the same way an idle one does.
func (p Phase) Settled() bool {
	switch p {
	case PhaseIdle, PhaseDisplaying, PhaseAwaitingCrawl, PhaseFailed:
		return true
	}
	return false
}

// State is a snapshot of what the search view renders.
type State struct {
	Phase               Phase            `json:"phase"`
	Keyword             string           `json:"keyword,omitempty"`
	Language            string           `json:"language,omitempty"`
	NormalizedKeyword   string           `json:"normalized_keyword,omitempty"`
	TranslatedKeyword   string           `json:"translated_keyword,omitempty"`
	Products            []market.Product `json:"products"`
	Err                 error            `json:"-"`
	Error               string           `json:"error,omitempty"`
	NotificationVisible bool             `json:"notification_visible"`
	Notice              string           `json:"notice,omitempty"`
	Generation          uint64           `json:"generation"`
}

// Fetching reports whether a search step is in flight.
func (s State) Fetching() bool {
	return !s.Phase.Settled()
}

func (s State) clone() State {
	out := s
	if s.Products != nil {
		out.Products = append([]market.Product(nil), s.Products...)
	}
	return out
}

// Backend is the subset of the API client the coordinator drives.
type Backend interface {
	ValidateKeyword(ctx context.Context, keyword string) (market.KeywordValidation, error)
	Translate(ctx context.Context, text, dest string) (string, error)
	FetchProducts(ctx context.Context, keyword, sessionID string) (market.ProductsResult, error)
}

// Session supplies the session id and the durable pending-keyword list.
type Session interface {
	SessionID(ctx context.Context) (string, error)
	AddPendingKeyword(ctx context.Context, keyword string) error
	RemovePendingKeyword(ctx context.Context, keyword string) error
}

// Notifier opens the notification channel for a session.
type Notifier interface {
	Connect(sessionID string) error
}

// Navigator is the shareable page location.
type Navigator interface {
	Keyword() string
	SetKeyword(keyword string)
}
