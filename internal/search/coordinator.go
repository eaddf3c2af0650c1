// Package search coordinates keyword validation, translation and product
// lookup, scheduling a background crawl when results are not ready yet.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketmaster/internal/backend"
	"github.com/JakeFAU/marketmaster/internal/clock/system"
	"github.com/JakeFAU/marketmaster/internal/events"
	"github.com/JakeFAU/marketmaster/internal/market"
)

// DefaultDebounce is the coalescing window for repeated Search calls.
const DefaultDebounce = 300 * time.Millisecond

// Config wires a Coordinator. Backend, Session and Notifier are required.
type Config struct {
	Backend   Backend
	Session   Session
	Notifier  Notifier
	Navigator Navigator
	Clock     market.Clock
	Emitter   events.Emitter
	Logger    *zap.Logger

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
	// WorkingLanguage is the translation target. Defaults to "en".
	WorkingLanguage string
	// DisplayLanguage is used for URL- and notification-driven searches.
	DisplayLanguage string
	// AutoResume re-runs the search named by every handled notification.
	AutoResume bool
}

type request struct {
	raw       string
	lang      string
	updateURL bool
}

// Coordinator is the SearchCoordinator. All methods are safe for concurrent
// use; only the latest debounced request runs and results of superseded
// runs are discarded.
type Coordinator struct {
	backend  Backend
	session  Session
	notifier Notifier
	nav      Navigator
	clock    market.Clock
	emitter  events.Emitter
	logger   *zap.Logger

	debounce    time.Duration
	workingLang string
	displayLang string
	autoResume  bool

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	gen      uint64
	pending  *request
	timer    market.Timer
	timerSeq uint64
	running  int
	idleCh   chan struct{}
	closed   bool
}

// New builds a Coordinator from cfg.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Backend == nil || cfg.Session == nil || cfg.Notifier == nil {
		return nil, errors.New("search: backend, session and notifier are required")
	}
	c := &Coordinator{
		backend:     cfg.Backend,
		session:     cfg.Session,
		notifier:    cfg.Notifier,
		nav:         cfg.Navigator,
		clock:       cfg.Clock,
		emitter:     cfg.Emitter,
		logger:      cfg.Logger,
		debounce:    cfg.Debounce,
		workingLang: cfg.WorkingLanguage,
		displayLang: cfg.DisplayLanguage,
		autoResume:  cfg.AutoResume,
		state:       State{Phase: PhaseIdle},
		idleCh:      make(chan struct{}),
	}
	close(c.idleCh)
	if c.clock == nil {
		c.clock = system.New()
	}
	if c.emitter == nil {
		c.emitter = events.Discard
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	if c.workingLang == "" {
		c.workingLang = "en"
	}
	if c.displayLang == "" {
		c.displayLang = c.workingLang
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Search schedules a search for raw. Calls within the debounce window replace
// each other; only the last one runs. updateURL mirrors raw into the
// navigable location.
func (c *Coordinator) Search(raw, lang string, updateURL bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if lang == "" {
		lang = c.displayLang
	}
	c.pending = &request{raw: raw, lang: lang, updateURL: updateURL}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.markBusyLocked()
	c.timerSeq++
	seq := c.timerSeq
	c.timer = c.clock.AfterFunc(c.debounce, func() { c.fire(seq) })
}

// Mount runs the search carried by the navigable location, if any, without
// writing the location back. It reports whether a search was scheduled.
func (c *Coordinator) Mount() bool {
	if c.nav == nil {
		return false
	}
	keyword := c.nav.Keyword()
	if strings.TrimSpace(keyword) == "" {
		return false
	}
	c.Search(keyword, c.displayLang, false)
	return true
}

// HandleNotification consumes a crawl-complete notification: its keyword
// leaves the pending list and, with auto-resume on, is searched again.
func (c *Coordinator) HandleNotification(ctx context.Context, n market.Notification) {
	if n.Keyword != "" {
		if err := c.session.RemovePendingKeyword(ctx, n.Keyword); err != nil {
			c.logger.Warn("remove pending keyword", zap.String("keyword", n.Keyword), zap.Error(err))
		}
	}
	c.emitter.Emit(events.Event{
		Kind:    events.KindNotification,
		TS:      c.clock.Now(),
		Keyword: n.Keyword,
		Message: n.Message,
	})
	if c.autoResume {
		c.Resume(n)
	}
}

// Resume maps a notification back into a fresh search for its keyword.
func (c *Coordinator) Resume(n market.Notification) bool {
	if strings.TrimSpace(n.Keyword) == "" {
		return false
	}
	c.Search(n.Keyword, c.displayLang, true)
	return true
}

// State returns a snapshot of the current search state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Await blocks until no search is scheduled or running.
func (c *Coordinator) Await(ctx context.Context) error {
	c.mu.Lock()
	ch := c.idleCh
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await search: %w", ctx.Err())
	}
}

// Close cancels the pending search and discards results still in flight.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
	c.cancel()
	c.settleLocked()
}

func (c *Coordinator) fire(seq uint64) {
	c.mu.Lock()
	if c.closed || seq != c.timerSeq || c.pending == nil {
		c.mu.Unlock()
		return
	}
	req := *c.pending
	c.pending = nil
	c.timer = nil
	c.gen++
	gen := c.gen
	c.running++
	c.mu.Unlock()

	go c.execute(gen, req)
}

func (c *Coordinator) execute(gen uint64, req request) {
	defer func() {
		c.mu.Lock()
		c.running--
		c.settleLocked()
		c.mu.Unlock()
	}()
	ctx := c.ctx

	if !c.advance(gen, req.raw, PhaseValidating, func(s *State) {
		*s = State{Phase: PhaseValidating, Keyword: req.raw, Language: req.lang}
	}) {
		return
	}
	keyword := strings.TrimSpace(req.raw)
	if keyword == "" {
		c.fail(gen, req.raw, ErrInvalidKeyword)
		return
	}
	validation, err := c.backend.ValidateKeyword(ctx, keyword)
	if err != nil {
		c.fail(gen, req.raw, fmt.Errorf("validate keyword: %w", err))
		return
	}
	if !validation.Valid {
		c.fail(gen, req.raw, fmt.Errorf("%w: %q", ErrInvalidKeyword, keyword))
		return
	}
	normalized := strings.TrimSpace(validation.Normalized)
	if normalized == "" {
		normalized = keyword
	}

	if !c.advance(gen, req.raw, PhaseTranslating, func(s *State) {
		s.NormalizedKeyword = normalized
	}) {
		return
	}
	translated, err := c.backend.Translate(ctx, normalized, c.workingLang)
	if err != nil {
		c.fail(gen, req.raw, fmt.Errorf("%w: %w", ErrTranslation, err))
		return
	}
	translated = strings.TrimSpace(translated)
	if translated == "" {
		c.fail(gen, req.raw, fmt.Errorf("%w: empty translation", ErrTranslation))
		return
	}

	if !c.advance(gen, req.raw, PhaseFetching, func(s *State) {
		s.TranslatedKeyword = translated
	}) {
		return
	}
	if req.updateURL && c.nav != nil {
		c.nav.SetKeyword(req.raw)
	}
	sessionID, err := c.session.SessionID(ctx)
	if err != nil {
		c.fail(gen, req.raw, fmt.Errorf("session id: %w", err))
		return
	}
	result, err := c.backend.FetchProducts(ctx, translated, sessionID)
	if err != nil {
		c.fail(gen, req.raw, fmt.Errorf("fetch products: %w", err))
		return
	}

	if !result.Accepted {
		c.advance(gen, req.raw, PhaseDisplaying, func(s *State) {
			s.Products = result.Products
		})
		return
	}
	c.awaitCrawl(gen, req.raw, sessionID)
}

// awaitCrawl records the keyword as pending, makes sure the notification
// channel is up and tells the user results will follow.
func (c *Coordinator) awaitCrawl(gen uint64, raw, sessionID string) {
	if !c.current(gen) {
		return
	}
	if err := c.session.AddPendingKeyword(c.ctx, raw); err != nil {
		c.logger.Warn("record pending keyword", zap.String("keyword", raw), zap.Error(err))
	}
	if err := c.notifier.Connect(sessionID); err != nil {
		c.logger.Warn("connect notification channel", zap.Error(err))
	}
	notice := fmt.Sprintf("We are collecting listings for %q. This can take a few minutes; "+
		"you will get a notification when the results are ready.", raw)
	if !c.advance(gen, raw, PhaseAwaitingCrawl, func(s *State) {
		s.Products = []market.Product{}
		s.NotificationVisible = true
		s.Notice = notice
	}) {
		return
	}
	c.emitter.Emit(events.Event{
		Kind:    events.KindCrawlNotice,
		TS:      c.clock.Now(),
		Keyword: raw,
		Message: notice,
	})
}

func (c *Coordinator) fail(gen uint64, raw string, err error) {
	if !c.advance(gen, raw, PhaseFailed, func(s *State) {
		s.Err = err
		s.Error = err.Error()
	}) {
		return
	}
	c.logger.Info("search failed", zap.String("keyword", raw), zap.Error(err))
	c.emitter.Emit(events.Event{
		Kind:    events.KindToast,
		TS:      c.clock.Now(),
		Keyword: raw,
		Message: userMessage(err),
		Level:   events.LevelError,
	})
}

// advance applies fn and moves to phase if gen is still current, then
// announces the phase. It reports false for a superseded run.
func (c *Coordinator) advance(gen uint64, raw string, phase Phase, fn func(*State)) bool {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		c.logger.Debug("discarding stale search result", zap.Uint64("generation", gen))
		return false
	}
	fn(&c.state)
	c.state.Phase = phase
	c.state.Generation = gen
	c.mu.Unlock()

	c.emitter.Emit(events.Event{
		Kind:    events.KindSearchPhase,
		TS:      c.clock.Now(),
		Phase:   string(phase),
		Keyword: raw,
	})
	return true
}

func (c *Coordinator) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && gen == c.gen
}

func (c *Coordinator) markBusyLocked() {
	select {
	case <-c.idleCh:
		c.idleCh = make(chan struct{})
	default:
	}
}

func (c *Coordinator) settleLocked() {
	if c.timer != nil || c.pending != nil || c.running > 0 {
		return
	}
	select {
	case <-c.idleCh:
	default:
		close(c.idleCh)
	}
}

func userMessage(err error) string {
	var httpErr *backend.HTTPError
	switch {
	case errors.Is(err, ErrInvalidKeyword):
		return "Please enter a meaningful search keyword."
	case errors.Is(err, ErrTranslation):
		return "We could not translate that keyword. Please try again."
	case errors.As(err, &httpErr):
		return fmt.Sprintf("Search failed (HTTP %d). Please try again.", httpErr.StatusCode)
	default:
		return "Search failed. Please try again."
	}
}
