package search

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketmaster/internal/backend"
	"github.com/JakeFAU/marketmaster/internal/clock/manual"
	"github.com/JakeFAU/marketmaster/internal/events"
	"github.com/JakeFAU/marketmaster/internal/id/uuid"
	"github.com/JakeFAU/marketmaster/internal/market"
	"github.com/JakeFAU/marketmaster/internal/nav"
	"github.com/JakeFAU/marketmaster/internal/profile"
	"github.com/JakeFAU/marketmaster/internal/storage/memory"
)

type fakeBackend struct {
	mu          sync.Mutex
	validations []string
	translates  []string
	fetches     []string
	sessions    []string

	valid        bool
	translateErr error
	fetchErr     error
	result       market.ProductsResult
	onFetch      func(call int, keyword string)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{valid: true}
}

func (b *fakeBackend) ValidateKeyword(_ context.Context, keyword string) (market.KeywordValidation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validations = append(b.validations, keyword)
	return market.KeywordValidation{Valid: b.valid, Normalized: keyword}, nil
}

func (b *fakeBackend) Translate(_ context.Context, text, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.translates = append(b.translates, text)
	if b.translateErr != nil {
		return "", b.translateErr
	}
	if text == "抗老精華" {
		return "anti-aging serum", nil
	}
	return text, nil
}

func (b *fakeBackend) FetchProducts(_ context.Context, keyword, sessionID string) (market.ProductsResult, error) {
	b.mu.Lock()
	b.fetches = append(b.fetches, keyword)
	b.sessions = append(b.sessions, sessionID)
	call := len(b.fetches)
	hook := b.onFetch
	result, err := b.result, b.fetchErr
	b.mu.Unlock()
	if hook != nil {
		hook(call, keyword)
	}
	if err != nil {
		return market.ProductsResult{}, err
	}
	if !result.Accepted {
		return market.ProductsResult{Products: productsFor(keyword)}, nil
	}
	return result, nil
}

func (b *fakeBackend) counts() (validate, translate, fetch int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.validations), len(b.translates), len(b.fetches)
}

func productsFor(keyword string) []market.Product {
	if keyword == "camera" {
		return []market.Product{
			{ID: 1, Title: "Camera A", Price: "10.00"},
			{ID: 2, Title: "Camera B", Price: "20.00"},
		}
	}
	return []market.Product{{ID: 99, Title: keyword}}
}

type fakeNotifier struct {
	mu       sync.Mutex
	sessions []string
}

func (n *fakeNotifier) Connect(sessionID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions = append(n.sessions, sessionID)
	return nil
}

func (n *fakeNotifier) Sessions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sessions...)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) Kinds(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, evt := range r.events {
		if evt.Kind == kind {
			out = append(out, evt)
		}
	}
	return out
}

type recordingNav struct {
	*nav.Location
	mu     sync.Mutex
	writes int
}

func (n *recordingNav) SetKeyword(keyword string) {
	n.mu.Lock()
	n.writes++
	n.mu.Unlock()
	n.Location.SetKeyword(keyword)
}

func (n *recordingNav) Writes() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.writes
}

type harness struct {
	coord    *Coordinator
	backend  *fakeBackend
	notifier *fakeNotifier
	profile  *profile.Profile
	nav      *recordingNav
	clock    *manual.Clock
	events   *recorder
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	clk := manual.New(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	loc, err := nav.Parse("https://shop.example.com/search")
	require.NoError(t, err)
	h := &harness{
		backend:  newFakeBackend(),
		notifier: &fakeNotifier{},
		profile:  profile.New(memory.NewStore(), uuid.New(), clk, nil),
		nav:      &recordingNav{Location: loc},
		clock:    clk,
		events:   &recorder{},
	}
	cfg := Config{
		Backend:   h.backend,
		Session:   h.profile,
		Notifier:  h.notifier,
		Navigator: h.nav,
		Clock:     clk,
		Emitter:   h.events,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.coord, err = New(cfg)
	require.NoError(t, err)
	t.Cleanup(h.coord.Close)
	return h
}

// run fires the debounce window and waits for the search to settle.
func (h *harness) run(t *testing.T) State {
	t.Helper()
	h.clock.Advance(DefaultDebounce)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.coord.Await(ctx))
	return h.coord.State()
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

// TestSearchDisplaysProducts ensures a ready keyword shows its products without a crawl notice.
func TestSearchDisplaysProducts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.coord.Search("camera", "en", true)
	state := h.run(t)

	require.Equal(t, PhaseDisplaying, state.Phase)
	require.Len(t, state.Products, 2)
	require.False(t, state.NotificationVisible)
	require.Empty(t, state.Notice)
	require.NoError(t, state.Err)
	require.Equal(t, "camera", state.TranslatedKeyword)
	require.False(t, state.Fetching())
	require.Empty(t, h.notifier.Sessions())
	require.Equal(t, "camera", h.nav.Keyword())
	require.Empty(t, h.events.Kinds(events.KindCrawlNotice))

	var phases []string
	for _, evt := range h.events.Kinds(events.KindSearchPhase) {
		phases = append(phases, evt.Phase)
	}
	require.Equal(t, []string{"validating", "translating", "fetching", "displaying"}, phases)
}

// TestSearchAcceptedSchedulesCrawl ensures a 202 records the keyword and connects the channel.
func TestSearchAcceptedSchedulesCrawl(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.backend.result = market.ProductsResult{Accepted: true}
	h.coord.Search("抗老精華", "zh-TW", true)
	state := h.run(t)

	require.Equal(t, PhaseAwaitingCrawl, state.Phase)
	require.True(t, state.NotificationVisible)
	require.Contains(t, state.Notice, "抗老精華")
	require.Empty(t, state.Products)
	require.Equal(t, "anti-aging serum", state.TranslatedKeyword)

	pending, err := h.profile.PendingKeywords(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"抗老精華"}, pending)

	sessionID, err := h.profile.SessionID(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{sessionID}, h.notifier.Sessions())
	require.Equal(t, []string{"anti-aging serum"}, h.backend.fetches)
	require.Equal(t, []string{sessionID}, h.backend.sessions)
	require.Len(t, h.events.Kinds(events.KindCrawlNotice), 1)
}

// TestSearchBlankKeywordMakesNoCalls ensures empty and whitespace keywords fail locally.
func TestSearchBlankKeywordMakesNoCalls(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "\t\n"} {
		h := newHarness(t, nil)
		h.coord.Search(raw, "en", true)
		state := h.run(t)

		require.Equal(t, PhaseFailed, state.Phase)
		require.ErrorIs(t, state.Err, ErrInvalidKeyword)
		v, tr, f := h.backend.counts()
		require.Zero(t, v+tr+f)
		require.Len(t, h.events.Kinds(events.KindToast), 1)
	}
}

// TestSearchRejectedKeywordStops ensures an invalid verdict skips translation and lookup.
func TestSearchRejectedKeywordStops(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.backend.valid = false
	h.coord.Search("asdfgh", "en", true)
	state := h.run(t)

	require.Equal(t, PhaseFailed, state.Phase)
	require.ErrorIs(t, state.Err, ErrInvalidKeyword)
	v, tr, f := h.backend.counts()
	require.Equal(t, 1, v)
	require.Zero(t, tr+f)
	require.Empty(t, h.nav.Keyword())
}

// TestSearchTranslationFailure ensures translation errors surface and stop the lookup.
func TestSearchTranslationFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.backend.translateErr = errors.New("quota exceeded")
	h.coord.Search("camera", "en", true)
	state := h.run(t)

	require.Equal(t, PhaseFailed, state.Phase)
	require.ErrorIs(t, state.Err, ErrTranslation)
	require.Contains(t, state.Error, "quota exceeded")
	_, _, f := h.backend.counts()
	require.Zero(t, f)
}

// TestSearchHTTPErrorThenRecover ensures a failed lookup carries the status and the next search still works.
func TestSearchHTTPErrorThenRecover(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.backend.fetchErr = &backend.HTTPError{StatusCode: http.StatusBadGateway, Message: "upstream"}
	h.coord.Search("camera", "en", false)
	state := h.run(t)

	require.Equal(t, PhaseFailed, state.Phase)
	require.True(t, backend.IsStatus(state.Err, http.StatusBadGateway))
	toasts := h.events.Kinds(events.KindToast)
	require.Len(t, toasts, 1)
	require.Equal(t, events.LevelError, toasts[0].Level)
	require.Contains(t, toasts[0].Message, "502")

	h.backend.mu.Lock()
	h.backend.fetchErr = nil
	h.backend.mu.Unlock()
	h.coord.Search("camera", "en", false)
	state = h.run(t)
	require.Equal(t, PhaseDisplaying, state.Phase)
	require.NoError(t, state.Err)
	require.Empty(t, state.Error)
}

// TestSearchDebounceCoalesces ensures repeated calls inside the window produce one round trip.
func TestSearchDebounceCoalesces(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.coord.Search("camera", "en", false)
	h.coord.Search("camera", "en", true)
	state := h.run(t)

	require.Equal(t, PhaseDisplaying, state.Phase)
	v, tr, f := h.backend.counts()
	require.Equal(t, []int{1, 1, 1}, []int{v, tr, f})
	require.Equal(t, "camera", h.nav.Keyword())

	// A call arriving inside the window re-arms it.
	h.coord.Search("lens", "en", false)
	h.clock.Advance(200 * time.Millisecond)
	h.coord.Search("tripod", "en", false)
	h.clock.Advance(200 * time.Millisecond)
	v, _, _ = h.backend.counts()
	require.Equal(t, 1, v)
	state = h.run(t)
	require.Equal(t, "tripod", state.Keyword)
	require.Equal(t, []string{"camera", "tripod"}, h.backend.validations)
}

// TestSearchDiscardsStaleGeneration ensures a slow superseded lookup cannot overwrite a newer one.
func TestSearchDiscardsStaleGeneration(t *testing.T) {
	t.Parallel()

	var h *harness
	h = newHarness(t, nil)
	h.backend.onFetch = func(call int, _ string) {
		if call == 1 {
			h.coord.Search("tripod", "en", false)
			h.clock.Advance(DefaultDebounce)
		}
	}
	h.coord.Search("camera", "en", false)
	state := h.run(t)

	require.Equal(t, PhaseDisplaying, state.Phase)
	require.Equal(t, "tripod", state.Keyword)
	require.Equal(t, []market.Product{{ID: 99, Title: "tripod"}}, state.Products)
	require.EqualValues(t, 2, state.Generation)
}

// TestMountSearchesWithoutWritingLocation ensures URL-driven searches do not loop back into the URL.
func TestMountSearchesWithoutWritingLocation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.nav.Location.SetKeyword("camera")
	require.True(t, h.coord.Mount())
	state := h.run(t)

	require.Equal(t, PhaseDisplaying, state.Phase)
	require.Zero(t, h.nav.Writes())
	require.Equal(t, "camera", h.nav.Keyword())

	empty := newHarness(t, nil)
	require.False(t, empty.coord.Mount())
}

// TestMountAndUserSearchInSameTick ensures the URL read and user action collapse into one lookup.
func TestMountAndUserSearchInSameTick(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.backend.result = market.ProductsResult{Accepted: true}
	h.nav.Location.SetKeyword("抗老精華")
	h.coord.Mount()
	h.coord.Search("抗老精華", "zh-TW", true)
	h.run(t)

	_, _, f := h.backend.counts()
	require.Equal(t, 1, f)
	require.Len(t, h.notifier.Sessions(), 1)
}

// TestCloseDiscardsInFlightResults ensures teardown leaves state untouched by running lookups.
func TestCloseDiscardsInFlightResults(t *testing.T) {
	t.Parallel()

	var h *harness
	h = newHarness(t, nil)
	h.backend.onFetch = func(int, string) { h.coord.Close() }
	h.coord.Search("camera", "en", false)
	state := h.run(t)

	require.Equal(t, PhaseFetching, state.Phase)
	require.Empty(t, state.Products)

	h.coord.Search("camera", "en", false)
	require.Empty(t, h.clock.Pending())
}

// TestHandleNotificationClearsPendingAndResumes ensures a delivered keyword leaves the pending list and is searched again.
func TestHandleNotificationClearsPendingAndResumes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *Config) { cfg.AutoResume = true })
	ctx := context.Background()
	require.NoError(t, h.profile.AddPendingKeyword(ctx, "camera"))
	require.NoError(t, h.profile.AddPendingKeyword(ctx, "lens"))

	h.coord.HandleNotification(ctx, market.Notification{ID: "1", Message: "Results ready", Keyword: "camera"})
	pending, err := h.profile.PendingKeywords(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"lens"}, pending)
	require.Len(t, h.events.Kinds(events.KindNotification), 1)

	state := h.run(t)
	require.Equal(t, PhaseDisplaying, state.Phase)
	require.Equal(t, "camera", state.Keyword)
	require.Equal(t, "camera", h.nav.Keyword())
}

// TestResumeWithoutKeyword ensures keyword-less notifications do not start a search.
func TestResumeWithoutKeyword(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.False(t, h.coord.Resume(market.Notification{Message: "hello"}))
	require.Empty(t, h.clock.Pending())
}

func TestAwaitHonoursContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.coord.Search("camera", "en", false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, h.coord.Await(ctx), context.Canceled)
}
