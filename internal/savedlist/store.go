// Package savedlist holds the signed-in user's saved products and keeps them
// in step with the backend. Saves are optimistic; removals wait for the
// server.
package savedlist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/marketmaster/internal/backend"
	"github.com/JakeFAU/marketmaster/internal/clock/system"
	"github.com/JakeFAU/marketmaster/internal/events"
	"github.com/JakeFAU/marketmaster/internal/market"
	"github.com/JakeFAU/marketmaster/internal/metrics"
)

// Backend is the saved-list slice of the API client.
type Backend interface {
	SavedList(ctx context.Context) ([]market.Product, error)
	SaveProduct(ctx context.Context, productID int64) (string, error)
	UnsaveProduct(ctx context.Context, productID int64) error
}

// Credentials exposes the stored bearer token.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	ClearToken(ctx context.Context) error
}

// Result is the outcome of Save. Save never returns an error.
type Result struct {
	Success bool
	Message string
	// Unauthorized means the session expired and the user must sign in again.
	Unauthorized bool
	// Duplicate means the server already had the product.
	Duplicate bool
}

const (
	savedMessage        = "Product saved successfully!"
	unauthorizedMessage = "Unauthorized"
)

type pendingSave struct {
	product market.Product
	refs    int
}

// change is the last settled local mutation of one id.
type change struct {
	present bool
	product market.Product
	seq     uint64
}

// Store is the SavedListStore. It is safe for concurrent use.
type Store struct {
	backend Backend
	creds   Credentials
	clock   market.Clock
	emitter events.Emitter
	logger  *zap.Logger
	group   singleflight.Group

	mu           sync.Mutex
	items        []market.Product
	pending      map[int64]*pendingSave
	changes      map[int64]change
	seq          uint64
	loadEpoch    uint64
	appliedEpoch uint64
}

// Option customizes a Store.
type Option func(*Store)

// WithEmitter routes SAVED_CHANGED events to e.
func WithEmitter(e events.Emitter) Option {
	return func(s *Store) { s.emitter = e }
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the clock used to stamp events.
func WithClock(c market.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New creates an empty Store.
func New(b Backend, creds Credentials, opts ...Option) *Store {
	s := &Store{
		backend: b,
		creds:   creds,
		pending: make(map[int64]*pendingSave),
		changes: make(map[int64]change),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = system.New()
	}
	if s.emitter == nil {
		s.emitter = events.Discard
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Load replaces the local set with the server's. Without a token it does
// nothing. A 401 clears the token, empties the set and is not an error.
// Saves still in flight and mutations settled after the load began win over
// the server snapshot.
func (s *Store) Load(ctx context.Context) error {
	token, err := s.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if token == "" {
		return nil
	}

	s.mu.Lock()
	s.loadEpoch++
	epoch := s.loadEpoch
	startSeq := s.seq
	s.mu.Unlock()

	remote, err := s.backend.SavedList(ctx)
	if errors.Is(err, backend.ErrUnauthorized) {
		s.clearToken(ctx)
		s.mu.Lock()
		if epoch > s.appliedEpoch {
			s.appliedEpoch = epoch
			s.items = nil
			s.changes = make(map[int64]change)
		}
		s.mu.Unlock()
		s.announce()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load saved products: %w", err)
	}

	s.mu.Lock()
	if epoch < s.appliedEpoch {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded saved-list load", zap.Uint64("epoch", epoch))
		return nil
	}
	s.appliedEpoch = epoch
	s.items = s.items[:0:0]
	for _, p := range remote {
		s.addLocked(p)
	}
	for id, ch := range s.changes {
		if ch.seq <= startSeq {
			delete(s.changes, id)
			continue
		}
		if ch.present {
			s.addLocked(ch.product)
		} else {
			s.removeLocked(id)
		}
	}
	for _, ps := range s.pending {
		s.addLocked(ps.product)
	}
	s.mu.Unlock()
	s.announce()
	return nil
}

// Save adds p locally at once and confirms it with the backend. Concurrent
// saves of one id share a single request. A declined save is rolled back,
// except for a duplicate, which the server already holds.
func (s *Store) Save(ctx context.Context, p market.Product) Result {
	s.mu.Lock()
	added := s.addLocked(p)
	if ps, ok := s.pending[p.ID]; ok {
		ps.refs++
	} else {
		s.pending[p.ID] = &pendingSave{product: p, refs: 1}
	}
	s.mu.Unlock()
	if added {
		s.announce()
	}

	v, err, _ := s.group.Do(strconv.FormatInt(p.ID, 10), func() (any, error) {
		return s.backend.SaveProduct(ctx, p.ID)
	})

	var res Result
	keep := true
	switch {
	case err == nil:
		msg, _ := v.(string)
		if msg == "" {
			msg = savedMessage
		}
		res = Result{Success: true, Message: msg}
	case errors.Is(err, backend.ErrAlreadySaved):
		res = Result{Message: backend.AlreadySavedDetail, Duplicate: true}
	case errors.Is(err, backend.ErrUnauthorized):
		s.clearToken(ctx)
		res = Result{Message: unauthorizedMessage, Unauthorized: true}
		keep = false
	default:
		res = Result{Message: failureMessage(err)}
		keep = false
	}

	s.mu.Lock()
	if ps, ok := s.pending[p.ID]; ok {
		ps.refs--
		if ps.refs <= 0 {
			delete(s.pending, p.ID)
		}
	}
	changed := false
	if keep {
		changed = s.addLocked(p)
		s.recordLocked(p.ID, true, p)
	} else if added {
		changed = s.removeLocked(p.ID)
		s.recordLocked(p.ID, false, p)
	}
	s.mu.Unlock()
	if changed {
		s.announce()
	}
	if !res.Success {
		s.logger.Info("save product declined",
			zap.Int64("product_id", p.ID),
			zap.String("message", res.Message),
			zap.Bool("rolled_back", !keep && changed),
		)
	}
	return res
}

// Remove deletes productID on the server and, once confirmed, locally. On
// failure the entry stays and the error is returned; a 401 also clears the
// token and wraps backend.ErrUnauthorized.
func (s *Store) Remove(ctx context.Context, productID int64) error {
	if err := s.backend.UnsaveProduct(ctx, productID); err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			s.clearToken(ctx)
		}
		return fmt.Errorf("remove product %d: %w", productID, err)
	}
	s.mu.Lock()
	s.removeLocked(productID)
	s.recordLocked(productID, false, market.Product{ID: productID})
	s.mu.Unlock()
	s.announce()
	return nil
}

// Reset forgets every entry, as after sign-out.
func (s *Store) Reset() {
	s.mu.Lock()
	s.items = nil
	s.changes = make(map[int64]change)
	s.loadEpoch++
	s.appliedEpoch = s.loadEpoch
	s.mu.Unlock()
	s.announce()
}

// Products returns the saved products in insertion order.
func (s *Store) Products() []market.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]market.Product{}, s.items...)
}

// Contains reports whether productID is saved.
func (s *Store) Contains(productID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexLocked(productID) >= 0
}

// Len returns the number of saved products.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) indexLocked(id int64) int {
	for i, p := range s.items {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) addLocked(p market.Product) bool {
	if s.indexLocked(p.ID) >= 0 {
		return false
	}
	s.items = append(s.items, p)
	return true
}

func (s *Store) removeLocked(id int64) bool {
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

func (s *Store) recordLocked(id int64, present bool, p market.Product) {
	s.seq++
	s.changes[id] = change{present: present, product: p, seq: s.seq}
}

func (s *Store) clearToken(ctx context.Context) {
	if err := s.creds.ClearToken(ctx); err != nil {
		s.logger.Warn("clear token", zap.Error(err))
	}
}

func (s *Store) announce() {
	n := s.Len()
	metrics.SetSavedItems(n)
	s.emitter.Emit(events.Event{
		Kind:  events.KindSavedChanged,
		TS:    s.clock.Now(),
		Count: n,
	})
}

func failureMessage(err error) string {
	var httpErr *backend.HTTPError
	if errors.As(err, &httpErr) && httpErr.Message != "" {
		return httpErr.Message
	}
	return err.Error()
}
