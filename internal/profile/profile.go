// Package profile owns the durable per-profile client identity: the anonymous
// session id, the sign-in token, and the keywords still waiting on a crawl.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketmaster/internal/market"
)

// Storage keys. They match the keys the web client keeps in local storage.
const (
	KeySessionID = "sessionId"
	KeyToken     = "token"
	KeyKeywords  = "keywords"
)

// Profile is safe for concurrent use. All state lives in the injected
// storage; nothing is cached in memory.
type Profile struct {
	store  market.Storage
	ids    market.IDGenerator
	clock  market.Clock
	logger *zap.Logger

	sessionMu  sync.Mutex
	keywordsMu sync.Mutex
}

// New wires a Profile over store.
func New(store market.Storage, ids market.IDGenerator, clock market.Clock, logger *zap.Logger) *Profile {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Profile{store: store, ids: ids, clock: clock, logger: logger}
}

// SessionID returns the persisted session id, generating and persisting a
// fresh one on first use. Errors only come from the backing store.
func (p *Profile) SessionID(ctx context.Context) (string, error) {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()

	id, ok, err := p.store.Get(ctx, KeySessionID)
	if err != nil {
		return "", fmt.Errorf("read session id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}
	id, err = p.ids.NewV4ID()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	if err := p.store.Set(ctx, KeySessionID, id); err != nil {
		return "", fmt.Errorf("persist session id: %w", err)
	}
	p.logger.Debug("created session id", zap.String("session_id", id))
	return id, nil
}

// Token returns the stored bearer token or "" when anonymous. A JWT whose
// exp claim has passed is cleared and reported as absent; opaque tokens are
// returned untouched.
func (p *Profile) Token(ctx context.Context) (string, error) {
	token, ok, err := p.store.Get(ctx, KeyToken)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if !ok || token == "" {
		return "", nil
	}
	if exp, isJWT := expiry(token); isJWT && !exp.IsZero() && !p.clock.Now().Before(exp) {
		p.logger.Info("stored token expired", zap.Time("expired_at", exp))
		if err := p.ClearToken(ctx); err != nil {
			return "", err
		}
		return "", nil
	}
	return token, nil
}

// SetToken persists the token returned by sign-in.
func (p *Profile) SetToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("token is required")
	}
	if err := p.store.Set(ctx, KeyToken, token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

// ClearToken drops the token (sign-out or an authorization failure).
func (p *Profile) ClearToken(ctx context.Context) error {
	if err := p.store.Delete(ctx, KeyToken); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

// PendingKeywords lists raw keywords still waiting on crawl completion, in
// the order they were recorded.
func (p *Profile) PendingKeywords(ctx context.Context) ([]string, error) {
	p.keywordsMu.Lock()
	defer p.keywordsMu.Unlock()
	return p.loadKeywords(ctx)
}

// AddPendingKeyword appends keyword. Repeats are kept.
func (p *Profile) AddPendingKeyword(ctx context.Context, keyword string) error {
	p.keywordsMu.Lock()
	defer p.keywordsMu.Unlock()
	keywords, err := p.loadKeywords(ctx)
	if err != nil {
		return err
	}
	return p.saveKeywords(ctx, append(keywords, keyword))
}

// RemovePendingKeyword drops every occurrence of keyword.
func (p *Profile) RemovePendingKeyword(ctx context.Context, keyword string) error {
	p.keywordsMu.Lock()
	defer p.keywordsMu.Unlock()
	keywords, err := p.loadKeywords(ctx)
	if err != nil {
		return err
	}
	kept := keywords[:0]
	for _, k := range keywords {
		if k != keyword {
			kept = append(kept, k)
		}
	}
	if len(kept) == len(keywords) {
		return nil
	}
	return p.saveKeywords(ctx, kept)
}

func (p *Profile) loadKeywords(ctx context.Context) ([]string, error) {
	raw, ok, err := p.store.Get(ctx, KeyKeywords)
	if err != nil {
		return nil, fmt.Errorf("read keywords: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	var keywords []string
	if err := json.Unmarshal([]byte(raw), &keywords); err != nil {
		p.logger.Warn("discarding unreadable keyword list", zap.Error(err))
		return []string{}, nil
	}
	return keywords, nil
}

func (p *Profile) saveKeywords(ctx context.Context, keywords []string) error {
	data, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	if err := p.store.Set(ctx, KeyKeywords, string(data)); err != nil {
		return fmt.Errorf("persist keywords: %w", err)
	}
	return nil
}

// expiry reads the exp claim without verifying the signature; the client
// never holds the signing key.
func expiry(token string) (time.Time, bool) {
	parsed, err := jwt.ParseString(token, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return time.Time{}, false
	}
	return parsed.Expiration(), true
}
