// Package nav holds the shareable search location: the page URL whose
// keyword query parameter reproduces a search.
package nav

import (
	"fmt"
	"net/url"
	"sync"
)

// KeywordParam is the query parameter carrying the raw search keyword.
const KeywordParam = "keyword"

// Location is a navigable URL. It is safe for concurrent use.
type Location struct {
	mu  sync.RWMutex
	url *url.URL
}

// Parse builds a Location from raw, which must be absolute.
func Parse(raw string) (*Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse location: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("location %q must be absolute", raw)
	}
	return &Location{url: u}, nil
}

// Keyword returns the keyword query value, or "" when absent.
func (l *Location) Keyword() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.url.Query().Get(KeywordParam)
}

// SetKeyword replaces the keyword query value. Other parameters are kept.
func (l *Location) SetKeyword(keyword string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.url.Query()
	q.Set(KeywordParam, keyword)
	l.url.RawQuery = q.Encode()
}

func (l *Location) String() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.url.String()
}
