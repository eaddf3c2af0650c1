// Package status serves the client's live state on a local HTTP port for
// inspection while the watcher runs.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketmaster/internal/market"
	"github.com/JakeFAU/marketmaster/internal/metrics"
	"github.com/JakeFAU/marketmaster/internal/notify"
	"github.com/JakeFAU/marketmaster/internal/search"
)

// SearchView exposes the coordinator snapshot.
type SearchView interface {
	State() search.State
}

// ChannelView exposes the notification channel.
type ChannelView interface {
	State() notify.State
	SessionID() string
	Unread() int
	MarkRead()
}

// SavedView exposes the saved list.
type SavedView interface {
	Products() []market.Product
}

// PendingView lists keywords whose crawl has not been announced yet.
type PendingView interface {
	PendingKeywords(ctx context.Context) ([]string, error)
}

// Deps groups the read models behind the routes.
type Deps struct {
	Search  SearchView
	Channel ChannelView
	Saved   SavedView
	Pending PendingView
}

// Server wires HTTP handlers to the client components.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/search", s.getSearch)
		r.Get("/notifications", s.getNotifications)
		r.Post("/notifications/read", s.markRead)
		r.Get("/saved", s.getSaved)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("status server listening", zap.String("addr", addr))
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getSearch(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Search == nil {
		writeError(w, http.StatusNotFound, "search not available")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Search.State())
}

type notificationsResponse struct {
	SessionID       string   `json:"session_id"`
	State           string   `json:"state"`
	Unread          int      `json:"unread"`
	PendingKeywords []string `json:"pending_keywords"`
}

func (s *Server) getNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.Channel == nil {
		writeError(w, http.StatusNotFound, "notification channel not available")
		return
	}
	resp := notificationsResponse{
		SessionID:       s.deps.Channel.SessionID(),
		State:           string(s.deps.Channel.State()),
		Unread:          s.deps.Channel.Unread(),
		PendingKeywords: []string{},
	}
	if s.deps.Pending != nil {
		keywords, err := s.deps.Pending.PendingKeywords(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read pending keywords")
			return
		}
		if keywords != nil {
			resp.PendingKeywords = keywords
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) markRead(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Channel == nil {
		writeError(w, http.StatusNotFound, "notification channel not available")
		return
	}
	s.deps.Channel.MarkRead()
	writeJSON(w, http.StatusOK, map[string]int{"unread": s.deps.Channel.Unread()})
}

func (s *Server) getSaved(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Saved == nil {
		writeError(w, http.StatusNotFound, "saved list not available")
		return
	}
	products := s.deps.Saved.Products()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(products), "products": products})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
