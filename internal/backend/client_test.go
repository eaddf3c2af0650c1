package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/marketmaster/internal/market"
)

type fakeCreds struct {
	mu      sync.Mutex
	token   string
	cleared int
}

func (f *fakeCreds) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeCreds) ClearToken(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	f.cleared++
	return nil
}

func (f *fakeCreds) Cleared() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleared
}

type recordingLimiter struct {
	mu        sync.Mutex
	endpoints []string
}

func (l *recordingLimiter) Wait(_ context.Context, endpoint string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.endpoints = append(l.endpoints, endpoint)
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc, creds Credentials) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/"}, creds)
	require.NoError(t, err)
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, payload any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
	_, err = New(Config{BaseURL: "not a url"}, nil)
	require.Error(t, err)
}

func TestValidateKeyword(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/validate_keyword", r.URL.Path)
		require.Equal(t, "抗老精華", r.URL.Query().Get("keyword"))
		writeJSON(t, w, http.StatusOK, map[string]any{"valid": true, "normalized_keyword": "抗老精華"})
	}, nil)

	got, err := c.ValidateKeyword(context.Background(), "抗老精華")
	require.NoError(t, err)
	require.Equal(t, market.KeywordValidation{Valid: true, Normalized: "抗老精華"}, got)
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/translate", r.URL.Path)
		require.Equal(t, "抗老精華", r.URL.Query().Get("text"))
		require.Equal(t, "en", r.URL.Query().Get("dest"))
		writeJSON(t, w, http.StatusOK, map[string]string{"translated_text": "anti-aging serum"})
	}, nil)

	got, err := c.Translate(context.Background(), "抗老精華", "en")
	require.NoError(t, err)
	require.Equal(t, "anti-aging serum", got)
}

func TestFetchProductsReady(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fetch_products", r.URL.Path)
		require.Equal(t, "camera", r.URL.Query().Get("keyword"))
		require.Equal(t, "sess-1", r.URL.Query().Get("sessionId"))
		writeJSON(t, w, http.StatusOK, []map[string]any{
			{"id": 1, "product_title": "Camera A", "price": "10.00"},
			{"id": 2, "product_title": "Camera B", "price": "20.00"},
		})
	}, nil)

	got, err := c.FetchProducts(context.Background(), "camera", "sess-1")
	require.NoError(t, err)
	require.False(t, got.Accepted)
	require.Len(t, got.Products, 2)
	require.Equal(t, "Camera B", got.Products[1].Title)
}

func TestFetchProductsAccepted(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusAccepted, map[string]string{"message": "crawl scheduled"})
	}, nil)

	got, err := c.FetchProducts(context.Background(), "anti-aging serum", "sess-1")
	require.NoError(t, err)
	require.True(t, got.Accepted)
	require.Empty(t, got.Products)
}

func TestFetchProductsServerError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, map[string]string{"detail": "database offline"})
	}, nil)

	_, err := c.FetchProducts(context.Background(), "camera", "sess-1")
	require.Error(t, err)
	require.True(t, IsStatus(err, http.StatusInternalServerError))
	require.ErrorContains(t, err, "HTTP 500: database offline")
}

func TestSignInPostsPasswordForm(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/signin", r.URL.Path)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "ada@example.com", r.PostForm.Get("username"))
		require.Equal(t, "hunter2", r.PostForm.Get("password"))
		writeJSON(t, w, http.StatusOK, map[string]string{"access_token": "tok-1", "token_type": "bearer"})
	}, nil)

	token, err := c.SignIn(context.Background(), "ada@example.com", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "tok-1", token)
}

func TestSignInInvalidCredentials(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
	}, nil)

	_, err := c.SignIn(context.Background(), "ada@example.com", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorContains(t, err, "Invalid credentials")
}

func TestSignUpPostsJSON(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/signup", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, map[string]string{"name": "Ada", "email": "ada@example.com", "password": "pw"}, body)
		writeJSON(t, w, http.StatusOK, map[string]string{"message": "User created successfully!"})
	}, nil)

	msg, err := c.SignUp(context.Background(), "Ada", "ada@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, "User created successfully!", msg)
}

func TestProfileSendsBearer(t *testing.T) {
	t.Parallel()

	creds := &fakeCreds{token: "tok-1"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, map[string]string{"name": "Ada", "email": "ada@example.com"})
	}, creds)

	got, err := c.Profile(context.Background())
	require.NoError(t, err)
	require.Equal(t, market.UserProfile{Name: "Ada", Email: "ada@example.com"}, got)
}

func TestAuthenticatedUnauthorizedClearsToken(t *testing.T) {
	t.Parallel()

	creds := &fakeCreds{token: "stale"}
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
	}, creds)

	_, err := c.Profile(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, 1, creds.Cleared())

	token, _ := creds.Token(context.Background())
	require.Empty(t, token)
}

func TestAuthenticatedWithoutTokenSkipsNetwork(t *testing.T) {
	t.Parallel()

	called := false
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		called = true
	}, &fakeCreds{})

	_, err := c.SavedList(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	require.False(t, called)

	anonymous, err := New(Config{BaseURL: "http://localhost:1"}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, anonymous.UnsaveProduct(context.Background(), 1), ErrUnauthorized)
}

func TestSavedListNotFoundIsEmpty(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/get_savedLists", r.URL.Path)
		writeJSON(t, w, http.StatusNotFound, map[string]string{"detail": "No product found for current user"})
	}, &fakeCreds{token: "tok"})

	got, err := c.SavedList(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestSavedListDecodesProducts(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, []map[string]any{
			{"id": 5, "mainImage_url": "https://img/5", "title": "Lens", "price": "99.00", "rating": "4.1", "reviews": "12"},
		})
	}, &fakeCreds{token: "tok"})

	got, err := c.SavedList(context.Background())
	require.NoError(t, err)
	require.Equal(t, []market.Product{{
		ID: 5, Title: "Lens", ImageURL: "https://img/5", Price: "99.00", Rating: "4.1", ReviewCount: "12",
	}}, got)
}

func TestSaveProduct(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/save_to_savedLists", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"product_id": 42}`, string(body))
		writeJSON(t, w, http.StatusOK, map[string]string{"message": "Product saved successfully!"})
	}, &fakeCreds{token: "tok"})

	msg, err := c.SaveProduct(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, "Product saved successfully!", msg)
}

func TestSaveProductAlreadySaved(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, map[string]string{"detail": "Product already saved"})
	}, &fakeCreds{token: "tok"})

	_, err := c.SaveProduct(context.Background(), 42)
	require.ErrorIs(t, err, ErrAlreadySaved)
	require.False(t, errors.Is(err, ErrUnauthorized))

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, "Product already saved", httpErr.Message)
}

func TestUnsaveProduct(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/unsave_product/42", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]string{"message": "Product unsaved successfully!"})
	}, &fakeCreds{token: "tok"})

	require.NoError(t, c.UnsaveProduct(context.Background(), 42))
}

func TestStatisticsAndSuggestedTitle(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fetch_statistics":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"seller_count":    3,
				"price_range":     []float64{9.5, 30},
				"average_price":   19.5,
				"average_rating":  4.2,
				"average_reviews": 120,
			})
		case "/suggested_title":
			writeJSON(t, w, http.StatusOK, "Crystal Clear Camera")
		default:
			http.NotFound(w, r)
		}
	}, nil)

	stats, err := c.Statistics(context.Background(), "camera")
	require.NoError(t, err)
	require.Equal(t, market.Statistics{
		SellerCount:    3,
		PriceRange:     [2]float64{9.5, 30},
		AveragePrice:   19.5,
		AverageRating:  4.2,
		AverageReviews: 120,
	}, stats)

	title, err := c.SuggestedTitle(context.Background(), "camera")
	require.NoError(t, err)
	require.Equal(t, "Crystal Clear Camera", title)
}

func TestLimiterSeesEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]string{"translated_text": "x"})
	}))
	defer srv.Close()

	limiter := &recordingLimiter{}
	c, err := New(Config{BaseURL: srv.URL, Limiter: limiter}, nil)
	require.NoError(t, err)

	_, err = c.Translate(context.Background(), "a", "en")
	require.NoError(t, err)
	require.Equal(t, []string{"translate"}, limiter.endpoints)
}

func TestValidationErrorDetailList(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "field required"}},
		})
	}, nil)

	_, err := c.ValidateKeyword(context.Background(), "")
	require.True(t, IsStatus(err, http.StatusUnprocessableEntity))
	require.ErrorContains(t, err, "field required")
}

// TestRequestsAreTraced ensures each call produces a client span carrying its status.
func TestRequestsAreTraced(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/translate" {
			writeJSON(t, w, http.StatusBadGateway, map[string]string{"detail": "upstream down"})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"valid": true, "normalized_keyword": "camera"})
	}))
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Tracer: tp.Tracer("test")}, nil)
	require.NoError(t, err)

	_, err = c.ValidateKeyword(context.Background(), "camera")
	require.NoError(t, err)
	_, err = c.Translate(context.Background(), "camera", "en")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "backend.validate_keyword", spans[0].Name())
	require.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	require.Equal(t, codes.Unset, spans[0].Status().Code)
	require.Contains(t, spans[0].Attributes(), attribute.Int("http.status_code", http.StatusOK))

	require.Equal(t, "backend.translate", spans[1].Name())
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Contains(t, spans[1].Attributes(), attribute.Int("http.status_code", http.StatusBadGateway))
}
