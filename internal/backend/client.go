// Package backend is the typed HTTP client for the storefront research API:
// keyword validation, translation, product lookup, accounts and saved lists.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketmaster/internal/metrics"
)

const tracerName = "github.com/JakeFAU/marketmaster/internal/backend"

// Credentials supplies the bearer token for authenticated calls and is told
// to forget it when the backend rejects it.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	ClearToken(ctx context.Context) error
}

// Limiter throttles outbound calls per endpoint.
type Limiter interface {
	Wait(ctx context.Context, endpoint string) error
}

// Config controls how the client reaches the backend.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Limiter    Limiter
	Logger     *zap.Logger
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// Client is the storefront API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
	limiter    Limiter
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New creates a new API client. creds may be nil when only anonymous
// endpoints are used.
func New(cfg Config, creds Credentials) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		creds:      creds,
		limiter:    cfg.Limiter,
		logger:     logger,
		tracer:     tracer,
	}, nil
}

type request struct {
	method   string
	endpoint string
	path     string
	query    url.Values
	json     any
	form     url.Values
	auth     bool
}

// do sends req and decodes a successful body into out. It returns the HTTP
// status for callers that branch on 2xx variants.
func (c *Client) do(ctx context.Context, req request, out any) (status int, err error) {
	ctx, span := c.tracer.Start(ctx, "backend."+req.endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.method),
			attribute.String("marketmaster.endpoint", req.endpoint),
		),
	)
	defer func() {
		if status > 0 {
			span.SetAttributes(attribute.Int("http.status_code", status))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var token string
	if req.auth {
		if c.creds == nil {
			return 0, fmt.Errorf("%s: %w: no credentials configured", req.endpoint, ErrUnauthorized)
		}
		t, err := c.creds.Token(ctx)
		if err != nil {
			return 0, fmt.Errorf("read token: %w", err)
		}
		if t == "" {
			return 0, fmt.Errorf("%s: %w: not signed in", req.endpoint, ErrUnauthorized)
		}
		token = t
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, req.endpoint); err != nil {
			return 0, err //nolint:wrapcheck // already wrapped by the limiter
		}
	}

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return 0, err
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.ObserveAPIRequest(req.endpoint, 0, time.Since(start))
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close
	metrics.ObserveAPIRequest(req.endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 400 {
		httpErr := readHTTPError(resp)
		c.logger.Debug("backend call failed",
			zap.String("endpoint", req.endpoint),
			zap.Int("status", httpErr.StatusCode),
			zap.String("detail", httpErr.Message),
		)
		if req.auth && resp.StatusCode == http.StatusUnauthorized {
			if clearErr := c.creds.ClearToken(ctx); clearErr != nil {
				c.logger.Warn("clear rejected token failed", zap.Error(clearErr))
			}
		}
		return resp.StatusCode, httpErr
	}

	if out != nil && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", req.endpoint, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) newRequest(ctx context.Context, req request) (*http.Request, error) {
	target := c.baseURL + "/" + strings.TrimLeft(req.path, "/")
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.json != nil:
		data, err := json.Marshal(req.json)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case req.form != nil:
		body = strings.NewReader(req.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}

// readHTTPError extracts the FastAPI {"detail": ...} message, falling back to
// {"error": ...} and then the raw body.
func readHTTPError(resp *http.Response) *HTTPError {
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
	if err != nil {
		return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", err)}
	}
	var apiErr struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if json.Unmarshal(respBody, &apiErr) == nil {
		if len(apiErr.Detail) > 0 {
			var detail string
			if json.Unmarshal(apiErr.Detail, &detail) == nil {
				return &HTTPError{StatusCode: resp.StatusCode, Message: detail}
			}
			return &HTTPError{StatusCode: resp.StatusCode, Message: string(apiErr.Detail)}
		}
		if apiErr.Error != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
}
