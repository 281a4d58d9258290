// Package transport performs authenticated JSON calls against the API with
// bounded fixed-delay retries and classified error responses.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/telhawk-systems/eventfeed/common/logging"
	"github.com/telhawk-systems/eventfeed/internal/metrics"
	"github.com/telhawk-systems/eventfeed/pkg/sdkerr"
)

// DefaultFetchTimeout bounds a single attempt when no timeout is given.
const DefaultFetchTimeout = 45 * time.Second

// TokenSource supplies the bearer token and keeps it fresh.
type TokenSource interface {
	AccessToken() string
	AutoRefresh(ctx context.Context) bool
}

// Options tunes a Client.
type Options struct {
	// AutoRefresh checks the credential before every call.
	AutoRefresh bool
	// RetrierCount and RetrierDelay configure the retry policy. Zero
	// values select the defaults.
	RetrierCount int
	RetrierDelay time.Duration
	// FetchTimeout bounds one attempt. Zero selects DefaultFetchTimeout.
	FetchTimeout time.Duration
	// RateLimit caps calls per second. Zero disables limiting.
	RateLimit  float64
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		AutoRefresh:  true,
		RetrierCount: DefaultRetrierCount,
		RetrierDelay: DefaultRetrierDelay,
		FetchTimeout: DefaultFetchTimeout,
	}
}

// Response is the status and raw body of the last completed call.
type Response struct {
	StatusCode int
	Body       []byte
}

// Stats holds transport counters.
type Stats struct {
	APITransactions int64 `json:"apiTransactions"`
}

// Client issues requests relative to a base URL.
type Client struct {
	baseURL      string
	tokens       TokenSource
	httpClient   *http.Client
	policy       Policy
	autoRefresh  bool
	fetchTimeout time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger

	apiTransactions atomic.Int64

	mu   sync.Mutex
	last *Response
}

// New creates a Client. tokens may be nil for unauthenticated endpoints.
func New(baseURL string, tokens TokenSource, opts Options) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokens:       tokens,
		httpClient:   opts.HTTPClient,
		policy:       Policy{Attempts: opts.RetrierCount, Delay: opts.RetrierDelay},
		autoRefresh:  opts.AutoRefresh,
		fetchTimeout: opts.FetchTimeout,
		logger:       logging.OrDiscard(opts.Logger),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.policy.Attempts <= 0 {
		c.policy.Attempts = DefaultRetrierCount
	}
	if c.policy.Delay <= 0 {
		c.policy.Delay = DefaultRetrierDelay
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = DefaultFetchTimeout
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// BaseURL returns the URL all paths are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get is Request with GET.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, path, nil, 0)
}

// Post is Request with POST.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPost, path, body, 0)
}

// Do performs Request and decodes a non-empty result into out.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	raw, err := c.Request(ctx, method, path, body, 0)
	if err != nil {
		return err
	}
	if raw == nil || out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return sdkerr.Parser("transport.Do", "unexpected response shape", err)
	}
	return nil
}

// Request performs one authenticated call. It returns nil for an empty
// response body, the raw JSON document otherwise. A body that is not JSON
// is a Parser error, even when the status is not 2xx. A non-2xx response
// carrying JSON is an ApplicationFrameworkError. Transport failures are
// retried and the last one is returned unchanged.
func (c *Client) Request(ctx context.Context, method, path string, body any, timeout time.Duration) (json.RawMessage, error) {
	if c.autoRefresh && c.tokens != nil {
		c.tokens.AutoRefresh(ctx)
	}

	payload, err := encodeBody(body)
	if err != nil {
		return nil, sdkerr.Config("transport.Request", "cannot encode request body", err)
	}
	if timeout <= 0 {
		timeout = c.fetchTimeout
	}

	requestID := uuid.New().String()
	ctx = logging.ContextWithRequestID(ctx, requestID)
	url := c.baseURL + path
	log := logging.FromContext(ctx, c.logger)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	log.Debug("api request", logging.Method(method), logging.URL(url))
	start := time.Now()
	attempt := 0
	resp, err := Retry(ctx, c.policy, func(ctx context.Context) (*Response, error) {
		attempt++
		r, err := c.roundTrip(ctx, method, url, requestID, payload, timeout)
		if err != nil {
			log.Warn("api request attempt failed", logging.Attempt(attempt), logging.URL(url), logging.Error(err))
		}
		return r, err
	})
	c.apiTransactions.Add(1)
	metrics.RequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APITransactions.WithLabelValues(method, metrics.OutcomeFailure).Inc()
		return nil, err
	}

	c.mu.Lock()
	c.last = resp
	c.mu.Unlock()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	outcome := metrics.OutcomeSuccess
	if !ok {
		outcome = metrics.OutcomeFailure
	}
	metrics.APITransactions.WithLabelValues(method, outcome).Inc()

	trimmed := bytes.TrimSpace(resp.Body)
	if len(trimmed) == 0 {
		if !ok {
			log.Warn("empty response body with error status", logging.URL(url), logging.Status(resp.StatusCode))
		}
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, sdkerr.Parser("transport.Request", fmt.Sprintf("invalid JSON from %s %s (status %d)", method, path, resp.StatusCode), nil)
	}
	if !ok {
		log.Error("api error response", logging.URL(url), logging.Status(resp.StatusCode), slog.String("body", string(trimmed)))
		return nil, sdkerr.NewApplicationFramework(resp.StatusCode, json.RawMessage(trimmed))
	}
	return json.RawMessage(trimmed), nil
}

func (c *Client) roundTrip(ctx context.Context, method, url, requestID string, payload []byte, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.tokens != nil {
		req.Header.Set("Authorization", "Bearer "+c.tokens.AccessToken())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

// LastResponse returns the last completed response, or nil.
func (c *Client) LastResponse() *Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Stats returns a snapshot of the transport counters.
func (c *Client) Stats() Stats {
	return Stats{APITransactions: c.apiTransactions.Load()}
}
