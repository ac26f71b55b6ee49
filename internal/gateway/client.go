// Package gateway implements the authenticated vendor API client: token
// resolution, a FIFO request queue, the rate-limit gate and 429 retry.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polarityio/dataminr-pulse-limited/internal/config"
	"github.com/polarityio/dataminr-pulse-limited/internal/metrics"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxResponseBytes bounds a response body read; bulk archives are the
// largest expected payload.
const maxResponseBytes = 64 * 1024 * 1024

// RequestSpec describes one vendor API call.
type RequestSpec struct {
	// Route is the path under the base URL, e.g. "api/v1/alerts".
	Route  string
	Method string // defaults to GET
	Query  url.Values
	Header http.Header

	// Signed selects the HMAC scheme of the bulk download API instead of
	// bearer token auth; signed requests go to the download URL.
	Signed bool

	// ResultID tags the response in Parallel fan-outs.
	ResultID string
}

// Response is a vendor reply with the body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type queueResult struct {
	resp *Response
	err  error
}

type queuedRequest struct {
	id     string
	ctx    context.Context
	spec   RequestSpec
	result chan queueResult
}

// Client is the vendor API client. Every outbound call passes through a
// single-consumer FIFO queue, so requests are serialized process-wide and
// the rate-limit gate sees them one at a time.
type Client struct {
	cfg     *config.Config
	http    HTTPClient
	log     *slog.Logger
	metrics *metrics.Metrics

	tokens *tokenCache
	gate   *rateGate

	requests chan *queuedRequest
	stop     chan struct{}
	stopOnce sync.Once

	queueTimeout time.Duration
	maxRetries   int
}

// NewClient returns a client with a running queue consumer. A nil
// httpClient falls back to a 30s-timeout default.
func NewClient(cfg *config.Config, httpClient HTTPClient, logger *slog.Logger, m *metrics.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		cfg:          cfg,
		http:         httpClient,
		log:          logger,
		metrics:      m,
		tokens:       newTokenCache(httpClient, cfg.URL),
		gate:         &rateGate{},
		requests:     make(chan *queuedRequest, config.MaxQueueSize),
		stop:         make(chan struct{}),
		queueTimeout: config.QueueRequestTimeout,
		maxRetries:   config.MaxRetries,
	}
	c.tokens.onRefresh = m.TokenRefreshes.Inc
	go c.consume()
	return c
}

// Close stops the queue consumer. Requests still queued fail with their
// queue timeout; the in-flight one finishes naturally.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// RateLimit reports the last advertised vendor rate-limit window.
func (c *Client) RateLimit() RateLimit {
	return c.gate.snapshot()
}

// Request queues one vendor API call and waits for its result. It fails
// fast with ErrQueueFull when the queue has no room and with
// ErrQueueTimeout when the call is not served within the queue timeout.
func (c *Client) Request(ctx context.Context, spec RequestSpec) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.queueTimeout)
	defer cancel()

	qr := &queuedRequest{
		id:     uuid.NewString(),
		ctx:    reqCtx,
		spec:   spec,
		result: make(chan queueResult, 1),
	}

	select {
	case c.requests <- qr:
		c.metrics.QueueDepth.Inc()
	default:
		c.metrics.QueueDrops.Inc()
		return nil, fmt.Errorf("request %s to %s: %w", qr.id, spec.Route, ErrQueueFull)
	}

	select {
	case res := <-qr.result:
		return res.resp, res.err
	case <-reqCtx.Done():
		c.metrics.QueueDrops.Inc()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("request %s to %s: %w", qr.id, spec.Route, ErrQueueTimeout)
	}
}

func (c *Client) consume() {
	for {
		select {
		case <-c.stop:
			return
		case qr := <-c.requests:
			c.metrics.QueueDepth.Dec()
			if err := qr.ctx.Err(); err != nil {
				qr.result <- queueResult{err: err}
				continue
			}
			resp, err := c.execute(qr)
			qr.result <- queueResult{resp: resp, err: err}
		}
	}
}

// execute runs one queued request through the rate-limit gate, with a
// single 401 refresh-and-retry and up to maxRetries 429 retries.
func (c *Client) execute(qr *queuedRequest) (*Response, error) {
	ctx := qr.ctx
	refreshed := false
	attempt := 0
	for {
		if err := c.gate.acquire(ctx); err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, qr.spec)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", qr.id, err)
		}

		c.gate.update(resp.Header)
		c.metrics.ObserveRequest(resp.Status)

		switch {
		case resp.Status == http.StatusUnauthorized:
			if qr.spec.Signed {
				return nil, &ConfigError{
					Reason: "download API rejected the request signature",
					Err:    &APIError{Status: resp.Status, Body: resp.Body},
				}
			}
			if refreshed {
				return nil, &ConfigError{
					Reason: "vendor rejected a freshly issued token",
					Err:    &APIError{Status: resp.Status, Body: resp.Body},
				}
			}
			refreshed = true
			c.tokens.invalidate(c.cfg.ClientID, c.cfg.ClientSecret)
			c.log.Warn("token rejected, refreshing once", "request_id", qr.id, "route", qr.spec.Route)

		case resp.Status == http.StatusTooManyRequests:
			if attempt >= c.maxRetries {
				return nil, &APIError{Status: resp.Status, Body: resp.Body}
			}
			attempt++
			delay := retryDelay(resp.Header, attempt)
			c.metrics.RateLimitStalls.Inc()
			c.log.Warn("rate limited, backing off",
				"request_id", qr.id, "route", qr.spec.Route, "attempt", attempt, "delay", delay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}

		case resp.Status < 200 || resp.Status >= 300:
			return nil, &APIError{Status: resp.Status, Body: resp.Body}

		default:
			return resp, nil
		}
	}
}

func (c *Client) do(ctx context.Context, spec RequestSpec) (*Response, error) {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	base := c.cfg.URL
	if spec.Signed {
		base = c.cfg.DownloadURL
	}
	u := base
	if route := strings.TrimPrefix(spec.Route, "/"); route != "" {
		u += "/" + route
	}
	if len(spec.Query) > 0 {
		u += "?" + spec.Query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range spec.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if spec.Signed {
		signRequest(req, c.cfg.ClientID, c.cfg.IntegrationKey, time.Now())
	} else {
		token, err := c.tokens.get(ctx, c.cfg.ClientID, c.cfg.ClientSecret)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Dmauth "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vendor request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}

// retryDelay picks the 429 backoff: the advertised reset in milliseconds
// when present, else min(2^attempt, 60) seconds.
func retryDelay(h http.Header, attempt int) time.Duration {
	if reset, ok := headerInt(h, "X-RateLimit-Reset"); ok && reset >= 0 {
		return time.Duration(reset) * time.Millisecond
	}
	secs := 1 << attempt
	if secs > 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}
