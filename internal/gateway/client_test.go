package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/polarityio/dataminr-pulse-limited/internal/config"
	"github.com/polarityio/dataminr-pulse-limited/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, vendorURL string) (*Client, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewWith(prometheus.NewRegistry())
	cfg := &config.Config{
		URL:          vendorURL,
		ClientID:     "client",
		ClientSecret: "secret",
	}
	c := NewClient(cfg, nil, testLogger(), m)
	t.Cleanup(c.Close)
	return c, m
}

// tokenEndpoint issues hour-long tokens and counts calls.
func tokenEndpoint(calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		_ = r.ParseForm()
		if r.FormValue("grant_type") != "api_key" || r.FormValue("client_id") == "" {
			http.Error(w, "bad token request", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"dmaToken":"tok-%d","expire":%d}`, n, time.Now().Add(time.Hour).UnixMilli())
	}
}

func waitForDepth(t *testing.T, m *metrics.Metrics, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(m.QueueDepth) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("queue depth never reached %v", want)
}

func TestRequestAuthenticates(t *testing.T) {
	var tokenCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenEndpoint(&tokenCalls))
	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Echo-Authorization", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"alerts":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv.URL)

	resp, err := c.Request(context.Background(), RequestSpec{Route: "api/v1/alerts"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if got := resp.Header.Get("Echo-Authorization"); got != "Dmauth tok-1" {
		t.Errorf("Authorization = %q, want %q", got, "Dmauth tok-1")
	}

	// The second request reuses the cached token.
	if _, err := c.Request(context.Background(), RequestSpec{Route: "api/v1/alerts"}); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if n := tokenCalls.Load(); n != 1 {
		t.Errorf("token fetches = %d, want 1", n)
	}
}

func TestRequestEncodesQuery(t *testing.T) {
	var tokenCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenEndpoint(&tokenCalls))
	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Echo-Query", r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"alerts":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv.URL)

	q := url.Values{}
	q.Set("pageSize", "10")
	q.Set("query", "1.1.1.1")
	resp, err := c.Request(context.Background(), RequestSpec{Route: "api/v1/alerts", Query: q})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got := resp.Header.Get("Echo-Query"); got != "pageSize=10&query=1.1.1.1" {
		t.Errorf("query = %q, want %q", got, "pageSize=10&query=1.1.1.1")
	}
}

func Test401RefreshesTokenOnce(t *testing.T) {
	var tokenCalls, alertCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenEndpoint(&tokenCalls))
	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		if alertCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"alerts":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv.URL)

	resp, err := c.Request(context.Background(), RequestSpec{Route: "api/v1/alerts"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if n := tokenCalls.Load(); n != 2 {
		t.Errorf("token fetches = %d, want 2 (initial + refresh)", n)
	}
	if n := alertCalls.Load(); n != 2 {
		t.Errorf("alert calls = %d, want 2 (401 then retry)", n)
	}
}

func Test401TwiceIsConfigError(t *testing.T) {
	var tokenCalls, alertCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenEndpoint(&tokenCalls))
	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		alertCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv.URL)

	_, err := c.Request(context.Background(), RequestSpec{Route: "api/v1/alerts"})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want ConfigError", err)
	}
	if n := alertCalls.Load(); n != 2 {
		t.Errorf("alert calls = %d, want exactly 2 (no retry loop)", n)
	}
	if IsRetryable(err) {
		t.Error("a rejected refresh must not be retryable")
	}
}

func Test429RetryWaitsForReset(t *testing.T) {
	var tokenCalls, alertCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenEndpoint(&tokenCalls))
	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		if alertCalls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Reset", "500")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"alerts":[{"alertId":"X"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv.URL)

	start := time.Now()
	resp, err := c.Request(context.Background(), RequestSpec{Route: "api/v1/alerts"})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if elapsed < 500*time.Millisecond {
		t.Errorf("retry waited %v, want >= 500ms", elapsed)
	}
	if !strings.Contains(string(resp.Body), `"alertId":"X"`) {
		t.Errorf("body = %s, want the post-retry payload", resp.Body)
	}
}

func Test429RetriesExhausted(t *testing.T) {
	var tokenCalls, alertCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenEndpoint(&tokenCalls))
	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		alertCalls.Add(1)
		w.Header().Set("X-RateLimit-Reset", "10")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(t, srv.URL)

	_, err := c.Request(context.Background(), RequestSpec{Route: "api/v1/alerts"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("error = %v, want APIError with status 429", err)
	}
	if !IsRetryable(err) {
		t.Error("exhausted 429 must stay retryable for the next cycle")
	}
	if n := alertCalls.Load(); n != int32(config.MaxRetries)+1 {
		t.Errorf("alert calls = %d, want %d", n, config.MaxRetries+1)
	}
}

func TestUpstreamErrorSurfaced(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{name: "not found", status: http.StatusNotFound, wantRetryable: false},
		{name: "server error", status: http.StatusInternalServerError, wantRetryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tokenCalls atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("/auth/v1/token", tokenEndpoint(&tokenCalls))
			mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream failure", tt.status)
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			c, _ := testClient(t, srv.URL)

			_, err := c.Request(context.Background(), RequestSpec{Route: "api/v1/alerts"})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want APIError", err)
			}
			if apiErr.Status != tt.status {
				t.Errorf("status = %d, want %d", apiErr.Status, tt.status)
			}
			if got := StatusOf(err); got != tt.status {
				t.Errorf("StatusOf = %d, want %d", got, tt.status)
			}
			if got := IsRetryable(err); got != tt.wantRetryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.wantRetryable)
			}
		})
	}
}

func TestQueueFIFO(t *testing.T) {
	var tokenCalls atomic.Int32
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)

	var mu sync.Mutex
	var served []string

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenEndpoint(&tokenCalls))
	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("query")
		if id == "hold" {
			entered <- struct{}{}
			<-gate
		} else {
			mu.Lock()
			served = append(served, id)
			mu.Unlock()
		}
		_, _ = w.Write([]byte(`{"alerts":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, m := testClient(t, srv.URL)

	var wg sync.WaitGroup
	submit := func(id string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := url.Values{"query": {id}}
			if _, err := c.Request(context.Background(), RequestSpec{Route: "api/v1/alerts", Query: q}); err != nil {
				t.Errorf("request %s: %v", id, err)
			}
		}()
	}

	submit("hold")
	<-entered // the consumer is busy; later submissions stack up in order

	submit("A")
	waitForDepth(t, m, 1)
	submit("B")
	waitForDepth(t, m, 2)
	submit("C")
	waitForDepth(t, m, 3)

	close(gate)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"A", "B", "C"}, served); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}
}

func TestQueueFullOnBurst(t *testing.T) {
	var tokenCalls atomic.Int32
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", tokenEndpoint(&tokenCalls))
	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
		_, _ = w.Write([]byte(`{"alerts":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, m := testClient(t, srv.URL)

	results := make(chan error, config.MaxQueueSize+1)
	submit := func() {
		go func() {
			_, err := c.Request(context.Background(), RequestSpec{Route: "api/v1/alerts"})
			results <- err
		}()
	}

	submit()
	<-entered // consumer occupied

	for i := 0; i < config.MaxQueueSize; i++ {
		submit()
	}
	waitForDepth(t, m, float64(config.MaxQueueSize))

	// One more submission on a full queue fails fast.
	_, err := c.Request(context.Background(), RequestSpec{Route: "api/v1/alerts"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("error = %v, want ErrQueueFull", err)
	}
	if !IsRetryable(err) {
		t.Error("queue-full must be retryable")
	}

	close(gate)
	for i := 0; i < config.MaxQueueSize+1; i++ {
		if err := <-results; err != nil {
			t.Errorf("queued request failed: %v", err)
		}
	}
}

func TestQueueTimeout(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	c.Close() // no consumer: the queue never drains
	c.queueTimeout = 50 * time.Millisecond

	_, err := c.Request(context.Background(), RequestSpec{Route: "api/v1/alerts"})
	if !errors.Is(err, ErrQueueTimeout) {
		t.Fatalf("error = %v, want ErrQueueTimeout", err)
	}
	if !IsRetryable(err) {
		t.Error("queue timeout must be retryable")
	}

	// Caller cancellation is reported as such, not as a queue drop.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Request(ctx, RequestSpec{Route: "api/v1/alerts"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
