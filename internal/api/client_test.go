package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/ohlcv-ingest/internal/model"
	"github.com/rickgao/ohlcv-ingest/internal/ratelimit"
	"github.com/rickgao/ohlcv-ingest/internal/retry"
)

var fastPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func fastClient(url string, opts ...ClientOption) *Client {
	opts = append([]ClientOption{WithRetries(fastPolicy, fastPolicy)}, opts...)
	return NewClient(url, "test-key", opts...)
}

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com", "test-key")

		if c.baseURL != "https://api.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com")
		}
		if c.apiKey != "test-key" {
			t.Errorf("apiKey = %q, want %q", c.apiKey, "test-key")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.transientPolicy != DefaultTransientPolicy {
			t.Errorf("transientPolicy = %+v, want %+v", c.transientPolicy, DefaultTransientPolicy)
		}
		if c.limiter == nil {
			t.Error("limiter should not be nil")
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with timeout option", func(t *testing.T) {
		c := NewClient("https://api.example.com", "", WithTimeout(5*time.Second))
		if c.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 5*time.Second)
		}
	})

	t.Run("with retries option", func(t *testing.T) {
		rl := retry.Policy{MaxAttempts: 7, BaseDelay: 2 * time.Second}
		c := NewClient("https://api.example.com", "", WithRetries(fastPolicy, rl))
		if c.transientPolicy != fastPolicy {
			t.Errorf("transientPolicy = %+v, want %+v", c.transientPolicy, fastPolicy)
		}
		if c.rateLimitedPolicy != rl {
			t.Errorf("rateLimitedPolicy = %+v, want %+v", c.rateLimitedPolicy, rl)
		}
	})

	t.Run("with shared rate limiter", func(t *testing.T) {
		l := ratelimit.New(10, 1)
		c := NewClient("https://api.example.com", "", WithRateLimiter(l))
		if c.limiter != l {
			t.Error("rate limiter not set")
		}
	})

	t.Run("with logger option", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("https://api.example.com", "", WithLogger(logger))
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})

	t.Run("with custom HTTP client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("https://api.example.com", "", WithHTTPClient(customClient))
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 400, Code: -1121, Message: "Invalid symbol."}
		expected := "binance api error 400 (code -1121): Invalid symbol."
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}

		err = &APIError{StatusCode: 502, Message: "Bad Gateway"}
		if err.Error() != "binance api error 502: Bad Gateway" {
			t.Errorf("Error() = %q", err.Error())
		}
	})

	t.Run("classification", func(t *testing.T) {
		tests := []struct {
			code      int
			retryable bool
			kind      error
		}{
			{500, true, model.ErrTransientFetch},
			{502, true, model.ErrTransientFetch},
			{503, true, model.ErrTransientFetch},
			{504, true, model.ErrTransientFetch},
			{429, true, model.ErrRateLimited},
			{418, true, model.ErrRateLimited},
			{400, false, model.ErrPermanentFetch},
			{401, false, model.ErrPermanentFetch},
			{403, false, model.ErrPermanentFetch},
			{404, false, model.ErrPermanentFetch},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.retryable {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.retryable)
			}
			if !errors.Is(err, tt.kind) {
				t.Errorf("status %d does not match %v", tt.code, tt.kind)
			}
		}
	})

	t.Run("Retry-After parsing", func(t *testing.T) {
		tests := map[string]time.Duration{
			"":    0,
			"5":   5 * time.Second,
			"-1":  0,
			"abc": 0,
		}
		for in, want := range tests {
			if got := parseRetryAfter(in); got != want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", in, got, want)
			}
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("X-MBX-APIKEY") != "test-key" {
				t.Errorf("X-MBX-APIKEY header = %q, want %q", r.Header.Get("X-MBX-APIKEY"), "test-key")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": 0}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "test-key")
		body, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": 0}` {
			t.Errorf("body = %q, want %q", string(body), `{"status": 0}`)
		}
	})

	t.Run("request without API key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-MBX-APIKEY") != "" {
				t.Errorf("X-MBX-APIKEY header should be empty, got %q", r.Header.Get("X-MBX-APIKEY"))
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		if _, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error decodes exchange code", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.Code != -1121 {
			t.Errorf("Code = %d, want %d", apiErr.Code, -1121)
		}
		if apiErr.Message != "Invalid symbol." {
			t.Errorf("Message = %q, want %q", apiErr.Message, "Invalid symbol.")
		}
		if !errors.Is(err, model.ErrPermanentFetch) {
			t.Errorf("error %v should be permanent", err)
		}
	})

	t.Run("429 pauses the shared limiter", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"code":-1003,"msg":"Too many requests."}`))
		}))
		defer server.Close()

		l := ratelimit.New(0, 1)
		c := NewClient(server.URL, "key", WithRateLimiter(l))
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.RetryAfter() != 3*time.Second {
			t.Errorf("RetryAfter() = %v, want 3s", apiErr.RetryAfter())
		}
		if got := l.PausedFor(); got <= 2*time.Second {
			t.Errorf("PausedFor() = %v, want about 3s", got)
		}
	})

	t.Run("network error is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		c := NewClient(url, "key")
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)
		if !errors.Is(err, model.ErrTransientFetch) {
			t.Errorf("error = %v, want ErrTransientFetch", err)
		}
	})

	t.Run("attempt timeout is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithAttemptTimeout(10*time.Millisecond))
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)
		if !errors.Is(err, model.ErrTransientFetch) {
			t.Errorf("error = %v, want ErrTransientFetch", err)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		_, err := c.doRequest(ctx, http.MethodGet, "/test", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context canceled") {
			t.Errorf("error should contain 'context canceled', got %v", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`error`))
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := fastClient(server.URL)
		body, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q, want %q", string(body), `{"ok": true}`)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("retries on 429 and notifies", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		var kinds []error
		c := fastClient(server.URL,
			WithRateLimiter(ratelimit.New(0, 1)),
			WithRetryNotify(func(e retry.Event) { kinds = append(kinds, e.Kind) }),
		)
		// Without Retry-After the limiter pauses for defaultRateLimitPause.
		start := time.Now()
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
		if len(kinds) != 1 || kinds[0] != model.ErrRateLimited {
			t.Errorf("retry kinds = %v, want [ErrRateLimited]", kinds)
		}
		if elapsed := time.Since(start); elapsed < defaultRateLimitPause/2 {
			t.Errorf("elapsed = %v, want the global pause to apply", elapsed)
		}
	})

	t.Run("does not retry on 4xx", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`bad request`))
		}))
		defer server.Close()

		c := fastClient(server.URL)
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if !errors.Is(err, model.ErrPermanentFetch) {
			t.Fatalf("error = %v, want ErrPermanentFetch", err)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := fastClient(server.URL)
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if !errors.Is(err, model.ErrRetriesExhausted) {
			t.Fatalf("error = %v, want ErrRetriesExhausted", err)
		}
		if attempts != int32(fastPolicy.MaxAttempts) {
			t.Errorf("attempts = %d, want %d", attempts, fastPolicy.MaxAttempts)
		}
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		slow := retry.Policy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond}
		c := NewClient(server.URL, "key", WithRetries(slow, slow))
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		_, err := c.doWithRetry(ctx, http.MethodGet, "/test", nil)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("error = %v, want context.DeadlineExceeded", err)
		}
	})
}

// TestGetKlines tests the GetKlines method.
func TestGetKlines(t *testing.T) {
	t.Run("successful response", func(t *testing.T) {
		start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v3/klines" {
				t.Errorf("path = %q, want %q", r.URL.Path, "/api/v3/klines")
			}
			q := r.URL.Query()
			if q.Get("symbol") != "LINKUSDT" {
				t.Errorf("symbol = %q, want LINKUSDT", q.Get("symbol"))
			}
			if q.Get("interval") != "1m" {
				t.Errorf("interval = %q, want 1m", q.Get("interval"))
			}
			if q.Get("startTime") != fmt.Sprint(start.UnixMilli()) {
				t.Errorf("startTime = %q, want %d", q.Get("startTime"), start.UnixMilli())
			}
			if q.Get("limit") != "1000" {
				t.Errorf("limit = %q, want 1000", q.Get("limit"))
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`[
				[1609459200000,"11.26340000","11.29000000","11.24090000","11.28180000","3209.45000000",1609459259999,"36163.53","91","1786.28","20130.75","0"],
				[1609459260000,"11.28180000","11.300000001","11.27000000","11.29990000","1500.00000000",1609459319999,"16934.10","42","800.00","9031.22","0"]
			]`))
		}))
		defer server.Close()

		c := fastClient(server.URL)
		candles, err := c.GetKlines(context.Background(), KlinesRequest{
			Symbol: "LINKUSDT", Interval: "1m", StartTime: start, Limit: 5000,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(candles) != 2 {
			t.Fatalf("len(candles) = %d, want 2", len(candles))
		}

		first := candles[0]
		if !first.Timestamp.Equal(start) {
			t.Errorf("Timestamp = %v, want %v", first.Timestamp, start)
		}
		if first.CloseTime != 1609459259999 {
			t.Errorf("CloseTime = %d, want 1609459259999", first.CloseTime)
		}
		if first.Open.String() != "11.2634" {
			t.Errorf("Open = %s, want 11.2634", first.Open)
		}
		if first.Trades == nil || *first.Trades != 91 {
			t.Errorf("Trades = %v, want 91", first.Trades)
		}
		if candles[1].High.String() != "11.3" {
			t.Errorf("High = %s, want 11.3 after rounding", candles[1].High)
		}
	})

	t.Run("empty page", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[]`))
		}))
		defer server.Close()

		c := fastClient(server.URL)
		candles, err := c.GetKlines(context.Background(), KlinesRequest{Symbol: "LINKUSDT", Interval: "1h"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(candles) != 0 {
			t.Errorf("len(candles) = %d, want 0", len(candles))
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		bodies := []string{
			`<html>maintenance</html>`,
			`{"unexpected": true}`,
			`[[1609459200000,"1.0"]]`,
			`[[1609459200000,"x","1","1","1","1",1609459259999,"0",1]]`,
		}
		for _, body := range bodies {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))

			c := fastClient(server.URL)
			_, err := c.GetKlines(context.Background(), KlinesRequest{Symbol: "LINKUSDT", Interval: "1m"})
			if !IsMalformed(err) {
				t.Errorf("body %q: error = %v, want ErrMalformedResponse", body, err)
			}
			server.Close()
		}
	})

	t.Run("value beyond storage precision is permanent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[[1609459200000,"0.00000700","0.00000800","0.00000600","0.00000700","5123456789012.00",1609545599999,"0",1]]`))
		}))
		defer server.Close()

		c := fastClient(server.URL)
		_, err := c.GetKlines(context.Background(), KlinesRequest{Symbol: "SHIBUSDT", Interval: "1d"})
		if IsMalformed(err) {
			t.Errorf("error = %v, must not be treated as malformed", err)
		}
		if !errors.Is(err, model.ErrInvalidCandle) || !errors.Is(err, model.ErrPermanentFetch) {
			t.Errorf("error = %v, want ErrInvalidCandle", err)
		}
	})

	t.Run("unknown symbol is permanent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
		}))
		defer server.Close()

		c := fastClient(server.URL)
		_, err := c.GetKlines(context.Background(), KlinesRequest{Symbol: "NOPEUSDT", Interval: "1m"})
		if !errors.Is(err, model.ErrPermanentFetch) {
			t.Errorf("error = %v, want ErrPermanentFetch", err)
		}
	})
}

// TestGetSystemStatus tests the GetSystemStatus method.
func TestGetSystemStatus(t *testing.T) {
	t.Run("normal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/sapi/v1/system/status" {
				t.Errorf("path = %q, want %q", r.URL.Path, "/sapi/v1/system/status")
			}
			w.Write([]byte(`{"status":0,"msg":"normal"}`))
		}))
		defer server.Close()

		c := fastClient(server.URL)
		status, err := c.GetSystemStatus(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !status.Normal() {
			t.Error("Normal() = false, want true")
		}
	})

	t.Run("maintenance", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":1,"msg":"system maintenance"}`))
		}))
		defer server.Close()

		c := fastClient(server.URL)
		status, err := c.GetSystemStatus(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Normal() {
			t.Error("Normal() = true, want false")
		}
		if status.Msg != "system maintenance" {
			t.Errorf("Msg = %q, want %q", status.Msg, "system maintenance")
		}
	})
}
