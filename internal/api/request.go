package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// defaultRateLimitPause is applied when a rate-limit response carries no Retry-After.
const defaultRateLimitPause = time.Second

// ErrMalformedResponse is returned when a successful response cannot be decoded.
var ErrMalformedResponse = errors.New("malformed response")

// APIError represents an error response from the exchange API.
type APIError struct {
	StatusCode int
	Code       int    // Exchange error code (e.g., -1121 invalid symbol)
	Message    string
	Body       []byte

	retryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("binance api error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("binance api error %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited reports a request-weight (429) or IP ban (418) response.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusTeapot
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.IsRateLimited()
}

// RetryAfter returns the server-requested delay, or zero.
func (e *APIError) RetryAfter() time.Duration {
	return e.retryAfter
}

// Unwrap classifies the error against the model error kinds.
func (e *APIError) Unwrap() error {
	switch {
	case e.IsRateLimited():
		return model.ErrRateLimited
	case e.StatusCode >= 500:
		return model.ErrTransientFetch
	default:
		return model.ErrPermanentFetch
	}
}

type errorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		Body:       body,
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Msg != "" {
		apiErr.Code = eb.Code
		apiErr.Message = eb.Msg
	}
	return apiErr
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// doRequest performs a single HTTP request with the given method and path.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w: %w", model.ErrTransientFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %w", model.ErrTransientFetch, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := newAPIError(resp, body)
		if apiErr.IsRateLimited() {
			pause := apiErr.retryAfter
			if pause <= 0 {
				pause = defaultRateLimitPause
			}
			c.limiter.Pause(pause)
			c.logger.Warn("rate limited by upstream", "path", path, "status", resp.StatusCode, "pause", pause)
		}
		return nil, apiErr
	}

	return body, nil
}

// doWithRetry performs a request, retrying rate-limited and transient failures.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	var body []byte
	err := c.retrier.Do(ctx, path, func(ctx context.Context) error {
		b, err := c.doRequest(ctx, method, path, query)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// get performs a GET request with retries.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	return nil
}
