package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/orchestron/pkg/registry"
)

var (
	ErrServerError = errors.New("server error during HTTP request")
	ErrInvalidURL  = errors.New("invalid HTTP request url")
)

type requestConfig struct {
	method     string
	url        string
	headers    map[string]string
	body       any
	attempts   int
	retryDelay time.Duration
}

func parseRequest(args map[string]any) (*requestConfig, error) {
	url, _ := args["url"].(string)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}

	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	cfg := &requestConfig{
		method:   strings.ToUpper(method),
		url:      url,
		headers:  make(map[string]string),
		body:     args["body"],
		attempts: 1,
	}

	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				cfg.headers[k] = s
			}
		}
	}

	if attempts, ok := toFloat(args["retry_attempts"]); ok && attempts >= 1 {
		cfg.attempts = int(attempts)
	}

	if delay, ok := toFloat(args["retry_delay_ms"]); ok && delay > 0 {
		cfg.retryDelay = time.Duration(delay) * time.Millisecond
	}

	return cfg, nil
}

// request performs the call, retrying transport errors and 5xx responses.
// The result is {status_code, body, headers}; a JSON body is decoded.
func (a *App) request(ctx context.Context, req *registry.Request) (*registry.Output, error) {
	cfg, err := parseRequest(req.Arguments)
	if err != nil {
		return nil, err
	}

	logger := a.logger.With("execution_id", req.ExecutionID, "action_id", req.ActionID, "method", cfg.method, "url", cfg.url)

	var (
		lastErr error
		resp    *http.Response
	)

	for attempt := 1; attempt <= cfg.attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, "Retrying HTTP request", "attempt", attempt, "attempts", cfg.attempts)

			select {
			case <-time.After(cfg.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		httpReq, err := cfg.build(ctx)
		if err != nil {
			return nil, err
		}

		resp, err = a.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("http request failed: %w", err)
			resp = nil

			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < cfg.attempts {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return nil, fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
	}

	result, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "HTTP request completed", "status_code", resp.StatusCode)

	return &registry.Output{Result: result}, nil
}

func (c *requestConfig) build(ctx context.Context) (*http.Request, error) {
	var body io.Reader

	switch b := c.body.(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		body = bytes.NewReader(encoded)

		if _, ok := c.headers["Content-Type"]; !ok {
			c.headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func readResponse(resp *http.Response) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	err = json.Unmarshal(raw, &body)
	if err != nil {
		body = string(raw)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": float64(resp.StatusCode),
		"body":        body,
		"headers":     headers,
	}, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
