// Package swapclient calls a running swapgate proxy for prices and quotes.
package swapclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/core/upstream"
)

const maxBodySize = 4 << 20

// Client fetches price and quote payloads from the proxy.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Clock   func() time.Time
}

// New returns a client for the proxy at baseURL.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

// Price fetches an indicative price.
func (c *Client) Price(ctx context.Context, params core.ValidatedSwapParams) (*core.SwapResponse, error) {
	return c.get(ctx, "/price", params)
}

// Quote fetches a binding quote.
func (c *Client) Quote(ctx context.Context, params core.ValidatedSwapParams) (*core.SwapResponse, error) {
	return c.get(ctx, "/quote", params)
}

func (c *Client) get(ctx context.Context, path string, params core.ValidatedSwapParams) (*core.SwapResponse, error) {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return nil, errors.New("proxy URL is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target := strings.TrimRight(c.BaseURL, "/") + path + "?" + params.Values().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build proxy request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy %s request: %w", strings.TrimPrefix(path, "/"), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read proxy response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.decodeError(resp, body)
	}

	var out core.SwapResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode proxy response: %w", err)
	}
	return &out, nil
}

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

// decodeError maps proxy error bodies onto the domain error types.
func (c *Client) decodeError(resp *http.Response, body []byte) error {
	var envelope errorBody
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code == "" {
		if resp.StatusCode == http.StatusTooManyRequests {
			return c.rateLimitError(resp, nil)
		}
		return upstream.ParseError(resp.StatusCode, body)
	}

	details := envelope.Error.Details
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return c.rateLimitError(resp, details)
	case resp.StatusCode == http.StatusBadRequest && (envelope.Error.Code == "VALIDATION_FAILED" || envelope.Error.Code == "INVALID_INPUT"):
		return &core.ValidationError{
			Message: envelope.Error.Message,
			Fields:  stringMap(details["fields"]),
		}
	default:
		out := &core.UpstreamError{Status: resp.StatusCode, Message: envelope.Error.Message}
		if list, ok := details["validationErrors"].([]any); ok {
			for _, item := range list {
				if entry, ok := item.(map[string]any); ok {
					out.ValidationErrors = append(out.ValidationErrors, entry)
				}
			}
		}
		return out
	}
}

func (c *Client) rateLimitError(resp *http.Response, details map[string]any) *core.RateLimitError {
	out := &core.RateLimitError{}
	if seconds, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && seconds > 0 {
		out.RetryAfter = time.Duration(seconds) * time.Second
	}
	if raw, ok := details["resetTime"].(string); ok {
		if reset, err := time.Parse(time.RFC3339, raw); err == nil {
			out.ResetAt = reset
		}
	}
	if out.ResetAt.IsZero() && out.RetryAfter > 0 {
		out.ResetAt = c.now().Add(out.RetryAfter)
	}
	if out.RetryAfter == 0 && !out.ResetAt.IsZero() {
		if wait := out.ResetAt.Sub(c.now()); wait > 0 {
			out.RetryAfter = wait
		}
	}
	return out
}

func stringMap(value any) map[string]string {
	raw, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for key, v := range raw {
		if text, ok := v.(string); ok {
			out[key] = text
		}
	}
	return out
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
