// Package upstream forwards price and quote requests to the swap aggregation API.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/swapgate/swapgate/internal/core"
)

// Endpoint names an aggregator operation.
type Endpoint string

const (
	EndpointPrice Endpoint = "price"
	EndpointQuote Endpoint = "quote"
)

const (
	MainnetChainID  int64 = 1
	DefaultVersion        = "v2"
	maxResponseSize       = 4 << 20
)

// DefaultBaseURLs maps chain ids to aggregator hosts.
var DefaultBaseURLs = map[int64]string{
	1:     "https://api.0x.org",
	10:    "https://optimism.api.0x.org",
	137:   "https://polygon.api.0x.org",
	8453:  "https://base.api.0x.org",
	42161: "https://arbitrum.api.0x.org",
}

var endpointPaths = map[Endpoint]string{
	EndpointPrice: "/swap/permit2/price",
	EndpointQuote: "/swap/permit2/quote",
}

// Client performs single-attempt calls to the aggregator.
type Client struct {
	HTTP     *http.Client
	APIKey   string
	Version  string
	BaseURLs map[int64]string
	Clock    func() time.Time
}

// Response is an aggregator answer, successful or not, with the body left untouched.
type Response struct {
	Status   int
	Body     []byte
	Header   http.Header
	URL      string
	Fallback bool
	Duration time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// BaseURL returns the host for chainID. Unknown chains resolve to mainnet and report false.
func (c *Client) BaseURL(chainID int64) (string, bool) {
	table := DefaultBaseURLs
	if c != nil && len(c.BaseURLs) > 0 {
		table = c.BaseURLs
	}
	if base, ok := table[chainID]; ok && base != "" {
		return strings.TrimRight(base, "/"), true
	}
	if base, ok := table[MainnetChainID]; ok && base != "" {
		return strings.TrimRight(base, "/"), false
	}
	return DefaultBaseURLs[MainnetChainID], false
}

// Forward sends rawQuery unchanged to the endpoint for chainID. Non-2xx answers are returned as a
// Response, not an error; errors mean no answer was received.
func (c *Client) Forward(ctx context.Context, endpoint Endpoint, chainID int64, rawQuery string) (*Response, error) {
	if c == nil {
		return nil, errors.New("upstream client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	path, ok := endpointPaths[endpoint]
	if !ok {
		return nil, fmt.Errorf("unknown upstream endpoint %q", endpoint)
	}

	base, known := c.BaseURL(chainID)
	target := base + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("0x-api-key", c.APIKey)
	}
	req.Header.Set("0x-version", c.version())

	started := c.now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s request: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read upstream %s response: %w", endpoint, err)
	}

	return &Response{
		Status:   resp.StatusCode,
		Body:     body,
		Header:   resp.Header,
		URL:      base + path,
		Fallback: !known,
		Duration: c.now().Sub(started),
	}, nil
}

// ParseError converts a non-2xx body into an UpstreamError. Bodies that are not JSON keep the
// status with a generic message.
func ParseError(status int, body []byte) *core.UpstreamError {
	out := &core.UpstreamError{Status: status}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		out.Message = genericMessage(status)
		return out
	}

	for _, key := range []string{"error", "message", "reason"} {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err == nil && text != "" {
			out.Message = text
			break
		}
	}
	if out.Message == "" {
		out.Message = genericMessage(status)
	}

	if raw, ok := payload["validationErrors"]; ok {
		_ = json.Unmarshal(raw, &out.ValidationErrors)
	} else if raw, ok := payload["data"]; ok {
		var data struct {
			Details []map[string]any `json:"details"`
		}
		if err := json.Unmarshal(raw, &data); err == nil && len(data.Details) > 0 {
			out.ValidationErrors = data.Details
		}
	}
	return out
}

func genericMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return "upstream request failed: " + strings.ToLower(text)
	}
	return "upstream request failed"
}

func (c *Client) version() string {
	if c.Version == "" {
		return DefaultVersion
	}
	return c.Version
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 20 * time.Second}
}

func (c *Client) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
