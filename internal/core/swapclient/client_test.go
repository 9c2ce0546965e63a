package swapclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapgate/swapgate/internal/core"
)

func testParams() core.ValidatedSwapParams {
	return core.ValidatedSwapParams{
		ChainID:    1,
		SellToken:  "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE",
		BuyToken:   "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		SellAmount: "1500000000000000000",
	}
}

func TestPriceDecodesPayload(t *testing.T) {
	var gotPath, gotAmount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAmount = r.URL.Query().Get("sellAmount")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sellAmount":"1500000000000000000","buyAmount":"1500000000","route":{"fills":[]}}`))
	}))
	defer srv.Close()

	resp, err := New(srv.URL).Price(context.Background(), testParams())
	require.NoError(t, err)
	assert.Equal(t, "/price", gotPath)
	assert.Equal(t, "1500000000000000000", gotAmount)
	assert.Equal(t, "1500000000", resp.BuyAmount)
	assert.Contains(t, resp.Extra, "route")
}

func TestRateLimitedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"Too many requests","details":{"remaining":0,"resetTime":"2026-01-02T03:04:05Z"}}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Quote(context.Background(), testParams())
	var rateLimit *core.RateLimitError
	require.ErrorAs(t, err, &rateLimit)
	assert.Equal(t, 42*time.Second, rateLimit.RetryAfter)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), rateLimit.ResetAt.UTC())
	assert.False(t, core.IsRetryable(err))
}

func TestValidationResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"VALIDATION_FAILED","message":"invalid parameters: sellToken: must be a 0x-prefixed 20-byte hex address","details":{"fields":{"sellToken":"must be a 0x-prefixed 20-byte hex address"}}}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Price(context.Background(), testParams())
	var validation *core.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Fields, "sellToken")
}

func TestUpstreamErrorKeepsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"UPSTREAM_ERROR","message":"Validation Failed","details":{"chainId":1,"validationErrors":[{"field":"taker","reason":"required"}]}}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Quote(context.Background(), testParams())
	var upstream *core.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusBadRequest, upstream.Status)
	assert.Equal(t, "Validation Failed", upstream.Message)
	require.Len(t, upstream.ValidationErrors, 1)
	assert.Equal(t, "taker", upstream.ValidationErrors[0]["field"])
}

func TestNonEnvelopeErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("<html>down</html>"))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Price(context.Background(), testParams())
	var upstream *core.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusServiceUnavailable, upstream.Status)
	assert.True(t, core.IsRetryable(err))
}

func TestMissingBaseURL(t *testing.T) {
	_, err := New("").Price(context.Background(), testParams())
	require.Error(t, err)
}
