package cmd

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapgate/swapgate/internal/config"
	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/core/store"
	"github.com/swapgate/swapgate/internal/core/validate"
	apperrors "github.com/swapgate/swapgate/internal/errors"
	"github.com/swapgate/swapgate/internal/tokens"
)

const testTaker = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

func defaultRegistry(t *testing.T) *tokens.Registry {
	t.Helper()
	registry, err := tokens.Default()
	require.NoError(t, err)
	return registry
}

func TestTradeParams(t *testing.T) {
	registry := defaultRegistry(t)

	params, sell, buy, err := tradeParams(registry, validate.QuoteSchema, core.SwapRequest{
		ChainID:    1,
		SellToken:  "eth",
		BuyToken:   "USDC",
		SellAmount: "1.5",
		Taker:      testTaker,
	})
	require.NoError(t, err)
	assert.Equal(t, "ETH", sell.Symbol)
	assert.Equal(t, "USDC", buy.Symbol)
	assert.Equal(t, int64(1), params.ChainID)
	assert.Equal(t, tokens.NativeAddress, params.SellToken)
	assert.Equal(t, "1500000000000000000", params.SellAmount)
	assert.Equal(t, testTaker, params.Taker)
}

func TestTradeParamsErrors(t *testing.T) {
	registry := defaultRegistry(t)
	base := core.SwapRequest{ChainID: 1, SellToken: "USDC", BuyToken: "WETH", SellAmount: "10"}

	unknown := base
	unknown.SellToken = "NOPE"
	_, _, _, err := tradeParams(registry, validate.PriceSchema, unknown)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, tokens.ErrUnknownToken))

	precise := base
	precise.SellAmount = "1.0000001"
	_, _, _, err = tradeParams(registry, validate.PriceSchema, precise)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decimal places")

	badTaker := base
	badTaker.Taker = "0x1234"
	_, _, _, err = tradeParams(registry, validate.QuoteSchema, badTaker)
	var validation *core.ValidationError
	require.True(t, stderrors.As(err, &validation))
	assert.Contains(t, validation.Fields, "taker")
}

func TestConfirm(t *testing.T) {
	cases := map[string]bool{
		"y\n":   true,
		"YES\n": true,
		"n\n":   false,
		"\n":    false,
		"":      false,
		"yes":   true,
	}
	for input, want := range cases {
		var prompt strings.Builder
		got, err := confirm(strings.NewReader(input), &prompt, "Submit?")
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %q", input)
		assert.Equal(t, "Submit? [y/N]: ", prompt.String())
	}
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "  ", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", " "))
}

func TestOpenServeStoresMemory(t *testing.T) {
	ctx := context.Background()
	stores, err := openServeStores(ctx, &config.Config{})
	require.NoError(t, err)
	defer stores.close() // nolint:errcheck

	assert.Equal(t, "memory", stores.driver)
	require.NoError(t, stores.ping(ctx))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, stores.limits.SetWindow(ctx, "swap:a", &core.RateLimitWindow{Count: 2, ResetAt: now.Add(-time.Second)}))
	require.NoError(t, stores.limits.SetWindow(ctx, "swap:b", &core.RateLimitWindow{Count: 2, ResetAt: now.Add(time.Minute)}))

	windows, responses, err := stores.sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, windows)
	assert.Equal(t, 0, responses)
}

func TestRateLimitOverrides(t *testing.T) {
	cfg := &config.Config{RateLimits: map[string]config.RateLimitConfig{
		"swap": {Requests: 5, Window: time.Minute},
	}}
	overrides := rateLimitOverrides(cfg)
	require.Contains(t, overrides, "swap")
	assert.Equal(t, 5, overrides["swap"].RequestsPerWindow)
	assert.Equal(t, time.Minute, overrides["swap"].WindowDuration)
}

func TestBuildRoutes(t *testing.T) {
	stores, err := openServeStores(context.Background(), &config.Config{})
	require.NoError(t, err)
	registry := defaultRegistry(t)

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			Timeout:  5 * time.Second,
			BaseURLs: map[string]string{"1": "https://api.0x.org", "8453": "https://base.api.0x.org"},
		},
		RateLimits: map[string]config.RateLimitConfig{"swap": {Requests: 3, Window: time.Minute}},
		Server:     config.ServerConfig{AdminToken: "secret"},
	}
	routes, err := buildRoutes(cfg, stores, registry)
	require.NoError(t, err)
	assert.NotNil(t, routes.Price)
	assert.NotNil(t, routes.Quote)
	require.NotNil(t, routes.Tokens)
	assert.Equal(t, 1200, routes.Tokens.Limiter.Window().RequestsPerWindow)
	assert.Equal(t, "secret", routes.AdminToken)

	cfg.Upstream.BaseURLs = map[string]string{"8453": "https://base.api.0x.org"}
	_, err = buildRoutes(cfg, stores, registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must include chain 1")
}

func TestRateLimitRows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := rateLimitRows([]store.RateLimitEntry{
		{Key: "swap:a", Window: core.RateLimitWindow{Count: 4, ResetAt: now.Add(time.Minute)}},
		{Key: "swap:b", Window: core.RateLimitWindow{Count: 9, ResetAt: now}},
	}, now)
	require.Len(t, rows, 2)
	assert.False(t, rows[0].Expired)
	assert.True(t, rows[1].Expired)

	box := rateLimitBox(rows)
	assert.Contains(t, box, "swap:a: count=4 reset_at=2026-03-01T12:01:00Z")
	assert.Contains(t, box, "swap:b: count=9 reset_at=2026-03-01T12:00:00Z (expired)")
	assert.Contains(t, rateLimitBox(nil), "(no stored rate limit windows)")
}

func TestSwapTimeoutsFillDefaults(t *testing.T) {
	got := swapTimeouts(config.TimeoutsConfig{Price: 3 * time.Second})
	assert.Equal(t, 3*time.Second, got.Price)
	assert.Equal(t, core.DefaultTimeouts.Quote, got.Quote)
	assert.Equal(t, core.DefaultTimeouts.Confirmation, got.Confirmation)
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(apperrors.NewConfigInvalidError("bad")))
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(stderrors.New("boom")))
}
