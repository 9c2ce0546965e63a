package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapgate/swapgate/internal/core/engine"
	"github.com/swapgate/swapgate/internal/core/memstore"
	"github.com/swapgate/swapgate/internal/tokens"
)

func tokenRouter(t *testing.T, limit int) http.Handler {
	t.Helper()
	registry, err := tokens.Default()
	require.NoError(t, err)

	limiter := engine.NewRateLimiter(memstore.New(), "tokens", map[string]engine.RateLimit{
		"tokens": {RequestsPerWindow: limit, WindowDuration: time.Minute},
	})
	h := &TokenHandler{Registry: registry, Limiter: limiter}

	r := chi.NewRouter()
	r.Get("/tokens/{chainId}", h.List)
	r.Get("/tokens/{chainId}/{token}", h.Get)
	return r
}

func TestTokenHandlerGetBySymbol(t *testing.T) {
	router := tokenRouter(t, 10)

	rec := serve(router, "/tokens/1/usdc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var token tokens.Token
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&token))
	assert.Equal(t, "USDC", token.Symbol)
	assert.Equal(t, int32(6), token.Decimals)
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestTokenHandlerGetByAddress(t *testing.T) {
	router := tokenRouter(t, 10)

	rec := serve(router, "/tokens/1/"+weth, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var token tokens.Token
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&token))
	assert.Equal(t, "WETH", token.Symbol)
}

func TestTokenHandlerUnknownToken(t *testing.T) {
	router := tokenRouter(t, 10)

	rec := serve(router, "/tokens/1/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTokenHandlerBadChain(t *testing.T) {
	router := tokenRouter(t, 10)

	rec := serve(router, "/tokens/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenHandlerList(t *testing.T) {
	router := tokenRouter(t, 10)

	rec := serve(router, "/tokens/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TokenListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(1), resp.ChainID)
	assert.NotEmpty(t, resp.Tokens)

	rec = serve(router, "/tokens/424242", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.Tokens)
}

func TestTokenHandlerRateLimited(t *testing.T) {
	router := tokenRouter(t, 1)

	first := serve(router, "/tokens/1", nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := serve(router, "/tokens/1", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestHandlerErrorsUseInstalledResponder(t *testing.T) {
	var got error
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		got = err
		w.WriteHeader(http.StatusTeapot)
	})
	t.Cleanup(ResetHTTPErrorResponder)

	router := tokenRouter(t, 10)
	rec := serve(router, "/tokens/1/NOPE", nil)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	require.Error(t, got)

	SetHTTPErrorResponder(nil)
	rec = serve(router, "/tokens/1/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
