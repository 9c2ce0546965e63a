package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/swapgate/swapgate/internal/core/engine"
	apperrors "github.com/swapgate/swapgate/internal/errors"
	"github.com/swapgate/swapgate/internal/metrics"
	"github.com/swapgate/swapgate/internal/tokens"
)

// TokenListResponse wraps the tokens known for one chain.
type TokenListResponse struct {
	ChainID int64          `json:"chainId"`
	Tokens  []tokens.Token `json:"tokens"`
}

// TokenHandler serves token display metadata.
type TokenHandler struct {
	Registry *tokens.Registry
	Limiter  *engine.RateLimiter
}

// Get handles GET /tokens/{chainId}/{token}, where token is a symbol or address.
func (h *TokenHandler) Get(w http.ResponseWriter, r *http.Request) {
	chainID, ok := h.admit(w, r)
	if !ok {
		return
	}

	token, err := h.Registry.Lookup(chainID, chi.URLParam(r, "token"))
	if err != nil {
		if stderrors.Is(err, tokens.ErrUnknownToken) {
			respondWithError(w, r, apperrors.NewNotFoundError(err.Error()))
			return
		}
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "token lookup failed"))
		return
	}
	writeJSON(w, token)
}

// List handles GET /tokens/{chainId}.
func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	chainID, ok := h.admit(w, r)
	if !ok {
		return
	}

	list := h.Registry.List(chainID)
	if list == nil {
		list = []tokens.Token{}
	}
	writeJSON(w, TokenListResponse{ChainID: chainID, Tokens: list})
}

func (h *TokenHandler) admit(w http.ResponseWriter, r *http.Request) (int64, bool) {
	decision := h.Limiter.Check(r.Context(), ClientID(r))
	writeRateLimitHeaders(w, decision)
	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter(time.Now().UTC())/time.Second)))
		metrics.RecordRateLimitDenied(h.Limiter.Policy)
		respondWithError(w, r, apperrors.NewRateLimitedError("Too many requests, please try again later."))
		return 0, false
	}

	chainID, err := strconv.ParseInt(chi.URLParam(r, "chainId"), 10, 64)
	if err != nil || chainID <= 0 {
		respondWithError(w, r, apperrors.NewInvalidInputError("chainId must be a positive integer"))
		return 0, false
	}
	if h.Registry == nil {
		respondWithError(w, r, apperrors.NewInternalError("token registry is not configured"))
		return 0, false
	}
	return chainID, true
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
