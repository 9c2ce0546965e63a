package handlers

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/core/engine"
	"github.com/swapgate/swapgate/internal/core/upstream"
	"github.com/swapgate/swapgate/internal/core/validate"
	apperrors "github.com/swapgate/swapgate/internal/errors"
	"github.com/swapgate/swapgate/internal/metrics"
	"github.com/swapgate/swapgate/internal/observability"
)

// ResponseCache stores upstream answers for a short time.
type ResponseCache interface {
	GetResponse(ctx context.Context, key string) (int, []byte, bool, error)
	SetResponse(ctx context.Context, key string, status int, body []byte, ttl time.Duration) error
	SweepResponses(ctx context.Context, now time.Time) (int, error)
}

// Forwarder sends a validated query to the aggregator.
type Forwarder interface {
	Forward(ctx context.Context, endpoint upstream.Endpoint, chainID int64, rawQuery string) (*upstream.Response, error)
}

// SwapProxy serves one aggregator endpoint: it rate limits, validates, and forwards the request
// unchanged, passing the upstream answer back byte for byte.
type SwapProxy struct {
	Endpoint upstream.Endpoint
	Schema   validate.Schema
	Limiter  *engine.RateLimiter
	Upstream Forwarder
	Cache    ResponseCache
	CacheTTL time.Duration
	Timeout  time.Duration
	Clock    func() time.Time
}

// ClientID identifies the caller for rate limiting: the first X-Forwarded-For hop, then
// X-Real-IP, then "unknown".
func ClientID(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return "unknown"
}

func (p *SwapProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	endpoint := string(p.Endpoint)

	decision := p.Limiter.Check(ctx, ClientID(r))
	writeRateLimitHeaders(w, decision)
	if !decision.Allowed {
		p.rejectRateLimited(w, r, decision)
		return
	}

	params, err := validate.Validate(p.Schema, r.URL.Query())
	if err != nil {
		metrics.RecordProxyRequest(endpoint, http.StatusBadRequest)
		respondValidation(w, r, err)
		return
	}

	cacheKey := endpoint + ":" + params.Values().Encode()
	if p.cacheEnabled() {
		status, body, ok, err := p.Cache.GetResponse(ctx, cacheKey)
		if err != nil {
			logProxyWarning("response cache lookup failed", endpoint, err)
		}
		metrics.RecordCacheLookup(endpoint, ok)
		if ok {
			metrics.RecordProxyRequest(endpoint, status)
			writeJSONBody(w, status, "", body)
			return
		}
	}

	if p.Upstream == nil {
		metrics.RecordProxyRequest(endpoint, http.StatusServiceUnavailable)
		respondWithError(w, r, errors.NewErrorEnvelope(apperrors.CodeUnavailable, "upstream is not configured"))
		return
	}

	upstreamCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		upstreamCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	resp, err := p.Upstream.Forward(upstreamCtx, p.Endpoint, params.ChainID, r.URL.RawQuery)
	if err != nil {
		p.respondTransportError(w, r, params.ChainID, err)
		return
	}

	metrics.RecordUpstreamCall(endpoint, params.ChainID, resp.Status, resp.Duration)
	if resp.Fallback {
		metrics.RecordChainFallback(params.ChainID)
		if logger := observability.ServerLogger; logger != nil {
			logger.Warn("unrecognized chain, forwarding to mainnet upstream",
				zap.Int64("chain_id", params.ChainID),
				zap.String("endpoint", endpoint),
				zap.String("upstream_url", resp.URL))
		}
	}

	if !resp.OK() {
		metrics.RecordProxyRequest(endpoint, resp.Status)
		respondUpstreamError(w, r, params.ChainID, resp)
		return
	}

	if p.cacheEnabled() {
		if err := p.Cache.SetResponse(ctx, cacheKey, resp.Status, resp.Body, p.CacheTTL); err != nil {
			logProxyWarning("response cache store failed", endpoint, err)
		}
	}

	metrics.RecordProxyRequest(endpoint, resp.Status)
	writeJSONBody(w, resp.Status, resp.Header.Get("Content-Type"), resp.Body)
}

func (p *SwapProxy) rejectRateLimited(w http.ResponseWriter, r *http.Request, decision core.RateLimitDecision) {
	retryAfter := decision.RetryAfter(p.now())
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))

	metrics.RecordRateLimitDenied(p.Limiter.Policy)
	metrics.RecordProxyRequest(string(p.Endpoint), http.StatusTooManyRequests)

	envelope := errors.NewErrorEnvelope(apperrors.CodeRateLimited, "Too many requests, please try again later.")
	envelope = envelope.WithDetails(map[string]interface{}{
		"remaining": decision.Remaining,
		"resetTime": decision.ResetAt.UTC().Format(time.RFC3339),
	})
	apperrors.RespondWithEnvelopeStatus(w, r, envelope, http.StatusTooManyRequests)
}

func (p *SwapProxy) respondTransportError(w http.ResponseWriter, r *http.Request, chainID int64, err error) {
	var envelope *errors.ErrorEnvelope
	status := http.StatusBadGateway
	if stderrors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		status = http.StatusGatewayTimeout
		envelope = apperrors.WrapTimeout(r.Context(), err, "The swap service took too long to respond.")
	} else {
		envelope = apperrors.WrapExternalService(r.Context(), err, "The swap service could not be reached.")
	}
	envelope = envelope.WithDetails(map[string]interface{}{"chainId": chainID})

	metrics.RecordProxyRequest(string(p.Endpoint), status)
	apperrors.RespondWithEnvelopeStatus(w, r, envelope, status)
}

func respondUpstreamError(w http.ResponseWriter, r *http.Request, chainID int64, resp *upstream.Response) {
	parsed := upstream.ParseError(resp.Status, resp.Body)

	details := map[string]interface{}{"chainId": chainID}
	if len(parsed.ValidationErrors) > 0 {
		details["validationErrors"] = parsed.ValidationErrors
	}
	envelope := errors.NewErrorEnvelope(apperrors.CodeUpstreamError, parsed.Message)
	envelope = envelope.WithDetails(details)
	apperrors.RespondWithEnvelopeStatus(w, r, envelope, resp.Status)
}

func respondValidation(w http.ResponseWriter, r *http.Request, err error) {
	var validation *core.ValidationError
	if !stderrors.As(err, &validation) {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, err.Error()))
		return
	}

	envelope := apperrors.NewValidationError(validation.Message)
	fields := make(map[string]interface{}, len(validation.Fields))
	for name, msg := range validation.Fields {
		fields[name] = msg
	}
	envelope = envelope.WithDetails(map[string]interface{}{"fields": fields})
	apperrors.RespondWithEnvelopeStatus(w, r, envelope, http.StatusBadRequest)
}

func writeRateLimitHeaders(w http.ResponseWriter, decision core.RateLimitDecision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", decision.ResetAt.UTC().Format(time.RFC3339))
}

func writeJSONBody(w http.ResponseWriter, status int, contentType string, body []byte) {
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (p *SwapProxy) cacheEnabled() bool {
	return p.Cache != nil && p.CacheTTL > 0
}

func (p *SwapProxy) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now().UTC()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

func logProxyWarning(msg, endpoint string, err error) {
	if logger := observability.ServerLogger; logger != nil {
		logger.Warn(msg, zap.String("endpoint", endpoint), zap.Error(err))
	}
}
