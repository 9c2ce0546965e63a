package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/swapgate/swapgate/internal/metrics"
	"github.com/swapgate/swapgate/internal/observability"
)

// Recovery turns a handler panic into a 500 envelope. The stack trace is logged, never returned.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}

				requestID := GetRequestID(r.Context())
				panicErr := errors.NewErrorEnvelope("INTERNAL_ERROR", "internal server error").
					WithCorrelationID(requestID)
				panicErr, _ = panicErr.WithSeverity(errors.SeverityCritical)

				metrics.RecordPanic()
				if observability.ServerLogger != nil {
					observability.ServerLogger.Error("handler panic",
						zap.String("panic", fmt.Sprint(recovered)),
						zap.String("path", r.URL.Path),
						zap.String("request_id", requestID),
						zap.String("stack_trace", string(debug.Stack())))
				}

				writeErrorResponse(w, panicErr, http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorResponse mirrors the envelope body written by the errors package.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// writeErrorResponse is used instead of the errors package, which imports this one.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	response := ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   envelope.Details,
			RequestID: envelope.CorrelationID,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
