package server

import (
	"context"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/swapgate/swapgate/internal/errors"
	"github.com/swapgate/swapgate/internal/observability"
	"github.com/swapgate/swapgate/internal/server/middleware"
)

// HandleError writes err as a JSON error envelope. An expired deadline is reported as TIMEOUT.
// Nothing is written once the caller has disconnected.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if r != nil && r.Context().Err() != nil && stderrors.Is(err, context.Canceled) {
		if observability.ServerLogger != nil {
			observability.ServerLogger.Debug("Caller disconnected before error response",
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetRequestID(r.Context())))
		}
		return
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		ctx := context.Background()
		if r != nil {
			ctx = r.Context()
		}
		apperrors.RespondWithError(w, r, apperrors.WrapTimeout(ctx, err, "request timed out"))
		return
	}

	apperrors.RespondWithError(w, r, err)
}
