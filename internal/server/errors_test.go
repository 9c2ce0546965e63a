package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/swapgate/swapgate/internal/errors"
	"github.com/swapgate/swapgate/internal/server/middleware"
)

func TestHandleErrorReportsDeadlineAsTimeout(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/quote", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-deadline")
	rec := httptest.NewRecorder()

	middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleError(w, r, fmt.Errorf("quote upstream: %w", context.DeadlineExceeded))
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeTimeout, body.Error.Code)
	assert.Equal(t, "req-deadline", body.Error.RequestID)
}

func TestHandleErrorSkipsDisconnectedCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	HandleError(rec, httptest.NewRequest(http.MethodGet, "/price", nil).WithContext(ctx), context.Canceled)

	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Content-Type"))
}

func TestHandleErrorWritesEnvelopes(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(rec, httptest.NewRequest(http.MethodGet, "/tokens/1/PEPE", nil),
		errors.NewErrorEnvelope(apperrors.CodeNotFound, "unknown token"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeNotFound, body.Error.Code)
	assert.Equal(t, "unknown token", body.Error.Message)
}

func TestHandleErrorCanceledWhileCallerConnected(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(rec, httptest.NewRequest(http.MethodGet, "/price", nil), context.Canceled)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
