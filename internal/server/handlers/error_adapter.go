package handlers

import (
	"net/http"

	apperrors "github.com/swapgate/swapgate/internal/errors"
)

// ErrorResponder writes a failed proxy, token or health request as an error envelope.
type ErrorResponder func(http.ResponseWriter, *http.Request, error)

var (
	defaultErrorResponder ErrorResponder = apperrors.RespondWithError
	errorResponder                       = defaultErrorResponder
)

// SetHTTPErrorResponder routes handler failures through responder. The server installs its
// HandleError here at construction; nil restores the envelope writer from internal/errors.
func SetHTTPErrorResponder(responder ErrorResponder) {
	if responder == nil {
		responder = defaultErrorResponder
	}
	errorResponder = responder
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	errorResponder = defaultErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	errorResponder(w, r, err)
}
