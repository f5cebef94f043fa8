package testutil

import (
	"net/http"

	"expedients/pkg/requestcontext"
)

// WithRequestID sets the request id the way the RequestID middleware does,
// for handler tests that bypass the router chain.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
