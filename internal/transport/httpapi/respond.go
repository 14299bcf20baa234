package httpapi

import (
	"net/http"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/infrastructure/httputil"
	"github.com/blockjoy/controlplane/internal/authn"
)

// writeError maps a component error to an HTTP response. infrastructure
// httputil's handleError doesn't know about *svcerrors.ServiceError (every
// C1-C9 component returns one), so this is the transport layer's own
// mapping instead of relying on that narrower helper.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if svcErr, ok := err.(*svcerrors.ServiceError); ok {
		httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
		return
	}
	if _, ok := err.(*authn.ExpiredJWTError); ok {
		httputil.WriteErrorResponse(w, r, http.StatusUnauthorized, "AUTH_1003", "Authentication token has expired", nil)
		return
	}
	httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, "SVC_5001", "Internal error", nil)
}

// requestMetadata extracts authn.RequestMetadata from the headers/cookies
// a caller could plausibly use (bearer token, API key pair, refresh token
// either as a header or a body field the caller decoded separately).
func requestMetadata(r *http.Request) authn.RequestMetadata {
	meta := authn.RequestMetadata{
		APIKeyID:           r.Header.Get("X-Api-Key-Id"),
		APIKeySecret:       r.Header.Get("X-Api-Key-Secret"),
		RefreshHeaderValue: r.Header.Get("X-Refresh-Token"),
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		meta.BearerToken = auth[7:]
	}
	return meta
}
