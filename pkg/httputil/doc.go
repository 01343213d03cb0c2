// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, profile)
//	httputil.WriteBadRequest(w, "email is required")
//
// Domain errors from the session and access control layers go through
// WriteDomainError, which maps the auth sentinels to 400/401/403/500:
//
//	if err := checker.Check(ctx, user, "account.profile", "update"); err != nil {
//		httputil.WriteDomainError(w, err)
//		return
//	}
//
// # Requests
//
//	var req LoginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
package httputil
