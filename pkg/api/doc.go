// Package api provides the HTTP account API.
//
// # Overview
//
// The API is built on gorilla/mux. Every request passes through the request
// logger, the HTTP metrics middleware and the session middleware, in that
// order, so handlers can rely on middleware.UserFromRequest.
//
//	server := api.NewServer(api.Deps{...})
//	http.ListenAndServe(":8080", server)
//
// # Endpoints
//
//	POST /login              email + password, starts a session
//	POST /logout             signs the session out and clears the cookie
//	POST /account/create     sign-up, mails a confirmation secret
//	POST /account/confirm    confirms the account and starts a session
//	GET  /account/profile    requires account.profile:list
//	POST /account/profile    requires account.profile:post
//	GET  /health/live
//	GET  /health/ready
//	GET  /metrics
//
// Login and confirmation answer with the cookie that was set:
//
//	{"success": true, "cookie": {"name": "turnstile_sid", "value": "...", "lifetime": 1209600000}}
//
// lifetime is in milliseconds and null when sessions do not expire. The
// same value may be sent as "Authorization: Bearer <value>" instead of a
// cookie.
package api
