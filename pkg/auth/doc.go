// Package auth holds the primitives shared by the session and access control layers.
//
// # Errors
//
// Every operation in turnstile classifies failures with one of five sentinels,
// matched with errors.Is:
//
//	ErrValidation     malformed input (missing id, bad token length)
//	ErrUnauthorized   no authenticated user
//	ErrForbidden      authenticated but no matching permission
//	ErrPersistence    relational store or cache failure
//	ErrConfiguration  invalid role graph, missing secret
//
// Persistence wraps a driver error so both the sentinel and the cause survive:
//
//	if err != nil {
//		return nil, auth.Persistence("find session by token", err)
//	}
//
// HTTPStatus maps any of them to the response status a handler should write.
//
// # Tokens
//
// RandomString draws from crypto/rand. Session tokens and confirmation secrets
// are 32 alphanumeric characters:
//
//	token, err := auth.NewTokenGenerator().SessionToken()
package auth
