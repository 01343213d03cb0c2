// Package audit records security-relevant account events: sign-ins,
// failed sign-ins, sign-outs, account creation and confirmation, and
// profile changes.
//
// Events go to a Logger. LogrusLogger writes them as structured log
// entries, DBLogger stores them in the audit_events table and MultiLogger
// fans out to several loggers. Handlers build events with NewEvent, which
// captures the client address, user agent, request id, method and path of
// the request.
//
// Audit failures never fail the request that triggered them; callers log
// and continue.
package audit
