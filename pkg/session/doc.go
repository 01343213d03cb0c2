// Package session tracks authenticated sessions.
//
// A session row holds a random lookup token. Clients never see the token
// directly; they receive a signed credential produced by Codec that
// carries only the token.
//
// Registry is the entry point for requests:
//
//	s, user, err := registry.Load(ctx, cookieValue, session.RequestContextFrom(r))
//	if err != nil {
//		// store failure
//	}
//	if s == nil {
//		// anonymous request
//	}
//
// Load refreshes the client info and last-use time of the session on every
// call. Those writes are held in memory and written to the Store once per
// SaveInterval per session, measured from the first change. Flush writes
// everything still pending and should be called on shutdown.
//
// Several processes may hold snapshots of the same session. Store.Save
// only overwrites a row whose updated_at is older than the snapshot, so the
// newest snapshot always survives regardless of write order.
package session
