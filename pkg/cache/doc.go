// Package cache provides the key-value cache used by the stores and the
// channel that keeps caches of several processes coherent.
//
// # Keys
//
// Cached rows live under "sql:<table>-by-<column>:<value>":
//
//	cache.Key("sessions", "token", "Ab3...") // sql:sessions-by-token:Ab3...
//	cache.Key("roles", "user-id", 42)         // sql:roles-by-user-id:42
//
// # Backends
//
// RedisCache is shared by all processes and expires entries after a TTL.
// MemoryCache is a per-process LRU. Nop disables caching.
//
// # Invalidation
//
// A store that writes a row calls Evict, which unsets the key locally and
// publishes {"key": "<table>-by-<column>:<value>"} on the invalidate_cache
// channel. Every process runs an Invalidator on a Notifier (Postgres
// LISTEN/NOTIFY or Redis pub/sub) which unsets "sql:" + key and notifies
// listeners registered for the topic, here "<table>-by-<column>":
//
//	inv := cache.NewInvalidator(c, logger)
//	inv.On("sessions-by-token", registry.Observe)
//	go inv.Run(ctx, cache.NewPostgresNotifier(db, dsn, logger))
//
// Listeners also fire for writes of the local process. Topics without a
// listener only unset the key.
package cache
