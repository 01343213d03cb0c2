// Package async provides panic-safe execution primitives for background work.
//
// SafeGo is fire-and-forget: errors and panics are logged, never returned.
// The session registry uses it for debounced writes.
//
//	async.SafeGo(context.Background(), logger, 10*time.Second, "session flush", func(ctx context.Context) error {
//		return store.Save(ctx, snapshot)
//	})
//
// Batch fans out over a slice with bounded concurrency and collects errors.
// The registry uses it to flush every pending session on shutdown.
//
//	errs := async.Batch(ctx, snapshots, 8, 10*time.Second, func(ctx context.Context, s *session.Session) error {
//		return store.Save(ctx, s)
//	})
package async
