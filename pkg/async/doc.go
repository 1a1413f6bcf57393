// Package async provides panic-safe concurrent execution primitives for
// background work.
//
// # Overview
//
// SafeGo runs a fire-and-forget task in a goroutine with panic recovery,
// so lock lease heartbeats and webhook dispatches can never take the
// process down. WorkerPool runs submitted tasks on a fixed set of
// goroutines with per-task timeouts and graceful shutdown; webhook
// delivery rides on one.
//
// # Usage Example
//
//	async.SafeGo("lease heartbeat", logger, func() {
//		lock.heartbeat()
//	})
//
//	pool := async.NewWorkerPool(ctx, 4, "webhook delivery", 30*time.Second, logger)
//	defer pool.Shutdown(5 * time.Second)
//	pool.Submit(func(ctx context.Context) error {
//		return deliver(ctx, event)
//	})
package async
