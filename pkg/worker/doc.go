// Package worker provides interfaces for the command worker.
//
// The command worker is the single serialized owner of all relay state:
//   - the response cache
//   - the connection state
//   - the peripheral handle and the peripheral session itself
//
// Host requests and session events enter one FIFO queue and are processed strictly
// one at a time in arrival order. Nothing else reads or writes the worker's state;
// synchronous callers such as health checks read a Status snapshot instead.
//
// Request flow:
//  1. The relay service decodes an inbound host message into a Request
//  2. Submit enqueues the Request behind any pending requests and events
//  3. The worker sends, drops, invalidates or answers from cache per element
//  4. Replies arrive later as session events and are cached and forwarded to the host
//
// Example usage:
//
//	w := worker.New(config, sessionFactory, publisher, logger)
//	go w.Run(ctx)
//
//	err := w.Submit(ctx, worker.Request{
//		Kind:     worker.KindReadCachedBulk,
//		Commands: commands,
//	})
package worker
