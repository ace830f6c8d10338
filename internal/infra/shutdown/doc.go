// Package shutdown stops long-running commands cleanly.
//
// Usage:
//
//	h := shutdown.NewHandler(0, logger)
//	h.OnShutdown("worker", func(ctx context.Context) error { return srv.Shutdown(ctx) })
//	return h.Wait(ctx)
package shutdown
