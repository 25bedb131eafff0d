// Package shutdown stops clienthub's components in dependency order.
//
// Handlers register under a phase. Lower phases stop first; handlers that
// share a phase stop concurrently. clienthubd uses:
//
//   - PhaseHTTP (10): stop accepting connections
//   - PhaseSessions (20): end WebSocket sessions, close the message bus
//   - PhaseStore (30): close the record store and the NATS connection
//   - PhaseTelemetry (40): flush pending spans
//
// Usage:
//
//	coord := shutdown.NewCoordinator(shutdown.Config{Timeout: 15 * time.Second, Logger: logger})
//	coord.Register("http", shutdown.PhaseHTTP, srv.Shutdown)
//	coord.Register("store", shutdown.PhaseStore, func(context.Context) error { return st.Close() })
//
//	sig := coord.WaitForSignal(ctx)
//	err := coord.ShutdownWithTimeout(0)
package shutdown
