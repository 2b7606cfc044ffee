// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - WebSocket connection state and reconnect count
//   - Outgoing message rate, including sends skipped while disconnected
//   - Inbound message rate and parse failures
package metrics
