// Package model defines the JSON envelopes exchanged with the relay server.
//
// Conventions:
//   - One envelope per WebSocket text frame, no trailing newline
//   - Outgoing envelopes always carry type "send"
//   - Incoming envelopes are acted on only when type is "receive"
package model
