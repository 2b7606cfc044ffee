// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Maintains one WebSocket connection to the relay server
//   - Reconnects after a fixed delay whenever the connection closes or fails to open
//   - Sends one randomly picked message per send interval while the connection is open
//   - Logs inbound "receive" messages and hands them to an optional ReceiveHandler
package connection
