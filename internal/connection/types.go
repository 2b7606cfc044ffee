package connection

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/relay-sender/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrAlreadyStarted  = errors.New("already started")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// State is the lifecycle state of the managed connection.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://localhost:8000/ws/client1)
	HandshakeTimeout time.Duration // Max time for the opening handshake
	PingInterval     time.Duration // Keepalive ping period (0 disables heartbeat)
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	WSURL          string        // WebSocket URL to dial
	ServerAddress  string        // Human-facing server address for error hints (optional)
	SendInterval   time.Duration // Period between outgoing messages while open
	ReconnectDelay time.Duration // Fixed wait between a close and the next connect attempt
	Client         ClientConfig  // Per-connection settings; URL is taken from WSURL
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		WSURL:          "ws://localhost:8000/ws/client1",
		ServerAddress:  "http://localhost:8000",
		SendInterval:   10 * time.Second,
		ReconnectDelay: 3 * time.Second,
		Client:         DefaultClientConfig(),
	}
}

func (c ManagerConfig) clientConfig() ClientConfig {
	cfg := c.Client
	cfg.URL = c.WSURL
	return cfg
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State       State
	SessionID   uuid.UUID // Identifies the current (or last) connection; zero before the first dial
	ConnectedAt time.Time // Zero unless State is StateOpen
	Sent        int64
	Skipped     int64 // SendMessage calls made while not open
	Received    int64 // "receive" messages
	ParseErrors int64
	Reconnects  int64
}

// Recorder receives manager events for metrics. Implementations must be goroutine-safe.
type Recorder interface {
	SetState(state string)
	MessageSent()
	MessageSkipped()
	MessageReceived()
	ParseError()
	Reconnect()
	ConnectionError()
}

type nopRecorder struct{}

func (nopRecorder) SetState(string)  {}
func (nopRecorder) MessageSent()     {}
func (nopRecorder) MessageSkipped()  {}
func (nopRecorder) MessageReceived() {}
func (nopRecorder) ParseError()      {}
func (nopRecorder) Reconnect()       {}
func (nopRecorder) ConnectionError() {}

// ReceiveHandler is called for every inbound message of type "receive".
// It runs on the manager's event loop and must not block.
type ReceiveHandler interface {
	HandleReceive(msg model.IncomingMessage)
}

// ReceiveHandlerFunc is a function adapter for ReceiveHandler.
type ReceiveHandlerFunc func(model.IncomingMessage)

func (f ReceiveHandlerFunc) HandleReceive(msg model.IncomingMessage) {
	f(msg)
}
