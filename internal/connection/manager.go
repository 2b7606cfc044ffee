package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/relay-sender/internal/model"
	"github.com/rickgao/relay-sender/internal/picker"
)

// Manager owns the relay connection, its reconnect policy and the send timer.
type Manager interface {
	// Start launches the event loop. The first connect attempt happens asynchronously.
	Start(ctx context.Context) error

	// Stop cancels the event loop and closes the connection.
	Stop(ctx context.Context) error

	// SendMessage transmits one randomly picked message if the connection is open.
	// When not open it logs a notice and returns nil.
	SendMessage() error

	// State returns the current connection state.
	State() State

	// Stats returns current connection and message statistics.
	Stats() ManagerStats
}

// DialFunc opens a connected Client. It is the seam for substituting the transport in tests.
type DialFunc func(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (Client, error)

// Dial is the default DialFunc backed by gorilla/websocket.
func Dial(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (Client, error) {
	c := NewClient(cfg, logger)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Option customizes a Manager.
type Option func(*manager)

// WithDialer replaces the transport used to open connections.
func WithDialer(dial DialFunc) Option {
	return func(m *manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

// WithRecorder reports manager events to r (e.g. Prometheus collectors).
func WithRecorder(r Recorder) Option {
	return func(m *manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithReceiveHandler registers a handler for inbound "receive" messages.
func WithReceiveHandler(h ReceiveHandler) Option {
	return func(m *manager) {
		m.handler = h
	}
}

// manager implements the Manager interface.
type manager struct {
	cfg      ManagerConfig
	picker   *picker.Picker
	logger   *slog.Logger
	dial     DialFunc
	recorder Recorder
	handler  ReceiveHandler

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	state atomic.Int32

	// Current connection, owned by the event loop; read by SendMessage and Stats.
	mu          sync.RWMutex
	client      Client
	connLogger  *slog.Logger
	session     uuid.UUID
	connectedAt time.Time

	sent        atomic.Int64
	skipped     atomic.Int64
	received    atomic.Int64
	parseErrors atomic.Int64
	reconnects  atomic.Int64
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, p *picker.Picker, logger *slog.Logger, opts ...Option) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &manager{
		cfg:      cfg,
		picker:   p,
		logger:   logger,
		dial:     Dial,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.state.Store(int32(StateClosed))
	m.recorder.SetState(StateClosed.String())

	return m
}

// Start begins the connection manager.
func (m *manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("connection manager started",
		"url", m.cfg.WSURL,
		"send_interval", m.cfg.SendInterval,
		"reconnect_delay", m.cfg.ReconnectDelay,
	)

	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	if !m.started.Load() {
		return nil
	}

	m.logger.Info("stopping connection manager")

	if m.cancel != nil {
		m.cancel()
	}

	// Wait for the event loop with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
		err = ctx.Err()
	}

	if c := m.detach(); c != nil {
		c.Close()
	}
	m.setState(StateClosed)

	m.logger.Info("connection manager stopped")
	return err
}

// State returns the current connection state.
func (m *manager) State() State {
	return State(m.state.Load())
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.RLock()
	session := m.session
	connectedAt := m.connectedAt
	m.mu.RUnlock()

	state := m.State()
	if state != StateOpen {
		connectedAt = time.Time{}
	}

	return ManagerStats{
		State:       state,
		SessionID:   session,
		ConnectedAt: connectedAt,
		Sent:        m.sent.Load(),
		Skipped:     m.skipped.Load(),
		Received:    m.received.Load(),
		ParseErrors: m.parseErrors.Load(),
		Reconnects:  m.reconnects.Load(),
	}
}

// SendMessage picks a content and a receiver and transmits them as one "send" envelope.
func (m *manager) SendMessage() error {
	m.mu.RLock()
	c := m.client
	logger := m.connLogger
	m.mu.RUnlock()

	if m.State() != StateOpen || c == nil {
		m.skipped.Add(1)
		m.recorder.MessageSkipped()
		m.logger.Info("not connected, message not sent", "state", m.State())
		return nil
	}

	msg := m.picker.Next()
	data, err := msg.Encode()
	if err != nil {
		logger.Error("failed to encode message", "error", err)
		return err
	}

	if err := c.Send(data); err != nil {
		logger.Warn("failed to send message",
			"receiver", msg.Receiver,
			"error", err,
		)
		return fmt.Errorf("send message: %w", err)
	}

	m.sent.Add(1)
	m.recorder.MessageSent()
	logger.Info("sent message",
		"receiver", msg.Receiver,
		"content", msg.Content,
	)

	return nil
}

// run is the event loop: connect, serve until close, wait the reconnect delay, repeat.
func (m *manager) run() {
	defer m.wg.Done()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			m.reconnects.Add(1)
			m.recorder.Reconnect()
			m.logger.Info("attempting reconnection", "attempt", attempt)
		}

		m.connectAndServe()

		if m.ctx.Err() != nil {
			return
		}
		if !m.waitReconnect() {
			return
		}
	}
}

// connectAndServe performs one connection lifecycle: Connecting, then Open until the
// connection ends, then Closed. A failed dial goes straight from Connecting to Closed.
func (m *manager) connectAndServe() {
	session := uuid.New()
	logger := m.logger.With("session", session.String())

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	m.setState(StateConnecting)

	logger.Debug("connecting", "url", m.cfg.WSURL)

	c, err := m.dial(m.ctx, m.cfg.clientConfig(), logger)
	if err != nil {
		m.setState(StateClosed)
		if m.ctx.Err() != nil {
			return
		}
		m.recorder.ConnectionError()
		m.onError(logger, err)
		m.onClose(logger, err)
		return
	}

	m.onOpen(logger, c)
	err = m.serve(logger, c)

	m.detach()
	c.Close()
	m.setState(StateClosed)

	if m.ctx.Err() != nil {
		logger.Info("websocket connection closed", "code", websocket.CloseNormalClosure)
		return
	}
	if !isCleanClose(err) {
		m.recorder.ConnectionError()
		m.onError(logger, err)
	}
	m.onClose(logger, err)
}

// onOpen publishes the new connection and marks it open.
func (m *manager) onOpen(logger *slog.Logger, c Client) {
	m.mu.Lock()
	m.client = c
	m.connLogger = logger
	m.connectedAt = time.Now()
	m.mu.Unlock()
	m.setState(StateOpen)

	logger.Info("websocket connection established", "url", m.cfg.WSURL)
}

// onError reports a transport failure. Recovery is left to the close path.
func (m *manager) onError(logger *slog.Logger, err error) {
	logger.Error("websocket error", "error", err)
	if m.cfg.ServerAddress != "" {
		logger.Info("make sure the server is running", "address", m.cfg.ServerAddress)
	}
}

// onClose logs the close code; the caller schedules the reconnect.
func (m *manager) onClose(logger *slog.Logger, err error) {
	logger.Info("websocket connection closed",
		"code", closeCode(err),
		"reconnect_in", m.cfg.ReconnectDelay,
	)
}

// serve handles one open connection. The send ticker lives exactly as long as this call,
// so at most one send timer is active at any time.
func (m *manager) serve(logger *slog.Logger, c Client) error {
	ticker := time.NewTicker(m.cfg.SendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return nil

		case <-ticker.C:
			// Failures are logged by SendMessage; the connection's error channel drives the close path.
			_ = m.SendMessage()

		case msg := <-c.Messages():
			m.handleMessage(logger, msg.Data)

		case err := <-c.Errors():
			m.drain(logger, c)
			return err
		}
	}
}

// drain handles frames that were buffered before the connection failed.
func (m *manager) drain(logger *slog.Logger, c Client) {
	for {
		select {
		case msg := <-c.Messages():
			m.handleMessage(logger, msg.Data)
		default:
			return
		}
	}
}

// handleMessage parses one inbound frame. Parse failures are logged and the frame dropped.
func (m *manager) handleMessage(logger *slog.Logger, data []byte) {
	msg, err := model.DecodeIncoming(data)
	if err != nil {
		m.parseErrors.Add(1)
		m.recorder.ParseError()
		logger.Error("failed to parse message",
			"error", err,
			"raw", truncate(data, 256),
		)
		return
	}

	if !msg.IsReceive() {
		return
	}

	m.received.Add(1)
	m.recorder.MessageReceived()
	logger.Info("message received",
		"sender", msg.Sender,
		"content", msg.Content,
	)

	if m.handler != nil {
		m.handler.HandleReceive(msg)
	}
}

// waitReconnect blocks for the reconnect delay. It returns false if the manager is stopping.
func (m *manager) waitReconnect() bool {
	timer := time.NewTimer(m.cfg.ReconnectDelay)
	defer timer.Stop()

	select {
	case <-m.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// detach clears the current connection and returns it.
func (m *manager) detach() Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.client
	m.client = nil
	m.connLogger = nil
	return c
}

func (m *manager) setState(s State) {
	if State(m.state.Swap(int32(s))) == s {
		return
	}
	m.recorder.SetState(s.String())
}

// closeCode maps a terminal error to a WebSocket close status code.
func closeCode(err error) int {
	if err == nil {
		return websocket.CloseNormalClosure
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

// isCleanClose reports whether the peer closed the connection deliberately.
func isCleanClose(err error) bool {
	if err == nil {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	return false
}

// truncate shortens data to at most n bytes without splitting a UTF-8 sequence.
func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	for n > 0 && !utf8.RuneStart(data[n]) {
		n--
	}
	return string(data[:n]) + "..."
}
