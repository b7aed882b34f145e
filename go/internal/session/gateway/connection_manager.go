package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRetriesExhausted is reported once the reconnection ceiling is reached
	ErrRetriesExhausted = errors.New("reconnection attempts exhausted")
	// ErrInvalidEndpoint is returned by Connect for unusable addresses
	ErrInvalidEndpoint = errors.New("invalid websocket endpoint")
)

// ConnectionState is the lifecycle state of the persistent connection
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// SignalKind identifies a connection notification
type SignalKind int

const (
	SignalState SignalKind = iota + 1
	SignalMessage
	SignalError
	SignalExhausted
)

// Signal is one notification from the connection task. Signals are
// delivered in the order the transport produced them.
type Signal struct {
	Kind       SignalKind
	Generation uint64 // which Connect call produced the signal
	State      ConnectionState
	Payload    []byte
	Err        error
}

// ConnectionConfig holds configuration for the host connection
type ConnectionConfig struct {
	BaseURL          string        // ws:// or wss:// root of the host
	ReconnectDelay   time.Duration // constant backoff between attempts
	MaxReconnects    int           // attempts after a close before giving up
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64 // inbound frame cap, 0 for none
	ReadBufferSize   int
	WriteBufferSize  int
	SignalBuffer     int
}

// DefaultConnectionConfig returns default connection configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		BaseURL:          "ws://localhost:18080",
		ReconnectDelay:   2 * time.Second,
		MaxReconnects:    5,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   0,
		ReadBufferSize:   4096,
		WriteBufferSize:  1024,
		SignalBuffer:     256,
	}
}

// Manager owns the persistent connection to the host. One task per Connect
// call dials, reads, and reconnects with a bounded constant backoff; every
// exit path of that task releases the connection.
type Manager struct {
	config ConnectionConfig
	dialer *websocket.Dialer
	clock  clockwork.Clock

	signals chan Signal

	mu         sync.Mutex
	state      ConnectionState
	conn       *websocket.Conn
	retries    int
	suppressed bool
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}

	writeMu sync.Mutex
}

// NewManager creates a connection manager
func NewManager(config ConnectionConfig, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.SignalBuffer <= 0 {
		config.SignalBuffer = DefaultConnectionConfig().SignalBuffer
	}
	return &Manager{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
		},
		clock:   clock,
		signals: make(chan Signal, config.SignalBuffer),
		state:   StateDisconnected,
	}
}

// Signals returns the ordered notification channel
func (m *Manager) Signals() <-chan Signal {
	return m.signals
}

// State returns the current connection state
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Retries returns how many reconnection attempts were made since the last open
func (m *Manager) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// Generation identifies the current Connect call. Signals from older
// generations belong to a torn-down connection and should be dropped.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Endpoint builds the connection address for a session and client
func (m *Manager) Endpoint(sessionID, clientID string) (string, error) {
	if sessionID == "" || clientID == "" {
		return "", fmt.Errorf("%w: session and client id are required", ErrInvalidEndpoint)
	}
	base, err := url.Parse(m.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidEndpoint, base.Scheme)
	}
	rawPrefix := strings.TrimSuffix(base.EscapedPath(), "/")
	base.Path = strings.TrimSuffix(base.Path, "/") + "/ws/" + sessionID + "/" + clientID
	base.RawPath = rawPrefix + "/ws/" + url.PathEscape(sessionID) + "/" + url.PathEscape(clientID)
	return base.String(), nil
}

// Connect establishes the connection for a session. Any previous connection
// is torn down first and the retry counter starts again from zero.
func (m *Manager) Connect(sessionID, clientID string) error {
	endpoint, err := m.Endpoint(sessionID, clientID)
	if err != nil {
		return err
	}

	m.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.retries = 0
	m.suppressed = false
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	log.Info().
		Str("session_id", sessionID).
		Str("client_id", clientID).
		Uint64("generation", gen).
		Msg("connecting to host")

	go m.run(ctx, endpoint, gen, done)
	return nil
}

// Disconnect tears the connection down and cancels any pending
// reconnection. No reconnection happens afterwards until Connect is called.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
	log.Info().Msg("disconnected from host")
}

// SuppressReconnect keeps the current connection but stops automatic
// reconnection once it closes.
func (m *Manager) SuppressReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppressed = true
}

// Send writes a pre-serialized command if the connection is open. It is a
// silent no-op otherwise; commands are never queued.
func (m *Manager) Send(payload []byte) bool {
	m.mu.Lock()
	conn, open := m.conn, m.state == StateConnected
	m.mu.Unlock()

	if !open || conn == nil {
		log.Debug().Int("size", len(payload)).Msg("no open connection, dropping command")
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout)); err != nil {
		log.Error().Err(err).Msg("failed to set write deadline")
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Error().Err(err).Msg("failed to write command to WebSocket")
		return false
	}
	return true
}

// run is the connection task for one generation
func (m *Manager) run(ctx context.Context, endpoint string, gen uint64, done chan struct{}) {
	defer close(done)

	for {
		m.setState(ctx, gen, StateConnecting)

		conn, err := m.dial(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("endpoint", endpoint).Msg("failed to connect to host")
			m.emit(ctx, Signal{Kind: SignalError, Generation: gen, Err: err})
		} else {
			m.opened(ctx, gen, conn)
			err = m.readPump(ctx, gen, conn)
			m.release(conn)
			if err != nil && ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("WebSocket connection lost")
				m.emit(ctx, Signal{Kind: SignalError, Generation: gen, Err: err})
			}
		}

		if ctx.Err() != nil {
			return
		}
		m.setState(ctx, gen, StateDisconnected)

		retry, exhausted := m.nextAttempt()
		if exhausted {
			log.Error().Int("max_reconnects", m.config.MaxReconnects).Msg("giving up on host connection")
			m.emit(ctx, Signal{Kind: SignalExhausted, Generation: gen, Err: ErrRetriesExhausted})
			return
		}
		if !retry {
			log.Info().Msg("reconnection suppressed")
			return
		}

		timer := m.clock.NewTimer(m.config.ReconnectDelay)
		log.Debug().
			Dur("delay", m.config.ReconnectDelay).
			Int("attempt", m.Retries()).
			Msg("scheduled reconnection")

		select {
		case <-ctx.Done():
			stopAndDrainTimer(timer)
			return
		case <-timer.Chan():
		}
	}
}

func (m *Manager) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	conn, resp, err := m.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	if m.config.MaxMessageSize > 0 {
		conn.SetReadLimit(m.config.MaxMessageSize)
	}
	return conn, nil
}

func (m *Manager) opened(ctx context.Context, gen uint64, conn *websocket.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.retries = 0
	m.mu.Unlock()

	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("WebSocket connection established")
	m.setState(ctx, gen, StateConnected)
}

// readPump forwards every inbound frame until the connection closes or ctx
// is cancelled. Cancellation sends a normal close frame.
func (m *Manager) readPump(ctx context.Context, gen uint64, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(m.config.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
			if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
				log.Debug().Err(err).Msg("failed to send close frame")
			}
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.emit(ctx, Signal{Kind: SignalMessage, Generation: gen, Payload: message})
	}
}

func (m *Manager) release(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	conn.Close()
}

// nextAttempt decides whether to reconnect and counts the attempt
func (m *Manager) nextAttempt() (retry, exhausted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.suppressed {
		return false, false
	}
	if m.retries >= m.config.MaxReconnects {
		return false, true
	}
	m.retries++
	return true, false
}

func (m *Manager) setState(ctx context.Context, gen uint64, state ConnectionState) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()

	m.emit(ctx, Signal{Kind: SignalState, Generation: gen, State: state})
}

func (m *Manager) emit(ctx context.Context, sig Signal) {
	if ctx.Err() != nil {
		return
	}
	select {
	case m.signals <- sig:
	case <-ctx.Done():
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
