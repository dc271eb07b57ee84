// Package transport owns the physical WebSocket connection to the agent:
// dialing, disconnect, and bounded fixed-delay automatic reconnection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// ErrTransport is returned when the transport handshake fails.
var ErrTransport = errors.New("transport: connection failed")

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// State is a snapshot of the transport for observers.
type State struct {
	Status Status `json:"status"`
	URL    string `json:"url,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Dialer opens one duplex byte stream to url. The default dials a
// WebSocket and exposes it as a net.Conn over text messages.
type Dialer func(ctx context.Context, url string) (io.ReadWriteCloser, error)

const (
	DefaultReconnectAttempts = 3
	DefaultReconnectDelay    = time.Second
)

// Options configures a Manager.
type Options struct {
	URL               string
	ReconnectAttempts int           // 0 means DefaultReconnectAttempts
	ReconnectDelay    time.Duration // 0 means DefaultReconnectDelay

	// OnStateChange observes every transition. Called outside the
	// manager's lock; must not call back into the manager.
	OnStateChange func(State)

	// OnReconnect receives the fresh stream produced by a successful
	// automatic reconnection.
	OnReconnect func(io.ReadWriteCloser)

	OnError func(error)

	// Dialer overrides the WebSocket dialer, used by tests.
	Dialer Dialer
}

// Manager drives one WebSocket connection with automatic reconnection.
// Reconnection only ever follows an unexpected close: a manual Disconnect
// sets a flag checked before every retry, so it can never resurrect the
// connection, even if invoked while a retry timer is pending.
type Manager struct {
	opts Options

	mu         sync.Mutex
	stream     io.ReadWriteCloser
	status     Status
	retries    int
	retryTimer *time.Timer
	manual     bool
}

// NewManager creates a Manager. It does not dial until Connect.
func NewManager(opts Options) *Manager {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = DefaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = dialWebSocket
	}
	return &Manager{opts: opts, status: StatusDisconnected}
}

func dialWebSocket(ctx context.Context, url string) (io.ReadWriteCloser, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	// The returned net.Conn owns the websocket lifetime from here on.
	return websocket.NetConn(context.Background(), conn, websocket.MessageText), nil
}

// Connect opens the transport and returns the duplex byte stream once the
// handshake completes. On failure it reports ErrTransport and begins
// automatic reconnection.
func (m *Manager) Connect(ctx context.Context) (io.ReadWriteCloser, error) {
	m.mu.Lock()
	m.manual = false
	m.retries = 0
	m.mu.Unlock()

	stream, err := m.dialOnce(ctx)
	if err != nil {
		m.scheduleReconnect()
		return nil, err
	}
	return stream, nil
}

// Disconnect deterministically tears the transport down: the manual flag
// is set and the retry timer cancelled before the stream is closed, so the
// close that follows never looks like an unexpected one.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	stream := m.stream
	m.stream = nil
	m.status = StatusDisconnected
	m.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	m.notify(State{Status: StatusDisconnected, URL: m.opts.URL})
}

// HandleClose is invoked by the stream's owner when reads fail, signalling
// an unexpected close. It transitions to disconnected and starts the retry
// cycle unless the close was manual.
func (m *Manager) HandleClose(err error) {
	m.mu.Lock()
	if m.manual {
		m.mu.Unlock()
		return
	}
	m.stream = nil
	m.status = StatusDisconnected
	m.mu.Unlock()

	if err != nil {
		log.Debug().Err(err).Str("url", m.opts.URL).Msg("transport: connection lost")
	}
	m.notify(State{Status: StatusDisconnected, URL: m.opts.URL})
	m.scheduleReconnect()
}

// State returns the current connection state snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{Status: m.status, URL: m.opts.URL}
}

func (m *Manager) dialOnce(ctx context.Context) (io.ReadWriteCloser, error) {
	m.setStatus(StatusConnecting)
	m.notify(State{Status: StatusConnecting, URL: m.opts.URL})

	stream, err := m.opts.Dialer(ctx, m.opts.URL)
	if err != nil {
		m.setStatus(StatusError)
		m.notify(State{Status: StatusError, URL: m.opts.URL, Err: err.Error()})
		if m.opts.OnError != nil {
			m.opts.OnError(err)
		}
		return nil, fmt.Errorf("transport.Manager.Connect %s: %w: %w", m.opts.URL, ErrTransport, err)
	}

	m.mu.Lock()
	m.stream = stream
	m.status = StatusConnected
	m.retries = 0
	m.mu.Unlock()

	m.notify(State{Status: StatusConnected, URL: m.opts.URL})
	return stream, nil
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.manual || m.retries >= m.opts.ReconnectAttempts {
		// Out of attempts: settle in disconnected and stop retrying.
		settled := !m.manual && m.status != StatusDisconnected
		if settled {
			m.status = StatusDisconnected
		}
		m.mu.Unlock()
		if settled {
			m.notify(State{Status: StatusDisconnected, URL: m.opts.URL})
		}
		return
	}
	m.retries++
	m.retryTimer = time.AfterFunc(m.opts.ReconnectDelay, m.retry)
	m.mu.Unlock()
}

func (m *Manager) retry() {
	m.mu.Lock()
	if m.manual {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stream, err := m.dialOnce(ctx)
	if err != nil {
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	// Re-validate after the dial suspension: a manual disconnect may have
	// landed while we were connecting.
	if m.manual {
		m.stream = nil
		m.mu.Unlock()
		_ = stream.Close()
		return
	}
	m.mu.Unlock()

	if m.opts.OnReconnect != nil {
		m.opts.OnReconnect(stream)
	}
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

func (m *Manager) notify(state State) {
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(state)
	}
}
