package ws

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"chattrix/client/internal/models"
)

// Status is the observable connection state. Callers watch Status or the
// event channel; Connect never returns an error.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "disconnected"
	}
}

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventError
	EventMessage
)

// Event is one typed notification from a connection. Envelope is set for
// EventMessage, Err for EventError.
type Event struct {
	Kind     EventKind
	Envelope *models.PushEnvelope
	Err      error
}

// Config bounds the reconnect and heartbeat behavior of a Manager. Zero
// values fall back to the defaults below.
type Config struct {
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	PongTimeout          time.Duration
	EventBuffer          int
	Clock                clockwork.Clock
	Dialer               *websocket.Dialer
}

const (
	defaultReconnectInterval = 3 * time.Second
	defaultMaxReconnects     = 5
	defaultPingInterval      = 30 * time.Second
	defaultPongTimeout       = 10 * time.Second
	defaultEventBuffer       = 64
)

func (c *Config) withDefaults() {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnects
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Manager owns at most one live socket for a room or topic. It reconnects
// with a fixed backoff after unintentional closes, probes liveness with
// ping/pong and publishes typed events on a channel consumed by the
// reconciler.
type Manager struct {
	url   string
	token string
	cfg   Config

	status int32

	mu           sync.Mutex
	conn         *websocket.Conn
	manual       bool
	attempts     int
	reconnecting bool
	cancelRetry  context.CancelFunc
	stopHB       chan struct{}
	pongTimer    clockwork.Timer
	gen          int
	closed       bool

	writeMu sync.Mutex
	events  chan Event
}

func NewManager(rawURL, token string, cfg Config) *Manager {
	cfg.withDefaults()
	return &Manager{
		url:    rawURL,
		token:  token,
		cfg:    cfg,
		events: make(chan Event, cfg.EventBuffer),
	}
}

// Events is the ordered stream of connection events. The channel closes
// when the manager is destroyed.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) Status() Status {
	return Status(atomic.LoadInt32(&m.status))
}

func (m *Manager) setStatus(s Status) {
	atomic.StoreInt32(&m.status, int32(s))
}

// Connect opens the socket unless one is already open or opening. Failures
// surface through status and the event channel, never as a return value.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	st := m.Status()
	if st == StatusConnected || st == StatusConnecting {
		m.mu.Unlock()
		return
	}
	m.manual = false
	m.setStatus(StatusConnecting)
	m.mu.Unlock()

	if err := m.dial(context.Background()); err != nil {
		m.setStatus(StatusError)
		m.emit(Event{Kind: EventError, Err: err})
		m.scheduleReconnect()
	}
}

// dial performs one connection attempt. On success it installs the socket
// and starts the read and heartbeat loops; on failure it only returns the
// error so the caller decides the retry policy.
func (m *Manager) dial(ctx context.Context) error {
	sep := "?"
	if strings.Contains(m.url, "?") {
		sep = "&"
	}
	conn, resp, err := m.cfg.Dialer.DialContext(ctx, m.url+sep+"token="+m.token, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		log.Printf("ws %s: connect failed: %v", m.url, err)
		return err
	}

	m.mu.Lock()
	if m.closed || m.manual {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	if m.conn != nil {
		// Lost a connect race; keep the socket that won.
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.attempts = 0
	m.gen++
	gen := m.gen
	m.stopHB = make(chan struct{})
	stop := m.stopHB
	m.setStatus(StatusConnected)
	m.mu.Unlock()

	m.emit(Event{Kind: EventConnected})

	go m.readLoop(conn, gen)
	go m.heartbeat(gen, stop)
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}

		env := &models.PushEnvelope{}
		if err := json.Unmarshal(raw, env); err != nil {
			log.Printf("ws %s: dropping undecodable frame: %v", m.url, err)
			continue
		}

		switch env.Type {
		case models.PushTypePong:
			m.clearPongTimer()
		case models.PushTypePing:
			m.Send(map[string]string{"type": models.PushTypePong})
		default:
			m.emit(Event{Kind: EventMessage, Envelope: env})
		}
	}
}

// heartbeat sends a ping every PingInterval and arms a pong deadline that
// forces the socket closed when the server stays silent.
func (m *Manager) heartbeat(gen int, stop chan struct{}) {
	ticker := m.cfg.Clock.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if !m.Send(map[string]string{"type": models.PushTypePing}) {
				continue
			}
			m.armPongTimer(gen)
		}
	}
}

func (m *Manager) armPongTimer(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.pongTimer != nil {
		return
	}
	m.pongTimer = m.cfg.Clock.AfterFunc(m.cfg.PongTimeout, func() {
		log.Printf("ws %s: heartbeat timeout, forcing close", m.url)
		m.mu.Lock()
		conn := m.conn
		stale := m.gen != gen
		m.mu.Unlock()
		if !stale && conn != nil {
			conn.Close()
		}
	})
}

func (m *Manager) clearPongTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
}

// handleClose runs when the read loop exits. Stale generations (already
// superseded by Disconnect or a redial) are ignored.
func (m *Manager) handleClose(gen int, err error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.cleanupLocked()
	manual := m.manual
	m.setStatus(StatusDisconnected)
	m.mu.Unlock()

	log.Printf("ws %s: closed: %v", m.url, err)
	m.emit(Event{Kind: EventDisconnected})

	if !manual {
		m.scheduleReconnect()
	}
}

// cleanupLocked tears down the socket and every timer. Callers hold m.mu.
func (m *Manager) cleanupLocked() {
	if m.stopHB != nil {
		close(m.stopHB)
		m.stopHB = nil
	}
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

// Disconnect closes the socket intentionally, suppressing reconnection, and
// fires a disconnect event.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	if m.cancelRetry != nil {
		m.cancelRetry()
		m.cancelRetry = nil
	}
	m.gen++
	m.cleanupLocked()
	m.setStatus(StatusDisconnected)
	m.mu.Unlock()

	m.emit(Event{Kind: EventDisconnected})
}

// Send serializes payload onto the socket, reporting success as a boolean.
func (m *Manager) Send(payload any) bool {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil || m.Status() != StatusConnected {
		return false
	}

	m.writeMu.Lock()
	err := conn.WriteJSON(payload)
	m.writeMu.Unlock()
	if err != nil {
		log.Printf("ws %s: send failed: %v", m.url, err)
		return false
	}
	return true
}

// scheduleReconnect starts the fixed-interval retry loop unless one is
// already running, the manager was closed, or the disconnect was manual.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.manual || m.reconnecting || m.closed {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		log.Printf("ws %s: giving up after %d reconnect attempts", m.url, m.attempts)
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelRetry = cancel
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.reconnecting = false
			if m.cancelRetry != nil {
				m.cancelRetry = nil
			}
			m.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.cfg.Clock.After(m.cfg.ReconnectInterval):
			}

			m.mu.Lock()
			if m.manual || m.closed || m.conn != nil {
				m.mu.Unlock()
				return
			}
			m.attempts++
			attempt := m.attempts
			m.setStatus(StatusConnecting)
			m.mu.Unlock()

			log.Printf("ws %s: reconnect attempt %d/%d", m.url, attempt, m.cfg.MaxReconnectAttempts)
			if err := m.dial(ctx); err == nil {
				return
			}
			m.setStatus(StatusError)

			if attempt >= m.cfg.MaxReconnectAttempts {
				log.Printf("ws %s: giving up after %d reconnect attempts", m.url, attempt)
				return
			}
		}
	}()
}

// Destroy disconnects and closes the event channel. The manager must not be
// reused afterwards.
func (m *Manager) Destroy() {
	m.Disconnect()

	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	m.mu.Unlock()
}

// emit publishes an event without ever blocking a read loop. Overflow is
// dropped; identifier-keyed merging downstream makes a dropped duplicate
// harmless and history fetches repair a dropped original.
func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
		log.Printf("ws %s: event buffer full, dropping event kind=%d", m.url, ev.Kind)
	}
}
