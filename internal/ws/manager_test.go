package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chattrix/client/internal/models"
)

var upgrader = websocket.Upgrader{}

// wsServer is a scriptable push endpoint. handle runs per connection and
// owns the socket until it returns.
type wsServer struct {
	srv     *httptest.Server
	conns   int64
	lastTok atomic.Value
	handle  func(conn *websocket.Conn)
}

func newWSServer(t *testing.T, handle func(conn *websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{handle: handle}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt64(&s.conns, 1)
		s.lastTok.Store(r.URL.Query().Get("token"))
		if s.handle != nil {
			s.handle(conn)
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) connections() int64 {
	return atomic.LoadInt64(&s.conns)
}

// holdOpen keeps the server side reading until the peer goes away.
func holdOpen(conn *websocket.Conn) {
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed while waiting")
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestManagerConnectDeliversTokenAndEvent(t *testing.T) {
	srv := newWSServer(t, holdOpen)
	m := NewManager(srv.url(), "secret-token", Config{})
	defer m.Destroy()

	m.Connect()

	waitEvent(t, m.Events(), EventConnected)
	assert.Equal(t, StatusConnected, m.Status())
	assert.Equal(t, "secret-token", srv.lastTok.Load())
}

func TestManagerConnectIsIdempotentWhileConnected(t *testing.T) {
	srv := newWSServer(t, holdOpen)
	m := NewManager(srv.url(), "tok", Config{})
	defer m.Destroy()

	m.Connect()
	waitEvent(t, m.Events(), EventConnected)
	m.Connect()
	m.Connect()

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, srv.connections())
}

func TestManagerSurfacesChatMessages(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteJSON(map[string]any{
			"type": "chat_message", "id": 42, "room_id": 7, "content": "hi",
			"messages_type": "text",
			"sender":        map[string]any{"id": 2, "username": "bob"},
		})
		holdOpen(conn)
	})
	m := NewManager(srv.url(), "tok", Config{})
	defer m.Destroy()

	m.Connect()
	ev := waitEvent(t, m.Events(), EventMessage)

	require.NotNil(t, ev.Envelope)
	assert.Equal(t, models.PushTypeChatMessage, ev.Envelope.Type)
	got := ev.Envelope.Message()
	assert.Equal(t, 42, got.ID)
	assert.Equal(t, 7, got.RoomID)
	require.NotNil(t, got.Sender)
	assert.Equal(t, "bob", got.Sender.Username)
}

func TestManagerAnswersServerPingWithoutSurfacingIt(t *testing.T) {
	gotPong := make(chan struct{})
	srv := newWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteJSON(map[string]string{"type": "ping"})
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(raw, &frame) == nil && frame.Type == "pong" {
				close(gotPong)
				holdOpen(conn)
				return
			}
		}
	})
	m := NewManager(srv.url(), "tok", Config{})
	defer m.Destroy()

	m.Connect()
	waitEvent(t, m.Events(), EventConnected)

	select {
	case <-gotPong:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the pong reply")
	}

	// The ping must not leak to consumers as a message event.
	select {
	case ev := <-m.Events():
		assert.NotEqual(t, EventMessage, ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManagerHeartbeatTimeoutForcesReconnect(t *testing.T) {
	// The server swallows pings, so the pong deadline fires, the socket is
	// forced closed and the manager dials again on its own.
	srv := newWSServer(t, holdOpen)
	m := NewManager(srv.url(), "tok", Config{
		PingInterval:      20 * time.Millisecond,
		PongTimeout:       30 * time.Millisecond,
		ReconnectInterval: 20 * time.Millisecond,
	})
	defer m.Destroy()

	m.Connect()
	waitEvent(t, m.Events(), EventConnected)
	waitEvent(t, m.Events(), EventDisconnected)
	waitEvent(t, m.Events(), EventConnected)

	assert.GreaterOrEqual(t, srv.connections(), int64(2))
}

func TestManagerHeartbeatSurvivesWithPongs(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(raw, &frame) == nil && frame.Type == "ping" {
				if err := conn.WriteJSON(map[string]string{"type": "pong"}); err != nil {
					return
				}
			}
		}
	})
	m := NewManager(srv.url(), "tok", Config{
		PingInterval: 15 * time.Millisecond,
		PongTimeout:  60 * time.Millisecond,
	})
	defer m.Destroy()

	m.Connect()
	waitEvent(t, m.Events(), EventConnected)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StatusConnected, m.Status())
	assert.EqualValues(t, 1, srv.connections())
}

func TestManagerReconnectsAfterServerClose(t *testing.T) {
	var closedFirst int64
	srv := newWSServer(t, func(conn *websocket.Conn) {
		if atomic.CompareAndSwapInt64(&closedFirst, 0, 1) {
			conn.Close()
			return
		}
		holdOpen(conn)
	})
	m := NewManager(srv.url(), "tok", Config{ReconnectInterval: 20 * time.Millisecond})
	defer m.Destroy()

	m.Connect()
	waitEvent(t, m.Events(), EventConnected)
	waitEvent(t, m.Events(), EventDisconnected)
	waitEvent(t, m.Events(), EventConnected)

	assert.EqualValues(t, 2, srv.connections())
}

func TestManagerManualDisconnectSuppressesReconnect(t *testing.T) {
	srv := newWSServer(t, holdOpen)
	m := NewManager(srv.url(), "tok", Config{ReconnectInterval: 10 * time.Millisecond})
	defer m.Destroy()

	m.Connect()
	waitEvent(t, m.Events(), EventConnected)

	m.Disconnect()
	waitEvent(t, m.Events(), EventDisconnected)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StatusDisconnected, m.Status())
	assert.EqualValues(t, 1, srv.connections())
}

func TestManagerGivesUpAfterMaxAttempts(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/ws/chat/1/", "tok", Config{
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})
	defer m.Destroy()

	m.Connect()
	waitEvent(t, m.Events(), EventError)

	assert.Eventually(t, func() bool {
		return m.Status() == StatusError
	}, 2*time.Second, 10*time.Millisecond)

	// After the final attempt the manager must stay put.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StatusError, m.Status())
}

func TestManagerSendWhenDisconnected(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/ws/chat/1/", "tok", Config{})
	defer m.Destroy()

	assert.False(t, m.Send(map[string]string{"type": "ping"}))
}

func TestManagerDestroyClosesEventChannel(t *testing.T) {
	srv := newWSServer(t, holdOpen)
	m := NewManager(srv.url(), "tok", Config{})

	m.Connect()
	waitEvent(t, m.Events(), EventConnected)

	m.Destroy()

	assert.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-m.Events():
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}

func TestManagerQueryStringURLKeepsToken(t *testing.T) {
	srv := newWSServer(t, holdOpen)
	m := NewManager(srv.url()+"?room=1", "tok", Config{})
	defer m.Destroy()

	m.Connect()
	waitEvent(t, m.Events(), EventConnected)

	assert.Equal(t, "tok", srv.lastTok.Load())
}
