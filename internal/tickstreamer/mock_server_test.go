package tickstreamer

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// mockSocketServer is a minimal broker tick socket double, grounded on the
// teacher's mocktesting.MockSaxoWebSocketServer (httptest.NewServer + a
// gorilla upgrader), simplified to this protocol's plain JSON text frames
// instead of Saxo's length-prefixed binary envelope.
type mockSocketServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*websocket.Conn
	inbound []string
}

func newMockSocketServer() *mockSocketServer {
	m := &mockSocketServer{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.handle)
	m.server = httptest.NewServer(mux)
	return m
}

func (m *mockSocketServer) wsURL() string {
	return strings.Replace(m.server.URL, "http://", "ws://", 1) + "/ws"
}

func (m *mockSocketServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.conns = append(m.conns, conn)
	m.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		m.mu.Lock()
		m.inbound = append(m.inbound, string(data))
		m.mu.Unlock()
	}
}

func (m *mockSocketServer) received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.inbound))
	copy(out, m.inbound)
	return out
}

// broadcast sends msg to every currently connected client.
func (m *mockSocketServer) broadcast(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		_ = c.WriteMessage(websocket.TextMessage, []byte(msg))
	}
}

// dropLatest force-closes the most recently accepted connection, simulating
// a broker-initiated disconnect so the Streamer's reconnect path runs.
func (m *mockSocketServer) dropLatest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.conns) == 0 {
		return
	}
	_ = m.conns[len(m.conns)-1].Close()
}

func (m *mockSocketServer) close() {
	m.server.Close()
}
