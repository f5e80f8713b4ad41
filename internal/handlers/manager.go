package handlers

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/quayside/conveyor/internal/entities"
)

type wsMessage struct {
	Type  string              `json:"type"`
	Event *entities.TaskEvent `json:"event,omitempty"`
}

// Manager owns all websocket subscriber connections and fans events out
// to them. Dead connections are dropped on the first failed write.
type Manager struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[*websocket.Conn]bool
}

func NewWebSocketManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subscribers: make(map[*websocket.Conn]bool),
	}
}

func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return m.upgrader.Upgrade(w, r, nil)
}

func (m *Manager) AddSubscriber(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[conn] = true
}

func (m *Manager) RemoveSubscriber(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, conn)
}

// Publish sends a task lifecycle event to every subscriber.
func (m *Manager) Publish(event entities.TaskEvent) {
	m.broadcast(wsMessage{Type: "task", Event: &event})
}

// BroadcastReload tells connected clients to reload. Only the
// development server's asset watcher calls this.
func (m *Manager) BroadcastReload() {
	m.broadcast(wsMessage{Type: "reload"})
}

func (m *Manager) broadcast(msg wsMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for conn := range m.subscribers {
		if err := conn.WriteJSON(msg); err != nil {
			m.logger.Debug("Dropping websocket subscriber", "error", err)
			conn.Close()
			delete(m.subscribers, conn)
		}
	}
}
