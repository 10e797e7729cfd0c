// Package progressws streams conversion progress to websocket clients.
package progressws

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/gorilla/websocket"

	"github.com/book-expert/pdf-to-image-service/internal/pdfrender"
)

const (
	writeWait       = 5 * time.Second
	broadcastBuffer = 64
)

// Message types.
const (
	TypeProgress = "progress"
	TypeDone     = "done"
)

// Message is the JSON frame sent to clients.
type Message struct {
	Progress *pdfrender.Progress `json:"progress,omitempty"`
	Summary  *Summary            `json:"summary,omitempty"`
	Type     string              `json:"type"`
}

// Summary describes a finished run.
type Summary struct {
	RunID        string   `json:"runId"`
	Failed       []string `json:"failed,omitempty"`
	Documents    int      `json:"documents"`
	PagesWritten int      `json:"pagesWritten"`
	Success      bool     `json:"success"`
}

// Hub fans progress messages out to every connected client. It implements
// pdfrender.ProgressSink.
type Hub struct {
	log        *logger.Logger
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	stopped    chan struct{}
	upgrader   websocket.Upgrader
	last       []byte
	mu         sync.Mutex
}

// NewHub creates a hub. Call Run to start delivering messages.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stopped:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		last: nil,
		mu:   sync.Mutex{},
	}
}

// Run delivers messages until ctx is canceled. Messages published before the
// cancellation are still delivered, then every client is closed.
func (hub *Hub) Run(ctx context.Context) {
	defer close(hub.stopped)

	for {
		select {
		case <-ctx.Done():
			hub.flush()
			hub.closeAll()

			return
		case client := <-hub.register:
			hub.mu.Lock()
			hub.clients[client] = true
			last := hub.last
			hub.mu.Unlock()

			// Late joiners start from the latest state.
			if last != nil {
				hub.send(client, last)
			}

			hub.log.Info("Progress client connected. Total clients: %d", hub.ClientCount())
		case client := <-hub.unregister:
			hub.drop(client)
			hub.log.Info("Progress client disconnected. Remaining clients: %d", hub.ClientCount())
		case message := <-hub.broadcast:
			hub.deliver(message)
		}
	}
}

func (hub *Hub) deliver(message []byte) {
	hub.mu.Lock()
	hub.last = message

	clients := make([]*websocket.Conn, 0, len(hub.clients))
	for client := range hub.clients {
		clients = append(clients, client)
	}
	hub.mu.Unlock()

	for _, client := range clients {
		hub.send(client, message)
	}
}

// flush delivers every message still queued.
func (hub *Hub) flush() {
	for {
		select {
		case message := <-hub.broadcast:
			hub.deliver(message)
		default:
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (hub *Hub) ClientCount() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	return len(hub.clients)
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (hub *Hub) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	conn, err := hub.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		hub.log.Warn("Failed to upgrade to WebSocket: %v", err)

		return
	}

	select {
	case hub.register <- conn:
	case <-hub.stopped:
		_ = conn.Close()

		return
	}

	// Clients only listen; reading detects the close.
	for {
		if _, _, readErr := conn.ReadMessage(); readErr != nil {
			break
		}
	}

	select {
	case hub.unregister <- conn:
	case <-hub.stopped:
	}
}

// Progress implements pdfrender.ProgressSink.
func (hub *Hub) Progress(update pdfrender.Progress) {
	hub.publish(Message{Progress: &update, Summary: nil, Type: TypeProgress})
}

// Done implements pdfrender.ProgressSink.
func (hub *Hub) Done(result pdfrender.BatchResult) {
	summary := Summary{
		RunID:        result.RunID,
		Failed:       nil,
		Documents:    len(result.Jobs),
		PagesWritten: result.PagesWritten(),
		Success:      result.Success(),
	}

	for _, job := range result.FailedJobs() {
		summary.Failed = append(summary.Failed, filepath.Base(job.Source))
	}

	hub.publish(Message{Progress: nil, Summary: &summary, Type: TypeDone})
}

func (hub *Hub) publish(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		hub.log.Error("Failed to marshal progress message: %v", err)

		return
	}

	select {
	case hub.broadcast <- data:
	case <-hub.stopped:
	}
}

func (hub *Hub) send(client *websocket.Conn, message []byte) {
	_ = client.SetWriteDeadline(time.Now().Add(writeWait))

	err := client.WriteMessage(websocket.TextMessage, message)
	if err != nil {
		hub.log.Warn("Error sending progress to client: %v", err)
		hub.drop(client)
	}
}

func (hub *Hub) drop(client *websocket.Conn) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, ok := hub.clients[client]; ok {
		delete(hub.clients, client)

		_ = client.Close()
	}
}

func (hub *Hub) closeAll() {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for client := range hub.clients {
		_ = client.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		_ = client.Close()
		delete(hub.clients, client)
	}
}
