package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pagemill/internal/common"
	"github.com/ternarybob/pagemill/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// streamedEvents are the lifecycle events pushed to connected operators.
var streamedEvents = []interfaces.EventType{
	interfaces.EventJobCompleted,
	interfaces.EventJobFailed,
	interfaces.EventPhaseAdvanced,
	interfaces.EventPagePublished,
	interfaces.EventURLIndexed,
	interfaces.EventMonitorAlert,
	interfaces.EventPipelineCompleted,
}

// WebSocketHandler streams job lifecycle events to connected clients.
type WebSocketHandler struct {
	logger      arbor.ILogger
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex
	mu          sync.RWMutex
}

// NewWebSocketHandler creates the handler and subscribes it to the event
// service.
func NewWebSocketHandler(eventService interfaces.EventService) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:      common.GetLogger(),
		clients:     make(map[*websocket.Conn]bool),
		clientMutex: make(map[*websocket.Conn]*sync.Mutex),
	}

	for _, eventType := range streamedEvents {
		if err := eventService.Subscribe(eventType, h.onEvent); err != nil {
			h.logger.Warn().
				Err(err).
				Str("event_type", string(eventType)).
				Msg("Failed to subscribe websocket handler")
		}
	}

	return h
}

// HandleWebSocket upgrades the connection and registers the client.
// GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().Int("clients", count).Msg("WebSocket client connected")

	// Read loop only to detect disconnect; clients don't send anything
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	delete(h.clientMutex, conn)
	count := len(h.clients)
	h.mu.Unlock()

	conn.Close()
	h.logger.Info().Int("clients", count).Msg("WebSocket client disconnected")
}

// onEvent broadcasts a lifecycle event to every connected client.
func (h *WebSocketHandler) onEvent(ctx context.Context, event interfaces.Event) error {
	message := map[string]interface{}{
		"type":      string(event.Type),
		"payload":   event.Payload,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.mu.RLock()
		mutex, ok := h.clientMutex[conn]
		h.mu.RUnlock()
		if !ok {
			continue
		}

		mutex.Lock()
		err := conn.WriteJSON(message)
		mutex.Unlock()

		if err != nil {
			h.logger.Debug().Err(err).Msg("WebSocket write failed, dropping client")
			h.removeClient(conn)
		}
	}
	return nil
}
