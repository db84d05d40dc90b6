package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aditus/internal/interfaces"
)

// WebSocketHandler streams job lifecycle and fleet events to connected
// clients. It subscribes once to the event bus and fans out to every open
// connection; a slow or dead client only loses its own stream.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	logger   arbor.ILogger

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
}

// NewWebSocketHandler creates the handler and wires it to the event bus
func NewWebSocketHandler(events interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}

	for _, eventType := range []interfaces.EventType{
		interfaces.EventAnalysisStarted,
		interfaces.EventAnalysisCompleted,
		interfaces.EventAnalysisCanceled,
		interfaces.EventWorkerRequested,
		interfaces.EventError,
	} {
		events.Subscribe(eventType, h.broadcast)
	}

	return h
}

// HandleWebSocket upgrades the connection and keeps it registered until the
// client goes away
// GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Msg("WebSocket client connected")

	// Drain reads so we notice the close; events flow one way
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// broadcast pushes one event to every connected client
func (h *WebSocketHandler) broadcast(_ context.Context, event interfaces.Event) error {
	message := map[string]interface{}{
		"type":    string(event.Type),
		"payload": event.Payload,
	}

	h.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for conn, writeMu := range h.clients {
		conns[conn] = writeMu
	}
	h.mu.Unlock()

	for conn, writeMu := range conns {
		writeMu.Lock()
		err := conn.WriteJSON(message)
		writeMu.Unlock()
		if err != nil {
			h.remove(conn)
		}
	}
	return nil
}

// remove closes and forgets a connection
func (h *WebSocketHandler) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		conn.Close()
		h.logger.Debug().Msg("WebSocket client disconnected")
	}
}
