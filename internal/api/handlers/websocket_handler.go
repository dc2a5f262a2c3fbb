package handlers

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/pipeline"
	"github.com/papertrend/backend/pkg/logger"
)

// WebSocketHandler broadcasts pipeline stage progress to connected
// clients. Its Broadcast method is the pipeline's progress callback.
type WebSocketHandler struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func NewWebSocketHandler() *WebSocketHandler {
	return &WebSocketHandler{
		conns: make(map[*websocket.Conn]bool),
	}
}

// Broadcast pushes one progress event to every subscriber. Writes that
// fail drop the connection.
func (h *WebSocketHandler) Broadcast(p pipeline.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		if err := conn.WriteJSON(p); err != nil {
			logger.Warn("Failed to write progress event, dropping client", zap.Error(err))
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

// HandleConnection registers a subscriber and blocks until it hangs up.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("Pipeline progress subscriber connected")

	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		c.Close()
		logger.Info("Pipeline progress subscriber disconnected")
	}()

	// Clients only listen; reading surfaces the close frame.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}
