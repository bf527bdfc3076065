package mockapi

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"areahood/internal/observability"
	"areahood/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const writeWait = 5 * time.Second

type feedClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *feedClient) send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// feedHub fans post events out to every connected feed socket.
type feedHub struct {
	mu      sync.RWMutex
	clients map[*feedClient]struct{}
	closed  bool
}

func newFeedHub() *feedHub {
	return &feedHub{clients: make(map[*feedClient]struct{})}
}

func (h *feedHub) register(c *feedClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *feedHub) unregister(c *feedClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *feedHub) snapshot() []*feedClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func encodeEvent(typ string, payload any) []byte {
	p, _ := json.Marshal(payload)
	msg, _ := json.Marshal(realtime.Event{Type: typ, Payload: p})
	return msg
}

func (h *feedHub) broadcast(typ string, payload any) {
	msg := encodeEvent(typ, payload)
	for _, c := range h.snapshot() {
		if err := c.send(msg); err != nil {
			observability.GlobalLogger.Debug("feed write failed", slog.String("error", err.Error()))
		}
	}
}

// shutdown announces the shutdown and closes every socket.
func (h *feedHub) shutdown() {
	h.broadcast(realtime.EventShutdown, fiber.Map{})
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*feedClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		_ = c.conn.Close()
	}
}

func (s *Server) feedHandler(conn *websocket.Conn) {
	userID, _ := conn.Locals("userID").(string)
	client := &feedClient{conn: conn}
	if !s.feed.register(client) {
		_ = conn.Close()
		return
	}
	defer func() {
		s.feed.unregister(client)
		_ = conn.Close()
	}()

	_ = client.send(encodeEvent(realtime.EventConnected, fiber.Map{"user_id": userID}))
	observability.GlobalLogger.Debug("feed connected", slog.String("user_id", userID))

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
