package ws

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"barter-service/internal/logger"
	"barter-service/internal/observability"
)

const (
	KindConversation = "conversation"
	KindProposals    = "proposals"
)

// ConversationRoom names the room of the conversation between a and b.
func ConversationRoom(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s:%d:%d", KindConversation, a, b)
}

// ProposalsRoom names the room of an item's proposal list.
func ProposalsRoom(itemID int) string {
	return fmt.Sprintf("%s:%d", KindProposals, itemID)
}

func roomKind(room string) string {
	kind, _, _ := strings.Cut(room, ":")
	return kind
}

// Hub tracks open view connections by room. Delivery is done by each connection's
// own view; the hub is used for accounting and shutdown.
type Hub struct {
	rooms map[string]map[*websocket.Conn]ConnInfo
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*websocket.Conn]ConnInfo)}
}

// Add registers conn in room.
func (h *Hub) Add(room string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*websocket.Conn]ConnInfo)
	}
	h.rooms[room][conn] = info
}

// Remove drops conn from room.
func (h *Hub) Remove(room string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[room]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Count returns the number of connections in room.
func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// CloseAll sends a going-away close frame to every connection. Their read loops
// then end and release the views.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var conns []*websocket.Conn
	for _, room := range h.rooms {
		for conn := range room {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	deadline := time.Now().Add(time.Second)
	for _, conn := range conns {
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			logger.Warn("websocket close frame: %v", err)
			conn.Close()
		}
	}
}

func (h *Hub) publishWSError(room string, conn *websocket.Conn, err error) {
	info, ok := h.getConnInfo(room, conn)
	if !ok {
		return
	}
	kind := roomKind(room)
	publishWSEvent(context.Background(), kind, room, "ws_error", info, err.Error())
	observability.IncWSEvent(kind, "ws_error")
}

func (h *Hub) getConnInfo(room string, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	info, ok := h.rooms[room][conn]
	return info, ok
}

func publishWSEvent(ctx context.Context, kind, room, event string, info ConnInfo, reason string) {
	var durationMs int64
	if event != "ws_connect" {
		durationMs = time.Since(info.ConnectedAt).Milliseconds()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        kind,
			"room":        room,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": durationMs,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey(kind), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func wsRoutingKey(kind string) string {
	if kind == KindProposals {
		return "ws_events.proposals"
	}
	return "ws_events.conversations"
}
