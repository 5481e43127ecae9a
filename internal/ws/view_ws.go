package ws

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"barter-service/internal/apperrors"
	"barter-service/internal/auth"
	"barter-service/internal/logger"
	"barter-service/internal/observability"
	"barter-service/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int, error)
}

// UserRecorder records user ids the first time they connect.
type UserRecorder interface {
	EnsureUser(ctx context.Context, userID int) error
}

// liveView is what a connection streams: ConversationView and ProposalView.
type liveView interface {
	Notify() <-chan struct{}
	Drain() []session.Update
	Release()
}

// ViewHandler streams session views over websockets. Each connection owns exactly
// one view, released when the connection ends.
type ViewHandler struct {
	hub       *Hub
	validator TokenValidator
	users     UserRecorder
	services  session.Services
	known     sync.Map
}

// NewViewHandler constructs a ViewHandler. users may be nil.
func NewViewHandler(hub *Hub, validator TokenValidator, users UserRecorder, services session.Services) *ViewHandler {
	return &ViewHandler{hub: hub, validator: validator, users: users, services: services}
}

// HandleConversation streams the conversation with :peer_id.
func (h *ViewHandler) HandleConversation(c *gin.Context) {
	peerID, err := strconv.Atoi(c.Param("peer_id"))
	if err != nil || peerID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return
	}
	h.serve(c, KindConversation, func(ctx context.Context, s *session.Session) (string, liveView, error) {
		view, err := s.OpenConversation(ctx, peerID)
		if err != nil {
			return "", nil, err
		}
		return ConversationRoom(s.UserID(), peerID), view, nil
	})
}

// HandleProposals streams the proposals of :item_id visible to the caller.
func (h *ViewHandler) HandleProposals(c *gin.Context) {
	itemID, err := strconv.Atoi(c.Param("item_id"))
	if err != nil || itemID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}
	h.serve(c, KindProposals, func(ctx context.Context, s *session.Session) (string, liveView, error) {
		view, err := s.OpenItemProposals(ctx, itemID)
		if err != nil {
			return "", nil, err
		}
		return ProposalsRoom(itemID), view, nil
	})
}

type openFunc func(ctx context.Context, s *session.Session) (string, liveView, error)

func (h *ViewHandler) serve(c *gin.Context, kind string, open openFunc) {
	ctx, span := otel.Tracer("barter-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	userID, err := h.authenticate(ctx, c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if err := h.ensureUser(ctx, userID); err != nil {
		logger.Error("record user %d: %v", userID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not load user", "retryable": true})
		return
	}

	// the view lives as long as the connection, not the handshake request
	viewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	room, view, err := open(viewCtx, session.New(userID, h.services))
	if err != nil {
		status, code, message, retryable := apperrors.Describe(err)
		c.JSON(status, gin.H{"error": message, "code": code, "retryable": retryable})
		return
	}
	defer view.Release()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := newConnInfo(c.Request, userID, span.SpanContext().TraceID().String())
	h.hub.Add(room, conn, info)
	observability.IncWSActive(kind)
	observability.IncWSEvent(kind, "ws_connect")
	publishWSEvent(ctx, kind, room, "ws_connect", info, "")

	closeReason := h.pump(conn, room, view)

	h.hub.Remove(room, conn)
	conn.Close()
	observability.DecWSActive(kind)
	observability.IncWSEvent(kind, "ws_disconnect")
	publishWSEvent(viewCtx, kind, room, "ws_disconnect", info, closeReason)
	logger.Debug("ws %s closed for user %d: %s", room, userID, closeReason)
}

// pump writes view updates until the client goes away or a write fails, and
// returns the reason the connection ended.
func (h *ViewHandler) pump(conn *websocket.Conn, room string, view liveView) string {
	readDone := make(chan string, 1)
	go func() {
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			// clients only send control frames; anything else is ignored
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.hub.publishWSError(room, conn, err)
				}
				readDone <- err.Error()
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case reason := <-readDone:
			return reason
		case <-view.Notify():
			for _, update := range view.Drain() {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(update); err != nil {
					h.hub.publishWSError(room, conn, err)
					return err.Error()
				}
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.hub.publishWSError(room, conn, err)
				return err.Error()
			}
		}
	}
}

func (h *ViewHandler) ensureUser(ctx context.Context, userID int) error {
	if h.users == nil {
		return nil
	}
	if _, seen := h.known.Load(userID); seen {
		return nil
	}
	if err := h.users.EnsureUser(ctx, userID); err != nil {
		return err
	}
	h.known.Store(userID, struct{}{})
	return nil
}

func (h *ViewHandler) authenticate(ctx context.Context, c *gin.Context) (int, error) {
	token, ok := auth.TokenFromHeader(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		return 0, auth.ErrInvalidToken
	}
	return h.validator.ValidateToken(ctx, token)
}
