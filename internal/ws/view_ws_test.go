package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barter-service/internal/auth"
	"barter-service/internal/changefeed"
	"barter-service/internal/conversations"
	"barter-service/internal/fanout"
	"barter-service/internal/models"
	"barter-service/internal/proposals"
	"barter-service/internal/repositories"
	"barter-service/internal/session"
)

type wsHarness struct {
	server *httptest.Server
	hub    *Hub
	jwt    *auth.JWT
	store  *repositories.MemoryStore
	convs  *conversations.Service
	engine *proposals.Engine
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	broker := changefeed.NewBroker(64)
	store := repositories.NewMemoryStore(broker)
	for _, id := range []int{1, 2} {
		require.NoError(t, store.EnsureUser(context.Background(), id))
	}
	engine := proposals.NewEngine(store, store)
	convs := conversations.NewService(store, store)
	jwt := auth.NewJWT("test-secret", "barter-service")
	hub := NewHub()

	handler := NewViewHandler(hub, jwt, store, session.Services{
		Proposals:     engine,
		Items:         engine,
		Conversations: convs,
		Feed:          fanout.New(broker),
	})
	r := gin.New()
	r.GET("/ws/conversations/:peer_id", handler.HandleConversation)
	r.GET("/ws/items/:item_id/proposals", handler.HandleProposals)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return &wsHarness{server: server, hub: hub, jwt: jwt, store: store, convs: convs, engine: engine}
}

func (h *wsHarness) dial(t *testing.T, path string, userID int) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + path
	header := http.Header{}
	if userID > 0 {
		token, err := h.jwt.Sign(userID, time.Minute)
		require.NoError(t, err)
		header.Set("Authorization", "Bearer "+token)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func readUpdate(t *testing.T, conn *websocket.Conn) session.Update {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var u session.Update
	require.NoError(t, conn.ReadJSON(&u))
	return u
}

// readUntil reads updates until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(session.Update) bool) session.Update {
	t.Helper()
	for i := 0; i < 10; i++ {
		if u := readUpdate(t, conn); match(u) {
			return u
		}
	}
	t.Fatal("expected update not received")
	return session.Update{}
}

func TestConversationStream(t *testing.T) {
	h := newWSHarness(t)
	ctx := context.Background()
	_, err := h.convs.Send(ctx, 2, 1, "hi", models.MessageText)
	require.NoError(t, err)

	conn, _, err := h.dial(t, "/ws/conversations/2", 1)
	require.NoError(t, err)
	defer conn.Close()

	snapshot := readUpdate(t, conn)
	assert.Equal(t, session.UpdateSnapshot, snapshot.Type)
	require.Len(t, snapshot.Messages, 1)
	assert.Equal(t, "hi", snapshot.Messages[0].Content)
	require.Eventually(t, func() bool { return h.hub.Count(ConversationRoom(1, 2)) == 1 }, time.Second, 5*time.Millisecond)

	_, err = h.convs.Send(ctx, 2, 1, "there", models.MessageText)
	require.NoError(t, err)

	// the history read on open comes back through the feed first
	live := readUntil(t, conn, func(u session.Update) bool {
		return u.Type == session.UpdateMessage && u.Message != nil && u.Message.Content == "there"
	})
	assert.Equal(t, 1, live.Message.ReceiverID)

	conn.Close()
	require.Eventually(t, func() bool { return h.hub.Count(ConversationRoom(1, 2)) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamRecordsFirstTimeUser(t *testing.T) {
	h := newWSHarness(t)

	conn, _, err := h.dial(t, "/ws/conversations/1", 3)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, session.UpdateSnapshot, readUpdate(t, conn).Type)

	_, err = h.convs.Send(context.Background(), 3, 1, "still available?", models.MessageText)
	require.NoError(t, err)
}

func TestProposalStreamTokenFromQuery(t *testing.T) {
	h := newWSHarness(t)
	ctx := context.Background()
	item, err := h.engine.CreateItem(ctx, 1, "bike")
	require.NoError(t, err)

	token, err := h.jwt.Sign(1, time.Minute)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/items/" +
		strconv.Itoa(item.ID) + "/proposals?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, session.UpdateSnapshot, readUpdate(t, conn).Type)

	_, err = h.engine.Propose(ctx, item.ID, 2, "my skateboard", nil)
	require.NoError(t, err)

	live := readUntil(t, conn, func(u session.Update) bool { return u.Type == session.UpdateProposal })
	require.NotNil(t, live.Proposal)
	assert.Equal(t, models.ProposalPending, live.Proposal.Status)
	assert.Equal(t, 2, live.Proposal.ProposerID)
}

func TestStreamRejectsBadRequests(t *testing.T) {
	h := newWSHarness(t)

	_, resp, err := h.dial(t, "/ws/conversations/2", 0)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = h.dial(t, "/ws/conversations/abc", 1)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, resp, err = h.dial(t, "/ws/items/999/proposals", 1)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCloseAllEndsStreams(t *testing.T) {
	h := newWSHarness(t)
	conn, _, err := h.dial(t, "/ws/conversations/2", 1)
	require.NoError(t, err)
	defer conn.Close()
	readUpdate(t, conn)
	require.Eventually(t, func() bool { return h.hub.Count(ConversationRoom(1, 2)) == 1 }, time.Second, 5*time.Millisecond)

	h.hub.CloseAll()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
