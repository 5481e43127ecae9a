package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"barter-service/internal/apperrors"
	"barter-service/internal/mocks"
	"barter-service/internal/models"
	"barter-service/internal/telemetry"
)

func setupRouter(sess *mocks.SessionMock, audit *telemetry.AuditEmitter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})

	factory := func(userID int) SessionAPI { return sess }
	items := NewItemHandler(factory, audit)
	props := NewProposalHandler(factory, audit)
	convs := NewConversationHandler(factory, audit)

	r.POST("/items", items.CreateItem)
	r.GET("/items/:item_id", items.GetItem)
	r.DELETE("/items/:item_id", items.RemoveItem)
	r.POST("/items/:item_id/proposals", props.CreateProposal)
	r.GET("/items/:item_id/proposals", props.ListItemProposals)
	r.GET("/proposals", props.ListMyProposals)
	r.GET("/proposals/:proposal_id", props.GetProposal)
	r.POST("/proposals/:proposal_id/accept", props.Accept)
	r.POST("/proposals/:proposal_id/complete", props.Complete)
	r.GET("/conversations", convs.ListConversations)
	r.GET("/conversations/:peer_id/messages", convs.GetMessages)
	r.POST("/conversations/:peer_id/messages", convs.PostMessage)
	r.POST("/conversations/:peer_id/read", convs.MarkRead)
	r.DELETE("/messages/:message_id", convs.DeleteMessage)
	r.GET("/messages/unread_count", convs.UnreadCount)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestCreateProposalSuccess(t *testing.T) {
	sess := new(mocks.SessionMock)
	publisher := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(publisher, "audit", "barter-service", "test")
	router := setupRouter(sess, audit)

	sess.On("Propose", mock.Anything, 5, "my bike", (*string)(nil)).
		Return(models.Proposal{ID: 9, ItemID: 5, ProposerID: 1, Status: models.ProposalPending}, nil).Once()
	publisher.On("Publish", mock.Anything, "audit", mock.Anything).Return(nil).Once()

	rec := do(router, http.MethodPost, "/items/5/proposals", `{"proposed_item_description":"my bike"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, float64(9), resp["id"])
	assert.Equal(t, "pending", resp["status"])
	sess.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestCreateProposalValidation(t *testing.T) {
	sess := new(mocks.SessionMock)
	router := setupRouter(sess, nil)

	rec := do(router, http.MethodPost, "/items/abc/proposals", `{"proposed_item_description":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/items/5/proposals", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	sess.AssertNotCalled(t, "Propose", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"duplicate", apperrors.DuplicateProposal(), http.StatusConflict, apperrors.CodeDuplicateProposal},
		{"resolved", apperrors.AlreadyResolved("proposal is no longer pending"), http.StatusConflict, apperrors.CodeAlreadyResolved},
		{"unauthorized", apperrors.Unauthorized("only the item owner can accept"), http.StatusForbidden, apperrors.CodeUnauthorized},
		{"missing", apperrors.NotFound("proposal", nil), http.StatusNotFound, apperrors.CodeNotFound},
		{"transient", apperrors.TransientStore(assert.AnError), http.StatusServiceUnavailable, apperrors.CodeTransientStore},
		{"unclassified", assert.AnError, http.StatusInternalServerError, apperrors.CodePermanentStore},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := new(mocks.SessionMock)
			router := setupRouter(sess, nil)
			sess.On("Accept", mock.Anything, 3).Return(nil, tc.err).Once()

			rec := do(router, http.MethodPost, "/proposals/3/accept", "")

			require.Equal(t, tc.status, rec.Code)
			resp := decode(t, rec)
			assert.Equal(t, tc.code, resp["code"])
			assert.Equal(t, tc.code == apperrors.CodeTransientStore, resp["retryable"])
		})
	}
}

func TestListMyProposalsDirection(t *testing.T) {
	sess := new(mocks.SessionMock)
	router := setupRouter(sess, nil)

	sess.On("MyProposals", mock.Anything, "received").
		Return([]models.ProposalSummary{{Direction: models.DirectionReceived}}, nil).Once()

	rec := do(router, http.MethodGet, "/proposals?type=received", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["proposals"], 1)

	rec = do(router, http.MethodGet, "/proposals?type=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	sess.AssertExpectations(t)
}

func TestItemEndpoints(t *testing.T) {
	sess := new(mocks.SessionMock)
	router := setupRouter(sess, nil)

	sess.On("CreateItem", mock.Anything, "bike").Return(models.Item{ID: 4, OwnerID: 1, Title: "bike", Status: models.ItemActive}, nil).Once()
	sess.On("RemoveItem", mock.Anything, 4).Return(models.Item{ID: 4, Status: models.ItemRemoved}, nil).Once()
	sess.On("Item", mock.Anything, 8).Return(nil, apperrors.NotFound("item", nil)).Once()

	rec := do(router, http.MethodPost, "/items", `{"title":"bike"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(router, http.MethodDelete, "/items/4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "removed", decode(t, rec)["status"])

	rec = do(router, http.MethodGet, "/items/8", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	sess.AssertExpectations(t)
}

func TestConversationEndpoints(t *testing.T) {
	sess := new(mocks.SessionMock)
	router := setupRouter(sess, nil)

	sess.On("SendMessage", mock.Anything, 2, "hi", models.MessageType("")).
		Return(models.Message{ID: 1, SenderID: 1, ReceiverID: 2, Content: "hi", Type: models.MessageText}, nil).Once()
	sess.On("FetchConversation", mock.Anything, 2).Return([]models.Message{{ID: 1}, {ID: 2}}, nil).Once()
	sess.On("MarkConversationRead", mock.Anything, 2).Return(2, nil).Once()
	sess.On("DeleteMessage", mock.Anything, 1).Return(models.Message{ID: 1}, nil).Once()
	sess.On("UnreadCount", mock.Anything).Return(3, nil).Once()
	sess.On("Conversations", mock.Anything).Return([]models.ConversationSummary{{PeerID: 2, UnreadCount: 3}}, nil).Once()

	rec := do(router, http.MethodPost, "/conversations/2/messages", `{"content":"hi"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(router, http.MethodGet, "/conversations/2/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["messages"], 2)

	rec = do(router, http.MethodPost, "/conversations/2/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["marked"])

	rec = do(router, http.MethodDelete, "/messages/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(router, http.MethodGet, "/messages/unread_count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["unread_count"])

	rec = do(router, http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["conversations"], 1)

	sess.AssertExpectations(t)
}

func TestPostMessageInvalidContent(t *testing.T) {
	sess := new(mocks.SessionMock)
	router := setupRouter(sess, nil)

	sess.On("SendMessage", mock.Anything, 1, "hi", models.MessageText).
		Return(nil, apperrors.InvalidMessage("cannot message yourself")).Once()

	rec := do(router, http.MethodPost, "/conversations/1/messages", `{"content":"hi","type":"text"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidMessage, decode(t, rec)["code"])
}
