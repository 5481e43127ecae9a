package conversations

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barter-service/internal/apperrors"
	"barter-service/internal/models"
	"barter-service/internal/repositories"
)

func newTestService(t *testing.T, users ...int) (*Service, *repositories.MemoryStore) {
	t.Helper()
	store := repositories.NewMemoryStore(nil)
	for _, id := range users {
		require.NoError(t, store.EnsureUser(context.Background(), id))
	}
	return NewService(store, store), store
}

func TestFetchOrdersAndMarksRead(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 1, 2)

	for _, content := range []string{"hi", "there", "?"} {
		_, err := svc.Send(ctx, 2, 1, content, models.MessageText)
		require.NoError(t, err)
	}

	before, err := svc.UnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, before)

	msgs, err := svc.Fetch(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, want := range []string{"hi", "there", "?"} {
		assert.Equal(t, want, msgs[i].Content)
		assert.NotNil(t, msgs[i].ReadAt)
	}

	after, _ := svc.UnreadCount(ctx, 1)
	assert.Zero(t, after)
}

func TestFetchIsStableAndReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 1, 2)
	_, _ = svc.Send(ctx, 2, 1, "hello", models.MessageText)
	_, _ = svc.Send(ctx, 1, 2, "hey", models.MessageText)

	first, err := svc.Fetch(ctx, 1, 2)
	require.NoError(t, err)
	second, err := svc.Fetch(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// the peer reading marks their side; the already read side keeps its read_at
	fromOther, _ := svc.Fetch(ctx, 2, 1)
	require.Len(t, fromOther, 2)
	assert.NotNil(t, fromOther[0].ReadAt)
	assert.NotNil(t, fromOther[1].ReadAt)
	assert.True(t, fromOther[0].ReadAt.Equal(*first[0].ReadAt))
}

func TestFetchDoesNotMarkOutgoing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 1, 2)
	_, _ = svc.Send(ctx, 1, 2, "ping", models.MessageText)

	msgs, err := svc.Fetch(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].ReadAt)

	count, _ := svc.UnreadCount(ctx, 2)
	assert.Equal(t, 1, count)
}

func TestDeletedMessagesStayHidden(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 1, 2, 3)
	keep, _ := svc.Send(ctx, 2, 1, "keep", models.MessageText)
	drop, _ := svc.Send(ctx, 2, 1, "drop", models.MessageText)

	_, err := svc.Delete(ctx, drop.ID, 3)
	assert.True(t, apperrors.Is(err, apperrors.CodeUnauthorized))

	deleted, err := svc.Delete(ctx, drop.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedAt)

	again, err := svc.Delete(ctx, drop.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, deleted.DeletedAt, again.DeletedAt)

	count, _ := svc.UnreadCount(ctx, 1)
	assert.Equal(t, 1, count)

	for i := 0; i < 2; i++ {
		msgs, err := svc.Fetch(ctx, 1, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, keep.ID, msgs[0].ID)
	}

	_, err = svc.Delete(ctx, 999, 1)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 1, 2)

	_, err := svc.Send(ctx, 1, 1, "me", models.MessageText)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidMessage))

	_, err = svc.Send(ctx, 1, 2, "   ", models.MessageText)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidMessage))

	_, err = svc.Send(ctx, 1, 2, "<script></script>", models.MessageText)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidMessage), "markup-only content is empty once sanitized")

	_, err = svc.Send(ctx, 1, 2, "hi", models.MessageType("video"))
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidMessage))

	_, err = svc.Send(ctx, 1, 2, "not a url", models.MessageImage)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidMessage))

	img, err := svc.Send(ctx, 1, 2, "https://cdn.example.com/a.jpg", models.MessageImage)
	require.NoError(t, err)
	assert.Equal(t, models.MessageImage, img.Type)

	_, err = svc.Send(ctx, 1, 99, "hi", models.MessageText)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	bold, err := svc.Send(ctx, 1, 2, "<b>deal</b>", "")
	require.NoError(t, err)
	assert.Equal(t, "deal", bold.Content)
	assert.Equal(t, models.MessageText, bold.Type)

	_, err = svc.Send(ctx, 1, 2, strings.Repeat("a", maxContentLength+1), models.MessageText)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidMessage))

	_, err = svc.Send(ctx, 1, 2, strings.Repeat("&", maxContentLength), models.MessageText)
	assert.NoError(t, err, "length counts the stored text, not its escaped form")
}

func TestSendKeepsPlainTextVerbatim(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 1, 2)

	for _, content := range []string{`it's "new" & <3`, "Tom & Jerry", "<3 thanks", "a < b > c"} {
		_, err := svc.Send(ctx, 2, 1, content, models.MessageText)
		require.NoError(t, err, content)
	}
	_, err := svc.Send(ctx, 2, 1, `<i>it's</i> "fine"`, models.MessageText)
	require.NoError(t, err)

	msgs, err := svc.Fetch(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, `it's "new" & <3`, msgs[0].Content)
	assert.Equal(t, "Tom & Jerry", msgs[1].Content)
	assert.Equal(t, "<3 thanks", msgs[2].Content)
	assert.Equal(t, "a < b > c", msgs[3].Content)
	assert.Equal(t, `it's "fine"`, msgs[4].Content)
}

func TestMarkConversationReadAndSummaries(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 1, 2, 3)
	_, _ = svc.Send(ctx, 2, 1, "a", models.MessageText)
	time.Sleep(time.Millisecond)
	_, _ = svc.Send(ctx, 3, 1, "b", models.MessageText)
	_, _ = svc.Send(ctx, 3, 1, "c", models.MessageText)

	summaries, err := svc.ListConversations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 3, summaries[0].PeerID)
	assert.Equal(t, 2, summaries[0].UnreadCount)

	n, err := svc.MarkConversationRead(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, _ = svc.MarkConversationRead(ctx, 1, 3)
	assert.Zero(t, n)

	count, _ := svc.UnreadCount(ctx, 1)
	assert.Equal(t, 1, count)
}

type failingMessages struct {
	repositories.MessageRepository
}

func (failingMessages) CountUnread(ctx context.Context, userID int) (int, error) {
	return 0, driver.ErrBadConn
}

func TestStoreErrorsAreClassified(t *testing.T) {
	store := repositories.NewMemoryStore(nil)
	svc := NewService(failingMessages{store}, store)

	_, err := svc.UnreadCount(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.True(t, apperrors.Is(err, apperrors.CodeTransientStore))
}
