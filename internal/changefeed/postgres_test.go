package changefeed

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barter-service/internal/models"
)

type stubLoader struct {
	proposals map[int]models.Proposal
	messages  map[int]models.Message
}

func (s stubLoader) GetProposal(ctx context.Context, proposalID int) (models.Proposal, error) {
	p, ok := s.proposals[proposalID]
	if !ok {
		return models.Proposal{}, sql.ErrNoRows
	}
	return p, nil
}

func (s stubLoader) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, sql.ErrNoRows
	}
	return m, nil
}

func newStubFeed() *PGFeed {
	loader := stubLoader{
		proposals: map[int]models.Proposal{4: {ID: 4, ItemID: 1, Status: models.ProposalAccepted}},
		messages:  map[int]models.Message{7: {ID: 7, SenderID: 1, ReceiverID: 2, Content: "hi"}},
	}
	return &PGFeed{Broker: NewBroker(8), proposals: loader, messages: loader}
}

func TestPGFeedDecode(t *testing.T) {
	f := newStubFeed()
	defer f.Broker.Close()

	tests := []struct {
		name    string
		payload string
		wantErr bool
		table   Table
		op      Op
		rowID   int
	}{
		{name: "proposal update", payload: `{"table":"proposals","op":"UPDATE","id":4}`, table: TableProposals, op: OpUpdate, rowID: 4},
		{name: "message insert", payload: `{"table":"messages","op":"INSERT","id":7}`, table: TableMessages, op: OpInsert, rowID: 7},
		{name: "unknown table", payload: `{"table":"items","op":"INSERT","id":1}`, wantErr: true},
		{name: "missing row", payload: `{"table":"messages","op":"UPDATE","id":99}`, wantErr: true},
		{name: "malformed payload", payload: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := f.decode(context.Background(), tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.table, ev.Table)
			assert.Equal(t, tt.op, ev.Op)
			assert.Equal(t, tt.rowID, ev.RowID())
			assert.False(t, ev.Gap)
		})
	}
}

func TestPGFeedDispatch(t *testing.T) {
	f := newStubFeed()
	defer f.Broker.Close()

	stream, err := f.Subscribe(context.Background(), TableMessages, nil)
	require.NoError(t, err)
	defer stream.Close()

	f.dispatch(context.Background(), `{"table":"messages","op":"INSERT","id":7}`)
	ev := <-stream.Events()
	assert.False(t, ev.Gap)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hi", ev.Message.Content)

	f.dispatch(context.Background(), `{"table":"messages","op":"UPDATE","id":99}`)
	ev = <-stream.Events()
	assert.True(t, ev.Gap, "an unresolvable notification must surface as a gap")
}
