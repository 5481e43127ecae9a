package repositories

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barter-service/internal/models"
)

func newMockProposalRepo(t *testing.T) (*ProposalRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewProposalRepo(sqlx.NewDb(db, "postgres")), mock
}

func proposalRows(id int, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "item_id", "proposer_id", "proposed_item_description", "message", "status", "created_at", "updated_at"}).
		AddRow(id, 3, 2, "guitar", nil, status, now, now)
}

var (
	casUpdate   = regexp.QuoteMeta(`UPDATE proposals SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2 RETURNING`)
	selectByID  = regexp.QuoteMeta(`FROM proposals WHERE id=$1`)
	insertQuery = regexp.QuoteMeta(`INSERT INTO proposals (item_id, proposer_id, proposed_item_description, message)`)
)

func TestTransitionProposalSwapsStatus(t *testing.T) {
	repo, mock := newMockProposalRepo(t)
	mock.ExpectQuery(casUpdate).WithArgs(5, "pending", "accepted").WillReturnRows(proposalRows(5, "accepted"))

	p, err := repo.TransitionProposal(context.Background(), 5, models.ProposalPending, models.ProposalAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalAccepted, p.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionProposalFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "row moved on",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(casUpdate).WithArgs(5, "pending", "accepted").WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery(selectByID).WithArgs(5).WillReturnRows(proposalRows(5, "rejected"))
			},
			wantErr: ErrStaleState,
		},
		{
			name: "row missing",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(casUpdate).WithArgs(5, "pending", "accepted").WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery(selectByID).WithArgs(5).WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrProposalNotFound,
		},
		{
			name: "item already accepted",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(casUpdate).WithArgs(5, "pending", "accepted").
					WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: oneAcceptedIndex})
			},
			wantErr: ErrItemAlreadyAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockProposalRepo(t)
			tt.setup(mock)

			_, err := repo.TransitionProposal(context.Background(), 5, models.ProposalPending, models.ProposalAccepted)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreateProposalMapsPendingIndex(t *testing.T) {
	repo, mock := newMockProposalRepo(t)
	mock.ExpectQuery(insertQuery).WithArgs(3, 2, "drum", nil).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: onePendingIndex})

	_, err := repo.CreateProposal(context.Background(), 3, 2, "drum", nil)
	assert.ErrorIs(t, err, ErrDuplicatePending)

	other := &pq.Error{Code: uniqueViolation, Constraint: "items_pkey"}
	assert.Equal(t, error(other), mapConstraint(other))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelPendingSiblingsReturnsChangedRows(t *testing.T) {
	repo, mock := newMockProposalRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE item_id=$1 AND id<>$2 AND status='pending'`)).WithArgs(3, 5).
		WillReturnRows(proposalRows(6, "cancelled").AddRow(7, 3, 4, "amp", nil, "cancelled", time.Now(), time.Now()))

	cancelled, err := repo.CancelPendingSiblings(context.Background(), 3, 5)
	require.NoError(t, err)
	require.Len(t, cancelled, 2)
	assert.Equal(t, 7, cancelled[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
