package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"barter-service/internal/models"
)

// ProposalRepository abstracts proposal persistence. Every status change is a
// compare-and-swap on the current status.
type ProposalRepository interface {
	CreateProposal(ctx context.Context, itemID, proposerID int, description string, message *string) (models.Proposal, error)
	GetProposal(ctx context.Context, proposalID int) (models.Proposal, error)
	HasPendingProposal(ctx context.Context, itemID, proposerID int) (bool, error)
	TransitionProposal(ctx context.Context, proposalID int, from, to models.ProposalStatus) (models.Proposal, error)
	CancelPendingSiblings(ctx context.Context, itemID, keepID int) ([]models.Proposal, error)
	ListProposalsForItem(ctx context.Context, itemID int) ([]models.Proposal, error)
	ListProposalsForUser(ctx context.Context, userID int) ([]models.ProposalSummary, error)
	ListUnsettled(ctx context.Context) ([]models.Proposal, error)
}

// ProposalRepo is a sqlx implementation of ProposalRepository.
type ProposalRepo struct {
	db *sqlx.DB
}

// NewProposalRepo constructs a ProposalRepo.
func NewProposalRepo(db *sqlx.DB) *ProposalRepo {
	return &ProposalRepo{db: db}
}

const proposalColumns = `id, item_id, proposer_id, proposed_item_description, message, status, created_at, updated_at`

// CreateProposal inserts a pending proposal. The partial unique index rejects a second
// pending proposal for the same item and proposer.
func (r *ProposalRepo) CreateProposal(ctx context.Context, itemID, proposerID int, description string, message *string) (models.Proposal, error) {
	var p models.Proposal
	err := r.db.GetContext(ctx, &p, `INSERT INTO proposals (item_id, proposer_id, proposed_item_description, message)
        VALUES ($1, $2, $3, $4) RETURNING `+proposalColumns, itemID, proposerID, description, message)
	if err != nil {
		return models.Proposal{}, mapConstraint(err)
	}
	return p, nil
}

// GetProposal fetches a proposal by id.
func (r *ProposalRepo) GetProposal(ctx context.Context, proposalID int) (models.Proposal, error) {
	var p models.Proposal
	err := r.db.GetContext(ctx, &p, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1`, proposalID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Proposal{}, ErrProposalNotFound
	}
	return p, err
}

// HasPendingProposal checks whether proposerID already has a pending proposal on itemID.
func (r *ProposalRepo) HasPendingProposal(ctx context.Context, itemID, proposerID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM proposals WHERE item_id=$1 AND proposer_id=$2 AND status='pending')`, itemID, proposerID)
	return exists, err
}

// TransitionProposal moves the proposal from -> to in one conditional update.
// ErrStaleState means the row was no longer in `from`.
func (r *ProposalRepo) TransitionProposal(ctx context.Context, proposalID int, from, to models.ProposalStatus) (models.Proposal, error) {
	var p models.Proposal
	err := r.db.GetContext(ctx, &p, `UPDATE proposals SET status=$3, updated_at=NOW()
        WHERE id=$1 AND status=$2
        RETURNING `+proposalColumns, proposalID, from, to)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetProposal(ctx, proposalID); getErr != nil {
			return models.Proposal{}, getErr
		}
		return models.Proposal{}, ErrStaleState
	}
	if err != nil {
		return models.Proposal{}, mapConstraint(err)
	}
	return p, nil
}

// CancelPendingSiblings cancels every pending proposal on the item except keepID and
// returns the rows it changed.
func (r *ProposalRepo) CancelPendingSiblings(ctx context.Context, itemID, keepID int) ([]models.Proposal, error) {
	var cancelled []models.Proposal
	err := r.db.SelectContext(ctx, &cancelled, `UPDATE proposals SET status='cancelled', updated_at=NOW()
        WHERE item_id=$1 AND id<>$2 AND status='pending'
        RETURNING `+proposalColumns, itemID, keepID)
	return cancelled, err
}

// ListProposalsForItem returns every proposal on the item, oldest first.
func (r *ProposalRepo) ListProposalsForItem(ctx context.Context, itemID int) ([]models.Proposal, error) {
	var proposals []models.Proposal
	err := r.db.SelectContext(ctx, &proposals, `SELECT `+proposalColumns+` FROM proposals
        WHERE item_id=$1 ORDER BY created_at ASC, id ASC`, itemID)
	return proposals, err
}

// ListProposalsForUser returns proposals the user sent or received on their items, newest first.
func (r *ProposalRepo) ListProposalsForUser(ctx context.Context, userID int) ([]models.ProposalSummary, error) {
	query := `SELECT p.id, p.item_id, p.proposer_id, p.proposed_item_description, p.message, p.status, p.created_at, p.updated_at,
            i.owner_id AS item_owner_id, i.title AS item_title,
            CASE WHEN p.proposer_id=$1 THEN 'sent' ELSE 'received' END AS direction
        FROM proposals p
        JOIN items i ON i.id = p.item_id
        WHERE p.proposer_id=$1 OR i.owner_id=$1
        ORDER BY p.created_at DESC, p.id DESC`
	var summaries []models.ProposalSummary
	err := r.db.SelectContext(ctx, &summaries, query, userID)
	return summaries, err
}

// ListUnsettled returns accepted or completed proposals whose item still has pending
// siblings or an item status that was not moved along.
func (r *ProposalRepo) ListUnsettled(ctx context.Context) ([]models.Proposal, error) {
	query := `SELECT p.id, p.item_id, p.proposer_id, p.proposed_item_description, p.message, p.status, p.created_at, p.updated_at
        FROM proposals p
        JOIN items i ON i.id = p.item_id
        WHERE p.status IN ('accepted', 'completed')
        AND (
            EXISTS (SELECT 1 FROM proposals s WHERE s.item_id = p.item_id AND s.status = 'pending')
            OR (p.status = 'accepted' AND i.status = 'active')
            OR (p.status = 'completed' AND i.status IN ('active', 'proposed'))
        )
        ORDER BY p.updated_at ASC`
	var proposals []models.Proposal
	err := r.db.SelectContext(ctx, &proposals, query)
	return proposals, err
}
