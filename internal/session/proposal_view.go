package session

import (
	"context"

	"barter-service/internal/changefeed"
	"barter-service/internal/fanout"
	"barter-service/internal/logger"
	"barter-service/internal/models"
)

// ProposalView keeps the proposals on one item current. The owner sees all of them,
// anyone else only their own.
type ProposalView struct {
	*viewState
	session   *Session
	itemID    int
	ownerID   int
	proposals []models.Proposal
}

// OpenItemProposals loads the proposals on itemID and subscribes to changes.
func (s *Session) OpenItemProposals(ctx context.Context, itemID int) (*ProposalView, error) {
	item, err := s.svc.Items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	v := &ProposalView{
		viewState: newViewState(cancel),
		session:   s,
		itemID:    itemID,
		ownerID:   item.OwnerID,
	}

	sub, err := s.svc.Feed.SubscribeItemProposals(ctx, itemID, fanout.Handler{
		Event:     v.apply,
		Resync:    v.resync,
		Degraded:  v.setDegraded,
		Recovered: v.setRecovered,
	})
	if err != nil {
		logger.Warn("proposal view item %d: subscribe failed, polling: %v", itemID, err)
		v.poll(ctx, fanout.KindProposals, s.svc.PollInterval, v.resync)
	} else {
		v.sub = sub
	}

	if err := v.resync(ctx); err != nil {
		v.Release()
		return nil, err
	}
	return v, nil
}

// ItemID returns the item the view follows.
func (v *ProposalView) ItemID() int {
	return v.itemID
}

// Proposals returns a copy of the current list, oldest first.
func (v *ProposalView) Proposals() []models.Proposal {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Proposal, len(v.proposals))
	copy(out, v.proposals)
	return out
}

func (v *ProposalView) resync(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	proposals, err := v.session.svc.Proposals.ListForItem(ctx, v.itemID, v.session.userID)
	if err != nil {
		return err
	}
	v.proposals = proposals
	snapshot := make([]models.Proposal, len(proposals))
	copy(snapshot, proposals)
	v.push(Update{Type: UpdateSnapshot, Proposals: snapshot})
	return nil
}

func (v *ProposalView) apply(ev changefeed.Event) {
	if ev.Proposal == nil {
		return
	}
	p := *ev.Proposal
	if v.session.userID != v.ownerID && p.ProposerID != v.session.userID {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.proposals {
		if v.proposals[i].ID == p.ID {
			v.proposals[i] = p
			v.push(Update{Type: UpdateProposal, Proposal: &p})
			return
		}
	}
	v.proposals = append(v.proposals, p)
	v.push(Update{Type: UpdateProposal, Proposal: &p})
}
