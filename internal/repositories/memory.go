package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"barter-service/internal/changefeed"
	"barter-service/internal/models"
)

// MemoryStore keeps every record in process. It applies the same conditional-update and
// uniqueness rules as the Postgres schema and, when given a publisher, emits change
// events after each write. Used for STORE_DRIVER=memory and in tests.
type MemoryStore struct {
	mu sync.Mutex

	users     map[int]time.Time
	items     map[int]models.Item
	proposals map[int]models.Proposal
	messages  map[int]models.Message

	nextItemID     int
	nextProposalID int
	nextMessageID  int

	feed changefeed.Publisher
	now  func() time.Time
}

// NewMemoryStore creates an empty store. feed may be nil.
func NewMemoryStore(feed changefeed.Publisher) *MemoryStore {
	return &MemoryStore{
		users:     make(map[int]time.Time),
		items:     make(map[int]models.Item),
		proposals: make(map[int]models.Proposal),
		messages:  make(map[int]models.Message),
		feed:      feed,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// publish must be called with mu held so events leave in commit order.
func (s *MemoryStore) publish(ev changefeed.Event) {
	if s.feed != nil {
		s.feed.Publish(ev)
	}
}

func (s *MemoryStore) publishProposal(op changefeed.Op, p models.Proposal) {
	s.publish(changefeed.Event{Table: changefeed.TableProposals, Op: op, Proposal: &p})
}

func (s *MemoryStore) publishMessage(op changefeed.Op, m models.Message) {
	s.publish(changefeed.Event{Table: changefeed.TableMessages, Op: op, Message: &m})
}

// EnsureUser records the user id.
func (s *MemoryStore) EnsureUser(ctx context.Context, userID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		s.users[userID] = s.now()
	}
	return nil
}

// UsersExist reports whether every id is known.
func (s *MemoryStore) UsersExist(ctx context.Context, userIDs ...int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range userIDs {
		if _, ok := s.users[id]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// CreateItem lists a new active item.
func (s *MemoryStore) CreateItem(ctx context.Context, ownerID int, title string) (models.Item, error) {
	if err := ctx.Err(); err != nil {
		return models.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextItemID++
	now := s.now()
	item := models.Item{
		ID:        s.nextItemID,
		OwnerID:   ownerID,
		Title:     title,
		Status:    models.ItemActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.items[item.ID] = item
	return item, nil
}

// GetItem fetches an item by id.
func (s *MemoryStore) GetItem(ctx context.Context, itemID int) (models.Item, error) {
	if err := ctx.Err(); err != nil {
		return models.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return models.Item{}, ErrItemNotFound
	}
	return item, nil
}

// UpdateItemStatus moves the item to `to` only while its status is one of `from`.
func (s *MemoryStore) UpdateItemStatus(ctx context.Context, itemID int, from []models.ItemStatus, to models.ItemStatus) (models.Item, error) {
	if err := ctx.Err(); err != nil {
		return models.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return models.Item{}, ErrItemNotFound
	}
	matched := false
	for _, st := range from {
		if item.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return models.Item{}, ErrStaleState
	}
	item.Status = to
	item.UpdatedAt = s.now()
	s.items[itemID] = item
	return item, nil
}

// CreateProposal inserts a pending proposal.
func (s *MemoryStore) CreateProposal(ctx context.Context, itemID, proposerID int, description string, message *string) (models.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return models.Proposal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return models.Proposal{}, ErrItemNotFound
	}
	for _, p := range s.proposals {
		if p.ItemID == itemID && p.ProposerID == proposerID && p.Status == models.ProposalPending {
			return models.Proposal{}, ErrDuplicatePending
		}
	}
	s.nextProposalID++
	now := s.now()
	p := models.Proposal{
		ID:          s.nextProposalID,
		ItemID:      itemID,
		ProposerID:  proposerID,
		Description: description,
		Message:     message,
		Status:      models.ProposalPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.proposals[p.ID] = p
	s.publishProposal(changefeed.OpInsert, p)
	return p, nil
}

// GetProposal fetches a proposal by id.
func (s *MemoryStore) GetProposal(ctx context.Context, proposalID int) (models.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return models.Proposal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[proposalID]
	if !ok {
		return models.Proposal{}, ErrProposalNotFound
	}
	return p, nil
}

// HasPendingProposal checks for an existing pending proposal by proposerID on itemID.
func (s *MemoryStore) HasPendingProposal(ctx context.Context, itemID, proposerID int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.proposals {
		if p.ItemID == itemID && p.ProposerID == proposerID && p.Status == models.ProposalPending {
			return true, nil
		}
	}
	return false, nil
}

// TransitionProposal moves the proposal from -> to if it is still in `from`.
func (s *MemoryStore) TransitionProposal(ctx context.Context, proposalID int, from, to models.ProposalStatus) (models.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return models.Proposal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[proposalID]
	if !ok {
		return models.Proposal{}, ErrProposalNotFound
	}
	if p.Status != from {
		return models.Proposal{}, ErrStaleState
	}
	if to.Resolved() && !from.Resolved() {
		for _, other := range s.proposals {
			if other.ID != p.ID && other.ItemID == p.ItemID && other.Status.Resolved() {
				return models.Proposal{}, ErrItemAlreadyAccepted
			}
		}
	}
	p.Status = to
	p.UpdatedAt = s.now()
	s.proposals[p.ID] = p
	s.publishProposal(changefeed.OpUpdate, p)
	return p, nil
}

// CancelPendingSiblings cancels every pending proposal on the item except keepID.
func (s *MemoryStore) CancelPendingSiblings(ctx context.Context, itemID, keepID int) ([]models.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int
	for id, p := range s.proposals {
		if p.ItemID == itemID && id != keepID && p.Status == models.ProposalPending {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	cancelled := make([]models.Proposal, 0, len(ids))
	now := s.now()
	for _, id := range ids {
		p := s.proposals[id]
		p.Status = models.ProposalCancelled
		p.UpdatedAt = now
		s.proposals[id] = p
		cancelled = append(cancelled, p)
		s.publishProposal(changefeed.OpUpdate, p)
	}
	return cancelled, nil
}

// ListProposalsForItem returns every proposal on the item, oldest first.
func (s *MemoryStore) ListProposalsForItem(ctx context.Context, itemID int) ([]models.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Proposal
	for _, p := range s.proposals {
		if p.ItemID == itemID {
			out = append(out, p)
		}
	}
	sortProposals(out)
	return out, nil
}

// ListProposalsForUser returns proposals the user sent or received, newest first.
func (s *MemoryStore) ListProposalsForUser(ctx context.Context, userID int) ([]models.ProposalSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ProposalSummary
	for _, p := range s.proposals {
		item := s.items[p.ItemID]
		var direction string
		switch {
		case p.ProposerID == userID:
			direction = models.DirectionSent
		case item.OwnerID == userID:
			direction = models.DirectionReceived
		default:
			continue
		}
		out = append(out, models.ProposalSummary{
			Proposal:    p,
			ItemOwnerID: item.OwnerID,
			ItemTitle:   item.Title,
			Direction:   direction,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return out, nil
}

// ListUnsettled returns resolved proposals whose item was not fully moved along.
func (s *MemoryStore) ListUnsettled(ctx context.Context) ([]models.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pendingItems := make(map[int]bool)
	for _, p := range s.proposals {
		if p.Status == models.ProposalPending {
			pendingItems[p.ItemID] = true
		}
	}

	var out []models.Proposal
	for _, p := range s.proposals {
		if !p.Status.Resolved() {
			continue
		}
		item := s.items[p.ItemID]
		stale := pendingItems[p.ItemID] ||
			(p.Status == models.ProposalAccepted && item.Status == models.ItemActive) ||
			(p.Status == models.ProposalCompleted && (item.Status == models.ItemActive || item.Status == models.ItemProposed))
		if stale {
			out = append(out, p)
		}
	}
	sortProposals(out)
	return out, nil
}

// CreateMessage stores an unread message.
func (s *MemoryStore) CreateMessage(ctx context.Context, senderID, receiverID int, content string, msgType models.MessageType) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMessageID++
	msg := models.Message{
		ID:         s.nextMessageID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       msgType,
		CreatedAt:  s.now(),
	}
	s.messages[msg.ID] = msg
	s.publishMessage(changefeed.OpInsert, msg)
	return msg, nil
}

// GetMessage retrieves a single message, deleted or not.
func (s *MemoryStore) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, nil
}

// ListConversation returns the pair's non-deleted messages in creation order.
func (s *MemoryStore) ListConversation(ctx context.Context, userA, userB int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.DeletedAt == nil && m.Involves(userA, userB) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// MarkRead sets read_at on unread, non-deleted messages addressed to receiverID.
func (s *MemoryStore) MarkRead(ctx context.Context, receiverID int, messageIDs []int) (map[int]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	read := make(map[int]time.Time)
	now := s.now()
	for _, id := range messageIDs {
		m, ok := s.messages[id]
		if !ok || m.ReceiverID != receiverID || !m.Unread() {
			continue
		}
		readAt := now
		if readAt.Before(m.CreatedAt) {
			readAt = m.CreatedAt
		}
		m.ReadAt = &readAt
		s.messages[id] = m
		read[id] = readAt
		s.publishMessage(changefeed.OpUpdate, m)
	}
	return read, nil
}

// SoftDelete sets deleted_at once.
func (s *MemoryStore) SoftDelete(ctx context.Context, messageID int) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	if m.DeletedAt != nil {
		return m, nil
	}
	now := s.now()
	m.DeletedAt = &now
	s.messages[messageID] = m
	s.publishMessage(changefeed.OpUpdate, m)
	return m, nil
}

// CountUnread counts unread, non-deleted messages addressed to userID.
func (s *MemoryStore) CountUnread(ctx context.Context, userID int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.messages {
		if m.ReceiverID == userID && m.Unread() {
			count++
		}
	}
	return count, nil
}

// ListConversations summarises every peer of userID, most recent first.
func (s *MemoryStore) ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byPeer := make(map[int]*models.ConversationSummary)
	for _, m := range s.messages {
		if m.DeletedAt != nil {
			continue
		}
		var peer int
		switch userID {
		case m.SenderID:
			peer = m.ReceiverID
		case m.ReceiverID:
			peer = m.SenderID
		default:
			continue
		}
		sum, ok := byPeer[peer]
		if !ok {
			sum = &models.ConversationSummary{PeerID: peer}
			byPeer[peer] = sum
		}
		if m.CreatedAt.After(sum.LastMessageAt) {
			sum.LastMessageAt = m.CreatedAt
		}
		if m.ReceiverID == userID && m.ReadAt == nil {
			sum.UnreadCount++
		}
	}
	out := make([]models.ConversationSummary, 0, len(byPeer))
	for _, sum := range byPeer {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].PeerID < out[j].PeerID
	})
	return out, nil
}

func sortProposals(ps []models.Proposal) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

var (
	_ ItemRepository     = (*MemoryStore)(nil)
	_ ProposalRepository = (*MemoryStore)(nil)
	_ MessageRepository  = (*MemoryStore)(nil)
	_ UserRepository     = (*MemoryStore)(nil)
)
