package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
)

type whitelistKey struct {
	auctionID     uuid.UUID
	participantID uuid.UUID
}

// Store is an in-memory domain.Store. All conditional writes run under one
// mutex, which gives them the same compare-and-swap semantics as the
// postgres implementation.
type Store struct {
	mu        sync.RWMutex
	auctions  map[uuid.UUID]*domain.Auction
	whitelist map[whitelistKey]*domain.WhitelistEntry
	bids      map[uuid.UUID]*domain.Bid
	bidOrder  []uuid.UUID
	history   []*domain.HistoryEvent
}

func NewStore() *Store {
	return &Store{
		auctions:  make(map[uuid.UUID]*domain.Auction),
		whitelist: make(map[whitelistKey]*domain.WhitelistEntry),
		bids:      make(map[uuid.UUID]*domain.Bid),
	}
}

func (s *Store) CreateAuction(_ context.Context, a *domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.auctions[a.ID]; exists {
		return domain.NewError(domain.KindInternal, "auction %s already exists", a.ID)
	}
	s.auctions[a.ID] = a.Clone()
	return nil
}

func (s *Store) GetAuction(_ context.Context, id uuid.UUID) (*domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	return a.Clone(), nil
}

func (s *Store) FindAuctions(_ context.Context, f domain.AuctionFilter) ([]*domain.Auction, int, error) {
	s.mu.RLock()
	var matched []*domain.Auction
	for _, a := range s.auctions {
		if matchAuction(a, f) {
			matched = append(matched, a.Clone())
		}
	}
	s.mu.RUnlock()

	sortAuctions(matched, f.Sort)
	total := len(matched)
	return paginate(matched, f.Page), total, nil
}

func matchAuction(a *domain.Auction, f domain.AuctionFilter) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
		return false
	}
	if f.MinPrice != nil && a.CurrentHighestBid.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && a.CurrentHighestBid.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.StartsAfter != nil && a.Bidding.Start.Before(*f.StartsAfter) {
		return false
	}
	if f.StartsBefore != nil && !a.Bidding.Start.Before(*f.StartsBefore) {
		return false
	}
	if f.EndsAfter != nil && a.Bidding.End.Before(*f.EndsAfter) {
		return false
	}
	if f.EndsBefore != nil && !a.Bidding.End.Before(*f.EndsBefore) {
		return false
	}
	if f.MinBids > 0 && a.TotalBids < f.MinBids {
		return false
	}
	return true
}

func sortAuctions(list []*domain.Auction, by domain.AuctionSort) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch by {
		case domain.SortEndingSoon:
			return a.Bidding.End.Before(b.Bidding.End)
		case domain.SortStartingSoon:
			return a.Bidding.Start.Before(b.Bidding.Start)
		case domain.SortHighestBid:
			return a.CurrentHighestBid.GreaterThan(b.CurrentHighestBid)
		case domain.SortMostBids:
			return a.TotalBids > b.TotalBids
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})
}

func paginate[T any](list []T, p domain.Page) []T {
	p = p.Normalize()
	start := p.Offset()
	if start >= len(list) {
		return []T{}
	}
	end := min(start+p.Limit, len(list))
	return list[start:end]
}

func (s *Store) UpdateStatus(_ context.Context, change domain.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[change.AuctionID]
	if !ok {
		return domain.ErrAuctionNotFound
	}
	if a.Status != change.From {
		return domain.NewError(domain.KindConflict, "auction %s status is %s, expected %s", a.ID, a.Status, change.From)
	}
	a.Status = change.To
	if change.WhitelistActive != nil {
		a.Whitelist.IsActive = *change.WhitelistActive
	}
	if change.EndedAt != nil {
		t := *change.EndedAt
		a.EndedAt = &t
	}
	return nil
}

func (s *Store) ApplyWinningBid(_ context.Context, u domain.WinningBidUpdate) (*domain.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[u.AuctionID]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	if a.Status != domain.StatusActive {
		return nil, domain.NewError(domain.KindConflict, "auction %s is no longer active", a.ID)
	}
	if !a.CurrentHighestBid.Equal(u.ExpectedHighest) {
		return nil, domain.NewError(domain.KindConflict, "highest bid moved from %s to %s", u.ExpectedHighest, a.CurrentHighestBid)
	}
	bid, ok := s.bids[u.Bid.ID]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "bid %s not found", u.Bid.ID)
	}

	var previous *domain.Bid
	if a.WinningBidID != nil {
		if prev, ok := s.bids[*a.WinningBidID]; ok && prev.Status == domain.BidStatusWinning {
			prev.Status = domain.BidStatusOutbid
			cp := *prev
			previous = &cp
		}
	}
	bid.Status = domain.BidStatusWinning
	a.CurrentHighestBid = bid.Amount
	winner, bidID := bid.BidderID, bid.ID
	a.CurrentWinner = &winner
	a.WinningBidID = &bidID
	a.TotalBids++
	u.Bid.Status = domain.BidStatusWinning
	return previous, nil
}

func (s *Store) ReserveWhitelistSlot(_ context.Context, auctionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return domain.ErrAuctionNotFound
	}
	if a.TotalParticipants >= a.Whitelist.MaxParticipants {
		return domain.ErrWhitelistFull
	}
	a.TotalParticipants++
	return nil
}

func (s *Store) ReleaseWhitelistSlot(_ context.Context, auctionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return domain.ErrAuctionNotFound
	}
	if a.TotalParticipants > 0 {
		a.TotalParticipants--
	}
	return nil
}

func (s *Store) InsertWhitelistEntry(_ context.Context, e *domain.WhitelistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := whitelistKey{e.AuctionID, e.ParticipantID}
	if _, exists := s.whitelist[key]; exists {
		return domain.ErrAlreadyWhitelisted
	}
	cp := *e
	s.whitelist[key] = &cp
	return nil
}

func (s *Store) GetWhitelistEntry(_ context.Context, auctionID, participantID uuid.UUID) (*domain.WhitelistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.whitelist[whitelistKey{auctionID, participantID}]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "whitelist entry not found")
	}
	cp := *e
	return &cp, nil
}

func (s *Store) ListWhitelist(_ context.Context, auctionID uuid.UUID, page domain.Page) ([]*domain.WhitelistEntry, int, error) {
	s.mu.RLock()
	var entries []*domain.WhitelistEntry
	for k, e := range s.whitelist {
		if k.auctionID == auctionID {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	s.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].JoinedAt.Before(entries[j].JoinedAt) })
	return paginate(entries, page), len(entries), nil
}

func (s *Store) InsertBid(_ context.Context, b *domain.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bids[b.ID]; exists {
		return domain.NewError(domain.KindInternal, "bid %s already exists", b.ID)
	}
	cp := *b
	s.bids[b.ID] = &cp
	s.bidOrder = append(s.bidOrder, b.ID)
	return nil
}

func (s *Store) GetBid(_ context.Context, id uuid.UUID) (*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bids[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "bid %s not found", id)
	}
	cp := *b
	return &cp, nil
}

// FindBids returns newest bids first.
func (s *Store) FindBids(_ context.Context, f domain.BidFilter) ([]*domain.Bid, int, error) {
	s.mu.RLock()
	var out []*domain.Bid
	for i := len(s.bidOrder) - 1; i >= 0; i-- {
		b := s.bids[s.bidOrder[i]]
		if f.AuctionID != nil && b.AuctionID != *f.AuctionID {
			continue
		}
		if f.BidderID != nil && b.BidderID != *f.BidderID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, b.Status) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	return paginate(out, f.Page), len(out), nil
}

func (s *Store) AppendHistory(_ context.Context, e *domain.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.history = append(s.history, &cp)
	return nil
}

// FindHistory returns events ordered by timestamp, newest first.
func (s *Store) FindHistory(_ context.Context, f domain.HistoryFilter) ([]*domain.HistoryEvent, int, error) {
	s.mu.RLock()
	var out []*domain.HistoryEvent
	for i := len(s.history) - 1; i >= 0; i-- {
		e := s.history[i]
		if f.AuctionID != nil && e.AuctionID != *f.AuctionID {
			continue
		}
		if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
			continue
		}
		if len(f.Actions) > 0 && !slices.Contains(f.Actions, e.Action) {
			continue
		}
		if f.From != nil && e.Timestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && e.Timestamp.After(*f.To) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return paginate(out, f.Page), len(out), nil
}
