package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Page selects a slice of a listing. Page is 1-based.
type Page struct {
	Page  int
	Limit int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Limit
}

// AuctionSort names the supported orderings for listings.
type AuctionSort string

const (
	SortNewest       AuctionSort = "newest"
	SortEndingSoon   AuctionSort = "ending_soon"
	SortHighestBid   AuctionSort = "highest_bid"
	SortMostBids     AuctionSort = "most_bids"
	SortStartingSoon AuctionSort = "starting_soon"
)

// AuctionFilter narrows FindAuctions. Zero values mean "no constraint".
type AuctionFilter struct {
	Statuses     []AuctionStatus
	MinPrice     *decimal.Decimal
	MaxPrice     *decimal.Decimal
	StartsAfter  *time.Time
	StartsBefore *time.Time
	EndsAfter    *time.Time
	EndsBefore   *time.Time
	MinBids      int
	Sort         AuctionSort
	Page         Page
}

// BidFilter narrows FindBids.
type BidFilter struct {
	AuctionID *uuid.UUID
	BidderID  *uuid.UUID
	Statuses  []BidStatus
	Page      Page
}

// HistoryFilter narrows FindHistory.
type HistoryFilter struct {
	AuctionID *uuid.UUID
	ActorID   *uuid.UUID
	Actions   []HistoryAction
	From      *time.Time
	To        *time.Time
	Page      Page
}

// AuctionRepository persists auctions. Every mutating call is conditional so
// concurrent writers cannot lose updates.
type AuctionRepository interface {
	CreateAuction(ctx context.Context, a *Auction) error
	GetAuction(ctx context.Context, id uuid.UUID) (*Auction, error)
	FindAuctions(ctx context.Context, f AuctionFilter) ([]*Auction, int, error)
	// UpdateStatus applies change only while the stored status equals
	// change.From, otherwise it returns ErrConflict.
	UpdateStatus(ctx context.Context, change StatusChange) error
	// ApplyWinningBid atomically moves the auction's highest bid to u.Bid,
	// flips the previous WINNING bid to OUTBID, flips u.Bid to WINNING and
	// increments TotalBids. It returns ErrConflict when the stored highest bid
	// differs from u.ExpectedHighest or the auction left AUCTION_ACTIVE.
	ApplyWinningBid(ctx context.Context, u WinningBidUpdate) (previous *Bid, err error)
	// ReserveWhitelistSlot increments TotalParticipants only while it is below
	// MaxParticipants, otherwise it returns ErrWhitelistFull.
	ReserveWhitelistSlot(ctx context.Context, auctionID uuid.UUID) error
	ReleaseWhitelistSlot(ctx context.Context, auctionID uuid.UUID) error
}

type WhitelistRepository interface {
	// InsertWhitelistEntry returns ErrAlreadyWhitelisted on a duplicate
	// (auction, participant) pair.
	InsertWhitelistEntry(ctx context.Context, e *WhitelistEntry) error
	GetWhitelistEntry(ctx context.Context, auctionID, participantID uuid.UUID) (*WhitelistEntry, error)
	ListWhitelist(ctx context.Context, auctionID uuid.UUID, page Page) ([]*WhitelistEntry, int, error)
}

type BidRepository interface {
	InsertBid(ctx context.Context, b *Bid) error
	GetBid(ctx context.Context, id uuid.UUID) (*Bid, error)
	FindBids(ctx context.Context, f BidFilter) ([]*Bid, int, error)
}

type HistoryRepository interface {
	AppendHistory(ctx context.Context, e *HistoryEvent) error
	FindHistory(ctx context.Context, f HistoryFilter) ([]*HistoryEvent, int, error)
}

// Store is the persistence collaborator of the auction module.
type Store interface {
	AuctionRepository
	WhitelistRepository
	BidRepository
	HistoryRepository
}

// ItemStatus is the catalog state of the item being sold.
type ItemStatus string

const (
	ItemAvailable ItemStatus = "available"
	ItemReserved  ItemStatus = "reserved"
	ItemInAuction ItemStatus = "in_auction"
	ItemSold      ItemStatus = "sold"
	ItemUnsold    ItemStatus = "unsold"
)

// ItemCatalog is the narrow view of the item/NFT catalog the engine needs.
type ItemCatalog interface {
	GetItemStatus(ctx context.Context, itemID string) (ItemStatus, error)
	SetItemStatus(ctx context.Context, itemID string, status ItemStatus) error
	// ReserveItem moves an available item to reserved in one conditional
	// write. Any other current status gives ErrItemUnavailable.
	ReserveItem(ctx context.Context, itemID string) error
}

// LedgerRequest describes a hold or deduction against a participant.
type LedgerRequest struct {
	ParticipantID uuid.UUID
	Amount        decimal.Decimal
	Category      string
	Memo          string
	RefID         string
	RefType       string
	Metadata      map[string]string
}

// LedgerCode is the typed failure reason reported by the ledger.
type LedgerCode string

const (
	LedgerOK                  LedgerCode = ""
	LedgerInsufficientBalance LedgerCode = "insufficient_balance"
	LedgerAccountNotFound     LedgerCode = "account_not_found"
	LedgerRejected            LedgerCode = "rejected"
)

// LedgerResult mirrors the ledger's {success, transactionRef} | {success:false, reason} shape.
type LedgerResult struct {
	Success        bool
	TransactionRef string
	Code           LedgerCode
	Reason         string
}

// Ledger is the wallet collaborator. A returned error means the call itself
// failed (transport, timeout); a business refusal comes back as
// LedgerResult.Success == false.
type Ledger interface {
	Hold(ctx context.Context, req LedgerRequest) (LedgerResult, error)
	Deduct(ctx context.Context, req LedgerRequest) (LedgerResult, error)
	// Release returns a hold, or refunds a deduction, identified by ref.
	Release(ctx context.Context, ref string) error
	// Capture settles a hold into a final deduction.
	Capture(ctx context.Context, ref string) error
	Balance(ctx context.Context, participantID uuid.UUID) (decimal.Decimal, error)
}

// Notifier fans events out to auction rooms and participant sessions.
type Notifier interface {
	BroadcastToAuction(ctx context.Context, auctionID uuid.UUID, e Event) error
	NotifyParticipant(ctx context.Context, participantID uuid.UUID, e Event) error
}

// Clock returns the current time; injected so tests can move time.
type Clock func() time.Time
