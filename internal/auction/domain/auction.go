package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStatus represents the lifecycle stage of an auction
type AuctionStatus string

const (
	StatusDraft           AuctionStatus = "DRAFT"
	StatusWhitelistOpen   AuctionStatus = "WHITELIST_OPEN"
	StatusWhitelistClosed AuctionStatus = "WHITELIST_CLOSED"
	StatusActive          AuctionStatus = "AUCTION_ACTIVE"
	StatusEnded           AuctionStatus = "ENDED"
	StatusCancelled       AuctionStatus = "CANCELLED"
)

// stageOrder gives the position of each timed stage, used to keep
// transitions monotonic.
var stageOrder = map[AuctionStatus]int{
	StatusDraft:           0,
	StatusWhitelistOpen:   1,
	StatusWhitelistClosed: 2,
	StatusActive:          3,
	StatusEnded:           4,
	StatusCancelled:       5,
}

func (s AuctionStatus) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// IsTerminal reports whether no further transition can leave s.
func (s AuctionStatus) IsTerminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// Precedes is true when s comes strictly before other in the timed lifecycle.
func (s AuctionStatus) Precedes(other AuctionStatus) bool {
	return stageOrder[s] < stageOrder[other]
}

// WhitelistWindow holds the pay-gated registration stage settings.
type WhitelistWindow struct {
	Start           time.Time
	End             time.Time
	MaxParticipants int
	EntryFee        decimal.Decimal
	IsActive        bool
}

// Contains reports whether now is inside [Start, End).
func (w WhitelistWindow) Contains(now time.Time) bool {
	return !now.Before(w.Start) && now.Before(w.End)
}

// BiddingWindow holds the bidding stage settings.
type BiddingWindow struct {
	Start        time.Time
	End          time.Time
	MinIncrement decimal.Decimal
	ReservePrice *decimal.Decimal
	BuyNowPrice  *decimal.Decimal
}

// Contains reports whether now is inside [Start, End).
func (w BiddingWindow) Contains(now time.Time) bool {
	return !now.Before(w.Start) && now.Before(w.End)
}

// Auction is the aggregate for one timed sale of a unique item.
type Auction struct {
	ID                uuid.UUID
	ItemID            string
	Title             string
	Description       string
	StartingPrice     decimal.Decimal
	CurrentHighestBid decimal.Decimal
	CurrentWinner     *uuid.UUID
	WinningBidID      *uuid.UUID
	Status            AuctionStatus
	Whitelist         WhitelistWindow
	Bidding           BiddingWindow
	TotalBids         int
	TotalParticipants int
	CreatedBy         uuid.UUID
	EndedAt           *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewAuctionParams is the input used to create an auction in DRAFT.
type NewAuctionParams struct {
	ItemID        string
	Title         string
	Description   string
	StartingPrice decimal.Decimal
	CreatedBy     uuid.UUID
	Whitelist     WhitelistWindow
	Bidding       BiddingWindow
}

// NewAuction validates the windows and pricing and returns a DRAFT auction.
func NewAuction(p NewAuctionParams, now time.Time) (*Auction, error) {
	if p.ItemID == "" {
		return nil, NewError(KindInvalidInput, "item id is required")
	}
	if p.StartingPrice.IsNegative() {
		return nil, NewError(KindInvalidInput, "starting price cannot be negative")
	}
	if !p.Whitelist.Start.Before(p.Whitelist.End) {
		return nil, NewError(KindInvalidInput, "whitelist window start must be before its end")
	}
	if !p.Bidding.Start.Before(p.Bidding.End) {
		return nil, NewError(KindInvalidInput, "bidding window start must be before its end")
	}
	if p.Whitelist.End.After(p.Bidding.Start) {
		return nil, NewError(KindInvalidInput, "whitelist window must end before bidding starts")
	}
	if p.Whitelist.MaxParticipants <= 0 {
		return nil, NewError(KindInvalidInput, "max participants must be positive")
	}
	if p.Whitelist.EntryFee.IsNegative() {
		return nil, NewError(KindInvalidInput, "entry fee cannot be negative")
	}
	if p.Bidding.MinIncrement.IsNegative() {
		return nil, NewError(KindInvalidInput, "min increment cannot be negative")
	}
	if p.Bidding.BuyNowPrice != nil && !p.Bidding.BuyNowPrice.GreaterThan(p.StartingPrice) {
		return nil, NewError(KindInvalidInput, "buy now price must exceed the starting price")
	}
	if p.Bidding.ReservePrice != nil && p.Bidding.ReservePrice.LessThan(p.StartingPrice) {
		return nil, NewError(KindInvalidInput, "reserve price cannot be below the starting price")
	}

	wl := p.Whitelist
	wl.IsActive = false
	return &Auction{
		ID:                uuid.New(),
		ItemID:            p.ItemID,
		Title:             p.Title,
		Description:       p.Description,
		StartingPrice:     p.StartingPrice,
		CurrentHighestBid: p.StartingPrice,
		Status:            StatusDraft,
		Whitelist:         wl,
		Bidding:           p.Bidding,
		CreatedBy:         p.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// MinimumNextBid is the lowest amount a REGULAR bid must reach.
func (a *Auction) MinimumNextBid() decimal.Decimal {
	return a.CurrentHighestBid.Add(a.Bidding.MinIncrement)
}

// ValidateBidAmount checks amount against the current auction state.
func (a *Auction) ValidateBidAmount(amount decimal.Decimal, bidType BidType) error {
	if !amount.IsPositive() {
		return NewError(KindInvalidInput, "bid amount must be positive")
	}
	switch bidType {
	case BidTypeBuyNow:
		if a.Bidding.BuyNowPrice == nil {
			return NewError(KindBuyNowMismatch, "buy now is not available for this auction")
		}
		if !amount.Equal(*a.Bidding.BuyNowPrice) {
			return NewError(KindBuyNowMismatch, "buy now requires exactly %s", a.Bidding.BuyNowPrice.String())
		}
	case BidTypeRegular:
		if minBid := a.MinimumNextBid(); amount.LessThan(minBid) {
			return NewError(KindBidTooLow, "bid amount too low, minimum is %s", minBid.String())
		}
	default:
		return NewError(KindInvalidInput, "unknown bid type %q", bidType)
	}
	return nil
}

// HasWinner reports whether a winning bid has been accepted.
func (a *Auction) HasWinner() bool {
	return a.CurrentWinner != nil && a.TotalBids > 0
}

// ReserveMet is true when there is no reserve or the highest bid reaches it.
func (a *Auction) ReserveMet() bool {
	if a.Bidding.ReservePrice == nil {
		return true
	}
	return a.CurrentHighestBid.GreaterThanOrEqual(*a.Bidding.ReservePrice)
}

// IsHighestBidder is true when participantID currently holds the winning bid.
func (a *Auction) IsHighestBidder(participantID uuid.UUID) bool {
	return a.CurrentWinner != nil && *a.CurrentWinner == participantID
}

// TimeToEnd returns how long until the bidding window closes.
func (a *Auction) TimeToEnd(now time.Time) time.Duration {
	return a.Bidding.End.Sub(now)
}

// Clone returns a deep copy, used by stores that hand out snapshots.
func (a *Auction) Clone() *Auction {
	c := *a
	if a.CurrentWinner != nil {
		w := *a.CurrentWinner
		c.CurrentWinner = &w
	}
	if a.WinningBidID != nil {
		b := *a.WinningBidID
		c.WinningBidID = &b
	}
	if a.Bidding.ReservePrice != nil {
		r := *a.Bidding.ReservePrice
		c.Bidding.ReservePrice = &r
	}
	if a.Bidding.BuyNowPrice != nil {
		p := *a.Bidding.BuyNowPrice
		c.Bidding.BuyNowPrice = &p
	}
	if a.EndedAt != nil {
		e := *a.EndedAt
		c.EndedAt = &e
	}
	return &c
}
