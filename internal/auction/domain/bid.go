package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BidType distinguishes competitive bids from instant purchases.
type BidType string

const (
	BidTypeRegular BidType = "REGULAR"
	BidTypeBuyNow  BidType = "BUY_NOW"
)

func (t BidType) Valid() bool {
	return t == BidTypeRegular || t == BidTypeBuyNow
}

// BidStatus tracks a bid's standing; bids are never deleted.
type BidStatus string

const (
	BidStatusPending   BidStatus = "PENDING"
	BidStatusConfirmed BidStatus = "CONFIRMED"
	BidStatusOutbid    BidStatus = "OUTBID"
	BidStatusWinning   BidStatus = "WINNING"
)

// BidMetadata describes where a bid came from.
type BidMetadata struct {
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	ClientIP  string            `json:"client_ip,omitempty"`
	JobID     string            `json:"job_id,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Bid represents one bid attempt's outcome inside an auction
type Bid struct {
	ID                  uuid.UUID
	AuctionID           uuid.UUID
	BidderID            uuid.UUID
	Amount              decimal.Decimal
	Type                BidType
	Status              BidStatus
	FundsTransactionRef string
	Metadata            BidMetadata
	CreatedAt           time.Time
}

// NewBid creates a CONFIRMED bid backed by the given funds hold.
func NewBid(auctionID, bidderID uuid.UUID, amount decimal.Decimal, bidType BidType, fundsRef string, md BidMetadata, now time.Time) *Bid {
	if md.Timestamp.IsZero() {
		md.Timestamp = now
	}
	return &Bid{
		ID:                  uuid.New(),
		AuctionID:           auctionID,
		BidderID:            bidderID,
		Amount:              amount,
		Type:                bidType,
		Status:              BidStatusConfirmed,
		FundsTransactionRef: fundsRef,
		Metadata:            md,
		CreatedAt:           now,
	}
}

// WinningBidUpdate is the compare-and-swap applied when a bid becomes the
// highest: it only succeeds while the auction's highest bid still equals
// ExpectedHighest and the auction is still AUCTION_ACTIVE.
type WinningBidUpdate struct {
	AuctionID       uuid.UUID
	ExpectedHighest decimal.Decimal
	Bid             *Bid
}
