package rest

import (
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type createAuctionRequest struct {
	ItemID        string          `json:"item_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CreatedBy     uuid.UUID       `json:"created_by"`
	Whitelist     struct {
		Start           time.Time       `json:"start"`
		End             time.Time       `json:"end"`
		MaxParticipants int             `json:"max_participants"`
		EntryFee        decimal.Decimal `json:"entry_fee"`
	} `json:"whitelist"`
	Bidding struct {
		Start        time.Time        `json:"start"`
		End          time.Time        `json:"end"`
		MinIncrement decimal.Decimal  `json:"min_increment"`
		ReservePrice *decimal.Decimal `json:"reserve_price,omitempty"`
		BuyNowPrice  *decimal.Decimal `json:"buy_now_price,omitempty"`
	} `json:"bidding"`
}

type joinWhitelistRequest struct {
	ParticipantID uuid.UUID `json:"participant_id"`
}

type placeBidRequest struct {
	BidderID uuid.UUID       `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
	Type     domain.BidType  `json:"bid_type"`
	// Queued forces the queue path; otherwise routing is automatic.
	Queued *bool `json:"queued,omitempty"`
}

type validateBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Type   domain.BidType  `json:"bid_type"`
}

type cancelAuctionRequest struct {
	ActorID uuid.UUID `json:"actor_id"`
}

type auctionResponse struct {
	ID                uuid.UUID            `json:"id"`
	ItemID            string               `json:"item_id"`
	Title             string               `json:"title"`
	Description       string               `json:"description,omitempty"`
	Status            domain.AuctionStatus `json:"status"`
	StartingPrice     decimal.Decimal      `json:"starting_price"`
	CurrentHighestBid decimal.Decimal      `json:"current_highest_bid"`
	MinimumNextBid    decimal.Decimal      `json:"minimum_next_bid"`
	CurrentWinner     *uuid.UUID           `json:"current_winner,omitempty"`
	WinningBidID      *uuid.UUID           `json:"winning_bid_id,omitempty"`
	Whitelist         whitelistWindowJSON  `json:"whitelist"`
	Bidding           biddingWindowJSON    `json:"bidding"`
	TotalBids         int                  `json:"total_bids"`
	TotalParticipants int                  `json:"total_participants"`
	CreatedBy         uuid.UUID            `json:"created_by"`
	EndedAt           *time.Time           `json:"ended_at,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}

type whitelistWindowJSON struct {
	Start           time.Time       `json:"start"`
	End             time.Time       `json:"end"`
	MaxParticipants int             `json:"max_participants"`
	EntryFee        decimal.Decimal `json:"entry_fee"`
	IsActive        bool            `json:"is_active"`
}

type biddingWindowJSON struct {
	Start        time.Time        `json:"start"`
	End          time.Time        `json:"end"`
	MinIncrement decimal.Decimal  `json:"min_increment"`
	ReservePrice *decimal.Decimal `json:"reserve_price,omitempty"`
	BuyNowPrice  *decimal.Decimal `json:"buy_now_price,omitempty"`
}

func toAuctionResponse(a *domain.Auction) auctionResponse {
	return auctionResponse{
		ID:                a.ID,
		ItemID:            a.ItemID,
		Title:             a.Title,
		Description:       a.Description,
		Status:            a.Status,
		StartingPrice:     a.StartingPrice,
		CurrentHighestBid: a.CurrentHighestBid,
		MinimumNextBid:    a.MinimumNextBid(),
		CurrentWinner:     a.CurrentWinner,
		WinningBidID:      a.WinningBidID,
		Whitelist: whitelistWindowJSON{
			Start:           a.Whitelist.Start,
			End:             a.Whitelist.End,
			MaxParticipants: a.Whitelist.MaxParticipants,
			EntryFee:        a.Whitelist.EntryFee,
			IsActive:        a.Whitelist.IsActive,
		},
		Bidding: biddingWindowJSON{
			Start:        a.Bidding.Start,
			End:          a.Bidding.End,
			MinIncrement: a.Bidding.MinIncrement,
			ReservePrice: a.Bidding.ReservePrice,
			BuyNowPrice:  a.Bidding.BuyNowPrice,
		},
		TotalBids:         a.TotalBids,
		TotalParticipants: a.TotalParticipants,
		CreatedBy:         a.CreatedBy,
		EndedAt:           a.EndedAt,
		CreatedAt:         a.CreatedAt,
	}
}

type bidResponse struct {
	ID        uuid.UUID          `json:"id"`
	AuctionID uuid.UUID          `json:"auction_id"`
	BidderID  uuid.UUID          `json:"bidder_id"`
	Amount    decimal.Decimal    `json:"amount"`
	Type      domain.BidType     `json:"bid_type"`
	Status    domain.BidStatus   `json:"status"`
	Metadata  domain.BidMetadata `json:"metadata"`
	CreatedAt time.Time          `json:"created_at"`
}

func toBidResponse(b *domain.Bid) bidResponse {
	return bidResponse{
		ID:        b.ID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		Type:      b.Type,
		Status:    b.Status,
		Metadata:  b.Metadata,
		CreatedAt: b.CreatedAt,
	}
}

type whitelistEntryResponse struct {
	ID            uuid.UUID              `json:"id"`
	AuctionID     uuid.UUID              `json:"auction_id"`
	ParticipantID uuid.UUID              `json:"participant_id"`
	EntryFeePaid  decimal.Decimal        `json:"entry_fee_paid"`
	Status        domain.WhitelistStatus `json:"status"`
	JoinedAt      time.Time              `json:"joined_at"`
}

func toWhitelistEntryResponse(e *domain.WhitelistEntry) whitelistEntryResponse {
	return whitelistEntryResponse{
		ID:            e.ID,
		AuctionID:     e.AuctionID,
		ParticipantID: e.ParticipantID,
		EntryFeePaid:  e.EntryFeePaid,
		Status:        e.Status,
		JoinedAt:      e.JoinedAt,
	}
}

type historyResponse struct {
	ID        uuid.UUID            `json:"id"`
	AuctionID uuid.UUID            `json:"auction_id"`
	ActorID   *uuid.UUID           `json:"actor_id,omitempty"`
	Action    domain.HistoryAction `json:"action"`
	Details   map[string]any       `json:"details"`
	Timestamp time.Time            `json:"timestamp"`
}

func toHistoryResponse(e *domain.HistoryEvent) historyResponse {
	return historyResponse{
		ID:        e.ID,
		AuctionID: e.AuctionID,
		ActorID:   e.ActorID,
		Action:    e.Action,
		Details:   e.Details,
		Timestamp: e.Timestamp,
	}
}

type pageResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func mapPage[S, T any](items []S, total, page, limit int, fn func(S) T) pageResponse[T] {
	out := make([]T, 0, len(items))
	for _, it := range items {
		out = append(out, fn(it))
	}
	return pageResponse[T]{Items: out, Total: total, Page: page, Limit: limit}
}

type placeBidResponse struct {
	Queued     bool                 `json:"queued"`
	JobID      *uuid.UUID           `json:"job_id,omitempty"`
	Bid        *bidResponse         `json:"bid,omitempty"`
	IsWinning  bool                 `json:"is_winning"`
	Ended      bool                 `json:"ended"`
	HighestBid *decimal.Decimal     `json:"highest_bid,omitempty"`
	Status     domain.AuctionStatus `json:"auction_status,omitempty"`
}
