package application

import (
	"context"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// recentBidsInState is how many bids GetAuctionState returns.
const recentBidsInState = 10

// AuctionStateDTO is the live view of an auction sent to clients when they
// join the room.
type AuctionStateDTO struct {
	AuctionID         uuid.UUID            `json:"auction_id"`
	ItemID            string               `json:"item_id"`
	Title             string               `json:"title"`
	Status            domain.AuctionStatus `json:"status"`
	StartingPrice     decimal.Decimal      `json:"starting_price"`
	CurrentHighestBid decimal.Decimal      `json:"current_highest_bid"`
	MinimumNextBid    decimal.Decimal      `json:"minimum_next_bid"`
	BuyNowPrice       *decimal.Decimal     `json:"buy_now_price,omitempty"`
	ReserveMet        bool                 `json:"reserve_met"`
	CurrentWinner     *uuid.UUID           `json:"current_winner,omitempty"`
	TotalBids         int                  `json:"total_bids"`
	TotalParticipants int                  `json:"total_participants"`
	MaxParticipants   int                  `json:"max_participants"`
	BiddingStart      time.Time            `json:"bidding_start"`
	BiddingEnd        time.Time            `json:"bidding_end"`
	TimeRemaining     time.Duration        `json:"time_remaining"`
	RecentBids        []*domain.Bid        `json:"recent_bids"`
}

func (e *Engine) GetAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error) {
	return e.loadAuction(ctx, auctionID)
}

// GetAuctionState builds the live state of an auction with its latest bids.
func (e *Engine) GetAuctionState(ctx context.Context, auctionID uuid.UUID) (*AuctionStateDTO, error) {
	a, err := e.loadAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	bids, err := e.ListBids(ctx, domain.BidFilter{
		AuctionID: &auctionID,
		Page:      domain.Page{Page: 1, Limit: recentBidsInState},
	})
	if err != nil {
		log.Error("GetAuctionState: failed to load recent bids",
			zap.String("auctionID", auctionID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	remaining := a.TimeToEnd(e.now())
	if remaining < 0 || a.Status.IsTerminal() {
		remaining = 0
	}
	state := &AuctionStateDTO{
		AuctionID:         a.ID,
		ItemID:            a.ItemID,
		Title:             a.Title,
		Status:            a.Status,
		StartingPrice:     a.StartingPrice,
		CurrentHighestBid: a.CurrentHighestBid,
		MinimumNextBid:    a.MinimumNextBid(),
		BuyNowPrice:       a.Bidding.BuyNowPrice,
		ReserveMet:        a.ReserveMet(),
		TotalBids:         a.TotalBids,
		TotalParticipants: a.TotalParticipants,
		MaxParticipants:   a.Whitelist.MaxParticipants,
		BiddingStart:      a.Bidding.Start,
		BiddingEnd:        a.Bidding.End,
		TimeRemaining:     remaining,
		RecentBids:        bids.Items,
	}
	if a.HasWinner() {
		state.CurrentWinner = a.CurrentWinner
	}
	return state, nil
}

func (e *Engine) ListAuctions(ctx context.Context, f domain.AuctionFilter) (*PageResult[*domain.Auction], error) {
	var (
		items []*domain.Auction
		total int
	)
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		items, total, err = e.store.FindAuctions(ctx, f)
		return err
	})
	if err != nil {
		return nil, infraErr(err, "failed to list auctions")
	}
	return newPageResult(items, total, f.Page), nil
}

func (e *Engine) ListBids(ctx context.Context, f domain.BidFilter) (*PageResult[*domain.Bid], error) {
	var (
		items []*domain.Bid
		total int
	)
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		items, total, err = e.store.FindBids(ctx, f)
		return err
	})
	if err != nil {
		return nil, infraErr(err, "failed to list bids")
	}
	return newPageResult(items, total, f.Page), nil
}

// GetHistory returns audit events newest first.
func (e *Engine) GetHistory(ctx context.Context, f domain.HistoryFilter) (*PageResult[*domain.HistoryEvent], error) {
	var (
		items []*domain.HistoryEvent
		total int
	)
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		items, total, err = e.store.FindHistory(ctx, f)
		return err
	})
	if err != nil {
		return nil, infraErr(err, "failed to load history")
	}
	return newPageResult(items, total, f.Page), nil
}

func (e *Engine) GetWhitelistEntry(ctx context.Context, auctionID, participantID uuid.UUID) (*domain.WhitelistEntry, error) {
	var entry *domain.WhitelistEntry
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		entry, err = e.store.GetWhitelistEntry(ctx, auctionID, participantID)
		return err
	})
	if err != nil {
		return nil, infraErr(err, "failed to load whitelist entry")
	}
	return entry, nil
}

// ShouldUseQueue routes busy or closing auctions through the bid queue: true
// when the auction ends within the routing window or already has more bids
// than the routing threshold.
func (e *Engine) ShouldUseQueue(ctx context.Context, auctionID uuid.UUID) (bool, error) {
	a, err := e.loadAuction(ctx, auctionID)
	if err != nil {
		return false, err
	}
	if a.TimeToEnd(e.now()) <= e.opts.QueueRoutingWindow {
		return true, nil
	}
	return a.TotalBids > e.opts.QueueRoutingBids, nil
}

// ValidateBidAmount checks an amount against the current auction state
// without placing anything. The bid queue uses it to re-validate after a
// conflict.
func (e *Engine) ValidateBidAmount(ctx context.Context, auctionID uuid.UUID, amount decimal.Decimal, bidType domain.BidType) error {
	a, err := e.loadAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if a.Status != domain.StatusActive {
		return domain.NewError(domain.KindInvalidState, "auction is not active, status is %s", a.Status)
	}
	return validateAgainst(a, amount, bidType)
}
