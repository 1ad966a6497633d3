package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// maxWinningAttempts bounds the compare-and-swap loop on the highest bid.
	maxWinningAttempts = 10
	// maxBuyNowEndAttempts bounds the retries of a transient failure while
	// closing an auction that a BUY_NOW bid already won.
	maxBuyNowEndAttempts = 3
	buyNowEndBackoff     = 20 * time.Millisecond
)

// PlaceBidDTO is DTO input for PlaceBid useCase, contains the necesary data to make a bid
type PlaceBidDTO struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    decimal.Decimal
	Type      domain.BidType
	Metadata  domain.BidMetadata
}

// PlaceBidResult describes what a bid did to the auction.
type PlaceBidResult struct {
	Bid     *domain.Bid
	Auction *domain.Auction
	// IsWinning is false when the bid was persisted but a concurrent higher
	// bid landed first.
	IsWinning bool
	// Outbid is the bid this one displaced, if any.
	Outbid *domain.Bid
	// Ended is set when a BUY_NOW bid closed the auction.
	Ended bool
}

// PlaceBid validates a bid, holds the funds, persists the bid and tries to
// make it the auction's highest bid with a conditional update.
func (e *Engine) PlaceBid(ctx context.Context, cmd PlaceBidDTO) (*PlaceBidResult, error) {
	if cmd.Type == "" {
		cmd.Type = domain.BidTypeRegular
	}
	log.Info("Executing PlaceBid",
		zap.String("auctionID", cmd.AuctionID.String()),
		zap.String("bidderID", cmd.BidderID.String()),
		zap.String("amount", cmd.Amount.String()),
		zap.String("type", string(cmd.Type)),
	)
	if !cmd.Type.Valid() {
		return nil, domain.NewError(domain.KindInvalidInput, "unknown bid type %q", cmd.Type)
	}

	// 1. preconditions, each one with its own failure kind
	auction, err := e.loadAuction(ctx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}
	if err := e.checkBiddable(ctx, auction, cmd.BidderID); err != nil {
		log.Warn("PlaceBid: bid rejected",
			zap.String("auctionID", cmd.AuctionID.String()),
			zap.String("bidderID", cmd.BidderID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	if err := validateAgainst(auction, cmd.Amount, cmd.Type); err != nil {
		log.Warn("PlaceBid: bid amount rejected",
			zap.String("auctionID", cmd.AuctionID.String()),
			zap.String("bidderID", cmd.BidderID.String()),
			zap.String("amount", cmd.Amount.String()),
			zap.String("currentHighest", auction.CurrentHighestBid.String()),
			zap.Error(err),
		)
		return nil, err
	}

	// 2. hold funds before any bid record is written
	holdRef, err := e.holdFunds(ctx, auction, cmd)
	if err != nil {
		return nil, err
	}

	// 3. persist the bid, compensating the hold if the write fails
	now := e.now()
	bid := domain.NewBid(cmd.AuctionID, cmd.BidderID, cmd.Amount, cmd.Type, holdRef, cmd.Metadata, now)
	if err := e.call(ctx, func(ctx context.Context) error { return e.store.InsertBid(ctx, bid) }); err != nil {
		log.Error("PlaceBid: failed to save new bid, releasing hold",
			zap.String("auctionID", cmd.AuctionID.String()),
			zap.String("bidID", bid.ID.String()),
			zap.Error(err),
		)
		e.releaseHold(context.WithoutCancel(ctx), holdRef, cmd.AuctionID, "bid write failed")
		return nil, infraErr(err, "failed to save bid")
	}

	// 4. try to become the highest bid
	result := &PlaceBidResult{Bid: bid}
	previous, won, err := e.applyWinningBid(ctx, auction, bid)
	if !won {
		// the bid stays CONFIRMED as part of the audit trail, its hold goes back
		e.releaseHold(context.WithoutCancel(ctx), holdRef, cmd.AuctionID, "bid did not become the highest")
		if err == nil {
			err = domain.NewError(domain.KindConflict, "a concurrent higher bid landed first")
		}
		log.Warn("PlaceBid: bid persisted but not winning",
			zap.String("auctionID", cmd.AuctionID.String()),
			zap.String("bidID", bid.ID.String()),
			zap.Error(err),
		)
		result.Auction, _ = e.loadAuction(ctx, cmd.AuctionID)
		return result, err
	}
	result.IsWinning = true
	result.Outbid = previous

	e.afterWinningBid(ctx, bid, previous)

	// 5. buy now short-circuits the auction. From here on the bid is
	// committed, so failures are logged and never returned.
	if bid.Type == domain.BidTypeBuyNow {
		ended, err := e.endAfterBuyNow(context.WithoutCancel(ctx), cmd.AuctionID)
		if err == nil {
			result.Ended = true
			result.Auction = ended.Auction
			return result, nil
		}
		// the auction stays closed to new bids, the next bid attempt or the
		// scheduler finishes the end
		log.Error("PlaceBid: buy now bid accepted but ending the auction failed",
			zap.String("auctionID", cmd.AuctionID.String()),
			zap.String("bidID", bid.ID.String()),
			zap.Error(err),
		)
	}

	result.Auction, err = e.loadAuction(ctx, cmd.AuctionID)
	if err != nil {
		log.Warn("PlaceBid: failed to reload auction after winning bid",
			zap.String("auctionID", cmd.AuctionID.String()),
			zap.String("bidID", bid.ID.String()),
			zap.Error(err),
		)
		result.Auction = withWinningBid(auction, bid)
	}
	log.Info("Bid placed successfully",
		zap.String("auctionID", cmd.AuctionID.String()),
		zap.String("bidID", bid.ID.String()),
		zap.String("bidderID", cmd.BidderID.String()),
		zap.String("amount", cmd.Amount.String()),
	)
	return result, nil
}

// checkBiddable runs the state, window and whitelist preconditions.
func (e *Engine) checkBiddable(ctx context.Context, auction *domain.Auction, bidderID uuid.UUID) error {
	if auction.Status != domain.StatusActive {
		return domain.NewError(domain.KindInvalidState, "auction is not active, status is %s", auction.Status)
	}
	if err := e.checkNotBoughtNow(ctx, auction); err != nil {
		return err
	}
	if !auction.Bidding.Contains(e.now()) {
		return domain.NewError(domain.KindWindowNotActive, "outside the bidding window")
	}
	var entry *domain.WhitelistEntry
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		entry, err = e.store.GetWhitelistEntry(ctx, auction.ID, bidderID)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotWhitelisted
		}
		return infraErr(err, "failed to check whitelist registration")
	}
	if !entry.IsConfirmed() {
		return domain.ErrNotWhitelisted
	}
	if auction.IsHighestBidder(bidderID) {
		return domain.ErrSelfOutbid
	}
	return nil
}

// boughtNow reports whether the auction's winning bid is a BUY_NOW bid. A
// BUY_NOW bid only lands at exactly the buy now price, so the bid record is
// only read when the highest bid sits there.
func (e *Engine) boughtNow(ctx context.Context, auction *domain.Auction) (bool, error) {
	price := auction.Bidding.BuyNowPrice
	if price == nil || auction.WinningBidID == nil || !auction.CurrentHighestBid.Equal(*price) {
		return false, nil
	}
	var winning *domain.Bid
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		winning, err = e.store.GetBid(ctx, *auction.WinningBidID)
		return err
	})
	if err != nil {
		return false, infraErr(err, "failed to load winning bid")
	}
	return winning.Type == domain.BidTypeBuyNow, nil
}

// checkNotBoughtNow refuses bids on an active auction a BUY_NOW bid already
// won, and finishes ending it.
func (e *Engine) checkNotBoughtNow(ctx context.Context, auction *domain.Auction) error {
	bought, err := e.boughtNow(ctx, auction)
	if err != nil {
		return err
	}
	if !bought {
		return nil
	}
	if _, err := e.EndAuction(context.WithoutCancel(ctx), auction.ID); err != nil {
		log.Error("Failed to end auction won by buy now",
			zap.String("auctionID", auction.ID.String()),
			zap.Error(err),
		)
	}
	return domain.NewError(domain.KindInvalidState, "auction was won by a buy now bid")
}

// endAfterBuyNow ends the auction, retrying transient failures.
func (e *Engine) endAfterBuyNow(ctx context.Context, auctionID uuid.UUID) (*EndAuctionResult, error) {
	var err error
	for attempt := 1; attempt <= maxBuyNowEndAttempts; attempt++ {
		var res *EndAuctionResult
		if res, err = e.EndAuction(ctx, auctionID); err == nil {
			return res, nil
		}
		if !domain.IsTransient(err) {
			return nil, err
		}
		log.Warn("PlaceBid: ending auction after buy now failed, retrying",
			zap.String("auctionID", auctionID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		time.Sleep(time.Duration(attempt) * buyNowEndBackoff)
	}
	return nil, err
}

// withWinningBid returns a copy of a with bid applied as its highest bid.
func withWinningBid(a *domain.Auction, bid *domain.Bid) *domain.Auction {
	c := a.Clone()
	winner, bidID := bid.BidderID, bid.ID
	c.CurrentHighestBid = bid.Amount
	c.CurrentWinner = &winner
	c.WinningBidID = &bidID
	c.TotalBids++
	return c
}

// validateAgainst checks the amount rules, and refuses buy now once regular
// bidding has already reached the buy now price.
func validateAgainst(auction *domain.Auction, amount decimal.Decimal, bidType domain.BidType) error {
	if err := auction.ValidateBidAmount(amount, bidType); err != nil {
		return err
	}
	if bidType == domain.BidTypeBuyNow && !amount.GreaterThan(auction.CurrentHighestBid) {
		return domain.NewError(domain.KindBuyNowMismatch, "buy now is no longer available, current bid is %s", auction.CurrentHighestBid)
	}
	return nil
}

func (e *Engine) holdFunds(ctx context.Context, auction *domain.Auction, cmd PlaceBidDTO) (string, error) {
	var res domain.LedgerResult
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.ledger.Hold(ctx, domain.LedgerRequest{
			ParticipantID: cmd.BidderID,
			Amount:        cmd.Amount,
			Category:      "auction_bid",
			Memo:          fmt.Sprintf("%s bid on auction %s", cmd.Type, auction.ID),
			RefID:         auction.ID.String(),
			RefType:       "auction",
			Metadata: map[string]string{
				"item_id":  auction.ItemID,
				"bid_type": string(cmd.Type),
				"source":   cmd.Metadata.Source,
			},
		})
		return err
	})
	if err != nil {
		log.Error("PlaceBid: ledger hold failed",
			zap.String("auctionID", auction.ID.String()),
			zap.String("bidderID", cmd.BidderID.String()),
			zap.Error(err),
		)
		return "", infraErr(err, "ledger hold failed")
	}
	if !res.Success {
		log.Warn("PlaceBid: ledger refused hold",
			zap.String("auctionID", auction.ID.String()),
			zap.String("bidderID", cmd.BidderID.String()),
			zap.String("code", string(res.Code)),
			zap.String("reason", res.Reason),
		)
		return "", ledgerFailure(res)
	}
	return res.TransactionRef, nil
}

// applyWinningBid runs the compare-and-swap loop. A conflict re-reads the
// auction and retries for as long as the bid still beats the stored highest
// bid, so concurrent bids end up ordered by amount rather than arrival.
func (e *Engine) applyWinningBid(ctx context.Context, auction *domain.Auction, bid *domain.Bid) (*domain.Bid, bool, error) {
	expected := auction.CurrentHighestBid
	for attempt := 1; attempt <= maxWinningAttempts; attempt++ {
		if !bid.Amount.GreaterThan(expected) {
			return nil, false, domain.NewError(domain.KindConflict,
				"bid of %s no longer exceeds the highest bid %s", bid.Amount, expected)
		}
		var previous *domain.Bid
		err := e.call(ctx, func(ctx context.Context) error {
			var err error
			previous, err = e.store.ApplyWinningBid(ctx, domain.WinningBidUpdate{
				AuctionID:       auction.ID,
				ExpectedHighest: expected,
				Bid:             bid,
			})
			return err
		})
		if err == nil {
			bid.Status = domain.BidStatusWinning
			return previous, true, nil
		}
		if domain.KindOf(err) != domain.KindConflict {
			return nil, false, infraErr(err, "failed to update highest bid")
		}

		log.Debug("PlaceBid: highest bid moved, re-reading auction",
			zap.String("auctionID", auction.ID.String()),
			zap.String("bidID", bid.ID.String()),
			zap.Int("attempt", attempt),
		)
		fresh, err := e.loadAuction(ctx, auction.ID)
		if err != nil {
			return nil, false, err
		}
		if fresh.Status != domain.StatusActive {
			return nil, false, domain.NewError(domain.KindInvalidState, "auction is no longer active, status is %s", fresh.Status)
		}
		if fresh.IsHighestBidder(bid.BidderID) {
			return nil, false, domain.ErrSelfOutbid
		}
		if bought, err := e.boughtNow(ctx, fresh); err != nil || bought {
			if err == nil {
				err = domain.NewError(domain.KindInvalidState, "auction was won by a buy now bid")
			}
			return nil, false, err
		}
		expected = fresh.CurrentHighestBid
	}
	return nil, false, domain.NewError(domain.KindConflict, "too many concurrent updates on auction %s", auction.ID)
}

// afterWinningBid runs the side effects of a new highest bid. None of them
// can fail the bid.
func (e *Engine) afterWinningBid(ctx context.Context, bid *domain.Bid, previous *domain.Bid) {
	now := e.now()
	if previous != nil {
		e.releaseHold(context.WithoutCancel(ctx), previous.FundsTransactionRef, bid.AuctionID, "bid outbid")
		prevActor := previous.BidderID
		e.recordHistory(ctx, domain.NewHistoryEvent(bid.AuctionID, &prevActor, domain.ActionBidOutbid, map[string]any{
			"bid_id":        previous.ID.String(),
			"amount":        previous.Amount.String(),
			"outbid_by":     bid.ID.String(),
			"outbid_amount": bid.Amount.String(),
		}, now))
		if previous.BidderID != bid.BidderID {
			e.notifyParticipant(ctx, previous.BidderID, bid.AuctionID, domain.EventOutbid, map[string]any{
				"bid_id":      previous.ID.String(),
				"your_amount": previous.Amount.String(),
				"new_amount":  bid.Amount.String(),
			})
		}
	}

	actor := bid.BidderID
	e.recordHistory(ctx, domain.NewHistoryEvent(bid.AuctionID, &actor, domain.ActionBidPlaced, map[string]any{
		"bid_id": bid.ID.String(),
		"amount": bid.Amount.String(),
		"type":   string(bid.Type),
		"source": bid.Metadata.Source,
	}, now))
	e.broadcast(ctx, bid.AuctionID, domain.EventBidPlaced, map[string]any{
		"bid_id":    bid.ID.String(),
		"bidder_id": bid.BidderID.String(),
		"amount":    bid.Amount.String(),
		"type":      string(bid.Type),
	})
}
