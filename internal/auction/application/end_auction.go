package application

import (
	"context"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxStatusAttempts bounds the compare-and-swap loop on the auction status.
const maxStatusAttempts = 5

// EndAuctionResult is the settled outcome of an auction.
type EndAuctionResult struct {
	Auction    *domain.Auction
	Winner     *uuid.UUID
	ReserveMet bool
	// AlreadyEnded is set when the call found the auction ended by someone
	// else and did nothing.
	AlreadyEnded bool
}

// EndAuction closes an auction. It is idempotent and safe to race with the
// lifecycle scheduler: only the caller whose conditional status write
// succeeds settles the winning hold and records the history events.
func (e *Engine) EndAuction(ctx context.Context, auctionID uuid.UUID) (*EndAuctionResult, error) {
	auction, err := e.loadAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	endedAt := e.now()
	inactive := false
	for attempt := 1; ; attempt++ {
		switch auction.Status {
		case domain.StatusEnded:
			log.Info("EndAuction: auction already ended", zap.String("auctionID", auctionID.String()))
			return &EndAuctionResult{
				Auction:      auction,
				Winner:       auction.CurrentWinner,
				ReserveMet:   auction.ReserveMet(),
				AlreadyEnded: true,
			}, nil
		case domain.StatusCancelled:
			return nil, domain.NewError(domain.KindInvalidState, "auction %s was cancelled", auctionID)
		}

		err = e.call(ctx, func(ctx context.Context) error {
			return e.store.UpdateStatus(ctx, domain.StatusChange{
				AuctionID:       auctionID,
				From:            auction.Status,
				To:              domain.StatusEnded,
				WhitelistActive: &inactive,
				EndedAt:         &endedAt,
			})
		})
		if err == nil {
			break
		}
		if domain.KindOf(err) != domain.KindConflict || attempt >= maxStatusAttempts {
			log.Error("EndAuction: failed to update status",
				zap.String("auctionID", auctionID.String()),
				zap.Error(err),
			)
			return nil, infraErr(err, "failed to end auction")
		}
		if auction, err = e.loadAuction(ctx, auctionID); err != nil {
			return nil, err
		}
	}

	// re-read after the status flip, no bid can land any more
	final, err := e.loadAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	res := &EndAuctionResult{Auction: final, ReserveMet: final.ReserveMet()}
	if final.HasWinner() {
		res.Winner = final.CurrentWinner
	}
	e.settle(ctx, final, res)

	log.Info("Auction ended",
		zap.String("auctionID", auctionID.String()),
		zap.String("finalPrice", final.CurrentHighestBid.String()),
		zap.Int("totalBids", final.TotalBids),
		zap.Bool("reserveMet", res.ReserveMet),
		zap.Bool("hasWinner", res.Winner != nil),
	)
	return res, nil
}

// settle captures or releases the winning hold, marks the item and records
// the closing events.
func (e *Engine) settle(ctx context.Context, a *domain.Auction, res *EndAuctionResult) {
	ctx = context.WithoutCancel(ctx)
	now := e.now()
	sold := false

	if res.Winner != nil {
		winningBid := e.winningBid(ctx, a)
		switch {
		case res.ReserveMet:
			if winningBid != nil && winningBid.FundsTransactionRef != "" {
				err := e.call(ctx, func(ctx context.Context) error { return e.ledger.Capture(ctx, winningBid.FundsTransactionRef) })
				if err != nil {
					log.Error("Failed to capture winning hold",
						zap.String("auctionID", a.ID.String()),
						zap.String("transactionRef", winningBid.FundsTransactionRef),
						zap.Error(err),
					)
				}
			}
			sold = true
			winner := *res.Winner
			e.recordHistory(ctx, domain.NewHistoryEvent(a.ID, &winner, domain.ActionAuctionWon, map[string]any{
				"final_price":    a.CurrentHighestBid.String(),
				"winning_bid_id": bidIDString(a.WinningBidID),
			}, now))
			e.notifyParticipant(ctx, winner, a.ID, domain.EventAuctionWon, map[string]any{
				"final_price": a.CurrentHighestBid.String(),
				"item_id":     a.ItemID,
			})
		default:
			if winningBid != nil {
				e.releaseHold(ctx, winningBid.FundsTransactionRef, a.ID, "reserve not met")
			}
			log.Info("Auction ended below reserve",
				zap.String("auctionID", a.ID.String()),
				zap.String("highestBid", a.CurrentHighestBid.String()),
			)
		}
	}

	if sold {
		e.setItemStatus(ctx, a.ItemID, domain.ItemSold)
	} else {
		e.setItemStatus(ctx, a.ItemID, domain.ItemUnsold)
	}

	actor := domain.SystemActorID
	if res.Winner != nil {
		actor = *res.Winner
	}
	e.recordHistory(ctx, domain.NewHistoryEvent(a.ID, &actor, domain.ActionAuctionEnded, map[string]any{
		"final_price": a.CurrentHighestBid.String(),
		"total_bids":  a.TotalBids,
		"reserve_met": res.ReserveMet,
		"sold":        sold,
	}, now))

	payload := map[string]any{
		"final_price": a.CurrentHighestBid.String(),
		"total_bids":  a.TotalBids,
		"sold":        sold,
	}
	if sold {
		payload["winner_id"] = res.Winner.String()
	}
	e.broadcast(ctx, a.ID, domain.EventAuctionEnded, payload)
}

func (e *Engine) winningBid(ctx context.Context, a *domain.Auction) *domain.Bid {
	if a.WinningBidID == nil {
		return nil
	}
	var bid *domain.Bid
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		bid, err = e.store.GetBid(ctx, *a.WinningBidID)
		return err
	})
	if err != nil {
		log.Error("Failed to load winning bid",
			zap.String("auctionID", a.ID.String()),
			zap.String("bidID", a.WinningBidID.String()),
			zap.Error(err),
		)
		return nil
	}
	return bid
}

func bidIDString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// CancelAuction moves a non terminal auction to CANCELLED, then gives back
// the winning hold and every whitelist entry fee.
func (e *Engine) CancelAuction(ctx context.Context, auctionID, actorID uuid.UUID) (*domain.Auction, error) {
	auction, err := e.loadAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	inactive := false
	for attempt := 1; ; attempt++ {
		if auction.Status.IsTerminal() {
			return nil, domain.NewError(domain.KindInvalidState, "auction is already %s", auction.Status)
		}
		err = e.call(ctx, func(ctx context.Context) error {
			return e.store.UpdateStatus(ctx, domain.StatusChange{
				AuctionID:       auctionID,
				From:            auction.Status,
				To:              domain.StatusCancelled,
				WhitelistActive: &inactive,
			})
		})
		if err == nil {
			break
		}
		if domain.KindOf(err) != domain.KindConflict || attempt >= maxStatusAttempts {
			return nil, infraErr(err, "failed to cancel auction")
		}
		if auction, err = e.loadAuction(ctx, auctionID); err != nil {
			return nil, err
		}
	}

	final, err := e.loadAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	bg := context.WithoutCancel(ctx)
	if bid := e.winningBid(bg, final); bid != nil {
		e.releaseHold(bg, bid.FundsTransactionRef, auctionID, "auction cancelled")
	}
	refunded := e.refundEntryFees(bg, auctionID)
	e.setItemStatus(bg, final.ItemID, domain.ItemAvailable)

	actor := actorID
	e.recordHistory(bg, domain.NewHistoryEvent(auctionID, &actor, domain.ActionAuctionCancelled, map[string]any{
		"previous_status":  string(auction.Status),
		"refunded_entries": refunded,
	}, e.now()))
	e.broadcast(bg, auctionID, domain.EventAuctionCancelled, map[string]any{
		"previous_status": string(auction.Status),
	})
	log.Info("Auction cancelled",
		zap.String("auctionID", auctionID.String()),
		zap.String("actorID", actorID.String()),
		zap.String("previousStatus", string(auction.Status)),
	)
	return final, nil
}

func (e *Engine) refundEntryFees(ctx context.Context, auctionID uuid.UUID) int {
	refunded := 0
	for page := 1; ; page++ {
		var entries []*domain.WhitelistEntry
		var total int
		p := domain.Page{Page: page, Limit: domain.MaxPageLimit}
		err := e.call(ctx, func(ctx context.Context) error {
			var err error
			entries, total, err = e.store.ListWhitelist(ctx, auctionID, p)
			return err
		})
		if err != nil {
			log.Error("Failed to list whitelist for refunds",
				zap.String("auctionID", auctionID.String()),
				zap.Error(err),
			)
			return refunded
		}
		for _, entry := range entries {
			if entry.PaymentRef == "" {
				continue
			}
			e.releaseHold(ctx, entry.PaymentRef, auctionID, "auction cancelled")
			refunded++
		}
		if p.Offset()+len(entries) >= total || len(entries) == 0 {
			return refunded
		}
	}
}
