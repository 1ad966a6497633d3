package application

import (
	"context"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"go.uber.org/zap"
)

var transitionEffects = map[domain.AuctionStatus]struct {
	action domain.HistoryAction
	event  domain.EventType
}{
	domain.StatusWhitelistOpen:   {domain.ActionWhitelistOpened, domain.EventWhitelistOpened},
	domain.StatusWhitelistClosed: {domain.ActionWhitelistClosed, domain.EventWhitelistClosed},
	domain.StatusActive:          {domain.ActionAuctionStarted, domain.EventAuctionStarted},
}

// CompleteTransition runs the side effects of a timed status change the
// scheduler already wrote: the item mark, the history event and the room
// notification. The AUCTION_ACTIVE -> ENDED move goes through EndAuction
// instead.
func (e *Engine) CompleteTransition(ctx context.Context, a *domain.Auction, from, to domain.AuctionStatus) {
	effects, ok := transitionEffects[to]
	if !ok {
		log.Warn("CompleteTransition: no side effects for status",
			zap.String("auctionID", a.ID.String()),
			zap.String("to", string(to)),
		)
		return
	}
	if to == domain.StatusActive {
		e.setItemStatus(ctx, a.ItemID, domain.ItemInAuction)
	}

	details := map[string]any{"from": string(from), "to": string(to)}
	payload := map[string]any{"status": string(to)}
	switch to {
	case domain.StatusWhitelistOpen:
		payload["closes_at"] = a.Whitelist.End
		payload["max_participants"] = a.Whitelist.MaxParticipants
		payload["entry_fee"] = a.Whitelist.EntryFee.String()
	case domain.StatusWhitelistClosed:
		details["total_participants"] = a.TotalParticipants
		payload["total_participants"] = a.TotalParticipants
	case domain.StatusActive:
		payload["ends_at"] = a.Bidding.End
		payload["starting_price"] = a.StartingPrice.String()
		payload["min_increment"] = a.Bidding.MinIncrement.String()
	}

	e.recordHistory(ctx, domain.NewHistoryEvent(a.ID, nil, effects.action, details, e.now()))
	e.broadcast(ctx, a.ID, effects.event, payload)
}

// NotifyEndingSoon warns the auction room that bidding closes in remaining.
func (e *Engine) NotifyEndingSoon(ctx context.Context, a *domain.Auction, remaining time.Duration) {
	e.broadcast(ctx, a.ID, domain.EventAuctionEndingSoon, map[string]any{
		"minutes_remaining":   int(remaining.Round(time.Minute) / time.Minute),
		"ends_at":             a.Bidding.End,
		"current_highest_bid": a.CurrentHighestBid.String(),
	})
}
