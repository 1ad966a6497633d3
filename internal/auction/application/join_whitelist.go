package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JoinWhitelistDTO is the input for a whitelist registration.
type JoinWhitelistDTO struct {
	AuctionID     uuid.UUID
	ParticipantID uuid.UUID
}

// JoinWhitelist registers a participant for an auction. Every non-funds check
// (state, window, duplicate, capacity slot) passes before the entry fee is
// charged, and a failed charge or write gives the slot and the fee back.
func (e *Engine) JoinWhitelist(ctx context.Context, cmd JoinWhitelistDTO) (*domain.WhitelistEntry, error) {
	auction, err := e.loadAuction(ctx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}
	if auction.Status != domain.StatusWhitelistOpen {
		return nil, domain.NewError(domain.KindInvalidState, "whitelist is not open, auction is %s", auction.Status)
	}
	now := e.now()
	if !auction.Whitelist.Contains(now) {
		return nil, domain.NewError(domain.KindWindowNotActive, "outside the whitelist window")
	}

	err = e.call(ctx, func(ctx context.Context) error {
		_, err := e.store.GetWhitelistEntry(ctx, cmd.AuctionID, cmd.ParticipantID)
		return err
	})
	switch {
	case err == nil:
		return nil, domain.ErrAlreadyWhitelisted
	case !errors.Is(err, domain.ErrNotFound):
		return nil, infraErr(err, "failed to check whitelist registration")
	}

	if auction.TotalParticipants >= auction.Whitelist.MaxParticipants {
		return nil, domain.ErrWhitelistFull
	}
	// atomic increment-with-limit, this is what prevents over admission
	if err := e.call(ctx, func(ctx context.Context) error { return e.store.ReserveWhitelistSlot(ctx, cmd.AuctionID) }); err != nil {
		return nil, infraErr(err, "failed to reserve whitelist slot")
	}

	paymentRef, err := e.chargeEntryFee(ctx, auction, cmd.ParticipantID)
	if err != nil {
		e.releaseSlot(ctx, cmd.AuctionID)
		return nil, err
	}

	entry := domain.NewWhitelistEntry(cmd.AuctionID, cmd.ParticipantID, auction.Whitelist.EntryFee, paymentRef, now)
	if err := e.call(ctx, func(ctx context.Context) error { return e.store.InsertWhitelistEntry(ctx, entry) }); err != nil {
		e.releaseSlot(ctx, cmd.AuctionID)
		e.releaseHold(ctx, paymentRef, cmd.AuctionID, "whitelist entry write failed")
		return nil, infraErr(err, "failed to persist whitelist entry")
	}

	log.Info("Participant joined whitelist",
		zap.String("auctionID", cmd.AuctionID.String()),
		zap.String("participantID", cmd.ParticipantID.String()),
		zap.String("entryFee", auction.Whitelist.EntryFee.String()),
	)

	actor := cmd.ParticipantID
	e.recordHistory(ctx, domain.NewHistoryEvent(cmd.AuctionID, &actor, domain.ActionWhitelistJoined, map[string]any{
		"entry_fee":   auction.Whitelist.EntryFee.String(),
		"payment_ref": paymentRef,
	}, now))
	e.notifyParticipant(ctx, cmd.ParticipantID, cmd.AuctionID, domain.EventWhitelistJoined, map[string]any{
		"entry_id": entry.ID.String(),
	})
	e.broadcast(ctx, cmd.AuctionID, domain.EventWhitelistJoined, map[string]any{
		"total_participants": auction.TotalParticipants + 1,
		"max_participants":   auction.Whitelist.MaxParticipants,
	})
	return entry, nil
}

func (e *Engine) chargeEntryFee(ctx context.Context, auction *domain.Auction, participantID uuid.UUID) (string, error) {
	if !auction.Whitelist.EntryFee.IsPositive() {
		return "", nil
	}
	var res domain.LedgerResult
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.ledger.Deduct(ctx, domain.LedgerRequest{
			ParticipantID: participantID,
			Amount:        auction.Whitelist.EntryFee,
			Category:      "auction_whitelist_fee",
			Memo:          fmt.Sprintf("whitelist entry fee for auction %s", auction.ID),
			RefID:         auction.ID.String(),
			RefType:       "auction",
			Metadata:      map[string]string{"item_id": auction.ItemID},
		})
		return err
	})
	if err != nil {
		return "", infraErr(err, "ledger deduct failed")
	}
	if !res.Success {
		log.Warn("JoinWhitelist: entry fee refused by ledger",
			zap.String("auctionID", auction.ID.String()),
			zap.String("participantID", participantID.String()),
			zap.String("code", string(res.Code)),
			zap.String("reason", res.Reason),
		)
		return "", ledgerFailure(res)
	}
	return res.TransactionRef, nil
}

func (e *Engine) releaseSlot(ctx context.Context, auctionID uuid.UUID) {
	if err := e.call(ctx, func(ctx context.Context) error { return e.store.ReleaseWhitelistSlot(ctx, auctionID) }); err != nil {
		log.Error("Failed to release whitelist slot",
			zap.String("auctionID", auctionID.String()),
			zap.Error(err),
		)
	}
}
