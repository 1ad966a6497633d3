package application

import (
	"context"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateAuctionDTO is the administrative input for a new auction.
type CreateAuctionDTO struct {
	ItemID        string
	Title         string
	Description   string
	StartingPrice decimal.Decimal
	CreatedBy     uuid.UUID
	Whitelist     domain.WhitelistWindow
	Bidding       domain.BiddingWindow
}

// CreateAuction validates the windows, reserves the item and persists the
// auction in DRAFT.
func (e *Engine) CreateAuction(ctx context.Context, cmd CreateAuctionDTO) (*domain.Auction, error) {
	auction, err := domain.NewAuction(domain.NewAuctionParams{
		ItemID:        cmd.ItemID,
		Title:         cmd.Title,
		Description:   cmd.Description,
		StartingPrice: cmd.StartingPrice,
		CreatedBy:     cmd.CreatedBy,
		Whitelist:     cmd.Whitelist,
		Bidding:       cmd.Bidding,
	}, e.now())
	if err != nil {
		return nil, err
	}

	if e.catalog != nil {
		err := e.call(ctx, func(ctx context.Context) error { return e.catalog.ReserveItem(ctx, cmd.ItemID) })
		if err != nil {
			log.Warn("CreateAuction: item could not be reserved",
				zap.String("itemID", cmd.ItemID),
				zap.Error(err),
			)
			return nil, infraErr(err, "failed to reserve item")
		}
	}

	if err := e.call(ctx, func(ctx context.Context) error { return e.store.CreateAuction(ctx, auction) }); err != nil {
		log.Error("CreateAuction: failed to persist auction, releasing item",
			zap.String("itemID", cmd.ItemID),
			zap.Error(err),
		)
		e.setItemStatus(context.WithoutCancel(ctx), cmd.ItemID, domain.ItemAvailable)
		return nil, infraErr(err, "failed to persist auction")
	}

	log.Info("Auction created",
		zap.String("auctionID", auction.ID.String()),
		zap.String("itemID", auction.ItemID),
		zap.String("startingPrice", auction.StartingPrice.String()),
		zap.Time("whitelistStart", auction.Whitelist.Start),
		zap.Time("biddingEnd", auction.Bidding.End),
	)
	return auction, nil
}
