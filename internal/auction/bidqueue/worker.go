package bidqueue

import (
	"context"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/application"
	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BidPlacer is the engine surface the worker drives.
type BidPlacer interface {
	PlaceBid(ctx context.Context, cmd application.PlaceBidDTO) (*application.PlaceBidResult, error)
	ValidateBidAmount(ctx context.Context, auctionID uuid.UUID, amount decimal.Decimal, bidType domain.BidType) error
}

// PermissionChecker is the access guard surface the worker drives.
type PermissionChecker interface {
	ValidateBidPermission(ctx context.Context, auctionID, bidderID uuid.UUID) error
	CheckBalance(ctx context.Context, participantID uuid.UUID, amount decimal.Decimal) error
}

// Processor runs one bid job attempt.
type Processor struct {
	placer          BidPlacer
	guard           PermissionChecker
	conflictRetries int
	conflictBackoff time.Duration
}

func NewProcessor(placer BidPlacer, guard PermissionChecker, conflictRetries int, conflictBackoff time.Duration) *Processor {
	if conflictRetries <= 0 {
		conflictRetries = 3
	}
	return &Processor{
		placer:          placer,
		guard:           guard,
		conflictRetries: conflictRetries,
		conflictBackoff: conflictBackoff,
	}
}

// Process checks permission, amount and funds, then places the bid. A
// conflict waits a linear backoff and re-validates the amount against the
// fresh auction before trying again; a failed re-validation is final.
// It returns how many conflict retries were spent.
func (p *Processor) Process(ctx context.Context, bid application.PlaceBidDTO) (*JobResult, int, error) {
	if err := p.guard.ValidateBidPermission(ctx, bid.AuctionID, bid.BidderID); err != nil {
		return nil, 0, err
	}
	if err := p.placer.ValidateBidAmount(ctx, bid.AuctionID, bid.Amount, bid.Type); err != nil {
		return nil, 0, err
	}
	if err := p.guard.CheckBalance(ctx, bid.BidderID, bid.Amount); err != nil {
		return nil, 0, err
	}

	for attempt := 1; ; attempt++ {
		res, err := p.placer.PlaceBid(ctx, bid)
		if err == nil {
			return toJobResult(res), attempt - 1, nil
		}
		if !domain.IsConflict(err) || attempt >= p.conflictRetries {
			return toJobResult(res), attempt - 1, err
		}

		backoff := time.Duration(attempt) * p.conflictBackoff
		log.Debug("Bid conflicted, backing off",
			zap.String("auctionID", bid.AuctionID.String()),
			zap.String("bidderID", bid.BidderID.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := sleep(ctx, backoff); err != nil {
			return nil, attempt, domain.WrapError(domain.KindTransient, err, "bid job interrupted")
		}
		if err := p.placer.ValidateBidAmount(ctx, bid.AuctionID, bid.Amount, bid.Type); err != nil {
			log.Info("Bid no longer valid after conflict",
				zap.String("auctionID", bid.AuctionID.String()),
				zap.String("amount", bid.Amount.String()),
				zap.Error(err),
			)
			return nil, attempt, err
		}
	}
}

func toJobResult(res *application.PlaceBidResult) *JobResult {
	if res == nil || res.Bid == nil {
		return nil
	}
	out := &JobResult{
		BidID:     res.Bid.ID,
		IsWinning: res.IsWinning,
		Ended:     res.Ended,
	}
	if res.Auction != nil {
		out.AuctionStatus = res.Auction.Status
		out.HighestBid = res.Auction.CurrentHighestBid
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
