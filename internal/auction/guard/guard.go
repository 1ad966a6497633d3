// Package guard checks whether a participant may bid on an auction and
// rate limits bid and connection attempts.
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/shared/logger"
	"github.com/cristianortiz/timedAuction/internal/shared/ratelimit"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Reader is the store surface the guard needs.
type Reader interface {
	GetAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error)
	GetWhitelistEntry(ctx context.Context, auctionID, participantID uuid.UUID) (*domain.WhitelistEntry, error)
}

// BalanceReader is the ledger surface the guard needs.
type BalanceReader interface {
	Balance(ctx context.Context, participantID uuid.UUID) (decimal.Decimal, error)
}

// Guard is the Access/Rate Guard.
type Guard struct {
	store       Reader
	ledger      BalanceReader
	bids        ratelimit.Limiter
	connections ratelimit.Limiter
	clock       domain.Clock
}

func New(store Reader, ledger BalanceReader, bids, connections ratelimit.Limiter, clock domain.Clock) *Guard {
	if clock == nil {
		clock = time.Now
	}
	return &Guard{store: store, ledger: ledger, bids: bids, connections: connections, clock: clock}
}

// CheckAccess reports whether participantID may see and act on the auction:
// DRAFT and CANCELLED auctions are closed to everyone, and once the whitelist
// has closed only whitelisted participants get in.
func (g *Guard) CheckAccess(ctx context.Context, auctionID, participantID uuid.UUID) (*domain.Auction, error) {
	a, err := g.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, classify(err, "failed to load auction")
	}
	switch a.Status {
	case domain.StatusDraft, domain.StatusCancelled:
		return nil, domain.NewError(domain.KindInvalidState, "auction is %s", a.Status)
	case domain.StatusWhitelistClosed, domain.StatusActive:
		if err := g.requireWhitelisted(ctx, auctionID, participantID); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// ValidateBidPermission checks access, the bidding state and window, and
// that the bidder is not already the highest bidder.
func (g *Guard) ValidateBidPermission(ctx context.Context, auctionID, bidderID uuid.UUID) error {
	a, err := g.CheckAccess(ctx, auctionID, bidderID)
	if err != nil {
		return err
	}
	if a.Status != domain.StatusActive {
		return domain.NewError(domain.KindInvalidState, "auction is not active, status is %s", a.Status)
	}
	if !a.Bidding.Contains(g.clock()) {
		return domain.NewError(domain.KindWindowNotActive, "outside the bidding window")
	}
	if a.IsHighestBidder(bidderID) {
		return domain.ErrSelfOutbid
	}
	return nil
}

func (g *Guard) requireWhitelisted(ctx context.Context, auctionID, participantID uuid.UUID) error {
	entry, err := g.store.GetWhitelistEntry(ctx, auctionID, participantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotWhitelisted
		}
		return classify(err, "failed to check whitelist registration")
	}
	if !entry.IsConfirmed() {
		return domain.ErrNotWhitelisted
	}
	return nil
}

// CheckBalance fails with InsufficientFunds when the available balance does
// not cover amount.
func (g *Guard) CheckBalance(ctx context.Context, participantID uuid.UUID, amount decimal.Decimal) error {
	balance, err := g.ledger.Balance(ctx, participantID)
	if err != nil {
		return classify(err, "failed to read balance")
	}
	if balance.LessThan(amount) {
		return domain.NewError(domain.KindInsufficientFunds, "insufficient balance: %s available, %s required", balance, amount)
	}
	return nil
}

// AllowBid counts a bid attempt of participantID.
func (g *Guard) AllowBid(ctx context.Context, participantID uuid.UUID) error {
	return g.allow(ctx, g.bids, "bid:"+participantID.String())
}

// AllowConnection counts a connection attempt from origin, usually an IP.
func (g *Guard) AllowConnection(ctx context.Context, origin string) error {
	return g.allow(ctx, g.connections, "conn:"+origin)
}

// allow fails open when the limiter itself is unavailable.
func (g *Guard) allow(ctx context.Context, l ratelimit.Limiter, key string) error {
	if l == nil {
		return nil
	}
	d, err := l.Allow(ctx, key)
	if err != nil {
		log.Warn("Rate limiter unavailable, allowing attempt", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !d.Allowed {
		log.Warn("Rate limit exceeded",
			zap.String("key", key),
			zap.Int("count", d.Count),
			zap.Time("resetAt", d.ResetAt),
		)
		return domain.NewError(domain.KindRateLimited, "rate limit exceeded, retry after %s", d.ResetAt.Format(time.RFC3339))
	}
	return nil
}

func classify(err error, reason string) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.WrapError(domain.KindTransient, err, reason)
}
