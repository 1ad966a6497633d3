package application

import (
	"context"
	"errors"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/shared/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// AuctionService defines application interface layer of auction module
// exposes uses cases to external layer, aka infra
type AuctionService interface {
	CreateAuction(ctx context.Context, cmd CreateAuctionDTO) (*domain.Auction, error)
	JoinWhitelist(ctx context.Context, cmd JoinWhitelistDTO) (*domain.WhitelistEntry, error)
	PlaceBid(ctx context.Context, cmd PlaceBidDTO) (*PlaceBidResult, error)
	EndAuction(ctx context.Context, auctionID uuid.UUID) (*EndAuctionResult, error)
	CancelAuction(ctx context.Context, auctionID, actorID uuid.UUID) (*domain.Auction, error)
	ShouldUseQueue(ctx context.Context, auctionID uuid.UUID) (bool, error)
	ValidateBidAmount(ctx context.Context, auctionID uuid.UUID, amount decimal.Decimal, bidType domain.BidType) error

	GetAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error)
	GetAuctionState(ctx context.Context, auctionID uuid.UUID) (*AuctionStateDTO, error)
	ListAuctions(ctx context.Context, f domain.AuctionFilter) (*PageResult[*domain.Auction], error)
	ListBids(ctx context.Context, f domain.BidFilter) (*PageResult[*domain.Bid], error)
	GetHistory(ctx context.Context, f domain.HistoryFilter) (*PageResult[*domain.HistoryEvent], error)
	GetWhitelistEntry(ctx context.Context, auctionID, participantID uuid.UUID) (*domain.WhitelistEntry, error)
}

// PageResult is a page of a listing plus the total match count.
type PageResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func newPageResult[T any](items []T, total int, p domain.Page) *PageResult[T] {
	p = p.Normalize()
	if items == nil {
		items = []T{}
	}
	return &PageResult[T]{Items: items, Total: total, Page: p.Page, Limit: p.Limit}
}

// Options tunes the Engine.
type Options struct {
	// CallTimeout bounds each ledger and store call.
	CallTimeout time.Duration
	// QueueRoutingWindow and QueueRoutingBids drive ShouldUseQueue.
	QueueRoutingWindow time.Duration
	QueueRoutingBids   int
	Clock              domain.Clock
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 5 * time.Second
	}
	if o.QueueRoutingWindow <= 0 {
		o.QueueRoutingWindow = 30 * time.Minute
	}
	if o.QueueRoutingBids <= 0 {
		o.QueueRoutingBids = 50
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Engine is the concrete AuctionService. It is the only writer of auction,
// bid, whitelist and history records besides the lifecycle status changes.
type Engine struct {
	store    domain.Store
	ledger   domain.Ledger
	catalog  domain.ItemCatalog
	notifier domain.Notifier
	opts     Options
}

var _ AuctionService = (*Engine)(nil)

// NewEngine creates the engine, dependencies are received through injection
func NewEngine(store domain.Store, ledger domain.Ledger, catalog domain.ItemCatalog, notifier domain.Notifier, opts Options) *Engine {
	return &Engine{
		store:    store,
		ledger:   ledger,
		catalog:  catalog,
		notifier: notifier,
		opts:     opts.withDefaults(),
	}
}

func (e *Engine) now() time.Time { return e.opts.Clock() }

// call runs fn with a bounded timeout derived from ctx.
func (e *Engine) call(ctx context.Context, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return fn(cctx)
}

// infraErr keeps typed errors as they are and classifies anything else
// coming out of a collaborator as transient.
func infraErr(err error, reason string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.WrapError(domain.KindTransient, err, reason)
}

func (e *Engine) loadAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	var a *domain.Auction
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		a, err = e.store.GetAuction(ctx, id)
		return err
	})
	if err != nil {
		return nil, infraErr(err, "failed to load auction")
	}
	return a, nil
}

// recordHistory appends an audit event. Failures never reach the caller.
func (e *Engine) recordHistory(ctx context.Context, ev *domain.HistoryEvent) {
	err := e.call(ctx, func(ctx context.Context) error { return e.store.AppendHistory(ctx, ev) })
	if err != nil {
		log.Warn("Failed to append history event",
			zap.String("auctionID", ev.AuctionID.String()),
			zap.String("action", string(ev.Action)),
			zap.Error(err),
		)
	}
}

func (e *Engine) broadcast(ctx context.Context, auctionID uuid.UUID, t domain.EventType, payload map[string]any) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.BroadcastToAuction(ctx, auctionID, domain.NewEvent(t, auctionID, payload, e.now())); err != nil {
		log.Warn("Failed to broadcast auction event",
			zap.String("auctionID", auctionID.String()),
			zap.String("event", string(t)),
			zap.Error(err),
		)
	}
}

func (e *Engine) notifyParticipant(ctx context.Context, participantID, auctionID uuid.UUID, t domain.EventType, payload map[string]any) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyParticipant(ctx, participantID, domain.NewEvent(t, auctionID, payload, e.now())); err != nil {
		log.Warn("Failed to notify participant",
			zap.String("participantID", participantID.String()),
			zap.String("auctionID", auctionID.String()),
			zap.String("event", string(t)),
			zap.Error(err),
		)
	}
}

// releaseHold gives a bid's held funds back. Failures are logged, the hold
// ref stays on the bid record for reconciliation.
func (e *Engine) releaseHold(ctx context.Context, ref string, auctionID uuid.UUID, why string) {
	if ref == "" {
		return
	}
	err := e.call(ctx, func(ctx context.Context) error { return e.ledger.Release(ctx, ref) })
	if err != nil {
		log.Error("Failed to release funds hold",
			zap.String("auctionID", auctionID.String()),
			zap.String("transactionRef", ref),
			zap.String("reason", why),
			zap.Error(err),
		)
	}
}

func ledgerFailure(res domain.LedgerResult) error {
	reason := res.Reason
	if reason == "" {
		reason = string(res.Code)
	}
	if res.Code == domain.LedgerInsufficientBalance {
		return domain.NewError(domain.KindInsufficientFunds, "insufficient balance: %s", reason)
	}
	return domain.NewError(domain.KindLedgerFailure, "ledger refused the operation: %s", reason)
}

func (e *Engine) setItemStatus(ctx context.Context, itemID string, status domain.ItemStatus) {
	if e.catalog == nil {
		return
	}
	err := e.call(ctx, func(ctx context.Context) error { return e.catalog.SetItemStatus(ctx, itemID, status) })
	if err != nil {
		log.Warn("Failed to update item status",
			zap.String("itemID", itemID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
