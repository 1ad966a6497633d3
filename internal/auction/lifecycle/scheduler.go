// Package lifecycle drives the timed auction state machine: a recurring tick
// scans auctions, applies every due transition with a conditional status
// write and emits ending-soon warnings.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/application"
	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/shared/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// endingSoonTolerance is the half width of the window around now+offset in
// which an auction end counts as "ending soon".
const endingSoonTolerance = 30 * time.Second

// Engine is the part of the auction engine the scheduler delegates to.
type Engine interface {
	EndAuction(ctx context.Context, auctionID uuid.UUID) (*application.EndAuctionResult, error)
	CompleteTransition(ctx context.Context, a *domain.Auction, from, to domain.AuctionStatus)
	NotifyEndingSoon(ctx context.Context, a *domain.Auction, remaining time.Duration)
}

// Options tunes the Scheduler.
type Options struct {
	Interval          time.Duration
	EndingSoonOffsets []time.Duration
	Clock             domain.Clock
}

// Scheduler is the Lifecycle Scheduler. It only writes Auction.status and the
// whitelist active flag; every other effect goes through the Engine.
type Scheduler struct {
	auctions domain.AuctionRepository
	engine   Engine
	interval time.Duration
	offsets  []time.Duration
	clock    domain.Clock

	mu     sync.Mutex
	warned map[warningKey]time.Time
}

type warningKey struct {
	auctionID uuid.UUID
	offset    time.Duration
}

// TickReport summarizes one scheduler pass.
type TickReport struct {
	Transitions int
	EndingSoon  int
	Errors      int
}

// TransitionResult reports what a manual trigger did.
type TransitionResult struct {
	Transitioned bool                 `json:"transitioned"`
	From         domain.AuctionStatus `json:"from"`
	To           domain.AuctionStatus `json:"to"`
}

func NewScheduler(auctions domain.AuctionRepository, engine Engine, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.EndingSoonOffsets == nil {
		opts.EndingSoonOffsets = []time.Duration{30 * time.Minute, 15 * time.Minute, 5 * time.Minute, time.Minute}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Scheduler{
		auctions: auctions,
		engine:   engine,
		interval: opts.Interval,
		offsets:  opts.EndingSoonOffsets,
		clock:    opts.Clock,
		warned:   make(map[warningKey]time.Time),
	}
}

// Run ticks until ctx is done. Ticks run on this goroutine, so they never
// overlap; a slow tick delays the next one.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info("Lifecycle scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("Lifecycle scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick applies every due transition and sends ending-soon warnings. A failure
// on one auction is logged and never stops the others.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	var report TickReport
	start := s.clock()

	for _, t := range domain.Transitions {
		candidates, err := s.scan(ctx, t.From)
		if err != nil {
			log.Error("Scheduler: scan failed",
				zap.String("status", string(t.From)),
				zap.Error(err),
			)
			report.Errors++
			continue
		}
		now := s.clock()
		for _, a := range candidates {
			if !t.Due(a, now) {
				continue
			}
			moved, err := s.safeApply(ctx, a, t)
			if err != nil {
				log.Error("Scheduler: transition failed",
					zap.String("auctionID", a.ID.String()),
					zap.String("from", string(t.From)),
					zap.String("to", string(t.To)),
					zap.Error(err),
				)
				report.Errors++
				continue
			}
			if moved {
				report.Transitions++
			}
		}
	}

	report.EndingSoon = s.warnEndingSoon(ctx)

	if report.Transitions > 0 || report.Errors > 0 || report.EndingSoon > 0 {
		log.Info("Scheduler tick done",
			zap.Int("transitions", report.Transitions),
			zap.Int("endingSoon", report.EndingSoon),
			zap.Int("errors", report.Errors),
			zap.Duration("took", s.clock().Sub(start)),
		)
	}
	return report
}

// scan loads every auction in status. All pages are read before any
// transition is applied, since applying one moves it out of the filter.
func (s *Scheduler) scan(ctx context.Context, status domain.AuctionStatus) ([]*domain.Auction, error) {
	var out []*domain.Auction
	for page := 1; ; page++ {
		p := domain.Page{Page: page, Limit: domain.MaxPageLimit}
		items, total, err := s.auctions.FindAuctions(ctx, domain.AuctionFilter{
			Statuses: []domain.AuctionStatus{status},
			Sort:     domain.SortEndingSoon,
			Page:     p,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if len(items) == 0 || p.Offset()+len(items) >= total {
			return out, nil
		}
	}
}

func (s *Scheduler) safeApply(ctx context.Context, a *domain.Auction, t domain.Transition) (moved bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during transition: %v", r)
		}
	}()
	return s.apply(ctx, a, t)
}

// apply performs one transition. The status write is conditional on the
// From status, so a concurrent tick or a buy-now end loses cleanly.
func (s *Scheduler) apply(ctx context.Context, a *domain.Auction, t domain.Transition) (bool, error) {
	if t.To == domain.StatusEnded {
		res, err := s.engine.EndAuction(ctx, a.ID)
		if err != nil {
			return false, err
		}
		if res.AlreadyEnded {
			return false, nil
		}
		s.forget(a.ID)
		log.Info("Scheduler: auction ended",
			zap.String("auctionID", a.ID.String()),
			zap.Bool("reserveMet", res.ReserveMet),
		)
		return true, nil
	}

	change := domain.StatusChange{AuctionID: a.ID, From: t.From, To: t.To}
	switch t.To {
	case domain.StatusWhitelistOpen:
		active := true
		change.WhitelistActive = &active
	case domain.StatusWhitelistClosed:
		inactive := false
		change.WhitelistActive = &inactive
	}
	if err := s.auctions.UpdateStatus(ctx, change); err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			log.Debug("Scheduler: status changed concurrently, skipping",
				zap.String("auctionID", a.ID.String()),
				zap.String("expected", string(t.From)),
			)
			return false, nil
		}
		return false, err
	}

	updated := a.Clone()
	updated.Status = t.To
	if change.WhitelistActive != nil {
		updated.Whitelist.IsActive = *change.WhitelistActive
	}
	s.engine.CompleteTransition(ctx, updated, t.From, t.To)
	log.Info("Scheduler: auction transitioned",
		zap.String("auctionID", a.ID.String()),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
	)
	return true, nil
}

// warnEndingSoon notifies active auctions whose end falls within the
// tolerance around now+offset, once per auction and offset.
func (s *Scheduler) warnEndingSoon(ctx context.Context) int {
	if len(s.offsets) == 0 {
		return 0
	}
	active, err := s.scan(ctx, domain.StatusActive)
	if err != nil {
		log.Error("Scheduler: ending soon scan failed", zap.Error(err))
		return 0
	}
	now := s.clock()
	sent := 0
	for _, a := range active {
		for _, offset := range s.offsets {
			target := now.Add(offset)
			diff := a.Bidding.End.Sub(target)
			if diff < -endingSoonTolerance || diff > endingSoonTolerance {
				continue
			}
			if !s.markWarned(warningKey{a.ID, offset}, now) {
				continue
			}
			s.engine.NotifyEndingSoon(ctx, a, a.TimeToEnd(now))
			sent++
		}
	}
	s.pruneWarnings(now)
	return sent
}

func (s *Scheduler) markWarned(k warningKey, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.warned[k]; done {
		return false
	}
	s.warned[k] = now
	return true
}

func (s *Scheduler) forget(auctionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.warned {
		if k.auctionID == auctionID {
			delete(s.warned, k)
		}
	}
}

func (s *Scheduler) pruneWarnings(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.warned {
		if now.Sub(at) > 2*endingSoonTolerance+s.interval {
			delete(s.warned, k)
		}
	}
}

// TriggerStateTransition runs the due check for one auction on demand.
func (s *Scheduler) TriggerStateTransition(ctx context.Context, auctionID uuid.UUID) (*TransitionResult, error) {
	a, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	res := &TransitionResult{From: a.Status, To: a.Status}
	t, due := domain.DueTransition(a, s.clock())
	if !due {
		return res, nil
	}
	moved, err := s.safeApply(ctx, a, t)
	if err != nil {
		log.Error("Scheduler: manual transition failed",
			zap.String("auctionID", auctionID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	if moved {
		res.Transitioned = true
		res.To = t.To
	}
	return res, nil
}
