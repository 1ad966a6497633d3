package lifecycle

import (
	"context"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
)

// NextTransition is the pending timed move of an auction.
type NextTransition struct {
	To            domain.AuctionStatus `json:"to"`
	ScheduledAt   time.Time            `json:"scheduled_at"`
	TimeRemaining time.Duration        `json:"time_remaining"`
}

// TimelineStage is one stage timestamp of an auction.
type TimelineStage struct {
	Stage     string    `json:"stage"`
	At        time.Time `json:"at"`
	Completed bool      `json:"completed"`
}

type LifecycleStatus struct {
	AuctionID uuid.UUID            `json:"auction_id"`
	Status    domain.AuctionStatus `json:"status"`
	Next      *NextTransition      `json:"next_transition,omitempty"`
	Timeline  []TimelineStage      `json:"timeline"`
}

// GetLifecycleStatus reports the current status, the next pending transition
// and the full stage timeline of an auction.
func (s *Scheduler) GetLifecycleStatus(ctx context.Context, auctionID uuid.UUID) (*LifecycleStatus, error) {
	a, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	out := &LifecycleStatus{AuctionID: a.ID, Status: a.Status}

	if t, ok := domain.TransitionFrom(a.Status); ok {
		at := t.At(a)
		remaining := at.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		out.Next = &NextTransition{To: t.To, ScheduledAt: at, TimeRemaining: remaining}
	}

	endAt := a.Bidding.End
	if a.EndedAt != nil {
		endAt = *a.EndedAt
	}
	out.Timeline = []TimelineStage{
		{Stage: "created", At: a.CreatedAt, Completed: true},
		{Stage: "whitelist_open", At: a.Whitelist.Start, Completed: reached(a, domain.StatusWhitelistOpen, now)},
		{Stage: "whitelist_closed", At: a.Whitelist.End, Completed: reached(a, domain.StatusWhitelistClosed, now)},
		{Stage: "auction_active", At: a.Bidding.Start, Completed: reached(a, domain.StatusActive, now)},
		{Stage: "ended", At: endAt, Completed: a.Status == domain.StatusEnded},
	}
	return out, nil
}

// reached tells whether the auction went through stage. A cancelled auction
// has no stage record, so only the stages whose time passed count.
func reached(a *domain.Auction, stage domain.AuctionStatus, now time.Time) bool {
	if a.Status == domain.StatusCancelled {
		t, ok := domain.TransitionFrom(previousStage(stage))
		return ok && !now.Before(t.At(a))
	}
	return a.Status == stage || stage.Precedes(a.Status)
}

func previousStage(stage domain.AuctionStatus) domain.AuctionStatus {
	for _, t := range domain.Transitions {
		if t.To == stage {
			return t.From
		}
	}
	return stage
}
