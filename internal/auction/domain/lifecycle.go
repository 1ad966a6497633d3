package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transition is one row of the timed lifecycle table.
type Transition struct {
	From AuctionStatus
	To   AuctionStatus
	// At returns the instant from which the transition becomes due.
	At func(a *Auction) time.Time
	// Due reports whether the transition applies at now.
	Due func(a *Auction, now time.Time) bool
}

// Transitions lists the timer driven moves, in lifecycle order. CANCELLED is
// reachable only through an explicit administrative action.
var Transitions = []Transition{
	{
		From: StatusDraft,
		To:   StatusWhitelistOpen,
		At:   func(a *Auction) time.Time { return a.Whitelist.Start },
		Due:  func(a *Auction, now time.Time) bool { return a.Whitelist.Contains(now) },
	},
	{
		From: StatusWhitelistOpen,
		To:   StatusWhitelistClosed,
		At:   func(a *Auction) time.Time { return a.Whitelist.End },
		Due:  func(a *Auction, now time.Time) bool { return !now.Before(a.Whitelist.End) },
	},
	{
		From: StatusWhitelistClosed,
		To:   StatusActive,
		At:   func(a *Auction) time.Time { return a.Bidding.Start },
		Due:  func(a *Auction, now time.Time) bool { return a.Bidding.Contains(now) },
	},
	{
		From: StatusActive,
		To:   StatusEnded,
		At:   func(a *Auction) time.Time { return a.Bidding.End },
		Due:  func(a *Auction, now time.Time) bool { return !now.Before(a.Bidding.End) },
	},
}

// TransitionFrom returns the timed transition leaving status, if any.
func TransitionFrom(status AuctionStatus) (Transition, bool) {
	for _, t := range Transitions {
		if t.From == status {
			return t, true
		}
	}
	return Transition{}, false
}

// DueTransition returns the transition that should be applied to a at now.
func DueTransition(a *Auction, now time.Time) (Transition, bool) {
	t, ok := TransitionFrom(a.Status)
	if !ok || !t.Due(a, now) {
		return Transition{}, false
	}
	return t, true
}

// StatusChange is a conditional status write: it only applies while the
// stored status still equals From.
type StatusChange struct {
	AuctionID       uuid.UUID
	From            AuctionStatus
	To              AuctionStatus
	WhitelistActive *bool
	EndedAt         *time.Time
}
