package domain

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestDueTransition(t *testing.T) {
	a, err := NewAuction(validParams(), t0)
	assert.NoError(t, err)

	tests := []struct {
		name   string
		status AuctionStatus
		now    time.Time
		due    bool
		to     AuctionStatus
	}{
		{name: "draft before whitelist", status: StatusDraft, now: t0.Add(-time.Second)},
		{name: "draft at whitelist start", status: StatusDraft, now: t0, due: true, to: StatusWhitelistOpen},
		{name: "draft after whitelist missed", status: StatusDraft, now: t0.Add(time.Hour)},
		{name: "whitelist open before end", status: StatusWhitelistOpen, now: t0.Add(59 * time.Minute)},
		{name: "whitelist open at end", status: StatusWhitelistOpen, now: t0.Add(time.Hour), due: true, to: StatusWhitelistClosed},
		{name: "closed before bidding", status: StatusWhitelistClosed, now: t0.Add(90 * time.Minute)},
		{name: "closed at bidding start", status: StatusWhitelistClosed, now: t0.Add(2 * time.Hour), due: true, to: StatusActive},
		{name: "closed after bidding missed", status: StatusWhitelistClosed, now: t0.Add(3 * time.Hour)},
		{name: "active before end", status: StatusActive, now: t0.Add(150 * time.Minute)},
		{name: "active at end", status: StatusActive, now: t0.Add(3 * time.Hour), due: true, to: StatusEnded},
		{name: "active long after end", status: StatusActive, now: t0.Add(30 * time.Hour), due: true, to: StatusEnded},
		{name: "ended is terminal", status: StatusEnded, now: t0.Add(30 * time.Hour)},
		{name: "cancelled is terminal", status: StatusCancelled, now: t0.Add(30 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a.Status = tt.status
			tr, due := DueTransition(a, tt.now)
			check.Equal(t, tt.due, due)
			if tt.due {
				check.Equal(t, tt.status, tr.From)
				check.Equal(t, tt.to, tr.To)
			}
		})
	}
}

func TestTransitionsAreMonotonic(t *testing.T) {
	for _, tr := range Transitions {
		check.True(t, tr.From.Precedes(tr.To))
		check.False(t, tr.From.IsTerminal())
	}
	_, ok := TransitionFrom(StatusCancelled)
	check.False(t, ok)
	check.True(t, StatusEnded.IsTerminal())
	check.True(t, StatusCancelled.IsTerminal())
}
