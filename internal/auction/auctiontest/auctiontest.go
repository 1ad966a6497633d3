// Package auctiontest wires an Engine on the in-memory store and ledger with
// a controllable clock and a recording notifier, for tests of the auction
// module and its adapters.
package auctiontest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/application"
	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/auction/infra/repository/memory"
	"github.com/cristianortiz/timedAuction/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// T0 is the whitelist opening time of auctions built by Env.CreateAuction.
// The whitelist runs for one hour, bidding runs from T0+2h to T0+3h.
var T0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Clock is a settable domain.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Notifier records every event it is handed.
type Notifier struct {
	mu     sync.Mutex
	room   map[uuid.UUID][]domain.Event
	direct map[uuid.UUID][]domain.Event
}

var _ domain.Notifier = (*Notifier)(nil)

func NewNotifier() *Notifier {
	return &Notifier{
		room:   make(map[uuid.UUID][]domain.Event),
		direct: make(map[uuid.UUID][]domain.Event),
	}
}

func (n *Notifier) BroadcastToAuction(_ context.Context, auctionID uuid.UUID, e domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.room[auctionID] = append(n.room[auctionID], e)
	return nil
}

func (n *Notifier) NotifyParticipant(_ context.Context, participantID uuid.UUID, e domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.direct[participantID] = append(n.direct[participantID], e)
	return nil
}

// Room returns the events broadcast to an auction of type t, or all of
// them when t is empty.
func (n *Notifier) Room(auctionID uuid.UUID, t domain.EventType) []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return filter(n.room[auctionID], t)
}

// Direct returns the events sent to a participant of type t.
func (n *Notifier) Direct(participantID uuid.UUID, t domain.EventType) []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return filter(n.direct[participantID], t)
}

func filter(events []domain.Event, t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range events {
		if t == "" || e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Env is an engine wired on in-memory collaborators.
type Env struct {
	Engine   *application.Engine
	Store    *memory.Store
	Ledger   *ledger.MemoryLedger
	Catalog  *memory.Catalog
	Notifier *Notifier
	Clock    *Clock
}

func NewEnv(tb testing.TB) *Env {
	tb.Helper()
	env := &Env{
		Store:    memory.NewStore(),
		Ledger:   ledger.NewMemoryLedger(),
		Catalog:  memory.NewCatalog(),
		Notifier: NewNotifier(),
		Clock:    NewClock(T0.Add(-time.Hour)),
	}
	env.Engine = application.NewEngine(env.Store, env.Ledger, env.Catalog, env.Notifier, application.Options{
		CallTimeout:        time.Second,
		QueueRoutingWindow: 10 * time.Minute,
		QueueRoutingBids:   50,
		Clock:              env.Clock.Now,
	})
	return env
}

// Dec parses a decimal literal.
func Dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func DecPtr(s string) *decimal.Decimal {
	d := Dec(s)
	return &d
}

// DefaultAuction is the creation input used by CreateAuction: starting
// price 100, increment 10, entry fee 5 and room for ten participants.
func DefaultAuction() application.CreateAuctionDTO {
	return application.CreateAuctionDTO{
		ItemID:        "item-" + uuid.NewString(),
		Title:         "Genesis #1",
		StartingPrice: Dec("100"),
		CreatedBy:     uuid.New(),
		Whitelist: domain.WhitelistWindow{
			Start:           T0,
			End:             T0.Add(time.Hour),
			MaxParticipants: 10,
			EntryFee:        Dec("5"),
		},
		Bidding: domain.BiddingWindow{
			Start:        T0.Add(2 * time.Hour),
			End:          T0.Add(3 * time.Hour),
			MinIncrement: Dec("10"),
		},
	}
}

// CreateAuction registers the item and creates a DRAFT auction.
func (e *Env) CreateAuction(tb testing.TB, opts ...func(*application.CreateAuctionDTO)) *domain.Auction {
	tb.Helper()
	cmd := DefaultAuction()
	for _, opt := range opts {
		opt(&cmd)
	}
	e.Catalog.AddItem(cmd.ItemID)
	a, err := e.Engine.CreateAuction(context.Background(), cmd)
	if err != nil {
		tb.Fatalf("create auction: %v", err)
	}
	return a
}

// MoveTo walks the timed transitions with conditional writes until the
// auction reaches status. It does not touch the clock.
func (e *Env) MoveTo(tb testing.TB, auctionID uuid.UUID, status domain.AuctionStatus) {
	tb.Helper()
	ctx := context.Background()
	for {
		a, err := e.Store.GetAuction(ctx, auctionID)
		if err != nil {
			tb.Fatalf("load auction: %v", err)
		}
		if a.Status == status {
			return
		}
		t, ok := domain.TransitionFrom(a.Status)
		if !ok {
			tb.Fatalf("cannot move auction from %s to %s", a.Status, status)
		}
		active := t.To == domain.StatusWhitelistOpen
		if err := e.Store.UpdateStatus(ctx, domain.StatusChange{
			AuctionID:       auctionID,
			From:            t.From,
			To:              t.To,
			WhitelistActive: &active,
		}); err != nil {
			tb.Fatalf("move auction to %s: %v", t.To, err)
		}
	}
}

// Fund credits a participant's wallet.
func (e *Env) Fund(participantID uuid.UUID, amount string) {
	e.Ledger.Credit(participantID, Dec(amount))
}

// OpenWhitelist moves the auction to WHITELIST_OPEN and the clock inside
// its whitelist window.
func (e *Env) OpenWhitelist(tb testing.TB, a *domain.Auction) {
	tb.Helper()
	e.MoveTo(tb, a.ID, domain.StatusWhitelistOpen)
	e.Clock.Set(a.Whitelist.Start.Add(time.Minute))
}

// Activate whitelists each participant with the given wallet funds and moves
// the auction and the clock into the bidding window.
func (e *Env) Activate(tb testing.TB, a *domain.Auction, funds string, participants ...uuid.UUID) {
	tb.Helper()
	e.OpenWhitelist(tb, a)
	for _, p := range participants {
		e.Fund(p, funds)
		if _, err := e.Engine.JoinWhitelist(context.Background(), application.JoinWhitelistDTO{AuctionID: a.ID, ParticipantID: p}); err != nil {
			tb.Fatalf("join whitelist: %v", err)
		}
	}
	e.MoveTo(tb, a.ID, domain.StatusActive)
	e.Clock.Set(a.Bidding.Start.Add(time.Minute))
}

// Bid places a REGULAR bid.
func (e *Env) Bid(auctionID, bidderID uuid.UUID, amount string) (*application.PlaceBidResult, error) {
	return e.Engine.PlaceBid(context.Background(), application.PlaceBidDTO{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    Dec(amount),
		Type:      domain.BidTypeRegular,
	})
}

// Auction reloads an auction from the store.
func (e *Env) Auction(tb testing.TB, id uuid.UUID) *domain.Auction {
	tb.Helper()
	a, err := e.Store.GetAuction(context.Background(), id)
	if err != nil {
		tb.Fatalf("load auction: %v", err)
	}
	return a
}
