package guard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/application"
	"github.com/cristianortiz/timedAuction/internal/auction/auctiontest"
	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/auction/guard"
	"github.com/cristianortiz/timedAuction/internal/shared/ratelimit"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestCheckAccess(t *testing.T) {
	ctx := context.Background()
	env := auctiontest.NewEnv(t)
	g := guard.New(env.Store, env.Ledger, nil, nil, env.Clock.Now)
	a := env.CreateAuction(t)
	member, outsider := uuid.New(), uuid.New()

	_, err := g.CheckAccess(ctx, a.ID, member)
	check.Equal(t, domain.KindInvalidState, domain.KindOf(err))

	// anyone may look while the whitelist is open
	env.OpenWhitelist(t, a)
	_, err = g.CheckAccess(ctx, a.ID, outsider)
	check.NoError(t, err)

	env.Fund(member, "100")
	_, err = env.Engine.JoinWhitelist(ctx, applicationJoin(a.ID, member))
	assert.NoError(t, err)

	env.MoveTo(t, a.ID, domain.StatusWhitelistClosed)
	got, err := g.CheckAccess(ctx, a.ID, member)
	assert.NoError(t, err)
	check.Equal(t, a.ID, got.ID)
	_, err = g.CheckAccess(ctx, a.ID, outsider)
	check.True(t, errors.Is(err, domain.ErrNotWhitelisted))

	_, err = g.CheckAccess(ctx, uuid.New(), member)
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestValidateBidPermission(t *testing.T) {
	ctx := context.Background()
	env := auctiontest.NewEnv(t)
	g := guard.New(env.Store, env.Ledger, nil, nil, env.Clock.Now)
	a := env.CreateAuction(t)
	alice, bob := uuid.New(), uuid.New()
	env.Activate(t, a, "1000", alice, bob)

	check.NoError(t, g.ValidateBidPermission(ctx, a.ID, alice))

	_, err := env.Bid(a.ID, alice, "110")
	assert.NoError(t, err)
	check.True(t, errors.Is(g.ValidateBidPermission(ctx, a.ID, alice), domain.ErrSelfOutbid))
	check.NoError(t, g.ValidateBidPermission(ctx, a.ID, bob))
	check.True(t, errors.Is(g.ValidateBidPermission(ctx, a.ID, uuid.New()), domain.ErrNotWhitelisted))

	env.Clock.Set(a.Bidding.End.Add(time.Second))
	check.Equal(t, domain.KindWindowNotActive, domain.KindOf(g.ValidateBidPermission(ctx, a.ID, bob)))

	_, err = env.Engine.EndAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, domain.KindInvalidState, domain.KindOf(g.ValidateBidPermission(ctx, a.ID, bob)))
}

func TestCheckBalance(t *testing.T) {
	ctx := context.Background()
	env := auctiontest.NewEnv(t)
	g := guard.New(env.Store, env.Ledger, nil, nil, env.Clock.Now)
	p := uuid.New()
	env.Fund(p, "50")

	check.NoError(t, g.CheckBalance(ctx, p, auctiontest.Dec("50")))
	check.True(t, errors.Is(g.CheckBalance(ctx, p, auctiontest.Dec("50.01")), domain.ErrInsufficientFunds))
	// unknown wallets have nothing to spend
	check.True(t, errors.Is(g.CheckBalance(ctx, uuid.New(), auctiontest.Dec("1")), domain.ErrInsufficientFunds))
}

func TestRateLimits(t *testing.T) {
	ctx := context.Background()
	env := auctiontest.NewEnv(t)
	bids := ratelimit.NewMemory(3, time.Minute, env.Clock.Now)
	conns := ratelimit.NewMemory(1, time.Minute, env.Clock.Now)
	g := guard.New(env.Store, env.Ledger, bids, conns, env.Clock.Now)
	alice, bob := uuid.New(), uuid.New()

	for i := 0; i < 3; i++ {
		check.NoError(t, g.AllowBid(ctx, alice))
	}
	err := g.AllowBid(ctx, alice)
	check.True(t, errors.Is(err, domain.ErrRateLimited))
	// limits are per participant
	check.NoError(t, g.AllowBid(ctx, bob))

	check.NoError(t, g.AllowConnection(ctx, "10.0.0.1"))
	check.True(t, errors.Is(g.AllowConnection(ctx, "10.0.0.1"), domain.ErrRateLimited))
	check.NoError(t, g.AllowConnection(ctx, "10.0.0.2"))

	env.Clock.Advance(time.Minute)
	check.NoError(t, g.AllowBid(ctx, alice))
	check.NoError(t, g.AllowConnection(ctx, "10.0.0.1"))
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("connection refused")
}

func TestRateLimits_FailOpen(t *testing.T) {
	env := auctiontest.NewEnv(t)
	g := guard.New(env.Store, env.Ledger, brokenLimiter{}, brokenLimiter{}, env.Clock.Now)
	check.NoError(t, g.AllowBid(context.Background(), uuid.New()))
	check.NoError(t, g.AllowConnection(context.Background(), "10.0.0.1"))
}

func applicationJoin(auctionID, participantID uuid.UUID) application.JoinWhitelistDTO {
	return application.JoinWhitelistDTO{AuctionID: auctionID, ParticipantID: participantID}
}
