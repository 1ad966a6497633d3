package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/application"
	"github.com/cristianortiz/timedAuction/internal/auction/auctiontest"
	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/auction/infra/repository/memory"
	"github.com/cristianortiz/timedAuction/internal/ledger"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestPlaceBid_IncrementRule(t *testing.T) {
	env := auctiontest.NewEnv(t)
	a := env.CreateAuction(t)
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	env.Activate(t, a, "1000", alice, bob, carol)

	first, err := env.Bid(a.ID, alice, "110")
	assert.NoError(t, err)
	check.True(t, first.IsWinning)
	check.Nil(t, first.Outbid)
	check.Equal(t, "110", first.Auction.CurrentHighestBid.String())

	second, err := env.Bid(a.ID, bob, "120")
	assert.NoError(t, err)
	check.True(t, second.IsWinning)
	assert.NotNil(t, second.Outbid)
	check.Equal(t, first.Bid.ID, second.Outbid.ID)

	_, err = env.Bid(a.ID, carol, "110")
	check.True(t, errors.Is(err, domain.ErrBidTooLow))
	check.Equal(t, "bid amount too low, minimum is 130", domain.Reason(err))

	final := env.Auction(t, a.ID)
	check.Equal(t, "120", final.CurrentHighestBid.String())
	check.Equal(t, bob, *final.CurrentWinner)
	check.Equal(t, 2, final.TotalBids)

	// the outbid hold goes back to alice, bob's stays pending
	tx, ok := env.Ledger.Transaction(first.Bid.FundsTransactionRef)
	assert.True(t, ok)
	check.Equal(t, ledger.TxReleased, tx.State)
	tx, ok = env.Ledger.Transaction(second.Bid.FundsTransactionRef)
	assert.True(t, ok)
	check.Equal(t, ledger.TxPending, tx.State)

	aliceBalance, err := env.Ledger.Balance(context.Background(), alice)
	assert.NoError(t, err)
	check.Equal(t, "995", aliceBalance.String())
	bobBalance, err := env.Ledger.Balance(context.Background(), bob)
	assert.NoError(t, err)
	check.Equal(t, "875", bobBalance.String())

	// only one record ever carries WINNING
	bids, err := env.Engine.ListBids(context.Background(), domain.BidFilter{AuctionID: &a.ID})
	assert.NoError(t, err)
	check.Equal(t, 2, bids.Total)
	winning := 0
	for _, b := range bids.Items {
		if b.Status == domain.BidStatusWinning {
			winning++
			check.Equal(t, second.Bid.ID, b.ID)
		}
	}
	check.Equal(t, 1, winning)

	check.Equal(t, 1, len(env.Notifier.Direct(alice, domain.EventOutbid)))
	check.Equal(t, 2, len(env.Notifier.Room(a.ID, domain.EventBidPlaced)))
}

func TestPlaceBid_Preconditions(t *testing.T) {
	t.Run("auction not active", func(t *testing.T) {
		env := auctiontest.NewEnv(t)
		a := env.CreateAuction(t)
		bidder := uuid.New()
		env.OpenWhitelist(t, a)
		env.Fund(bidder, "1000")

		_, err := env.Bid(a.ID, bidder, "110")
		check.Equal(t, domain.KindInvalidState, domain.KindOf(err))
	})

	t.Run("outside bidding window", func(t *testing.T) {
		env := auctiontest.NewEnv(t)
		a := env.CreateAuction(t)
		bidder := uuid.New()
		env.Activate(t, a, "1000", bidder)
		env.Clock.Set(a.Bidding.End)

		_, err := env.Bid(a.ID, bidder, "110")
		check.Equal(t, domain.KindWindowNotActive, domain.KindOf(err))
	})

	t.Run("not whitelisted", func(t *testing.T) {
		env := auctiontest.NewEnv(t)
		a := env.CreateAuction(t)
		env.Activate(t, a, "1000", uuid.New())
		stranger := uuid.New()
		env.Fund(stranger, "1000")

		_, err := env.Bid(a.ID, stranger, "110")
		check.True(t, errors.Is(err, domain.ErrNotWhitelisted))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		env := auctiontest.NewEnv(t)
		a := env.CreateAuction(t)
		poor := uuid.New()
		env.Activate(t, a, "50", poor)

		_, err := env.Bid(a.ID, poor, "110")
		check.True(t, errors.Is(err, domain.ErrInsufficientFunds))

		bids, err := env.Engine.ListBids(context.Background(), domain.BidFilter{AuctionID: &a.ID})
		assert.NoError(t, err)
		check.Equal(t, 0, bids.Total)
		check.Equal(t, 0, env.Auction(t, a.ID).TotalBids)
	})

	t.Run("highest bidder cannot outbid themselves", func(t *testing.T) {
		env := auctiontest.NewEnv(t)
		a := env.CreateAuction(t)
		alice := uuid.New()
		env.Activate(t, a, "1000", alice)

		_, err := env.Bid(a.ID, alice, "110")
		assert.NoError(t, err)
		_, err = env.Bid(a.ID, alice, "200")
		check.True(t, errors.Is(err, domain.ErrSelfOutbid))

		final := env.Auction(t, a.ID)
		check.Equal(t, "110", final.CurrentHighestBid.String())
		check.Equal(t, 1, final.TotalBids)
		balance, err := env.Ledger.Balance(context.Background(), alice)
		assert.NoError(t, err)
		check.Equal(t, "885", balance.String())
	})

	t.Run("unknown auction", func(t *testing.T) {
		env := auctiontest.NewEnv(t)
		_, err := env.Bid(uuid.New(), uuid.New(), "110")
		check.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestPlaceBid_ConcurrentBidsKeepOneWinner(t *testing.T) {
	env := auctiontest.NewEnv(t)
	a := env.CreateAuction(t)

	const bidders = 12
	ids := make([]uuid.UUID, bidders)
	for i := range ids {
		ids[i] = uuid.New()
	}
	env.Activate(t, a, "10000", ids...)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			<-start
			_, _ = env.Bid(a.ID, id, fmt.Sprintf("%d", 200+i*20))
		}(i, id)
	}
	close(start)
	wg.Wait()

	// the largest amount submitted always wins, whatever the arrival order
	final := env.Auction(t, a.ID)
	check.Equal(t, "420", final.CurrentHighestBid.String())
	check.Equal(t, ids[bidders-1], *final.CurrentWinner)
	bids, err := env.Engine.ListBids(context.Background(), domain.BidFilter{AuctionID: &a.ID, Page: domain.Page{Limit: 100}})
	assert.NoError(t, err)

	var winners []*domain.Bid
	for _, b := range bids.Items {
		if b.Status == domain.BidStatusWinning {
			winners = append(winners, b)
		}
	}
	assert.Equal(t, 1, len(winners))
	check.Equal(t, final.CurrentHighestBid.String(), winners[0].Amount.String())
	check.Equal(t, winners[0].BidderID, *final.CurrentWinner)
	check.Equal(t, *final.WinningBidID, winners[0].ID)

	// every participant except the winner has all of their bid funds back
	for _, id := range ids {
		balance, err := env.Ledger.Balance(context.Background(), id)
		assert.NoError(t, err)
		want := "9995"
		if id == winners[0].BidderID {
			want = auctiontest.Dec("9995").Sub(winners[0].Amount).String()
		}
		check.Equal(t, want, balance.String())
	}
}

func TestPlaceBid_BuyNowEndsAuction(t *testing.T) {
	env := auctiontest.NewEnv(t)
	a := env.CreateAuction(t, func(c *application.CreateAuctionDTO) {
		c.Bidding.BuyNowPrice = auctiontest.DecPtr("500")
	})
	alice, bob := uuid.New(), uuid.New()
	env.Activate(t, a, "1000", alice, bob)

	first, err := env.Bid(a.ID, alice, "150")
	assert.NoError(t, err)

	res, err := env.Engine.PlaceBid(context.Background(), application.PlaceBidDTO{
		AuctionID: a.ID,
		BidderID:  bob,
		Amount:    auctiontest.Dec("500"),
		Type:      domain.BidTypeBuyNow,
	})
	assert.NoError(t, err)
	check.True(t, res.IsWinning)
	check.True(t, res.Ended)
	check.Equal(t, domain.StatusEnded, res.Auction.Status)
	check.Equal(t, bob, *res.Auction.CurrentWinner)

	tx, _ := env.Ledger.Transaction(first.Bid.FundsTransactionRef)
	check.Equal(t, ledger.TxReleased, tx.State)
	tx, _ = env.Ledger.Transaction(res.Bid.FundsTransactionRef)
	check.Equal(t, ledger.TxSettled, tx.State)

	status, err := env.Catalog.GetItemStatus(context.Background(), a.ItemID)
	assert.NoError(t, err)
	check.Equal(t, domain.ItemSold, status)

	_, err = env.Bid(a.ID, alice, "600")
	check.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}

// flakyEndStore fails the next failures moves to ENDED like a lost
// connection would.
type flakyEndStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyEndStore) UpdateStatus(ctx context.Context, change domain.StatusChange) error {
	s.mu.Lock()
	fail := change.To == domain.StatusEnded && s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("connection timeout")
	}
	return s.Store.UpdateStatus(ctx, change)
}

func buyNowSetup(t *testing.T, failures int) (*auctiontest.Env, *application.Engine, *domain.Auction, *flakyEndStore) {
	t.Helper()
	env := auctiontest.NewEnv(t)
	a := env.CreateAuction(t, func(c *application.CreateAuctionDTO) {
		c.Bidding.BuyNowPrice = auctiontest.DecPtr("500")
	})
	store := &flakyEndStore{Store: env.Store, failures: failures}
	engine := application.NewEngine(store, env.Ledger, env.Catalog, env.Notifier, application.Options{
		CallTimeout: time.Second,
		Clock:       env.Clock.Now,
	})
	return env, engine, a, store
}

func buyNow(engine *application.Engine, auctionID, bidderID uuid.UUID) (*application.PlaceBidResult, error) {
	return engine.PlaceBid(context.Background(), application.PlaceBidDTO{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    auctiontest.Dec("500"),
		Type:      domain.BidTypeBuyNow,
	})
}

func TestPlaceBid_BuyNowEndRetriesTransientFailures(t *testing.T) {
	env, engine, a, _ := buyNowSetup(t, 1)
	bob := uuid.New()
	env.Activate(t, a, "1000", bob)

	res, err := buyNow(engine, a.ID, bob)
	assert.NoError(t, err)
	check.True(t, res.IsWinning)
	check.True(t, res.Ended)
	check.Equal(t, domain.StatusEnded, env.Auction(t, a.ID).Status)
	check.Equal(t, domain.ItemSold, itemStatus(t, env, a.ItemID))
}

func TestPlaceBid_BuyNowWinnerKeepsTheAuction(t *testing.T) {
	env, engine, a, store := buyNowSetup(t, 3)
	alice, bob := uuid.New(), uuid.New()
	env.Activate(t, a, "1000", alice, bob)

	// every end attempt fails, the bid itself is committed
	res, err := buyNow(engine, a.ID, bob)
	assert.NoError(t, err)
	check.True(t, res.IsWinning)
	check.False(t, res.Ended)
	assert.NotNil(t, res.Auction)
	check.Equal(t, "500", res.Auction.CurrentHighestBid.String())
	check.Equal(t, domain.StatusActive, env.Auction(t, a.ID).Status)
	check.Equal(t, 0, store.failures)

	// a higher regular bid is refused and closes the auction for bob
	_, err = engine.PlaceBid(context.Background(), application.PlaceBidDTO{
		AuctionID: a.ID,
		BidderID:  alice,
		Amount:    auctiontest.Dec("510"),
		Type:      domain.BidTypeRegular,
	})
	check.Equal(t, domain.KindInvalidState, domain.KindOf(err))

	final := env.Auction(t, a.ID)
	check.Equal(t, domain.StatusEnded, final.Status)
	check.Equal(t, "500", final.CurrentHighestBid.String())
	check.Equal(t, bob, *final.CurrentWinner)
	tx, ok := env.Ledger.Transaction(res.Bid.FundsTransactionRef)
	assert.True(t, ok)
	check.Equal(t, ledger.TxSettled, tx.State)

	aliceBalance, err := env.Ledger.Balance(context.Background(), alice)
	assert.NoError(t, err)
	check.Equal(t, "995", aliceBalance.String())
}

func TestPlaceBid_BuyNowMismatch(t *testing.T) {
	env := auctiontest.NewEnv(t)
	a := env.CreateAuction(t, func(c *application.CreateAuctionDTO) {
		c.Bidding.BuyNowPrice = auctiontest.DecPtr("500")
	})
	bidder := uuid.New()
	env.Activate(t, a, "1000", bidder)

	_, err := env.Engine.PlaceBid(context.Background(), application.PlaceBidDTO{
		AuctionID: a.ID,
		BidderID:  bidder,
		Amount:    auctiontest.Dec("450"),
		Type:      domain.BidTypeBuyNow,
	})
	check.True(t, errors.Is(err, domain.ErrBuyNowMismatch))
}

func TestShouldUseQueue(t *testing.T) {
	env := auctiontest.NewEnv(t)
	a := env.CreateAuction(t)
	env.Activate(t, a, "1000", uuid.New())

	use, err := env.Engine.ShouldUseQueue(context.Background(), a.ID)
	assert.NoError(t, err)
	check.False(t, use)

	// inside the routing window before the end
	env.Clock.Set(a.Bidding.End.Add(-5 * time.Minute))
	use, err = env.Engine.ShouldUseQueue(context.Background(), a.ID)
	assert.NoError(t, err)
	check.True(t, use)
}

func TestValidateBidAmount(t *testing.T) {
	env := auctiontest.NewEnv(t)
	a := env.CreateAuction(t)
	alice := uuid.New()

	err := env.Engine.ValidateBidAmount(context.Background(), a.ID, auctiontest.Dec("110"), domain.BidTypeRegular)
	check.Equal(t, domain.KindInvalidState, domain.KindOf(err))

	env.Activate(t, a, "1000", alice)
	check.NoError(t, env.Engine.ValidateBidAmount(context.Background(), a.ID, auctiontest.Dec("110"), domain.BidTypeRegular))
	err = env.Engine.ValidateBidAmount(context.Background(), a.ID, auctiontest.Dec("109.99"), domain.BidTypeRegular)
	check.True(t, errors.Is(err, domain.ErrBidTooLow))
}
