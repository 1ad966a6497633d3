package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/application"
	"github.com/cristianortiz/timedAuction/internal/auction/auctiontest"
	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/ledger"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func itemStatus(t *testing.T, env *auctiontest.Env, itemID string) domain.ItemStatus {
	t.Helper()
	status, err := env.Catalog.GetItemStatus(context.Background(), itemID)
	assert.NoError(t, err)
	return status
}

func endedHistory(t *testing.T, env *auctiontest.Env, auctionID uuid.UUID) int {
	t.Helper()
	h, err := env.Engine.GetHistory(context.Background(), domain.HistoryFilter{
		AuctionID: &auctionID,
		Actions:   []domain.HistoryAction{domain.ActionAuctionEnded},
	})
	assert.NoError(t, err)
	return h.Total
}

func TestEndAuction_ConcurrentCallsSettleOnce(t *testing.T) {
	env := auctiontest.NewEnv(t)
	a := env.CreateAuction(t)
	alice := uuid.New()
	env.Activate(t, a, "1000", alice)

	res, err := env.Bid(a.ID, alice, "150")
	assert.NoError(t, err)
	env.Clock.Set(a.Bidding.End)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
		already int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := env.Engine.EndAuction(context.Background(), a.ID)
			if err != nil {
				t.Errorf("end auction: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if out.AlreadyEnded {
				already++
			} else {
				settled++
			}
		}()
	}
	wg.Wait()

	check.Equal(t, 1, settled)
	check.Equal(t, callers-1, already)
	check.Equal(t, 1, endedHistory(t, env, a.ID))
	check.Equal(t, 1, len(env.Notifier.Room(a.ID, domain.EventAuctionEnded)))
	check.Equal(t, 1, len(env.Notifier.Direct(alice, domain.EventAuctionWon)))

	final := env.Auction(t, a.ID)
	check.Equal(t, domain.StatusEnded, final.Status)
	check.NotNil(t, final.EndedAt)
	check.False(t, final.Whitelist.IsActive)

	tx, ok := env.Ledger.Transaction(res.Bid.FundsTransactionRef)
	assert.True(t, ok)
	check.Equal(t, ledger.TxSettled, tx.State)
	check.Equal(t, domain.ItemSold, itemStatus(t, env, a.ItemID))

	balance, err := env.Ledger.Balance(context.Background(), alice)
	assert.NoError(t, err)
	check.Equal(t, "845", balance.String())
}

func TestEndAuction_ReserveNotMet(t *testing.T) {
	env := auctiontest.NewEnv(t)
	a := env.CreateAuction(t, func(c *application.CreateAuctionDTO) {
		c.Bidding.ReservePrice = auctiontest.DecPtr("500")
	})
	alice := uuid.New()
	env.Activate(t, a, "1000", alice)

	res, err := env.Bid(a.ID, alice, "200")
	assert.NoError(t, err)
	env.Clock.Set(a.Bidding.End.Add(time.Second))

	out, err := env.Engine.EndAuction(context.Background(), a.ID)
	assert.NoError(t, err)
	check.False(t, out.ReserveMet)
	check.False(t, out.AlreadyEnded)

	tx, ok := env.Ledger.Transaction(res.Bid.FundsTransactionRef)
	assert.True(t, ok)
	check.Equal(t, ledger.TxReleased, tx.State)
	check.Equal(t, domain.ItemUnsold, itemStatus(t, env, a.ItemID))
	check.Equal(t, 0, len(env.Notifier.Direct(alice, domain.EventAuctionWon)))

	balance, err := env.Ledger.Balance(context.Background(), alice)
	assert.NoError(t, err)
	check.Equal(t, "995", balance.String())
}

func TestEndAuction_NoBids(t *testing.T) {
	env := auctiontest.NewEnv(t)
	a := env.CreateAuction(t)
	env.Activate(t, a, "100")
	env.Clock.Set(a.Bidding.End)

	out, err := env.Engine.EndAuction(context.Background(), a.ID)
	assert.NoError(t, err)
	check.Nil(t, out.Winner)
	check.Equal(t, domain.ItemUnsold, itemStatus(t, env, a.ItemID))
	check.Equal(t, 1, endedHistory(t, env, a.ID))
}

func TestCancelAuction(t *testing.T) {
	env := auctiontest.NewEnv(t)
	a := env.CreateAuction(t)
	alice, bob := uuid.New(), uuid.New()
	env.Activate(t, a, "1000", alice, bob)

	_, err := env.Bid(a.ID, alice, "110")
	assert.NoError(t, err)
	res, err := env.Bid(a.ID, bob, "130")
	assert.NoError(t, err)

	admin := uuid.New()
	cancelled, err := env.Engine.CancelAuction(context.Background(), a.ID, admin)
	assert.NoError(t, err)
	check.Equal(t, domain.StatusCancelled, cancelled.Status)

	tx, ok := env.Ledger.Transaction(res.Bid.FundsTransactionRef)
	assert.True(t, ok)
	check.Equal(t, ledger.TxReleased, tx.State)

	// entry fees come back as well
	for _, p := range []uuid.UUID{alice, bob} {
		entry, err := env.Engine.GetWhitelistEntry(context.Background(), a.ID, p)
		assert.NoError(t, err)
		fee, ok := env.Ledger.Transaction(entry.PaymentRef)
		assert.True(t, ok)
		check.Equal(t, ledger.TxRefunded, fee.State)

		balance, err := env.Ledger.Balance(context.Background(), p)
		assert.NoError(t, err)
		check.Equal(t, "1000", balance.String())
	}
	check.Equal(t, domain.ItemAvailable, itemStatus(t, env, a.ItemID))
	check.Equal(t, 1, len(env.Notifier.Room(a.ID, domain.EventAuctionCancelled)))

	_, err = env.Engine.CancelAuction(context.Background(), a.ID, admin)
	check.Equal(t, domain.KindInvalidState, domain.KindOf(err))

	_, err = env.Engine.EndAuction(context.Background(), a.ID)
	check.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}

func TestCreateAuction(t *testing.T) {
	t.Run("item must be available", func(t *testing.T) {
		env := auctiontest.NewEnv(t)
		a := env.CreateAuction(t)

		cmd := auctiontest.DefaultAuction()
		cmd.ItemID = a.ItemID

		// reserved by the first auction
		_, err := env.Engine.CreateAuction(context.Background(), cmd)
		check.True(t, errors.Is(err, domain.ErrItemUnavailable))

		assert.NoError(t, env.Catalog.SetItemStatus(context.Background(), a.ItemID, domain.ItemSold))
		_, err = env.Engine.CreateAuction(context.Background(), cmd)
		check.True(t, errors.Is(err, domain.ErrItemUnavailable))
	})

	t.Run("concurrent creates reserve the item once", func(t *testing.T) {
		env := auctiontest.NewEnv(t)
		cmd := auctiontest.DefaultAuction()
		env.Catalog.AddItem(cmd.ItemID)

		var (
			wg          sync.WaitGroup
			mu          sync.Mutex
			created     int
			unavailable int
		)
		start := make(chan struct{})
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := env.Engine.CreateAuction(context.Background(), cmd)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					created++
				case errors.Is(err, domain.ErrItemUnavailable):
					unavailable++
				}
			}()
		}
		close(start)
		wg.Wait()

		check.Equal(t, 1, created)
		check.Equal(t, 9, unavailable)
		list, err := env.Engine.ListAuctions(context.Background(), domain.AuctionFilter{})
		assert.NoError(t, err)
		check.Equal(t, 1, list.Total)
		check.Equal(t, domain.ItemReserved, itemStatus(t, env, cmd.ItemID))
	})

	t.Run("unknown item", func(t *testing.T) {
		env := auctiontest.NewEnv(t)
		_, err := env.Engine.CreateAuction(context.Background(), auctiontest.DefaultAuction())
		check.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("invalid windows", func(t *testing.T) {
		env := auctiontest.NewEnv(t)
		cmd := auctiontest.DefaultAuction()
		cmd.Whitelist.End = cmd.Bidding.Start.Add(time.Minute)
		env.Catalog.AddItem(cmd.ItemID)

		_, err := env.Engine.CreateAuction(context.Background(), cmd)
		check.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	})

	t.Run("starts in draft", func(t *testing.T) {
		env := auctiontest.NewEnv(t)
		a := env.CreateAuction(t)
		check.Equal(t, domain.StatusDraft, a.Status)
		check.True(t, a.CurrentHighestBid.Equal(a.StartingPrice))
		check.Equal(t, domain.ItemReserved, itemStatus(t, env, a.ItemID))
	})
}

func TestGetAuctionState(t *testing.T) {
	env := auctiontest.NewEnv(t)
	a := env.CreateAuction(t)
	alice, bob := uuid.New(), uuid.New()
	env.Activate(t, a, "1000", alice, bob)

	_, err := env.Bid(a.ID, alice, "110")
	assert.NoError(t, err)
	_, err = env.Bid(a.ID, bob, "120")
	assert.NoError(t, err)

	state, err := env.Engine.GetAuctionState(context.Background(), a.ID)
	assert.NoError(t, err)
	check.Equal(t, domain.StatusActive, state.Status)
	check.Equal(t, "120", state.CurrentHighestBid.String())
	check.Equal(t, "130", state.MinimumNextBid.String())
	check.Equal(t, 2, state.TotalBids)
	check.Equal(t, 2, state.TotalParticipants)
	check.Equal(t, bob, *state.CurrentWinner)
	check.Equal(t, 59*time.Minute, state.TimeRemaining)
	assert.Equal(t, 2, len(state.RecentBids))
	check.Equal(t, bob, state.RecentBids[0].BidderID)

	_, err = env.Engine.GetAuctionState(context.Background(), uuid.New())
	check.True(t, errors.Is(err, domain.ErrNotFound))
}
