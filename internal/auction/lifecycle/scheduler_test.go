package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/application"
	"github.com/cristianortiz/timedAuction/internal/auction/auctiontest"
	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/auction/lifecycle"
	"github.com/cristianortiz/timedAuction/internal/ledger"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func newScheduler(env *auctiontest.Env) *lifecycle.Scheduler {
	return lifecycle.NewScheduler(env.Store, env.Engine, lifecycle.Options{
		Interval: time.Minute,
		Clock:    env.Clock.Now,
	})
}

func TestTick_WalksTheLifecycle(t *testing.T) {
	ctx := context.Background()
	env := auctiontest.NewEnv(t)
	s := newScheduler(env)
	a := env.CreateAuction(t)
	alice := uuid.New()
	env.Fund(alice, "1000")

	report := s.Tick(ctx)
	check.Equal(t, 0, report.Transitions)
	check.Equal(t, domain.StatusDraft, env.Auction(t, a.ID).Status)

	env.Clock.Set(auctiontest.T0.Add(time.Minute))
	report = s.Tick(ctx)
	check.Equal(t, 1, report.Transitions)
	opened := env.Auction(t, a.ID)
	check.Equal(t, domain.StatusWhitelistOpen, opened.Status)
	check.True(t, opened.Whitelist.IsActive)
	check.Equal(t, 1, len(env.Notifier.Room(a.ID, domain.EventWhitelistOpened)))

	_, err := env.Engine.JoinWhitelist(ctx, application.JoinWhitelistDTO{AuctionID: a.ID, ParticipantID: alice})
	assert.NoError(t, err)

	env.Clock.Set(a.Whitelist.End)
	check.Equal(t, 1, s.Tick(ctx).Transitions)
	closed := env.Auction(t, a.ID)
	check.Equal(t, domain.StatusWhitelistClosed, closed.Status)
	check.False(t, closed.Whitelist.IsActive)

	// nothing is due between the two windows
	env.Clock.Set(a.Bidding.Start.Add(-time.Minute))
	check.Equal(t, 0, s.Tick(ctx).Transitions)

	env.Clock.Set(a.Bidding.Start)
	check.Equal(t, 1, s.Tick(ctx).Transitions)
	check.Equal(t, domain.StatusActive, env.Auction(t, a.ID).Status)
	status, err := env.Catalog.GetItemStatus(ctx, a.ItemID)
	assert.NoError(t, err)
	check.Equal(t, domain.ItemInAuction, status)

	res, err := env.Bid(a.ID, alice, "150")
	assert.NoError(t, err)

	env.Clock.Set(a.Bidding.End)
	check.Equal(t, 1, s.Tick(ctx).Transitions)
	ended := env.Auction(t, a.ID)
	check.Equal(t, domain.StatusEnded, ended.Status)
	tx, ok := env.Ledger.Transaction(res.Bid.FundsTransactionRef)
	assert.True(t, ok)
	check.Equal(t, ledger.TxSettled, tx.State)
	status, err = env.Catalog.GetItemStatus(ctx, a.ItemID)
	assert.NoError(t, err)
	check.Equal(t, domain.ItemSold, status)

	// terminal auctions are left alone
	env.Clock.Advance(time.Hour)
	check.Equal(t, 0, s.Tick(ctx).Transitions)

	history, err := env.Engine.GetHistory(ctx, domain.HistoryFilter{AuctionID: &a.ID})
	assert.NoError(t, err)
	actions := map[domain.HistoryAction]int{}
	for _, h := range history.Items {
		actions[h.Action]++
	}
	check.Equal(t, 1, actions[domain.ActionWhitelistOpened])
	check.Equal(t, 1, actions[domain.ActionWhitelistClosed])
	check.Equal(t, 1, actions[domain.ActionAuctionStarted])
	check.Equal(t, 1, actions[domain.ActionAuctionEnded])
	check.Equal(t, 1, actions[domain.ActionAuctionWon])
}

func TestTick_MissedWindowStaysPut(t *testing.T) {
	env := auctiontest.NewEnv(t)
	s := newScheduler(env)
	a := env.CreateAuction(t)

	// the scheduler was down for the whole whitelist window
	env.Clock.Set(a.Whitelist.End.Add(time.Minute))
	check.Equal(t, 0, s.Tick(context.Background()).Transitions)
	check.Equal(t, domain.StatusDraft, env.Auction(t, a.ID).Status)
}

func TestTick_ConcurrentTicksEndOnce(t *testing.T) {
	env := auctiontest.NewEnv(t)
	a := env.CreateAuction(t)
	alice := uuid.New()
	env.Activate(t, a, "1000", alice)
	_, err := env.Bid(a.ID, alice, "150")
	assert.NoError(t, err)
	env.Clock.Set(a.Bidding.End)

	schedulers := []*lifecycle.Scheduler{newScheduler(env), newScheduler(env), newScheduler(env)}
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		moved int
	)
	for _, s := range schedulers {
		wg.Add(1)
		go func(s *lifecycle.Scheduler) {
			defer wg.Done()
			r := s.Tick(context.Background())
			mu.Lock()
			moved += r.Transitions
			mu.Unlock()
		}(s)
	}
	wg.Wait()

	check.Equal(t, 1, moved)
	history, err := env.Engine.GetHistory(context.Background(), domain.HistoryFilter{
		AuctionID: &a.ID,
		Actions:   []domain.HistoryAction{domain.ActionAuctionEnded},
	})
	assert.NoError(t, err)
	check.Equal(t, 1, history.Total)
	check.Equal(t, 1, len(env.Notifier.Room(a.ID, domain.EventAuctionEnded)))
}

func TestTick_EndingSoonIsSentOncePerOffset(t *testing.T) {
	ctx := context.Background()
	env := auctiontest.NewEnv(t)
	s := newScheduler(env)
	a := env.CreateAuction(t)
	env.Activate(t, a, "100")

	env.Clock.Set(a.Bidding.End.Add(-5*time.Minute - 10*time.Second))
	check.Equal(t, 1, s.Tick(ctx).EndingSoon)
	check.Equal(t, 0, s.Tick(ctx).EndingSoon)

	// still inside the tolerance on the other side
	env.Clock.Advance(20 * time.Second)
	check.Equal(t, 0, s.Tick(ctx).EndingSoon)

	events := env.Notifier.Room(a.ID, domain.EventAuctionEndingSoon)
	assert.Equal(t, 1, len(events))
	check.Equal(t, 5, events[0].Payload["minutes_remaining"].(int))

	env.Clock.Set(a.Bidding.End.Add(-time.Minute))
	check.Equal(t, 1, s.Tick(ctx).EndingSoon)
	check.Equal(t, 2, len(env.Notifier.Room(a.ID, domain.EventAuctionEndingSoon)))
}

func TestTriggerStateTransition(t *testing.T) {
	ctx := context.Background()
	env := auctiontest.NewEnv(t)
	s := newScheduler(env)
	a := env.CreateAuction(t)

	res, err := s.TriggerStateTransition(ctx, a.ID)
	assert.NoError(t, err)
	check.False(t, res.Transitioned)
	check.Equal(t, domain.StatusDraft, res.From)
	check.Equal(t, domain.StatusDraft, res.To)

	env.Clock.Set(a.Whitelist.Start)
	res, err = s.TriggerStateTransition(ctx, a.ID)
	assert.NoError(t, err)
	check.True(t, res.Transitioned)
	check.Equal(t, domain.StatusWhitelistOpen, res.To)

	_, err = s.TriggerStateTransition(ctx, uuid.New())
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestGetLifecycleStatus(t *testing.T) {
	ctx := context.Background()
	env := auctiontest.NewEnv(t)
	s := newScheduler(env)
	a := env.CreateAuction(t)

	st, err := s.GetLifecycleStatus(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, domain.StatusDraft, st.Status)
	assert.NotNil(t, st.Next)
	check.Equal(t, domain.StatusWhitelistOpen, st.Next.To)
	check.Equal(t, auctiontest.T0, st.Next.ScheduledAt)
	check.Equal(t, time.Hour, st.Next.TimeRemaining)
	assert.Equal(t, 5, len(st.Timeline))
	check.True(t, st.Timeline[0].Completed)
	check.False(t, st.Timeline[1].Completed)

	env.Activate(t, a, "100")
	st, err = s.GetLifecycleStatus(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, domain.StatusActive, st.Status)
	check.Equal(t, domain.StatusEnded, st.Next.To)
	check.Equal(t, 59*time.Minute, st.Next.TimeRemaining)
	for i, stage := range st.Timeline {
		check.Equal(t, i < 4, stage.Completed)
	}

	_, err = env.Engine.EndAuction(ctx, a.ID)
	assert.NoError(t, err)
	st, err = s.GetLifecycleStatus(ctx, a.ID)
	assert.NoError(t, err)
	check.Nil(t, st.Next)
	check.True(t, st.Timeline[4].Completed)
}

func TestRun_StopsWithContext(t *testing.T) {
	env := auctiontest.NewEnv(t)
	s := lifecycle.NewScheduler(env.Store, env.Engine, lifecycle.Options{
		Interval: 10 * time.Millisecond,
		Clock:    env.Clock.Now,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
