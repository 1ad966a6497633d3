package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func validParams() NewAuctionParams {
	return NewAuctionParams{
		ItemID:        "nft-1",
		Title:         "Genesis #1",
		StartingPrice: dec("100"),
		CreatedBy:     uuid.New(),
		Whitelist: WhitelistWindow{
			Start:           t0,
			End:             t0.Add(time.Hour),
			MaxParticipants: 10,
			EntryFee:        dec("5"),
			IsActive:        true,
		},
		Bidding: BiddingWindow{
			Start:        t0.Add(2 * time.Hour),
			End:          t0.Add(3 * time.Hour),
			MinIncrement: dec("10"),
		},
	}
}

func TestNewAuction(t *testing.T) {
	a, err := NewAuction(validParams(), t0)
	assert.NoError(t, err)
	check.Equal(t, StatusDraft, a.Status)
	check.Equal(t, "100", a.CurrentHighestBid.String())
	check.False(t, a.Whitelist.IsActive)
	check.Equal(t, 0, a.TotalBids)
	check.Nil(t, a.CurrentWinner)
	check.NotEqual(t, uuid.Nil, a.ID)
}

func TestNewAuction_InvalidInputs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *NewAuctionParams)
	}{
		{name: "missing item", mutate: func(p *NewAuctionParams) { p.ItemID = "" }},
		{name: "negative starting price", mutate: func(p *NewAuctionParams) { p.StartingPrice = dec("-1") }},
		{name: "empty whitelist window", mutate: func(p *NewAuctionParams) { p.Whitelist.End = p.Whitelist.Start }},
		{name: "inverted bidding window", mutate: func(p *NewAuctionParams) { p.Bidding.End = p.Bidding.Start.Add(-time.Minute) }},
		{name: "whitelist overlaps bidding", mutate: func(p *NewAuctionParams) { p.Whitelist.End = p.Bidding.Start.Add(time.Minute) }},
		{name: "zero capacity", mutate: func(p *NewAuctionParams) { p.Whitelist.MaxParticipants = 0 }},
		{name: "negative entry fee", mutate: func(p *NewAuctionParams) { p.Whitelist.EntryFee = dec("-5") }},
		{name: "negative increment", mutate: func(p *NewAuctionParams) { p.Bidding.MinIncrement = dec("-1") }},
		{name: "buy now below start", mutate: func(p *NewAuctionParams) { p.Bidding.BuyNowPrice = decPtr("100") }},
		{name: "reserve below start", mutate: func(p *NewAuctionParams) { p.Bidding.ReservePrice = decPtr("50") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			a, err := NewAuction(p, t0)
			check.Nil(t, a)
			check.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestNewAuction_WhitelistMayEndWhenBiddingStarts(t *testing.T) {
	p := validParams()
	p.Whitelist.End = p.Bidding.Start
	_, err := NewAuction(p, t0)
	check.NoError(t, err)
}

func TestValidateBidAmount(t *testing.T) {
	p := validParams()
	p.Bidding.BuyNowPrice = decPtr("500")
	a, err := NewAuction(p, t0)
	assert.NoError(t, err)

	tests := []struct {
		name    string
		amount  string
		bidType BidType
		want    error
	}{
		{name: "at minimum", amount: "110", bidType: BidTypeRegular},
		{name: "above minimum", amount: "150.50", bidType: BidTypeRegular},
		{name: "below increment", amount: "105", bidType: BidTypeRegular, want: ErrBidTooLow},
		{name: "equal to highest", amount: "100", bidType: BidTypeRegular, want: ErrBidTooLow},
		{name: "zero", amount: "0", bidType: BidTypeRegular, want: ErrInvalidInput},
		{name: "negative", amount: "-10", bidType: BidTypeRegular, want: ErrInvalidInput},
		{name: "exact buy now", amount: "500", bidType: BidTypeBuyNow},
		{name: "buy now mismatch", amount: "499", bidType: BidTypeBuyNow, want: ErrBuyNowMismatch},
		{name: "unknown type", amount: "200", bidType: BidType("SNIPE"), want: ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.ValidateBidAmount(dec(tt.amount), tt.bidType)
			if tt.want == nil {
				check.NoError(t, err)
				return
			}
			check.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestValidateBidAmount_NoBuyNowConfigured(t *testing.T) {
	a, err := NewAuction(validParams(), t0)
	assert.NoError(t, err)
	err = a.ValidateBidAmount(dec("500"), BidTypeBuyNow)
	check.Equal(t, KindBuyNowMismatch, KindOf(err))
}

func TestMinimumNextBidFollowsHighest(t *testing.T) {
	a, err := NewAuction(validParams(), t0)
	assert.NoError(t, err)
	check.Equal(t, "110", a.MinimumNextBid().String())

	a.CurrentHighestBid = dec("120")
	check.Equal(t, "130", a.MinimumNextBid().String())
	check.True(t, errors.Is(a.ValidateBidAmount(dec("115"), BidTypeRegular), ErrBidTooLow))
}

func TestReserveMet(t *testing.T) {
	p := validParams()
	p.Bidding.ReservePrice = decPtr("200")
	a, err := NewAuction(p, t0)
	assert.NoError(t, err)
	check.False(t, a.ReserveMet())

	a.CurrentHighestBid = dec("200")
	check.True(t, a.ReserveMet())

	a.Bidding.ReservePrice = nil
	a.CurrentHighestBid = dec("100")
	check.True(t, a.ReserveMet())
}

func TestClone_IsDeep(t *testing.T) {
	p := validParams()
	p.Bidding.ReservePrice = decPtr("150")
	a, err := NewAuction(p, t0)
	assert.NoError(t, err)
	winner := uuid.New()
	a.CurrentWinner = &winner

	c := a.Clone()
	*c.CurrentWinner = uuid.New()
	*c.Bidding.ReservePrice = dec("999")

	check.Equal(t, winner, *a.CurrentWinner)
	check.Equal(t, "150", a.Bidding.ReservePrice.String())
}
