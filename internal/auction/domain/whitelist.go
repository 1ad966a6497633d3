package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WhitelistStatus string

// Entries are only written after the entry fee was charged, so CONFIRMED is
// the only status they ever carry.
const WhitelistStatusConfirmed WhitelistStatus = "CONFIRMED"

// WhitelistEntry is one participant's paid registration for an auction.
type WhitelistEntry struct {
	ID            uuid.UUID
	AuctionID     uuid.UUID
	ParticipantID uuid.UUID
	EntryFeePaid  decimal.Decimal
	PaymentRef    string
	Status        WhitelistStatus
	JoinedAt      time.Time
}

func NewWhitelistEntry(auctionID, participantID uuid.UUID, fee decimal.Decimal, paymentRef string, now time.Time) *WhitelistEntry {
	return &WhitelistEntry{
		ID:            uuid.New(),
		AuctionID:     auctionID,
		ParticipantID: participantID,
		EntryFeePaid:  fee,
		PaymentRef:    paymentRef,
		Status:        WhitelistStatusConfirmed,
		JoinedAt:      now,
	}
}

func (e *WhitelistEntry) IsConfirmed() bool {
	return e != nil && e.Status == WhitelistStatusConfirmed
}
