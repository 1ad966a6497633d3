package domain

import (
	"time"

	"github.com/google/uuid"
)

// HistoryAction enumerates the audit trail entries.
type HistoryAction string

const (
	ActionWhitelistJoined  HistoryAction = "whitelist_joined"
	ActionWhitelistOpened  HistoryAction = "whitelist_opened"
	ActionWhitelistClosed  HistoryAction = "whitelist_closed"
	ActionBidPlaced        HistoryAction = "bid_placed"
	ActionBidOutbid        HistoryAction = "bid_outbid"
	ActionAuctionStarted   HistoryAction = "auction_started"
	ActionAuctionWon       HistoryAction = "auction_won"
	ActionAuctionEnded     HistoryAction = "auction_ended"
	ActionAuctionCancelled HistoryAction = "auction_cancelled"
)

// SystemActorID stands in as actor for events without a participant.
var SystemActorID = uuid.Nil

// HistoryEvent is an append-only audit record.
type HistoryEvent struct {
	ID        uuid.UUID
	AuctionID uuid.UUID
	ActorID   *uuid.UUID
	Action    HistoryAction
	Details   map[string]any
	Timestamp time.Time
}

func NewHistoryEvent(auctionID uuid.UUID, actor *uuid.UUID, action HistoryAction, details map[string]any, now time.Time) *HistoryEvent {
	if details == nil {
		details = map[string]any{}
	}
	return &HistoryEvent{
		ID:        uuid.New(),
		AuctionID: auctionID,
		ActorID:   actor,
		Action:    action,
		Details:   details,
		Timestamp: now,
	}
}
