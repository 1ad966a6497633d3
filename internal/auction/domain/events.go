package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names the real-time notifications pushed to viewers.
type EventType string

const (
	EventWhitelistOpened   EventType = "whitelist_opened"
	EventWhitelistClosed   EventType = "whitelist_closed"
	EventWhitelistJoined   EventType = "whitelist_joined"
	EventAuctionStarted    EventType = "auction_started"
	EventBidPlaced         EventType = "bid_placed"
	EventOutbid            EventType = "outbid"
	EventAuctionEndingSoon EventType = "auction_ending_soon"
	EventAuctionEnded      EventType = "auction_ended"
	EventAuctionWon        EventType = "auction_won"
	EventAuctionCancelled  EventType = "auction_cancelled"
	EventBidJobCompleted   EventType = "bid_job_completed"
	EventBidJobFailed      EventType = "bid_job_failed"
)

// Event is a notification delivered to an auction room or a participant.
type Event struct {
	Type      EventType      `json:"type"`
	AuctionID uuid.UUID      `json:"auction_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewEvent(t EventType, auctionID uuid.UUID, payload map[string]any, now time.Time) Event {
	return Event{Type: t, AuctionID: auctionID, Payload: payload, Timestamp: now}
}
