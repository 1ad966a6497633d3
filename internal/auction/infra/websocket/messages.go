package websocket

import (
	"github.com/cristianortiz/timedAuction/internal/auction/application"
	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MessageType defines ws type message
type MessageType string

const (
	MessageTypeClientBid          MessageType = "client_bid"           // client msg to make a bid
	MessageTypeClientPing         MessageType = "client_ping"          // client keepalive at the application level
	MessageTypeServerEvent        MessageType = "server_event"         // server msg wrapping an auction event
	MessageTypeServerBidResult    MessageType = "server_bid_result"    // server msg with the outcome of a direct bid
	MessageTypeServerBidQueued    MessageType = "server_bid_queued"    // server msg with the job of a queued bid
	MessageTypeServerError        MessageType = "server_error"         // server msg indicating error
	MessageTypeServerInfo         MessageType = "server_info"          // server msg with general info
	MessageTypeServerInitialState MessageType = "server_initial_state" // server msg with auction state on connect
)

// BaseMessage is base struct for all the WS messages, includes a Type field for identify the message type
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// ClientBidMessage is DTO for a bid message sent by the client
type ClientBidMessage struct {
	BaseMessage
	Payload struct {
		AuctionID uuid.UUID       `json:"auction_id"`
		BidderID  uuid.UUID       `json:"bidder_id"`
		Amount    decimal.Decimal `json:"amount"`
		Type      domain.BidType  `json:"bid_type,omitempty"`
	} `json:"payload"`
}

// ServerEventMessage carries a domain event to room or participant sessions.
type ServerEventMessage struct {
	BaseMessage
	Payload domain.Event `json:"payload"`
}

type ServerBidResultMessage struct {
	BaseMessage
	Payload struct {
		BidID      uuid.UUID            `json:"bid_id"`
		Amount     decimal.Decimal      `json:"amount"`
		IsWinning  bool                 `json:"is_winning"`
		Ended      bool                 `json:"ended"`
		HighestBid decimal.Decimal      `json:"highest_bid"`
		Status     domain.AuctionStatus `json:"auction_status"`
	} `json:"payload"`
}

type ServerBidQueuedMessage struct {
	BaseMessage
	Payload struct {
		JobID    uuid.UUID `json:"job_id"`
		Priority string    `json:"priority"`
		State    string    `json:"state"`
	} `json:"payload"`
}

type ServerErrorMessage struct {
	BaseMessage
	Payload struct {
		Error string `json:"error"`
		Kind  string `json:"kind,omitempty"`
	} `json:"payload"`
}

// ServerInfoMessage is a general information message sent by the server.
type ServerInfoMessage struct {
	BaseMessage
	Payload struct {
		Message string `json:"message"`
	} `json:"payload"`
}

// ServerInitialStateMessage is the auction state sent to a client when it connects.
type ServerInitialStateMessage struct {
	BaseMessage
	Payload *application.AuctionStateDTO `json:"payload"`
}
