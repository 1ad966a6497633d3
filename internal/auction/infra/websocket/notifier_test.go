package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/shared/websocket"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestHubNotifier(t *testing.T) {
	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	auctionID, participantID := uuid.New(), uuid.New()
	client := &websocket.Client{
		Hub:           hub,
		Send:          make(chan []byte, websocket.SendBuffer),
		Room:          auctionID.String(),
		ParticipantID: participantID.String(),
		ID:            uuid.NewString(),
	}
	hub.RegisterClient(client)
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 1, hub.ClientCount())

	n := NewHubNotifier(hub)
	now := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	assert.NoError(t, n.BroadcastToAuction(ctx, auctionID,
		domain.NewEvent(domain.EventBidPlaced, auctionID, map[string]any{"amount": "120"}, now)))
	assert.NoError(t, n.NotifyParticipant(ctx, participantID,
		domain.NewEvent(domain.EventOutbid, auctionID, map[string]any{"new_amount": "130"}, now)))

	for _, want := range []domain.EventType{domain.EventBidPlaced, domain.EventOutbid} {
		select {
		case data := <-client.Send:
			var msg ServerEventMessage
			assert.NoError(t, json.Unmarshal(data, &msg))
			check.Equal(t, MessageTypeServerEvent, msg.Type)
			check.Equal(t, want, msg.Payload.Type)
			check.Equal(t, auctionID, msg.Payload.AuctionID)
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s event delivered", want)
		}
	}
}

func TestHubNotifier_Saturated(t *testing.T) {
	// the hub is not running, so its broadcast buffer fills up
	hub := websocket.NewHub()
	n := NewHubNotifier(hub)
	ev := domain.NewEvent(domain.EventBidPlaced, uuid.New(), nil, time.Now())

	var err error
	for i := 0; i < 1000 && err == nil; i++ {
		err = n.BroadcastToAuction(context.Background(), ev.AuctionID, ev)
	}
	check.True(t, domain.IsTransient(err))
}
