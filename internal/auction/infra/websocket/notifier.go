package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/shared/websocket"
	"github.com/google/uuid"
)

// HubNotifier delivers domain events to the clients connected to this
// instance's hub.
type HubNotifier struct {
	hub *websocket.Hub
}

var _ domain.Notifier = (*HubNotifier)(nil)

func NewHubNotifier(hub *websocket.Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) BroadcastToAuction(_ context.Context, auctionID uuid.UUID, e domain.Event) error {
	data, err := encodeEvent(e)
	if err != nil {
		return err
	}
	if !n.hub.BroadcastToRoom(auctionID.String(), data) {
		return domain.NewError(domain.KindTransient, "hub is saturated, event %s dropped", e.Type)
	}
	return nil
}

func (n *HubNotifier) NotifyParticipant(_ context.Context, participantID uuid.UUID, e domain.Event) error {
	data, err := encodeEvent(e)
	if err != nil {
		return err
	}
	if !n.hub.SendToParticipant(participantID.String(), data) {
		return domain.NewError(domain.KindTransient, "hub is saturated, event %s dropped", e.Type)
	}
	return nil
}

func encodeEvent(e domain.Event) ([]byte, error) {
	data, err := json.Marshal(ServerEventMessage{
		BaseMessage: BaseMessage{Type: MessageTypeServerEvent},
		Payload:     e,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}
	return data, nil
}
