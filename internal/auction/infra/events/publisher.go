// Package events carries auction notifications between service instances
// over NATS. Publisher is the engine's Notifier when NATS is configured,
// and Relay feeds what any instance published into the local ws hub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/shared/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

const (
	StreamName = "AUCTION_EVENTS"

	auctionSubjectPrefix     = "auction.events."
	participantSubjectPrefix = "auction.participants."
)

// AuctionSubject is the subject of events broadcast to an auction room.
func AuctionSubject(auctionID uuid.UUID) string {
	return auctionSubjectPrefix + auctionID.String()
}

// ParticipantSubject is the subject of events aimed at one participant.
func ParticipantSubject(participantID uuid.UUID) string {
	return participantSubjectPrefix + participantID.String()
}

// Publisher implements domain.Notifier on top of JetStream, so every event
// is also kept in the AUCTION_EVENTS stream for replay and audit consumers.
type Publisher struct {
	js jetstream.JetStream
}

var _ domain.Notifier = (*Publisher)(nil)

// NewPublisher creates the JetStream context and makes sure the stream exists.
func NewPublisher(ctx context.Context, conn *nats.Conn, maxAge time.Duration) (*Publisher, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Auction room and participant notifications",
		Subjects:    []string{auctionSubjectPrefix + "*", participantSubjectPrefix + "*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      maxAge,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}
	log.Info("JetStream stream ready", zap.String("stream", StreamName))
	return &Publisher{js: js}, nil
}

func (p *Publisher) BroadcastToAuction(ctx context.Context, auctionID uuid.UUID, e domain.Event) error {
	return p.publish(ctx, AuctionSubject(auctionID), e)
}

func (p *Publisher) NotifyParticipant(ctx context.Context, participantID uuid.UUID, e domain.Event) error {
	return p.publish(ctx, ParticipantSubject(participantID), e)
}

func (p *Publisher) publish(ctx context.Context, subject string, e domain.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		log.Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.String("event", string(e.Type)),
			zap.Error(err),
		)
		return domain.WrapError(domain.KindTransient, err, "failed to publish event")
	}
	return nil
}
