package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Relay subscribes to the auction subjects with core NATS and hands every
// event to a local notifier, usually the ws hub of this instance.
type Relay struct {
	conn  *nats.Conn
	local domain.Notifier
	subs  []*nats.Subscription
}

func NewRelay(conn *nats.Conn, local domain.Notifier) *Relay {
	return &Relay{conn: conn, local: local}
}

// Run subscribes and blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	for _, subject := range []string{auctionSubjectPrefix + "*", participantSubjectPrefix + "*"} {
		sub, err := r.conn.Subscribe(subject, func(msg *nats.Msg) {
			r.handleMessage(ctx, msg)
		})
		if err != nil {
			r.unsubscribe()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
		log.Info("Subscribed to NATS subject", zap.String("subject", subject))
	}

	<-ctx.Done()
	r.unsubscribe()
	return nil
}

func (r *Relay) unsubscribe() {
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug("Failed to unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	r.subs = nil
}

func (r *Relay) handleMessage(ctx context.Context, msg *nats.Msg) {
	var e domain.Event
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		log.Warn("Failed to unmarshal event", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}

	var err error
	switch {
	case strings.HasPrefix(msg.Subject, auctionSubjectPrefix):
		err = r.local.BroadcastToAuction(ctx, e.AuctionID, e)
	case strings.HasPrefix(msg.Subject, participantSubjectPrefix):
		var participantID uuid.UUID
		participantID, err = uuid.Parse(strings.TrimPrefix(msg.Subject, participantSubjectPrefix))
		if err == nil {
			err = r.local.NotifyParticipant(ctx, participantID, e)
		}
	}
	if err != nil {
		log.Warn("Failed to relay event",
			zap.String("subject", msg.Subject),
			zap.String("event", string(e.Type)),
			zap.Error(err),
		)
	}
}
