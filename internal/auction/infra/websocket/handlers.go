package websocket

import (
	"context"
	"encoding/json"

	"github.com/cristianortiz/timedAuction/internal/auction/application"
	"github.com/cristianortiz/timedAuction/internal/auction/bidqueue"
	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/shared/logger"
	"github.com/cristianortiz/timedAuction/internal/shared/websocket"
	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// BidSubmitter is the queue surface used for high-traffic auctions.
type BidSubmitter interface {
	Submit(ctx context.Context, bid application.PlaceBidDTO) (*bidqueue.Job, error)
}

// Gate is the access and rate guard surface used by the ws layer.
type Gate interface {
	CheckAccess(ctx context.Context, auctionID, participantID uuid.UUID) (*domain.Auction, error)
	AllowBid(ctx context.Context, participantID uuid.UUID) error
	AllowConnection(ctx context.Context, origin string) error
}

// AuctionWSHandler handles the ws inbound msgs wich are specific for auction module (remember is a bounded context)
type AuctionWSHandler struct {
	auctionService application.AuctionService // application layer dependency
	queue          BidSubmitter
	gate           Gate
	hub            *websocket.Hub // shared hub dependency to send msgs
}

// NewAuctionWSHandler creates a new instance of AuctionWSHandler. queue may
// be nil, in which case every bid takes the direct path.
func NewAuctionWSHandler(auctionService application.AuctionService, queue BidSubmitter, gate Gate, hub *websocket.Hub) *AuctionWSHandler {
	return &AuctionWSHandler{
		auctionService: auctionService,
		queue:          queue,
		gate:           gate,
		hub:            hub,
	}
}

// RegisterRoutes mounts the auction room endpoint:
// GET /ws/auctions/:id?participant_id=<uuid>
func (h *AuctionWSHandler) RegisterRoutes(app fiber.Router) {
	app.Get("/ws/auctions/:id", h.upgrade, fiberws.New(h.serve))
}

// upgrade runs the connection checks while a plain HTTP error can still be
// returned to the client.
func (h *AuctionWSHandler) upgrade(c *fiber.Ctx) error {
	if !fiberws.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if err := h.gate.AllowConnection(c.UserContext(), c.IP()); err != nil {
		log.Warn("WS connection refused by rate limit", zap.String("ip", c.IP()))
		return fiber.NewError(fiber.StatusTooManyRequests, domain.Reason(err))
	}
	auctionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid auction id")
	}

	participant := c.Query("participant_id")
	if participant != "" {
		participantID, err := uuid.Parse(participant)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid participant id")
		}
		if _, err := h.gate.CheckAccess(c.UserContext(), auctionID, participantID); err != nil {
			log.Warn("WS connection refused",
				zap.String("auctionID", auctionID.String()),
				zap.String("participantID", participant),
				zap.Error(err),
			)
			return fiber.NewError(fiber.StatusForbidden, domain.Reason(err))
		}
	}

	c.Locals("auctionID", auctionID)
	c.Locals("participantID", participant)
	return c.Next()
}

// serve owns one connection for its whole life. The fiber ws handler must
// block until the connection is done.
func (h *AuctionWSHandler) serve(conn *fiberws.Conn) {
	auctionID, _ := conn.Locals("auctionID").(uuid.UUID)
	participant, _ := conn.Locals("participantID").(string)

	client := &websocket.Client{
		Hub:           h.hub,
		Conn:          conn,
		Send:          make(chan []byte, websocket.SendBuffer),
		Room:          auctionID.String(),
		ParticipantID: participant,
		ID:            uuid.NewString(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the initial state goes first, before any room broadcast
	state, err := h.auctionService.GetAuctionState(ctx, auctionID)
	if err != nil {
		log.Error("Failed to load initial auction state",
			zap.String("auctionID", auctionID.String()),
			zap.Error(err),
		)
		_ = conn.Close()
		return
	}
	if data, err := json.Marshal(ServerInitialStateMessage{
		BaseMessage: BaseMessage{Type: MessageTypeServerInitialState},
		Payload:     state,
	}); err == nil {
		client.Send <- data
	}

	h.hub.RegisterClient(client)
	go client.WritePump(ctx)
	client.ReadPump(ctx)
}

// ListenForMessages starts a go routine that listen the Hub inbound channel for messages and proccess every one of them
func (h *AuctionWSHandler) ListenForMessages(ctx context.Context) {
	log.Info("AuctionWSHandler started listening for inbound messages from hub")
	for {
		select {
		case <-ctx.Done():
			log.Info("AuctionWSHandler stopped listening for inbound messages from hub")
			return
		case msg := <-h.hub.InboundMessages:
			go h.processMessage(ctx, msg.Client, msg.Data)
		}
	}
}

// processMessage dispatch the message by this type
func (h *AuctionWSHandler) processMessage(ctx context.Context, client *websocket.Client, data []byte) {
	var baseMsg BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		h.sendErrorToClient(client, "invalid message format", "")
		return
	}
	switch baseMsg.Type {
	case MessageTypeClientBid:
		h.handleClientBidMessage(ctx, client, data)
	case MessageTypeClientPing:
		msg := ServerInfoMessage{BaseMessage: BaseMessage{Type: MessageTypeServerInfo}}
		msg.Payload.Message = "pong"
		h.sendToClient(client, msg)
	default:
		h.sendErrorToClient(client, "unknown message type", "")
	}
}

func (h *AuctionWSHandler) handleClientBidMessage(ctx context.Context, client *websocket.Client, data []byte) {
	var bidMsg ClientBidMessage
	if err := json.Unmarshal(data, &bidMsg); err != nil {
		h.sendErrorToClient(client, "invalid bid message format", domain.KindInvalidInput.String())
		return
	}
	p := bidMsg.Payload

	if p.AuctionID.String() != client.Room {
		h.sendErrorToClient(client, "auction ID mismatch", domain.KindInvalidInput.String())
		return
	}
	// anonymous viewers can watch but not bid, and a session bids as itself
	if client.ParticipantID == "" || p.BidderID.String() != client.ParticipantID {
		h.sendErrorToClient(client, "bidder does not match the connected participant", domain.KindNotWhitelisted.String())
		return
	}
	if err := h.gate.AllowBid(ctx, p.BidderID); err != nil {
		h.sendDomainError(client, err)
		return
	}

	cmd := application.PlaceBidDTO{
		AuctionID: p.AuctionID,
		BidderID:  p.BidderID,
		Amount:    p.Amount,
		Type:      p.Type,
		Metadata:  domain.BidMetadata{Source: "websocket", ClientIP: client.Conn.IP()},
	}

	if h.queue != nil {
		useQueue, err := h.auctionService.ShouldUseQueue(ctx, cmd.AuctionID)
		if err != nil {
			h.sendDomainError(client, err)
			return
		}
		if useQueue {
			cmd.Metadata.Source = "websocket_queue"
			job, err := h.queue.Submit(ctx, cmd)
			if err != nil {
				h.sendDomainError(client, err)
				return
			}
			msg := ServerBidQueuedMessage{BaseMessage: BaseMessage{Type: MessageTypeServerBidQueued}}
			msg.Payload.JobID = job.ID
			msg.Payload.Priority = job.Priority.String()
			msg.Payload.State = string(job.State)
			h.sendToClient(client, msg)
			return
		}
	}

	res, err := h.auctionService.PlaceBid(ctx, cmd)
	if err != nil {
		h.sendDomainError(client, err)
		return
	}
	// the room learns about the new highest bid through the notifier
	msg := ServerBidResultMessage{BaseMessage: BaseMessage{Type: MessageTypeServerBidResult}}
	msg.Payload.BidID = res.Bid.ID
	msg.Payload.Amount = res.Bid.Amount
	msg.Payload.IsWinning = res.IsWinning
	msg.Payload.Ended = res.Ended
	if res.Auction != nil {
		msg.Payload.HighestBid = res.Auction.CurrentHighestBid
		msg.Payload.Status = res.Auction.Status
	}
	h.sendToClient(client, msg)
}

func (h *AuctionWSHandler) sendDomainError(client *websocket.Client, err error) {
	h.sendErrorToClient(client, domain.Reason(err), domain.KindOf(err).String())
}

// sendErrorToClient serializes and sends an error msg to a specific client
func (h *AuctionWSHandler) sendErrorToClient(client *websocket.Client, errorMessage, kind string) {
	errMsg := ServerErrorMessage{
		BaseMessage: BaseMessage{MessageTypeServerError},
	}
	errMsg.Payload.Error = errorMessage
	errMsg.Payload.Kind = kind
	h.sendToClient(client, errMsg)
}

func (h *AuctionWSHandler) sendToClient(client *websocket.Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("failed to marshal ws message", zap.Error(err))
		return
	}
	if !h.hub.SendToClient(client, data) {
		log.Warn("could not queue message for client", zap.String("clientID", client.ID))
	}
}
