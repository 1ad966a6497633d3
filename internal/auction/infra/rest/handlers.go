// Package rest exposes the auction module over HTTP with fiber.
package rest

import (
	"context"
	"strings"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/application"
	"github.com/cristianortiz/timedAuction/internal/auction/bidqueue"
	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/auction/lifecycle"
	"github.com/cristianortiz/timedAuction/internal/shared/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// BidQueue is the queue surface exposed over HTTP.
type BidQueue interface {
	Submit(ctx context.Context, bid application.PlaceBidDTO) (*bidqueue.Job, error)
	GetJob(id uuid.UUID) (*bidqueue.Job, error)
	Retry(id uuid.UUID) (*bidqueue.Job, error)
	Remove(id uuid.UUID) error
	Cleanup(grace time.Duration) int
	Pause()
	Resume()
	Metrics() bidqueue.Metrics
	Health() bidqueue.Health
}

// Lifecycle is the scheduler surface exposed over HTTP.
type Lifecycle interface {
	TriggerStateTransition(ctx context.Context, auctionID uuid.UUID) (*lifecycle.TransitionResult, error)
	GetLifecycleStatus(ctx context.Context, auctionID uuid.UUID) (*lifecycle.LifecycleStatus, error)
}

// RateGate rate limits bid submissions.
type RateGate interface {
	AllowBid(ctx context.Context, participantID uuid.UUID) error
}

// AuctionHandler serves the auction REST API.
type AuctionHandler struct {
	service   application.AuctionService
	lifecycle Lifecycle
	queue     BidQueue
	gate      RateGate
}

func NewAuctionHandler(service application.AuctionService, lc Lifecycle, queue BidQueue, gate RateGate) *AuctionHandler {
	return &AuctionHandler{service: service, lifecycle: lc, queue: queue, gate: gate}
}

// RegisterRoutes mounts every endpoint under /api/v1.
func (h *AuctionHandler) RegisterRoutes(app fiber.Router) {
	api := app.Group("/api/v1")

	auctions := api.Group("/auctions")
	auctions.Post("/", h.CreateAuction)
	auctions.Get("/", h.ListAuctions)
	auctions.Get("/:id", h.GetAuction)
	auctions.Get("/:id/state", h.GetAuctionState)
	auctions.Post("/:id/whitelist", h.JoinWhitelist)
	auctions.Get("/:id/whitelist/:participantId", h.GetWhitelistEntry)
	auctions.Post("/:id/bids", h.PlaceBid)
	auctions.Get("/:id/bids", h.ListAuctionBids)
	auctions.Post("/:id/bids/validate", h.ValidateBid)
	auctions.Post("/:id/end", h.EndAuction)
	auctions.Post("/:id/cancel", h.CancelAuction)
	auctions.Get("/:id/history", h.GetHistory)
	auctions.Get("/:id/lifecycle", h.GetLifecycleStatus)
	auctions.Post("/:id/lifecycle/trigger", h.TriggerTransition)

	api.Get("/participants/:participantId/bids", h.ListParticipantBids)

	if h.queue != nil {
		queue := api.Group("/queue")
		queue.Get("/metrics", h.QueueMetrics)
		queue.Get("/health", h.QueueHealth)
		queue.Post("/pause", h.PauseQueue)
		queue.Post("/resume", h.ResumeQueue)
		queue.Post("/cleanup", h.CleanupQueue)
		queue.Get("/jobs/:jobId", h.GetJob)
		queue.Post("/jobs/:jobId/retry", h.RetryJob)
		queue.Delete("/jobs/:jobId", h.RemoveJob)
	}
}

func (h *AuctionHandler) CreateAuction(c *fiber.Ctx) error {
	var req createAuctionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	a, err := h.service.CreateAuction(c.UserContext(), application.CreateAuctionDTO{
		ItemID:        req.ItemID,
		Title:         req.Title,
		Description:   req.Description,
		StartingPrice: req.StartingPrice,
		CreatedBy:     req.CreatedBy,
		Whitelist: domain.WhitelistWindow{
			Start:           req.Whitelist.Start,
			End:             req.Whitelist.End,
			MaxParticipants: req.Whitelist.MaxParticipants,
			EntryFee:        req.Whitelist.EntryFee,
		},
		Bidding: domain.BiddingWindow{
			Start:        req.Bidding.Start,
			End:          req.Bidding.End,
			MinIncrement: req.Bidding.MinIncrement,
			ReservePrice: req.Bidding.ReservePrice,
			BuyNowPrice:  req.Bidding.BuyNowPrice,
		},
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toAuctionResponse(a))
}

func (h *AuctionHandler) ListAuctions(c *fiber.Ctx) error {
	f, err := auctionFilterFromQuery(c)
	if err != nil {
		return err
	}
	res, err := h.service.ListAuctions(c.UserContext(), f)
	if err != nil {
		return err
	}
	return c.JSON(mapPage(res.Items, res.Total, res.Page, res.Limit, toAuctionResponse))
}

func (h *AuctionHandler) GetAuction(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	a, err := h.service.GetAuction(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(toAuctionResponse(a))
}

func (h *AuctionHandler) GetAuctionState(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	state, err := h.service.GetAuctionState(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(state)
}

func (h *AuctionHandler) JoinWhitelist(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req joinWhitelistRequest
	if err := c.BodyParser(&req); err != nil || req.ParticipantID == uuid.Nil {
		return fiber.NewError(fiber.StatusBadRequest, "participant_id is required")
	}
	entry, err := h.service.JoinWhitelist(c.UserContext(), application.JoinWhitelistDTO{
		AuctionID:     id,
		ParticipantID: req.ParticipantID,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toWhitelistEntryResponse(entry))
}

func (h *AuctionHandler) GetWhitelistEntry(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	participantID, err := uuidParam(c, "participantId")
	if err != nil {
		return err
	}
	entry, err := h.service.GetWhitelistEntry(c.UserContext(), id, participantID)
	if err != nil {
		return err
	}
	return c.JSON(toWhitelistEntryResponse(entry))
}

// PlaceBid takes the direct path unless the request or the routing
// heuristic sends it to the queue, in which case it answers 202 with the job.
func (h *AuctionHandler) PlaceBid(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req placeBidRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.BidderID == uuid.Nil {
		return fiber.NewError(fiber.StatusBadRequest, "bidder_id is required")
	}
	ctx := c.UserContext()
	if h.gate != nil {
		if err := h.gate.AllowBid(ctx, req.BidderID); err != nil {
			return err
		}
	}

	cmd := application.PlaceBidDTO{
		AuctionID: id,
		BidderID:  req.BidderID,
		Amount:    req.Amount,
		Type:      req.Type,
		Metadata:  domain.BidMetadata{Source: "http", ClientIP: c.IP()},
	}

	useQueue := false
	if h.queue != nil {
		if req.Queued != nil {
			useQueue = *req.Queued
		} else if useQueue, err = h.service.ShouldUseQueue(ctx, id); err != nil {
			return err
		}
	}
	if useQueue {
		cmd.Metadata.Source = "http_queue"
		job, err := h.queue.Submit(ctx, cmd)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusAccepted).JSON(placeBidResponse{Queued: true, JobID: &job.ID})
	}

	res, err := h.service.PlaceBid(ctx, cmd)
	if err != nil {
		return err
	}
	bid := toBidResponse(res.Bid)
	out := placeBidResponse{Bid: &bid, IsWinning: res.IsWinning, Ended: res.Ended}
	if res.Auction != nil {
		highest := res.Auction.CurrentHighestBid
		out.HighestBid = &highest
		out.Status = res.Auction.Status
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

func (h *AuctionHandler) ValidateBid(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req validateBidRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Type == "" {
		req.Type = domain.BidTypeRegular
	}
	if err := h.service.ValidateBidAmount(c.UserContext(), id, req.Amount, req.Type); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"valid": true})
}

func (h *AuctionHandler) ListAuctionBids(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	f := domain.BidFilter{AuctionID: &id, Page: pageFromQuery(c)}
	for _, s := range splitQuery(c, "status") {
		f.Statuses = append(f.Statuses, domain.BidStatus(strings.ToUpper(s)))
	}
	return h.listBids(c, f)
}

func (h *AuctionHandler) ListParticipantBids(c *fiber.Ctx) error {
	participantID, err := uuidParam(c, "participantId")
	if err != nil {
		return err
	}
	return h.listBids(c, domain.BidFilter{BidderID: &participantID, Page: pageFromQuery(c)})
}

func (h *AuctionHandler) listBids(c *fiber.Ctx, f domain.BidFilter) error {
	res, err := h.service.ListBids(c.UserContext(), f)
	if err != nil {
		return err
	}
	return c.JSON(mapPage(res.Items, res.Total, res.Page, res.Limit, toBidResponse))
}

func (h *AuctionHandler) EndAuction(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	res, err := h.service.EndAuction(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"auction":       toAuctionResponse(res.Auction),
		"winner":        res.Winner,
		"reserve_met":   res.ReserveMet,
		"already_ended": res.AlreadyEnded,
	})
}

func (h *AuctionHandler) CancelAuction(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req cancelAuctionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	a, err := h.service.CancelAuction(c.UserContext(), id, req.ActorID)
	if err != nil {
		return err
	}
	return c.JSON(toAuctionResponse(a))
}

func (h *AuctionHandler) GetHistory(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	f := domain.HistoryFilter{AuctionID: &id, Page: pageFromQuery(c)}
	for _, a := range splitQuery(c, "action") {
		f.Actions = append(f.Actions, domain.HistoryAction(a))
	}
	if f.From, err = timeQuery(c, "from"); err != nil {
		return err
	}
	if f.To, err = timeQuery(c, "to"); err != nil {
		return err
	}
	res, err := h.service.GetHistory(c.UserContext(), f)
	if err != nil {
		return err
	}
	return c.JSON(mapPage(res.Items, res.Total, res.Page, res.Limit, toHistoryResponse))
}

func (h *AuctionHandler) GetLifecycleStatus(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	st, err := h.lifecycle.GetLifecycleStatus(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (h *AuctionHandler) TriggerTransition(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	res, err := h.lifecycle.TriggerStateTransition(c.UserContext(), id)
	if err != nil {
		return err
	}
	log.Info("Manual lifecycle trigger",
		zap.String("auctionID", id.String()),
		zap.Bool("transitioned", res.Transitioned),
		zap.String("from", string(res.From)),
		zap.String("to", string(res.To)),
	)
	return c.JSON(res)
}

func (h *AuctionHandler) QueueMetrics(c *fiber.Ctx) error {
	return c.JSON(h.queue.Metrics())
}

func (h *AuctionHandler) QueueHealth(c *fiber.Ctx) error {
	health := h.queue.Health()
	status := fiber.StatusOK
	if !health.Healthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(health)
}

func (h *AuctionHandler) PauseQueue(c *fiber.Ctx) error {
	h.queue.Pause()
	return c.JSON(h.queue.Metrics())
}

func (h *AuctionHandler) ResumeQueue(c *fiber.Ctx) error {
	h.queue.Resume()
	return c.JSON(h.queue.Metrics())
}

func (h *AuctionHandler) CleanupQueue(c *fiber.Ctx) error {
	grace := time.Hour
	if v := c.Query("grace"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid grace duration")
		}
		grace = d
	}
	return c.JSON(fiber.Map{"removed": h.queue.Cleanup(grace)})
}

func (h *AuctionHandler) GetJob(c *fiber.Ctx) error {
	id, err := uuidParam(c, "jobId")
	if err != nil {
		return err
	}
	job, err := h.queue.GetJob(id)
	if err != nil {
		return err
	}
	return c.JSON(job)
}

func (h *AuctionHandler) RetryJob(c *fiber.Ctx) error {
	id, err := uuidParam(c, "jobId")
	if err != nil {
		return err
	}
	job, err := h.queue.Retry(id)
	if err != nil {
		return err
	}
	return c.JSON(job)
}

func (h *AuctionHandler) RemoveJob(c *fiber.Ctx) error {
	id, err := uuidParam(c, "jobId")
	if err != nil {
		return err
	}
	if err := h.queue.Remove(id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func uuidParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func pageFromQuery(c *fiber.Ctx) domain.Page {
	return domain.Page{Page: c.QueryInt("page", 1), Limit: c.QueryInt("limit", domain.DefaultPageLimit)}
}

func splitQuery(c *fiber.Ctx, key string) []string {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func timeQuery(c *fiber.Ctx, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+key+", expected RFC3339")
	}
	return &t, nil
}

func decimalQuery(c *fiber.Ctx, key string) (*decimal.Decimal, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+key)
	}
	return &d, nil
}

func auctionFilterFromQuery(c *fiber.Ctx) (domain.AuctionFilter, error) {
	f := domain.AuctionFilter{
		Sort:    domain.AuctionSort(c.Query("sort", string(domain.SortNewest))),
		MinBids: c.QueryInt("min_bids", 0),
		Page:    pageFromQuery(c),
	}
	for _, s := range splitQuery(c, "status") {
		status := domain.AuctionStatus(strings.ToUpper(s))
		if !status.Valid() {
			return f, fiber.NewError(fiber.StatusBadRequest, "invalid status "+s)
		}
		f.Statuses = append(f.Statuses, status)
	}
	var err error
	if f.MinPrice, err = decimalQuery(c, "min_price"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = decimalQuery(c, "max_price"); err != nil {
		return f, err
	}
	if f.StartsAfter, err = timeQuery(c, "starts_after"); err != nil {
		return f, err
	}
	if f.StartsBefore, err = timeQuery(c, "starts_before"); err != nil {
		return f, err
	}
	if f.EndsAfter, err = timeQuery(c, "ends_after"); err != nil {
		return f, err
	}
	if f.EndsBefore, err = timeQuery(c, "ends_before"); err != nil {
		return f, err
	}
	return f, nil
}
