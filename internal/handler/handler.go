package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promolink/auction-engine/internal/domain"
	"github.com/promolink/auction-engine/internal/gate"
	"github.com/promolink/auction-engine/internal/readmodel"
	"github.com/promolink/auction-engine/internal/registry"
	"github.com/promolink/auction-engine/internal/scheduler"
)

// Handler holds the HTTP handler dependencies.
type Handler struct {
	gate      *gate.Gate
	readModel *readmodel.ReadModel
	scheduler *scheduler.Scheduler
}

// NewHandler creates a new Handler.
func NewHandler(g *gate.Gate, rm *readmodel.ReadModel, sched *scheduler.Scheduler) *Handler {
	return &Handler{
		gate:      g,
		readModel: rm,
		scheduler: sched,
	}
}

// RegisterRoutes sets up the Gin routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/auction", h.CreateAuction)
		v1.POST("/auction/:id/bid", h.SubmitBid)
		v1.POST("/auction/:id/claim", h.Claim)
		v1.GET("/auction/:id", h.GetSnapshot)
		v1.GET("/auction/:id/history", h.GetHistory)
	}
}

// Health returns a health check response.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "auction-engine",
	})
}

// CreateAuctionRequest is the request body for creating an auction.
type CreateAuctionRequest struct {
	Kind       domain.AuctionKind `json:"kind" binding:"required"`
	SubjectRef string             `json:"subject_ref" binding:"required"`
	StartAt    time.Time          `json:"start_at" binding:"required"`
	EndAt      time.Time          `json:"end_at" binding:"required"`

	StartPrice    int64  `json:"start_price"`
	FloorPrice    int64  `json:"floor_price"`
	DecayStep     int64  `json:"decay_step"`
	DecayInterval string `json:"decay_interval"` // e.g. "1h"

	StartingBid  int64 `json:"starting_bid"`
	BidIncrement int64 `json:"bid_increment"`
}

// CreateAuction handles POST /v1/auction.
func (h *Handler) CreateAuction(c *gin.Context) {
	var req CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var decayInterval time.Duration
	if req.DecayInterval != "" {
		parsed, err := time.ParseDuration(req.DecayInterval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decay_interval, use Go duration syntax"})
			return
		}
		decayInterval = parsed
	}

	snap, err := h.gate.CreateAuction(c.Request.Context(), registry.CreateSpec{
		Kind:          req.Kind,
		SubjectRef:    req.SubjectRef,
		StartAt:       req.StartAt,
		EndAt:         req.EndAt,
		StartPrice:    req.StartPrice,
		FloorPrice:    req.FloorPrice,
		DecayStep:     req.DecayStep,
		DecayInterval: decayInterval,
		StartingBid:   req.StartingBid,
		BidIncrement:  req.BidIncrement,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.scheduler.Track(snap)
	c.JSON(http.StatusCreated, snap)
}

// SubmitBidRequest is the request body for bidding.
type SubmitBidRequest struct {
	BidderID string `json:"bidder_id" binding:"required"`
	Amount   int64  `json:"amount" binding:"required,gt=0"`
}

// SubmitBid handles POST /v1/auction/:id/bid.
func (h *Handler) SubmitBid(c *gin.Context) {
	var req SubmitBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.gate.SubmitBid(c.Request.Context(), c.Param("id"), req.BidderID, req.Amount)
	if err != nil {
		h.rejectResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// ClaimRequest is the request body for a dutch claim.
type ClaimRequest struct {
	BidderID string `json:"bidder_id" binding:"required"`
	Price    int64  `json:"price" binding:"required,gt=0"`
}

// Claim handles POST /v1/auction/:id/claim.
func (h *Handler) Claim(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.gate.Claim(c.Request.Context(), c.Param("id"), req.BidderID, req.Price)
	if err != nil {
		h.rejectResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// GetSnapshot handles GET /v1/auction/:id. Reads the last committed
// snapshot; never blocks on in-flight admissions.
func (h *Handler) GetSnapshot(c *gin.Context) {
	snap, ok := h.readModel.GetSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetHistory handles GET /v1/auction/:id/history.
func (h *Handler) GetHistory(c *gin.Context) {
	if _, ok := h.readModel.GetSnapshot(c.Param("id")); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
		return
	}

	history := h.readModel.GetHistory(c.Param("id"))
	if history == nil {
		history = []domain.Bid{}
	}
	c.JSON(http.StatusOK, history)
}

// rejectResponse maps a rejection to an HTTP status. Every rejection body
// carries the machine-readable reason and the authoritative snapshot so the
// client can pick a new valid amount without another round trip.
func (h *Handler) rejectResponse(c *gin.Context, err error) {
	var re *domain.RejectedError
	if !errors.As(err, &re) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusBadRequest
	switch re.Reason {
	case domain.ReasonStaleState, domain.ReasonBelowIncrement:
		status = http.StatusConflict
	case domain.ReasonAlreadyClosed:
		status = http.StatusGone
	case domain.ReasonBusy:
		status = http.StatusTooManyRequests
	case domain.ReasonPersistenceFailed:
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"error":   re.Error(),
		"reason":  re.Reason,
		"auction": re.Snapshot,
	})
}
