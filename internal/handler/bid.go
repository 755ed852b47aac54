package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"medride/internal/domain"
	"medride/internal/service"
)

// BidHandler handles HTTP requests for bids and counter-offers.
type BidHandler struct {
	bidService     *service.BidService
	paymentService *service.PaymentService
}

// NewBidHandler creates a new BidHandler.
func NewBidHandler(bidService *service.BidService, paymentService *service.PaymentService) *BidHandler {
	return &BidHandler{
		bidService:     bidService,
		paymentService: paymentService,
	}
}

// CreateBidRequest is the HTTP request body for placing a bid.
type CreateBidRequest struct {
	RideID   string  `json:"ride_id"`
	DriverID string  `json:"driver_id,omitempty"`
	Amount   float64 `json:"amount"`
	Message  string  `json:"message,omitempty"`
}

// CounterOfferRequest is the HTTP request body for a counter-offer. Party is
// only read for admins; everyone else counters as their own role.
type CounterOfferRequest struct {
	Amount  float64 `json:"amount"`
	Message string  `json:"message,omitempty"`
	Party   string  `json:"party,omitempty"`
}

// BidResponse is the HTTP response for bid data.
type BidResponse struct {
	ID           string    `json:"id"`
	RideID       string    `json:"ride_id"`
	DriverID     string    `json:"driver_id"`
	Amount       float64   `json:"amount"`
	Status       string    `json:"status"`
	ParentBidID  string    `json:"parent_bid_id,omitempty"`
	CounterParty string    `json:"counter_party"`
	BidCount     int       `json:"bid_count"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AcceptBidResponse is the HTTP response for an accepted bid. Payment holds
// the charge started right after acceptance; when it could not complete,
// PaymentError explains why and the client can call retry-payment.
type AcceptBidResponse struct {
	Success      bool             `json:"success"`
	Bid          BidResponse      `json:"bid"`
	Ride         RideResponse     `json:"ride"`
	RejectedBids []string         `json:"rejected_bids"`
	Payment      *PaymentResponse `json:"payment,omitempty"`
	PaymentError *ErrorResponse   `json:"payment_error,omitempty"`
}

func toBidResponse(b *domain.Bid) BidResponse {
	return BidResponse{
		ID:           b.ID,
		RideID:       b.RideID,
		DriverID:     b.DriverID,
		Amount:       b.Amount,
		Status:       string(b.Status),
		ParentBidID:  b.ParentBidID,
		CounterParty: string(b.CounterParty),
		BidCount:     b.BidCount,
		Message:      b.Message,
		CreatedAt:    b.CreatedAt,
	}
}

func toBidResponses(bids []*domain.Bid) []BidResponse {
	response := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		response = append(response, toBidResponse(b))
	}
	return response
}

// CreateBid handles POST /v1/bids
func (h *BidHandler) CreateBid(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req CreateBidRequest
	if !bindJSON(c, &req) {
		return
	}

	driverID := actor.ID
	if actor.IsAdmin() && req.DriverID != "" {
		driverID = req.DriverID
	}

	bid, err := h.bidService.CreateBid(c.Request.Context(), service.CreateBidRequest{
		RideID:   req.RideID,
		DriverID: driverID,
		Amount:   req.Amount,
		Message:  req.Message,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toBidResponse(bid))
}

// CounterOffer handles POST /v1/bids/:id/counter
func (h *BidHandler) CounterOffer(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req CounterOfferRequest
	if !bindJSON(c, &req) {
		return
	}

	party := partyFor(actor)
	if actor.IsAdmin() {
		party = domain.Party(req.Party)
	}

	bid, err := h.bidService.CounterOffer(c.Request.Context(), actor, service.CounterOfferRequest{
		BidID:   c.Param("id"),
		Party:   party,
		Amount:  req.Amount,
		Message: req.Message,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toBidResponse(bid))
}

// AcceptBid handles POST /v1/bids/:id/accept
// Acceptance commits on its own; the payment that follows is best effort
// and its failure is reported alongside the accepted bid.
func (h *BidHandler) AcceptBid(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	result, err := h.bidService.AcceptBid(ctx, actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response := AcceptBidResponse{
		Success:      true,
		Bid:          toBidResponse(result.Bid),
		Ride:         toRideResponse(result.Ride),
		RejectedBids: make([]string, 0, len(result.Rejected)),
	}
	for _, b := range result.Rejected {
		response.RejectedBids = append(response.RejectedBids, b.ID)
	}

	payment, err := h.paymentService.ProcessRidePayment(ctx, actor, result.Ride.ID)
	if payment != nil {
		pr := toPaymentResponse(payment)
		response.Payment = &pr
		if payment.Ride != nil {
			response.Ride = toRideResponse(payment.Ride)
		}
	}
	if err != nil {
		_ = c.Error(err)
		_, kind, msg := classifyError(err)
		response.PaymentError = &ErrorResponse{Error: kind, Message: msg}
	}

	respondJSON(c, http.StatusOK, response)
}

// RejectBid handles POST /v1/bids/:id/reject
func (h *BidHandler) RejectBid(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bid, err := h.bidService.RejectBid(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toBidResponse(bid))
}

// WithdrawBid handles DELETE /v1/bids/:id
func (h *BidHandler) WithdrawBid(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	bid, err := h.bidService.WithdrawBid(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toBidResponse(bid))
}

// GetBidHistory handles GET /v1/bids/:id/history
func (h *BidHandler) GetBidHistory(c *gin.Context) {
	bids, err := h.bidService.GetBidHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toBidResponses(bids))
}

// ListRideBids handles GET /v1/rides/:id/bids
func (h *BidHandler) ListRideBids(c *gin.Context) {
	bids, err := h.bidService.ListBidsForRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toBidResponses(bids))
}

func partyFor(actor domain.Actor) domain.Party {
	if actor.Role == domain.RoleDriver {
		return domain.PartyDriver
	}
	return domain.PartyRider
}
