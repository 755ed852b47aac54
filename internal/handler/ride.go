package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"medride/internal/domain"
	"medride/internal/service"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	rideService *service.RideService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService) *RideHandler {
	return &RideHandler{rideService: rideService}
}

// CreateRideRequest is the HTTP request body for creating a ride.
type CreateRideRequest struct {
	RiderID           string               `json:"rider_id,omitempty"`
	PickupLat         float64              `json:"pickup_lat"`
	PickupLng         float64              `json:"pickup_lng"`
	PickupAddress     string               `json:"pickup_address"`
	DropoffLat        float64              `json:"dropoff_lat"`
	DropoffLng        float64              `json:"dropoff_lng"`
	DropoffAddress    string               `json:"dropoff_address"`
	ScheduledTime     time.Time            `json:"scheduled_time"`
	VehicleType       string               `json:"vehicle_type"`
	Accessibility     domain.Accessibility `json:"accessibility"`
	EstimatedDistance float64              `json:"estimated_distance"`
	RiderBid          float64              `json:"rider_bid"`
	IsUrgent          bool                 `json:"is_urgent"`
	IsHoliday         bool                 `json:"is_holiday"`
	RoundTrip         bool                 `json:"round_trip"`
	Recurring         bool                 `json:"recurring"`
	PromoCode         string               `json:"promo_code,omitempty"`
}

// CancelRideRequest is the HTTP request body for cancelling a ride.
type CancelRideRequest struct {
	Reason string `json:"reason,omitempty"`
}

// UpdateStatusRequest is the HTTP request body for advancing a ride.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// ProposeEditRequest is the HTTP request body for proposing a ride change.
type ProposeEditRequest struct {
	ScheduledTime  *time.Time `json:"scheduled_time,omitempty"`
	PickupAddress  string     `json:"pickup_address,omitempty"`
	DropoffAddress string     `json:"dropoff_address,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

// RideResponse is the HTTP response for ride data.
type RideResponse struct {
	ID                string               `json:"id"`
	RiderID           string               `json:"rider_id"`
	DriverID          string               `json:"driver_id,omitempty"`
	Status            string               `json:"status"`
	PickupLat         float64              `json:"pickup_lat"`
	PickupLng         float64              `json:"pickup_lng"`
	PickupAddress     string               `json:"pickup_address"`
	DropoffLat        float64              `json:"dropoff_lat"`
	DropoffLng        float64              `json:"dropoff_lng"`
	DropoffAddress    string               `json:"dropoff_address"`
	ScheduledTime     time.Time            `json:"scheduled_time"`
	VehicleType       string               `json:"vehicle_type"`
	Accessibility     domain.Accessibility `json:"accessibility"`
	EstimatedDistance float64              `json:"estimated_distance"`
	RiderBid          float64              `json:"rider_bid"`
	FinalPrice        float64              `json:"final_price,omitempty"`
	IsUrgent          bool                 `json:"is_urgent"`
	ExpiresAt         time.Time            `json:"expires_at"`
	PromoCode         string               `json:"promo_code,omitempty"`
	CancelReason      string               `json:"cancel_reason,omitempty"`
	CancelledAt       *time.Time           `json:"cancelled_at,omitempty"`
	LateCancellation  bool                 `json:"late_cancellation,omitempty"`
	PendingEdit       *domain.RideEdit     `json:"pending_edit,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}

// CreateRideResponse is the HTTP response for creating a ride.
type CreateRideResponse struct {
	Success bool                   `json:"success"`
	Ride    RideResponse           `json:"ride"`
	Fare    *service.FareBreakdown `json:"fare"`
}

func toRideResponse(r *domain.Ride) RideResponse {
	resp := RideResponse{
		ID:                r.ID,
		RiderID:           r.RiderID,
		DriverID:          r.DriverID,
		Status:            string(r.Status),
		PickupLat:         r.PickupLat,
		PickupLng:         r.PickupLng,
		PickupAddress:     r.PickupAddress,
		DropoffLat:        r.DropoffLat,
		DropoffLng:        r.DropoffLng,
		DropoffAddress:    r.DropoffAddress,
		ScheduledTime:     r.ScheduledTime,
		VehicleType:       string(r.VehicleType),
		Accessibility:     r.Accessibility,
		EstimatedDistance: r.EstimatedDistance,
		RiderBid:          r.RiderBid,
		FinalPrice:        r.FinalPrice,
		IsUrgent:          r.IsUrgent,
		ExpiresAt:         r.ExpiresAt,
		PromoCode:         r.PromoCode,
		CancelReason:      r.CancelReason,
		LateCancellation:  r.LateCancellation,
		PendingEdit:       r.PendingEdit,
		CreatedAt:         r.CreatedAt,
	}
	if !r.CancelledAt.IsZero() {
		t := r.CancelledAt
		resp.CancelledAt = &t
	}
	return resp
}

// CreateRide handles POST /v1/rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req CreateRideRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.rideService.CreateRide(c.Request.Context(), actor, service.CreateRideRequest{
		RiderID:           req.RiderID,
		PickupLat:         req.PickupLat,
		PickupLng:         req.PickupLng,
		PickupAddress:     req.PickupAddress,
		DropoffLat:        req.DropoffLat,
		DropoffLng:        req.DropoffLng,
		DropoffAddress:    req.DropoffAddress,
		ScheduledTime:     req.ScheduledTime,
		VehicleType:       domain.VehicleType(req.VehicleType),
		Accessibility:     req.Accessibility,
		EstimatedDistance: req.EstimatedDistance,
		RiderBid:          req.RiderBid,
		IsUrgent:          req.IsUrgent,
		IsHoliday:         req.IsHoliday,
		RoundTrip:         req.RoundTrip,
		Recurring:         req.Recurring,
		PromoCode:         req.PromoCode,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, CreateRideResponse{
		Success: true,
		Ride:    toRideResponse(result.Ride),
		Fare:    result.Fare,
	})
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	ride, err := h.rideService.GetRide(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// GetAll handles GET /v1/rides
func (h *RideHandler) GetAll(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	rides, err := h.rideService.ListRides(c.Request.Context(), actor)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]RideResponse, 0, len(rides))
	for _, r := range rides {
		response = append(response, toRideResponse(r))
	}
	respondJSON(c, http.StatusOK, response)
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req CancelRideRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	ride, err := h.rideService.CancelRide(c.Request.Context(), actor, service.CancelRideRequest{
		RideID: c.Param("id"),
		Reason: req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// UpdateStatus handles POST /v1/rides/:id/status
func (h *RideHandler) UpdateStatus(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	ride, err := h.rideService.UpdateStatus(c.Request.Context(), actor, c.Param("id"), domain.RideStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// ProposeEdit handles POST /v1/rides/:id/edits
func (h *RideHandler) ProposeEdit(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req ProposeEditRequest
	if !bindJSON(c, &req) {
		return
	}

	ride, err := h.rideService.ProposeEdit(c.Request.Context(), actor, c.Param("id"), domain.RideEdit{
		ScheduledTime: req.ScheduledTime,
		PickupAddress: req.PickupAddress,
		DropoffAddr:   req.DropoffAddress,
		Notes:         req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// AcceptEdit handles POST /v1/rides/:id/edits/accept
func (h *RideHandler) AcceptEdit(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	ride, err := h.rideService.AcceptEdit(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// RejectEdit handles POST /v1/rides/:id/edits/reject
func (h *RideHandler) RejectEdit(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	ride, err := h.rideService.RejectEdit(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}
