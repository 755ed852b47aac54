package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"medride/internal/domain"
	"medride/internal/service"
)

// PaymentHandler handles HTTP requests for ride payments and payouts.
type PaymentHandler struct {
	paymentService *service.PaymentService
	payoutService  *service.PayoutService
	receipts       *service.ReceiptService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService *service.PaymentService, payoutService *service.PayoutService, receipts *service.ReceiptService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		payoutService:  payoutService,
		receipts:       receipts,
	}
}

// ConfirmPaymentRequest is the HTTP request body for confirming a charge.
type ConfirmPaymentRequest struct {
	ChargeID string `json:"charge_id"`
}

// TransactionResponse is the HTTP response for a payment transaction.
type TransactionResponse struct {
	ID              string    `json:"id"`
	RideID          string    `json:"ride_id"`
	UserID          string    `json:"user_id"`
	GatewayChargeID string    `json:"gateway_charge_id,omitempty"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	PlatformFee     float64   `json:"platform_fee"`
	ProcessingFee   float64   `json:"processing_fee"`
	NetAmount       float64   `json:"net_amount"`
	FailureCode     string    `json:"failure_code,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// PaymentResponse is the HTTP response for a payment attempt.
type PaymentResponse struct {
	Success        bool                 `json:"success"`
	RideID         string               `json:"ride_id,omitempty"`
	RideStatus     string               `json:"ride_status,omitempty"`
	Transaction    *TransactionResponse `json:"transaction,omitempty"`
	RequiresAction bool                 `json:"requires_action"`
	ClientSecret   string               `json:"client_secret,omitempty"`
}

// PayoutResponse is the HTTP response for a driver payout.
type PayoutResponse struct {
	ID                string    `json:"id"`
	RideID            string    `json:"ride_id"`
	DriverID          string    `json:"driver_id"`
	TotalAmount       float64   `json:"total_amount"`
	DriverAmount      float64   `json:"driver_amount"`
	PlatformFee       float64   `json:"platform_fee"`
	ProcessingFee     float64   `json:"processing_fee"`
	GatewayTransferID string    `json:"gateway_transfer_id,omitempty"`
	Status            string    `json:"status"`
	FailureReason     string    `json:"failure_reason,omitempty"`
	Attempts          int       `json:"attempts"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toPaymentResponse(r *service.PaymentResult) PaymentResponse {
	resp := PaymentResponse{
		Success:        true,
		RequiresAction: r.RequiresAction(),
		ClientSecret:   r.ClientSecret,
	}
	if r.Ride != nil {
		resp.RideID = r.Ride.ID
		resp.RideStatus = string(r.Ride.Status)
	}
	if t := r.Transaction; t != nil {
		resp.Transaction = &TransactionResponse{
			ID:              t.ID,
			RideID:          t.RideID,
			UserID:          t.UserID,
			GatewayChargeID: t.GatewayChargeID,
			Amount:          t.Amount,
			Currency:        t.Currency,
			Status:          string(t.Status),
			PlatformFee:     t.PlatformFee,
			ProcessingFee:   t.ProcessingFee,
			NetAmount:       t.NetAmount,
			FailureCode:     t.FailureCode,
			CreatedAt:       t.CreatedAt,
		}
		if resp.RideID == "" {
			resp.RideID = t.RideID
		}
	}
	return resp
}

// ReceiptResponse is the HTTP response for a ride receipt.
type ReceiptResponse struct {
	ID             string    `json:"id"`
	RideID         string    `json:"ride_id"`
	RiderID        string    `json:"rider_id"`
	DriverID       string    `json:"driver_id,omitempty"`
	RideStatus     string    `json:"ride_status"`
	PickupAddress  string    `json:"pickup_address"`
	DropoffAddress string    `json:"dropoff_address"`
	ScheduledTime  time.Time `json:"scheduled_time"`
	VehicleType    string    `json:"vehicle_type"`
	Distance       float64   `json:"estimated_distance"`
	AmountCharged  float64   `json:"amount_charged"`
	Currency       string    `json:"currency"`
	PlatformFee    float64   `json:"platform_fee"`
	ProcessingFee  float64   `json:"processing_fee"`
	ChargeID       string    `json:"gateway_charge_id"`
	PaidAt         time.Time `json:"paid_at"`
	DriverEarnings float64   `json:"driver_earnings,omitempty"`
	PayoutStatus   string    `json:"payout_status,omitempty"`
	IssuedAt       time.Time `json:"issued_at"`
}

func toReceiptResponse(r *domain.Receipt) ReceiptResponse {
	return ReceiptResponse{
		ID:             r.ID,
		RideID:         r.RideID,
		RiderID:        r.RiderID,
		DriverID:       r.DriverID,
		RideStatus:     string(r.RideStatus),
		PickupAddress:  r.PickupAddress,
		DropoffAddress: r.DropoffAddress,
		ScheduledTime:  r.ScheduledTime,
		VehicleType:    string(r.VehicleType),
		Distance:       r.Distance,
		AmountCharged:  r.AmountCharged,
		Currency:       r.Currency,
		PlatformFee:    r.PlatformFee,
		ProcessingFee:  r.ProcessingFee,
		ChargeID:       r.ChargeID,
		PaidAt:         r.PaidAt,
		DriverEarnings: r.DriverEarnings,
		PayoutStatus:   string(r.PayoutStatus),
		IssuedAt:       r.IssuedAt,
	}
}

func toPayoutResponse(p *domain.DriverPayout) PayoutResponse {
	return PayoutResponse{
		ID:                p.ID,
		RideID:            p.RideID,
		DriverID:          p.DriverID,
		TotalAmount:       p.TotalAmount,
		DriverAmount:      p.DriverAmount,
		PlatformFee:       p.PlatformFee,
		ProcessingFee:     p.ProcessingFee,
		GatewayTransferID: p.GatewayTransferID,
		Status:            string(p.Status),
		FailureReason:     p.FailureReason,
		Attempts:          p.Attempts,
		UpdatedAt:         p.UpdatedAt,
	}
}

// respondPayment answers with the payment result. A declined card still
// carries the failed transaction so the client can show why.
func respondPayment(c *gin.Context, result *service.PaymentResult, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if result.RequiresAction() {
		status = http.StatusAccepted
	}
	respondJSON(c, status, toPaymentResponse(result))
}

// ProcessPayment handles POST /v1/rides/:id/process-payment
func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	result, err := h.paymentService.ProcessRidePayment(c.Request.Context(), actor, c.Param("id"))
	respondPayment(c, result, err)
}

// RetryPayment handles POST /v1/rides/:id/retry-payment
func (h *PaymentHandler) RetryPayment(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	result, err := h.paymentService.RetryPayment(c.Request.Context(), actor, c.Param("id"))
	respondPayment(c, result, err)
}

// ConfirmPayment handles POST /v1/payments/confirm
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req ConfirmPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.paymentService.ConfirmPayment(c.Request.Context(), actor, req.ChargeID)
	respondPayment(c, result, err)
}

// GetRidePayout handles GET /v1/rides/:id/payout
func (h *PaymentHandler) GetRidePayout(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	payout, err := h.payoutService.GetPayoutByRide(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toPayoutResponse(payout))
}

// RetryPayout handles POST /v1/payouts/:id/retry
func (h *PaymentHandler) RetryPayout(c *gin.Context) {
	payout, err := h.payoutService.RetryFailedPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toPayoutResponse(payout))
}

// GetRideReceipt handles GET /v1/rides/:id/receipt
// ?format=text returns the printable version.
func (h *PaymentHandler) GetRideReceipt(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	receipt, err := h.receipts.GetRideReceipt(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if c.Query("format") == "text" {
		c.String(http.StatusOK, service.FormatReceipt(receipt))
		return
	}
	respondJSON(c, http.StatusOK, toReceiptResponse(receipt))
}
