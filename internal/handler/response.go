package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"medride/internal/domain"
	"medride/internal/middleware"
	"medride/internal/repository"
	"medride/internal/service"
)

// ErrorResponse is the body of every failed request. Error is a stable kind
// clients can switch on; Message is meant for people.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorKind pairs a sentinel error with its HTTP status and kind.
type errorKind struct {
	err    error
	status int
	kind   string
}

var errorKinds = []errorKind{
	// Validation and state errors.
	{service.ErrInvalidDistance, http.StatusBadRequest, "InvalidDistance"},
	{service.ErrDuplicateBid, http.StatusBadRequest, "DuplicateBid"},
	{service.ErrRideNotBiddable, http.StatusBadRequest, "RideNotBiddable"},
	{service.ErrChainLimitReached, http.StatusBadRequest, "ChainLimitReached"},
	{service.ErrBidNotPending, http.StatusBadRequest, "BidNotPending"},
	{service.ErrInvalidWithdraw, http.StatusBadRequest, "InvalidWithdraw"},
	{service.ErrInvalidTransition, http.StatusBadRequest, "InvalidTransition"},
	{service.ErrInvalidRetryState, http.StatusBadRequest, "InvalidRetryState"},
	{service.ErrNotAwaitingParty, http.StatusBadRequest, "NotAwaitingParty"},
	{service.ErrInvalidCounterParty, http.StatusBadRequest, "InvalidCounterParty"},
	{service.ErrNoPendingEdit, http.StatusBadRequest, "NoPendingEdit"},
	{service.ErrReceiptNotReady, http.StatusBadRequest, "ReceiptNotReady"},
	{service.ErrInvalidRiderID, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidRideID, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidDriverID, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidBidID, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidAmount, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidPickupLocation, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidDropoffLocation, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidLocation, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidScheduledTime, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidVehicleType, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidStairs, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidPremium, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidPaymentMethod, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidPlatformFee, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidProfile, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidRole, http.StatusBadRequest, "ValidationError"},
	{service.ErrInvalidWebhook, http.StatusBadRequest, "InvalidWebhook"},
	{errInvalidBody, http.StatusBadRequest, "ValidationError"},

	// Not found.
	{service.ErrRideNotFound, http.StatusNotFound, "RideNotFound"},
	{service.ErrBidNotFound, http.StatusNotFound, "BidNotFound"},
	{service.ErrPayoutNotFound, http.StatusNotFound, "PayoutNotFound"},
	{service.ErrPaymentNotFound, http.StatusNotFound, "PaymentNotFound"},
	{service.ErrUserNotFound, http.StatusNotFound, "UserNotFound"},
	{service.ErrDriverNotFound, http.StatusNotFound, "DriverNotFound"},
	{repository.ErrNotFound, http.StatusNotFound, "NotFound"},

	// Payment method.
	{service.ErrNoPaymentMethod, http.StatusPaymentRequired, "NoPaymentMethod"},
	{service.ErrCardDeclined, http.StatusPaymentRequired, "CardDeclined"},

	// Access.
	{service.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{service.ErrForbidden, http.StatusForbidden, "Forbidden"},

	// Conflict.
	{service.ErrPhoneTaken, http.StatusConflict, "PhoneTaken"},

	// Try again later.
	{service.ErrGatewayUnavailable, http.StatusServiceUnavailable, "GatewayUnavailable"},
	{service.ErrPaymentOutcomeUnknown, http.StatusServiceUnavailable, "PaymentOutcomeUnknown"},
	{service.ErrWebhookBacklog, http.StatusServiceUnavailable, "WebhookBacklog"},
	{service.ErrWebhookNotApplied, http.StatusServiceUnavailable, "WebhookRetry"},
}

var errInvalidBody = errors.New("invalid request body")

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, kind, msg := classifyError(err)
	c.JSON(status, ErrorResponse{Error: kind, Message: msg})
}

// classifyError maps err to its status, kind and client-facing message.
// Errors without a known kind are reported as internal without their text,
// and gateway failures keep only the fixed sentinel text.
func classifyError(err error) (int, string, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			msg := err.Error()
			if k.status == http.StatusServiceUnavailable || k.status == http.StatusPaymentRequired {
				msg = k.err.Error()
			}
			return k.status, k.kind, msg
		}
	}
	return http.StatusInternalServerError, "InternalError", "internal server error"
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// bindJSON decodes the request body, answering 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "ValidationError", Message: errInvalidBody.Error() + ": " + err.Error()})
		return false
	}
	return true
}

// actorFrom returns the authenticated caller. Routes are guarded by
// middleware.RequireRoles, so a missing actor means a routing mistake.
func actorFrom(c *gin.Context) (domain.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		respondError(c, service.ErrUnauthorized)
	}
	return actor, ok
}
