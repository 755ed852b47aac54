package service

import "errors"

// Validation errors. The caller can correct these and try again.
var (
	// ErrInvalidDistance is returned when a fare is requested for a distance outside (0.1, 1000] miles.
	ErrInvalidDistance = errors.New("distance must be more than 0.1 and at most 1000 miles")

	// ErrDuplicateBid is returned when a driver already holds an active bid on the ride.
	ErrDuplicateBid = errors.New("driver already has an active bid on this ride")

	// ErrRideNotBiddable is returned when a bid targets a ride that is no longer open.
	ErrRideNotBiddable = errors.New("ride is not accepting bids")

	// ErrChainLimitReached is returned when a negotiation already holds the maximum number of offers.
	ErrChainLimitReached = errors.New("negotiation has reached the maximum number of offers")

	// ErrBidNotPending is returned when a bid can no longer be accepted or countered.
	ErrBidNotPending = errors.New("bid is not pending")

	// ErrInvalidWithdraw is returned when a bid is withdrawn from a status that does not allow it.
	ErrInvalidWithdraw = errors.New("bid can only be withdrawn while pending or countered")

	// ErrInvalidTransition is returned when a ride cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid ride status transition")

	// ErrInvalidRetryState is returned when a payout retry is requested for a payout that has neither failed nor stalled.
	ErrInvalidRetryState = errors.New("payout can only be retried after it failed or stalled")

	// ErrNotAwaitingParty is returned when a party responds to an offer that is waiting on the other side.
	ErrNotAwaitingParty = errors.New("offer is waiting on the other party")

	// ErrInvalidCounterParty is returned when the counter party is neither rider nor driver.
	ErrInvalidCounterParty = errors.New("counter party must be rider or driver")

	// ErrNoPendingEdit is returned when an edit decision is made on a ride with no proposed edit.
	ErrNoPendingEdit = errors.New("ride has no pending edit")

	// ErrReceiptNotReady is returned when a receipt is requested before the ride is paid.
	ErrReceiptNotReady = errors.New("ride has no settled payment")

	// ErrInvalidRiderID is returned when rider ID is empty.
	ErrInvalidRiderID = errors.New("invalid rider id")

	// ErrInvalidRideID is returned when ride ID is empty.
	ErrInvalidRideID = errors.New("invalid ride id")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidBidID is returned when bid ID is empty.
	ErrInvalidBidID = errors.New("invalid bid id")

	// ErrInvalidAmount is returned when a price is not positive.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInvalidPickupLocation is returned when pickup coordinates are invalid.
	ErrInvalidPickupLocation = errors.New("invalid pickup location")

	// ErrInvalidDropoffLocation is returned when dropoff coordinates are invalid.
	ErrInvalidDropoffLocation = errors.New("invalid dropoff location")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidScheduledTime is returned when a ride is scheduled in the past.
	ErrInvalidScheduledTime = errors.New("scheduled time must be in the future")

	// ErrInvalidVehicleType is returned for an unknown vehicle type.
	ErrInvalidVehicleType = errors.New("invalid vehicle type")

	// ErrInvalidStairs is returned for an unknown stairs code.
	ErrInvalidStairs = errors.New("invalid stairs code")

	// ErrInvalidPremium is returned for an unknown time of day, day type or urgency.
	ErrInvalidPremium = errors.New("invalid premium pricing option")

	// ErrInvalidPaymentMethod is returned when a payment method reference is missing.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")

	// ErrInvalidPlatformFee is returned when the platform fee is outside [0, 100).
	ErrInvalidPlatformFee = errors.New("platform fee percent must be at least 0 and below 100")

	// ErrInvalidWebhook is returned for a webhook with a bad signature or body.
	ErrInvalidWebhook = errors.New("invalid webhook payload")

	// ErrInvalidProfile is returned when a registration is missing a name or phone.
	ErrInvalidProfile = errors.New("name and phone are required")

	// ErrInvalidRole is returned for a role that cannot be registered.
	ErrInvalidRole = errors.New("invalid role")
)

// Not-found errors.
var (
	ErrRideNotFound    = errors.New("ride not found")
	ErrBidNotFound     = errors.New("bid not found")
	ErrPayoutNotFound  = errors.New("payout not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrDriverNotFound  = errors.New("driver not found")
)

// Payment method errors. The user must act before the charge can succeed.
var (
	// ErrNoPaymentMethod is returned when the rider has no default payment method.
	ErrNoPaymentMethod = errors.New("no saved payment method")

	// ErrCardDeclined is returned when the gateway declines the charge.
	ErrCardDeclined = errors.New("card was declined")
)

// Access errors.
var (
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("not allowed to perform this action")
)

// Conflict errors.
var (
	// ErrPhoneTaken is returned when registering a phone number that is already in use.
	ErrPhoneTaken = errors.New("phone number already registered")
)

// Gateway and transient errors. The caller should try again later.
var (
	// ErrGatewayUnavailable is returned when the payment gateway failed or timed out.
	ErrGatewayUnavailable = errors.New("payment provider unavailable, try again")

	// ErrPaymentOutcomeUnknown is returned when a charge was sent but its result was
	// not observed. The attempt is reconciled on the next retry.
	ErrPaymentOutcomeUnknown = errors.New("payment outcome not yet known, try again")

	// ErrWebhookBacklog is returned when webhooks arrive faster than they are applied.
	ErrWebhookBacklog = errors.New("webhook queue full, try again")

	// ErrWebhookNotApplied is returned when a webhook could not be applied.
	ErrWebhookNotApplied = errors.New("webhook not applied, try again")
)
