package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ChargeStatus is the gateway's view of a charge.
type ChargeStatus string

const (
	ChargeSucceeded      ChargeStatus = "succeeded"
	ChargeRequiresAction ChargeStatus = "requires_action"
	ChargeProcessing     ChargeStatus = "processing"
	ChargeFailed         ChargeStatus = "failed"
)

// TransferStatus is the gateway's view of a transfer.
type TransferStatus string

const (
	TransferPaid    TransferStatus = "paid"
	TransferPending TransferStatus = "pending"
	TransferFailed  TransferStatus = "failed"
)

// ChargeRequest asks the gateway to charge a saved payment method.
type ChargeRequest struct {
	Amount           float64
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	IdempotencyKey   string
	Metadata         map[string]string
}

// Charge is a gateway charge.
type Charge struct {
	ID             string
	Status         ChargeStatus
	Amount         float64
	Fee            float64 // gateway processing fee
	ClientSecret   string
	FailureCode    string
	FailureMessage string
}

// TransferRequest asks the gateway to move funds to a connected account.
type TransferRequest struct {
	Amount             float64
	Currency           string
	DestinationAccount string
	IdempotencyKey     string
	Metadata           map[string]string
}

// Transfer is a gateway transfer.
type Transfer struct {
	ID             string
	Status         TransferStatus
	FailureMessage string
}

// PaymentGateway is the interface for the external payment provider.
// Requests carrying the same idempotency key return the same object.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	ConfirmCharge(ctx context.Context, chargeID string) (*Charge, error)
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
}

// GatewayError is an error response from the payment gateway.
type GatewayError struct {
	Code      string
	Message   string
	Temporary bool
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// IsTransientGatewayError reports whether err is worth retrying: a timeout,
// or a gateway error marked temporary.
func IsTransientGatewayError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Temporary
}

// cardErrorCodes are gateway codes that describe the rider's card rather than
// the gateway. The rider can act on them by using another card.
var cardErrorCodes = map[string]bool{
	"card_declined":           true,
	"insufficient_funds":      true,
	"expired_card":            true,
	"incorrect_cvc":           true,
	"incorrect_number":        true,
	"invalid_expiry_month":    true,
	"invalid_expiry_year":     true,
	"do_not_honor":            true,
	"lost_card":               true,
	"stolen_card":             true,
	"authentication_required": true,
}

// IsCardError reports whether err is a gateway error about the card itself.
func IsCardError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && cardErrorCodes[gwErr.Code]
}

// Test references understood by SimulatedGateway.
const (
	SimulatedDeclinedMethod       = "pm_card_declined"
	SimulatedRequiresActionMethod = "pm_card_authentication_required"
	SimulatedFailingAccount       = "acct_invalid"
)

// Simulated card processing fee: 2.9% plus 30 cents.
const (
	simulatedFeeRate  = 0.029
	simulatedFeeFixed = 0.30
)

// SimulatedGateway is an in-process PaymentGateway. Charges succeed unless the
// payment method reference selects a decline or an authentication step, and
// transfers succeed unless sent to SimulatedFailingAccount.
type SimulatedGateway struct {
	mu        sync.Mutex
	charges   map[string]*Charge
	byKey     map[string]string
	transfers map[string]*Transfer
}

// NewSimulatedGateway creates a new SimulatedGateway.
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		charges:   make(map[string]*Charge),
		byKey:     make(map[string]string),
		transfers: make(map[string]*Transfer),
	}
}

// CreateCharge creates a charge, or returns the one already created with the same idempotency key.
func (g *SimulatedGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, &GatewayError{Code: "amount_invalid", Message: "amount must be positive"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.byKey["charge:"+req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		c := *g.charges[id]
		return &c, nil
	}

	c := &Charge{
		ID:     "ch_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Amount: req.Amount,
		Fee:    roundCents(req.Amount*simulatedFeeRate + simulatedFeeFixed),
	}
	switch req.PaymentMethodRef {
	case SimulatedDeclinedMethod:
		c.Status = ChargeFailed
		c.FailureCode = "card_declined"
		c.FailureMessage = "Your card was declined."
	case SimulatedRequiresActionMethod:
		c.Status = ChargeRequiresAction
		c.ClientSecret = c.ID + "_secret_" + uuid.New().String()[:8]
	default:
		c.Status = ChargeSucceeded
	}

	g.charges[c.ID] = c
	if req.IdempotencyKey != "" {
		g.byKey["charge:"+req.IdempotencyKey] = c.ID
	}
	out := *c
	return &out, nil
}

// ConfirmCharge completes a charge that required customer action.
func (g *SimulatedGateway) ConfirmCharge(ctx context.Context, chargeID string) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.charges[chargeID]
	if !ok {
		return nil, &GatewayError{Code: "resource_missing", Message: "no such charge"}
	}
	if c.Status == ChargeRequiresAction {
		c.Status = ChargeSucceeded
		c.ClientSecret = ""
	}
	out := *c
	return &out, nil
}

// GetCharge returns the current state of a charge.
func (g *SimulatedGateway) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.charges[chargeID]
	if !ok {
		return nil, &GatewayError{Code: "resource_missing", Message: "no such charge"}
	}
	out := *c
	return &out, nil
}

// CreateTransfer sends funds to a connected account.
func (g *SimulatedGateway) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.DestinationAccount == "" || req.DestinationAccount == SimulatedFailingAccount {
		return nil, &GatewayError{Code: "account_invalid", Message: "destination account cannot receive transfers"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if req.IdempotencyKey != "" {
		if t, ok := g.transfers[req.IdempotencyKey]; ok {
			out := *t
			return &out, nil
		}
	}

	t := &Transfer{
		ID:     "tr_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Status: TransferPaid,
	}
	if req.IdempotencyKey != "" {
		g.transfers[req.IdempotencyKey] = t
	}
	out := *t
	return &out, nil
}
