package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"medride/internal/metrics"
)

// Gateway webhook event types.
const (
	EventChargeSucceeded      = "charge.succeeded"
	EventChargeFailed         = "charge.failed"
	EventChargeRequiresAction = "charge.requires_action"
	EventTransferUpdated      = "transfer.updated"
)

// WebhookTolerance is how old a signed webhook may be before it is refused.
const WebhookTolerance = 5 * time.Minute

// WebhookEvent is an asynchronous status update from the payment gateway.
type WebhookEvent struct {
	ID   string           `json:"id"`
	Type string           `json:"type"`
	Data WebhookEventData `json:"data"`
}

// WebhookEventData identifies the gateway object an event is about.
type WebhookEventData struct {
	ObjectID       string  `json:"object_id"`
	Status         string  `json:"status"`
	Amount         float64 `json:"amount"`
	Fee            float64 `json:"fee"`
	ClientSecret   string  `json:"client_secret,omitempty"`
	FailureCode    string  `json:"failure_code,omitempty"`
	FailureMessage string  `json:"failure_message,omitempty"`
}

// SignWebhook returns the signature header for body sent at t, in the form
// "t=<unix seconds>,v1=<hex hmac-sha256 of "<t>.<body>">".
func SignWebhook(secret string, body []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + webhookMAC(secret, ts, body)
}

// ParseWebhook verifies the signature header and decodes the event.
func ParseWebhook(secret string, body []byte, header string, now time.Time) (*WebhookEvent, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalidWebhook)
	}

	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidWebhook)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp", ErrInvalidWebhook)
	}
	if age := now.Sub(time.Unix(unix, 0)); age > WebhookTolerance || age < -WebhookTolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidWebhook)
	}

	expected := webhookMAC(secret, ts, body)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidWebhook)
	}

	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if ev.Type == "" || ev.Data.ObjectID == "" {
		return nil, fmt.Errorf("%w: missing type or object id", ErrInvalidWebhook)
	}
	return &ev, nil
}

func webhookMAC(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookProcessor applies gateway events in arrival order. Events are
// submitted by the HTTP handler and applied one at a time by Run.
type WebhookProcessor struct {
	events   chan queuedWebhook
	payments *PaymentService
	payouts  *PayoutService
	log      logrus.FieldLogger
}

type queuedWebhook struct {
	ev   WebhookEvent
	done chan error
}

// NewWebhookProcessor creates a WebhookProcessor holding up to queueSize
// unprocessed events.
func NewWebhookProcessor(payments *PaymentService, payouts *PayoutService, queueSize int, log logrus.FieldLogger) *WebhookProcessor {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &WebhookProcessor{
		events:   make(chan queuedWebhook, queueSize),
		payments: payments,
		payouts:  payouts,
		log:      log,
	}
}

// Submit queues an event and waits until Run has applied it. It fails with
// ErrWebhookBacklog when the queue is full or ctx ends first, and with
// ErrWebhookNotApplied when applying fails. Either way the gateway must
// deliver the event again. Events for unknown objects are not errors.
func (p *WebhookProcessor) Submit(ctx context.Context, ev WebhookEvent) error {
	item := queuedWebhook{ev: ev, done: make(chan error, 1)}
	select {
	case p.events <- item:
	default:
		return ErrWebhookBacklog
	}

	select {
	case err := <-item.done:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWebhookNotApplied, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrWebhookBacklog, ctx.Err())
	}
}

// Run applies queued events until ctx is done, then applies whatever is
// still queued before returning.
func (p *WebhookProcessor) Run(ctx context.Context) error {
	for {
		select {
		case item := <-p.events:
			item.done <- p.process(ctx, item.ev)
		case <-ctx.Done():
			drainCtx := context.WithoutCancel(ctx)
			for {
				select {
				case item := <-p.events:
					item.done <- p.process(drainCtx, item.ev)
				default:
					return nil
				}
			}
		}
	}
}

func (p *WebhookProcessor) process(ctx context.Context, ev WebhookEvent) error {
	err := p.Handle(ctx, ev)
	metrics.RecordWebhook(ev.Type, err)

	entry := p.log.WithFields(logrus.Fields{"event_id": ev.ID, "type": ev.Type, "object_id": ev.Data.ObjectID})
	switch {
	case err == nil:
		entry.Debug("webhook applied")
	case errors.Is(err, ErrPaymentNotFound), errors.Is(err, ErrPayoutNotFound):
		entry.Warn("webhook for unknown object ignored")
		return nil
	default:
		entry.WithError(err).Error("failed to apply webhook")
	}
	return err
}

// Handle applies one event. Applying the same event twice has no further effect.
func (p *WebhookProcessor) Handle(ctx context.Context, ev WebhookEvent) error {
	switch ev.Type {
	case EventChargeSucceeded, EventChargeFailed, EventChargeRequiresAction:
		status := ChargeStatus(ev.Data.Status)
		if status == "" {
			status = chargeStatusForEvent(ev.Type)
		}
		_, err := p.payments.ApplyChargeEvent(ctx, &Charge{
			ID:             ev.Data.ObjectID,
			Status:         status,
			Amount:         ev.Data.Amount,
			Fee:            ev.Data.Fee,
			ClientSecret:   ev.Data.ClientSecret,
			FailureCode:    ev.Data.FailureCode,
			FailureMessage: ev.Data.FailureMessage,
		})
		return err

	case EventTransferUpdated:
		_, err := p.payouts.ApplyTransferEvent(ctx, &Transfer{
			ID:             ev.Data.ObjectID,
			Status:         TransferStatus(ev.Data.Status),
			FailureMessage: ev.Data.FailureMessage,
		})
		return err
	}

	p.log.WithField("type", ev.Type).Debug("ignoring unhandled webhook type")
	return nil
}

func chargeStatusForEvent(eventType string) ChargeStatus {
	switch eventType {
	case EventChargeSucceeded:
		return ChargeSucceeded
	case EventChargeRequiresAction:
		return ChargeRequiresAction
	}
	return ChargeFailed
}
