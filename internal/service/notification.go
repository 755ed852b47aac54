package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"medride/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationRideRequested         NotificationType = "RIDE_REQUESTED"
	NotificationBidReceived           NotificationType = "BID_RECEIVED"
	NotificationCounterOffer          NotificationType = "COUNTER_OFFER"
	NotificationBidAccepted           NotificationType = "BID_ACCEPTED"
	NotificationBidRejected           NotificationType = "BID_REJECTED"
	NotificationBidWithdrawn          NotificationType = "BID_WITHDRAWN"
	NotificationRideStatus            NotificationType = "RIDE_STATUS"
	NotificationRideCancelled         NotificationType = "RIDE_CANCELLED"
	NotificationRideExpired           NotificationType = "RIDE_EXPIRED"
	NotificationEditProposed          NotificationType = "EDIT_PROPOSED"
	NotificationEditDecided           NotificationType = "EDIT_DECIDED"
	NotificationPaymentSuccess        NotificationType = "PAYMENT_SUCCESS"
	NotificationPaymentActionRequired NotificationType = "PAYMENT_ACTION_REQUIRED"
	NotificationPaymentFailed         NotificationType = "PAYMENT_FAILED"
	NotificationPayoutCompleted       NotificationType = "PAYOUT_COMPLETED"
	NotificationPayoutFailed          NotificationType = "PAYOUT_FAILED"
)

// Notification represents a notification to be sent.
type Notification struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	RecipientID string           `json:"recipient_id"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// NotificationSink delivers notifications to an outside channel.
type NotificationSink interface {
	Send(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the application log.
type LogSink struct {
	log logrus.FieldLogger
}

// NewLogSink creates a LogSink.
func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{log: log}
}

// Send logs the notification.
func (s *LogSink) Send(_ context.Context, n Notification) error {
	s.log.WithFields(logrus.Fields{
		"notification_type": n.Type,
		"recipient_id":      n.RecipientID,
		"title":             n.Title,
	}).Info(n.Message)
	return nil
}

// Publisher publishes a message to a topic.
type Publisher interface {
	Publish(topic string, message any) error
}

// QueueSink publishes notifications to a message queue topic.
type QueueSink struct {
	pub   Publisher
	topic string
}

// NewQueueSink creates a QueueSink.
func NewQueueSink(pub Publisher, topic string) *QueueSink {
	return &QueueSink{pub: pub, topic: topic}
}

// Send publishes the notification.
func (s *QueueSink) Send(_ context.Context, n Notification) error {
	return s.pub.Publish(s.topic, n)
}

// NotificationService builds marketplace notifications and hands them to a
// sink. Delivery failures are logged and never returned.
type NotificationService struct {
	sink NotificationSink
	log  logrus.FieldLogger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(sink NotificationSink, log logrus.FieldLogger) *NotificationService {
	return &NotificationService{sink: sink, log: log}
}

// NotifyRideRequested tells nearby drivers about a new ride open for bids.
func (s *NotificationService) NotifyRideRequested(ctx context.Context, ride *domain.Ride, driverIDs []string) {
	for _, driverID := range driverIDs {
		s.send(ctx, Notification{
			Type:        NotificationRideRequested,
			RecipientID: driverID,
			Title:       "New ride request",
			Message:     fmt.Sprintf("A %s ride near %s is open for bids", ride.VehicleType, ride.PickupAddress),
			Metadata: map[string]any{
				"ride_id":        ride.ID,
				"scheduled_time": ride.ScheduledTime,
				"rider_bid":      ride.RiderBid,
			},
		})
	}
}

// NotifyBidReceived tells the rider a driver placed a bid.
func (s *NotificationService) NotifyBidReceived(ctx context.Context, ride *domain.Ride, bid *domain.Bid) {
	s.send(ctx, Notification{
		Type:        NotificationBidReceived,
		RecipientID: ride.RiderID,
		Title:       "New bid",
		Message:     fmt.Sprintf("A driver offered $%.2f for your ride", bid.Amount),
		Metadata:    map[string]any{"ride_id": ride.ID, "bid_id": bid.ID, "amount": bid.Amount},
	})
}

// NotifyCounterOffer tells the waiting party about a counter-offer.
func (s *NotificationService) NotifyCounterOffer(ctx context.Context, ride *domain.Ride, bid *domain.Bid) {
	recipient := ride.RiderID
	if bid.AwaitingParty() == domain.PartyDriver {
		recipient = bid.DriverID
	}
	s.send(ctx, Notification{
		Type:        NotificationCounterOffer,
		RecipientID: recipient,
		Title:       "Counter-offer",
		Message:     fmt.Sprintf("You received a counter-offer of $%.2f", bid.Amount),
		Metadata: map[string]any{
			"ride_id":   ride.ID,
			"bid_id":    bid.ID,
			"amount":    bid.Amount,
			"bid_count": bid.BidCount,
		},
	})
}

// NotifyBidAccepted tells the winning driver their bid was accepted.
func (s *NotificationService) NotifyBidAccepted(ctx context.Context, ride *domain.Ride, bid *domain.Bid) {
	s.send(ctx, Notification{
		Type:        NotificationBidAccepted,
		RecipientID: bid.DriverID,
		Title:       "Bid accepted",
		Message:     fmt.Sprintf("Your $%.2f bid was accepted", bid.Amount),
		Metadata:    map[string]any{"ride_id": ride.ID, "bid_id": bid.ID, "scheduled_time": ride.ScheduledTime},
	})
}

// NotifyBidRejected tells a driver their bid was declined.
func (s *NotificationService) NotifyBidRejected(ctx context.Context, bid *domain.Bid) {
	s.send(ctx, Notification{
		Type:        NotificationBidRejected,
		RecipientID: bid.DriverID,
		Title:       "Bid declined",
		Message:     "The rider chose another offer",
		Metadata:    map[string]any{"ride_id": bid.RideID, "bid_id": bid.ID},
	})
}

// NotifyBidWithdrawn tells the rider a driver withdrew.
func (s *NotificationService) NotifyBidWithdrawn(ctx context.Context, ride *domain.Ride, bid *domain.Bid) {
	s.send(ctx, Notification{
		Type:        NotificationBidWithdrawn,
		RecipientID: ride.RiderID,
		Title:       "Bid withdrawn",
		Message:     "A driver withdrew their offer",
		Metadata:    map[string]any{"ride_id": ride.ID, "bid_id": bid.ID},
	})
}

// NotifyRideStatus tells the rider their ride progressed.
func (s *NotificationService) NotifyRideStatus(ctx context.Context, ride *domain.Ride) {
	s.send(ctx, Notification{
		Type:        NotificationRideStatus,
		RecipientID: ride.RiderID,
		Title:       "Ride update",
		Message:     fmt.Sprintf("Your ride is now %s", ride.Status),
		Metadata:    map[string]any{"ride_id": ride.ID, "status": ride.Status},
	})
}

// NotifyRideCancelled tells the rider and the released driver a ride was
// cancelled, skipping whoever cancelled it.
func (s *NotificationService) NotifyRideCancelled(ctx context.Context, ride *domain.Ride, driverID, cancelledBy string) {
	for _, recipient := range []string{ride.RiderID, driverID} {
		if recipient == "" || recipient == cancelledBy {
			continue
		}
		s.send(ctx, Notification{
			Type:        NotificationRideCancelled,
			RecipientID: recipient,
			Title:       "Ride cancelled",
			Message:     "The ride was cancelled",
			Metadata: map[string]any{
				"ride_id":           ride.ID,
				"reason":            ride.CancelReason,
				"late_cancellation": ride.LateCancellation,
			},
		})
	}
}

// NotifyRideExpired tells the rider nobody bid in time.
func (s *NotificationService) NotifyRideExpired(ctx context.Context, ride *domain.Ride) {
	s.send(ctx, Notification{
		Type:        NotificationRideExpired,
		RecipientID: ride.RiderID,
		Title:       "Ride request expired",
		Message:     "No bids were received for your ride request",
		Metadata:    map[string]any{"ride_id": ride.ID},
	})
}

// NotifyEditProposed tells the assigned driver the rider proposed a change.
func (s *NotificationService) NotifyEditProposed(ctx context.Context, ride *domain.Ride) {
	if ride.DriverID == "" {
		return
	}
	s.send(ctx, Notification{
		Type:        NotificationEditProposed,
		RecipientID: ride.DriverID,
		Title:       "Ride change requested",
		Message:     "The rider proposed a change to a scheduled ride",
		Metadata:    map[string]any{"ride_id": ride.ID},
	})
}

// NotifyEditDecided tells the rider whether their proposed change was accepted.
func (s *NotificationService) NotifyEditDecided(ctx context.Context, ride *domain.Ride, accepted bool) {
	msg := "Your ride change was accepted"
	if !accepted {
		msg = "Your ride change was declined and the ride was cancelled"
	}
	s.send(ctx, Notification{
		Type:        NotificationEditDecided,
		RecipientID: ride.RiderID,
		Title:       "Ride change",
		Message:     msg,
		Metadata:    map[string]any{"ride_id": ride.ID, "accepted": accepted},
	})
}

// NotifyPaymentSuccess tells the rider their card was charged.
func (s *NotificationService) NotifyPaymentSuccess(ctx context.Context, txn *domain.PaymentTransaction) {
	s.send(ctx, Notification{
		Type:        NotificationPaymentSuccess,
		RecipientID: txn.UserID,
		Title:       "Payment successful",
		Message:     fmt.Sprintf("Payment of $%.2f was successful", txn.Amount),
		Metadata:    map[string]any{"ride_id": txn.RideID, "transaction_id": txn.ID, "amount": txn.Amount},
	})
}

// NotifyPaymentActionRequired asks the rider to complete authentication.
func (s *NotificationService) NotifyPaymentActionRequired(ctx context.Context, txn *domain.PaymentTransaction) {
	s.send(ctx, Notification{
		Type:        NotificationPaymentActionRequired,
		RecipientID: txn.UserID,
		Title:       "Confirm your payment",
		Message:     "Your bank needs you to confirm this payment",
		Metadata:    map[string]any{"ride_id": txn.RideID, "transaction_id": txn.ID},
	})
}

// NotifyPaymentFailed tells the rider the charge did not go through.
func (s *NotificationService) NotifyPaymentFailed(ctx context.Context, txn *domain.PaymentTransaction) {
	s.send(ctx, Notification{
		Type:        NotificationPaymentFailed,
		RecipientID: txn.UserID,
		Title:       "Payment failed",
		Message:     fmt.Sprintf("Payment of $%.2f failed. Please update your payment method and try again.", txn.Amount),
		Metadata:    map[string]any{"ride_id": txn.RideID, "transaction_id": txn.ID},
	})
}

// NotifyPayoutCompleted tells the driver their earnings were sent.
func (s *NotificationService) NotifyPayoutCompleted(ctx context.Context, p *domain.DriverPayout) {
	s.send(ctx, Notification{
		Type:        NotificationPayoutCompleted,
		RecipientID: p.DriverID,
		Title:       "Payout sent",
		Message:     fmt.Sprintf("$%.2f is on its way to your account", p.DriverAmount),
		Metadata:    map[string]any{"ride_id": p.RideID, "payout_id": p.ID},
	})
}

// NotifyPayoutFailed tells the driver their payout needs attention.
func (s *NotificationService) NotifyPayoutFailed(ctx context.Context, p *domain.DriverPayout) {
	s.send(ctx, Notification{
		Type:        NotificationPayoutFailed,
		RecipientID: p.DriverID,
		Title:       "Payout failed",
		Message:     "We could not send your payout. Our team will retry it.",
		Metadata:    map[string]any{"ride_id": p.RideID, "payout_id": p.ID},
	})
}

func (s *NotificationService) send(ctx context.Context, n Notification) {
	if s == nil || s.sink == nil {
		return
	}
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now()

	if err := s.sink.Send(ctx, n); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"notification_type": n.Type,
			"recipient_id":      n.RecipientID,
		}).Warn("notification delivery failed")
	}
}
