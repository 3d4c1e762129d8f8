package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/booking-payments/internal/core/events"
)

// Notifier delivers a customer-facing message. The console notifier used in
// development just logs; production wires a real sender here.
type Notifier interface {
	Notify(ctx context.Context, bookingID int64, subject, message string) error
}

// EventHandler turns committed payment events into customer notifications
// and invoice refresh triggers.
type EventHandler struct {
	notifier Notifier
	logger   *slog.Logger
}

func NewEventHandler(notifier Notifier, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		notifier: notifier,
		logger:   logger,
	}
}

func (h *EventHandler) HandlePaymentAuthorized(ctx context.Context, event events.Event) error {
	authEvent, ok := event.(*events.PaymentAuthorizedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment authorized handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentAuthorizedEvent, got %T", event)
	}

	h.logger.Info("handling payment authorized event",
		"booking_id", authEvent.BookingID,
		"authorization_id", authEvent.AuthorizationID,
		"amount", authEvent.Amount,
		"event_id", authEvent.EventID())

	return h.notifier.Notify(ctx, authEvent.BookingID,
		"booking confirmed",
		fmt.Sprintf("your booking is confirmed, %s held on your card", authEvent.Amount))
}

func (h *EventHandler) HandlePaymentCaptured(ctx context.Context, event events.Event) error {
	capturedEvent, ok := event.(*events.PaymentCapturedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment captured handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentCapturedEvent, got %T", event)
	}

	h.logger.Info("handling payment captured event",
		"booking_id", capturedEvent.BookingID,
		"amount_received", capturedEvent.AmountReceived,
		"event_id", capturedEvent.EventID())

	return h.notifier.Notify(ctx, capturedEvent.BookingID,
		"payment received",
		fmt.Sprintf("we charged %s for your completed booking", capturedEvent.AmountReceived))
}

func (h *EventHandler) HandlePaymentAdjusted(ctx context.Context, event events.Event) error {
	adjustedEvent, ok := event.(*events.PaymentAdjustedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment adjusted handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentAdjustedEvent, got %T", event)
	}

	h.logger.Info("handling payment adjusted event, invoice needs regeneration",
		"booking_id", adjustedEvent.BookingID,
		"adjustment", adjustedEvent.Adjustment,
		"amount", adjustedEvent.Amount,
		"event_id", adjustedEvent.EventID())

	return h.notifier.Notify(ctx, adjustedEvent.BookingID,
		"booking payment updated",
		fmt.Sprintf("your booking payment was adjusted (%s, %s)", adjustedEvent.Adjustment, adjustedEvent.Amount))
}

func (h *EventHandler) HandleManualPaymentRequired(ctx context.Context, event events.Event) error {
	manualEvent, ok := event.(*events.ManualPaymentRequiredEvent)
	if !ok {
		h.logger.Error("invalid event type for manual payment handler", "event_type", event.EventType())
		return fmt.Errorf("expected ManualPaymentRequiredEvent, got %T", event)
	}

	h.logger.Warn("manual payment required, operations team must follow up",
		"booking_id", manualEvent.BookingID,
		"pending_amount", manualEvent.PendingAmount,
		"reason", manualEvent.Reason,
		"event_id", manualEvent.EventID())

	return h.notifier.Notify(ctx, manualEvent.BookingID,
		"payment needs attention",
		fmt.Sprintf("we could not charge %s automatically, please update your payment method", manualEvent.PendingAmount))
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentAuthorized, h.HandlePaymentAuthorized)
	eventBus.Subscribe(events.EventTypePaymentCaptured, h.HandlePaymentCaptured)
	eventBus.Subscribe(events.EventTypePaymentAdjusted, h.HandlePaymentAdjusted)
	eventBus.Subscribe(events.EventTypeManualPaymentRequired, h.HandleManualPaymentRequired)

	h.logger.Info("notification event handlers registered",
		"handlers", []string{
			events.EventTypePaymentAuthorized,
			events.EventTypePaymentCaptured,
			events.EventTypePaymentAdjusted,
			events.EventTypeManualPaymentRequired,
		})
}

// ConsoleNotifier logs notifications instead of sending them.
type ConsoleNotifier struct {
	logger *slog.Logger
}

func NewConsoleNotifier(logger *slog.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{logger: logger}
}

func (n *ConsoleNotifier) Notify(ctx context.Context, bookingID int64, subject, message string) error {
	n.logger.Info("notification",
		"booking_id", bookingID,
		"subject", subject,
		"message", message)
	return nil
}
