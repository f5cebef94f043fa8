// Package subscriber turns payment outcomes published on the bus into
// expedient status changes.
package subscriber

import (
	"context"
	"io"
	"log/slog"

	"expedients/internal/eventbus"
	"expedients/internal/expedient/models"
	paymentmodels "expedients/internal/payment/models"
	"expedients/pkg/requestcontext"
)

const subscriberName = "expedient-payment-outcome"

// PaymentOutcomeApplier is the slice of the expedient service this
// subscriber drives.
type PaymentOutcomeApplier interface {
	ApplyPaymentSuccess(ctx context.Context, id string) (models.Snapshot, error)
	ApplyPaymentFailure(ctx context.Context, id string) (models.Snapshot, error)
}

// PaymentSubscriber applies payment.success and payment.failure. Every error
// is logged here and never handed back to the bus.
type PaymentSubscriber struct {
	applier PaymentOutcomeApplier
	logger  *slog.Logger
}

// NewPaymentSubscriber registers the handlers on bus.
func NewPaymentSubscriber(bus eventbus.Subscriber, applier PaymentOutcomeApplier, logger *slog.Logger) *PaymentSubscriber {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &PaymentSubscriber{applier: applier, logger: logger}
	bus.Subscribe(eventbus.PaymentSucceeded, subscriberName, s.HandleSuccess)
	bus.Subscribe(eventbus.PaymentFailed, subscriberName, s.HandleFailure)
	return s
}

func (s *PaymentSubscriber) HandleSuccess(ctx context.Context, evt eventbus.Event) error {
	p, err := eventbus.DecodePayload[paymentmodels.PaymentSucceeded](evt)
	if err != nil {
		s.logFailure(ctx, evt, "", "malformed payment success payload", err)
		return nil
	}
	snap, err := s.applier.ApplyPaymentSuccess(ctx, p.ExpedientID)
	if err != nil {
		s.logFailure(ctx, evt, p.ExpedientID, "error handling payment success", err)
		return nil
	}
	s.logger.InfoContext(ctx, "payment success applied",
		"event_id", evt.ID,
		"expedient_id", snap.ID,
		"transaction_id", p.TransactionID,
		"status", snap.Status,
	)
	return nil
}

func (s *PaymentSubscriber) HandleFailure(ctx context.Context, evt eventbus.Event) error {
	p, err := eventbus.DecodePayload[paymentmodels.PaymentFailed](evt)
	if err != nil {
		s.logFailure(ctx, evt, "", "malformed payment failure payload", err)
		return nil
	}
	snap, err := s.applier.ApplyPaymentFailure(ctx, p.ExpedientID)
	if err != nil {
		s.logFailure(ctx, evt, p.ExpedientID, "error handling payment failure", err)
		return nil
	}
	s.logger.InfoContext(ctx, "payment failure applied",
		"event_id", evt.ID,
		"expedient_id", snap.ID,
		"reason", p.ErrorMessage,
		"status", snap.Status,
	)
	return nil
}

func (s *PaymentSubscriber) logFailure(ctx context.Context, evt eventbus.Event, expedientID, msg string, err error) {
	s.logger.ErrorContext(ctx, msg,
		"event", evt.Name,
		"event_id", evt.ID,
		"expedient_id", expedientID,
		"subscriber", subscriberName,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}
