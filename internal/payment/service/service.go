package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"expedients/internal/eventbus"
	expedientmodels "expedients/internal/expedient/models"
	"expedients/internal/payment/metrics"
	"expedients/internal/payment/models"
	dErrors "expedients/pkg/domain-errors"
	"expedients/pkg/requestcontext"
)

// Gateway charges a payment method.
type Gateway interface {
	ProcessPayment(ctx context.Context, amount float64, currency string, method models.Method) (models.Result, error)
}

// ExpedientReader confirms the expedient being paid exists.
type ExpedientReader interface {
	Get(ctx context.Context, id string) (expedientmodels.Snapshot, error)
}

// Publisher announces payment outcomes.
type Publisher interface {
	Publish(ctx context.Context, name string, payload any)
}

// Service runs payments against the gateway. It never touches expedient
// status itself: the outcome event drives that asynchronously.
type Service struct {
	gateway    Gateway
	expedients ExpedientReader
	publisher  Publisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func New(gateway Gateway, expedients ExpedientReader, publisher Publisher, opts ...Option) (*Service, error) {
	if gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	if expedients == nil {
		return nil, errors.New("expedient reader is required")
	}
	if publisher == nil {
		return nil, errors.New("event publisher is required")
	}
	s := &Service{
		gateway:    gateway,
		expedients: expedients,
		publisher:  publisher,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:     otel.Tracer("expedients/payment"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Pay charges in.Method and publishes payment.success or payment.failure.
// A gateway error publishes nothing and is returned to the caller.
func (s *Service) Pay(ctx context.Context, in models.PayInput) (_ models.Result, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.pay", trace.WithAttributes(
		attribute.String("expedient.id", in.ExpedientID),
		attribute.String("payment.currency", in.Currency),
		attribute.String("payment.method", string(in.Method.Type)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, dErrors.MessageOf(err))
		}
		span.End()
	}()

	if _, err := s.expedients.Get(ctx, in.ExpedientID); err != nil {
		return models.Result{}, err
	}

	start := time.Now()
	result, err := s.gateway.ProcessPayment(ctx, in.Amount, in.Currency, in.Method)
	if err != nil {
		s.metrics.ObserveAttempt("error", start)
		s.logger.ErrorContext(ctx, "payment gateway call failed",
			"expedient_id", in.ExpedientID,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			return models.Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "payment gateway unavailable")
		}
		return models.Result{}, err
	}

	if result.Success {
		s.metrics.ObserveAttempt("approved", start)
		s.publisher.Publish(ctx, eventbus.PaymentSucceeded, models.PaymentSucceeded{
			ExpedientID:   in.ExpedientID,
			Amount:        in.Amount,
			Currency:      in.Currency,
			TransactionID: result.TransactionID,
		})
	} else {
		s.metrics.ObserveAttempt("declined", start)
		s.publisher.Publish(ctx, eventbus.PaymentFailed, models.PaymentFailed{
			ExpedientID:  in.ExpedientID,
			Amount:       in.Amount,
			Currency:     in.Currency,
			ErrorMessage: result.ErrorMessage,
		})
	}

	s.logger.InfoContext(ctx, "payment processed",
		"expedient_id", in.ExpedientID,
		"success", result.Success,
		"transaction_id", result.TransactionID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return result, nil
}
