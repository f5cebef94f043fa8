package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"expedients/internal/eventbus"
	"expedients/internal/expedient/metrics"
	"expedients/internal/expedient/models"
	dErrors "expedients/pkg/domain-errors"
	"expedients/pkg/platform/sentinel"
	"expedients/pkg/requestcontext"
)

// Store is the expedient repository. FindByID and Delete return
// sentinel.ErrNotFound for unknown ids.
type Store interface {
	Save(ctx context.Context, e *models.Expedient) error
	FindAll(ctx context.Context) ([]*models.Expedient, error)
	FindByID(ctx context.Context, id string) (*models.Expedient, error)
	Delete(ctx context.Context, id string) error
}

// Publisher announces committed state changes.
type Publisher interface {
	Publish(ctx context.Context, name string, payload any)
}

// Service implements the expedient use cases. Each mutating use case loads,
// transitions, saves and then publishes exactly one event.
type Service struct {
	store     Store
	publisher Publisher
	locker    Locker
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	clock     func() time.Time
	newID     func() string
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

func WithLocker(l Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides uuid generation for new expedients.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func New(store Store, publisher Publisher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("expedient store is required")
	}
	if publisher == nil {
		return nil, errors.New("event publisher is required")
	}
	s := &Service{
		store:     store,
		publisher: publisher,
		locker:    NewShardedLocker(0),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:    otel.Tracer("expedients/expedient"),
		clock:     time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create persists a new expedient and publishes expedient.created.
func (s *Service) Create(ctx context.Context, in CreateInput) (_ models.Snapshot, err error) {
	ctx, end := s.begin(ctx, "create", "")
	defer func() { end(err) }()

	e, err := models.NewExpedient(s.newID(), in.Title, in.Description, s.clock())
	if err != nil {
		return models.Snapshot{}, toValidation(err)
	}
	if err := s.store.Save(ctx, e); err != nil {
		return models.Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save expedient")
	}

	snap := e.Snapshot()
	s.publisher.Publish(ctx, eventbus.ExpedientCreated, snap)
	s.logger.InfoContext(ctx, "expedient created",
		"expedient_id", snap.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return snap, nil
}

// Get returns one expedient. It publishes nothing.
func (s *Service) Get(ctx context.Context, id string) (_ models.Snapshot, err error) {
	ctx, end := s.begin(ctx, "get", id)
	defer func() { end(err) }()

	e, err := s.load(ctx, id)
	if err != nil {
		return models.Snapshot{}, err
	}
	return e.Snapshot(), nil
}

// List returns all expedients in insertion order. It publishes nothing.
func (s *Service) List(ctx context.Context) (_ []models.Snapshot, err error) {
	ctx, end := s.begin(ctx, "list", "")
	defer func() { end(err) }()

	all, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expedients")
	}
	out := make([]models.Snapshot, 0, len(all))
	for _, e := range all {
		out = append(out, e.Snapshot())
	}
	return out, nil
}

// Update applies the supplied fields and publishes expedient.updated.
func (s *Service) Update(ctx context.Context, in UpdateInput) (models.Snapshot, error) {
	changes := models.Changes{Title: in.Title, Description: in.Description, Completed: in.Completed}
	return s.mutate(ctx, "update", in.ID, eventbus.ExpedientUpdated, func(e *models.Expedient, now time.Time) error {
		return e.Update(changes, now)
	})
}

// Complete marks the expedient completed and publishes expedient.updated.
func (s *Service) Complete(ctx context.Context, id string) (models.Snapshot, error) {
	return s.mutate(ctx, "complete", id, eventbus.ExpedientUpdated, func(e *models.Expedient, now time.Time) error {
		e.Complete(now)
		return nil
	})
}

// Uncomplete reverts Complete and publishes expedient.updated.
func (s *Service) Uncomplete(ctx context.Context, id string) (models.Snapshot, error) {
	return s.mutate(ctx, "uncomplete", id, eventbus.ExpedientUpdated, func(e *models.Expedient, now time.Time) error {
		return e.Uncomplete(now)
	})
}

// ApplyPaymentSuccess moves the expedient to PAYMENT_SUCCESS and publishes
// expedient.payment.success.
func (s *Service) ApplyPaymentSuccess(ctx context.Context, id string) (models.Snapshot, error) {
	return s.mutate(ctx, "apply_payment_success", id, eventbus.ExpedientPaymentSucceeded, func(e *models.Expedient, now time.Time) error {
		return e.Pay(now)
	})
}

// ApplyPaymentFailure moves the expedient to PAYMENT_FAILED and publishes
// expedient.payment.failure.
func (s *Service) ApplyPaymentFailure(ctx context.Context, id string) (models.Snapshot, error) {
	return s.mutate(ctx, "apply_payment_failure", id, eventbus.ExpedientPaymentFailed, func(e *models.Expedient, now time.Time) error {
		return e.FailPayment(now)
	})
}

// Delete removes the expedient and publishes expedient.deleted carrying the
// snapshot taken before removal.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	ctx, end := s.begin(ctx, "delete", id)
	defer func() { end(err) }()

	var snap models.Snapshot
	err = s.locker.RunLocked(ctx, id, func(ctx context.Context) error {
		e, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		snap = e.Snapshot()
		if err := s.store.Delete(ctx, id); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return notFound()
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete expedient")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publisher.Publish(ctx, eventbus.ExpedientDeleted, snap)
	s.logger.InfoContext(ctx, "expedient deleted",
		"expedient_id", id,
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

// mutate runs load-transition-save under the id lock, then publishes event
// outside the lock.
func (s *Service) mutate(ctx context.Context, op, id, event string, apply func(e *models.Expedient, now time.Time) error) (_ models.Snapshot, err error) {
	ctx, end := s.begin(ctx, op, id)
	defer func() { end(err) }()

	var snap models.Snapshot
	err = s.locker.RunLocked(ctx, id, func(ctx context.Context) error {
		e, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(e, s.clock()); err != nil {
			return err
		}
		if err := s.store.Save(ctx, e); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save expedient")
		}
		snap = e.Snapshot()
		return nil
	})
	if err != nil {
		return models.Snapshot{}, err
	}

	s.publisher.Publish(ctx, event, snap)
	s.logger.InfoContext(ctx, "expedient "+op,
		"expedient_id", id,
		"status", snap.Status,
		"completed", snap.Completed,
		"request_id", requestcontext.RequestID(ctx),
	)
	return snap, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Expedient, error) {
	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, notFound()
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load expedient")
	}
	return e, nil
}

// begin opens a span and returns a func that records metrics and ends it.
func (s *Service) begin(ctx context.Context, op, id string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "expedient."+op)
	if id != "" {
		span.SetAttributes(attribute.String("expedient.id", id))
	}
	return ctx, func(err error) {
		s.metrics.Observe(op, start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, dErrors.MessageOf(err))
		}
		span.End()
	}
}

func notFound() error {
	return dErrors.New(dErrors.CodeNotFound, "Expedient not found")
}

// toValidation converts constructor invariant failures into validation errors
// for the API response.
func toValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return err
}
