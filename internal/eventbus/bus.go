// Package eventbus is the in-process publish/subscribe broker connecting use
// cases to their reactive side effects.
//
// Every subscription owns an unbounded FIFO inbox drained by a dedicated
// goroutine. Publish appends to the inboxes and returns; it never waits for a
// handler. Handler errors and panics are logged and counted, and never reach
// the publisher or sibling subscriptions.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"expedients/pkg/requestcontext"
)

// Event is a named payload with envelope metadata. Events are not persisted.
type Event struct {
	ID         string
	Name       string
	Payload    any
	OccurredAt time.Time
}

// Handler reacts to one event. Returned errors are logged by the bus.
type Handler func(ctx context.Context, evt Event) error

// Publisher is the narrow port use cases depend on.
type Publisher interface {
	Publish(ctx context.Context, name string, payload any)
}

// Subscriber is the narrow port reactive components register through.
type Subscriber interface {
	Subscribe(name, subscriber string, h Handler)
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	all    []*subscription
	closed bool

	pending atomic.Int64
	wg      sync.WaitGroup

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Bus)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(b *Bus) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithClock overrides the OccurredAt source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[string][]*subscription),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer("expedients/eventbus"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for events called name. Handlers for the same name
// are dispatched in registration order. Subscribing after Close is ignored.
func (b *Bus) Subscribe(name, subscriber string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.logger.Warn("subscribe after close ignored", "event", name, "subscriber", subscriber)
		return
	}
	s := &subscription{
		bus:     b,
		event:   name,
		name:    subscriber,
		handler: h,
		signal:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	b.subs[name] = append(b.subs[name], s)
	b.all = append(b.all, s)
	b.wg.Add(1)
	go s.run()
}

// Publish enqueues the event for every subscription of name and returns.
// It never fails; publishing after Close drops the event with a warning.
func (b *Bus) Publish(ctx context.Context, name string, payload any) {
	evt := Event{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    payload,
		OccurredAt: b.now(),
	}
	// handlers must outlive the request that triggered them
	hctx := context.WithoutCancel(ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.WarnContext(ctx, "publish after close dropped",
			"event", name,
			"event_id", evt.ID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return
	}

	targets := b.subs[name]
	b.metrics.published(name, len(targets))
	b.logger.DebugContext(ctx, "event published",
		"event", name,
		"event_id", evt.ID,
		"subscribers", len(targets),
		"request_id", requestcontext.RequestID(ctx),
	)
	for _, s := range targets {
		b.pending.Add(1)
		b.metrics.enqueued()
		s.enqueue(delivery{ctx: hctx, evt: evt})
	}
}

// Flush blocks until every enqueued event has been handled or ctx is done.
func (b *Bus) Flush(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for b.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush event bus: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting events, lets every worker drain its inbox and waits
// for them to exit or ctx to be done.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, s := range b.all {
		close(s.stop)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close event bus: %d events pending: %w", b.pending.Load(), ctx.Err())
	}
}

type delivery struct {
	ctx context.Context
	evt Event
}

type subscription struct {
	bus     *Bus
	event   string
	name    string
	handler Handler

	mu     sync.Mutex
	queue  []delivery
	signal chan struct{}
	stop   chan struct{}
}

func (s *subscription) enqueue(d delivery) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) next() (delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return delivery{}, false
	}
	d := s.queue[0]
	s.queue[0] = delivery{}
	s.queue = s.queue[1:]
	return d, true
}

func (s *subscription) run() {
	defer s.bus.wg.Done()
	for {
		for {
			d, ok := s.next()
			if !ok {
				break
			}
			s.dispatch(d)
		}
		select {
		case <-s.signal:
		case <-s.stop:
			// Publish holds the read lock while enqueuing and Close takes the
			// write lock before closing stop, so nothing arrives after this drain.
			for {
				d, ok := s.next()
				if !ok {
					return
				}
				s.dispatch(d)
			}
		}
	}
}

func (s *subscription) dispatch(d delivery) {
	b := s.bus
	defer func() {
		b.metrics.dequeued()
		b.pending.Add(-1)
	}()

	ctx, span := b.tracer.Start(d.ctx, "eventbus.handle",
		trace.WithAttributes(
			attribute.String("event.name", d.evt.Name),
			attribute.String("event.id", d.evt.ID),
			attribute.String("subscriber", s.name),
		))
	defer span.End()

	b.logger.DebugContext(ctx, "event received",
		"event", d.evt.Name,
		"event_id", d.evt.ID,
		"subscriber", s.name,
		"request_id", requestcontext.RequestID(ctx),
	)

	start := time.Now()
	err := s.invoke(ctx, d.evt)
	b.metrics.handled(d.evt.Name, s.name, time.Since(start).Seconds(), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.ErrorContext(ctx, "event handler failed",
			"event", d.evt.Name,
			"event_id", d.evt.ID,
			"subscriber", s.name,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}

func (s *subscription) invoke(ctx context.Context, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, evt)
}

// DecodePayload returns the payload as T. Payloads published as T or *T are
// returned directly; anything else is round-tripped through JSON.
func DecodePayload[T any](evt Event) (T, error) {
	var out T
	switch p := evt.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p == nil {
			return out, fmt.Errorf("event %s: nil payload", evt.Name)
		}
		return *p, nil
	}
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		return out, fmt.Errorf("event %s: encode payload: %w", evt.Name, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("event %s: decode payload: %w", evt.Name, err)
	}
	return out, nil
}
