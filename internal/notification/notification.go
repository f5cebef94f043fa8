// Package notification fans expedient lifecycle events out to external
// channels (Slack, Mixpanel, Kafka, logs).
package notification

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"expedients/internal/eventbus"
	"expedients/pkg/requestcontext"
)

const (
	subscriberName     = "notification-fanout"
	defaultSendTimeout = 10 * time.Second
)

// Notifier delivers one event to one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, eventName string, payload any) error
}

// Subscriber sends every expedient lifecycle event to all notifiers at once
// and waits for all of them. A failing notifier never cancels the others and
// never fails the bus delivery.
type Subscriber struct {
	notifiers   []Notifier
	logger      *slog.Logger
	metrics     *Metrics
	sendTimeout time.Duration
}

type Option func(*Subscriber)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Subscriber) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Subscriber) {
		s.metrics = m
	}
}

// WithSendTimeout bounds each notifier call.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Subscriber) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

// NewSubscriber registers the fan-out on bus for created, updated and deleted.
func NewSubscriber(bus eventbus.Subscriber, notifiers []Notifier, opts ...Option) *Subscriber {
	s := &Subscriber{
		notifiers:   notifiers,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		sendTimeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range eventbus.ExpedientLifecycle {
		bus.Subscribe(name, subscriberName, s.Handle)
	}
	return s
}

// Handle delivers evt to every notifier concurrently. It always returns nil.
func (s *Subscriber) Handle(ctx context.Context, evt eventbus.Event) error {
	var g errgroup.Group
	for _, n := range s.notifiers {
		g.Go(func() error {
			start := time.Now()
			err := s.send(ctx, n, evt)
			s.metrics.observe(n.Name(), start, err)
			if err != nil {
				s.logger.ErrorContext(ctx, "notification failed",
					"notifier", n.Name(),
					"event", evt.Name,
					"event_id", evt.ID,
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				return nil
			}
			s.logger.DebugContext(ctx, "notification sent",
				"notifier", n.Name(),
				"event", evt.Name,
				"event_id", evt.ID,
			)
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// send runs one notifier under the send timeout. A panic in the notifier is
// returned as an error so it stays inside this goroutine.
func (s *Subscriber) send(ctx context.Context, n Notifier, evt eventbus.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	return n.Send(sendCtx, evt.Name, evt.Payload)
}
