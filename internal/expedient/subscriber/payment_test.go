package subscriber

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"expedients/internal/eventbus"
	"expedients/internal/expedient/models"
	"expedients/internal/expedient/service"
	"expedients/internal/expedient/store"
	paymentmodels "expedients/internal/payment/models"
)

// syncBuffer lets the test read logs written by bus workers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type PaymentSubscriberSuite struct {
	suite.Suite
	bus     *eventbus.Bus
	service *service.Service
	logs    *syncBuffer
	ctx     context.Context
}

func TestPaymentSubscriberSuite(t *testing.T) {
	suite.Run(t, new(PaymentSubscriberSuite))
}

func (s *PaymentSubscriberSuite) SetupTest() {
	s.ctx = context.Background()
	s.logs = &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(s.logs, nil))

	s.bus = eventbus.New(eventbus.WithLogger(logger))
	svc, err := service.New(store.NewInMemory(), s.bus)
	s.Require().NoError(err)
	s.service = svc
	NewPaymentSubscriber(s.bus, svc, logger)
}

func (s *PaymentSubscriberSuite) TearDownTest() {
	s.Require().NoError(s.bus.Close(context.Background()))
}

func (s *PaymentSubscriberSuite) flush() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	s.Require().NoError(s.bus.Flush(ctx))
}

func (s *PaymentSubscriberSuite) create() models.Snapshot {
	snap, err := s.service.Create(s.ctx, service.CreateInput{Title: "T", Description: "D"})
	s.Require().NoError(err)
	return snap
}

func (s *PaymentSubscriberSuite) TestSuccessMovesToPaymentSuccess() {
	exp := s.create()
	s.bus.Publish(s.ctx, eventbus.PaymentSucceeded, paymentmodels.PaymentSucceeded{
		ExpedientID: exp.ID, Amount: 100, Currency: "USD", TransactionID: "txn_1",
	})
	s.flush()

	got, err := s.service.Get(s.ctx, exp.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPaymentSuccess, got.Status)
	s.True(got.UpdatedAt.After(exp.UpdatedAt))
}

func (s *PaymentSubscriberSuite) TestFailureMovesToPaymentFailed() {
	exp := s.create()
	s.bus.Publish(s.ctx, eventbus.PaymentFailed, paymentmodels.PaymentFailed{
		ExpedientID: exp.ID, Amount: 100, Currency: "USD", ErrorMessage: "Payment declined. Insufficient funds.",
	})
	s.flush()

	got, err := s.service.Get(s.ctx, exp.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPaymentFailed, got.Status)
}

func (s *PaymentSubscriberSuite) TestErrorsAreLoggedNotPropagated() {
	s.Run("missing expedient", func() {
		s.bus.Publish(s.ctx, eventbus.PaymentSucceeded, paymentmodels.PaymentSucceeded{ExpedientID: "ghost"})
		s.flush()
		s.Contains(s.logs.String(), "error handling payment success")
	})

	s.Run("malformed payload", func() {
		s.bus.Publish(s.ctx, eventbus.PaymentFailed, "garbage")
		s.flush()
		s.Contains(s.logs.String(), "malformed payment failure payload")
	})

	s.Run("terminal status keeps the first outcome", func() {
		exp := s.create()
		s.bus.Publish(s.ctx, eventbus.PaymentFailed, paymentmodels.PaymentFailed{ExpedientID: exp.ID})
		// separate event names are separate inboxes, so order them explicitly
		s.flush()
		s.bus.Publish(s.ctx, eventbus.PaymentSucceeded, paymentmodels.PaymentSucceeded{ExpedientID: exp.ID})
		s.flush()

		got, err := s.service.Get(s.ctx, exp.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPaymentFailed, got.Status)
	})
}

func (s *PaymentSubscriberSuite) TestHandlersNeverReturnErrors() {
	sub := &PaymentSubscriber{applier: s.service, logger: slog.New(slog.NewTextHandler(s.logs, nil))}
	s.NoError(sub.HandleSuccess(s.ctx, eventbus.Event{Name: eventbus.PaymentSucceeded, Payload: 42}))
	s.NoError(sub.HandleFailure(s.ctx, eventbus.Event{Name: eventbus.PaymentFailed, Payload: paymentmodels.PaymentFailed{ExpedientID: "none"}}))
}
