package app_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/suite"

	"expedients/internal/app"
	"expedients/internal/eventbus"
	"expedients/internal/expedient/models"
	"expedients/internal/notification"
	paymodels "expedients/internal/payment/models"
	"expedients/internal/platform/config"
	"expedients/pkg/testutil"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Send(_ context.Context, eventName string, _ any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventName)
	return nil
}

func (n *recordingNotifier) received() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type EndToEndSuite struct {
	suite.Suite
	app      *app.App
	notifier *recordingNotifier
}

func TestEndToEndSuite(t *testing.T) {
	suite.Run(t, new(EndToEndSuite))
}

func (s *EndToEndSuite) SetupTest() {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("payment.decline_above", 1000)
	cfg, err := config.Load(v)
	s.Require().NoError(err)

	reg := prometheus.NewRegistry()
	s.notifier = &recordingNotifier{}
	s.app, err = app.New(context.Background(), cfg, app.Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: reg,
		Gatherer:   reg,
		Notifiers:  []notification.Notifier{s.notifier},
	})
	s.Require().NoError(err)
}

func (s *EndToEndSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.NoError(s.app.Close(ctx))
}

func (s *EndToEndSuite) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(s.app.Bus.Flush(ctx))
}

func (s *EndToEndSuite) do(method, path string, body any) (int, []byte) {
	var req *http.Request
	if body == nil {
		req = testutil.NewRequest(s.T(), method, path)
	} else {
		req = testutil.NewJSONRequest(s.T(), method, path, body)
	}
	rr := testutil.DoRequest(s.app.Handler, req)
	return rr.Code, rr.Body.Bytes()
}

func (s *EndToEndSuite) create(title, description string) models.Snapshot {
	rr := testutil.DoRequest(s.app.Handler, testutil.NewJSONRequest(s.T(), http.MethodPost, "/expedients",
		map[string]string{"title": title, "description": description}))
	s.Require().Equal(http.StatusCreated, rr.Code)
	return *testutil.UnmarshalResponse[models.Snapshot](s.T(), rr)
}

func (s *EndToEndSuite) get(id string) models.Snapshot {
	rr := testutil.DoRequest(s.app.Handler, testutil.NewRequest(s.T(), http.MethodGet, "/expedients/"+id))
	s.Require().Equal(http.StatusOK, rr.Code)
	return *testutil.UnmarshalResponse[models.Snapshot](s.T(), rr)
}

func (s *EndToEndSuite) pay(id string, amount float64) paymodels.Result {
	rr := testutil.DoRequest(s.app.Handler, testutil.NewJSONRequest(s.T(), http.MethodPost, "/payments/expedients/"+id,
		map[string]any{
			"amount":        amount,
			"currency":      "EUR",
			"paymentMethod": map[string]any{"type": "credit_card", "cardNumber": "4111111111111111"},
		}))
	s.Require().Equal(http.StatusOK, rr.Code)
	return *testutil.UnmarshalResponse[paymodels.Result](s.T(), rr)
}

func (s *EndToEndSuite) TestCRUD() {
	created := s.create("Permit", "Building permit")
	s.Equal(models.StatusCreated, created.Status)

	code, body := s.do(http.MethodGet, "/expedients", nil)
	s.Equal(http.StatusOK, code)
	s.Contains(string(body), created.ID)

	code, _ = s.do(http.MethodPut, "/expedients/"+created.ID, map[string]any{"description": "Renovation permit"})
	s.Equal(http.StatusOK, code)
	s.Equal("Renovation permit", s.get(created.ID).Description)

	code, _ = s.do(http.MethodPost, "/expedients/"+created.ID+"/complete", nil)
	s.Equal(http.StatusOK, code)
	s.True(s.get(created.ID).Completed)

	code, _ = s.do(http.MethodPost, "/expedients/"+created.ID+"/uncomplete", nil)
	s.Equal(http.StatusOK, code)
	s.False(s.get(created.ID).Completed)

	code, body = s.do(http.MethodDelete, "/expedients/"+created.ID, nil)
	s.Equal(http.StatusOK, code)
	s.JSONEq(`{"message":"Expedient deleted successfully"}`, string(body))

	code, _ = s.do(http.MethodGet, "/expedients/"+created.ID, nil)
	s.Equal(http.StatusNotFound, code)

	// each event name has its own inbox, so only the multiset is stable
	s.flush()
	s.ElementsMatch([]string{
		eventbus.ExpedientCreated,
		eventbus.ExpedientUpdated,
		eventbus.ExpedientUpdated,
		eventbus.ExpedientUpdated,
		eventbus.ExpedientDeleted,
	}, s.notifier.received())
}

func (s *EndToEndSuite) TestPaymentApproved() {
	exp := s.create("Permit", "Building permit")

	res := s.pay(exp.ID, 100)
	s.True(res.Success)
	s.NotEmpty(res.TransactionID)
	s.Empty(res.ErrorMessage)

	s.flush()
	s.Equal(models.StatusPaymentSuccess, s.get(exp.ID).Status)
}

func (s *EndToEndSuite) TestPaymentDeclined() {
	exp := s.create("Permit", "Building permit")

	res := s.pay(exp.ID, 5000)
	s.False(res.Success)
	s.Empty(res.TransactionID)
	s.Equal("Payment declined. Insufficient funds.", res.ErrorMessage)

	s.flush()
	s.Equal(models.StatusPaymentFailed, s.get(exp.ID).Status)
}

func (s *EndToEndSuite) TestSecondPaymentLeavesTerminalStatus() {
	exp := s.create("Permit", "Building permit")
	s.True(s.pay(exp.ID, 100).Success)
	s.flush()

	s.False(s.pay(exp.ID, 5000).Success)
	s.flush()

	s.Equal(models.StatusPaymentSuccess, s.get(exp.ID).Status)
}

func (s *EndToEndSuite) TestPaymentForUnknownExpedient() {
	rr := testutil.DoRequest(s.app.Handler, testutil.NewJSONRequest(s.T(), http.MethodPost, "/payments/expedients/missing",
		map[string]any{"amount": 10, "currency": "EUR", "paymentMethod": map[string]any{"type": "debit_card"}}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}

func (s *EndToEndSuite) TestHealthAndMetrics() {
	code, body := s.do(http.MethodGet, "/health", nil)
	s.Equal(http.StatusOK, code)
	s.JSONEq(`{"status":"ok"}`, string(body))

	s.create("Permit", "Building permit")
	s.flush()

	code, body = s.do(http.MethodGet, "/metrics", nil)
	s.Equal(http.StatusOK, code)
	s.Contains(string(body), "expedients_events_published_total")
	s.Contains(string(body), "expedients_http_requests_total")
}
