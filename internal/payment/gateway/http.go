package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"expedients/internal/payment/metrics"
	"expedients/internal/payment/models"
	dErrors "expedients/pkg/domain-errors"
	"expedients/pkg/platform/circuit"
)

// HTTP calls a remote payment API at POST {apiURL}/payments with a bearer
// key. Transport errors and 5xx responses count against the circuit breaker;
// while it is open calls fail fast as unavailable.
type HTTP struct {
	apiURL  string
	apiKey  string
	client  *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type HTTPOption func(*HTTP)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(g *HTTP) {
		if c != nil {
			g.client = c
		}
	}
}

func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(g *HTTP) {
		if b != nil {
			g.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) HTTPOption {
	return func(g *HTTP) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) HTTPOption {
	return func(g *HTTP) {
		g.metrics = m
	}
}

func NewHTTP(apiURL, apiKey string, opts ...HTTPOption) *HTTP {
	g := &HTTP{
		apiURL:  strings.TrimRight(apiURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: circuit.New("payment-gateway"),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type paymentRequest struct {
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	PaymentMethod models.Method `json:"paymentMethod"`
}

func (g *HTTP) ProcessPayment(ctx context.Context, amount float64, currency string, method models.Method) (models.Result, error) {
	if !g.breaker.Allow() {
		return models.Result{}, dErrors.New(dErrors.CodeUnavailable, "payment gateway unavailable")
	}

	result, err := g.call(ctx, paymentRequest{Amount: amount, Currency: currency, PaymentMethod: method})
	if err != nil {
		_, change := g.breaker.RecordFailure()
		if change.Opened {
			g.logger.WarnContext(ctx, "payment gateway circuit opened", "error", err)
			g.metrics.SetBreakerOpen(true)
		}
		return models.Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "payment gateway unavailable")
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "payment gateway circuit closed")
		g.metrics.SetBreakerOpen(false)
	}
	return result, nil
}

// call returns an error only for failures that say nothing about the payment
// itself. A decline is a successful call with Success=false.
func (g *HTTP) call(ctx context.Context, body paymentRequest) (models.Result, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return models.Result{}, fmt.Errorf("encode payment request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/payments", bytes.NewReader(data))
	if err != nil {
		return models.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	res, err := g.client.Do(req)
	if err != nil {
		return models.Result{}, err
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))

	switch {
	case res.StatusCode >= 500:
		return models.Result{}, fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	case res.StatusCode >= 200 && res.StatusCode < 300:
		var result models.Result
		if err := json.Unmarshal(raw, &result); err != nil {
			return models.Result{}, fmt.Errorf("decode payment response: %w", err)
		}
		if result.Success && result.TransactionID == "" {
			return models.Result{}, fmt.Errorf("approved payment without transaction id")
		}
		return result, nil
	default:
		// 4xx: the API rejected this payment
		var result models.Result
		_ = json.Unmarshal(raw, &result)
		result.Success = false
		if result.ErrorMessage == "" {
			result.ErrorMessage = fmt.Sprintf("Payment declined (status %d)", res.StatusCode)
		}
		return result, nil
	}
}
