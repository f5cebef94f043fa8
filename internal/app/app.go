// Package app builds the concrete stores, clients, services and subscribers
// from configuration and exposes the HTTP handler that fronts them.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"

	"expedients/internal/eventbus"
	exphandler "expedients/internal/expedient/handler"
	expmetrics "expedients/internal/expedient/metrics"
	expservice "expedients/internal/expedient/service"
	"expedients/internal/expedient/store"
	"expedients/internal/expedient/subscriber"
	httpapi "expedients/internal/http"
	"expedients/internal/notification"
	"expedients/internal/payment/gateway"
	payhandler "expedients/internal/payment/handler"
	paymetrics "expedients/internal/payment/metrics"
	payservice "expedients/internal/payment/service"
	"expedients/internal/platform/config"
	"expedients/internal/platform/kafka"
	"expedients/internal/platform/metrics"
	"expedients/internal/platform/postgres"
	platformredis "expedients/internal/platform/redis"
	"expedients/pkg/platform/circuit"
)

// App is the fully wired service.
type App struct {
	Bus        *eventbus.Bus
	Expedients *expservice.Service
	Payments   *payservice.Service
	Handler    http.Handler

	logger  *slog.Logger
	redis   *platformredis.Client
	db      *sql.DB
	kafka   *kgo.Client
	closers []func() error
}

// Options carries process-level collaborators that outlive the config.
type Options struct {
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	HTTPClient *http.Client
	// Gateway overrides the configured payment gateway.
	Gateway payservice.Gateway
	// Notifiers are appended to the configured ones.
	Notifiers []notification.Notifier
}

// New connects external clients and wires every component. Close releases
// whatever New acquired, including on a partial failure.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Payment.Timeout}
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	a := &App{logger: logger}
	defer func() {
		if err != nil {
			_ = a.closeClients()
		}
	}()

	bus := eventbus.New(
		eventbus.WithLogger(logger),
		eventbus.WithMetrics(eventbus.NewMetrics(opts.Registerer)),
		eventbus.WithTracer(otel.Tracer("expedients/eventbus")),
	)
	a.Bus = bus

	st, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	expOpts := []expservice.Option{
		expservice.WithLogger(logger),
		expservice.WithMetrics(expmetrics.New(opts.Registerer)),
	}
	// a shared database also serialises writers across instances
	if locker, ok := st.(expservice.Locker); ok {
		expOpts = append(expOpts, expservice.WithLocker(locker))
	}
	a.Expedients, err = expservice.New(st, bus, expOpts...)
	if err != nil {
		return nil, err
	}

	notifiers, err := a.buildNotifiers(ctx, cfg, httpClient)
	if err != nil {
		return nil, err
	}
	notifiers = append(notifiers, opts.Notifiers...)
	notification.NewSubscriber(bus, notifiers,
		notification.WithLogger(logger),
		notification.WithMetrics(notification.NewMetrics(opts.Registerer)),
	)
	subscriber.NewPaymentSubscriber(bus, a.Expedients, logger)

	payMetrics := paymetrics.New(opts.Registerer)
	gw := opts.Gateway
	if gw == nil {
		gw = buildGateway(cfg.Payment, httpClient, logger, payMetrics)
	}
	a.Payments, err = payservice.New(gw, a.Expedients, bus,
		payservice.WithLogger(logger),
		payservice.WithMetrics(payMetrics),
	)
	if err != nil {
		return nil, err
	}

	a.Handler = httpapi.NewRouter(httpapi.Options{
		Logger:   logger,
		Metrics:  metrics.New(opts.Registerer),
		Gatherer: gatherer,
		Modules: []httpapi.RouteRegistrar{
			exphandler.New(a.Expedients, logger),
			payhandler.New(a.Payments, logger),
		},
		HealthChecks: a.healthChecks(),
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config) (expservice.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
		return store.NewRedis(client.Client), nil
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		pg := store.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return store.NewInMemory(), nil
	}
}

func (a *App) buildNotifiers(ctx context.Context, cfg config.Config, client *http.Client) ([]notification.Notifier, error) {
	notifiers := []notification.Notifier{notification.NewLog(a.logger)}
	if cfg.Slack.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewSlack(cfg.Slack.WebhookURL, client))
	}
	if cfg.Mixpanel.Token != "" {
		notifiers = append(notifiers, notification.NewMixpanel(cfg.Mixpanel.Token, cfg.Mixpanel.URL, client))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		cl, err := kafka.NewClient(ctx, cfg.Kafka)
		if err != nil {
			return nil, err
		}
		a.kafka = cl
		a.closers = append(a.closers, func() error { cl.Close(); return nil })
		if err := kafka.EnsureTopic(ctx, cl, cfg.Kafka.Topic, 3, 1); err != nil {
			return nil, err
		}
		notifiers = append(notifiers, notification.NewKafka(cl, cfg.Kafka.Topic))
	}
	return notifiers, nil
}

func buildGateway(cfg config.PaymentConfig, client *http.Client, logger *slog.Logger, m *paymetrics.Metrics) payservice.Gateway {
	if cfg.APIURL == "" {
		return gateway.NewStub(cfg.DeclineAbove)
	}
	breaker := circuit.New("payment-gateway",
		circuit.WithFailureThreshold(cfg.BreakerThreshold),
		circuit.WithCooldown(cfg.BreakerCooldown),
	)
	return gateway.NewHTTP(cfg.APIURL, cfg.APIKey,
		gateway.WithHTTPClient(client),
		gateway.WithBreaker(breaker),
		gateway.WithLogger(logger),
		gateway.WithMetrics(m),
	)
}

func (a *App) healthChecks() map[string]httpapi.HealthCheck {
	checks := map[string]httpapi.HealthCheck{}
	if a.redis != nil {
		checks["redis"] = a.redis.Health
	}
	if a.db != nil {
		checks["postgres"] = a.db.PingContext
	}
	if a.kafka != nil {
		checks["kafka"] = a.kafka.Ping
	}
	return checks
}

// Close drains the bus, then closes external clients in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Bus != nil {
		if err := a.Bus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain event bus: %w", err))
		}
	}
	if err := a.closeClients(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeClients() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
