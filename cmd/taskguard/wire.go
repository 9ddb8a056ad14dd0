package main

import (
	"context"
	"errors"

	"github.com/kbukum/taskguard/bootstrap"
	"github.com/kbukum/taskguard/component"
	"github.com/kbukum/taskguard/kafka"
	"github.com/kbukum/taskguard/logger"
	"github.com/kbukum/taskguard/observability"
	"github.com/kbukum/taskguard/queue"
	"github.com/kbukum/taskguard/redis"
	"github.com/kbukum/taskguard/resilience"
	"github.com/kbukum/taskguard/server"
)

// wire builds every component and registers them in start order: telemetry,
// redis, kafka, queues, http. Shutdown runs in reverse, so the API stops
// taking jobs first and telemetry flushes last.
func wire(ctx context.Context, app *bootstrap.App[*Config]) error {
	cfg := app.Cfg
	log := app.Logger

	tel, err := newTelemetry(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := app.RegisterComponent(tel); err != nil {
		return err
	}
	metrics := tel.metrics

	store, err := openStore(app)
	if err != nil {
		return err
	}

	breakers := resilience.NewBreakerRegistry(cfg.Breaker)
	breakers.Observe(func(name string, from, to resilience.State) {
		fields := logger.BreakerFields(name, from.String(), to.String())
		if to == resilience.StateOpen {
			log.Warn("Circuit breaker opened", fields)
		} else {
			log.Info("Circuit breaker state changed", fields)
		}
		metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
	})

	bulkheadDefaults := cfg.Bulkhead
	bulkheadDefaults.OnReject = func(name string) {
		log.Warn("Bulkhead rejected call", logger.Fields(logger.FieldBulkhead, name))
		metrics.RecordRejection(context.Background(), "bulkhead", name)
	}
	bulkheads := resilience.NewBulkheadRegistry(bulkheadDefaults)

	queueOpts := []queue.Option{
		queue.WithConfig(cfg.Queue),
		queue.WithLogger(log),
		queue.WithMetrics(metrics),
	}
	if cfg.Kafka.Enabled {
		pub, err := kafka.NewPublisher(cfg.Kafka, log,
			kafka.WithBreaker(breakers.Get("kafka")),
			kafka.WithSource(cfg.Name),
		)
		if err != nil {
			return err
		}
		if err := app.RegisterComponent(kafka.NewComponent(pub)); err != nil {
			return err
		}
		queueOpts = append(queueOpts, queue.WithEventSink(pub))
	}

	queues := queue.NewRegistry(store, queueOpts...)
	if err := metrics.ObserveQueues(queues.Depths); err != nil {
		return err
	}
	if err := openQueues(queues, cfg, breakers, bulkheads, log); err != nil {
		return err
	}
	if err := app.RegisterComponent(queue.NewComponent(queues)); err != nil {
		return err
	}
	app.OnReady(func(ctx context.Context) error { return logQueueStats(ctx, log, queues, "Queues ready") })
	app.OnStop(func(ctx context.Context) error { return logQueueStats(ctx, log, queues, "Queue totals at shutdown") })

	if cfg.Server.Enabled {
		srv := server.New(cfg.Server, log, server.WithMetrics(metrics))
		srv.RegisterDefaultEndpoints(cfg.Name, cfg.Version, app.Components.HealthAll)
		limiter := resilience.NewKeyedRateLimiter(cfg.Server.RateLimit, 0)
		server.NewAPI(queues, breakers, bulkheads, limiter, log).Register(srv.Engine())
		if err := app.RegisterComponent(server.NewComponent(srv)); err != nil {
			return err
		}
	}
	return nil
}

func logQueueStats(ctx context.Context, log *logger.Logger, queues *queue.Registry, msg string) error {
	stats, err := queues.Stats(ctx)
	if err != nil {
		return err
	}
	for name, st := range stats {
		log.Info(msg, logger.Fields(
			logger.FieldQueue, name,
			"waiting", st.Waiting,
			"active", st.Active,
			"delayed", st.Delayed,
			"completed", st.Completed,
			"failed", st.Failed,
		))
	}
	return nil
}

// openStore registers Redis when enabled and returns its queue store;
// otherwise jobs live in process memory.
func openStore(app *bootstrap.App[*Config]) (queue.Store, error) {
	if !app.Cfg.Redis.Enabled {
		app.Logger.Warn("Redis disabled, queues are held in memory and lost on restart")
		return queue.NewMemoryStore(), nil
	}
	rc, err := redis.NewComponent(app.Cfg.Redis, app.Logger)
	if err != nil {
		return nil, err
	}
	if err := app.RegisterComponent(rc); err != nil {
		return nil, err
	}
	return rc.Client().QueueStore(), nil
}

// openQueues opens the mail and domains queues and registers their handlers.
func openQueues(
	queues *queue.Registry,
	cfg *Config,
	breakers *resilience.BreakerRegistry,
	bulkheads *resilience.BulkheadRegistry,
	log *logger.Logger,
) error {
	mail, err := queue.Open[MailJob](queues, mailQueue)
	if err != nil {
		return err
	}
	mail.Process(sendJob, sendMailHandler(smtpMailer{addr: cfg.SMTP.Addr}, cfg.SMTP.From, dependency{
		breaker:  breakers.Get("smtp"),
		bulkhead: bulkheads.Get("smtp"),
		timeout:  cfg.SMTP.Timeout,
		attempts: cfg.SMTP.Attempts,
		log:      log.WithComponent("mail"),
	}))

	domains, err := queue.Open[DomainJob](queues, domainsQueue)
	if err != nil {
		return err
	}
	domains.Process(verifyMXJob, verifyMXHandler(newResolver(cfg.DNS.Server), dependency{
		breaker:  breakers.Get("dns"),
		bulkhead: bulkheads.Get("dns"),
		timeout:  cfg.DNS.Timeout,
		attempts: cfg.DNS.Attempts,
		log:      log.WithComponent("domains"),
	}))
	return nil
}

// telemetry owns the OTLP providers so they flush after every other
// component has stopped.
type telemetry struct {
	metrics   *observability.Metrics
	cfg       observability.Config
	shutdowns []func(context.Context) error
}

var _ component.Component = (*telemetry)(nil)

func newTelemetry(ctx context.Context, cfg *Config, log *logger.Logger) (*telemetry, error) {
	t := &telemetry{metrics: observability.NewNopMetrics(), cfg: cfg.Observability}

	if cfg.Observability.MetricsEnabled {
		mc := cfg.Observability.Meter()
		mp, err := observability.InitMeter(ctx, &mc, log)
		if err != nil {
			return nil, err
		}
		t.shutdowns = append(t.shutdowns, mp.Shutdown)
		m, err := observability.NewMetrics(mp.Meter(serviceName))
		if err != nil {
			return nil, err
		}
		t.metrics = m
	}
	if cfg.Observability.TracingEnabled {
		tc := cfg.Observability.Tracer()
		tp, err := observability.InitTracer(ctx, &tc, log)
		if err != nil {
			return nil, err
		}
		t.shutdowns = append(t.shutdowns, tp.Shutdown)
	}
	return t, nil
}

func (t *telemetry) Name() string                { return "telemetry" }
func (t *telemetry) Start(context.Context) error { return nil }

func (t *telemetry) Stop(ctx context.Context) error {
	var errs []error
	for _, shutdown := range t.shutdowns {
		errs = append(errs, shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (t *telemetry) Health(context.Context) component.Health {
	h := component.Health{Name: t.Name(), Status: component.StatusHealthy}
	if !t.cfg.MetricsEnabled && !t.cfg.TracingEnabled {
		h.Message = "export disabled"
	}
	return h
}
