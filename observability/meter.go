package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/taskguard/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the global OpenTelemetry meter provider with an
// OTLP HTTP exporter. Shut the provider down on exit.
func InitMeter(ctx context.Context, config *MeterConfig, log *logger.Logger) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	log.Info("Meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// QueueDepth is one queue's index sizes, reported by gauge callbacks.
type QueueDepth struct {
	Queue     string
	Waiting   int64
	Active    int64
	Delayed   int64
	Completed int64
	Failed    int64
}

// Metrics holds the instruments for jobs, breakers, bulkheads and HTTP.
type Metrics struct {
	meter metric.Meter

	jobsAdded       metric.Int64Counter
	jobsFinished    metric.Int64Counter
	jobDuration     metric.Float64Histogram
	jobsActive      metric.Int64UpDownCounter
	breakerChanges  metric.Int64Counter
	rejections      metric.Int64Counter
	requestTotal    metric.Int64Counter
	requestDuration metric.Float64Histogram
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	if m.jobsAdded, err = meter.Int64Counter("taskguard.jobs.added",
		metric.WithDescription("Jobs enqueued"),
	); err != nil {
		return nil, fmt.Errorf("creating jobs.added counter: %w", err)
	}
	if m.jobsFinished, err = meter.Int64Counter("taskguard.jobs.finished",
		metric.WithDescription("Job executions by outcome (completed, retrying, failed)"),
	); err != nil {
		return nil, fmt.Errorf("creating jobs.finished counter: %w", err)
	}
	if m.jobDuration, err = meter.Float64Histogram("taskguard.jobs.duration",
		metric.WithDescription("Handler duration per attempt"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating jobs.duration histogram: %w", err)
	}
	if m.jobsActive, err = meter.Int64UpDownCounter("taskguard.jobs.active",
		metric.WithDescription("Jobs currently being handled by this process"),
	); err != nil {
		return nil, fmt.Errorf("creating jobs.active counter: %w", err)
	}
	if m.breakerChanges, err = meter.Int64Counter("taskguard.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
	); err != nil {
		return nil, fmt.Errorf("creating breaker.transitions counter: %w", err)
	}
	if m.rejections, err = meter.Int64Counter("taskguard.resilience.rejections",
		metric.WithDescription("Calls turned away by a breaker, bulkhead or rate limiter"),
	); err != nil {
		return nil, fmt.Errorf("creating resilience.rejections counter: %w", err)
	}
	if m.requestTotal, err = meter.Int64Counter("http.server.requests",
		metric.WithDescription("HTTP requests served"),
	); err != nil {
		return nil, fmt.Errorf("creating http.server.requests counter: %w", err)
	}
	if m.requestDuration, err = meter.Float64Histogram("http.server.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating http.server.duration histogram: %w", err)
	}
	return m, nil
}

// NewNopMetrics returns metrics that record nothing.
func NewNopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("nop"))
	return m
}

// RecordJobAdded counts an enqueued job.
func (m *Metrics) RecordJobAdded(ctx context.Context, queue, name string) {
	m.jobsAdded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("job", name),
	))
}

// RecordJobStart marks a job as being handled.
func (m *Metrics) RecordJobStart(ctx context.Context, queue string) {
	m.jobsActive.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordJobEnd records one execution attempt and its outcome.
func (m *Metrics) RecordJobEnd(ctx context.Context, queue, name, outcome string, duration time.Duration) {
	q := attribute.String("queue", queue)
	j := attribute.String("job", name)
	m.jobsActive.Add(ctx, -1, metric.WithAttributes(q))
	m.jobsFinished.Add(ctx, 1, metric.WithAttributes(q, j, attribute.String("outcome", outcome)))
	m.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(q, j))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, from, to string) {
	m.breakerChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordRejection counts a call rejected for capacity or by an open circuit.
func (m *Metrics) RecordRejection(ctx context.Context, kind, name string) {
	m.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("name", name),
	))
}

// RecordRequest records a served HTTP request.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.requestTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, duration.Seconds(), attrs)
}

// ObserveQueues registers gauges reporting queue index sizes. fn is called
// on every collection.
func (m *Metrics) ObserveQueues(fn func(ctx context.Context) []QueueDepth) error {
	gauge, err := m.meter.Int64ObservableGauge("taskguard.queue.jobs",
		metric.WithDescription("Jobs per queue and status"),
	)
	if err != nil {
		return fmt.Errorf("creating queue.jobs gauge: %w", err)
	}
	_, err = m.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for _, d := range fn(ctx) {
			q := attribute.String("queue", d.Queue)
			o.ObserveInt64(gauge, d.Waiting, metric.WithAttributes(q, attribute.String("status", "waiting")))
			o.ObserveInt64(gauge, d.Active, metric.WithAttributes(q, attribute.String("status", "active")))
			o.ObserveInt64(gauge, d.Delayed, metric.WithAttributes(q, attribute.String("status", "delayed")))
			o.ObserveInt64(gauge, d.Completed, metric.WithAttributes(q, attribute.String("status", "completed")))
			o.ObserveInt64(gauge, d.Failed, metric.WithAttributes(q, attribute.String("status", "failed")))
		}
		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("registering queue gauge callback: %w", err)
	}
	return nil
}
