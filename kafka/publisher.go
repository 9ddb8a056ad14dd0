package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/taskguard/logger"
	"github.com/kbukum/taskguard/queue"
	"github.com/kbukum/taskguard/resilience"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("kafka publisher is closed")

// Writer is the part of *kafkago.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Stats() kafkago.WriterStats
	Close() error
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithBreaker guards every publish with cb. While it is open, events are
// dropped immediately instead of stalling job processing.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Publisher) { p.breaker = cb }
}

// WithSource sets the envelope source, usually the service name.
func WithSource(source string) Option {
	return func(p *Publisher) { p.source = source }
}

// Publisher writes job lifecycle events to a Kafka topic. It implements
// queue.EventSink.
type Publisher struct {
	writer  Writer
	cfg     Config
	source  string
	breaker *resilience.CircuitBreaker
	log     *logger.Logger

	published atomic.Int64
	dropped   atomic.Int64

	mu     sync.RWMutex
	closed bool
}

var _ queue.EventSink = (*Publisher)(nil)

// NewPublisher creates a publisher on a kafka-go Writer built from cfg.
// The writer connects lazily on the first write.
func NewPublisher(cfg Config, log *logger.Logger, opts ...Option) (*Publisher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka publisher config: %w", err)
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("kafka is disabled")
	}

	transport, err := newTransport(&cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher transport: %w", err)
	}
	p := newPublisher(nil, cfg, log, opts...)
	p.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Transport:    transport,
		Balancer:     &kafkago.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafkago.RequiredAcks(cfg.RequiredAcks),
		Compression:  compressionCodec(cfg.Compression),
		WriteTimeout: cfg.WriteTimeout,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...any) {
			p.log.Debug("Kafka writer: " + fmt.Sprintf(msg, args...))
		}),
	}

	p.log.Info("Kafka publisher initialized", logger.Fields(
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"compression", cfg.Compression,
	))
	return p, nil
}

func newPublisher(w Writer, cfg Config, log *logger.Logger, opts ...Option) *Publisher {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	p := &Publisher{
		writer: w,
		cfg:    cfg,
		source: "taskguard",
		log:    log.WithComponent("kafka.publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish writes e keyed by job id. Each attempt is bounded by
// PublishTimeout; connection errors are retried up to Retries attempts,
// and the breaker sees one outcome per event.
func (p *Publisher) Publish(ctx context.Context, e queue.Event) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPublisherClosed
	}

	value, err := NewEnvelope(e, p.source).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(e.JobID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event-type", Value: []byte(e.Type)},
			{Key: "queue", Value: []byte(e.Queue)},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: e.Timestamp,
	}

	_, err = resilience.Resilient(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.writer.WriteMessages(ctx, msg)
	}, resilience.ResilientOptions[struct{}]{
		CircuitBreaker: p.breaker,
		Timeout:        p.cfg.PublishTimeout,
		RetryAttempts:  p.cfg.Retries,
		Retry: &resilience.RetryConfig{
			InitialDelay:      100 * time.Millisecond,
			MaxDelay:          time.Second,
			BackoffMultiplier: 2,
			RetryIf:           retryableWrite,
		},
	})
	if err != nil {
		p.dropped.Add(1)
		return fmt.Errorf("publish %s event for job %s: %w", e.Type, e.JobID, err)
	}
	p.published.Add(1)
	return nil
}

// Close flushes pending writes and closes the writer. Safe to call twice.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.log.Info("Closing kafka publisher")
	return p.writer.Close()
}
