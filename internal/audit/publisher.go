// Package audit persists the security events the services emit: throttling,
// CSRF rejections and session transitions.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"leadgate/pkg/platform/audit"
)

const persistTimeout = 2 * time.Second

// Outcomes counted by Metrics.
const (
	OutcomePersisted = "persisted"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	EventsTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		EventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "leadgate_audit_events_total",
			Help: "Audit events by action and delivery outcome",
		}, []string{"action", "outcome"}),
	}
}

// Publisher implements audit.Emitter on top of a Store. In async mode events
// are queued and persisted by one background goroutine; the request path
// never waits on the store.
type Publisher struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.RWMutex
	events chan audit.Event
	closed bool
	wg     sync.WaitGroup
}

type PublisherOption func(*Publisher)

// WithAsyncBuffer queues up to size events. When the queue is full new
// events are dropped and counted.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan audit.Event, size)
		}
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.events != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		_ = p.persist(ctx, event)
		cancel()
	}
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		p.count(event, OutcomeFailed)
		p.logger.ErrorContext(ctx, "failed to persist audit event",
			"error", err,
			"action", event.Action,
			"request_id", event.RequestID,
		)
		return err
	}
	p.count(event, OutcomePersisted)
	return nil
}

// Emit records event. Async publishers never return an error; synchronous
// ones return the store's.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if p.events == nil {
		return p.persist(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.count(event, OutcomeDropped)
		return nil
	}
	select {
	case p.events <- event:
	default:
		p.count(event, OutcomeDropped)
		p.logger.WarnContext(ctx, "audit buffer full, event dropped",
			"action", event.Action,
			"request_id", event.RequestID,
		)
	}
	return nil
}

// Close stops accepting events and waits for the queue to drain. Events
// emitted afterwards are dropped.
func (p *Publisher) Close() {
	if p.events == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()
	p.wg.Wait()
}

// Recent returns the newest persisted events, oldest first.
func (p *Publisher) Recent(ctx context.Context, limit int) ([]audit.Event, error) {
	return p.store.Recent(ctx, limit)
}

func (p *Publisher) count(event audit.Event, outcome string) {
	if p.metrics != nil {
		p.metrics.EventsTotal.WithLabelValues(event.Action, outcome).Inc()
	}
}
