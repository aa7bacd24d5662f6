// Package intake is the hand-off point to lead handling. The HTTP layer
// calls it only after the guard has admitted a request; what happens to a
// lead afterwards (storage, notification, export) lives outside this module.
package intake

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"leadgate/internal/identity"
	"leadgate/pkg/requestcontext"
)

// Kind labels an accepted event.
type Kind string

const (
	KindSubmission   Kind = "form_submission"
	KindStatusChange Kind = "lead_status_change"
	KindWebhook      Kind = "webhook"
)

// Event is one accepted hand-off.
type Event struct {
	ID         string
	Kind       Kind
	Target     string // form name, lead ID or webhook source
	Actor      string // subject ID for status changes
	Fields     map[string]string
	Size       int
	ReceivedAt time.Time
}

type Metrics struct {
	accepted *prometheus.CounterVec
}

// NewMetrics registers intake metrics on reg. A nil registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		accepted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "leadgate_intake_events_total",
			Help: "Accepted intake events by kind",
		}, []string{"kind"}),
	}
}

// Recorder logs each accepted event and keeps the most recent ones in memory
// for inspection.
type Recorder struct {
	logger  *slog.Logger
	metrics *Metrics
	keep    int

	mu     sync.Mutex
	events []Event
}

func NewRecorder(logger *slog.Logger, metrics *Metrics, keep int) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if keep <= 0 {
		keep = 100
	}
	return &Recorder{logger: logger, metrics: metrics, keep: keep}
}

// SubmitForm accepts a form submission and returns its reference.
func (r *Recorder) SubmitForm(ctx context.Context, form string, fields map[string]string) (string, error) {
	ev := r.record(ctx, Event{Kind: KindSubmission, Target: form, Fields: fields, Size: len(fields)})
	r.logger.InfoContext(ctx, "form submission accepted",
		"reference", ev.ID,
		"form", form,
		"fields", len(fields),
		"identifier", identity.Redact(identity.ForIP(requestcontext.ClientIP(ctx))),
	)
	return ev.ID, nil
}

// UpdateLeadStatus accepts a status change made by actor.
func (r *Recorder) UpdateLeadStatus(ctx context.Context, leadID, status, actor string) error {
	r.record(ctx, Event{Kind: KindStatusChange, Target: leadID, Actor: actor, Fields: map[string]string{"status": status}})
	r.logger.InfoContext(ctx, "lead status change accepted", "lead_id", leadID, "status", status, "subject", actor)
	return nil
}

// ReceiveWebhook accepts a raw webhook payload from source.
func (r *Recorder) ReceiveWebhook(ctx context.Context, source string, payload []byte) error {
	ev := r.record(ctx, Event{Kind: KindWebhook, Target: source, Size: len(payload)})
	r.logger.InfoContext(ctx, "webhook accepted", "reference", ev.ID, "source", source, "bytes", len(payload))
	return nil
}

// Recent returns up to the last keep events, oldest first.
func (r *Recorder) Recent() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) record(ctx context.Context, ev Event) Event {
	ev.ID = uuid.NewString()
	ev.ReceivedAt = requestcontext.Now(ctx)
	if r.metrics != nil {
		r.metrics.accepted.WithLabelValues(string(ev.Kind)).Inc()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if len(r.events) > r.keep {
		r.events = r.events[len(r.events)-r.keep:]
	}
	return ev
}
