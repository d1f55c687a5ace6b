package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medigate",
		Subsystem: "audit",
		Name:      "events_dropped_total",
		Help:      "Audit events dropped because the inbox was full.",
	})
	sinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medigate",
		Subsystem: "audit",
		Name:      "sink_errors_total",
		Help:      "Failures appending an audit event to a sink.",
	}, []string{"sink"})
)

// Recorder accepts audit events from flow logic without blocking it. A
// full inbox drops the event and counts the drop; the verification flow
// never stalls on auditing.
type Recorder struct {
	inbox chan Event
	now   func() time.Time
}

const defaultInboxSize = 256

func NewRecorder() *Recorder {
	return &Recorder{
		inbox: make(chan Event, defaultInboxSize),
		now:   time.Now,
	}
}

// Emit enqueues the event, filling in timestamp and category.
func (r *Recorder) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if event.Category == "" {
		event.Category = AuditEvent(event.Action).Category()
	}
	select {
	case r.inbox <- event:
	default:
		eventsDropped.Inc()
	}
}

// Inbox exposes the event channel for the worker.
func (r *Recorder) Inbox() <-chan Event {
	return r.inbox
}

// Worker consumes audit events from the recorder inbox and fans them out
// to every configured sink. Sink failures are logged and counted but do
// not stop the worker; auditing is best-effort on this side of the wire.
type Worker struct {
	inbox  <-chan Event
	sinks  []namedSink
	logger *slog.Logger
}

type namedSink struct {
	name string
	sink Sink
}

func NewWorker(inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{inbox: inbox, logger: logger}
}

// AddSink registers a named sink. Not safe to call after Run starts.
func (w *Worker) AddSink(name string, sink Sink) {
	w.sinks = append(w.sinks, namedSink{name: name, sink: sink})
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			w.dispatch(ctx, event)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, event Event) {
	for _, s := range w.sinks {
		if err := s.sink.Append(ctx, event); err != nil {
			sinkErrors.WithLabelValues(s.name).Inc()
			w.logger.Warn("audit sink append failed",
				"sink", s.name,
				"action", event.Action,
				"error", err,
			)
		}
	}
}
