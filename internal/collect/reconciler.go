package collect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"medigate/internal/provider"
	"medigate/pkg/domain"
	dErrors "medigate/pkg/domain-errors"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medigate_collect_events_total",
		Help: "Classified collection events by physical channel and kind",
	}, []string{"channel", "kind"})

	latchDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medigate_collect_latch_drops_total",
		Help: "Events dropped after the completion latch was set",
	})

	attemptTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medigate_collect_attempt_timeouts_total",
		Help: "Attempts that hit the hard collection ceiling",
	})
)

// Subscription is the push-channel attachment the reconciler consumes.
type Subscription interface {
	Frames() <-chan provider.PushFrame
	Close()
}

// Source abstracts the two physical channels of one provider attempt.
type Source interface {
	Status(ctx context.Context, sessionID string) (provider.StatusResponse, error)
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

// ProviderSource adapts *provider.Client to the Source interface.
type ProviderSource struct {
	*provider.Client
}

func (s ProviderSource) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	return s.Client.Subscribe(ctx, sessionID)
}

const (
	defaultPollInterval = 2 * time.Second
	defaultCeiling      = 3 * time.Minute
)

// Reconciler owns one push subscription and one polling loop per active
// attempt and fans both into a single event stream. The completion latch
// guarantees at most one Complete reaches the consumer; everything after the
// latch is dropped silently.
type Reconciler struct {
	source       Source
	pollInterval time.Duration
	ceiling      time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	attempts map[domain.AttemptID]*attempt
}

type attempt struct {
	cancel context.CancelFunc
	events chan Event

	mu         sync.Mutex
	latched    bool
	stopped    bool
	lastNotice bool // previous forwarded event was a not-yet-approved notice
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithPollInterval(interval time.Duration) Option {
	return func(r *Reconciler) {
		r.pollInterval = interval
	}
}

func WithCeiling(ceiling time.Duration) Option {
	return func(r *Reconciler) {
		r.ceiling = ceiling
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func New(source Source, opts ...Option) *Reconciler {
	r := &Reconciler{
		source:       source,
		pollInterval: defaultPollInterval,
		ceiling:      defaultCeiling,
		logger:       slog.Default(),
		attempts:     make(map[domain.AttemptID]*attempt),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens both channels for an attempt and returns its event stream. The
// stream is closed once both channels have wound down (stop, ceiling, or
// cancellation). Starting an already-active attempt is an error.
func (r *Reconciler) Start(ctx context.Context, attemptID domain.AttemptID) (<-chan Event, error) {
	if attemptID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "attempt id is required")
	}

	r.mu.Lock()
	if _, exists := r.attempts[attemptID]; exists {
		r.mu.Unlock()
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "attempt %s already active", attemptID)
	}
	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &attempt{
		cancel: cancel,
		events: make(chan Event, 32),
	}
	r.attempts[attemptID] = a
	r.mu.Unlock()

	g, groupCtx := errgroup.WithContext(attemptCtx)
	g.Go(func() error {
		r.pushLoop(groupCtx, a, attemptID)
		return nil
	})
	g.Go(func() error {
		r.pollLoop(groupCtx, a, attemptID)
		return nil
	})
	go func() {
		_ = g.Wait()
		close(a.events)
	}()

	return a.events, nil
}

// Stop tears down both channels of an attempt. Safe to call multiple times
// and for unknown attempts.
func (r *Reconciler) Stop(attemptID domain.AttemptID) {
	r.mu.Lock()
	a, ok := r.attempts[attemptID]
	if ok {
		delete(r.attempts, attemptID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	a.cancel()
}

func (r *Reconciler) pushLoop(ctx context.Context, a *attempt, attemptID domain.AttemptID) {
	sub, err := r.source.Subscribe(ctx, attemptID.String())
	if err != nil {
		// The pull channel covers for a dead push channel; never fail the
		// attempt for this.
		r.logger.Warn("push channel unavailable, relying on polling",
			"attempt_id", attemptID, "error", err)
		return
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			r.emit(ctx, a, "push", ClassifyFrame(attemptID, frame))
		}
	}
}

func (r *Reconciler) pollLoop(ctx context.Context, a *attempt, attemptID domain.AttemptID) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	ceiling := time.NewTimer(r.ceiling)
	defer ceiling.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ceiling.C:
			r.expire(ctx, a, attemptID)
			return
		case <-ticker.C:
			resp, err := r.source.Status(ctx, attemptID.String())
			if err != nil {
				// Transient poll failures are ignored; the ceiling is the
				// sole timeout authority.
				r.logger.Warn("status poll failed", "attempt_id", attemptID, "error", err)
				continue
			}
			r.emit(ctx, a, "pull", ClassifyStatus(attemptID, resp))
		}
	}
}

// expire enforces the hard ceiling: exactly one Failure("timeout") unless the
// latch was already set, then both channels stop.
func (r *Reconciler) expire(ctx context.Context, a *attempt, attemptID domain.AttemptID) {
	a.mu.Lock()
	latched := a.latched || a.stopped
	a.mu.Unlock()
	if !latched {
		attemptTimeouts.Inc()
		r.emit(ctx, a, "pull", Event{Attempt: attemptID, Kind: KindFailure, Message: "timeout"})
	}
	a.cancel()
}

// emit serializes delivery for one attempt: the completion latch, the
// not-yet-approved collapse, and the forwarding order all live here.
func (r *Reconciler) emit(ctx context.Context, a *attempt, channel string, ev Event) {
	a.mu.Lock()
	if a.stopped || a.latched {
		latched := a.latched
		a.mu.Unlock()
		if latched {
			latchDrops.Inc()
		}
		return
	}
	if ev.Kind == KindAuthNotYetApproved {
		// Both channels tend to observe the same pending-approval state
		// within one poll interval; collapse consecutive notices so the UI
		// sees one signal per state, not one per channel.
		if a.lastNotice {
			a.mu.Unlock()
			return
		}
		a.lastNotice = true
	} else {
		a.lastNotice = false
	}
	if ev.Kind == KindComplete {
		a.latched = true
	}
	a.mu.Unlock()

	eventsTotal.WithLabelValues(channel, string(ev.Kind)).Inc()

	select {
	case a.events <- ev:
	case <-ctx.Done():
	}
}
