package passsession

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"medigate/internal/audit"
	"medigate/internal/device"
	"medigate/internal/provider"
	"medigate/pkg/domain"
	dErrors "medigate/pkg/domain-errors"
	"medigate/pkg/platform/circuit"
)

var (
	verifyDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "medigate",
		Subsystem: "session",
		Name:      "verify_duration_ms",
		Help:      "Remote session verification latency in milliseconds.",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"outcome"})

	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medigate",
		Subsystem: "session",
		Name:      "created_total",
		Help:      "Total sessions minted by the session server.",
	})
)

// SessionAPI is the slice of the provider client the authority needs.
type SessionAPI interface {
	CreateSession(ctx context.Context, req provider.CreateSessionRequest) (provider.CreateSessionResponse, error)
	VerifySession(ctx context.Context, req provider.VerifySessionRequest) (provider.VerifySessionResponse, error)
	RevokeSession(ctx context.Context, token string) error
}

// Authority manages device-bound verification sessions. Tokens are minted
// and validated by the session server; the local cache only short-circuits
// the obviously-expired case and remembers tokens across restarts.
type Authority struct {
	api      SessionAPI
	cache    *Cache
	devices  *device.Service
	recorder *audit.Recorder
	breaker  *circuit.Breaker
	logger   *slog.Logger
	now      func() time.Time
}

// AuthorityOption configures an Authority.
type AuthorityOption func(*Authority)

func WithLogger(logger *slog.Logger) AuthorityOption {
	return func(a *Authority) {
		a.logger = logger
	}
}

func withNow(now func() time.Time) AuthorityOption {
	return func(a *Authority) {
		a.now = now
	}
}

// verifyRetryCooldown is how long an open verify circuit waits before the
// next IsValid lets a trial verification through.
const verifyRetryCooldown = 30 * time.Second

func NewAuthority(api SessionAPI, cache *Cache, devices *device.Service, recorder *audit.Recorder, opts ...AuthorityOption) *Authority {
	a := &Authority{
		api:      api,
		cache:    cache,
		devices:  devices,
		recorder: recorder,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	// The breaker shares the authority's clock so a trial verification
	// goes out once per cooldown after transport failures open it.
	a.breaker = circuit.New("session-verify",
		circuit.WithFailureThreshold(3),
		circuit.WithCooldown(verifyRetryCooldown),
		circuit.WithClock(func() time.Time { return a.now() }),
	)
	return a
}

// CreateSession mints a new device-bound session for key and caches it,
// replacing any previous session for the same key.
func (a *Authority) CreateSession(ctx context.Context, key domain.SessionKey) (CachedSession, error) {
	fingerprint := a.devices.ComputeFingerprint(device.LocalProfile())
	resp, err := a.api.CreateSession(ctx, provider.CreateSessionRequest{
		SubjectID:         key.Subject.String(),
		ProviderID:        key.Provider.String(),
		DeviceFingerprint: fingerprint,
	})
	if err != nil {
		return CachedSession{}, dErrors.Wrap(err, dErrors.GetCode(err), "failed to create session")
	}

	session := CachedSession{
		SessionToken:    resp.SessionToken,
		ExpiresAt:       a.effectiveExpiry(resp),
		DurationMinutes: resp.DurationMinutes,
	}
	a.cache.Put(key, session)
	sessionsCreated.Inc()
	a.recorder.Emit(audit.Event{
		Action:     string(audit.EventSessionCreated),
		SubjectID:  key.Subject,
		ProviderID: key.Provider,
	})
	a.logger.Info("session created",
		"subject_id", key.Subject,
		"provider_id", key.Provider,
		"expires_at", session.ExpiresAt,
	)
	return session, nil
}

// IsValid reports whether a usable session exists for key. A locally
// expired token is cleared without a network round trip. A live token is
// re-verified against the server with the current device fingerprint; a
// definitive rejection clears the cache, while a transport failure keeps
// the token for retry and reports invalid for now.
func (a *Authority) IsValid(ctx context.Context, key domain.SessionKey) bool {
	session, ok := a.cache.Get(key)
	if !ok {
		return false
	}
	if session.Expired(a.now()) {
		a.cache.Delete(key)
		return false
	}
	if !a.breaker.Allow() {
		// The verify endpoint has been failing; skip the round trip and
		// keep the token. After the cooldown Allow grants a trial call,
		// so connectivity coming back closes the circuit again.
		verifyDurationMs.WithLabelValues("short_circuit").Observe(0)
		return false
	}

	fingerprint := a.devices.ComputeFingerprint(device.LocalProfile())
	start := a.now()
	_, err := a.api.VerifySession(ctx, provider.VerifySessionRequest{
		SessionToken:      session.SessionToken,
		DeviceFingerprint: fingerprint,
	})
	elapsed := float64(a.now().Sub(start).Milliseconds())

	switch {
	case err == nil:
		a.breaker.RecordSuccess()
		verifyDurationMs.WithLabelValues("valid").Observe(elapsed)
		return true
	case dErrors.HasCode(err, dErrors.CodeUnauthorized):
		// A definitive server answer means the transport is healthy.
		a.breaker.RecordSuccess()
		verifyDurationMs.WithLabelValues("rejected").Observe(elapsed)
		a.recorder.Emit(audit.Event{
			Action:     string(audit.EventSessionRejected),
			SubjectID:  key.Subject,
			ProviderID: key.Provider,
			Reason:     err.Error(),
		})
		a.logger.Info("session rejected by server, clearing cache",
			"subject_id", key.Subject,
			"provider_id", key.Provider,
		)
		a.cache.Delete(key)
		return false
	default:
		if _, change := a.breaker.RecordFailure(); change.Opened {
			a.logger.Warn("session verify circuit opened", "name", a.breaker.Name())
		}
		verifyDurationMs.WithLabelValues("error").Observe(elapsed)
		a.logger.Warn("session verification unreachable, keeping cached token",
			"subject_id", key.Subject,
			"provider_id", key.Provider,
			"error", err,
		)
		return false
	}
}

// Invalidate revokes the session server-side best-effort and always clears
// the local cache.
func (a *Authority) Invalidate(ctx context.Context, key domain.SessionKey) {
	if session, ok := a.cache.Get(key); ok {
		if err := a.api.RevokeSession(ctx, session.SessionToken); err != nil {
			a.logger.Warn("session revocation failed",
				"subject_id", key.Subject,
				"provider_id", key.Provider,
				"error", err,
			)
		}
		a.recorder.Emit(audit.Event{
			Action:     string(audit.EventSessionRevoked),
			SubjectID:  key.Subject,
			ProviderID: key.Provider,
		})
	}
	a.cache.Delete(key)
}

// effectiveExpiry takes the earlier of the server-reported expiry and the
// token's own exp claim, when the token is a parseable JWT. The claims are
// read without signature verification; only the server validates tokens.
func (a *Authority) effectiveExpiry(resp provider.CreateSessionResponse) time.Time {
	expiry := time.Unix(resp.ExpiresAt, 0)
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.SessionToken, claims); err != nil {
		return expiry
	}
	tokenExpiry, err := claims.GetExpirationTime()
	if err != nil || tokenExpiry == nil {
		return expiry
	}
	if tokenExpiry.Time.Before(expiry) {
		return tokenExpiry.Time
	}
	return expiry
}
