// Package medigate orchestrates identity verification and health-record
// collection on the client side. It proves the user's identity through an
// external verification provider, collects the resulting records exactly
// once, persists them durably, and gates later access behind a short-lived
// device-bound session.
//
// The package is embedded by a host application: build a Core with New,
// drive the flow through Core.Flow, and read records through Core.Records
// once a session is valid.
package medigate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"medigate/internal/audit"
	"medigate/internal/authflow"
	"medigate/internal/collect"
	"medigate/internal/device"
	"medigate/internal/diagnostics"
	"medigate/internal/passsession"
	"medigate/internal/platform/config"
	"medigate/internal/platform/httpserver"
	"medigate/internal/platform/logger"
	"medigate/internal/platform/redis"
	"medigate/internal/provider"
	"medigate/internal/recordstore"
	"medigate/pkg/domain"
)

// Config is re-exported so embedders configure the core from one struct.
type Config = config.Config

// FromEnv builds a Config from MEDIGATE_* environment variables.
func FromEnv() Config {
	return config.FromEnv()
}

// Re-exported flow types: the embedding UI consumes these directly.
type (
	Step           = authflow.Step
	TermsAgreement = authflow.TermsAgreement
	SubjectField   = authflow.SubjectField
	Path           = authflow.Path
	Notice         = authflow.Notice
	Snapshot       = authflow.Snapshot

	HealthRecordAggregate = recordstore.HealthRecordAggregate
	WriteMode             = recordstore.WriteMode

	SessionKey = domain.SessionKey
)

// Core wires every component of the collection subsystem.
type Core struct {
	cfg      Config
	logger   *slog.Logger
	provider *provider.Client
	redis    *redis.Client
	db       *sql.DB
	records  *recordstore.FallbackStore
	sessions *passsession.Authority
	vault    *passsession.CredentialVault
	flow     *authflow.Machine
	recorder *audit.Recorder
	worker   *audit.Worker
	trail    audit.Store
	kafka    *audit.KafkaSink
	stop     context.CancelFunc
	workerWG *errgroup.Group
}

// Option configures a Core.
type Option func(*coreOptions)

type coreOptions struct {
	logger   *slog.Logger
	onNotice func(Notice)
}

func WithLogger(l *slog.Logger) Option {
	return func(o *coreOptions) {
		o.logger = l
	}
}

// WithNoticeHandler receives advisory flow notices (approval pending,
// storage degraded) for display.
func WithNoticeHandler(handler func(Notice)) Option {
	return func(o *coreOptions) {
		o.onNotice = handler
	}
}

// New builds and starts the core. The returned Core owns background workers
// and must be closed with Close.
func New(ctx context.Context, cfg Config, opts ...Option) (*Core, error) {
	options := coreOptions{
		logger:   logger.New(),
		onNotice: func(Notice) {},
	}
	for _, opt := range opts {
		opt(&options)
	}
	log := options.logger

	providerClient, err := provider.FromConfig(cfg.Provider, log)
	if err != nil {
		return nil, fmt.Errorf("build provider client: %w", err)
	}

	core := &Core{cfg: cfg, logger: log, provider: providerClient}

	if err := core.buildRecordStore(ctx); err != nil {
		return nil, err
	}

	if err := core.buildAudit(ctx); err != nil {
		core.closeStores()
		return nil, err
	}

	cache := core.buildSessionCache()
	devices := device.NewService(cfg.Session.DeviceBinding)
	core.sessions = passsession.NewAuthority(providerClient, cache, devices, core.recorder,
		passsession.WithLogger(log))
	core.vault = passsession.NewCredentialVault(cache)

	reconciler := collect.New(collect.ProviderSource{Client: providerClient},
		collect.WithPollInterval(cfg.Flow.PollInterval),
		collect.WithCeiling(cfg.Flow.AttemptCeiling),
		collect.WithLogger(log),
	)
	core.flow = authflow.New(providerClient, reconciler, core.records, core.sessions, core.vault, core.recorder,
		authflow.WithLogger(log),
		authflow.WithNoticeHandler(options.onNotice),
		authflow.WithStallWindow(cfg.Flow.StallWindow),
	)

	return core, nil
}

// buildRecordStore picks the durable primary in preference order redis,
// postgres, then plain memory, and wraps it in the degradation fallback.
func (c *Core) buildRecordStore(ctx context.Context) error {
	var primary recordstore.Store
	switch {
	case c.cfg.Redis.URL != "":
		client, err := redis.New(c.cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		c.redis = client
		primary = recordstore.NewRedis(client.Client)
	case c.cfg.Postgres.DSN != "":
		db, err := recordstore.Open(c.cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		c.db = db
		store := recordstore.NewPostgres(db)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate record store: %w", err)
		}
		primary = store
	default:
		c.logger.Warn("no durable backend configured, records will not survive restarts")
		primary = recordstore.NewInMemory()
	}
	c.records = recordstore.NewFallback(primary, recordstore.WithLogger(c.logger))
	return nil
}

func (c *Core) buildSessionCache() *passsession.Cache {
	opts := []passsession.CacheOption{passsession.WithCacheLogger(c.logger)}
	if c.cfg.Session.CacheFile != "" {
		opts = append(opts, passsession.WithCacheFile(c.cfg.Session.CacheFile))
	}
	return passsession.NewCache(opts...)
}

// buildAudit starts the audit pipeline: an in-memory queryable trail always,
// plus a Kafka sink when brokers are configured.
func (c *Core) buildAudit(ctx context.Context) error {
	c.recorder = audit.NewRecorder()
	memory := audit.NewInMemoryStore()
	c.trail = memory

	c.worker = audit.NewWorker(c.recorder.Inbox(), c.logger)
	c.worker.AddSink("memory", memory)

	if len(c.cfg.Kafka.Brokers) > 0 {
		sink, err := audit.NewKafkaSink(ctx, c.cfg.Kafka.Brokers, c.cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("connect audit kafka sink: %w", err)
		}
		c.kafka = sink
		c.worker.AddSink("kafka", sink)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	group, workerCtx := errgroup.WithContext(workerCtx)
	group.Go(func() error {
		err := c.worker.Run(workerCtx)
		if err != nil && workerCtx.Err() == nil {
			c.logger.Error("audit worker stopped", "error", err)
		}
		return nil
	})
	c.workerWG = group
	return nil
}

// Flow returns the state machine driving the verification steps.
func (c *Core) Flow() *authflow.Machine {
	return c.flow
}

// Records returns the durable record store. Callers must hold a valid
// session (Sessions().IsValid) before reading on behalf of a user.
func (c *Core) Records() recordstore.Store {
	return c.records
}

// Sessions returns the credential-gated session authority.
func (c *Core) Sessions() *passsession.Authority {
	return c.sessions
}

// Credentials returns the local credential vault.
func (c *Core) Credentials() *passsession.CredentialVault {
	return c.vault
}

// StorageDegraded reports whether record writes have fallen back to the
// non-durable store.
func (c *Core) StorageDegraded() bool {
	return c.records.Degraded()
}

// DiagnosticsHandler serves stored aggregates, audit trails, health and
// metrics for local inspection.
func (c *Core) DiagnosticsHandler() http.Handler {
	return diagnostics.Handler(c.records, c.trail, c.logger)
}

// DiagnosticsServer wraps the diagnostics handler in a server bound to
// addr. The caller owns its lifecycle; bind to loopback unless the
// deployment really needs wider exposure.
func (c *Core) DiagnosticsServer(addr string) *http.Server {
	return httpserver.New(addr, c.DiagnosticsHandler())
}

// Health pings every configured backend and returns the first failure.
// Cores running purely in memory always report healthy.
func (c *Core) Health(ctx context.Context) error {
	if c.redis != nil {
		if err := c.redis.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if c.db != nil {
		if err := c.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

// Close stops the flow, the audit worker and every backend connection.
func (c *Core) Close() error {
	c.flow.Reset()
	if c.stop != nil {
		c.stop()
		_ = c.workerWG.Wait()
	}
	if c.kafka != nil {
		c.kafka.Close()
	}
	c.closeStores()
	return nil
}

func (c *Core) closeStores() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Warn("closing redis", "error", err)
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Warn("closing postgres", "error", err)
		}
	}
}
