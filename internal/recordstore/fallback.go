package recordstore

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"medigate/pkg/domain"
	"medigate/pkg/platform/sentinel"
)

// FallbackStore wraps a durable primary with an in-process fallback holding
// the same key space. When the primary fails with an infrastructure error the
// wrapper flips to the fallback and stays there, so the rest of the system
// keeps a consistent read/write contract while durability across restarts is
// lost. The switch is observable through Degraded and the write result; it is
// never raised to the caller.
type FallbackStore struct {
	primary  Store
	fallback *InMemoryStore
	logger   *slog.Logger
	degraded atomic.Bool
}

// FallbackOption configures a FallbackStore.
type FallbackOption func(*FallbackStore)

func WithLogger(logger *slog.Logger) FallbackOption {
	return func(s *FallbackStore) {
		s.logger = logger
	}
}

func NewFallback(primary Store, opts ...FallbackOption) *FallbackStore {
	s := &FallbackStore{
		primary:  primary,
		fallback: NewInMemory(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Degraded reports whether operations are being served from the non-durable
// fallback.
func (s *FallbackStore) Degraded() bool {
	return s.degraded.Load()
}

func (s *FallbackStore) degrade(op string, err error) {
	if s.degraded.CompareAndSwap(false, true) {
		degradations.Inc()
		s.logger.Warn("record store degraded to in-memory fallback", "op", op, "error", err)
	}
}

func (s *FallbackStore) Upsert(ctx context.Context, record HealthRecordAggregate, mode WriteMode) (WriteResult, error) {
	if !s.degraded.Load() {
		result, err := s.primary.Upsert(ctx, record, mode)
		if err == nil {
			return result, nil
		}
		s.degrade("upsert", err)
	}
	result, err := s.fallback.Upsert(ctx, record, mode)
	result.Degraded = true
	return result, err
}

func (s *FallbackStore) Get(ctx context.Context, subjectID domain.SubjectID) (HealthRecordAggregate, error) {
	if !s.degraded.Load() {
		record, err := s.primary.Get(ctx, subjectID)
		if err == nil || errors.Is(err, sentinel.ErrNotFound) {
			return record, err
		}
		s.degrade("get", err)
	}
	return s.fallback.Get(ctx, subjectID)
}

func (s *FallbackStore) Delete(ctx context.Context, subjectID domain.SubjectID) error {
	if !s.degraded.Load() {
		err := s.primary.Delete(ctx, subjectID)
		if err == nil {
			return nil
		}
		s.degrade("delete", err)
	}
	return s.fallback.Delete(ctx, subjectID)
}

func (s *FallbackStore) ListAll(ctx context.Context) ([]HealthRecordAggregate, error) {
	if !s.degraded.Load() {
		records, err := s.primary.ListAll(ctx)
		if err == nil {
			return records, nil
		}
		s.degrade("list", err)
	}
	return s.fallback.ListAll(ctx)
}
