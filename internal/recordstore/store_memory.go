package recordstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"medigate/pkg/domain"
	"medigate/pkg/platform/sentinel"
)

// InMemoryStore keeps aggregates in a map. It backs tests and the degradation
// fallback; durability across restarts is explicitly not provided.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[domain.SubjectID]HealthRecordAggregate
	now     func() time.Time
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[domain.SubjectID]HealthRecordAggregate),
		now:     time.Now,
	}
}

func (s *InMemoryStore) Upsert(_ context.Context, record HealthRecordAggregate, mode WriteMode) (WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.records[record.SubjectID]
	if !ok {
		record.CreatedAt = now
		record.UpdatedAt = now
		s.records[record.SubjectID] = record
		return WriteResult{Created: true}, nil
	}

	s.records[record.SubjectID] = merged(existing, record, mode, now)
	return WriteResult{}, nil
}

func (s *InMemoryStore) Get(_ context.Context, subjectID domain.SubjectID) (HealthRecordAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.records[subjectID]; ok {
		return record, nil
	}
	return HealthRecordAggregate{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) Delete(_ context.Context, subjectID domain.SubjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, subjectID)
	return nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]HealthRecordAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HealthRecordAggregate, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out, nil
}
