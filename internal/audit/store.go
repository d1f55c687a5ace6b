package audit

import (
	"context"
	"sync"

	"medigate/pkg/domain"
)

// Sink receives audit events. Stores and brokers both satisfy it so the
// worker can fan out without knowing the backend.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Store is a queryable audit sink.
type Store interface {
	Sink
	ListBySubject(ctx context.Context, subjectID domain.SubjectID) ([]Event, error)
}

// InMemoryStore keeps events in memory for tests and single-process use.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID domain.SubjectID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, event := range s.events {
		if event.SubjectID == subjectID {
			out = append(out, event)
		}
	}
	return out, nil
}
