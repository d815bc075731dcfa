package audit

import (
	"context"
	"sync"
)

// Store is the audit trail persistence boundary. Append-only: nothing in the
// system updates or deletes an audit event.
type Store interface {
	Append(ctx context.Context, event Event) error

	// ListByIdentity returns the trail for one identity key, oldest first.
	ListByIdentity(ctx context.Context, identityKey string) ([]Event, error)
}

// InMemoryStore keeps events in process memory for tests and dev mode.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByIdentity(_ context.Context, identityKey string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.events {
		if e.IdentityKey == identityKey {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns every recorded event. Test helper.
func (s *InMemoryStore) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}
