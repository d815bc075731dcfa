package credential

import (
	"context"
	"sync"
	"time"

	"electorate/pkg/domain"
	"electorate/pkg/platform/sentinel"
)

// InMemoryStore keeps credentials in process memory. The store mutex is the
// serialization point for Insert and Consume, so the in-memory backend gives
// the same exactly-one-winner behavior as the database-backed ones.
type InMemoryStore struct {
	mu         sync.RWMutex
	byID       map[domain.CredentialID]*Credential
	byIdentity map[domain.IdentityKey][]domain.CredentialID
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:       make(map[domain.CredentialID]*Credential),
		byIdentity: make(map[domain.IdentityKey][]domain.CredentialID),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[cred.ID]; ok {
		return sentinel.ErrConflict
	}
	// At most one live credential per identity. The check runs under the
	// write lock, so two inserters cannot both pass it.
	for _, id := range s.byIdentity[cred.IdentityKey] {
		if s.byID[id].Live(cred.IssuedAt) {
			return sentinel.ErrConflict
		}
	}
	cp := copyCredential(cred)
	s.byID[cred.ID] = cp
	s.byIdentity[cred.IdentityKey] = append(s.byIdentity[cred.IdentityKey], cred.ID)
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, id domain.CredentialID) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyCredential(cred), nil
}

func (s *InMemoryStore) FindLive(_ context.Context, key domain.IdentityKey, now time.Time) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.byIdentity[key] {
		if cred := s.byID[id]; cred.Live(now) {
			return copyCredential(cred), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) Consume(_ context.Context, id domain.CredentialID, now time.Time) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if cred.Consumed {
		return nil, sentinel.ErrAlreadyUsed
	}
	if !now.Before(cred.ExpiresAt) {
		return nil, sentinel.ErrExpired
	}

	cred.Consumed = true
	t := now
	cred.ConsumedAt = &t
	return copyCredential(cred), nil
}

func (s *InMemoryStore) HasConsumed(_ context.Context, key domain.IdentityKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.byIdentity[key] {
		if s.byID[id].Consumed {
			return true, nil
		}
	}
	return false, nil
}

func copyCredential(cred *Credential) *Credential {
	cp := *cred
	if cred.ConsumedAt != nil {
		t := *cred.ConsumedAt
		cp.ConsumedAt = &t
	}
	return &cp
}
