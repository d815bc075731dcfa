package vault

import (
	"context"
	"sort"
	"sync"
	"time"

	"electorate/pkg/domain"
	"electorate/pkg/platform/sentinel"
)

// InMemoryStore keeps vault records in process memory. Used by tests and the
// single-node development mode.
type InMemoryStore struct {
	mu      sync.RWMutex
	byKey   map[domain.IdentityKey]*Record
	byIDFp  map[domain.Fingerprint]domain.IdentityKey
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byKey:  make(map[domain.IdentityKey]*Record),
		byIDFp: make(map[domain.Fingerprint]domain.IdentityKey),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[rec.IdentityKey]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byIDFp[rec.IDFingerprint]; ok {
		return sentinel.ErrConflict
	}

	cp := copyRecord(rec)
	s.byKey[rec.IdentityKey] = cp
	s.byIDFp[rec.IDFingerprint] = rec.IdentityKey
	return nil
}

func (s *InMemoryStore) GetByKey(_ context.Context, key domain.IdentityKey) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byKey[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *InMemoryStore) GetByIDFingerprint(_ context.Context, fp domain.Fingerprint) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byIDFp[fp]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(s.byKey[key]), nil
}

func (s *InMemoryStore) SetLedgerRef(_ context.Context, key domain.IdentityKey, ref domain.TxRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !rec.LedgerTxRef.IsNil() {
		if rec.LedgerTxRef == ref {
			return nil
		}
		return sentinel.ErrInvalidState
	}
	rec.LedgerTxRef = ref
	return nil
}

func (s *InMemoryStore) MarkVerified(_ context.Context, key domain.IdentityKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	rec.Verified = true
	t := at
	rec.VerifiedAt = &t
	return nil
}

func (s *InMemoryStore) ListUnmirrored(_ context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.byKey {
		if rec.LedgerTxRef.IsNil() {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyRecord(rec *Record) *Record {
	cp := *rec
	cp.Ciphertext = append([]byte(nil), rec.Ciphertext...)
	cp.Nonce = append([]byte(nil), rec.Nonce...)
	if rec.VerifiedAt != nil {
		t := *rec.VerifiedAt
		cp.VerifiedAt = &t
	}
	return &cp
}
