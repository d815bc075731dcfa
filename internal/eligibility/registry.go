package eligibility

import (
	"context"
	"sync"
	"time"

	dErrors "electorate/pkg/domain-errors"
	"electorate/pkg/platform/normalize"
	"electorate/pkg/platform/sentinel"
)

// Person is what the authority registry knows about an identifier.
type Person struct {
	NationalID string
	FullName   string
	BirthDate  time.Time
	Eligible   bool
}

// Registry is the authority lookup boundary. Implementations return
// CodeNotFound when the identifier is unknown and CodeUnavailable when the
// authority cannot be reached; the raw identifier never appears in errors.
type Registry interface {
	Lookup(ctx context.Context, nationalID string) (*Person, error)
}

// InMemoryRegistry is a seeded registry for development mode and tests.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	persons map[string]Person
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{persons: make(map[string]Person)}
}

// Seed adds or replaces a person, keyed by the canonical identifier.
func (r *InMemoryRegistry) Seed(p Person) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persons[normalize.Identifier(p.NationalID)] = p
}

func (r *InMemoryRegistry) Lookup(_ context.Context, nationalID string) (*Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.persons[normalize.Identifier(nationalID)]
	if !ok {
		return nil, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "identifier not present in authority registry")
	}
	cp := p
	return &cp, nil
}
