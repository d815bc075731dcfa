// Package keylock serializes same-key operations on striped mutexes.
package keylock

import (
	"sync"

	"electorate/pkg/domain"
)

// lockStripes is the number of mutex stripes. Identity keys are uniformly
// distributed digests, so striping spreads contention evenly without an
// unbounded per-key map.
const lockStripes = 512

// Keyed serializes same-identity operations. Races for one identity all
// funnel through its stripe; the backing stores remain the final arbiter,
// the stripe just keeps the common case orderly and cheap. The zero value
// is ready to use.
type Keyed struct {
	stripes [lockStripes]sync.Mutex
}

// Lock acquires the stripe for key and returns the mutex for unlocking.
func (l *Keyed) Lock(key domain.IdentityKey) *sync.Mutex {
	m := &l.stripes[stripeFor(key)]
	m.Lock()
	return m
}

func stripeFor(key domain.IdentityKey) int {
	return int(uint16(key[0])<<8|uint16(key[1])) % lockStripes
}
