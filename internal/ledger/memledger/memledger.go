// Package memledger is an embedded, hash-chained implementation of the
// registration ledger.
//
// Entries are appended to blocks whose hashes link each block to its
// predecessor, so any rewrite of history breaks the chain. There is no
// consensus and no proof of work; a single process owns the chain. Used by
// the development mode and by tests that need real ledger semantics
// (confirmation latency, transition enforcement, outages) without an
// external network.
package memledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"electorate/internal/ledger"
	"electorate/pkg/domain"
	"electorate/pkg/platform/sentinel"
)

// EntryKind distinguishes the two transaction types on the chain.
type EntryKind string

const (
	KindRegister EntryKind = "register"
	KindVerify   EntryKind = "verify"
)

// Entry is one transaction.
type Entry struct {
	Ref        domain.TxRef  `json:"ref"`
	Kind       EntryKind     `json:"kind"`
	Record     ledger.Record `json:"record"`
	AppendedAt time.Time     `json:"appended_at"`
	ConfirmAt  time.Time     `json:"confirm_at"`
}

// Block links one entry into the chain.
type Block struct {
	Index     uint64  `json:"index"`
	Timestamp int64   `json:"timestamp"`
	PrevHash  []byte  `json:"prev_hash"`
	Hash      []byte  `json:"hash"`
	Entries   []Entry `json:"entries"`
}

func (b *Block) calculateHash() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, b.Index)
	binary.Write(buf, binary.BigEndian, b.Timestamp)
	buf.Write(b.PrevHash)
	for _, e := range b.Entries {
		enc, _ := json.Marshal(e)
		buf.Write(enc)
	}
	sum := sha256.Sum256(buf.Bytes())
	return sum[:]
}

// Ledger is the embedded chain. Safe for concurrent use.
type Ledger struct {
	mu             sync.RWMutex
	blocks         []*Block
	index          map[domain.IdentityKey]*ledger.Record
	reverted       map[domain.TxRef]bool
	entryByRef     map[domain.TxRef]*Entry
	confirmLatency time.Duration
	now            func() time.Time
	path           string
	unavailable    bool
}

// Option configures the ledger.
type Option func(*Ledger)

// WithClock injects a time source, letting tests control confirmation
// latency deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithConfirmLatency sets how long a submitted entry stays pending.
func WithConfirmLatency(d time.Duration) Option {
	return func(l *Ledger) { l.confirmLatency = d }
}

// WithFile persists the chain to path after every append and loads it at
// construction. Writes go through a temp file and an atomic rename.
func WithFile(path string) Option {
	return func(l *Ledger) { l.path = path }
}

// New creates a ledger with a genesis block, loading prior state when a file
// is configured.
func New(opts ...Option) (*Ledger, error) {
	l := &Ledger{
		index:          make(map[domain.IdentityKey]*ledger.Record),
		reverted:       make(map[domain.TxRef]bool),
		entryByRef:     make(map[domain.TxRef]*Entry),
		confirmLatency: 0,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.path != "" {
		if err := l.load(); err != nil {
			return nil, err
		}
	}
	if len(l.blocks) == 0 {
		genesis := &Block{Index: 0, Timestamp: l.now().Unix(), PrevHash: []byte("0")}
		genesis.Hash = genesis.calculateHash()
		l.blocks = []*Block{genesis}
	}
	return l, nil
}

// SetUnavailable toggles an injected outage: while set, every operation
// returns sentinel.ErrUnavailable. Drives degraded-mode drills and tests.
func (l *Ledger) SetUnavailable(down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unavailable = down
}

// Revert cancels a still-pending entry and rolls its effect out of the
// index. Confirm reports the reference as reverted afterwards.
func (l *Ledger) Revert(ref domain.TxRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entryByRef[ref]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !l.now().Before(entry.ConfirmAt) {
		return sentinel.ErrInvalidState
	}
	l.reverted[ref] = true
	switch entry.Kind {
	case KindRegister:
		delete(l.index, entry.Record.IdentityKey)
	case KindVerify:
		if rec, ok := l.index[entry.Record.IdentityKey]; ok {
			rec.Verified = false
			rec.VerifiedAt = nil
		}
	}
	if l.path != "" {
		if err := l.save(); err != nil {
			return fmt.Errorf("%w: persist revert: %v", sentinel.ErrUnavailable, err)
		}
	}
	return nil
}

func (l *Ledger) Submit(_ context.Context, rec ledger.Record) (domain.TxRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unavailable {
		return "", sentinel.ErrUnavailable
	}
	if rec.IdentityKey.IsZero() {
		return "", fmt.Errorf("submit: record has no identity key")
	}

	existing, exists := l.index[rec.IdentityKey]
	kind := KindRegister
	if rec.Verified {
		kind = KindVerify
		if !exists {
			return "", sentinel.ErrNotFound
		}
		if existing.Verified {
			// The verified flip is the single mutation a record may see.
			return "", sentinel.ErrInvalidState
		}
	} else if exists {
		return "", sentinel.ErrConflict
	}

	now := l.now()
	entry := Entry{
		Kind:       kind,
		Record:     rec,
		AppendedAt: now,
		ConfirmAt:  now.Add(l.confirmLatency),
	}
	entry.Ref = refFor(entry)

	if err := l.append(entry); err != nil {
		return "", err
	}

	switch kind {
	case KindRegister:
		cp := rec
		l.index[rec.IdentityKey] = &cp
	case KindVerify:
		existing.Verified = true
		if rec.VerifiedAt != nil {
			t := *rec.VerifiedAt
			existing.VerifiedAt = &t
		} else {
			t := now
			existing.VerifiedAt = &t
		}
	}
	return entry.Ref, nil
}

func (l *Ledger) Confirm(_ context.Context, ref domain.TxRef) (ledger.ConfirmStatus, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.unavailable {
		return "", sentinel.ErrUnavailable
	}
	entry, ok := l.entryByRef[ref]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	if l.reverted[ref] {
		return ledger.StatusReverted, nil
	}
	if l.now().Before(entry.ConfirmAt) {
		return ledger.StatusPending, nil
	}
	return ledger.StatusConfirmed, nil
}

func (l *Ledger) Read(_ context.Context, key domain.IdentityKey) (*ledger.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.unavailable {
		return nil, sentinel.ErrUnavailable
	}
	rec, ok := l.index[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *rec
	if rec.VerifiedAt != nil {
		t := *rec.VerifiedAt
		cp.VerifiedAt = &t
	}
	return &cp, nil
}

// ValidateChain walks the chain verifying every hash and link. A non-nil
// error means history was rewritten or the store corrupted.
func (l *Ledger) ValidateChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, block := range l.blocks {
		if !bytes.Equal(block.Hash, block.calculateHash()) {
			return fmt.Errorf("block %d: hash mismatch", i)
		}
		if i == 0 {
			continue
		}
		prev := l.blocks[i-1]
		if !bytes.Equal(block.PrevHash, prev.Hash) {
			return fmt.Errorf("block %d: broken link to block %d", i, i-1)
		}
		if block.Index != prev.Index+1 {
			return fmt.Errorf("block %d: index out of sequence", i)
		}
	}
	return nil
}

// Height returns the number of blocks including genesis.
func (l *Ledger) Height() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

func (l *Ledger) append(entry Entry) error {
	prev := l.blocks[len(l.blocks)-1]
	block := &Block{
		Index:     prev.Index + 1,
		Timestamp: l.now().Unix(),
		PrevHash:  prev.Hash,
		Entries:   []Entry{entry},
	}
	block.Hash = block.calculateHash()
	l.blocks = append(l.blocks, block)
	l.entryByRef[entry.Ref] = &l.blocks[len(l.blocks)-1].Entries[0]

	if l.path != "" {
		if err := l.save(); err != nil {
			// Roll the append back; a ledger that cannot persist is down.
			l.blocks = l.blocks[:len(l.blocks)-1]
			delete(l.entryByRef, entry.Ref)
			return fmt.Errorf("%w: persist chain: %v", sentinel.ErrUnavailable, err)
		}
	}
	return nil
}

func refFor(entry Entry) domain.TxRef {
	enc, _ := json.Marshal(entry)
	return domain.TxRef(crypto.Keccak256Hash(enc).Hex())
}

type chainFile struct {
	Blocks   []*Block       `json:"blocks"`
	Reverted []domain.TxRef `json:"reverted,omitempty"`
}

func (l *Ledger) save() error {
	var reverted []domain.TxRef
	for ref := range l.reverted {
		reverted = append(reverted, ref)
	}
	data, err := json.MarshalIndent(chainFile{Blocks: l.blocks, Reverted: reverted}, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (l *Ledger) load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(filepath.Dir(l.path), 0o755)
		}
		return err
	}

	var cf chainFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("parse chain file: %w", err)
	}
	l.blocks = cf.Blocks
	for _, ref := range cf.Reverted {
		l.reverted[ref] = true
	}

	// Rebuild the derived maps from the log.
	for _, block := range l.blocks {
		for i := range block.Entries {
			entry := &block.Entries[i]
			l.entryByRef[entry.Ref] = entry
			if l.reverted[entry.Ref] {
				continue
			}
			switch entry.Kind {
			case KindRegister:
				cp := entry.Record
				l.index[cp.IdentityKey] = &cp
			case KindVerify:
				if rec, ok := l.index[entry.Record.IdentityKey]; ok {
					rec.Verified = true
					if entry.Record.VerifiedAt != nil {
						t := *entry.Record.VerifiedAt
						rec.VerifiedAt = &t
					}
				}
			}
		}
	}
	return nil
}
