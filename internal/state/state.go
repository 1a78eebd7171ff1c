// Package state provides the slot storage every registry structure lives in.
//
// Storage is a flat map from 32-byte slots to 32-byte words, the same shape
// contract storage has on chain. All writes happen inside an execution unit
// opened with Store.Atomic: the outermost unit holds the store lock, nested
// units (reentrant calls that reuse the unit's context) only take a journal
// snapshot, and any failure rolls back exactly the writes made since its own
// snapshot. A unit belongs to one goroutine; its context must not be shared
// with other goroutines.
package state

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/sha3"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/types"
)

// Slot is a storage key.
type Slot [32]byte

// String renders the slot as hex.
func (s Slot) String() string { return "0x" + hex.EncodeToString(s[:]) }

// Word is a storage value. The zero word means "unset".
type Word [32]byte

// IsZero reports whether w is unset.
func (w Word) IsZero() bool { return w == Word{} }

// SlotOf derives a slot as keccak256(namespace ‖ parts...).
func SlotOf(namespace string, parts ...[]byte) Slot {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(namespace))
	for _, p := range parts {
		h.Write(p)
	}
	var s Slot
	copy(s[:], h.Sum(nil))
	return s
}

// WordFromAddress stores an address right-aligned, like an ABI word.
func WordFromAddress(a types.Address) Word {
	var w Word
	copy(w[32-types.AddressLength:], a[:])
	return w
}

// Address reads a right-aligned address.
func (w Word) Address() types.Address {
	var a types.Address
	copy(a[:], w[32-types.AddressLength:])
	return a
}

// Change is the committed value of one slot. A zero Value means deleted.
type Change struct {
	Slot  Slot
	Value Word
}

// Persister receives the dirty slots of every committed outermost unit. A
// persist failure rolls the unit back.
type Persister interface {
	Persist(ctx context.Context, changes []Change) error
}

type journalEntry struct {
	slot Slot
	prev Word
}

type session struct {
	store *Store
	write bool
}

type sessionKey struct{}

type readOnlyKey struct{}

// Store is a journaled, lock-protected slot map.
type Store struct {
	mu        sync.RWMutex
	slots     map[Slot]Word
	journal   []journalEntry
	persister Persister
}

// Option configures a Store.
type Option func(*Store)

// WithPersister attaches a Persister.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{slots: make(map[Slot]Word)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithReadOnly marks every write made with the returned context as forbidden.
func WithReadOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, readOnlyKey{}, true)
}

// IsReadOnly reports whether ctx forbids writes.
func IsReadOnly(ctx context.Context) bool {
	ro, _ := ctx.Value(readOnlyKey{}).(bool)
	return ro
}

func (s *Store) session(ctx context.Context) *session {
	sess, _ := ctx.Value(sessionKey{}).(*session)
	if sess == nil || sess.store != s {
		return nil
	}
	return sess
}

// InUnit reports whether ctx belongs to an open execution unit of s.
func (s *Store) InUnit(ctx context.Context) bool {
	sess := s.session(ctx)
	return sess != nil && sess.write
}

// Atomic runs fn as an all-or-nothing execution unit. fn must use the context
// it is given for every read, write and reentrant call.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if sess := s.session(ctx); sess != nil {
		if !sess.write {
			return apperrors.ErrWriteProtection
		}
		return s.nested(ctx, fn)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal = s.journal[:0]
	uctx := context.WithValue(ctx, sessionKey{}, &session{store: s, write: true})

	defer func() {
		if r := recover(); r != nil {
			s.revertTo(0)
			s.journal = s.journal[:0]
			panic(r)
		}
	}()

	if err = fn(uctx); err != nil {
		s.revertTo(0)
		return err
	}

	if s.persister != nil && len(s.journal) > 0 {
		if perr := s.persister.Persist(ctx, s.dirtyLocked()); perr != nil {
			s.revertTo(0)
			return apperrors.NewStorageError("persist", perr)
		}
	}
	s.journal = s.journal[:0]
	return nil
}

func (s *Store) nested(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	snap := len(s.journal)
	defer func() {
		if r := recover(); r != nil {
			s.revertTo(snap)
			panic(r)
		}
	}()
	if err = fn(ctx); err != nil {
		s.revertTo(snap)
	}
	return err
}

// View runs fn under a consistent read lock. Reads made with the context
// given to fn never block on the store again; writes fail.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.session(ctx) != nil {
		return fn(ctx)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(context.WithValue(ctx, sessionKey{}, &session{store: s}))
}

// Get reads a slot.
func (s *Store) Get(ctx context.Context, slot Slot) Word {
	if s.session(ctx) != nil {
		return s.slots[slot]
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[slot]
}

// Set writes a slot. Outside an execution unit the write is its own unit.
func (s *Store) Set(ctx context.Context, slot Slot, value Word) error {
	if IsReadOnly(ctx) {
		return apperrors.ErrWriteProtection
	}
	sess := s.session(ctx)
	if sess == nil {
		return s.Atomic(ctx, func(ctx context.Context) error {
			return s.Set(ctx, slot, value)
		})
	}
	if !sess.write {
		return apperrors.ErrWriteProtection
	}
	s.setLocked(slot, value)
	return nil
}

func (s *Store) setLocked(slot Slot, value Word) {
	prev := s.slots[slot]
	if prev == value {
		return
	}
	s.journal = append(s.journal, journalEntry{slot: slot, prev: prev})
	if value.IsZero() {
		delete(s.slots, slot)
		return
	}
	s.slots[slot] = value
}

func (s *Store) revertTo(snap int) {
	for i := len(s.journal) - 1; i >= snap; i-- {
		e := s.journal[i]
		if e.prev.IsZero() {
			delete(s.slots, e.slot)
		} else {
			s.slots[e.slot] = e.prev
		}
	}
	s.journal = s.journal[:snap]
}

func (s *Store) dirtyLocked() []Change {
	seen := make(map[Slot]struct{}, len(s.journal))
	changes := make([]Change, 0, len(s.journal))
	for _, e := range s.journal {
		if _, ok := seen[e.slot]; ok {
			continue
		}
		seen[e.slot] = struct{}{}
		changes = append(changes, Change{Slot: e.slot, Value: s.slots[e.slot]})
	}
	sort.Slice(changes, func(i, j int) bool {
		return bytes.Compare(changes[i].Slot[:], changes[j].Slot[:]) < 0
	})
	return changes
}

// Len returns the number of non-zero slots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// Export copies every non-zero slot.
func (s *Store) Export() map[Slot]Word {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Slot]Word, len(s.slots))
	for k, v := range s.slots {
		out[k] = v
	}
	return out
}

// Import replaces the store contents. It must not run inside a unit.
func (s *Store) Import(ctx context.Context, slots map[Slot]Word) error {
	if s.session(ctx) != nil {
		return fmt.Errorf("state: import inside an execution unit")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = make(map[Slot]Word, len(slots))
	for k, v := range slots {
		if !v.IsZero() {
			s.slots[k] = v
		}
	}
	s.journal = s.journal[:0]
	return nil
}
