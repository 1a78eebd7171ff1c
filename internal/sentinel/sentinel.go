// Package sentinel implements an ordered set of addresses stored as an
// intrusive singly linked list over slot storage.
//
// Each owner gets its own list. next[entry] lives at
// keccak256(namespace ‖ owner ‖ entry), so the owner identity is part of
// every storage key and two owners can never observe each other's entries.
// The reserved sentinel address is both the head anchor and the tail marker:
// an initialized empty list has next[sentinel] == sentinel.
package sentinel

import (
	"context"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/state"
	"github.com/R3E-Network/modular_accounts/internal/types"
)

// List is a multi-tenant sentinel list bound to one namespace.
type List struct {
	namespace string
	store     *state.Store
}

// New creates a list in namespace over store.
func New(store *state.Store, namespace string) *List {
	return &List{namespace: namespace, store: store}
}

// Namespace returns the storage namespace.
func (l *List) Namespace() string { return l.namespace }

func (l *List) slot(owner, entry types.Address) state.Slot {
	return state.SlotOf(l.namespace, owner[:], entry[:])
}

func (l *List) next(ctx context.Context, owner, entry types.Address) types.Address {
	return l.store.Get(ctx, l.slot(owner, entry)).Address()
}

func (l *List) setNext(ctx context.Context, owner, entry, next types.Address) error {
	var w state.Word
	if next != types.ZeroAddress {
		w = state.WordFromAddress(next)
	}
	return l.store.Set(ctx, l.slot(owner, entry), w)
}

// IsInitialized reports whether Init ran for owner.
func (l *List) IsInitialized(ctx context.Context, owner types.Address) bool {
	return l.next(ctx, owner, types.Sentinel) != types.ZeroAddress
}

// Init creates the empty list for owner.
func (l *List) Init(ctx context.Context, owner types.Address) error {
	return l.store.Atomic(ctx, func(ctx context.Context) error {
		if l.IsInitialized(ctx, owner) {
			return apperrors.ErrInitializer
		}
		return l.setNext(ctx, owner, types.Sentinel, types.Sentinel)
	})
}

// Push inserts entry at the head.
func (l *List) Push(ctx context.Context, owner, entry types.Address) error {
	if types.IsReserved(entry) {
		return apperrors.NewLinkedListError(apperrors.ReasonInvalidEntry, entry)
	}
	return l.store.Atomic(ctx, func(ctx context.Context) error {
		head := l.next(ctx, owner, types.Sentinel)
		if head == types.ZeroAddress {
			return apperrors.NewLinkedListError(apperrors.ReasonNotInitialized, entry)
		}
		if l.next(ctx, owner, entry) != types.ZeroAddress {
			return apperrors.NewLinkedListError(apperrors.ReasonAlreadyInList, entry)
		}
		if err := l.setNext(ctx, owner, entry, head); err != nil {
			return err
		}
		return l.setNext(ctx, owner, types.Sentinel, entry)
	})
}

// Pop unlinks entry. predecessor must be the node pointing at entry (the
// sentinel when entry is the head).
func (l *List) Pop(ctx context.Context, owner, predecessor, entry types.Address) error {
	if types.IsReserved(entry) {
		return apperrors.NewLinkedListError(apperrors.ReasonInvalidEntry, entry)
	}
	return l.store.Atomic(ctx, func(ctx context.Context) error {
		if l.next(ctx, owner, predecessor) != entry {
			return apperrors.NewLinkedListError(apperrors.ReasonNotLinked, entry)
		}
		if err := l.setNext(ctx, owner, predecessor, l.next(ctx, owner, entry)); err != nil {
			return err
		}
		return l.setNext(ctx, owner, entry, types.ZeroAddress)
	})
}

// Contains reports membership in O(1).
func (l *List) Contains(ctx context.Context, owner, entry types.Address) bool {
	if types.IsReserved(entry) {
		return false
	}
	return l.next(ctx, owner, entry) != types.ZeroAddress
}

// IsSoleEntry reports whether entry is the only member.
func (l *List) IsSoleEntry(ctx context.Context, owner, entry types.Address) bool {
	if !l.Contains(ctx, owner, entry) {
		return false
	}
	return l.next(ctx, owner, types.Sentinel) == entry && l.next(ctx, owner, entry) == types.Sentinel
}

// Paginate returns up to pageSize entries following cursor, newest first.
// cursor is exclusive; the zero address and the sentinel both mean "from the
// head". The returned cursor is the last entry returned when more remain and
// the sentinel when the list is exhausted.
func (l *List) Paginate(ctx context.Context, owner, cursor types.Address, pageSize int) ([]types.Address, types.Address, error) {
	if cursor == types.ZeroAddress {
		cursor = types.Sentinel
	}
	if pageSize <= 0 {
		return nil, types.ZeroAddress, apperrors.NewLinkedListError(apperrors.ReasonInvalidPage, cursor)
	}

	var (
		entries []types.Address
		next    types.Address
	)
	err := l.store.View(ctx, func(ctx context.Context) error {
		if cursor != types.Sentinel && !l.Contains(ctx, owner, cursor) {
			return apperrors.NewLinkedListError(apperrors.ReasonInvalidEntry, cursor)
		}

		entries = make([]types.Address, 0, min(pageSize, 64))
		next = l.next(ctx, owner, cursor)
		for next != types.ZeroAddress && next != types.Sentinel && len(entries) < pageSize {
			entries = append(entries, next)
			next = l.next(ctx, owner, next)
		}
		return nil
	})
	if err != nil {
		return nil, types.ZeroAddress, err
	}

	if next != types.Sentinel && next != types.ZeroAddress && len(entries) > 0 {
		return entries, entries[len(entries)-1], nil
	}
	return entries, types.Sentinel, nil
}

// All walks the whole list. Intended for small lists and tooling.
func (l *List) All(ctx context.Context, owner types.Address) ([]types.Address, error) {
	const page = 64
	var (
		out    []types.Address
		cursor = types.Sentinel
	)
	for {
		entries, next, err := l.Paginate(ctx, owner, cursor, page)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
		if next == types.Sentinel {
			return out, nil
		}
		cursor = next
	}
}
