// Package fallback keeps the per-account selector table and relays calls the
// account does not implement itself to the registered handler.
package fallback

import (
	"context"

	"github.com/R3E-Network/modular_accounts/internal/state"
	"github.com/R3E-Network/modular_accounts/internal/types"
)

// Namespace is the storage namespace of fallback records.
const Namespace = "modules.fallbacks"

// modeByte is the word index of the packed call mode: the byte right above
// the right-aligned handler.
const modeByte = 32 - types.AddressLength - 1

// Record is the handler registered for one (account, selector).
type Record struct {
	Handler  types.Address
	CallMode types.CallMode
}

// Installed reports whether the record names a handler. A zero handler means
// unregistered whatever the mode byte says.
func (r Record) Installed() bool {
	return r.Handler != types.ZeroAddress
}

func (r Record) word() state.Word {
	w := state.WordFromAddress(r.Handler)
	w[modeByte] = byte(r.CallMode)
	return w
}

func recordFromWord(w state.Word) Record {
	return Record{Handler: w.Address(), CallMode: types.CallMode(w[modeByte])}
}

// Table is the fallback selector table of every account in a store.
type Table struct {
	store *state.Store
}

// NewTable binds a table to store.
func NewTable(store *state.Store) *Table {
	return &Table{store: store}
}

func (t *Table) slot(account types.Address, sel types.Selector) state.Slot {
	return state.SlotOf(Namespace, account[:], sel[:])
}

// Get reads the record of (account, sel).
func (t *Table) Get(ctx context.Context, account types.Address, sel types.Selector) Record {
	return recordFromWord(t.store.Get(ctx, t.slot(account, sel)))
}

// Put stores rec for (account, sel), overwriting whatever is there.
func (t *Table) Put(ctx context.Context, account types.Address, sel types.Selector, rec Record) error {
	return t.store.Set(ctx, t.slot(account, sel), rec.word())
}

// ClearHandler zeroes the handler of (account, sel). The mode byte stays.
func (t *Table) ClearHandler(ctx context.Context, account types.Address, sel types.Selector) error {
	return t.store.Atomic(ctx, func(ctx context.Context) error {
		rec := t.Get(ctx, account, sel)
		rec.Handler = types.ZeroAddress
		return t.Put(ctx, account, sel, rec)
	})
}
